// Package domains maps custom domains to the project they serve. Entries
// live in redis, one hash per domain.
package domains

import (
	"context"
	"errors"
	"strconv"

	"github.com/redis/go-redis/v9"

	apperrors "relecloud/internal/pkg/errors"
)

const keyPrefix = "relecloud:domain:"

// Entry is what a domain resolves to.
type Entry struct {
	ProjectID int64  `json:"project_id"`
	FileURL   string `json:"file_url"`
}

type Registry struct {
	rdb redis.UniversalClient
}

func NewRegistry(rdb redis.UniversalClient) *Registry {
	return &Registry{rdb: rdb}
}

func key(domain string) string { return keyPrefix + domain }

// Assign points domain at the project, replacing any previous owner.
func (r *Registry) Assign(ctx context.Context, domain string, e Entry) error {
	if domain == "" {
		return apperrors.ValidationField("domain", "Project domain is required")
	}
	err := r.rdb.HSet(ctx, key(domain),
		"project_id", strconv.FormatInt(e.ProjectID, 10),
		"file_url", e.FileURL,
	).Err()
	if err != nil {
		return apperrors.WrapWithCode(err, apperrors.CodeUnavailable, "domains.assign", "Domain registry unavailable").
			WithField("domain", domain)
	}
	return nil
}

// Release drops domain only while it still points at projectID, so a
// domain already reassigned to another project is left alone.
func (r *Registry) Release(ctx context.Context, domain string, projectID int64) error {
	if domain == "" {
		return nil
	}
	err := r.rdb.Watch(ctx, func(tx *redis.Tx) error {
		owner, err := tx.HGet(ctx, key(domain), "project_id").Result()
		if errors.Is(err, redis.Nil) {
			return nil
		}
		if err != nil {
			return err
		}
		if owner != strconv.FormatInt(projectID, 10) {
			return nil
		}
		_, err = tx.TxPipelined(ctx, func(p redis.Pipeliner) error {
			p.Del(ctx, key(domain))
			return nil
		})
		return err
	}, key(domain))
	if err != nil {
		return apperrors.WrapWithCode(err, apperrors.CodeUnavailable, "domains.release", "Domain registry unavailable").
			WithField("domain", domain)
	}
	return nil
}

// Resolve returns the entry for domain, or NOT_FOUND.
func (r *Registry) Resolve(ctx context.Context, domain string) (Entry, error) {
	vals, err := r.rdb.HGetAll(ctx, key(domain)).Result()
	if err != nil {
		return Entry{}, apperrors.WrapWithCode(err, apperrors.CodeUnavailable, "domains.resolve", "Domain registry unavailable").
			WithField("domain", domain)
	}
	if len(vals) == 0 {
		return Entry{}, apperrors.NotFound("domain", domain)
	}
	id, err := strconv.ParseInt(vals["project_id"], 10, 64)
	if err != nil {
		return Entry{}, apperrors.WrapWithCode(err, apperrors.CodeInternal, "domains.resolve", "Corrupt domain entry").
			WithField("domain", domain)
	}
	return Entry{ProjectID: id, FileURL: vals["file_url"]}, nil
}
