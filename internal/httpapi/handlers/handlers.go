package handlers

import (
	"context"

	"github.com/redis/go-redis/v9"

	"relecloud/internal/domains"
	"relecloud/internal/models"
	"relecloud/internal/pkg/logger"
	"relecloud/internal/ports"
	"relecloud/internal/upload"
	"relecloud/internal/worker/queue"
)

// ProjectStore is implemented by repositories.ProjectRepository.
type ProjectStore interface {
	Create(ctx context.Context, p *models.Project) error
	List(ctx context.Context) ([]models.Project, error)
	Get(ctx context.Context, id int64) (*models.Project, error)
	UpdateDomain(ctx context.Context, id int64, domain *string) (*models.Project, error)
	Delete(ctx context.Context, id int64) (*models.Project, error)
}

// Uploader is implemented by upload.Normalizer.
type Uploader interface {
	Upload(ctx context.Context, req upload.Request) (string, error)
}

// DomainRegistry is implemented by domains.Registry.
type DomainRegistry interface {
	Assign(ctx context.Context, domain string, e domains.Entry) error
	Release(ctx context.Context, domain string, projectID int64) error
	Resolve(ctx context.Context, domain string) (domains.Entry, error)
}

// OrphanQueue is implemented by queue.RedisQueue.
type OrphanQueue interface {
	Push(ctx context.Context, b queue.OrphanBatch) error
}

// Pinger is satisfied by *pgxpool.Pool.
type Pinger interface {
	Ping(ctx context.Context) error
}

type Deps struct {
	Projects ProjectStore
	Uploader Uploader
	Store    ports.ObjectStore
	// Domains and Orphans are nil when redis is not configured.
	Domains DomainRegistry
	Orphans OrphanQueue
	DB      Pinger
	RDB     redis.UniversalClient
	Log     *logger.Logger
	// MaxUploadBytes caps the request body of a project upload.
	MaxUploadBytes int64
}

type Handler struct {
	projects ProjectStore
	uploader Uploader
	store    ports.ObjectStore
	domains  DomainRegistry
	orphans  OrphanQueue
	db       Pinger
	rdb      redis.UniversalClient
	log      *logger.Logger
	maxBytes int64
}

func New(d Deps) *Handler {
	log := d.Log
	if log == nil {
		log = logger.NewDefault()
	}
	maxBytes := d.MaxUploadBytes
	if maxBytes <= 0 {
		maxBytes = 512 << 20
	}
	return &Handler{
		projects: d.Projects,
		uploader: d.Uploader,
		store:    d.Store,
		domains:  d.Domains,
		orphans:  d.Orphans,
		db:       d.DB,
		rdb:      d.RDB,
		log:      log.WithComponent("http"),
		maxBytes: maxBytes,
	}
}
