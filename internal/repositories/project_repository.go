package repositories

import (
	"context"
	"errors"
	"strconv"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"

	"relecloud/internal/httpkit"
	"relecloud/internal/models"
	apperrors "relecloud/internal/pkg/errors"
)

// ErrProjectNotFound matches any NOT_FOUND error with errors.Is.
var ErrProjectNotFound = apperrors.New(apperrors.CodeNotFound, "Project not found")

// DB is the subset of pgxpool.Pool the repository needs.
type DB interface {
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
}

const schema = `
	CREATE TABLE IF NOT EXISTS projects (
		id          BIGSERIAL PRIMARY KEY,
		name        VARCHAR(255) NOT NULL,
		description TEXT NOT NULL DEFAULT '',
		domain      VARCHAR(255),
		file        TEXT NOT NULL,
		created_at  TIMESTAMPTZ NOT NULL DEFAULT now()
	)
`

const projectColumns = `id, name, description, domain, file, created_at`

type ProjectRepository struct {
	db DB
}

func NewProjectRepository(db DB) *ProjectRepository {
	return &ProjectRepository{db: db}
}

// EnsureSchema creates the projects table when it is missing.
func (r *ProjectRepository) EnsureSchema(ctx context.Context) error {
	if _, err := r.db.Exec(ctx, schema); err != nil {
		return classify("projects.schema", err)
	}
	return nil
}

// Create inserts p and fills its ID and CreatedAt.
func (r *ProjectRepository) Create(ctx context.Context, p *models.Project) error {
	err := r.db.QueryRow(ctx, `
		INSERT INTO projects (name, description, domain, file)
		VALUES ($1, $2, $3, $4)
		RETURNING id, created_at
	`, p.Name, p.Description, p.Domain, p.File).Scan(&p.ID, &p.CreatedAt)
	if err != nil {
		// Fields are validated before the upload runs, so an insert failure
		// after a stored upload is always a server fault.
		return apperrors.WrapWithCode(err, apperrors.CodePersistence, "projects.create", "Project store failure")
	}
	return nil
}

func (r *ProjectRepository) List(ctx context.Context) ([]models.Project, error) {
	rows, err := r.db.Query(ctx, `SELECT `+projectColumns+` FROM projects ORDER BY id`)
	if err != nil {
		return nil, classify("projects.list", err)
	}
	defer rows.Close()

	out := make([]models.Project, 0)
	for rows.Next() {
		var p models.Project
		if err := scanProject(rows, &p); err != nil {
			return nil, classify("projects.list", err)
		}
		out = append(out, p)
	}
	if err := rows.Err(); err != nil {
		return nil, classify("projects.list", err)
	}
	return out, nil
}

func (r *ProjectRepository) Get(ctx context.Context, id int64) (*models.Project, error) {
	var p models.Project
	err := scanProject(r.db.QueryRow(ctx, `SELECT `+projectColumns+` FROM projects WHERE id=$1`, id), &p)
	if err != nil {
		return nil, notFoundOr(id, "projects.get", err)
	}
	return &p, nil
}

// UpdateDomain sets the project's domain; nil clears it. It returns the
// updated row.
func (r *ProjectRepository) UpdateDomain(ctx context.Context, id int64, domain *string) (*models.Project, error) {
	var p models.Project
	err := scanProject(r.db.QueryRow(ctx, `
		UPDATE projects SET domain=$2
		WHERE id=$1
		RETURNING `+projectColumns, id, domain), &p)
	if err != nil {
		return nil, notFoundOr(id, "projects.update_domain", err)
	}
	return &p, nil
}

// Delete removes the row and returns it. Blobs are left in place.
func (r *ProjectRepository) Delete(ctx context.Context, id int64) (*models.Project, error) {
	var p models.Project
	err := scanProject(r.db.QueryRow(ctx, `
		DELETE FROM projects
		WHERE id=$1
		RETURNING `+projectColumns, id), &p)
	if err != nil {
		return nil, notFoundOr(id, "projects.delete", err)
	}
	return &p, nil
}

func scanProject(row pgx.Row, p *models.Project) error {
	return row.Scan(&p.ID, &p.Name, &p.Description, &p.Domain, &p.File, &p.CreatedAt)
}

func notFoundOr(id int64, op string, err error) error {
	if errors.Is(err, pgx.ErrNoRows) {
		return apperrors.NotFound("project", strconv.FormatInt(id, 10))
	}
	return classify(op, err)
}

func classify(op string, err error) error {
	if httpkit.IsStringTooLong(err) || httpkit.IsNotNullViolation(err) {
		return apperrors.WrapWithCode(err, apperrors.CodeValidation, op, "Invalid project data")
	}
	return apperrors.WrapWithCode(err, apperrors.CodePersistence, op, "Project store failure")
}
