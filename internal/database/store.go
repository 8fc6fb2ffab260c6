// internal/database/store.go
package database

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"

	"github-star-browser/internal/model"
)

// DBTX is the minimal database interface required by the store.
// Both *pgxpool.Pool and pgx.Tx satisfy it.
type DBTX interface {
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
}

// UpsertStarredRepoParams carries the fields refreshed on every sync pass.
type UpsertStarredRepoParams struct {
	FullName    string
	ExternalID  int64
	Name        string
	Description *string
	Metadata    json.RawMessage
	StarredAt   time.Time
}

// UpsertStarredRepoRow is returned by UpsertStarredRepo. ReadmeUpdatedAt is
// the value from before the write (the upsert never touches that column),
// which feeds the staleness decision.
type UpsertStarredRepoRow struct {
	ID              int64
	ReadmeUpdatedAt *time.Time
}

// ListReposParams controls paging and ordering of repo listings.
type ListReposParams struct {
	Query     string // empty for unfiltered listing
	Limit     int
	Offset    int
	SortBy    string // "starred_at" or "repo"
	SortOrder string // "asc" or "desc"
}

// Querier is the data-access contract consumed by the sync workflow and the
// HTTP handlers. Implemented by Store; mocked in tests.
type Querier interface {
	FindRepoByExternalID(ctx context.Context, externalID int64) (model.Repo, error)
	GetRepoByFullName(ctx context.Context, fullName string) (model.Repo, error)
	UpsertStarredRepo(ctx context.Context, arg UpsertStarredRepoParams) (UpsertStarredRepoRow, error)
	UpdateReadme(ctx context.Context, fullName, content string) (int64, error)
	ListRepos(ctx context.Context, arg ListReposParams) ([]model.Repo, error)
	CountRepos(ctx context.Context, query string) (int64, error)
}

// Store implements Querier against Postgres.
type Store struct {
	db DBTX
}

func New(db DBTX) *Store {
	return &Store{db: db}
}

const repoColumns = `id, repo, external_id, name, metadata, description, initial_description,
	readme, initial_readme, starred_at, description_updated_at, readme_updated_at,
	created_at, updated_at`

func scanRepo(row pgx.Row) (model.Repo, error) {
	var r model.Repo
	var externalID *int64
	var name *string
	err := row.Scan(
		&r.ID, &r.FullName, &externalID, &name, &r.Metadata,
		&r.Description, &r.InitialDescription,
		&r.Readme, &r.InitialReadme,
		&r.StarredAt, &r.DescriptionUpdatedAt, &r.ReadmeUpdatedAt,
		&r.CreatedAt, &r.UpdatedAt,
	)
	if err != nil {
		return model.Repo{}, err
	}
	if externalID != nil {
		r.ExternalID = *externalID
	}
	if name != nil {
		r.Name = *name
	}
	return r, nil
}

func (s *Store) FindRepoByExternalID(ctx context.Context, externalID int64) (model.Repo, error) {
	row := s.db.QueryRow(ctx,
		`SELECT `+repoColumns+` FROM repos WHERE external_id = $1`, externalID)
	return scanRepo(row)
}

func (s *Store) GetRepoByFullName(ctx context.Context, fullName string) (model.Repo, error) {
	row := s.db.QueryRow(ctx,
		`SELECT `+repoColumns+` FROM repos WHERE repo = $1`, fullName)
	return scanRepo(row)
}

// UpsertStarredRepo applies one starred-list item.
//
// Resolution order follows the rename-safe rule: update the row holding the
// same external id first (GitHub renames keep the id), otherwise insert,
// converging on the natural-key unique index if another writer got there
// first. initial_description is write-once via COALESCE; readme columns are
// never touched here.
func (s *Store) UpsertStarredRepo(ctx context.Context, arg UpsertStarredRepoParams) (UpsertStarredRepoRow, error) {
	var out UpsertStarredRepoRow

	err := s.db.QueryRow(ctx, `
		UPDATE repos SET
			repo = $1,
			name = $2,
			metadata = $3,
			description = $4,
			initial_description = COALESCE(initial_description, $4),
			starred_at = $5,
			description_updated_at = now(),
			updated_at = now()
		WHERE external_id = $6
		RETURNING id, readme_updated_at`,
		arg.FullName, arg.Name, arg.Metadata, arg.Description, arg.StarredAt, arg.ExternalID,
	).Scan(&out.ID, &out.ReadmeUpdatedAt)
	if err == nil {
		return out, nil
	}
	if !errors.Is(err, pgx.ErrNoRows) {
		return UpsertStarredRepoRow{}, err
	}

	err = s.db.QueryRow(ctx, `
		INSERT INTO repos (repo, external_id, name, metadata, description, initial_description, starred_at, description_updated_at)
		VALUES ($1, $2, $3, $4, $5, $5, $6, now())
		ON CONFLICT (repo) DO UPDATE SET
			external_id = EXCLUDED.external_id,
			name = EXCLUDED.name,
			metadata = EXCLUDED.metadata,
			description = EXCLUDED.description,
			initial_description = COALESCE(repos.initial_description, EXCLUDED.description),
			starred_at = EXCLUDED.starred_at,
			description_updated_at = now(),
			updated_at = now()
		RETURNING id, readme_updated_at`,
		arg.FullName, arg.ExternalID, arg.Name, arg.Metadata, arg.Description, arg.StarredAt,
	).Scan(&out.ID, &out.ReadmeUpdatedAt)
	if err != nil {
		return UpsertStarredRepoRow{}, err
	}
	return out, nil
}

// UpdateReadme overwrites the README, sets initial_readme if it was never
// set, and bumps readme_updated_at. Returns the updated row id.
func (s *Store) UpdateReadme(ctx context.Context, fullName, content string) (int64, error) {
	var id int64
	err := s.db.QueryRow(ctx, `
		UPDATE repos SET
			readme = $2,
			initial_readme = COALESCE(initial_readme, $2),
			readme_updated_at = now(),
			updated_at = now()
		WHERE repo = $1
		RETURNING id`,
		fullName, content,
	).Scan(&id)
	if err != nil {
		return 0, err
	}
	return id, nil
}

// orderClause maps user-facing sort parameters onto a fixed set of ORDER BY
// clauses. Unknown values fall back to the default rather than reaching the
// query string.
func orderClause(sortBy, sortOrder string) string {
	col := "starred_at"
	if sortBy == "repo" {
		col = "repo"
	}
	dir := "DESC"
	if sortOrder == "asc" {
		dir = "ASC"
	}
	return fmt.Sprintf("ORDER BY %s %s NULLS LAST", col, dir)
}

func (s *Store) ListRepos(ctx context.Context, arg ListReposParams) ([]model.Repo, error) {
	if arg.Limit <= 0 {
		arg.Limit = 30
	}

	query := `SELECT ` + repoColumns + ` FROM repos `
	args := []any{}
	if arg.Query != "" {
		query += `WHERE repo ILIKE $1 OR description ILIKE $1 `
		args = append(args, "%"+arg.Query+"%")
	}
	query += orderClause(arg.SortBy, arg.SortOrder)
	query += fmt.Sprintf(" LIMIT $%d OFFSET $%d", len(args)+1, len(args)+2)
	args = append(args, arg.Limit, arg.Offset)

	rows, err := s.db.Query(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var repos []model.Repo
	for rows.Next() {
		r, err := scanRepo(rows)
		if err != nil {
			return nil, err
		}
		repos = append(repos, r)
	}
	return repos, rows.Err()
}

func (s *Store) CountRepos(ctx context.Context, query string) (int64, error) {
	var n int64
	var err error
	if query == "" {
		err = s.db.QueryRow(ctx, `SELECT count(*) FROM repos`).Scan(&n)
	} else {
		err = s.db.QueryRow(ctx,
			`SELECT count(*) FROM repos WHERE repo ILIKE $1 OR description ILIKE $1`,
			"%"+query+"%").Scan(&n)
	}
	return n, err
}
