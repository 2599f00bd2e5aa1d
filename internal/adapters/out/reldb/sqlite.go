// Package reldb implements the RelationalStore port over a pure-Go sqlite
// engine, following the bootstrapdb.go raw-SQL migration style for table
// creation and relying on the database itself to enforce uniqueness and
// foreign-key constraints rather than the usecase layer.
package reldb

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/bnema/zerowrap"
	_ "modernc.org/sqlite"

	"github.com/coreforge/registry/internal/domain"
)

// Sqlite implements out.RelationalStore.
type Sqlite struct {
	db  *sql.DB
	log zerowrap.Logger
}

// Open opens (creating if absent) a sqlite database at path and applies the
// repository engine's schema.
func Open(path string, log zerowrap.Logger) (*Sqlite, error) {
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("open sqlite database: %w", err)
	}
	db.SetMaxOpenConns(1) // modernc.org/sqlite serializes writers; avoid SQLITE_BUSY churn

	if _, err := db.Exec("PRAGMA foreign_keys = ON;"); err != nil {
		db.Close()
		return nil, fmt.Errorf("enable foreign keys: %w", err)
	}
	if err := Migrate(db); err != nil {
		db.Close()
		return nil, err
	}

	log.Info().
		Str(zerowrap.FieldLayer, "adapter").
		Str(zerowrap.FieldAdapter, "reldb-sqlite").
		Str("path", path).
		Msg("relational store initialized")

	return &Sqlite{db: db, log: log}, nil
}

// Close releases the underlying database handle.
func (s *Sqlite) Close() error { return s.db.Close() }

func isUniqueViolation(err error) bool {
	return err != nil && strings.Contains(err.Error(), "UNIQUE constraint failed")
}

func (s *Sqlite) CreateNamespace(ctx context.Context, ns domain.Namespace) error {
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO namespaces (name, description, created_at) VALUES (?, ?, ?)`,
		ns.Name, ns.Description, ns.CreatedAt,
	)
	if isUniqueViolation(err) {
		return domain.ErrAlreadyExists
	}
	if err != nil {
		return fmt.Errorf("insert namespace: %w", err)
	}
	return nil
}

func (s *Sqlite) GetNamespace(ctx context.Context, name string) (domain.Namespace, error) {
	var ns domain.Namespace
	row := s.db.QueryRowContext(ctx,
		`SELECT name, description, created_at FROM namespaces WHERE name = ?`, name)
	err := row.Scan(&ns.Name, &ns.Description, &ns.CreatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return domain.Namespace{}, domain.ErrNotFound
	}
	if err != nil {
		return domain.Namespace{}, fmt.Errorf("select namespace: %w", err)
	}
	return ns, nil
}

func (s *Sqlite) CreateRepository(ctx context.Context, repo domain.Repository) error {
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO repositories (id, namespace_name, name, latest_version, created_at) VALUES (?, ?, ?, ?, ?)`,
		repo.ID, repo.NamespaceName, repo.Name, repo.LatestVersion, repo.CreatedAt,
	)
	if isUniqueViolation(err) {
		return domain.ErrAlreadyExists
	}
	if err != nil {
		return fmt.Errorf("insert repository: %w", err)
	}
	// Version 0 is always the empty set; create it eagerly so GetVersion(repo, 0)
	// never needs special-casing in the usecase layer.
	_, err = s.db.ExecContext(ctx,
		`INSERT INTO repository_versions (repository_id, number, content_count, created_at) VALUES (?, 0, 0, ?)`,
		repo.ID, repo.CreatedAt,
	)
	if err != nil {
		return fmt.Errorf("insert initial repository version: %w", err)
	}
	return nil
}

func (s *Sqlite) GetRepository(ctx context.Context, name string) (domain.Repository, error) {
	var r domain.Repository
	row := s.db.QueryRowContext(ctx,
		`SELECT id, namespace_name, name, latest_version, created_at FROM repositories WHERE name = ?`, name)
	err := row.Scan(&r.ID, &r.NamespaceName, &r.Name, &r.LatestVersion, &r.CreatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return domain.Repository{}, domain.ErrNotFound
	}
	if err != nil {
		return domain.Repository{}, fmt.Errorf("select repository: %w", err)
	}
	return r, nil
}

func (s *Sqlite) GetRepositoryByID(ctx context.Context, id string) (domain.Repository, error) {
	var r domain.Repository
	row := s.db.QueryRowContext(ctx,
		`SELECT id, namespace_name, name, latest_version, created_at FROM repositories WHERE id = ?`, id)
	err := row.Scan(&r.ID, &r.NamespaceName, &r.Name, &r.LatestVersion, &r.CreatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return domain.Repository{}, domain.ErrNotFound
	}
	if err != nil {
		return domain.Repository{}, fmt.Errorf("select repository by id: %w", err)
	}
	return r, nil
}

func (s *Sqlite) ListRepositories(ctx context.Context, namespace string, limit int, last string) ([]domain.Repository, error) {
	// An empty namespace lists every namespace; a limit <= 0 means no limit.
	query := `SELECT id, namespace_name, name, latest_version, created_at FROM repositories WHERE (? = '' OR namespace_name = ?) AND name > ? ORDER BY name LIMIT ?`
	if limit <= 0 {
		limit = -1
	}
	rows, err := s.db.QueryContext(ctx, query, namespace, namespace, last, limit)
	if err != nil {
		return nil, fmt.Errorf("list repositories: %w", err)
	}
	defer rows.Close()

	var out []domain.Repository
	for rows.Next() {
		var r domain.Repository
		if err := rows.Scan(&r.ID, &r.NamespaceName, &r.Name, &r.LatestVersion, &r.CreatedAt); err != nil {
			return nil, fmt.Errorf("scan repository: %w", err)
		}
		out = append(out, r)
	}
	return out, rows.Err()
}

// CreateVersion implements the optimistic-concurrency version bump: the
// UPDATE only succeeds if latest_version still equals expectedPrev, so a
// racing writer's bump causes this one to see zero rows affected and report
// ErrVersionConflict for the usecase layer to retry.
func (s *Sqlite) CreateVersion(ctx context.Context, repositoryID string, expectedPrev int64) (int64, error) {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return 0, fmt.Errorf("begin transaction: %w", err)
	}
	defer tx.Rollback()

	next := expectedPrev + 1
	res, err := tx.ExecContext(ctx,
		`UPDATE repositories SET latest_version = ? WHERE id = ? AND latest_version = ?`,
		next, repositoryID, expectedPrev,
	)
	if err != nil {
		return 0, fmt.Errorf("bump latest version: %w", err)
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return 0, fmt.Errorf("check rows affected: %w", err)
	}
	if affected == 0 {
		return 0, domain.ErrVersionConflict
	}

	if _, err := tx.ExecContext(ctx,
		`INSERT INTO repository_versions (repository_id, number, content_count, created_at) VALUES (?, ?, 0, ?)`,
		repositoryID, next, time.Now(),
	); err != nil {
		return 0, fmt.Errorf("insert repository version: %w", err)
	}

	if err := tx.Commit(); err != nil {
		return 0, fmt.Errorf("commit version creation: %w", err)
	}
	return next, nil
}

func (s *Sqlite) GetVersion(ctx context.Context, repositoryID string, number int64) (domain.RepositoryVersion, error) {
	var v domain.RepositoryVersion
	row := s.db.QueryRowContext(ctx,
		`SELECT repository_id, number, content_count, created_at FROM repository_versions WHERE repository_id = ? AND number = ?`,
		repositoryID, number,
	)
	err := row.Scan(&v.RepositoryID, &v.Number, &v.ContentCount, &v.CreatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return domain.RepositoryVersion{}, domain.ErrNotFound
	}
	if err != nil {
		return domain.RepositoryVersion{}, fmt.Errorf("select repository version: %w", err)
	}
	return v, nil
}

func (s *Sqlite) ListVersionContent(ctx context.Context, repositoryID string, number int64) ([]string, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT digest FROM version_content WHERE repository_id = ? AND number = ?`, repositoryID, number)
	if err != nil {
		return nil, fmt.Errorf("list version content: %w", err)
	}
	defer rows.Close()

	var digests []string
	for rows.Next() {
		var d string
		if err := rows.Scan(&d); err != nil {
			return nil, fmt.Errorf("scan version content digest: %w", err)
		}
		digests = append(digests, d)
	}
	return digests, rows.Err()
}

func (s *Sqlite) PutVersionContent(ctx context.Context, repositoryID string, number int64, digests []string) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin transaction: %w", err)
	}
	defer tx.Rollback()

	stmt, err := tx.PrepareContext(ctx,
		`INSERT OR IGNORE INTO version_content (repository_id, number, digest) VALUES (?, ?, ?)`)
	if err != nil {
		return fmt.Errorf("prepare version content insert: %w", err)
	}
	defer stmt.Close()

	for _, d := range digests {
		if _, err := stmt.ExecContext(ctx, repositoryID, number, d); err != nil {
			return fmt.Errorf("insert version content: %w", err)
		}
	}

	count, err := tx.QueryContext(ctx,
		`SELECT COUNT(*) FROM version_content WHERE repository_id = ? AND number = ?`, repositoryID, number)
	if err != nil {
		return fmt.Errorf("count version content: %w", err)
	}
	var n int
	if count.Next() {
		if err := count.Scan(&n); err != nil {
			count.Close()
			return fmt.Errorf("scan version content count: %w", err)
		}
	}
	count.Close()

	if _, err := tx.ExecContext(ctx,
		`UPDATE repository_versions SET content_count = ? WHERE repository_id = ? AND number = ?`,
		n, repositoryID, number,
	); err != nil {
		return fmt.Errorf("update content count: %w", err)
	}

	return tx.Commit()
}

func (s *Sqlite) PutTag(ctx context.Context, tag domain.Tag) error {
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO tags (repository_id, version, name, manifest_digest) VALUES (?, ?, ?, ?)
		 ON CONFLICT (repository_id, version, name) DO UPDATE SET manifest_digest = excluded.manifest_digest`,
		tag.RepositoryID, tag.Version, tag.Name, tag.ManifestDigest,
	)
	if err != nil {
		return fmt.Errorf("upsert tag: %w", err)
	}
	return nil
}

func (s *Sqlite) GetTag(ctx context.Context, repositoryID string, version int64, name string) (domain.Tag, error) {
	var t domain.Tag
	row := s.db.QueryRowContext(ctx,
		`SELECT repository_id, version, name, manifest_digest FROM tags WHERE repository_id = ? AND version = ? AND name = ?`,
		repositoryID, version, name,
	)
	err := row.Scan(&t.RepositoryID, &t.Version, &t.Name, &t.ManifestDigest)
	if errors.Is(err, sql.ErrNoRows) {
		return domain.Tag{}, domain.ErrNotFound
	}
	if err != nil {
		return domain.Tag{}, fmt.Errorf("select tag: %w", err)
	}
	return t, nil
}

func (s *Sqlite) DeleteTag(ctx context.Context, repositoryID string, version int64, name string) error {
	_, err := s.db.ExecContext(ctx,
		`DELETE FROM tags WHERE repository_id = ? AND version = ? AND name = ?`, repositoryID, version, name)
	if err != nil {
		return fmt.Errorf("delete tag: %w", err)
	}
	return nil
}

func (s *Sqlite) ListTags(ctx context.Context, repositoryID string, version int64) ([]domain.Tag, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT repository_id, version, name, manifest_digest FROM tags WHERE repository_id = ? AND version = ? ORDER BY name`,
		repositoryID, version,
	)
	if err != nil {
		return nil, fmt.Errorf("list tags: %w", err)
	}
	defer rows.Close()

	var out []domain.Tag
	for rows.Next() {
		var t domain.Tag
		if err := rows.Scan(&t.RepositoryID, &t.Version, &t.Name, &t.ManifestDigest); err != nil {
			return nil, fmt.Errorf("scan tag: %w", err)
		}
		out = append(out, t)
	}
	return out, rows.Err()
}

func (s *Sqlite) CreateDistribution(ctx context.Context, d domain.Distribution) error {
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO distributions (base_path, repository_id, visibility, created_at) VALUES (?, ?, ?, ?)`,
		d.BasePath, d.RepositoryID, d.Visibility, d.CreatedAt,
	)
	if isUniqueViolation(err) {
		return domain.ErrAlreadyExists
	}
	if err != nil {
		return fmt.Errorf("insert distribution: %w", err)
	}
	return nil
}

func (s *Sqlite) GetDistribution(ctx context.Context, basePath string) (domain.Distribution, error) {
	var d domain.Distribution
	row := s.db.QueryRowContext(ctx,
		`SELECT base_path, repository_id, visibility, created_at FROM distributions WHERE base_path = ?`, basePath)
	err := row.Scan(&d.BasePath, &d.RepositoryID, &d.Visibility, &d.CreatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return domain.Distribution{}, domain.ErrNotFound
	}
	if err != nil {
		return domain.Distribution{}, fmt.Errorf("select distribution: %w", err)
	}
	return d, nil
}

func (s *Sqlite) CreateRemote(ctx context.Context, r domain.Remote) error {
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO remotes (name, url, mode, include_tags, exclude_tags, username, password_ref, pull_through, max_retries, rate_limit_qps, sigstore_url, policy)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		r.Name, r.URL, r.Mode, strings.Join(r.IncludeTags, ","), strings.Join(r.ExcludeTags, ","),
		r.Username, r.PasswordRef, r.PullThrough, r.MaxRetries, r.RateLimitQPS, r.SigstoreURL, r.EffectivePolicy(),
	)
	if isUniqueViolation(err) {
		return domain.ErrAlreadyExists
	}
	if err != nil {
		return fmt.Errorf("insert remote: %w", err)
	}
	return nil
}

func scanRemote(row interface{ Scan(...any) error }) (domain.Remote, error) {
	var r domain.Remote
	var includeTags, excludeTags string
	err := row.Scan(&r.Name, &r.URL, &r.Mode, &includeTags, &excludeTags,
		&r.Username, &r.PasswordRef, &r.PullThrough, &r.MaxRetries, &r.RateLimitQPS, &r.SigstoreURL, &r.Policy)
	if err != nil {
		return domain.Remote{}, err
	}
	if includeTags != "" {
		r.IncludeTags = strings.Split(includeTags, ",")
	}
	if excludeTags != "" {
		r.ExcludeTags = strings.Split(excludeTags, ",")
	}
	return r, nil
}

func (s *Sqlite) GetRemote(ctx context.Context, name string) (domain.Remote, error) {
	row := s.db.QueryRowContext(ctx,
		`SELECT name, url, mode, include_tags, exclude_tags, username, password_ref, pull_through, max_retries, rate_limit_qps, sigstore_url, policy
		 FROM remotes WHERE name = ?`, name)
	r, err := scanRemote(row)
	if errors.Is(err, sql.ErrNoRows) {
		return domain.Remote{}, domain.ErrNotFound
	}
	if err != nil {
		return domain.Remote{}, fmt.Errorf("select remote: %w", err)
	}
	return r, nil
}

func (s *Sqlite) ListRemotes(ctx context.Context) ([]domain.Remote, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT name, url, mode, include_tags, exclude_tags, username, password_ref, pull_through, max_retries, rate_limit_qps, sigstore_url, policy
		 FROM remotes ORDER BY name`)
	if err != nil {
		return nil, fmt.Errorf("list remotes: %w", err)
	}
	defer rows.Close()

	var out []domain.Remote
	for rows.Next() {
		r, err := scanRemote(rows)
		if err != nil {
			return nil, fmt.Errorf("scan remote: %w", err)
		}
		out = append(out, r)
	}
	return out, rows.Err()
}

func (s *Sqlite) PutUpload(ctx context.Context, u domain.Upload) error {
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO uploads (uuid, repository, started_at, offset_bytes, expected_digest, temp_path) VALUES (?, ?, ?, ?, ?, ?)
		 ON CONFLICT (uuid) DO UPDATE SET offset_bytes = excluded.offset_bytes, expected_digest = excluded.expected_digest`,
		u.UUID, u.Repository, u.StartedAt, u.Offset, u.Expected, u.TempPath,
	)
	if err != nil {
		return fmt.Errorf("upsert upload: %w", err)
	}
	return nil
}

func (s *Sqlite) GetUpload(ctx context.Context, uuid string) (domain.Upload, error) {
	var u domain.Upload
	row := s.db.QueryRowContext(ctx,
		`SELECT uuid, repository, started_at, offset_bytes, expected_digest, temp_path FROM uploads WHERE uuid = ?`, uuid)
	err := row.Scan(&u.UUID, &u.Repository, &u.StartedAt, &u.Offset, &u.Expected, &u.TempPath)
	if errors.Is(err, sql.ErrNoRows) {
		return domain.Upload{}, domain.ErrUploadNotFound
	}
	if err != nil {
		return domain.Upload{}, fmt.Errorf("select upload: %w", err)
	}
	return u, nil
}

func (s *Sqlite) DeleteUpload(ctx context.Context, uuid string) error {
	_, err := s.db.ExecContext(ctx, `DELETE FROM uploads WHERE uuid = ?`, uuid)
	if err != nil {
		return fmt.Errorf("delete upload: %w", err)
	}
	return nil
}
