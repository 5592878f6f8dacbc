package postgres

import (
	"context"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/tendant/post-engine/pkg/postengine"
)

// DBTX is an interface that allows us to use either a connection pool or a
// transaction
type DBTX interface {
	Exec(context.Context, string, ...interface{}) (pgconn.CommandTag, error)
	Query(context.Context, string, ...interface{}) (pgx.Rows, error)
	QueryRow(context.Context, string, ...interface{}) pgx.Row
}

// Repository implements the engine's store contracts (postengine.PostStore,
// SnapshotStore, GlobalParamStore and TagResolver) using PostgreSQL. When an
// operation runs inside a Boundary transaction, every query is routed
// through that transaction; otherwise the pool is used directly.
type Repository struct {
	pool *pgxpool.Pool
}

var (
	_ postengine.PostStore        = (*Repository)(nil)
	_ postengine.SnapshotStore    = (*Repository)(nil)
	_ postengine.GlobalParamStore = (*Repository)(nil)
	_ postengine.TagResolver      = (*Repository)(nil)
)

// NewWithPool creates a new PostgreSQL repository with connection pool
func NewWithPool(pool *pgxpool.Pool) *Repository {
	return &Repository{pool: pool}
}

func (r *Repository) db(ctx context.Context) DBTX {
	if tx := txFromContext(ctx); tx != nil {
		return tx
	}
	return r.pool
}

// Error handling helper
func handlePostgresError(operation string, err error) error {
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) {
		switch pgErr.Code {
		case "23505": // unique_violation
			return fmt.Errorf("duplicate entry in %s: %s", operation, pgErr.ConstraintName)
		case "23503": // foreign_key_violation
			return fmt.Errorf("referenced record not found in %s", operation)
		case "42P01": // undefined_table
			return fmt.Errorf("table does not exist - database migration required")
		default:
			return fmt.Errorf("database error in %s: %s (code: %s)", operation, pgErr.Message, pgErr.Code)
		}
	}
	return fmt.Errorf("database error in %s: %w", operation, err)
}

// Post operations

const postColumns = `
	id, name, mime_type, kind, checksum, content, thumbnail_source,
	original_file_name, original_file_size, image_width, image_height,
	safety, source, user_id, upload_time, last_edit_time,
	feature_count, last_feature_time`

func (r *Repository) FindByName(ctx context.Context, name string) (*postengine.Post, error) {
	query := `SELECT` + postColumns + ` FROM post WHERE name = $1`
	return r.findOne(ctx, query, name)
}

func (r *Repository) FindByID(ctx context.Context, id int64) (*postengine.Post, error) {
	query := `SELECT` + postColumns + ` FROM post WHERE id = $1`
	return r.findOne(ctx, query, id)
}

func (r *Repository) FindByChecksum(ctx context.Context, checksum string) (*postengine.Post, error) {
	query := `SELECT` + postColumns + ` FROM post WHERE checksum = $1`
	return r.findOne(ctx, query, checksum)
}

func (r *Repository) findOne(ctx context.Context, query string, arg interface{}) (*postengine.Post, error) {
	post, err := scanPost(r.db(ctx).QueryRow(ctx, query, arg))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, postengine.ErrPostNotFound
		}
		return nil, err
	}
	if err := r.loadAssociations(ctx, post); err != nil {
		return nil, err
	}
	return post, nil
}

func (r *Repository) FindByIDs(ctx context.Context, ids []int64) (map[int64]*postengine.Post, error) {
	query := `SELECT` + postColumns + ` FROM post WHERE id = ANY($1)`

	rows, err := r.db(ctx).Query(ctx, query, ids)
	if err != nil {
		return nil, handlePostgresError("find posts by ids", err)
	}
	defer rows.Close()

	result := make(map[int64]*postengine.Post, len(ids))
	for rows.Next() {
		post, err := scanPost(rows)
		if err != nil {
			return nil, err
		}
		result[post.ID] = post
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}

	for _, post := range result {
		if err := r.loadAssociations(ctx, post); err != nil {
			return nil, err
		}
	}
	return result, nil
}

func (r *Repository) Save(ctx context.Context, post *postengine.Post) (*postengine.Post, error) {
	saved := post.Clone()
	if saved.ID == 0 {
		query := `
			INSERT INTO post (
				name, mime_type, kind, checksum, content, thumbnail_source,
				original_file_name, original_file_size, image_width, image_height,
				safety, source, user_id, upload_time, last_edit_time,
				feature_count, last_feature_time
			) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, $15, $16, $17)
			RETURNING id`

		err := r.db(ctx).QueryRow(ctx, query,
			saved.Name, saved.MimeType, saved.Kind, saved.Checksum,
			saved.Content, saved.ThumbnailSource,
			saved.OriginalFileName, saved.OriginalFileSize, saved.ImageWidth, saved.ImageHeight,
			saved.Safety, saved.Source, saved.UserID, saved.UploadTime, saved.LastEditTime,
			saved.FeatureCount, saved.LastFeatureTime).Scan(&saved.ID)
		if err != nil {
			return nil, handlePostgresError("insert post", err)
		}
	} else {
		query := `
			UPDATE post SET
				name = $2, mime_type = $3, kind = $4, checksum = $5,
				content = $6, thumbnail_source = $7,
				original_file_name = $8, original_file_size = $9,
				image_width = $10, image_height = $11,
				safety = $12, source = $13, user_id = $14,
				upload_time = $15, last_edit_time = $16,
				feature_count = $17, last_feature_time = $18
			WHERE id = $1`

		_, err := r.db(ctx).Exec(ctx, query,
			saved.ID, saved.Name, saved.MimeType, saved.Kind, saved.Checksum,
			saved.Content, saved.ThumbnailSource,
			saved.OriginalFileName, saved.OriginalFileSize, saved.ImageWidth, saved.ImageHeight,
			saved.Safety, saved.Source, saved.UserID, saved.UploadTime, saved.LastEditTime,
			saved.FeatureCount, saved.LastFeatureTime)
		if err != nil {
			return nil, handlePostgresError("update post", err)
		}
	}

	if err := r.saveAssociations(ctx, saved); err != nil {
		return nil, err
	}
	return saved, nil
}

func (r *Repository) saveAssociations(ctx context.Context, post *postengine.Post) error {
	db := r.db(ctx)

	if _, err := db.Exec(ctx, `DELETE FROM post_tag WHERE post_id = $1`, post.ID); err != nil {
		return handlePostgresError("replace post tags", err)
	}
	for _, tag := range post.Tags {
		if _, err := db.Exec(ctx,
			`INSERT INTO post_tag (post_id, tag_id) VALUES ($1, $2)`,
			post.ID, tag.ID); err != nil {
			return handlePostgresError("replace post tags", err)
		}
	}

	if _, err := db.Exec(ctx, `DELETE FROM post_relation WHERE post_id = $1`, post.ID); err != nil {
		return handlePostgresError("replace post relations", err)
	}
	for _, relatedID := range post.RelatedPostIDs {
		if _, err := db.Exec(ctx,
			`INSERT INTO post_relation (post_id, related_post_id) VALUES ($1, $2)`,
			post.ID, relatedID); err != nil {
			return handlePostgresError("replace post relations", err)
		}
	}
	return nil
}

func (r *Repository) loadAssociations(ctx context.Context, post *postengine.Post) error {
	db := r.db(ctx)

	rows, err := db.Query(ctx, `
		SELECT t.id, t.name FROM tag t
		JOIN post_tag pt ON pt.tag_id = t.id
		WHERE pt.post_id = $1
		ORDER BY t.name`, post.ID)
	if err != nil {
		return handlePostgresError("load post tags", err)
	}
	defer rows.Close()
	for rows.Next() {
		var tag postengine.Tag
		if err := rows.Scan(&tag.ID, &tag.Name); err != nil {
			return err
		}
		post.Tags = append(post.Tags, tag)
	}
	if err := rows.Err(); err != nil {
		return err
	}

	relationRows, err := db.Query(ctx, `
		SELECT related_post_id FROM post_relation
		WHERE post_id = $1
		ORDER BY related_post_id`, post.ID)
	if err != nil {
		return handlePostgresError("load post relations", err)
	}
	defer relationRows.Close()
	for relationRows.Next() {
		var relatedID int64
		if err := relationRows.Scan(&relatedID); err != nil {
			return err
		}
		post.RelatedPostIDs = append(post.RelatedPostIDs, relatedID)
	}
	return relationRows.Err()
}

func (r *Repository) DeleteByID(ctx context.Context, id int64) error {
	tag, err := r.db(ctx).Exec(ctx, `DELETE FROM post WHERE id = $1`, id)
	if err != nil {
		return handlePostgresError("delete post", err)
	}
	if tag.RowsAffected() == 0 {
		return postengine.ErrPostNotFound
	}
	return nil
}

func (r *Repository) Count(ctx context.Context) (int64, error) {
	var count int64
	if err := r.db(ctx).QueryRow(ctx, `SELECT COUNT(*) FROM post`).Scan(&count); err != nil {
		return 0, handlePostgresError("count posts", err)
	}
	return count, nil
}

func (r *Repository) TotalContentSize(ctx context.Context) (int64, error) {
	var total int64
	query := `SELECT COALESCE(SUM(original_file_size), 0) FROM post`
	if err := r.db(ctx).QueryRow(ctx, query).Scan(&total); err != nil {
		return 0, handlePostgresError("total content size", err)
	}
	return total, nil
}

func scanPost(row pgx.Row) (*postengine.Post, error) {
	var post postengine.Post
	err := row.Scan(
		&post.ID, &post.Name, &post.MimeType, &post.Kind, &post.Checksum,
		&post.Content, &post.ThumbnailSource,
		&post.OriginalFileName, &post.OriginalFileSize,
		&post.ImageWidth, &post.ImageHeight,
		&post.Safety, &post.Source, &post.UserID,
		&post.UploadTime, &post.LastEditTime,
		&post.FeatureCount, &post.LastFeatureTime)
	if err != nil {
		return nil, err
	}
	return &post, nil
}

// Snapshot operations

func (r *Repository) Record(ctx context.Context, snapshot *postengine.Snapshot) error {
	query := `
		INSERT INTO snapshot (id, subject_id, subject_type, operation, state, created_at)
		VALUES ($1, $2, $3, $4, $5, $6)`

	_, err := r.db(ctx).Exec(ctx, query,
		snapshot.ID, snapshot.SubjectID, snapshot.SubjectType,
		snapshot.Operation, snapshot.State, snapshot.CreatedAt)
	if err != nil {
		return handlePostgresError("record snapshot", err)
	}
	return nil
}

func (r *Repository) ListBySubject(ctx context.Context, subjectType string, subjectID int64) ([]*postengine.Snapshot, error) {
	query := `
		SELECT id, subject_id, subject_type, operation, state, created_at
		FROM snapshot
		WHERE subject_type = $1 AND subject_id = $2
		ORDER BY created_at DESC`

	rows, err := r.db(ctx).Query(ctx, query, subjectType, subjectID)
	if err != nil {
		return nil, handlePostgresError("list snapshots", err)
	}
	defer rows.Close()

	var result []*postengine.Snapshot
	for rows.Next() {
		var snapshot postengine.Snapshot
		if err := rows.Scan(
			&snapshot.ID, &snapshot.SubjectID, &snapshot.SubjectType,
			&snapshot.Operation, &snapshot.State, &snapshot.CreatedAt); err != nil {
			return nil, err
		}
		result = append(result, &snapshot)
	}
	return result, rows.Err()
}

// Global parameter operations

func (r *Repository) Get(ctx context.Context, key string) (string, bool, error) {
	var value string
	err := r.db(ctx).QueryRow(ctx, `SELECT value FROM global_param WHERE key = $1`, key).Scan(&value)
	if errors.Is(err, pgx.ErrNoRows) {
		return "", false, nil
	}
	if err != nil {
		return "", false, handlePostgresError("get global param", err)
	}
	return value, true, nil
}

func (r *Repository) Set(ctx context.Context, key, value string) error {
	query := `
		INSERT INTO global_param (key, value) VALUES ($1, $2)
		ON CONFLICT (key) DO UPDATE SET value = EXCLUDED.value`

	if _, err := r.db(ctx).Exec(ctx, query, key, value); err != nil {
		return handlePostgresError("set global param", err)
	}
	return nil
}

// Tag operations

func (r *Repository) ResolveOrCreate(ctx context.Context, names []string) ([]postengine.Tag, error) {
	db := r.db(ctx)
	tags := make([]postengine.Tag, 0, len(names))
	for _, name := range names {
		var tag postengine.Tag
		query := `
			INSERT INTO tag (name) VALUES (TRIM($1))
			ON CONFLICT (name) DO UPDATE SET name = EXCLUDED.name
			RETURNING id, name`
		if err := db.QueryRow(ctx, query, name).Scan(&tag.ID, &tag.Name); err != nil {
			return nil, handlePostgresError("resolve tag", err)
		}
		tags = append(tags, tag)
	}
	return tags, nil
}

func (r *Repository) PruneUnused(ctx context.Context) error {
	query := `DELETE FROM tag WHERE id NOT IN (SELECT DISTINCT tag_id FROM post_tag)`
	if _, err := r.db(ctx).Exec(ctx, query); err != nil {
		return handlePostgresError("prune tags", err)
	}
	return nil
}

func (r *Repository) RefreshExport(ctx context.Context) error {
	query := `
		INSERT INTO global_param (key, value)
		SELECT 'tag-export', COALESCE(json_agg(name ORDER BY name)::text, '[]') FROM tag
		ON CONFLICT (key) DO UPDATE SET value = EXCLUDED.value`

	if _, err := r.db(ctx).Exec(ctx, query); err != nil {
		return handlePostgresError("refresh tag export", err)
	}
	return nil
}
