package video

import (
	"context"
	"database/sql"
	"strings"
	"time"

	_ "github.com/mattn/go-sqlite3"

	"github.com/clipdex/clipdex/classify"
	"github.com/clipdex/clipdex/errors"
)

// Store handles persistence of videos and their classification state.
//
// Apply is the conflict boundary of the whole job engine: the UPDATE is
// conditional on the row being unclassified, so a concurrent execution
// that already classified the video surfaces as ErrConflict instead of
// a silent double-write.
type Store struct {
	db *sql.DB
}

const videoSchema = `
CREATE TABLE IF NOT EXISTS videos (
	id               TEXT PRIMARY KEY,
	owner_id         TEXT NOT NULL,
	title            TEXT NOT NULL,
	channel          TEXT,
	description      TEXT,
	duration_seconds INTEGER,
	classified       INTEGER NOT NULL DEFAULT 0,
	classified_at    TIMESTAMP,
	added_at         TIMESTAMP NOT NULL
);
CREATE INDEX IF NOT EXISTS idx_videos_owner ON videos(owner_id, classified);

CREATE TABLE IF NOT EXISTS categories (
	slug TEXT PRIMARY KEY,
	name TEXT NOT NULL
);

CREATE TABLE IF NOT EXISTS tags (
	slug        TEXT PRIMARY KEY,
	name        TEXT NOT NULL,
	usage_count INTEGER NOT NULL DEFAULT 0
);

CREATE TABLE IF NOT EXISTS video_categories (
	video_id      TEXT NOT NULL REFERENCES videos(id),
	category_slug TEXT NOT NULL REFERENCES categories(slug),
	PRIMARY KEY (video_id, category_slug)
);

CREATE TABLE IF NOT EXISTS video_tags (
	video_id TEXT NOT NULL REFERENCES videos(id),
	tag_slug TEXT NOT NULL REFERENCES tags(slug),
	PRIMARY KEY (video_id, tag_slug)
);
`

// NewStore creates a video store on an existing database handle,
// creating its tables if needed.
func NewStore(db *sql.DB) (*Store, error) {
	if _, err := db.Exec(videoSchema); err != nil {
		return nil, errors.Wrap(err, "failed to create video tables")
	}
	return &Store{db: db}, nil
}

// Create inserts a new video record.
func (s *Store) Create(ctx context.Context, v *Video) error {
	if v.AddedAt.IsZero() {
		v.AddedAt = time.Now()
	}

	_, err := s.db.ExecContext(ctx, `
		INSERT INTO videos (id, owner_id, title, channel, description, duration_seconds, classified, added_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?)`,
		v.ID, v.OwnerID, v.Title, v.Channel, v.Description, v.DurationSec, v.Classified, v.AddedAt,
	)
	if err != nil {
		if strings.Contains(err.Error(), "UNIQUE constraint failed") {
			return errors.Wrapf(errors.ErrAlreadyExists, "video %s", v.ID)
		}
		return errors.Wrap(err, "failed to create video")
	}
	return nil
}

// Get retrieves a single video with its categories and tags.
func (s *Store) Get(ctx context.Context, id string) (*Video, error) {
	videos, err := s.GetByIDs(ctx, []string{id})
	if err != nil {
		return nil, err
	}
	if len(videos) == 0 {
		return nil, errors.NewNotFound("video not found: %s", id)
	}
	return videos[0], nil
}

// GetByIDs retrieves videos by id. Missing ids are omitted from the
// result, not errors; processing paths treat absence as nothing to do.
func (s *Store) GetByIDs(ctx context.Context, ids []string) ([]*Video, error) {
	if len(ids) == 0 {
		return nil, nil
	}

	placeholders := strings.Repeat("?,", len(ids))
	placeholders = placeholders[:len(placeholders)-1]

	args := make([]interface{}, len(ids))
	for i, id := range ids {
		args[i] = id
	}

	rows, err := s.db.QueryContext(ctx, `
		SELECT id, owner_id, title, channel, description, duration_seconds, classified, classified_at, added_at
		FROM videos WHERE id IN (`+placeholders+`)`, args...)
	if err != nil {
		return nil, errors.Wrap(err, "failed to query videos")
	}
	defer rows.Close()

	var videos []*Video
	byID := make(map[string]*Video)
	for rows.Next() {
		v, err := scanVideo(rows)
		if err != nil {
			return nil, err
		}
		videos = append(videos, v)
		byID[v.ID] = v
	}
	if err := rows.Err(); err != nil {
		return nil, errors.Wrap(err, "error iterating videos")
	}

	if err := s.loadLabels(ctx, byID); err != nil {
		return nil, err
	}

	// Preserve the caller's id order
	ordered := make([]*Video, 0, len(videos))
	for _, id := range ids {
		if v, ok := byID[id]; ok {
			ordered = append(ordered, v)
		}
	}
	return ordered, nil
}

// ListUnclassified returns an owner's unclassified videos, newest first.
// A limit of 0 means no limit.
func (s *Store) ListUnclassified(ctx context.Context, ownerID string, limit int) ([]*Video, error) {
	query := `
		SELECT id, owner_id, title, channel, description, duration_seconds, classified, classified_at, added_at
		FROM videos WHERE owner_id = ? AND classified = 0 ORDER BY added_at DESC`
	args := []interface{}{ownerID}
	if limit > 0 {
		query += ` LIMIT ?`
		args = append(args, limit)
	}

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, errors.Wrap(err, "failed to list unclassified videos")
	}
	defer rows.Close()

	var videos []*Video
	for rows.Next() {
		v, err := scanVideo(rows)
		if err != nil {
			return nil, err
		}
		videos = append(videos, v)
	}
	if err := rows.Err(); err != nil {
		return nil, errors.Wrap(err, "error iterating unclassified videos")
	}
	return videos, nil
}

// Apply records a classification result against a video.
//
// Returns errors.ErrConflict if the video was already classified (a
// concurrent execution won the race) and errors.ErrNotFound if the
// video does not exist. Both are distinguishable from genuine failures.
func (s *Store) Apply(ctx context.Context, videoID string, result classify.Result) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return errors.Wrap(err, "failed to begin apply transaction")
	}
	defer tx.Rollback()

	res, err := tx.ExecContext(ctx,
		`UPDATE videos SET classified = 1, classified_at = ? WHERE id = ? AND classified = 0`,
		time.Now(), videoID,
	)
	if err != nil {
		return errors.Wrap(err, "failed to mark video classified")
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return errors.Wrap(err, "failed to get rows affected")
	}
	if affected == 0 {
		// Either absent or already classified - tell the caller which
		var classified bool
		err := tx.QueryRowContext(ctx, `SELECT classified FROM videos WHERE id = ?`, videoID).Scan(&classified)
		if errors.Is(err, sql.ErrNoRows) {
			return errors.NewNotFound("video not found: %s", videoID)
		}
		if err != nil {
			return errors.Wrap(err, "failed to check video state")
		}
		return errors.Wrapf(errors.ErrConflict, "video %s already classified", videoID)
	}

	for _, name := range dedupe(append(result.PrimaryCategories, result.SecondaryCategories...)) {
		if !classify.ValidCategory(name) {
			continue
		}
		slug := categorySlug(name)
		if _, err := tx.ExecContext(ctx,
			`INSERT INTO categories (slug, name) VALUES (?, ?) ON CONFLICT(slug) DO NOTHING`,
			slug, name); err != nil {
			return errors.Wrap(err, "failed to upsert category")
		}
		if _, err := tx.ExecContext(ctx,
			`INSERT INTO video_categories (video_id, category_slug) VALUES (?, ?) ON CONFLICT DO NOTHING`,
			videoID, slug); err != nil {
			return errors.Wrap(err, "failed to link category")
		}
	}

	tags := result.Tags
	if len(tags) > classify.MaxTags {
		tags = tags[:classify.MaxTags]
	}
	for _, name := range dedupe(tags) {
		name = strings.ToLower(strings.TrimSpace(name))
		if name == "" {
			continue
		}
		slug := tagSlug(name)
		if _, err := tx.ExecContext(ctx,
			`INSERT INTO tags (slug, name, usage_count) VALUES (?, ?, 0) ON CONFLICT(slug) DO NOTHING`,
			slug, name); err != nil {
			return errors.Wrap(err, "failed to upsert tag")
		}
		if _, err := tx.ExecContext(ctx,
			`UPDATE tags SET usage_count = usage_count + 1 WHERE slug = ?`, slug); err != nil {
			return errors.Wrap(err, "failed to bump tag usage")
		}
		if _, err := tx.ExecContext(ctx,
			`INSERT INTO video_tags (video_id, tag_slug) VALUES (?, ?) ON CONFLICT DO NOTHING`,
			videoID, slug); err != nil {
			return errors.Wrap(err, "failed to link tag")
		}
	}

	if err := tx.Commit(); err != nil {
		return errors.Wrap(err, "failed to commit apply transaction")
	}
	return nil
}

// CountByOwner returns total and classified video counts for an owner.
func (s *Store) CountByOwner(ctx context.Context, ownerID string) (total int, classified int, err error) {
	err = s.db.QueryRowContext(ctx, `
		SELECT COUNT(*), COALESCE(SUM(classified), 0) FROM videos WHERE owner_id = ?`,
		ownerID,
	).Scan(&total, &classified)
	if err != nil {
		return 0, 0, errors.Wrap(err, "failed to count videos")
	}
	return total, classified, nil
}

func scanVideo(rows *sql.Rows) (*Video, error) {
	var v Video
	var channel, description sql.NullString
	var duration sql.NullInt64
	var classifiedAt sql.NullTime

	err := rows.Scan(&v.ID, &v.OwnerID, &v.Title, &channel, &description,
		&duration, &v.Classified, &classifiedAt, &v.AddedAt)
	if err != nil {
		return nil, errors.Wrap(err, "failed to scan video")
	}

	v.Channel = channel.String
	v.Description = description.String
	v.DurationSec = int(duration.Int64)
	if classifiedAt.Valid {
		v.ClassifiedAt = &classifiedAt.Time
	}
	return &v, nil
}

// loadLabels attaches categories and tags to the given videos.
func (s *Store) loadLabels(ctx context.Context, byID map[string]*Video) error {
	if len(byID) == 0 {
		return nil
	}

	ids := make([]interface{}, 0, len(byID))
	placeholders := make([]string, 0, len(byID))
	for id := range byID {
		ids = append(ids, id)
		placeholders = append(placeholders, "?")
	}
	in := strings.Join(placeholders, ",")

	rows, err := s.db.QueryContext(ctx, `
		SELECT vc.video_id, c.name FROM video_categories vc
		JOIN categories c ON c.slug = vc.category_slug
		WHERE vc.video_id IN (`+in+`)`, ids...)
	if err != nil {
		return errors.Wrap(err, "failed to load categories")
	}
	defer rows.Close()
	for rows.Next() {
		var videoID, name string
		if err := rows.Scan(&videoID, &name); err != nil {
			return errors.Wrap(err, "failed to scan category")
		}
		if v, ok := byID[videoID]; ok {
			v.Categories = append(v.Categories, name)
		}
	}
	if err := rows.Err(); err != nil {
		return errors.Wrap(err, "error iterating categories")
	}

	tagRows, err := s.db.QueryContext(ctx, `
		SELECT vt.video_id, t.name FROM video_tags vt
		JOIN tags t ON t.slug = vt.tag_slug
		WHERE vt.video_id IN (`+in+`)`, ids...)
	if err != nil {
		return errors.Wrap(err, "failed to load tags")
	}
	defer tagRows.Close()
	for tagRows.Next() {
		var videoID, name string
		if err := tagRows.Scan(&videoID, &name); err != nil {
			return errors.Wrap(err, "failed to scan tag")
		}
		if v, ok := byID[videoID]; ok {
			v.Tags = append(v.Tags, name)
		}
	}
	return errors.Wrap(tagRows.Err(), "error iterating tags")
}

func categorySlug(name string) string {
	slug := strings.ToLower(name)
	slug = strings.ReplaceAll(slug, " & ", " and ")
	slug = strings.ReplaceAll(slug, "&", "and")
	slug = strings.ReplaceAll(slug, "/", "-")
	slug = strings.ReplaceAll(slug, " ", "-")
	return slug
}

func tagSlug(name string) string {
	return strings.ReplaceAll(strings.ToLower(name), " ", "-")
}

func dedupe(names []string) []string {
	seen := make(map[string]struct{}, len(names))
	out := names[:0]
	for _, name := range names {
		if _, ok := seen[name]; ok {
			continue
		}
		seen[name] = struct{}{}
		out = append(out, name)
	}
	return out
}
