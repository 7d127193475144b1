package store

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
)

// PublishState is one of the four states a Publish moves through.
type PublishState string

const (
	PublishPending    PublishState = "PENDING"
	PublishCommitting PublishState = "COMMITTING"
	PublishCommitted  PublishState = "COMMITTED"
	PublishFailed     PublishState = "FAILED"
)

// Publish is a staged set of content updates applied atomically. See
// spec.md §3.
type Publish struct {
	ID      uuid.UUID
	Env     string
	State   PublishState
	Updated *time.Time
}

// Item is one web_uri -> content mapping within a publish; may be a link or
// a tombstone (ObjectKey == "absent"). See spec.md §3.
type Item struct {
	ID          uuid.UUID
	PublishID   uuid.UUID
	WebURI      string
	ObjectKey   string
	LinkTo      *string
	ContentType *string
	Updated     *time.Time
}

// AbsentObjectKey is the literal token meaning "publish a tombstone at this
// URI" rather than a real 64-hex-character content hash.
const AbsentObjectKey = "absent"

// CreatePublish inserts a new PENDING Publish for env and returns it.
func (s *PostgresStore) CreatePublish(ctx context.Context, env string) (*Publish, error) {
	p := &Publish{ID: uuid.New(), Env: env, State: PublishPending}
	_, err := s.pool.Exec(ctx, `
		INSERT INTO publishes (id, env, state, updated) VALUES ($1, $2, $3, NOW())
	`, p.ID, p.Env, p.State)
	if err != nil {
		return nil, fmt.Errorf("create publish: %w", err)
	}
	return s.GetPublish(ctx, p.ID)
}

// GetPublish loads a Publish by id.
func (s *PostgresStore) GetPublish(ctx context.Context, id uuid.UUID) (*Publish, error) {
	var p Publish
	err := s.pool.QueryRow(ctx, `
		SELECT id, env, state, updated FROM publishes WHERE id = $1
	`, id).Scan(&p.ID, &p.Env, &p.State, &p.Updated)
	if err == pgx.ErrNoRows {
		return nil, fmt.Errorf("publish not found: %s", id)
	}
	if err != nil {
		return nil, fmt.Errorf("get publish: %w", err)
	}
	return &p, nil
}

// SetPublishState transitions publish to state, stamping updated.
func (s *PostgresStore) SetPublishState(ctx context.Context, id uuid.UUID, state PublishState) error {
	ct, err := s.pool.Exec(ctx, `
		UPDATE publishes SET state = $1, updated = NOW() WHERE id = $2
	`, state, id)
	if err != nil {
		return fmt.Errorf("set publish state: %w", err)
	}
	if ct.RowsAffected() == 0 {
		return fmt.Errorf("publish not found: %s", id)
	}
	return nil
}

// AddItems appends items to a publish. Caller must have validated each item
// against the Item schema (bad items never reach the Store, per spec.md §7).
func (s *PostgresStore) AddItems(ctx context.Context, publishID uuid.UUID, items []Item) error {
	for i := range items {
		if items[i].ID == uuid.Nil {
			items[i].ID = uuid.New()
		}
		_, err := s.pool.Exec(ctx, `
			INSERT INTO items (id, publish_id, web_uri, object_key, link_to, content_type, updated)
			VALUES ($1, $2, $3, $4, $5, $6, NOW())
		`, items[i].ID, publishID, items[i].WebURI, items[i].ObjectKey, items[i].LinkTo, items[i].ContentType)
		if err != nil {
			return fmt.Errorf("add item %s: %w", items[i].WebURI, err)
		}
	}
	return nil
}

// LoadPublishItems returns every item belonging to publishID in one slice,
// ordered by web_uri. It does not paginate or batch; the caller splits the
// result into write batches itself.
func (s *PostgresStore) LoadPublishItems(ctx context.Context, publishID uuid.UUID) ([]Item, error) {
	rows, err := s.pool.Query(ctx, `
		SELECT id, publish_id, web_uri, object_key, link_to, content_type, updated
		FROM items WHERE publish_id = $1 ORDER BY web_uri
	`, publishID)
	if err != nil {
		return nil, fmt.Errorf("load publish items: %w", err)
	}
	defer rows.Close()

	var items []Item
	for rows.Next() {
		var it Item
		if err := rows.Scan(&it.ID, &it.PublishID, &it.WebURI, &it.ObjectKey, &it.LinkTo, &it.ContentType, &it.Updated); err != nil {
			return nil, fmt.Errorf("scan item: %w", err)
		}
		items = append(items, it)
	}
	return items, rows.Err()
}

// DeletePublish removes a publish and (via ON DELETE CASCADE) its items.
func (s *PostgresStore) DeletePublish(ctx context.Context, id uuid.UUID) error {
	_, err := s.pool.Exec(ctx, `DELETE FROM publishes WHERE id = $1`, id)
	if err != nil {
		return fmt.Errorf("delete publish: %w", err)
	}
	return nil
}
