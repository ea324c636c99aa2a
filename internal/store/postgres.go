package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"log"
	"strings"
)

// PostgresStore keeps one row per written path in the nodes table.
type PostgresStore struct {
	db   *sql.DB
	hub  *hub
	feed *RedisFeed
}

func NewPostgresStore(db *sql.DB) *PostgresStore {
	return &PostgresStore{db: db, hub: newHub()}
}

func (s *PostgresStore) DB() *sql.DB {
	return s.db
}

// UseFeed routes change notifications through Redis so that subscribers on
// every API instance observe writes made by the others.
func (s *PostgresStore) UseFeed(ctx context.Context, feed *RedisFeed) error {
	if err := feed.Listen(ctx, s.hub.publish); err != nil {
		return err
	}
	s.feed = feed
	return nil
}

func (s *PostgresStore) Read(ctx context.Context, path string) (Snapshot, error) {
	clean, err := CleanPath(path)
	if err != nil {
		return Snapshot{}, storeError("read", path, err)
	}

	rows, err := s.db.QueryContext(ctx, `
		SELECT path, value
		FROM nodes
		WHERE path = $1 OR path LIKE $2 ESCAPE '\'
	`, clean, likePrefix(clean))
	if err != nil {
		return Snapshot{}, storeError("read", clean, err)
	}
	defer rows.Close()

	items := make([]node, 0)
	for rows.Next() {
		var item node
		var value []byte
		if err := rows.Scan(&item.path, &value); err != nil {
			return Snapshot{}, storeError("read", clean, fmt.Errorf("scan node: %w", err))
		}
		item.value = json.RawMessage(value)
		items = append(items, item)
	}
	if err := rows.Err(); err != nil {
		return Snapshot{}, storeError("read", clean, fmt.Errorf("iterate nodes: %w", err))
	}

	value, err := assemble(clean, items)
	if err != nil {
		return Snapshot{}, storeError("read", clean, err)
	}
	return Snapshot{Path: clean, Value: value}, nil
}

func (s *PostgresStore) Subscribe(ctx context.Context, path string, fn func(Snapshot)) (Subscription, error) {
	clean, err := CleanPath(path)
	if err != nil {
		return nil, storeError("subscribe", path, err)
	}
	return s.hub.subscribe(ctx, clean, s.Read, fn), nil
}

func (s *PostgresStore) Write(ctx context.Context, path string, value any) error {
	clean, raw, err := prepareWrite("write", path, value)
	if err != nil {
		return err
	}
	err = s.inTx(ctx, func(tx *sql.Tx) error {
		if err := lockPath(ctx, tx, clean); err != nil {
			return err
		}
		if err := deleteSubtree(ctx, tx, clean); err != nil {
			return err
		}
		if isNull(raw) {
			return nil
		}
		return upsertNode(ctx, tx, clean, raw)
	})
	if err != nil {
		return storeError("write", clean, err)
	}
	s.changed(ctx, clean)
	return nil
}

func (s *PostgresStore) Create(ctx context.Context, path string, value any) error {
	clean, raw, err := prepareWrite("create", path, value)
	if err != nil {
		return err
	}
	err = s.inTx(ctx, func(tx *sql.Tx) error {
		if err := lockPath(ctx, tx, clean); err != nil {
			return err
		}
		var exists bool
		if err := tx.QueryRowContext(ctx, `
			SELECT EXISTS(SELECT 1 FROM nodes WHERE path = $1 OR path LIKE $2 ESCAPE '\')
		`, clean, likePrefix(clean)).Scan(&exists); err != nil {
			return fmt.Errorf("check existing: %w", err)
		}
		if exists {
			return ErrConflict
		}
		return upsertNode(ctx, tx, clean, raw)
	})
	if err != nil {
		return storeError("create", clean, err)
	}
	s.changed(ctx, clean)
	return nil
}

func (s *PostgresStore) Merge(ctx context.Context, path string, fields map[string]any) error {
	clean, err := CleanPath(path)
	if err != nil {
		return storeError("merge", path, err)
	}
	err = s.inTx(ctx, func(tx *sql.Tx) error {
		if err := lockPath(ctx, tx, clean); err != nil {
			return err
		}
		var current []byte
		err := tx.QueryRowContext(ctx, `SELECT value FROM nodes WHERE path = $1 FOR UPDATE`, clean).Scan(&current)
		if errors.Is(err, sql.ErrNoRows) {
			return ErrNotFound
		}
		if err != nil {
			return fmt.Errorf("load node: %w", err)
		}
		merged, err := mergeFields(current, fields)
		if err != nil {
			return err
		}
		return upsertNode(ctx, tx, clean, merged)
	})
	if err != nil {
		return storeError("merge", clean, err)
	}
	s.changed(ctx, clean)
	return nil
}

func (s *PostgresStore) Append(ctx context.Context, path string, value any) (string, error) {
	clean, raw, err := prepareWrite("append", path, value)
	if err != nil {
		return "", err
	}
	key := newKey()
	child := Join(clean, key)
	if err := s.inTx(ctx, func(tx *sql.Tx) error {
		return upsertNode(ctx, tx, child, raw)
	}); err != nil {
		return "", storeError("append", clean, err)
	}
	s.changed(ctx, child)
	return key, nil
}

func (s *PostgresStore) AppendUnique(ctx context.Context, path, field, match string, value any) (string, error) {
	clean, raw, err := prepareWrite("append", path, value)
	if err != nil {
		return "", err
	}
	key := newKey()
	child := Join(clean, key)
	owner := parentOf(clean)
	err = s.inTx(ctx, func(tx *sql.Tx) error {
		// Owner first, then collection. Delete of the owner takes the same
		// lock, so an append never lands under a removed record.
		if owner != "" {
			if err := lockPath(ctx, tx, owner); err != nil {
				return err
			}
			var found bool
			if err := tx.QueryRowContext(ctx, `SELECT EXISTS(SELECT 1 FROM nodes WHERE path = $1)`, owner).Scan(&found); err != nil {
				return fmt.Errorf("check owner: %w", err)
			}
			if !found {
				return ErrNotFound
			}
		}
		if err := lockPath(ctx, tx, clean); err != nil {
			return err
		}
		var taken bool
		if err := tx.QueryRowContext(ctx, `
			SELECT EXISTS(SELECT 1 FROM nodes WHERE parent = $1 AND value->>$2 = $3)
		`, clean, field, match).Scan(&taken); err != nil {
			return fmt.Errorf("check unique %s: %w", field, err)
		}
		if taken {
			return ErrConflict
		}
		return upsertNode(ctx, tx, child, raw)
	})
	if err != nil {
		return "", storeError("append", clean, err)
	}
	s.changed(ctx, child)
	return key, nil
}

func (s *PostgresStore) Delete(ctx context.Context, path string) error {
	clean, err := CleanPath(path)
	if err != nil {
		return storeError("delete", path, err)
	}
	err = s.inTx(ctx, func(tx *sql.Tx) error {
		if err := lockPath(ctx, tx, clean); err != nil {
			return err
		}
		return deleteSubtree(ctx, tx, clean)
	})
	if err != nil {
		return storeError("delete", clean, err)
	}
	s.changed(ctx, clean)
	return nil
}

// Ping verifies the database connection is alive
func (s *PostgresStore) Ping(ctx context.Context) error {
	return s.db.PingContext(ctx)
}

func (s *PostgresStore) changed(ctx context.Context, path string) {
	if s.feed != nil {
		if err := s.feed.Publish(ctx, path); err == nil {
			return
		} else {
			log.Printf("store: publish change %s: %v", path, err)
		}
	}
	s.hub.publish(path)
}

func (s *PostgresStore) inTx(ctx context.Context, fn func(tx *sql.Tx) error) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin tx: %w", err)
	}
	if err := fn(tx); err != nil {
		_ = tx.Rollback()
		return err
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit tx: %w", err)
	}
	return nil
}

func lockPath(ctx context.Context, tx *sql.Tx, path string) error {
	if _, err := tx.ExecContext(ctx, `SELECT pg_advisory_xact_lock(hashtext($1))`, path); err != nil {
		return fmt.Errorf("lock %s: %w", path, err)
	}
	return nil
}

func upsertNode(ctx context.Context, tx *sql.Tx, path string, value json.RawMessage) error {
	_, err := tx.ExecContext(ctx, `
		INSERT INTO nodes (path, parent, value, updated_at)
		VALUES ($1, $2, $3::jsonb, NOW())
		ON CONFLICT (path) DO UPDATE SET value = EXCLUDED.value, parent = EXCLUDED.parent, updated_at = NOW()
	`, path, parentOf(path), string(value))
	if err != nil {
		return fmt.Errorf("upsert node: %w", err)
	}
	return nil
}

func deleteSubtree(ctx context.Context, tx *sql.Tx, path string) error {
	if _, err := tx.ExecContext(ctx, `DELETE FROM nodes WHERE path = $1 OR path LIKE $2 ESCAPE '\'`, path, likePrefix(path)); err != nil {
		return fmt.Errorf("delete subtree: %w", err)
	}
	return nil
}

func likePrefix(path string) string {
	escaped := strings.NewReplacer(`\`, `\\`, `%`, `\%`, `_`, `\_`).Replace(path)
	return escaped + "/%"
}
