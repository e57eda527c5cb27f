package sqlstore

import (
	"context"
	"database/sql"
	"fmt"
	"strings"
	"time"

	"github.com/goliatone/go-gatekeeper/core"
	repository "github.com/goliatone/go-repository-bun"
	"github.com/google/uuid"
	"github.com/uptrace/bun"
)

// SnapshotStore keeps one blob row per snapshot key and rewrites it in
// place on every save.
type SnapshotStore struct {
	db   *bun.DB
	repo repository.Repository[*snapshotRecord]
}

func NewSnapshotStore(db *bun.DB) (*SnapshotStore, error) {
	if db == nil {
		return nil, fmt.Errorf("sqlstore: bun db is required")
	}
	repo := repository.NewRepository[*snapshotRecord](db, snapshotHandlers())
	if validator, ok := repo.(repository.Validator); ok {
		if err := validator.Validate(); err != nil {
			return nil, fmt.Errorf("sqlstore: invalid snapshot repository wiring: %w", err)
		}
	}
	return &SnapshotStore{
		db:   db,
		repo: repo,
	}, nil
}

func (s *SnapshotStore) Load(ctx context.Context, key string) ([]byte, error) {
	if s == nil || s.db == nil {
		return nil, fmt.Errorf("sqlstore: snapshot store is not configured")
	}
	key = strings.TrimSpace(key)
	if key == "" {
		return nil, fmt.Errorf("sqlstore: snapshot key is required")
	}

	record := &snapshotRecord{}
	err := s.db.NewSelect().
		Model(record).
		Where("?TableAlias.snapshot_key = ?", key).
		Limit(1).
		Scan(ctx)
	if err != nil {
		if err == sql.ErrNoRows {
			return nil, core.ErrSnapshotNotFound
		}
		return nil, err
	}
	return append([]byte(nil), record.Blob...), nil
}

func (s *SnapshotStore) Save(ctx context.Context, key string, blob []byte) error {
	if s == nil || s.db == nil {
		return fmt.Errorf("sqlstore: snapshot store is not configured")
	}
	key = strings.TrimSpace(key)
	if key == "" {
		return fmt.Errorf("sqlstore: snapshot key is required")
	}

	if err := s.upsertSnapshot(ctx, key, blob); err != nil {
		// Concurrent first saves of the same key race on the unique index;
		// the loser retries and lands on the update path.
		if isUniqueViolation(err) {
			return s.upsertSnapshot(ctx, key, blob)
		}
		return err
	}
	return nil
}

func (s *SnapshotStore) upsertSnapshot(ctx context.Context, key string, blob []byte) error {
	now := time.Now().UTC()
	return s.db.RunInTx(ctx, nil, func(ctx context.Context, tx bun.Tx) error {
		record, err := findSnapshotTx(ctx, tx, key)
		if err != nil {
			return err
		}
		created := false
		if record == nil {
			created = true
			record = &snapshotRecord{
				ID:          uuid.NewString(),
				SnapshotKey: key,
				CreatedAt:   now,
			}
		}
		record.Blob = append([]byte(nil), blob...)
		record.UpdatedAt = now

		if created {
			if _, insertErr := tx.NewInsert().Model(record).Exec(ctx); insertErr != nil {
				return insertErr
			}
			return nil
		}
		if _, updateErr := tx.NewUpdate().
			Model(record).
			Where("id = ?", record.ID).
			Exec(ctx); updateErr != nil {
			return updateErr
		}
		return nil
	})
}

func findSnapshotTx(ctx context.Context, tx bun.Tx, key string) (*snapshotRecord, error) {
	record := &snapshotRecord{}
	err := tx.NewSelect().
		Model(record).
		Where("?TableAlias.snapshot_key = ?", key).
		Limit(1).
		Scan(ctx)
	if err != nil {
		if err == sql.ErrNoRows {
			return nil, nil
		}
		return nil, err
	}
	return record, nil
}

func isUniqueViolation(err error) bool {
	message := strings.ToLower(strings.TrimSpace(err.Error()))
	return strings.Contains(message, "unique constraint failed") ||
		strings.Contains(message, "duplicate key value violates unique constraint")
}
