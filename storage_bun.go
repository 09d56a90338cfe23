package authkit

import (
	"context"
	"database/sql"
	"errors"
	"time"

	goerrors "github.com/goliatone/go-errors"
	"github.com/uptrace/bun"
	"github.com/uptrace/bun/dialect/sqlitedialect"
	"github.com/uptrace/bun/driver/sqliteshim"
)

type stateRow struct {
	bun.BaseModel `bun:"table:authkit_state,alias:aks"`

	Key       string    `bun:"key,pk"`
	Value     string    `bun:"value,notnull"`
	UpdatedAt time.Time `bun:"updated_at,notnull"`
}

// BunStorage is a sqlite-backed Storage for desktop and CLI consumers that
// want session state to survive beyond a flat file. All rows live in a
// single key/value table.
type BunStorage struct {
	db  *bun.DB
	now func() time.Time
}

// OpenBunDatabase opens (or creates) a sqlite database suitable for
// BunStorage. Use ":memory:" for throwaway state.
func OpenBunDatabase(dsn string) (*bun.DB, error) {
	sqldb, err := sql.Open(sqliteshim.ShimName, dsn)
	if err != nil {
		return nil, goerrors.Wrap(err, goerrors.CategoryInternal, "failed to open state database")
	}
	return bun.NewDB(sqldb, sqlitedialect.New()), nil
}

func NewBunStorage(ctx context.Context, db *bun.DB) (*BunStorage, error) {
	if _, err := db.NewCreateTable().
		Model((*stateRow)(nil)).
		IfNotExists().
		Exec(ctx); err != nil {
		return nil, goerrors.Wrap(err, goerrors.CategoryInternal, "failed to create state table")
	}

	return &BunStorage{db: db, now: time.Now}, nil
}

func (s *BunStorage) Get(key string) (string, bool, error) {
	row := &stateRow{}
	err := s.db.NewSelect().
		Model(row).
		Where("key = ?", key).
		Scan(context.Background())
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return "", false, nil
		}
		return "", false, goerrors.Wrap(err, goerrors.CategoryInternal, "failed to read state row")
	}
	return row.Value, true, nil
}

func (s *BunStorage) Set(key, value string) error {
	row := &stateRow{Key: key, Value: value, UpdatedAt: s.now()}
	_, err := s.db.NewInsert().
		Model(row).
		On("CONFLICT (key) DO UPDATE").
		Set("value = EXCLUDED.value").
		Set("updated_at = EXCLUDED.updated_at").
		Exec(context.Background())
	if err != nil {
		return goerrors.Wrap(err, goerrors.CategoryInternal, "failed to write state row")
	}
	return nil
}

func (s *BunStorage) Delete(key string) error {
	_, err := s.db.NewDelete().
		Model((*stateRow)(nil)).
		Where("key = ?", key).
		Exec(context.Background())
	if err != nil {
		return goerrors.Wrap(err, goerrors.CategoryInternal, "failed to delete state row")
	}
	return nil
}
