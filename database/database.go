package database

import (
	"context"
	"fmt"
	"time"

	"gorm.io/gorm"

	"stocks-simulator/models"
)

// Migrate creates or updates the ledger and price tables.
func Migrate(db *gorm.DB) error {
	if err := db.AutoMigrate(
		&models.Account{},
		&models.Transaction{},
		&models.StockPrice{},
	); err != nil {
		return fmt.Errorf("migrate: %w", err)
	}
	return nil
}

// Store is the ledger: accounts, the append-only transaction log, and the
// holdings derived from it. It is safe for concurrent use; every call checks
// its own connection out of the pool.
type Store struct {
	db               *gorm.DB
	lockTimeout      time.Duration
	operationTimeout time.Duration
	now              func() time.Time
}

type Option func(*Store)

// WithLockTimeout bounds how long a buy or sell waits for the account row
// lock before failing with ErrConcurrencyConflict.
func WithLockTimeout(d time.Duration) Option {
	return func(s *Store) { s.lockTimeout = d }
}

// WithOperationTimeout bounds the total duration of a single store call.
func WithOperationTimeout(d time.Duration) Option {
	return func(s *Store) { s.operationTimeout = d }
}

func withClock(now func() time.Time) Option {
	return func(s *Store) { s.now = now }
}

func NewStore(db *gorm.DB, opts ...Option) *Store {
	s := &Store{
		db:               db,
		lockTimeout:      5 * time.Second,
		operationTimeout: 10 * time.Second,
		now:              time.Now,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

func (s *Store) withTimeout(ctx context.Context) (context.Context, context.CancelFunc) {
	if s.operationTimeout <= 0 {
		return context.WithCancel(ctx)
	}
	return context.WithTimeout(ctx, s.operationTimeout)
}

// atomically runs fn in one database transaction. Any error rolls the whole
// unit back.
func (s *Store) atomically(ctx context.Context, fn func(tx *gorm.DB) error) error {
	ctx, cancel := s.withTimeout(ctx)
	defer cancel()

	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if tx.Dialector.Name() == "postgres" && s.lockTimeout > 0 {
			// SET LOCAL does not accept bind parameters.
			stmt := fmt.Sprintf("SET LOCAL lock_timeout = '%dms'", s.lockTimeout.Milliseconds())
			if err := tx.Exec(stmt).Error; err != nil {
				return err
			}
		}
		return fn(tx)
	})
	return classify(err)
}
