package audit

import (
	"context"
	"fmt"
	"hash/crc32"
	"os"
	"time"

	"gorm.io/gorm"
)

// Migrate runs AutoMigrate while holding a cross-replica lock, so gateway
// replicas sharing one audit database never race the schema change.
// PostgreSQL serializes on an advisory lock; sqlite and mysql fall back to a
// lock table with stale-holder recovery.
func (s *Store) Migrate(ctx context.Context) error {
	return newMigrationLocker(s.db).withLock(ctx, s.AutoMigrate)
}

type migrationLocker interface {
	withLock(ctx context.Context, fn func() error) error
}

func newMigrationLocker(db *gorm.DB) migrationLocker {
	if db.Dialector.Name() == "postgres" {
		return &advisoryLock{
			db:     db,
			lockID: int64(crc32.ChecksumIEEE([]byte("clawgate-audit-migration"))),
		}
	}
	lock := &tableLock{db: db}
	// The lock table must exist before the first acquisition attempt.
	_ = db.AutoMigrate(&migrationLockRecord{})
	return lock
}

// advisoryLock serializes on pg_advisory_lock; acquisition blocks until the
// holder releases.
type advisoryLock struct {
	db     *gorm.DB
	lockID int64
}

func (l *advisoryLock) withLock(ctx context.Context, fn func() error) error {
	if err := l.db.WithContext(ctx).Exec("SELECT pg_advisory_lock(?)", l.lockID).Error; err != nil {
		return fmt.Errorf("acquire migration advisory lock: %w", err)
	}
	defer func() {
		_ = l.db.Exec("SELECT pg_advisory_unlock(?)", l.lockID).Error
	}()
	return fn()
}

// migrationLockRecord is the single-row lock for dialects without advisory
// locks.
type migrationLockRecord struct {
	ID       string    `gorm:"primaryKey;column:id"`
	LockedAt time.Time `gorm:"column:locked_at"`
	LockedBy string    `gorm:"column:locked_by"`
}

func (migrationLockRecord) TableName() string { return "audit_migration_lock" }

// tableLock takes the lock by inserting the single row; insert conflicts
// mean another replica holds it. Rows older than staleLockAge are treated
// as crashed holders and cleared.
type tableLock struct {
	db *gorm.DB
}

func (l *tableLock) withLock(ctx context.Context, fn func() error) error {
	hostname, _ := os.Hostname()
	if hostname == "" {
		hostname = "unknown"
	}

	row := migrationLockRecord{
		ID:       "migration",
		LockedBy: hostname,
	}

	const maxRetries = 30
	const retryInterval = 1 * time.Second
	const staleLockAge = 5 * time.Minute

	acquired := false
	for i := 0; i < maxRetries; i++ {
		l.db.WithContext(ctx).
			Where("id = ? AND locked_at < ?", "migration", time.Now().Add(-staleLockAge)).
			Delete(&migrationLockRecord{})

		row.LockedAt = time.Now()
		result := l.db.WithContext(ctx).Create(&row)
		if result.Error == nil {
			acquired = true
			break
		}

		if i == maxRetries-1 {
			return fmt.Errorf("acquire migration lock after %d retries: %w", maxRetries, result.Error)
		}
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(retryInterval):
		}
	}
	if !acquired {
		return fmt.Errorf("acquire migration lock")
	}

	defer func() {
		l.db.Where("id = ?", "migration").Delete(&migrationLockRecord{})
	}()
	return fn()
}
