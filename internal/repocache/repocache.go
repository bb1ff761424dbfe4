// Package repocache keeps per-repository sync bookkeeping in the repo_cache
// table and implements the pull cooldown.
package repocache

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
	"gorm.io/gorm/logger"

	"github.com/dshills/repodex/internal/logging"
	"github.com/dshills/repodex/internal/models"
	"github.com/dshills/repodex/internal/vcs"
)

// DefaultCooldown is the minimum time between two pull attempts of a repository.
const DefaultCooldown = 30 * time.Minute

// ShouldAttemptPull reports whether a repository whose last attempt was at
// last may be pulled at now. A nil last attempt always qualifies. Success and
// failure are treated alike.
func ShouldAttemptPull(last *time.Time, now time.Time, cooldown time.Duration) bool {
	if last == nil {
		return true
	}
	return now.Sub(*last) >= cooldown
}

// Options configures a Cache.
type Options struct {
	Cooldown time.Duration // default DefaultCooldown
	Logger   *slog.Logger
	Now      func() time.Time // default time.Now
}

// Cache reads and writes repo_cache rows.
type Cache struct {
	db       *gorm.DB
	cooldown time.Duration
	now      func() time.Time
	logger   *slog.Logger
}

// New layers a Cache over an open SQLite handle, normally storage.DB().
// The repo_cache table must already exist.
func New(sqlDB *sql.DB, opts Options) (*Cache, error) {
	db, err := gorm.Open(sqlite.New(sqlite.Config{Conn: sqlDB}), &gorm.Config{
		Logger: logger.Default.LogMode(logger.Silent),
	})
	if err != nil {
		return nil, fmt.Errorf("repocache: open gorm: %w", err)
	}
	if opts.Cooldown <= 0 {
		opts.Cooldown = DefaultCooldown
	}
	if opts.Now == nil {
		opts.Now = time.Now
	}
	return &Cache{
		db:       db,
		cooldown: opts.Cooldown,
		now:      opts.Now,
		logger:   logging.OrDiscard(opts.Logger),
	}, nil
}

// Cooldown returns the configured cooldown.
func (c *Cache) Cooldown() time.Duration {
	return c.cooldown
}

// ShouldAttemptPull applies the cache's cooldown at the current time.
func (c *Cache) ShouldAttemptPull(last *time.Time) bool {
	return ShouldAttemptPull(last, c.now(), c.cooldown)
}

// Get returns the row for path. A missing row is (nil, nil).
func (c *Cache) Get(ctx context.Context, path string) (*models.CachedRepo, error) {
	var row models.CachedRepo
	err := c.db.WithContext(ctx).Where("path = ?", path).First(&row).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("repocache: get %s: %w", path, err)
	}
	return &row, nil
}

// Eligible reports whether repo's cooldown has elapsed. On a store failure
// it logs and returns false together with the error.
func (c *Cache) Eligible(ctx context.Context, path string) (bool, error) {
	row, err := c.Get(ctx, path)
	if err != nil {
		c.logger.Error("repocache: read failed", "path", path, "error", err)
		return false, err
	}
	if row == nil {
		return true, nil
	}
	return c.ShouldAttemptPull(row.LastPullAttempt), nil
}

// RecordAttempt books a pull attempt before the pull runs, creating the row
// on first sight and refreshing name and URL.
func (c *Cache) RecordAttempt(ctx context.Context, repo vcs.Repository) error {
	now := c.now().UTC()
	row := models.CachedRepo{
		Path:            repo.Path,
		RepoName:        repo.Name,
		RepoURL:         repo.RemoteURL,
		LastPullAttempt: &now,
	}
	err := c.db.WithContext(ctx).Clauses(clause.OnConflict{
		Columns:   []clause.Column{{Name: "path"}},
		DoUpdates: clause.AssignmentColumns([]string{"repo_name", "repo_url", "last_pull_attempt"}),
	}).Create(&row).Error
	if err != nil {
		return fmt.Errorf("repocache: record attempt %s: %w", repo.Path, err)
	}
	return nil
}

// RecordSuccess stamps a confirmed successful pull. The row must exist.
func (c *Cache) RecordSuccess(ctx context.Context, path string) error {
	now := c.now().UTC()
	res := c.db.WithContext(ctx).Model(&models.CachedRepo{}).
		Where("path = ?", path).
		Update("last_successful_pull", now)
	if res.Error != nil {
		return fmt.Errorf("repocache: record success %s: %w", path, res.Error)
	}
	if res.RowsAffected == 0 {
		return fmt.Errorf("repocache: record success %s: no attempt recorded", path)
	}
	return nil
}

// List returns every row ordered by path. Store failures are logged and
// yield an empty list with the error.
func (c *Cache) List(ctx context.Context) ([]models.CachedRepo, error) {
	var rows []models.CachedRepo
	if err := c.db.WithContext(ctx).Order("path").Find(&rows).Error; err != nil {
		c.logger.Error("repocache: list failed", "error", err)
		return []models.CachedRepo{}, fmt.Errorf("repocache: list: %w", err)
	}
	return rows, nil
}

// Clear deletes every row and returns how many were removed.
func (c *Cache) Clear(ctx context.Context) (int64, error) {
	res := c.db.WithContext(ctx).Where("1 = 1").Delete(&models.CachedRepo{})
	if res.Error != nil {
		return 0, fmt.Errorf("repocache: clear: %w", res.Error)
	}
	return res.RowsAffected, nil
}
