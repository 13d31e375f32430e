// Package jobs contains the scheduled maintenance jobs: recommended-post
// cleanup and topic insight pre-warming.
package jobs

import (
	"context"
	"fmt"
	"log/slog"
	"time"
)

const (
	// CleanupInterval is how often the cleanup job runs.
	CleanupInterval = 24 * time.Hour

	retention      = 90 * 24 * time.Hour
	cleanupBudget = 400 // Posts deleted per run
)

// CleanupStore deletes recommended posts.
type CleanupStore interface {
	DeleteRecommendedPostsBefore(ctx context.Context, cutoff time.Time, limit int) (int, error)
	DeleteUsedExpiredRecommendedPosts(ctx context.Context, now time.Time, limit int) (int, error)
}

// Cleanup prunes old recommended posts.
type Cleanup struct {
	store  CleanupStore
	logger *slog.Logger
	now    func() time.Time
}

// NewCleanup creates a new cleanup job.
func NewCleanup(store CleanupStore, logger *slog.Logger) *Cleanup {
	return &Cleanup{
		store:  store,
		logger: logger,
		now:    time.Now,
	}
}

// Run deletes up to 400 posts created more than 90 days ago, then spends the
// remaining budget on posts that are used and expired. It returns the number
// of posts deleted.
func (c *Cleanup) Run(ctx context.Context) (int, error) {
	now := c.now()
	cutoff := now.Add(-retention)
	c.logger.Info("Starting recommended post cleanup", "cutoff", cutoff.Format(time.RFC3339))

	old, err := c.store.DeleteRecommendedPostsBefore(ctx, cutoff, cleanupBudget)
	if err != nil {
		return 0, fmt.Errorf("delete old posts: %w", err)
	}

	var used int
	if remaining := cleanupBudget - old; remaining > 0 {
		used, err = c.store.DeleteUsedExpiredRecommendedPosts(ctx, now, remaining)
		if err != nil {
			return old, fmt.Errorf("delete used posts: %w", err)
		}
	}

	c.logger.Info("Recommended post cleanup completed",
		"deleted_old", old,
		"deleted_used", used,
		"deleted", old+used)
	return old + used, nil
}
