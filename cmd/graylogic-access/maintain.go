package main

import (
	"context"
	"time"

	"github.com/nerrad567/gray-logic-access/internal/access"
	"github.com/nerrad567/gray-logic-access/internal/accesslog"
)

// Maintenance intervals.
const (
	gaugeInterval = 30 * time.Second
	pruneInterval = time.Hour
)

// gaugeSetter receives store counts. *metrics.Prom implements it.
type gaugeSetter interface {
	SetStoreCounts(total, active, withCode, withTag, schedules int)
}

// maintain refreshes store gauges and prunes the access log until ctx ends.
// A zero retention keeps every entry.
func maintain(ctx context.Context, store *access.Store, repo accesslog.Repository, retention time.Duration, gauges gaugeSetter, log access.Logger) {
	refreshGauges(store, gauges)
	prune(ctx, repo, retention, time.Now(), log)

	gaugeTicker := time.NewTicker(gaugeInterval)
	defer gaugeTicker.Stop()
	pruneTicker := time.NewTicker(pruneInterval)
	defer pruneTicker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-gaugeTicker.C:
			refreshGauges(store, gauges)
		case now := <-pruneTicker.C:
			prune(ctx, repo, retention, now, log)
		}
	}
}

func refreshGauges(store *access.Store, gauges gaugeSetter) {
	s := store.Stats()
	gauges.SetStoreCounts(s.TotalUsers, s.ActiveUsers, s.UsersWithCodes, s.UsersWithTags, s.Schedules)
}

// prune deletes access log entries older than retention.
func prune(ctx context.Context, repo accesslog.Repository, retention time.Duration, now time.Time, log access.Logger) {
	if repo == nil || retention <= 0 {
		return
	}
	removed, err := repo.Prune(ctx, now.Add(-retention))
	if err != nil {
		if ctx.Err() == nil {
			log.Warn("pruning access log failed", "error", err)
		}
		return
	}
	if removed > 0 {
		log.Info("access log pruned", "removed", removed, "retention_days", int(retention/(24*time.Hour)))
	}
}
