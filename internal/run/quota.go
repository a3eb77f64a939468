package run

import (
	"context"
	"time"

	"github.com/kandev/sandboxctl/internal/store"
)

// QuotaChecker enforces the per-user daily run cap.
type QuotaChecker struct {
	store       store.Store
	maxPerDay   int
	now         func() time.Time
	startOfUTCDay func(time.Time) time.Time
}

// NewQuotaChecker builds a QuotaChecker against maxPerDay (the per-user,
// MAX_RUNS_PER_DAY, default 500).
func NewQuotaChecker(s store.Store, maxPerDay int) *QuotaChecker {
	return &QuotaChecker{
		store:     s,
		maxPerDay: maxPerDay,
		now:       time.Now,
		startOfUTCDay: func(t time.Time) time.Time {
			u := t.UTC()
			return time.Date(u.Year(), u.Month(), u.Day(), 0, 0, 0, 0, time.UTC)
		},
	}
}

// Check reports whether userID may start another run: count(runs where
// user_id=? AND started_at >= start_of_utc_day) < maxPerDay.
func (q *QuotaChecker) Check(ctx context.Context, userID string) (bool, error) {
	since := q.startOfUTCDay(q.now())
	count, err := q.store.CountRunsSince(ctx, userID, since)
	if err != nil {
		return false, err
	}
	return count < q.maxPerDay, nil
}
