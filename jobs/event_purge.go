package jobs

import (
	"context"
	"fmt"
	"time"

	"storefront-service/repository"
)

// EventPurgeJob deletes idempotency records older than the retention window.
// Gateway redeliveries stop long before that.
type EventPurgeJob struct {
	store     repository.Store
	retention time.Duration
	now       func() time.Time
}

func NewEventPurgeJob(store repository.Store, retention time.Duration) *EventPurgeJob {
	return &EventPurgeJob{store: store, retention: retention, now: time.Now}
}

func (j *EventPurgeJob) Name() string { return "processed_event_purge" }

func (j *EventPurgeJob) Run(ctx context.Context) (int, error) {
	cutoff := j.now().UTC().Add(-j.retention)
	n, err := j.store.Events().PurgeBefore(ctx, cutoff)
	if err != nil {
		return 0, fmt.Errorf("purge events before %s: %w", cutoff.Format(time.RFC3339), err)
	}
	return int(n), nil
}
