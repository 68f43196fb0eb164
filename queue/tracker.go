package queue

import (
	"time"

	"github.com/bitrise-io/go-utils/v2/analytics"
	"github.com/bitrise-io/go-utils/v2/env"
	"github.com/bitrise-io/go-utils/v2/log"
)

type passTracker struct {
	tracker analytics.Tracker
	logger  log.Logger
}

// Telemetry is opt-in: field devices are often metered, so nothing is
// sent unless FIELDSYNC_TELEMETRY is switched on.
func newPassTracker(queueKey string, envRepo env.Repository, logger log.Logger) passTracker {
	if envRepo.Get("FIELDSYNC_TELEMETRY") != "on" {
		return passTracker{tracker: noopTracker{}, logger: logger}
	}
	p := analytics.Properties{
		"queue_key":    queueKey,
		"device_id":    envRepo.Get("FIELDSYNC_DEVICE_ID"),
		"app_version":  envRepo.Get("FIELDSYNC_APP_VERSION"),
		"device_model": envRepo.Get("FIELDSYNC_DEVICE_MODEL"),
	}
	return passTracker{
		tracker: analytics.NewDefaultTracker(logger, p),
		logger:  logger,
	}
}

type noopTracker struct{}

func (noopTracker) Enqueue(string, ...analytics.Properties) {}
func (noopTracker) Wait()                                   {}

func (t *passTracker) logPassCompleted(duration time.Duration, attempted, synced, pendingLeft int) {
	properties := analytics.Properties{
		"pass_duration_s":     duration.Truncate(time.Second).Seconds(),
		"items_attempted":     attempted,
		"items_synced":        synced,
		"items_failed":        attempted - synced,
		"items_still_pending": pendingLeft,
	}
	t.tracker.Enqueue("sync_pass_completed", properties)
}

func (t *passTracker) logItemExhausted(retryCount int) {
	properties := analytics.Properties{
		"retry_count": retryCount,
	}
	t.tracker.Enqueue("sync_item_exhausted", properties)
}

func (t *passTracker) wait() {
	t.tracker.Wait()
}
