package upload

import (
	"time"

	"github.com/bitrise-io/go-utils/v2/analytics"
	"github.com/bitrise-io/go-utils/v2/env"
	"github.com/bitrise-io/go-utils/v2/log"
)

type batchTracker struct {
	tracker analytics.Tracker
	logger  log.Logger
}

// Telemetry is opt-in, mirroring the queue's tracker: metered field
// connections shouldn't pay for analytics by default.
func newBatchTracker(envRepo env.Repository, logger log.Logger) batchTracker {
	if envRepo.Get("FIELDSYNC_TELEMETRY") != "on" {
		return batchTracker{tracker: noopTracker{}, logger: logger}
	}
	p := analytics.Properties{
		"device_id":    envRepo.Get("FIELDSYNC_DEVICE_ID"),
		"app_version":  envRepo.Get("FIELDSYNC_APP_VERSION"),
		"device_model": envRepo.Get("FIELDSYNC_DEVICE_MODEL"),
	}
	return batchTracker{
		tracker: analytics.NewDefaultTracker(logger, p),
		logger:  logger,
	}
}

func (t *batchTracker) logBatchCompleted(duration time.Duration, total, uploaded int, totalBytes int64) {
	properties := analytics.Properties{
		"batch_duration_s": duration.Truncate(time.Second).Seconds(),
		"photo_count":      total,
		"uploaded_count":   uploaded,
		"failed_count":     total - uploaded,
		"total_bytes":      totalBytes,
	}
	t.tracker.Enqueue("upload_batch_completed", properties)
}

func (t *batchTracker) wait() {
	t.tracker.Wait()
}

type noopTracker struct{}

func (noopTracker) Enqueue(string, ...analytics.Properties) {}
func (noopTracker) Wait()                                   {}
