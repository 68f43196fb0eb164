package queue

import (
	"fmt"
	"time"

	"github.com/gofrs/uuid"
)

// PhotoRef points at a captured photo waiting on device storage, with
// the metadata the upload session broker needs later.
type PhotoRef struct {
	ID          string    `json:"id"`
	Filename    string    `json:"filename"`
	LocalPath   string    `json:"localPath"`
	SizeBytes   int64     `json:"sizeBytes"`
	ContentType string    `json:"contentType"`
	CapturedAt  time.Time `json:"capturedAt"`
}

// SyncItem is a queued unit of submission data plus optional photo
// references. Once SyncedAt is set, SyncPending is false and the item is
// never retried.
type SyncItem[T any] struct {
	ID          string     `json:"id"`
	Data        T          `json:"data"`
	CreatedAt   time.Time  `json:"createdAt"`
	SyncedAt    *time.Time `json:"syncedAt,omitempty"`
	SyncPending bool       `json:"syncPending"`
	RetryCount  int        `json:"retryCount"`
	Photos      []PhotoRef `json:"photos,omitempty"`
}

// ItemSyncResult is the per-item outcome of one sync pass.
type ItemSyncResult struct {
	ItemID string
	Synced bool
	Err    error
}

// Item ids only need to be unique within one queue, but a random suffix
// keeps two enqueues within the same millisecond apart.
func newItemID(now time.Time) string {
	suffix, err := uuid.NewV4()
	if err != nil {
		// Entropy exhaustion is the only failure mode; the timestamp
		// alone still identifies the item in practice.
		return fmt.Sprintf("%d-0", now.UnixMilli())
	}
	return fmt.Sprintf("%d-%s", now.UnixMilli(), suffix.String()[:8])
}
