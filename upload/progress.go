package upload

import "sync"

// PhotoStatus ...
type PhotoStatus string

// Photo upload states. Completed and Failed are terminal: no update
// moves an entry out of them.
const (
	StatusPending   PhotoStatus = "pending"
	StatusUploading PhotoStatus = "uploading"
	StatusCompleted PhotoStatus = "completed"
	StatusFailed    PhotoStatus = "failed"
)

// Fixed progress checkpoints of one photo's journey through the
// pipeline.
const (
	progressMetadataPrepared = 10
	progressSessionObtained  = 30
	progressBytesRead        = 50
	progressTransferred      = 80
	progressConfirmed        = 100
)

// PhotoProgress is the externally visible state of one photo in a
// batch.
type PhotoProgress struct {
	PhotoID  string      `json:"photoId"`
	Filename string      `json:"filename"`
	Status   PhotoStatus `json:"status"`
	Progress int         `json:"progress"`
	Error    string      `json:"error,omitempty"`
}

// ProgressObserver receives the full snapshot after every update.
type ProgressObserver func(snapshot []PhotoProgress)

// progressBoard tracks per-photo progress for one in-flight batch and
// fans snapshots out to observers. Entries are keyed by the photo's
// local id; the visible PhotoID is swapped for the server-issued one as
// soon as a session is obtained.
type progressBoard struct {
	// emitMu serializes whole updates so observers receive snapshots in
	// apply order; mu guards only the entries, so an observer may call
	// snapshot from inside its callback.
	emitMu    sync.Mutex
	mu        sync.Mutex
	keys      map[string]int
	entries   []PhotoProgress
	observers []ProgressObserver
}

func newProgressBoard(photos []Photo, observers []ProgressObserver) *progressBoard {
	board := &progressBoard{
		keys:      make(map[string]int, len(photos)),
		entries:   make([]PhotoProgress, len(photos)),
		observers: observers,
	}
	for i, photo := range photos {
		board.keys[photo.ID] = i
		board.entries[i] = PhotoProgress{
			PhotoID:  photo.ID,
			Filename: photo.Filename,
			Status:   StatusPending,
		}
	}
	return board
}

// advance moves a non-terminal entry to the given checkpoint.
func (b *progressBoard) advance(key string, progress int) {
	b.update(key, func(entry *PhotoProgress) {
		entry.Progress = progress
	})
}

// sessionObtained records the server-issued photo id and moves the
// entry into Uploading.
func (b *progressBoard) sessionObtained(key, serverPhotoID string) {
	b.update(key, func(entry *PhotoProgress) {
		if serverPhotoID != "" {
			entry.PhotoID = serverPhotoID
		}
		entry.Status = StatusUploading
		entry.Progress = progressSessionObtained
	})
}

// resolve moves an entry to its terminal state.
func (b *progressBoard) resolve(key string, success bool, errMessage string) {
	b.update(key, func(entry *PhotoProgress) {
		entry.Progress = progressConfirmed
		if success {
			entry.Status = StatusCompleted
		} else {
			entry.Status = StatusFailed
			entry.Error = errMessage
		}
	})
}

func (b *progressBoard) update(key string, apply func(*PhotoProgress)) {
	b.emitMu.Lock()
	defer b.emitMu.Unlock()

	b.mu.Lock()
	index, ok := b.keys[key]
	if !ok {
		b.mu.Unlock()
		return
	}
	entry := b.entries[index]
	if entry.Status == StatusCompleted || entry.Status == StatusFailed {
		b.mu.Unlock()
		return
	}
	apply(&entry)
	b.entries[index] = entry
	snapshot := b.snapshotLocked()
	b.mu.Unlock()

	for _, observer := range b.observers {
		observer(snapshot)
	}
}

func (b *progressBoard) snapshot() []PhotoProgress {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.snapshotLocked()
}

func (b *progressBoard) snapshotLocked() []PhotoProgress {
	snapshot := make([]PhotoProgress, len(b.entries))
	copy(snapshot, b.entries)
	return snapshot
}
