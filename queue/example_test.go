package queue_test

import (
	"context"
	"fmt"

	"github.com/bitrise-io/go-utils/v2/env"
	"github.com/bitrise-io/go-utils/v2/log"
	"github.com/bitrise-io/go-utils/v2/pathutil"
	"github.com/fieldsync/go-fieldsync/kv"
	"github.com/fieldsync/go-fieldsync/queue"
	"github.com/fieldsync/go-fieldsync/reachability"
	"github.com/fieldsync/go-fieldsync/upload"
)

type inspectionReport struct {
	SiteID string `json:"siteId"`
	Notes  string `json:"notes"`
}

// ExampleNewQueue wires the full pipeline: a durable queue whose sync
// function submits the item's photos through the uploader, driven by a
// scheduler that reacts to timer ticks and connectivity changes.
func ExampleNewQueue() {
	logger := log.NewLogger()
	envRepo := env.NewRepository()

	store, err := kv.NewFileStore("/var/lib/fieldsync")
	if err != nil {
		panic(err)
	}

	monitor := reachability.NewHTTPMonitor(reachability.HTTPMonitorConfig{
		ProbeURL: "https://api.fieldsync.example.com/health",
	}, logger)
	monitor.Start()
	defer monitor.Stop()

	uploader := upload.NewUploader(envRepo, logger, pathutil.NewPathModifier(), nil, nil)

	q, err := queue.NewQueue(queue.Config[inspectionReport]{
		Key: "inspection-reports",
		SyncFunc: func(ctx context.Context, item queue.SyncItem[inspectionReport]) error {
			photos := make([]upload.Photo, len(item.Photos))
			for i, ref := range item.Photos {
				photos[i] = upload.Photo{
					ID:          ref.ID,
					Filename:    ref.Filename,
					LocalPath:   ref.LocalPath,
					SizeBytes:   ref.SizeBytes,
					ContentType: ref.ContentType,
					CapturedAt:  ref.CapturedAt,
				}
			}
			result, err := uploader.UploadPhotos(ctx, upload.UploadPhotosInput{
				SubmissionID: item.ID,
				Photos:       photos,
			})
			if err != nil {
				return err
			}
			if len(photos) > 0 && result.UploadedPhotos == 0 {
				return fmt.Errorf("no photo of item %s uploaded", item.ID)
			}
			return nil
		},
	}, store, monitor, envRepo, logger)
	if err != nil {
		panic(err)
	}

	scheduler := queue.NewScheduler(q, monitor, queue.SchedulerConfig{}, logger)
	scheduler.Start(context.Background())
	defer scheduler.Stop()

	photos, err := uploader.CollectPhotos([]string{"/sdcard/DCIM/fieldsync/**/*.jpg"})
	if err != nil {
		panic(err)
	}
	refs := make([]queue.PhotoRef, len(photos))
	for i, photo := range photos {
		refs[i] = queue.PhotoRef{
			ID:          photo.ID,
			Filename:    photo.Filename,
			LocalPath:   photo.LocalPath,
			SizeBytes:   photo.SizeBytes,
			ContentType: photo.ContentType,
			CapturedAt:  photo.CapturedAt,
		}
	}

	id := q.Enqueue(inspectionReport{SiteID: "site-42", Notes: "fence damaged"}, refs)
	logger.Infof("Enqueued submission %s, %d pending", id, q.PendingCount())
}
