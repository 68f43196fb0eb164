// Package upload moves photo attachments to the blob store through
// broker-issued upload sessions and reports every outcome back to the
// control plane.
package upload

import (
	"bytes"
	"context"
	"fmt"
	"os"
	"strings"
	"sync"
	"time"

	"github.com/bitrise-io/go-steputils/v2/stepconf"
	"github.com/bitrise-io/go-utils/v2/env"
	"github.com/bitrise-io/go-utils/v2/log"
	"github.com/bitrise-io/go-utils/v2/pathutil"
	"github.com/bitrise-io/go-utils/v2/retryhttp"
	"github.com/docker/go-units"
	"github.com/fieldsync/go-fieldsync/upload/network"
)

// SessionBroker is the control-plane surface the orchestrator needs.
type SessionBroker interface {
	RequestUploadSession(request network.UploadSessionRequest) (network.UploadSession, error)
	RequestBulkUploadSessions(requests []network.UploadSessionRequest) ([]network.UploadSession, error)
	ConfirmUpload(request network.ConfirmRequest) error
}

// UploadPhotosInput ...
type UploadPhotosInput struct {
	SubmissionID string
	Photos       []Photo
	Location     *network.Location
}

// UploadResult is the aggregate outcome of one batch. Success is true
// iff at least one photo uploaded: partial success still counts, and
// the submission flow decides what an empty batch means for the parent
// item.
type UploadResult struct {
	Success        bool
	UploadedPhotos int
	TotalPhotos    int
	Errors         []string
	Details        []PhotoProgress
}

type apiConfig struct {
	APIBaseURL  string          `env:"FIELDSYNC_API_URL,required"`
	AccessToken stepconf.Secret `env:"FIELDSYNC_ACCESS_TOKEN,required"`
}

// Uploader ...
type Uploader struct {
	envRepo       env.Repository
	logger        log.Logger
	pathModifier  pathutil.PathModifier
	broker        SessionBroker
	transferrer   network.Transferrer
	s3Mu          sync.Mutex
	s3Transferrer network.Transferrer
	observers     []ProgressObserver
}

// NewUploader creates an upload orchestrator. `broker` and
// `transferrer` can be nil unless you want to provide custom
// implementations; the defaults are built from FIELDSYNC_API_URL and
// FIELDSYNC_ACCESS_TOKEN.
func NewUploader(
	envRepo env.Repository,
	logger log.Logger,
	pathModifier pathutil.PathModifier,
	broker SessionBroker,
	transferrer network.Transferrer,
) *Uploader {
	var transferrerImpl network.Transferrer = transferrer
	if transferrer == nil {
		transferrerImpl = network.NewDefaultTransferrer(logger)
	}
	return &Uploader{
		envRepo:      envRepo,
		logger:       logger,
		pathModifier: pathModifier,
		broker:       broker,
		transferrer:  transferrerImpl,
	}
}

// AddProgressObserver registers an observer for every subsequent batch.
// Multiple observers (UI, logging) can subscribe independently.
func (u *Uploader) AddProgressObserver(observer ProgressObserver) {
	u.observers = append(u.observers, observer)
}

// UploadPhotos uploads a batch: one session request (single or bulk),
// then one concurrent transfer+confirm task per photo, joined before
// the aggregate result is computed. A failing photo never aborts its
// siblings; its error lands in the result instead.
func (u *Uploader) UploadPhotos(ctx context.Context, input UploadPhotosInput) (UploadResult, error) {
	total := len(input.Photos)
	if total == 0 {
		u.logger.Debugf("No photos to upload")
		return UploadResult{Success: true}, nil
	}

	photos := make([]Photo, total)
	copy(photos, input.Photos)
	var totalBytes int64
	for i := range photos {
		if photos[i].ID == "" {
			photos[i].ID = newLocalPhotoID()
		}
		totalBytes += photos[i].SizeBytes
	}

	board := newProgressBoard(photos, u.observers)
	u.logger.Infof("Uploading %d photo(s) (%s) for submission %s",
		total, units.HumanSizeWithPrecision(float64(totalBytes), 3), input.SubmissionID)

	tracker := newBatchTracker(u.envRepo, u.logger)
	defer tracker.wait()
	batchStart := time.Now()

	requests := make([]network.UploadSessionRequest, total)
	for i, photo := range photos {
		requests[i] = network.UploadSessionRequest{
			SubmissionID:  input.SubmissionID,
			Filename:      photo.Filename,
			FileSizeBytes: photo.SizeBytes,
			ContentType:   photo.ContentType,
			CapturedAt:    photo.CapturedAt,
			DeviceModel:   u.envRepo.Get("FIELDSYNC_DEVICE_MODEL"),
			Location:      input.Location,
		}
		board.advance(photo.ID, progressMetadataPrepared)
	}

	broker, err := u.sessionBroker()
	if err != nil {
		return u.failWholeBatch(board, photos, err), err
	}

	sessions, err := requestSessions(broker, requests)
	if err != nil {
		return u.failWholeBatch(board, photos, err), err
	}

	outcomes := make(chan photoOutcome, total)
	for i := range photos {
		go func(photo Photo, session network.UploadSession) {
			outcomes <- u.uploadOne(ctx, broker, board, photo, session)
		}(photos[i], sessions[i])
	}

	uploaded := 0
	var uploadErrors []string
	for i := 0; i < total; i++ {
		outcome := <-outcomes
		if outcome.uploaded {
			uploaded++
		} else {
			uploadErrors = append(uploadErrors, outcome.errMessage)
		}
	}

	duration := time.Since(batchStart)
	tracker.logBatchCompleted(duration, total, uploaded, totalBytes)
	u.logger.Donef("Uploaded %d of %d photo(s) in %s", uploaded, total, duration.Round(time.Millisecond))

	return UploadResult{
		Success:        uploaded > 0,
		UploadedPhotos: uploaded,
		TotalPhotos:    total,
		Errors:         uploadErrors,
		Details:        board.snapshot(),
	}, nil
}

type photoOutcome struct {
	uploaded   bool
	errMessage string
}

// requestSessions picks the single or bulk path based on batch size.
func requestSessions(broker SessionBroker, requests []network.UploadSessionRequest) ([]network.UploadSession, error) {
	if len(requests) == 1 {
		session, err := broker.RequestUploadSession(requests[0])
		if err != nil {
			return nil, fmt.Errorf("request upload session: %w", err)
		}
		return []network.UploadSession{session}, nil
	}
	sessions, err := broker.RequestBulkUploadSessions(requests)
	if err != nil {
		return nil, fmt.Errorf("request bulk upload sessions: %w", err)
	}
	return sessions, nil
}

func (u *Uploader) uploadOne(ctx context.Context, broker SessionBroker, board *progressBoard, photo Photo, session network.UploadSession) (outcome photoOutcome) {
	// A panic in one photo's task must not bring down its siblings.
	defer func() {
		if r := recover(); r != nil {
			message := fmt.Sprintf("%s: upload task panicked: %v", photo.Filename, r)
			board.resolve(photo.ID, false, message)
			outcome = photoOutcome{errMessage: message}
		}
	}()

	fail := func(message string) photoOutcome {
		board.resolve(photo.ID, false, message)
		return photoOutcome{errMessage: fmt.Sprintf("%s: %s", photo.Filename, message)}
	}

	useS3 := session.UploadURL == "" && strings.HasPrefix(session.BlobPath, "s3://")
	if session.UploadURL == "" && !useS3 {
		// Nothing to transfer against; no confirm either, since no
		// transfer was attempted.
		u.logger.Warnf("Session for %s is missing an upload URL", photo.Filename)
		return fail("session is missing an upload URL")
	}

	board.sessionObtained(photo.ID, session.PhotoID)

	if session.Expired(time.Now()) {
		message := network.ErrSessionExpired.Error()
		u.confirm(broker, session.PhotoID, false, message)
		return fail(message)
	}

	data, err := os.ReadFile(photo.LocalPath)
	if err != nil {
		message := fmt.Sprintf("read photo: %s", err)
		u.confirm(broker, session.PhotoID, false, message)
		return fail(message)
	}
	board.advance(photo.ID, progressBytesRead)

	transferrer := u.transferrer
	if useS3 {
		transferrer = u.s3TransferrerFor()
	}

	transferErr := transferrer.Transfer(ctx, session, bytes.NewReader(data), int64(len(data)), photo.ContentType)
	if transferErr == nil {
		board.advance(photo.ID, progressTransferred)
	} else {
		u.logger.Warnf("Transfer of %s failed: %s", photo.Filename, transferErr)
	}

	// Confirm regardless of the transfer outcome: the server's ledger
	// must reflect reality either way.
	confirmErr := u.confirm(broker, session.PhotoID, transferErr == nil, errMessage(transferErr))

	switch {
	case transferErr != nil:
		return fail(fmt.Sprintf("transfer failed: %s", transferErr))
	case confirmErr != nil:
		// The bytes landed, but the server doesn't know. Count the
		// photo as failed so the whole item retries.
		return fail(fmt.Sprintf("confirm failed: %s", confirmErr))
	default:
		board.resolve(photo.ID, true, "")
		return photoOutcome{uploaded: true}
	}
}

func (u *Uploader) confirm(broker SessionBroker, photoID string, successful bool, message string) error {
	err := broker.ConfirmUpload(network.ConfirmRequest{
		PhotoID:          photoID,
		UploadSuccessful: successful,
		ErrorMessage:     message,
		CameraInfo: network.CameraInfo{
			DeviceModel: u.envRepo.Get("FIELDSYNC_DEVICE_MODEL"),
			OSVersion:   u.envRepo.Get("FIELDSYNC_OS_VERSION"),
			AppVersion:  u.envRepo.Get("FIELDSYNC_APP_VERSION"),
		},
	})
	if err != nil {
		u.logger.Warnf("Confirm for photo %s failed: %s", photoID, err)
	}
	return err
}

func (u *Uploader) sessionBroker() (SessionBroker, error) {
	if u.broker != nil {
		return u.broker, nil
	}

	var config apiConfig
	if err := stepconf.NewInputParser(u.envRepo).Parse(&config); err != nil {
		return nil, fmt.Errorf("failed to parse uploader config: %w", err)
	}
	return network.NewSessionClient(
		retryhttp.NewClient(u.logger),
		config.APIBaseURL,
		string(config.AccessToken),
		u.logger,
	), nil
}

// Photos of a batch transfer concurrently, so the lazy build must be
// guarded.
func (u *Uploader) s3TransferrerFor() network.Transferrer {
	u.s3Mu.Lock()
	defer u.s3Mu.Unlock()
	if u.s3Transferrer == nil {
		u.s3Transferrer = network.NewS3Transferrer(network.S3TransferParams{
			Region:          u.envRepo.Get("FIELDSYNC_S3_REGION"),
			AccessKeyID:     u.envRepo.Get("FIELDSYNC_S3_ACCESS_KEY_ID"),
			SecretAccessKey: u.envRepo.Get("FIELDSYNC_S3_SECRET_ACCESS_KEY"),
		}, u.logger)
	}
	return u.s3Transferrer
}

func (u *Uploader) failWholeBatch(board *progressBoard, photos []Photo, err error) UploadResult {
	for _, photo := range photos {
		board.resolve(photo.ID, false, err.Error())
	}
	return UploadResult{
		Success:     false,
		TotalPhotos: len(photos),
		Errors:      []string{err.Error()},
		Details:     board.snapshot(),
	}
}

func errMessage(err error) string {
	if err == nil {
		return ""
	}
	return err.Error()
}
