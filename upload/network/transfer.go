package network

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"

	"github.com/bitrise-io/go-utils/v2/log"
)

// ErrSessionExpired means the session's credential passed its expiry
// before the transfer could start.
var ErrSessionExpired = errors.New("upload session expired before transfer")

// Transferrer performs the raw byte transfer of one photo to the
// target named by its upload session.
type Transferrer interface {
	Transfer(ctx context.Context, session UploadSession, body io.ReadSeeker, size int64, contentType string) error
}

// DefaultTransferrer PUTs the bytes straight to the session's presigned
// URL, block-blob style. The client carries no timeout and performs no
// retries of its own: transient failures surface to the caller, and the
// queue's outer retry owns recovery.
type DefaultTransferrer struct {
	httpClient *http.Client
	logger     log.Logger
}

// NewDefaultTransferrer ...
func NewDefaultTransferrer(logger log.Logger) DefaultTransferrer {
	return DefaultTransferrer{
		httpClient: &http.Client{},
		logger:     logger,
	}
}

// Transfer ...
func (t DefaultTransferrer) Transfer(ctx context.Context, session UploadSession, body io.ReadSeeker, size int64, contentType string) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodPut, session.UploadURL, body)
	if err != nil {
		return fmt.Errorf("create request: %w", err)
	}
	req.Header.Set("x-ms-blob-type", "BlockBlob")
	req.Header.Set("Content-Type", contentType)
	req.ContentLength = size

	resp, err := t.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("do request: %w", err)
	}
	defer func(body io.ReadCloser) {
		if err := body.Close(); err != nil {
			t.logger.Printf(err.Error())
		}
	}(resp.Body)

	// The blob store answers Created on a committed write; anything else
	// means the bytes are not durably stored.
	if resp.StatusCode != http.StatusCreated {
		return unwrapError(resp)
	}
	return nil
}
