// Package network talks to the control plane and the blob store: it
// requests upload sessions, moves photo bytes to the issued target, and
// reports the outcome back.
package network

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/bitrise-io/go-utils/v2/log"
	"github.com/hashicorp/go-retryablehttp"
)

// ErrMalformedBulkResponse means the bulk session response matched
// neither the current nor the legacy shape.
var ErrMalformedBulkResponse = errors.New("bulk upload response has no recognizable session list")

// ErrSessionCountMismatch means the control plane issued a different
// number of sessions than photos requested. The whole batch is rejected
// rather than guessing an assignment.
var ErrSessionCountMismatch = errors.New("issued session count does not match requested photo count")

// Location is the capture location attached to a session request.
type Location struct {
	Latitude  float64 `json:"latitude"`
	Longitude float64 `json:"longitude"`
	Accuracy  float64 `json:"accuracy"`
}

// UploadSessionRequest is the per-photo metadata the broker needs to
// issue a write credential.
type UploadSessionRequest struct {
	SubmissionID  string    `json:"submission_id"`
	Filename      string    `json:"filename"`
	FileSizeBytes int64     `json:"file_size_bytes"`
	ContentType   string    `json:"content_type"`
	CapturedAt    time.Time `json:"captured_at"`
	DeviceModel   string    `json:"device_model,omitempty"`
	Location      *Location `json:"location,omitempty"`
}

// UploadSession is a short-lived, single-use write credential for one
// photo.
type UploadSession struct {
	PhotoID   string    `json:"photo_id"`
	Filename  string    `json:"filename"`
	UploadURL string    `json:"upload_url"`
	BlobPath  string    `json:"blob_path,omitempty"`
	ExpiresAt time.Time `json:"expires_at"`
}

// Expired reports whether the session's credential has passed its
// expiry. An expired credential is never PUT against; the caller fails
// the photo and lets the next queue pass obtain a fresh session.
func (s UploadSession) Expired(now time.Time) bool {
	return !s.ExpiresAt.IsZero() && now.After(s.ExpiresAt)
}

// CameraInfo is the device context sent with every confirmation.
type CameraInfo struct {
	DeviceModel string `json:"device_model,omitempty"`
	OSVersion   string `json:"os_version,omitempty"`
	AppVersion  string `json:"app_version,omitempty"`
}

// ConfirmRequest reports one transfer outcome to the control plane.
type ConfirmRequest struct {
	PhotoID          string     `json:"photo_id"`
	UploadSuccessful bool       `json:"upload_successful"`
	ErrorMessage     string     `json:"error_message,omitempty"`
	CameraInfo       CameraInfo `json:"camera_info"`
}

type singleUploadResponse struct {
	PhotoID      string    `json:"photo_id"`
	UploadURL    string    `json:"upload_url"`
	BlobPath     string    `json:"blob_path"`
	ExpiresAt    time.Time `json:"expires_at"`
	Instructions string    `json:"instructions"`
}

// The bulk endpoint has been observed in two incompatible shapes. Both
// are decoded here and normalized before anything else sees the result.
type bulkUploadResponse struct {
	UploadSessions []UploadSession `json:"upload_sessions"`
	Results        []UploadSession `json:"results"`
}

type bulkUploadRequest struct {
	Photos []UploadSessionRequest `json:"photos"`
}

// SessionClient is the control-plane API client: session brokering and
// upload confirmation. Transport-level retries are handled by the
// underlying retryable HTTP client.
type SessionClient struct {
	httpClient  *retryablehttp.Client
	baseURL     string
	accessToken string
	logger      log.Logger
}

// NewSessionClient ...
func NewSessionClient(httpClient *retryablehttp.Client, baseURL, accessToken string, logger log.Logger) *SessionClient {
	return &SessionClient{
		httpClient:  httpClient,
		baseURL:     baseURL,
		accessToken: accessToken,
		logger:      logger,
	}
}

// RequestUploadSession issues one write credential for a single photo.
func (c *SessionClient) RequestUploadSession(request UploadSessionRequest) (UploadSession, error) {
	url := fmt.Sprintf("%s/photos/upload", c.baseURL)

	var response singleUploadResponse
	if err := c.postJSON(url, request, &response); err != nil {
		return UploadSession{}, err
	}

	return UploadSession{
		PhotoID:   response.PhotoID,
		Filename:  request.Filename,
		UploadURL: response.UploadURL,
		BlobPath:  response.BlobPath,
		ExpiresAt: response.ExpiresAt,
	}, nil
}

// RequestBulkUploadSessions issues credentials for many photos in one
// round trip. The response must contain exactly one session per
// requested photo; anything else rejects the whole batch.
func (c *SessionClient) RequestBulkUploadSessions(requests []UploadSessionRequest) ([]UploadSession, error) {
	url := fmt.Sprintf("%s/photos/bulk-upload", c.baseURL)

	var response bulkUploadResponse
	if err := c.postJSON(url, bulkUploadRequest{Photos: requests}, &response); err != nil {
		return nil, err
	}

	var sessions []UploadSession
	switch {
	case response.UploadSessions != nil:
		sessions = response.UploadSessions
	case response.Results != nil:
		c.logger.Debugf("Bulk response uses the legacy results shape")
		sessions = response.Results
	default:
		return nil, ErrMalformedBulkResponse
	}

	if len(sessions) != len(requests) {
		return nil, fmt.Errorf("%w: requested %d, got %d", ErrSessionCountMismatch, len(requests), len(sessions))
	}
	return sessions, nil
}

// ConfirmUpload reports a transfer outcome. It must be called exactly
// once per attempted transfer, success or failure, so the server's
// photo record never stays in an awaiting-upload state.
func (c *SessionClient) ConfirmUpload(request ConfirmRequest) error {
	url := fmt.Sprintf("%s/photos/confirm", c.baseURL)
	return c.postJSON(url, request, nil)
}

func (c *SessionClient) postJSON(url string, requestBody interface{}, responseBody interface{}) error {
	body, err := json.Marshal(requestBody)
	if err != nil {
		return fmt.Errorf("encode request: %w", err)
	}

	req, err := retryablehttp.NewRequest(http.MethodPost, url, body)
	if err != nil {
		return err
	}
	req.Header.Set("Authorization", fmt.Sprintf("Bearer %s", c.accessToken))
	req.Header.Set("Content-type", "application/json")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return err
	}
	defer func(body io.ReadCloser) {
		if err := body.Close(); err != nil {
			c.logger.Printf(err.Error())
		}
	}(resp.Body)

	if resp.StatusCode != http.StatusOK && resp.StatusCode != http.StatusCreated {
		return unwrapError(resp)
	}

	if responseBody == nil {
		return nil
	}
	if err := json.NewDecoder(resp.Body).Decode(responseBody); err != nil {
		return fmt.Errorf("decode response: %w", err)
	}
	return nil
}

func unwrapError(resp *http.Response) error {
	errorResp, err := io.ReadAll(resp.Body)
	if err != nil {
		return err
	}
	return fmt.Errorf("HTTP %d: %s", resp.StatusCode, errorResp)
}
