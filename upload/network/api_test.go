package network

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/bitrise-io/go-utils/v2/log"
	"github.com/bitrise-io/go-utils/v2/retryhttp"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestClient(baseURL string) *SessionClient {
	return NewSessionClient(retryhttp.NewClient(log.NewLogger()), baseURL, "test-token", log.NewLogger())
}

func TestRequestUploadSession(t *testing.T) {
	var gotRequest UploadSessionRequest
	var gotAuth string
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		require.Equal(t, http.MethodPost, r.Method)
		require.Equal(t, "/photos/upload", r.URL.Path)
		gotAuth = r.Header.Get("Authorization")
		require.NoError(t, json.NewDecoder(r.Body).Decode(&gotRequest))

		w.WriteHeader(http.StatusCreated)
		err := json.NewEncoder(w).Encode(map[string]interface{}{
			"photo_id":     "photo-1",
			"upload_url":   "https://blobs.example.com/photo-1?sig=abc",
			"blob_path":    "submissions/s1/photo-1.jpg",
			"expires_at":   time.Now().Add(time.Hour).UTC().Format(time.RFC3339),
			"instructions": "PUT the file to upload_url",
		})
		require.NoError(t, err)
	}))
	defer server.Close()

	session, err := newTestClient(server.URL).RequestUploadSession(UploadSessionRequest{
		SubmissionID:  "s1",
		Filename:      "fence.jpg",
		FileSizeBytes: 1024,
		ContentType:   "image/jpeg",
	})

	require.NoError(t, err)
	assert.Equal(t, "Bearer test-token", gotAuth)
	assert.Equal(t, "s1", gotRequest.SubmissionID)
	assert.Equal(t, "photo-1", session.PhotoID)
	assert.Equal(t, "fence.jpg", session.Filename)
	assert.Equal(t, "https://blobs.example.com/photo-1?sig=abc", session.UploadURL)
	assert.Equal(t, "submissions/s1/photo-1.jpg", session.BlobPath)
	assert.False(t, session.Expired(time.Now()))
}

func TestRequestBulkUploadSessions(t *testing.T) {
	sessionList := []map[string]interface{}{
		{"photo_id": "p1", "filename": "a.jpg", "upload_url": "https://blobs/a"},
		{"photo_id": "p2", "filename": "b.jpg", "upload_url": "https://blobs/b"},
	}
	tests := []struct {
		name     string
		response map[string]interface{}
		wantErr  error
	}{
		{
			name:     "current shape",
			response: map[string]interface{}{"upload_sessions": sessionList},
		},
		{
			name:     "legacy results shape",
			response: map[string]interface{}{"results": sessionList},
		},
		{
			name:     "neither shape",
			response: map[string]interface{}{"sessions": sessionList},
			wantErr:  ErrMalformedBulkResponse,
		},
		{
			name:     "count mismatch",
			response: map[string]interface{}{"upload_sessions": sessionList[:1]},
			wantErr:  ErrSessionCountMismatch,
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			requestCount := 0
			server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
				require.Equal(t, "/photos/bulk-upload", r.URL.Path)
				requestCount++

				var body bulkUploadRequest
				require.NoError(t, json.NewDecoder(r.Body).Decode(&body))
				require.Len(t, body.Photos, 2)

				require.NoError(t, json.NewEncoder(w).Encode(tt.response))
			}))
			defer server.Close()

			requests := []UploadSessionRequest{
				{SubmissionID: "s1", Filename: "a.jpg"},
				{SubmissionID: "s1", Filename: "b.jpg"},
			}
			sessions, err := newTestClient(server.URL).RequestBulkUploadSessions(requests)

			assert.Equal(t, 1, requestCount, "bulk path should issue exactly one session-request call")
			if tt.wantErr != nil {
				assert.ErrorIs(t, err, tt.wantErr)
				return
			}
			require.NoError(t, err)
			require.Len(t, sessions, 2)
			assert.Equal(t, "p1", sessions[0].PhotoID)
			assert.Equal(t, "p2", sessions[1].PhotoID)
		})
	}
}

func TestRequestBulkUploadSessions_ServerError(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "bad request", http.StatusBadRequest)
	}))
	defer server.Close()

	_, err := newTestClient(server.URL).RequestBulkUploadSessions([]UploadSessionRequest{{Filename: "a.jpg"}})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "HTTP 400")
}

func TestConfirmUpload(t *testing.T) {
	var gotRequest ConfirmRequest
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		require.Equal(t, "/photos/confirm", r.URL.Path)
		require.NoError(t, json.NewDecoder(r.Body).Decode(&gotRequest))
		w.WriteHeader(http.StatusOK)
	}))
	defer server.Close()

	err := newTestClient(server.URL).ConfirmUpload(ConfirmRequest{
		PhotoID:          "p1",
		UploadSuccessful: false,
		ErrorMessage:     "transfer timed out",
		CameraInfo:       CameraInfo{DeviceModel: "PixelTab 3"},
	})

	require.NoError(t, err)
	assert.Equal(t, "p1", gotRequest.PhotoID)
	assert.False(t, gotRequest.UploadSuccessful)
	assert.Equal(t, "transfer timed out", gotRequest.ErrorMessage)
	assert.Equal(t, "PixelTab 3", gotRequest.CameraInfo.DeviceModel)
}

func TestUploadSession_Expired(t *testing.T) {
	now := time.Now()
	tests := []struct {
		name      string
		expiresAt time.Time
		want      bool
	}{
		{name: "future expiry", expiresAt: now.Add(time.Minute), want: false},
		{name: "past expiry", expiresAt: now.Add(-time.Minute), want: true},
		{name: "no expiry provided", expiresAt: time.Time{}, want: false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			session := UploadSession{ExpiresAt: tt.expiresAt}
			assert.Equal(t, tt.want, session.Expired(now))
		})
	}
}
