package upload

import (
	"context"
	"fmt"
	"io"
	"sync"

	"github.com/fieldsync/go-fieldsync/upload/network"
)

type fakeEnvRepo struct {
	envVars map[string]string
}

func (repo fakeEnvRepo) Get(key string) string {
	return repo.envVars[key]
}

func (repo fakeEnvRepo) Set(key, value string) error {
	repo.envVars[key] = value
	return nil
}

func (repo fakeEnvRepo) Unset(key string) error {
	delete(repo.envVars, key)
	return nil
}

func (repo fakeEnvRepo) List() []string {
	envs := []string{}
	for k, v := range repo.envVars {
		envs = append(envs, fmt.Sprintf("%s=%s", k, v))
	}
	return envs
}

// fakeBroker issues one session per requested photo and records every
// call.
type fakeBroker struct {
	mu          sync.Mutex
	singleCalls int
	bulkCalls   int
	confirms    []network.ConfirmRequest

	// sessionOverride, when set, replaces the generated session for the
	// matching filename.
	sessionOverride map[string]network.UploadSession
	singleErr       error
	bulkErr         error
	confirmErr      error
}

func newFakeBroker() *fakeBroker {
	return &fakeBroker{sessionOverride: map[string]network.UploadSession{}}
}

func (b *fakeBroker) sessionFor(request network.UploadSessionRequest) network.UploadSession {
	if session, ok := b.sessionOverride[request.Filename]; ok {
		return session
	}
	return network.UploadSession{
		PhotoID:   "server-" + request.Filename,
		Filename:  request.Filename,
		UploadURL: "https://blobs.example.com/" + request.Filename,
	}
}

func (b *fakeBroker) RequestUploadSession(request network.UploadSessionRequest) (network.UploadSession, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.singleCalls++
	if b.singleErr != nil {
		return network.UploadSession{}, b.singleErr
	}
	return b.sessionFor(request), nil
}

func (b *fakeBroker) RequestBulkUploadSessions(requests []network.UploadSessionRequest) ([]network.UploadSession, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.bulkCalls++
	if b.bulkErr != nil {
		return nil, b.bulkErr
	}
	sessions := make([]network.UploadSession, len(requests))
	for i, request := range requests {
		sessions[i] = b.sessionFor(request)
	}
	return sessions, nil
}

func (b *fakeBroker) ConfirmUpload(request network.ConfirmRequest) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.confirms = append(b.confirms, request)
	return b.confirmErr
}

func (b *fakeBroker) confirmFor(photoID string) (network.ConfirmRequest, bool) {
	b.mu.Lock()
	defer b.mu.Unlock()
	for _, confirm := range b.confirms {
		if confirm.PhotoID == photoID {
			return confirm, true
		}
	}
	return network.ConfirmRequest{}, false
}

// fakeTransferrer records transfers and fails the photo ids listed in
// failFor.
type fakeTransferrer struct {
	mu        sync.Mutex
	transfers []network.UploadSession
	failFor   map[string]error
}

func newFakeTransferrer() *fakeTransferrer {
	return &fakeTransferrer{failFor: map[string]error{}}
}

func (t *fakeTransferrer) Transfer(_ context.Context, session network.UploadSession, _ io.ReadSeeker, _ int64, _ string) error {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.transfers = append(t.transfers, session)
	if err, ok := t.failFor[session.PhotoID]; ok {
		return err
	}
	return nil
}

func (t *fakeTransferrer) transferCount() int {
	t.mu.Lock()
	defer t.mu.Unlock()
	return len(t.transfers)
}
