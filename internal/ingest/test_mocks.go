package ingest

import (
	"context"
	"sync"

	"github.com/stretchr/testify/mock"

	"github.com/IanNoble-Visium/ELI-sub001/internal/cloudinary"
	"github.com/IanNoble-Visium/ELI-sub001/internal/data"
)

// MockChannelStore
type MockChannelStore struct {
	mock.Mock
}

func (m *MockChannelStore) Upsert(ctx context.Context, c *data.Channel) error {
	args := m.Called(ctx, c)
	return args.Error(0)
}

// MockEventStore
type MockEventStore struct {
	mock.Mock
}

func (m *MockEventStore) Upsert(ctx context.Context, e *data.Event) error {
	args := m.Called(ctx, e)
	return args.Error(0)
}

// MockSnapshotStore
type MockSnapshotStore struct {
	mock.Mock
}

func (m *MockSnapshotStore) Upsert(ctx context.Context, s *data.Snapshot) error {
	args := m.Called(ctx, s)
	return args.Error(0)
}

// fakeUploader counts calls and hands back a canned result. Upload runs
// synchronously inside the batch loop so no locking is needed.
type fakeUploader struct {
	enabled bool
	result  cloudinary.UploadResult

	calls     int
	lastImage string
	lastEvent string
	lastType  string
}

func (f *fakeUploader) Enabled() bool { return f.enabled }

func (f *fakeUploader) Upload(_ context.Context, image, eventID, snapshotType string) cloudinary.UploadResult {
	f.calls++
	f.lastImage = image
	f.lastEvent = eventID
	f.lastType = snapshotType
	return f.result
}

// fakeMirror records merge calls. Mirror calls arrive from pool workers, so
// reads must happen after Pool.Close has drained the queue.
type fakeMirror struct {
	mu      sync.Mutex
	enabled bool

	channelCalls int
	eventCalls   int
	lastEventURL string
}

func (f *fakeMirror) Enabled() bool { return f.enabled }

func (f *fakeMirror) MirrorChannel(_ context.Context, _ *data.Channel) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.channelCalls++
	return nil
}

func (f *fakeMirror) MirrorEvent(_ context.Context, _ *data.Event, imageURL string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.eventCalls++
	f.lastEventURL = imageURL
	return nil
}

func (f *fakeMirror) snapshot() (channelCalls, eventCalls int, lastURL string) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.channelCalls, f.eventCalls, f.lastEventURL
}
