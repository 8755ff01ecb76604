package runtime

import (
	"chat-relay/domain/event"
	"sync"
	"testing"

	"github.com/dgraph-io/badger/v4"
	"github.com/google/uuid"
	"github.com/samber/lo"
	"github.com/stretchr/testify/require"
)

func openDB(t *testing.T) *badger.DB {
	t.Helper()
	db, err := badger.Open(badger.DefaultOptions(t.TempDir()).WithLoggingLevel(badger.ERROR))
	require.NoError(t, err)
	t.Cleanup(func() { _ = db.Close() })
	return db
}

// recordingConnection keeps every frame pushed to it.
type recordingConnection struct {
	id      string
	subject string
	mu      sync.Mutex
	frames  []event.Frame
}

func newConnection() *recordingConnection {
	return &recordingConnection{id: uuid.NewString()}
}

func (r *recordingConnection) ID() string {
	return r.id
}

func (r *recordingConnection) Send(frame event.Frame) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.frames = append(r.frames, frame)
	return nil
}

func (r *recordingConnection) Events() []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	return lo.Map(r.frames, func(f event.Frame, _ int) string { return f.Event })
}

func (r *recordingConnection) Frames(name string) []event.Frame {
	r.mu.Lock()
	defer r.mu.Unlock()
	return lo.Filter(r.frames, func(f event.Frame, _ int) bool { return f.Event == name })
}

func (r *recordingConnection) Reset() {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.frames = nil
}

type authenticatedConnection struct {
	*recordingConnection
}

func (a authenticatedConnection) Subject() string {
	return a.subject
}
