package audit

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

type fakeStorage struct {
	mu      sync.Mutex
	batches [][]Entry
}

func (f *fakeStorage) WriteBatch(_ context.Context, entries []Entry) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	cp := make([]Entry, len(entries))
	copy(cp, entries)
	f.batches = append(f.batches, cp)
	return nil
}

func (f *fakeStorage) total() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	n := 0
	for _, b := range f.batches {
		n += len(b)
	}
	return n
}

func TestRecorderFlushesOnStop(t *testing.T) {
	storage := &fakeStorage{}
	rec := NewRecorder(storage, zap.NewNop())
	rec.Start()

	for i := 0; i < 7; i++ {
		rec.Insert(EventWebhookSent, "dispatcher", "delivered", map[string]interface{}{"n": i})
	}
	rec.Stop()

	// Drain Pattern: ничего не потеряли при остановке
	require.Equal(t, 7, storage.total())
}

func TestRecorderStampsFields(t *testing.T) {
	storage := &fakeStorage{}
	rec := NewRecorder(storage, zap.NewNop())
	rec.Start()

	rec.Insert(EventAbilityQueued, "hooks", "queued for approval", map[string]interface{}{"ability": "delete_post"})
	rec.Stop()

	require.Equal(t, 1, storage.total())
	e := storage.batches[0][0]
	require.NotEmpty(t, e.ID)
	require.Equal(t, EventAbilityQueued, e.EventType)
	require.Equal(t, "hooks", e.Source)
	require.WithinDuration(t, time.Now().UTC(), e.CreatedAt, 5*time.Second)
}

func TestRecorderDropsAfterStop(t *testing.T) {
	storage := &fakeStorage{}
	rec := NewRecorder(storage, zap.NewNop())
	rec.Start()
	rec.Stop()

	// Insert после Stop не паникует и не пишет
	rec.Insert(EventWebhookFailed, "dispatcher", "late", nil)
	require.Equal(t, 0, storage.total())
}
