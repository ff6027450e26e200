package conversation

import (
	"errors"
	"strings"
	"sync"
	"testing"
	"time"
)

// blockingBlobs is an in-memory BlobStore whose writes can be gated so tests
// can hold a write in flight.
type blockingBlobs struct {
	mu      sync.Mutex
	data    map[string][]byte
	writes  int
	gate    chan struct{}
	started chan struct{}
}

func newBlockingBlobs() *blockingBlobs {
	return &blockingBlobs{data: make(map[string][]byte)}
}

func (b *blockingBlobs) Read(key string) ([]byte, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	d, ok := b.data[key]
	if !ok {
		return nil, ErrNotFound
	}
	return d, nil
}

func (b *blockingBlobs) Write(key string, data []byte) error {
	if b.started != nil {
		b.started <- struct{}{}
	}
	if b.gate != nil {
		<-b.gate
	}
	b.mu.Lock()
	defer b.mu.Unlock()
	b.writes++
	b.data[key] = append([]byte(nil), data...)
	return nil
}

func (b *blockingBlobs) Exists(key string) bool {
	b.mu.Lock()
	defer b.mu.Unlock()
	_, ok := b.data[key]
	return ok
}

func (b *blockingBlobs) Remove(key string) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	if _, ok := b.data[key]; !ok {
		return ErrNotFound
	}
	delete(b.data, key)
	return nil
}

func (b *blockingBlobs) List(prefix string) ([]string, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	var keys []string
	for k := range b.data {
		if strings.HasPrefix(k, prefix) {
			keys = append(keys, k)
		}
	}
	return keys, nil
}

func withContent(c *Conversation, content string) *Conversation {
	out := c.Clone()
	out.Messages = []Message{{Role: RoleUser, Content: content, Timestamp: time.Now().UTC()}}
	return out
}

func TestStore_SaveCoalescesToLatestSnapshot(t *testing.T) {
	blobs := newBlockingBlobs()
	blobs.gate = make(chan struct{})
	blobs.started = make(chan struct{}, 8)
	store := NewStore(blobs)

	conv := New("coalescing", Modes{})
	v1 := withContent(conv, "v1")
	v2 := withContent(conv, "v2")
	v3 := withContent(conv, "v3")

	done := make(chan error, 1)
	go func() { done <- store.Save(v1) }()
	<-blobs.started // v1 write is now in flight

	// Two saves arrive while busy; only the latest must survive.
	if err := store.Save(v2); err != nil {
		t.Fatalf("Save(v2): %v", err)
	}
	if err := store.Save(v3); err != nil {
		t.Fatalf("Save(v3): %v", err)
	}

	close(blobs.gate) // release v1 and the follow-up write
	if err := <-done; err != nil {
		t.Fatalf("Save(v1): %v", err)
	}
	<-blobs.started // follow-up write observed

	blobs.mu.Lock()
	writes := blobs.writes
	blobs.mu.Unlock()
	if writes != 2 {
		t.Fatalf("physical writes = %d, want exactly 2", writes)
	}

	got, err := store.Load(conv.ID)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if len(got.Messages) != 1 || got.Messages[0].Content != "v3" {
		t.Errorf("persisted content = %+v, want v3", got.Messages)
	}
}

func TestStore_SequentialSavesEachWrite(t *testing.T) {
	blobs := newBlockingBlobs()
	store := NewStore(blobs)
	conv := New("seq", Modes{})

	if err := store.Save(withContent(conv, "a")); err != nil {
		t.Fatalf("Save: %v", err)
	}
	if err := store.Save(withContent(conv, "b")); err != nil {
		t.Fatalf("Save: %v", err)
	}
	if blobs.writes != 2 {
		t.Errorf("writes = %d, want 2 (no coalescing when idle)", blobs.writes)
	}
}

func TestStore_SaveSnapshotsBeforeReturning(t *testing.T) {
	blobs := newBlockingBlobs()
	store := NewStore(blobs)

	conv := New("snapshot", Modes{})
	conv.Append(Message{Role: RoleUser, Content: "original"})
	if err := store.Save(conv); err != nil {
		t.Fatalf("Save: %v", err)
	}

	// Mutating after Save must not affect what was persisted.
	conv.Messages[0].Content = "mutated"

	got, err := store.Load(conv.ID)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if got.Messages[0].Content != "original" {
		t.Errorf("persisted content = %q, want original", got.Messages[0].Content)
	}
}

func TestStore_ListNewestFirst(t *testing.T) {
	blobs := newBlockingBlobs()
	store := NewStore(blobs)

	older := New("older", Modes{})
	older.UpdatedAt = time.Now().Add(-time.Hour)
	newer := New("newer", Modes{DarkWeb: true})

	if err := store.Save(older); err != nil {
		t.Fatalf("Save: %v", err)
	}
	if err := store.Save(newer); err != nil {
		t.Fatalf("Save: %v", err)
	}

	list, err := store.List()
	if err != nil {
		t.Fatalf("List: %v", err)
	}
	if len(list) != 2 {
		t.Fatalf("list = %d entries, want 2", len(list))
	}
	if list[0].Title != "newer" || list[1].Title != "older" {
		t.Errorf("order = %s, %s; want newer first", list[0].Title, list[1].Title)
	}
	if list[0].Mode != "darkweb" {
		t.Errorf("mode = %q, want darkweb", list[0].Mode)
	}
}

func TestStore_DeleteAndRename(t *testing.T) {
	blobs := newBlockingBlobs()
	store := NewStore(blobs)
	conv := New("to manage", Modes{})
	if err := store.Save(conv); err != nil {
		t.Fatalf("Save: %v", err)
	}

	if err := store.Rename(conv.ID, "renamed"); err != nil {
		t.Fatalf("Rename: %v", err)
	}
	got, err := store.Load(conv.ID)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if got.Title != "renamed" {
		t.Errorf("title = %q, want renamed", got.Title)
	}

	if err := store.Delete(conv.ID); err != nil {
		t.Fatalf("Delete: %v", err)
	}
	if _, err := store.Load(conv.ID); !errors.Is(err, ErrNotFound) {
		t.Errorf("Load after delete = %v, want ErrNotFound", err)
	}
	if err := store.Delete(conv.ID); !errors.Is(err, ErrNotFound) {
		t.Errorf("Delete missing = %v, want ErrNotFound", err)
	}
}
