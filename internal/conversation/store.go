package conversation

import (
	"errors"
	"fmt"
	"io/fs"
	"log/slog"
	"sort"
	"sync"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/kalambet/casefile/internal/vault"
)

// ErrNotFound is returned when a requested conversation does not exist.
var ErrNotFound = errors.New("conversation not found")

// BlobStore is the durable key-value storage conversations are persisted to.
// Implemented by vault.FileStore.
type BlobStore interface {
	Read(key string) ([]byte, error)
	Write(key string, data []byte) error
	Exists(key string) bool
	Remove(key string) error
	List(prefix string) ([]string, error)
}

const (
	keyPrefix = "conv-"
	keySuffix = ".md"
)

func blobKey(id string) string { return keyPrefix + id + keySuffix }

// Summary is the listing view of a conversation, parsed without the
// message bodies being interesting to the caller.
type Summary struct {
	ID           string    `json:"id"`
	Title        string    `json:"title"`
	UpdatedAt    time.Time `json:"updated_at"`
	MessageCount int       `json:"message_count"`
	Mode         string    `json:"mode"`
}

// Store persists conversations to a BlobStore. At most one physical write is
// in flight per Store at any time; saves arriving while busy coalesce into a
// single follow-up write of the latest snapshot.
type Store struct {
	blobs BlobStore

	mu      sync.Mutex
	writing bool
	pending *Conversation
}

// NewStore creates a Store over the given blob storage.
func NewStore(blobs BlobStore) *Store {
	return &Store{blobs: blobs}
}

// Save persists a snapshot of the conversation. If a write is already in
// flight the snapshot is queued as the single pending follow-up; later
// saves replace it, so the final write always carries the latest data and
// write amplification is bounded at one extra write. A queued save returns
// immediately; its outcome is the in-flight writer's to report.
func (s *Store) Save(c *Conversation) error {
	snapshot := c.Clone()

	s.mu.Lock()
	if s.writing {
		s.pending = snapshot
		s.mu.Unlock()
		return nil
	}
	s.writing = true
	s.mu.Unlock()

	var firstErr error
	for {
		if err := s.write(snapshot); err != nil {
			if firstErr == nil {
				firstErr = err
			} else {
				slog.Error("coalesced conversation write failed", "conversation_id", snapshot.ID, "error", err)
			}
		}

		s.mu.Lock()
		if s.pending == nil {
			s.writing = false
			s.mu.Unlock()
			return firstErr
		}
		snapshot = s.pending
		s.pending = nil
		s.mu.Unlock()
	}
}

func (s *Store) write(c *Conversation) error {
	data, err := Marshal(c)
	if err != nil {
		return fmt.Errorf("serializing conversation %s: %w", c.ID, err)
	}
	if err := s.blobs.Write(blobKey(c.ID), data); err != nil {
		return fmt.Errorf("persisting conversation %s: %w", c.ID, err)
	}
	return nil
}

// Load reads one conversation by id.
func (s *Store) Load(id string) (*Conversation, error) {
	data, err := s.blobs.Read(blobKey(id))
	if err != nil {
		if isNotFound(err) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("loading conversation %s: %w", id, err)
	}
	return Unmarshal(data)
}

// List returns summaries of all conversations, newest first. It reads the
// authoritative blob listing on every call, so conversations created or
// deleted by other writers are reflected immediately.
func (s *Store) List() ([]Summary, error) {
	keys, err := s.blobs.List(keyPrefix)
	if err != nil {
		return nil, fmt.Errorf("listing conversations: %w", err)
	}

	summaries := make([]Summary, len(keys))
	g := new(errgroup.Group)
	g.SetLimit(8)
	for i, key := range keys {
		i, key := i, key
		g.Go(func() error {
			data, err := s.blobs.Read(key)
			if err != nil {
				// Deleted between the listing and the read; skip it.
				if isNotFound(err) {
					return nil
				}
				return fmt.Errorf("reading %s: %w", key, err)
			}
			c, err := Unmarshal(data)
			if err != nil {
				slog.Warn("skipping unreadable conversation blob", "key", key, "error", err)
				return nil
			}
			summaries[i] = Summary{
				ID:           c.ID,
				Title:        c.Title,
				UpdatedAt:    c.UpdatedAt,
				MessageCount: len(c.Messages),
				Mode:         c.Modes.MainMode(),
			}
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}

	out := summaries[:0]
	for _, s := range summaries {
		if s.ID != "" {
			out = append(out, s)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].UpdatedAt.After(out[j].UpdatedAt) })
	return out, nil
}

// Delete removes a conversation.
func (s *Store) Delete(id string) error {
	if err := s.blobs.Remove(blobKey(id)); err != nil {
		if isNotFound(err) {
			return ErrNotFound
		}
		return fmt.Errorf("deleting conversation %s: %w", id, err)
	}
	return nil
}

// Rename updates a conversation's title.
func (s *Store) Rename(id, title string) error {
	c, err := s.Load(id)
	if err != nil {
		return err
	}
	c.Title = title
	c.UpdatedAt = time.Now().UTC()
	return s.Save(c)
}

func isNotFound(err error) bool {
	return errors.Is(err, ErrNotFound) || errors.Is(err, vault.ErrNotFound) || errors.Is(err, fs.ErrNotExist)
}
