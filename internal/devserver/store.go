package devserver

import (
	"context"
	"errors"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/jawaracloud/akim-queue/pkg/models"
)

var (
	// ErrAlreadyJoined is returned when a session joins twice.
	ErrAlreadyJoined = errors.New("session already registered in queue")
	// ErrNotFound is returned for unknown entries and sessions.
	ErrNotFound = errors.New("not found")
)

// Store persists queue entries for the development server. Implementations
// are the in-memory store below and the redis-backed one in redis.go.
type Store interface {
	Join(ctx context.Context, sessionID string) (models.QueueItem, error)
	BySession(ctx context.Context, sessionID string) (models.QueueItem, error)
	ByID(ctx context.Context, id int64) (models.QueueItem, error)
	List(ctx context.Context) ([]models.QueueItem, error)
	Update(ctx context.Context, id int64, mutate func(*models.QueueItem)) (models.QueueItem, error)
	WaitingAhead(ctx context.Context, sequence int64) (int64, error)
}

// MemStore keeps everything in process memory.
type MemStore struct {
	mu        sync.Mutex
	seq       int64
	nextID    int64
	byID      map[int64]*models.QueueItem
	bySession map[string]int64
}

// NewMemStore returns an empty in-memory store.
func NewMemStore() *MemStore {
	return &MemStore{
		byID:      make(map[int64]*models.QueueItem),
		bySession: make(map[string]int64),
	}
}

func (s *MemStore) Join(_ context.Context, sessionID string) (models.QueueItem, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if id, ok := s.bySession[sessionID]; ok {
		return *s.byID[id], ErrAlreadyJoined
	}
	s.seq++
	s.nextID++
	item := &models.QueueItem{
		ID:             s.nextID,
		SequenceNumber: s.seq,
		SessionID:      sessionID,
		Status:         models.StatusWaiting,
		CreatedAt:      time.Now().UTC(),
	}
	s.byID[item.ID] = item
	s.bySession[sessionID] = item.ID
	return *item, nil
}

func (s *MemStore) BySession(_ context.Context, sessionID string) (models.QueueItem, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	id, ok := s.bySession[sessionID]
	if !ok {
		return models.QueueItem{}, ErrNotFound
	}
	return *s.byID[id], nil
}

func (s *MemStore) ByID(_ context.Context, id int64) (models.QueueItem, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	item, ok := s.byID[id]
	if !ok {
		return models.QueueItem{}, ErrNotFound
	}
	return *item, nil
}

func (s *MemStore) List(context.Context) ([]models.QueueItem, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]models.QueueItem, 0, len(s.byID))
	for _, item := range s.byID {
		out = append(out, *item)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].SequenceNumber < out[j].SequenceNumber })
	return out, nil
}

func (s *MemStore) Update(_ context.Context, id int64, mutate func(*models.QueueItem)) (models.QueueItem, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	item, ok := s.byID[id]
	if !ok {
		return models.QueueItem{}, ErrNotFound
	}
	mutate(item)
	return *item, nil
}

func (s *MemStore) WaitingAhead(_ context.Context, sequence int64) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var n int64
	for _, item := range s.byID {
		if item.Status == models.StatusWaiting && item.SequenceNumber < sequence {
			n++
		}
	}
	return n, nil
}

// SignStore tracks sign sessions for the development server.
type SignStore struct {
	mu     sync.Mutex
	nextID int64
	byUUID map[string]*models.SignSession
}

// NewSignStore returns an empty sign-session store.
func NewSignStore() *SignStore {
	return &SignStore{byUUID: make(map[string]*models.SignSession)}
}

// Create registers a pending sign session for uuid, reusing an existing
// one so create_session stays idempotent per session identifier.
func (s *SignStore) Create(uuid string) models.SignSession {
	s.mu.Lock()
	defer s.mu.Unlock()
	if sess, ok := s.byUUID[uuid]; ok {
		return *sess
	}
	s.nextID++
	sess := &models.SignSession{
		ID:          s.nextID,
		SessionUUID: uuid,
		State:       models.SignPending,
		CreatedAt:   time.Now().UTC(),
		Expiry:      time.Now().UTC().Add(10 * time.Minute).Format(time.RFC3339),
	}
	s.byUUID[uuid] = sess
	return *sess
}

// Get returns the session for uuid.
func (s *SignStore) Get(uuid string) (models.SignSession, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	sess, ok := s.byUUID[uuid]
	if !ok {
		return models.SignSession{}, false
	}
	return *sess, true
}

// Resolve applies a terminal state to the session for uuid.
func (s *SignStore) Resolve(uuid string, mutate func(*models.SignSession)) (models.SignSession, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	sess, ok := s.byUUID[uuid]
	if !ok {
		return models.SignSession{}, false
	}
	mutate(sess)
	return *sess, true
}

// matchesFilter reports whether the item passes an optional status filter.
func matchesFilter(item models.QueueItem, status string) bool {
	return status == "" || strings.EqualFold(status, string(item.Status))
}
