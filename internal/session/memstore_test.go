package session

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/hitoshi/wizary/internal/model"
	"github.com/hitoshi/wizary/internal/repository"
)

// memStore はユーザーとセッションを保持するインメモリストア。
// CreateWithinLimitはミューテックスで直列化し、行ロック付きトランザクションと同じ結果を返す。
type memStore struct {
	mu       sync.Mutex
	users    map[string]*model.User
	sessions map[string]*model.Session // session_key → session
	failWith error
}

func newMemStore(users ...*model.User) *memStore {
	s := &memStore{
		users:    make(map[string]*model.User),
		sessions: make(map[string]*model.Session),
	}
	for _, u := range users {
		s.users[u.ID] = u
	}
	return s
}

func (s *memStore) FindByID(ctx context.Context, id string) (*model.User, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.failWith != nil {
		return nil, s.failWith
	}
	u, ok := s.users[id]
	if !ok {
		return nil, nil
	}
	cp := *u
	return &cp, nil
}

func (s *memStore) FindByEmail(ctx context.Context, email string) (*model.User, error) {
	return nil, errors.New("not implemented")
}

func (s *memStore) CreateWithRegistrationCode(ctx context.Context, user *model.User, code string) error {
	return errors.New("not implemented")
}

func (s *memStore) SetLocked(ctx context.Context, id string, locked bool) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	u, ok := s.users[id]
	if !ok {
		return model.ErrUserNotFound
	}
	u.IsLocked = locked
	return nil
}

func (s *memStore) CreateWithinLimit(ctx context.Context, session *model.Session, limit int, now time.Time) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.failWith != nil {
		return s.failWith
	}

	u, ok := s.users[session.UserID]
	if !ok {
		return model.ErrUserNotFound
	}
	if u.IsLocked {
		return model.ErrAccountLocked
	}
	if s.countActiveLocked(session.UserID, now) >= limit {
		u.IsLocked = true
		return model.ErrConcurrencyLimitExceeded
	}

	cp := *session
	cp.IsActive = true
	s.sessions[session.SessionKey] = &cp
	login := now
	u.LastLoginAt = &login
	return nil
}

func (s *memStore) countActiveLocked(userID string, now time.Time) int {
	n := 0
	for _, sess := range s.sessions {
		if sess.UserID == userID && sess.IsActiveAt(now) {
			n++
		}
	}
	return n
}

func (s *memStore) CountActiveByUserID(ctx context.Context, userID string, now time.Time) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.failWith != nil {
		return 0, s.failWith
	}
	return s.countActiveLocked(userID, now), nil
}

func (s *memStore) FindActiveByKey(ctx context.Context, sessionKey string, now time.Time) (*model.Session, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.failWith != nil {
		return nil, s.failWith
	}
	sess, ok := s.sessions[sessionKey]
	if !ok || !sess.IsActiveAt(now) {
		return nil, nil
	}
	cp := *sess
	return &cp, nil
}

func (s *memStore) DeactivateByKey(ctx context.Context, sessionKey string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if sess, ok := s.sessions[sessionKey]; ok {
		sess.IsActive = false
	}
	return nil
}

func (s *memStore) DeactivateByUserID(ctx context.Context, userID string) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var n int64
	for _, sess := range s.sessions {
		if sess.UserID == userID && sess.IsActive {
			sess.IsActive = false
			n++
		}
	}
	return n, nil
}

func (s *memStore) isLocked(userID string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.users[userID].IsLocked
}

var (
	_ repository.UserRepository    = (*memStore)(nil)
	_ repository.SessionRepository = (*memStore)(nil)
)
