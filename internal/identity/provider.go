package identity

import (
	"sync"

	"github.com/fjod/storefront/internal/domain"
)

// Provider reports who is signed in and announces identity changes.
type Provider interface {
	CurrentUser() *domain.User
	// Subscribe registers fn for every identity change. The returned func
	// removes the subscription.
	Subscribe(fn func(user *domain.User)) (cancel func())
}

// Session is an in-memory Provider for one client session. Subscribers are
// notified only when the signed-in user id actually changes.
type Session struct {
	mu     sync.Mutex
	user   *domain.User
	subs   map[int]func(*domain.User)
	nextID int
}

func NewSession(user *domain.User) *Session {
	return &Session{
		user: cloneUser(user),
		subs: make(map[int]func(*domain.User)),
	}
}

func (s *Session) CurrentUser() *domain.User {
	s.mu.Lock()
	defer s.mu.Unlock()
	return cloneUser(s.user)
}

func (s *Session) Subscribe(fn func(user *domain.User)) func() {
	s.mu.Lock()
	id := s.nextID
	s.nextID++
	s.subs[id] = fn
	s.mu.Unlock()

	var once sync.Once
	return func() {
		once.Do(func() {
			s.mu.Lock()
			delete(s.subs, id)
			s.mu.Unlock()
		})
	}
}

func (s *Session) SignIn(user *domain.User) {
	s.set(user)
}

func (s *Session) SignOut() {
	s.set(nil)
}

func (s *Session) set(user *domain.User) {
	s.mu.Lock()
	if domain.SameUser(s.user, user) {
		s.user = cloneUser(user)
		s.mu.Unlock()
		return
	}
	s.user = cloneUser(user)
	subs := make([]func(*domain.User), 0, len(s.subs))
	for _, fn := range s.subs {
		subs = append(subs, fn)
	}
	s.mu.Unlock()

	// callbacks run outside the lock so they may call back into the session
	for _, fn := range subs {
		fn(cloneUser(user))
	}
}

func cloneUser(u *domain.User) *domain.User {
	if u == nil {
		return nil
	}
	c := *u
	return &c
}

var _ Provider = (*Session)(nil)
