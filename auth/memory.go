package auth

import (
	"sync"

	"golang.org/x/crypto/bcrypt"
)

// Static is an in-memory Provider backed by bcrypt password hashes
// (golang.org/x/crypto/bcrypt).
type Static struct {
	mu    sync.RWMutex
	users map[string][]byte // addr -> bcrypt hash
}

// NewStatic builds an empty Static provider.
func NewStatic() *Static {
	return &Static{users: make(map[string][]byte)}
}

// AddUser hashes password with bcrypt and registers addr. Re-adding an
// existing address replaces its password.
func (s *Static) AddUser(addr, password string, cost int) error {
	if cost == 0 {
		cost = bcrypt.DefaultCost
	}
	hash, err := bcrypt.GenerateFromPassword([]byte(password), cost)
	if err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.users[addr] = hash
	return nil
}

func (s *Static) HasUser(addr string) bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	_, ok := s.users[addr]
	return ok
}

func (s *Static) Validate(addr, secret string) bool {
	s.mu.RLock()
	hash, ok := s.users[addr]
	s.mu.RUnlock()
	if !ok {
		return false
	}
	return bcrypt.CompareHashAndPassword(hash, []byte(secret)) == nil
}

func (s *Static) ExistingUsers(addrs []string) []string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]string, 0, len(addrs))
	for _, a := range addrs {
		if _, ok := s.users[a]; ok {
			out = append(out, a)
		}
	}
	return out
}

var _ Provider = (*Static)(nil)
