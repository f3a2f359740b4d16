package server

import (
	"fmt"
	"net"
	"strconv"
	"sync"
	"time"

	"github.com/danmuck/minijira/internal/auth"
	"github.com/zeebo/blake3"
)

// Session binds an authenticated user to one connection.
type Session struct {
	ID        uint64
	Key       []byte
	UserID    int64
	Username  string
	PeerHost  string
	PeerPort  int
	LocalHost string
	LocalPort int
	CreatedAt time.Time
}

type keyDigest [32]byte

// Sessions is the registry of live sessions, indexed by id and by the
// BLAKE3 digest of the session key.
type Sessions struct {
	mu     sync.Mutex
	byID   map[uint64]*Session
	byKey  map[keyDigest]uint64
	nextID uint64
}

func NewSessions() *Sessions {
	return &Sessions{
		byID:   make(map[uint64]*Session),
		byKey:  make(map[keyDigest]uint64),
		nextID: 1,
	}
}

// Create registers a session with a fresh random key.
func (s *Sessions) Create(userID int64, username string, peer, local net.Addr) (*Session, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	var key []byte
	var digest keyDigest
	for {
		var err error
		key, err = auth.NewSessionKey()
		if err != nil {
			return nil, err
		}
		digest = blake3.Sum256(key)
		if _, taken := s.byKey[digest]; !taken {
			break
		}
	}

	sess := &Session{
		ID:        s.nextID,
		Key:       key,
		UserID:    userID,
		Username:  username,
		CreatedAt: time.Now(),
	}
	sess.PeerHost, sess.PeerPort = splitAddr(peer)
	sess.LocalHost, sess.LocalPort = splitAddr(local)
	s.nextID++
	s.byID[sess.ID] = sess
	s.byKey[digest] = sess.ID
	return sess, nil
}

// Lookup finds the live session holding key.
func (s *Sessions) Lookup(key []byte) (*Session, bool) {
	if len(key) == 0 {
		return nil, false
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	id, ok := s.byKey[blake3.Sum256(key)]
	if !ok {
		return nil, false
	}
	sess := s.byID[id]
	if auth.SessionKey(sess.Key).Validate(key) != nil {
		return nil, false
	}
	return sess, true
}

func (s *Sessions) ByID(id uint64) (*Session, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	sess, ok := s.byID[id]
	return sess, ok
}

// Destroy removes the session; unknown ids are ignored.
func (s *Sessions) Destroy(id uint64) {
	s.mu.Lock()
	defer s.mu.Unlock()
	sess, ok := s.byID[id]
	if !ok {
		return
	}
	delete(s.byKey, blake3.Sum256(sess.Key))
	delete(s.byID, id)
}

func (s *Sessions) Count() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.byID)
}

func splitAddr(addr net.Addr) (string, int) {
	if addr == nil {
		return "", 0
	}
	host, port, err := net.SplitHostPort(addr.String())
	if err != nil {
		return addr.String(), 0
	}
	p, err := strconv.Atoi(port)
	if err != nil {
		return host, 0
	}
	return host, p
}

func (s *Session) String() string {
	return fmt.Sprintf("session(id=%d user=%q peer=%s:%d)", s.ID, s.Username, s.PeerHost, s.PeerPort)
}
