package server

import (
	"errors"
	"fmt"
	"net"

	"github.com/danmuck/minijira/internal/auth"
	"github.com/danmuck/minijira/internal/protocol"
	"github.com/danmuck/minijira/internal/store"
	"github.com/rs/zerolog/log"
)

var (
	ErrAlreadyLoggedIn = errors.New("already logged in")
	ErrNoPendingLogin  = errors.New("no pending login")
	ErrInvalidSession  = errors.New("invalid session")
)

type AuthState int

const (
	StateAnonymous AuthState = iota
	StatePotentialUser
	StateAuthenticated
)

func (s AuthState) String() string {
	switch s {
	case StateAnonymous:
		return "anonymous"
	case StatePotentialUser:
		return "potential-user"
	case StateAuthenticated:
		return "authenticated"
	default:
		return fmt.Sprintf("auth-state(%d)", int(s))
	}
}

// AuthMachine is the server half of the login exchange for one connection.
// It is driven only from that connection's dispatcher goroutine.
type AuthMachine struct {
	server   *Server
	peer     net.Addr
	local    net.Addr
	state    AuthState
	username string
	session  *Session
}

func NewAuthMachine(srv *Server, peer, local net.Addr) *AuthMachine {
	return &AuthMachine{server: srv, peer: peer, local: local}
}

func (m *AuthMachine) State() AuthState {
	return m.state
}

func (m *AuthMachine) Username() string {
	return m.username
}

// Session returns the live session, or nil unless authenticated.
func (m *AuthMachine) Session() *Session {
	return m.session
}

// Handle applies one login request and returns the reply payload. Requests
// that make no sense in the current state return an error and leave the
// state unchanged.
func (m *AuthMachine) Handle(req protocol.Login) (protocol.Login, error) {
	switch {
	case req.UsernameOrTag != nil && req.Password == nil:
		return m.probe(*req.UsernameOrTag)
	case req.UsernameOrTag == nil && req.Password != nil:
		return m.confirm(*req.Password)
	case req.UsernameOrTag != nil && req.Password != nil:
		return m.register(*req.UsernameOrTag, *req.Password)
	default:
		return m.cancel(), nil
	}
}

func (m *AuthMachine) probe(username string) (protocol.Login, error) {
	if m.state == StateAuthenticated {
		return protocol.Login{}, ErrAlreadyLoggedIn
	}
	if _, err := m.server.users.GetByName(username); err != nil {
		if !errors.Is(err, store.ErrNotFound) {
			return protocol.Login{}, err
		}
		m.reset()
		return reply(protocol.TagDoesNotExist), nil
	}
	m.state = StatePotentialUser
	m.username = username
	return reply(protocol.TagExists), nil
}

func (m *AuthMachine) confirm(password string) (protocol.Login, error) {
	switch m.state {
	case StateAnonymous:
		return protocol.Login{}, ErrNoPendingLogin
	case StateAuthenticated:
		return protocol.Login{}, ErrAlreadyLoggedIn
	}

	user, err := m.server.users.GetByName(m.username)
	if err != nil {
		m.reset()
		if errors.Is(err, store.ErrNotFound) {
			return reply(protocol.TagDoesNotExist), nil
		}
		return protocol.Login{}, err
	}
	if err := auth.Verify(password, user.Credential); err != nil {
		m.reset()
		if errors.Is(err, auth.ErrUnauthorized) {
			log.Info().Str("user", user.Name).Str("remote", addrString(m.peer)).Msg("server.AuthMachine wrong password")
			return reply(protocol.TagWrongPassword), nil
		}
		return protocol.Login{}, err
	}

	now := m.server.now().UnixMilli()
	if _, err := m.server.users.Update(user.ID, func(u *store.User) error {
		u.LastOnlineMS = now
		return nil
	}); err != nil {
		m.reset()
		return protocol.Login{}, err
	}
	return m.authenticate(user, protocol.TagLoggedIn)
}

func (m *AuthMachine) register(username, password string) (protocol.Login, error) {
	if m.state == StateAuthenticated {
		return protocol.Login{}, ErrAlreadyLoggedIn
	}
	m.reset()
	if username == "" {
		return protocol.Login{}, errors.New("username must not be empty")
	}
	cred, err := auth.NewCredential(password, m.server.kdf)
	if err != nil {
		return protocol.Login{}, err
	}
	user, err := m.server.users.Create(username, cred)
	if err != nil {
		if errors.Is(err, store.ErrExists) {
			return reply(protocol.TagAlreadyExists), nil
		}
		return protocol.Login{}, err
	}
	log.Info().Str("user", user.Name).Int64("user_id", user.ID).Msg("server.AuthMachine registered")
	return m.authenticate(user, protocol.TagRegistered)
}

func (m *AuthMachine) cancel() protocol.Login {
	if m.state == StateAuthenticated {
		m.Close()
		return reply(protocol.TagLoggedOut)
	}
	m.reset()
	return reply(protocol.TagCancelled)
}

func (m *AuthMachine) authenticate(user store.User, tag string) (protocol.Login, error) {
	sess, err := m.server.sessions.Create(user.ID, user.Name, m.peer, m.local)
	if err != nil {
		m.reset()
		return protocol.Login{}, err
	}
	m.state = StateAuthenticated
	m.username = user.Name
	m.session = sess
	log.Debug().Uint64("session_id", sess.ID).Str("user", user.Name).Msg("server.AuthMachine session created")
	out := reply(tag)
	out.SessionKey = sess.Key
	out.SessionID = sess.ID
	return out, nil
}

// ValidateKey checks a presented auth block against this connection's session.
func (m *AuthMachine) ValidateKey(key []byte) error {
	if m.session == nil {
		return ErrInvalidSession
	}
	sess, ok := m.server.sessions.Lookup(key)
	if !ok || sess.ID != m.session.ID {
		return ErrInvalidSession
	}
	return nil
}

// Close destroys any live session and returns to Anonymous.
func (m *AuthMachine) Close() {
	if m.session != nil {
		m.server.sessions.Destroy(m.session.ID)
		log.Debug().Uint64("session_id", m.session.ID).Msg("server.AuthMachine session destroyed")
	}
	m.reset()
}

func (m *AuthMachine) reset() {
	m.state = StateAnonymous
	m.username = ""
	m.session = nil
}

func reply(tag string) protocol.Login {
	return protocol.Login{UsernameOrTag: protocol.StringPtr(tag)}
}

func addrString(addr net.Addr) string {
	if addr == nil {
		return ""
	}
	return addr.String()
}
