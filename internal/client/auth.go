package client

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"github.com/danmuck/minijira/internal/protocol"
	"github.com/rs/zerolog/log"
)

var (
	ErrNoSuchUser      = errors.New("client: user does not exist")
	ErrWrongPassword   = errors.New("client: wrong password")
	ErrUserExists      = errors.New("client: user already exists")
	ErrAlreadyLoggedIn = errors.New("client: already logged in")
	ErrNotLoggedIn     = errors.New("client: not logged in")
	ErrAuthInProgress  = errors.New("client: login already in progress")
	ErrLoginCancelled  = errors.New("client: login cancelled")
	ErrUnexpectedReply = errors.New("client: reply tag does not fit login state")
)

type AuthState int

const (
	StateIdle AuthState = iota
	StateLoggingIn
	StateRegistering
	StateLoggedIn
)

func (s AuthState) String() string {
	switch s {
	case StateIdle:
		return "idle"
	case StateLoggingIn:
		return "logging-in"
	case StateRegistering:
		return "registering"
	case StateLoggedIn:
		return "logged-in"
	default:
		return fmt.Sprintf("auth-state(%d)", int(s))
	}
}

// ClientAuth is the client half of the login exchange. It moves only on
// reply tags from the server.
type ClientAuth struct {
	sync *Sync

	mu         sync.Mutex
	state      AuthState
	username   string
	password   string
	sessionKey []byte
	sessionID  uint64
}

func NewClientAuth(s *Sync) *ClientAuth {
	return &ClientAuth{sync: s}
}

func (a *ClientAuth) State() AuthState {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.state
}

// Username is the logged-in (or pending) user name.
func (a *ClientAuth) Username() string {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.username
}

func (a *ClientAuth) SessionID() uint64 {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.sessionID
}

// Login runs the probe and confirm exchange for username.
func (a *ClientAuth) Login(ctx context.Context, username, password string) error {
	if err := a.begin(StateLoggingIn, username, password); err != nil {
		return err
	}
	next, err := a.exchange(ctx, protocol.Login{UsernameOrTag: protocol.StringPtr(username)})
	if err != nil || next == nil {
		return err
	}
	_, err = a.exchange(ctx, *next)
	return err
}

// Register creates username on the server and logs in as it.
func (a *ClientAuth) Register(ctx context.Context, username, password string) error {
	if err := a.begin(StateRegistering, username, password); err != nil {
		return err
	}
	_, err := a.exchange(ctx, protocol.Login{
		UsernameOrTag: protocol.StringPtr(username),
		Password:      protocol.StringPtr(password),
	})
	return err
}

// Logout ends the session. From a pending login it cancels instead.
func (a *ClientAuth) Logout(ctx context.Context) error {
	if a.State() == StateIdle {
		return ErrNotLoggedIn
	}
	_, err := a.exchange(ctx, protocol.Login{})
	if errors.Is(err, ErrLoginCancelled) {
		return nil
	}
	return err
}

func (a *ClientAuth) begin(state AuthState, username, password string) error {
	a.mu.Lock()
	defer a.mu.Unlock()
	switch a.state {
	case StateLoggedIn:
		return ErrAlreadyLoggedIn
	case StateLoggingIn, StateRegistering:
		return ErrAuthInProgress
	}
	a.state = state
	a.username = username
	a.password = password
	return nil
}

// exchange sends req and applies the reply. It returns the follow-up
// request when the exchange is not finished.
func (a *ClientAuth) exchange(ctx context.Context, req protocol.Login) (*protocol.Login, error) {
	reply, err := a.sync.Login(ctx, req)
	if err != nil {
		a.mu.Lock()
		if a.state != StateLoggedIn {
			a.resetLocked()
		}
		a.mu.Unlock()
		return nil, err
	}
	return a.Apply(reply)
}

// Apply moves the state machine on one server reply.
func (a *ClientAuth) Apply(reply protocol.Login) (*protocol.Login, error) {
	if reply.UsernameOrTag == nil {
		return nil, unknownTag("<nil>")
	}
	tag := *reply.UsernameOrTag

	a.mu.Lock()
	defer a.mu.Unlock()

	switch tag {
	case protocol.TagExists:
		if a.state != StateLoggingIn {
			a.resetLocked()
			return nil, ErrUnexpectedReply
		}
		return &protocol.Login{Password: protocol.StringPtr(a.password)}, nil
	case protocol.TagDoesNotExist:
		a.resetLocked()
		return nil, ErrNoSuchUser
	case protocol.TagWrongPassword:
		a.resetLocked()
		return nil, ErrWrongPassword
	case protocol.TagAlreadyExists:
		a.resetLocked()
		return nil, ErrUserExists
	case protocol.TagCancelled:
		a.resetLocked()
		return nil, ErrLoginCancelled
	case protocol.TagLoggedIn, protocol.TagRegistered:
		a.state = StateLoggedIn
		a.password = ""
		a.sessionKey = append([]byte(nil), reply.SessionKey...)
		a.sessionID = reply.SessionID
		if a.sync != nil {
			a.sync.SetSessionKey(a.sessionKey)
		}
		log.Info().Str("user", a.username).Uint64("session_id", a.sessionID).Msg("client.ClientAuth logged in")
		return nil, nil
	case protocol.TagLoggedOut:
		a.resetLocked()
		return nil, nil
	default:
		return nil, unknownTag(tag)
	}
}

func (a *ClientAuth) resetLocked() {
	a.state = StateIdle
	a.username = ""
	a.password = ""
	a.sessionKey = nil
	a.sessionID = 0
	if a.sync != nil {
		a.sync.SetSessionKey(nil)
	}
}

func unknownTag(tag string) error {
	return &protocol.ProtocolError{
		Kind: protocol.KindLogin,
		Err:  fmt.Errorf("%w: %q", protocol.ErrUnknownReplyTag, tag),
	}
}
