package client

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/danmuck/minijira/internal/channel"
	"github.com/danmuck/minijira/internal/protocol"
	"github.com/rs/zerolog/log"
)

var ErrCallInProgress = errors.New("client: call already in progress")

// Sync correlates each request with its single response. At most one call
// is outstanding; a second concurrent call fails instead of interleaving.
type Sync struct {
	ch          *channel.Channel
	callTimeout time.Duration

	pending sync.Mutex
	nextID  atomic.Uint64

	keyMu sync.RWMutex
	key   []byte
}

func NewSync(ch *channel.Channel, callTimeout time.Duration) *Sync {
	return &Sync{ch: ch, callTimeout: callTimeout}
}

// SetSessionKey sets the auth block sent with every later request. A nil
// key stops sending one.
func (s *Sync) SetSessionKey(key []byte) {
	s.keyMu.Lock()
	defer s.keyMu.Unlock()
	s.key = append([]byte(nil), key...)
	if len(key) == 0 {
		s.key = nil
	}
}

func (s *Sync) sessionKey() []byte {
	s.keyMu.RLock()
	defer s.keyMu.RUnlock()
	return s.key
}

func (s *Sync) Close() error {
	return s.ch.Close()
}

func (s *Sync) Closed() bool {
	return s.ch.Closed()
}

// Call sends payload and waits for the matching response. The reply must
// carry the request's message id and the expected kind; an error reply
// becomes *protocol.ServerError. A call that times out closes the
// connection so a late reply can never be read by the next call.
func (s *Sync) Call(ctx context.Context, payload protocol.Payload, expected protocol.Kind) (protocol.Payload, error) {
	if !s.pending.TryLock() {
		return nil, ErrCallInProgress
	}
	defer s.pending.Unlock()

	if s.callTimeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, s.callTimeout)
		defer cancel()
	}

	env := protocol.NewRequest(s.nextID.Add(1), payload)
	env.Auth = s.sessionKey()
	if err := s.ch.Send(ctx, env); err != nil {
		return nil, err
	}

	reply, err := s.ch.Receive(ctx)
	if err != nil {
		var perr *protocol.ProtocolError
		if errors.As(err, &perr) && !perr.Fatal && perr.MessageID == env.MessageID {
			return nil, err
		}
		if !s.ch.Closed() {
			_ = s.ch.Close()
		}
		return nil, err
	}

	// An error reply with id 0 answers a frame the server could not read
	// an id from; every other reply must echo the request id.
	if reply.MessageID != env.MessageID && !(reply.Kind == protocol.KindError && reply.MessageID == 0) {
		_ = s.ch.Close()
		return nil, unexpectedID(env, reply)
	}
	if reply.Kind == protocol.KindError {
		msg := ""
		if e, ok := reply.Payload.(protocol.Error); ok {
			msg = e.Message
		}
		return nil, &protocol.ServerError{Message: msg}
	}
	if reply.Kind != expected {
		log.Warn().Str("expected", expected.String()).Str("got", reply.Kind.String()).Msg("client.Sync.Call unexpected response")
		return nil, &protocol.UnexpectedResponseError{Expected: expected, Got: reply.Kind}
	}
	return reply.Payload, nil
}

func unexpectedID(req, reply protocol.Envelope) error {
	return &protocol.ProtocolError{
		Kind:      reply.Kind,
		MessageID: reply.MessageID,
		Fatal:     true,
		Err:       fmt.Errorf("%w: sent %d", protocol.ErrUnexpectedMessageID, req.MessageID),
	}
}

// call sends a request and checks the reply kind against the response table.
func call[T protocol.Payload](ctx context.Context, s *Sync, req protocol.Payload) (T, error) {
	var zero T
	expected, ok := protocol.ResponseKind(req.Kind())
	if !ok {
		return zero, fmt.Errorf("%w: %s", protocol.ErrNotRequest, req.Kind())
	}
	out, err := s.Call(ctx, req, expected)
	if err != nil {
		return zero, err
	}
	typed, ok := out.(T)
	if !ok {
		return zero, &protocol.UnexpectedResponseError{Expected: expected, Got: out.Kind()}
	}
	return typed, nil
}

// CreateTask returns the stored task as echoed by the server, with its id.
func (s *Sync) CreateTask(ctx context.Context, t protocol.Task) (protocol.UpdateTask, error) {
	return call[protocol.UpdateTask](ctx, s, protocol.CreateTask(t))
}

func (s *Sync) UpdateTask(ctx context.Context, t protocol.Task) error {
	_, err := call[protocol.Response](ctx, s, protocol.UpdateTask(t))
	return err
}

func (s *Sync) RemoveTask(ctx context.Context, taskID int64) error {
	_, err := call[protocol.Response](ctx, s, protocol.RemoveTask{TaskID: taskID})
	return err
}

func (s *Sync) GetTaskList(ctx context.Context) (protocol.SetTaskList, error) {
	return call[protocol.SetTaskList](ctx, s, protocol.GetTaskList{})
}

func (s *Sync) GetProject(ctx context.Context, projectID int64) (protocol.SetProject, error) {
	return call[protocol.SetProject](ctx, s, protocol.GetProject{ProjectID: projectID})
}

func (s *Sync) SetProject(ctx context.Context, p protocol.SetProject) error {
	_, err := call[protocol.Response](ctx, s, p)
	return err
}

func (s *Sync) GetProjectList(ctx context.Context) (protocol.SetProjectList, error) {
	return call[protocol.SetProjectList](ctx, s, protocol.GetProjectList{})
}

func (s *Sync) Login(ctx context.Context, l protocol.Login) (protocol.Login, error) {
	return call[protocol.Login](ctx, s, l)
}

func (s *Sync) UserInfo(ctx context.Context, u protocol.UserInfo) error {
	_, err := call[protocol.Response](ctx, s, u)
	return err
}
