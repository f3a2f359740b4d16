package server

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/danmuck/minijira/internal/channel"
	"github.com/danmuck/minijira/internal/observability"
	"github.com/danmuck/minijira/internal/protocol"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
)

// Dispatcher runs the request loop for one connection: receive, route,
// send exactly one reply. Requests on a connection are handled strictly in
// order.
type Dispatcher struct {
	server      *Server
	ch          *channel.Channel
	auth        *AuthMachine
	idleTimeout time.Duration
	log         zerolog.Logger
}

func NewDispatcher(srv *Server, ch *channel.Channel, idleTimeout time.Duration, connID string) *Dispatcher {
	return &Dispatcher{
		server:      srv,
		ch:          ch,
		auth:        NewAuthMachine(srv, ch.RemoteAddr(), ch.LocalAddr()),
		idleTimeout: idleTimeout,
		log: log.With().
			Str("conn_id", connID).
			Str("remote", addrString(ch.RemoteAddr())).
			Logger(),
	}
}

// Auth exposes the connection's auth state.
func (d *Dispatcher) Auth() *AuthMachine {
	return d.auth
}

// Run serves until the channel fails or ctx ends. The session, if any, is
// destroyed on return.
func (d *Dispatcher) Run(ctx context.Context) error {
	defer func() {
		d.auth.Close()
		observability.SetActiveSessions(d.server.sessions.Count())
	}()

	for {
		env, err := d.receive(ctx)
		if err != nil {
			var perr *protocol.ProtocolError
			if errors.As(err, &perr) && !perr.Fatal {
				d.log.Warn().Err(err).Msg("server.Dispatcher rejected message")
				observability.RecordRequest(perr.Kind.String(), observability.OutcomeProtocol, 0)
				reply := protocol.NewReply(perr.MessageID, protocol.Error{Message: err.Error()})
				if err := d.send(ctx, reply); err != nil {
					return err
				}
				continue
			}
			return err
		}

		start := time.Now()
		reply := d.handle(env)
		outcome := observability.OutcomeOK
		if reply.Kind == protocol.KindError {
			outcome = observability.OutcomeError
		}
		observability.RecordRequest(env.Kind.String(), outcome, time.Since(start))
		d.log.Debug().
			Str("kind", env.Kind.String()).
			Uint64("message_id", env.MessageID).
			Str("reply", reply.Kind.String()).
			Msg("server.Dispatcher handled")

		if err := d.send(ctx, reply); err != nil {
			return err
		}
	}
}

func (d *Dispatcher) receive(ctx context.Context) (protocol.Envelope, error) {
	if d.idleTimeout <= 0 {
		return d.ch.Receive(ctx)
	}
	rctx, cancel := context.WithTimeout(ctx, d.idleTimeout)
	defer cancel()
	return d.ch.Receive(rctx)
}

// send writes reply. A reply that cannot be encoded is replaced by an error
// reply so the client is never left waiting.
func (d *Dispatcher) send(ctx context.Context, reply protocol.Envelope) error {
	err := d.ch.Send(ctx, reply)
	if err == nil {
		return nil
	}
	var ioErr *channel.IOError
	if errors.As(err, &ioErr) {
		return err
	}
	d.log.Error().Err(err).Str("kind", reply.Kind.String()).Msg("server.Dispatcher encode reply failed")
	fallback := protocol.NewReply(reply.MessageID, protocol.Error{Message: "server could not encode reply"})
	return d.ch.Send(ctx, fallback)
}

// handle maps one request to its reply envelope.
func (d *Dispatcher) handle(env protocol.Envelope) protocol.Envelope {
	payload, err := d.route(env)
	if err != nil {
		return protocol.NewReply(env.MessageID, protocol.Error{Message: errorMessage(err)})
	}
	return protocol.NewReply(env.MessageID, payload)
}

func (d *Dispatcher) route(env protocol.Envelope) (protocol.Payload, error) {
	if !env.Kind.IsRequest() || env.Response {
		return nil, fmt.Errorf("%w: %s", protocol.ErrNotRequest, env.Kind)
	}
	if len(env.Auth) > 0 {
		if err := d.auth.ValidateKey(env.Auth); err != nil {
			return nil, err
		}
	}

	srv := d.server
	actor := srv.actorFor(d.auth.Session())
	switch p := env.Payload.(type) {
	case protocol.CreateTask:
		return srv.createTask(actor, p)
	case protocol.RemoveTask:
		return srv.removeTask(actor, p)
	case protocol.UpdateTask:
		return srv.updateTask(actor, p)
	case protocol.GetTaskList:
		return srv.getTaskList(actor)
	case protocol.GetProject:
		return srv.getProject(actor, p)
	case protocol.SetProject:
		return srv.setProject(actor, p)
	case protocol.GetProjectList:
		return srv.getProjectList()
	case protocol.UserInfo:
		return srv.userInfo(actor, p)
	case protocol.Login:
		out, err := d.auth.Handle(p)
		observability.SetActiveSessions(srv.sessions.Count())
		if err != nil {
			return nil, err
		}
		return out, nil
	default:
		return nil, fmt.Errorf("%w: %s", protocol.ErrNotRequest, env.Kind)
	}
}
