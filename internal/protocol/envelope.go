package protocol

import (
	"bytes"
	"errors"
	"fmt"
	"io"

	"github.com/danmuck/minijira/internal/protocol/frame"
)

// Envelope is one protocol message: kind, correlation id, optional session
// auth block and typed payload. Payload.Kind() always equals Kind.
type Envelope struct {
	Kind      Kind
	MessageID uint64
	Response  bool
	Auth      []byte
	Payload   Payload
}

// NewRequest builds a request envelope for p.
func NewRequest(messageID uint64, p Payload) Envelope {
	return Envelope{Kind: p.Kind(), MessageID: messageID, Payload: p}
}

// NewReply builds a reply envelope for p that echoes messageID.
func NewReply(messageID uint64, p Payload) Envelope {
	return Envelope{Kind: p.Kind(), MessageID: messageID, Response: true, Payload: p}
}

// Codec converts envelopes to and from frames.
type Codec struct {
	Limits frame.Limits
	// CompressThreshold is the encoded payload size at which zstd is tried.
	// Zero disables compression.
	CompressThreshold int
}

func DefaultCodec() Codec {
	return Codec{
		Limits:            frame.DefaultLimits(),
		CompressThreshold: 4096,
	}
}

// EncodeFrame serializes env into a frame. Errors here are caller bugs.
func (c Codec) EncodeFrame(env Envelope) (frame.Frame, error) {
	if env.Payload == nil {
		return frame.Frame{}, fmt.Errorf("protocol: envelope kind=%s has no payload", env.Kind)
	}
	if env.Payload.Kind() != env.Kind {
		return frame.Frame{}, fmt.Errorf(
			"protocol: payload kind=%s does not match envelope kind=%s",
			env.Payload.Kind(),
			env.Kind,
		)
	}
	body, err := marshalPayload(env.Payload)
	if err != nil {
		return frame.Frame{}, fmt.Errorf("protocol: encode %s payload: %w", env.Kind, err)
	}

	var flags uint32
	if env.Response {
		flags |= frame.FlagIsResponse
	}
	if env.Kind == KindError {
		flags |= frame.FlagIsError
	}
	if c.CompressThreshold > 0 && len(body) >= c.CompressThreshold {
		if packed := compress(body); len(packed) < len(body) {
			body = packed
			flags |= frame.FlagCompressed
		}
	}

	return frame.Frame{
		Header: frame.Header{
			MessageID: env.MessageID,
			Kind:      uint32(env.Kind),
			Flags:     flags,
		},
		Auth:    env.Auth,
		Payload: body,
	}, nil
}

// DecodeFrame turns a well-formed frame into an envelope. Failures are
// non-fatal ProtocolErrors: the frame boundary is intact.
func (c Codec) DecodeFrame(f frame.Frame) (Envelope, error) {
	kind := Kind(f.Header.Kind)
	id := f.Header.MessageID
	target, ok := newPayload(kind)
	if !ok {
		return Envelope{}, &ProtocolError{Kind: kind, MessageID: id, Err: ErrUnknownKind}
	}

	body := f.Payload
	if f.Header.Flags&frame.FlagCompressed != 0 {
		raw, err := decompress(body)
		if err != nil {
			return Envelope{}, &ProtocolError{
				Kind:      kind,
				MessageID: id,
				Err:       fmt.Errorf("%w: zstd: %w", ErrMalformedPayload, err),
			}
		}
		if uint64(len(raw)) > c.Limits.MaxPayloadBytes {
			return Envelope{}, &ProtocolError{
				Kind:      kind,
				MessageID: id,
				Err:       fmt.Errorf("%w: %w", ErrMalformedPayload, frame.ErrPayloadTooLarge),
			}
		}
		body = raw
	}

	if err := unmarshalPayload(body, target); err != nil {
		return Envelope{}, &ProtocolError{
			Kind:      kind,
			MessageID: id,
			Err:       fmt.Errorf("%w: %w", ErrMalformedPayload, err),
		}
	}

	return Envelope{
		Kind:      kind,
		MessageID: id,
		Response:  f.Header.Flags&frame.FlagIsResponse != 0,
		Auth:      f.Auth,
		Payload:   derefPayload(target),
	}, nil
}

// Write encodes env and writes it as one frame.
func (c Codec) Write(w io.Writer, env Envelope) error {
	f, err := c.EncodeFrame(env)
	if err != nil {
		return err
	}
	return frame.WriteFrame(w, f, c.Limits)
}

// Read reads one frame and decodes it. Stream failures are returned as-is;
// malformed framing is a fatal ProtocolError.
func (c Codec) Read(r io.Reader) (Envelope, error) {
	f, err := frame.ReadFrame(r, c.Limits)
	if err != nil {
		if frame.IsMalformed(err) {
			return Envelope{}, &ProtocolError{
				Fatal: true,
				Err:   fmt.Errorf("%w: %w", ErrMalformedFrame, err),
			}
		}
		return Envelope{}, err
	}
	return c.DecodeFrame(f)
}

// Encode serializes env to bytes with the default codec.
func Encode(env Envelope) ([]byte, error) {
	var buf bytes.Buffer
	if err := DefaultCodec().Write(&buf, env); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

// Decode parses exactly one envelope from b with the default codec.
func Decode(b []byte) (Envelope, error) {
	r := bytes.NewReader(b)
	env, err := DefaultCodec().Read(r)
	if err != nil {
		var perr *ProtocolError
		if errors.As(err, &perr) {
			return Envelope{}, err
		}
		return Envelope{}, &ProtocolError{Fatal: true, Err: fmt.Errorf("%w: %w", ErrMalformedFrame, err)}
	}
	if r.Len() != 0 {
		return Envelope{}, &ProtocolError{
			Kind:      env.Kind,
			MessageID: env.MessageID,
			Fatal:     true,
			Err:       fmt.Errorf("%w: %d trailing bytes", ErrMalformedFrame, r.Len()),
		}
	}
	return env, nil
}
