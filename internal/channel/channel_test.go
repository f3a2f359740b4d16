package channel

import (
	"context"
	"errors"
	"net"
	"os"
	"testing"
	"time"

	"github.com/danmuck/minijira/internal/protocol"
	"github.com/danmuck/minijira/internal/protocol/frame"
	"github.com/danmuck/minijira/internal/testutil/testlog"
)

func newPipe(t *testing.T) (*Channel, *Channel) {
	t.Helper()
	a, b := net.Pipe()
	left := New(a, DefaultConfig())
	right := New(b, DefaultConfig())
	t.Cleanup(func() {
		_ = left.Close()
		_ = right.Close()
	})
	return left, right
}

func TestSendReceiveRoundTrip(t *testing.T) {
	testlog.Start(t)

	left, right := newPipe(t)
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()

	want := protocol.NewRequest(7, protocol.GetProject{ProjectID: 3})
	errCh := make(chan error, 1)
	go func() {
		errCh <- left.Send(ctx, want)
	}()

	got, err := right.Receive(ctx)
	if err != nil {
		t.Fatalf("receive: %v", err)
	}
	if err := <-errCh; err != nil {
		t.Fatalf("send: %v", err)
	}
	if got.Kind != protocol.KindGetProject || got.MessageID != 7 {
		t.Fatalf("unexpected envelope: %+v", got)
	}
	if got.Payload.(protocol.GetProject).ProjectID != 3 {
		t.Fatalf("payload mismatch: %+v", got.Payload)
	}
}

func TestReceivePeerClosedIsIOError(t *testing.T) {
	testlog.Start(t)

	left, right := newPipe(t)
	_ = left.Close()

	_, err := right.Receive(context.Background())
	var ioErr *IOError
	if !errors.As(err, &ioErr) {
		t.Fatalf("expected IOError, got %v", err)
	}
	if !right.Closed() {
		t.Fatalf("channel should be closed after IOError")
	}
	if err := right.Send(context.Background(), protocol.NewReply(1, protocol.Response{})); !errors.As(err, &ioErr) {
		t.Fatalf("send on closed channel should be IOError, got %v", err)
	}
}

func TestCloseUnblocksReceive(t *testing.T) {
	testlog.Start(t)

	_, right := newPipe(t)
	errCh := make(chan error, 1)
	go func() {
		_, err := right.Receive(context.Background())
		errCh <- err
	}()

	time.Sleep(20 * time.Millisecond)
	if err := right.Close(); err != nil {
		t.Fatalf("close: %v", err)
	}
	_ = right.Close()

	select {
	case err := <-errCh:
		var ioErr *IOError
		if !errors.As(err, &ioErr) {
			t.Fatalf("expected IOError, got %v", err)
		}
	case <-time.After(2 * time.Second):
		t.Fatalf("receive did not unblock after close")
	}
}

func TestReceiveHonorsContextDeadline(t *testing.T) {
	testlog.Start(t)

	_, right := newPipe(t)
	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Millisecond)
	defer cancel()

	_, err := right.Receive(ctx)
	var ioErr *IOError
	if !errors.As(err, &ioErr) {
		t.Fatalf("expected IOError, got %v", err)
	}
	if !errors.Is(err, os.ErrDeadlineExceeded) && !errors.Is(err, context.DeadlineExceeded) {
		t.Fatalf("expected deadline error, got %v", err)
	}
}

func TestMalformedPayloadKeepsChannelOpen(t *testing.T) {
	testlog.Start(t)

	a, b := net.Pipe()
	right := New(b, DefaultConfig())
	defer right.Close()
	defer a.Close()

	codec := protocol.DefaultCodec()
	bad, err := codec.EncodeFrame(protocol.NewRequest(1, protocol.SetProjectList{Projects: []protocol.ProjectRef{{ProjectID: 1}}}))
	if err != nil {
		t.Fatalf("encode frame: %v", err)
	}
	bad.Header.Kind = uint32(protocol.KindRemoveTask)

	go func() {
		_ = frame.WriteFrame(a, bad, codec.Limits)
		_ = codec.Write(a, protocol.NewRequest(2, protocol.RemoveTask{TaskID: 5}))
	}()

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()

	_, err = right.Receive(ctx)
	if !errors.Is(err, protocol.ErrMalformedPayload) {
		t.Fatalf("expected malformed payload, got %v", err)
	}
	if right.Closed() {
		t.Fatalf("malformed payload must not close the channel")
	}

	env, err := right.Receive(ctx)
	if err != nil {
		t.Fatalf("receive after malformed payload: %v", err)
	}
	if env.MessageID != 2 || env.Payload.(protocol.RemoveTask).TaskID != 5 {
		t.Fatalf("unexpected envelope: %+v", env)
	}
}

func TestCorruptFrameClosesChannel(t *testing.T) {
	testlog.Start(t)

	a, b := net.Pipe()
	right := New(b, DefaultConfig())
	defer right.Close()
	defer a.Close()

	go func() {
		hdr := frame.EncodeHeader(frame.Header{Magic: 0xdeadbeef, Version: frame.Version, HeaderLen: frame.FixedHeaderLen})
		_, _ = a.Write(hdr)
	}()

	_, err := right.Receive(context.Background())
	if !errors.Is(err, protocol.ErrMalformedFrame) || !protocol.IsFatal(err) {
		t.Fatalf("expected fatal malformed frame, got %v", err)
	}
	if !right.Closed() {
		t.Fatalf("corrupt frame must close the channel")
	}
}

func TestSendEncodingErrorKeepsChannelOpen(t *testing.T) {
	testlog.Start(t)

	left, _ := newPipe(t)
	err := left.Send(context.Background(), protocol.Envelope{Kind: protocol.KindLogin, Payload: protocol.Response{}})
	if err == nil {
		t.Fatalf("expected encode error")
	}
	var ioErr *IOError
	if errors.As(err, &ioErr) {
		t.Fatalf("encode error must not be an IOError")
	}
	if left.Closed() {
		t.Fatalf("encode error must not close the channel")
	}
}
