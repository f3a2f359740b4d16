package protocol

import (
	"bytes"
	"errors"
	"reflect"
	"strings"
	"testing"

	"github.com/danmuck/minijira/internal/protocol/frame"
	"github.com/danmuck/minijira/internal/testutil/testlog"
)

func sampleTask() Task {
	return Task{
		TaskID:              7,
		Title:               "fix bug",
		Description:         "nil deref in board view",
		Priority:            2,
		DeadlineMS:          1_700_000_000_000,
		DateCreatedMS:       1_690_000_000_000,
		MasterTaskID:        -1,
		CreatedBy:           3,
		AssignedEmployeeIDs: []int64{3, 4},
		BoardIDs:            []int64{0},
	}
}

func TestEnvelopeRoundTripEveryKind(t *testing.T) {
	testlog.Start(t)

	tests := []struct {
		name string
		env  Envelope
	}{
		{name: "create-task", env: NewRequest(1, CreateTask(sampleTask()))},
		{name: "remove-task", env: NewRequest(2, RemoveTask{TaskID: 9})},
		{name: "update-task", env: NewReply(3, UpdateTask(sampleTask()))},
		{name: "get-task-list", env: NewRequest(4, GetTaskList{})},
		{name: "set-task-list", env: NewReply(4, SetTaskList{Tasks: []Task{sampleTask()}})},
		{name: "set-task-list empty", env: NewReply(4, SetTaskList{Tasks: []Task{}})},
		{name: "get-project", env: NewRequest(5, GetProject{ProjectID: 2})},
		{name: "set-project", env: NewRequest(6, SetProject{ProjectID: 2, ProjectName: "backend", Tasks: []Task{sampleTask()}})},
		{name: "get-project-list", env: NewRequest(7, GetProjectList{})},
		{name: "set-project-list", env: NewReply(7, SetProjectList{Projects: []ProjectRef{{ProjectID: 0, ProjectName: "default"}}})},
		{name: "login probe", env: NewRequest(8, Login{UsernameOrTag: StringPtr("alice")})},
		{name: "login confirm", env: NewRequest(9, Login{Password: StringPtr("hunter2")})},
		{name: "login cancel", env: NewRequest(10, Login{})},
		{name: "login reply", env: NewReply(10, Login{UsernameOrTag: StringPtr(TagLoggedIn), SessionKey: []byte{1, 2, 3}, SessionID: 4})},
		{name: "user-info self", env: NewRequest(11, UserInfo{Email: StringPtr("a@example.com"), FriendIDs: []int64{}})},
		{name: "user-info rights", env: NewRequest(12, UserInfo{Username: StringPtr("bob"), ProjectIDs: []int64{1}, ProjectRights: []int32{4}})},
		{name: "response", env: NewReply(13, Response{})},
		{name: "error", env: NewReply(14, Error{Message: "nope"})},
		{name: "with auth block", env: Envelope{Kind: KindGetTaskList, MessageID: 15, Auth: []byte("session-key"), Payload: GetTaskList{}}},
	}

	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			raw, err := Encode(tc.env)
			if err != nil {
				t.Fatalf("encode: %v", err)
			}
			out, err := Decode(raw)
			if err != nil {
				t.Fatalf("decode: %v", err)
			}
			if !reflect.DeepEqual(out, tc.env) {
				t.Fatalf("round trip mismatch:\n got=%#v\nwant=%#v", out, tc.env)
			}
		})
	}
}

func TestUserInfoNilAndEmptyFriendsAreDistinct(t *testing.T) {
	testlog.Start(t)

	for _, friends := range [][]int64{nil, {}} {
		raw, err := Encode(NewRequest(1, UserInfo{FriendIDs: friends}))
		if err != nil {
			t.Fatalf("encode: %v", err)
		}
		out, err := Decode(raw)
		if err != nil {
			t.Fatalf("decode: %v", err)
		}
		got := out.Payload.(UserInfo).FriendIDs
		if (got == nil) != (friends == nil) {
			t.Fatalf("nil-ness lost: sent nil=%v got nil=%v", friends == nil, got == nil)
		}
	}
}

func TestEncodeFrameSetsFlags(t *testing.T) {
	testlog.Start(t)

	codec := DefaultCodec()
	f, err := codec.EncodeFrame(NewReply(5, Error{Message: "bad"}))
	if err != nil {
		t.Fatalf("encode frame: %v", err)
	}
	if f.Header.Flags&frame.FlagIsResponse == 0 || f.Header.Flags&frame.FlagIsError == 0 {
		t.Fatalf("expected response and error flags, got %#x", f.Header.Flags)
	}
	if f.Header.Kind != uint32(KindError) || f.Header.MessageID != 5 {
		t.Fatalf("unexpected header: %+v", f.Header)
	}
}

func TestEncodeFrameRejectsKindMismatch(t *testing.T) {
	testlog.Start(t)

	_, err := DefaultCodec().EncodeFrame(Envelope{Kind: KindLogin, Payload: Response{}})
	if err == nil {
		t.Fatalf("expected kind mismatch error")
	}
	if _, err := DefaultCodec().EncodeFrame(Envelope{Kind: KindLogin}); err == nil {
		t.Fatalf("expected missing payload error")
	}
}

func TestCompressedPayloadRoundTrip(t *testing.T) {
	testlog.Start(t)

	task := sampleTask()
	task.Description = strings.Repeat("the same sentence over and over. ", 400)
	env := NewRequest(21, CreateTask(task))

	codec := DefaultCodec()
	f, err := codec.EncodeFrame(env)
	if err != nil {
		t.Fatalf("encode frame: %v", err)
	}
	if f.Header.Flags&frame.FlagCompressed == 0 {
		t.Fatalf("expected compressed flag for payload of %d bytes", len(task.Description))
	}
	out, err := codec.DecodeFrame(f)
	if err != nil {
		t.Fatalf("decode frame: %v", err)
	}
	if !reflect.DeepEqual(out, env) {
		t.Fatalf("compressed round trip mismatch")
	}

	codec.CompressThreshold = 0
	f, err = codec.EncodeFrame(env)
	if err != nil {
		t.Fatalf("encode frame: %v", err)
	}
	if f.Header.Flags&frame.FlagCompressed != 0 {
		t.Fatalf("compression must be off with zero threshold")
	}
}

func TestDecodeFrameWrongShapeIsNonFatal(t *testing.T) {
	testlog.Start(t)

	codec := DefaultCodec()
	f, err := codec.EncodeFrame(NewRequest(31, SetProjectList{Projects: []ProjectRef{{ProjectID: 1, ProjectName: "x"}}}))
	if err != nil {
		t.Fatalf("encode frame: %v", err)
	}
	f.Header.Kind = uint32(KindRemoveTask)

	_, err = codec.DecodeFrame(f)
	if !errors.Is(err, ErrMalformedPayload) {
		t.Fatalf("expected ErrMalformedPayload, got %v", err)
	}
	if IsFatal(err) {
		t.Fatalf("malformed payload must not be fatal")
	}
	var perr *ProtocolError
	if !errors.As(err, &perr) || perr.MessageID != 31 || perr.Kind != KindRemoveTask {
		t.Fatalf("expected protocol error carrying kind and id, got %#v", err)
	}

	for _, body := range [][]byte{{0xf6}, {0xf7}} {
		_, err = codec.DecodeFrame(frame.Frame{
			Header:  frame.Header{MessageID: 32, Kind: uint32(KindCreateTask)},
			Payload: body,
		})
		if !errors.Is(err, ErrMalformedPayload) || IsFatal(err) {
			t.Fatalf("expected non-fatal malformed payload for body %#x, got %v", body, err)
		}
	}
}

func TestDecodeFrameUnknownKind(t *testing.T) {
	testlog.Start(t)

	codec := DefaultCodec()
	f, err := codec.EncodeFrame(NewRequest(32, Response{}))
	if err != nil {
		t.Fatalf("encode frame: %v", err)
	}
	f.Header.Kind = 99

	_, err = codec.DecodeFrame(f)
	if !errors.Is(err, ErrUnknownKind) {
		t.Fatalf("expected ErrUnknownKind, got %v", err)
	}
	if IsFatal(err) {
		t.Fatalf("unknown kind must not be fatal")
	}
}

func TestDecodeRejectsCorruptFraming(t *testing.T) {
	testlog.Start(t)

	raw, err := Encode(NewRequest(1, GetTaskList{}))
	if err != nil {
		t.Fatalf("encode: %v", err)
	}

	badMagic := bytes.Clone(raw)
	badMagic[0] ^= 0xff
	if _, err := Decode(badMagic); !errors.Is(err, ErrMalformedFrame) || !IsFatal(err) {
		t.Fatalf("expected fatal malformed frame for bad magic, got %v", err)
	}

	if _, err := Decode(append(bytes.Clone(raw), 0x00)); !errors.Is(err, ErrMalformedFrame) || !IsFatal(err) {
		t.Fatalf("expected fatal malformed frame for trailing bytes, got %v", err)
	}

	if _, err := Decode(raw[:10]); !IsFatal(err) {
		t.Fatalf("expected fatal error for truncated input, got %v", err)
	}
}

func TestResponseKindTable(t *testing.T) {
	testlog.Start(t)

	tests := []struct {
		request Kind
		want    Kind
	}{
		{KindCreateTask, KindUpdateTask},
		{KindRemoveTask, KindResponse},
		{KindUpdateTask, KindResponse},
		{KindGetTaskList, KindSetTaskList},
		{KindGetProject, KindSetProject},
		{KindSetProject, KindResponse},
		{KindGetProjectList, KindSetProjectList},
		{KindLogin, KindLogin},
		{KindUserInfo, KindResponse},
	}
	for _, tc := range tests {
		got, ok := ResponseKind(tc.request)
		if !ok || got != tc.want {
			t.Fatalf("ResponseKind(%s) = %s,%v want %s", tc.request, got, ok, tc.want)
		}
	}
	for _, k := range []Kind{KindResponse, KindError, KindSetProjectList, KindSetTaskList} {
		if k.IsRequest() {
			t.Fatalf("%s must not be a request", k)
		}
	}
	if Kind(99).Valid() || Kind(99).String() != "kind(99)" {
		t.Fatalf("unexpected handling of unknown kind")
	}
}

func TestIsReplyTag(t *testing.T) {
	testlog.Start(t)

	for _, tag := range []string{TagExists, TagDoesNotExist, TagLoggedIn, TagWrongPassword, TagCancelled, TagLoggedOut, TagRegistered, TagAlreadyExists} {
		if !IsReplyTag(tag) {
			t.Fatalf("expected %q to be a reply tag", tag)
		}
	}
	if IsReplyTag("alice") {
		t.Fatalf("usernames are not reply tags")
	}
}
