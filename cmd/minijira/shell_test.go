package main

import (
	"bytes"
	"context"
	"net"
	"strings"
	"testing"
	"time"

	"github.com/danmuck/minijira/internal/auth"
	"github.com/danmuck/minijira/internal/channel"
	"github.com/danmuck/minijira/internal/client"
	"github.com/danmuck/minijira/internal/permission"
	"github.com/danmuck/minijira/internal/protocol"
	"github.com/danmuck/minijira/internal/server"
	"github.com/danmuck/minijira/internal/store"
	"github.com/danmuck/minijira/internal/testutil/testlog"
)

func runScript(t *testing.T, script string) (string, *store.Set) {
	t.Helper()
	serverStores := store.NewSet()
	srv := server.NewServer(serverStores, permission.Gate{}, auth.Params{KDF: auth.KDFPBKDF2, Iterations: 1000})

	a, b := net.Pipe()
	serverCh := channel.New(b, channel.DefaultConfig())
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go func() {
		_ = server.NewDispatcher(srv, serverCh, time.Minute, "shell").Run(ctx)
	}()
	s := client.NewSync(channel.New(a, channel.DefaultConfig()), 2*time.Second)
	defer s.Close()
	defer serverCh.Close()

	local := store.NewSet()
	var out bytes.Buffer
	sh := newShell(s, client.NewReplica(local.Tasks, local.Boards), strings.NewReader(script), &out)
	if err := sh.Run(ctx); err != nil {
		t.Fatalf("run: %v\n%s", err, out.String())
	}
	return out.String(), serverStores
}

func TestShellScript(t *testing.T) {
	testlog.Start(t)

	out, stores := runScript(t, strings.Join([]string{
		"register alice",
		"secret",
		"task create -1 fix bug",
		"task set 1 priority 3",
		"task complete 1",
		"board create 4 backend",
		"board list",
		"task pull",
		"user email alice@example.com",
		"frobnicate",
		"logout",
		"quit",
		"task list",
	}, "\n"))

	for _, want := range []string{
		"logged in as alice",
		"created task 1",
		"updated task 1",
		"board 4 saved",
		"backend",
		"fix bug",
		"ok",
		`error: unknown command "frobnicate"`,
		"logged out",
	} {
		if !strings.Contains(out, want) {
			t.Fatalf("output missing %q:\n%s", want, out)
		}
	}

	task, err := stores.Tasks.Get(1)
	if err != nil {
		t.Fatalf("task 1 not on server: %v", err)
	}
	if !task.Completed || task.Priority != 3 || task.Boards[0] != server.DefaultBoardID {
		t.Fatalf("unexpected server task: %+v", task)
	}
	alice, err := stores.Users.GetByName("alice")
	if err != nil {
		t.Fatalf("alice not stored: %v", err)
	}
	if alice.Email != "alice@example.com" || alice.PermissionOn(4) != permission.All {
		t.Fatalf("unexpected alice: %+v", alice)
	}
}

func TestShellReportsServerErrors(t *testing.T) {
	testlog.Start(t)

	out, _ := runScript(t, strings.Join([]string{
		"task remove 42",
		"user perm bob 3 all",
		"task complete 9",
		"quit",
	}, "\n"))

	for _, want := range []string{
		"error: server: store: not found",
		"error: server: Don't have the rights to change permissions for project 3",
		"not known locally",
	} {
		if !strings.Contains(out, want) {
			t.Fatalf("output missing %q:\n%s", want, out)
		}
	}
}

func TestSetTaskField(t *testing.T) {
	var task protocol.Task
	tests := []struct {
		field, value string
		wantErr      bool
	}{
		{field: "title", value: "new"},
		{field: "priority", value: "2"},
		{field: "priority", value: "high", wantErr: true},
		{field: "deadline", value: "2026-01-31"},
		{field: "deadline", value: "tomorrow", wantErr: true},
		{field: "assign", value: "1,2 3"},
		{field: "colour", value: "red", wantErr: true},
	}
	for _, tc := range tests {
		err := setTaskField(&task, tc.field, tc.value)
		if (err != nil) != tc.wantErr {
			t.Fatalf("%s=%s: err=%v wantErr=%v", tc.field, tc.value, err, tc.wantErr)
		}
	}
	if task.Title != "new" || task.Priority != 2 || len(task.AssignedEmployeeIDs) != 3 || task.DeadlineMS == 0 {
		t.Fatalf("unexpected task: %+v", task)
	}
}
