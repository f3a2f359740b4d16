package store

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"reflect"
	"sync"
	"testing"

	"github.com/danmuck/minijira/internal/auth"
	"github.com/danmuck/minijira/internal/permission"
	"github.com/danmuck/minijira/internal/testutil/testlog"
)

func TestTasksCRUD(t *testing.T) {
	testlog.Start(t)

	s := NewTasks()
	if s.MaxID() != 0 {
		t.Fatalf("empty store max id should be 0")
	}
	s.Put(Task{ID: 6, Title: "a", Boards: []int64{0}})
	s.Put(Task{ID: 2, Title: "b", Boards: []int64{1}})

	if got := s.MaxID(); got != 6 {
		t.Fatalf("max id = %d want 6", got)
	}
	list := s.List()
	if len(list) != 2 || list[0].ID != 2 || list[1].ID != 6 {
		t.Fatalf("expected tasks sorted by id, got %+v", list)
	}
	if byBoard := s.ListByBoard(1); len(byBoard) != 1 || byBoard[0].ID != 2 {
		t.Fatalf("unexpected board listing: %+v", byBoard)
	}

	got, err := s.Get(6)
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	got.Boards[0] = 99
	again, _ := s.Get(6)
	if again.Boards[0] != 0 {
		t.Fatalf("Get must return a copy")
	}

	if err := s.Delete(6); err != nil {
		t.Fatalf("delete: %v", err)
	}
	if _, err := s.Get(6); !errors.Is(err, ErrNotFound) {
		t.Fatalf("expected ErrNotFound after delete, got %v", err)
	}
	if err := s.Delete(6); !errors.Is(err, ErrNotFound) {
		t.Fatalf("expected ErrNotFound on second delete, got %v", err)
	}
}

func TestUsersCreateIsAtomic(t *testing.T) {
	testlog.Start(t)

	s := NewUsers()
	const workers = 16
	var wg sync.WaitGroup
	var mu sync.Mutex
	created, exists := 0, 0
	for i := 0; i < workers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, err := s.Create("alice", auth.Credential{})
			mu.Lock()
			defer mu.Unlock()
			switch {
			case err == nil:
				created++
			case errors.Is(err, ErrExists):
				exists++
			default:
				t.Errorf("unexpected err: %v", err)
			}
		}()
	}
	wg.Wait()
	if created != 1 || exists != workers-1 {
		t.Fatalf("created=%d exists=%d", created, exists)
	}
}

func TestUsersUpdate(t *testing.T) {
	testlog.Start(t)

	s := NewUsers()
	u, err := s.Create("bob", auth.Credential{})
	if err != nil {
		t.Fatalf("create: %v", err)
	}

	_, err = s.Update(u.ID, func(u *User) error {
		u.Email = "changed@example.com"
		return errors.New("abort")
	})
	if err == nil {
		t.Fatalf("expected callback error")
	}
	if got, _ := s.GetByName("bob"); got.Email != "" {
		t.Fatalf("failed update must not persist, got email %q", got.Email)
	}

	updated, err := s.Update(u.ID, func(u *User) error {
		u.Email = "bob@example.com"
		u.SetRight(3, permission.All)
		u.AddFriend(7)
		u.AddFriend(7)
		u.Name = "mallory"
		return nil
	})
	if err != nil {
		t.Fatalf("update: %v", err)
	}
	if updated.Name != "bob" || updated.Email != "bob@example.com" || len(updated.Friends) != 1 {
		t.Fatalf("unexpected user after update: %+v", updated)
	}
	if !permission.Check(&updated, 3, permission.All) {
		t.Fatalf("expected ALL on project 3")
	}
	if _, err := s.Update(99, func(*User) error { return nil }); !errors.Is(err, ErrNotFound) {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}
}

func TestBoardsPutReportsCreation(t *testing.T) {
	testlog.Start(t)

	s := NewBoards()
	if !s.Put(Board{ID: 1, Name: "backend"}) {
		t.Fatalf("first put should create")
	}
	if s.Put(Board{ID: 1, Name: "renamed"}) {
		t.Fatalf("second put should update")
	}
	b, err := s.Get(1)
	if err != nil || b.Name != "renamed" {
		t.Fatalf("unexpected board %+v err=%v", b, err)
	}
}

func TestFileBackendRoundTrip(t *testing.T) {
	testlog.Start(t)

	set := NewSet()
	set.Tasks.Put(Task{ID: 1, Title: "fix bug", Boards: []int64{0}, AssignedEmployees: []int64{2}})
	u, err := set.Users.Create("alice", auth.Credential{KDF: auth.KDFPBKDF2, Iterations: 10, Hash: []byte{1}, Salt: []byte{2}})
	if err != nil {
		t.Fatalf("create user: %v", err)
	}
	if _, err := set.Users.Update(u.ID, func(u *User) error {
		u.SetRight(0, permission.All)
		return nil
	}); err != nil {
		t.Fatalf("update user: %v", err)
	}
	set.Boards.Put(Board{ID: 0, Name: "default"})

	backend := NewFileBackend(filepath.Join(t.TempDir(), "data"))
	ctx := context.Background()
	if err := backend.Save(ctx, set.Snapshot()); err != nil {
		t.Fatalf("save: %v", err)
	}
	snap, err := backend.Load(ctx)
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if !reflect.DeepEqual(snap, set.Snapshot()) {
		t.Fatalf("snapshot mismatch:\n got=%+v\nwant=%+v", snap, set.Snapshot())
	}

	restored := NewSet()
	restored.Restore(snap)
	again, err := restored.Users.Create("carol", auth.Credential{})
	if err != nil {
		t.Fatalf("create after restore: %v", err)
	}
	if again.ID <= u.ID {
		t.Fatalf("restored user ids must continue past %d, got %d", u.ID, again.ID)
	}
}

func TestFileBackendToleratesComments(t *testing.T) {
	testlog.Start(t)

	dir := t.TempDir()
	raw := "// seeded by hand\n{\"id\": 3, \"name\": \"ops\",}\n{\"id\": 4, \"name\": \"web\"}\n"
	if err := os.WriteFile(filepath.Join(dir, boardsFile), []byte(raw), 0o600); err != nil {
		t.Fatalf("write: %v", err)
	}
	snap, err := NewFileBackend(dir).Load(context.Background())
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if len(snap.Boards) != 2 || snap.Boards[0].Name != "ops" || snap.Boards[1].ID != 4 {
		t.Fatalf("unexpected boards: %+v", snap.Boards)
	}
	if snap.Tasks != nil || snap.Users != nil {
		t.Fatalf("missing files should load as empty")
	}
}
