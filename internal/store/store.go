// Package store holds tasks, users and boards in memory behind mutexes and
// moves them to and from durable snapshots.
package store

import (
	"errors"
	"slices"

	"github.com/danmuck/minijira/internal/auth"
	"github.com/danmuck/minijira/internal/permission"
)

var (
	ErrNotFound = errors.New("store: not found")
	ErrExists   = errors.New("store: already exists")
)

type Task struct {
	ID                int64   `json:"id"`
	Completed         bool    `json:"completed"`
	Title             string  `json:"title"`
	Description       string  `json:"description"`
	Priority          int32   `json:"priority"`
	DeadlineMS        int64   `json:"deadline_ms"`
	DateCreatedMS     int64   `json:"date_created_ms"`
	MasterTaskID      int64   `json:"master_task_id"`
	CreatedBy         int64   `json:"created_by"`
	AssignedEmployees []int64 `json:"assigned_employees"`
	Boards            []int64 `json:"boards"`
}

func (t Task) Clone() Task {
	t.AssignedEmployees = slices.Clone(t.AssignedEmployees)
	t.Boards = slices.Clone(t.Boards)
	return t
}

// OnBoard reports whether the task is listed on board.
func (t Task) OnBoard(board int64) bool {
	return slices.Contains(t.Boards, board)
}

type User struct {
	ID           int64                      `json:"id"`
	Name         string                     `json:"name"`
	Email        string                     `json:"email"`
	LastOnlineMS int64                      `json:"last_online_ms"`
	Friends      []int64                    `json:"friends"`
	Rights       map[int64]permission.Level `json:"rights"`
	Credential   auth.Credential            `json:"credential"`
}

func (u User) Clone() User {
	u.Friends = slices.Clone(u.Friends)
	if u.Rights != nil {
		rights := make(map[int64]permission.Level, len(u.Rights))
		for k, v := range u.Rights {
			rights[k] = v
		}
		u.Rights = rights
	}
	u.Credential.Hash = slices.Clone(u.Credential.Hash)
	u.Credential.Salt = slices.Clone(u.Credential.Salt)
	return u
}

func (u *User) SubjectName() string {
	if u == nil {
		return ""
	}
	return u.Name
}

func (u *User) PermissionOn(projectID int64) permission.Level {
	if u == nil {
		return permission.NoRight
	}
	return u.Rights[projectID]
}

// AddFriend appends id unless it is already present.
func (u *User) AddFriend(id int64) {
	if !slices.Contains(u.Friends, id) {
		u.Friends = append(u.Friends, id)
	}
}

func (u *User) SetRight(projectID int64, level permission.Level) {
	if u.Rights == nil {
		u.Rights = make(map[int64]permission.Level)
	}
	u.Rights[projectID] = level
}

type Board struct {
	ID   int64  `json:"id"`
	Name string `json:"name"`
}

// TaskStore is the task storage the server and client replica consume.
type TaskStore interface {
	Get(id int64) (Task, error)
	Put(t Task)
	Delete(id int64) error
	List() []Task
	ListByBoard(board int64) []Task
	MaxID() int64
}

type UserStore interface {
	GetByID(id int64) (User, error)
	GetByName(name string) (User, error)
	Create(name string, cred auth.Credential) (User, error)
	Update(id int64, fn func(*User) error) (User, error)
	List() []User
}

type BoardStore interface {
	Get(id int64) (Board, error)
	Put(b Board) (created bool)
	List() []Board
}

// Set bundles the three stores.
type Set struct {
	Tasks  *Tasks
	Users  *Users
	Boards *Boards
}

func NewSet() *Set {
	return &Set{
		Tasks:  NewTasks(),
		Users:  NewUsers(),
		Boards: NewBoards(),
	}
}

// Snapshot is a point-in-time copy of every store.
type Snapshot struct {
	Tasks  []Task
	Users  []User
	Boards []Board
}

func (s *Set) Snapshot() Snapshot {
	return Snapshot{
		Tasks:  s.Tasks.List(),
		Users:  s.Users.List(),
		Boards: s.Boards.List(),
	}
}

// Restore replaces all store contents with snap.
func (s *Set) Restore(snap Snapshot) {
	s.Tasks.replace(snap.Tasks)
	s.Users.replace(snap.Users)
	s.Boards.replace(snap.Boards)
}
