package store

import (
	"cmp"
	"fmt"
	"slices"
	"sync"

	"github.com/danmuck/minijira/internal/auth"
)

type Tasks struct {
	mu    sync.RWMutex
	items map[int64]Task
}

func NewTasks() *Tasks {
	return &Tasks{items: make(map[int64]Task)}
}

func (s *Tasks) Get(id int64) (Task, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	t, ok := s.items[id]
	if !ok {
		return Task{}, fmt.Errorf("%w: task %d", ErrNotFound, id)
	}
	return t.Clone(), nil
}

func (s *Tasks) Put(t Task) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.items[t.ID] = t.Clone()
}

func (s *Tasks) Delete(id int64) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.items[id]; !ok {
		return fmt.Errorf("%w: task %d", ErrNotFound, id)
	}
	delete(s.items, id)
	return nil
}

// List returns every task ordered by id.
func (s *Tasks) List() []Task {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]Task, 0, len(s.items))
	for _, t := range s.items {
		out = append(out, t.Clone())
	}
	slices.SortFunc(out, func(a, b Task) int { return cmp.Compare(a.ID, b.ID) })
	return out
}

func (s *Tasks) ListByBoard(board int64) []Task {
	all := s.List()
	out := all[:0]
	for _, t := range all {
		if t.OnBoard(board) {
			out = append(out, t)
		}
	}
	return out
}

// MaxID returns the largest task id, or 0 when empty.
func (s *Tasks) MaxID() int64 {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var highest int64
	for id := range s.items {
		if id > highest {
			highest = id
		}
	}
	return highest
}

func (s *Tasks) replace(tasks []Task) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.items = make(map[int64]Task, len(tasks))
	for _, t := range tasks {
		s.items[t.ID] = t.Clone()
	}
}

type Users struct {
	mu     sync.RWMutex
	byID   map[int64]User
	byName map[string]int64
	nextID int64
}

func NewUsers() *Users {
	return &Users{
		byID:   make(map[int64]User),
		byName: make(map[string]int64),
		nextID: 1,
	}
}

func (s *Users) GetByID(id int64) (User, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	u, ok := s.byID[id]
	if !ok {
		return User{}, fmt.Errorf("%w: user %d", ErrNotFound, id)
	}
	return u.Clone(), nil
}

func (s *Users) GetByName(name string) (User, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	id, ok := s.byName[name]
	if !ok {
		return User{}, fmt.Errorf("%w: user %q", ErrNotFound, name)
	}
	return s.byID[id].Clone(), nil
}

// Create inserts a user under a fresh id. The name check and insert are one
// critical section, so concurrent registrations of a name yield one winner.
func (s *Users) Create(name string, cred auth.Credential) (User, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.byName[name]; ok {
		return User{}, fmt.Errorf("%w: user %q", ErrExists, name)
	}
	u := User{ID: s.nextID, Name: name, Credential: cred}
	s.nextID++
	s.byID[u.ID] = u
	s.byName[name] = u.ID
	return u.Clone(), nil
}

// Update applies fn to a copy of the user and stores it only if fn
// succeeds. Renames are not allowed through Update.
func (s *Users) Update(id int64, fn func(*User) error) (User, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	u, ok := s.byID[id]
	if !ok {
		return User{}, fmt.Errorf("%w: user %d", ErrNotFound, id)
	}
	next := u.Clone()
	if err := fn(&next); err != nil {
		return User{}, err
	}
	next.ID = u.ID
	next.Name = u.Name
	s.byID[id] = next
	return next.Clone(), nil
}

func (s *Users) List() []User {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]User, 0, len(s.byID))
	for _, u := range s.byID {
		out = append(out, u.Clone())
	}
	slices.SortFunc(out, func(a, b User) int { return cmp.Compare(a.ID, b.ID) })
	return out
}

func (s *Users) replace(users []User) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.byID = make(map[int64]User, len(users))
	s.byName = make(map[string]int64, len(users))
	s.nextID = 1
	for _, u := range users {
		s.byID[u.ID] = u.Clone()
		s.byName[u.Name] = u.ID
		if u.ID >= s.nextID {
			s.nextID = u.ID + 1
		}
	}
}

type Boards struct {
	mu    sync.RWMutex
	items map[int64]Board
}

func NewBoards() *Boards {
	return &Boards{items: make(map[int64]Board)}
}

func (s *Boards) Get(id int64) (Board, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	b, ok := s.items[id]
	if !ok {
		return Board{}, fmt.Errorf("%w: board %d", ErrNotFound, id)
	}
	return b, nil
}

// Put upserts b and reports whether the board is new.
func (s *Boards) Put(b Board) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	_, existed := s.items[b.ID]
	s.items[b.ID] = b
	return !existed
}

func (s *Boards) List() []Board {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]Board, 0, len(s.items))
	for _, b := range s.items {
		out = append(out, b)
	}
	slices.SortFunc(out, func(a, b Board) int { return cmp.Compare(a.ID, b.ID) })
	return out
}

func (s *Boards) replace(boards []Board) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.items = make(map[int64]Board, len(boards))
	for _, b := range boards {
		s.items[b.ID] = b
	}
}

var (
	_ TaskStore  = (*Tasks)(nil)
	_ UserStore  = (*Users)(nil)
	_ BoardStore = (*Boards)(nil)
)
