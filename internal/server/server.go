package server

import (
	"errors"
	"fmt"
	"slices"
	"time"

	"github.com/danmuck/minijira/internal/auth"
	"github.com/danmuck/minijira/internal/permission"
	"github.com/danmuck/minijira/internal/protocol"
	"github.com/danmuck/minijira/internal/store"
	"github.com/rs/zerolog/log"
)

// DefaultBoardID is the board a task lands on when it names none.
const DefaultBoardID int64 = 0

// Server owns the shared state every connection works against: stores,
// id allocator, session registry and permission gate.
type Server struct {
	tasks    store.TaskStore
	users    store.UserStore
	boards   store.BoardStore
	gate     permission.Gate
	kdf      auth.Params
	order    *Order
	sessions *Sessions
	now      func() time.Time
}

func NewServer(stores *store.Set, gate permission.Gate, kdf auth.Params) *Server {
	if _, err := stores.Boards.Get(DefaultBoardID); err != nil {
		stores.Boards.Put(store.Board{ID: DefaultBoardID, Name: "default"})
	}
	return &Server{
		tasks:    stores.Tasks,
		users:    stores.Users,
		boards:   stores.Boards,
		gate:     gate,
		kdf:      kdf,
		order:    NewOrder(stores.Tasks.MaxID()),
		sessions: NewSessions(),
		now:      time.Now,
	}
}

func (s *Server) Sessions() *Sessions {
	return s.sessions
}

func (s *Server) Order() *Order {
	return s.order
}

func (s *Server) createTask(actor *store.User, p protocol.CreateTask) (protocol.Payload, error) {
	t := store.TaskFromWire(protocol.Task(p))
	t.Boards = normalizeBoards(t.Boards)
	if err := s.gate.AuthorizeCreateTask(actor, t.Boards); err != nil {
		return nil, err
	}
	t.ID = s.order.Next()
	if t.DateCreatedMS == 0 {
		t.DateCreatedMS = s.now().UnixMilli()
	}
	if actor != nil {
		t.CreatedBy = actor.ID
	}
	s.tasks.Put(t)
	log.Debug().Int64("task_id", t.ID).Ints64("boards", t.Boards).Msg("server.Server.createTask stored")
	return protocol.UpdateTask(t.Wire()), nil
}

func (s *Server) removeTask(actor *store.User, p protocol.RemoveTask) (protocol.Payload, error) {
	t, err := s.tasks.Get(p.TaskID)
	if err != nil {
		return nil, err
	}
	if err := s.gate.AuthorizeRemoveTask(actor, t.Boards); err != nil {
		return nil, err
	}
	if err := s.tasks.Delete(p.TaskID); err != nil {
		return nil, err
	}
	return protocol.Response{}, nil
}

func (s *Server) updateTask(actor *store.User, p protocol.UpdateTask) (protocol.Payload, error) {
	old, err := s.tasks.Get(p.TaskID)
	if err != nil {
		return nil, err
	}
	next := store.TaskFromWire(protocol.Task(p))
	next.Boards = normalizeBoards(next.Boards)
	touched := slices.Concat(old.Boards, next.Boards)
	if err := s.gate.AuthorizeUpdateTask(actor, touched, old.Completed != next.Completed); err != nil {
		return nil, err
	}
	if next.DateCreatedMS == 0 {
		next.DateCreatedMS = old.DateCreatedMS
	}
	if next.CreatedBy == 0 {
		next.CreatedBy = old.CreatedBy
	}
	s.tasks.Put(next)
	return protocol.Response{}, nil
}

func (s *Server) getTaskList(actor *store.User) (protocol.Payload, error) {
	all := s.tasks.List()
	out := make([]protocol.Task, 0, len(all))
	for _, t := range all {
		if s.gate.RequireAuth && !visibleTo(actor, t) {
			continue
		}
		out = append(out, t.Wire())
	}
	return protocol.SetTaskList{Tasks: out}, nil
}

func (s *Server) getProject(actor *store.User, p protocol.GetProject) (protocol.Payload, error) {
	if err := s.gate.AuthorizeReadProject(actor, p.ProjectID); err != nil {
		return nil, err
	}
	board, err := s.boards.Get(p.ProjectID)
	tasks := s.tasks.ListByBoard(p.ProjectID)
	if err != nil && len(tasks) == 0 {
		return nil, err
	}
	out := protocol.SetProject{
		ProjectID:   p.ProjectID,
		ProjectName: board.Name,
		Tasks:       make([]protocol.Task, 0, len(tasks)),
	}
	for _, t := range tasks {
		out.Tasks = append(out.Tasks, t.Wire())
	}
	return out, nil
}

// setProject upserts the board and then applies each task in order. The
// sequence is not atomic: a failure part way leaves earlier tasks applied.
func (s *Server) setProject(actor *store.User, p protocol.SetProject) (protocol.Payload, error) {
	_, err := s.boards.Get(p.ProjectID)
	exists := err == nil
	if err := s.gate.AuthorizeSetProject(actor, p.ProjectID, exists); err != nil {
		return nil, err
	}
	if created := s.boards.Put(store.Board{ID: p.ProjectID, Name: p.ProjectName}); created && actor != nil {
		if _, err := s.users.Update(actor.ID, func(u *store.User) error {
			u.SetRight(p.ProjectID, permission.All)
			return nil
		}); err != nil {
			return nil, fmt.Errorf("grant board owner: %w", err)
		}
	}

	for _, wire := range p.Tasks {
		t := store.TaskFromWire(wire)
		if !t.OnBoard(p.ProjectID) {
			t.Boards = append(t.Boards, p.ProjectID)
		}
		if t.ID <= 0 {
			t.ID = s.order.Next()
			if t.DateCreatedMS == 0 {
				t.DateCreatedMS = s.now().UnixMilli()
			}
			if actor != nil {
				t.CreatedBy = actor.ID
			}
		} else {
			s.order.Observe(t.ID)
		}
		s.tasks.Put(t)
	}
	return protocol.Response{}, nil
}

func (s *Server) getProjectList() (protocol.Payload, error) {
	boards := s.boards.List()
	out := protocol.SetProjectList{Projects: make([]protocol.ProjectRef, 0, len(boards))}
	for _, b := range boards {
		out.Projects = append(out.Projects, protocol.ProjectRef{ProjectID: b.ID, ProjectName: b.Name})
	}
	return out, nil
}

// userInfo validates the whole request before touching the store, so a
// denied request changes nothing.
func (s *Server) userInfo(actor *store.User, p protocol.UserInfo) (protocol.Payload, error) {
	plan, err := s.gate.AuthorizeUserInfo(actor, p)
	if err != nil {
		return nil, err
	}

	var targetID int64
	if plan.Self {
		if actor == nil {
			return protocol.Response{}, nil
		}
		targetID = actor.ID
	} else {
		target, err := s.users.GetByName(plan.TargetName)
		if err != nil {
			return nil, err
		}
		targetID = target.ID
	}

	if _, err := s.users.Update(targetID, func(u *store.User) error {
		if plan.Email != nil {
			u.Email = *plan.Email
		}
		for projectID, level := range plan.Rights {
			u.SetRight(projectID, level)
		}
		for _, friend := range plan.AddFriends {
			u.AddFriend(friend)
		}
		return nil
	}); err != nil {
		return nil, err
	}
	return protocol.Response{}, nil
}

// actorFor loads the current record of the session's user, so rights
// granted mid-session apply to the next request.
func (s *Server) actorFor(sess *Session) *store.User {
	if sess == nil {
		return nil
	}
	u, err := s.users.GetByID(sess.UserID)
	if err != nil {
		return nil
	}
	return &u
}

func visibleTo(actor *store.User, t store.Task) bool {
	for _, board := range t.Boards {
		if permission.Check(actor, board, permission.See) {
			return true
		}
	}
	return false
}

// normalizeBoards maps an empty list, or the lone -1 placeholder, to the
// default board.
func normalizeBoards(boards []int64) []int64 {
	if len(boards) == 0 || (len(boards) == 1 && boards[0] == -1) {
		return []int64{DefaultBoardID}
	}
	return boards
}

// errorMessage renders err for an error envelope.
func errorMessage(err error) string {
	var denied *permission.NoPermissionError
	if errors.As(err, &denied) {
		return denied.Message
	}
	return err.Error()
}
