package client

import (
	"github.com/danmuck/minijira/internal/protocol"
	"github.com/danmuck/minijira/internal/store"
)

// Replica is the client's local copy of what the server has sent. The CLI
// reads from it so listing does not need a round trip.
type Replica struct {
	tasks  store.TaskStore
	boards store.BoardStore
}

func NewReplica(tasks store.TaskStore, boards store.BoardStore) *Replica {
	return &Replica{tasks: tasks, boards: boards}
}

func (r *Replica) Tasks() []store.Task {
	return r.tasks.List()
}

func (r *Replica) Task(id int64) (store.Task, error) {
	return r.tasks.Get(id)
}

func (r *Replica) Boards() []store.Board {
	return r.boards.List()
}

func (r *Replica) BoardTasks(board int64) []store.Task {
	return r.tasks.ListByBoard(board)
}

// Apply folds one server payload into the replica. Payloads that carry no
// task or board data are ignored.
func (r *Replica) Apply(p protocol.Payload) {
	switch v := p.(type) {
	case protocol.UpdateTask:
		r.tasks.Put(store.TaskFromWire(protocol.Task(v)))
	case protocol.SetTaskList:
		keep := make(map[int64]bool, len(v.Tasks))
		for _, t := range v.Tasks {
			keep[t.TaskID] = true
			r.tasks.Put(store.TaskFromWire(t))
		}
		for _, t := range r.tasks.List() {
			if !keep[t.ID] {
				_ = r.tasks.Delete(t.ID)
			}
		}
	case protocol.SetProject:
		r.boards.Put(store.Board{ID: v.ProjectID, Name: v.ProjectName})
		for _, t := range v.Tasks {
			r.tasks.Put(store.TaskFromWire(t))
		}
	case protocol.SetProjectList:
		for _, ref := range v.Projects {
			r.boards.Put(store.Board{ID: ref.ProjectID, Name: ref.ProjectName})
		}
	}
}

// Removed drops a task the server confirmed as deleted.
func (r *Replica) Removed(taskID int64) {
	_ = r.tasks.Delete(taskID)
}

// Updated records a task edit the server accepted.
func (r *Replica) Updated(t protocol.Task) {
	r.tasks.Put(store.TaskFromWire(t))
}
