package client

import (
	"testing"

	"github.com/danmuck/minijira/internal/protocol"
	"github.com/danmuck/minijira/internal/store"
	"github.com/danmuck/minijira/internal/testutil/testlog"
)

func TestReplicaAppliesServerPayloads(t *testing.T) {
	testlog.Start(t)

	set := store.NewSet()
	r := NewReplica(set.Tasks, set.Boards)

	r.Apply(protocol.UpdateTask{TaskID: 1, Title: "one", BoardIDs: []int64{0}})
	r.Apply(protocol.UpdateTask{TaskID: 2, Title: "two", BoardIDs: []int64{5}})
	if len(r.Tasks()) != 2 {
		t.Fatalf("expected 2 tasks, got %d", len(r.Tasks()))
	}

	r.Apply(protocol.SetTaskList{Tasks: []protocol.Task{{TaskID: 2, Title: "two v2", BoardIDs: []int64{5}}}})
	tasks := r.Tasks()
	if len(tasks) != 1 || tasks[0].Title != "two v2" {
		t.Fatalf("task list must replace the replica, got %+v", tasks)
	}

	r.Apply(protocol.SetProject{ProjectID: 5, ProjectName: "infra", Tasks: []protocol.Task{{TaskID: 3, BoardIDs: []int64{5}}}})
	if len(r.BoardTasks(5)) != 2 {
		t.Fatalf("expected 2 tasks on board 5, got %d", len(r.BoardTasks(5)))
	}

	r.Apply(protocol.SetProjectList{Projects: []protocol.ProjectRef{{ProjectID: 0, ProjectName: "default"}, {ProjectID: 5, ProjectName: "infra"}}})
	if len(r.Boards()) != 2 {
		t.Fatalf("expected 2 boards, got %+v", r.Boards())
	}

	r.Removed(3)
	if _, err := r.Task(3); err == nil {
		t.Fatalf("removed task must be gone")
	}
	r.Updated(protocol.Task{TaskID: 2, Title: "done", Completed: true, BoardIDs: []int64{5}})
	if got, _ := r.Task(2); !got.Completed {
		t.Fatalf("update not applied: %+v", got)
	}

	r.Apply(protocol.Response{})
}
