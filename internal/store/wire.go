package store

import (
	"slices"

	"github.com/danmuck/minijira/internal/protocol"
)

// TaskFromWire converts a wire task to its stored form.
func TaskFromWire(w protocol.Task) Task {
	return Task{
		ID:                w.TaskID,
		Completed:         w.Completed,
		Title:             w.Title,
		Description:       w.Description,
		Priority:          w.Priority,
		DeadlineMS:        w.DeadlineMS,
		DateCreatedMS:     w.DateCreatedMS,
		MasterTaskID:      w.MasterTaskID,
		CreatedBy:         w.CreatedBy,
		AssignedEmployees: slices.Clone(w.AssignedEmployeeIDs),
		Boards:            slices.Clone(w.BoardIDs),
	}
}

// Wire converts t to its wire form.
func (t Task) Wire() protocol.Task {
	return protocol.Task{
		TaskID:              t.ID,
		Completed:           t.Completed,
		Title:               t.Title,
		Description:         t.Description,
		Priority:            t.Priority,
		DeadlineMS:          t.DeadlineMS,
		DateCreatedMS:       t.DateCreatedMS,
		MasterTaskID:        t.MasterTaskID,
		CreatedBy:           t.CreatedBy,
		AssignedEmployeeIDs: slices.Clone(t.AssignedEmployees),
		BoardIDs:            slices.Clone(t.Boards),
	}
}
