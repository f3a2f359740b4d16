// Package permission decides whether a user may act on a project.
package permission

import (
	"errors"
	"fmt"
	"strings"

	"github.com/danmuck/minijira/internal/protocol"
)

// Level is an ordered per-project right.
type Level int32

const (
	NoRight  Level = 0
	See      Level = 1
	Create   Level = 2
	Complete Level = 3
	All      Level = 4
)

var ErrMalformedRequest = errors.New("permission: malformed request")

func (l Level) String() string {
	switch l {
	case NoRight:
		return "NORIGHT"
	case See:
		return "SEE"
	case Create:
		return "CREATE"
	case Complete:
		return "COMPLETE"
	case All:
		return "ALL"
	default:
		return fmt.Sprintf("LEVEL(%d)", int32(l))
	}
}

func (l Level) Valid() bool {
	return l >= NoRight && l <= All
}

// ParseLevel accepts level names case-insensitively, or their numbers.
func ParseLevel(raw string) (Level, error) {
	switch strings.ToUpper(strings.TrimSpace(raw)) {
	case "NORIGHT", "NONE", "0":
		return NoRight, nil
	case "SEE", "1":
		return See, nil
	case "CREATE", "2":
		return Create, nil
	case "COMPLETE", "3":
		return Complete, nil
	case "ALL", "4":
		return All, nil
	default:
		return NoRight, fmt.Errorf("permission: unknown level %q", raw)
	}
}

// Subject is a user as the gate sees it. Implementations must tolerate a nil
// receiver and report NoRight for it.
type Subject interface {
	SubjectName() string
	PermissionOn(projectID int64) Level
}

// NoPermissionError is returned when a check fails. Message is safe to send
// to the client.
type NoPermissionError struct {
	Message string
}

func (e *NoPermissionError) Error() string {
	return e.Message
}

func denied(format string, args ...any) error {
	return &NoPermissionError{Message: fmt.Sprintf(format, args...)}
}

// Check reports whether s holds at least required on projectID.
// A nil subject holds NoRight everywhere.
func Check(s Subject, projectID int64, required Level) bool {
	return levelOf(s, projectID) >= required
}

func levelOf(s Subject, projectID int64) Level {
	if s == nil {
		return NoRight
	}
	return s.PermissionOn(projectID)
}

// Gate applies permission rules to requests. Task rules are enforced only
// when RequireAuth is set; user-info rules always are.
type Gate struct {
	RequireAuth bool
}

// Require returns a NoPermissionError unless s holds required on projectID.
func (g Gate) Require(s Subject, projectID int64, required Level) error {
	if Check(s, projectID, required) {
		return nil
	}
	return denied("Need %s on project %d", required, projectID)
}

func (g Gate) requireAll(s Subject, boards []int64, required Level) error {
	if !g.RequireAuth {
		return nil
	}
	for _, board := range boards {
		if err := g.Require(s, board, required); err != nil {
			return err
		}
	}
	return nil
}

// AuthorizeCreateTask needs CREATE on every board the task lands on.
func (g Gate) AuthorizeCreateTask(s Subject, boards []int64) error {
	return g.requireAll(s, boards, Create)
}

// AuthorizeUpdateTask needs CREATE on the task's boards, and COMPLETE when
// the completion flag changes.
func (g Gate) AuthorizeUpdateTask(s Subject, boards []int64, completionChanged bool) error {
	required := Create
	if completionChanged {
		required = Complete
	}
	return g.requireAll(s, boards, required)
}

func (g Gate) AuthorizeRemoveTask(s Subject, boards []int64) error {
	return g.requireAll(s, boards, All)
}

func (g Gate) AuthorizeReadProject(s Subject, projectID int64) error {
	return g.requireAll(s, []int64{projectID}, See)
}

// AuthorizeSetProject needs ALL on a board that already exists. Creating a
// new board is open.
func (g Gate) AuthorizeSetProject(s Subject, projectID int64, exists bool) error {
	if !exists {
		return nil
	}
	return g.requireAll(s, []int64{projectID}, All)
}

// UserInfoPlan is a validated user-info request, ready to apply.
type UserInfoPlan struct {
	Self       bool
	TargetName string
	Email      *string
	Rights     map[int64]Level
	AddFriends []int64
}

// AuthorizeUserInfo validates every change in req before anything is
// applied. Emails and friend lists may only be changed on oneself;
// changing rights on a project needs ALL on that project.
func (g Gate) AuthorizeUserInfo(actor Subject, req protocol.UserInfo) (UserInfoPlan, error) {
	if len(req.ProjectIDs) != len(req.ProjectRights) {
		return UserInfoPlan{}, fmt.Errorf(
			"%w: %d project ids but %d rights",
			ErrMalformedRequest,
			len(req.ProjectIDs),
			len(req.ProjectRights),
		)
	}

	actorName := ""
	if actor != nil {
		actorName = actor.SubjectName()
	}
	anonymous := actorName == ""
	plan := UserInfoPlan{Self: req.Username == nil || (!anonymous && *req.Username == actorName)}
	if plan.Self {
		plan.TargetName = actorName
	} else {
		plan.TargetName = *req.Username
	}

	if req.Email != nil {
		if !plan.Self {
			return UserInfoPlan{}, denied("Can't change emails of other users!")
		}
		plan.Email = req.Email
	}

	if len(req.ProjectIDs) > 0 {
		plan.Rights = make(map[int64]Level, len(req.ProjectIDs))
		for i, projectID := range req.ProjectIDs {
			level := Level(req.ProjectRights[i])
			if !level.Valid() {
				return UserInfoPlan{}, fmt.Errorf("%w: invalid level %d for project %d", ErrMalformedRequest, req.ProjectRights[i], projectID)
			}
			if !Check(actor, projectID, All) {
				return UserInfoPlan{}, denied("Don't have the rights to change permissions for project %d", projectID)
			}
			plan.Rights[projectID] = level
		}
	}

	if req.FriendIDs != nil {
		if !plan.Self {
			return UserInfoPlan{}, denied("Can't change friendlists of other users!")
		}
		plan.AddFriends = append([]int64(nil), req.FriendIDs...)
	}

	if plan.Self && anonymous && (plan.Email != nil || plan.Rights != nil || plan.AddFriends != nil) {
		return UserInfoPlan{}, denied("Not logged in")
	}
	return plan, nil
}
