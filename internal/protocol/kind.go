package protocol

import "fmt"

// Kind identifies the payload type of an envelope.
type Kind uint32

const (
	KindCreateTask     Kind = 1
	KindRemoveTask     Kind = 2
	KindUpdateTask     Kind = 3
	KindGetTaskList    Kind = 4
	KindGetProject     Kind = 5
	KindSetProject     Kind = 6
	KindGetProjectList Kind = 7
	KindSetProjectList Kind = 8
	KindLogin          Kind = 9
	KindUserInfo       Kind = 10
	KindResponse       Kind = 11
	KindError          Kind = 12
	KindSetTaskList    Kind = 13
)

var kindNames = map[Kind]string{
	KindCreateTask:     "create-task",
	KindRemoveTask:     "remove-task",
	KindUpdateTask:     "update-task",
	KindGetTaskList:    "get-task-list",
	KindGetProject:     "get-project",
	KindSetProject:     "set-project",
	KindGetProjectList: "get-project-list",
	KindSetProjectList: "set-project-list",
	KindLogin:          "login",
	KindUserInfo:       "user-info",
	KindResponse:       "response",
	KindError:          "error",
	KindSetTaskList:    "set-task-list",
}

// responseKinds is the legal reply for every kind a client may send.
var responseKinds = map[Kind]Kind{
	KindCreateTask:     KindUpdateTask,
	KindRemoveTask:     KindResponse,
	KindUpdateTask:     KindResponse,
	KindGetTaskList:    KindSetTaskList,
	KindGetProject:     KindSetProject,
	KindSetProject:     KindResponse,
	KindGetProjectList: KindSetProjectList,
	KindLogin:          KindLogin,
	KindUserInfo:       KindResponse,
}

func (k Kind) String() string {
	if name, ok := kindNames[k]; ok {
		return name
	}
	return fmt.Sprintf("kind(%d)", uint32(k))
}

// Valid reports whether k is part of the closed kind set.
func (k Kind) Valid() bool {
	_, ok := kindNames[k]
	return ok
}

// IsRequest reports whether a server accepts k as a request.
func (k Kind) IsRequest() bool {
	_, ok := responseKinds[k]
	return ok
}

// ResponseKind returns the reply kind a request of kind k must receive.
func ResponseKind(k Kind) (Kind, bool) {
	resp, ok := responseKinds[k]
	return resp, ok
}
