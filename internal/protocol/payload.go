package protocol

// Payload is the typed body of an envelope. Every concrete type maps to
// exactly one Kind.
type Payload interface {
	Kind() Kind
}

// Task is the wire shape shared by create-task, update-task and task lists.
type Task struct {
	TaskID              int64   `cbor:"task_id"`
	Completed           bool    `cbor:"completed"`
	Title               string  `cbor:"title"`
	Description         string  `cbor:"description"`
	Priority            int32   `cbor:"priority"`
	DeadlineMS          int64   `cbor:"deadline_ms"`
	DateCreatedMS       int64   `cbor:"date_created_ms"`
	MasterTaskID        int64   `cbor:"master_task_id"`
	CreatedBy           int64   `cbor:"created_by"`
	AssignedEmployeeIDs []int64 `cbor:"assigned_employee_ids"`
	BoardIDs            []int64 `cbor:"board_ids"`
}

// CreateTask asks the server to allocate an id and store the task.
type CreateTask Task

// UpdateTask replaces a stored task; it is also the reply to CreateTask.
type UpdateTask Task

type RemoveTask struct {
	TaskID int64 `cbor:"task_id"`
}

type GetTaskList struct{}

type SetTaskList struct {
	Tasks []Task `cbor:"tasks"`
}

type GetProject struct {
	ProjectID int64 `cbor:"project_id"`
}

type SetProject struct {
	ProjectID   int64  `cbor:"project_id"`
	ProjectName string `cbor:"project_name"`
	Tasks       []Task `cbor:"tasks"`
	URL         string `cbor:"url"`
}

type GetProjectList struct{}

type ProjectRef struct {
	ProjectID   int64  `cbor:"project_id"`
	ProjectName string `cbor:"project_name"`
}

type SetProjectList struct {
	Projects []ProjectRef `cbor:"projects"`
}

// Login carries both the client requests and the server replies of the
// authentication exchange. Requests are distinguished by which of
// UsernameOrTag and Password are nil; replies carry a reply tag in
// UsernameOrTag and, on success, the session.
type Login struct {
	UsernameOrTag *string `cbor:"username_or_tag"`
	Password      *string `cbor:"password"`
	SessionKey    []byte  `cbor:"session_key"`
	SessionID     uint64  `cbor:"session_id"`
}

// UserInfo requests changes to a user record. A nil Username targets the
// sender. Nil Email and nil FriendIDs leave those fields untouched.
// ProjectIDs and ProjectRights are parallel arrays.
type UserInfo struct {
	UserID        int64   `cbor:"user_id"`
	Username      *string `cbor:"username"`
	Email         *string `cbor:"email"`
	LastOnlineMS  int64   `cbor:"last_online_ms"`
	ProjectIDs    []int64 `cbor:"project_ids"`
	ProjectRights []int32 `cbor:"project_rights"`
	FriendIDs     []int64 `cbor:"friend_ids"`
}

type Response struct{}

type Error struct {
	Message string `cbor:"message"`
}

func (CreateTask) Kind() Kind     { return KindCreateTask }
func (RemoveTask) Kind() Kind     { return KindRemoveTask }
func (UpdateTask) Kind() Kind     { return KindUpdateTask }
func (GetTaskList) Kind() Kind    { return KindGetTaskList }
func (SetTaskList) Kind() Kind    { return KindSetTaskList }
func (GetProject) Kind() Kind     { return KindGetProject }
func (SetProject) Kind() Kind     { return KindSetProject }
func (GetProjectList) Kind() Kind { return KindGetProjectList }
func (SetProjectList) Kind() Kind { return KindSetProjectList }
func (Login) Kind() Kind          { return KindLogin }
func (UserInfo) Kind() Kind       { return KindUserInfo }
func (Response) Kind() Kind       { return KindResponse }
func (Error) Kind() Kind          { return KindError }

// newPayload returns a pointer to a zero payload of kind k for decoding.
func newPayload(k Kind) (any, bool) {
	switch k {
	case KindCreateTask:
		return &CreateTask{}, true
	case KindRemoveTask:
		return &RemoveTask{}, true
	case KindUpdateTask:
		return &UpdateTask{}, true
	case KindGetTaskList:
		return &GetTaskList{}, true
	case KindSetTaskList:
		return &SetTaskList{}, true
	case KindGetProject:
		return &GetProject{}, true
	case KindSetProject:
		return &SetProject{}, true
	case KindGetProjectList:
		return &GetProjectList{}, true
	case KindSetProjectList:
		return &SetProjectList{}, true
	case KindLogin:
		return &Login{}, true
	case KindUserInfo:
		return &UserInfo{}, true
	case KindResponse:
		return &Response{}, true
	case KindError:
		return &Error{}, true
	default:
		return nil, false
	}
}

// derefPayload converts the decode target back into a value payload.
func derefPayload(v any) Payload {
	switch p := v.(type) {
	case *CreateTask:
		return *p
	case *RemoveTask:
		return *p
	case *UpdateTask:
		return *p
	case *GetTaskList:
		return *p
	case *SetTaskList:
		return *p
	case *GetProject:
		return *p
	case *SetProject:
		return *p
	case *GetProjectList:
		return *p
	case *SetProjectList:
		return *p
	case *Login:
		return *p
	case *UserInfo:
		return *p
	case *Response:
		return *p
	case *Error:
		return *p
	default:
		return nil
	}
}

// Login reply tags sent by the server in Login.UsernameOrTag.
const (
	TagExists        = "exists"
	TagDoesNotExist  = "does not exist"
	TagLoggedIn      = "logged in"
	TagWrongPassword = "wrong password"
	TagCancelled     = "cancelled"
	TagLoggedOut     = "logged out"
	TagRegistered    = "registered"
	TagAlreadyExists = "already exists"
)

// IsReplyTag reports whether tag is one of the enumerated login replies.
func IsReplyTag(tag string) bool {
	switch tag {
	case TagExists, TagDoesNotExist, TagLoggedIn, TagWrongPassword,
		TagCancelled, TagLoggedOut, TagRegistered, TagAlreadyExists:
		return true
	}
	return false
}

// StringPtr returns a pointer to s, for the nullable login and user-info fields.
func StringPtr(s string) *string {
	return &s
}
