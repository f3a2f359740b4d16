package main

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"strconv"
	"strings"
	"text/tabwriter"
	"time"

	"github.com/danmuck/minijira/internal/channel"
	"github.com/danmuck/minijira/internal/client"
	"github.com/danmuck/minijira/internal/permission"
	"github.com/danmuck/minijira/internal/protocol"
	"github.com/danmuck/minijira/internal/store"
)

var (
	errNoTerminal = errors.New("no terminal for password prompt")
	errQuit       = errors.New("quit")
	errUsage      = errors.New("usage")
)

const helpText = `commands:
  login <user>                     log in (prompts for password)
  register <user>                  create an account and log in
  logout                           end the session
  task create <board> <title...>   create a task (board -1 = default)
  task list                        list tasks known locally
  task pull                        fetch every task from the server
  task complete <id>               mark a task completed
  task set <id> <field> <value...> field: title, description, priority, deadline, assign, boards
  task remove <id>                 delete a task
  board list                       fetch and list boards
  board create <id> <name...>      create or rename a board
  board pull <id>                  fetch a board and its tasks
  user email <address>             change your email
  user perm <user> <board> <level> set a user's level on a board
  user friend <id...>              add friends
  help                             show this text
  quit                             exit
`

type shell struct {
	sync    *client.Sync
	auth    *client.ClientAuth
	replica *client.Replica
	in      *bufio.Scanner
	out     io.Writer

	readPassword func() (string, error)
}

func newShell(s *client.Sync, replica *client.Replica, in io.Reader, out io.Writer) *shell {
	return &shell{
		sync:    s,
		auth:    client.NewClientAuth(s),
		replica: replica,
		in:      bufio.NewScanner(in),
		out:     out,
	}
}

// Run reads commands until quit, end of input, or a dead connection.
func (sh *shell) Run(ctx context.Context) error {
	fmt.Fprintln(sh.out, `connected; type "help" for commands`)
	for {
		sh.prompt()
		if !sh.in.Scan() {
			return sh.in.Err()
		}
		err := sh.Exec(ctx, sh.in.Text())
		switch {
		case err == nil:
		case errors.Is(err, errQuit):
			return nil
		case isFatal(err):
			return err
		default:
			fmt.Fprintf(sh.out, "error: %v\n", err)
		}
		if ctx.Err() != nil {
			return nil
		}
	}
}

func (sh *shell) prompt() {
	name := sh.auth.Username()
	if sh.auth.State() != client.StateLoggedIn || name == "" {
		name = "anonymous"
	}
	fmt.Fprintf(sh.out, "%s> ", name)
}

func isFatal(err error) bool {
	var ioErr *channel.IOError
	return errors.As(err, &ioErr) || protocol.IsFatal(err)
}

// Exec runs one command line.
func (sh *shell) Exec(ctx context.Context, line string) error {
	args := strings.Fields(line)
	if len(args) == 0 {
		return nil
	}
	switch args[0] {
	case "help", "?":
		fmt.Fprint(sh.out, helpText)
		return nil
	case "quit", "exit":
		return errQuit
	case "login":
		return sh.login(ctx, args[1:], false)
	case "register":
		return sh.login(ctx, args[1:], true)
	case "logout":
		if err := sh.auth.Logout(ctx); err != nil {
			return err
		}
		fmt.Fprintln(sh.out, "logged out")
		return nil
	case "task":
		return sh.task(ctx, args[1:])
	case "board":
		return sh.board(ctx, args[1:])
	case "user":
		return sh.user(ctx, args[1:])
	default:
		return fmt.Errorf("unknown command %q", args[0])
	}
}

func (sh *shell) password() (string, error) {
	if sh.readPassword != nil {
		pw, err := sh.readPassword()
		if !errors.Is(err, errNoTerminal) {
			return pw, err
		}
	}
	if !sh.in.Scan() {
		return "", io.ErrUnexpectedEOF
	}
	return strings.TrimSpace(sh.in.Text()), nil
}

func (sh *shell) login(ctx context.Context, args []string, register bool) error {
	if len(args) != 1 {
		return fmt.Errorf("%w: login|register <user>", errUsage)
	}
	pw, err := sh.password()
	if err != nil {
		return err
	}
	if register {
		err = sh.auth.Register(ctx, args[0], pw)
	} else {
		err = sh.auth.Login(ctx, args[0], pw)
	}
	if err != nil {
		return err
	}
	fmt.Fprintf(sh.out, "logged in as %s\n", sh.auth.Username())
	return nil
}

func (sh *shell) task(ctx context.Context, args []string) error {
	if len(args) == 0 {
		return fmt.Errorf("%w: task create|list|pull|complete|set|remove", errUsage)
	}
	switch args[0] {
	case "create":
		if len(args) < 3 {
			return fmt.Errorf("%w: task create <board> <title...>", errUsage)
		}
		board, err := parseID(args[1])
		if err != nil {
			return err
		}
		created, err := sh.sync.CreateTask(ctx, protocol.Task{
			Title:        strings.Join(args[2:], " "),
			MasterTaskID: -1,
			BoardIDs:     []int64{board},
		})
		if err != nil {
			return err
		}
		sh.replica.Apply(created)
		fmt.Fprintf(sh.out, "created task %d\n", created.TaskID)
		return nil
	case "list":
		sh.printTasks(sh.replica.Tasks())
		return nil
	case "pull":
		list, err := sh.sync.GetTaskList(ctx)
		if err != nil {
			return err
		}
		sh.replica.Apply(list)
		sh.printTasks(sh.replica.Tasks())
		return nil
	case "complete":
		if len(args) != 2 {
			return fmt.Errorf("%w: task complete <id>", errUsage)
		}
		return sh.editTask(ctx, args[1], func(t *protocol.Task) error {
			t.Completed = true
			return nil
		})
	case "set":
		if len(args) < 4 {
			return fmt.Errorf("%w: task set <id> <field> <value...>", errUsage)
		}
		field, value := args[2], strings.Join(args[3:], " ")
		return sh.editTask(ctx, args[1], func(t *protocol.Task) error {
			return setTaskField(t, field, value)
		})
	case "remove":
		if len(args) != 2 {
			return fmt.Errorf("%w: task remove <id>", errUsage)
		}
		id, err := parseID(args[1])
		if err != nil {
			return err
		}
		if err := sh.sync.RemoveTask(ctx, id); err != nil {
			return err
		}
		sh.replica.Removed(id)
		fmt.Fprintf(sh.out, "removed task %d\n", id)
		return nil
	default:
		return fmt.Errorf("unknown task command %q", args[0])
	}
}

// editTask applies fn to the local copy of a task and sends the result.
func (sh *shell) editTask(ctx context.Context, rawID string, fn func(*protocol.Task) error) error {
	id, err := parseID(rawID)
	if err != nil {
		return err
	}
	local, err := sh.replica.Task(id)
	if err != nil {
		return fmt.Errorf("task %d is not known locally; run \"task pull\" first", id)
	}
	wire := local.Wire()
	if err := fn(&wire); err != nil {
		return err
	}
	if err := sh.sync.UpdateTask(ctx, wire); err != nil {
		return err
	}
	sh.replica.Updated(wire)
	fmt.Fprintf(sh.out, "updated task %d\n", id)
	return nil
}

func setTaskField(t *protocol.Task, field, value string) error {
	switch field {
	case "title":
		t.Title = value
	case "description", "desc":
		t.Description = value
	case "priority":
		p, err := strconv.ParseInt(value, 10, 32)
		if err != nil {
			return fmt.Errorf("priority: %w", err)
		}
		t.Priority = int32(p)
	case "deadline":
		d, err := time.Parse(time.DateOnly, value)
		if err != nil {
			return fmt.Errorf("deadline (YYYY-MM-DD): %w", err)
		}
		t.DeadlineMS = d.UnixMilli()
	case "assign":
		ids, err := parseIDs(value)
		if err != nil {
			return err
		}
		t.AssignedEmployeeIDs = ids
	case "boards":
		ids, err := parseIDs(value)
		if err != nil {
			return err
		}
		t.BoardIDs = ids
	default:
		return fmt.Errorf("unknown task field %q", field)
	}
	return nil
}

func (sh *shell) board(ctx context.Context, args []string) error {
	if len(args) == 0 {
		return fmt.Errorf("%w: board list|create|pull", errUsage)
	}
	switch args[0] {
	case "list":
		list, err := sh.sync.GetProjectList(ctx)
		if err != nil {
			return err
		}
		sh.replica.Apply(list)
		w := tabwriter.NewWriter(sh.out, 0, 4, 2, ' ', 0)
		fmt.Fprintln(w, "ID\tNAME")
		for _, b := range sh.replica.Boards() {
			fmt.Fprintf(w, "%d\t%s\n", b.ID, b.Name)
		}
		return w.Flush()
	case "create":
		if len(args) < 3 {
			return fmt.Errorf("%w: board create <id> <name...>", errUsage)
		}
		id, err := parseID(args[1])
		if err != nil {
			return err
		}
		name := strings.Join(args[2:], " ")
		if err := sh.sync.SetProject(ctx, protocol.SetProject{ProjectID: id, ProjectName: name}); err != nil {
			return err
		}
		sh.replica.Apply(protocol.SetProject{ProjectID: id, ProjectName: name})
		fmt.Fprintf(sh.out, "board %d saved\n", id)
		return nil
	case "pull":
		if len(args) != 2 {
			return fmt.Errorf("%w: board pull <id>", errUsage)
		}
		id, err := parseID(args[1])
		if err != nil {
			return err
		}
		project, err := sh.sync.GetProject(ctx, id)
		if err != nil {
			return err
		}
		sh.replica.Apply(project)
		fmt.Fprintf(sh.out, "board %d %q\n", project.ProjectID, project.ProjectName)
		sh.printTasks(sh.replica.BoardTasks(id))
		return nil
	default:
		return fmt.Errorf("unknown board command %q", args[0])
	}
}

func (sh *shell) user(ctx context.Context, args []string) error {
	if len(args) == 0 {
		return fmt.Errorf("%w: user email|perm|friend", errUsage)
	}
	var req protocol.UserInfo
	switch args[0] {
	case "email":
		if len(args) != 2 {
			return fmt.Errorf("%w: user email <address>", errUsage)
		}
		req.Email = protocol.StringPtr(args[1])
	case "perm":
		if len(args) != 4 {
			return fmt.Errorf("%w: user perm <user> <board> <level>", errUsage)
		}
		board, err := parseID(args[2])
		if err != nil {
			return err
		}
		level, err := permission.ParseLevel(args[3])
		if err != nil {
			return err
		}
		req.Username = protocol.StringPtr(args[1])
		req.ProjectIDs = []int64{board}
		req.ProjectRights = []int32{int32(level)}
	case "friend":
		if len(args) < 2 {
			return fmt.Errorf("%w: user friend <id...>", errUsage)
		}
		ids, err := parseIDs(strings.Join(args[1:], ","))
		if err != nil {
			return err
		}
		req.FriendIDs = ids
	default:
		return fmt.Errorf("unknown user command %q", args[0])
	}
	if err := sh.sync.UserInfo(ctx, req); err != nil {
		return err
	}
	fmt.Fprintln(sh.out, "ok")
	return nil
}

func (sh *shell) printTasks(tasks []store.Task) {
	w := tabwriter.NewWriter(sh.out, 0, 4, 2, ' ', 0)
	fmt.Fprintln(w, "ID\tDONE\tPRIO\tBOARDS\tTITLE")
	for _, t := range tasks {
		done := " "
		if t.Completed {
			done = "x"
		}
		fmt.Fprintf(w, "%d\t%s\t%d\t%v\t%s\n", t.ID, done, t.Priority, t.Boards, t.Title)
	}
	_ = w.Flush()
}

func parseID(raw string) (int64, error) {
	id, err := strconv.ParseInt(raw, 10, 64)
	if err != nil {
		return 0, fmt.Errorf("invalid id %q", raw)
	}
	return id, nil
}

// parseIDs reads a comma or space separated id list.
func parseIDs(raw string) ([]int64, error) {
	fields := strings.FieldsFunc(raw, func(r rune) bool { return r == ',' || r == ' ' })
	out := make([]int64, 0, len(fields))
	for _, f := range fields {
		id, err := parseID(f)
		if err != nil {
			return nil, err
		}
		out = append(out, id)
	}
	return out, nil
}
