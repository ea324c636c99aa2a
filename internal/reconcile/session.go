package reconcile

import (
	"taskboard/api/internal/tasks"
)

type Phase int

const (
	PhaseLoading Phase = iota
	PhaseReady
	PhaseRegistering
)

func (p Phase) String() string {
	switch p {
	case PhaseReady:
		return "ready"
	case PhaseRegistering:
		return "registering"
	default:
		return "loading"
	}
}

func (p Phase) MarshalText() ([]byte, error) {
	return []byte(p.String()), nil
}

// State is one task detail session. It only changes through Reduce.
type State struct {
	Phase        Phase
	TaskID       string
	Task         tasks.Task
	TaskFound    bool
	Groups       []tasks.Group
	Pending      *tasks.Group
	Error        string
	taskLoaded   bool
	groupsLoaded bool
}

func NewState(taskID string) State {
	return State{Phase: PhaseLoading, TaskID: taskID}
}

type Event interface {
	event()
}

// TaskLoaded carries a task snapshot. Found is false when the task is gone.
type TaskLoaded struct {
	Task  tasks.Task
	Found bool
}

type GroupsLoaded struct {
	Groups []tasks.Group
}

// RegisterStarted shows Pending until the store answers.
type RegisterStarted struct {
	Pending tasks.Group
}

type RegisterSucceeded struct {
	Group tasks.Group
}

type RegisterFailed struct {
	Err error
}

// Rejected reports a registration refused before anything was sent.
type Rejected struct {
	Err error
}

func (TaskLoaded) event()        {}
func (GroupsLoaded) event()      {}
func (RegisterStarted) event()   {}
func (RegisterSucceeded) event() {}
func (RegisterFailed) event()    {}
func (Rejected) event()          {}

// Reduce returns the state after e. It is total: events that make no sense
// in the current phase leave the state as it was, except that the transient
// error message is always cleared.
func Reduce(s State, e Event) State {
	s.Error = ""
	switch ev := e.(type) {
	case TaskLoaded:
		s.Task = ev.Task
		s.TaskFound = ev.Found
		s.taskLoaded = true
		if s.Phase == PhaseLoading && s.groupsLoaded {
			s.Phase = PhaseReady
		}
	case GroupsLoaded:
		s.Groups = copyGroups(ev.Groups)
		s.groupsLoaded = true
		if s.Phase == PhaseLoading && s.taskLoaded {
			s.Phase = PhaseReady
		}
	case RegisterStarted:
		if s.Phase != PhaseReady {
			return s
		}
		pending := ev.Pending
		s.Pending = &pending
		s.Phase = PhaseRegistering
	case RegisterSucceeded:
		if s.Phase != PhaseRegistering {
			return s
		}
		s.Pending = nil
		s.Phase = PhaseReady
		if !hasGroup(s.Groups, ev.Group.ID) {
			s.Groups = append(copyGroups(s.Groups), ev.Group)
		}
	case RegisterFailed:
		if s.Phase != PhaseRegistering {
			return s
		}
		s.Pending = nil
		s.Phase = PhaseReady
		s.Error = errorMessage(ev.Err)
	case Rejected:
		if s.Phase == PhaseRegistering {
			return s
		}
		s.Error = errorMessage(ev.Err)
	}
	return s
}

// View is what the task detail page renders.
type View struct {
	Phase  Phase            `json:"phase"`
	TaskID string           `json:"taskId"`
	Task   *tasks.Task      `json:"task,omitempty"`
	Themes []AnnotatedTheme `json:"themes"`
	Groups []tasks.Group    `json:"groups"`
	// Missing is set once the task has been deleted.
	Missing bool   `json:"missing"`
	Error   string `json:"error,omitempty"`
}

// View joins the task themes with the visible groups, the pending one
// included, so a theme being registered already shows as taken.
func (s State) View() View {
	view := View{
		Phase:  s.Phase,
		TaskID: s.TaskID,
		Themes: []AnnotatedTheme{},
		Groups: []tasks.Group{},
		Error:  s.Error,
	}
	if s.Phase == PhaseLoading {
		return view
	}
	if !s.TaskFound {
		view.Missing = true
		return view
	}

	groups := copyGroups(s.Groups)
	if s.Pending != nil && !confirmed(groups, *s.Pending) {
		groups = append(groups, *s.Pending)
	}
	task := s.Task
	task.Groups = groups
	view.Task = &task
	view.Groups = groups
	view.Themes = Annotate(task.Themes, groups)
	return view
}

func copyGroups(groups []tasks.Group) []tasks.Group {
	out := make([]tasks.Group, len(groups))
	copy(out, groups)
	return out
}

func hasGroup(groups []tasks.Group, id string) bool {
	for _, group := range groups {
		if group.ID == id {
			return true
		}
	}
	return false
}

// confirmed reports whether the store already delivered the pending group.
func confirmed(groups []tasks.Group, pending tasks.Group) bool {
	for _, group := range groups {
		if group.Theme == pending.Theme && group.Name == pending.Name && group.CreatedBy == pending.CreatedBy {
			return true
		}
	}
	return false
}

func errorMessage(err error) string {
	switch {
	case err == nil:
		return ""
	case IsValidation(err), IsConflict(err):
		return err.Error()
	default:
		return "registration failed"
	}
}
