package reconcile

import (
	"context"
	"log"
	"sync"

	"taskboard/api/internal/store"
	"taskboard/api/internal/tasks"
	"taskboard/api/internal/util"
)

// Source provides the two independent subscriptions a detail session joins.
type Source interface {
	SubscribeTask(ctx context.Context, taskID string, fn func(tasks.TaskEvent)) (store.Subscription, error)
	SubscribeGroups(ctx context.Context, taskID string, fn func(tasks.GroupsEvent)) (store.Subscription, error)
}

// Watcher keeps one task detail session in sync with the store and publishes
// its views. Updates keeps only the latest view.
type Watcher struct {
	registrar *Registrar

	mu      sync.Mutex
	state   State
	closed  bool
	done    chan struct{}
	updates chan View
	subs    []store.Subscription
	cancel  context.CancelFunc
}

func Watch(ctx context.Context, source Source, registrar *Registrar, taskID string) (*Watcher, error) {
	watchCtx, cancel := context.WithCancel(ctx)
	w := &Watcher{
		registrar: registrar,
		state:     NewState(taskID),
		done:      make(chan struct{}),
		updates:   make(chan View, 1),
		cancel:    cancel,
	}

	taskSub, err := source.SubscribeTask(watchCtx, taskID, func(event tasks.TaskEvent) {
		if event.Err != nil {
			log.Printf("reconcile: task %s snapshot: %v", taskID, event.Err)
			return
		}
		w.apply(TaskLoaded{Task: event.Task, Found: event.Found})
	})
	if err != nil {
		cancel()
		return nil, err
	}
	groupsSub, err := source.SubscribeGroups(watchCtx, taskID, func(event tasks.GroupsEvent) {
		if event.Err != nil {
			log.Printf("reconcile: task %s groups snapshot: %v", taskID, event.Err)
			return
		}
		w.apply(GroupsLoaded{Groups: event.Groups})
	})
	if err != nil {
		taskSub.Close()
		cancel()
		return nil, err
	}

	w.mu.Lock()
	w.subs = []store.Subscription{taskSub, groupsSub}
	w.mu.Unlock()

	go func() {
		<-watchCtx.Done()
		w.Close()
	}()
	return w, nil
}

// Updates delivers views as they change. It is closed by Close.
func (w *Watcher) Updates() <-chan View {
	return w.updates
}

// Done is closed once the watcher is closed.
func (w *Watcher) Done() <-chan struct{} {
	return w.done
}

func (w *Watcher) Current() View {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.state.View()
}

// Register validates req against the current view, shows the pending group
// and stores it. Results that arrive after Close are dropped.
func (w *Watcher) Register(ctx context.Context, req Request) (tasks.Group, error) {
	w.mu.Lock()
	if w.closed {
		w.mu.Unlock()
		return tasks.Group{}, ErrClosed
	}
	switch w.state.Phase {
	case PhaseLoading:
		w.mu.Unlock()
		return tasks.Group{}, ErrNotReady
	case PhaseRegistering:
		w.mu.Unlock()
		return tasks.Group{}, ErrBusy
	}
	if !w.state.TaskFound {
		w.mu.Unlock()
		return tasks.Group{}, tasks.ErrTaskNotFound
	}
	group, err := Prepare(w.state.Task, w.state.Groups, req)
	if err != nil {
		w.applyLocked(Rejected{Err: err})
		w.mu.Unlock()
		return tasks.Group{}, err
	}
	pending := group
	pending.ID = util.NewID("local")
	w.applyLocked(RegisterStarted{Pending: pending})
	taskID := w.state.TaskID
	w.mu.Unlock()

	stored, err := w.registrar.Commit(ctx, taskID, group)
	if err != nil {
		w.apply(RegisterFailed{Err: err})
		return tasks.Group{}, err
	}
	w.apply(RegisterSucceeded{Group: stored})
	return stored, nil
}

// Close stops both subscriptions and closes Updates. It is idempotent.
func (w *Watcher) Close() {
	w.mu.Lock()
	if w.closed {
		w.mu.Unlock()
		return
	}
	w.closed = true
	subs := w.subs
	w.subs = nil
	close(w.updates)
	close(w.done)
	w.mu.Unlock()

	w.cancel()
	for _, sub := range subs {
		sub.Close()
	}
}

func (w *Watcher) apply(e Event) {
	w.mu.Lock()
	defer w.mu.Unlock()
	w.applyLocked(e)
}

func (w *Watcher) applyLocked(e Event) {
	if w.closed {
		return
	}
	w.state = Reduce(w.state, e)
	view := w.state.View()
	select {
	case <-w.updates:
	default:
	}
	w.updates <- view
}
