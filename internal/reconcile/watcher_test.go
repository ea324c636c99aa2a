package reconcile

import (
	"context"
	"errors"
	"testing"
	"time"

	"taskboard/api/internal/store"
	"taskboard/api/internal/tasks"
)

func waitForView(t *testing.T, w *Watcher, match func(View) bool) View {
	t.Helper()
	deadline := time.After(2 * time.Second)
	for {
		select {
		case view, ok := <-w.Updates():
			if !ok {
				t.Fatal("updates closed")
			}
			if match(view) {
				return view
			}
		case <-deadline:
			t.Fatalf("timed out; current view %+v", w.Current())
		}
	}
}

func TestWatcherJoinsSubscriptionsAndRegisters(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	repo := tasks.NewRepository(store.NewMemoryStore())
	task := seedTask(t, repo)

	w, err := Watch(ctx, repo, NewRegistrar(repo), task.ID)
	if err != nil {
		t.Fatalf("Watch() error = %v", err)
	}
	defer w.Close()

	waitForView(t, w, func(v View) bool { return v.Phase == PhaseReady })

	group, err := w.Register(ctx, Request{ThemeIndex: 1, Name: "Alpha", Members: []string{"Ana", "Bruno"}})
	if err != nil {
		t.Fatalf("Register() error = %v", err)
	}
	if group.ID == "" || group.Theme != "Trees" {
		t.Fatalf("unexpected group: %+v", group)
	}

	view := w.Current()
	if view.Phase != PhaseReady || view.Themes[1].Available {
		t.Fatalf("expected Trees taken, got %+v", view)
	}

	// Another client registers; the groups subscription brings it in.
	if _, err := repo.AppendGroup(ctx, task.ID, tasks.Group{Name: "Beta", Members: []string{"Caio"}, Theme: "Heaps"}); err != nil {
		t.Fatalf("AppendGroup() error = %v", err)
	}
	waitForView(t, w, func(v View) bool { return len(v.Themes) == 3 && !v.Themes[2].Available })

	_, err = w.Register(ctx, Request{ThemeIndex: 2, Name: "Gamma", Members: []string{"Dora"}})
	if !IsConflict(err) {
		t.Fatalf("expected conflict, got %v", err)
	}
	if current := w.Current(); current.Error != MsgThemeUnavailable {
		t.Fatalf("expected transient error in view, got %+v", current)
	}
}

func TestWatcherRejectsInvalidInput(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	repo := tasks.NewRepository(store.NewMemoryStore())
	task := seedTask(t, repo)
	w, _ := Watch(ctx, repo, NewRegistrar(repo), task.ID)
	defer w.Close()
	waitForView(t, w, func(v View) bool { return v.Phase == PhaseReady })

	if _, err := w.Register(ctx, Request{ThemeIndex: 0, Members: []string{"Ana"}}); !IsValidation(err) {
		t.Fatalf("expected validation error, got %v", err)
	}
	groups, _ := repo.ListGroups(ctx, task.ID)
	if len(groups) != 0 {
		t.Fatalf("expected no groups, got %+v", groups)
	}
}

func TestWatcherCloseStopsUpdates(t *testing.T) {
	ctx := context.Background()
	repo := tasks.NewRepository(store.NewMemoryStore())
	task := seedTask(t, repo)
	w, _ := Watch(ctx, repo, NewRegistrar(repo), task.ID)
	waitForView(t, w, func(v View) bool { return v.Phase == PhaseReady })

	w.Close()
	w.Close()
	select {
	case <-w.Done():
	default:
		t.Fatal("expected Done to be closed")
	}

	deadline := time.After(2 * time.Second)
	for {
		select {
		case _, ok := <-w.Updates():
			if !ok {
				if _, err := w.Register(ctx, Request{ThemeIndex: 0, Name: "A", Members: []string{"a"}}); !errors.Is(err, ErrClosed) {
					t.Fatalf("expected ErrClosed, got %v", err)
				}
				return
			}
		case <-deadline:
			t.Fatal("updates channel was not closed")
		}
	}
}

func TestWatcherClosesWithContext(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	repo := tasks.NewRepository(store.NewMemoryStore())
	task := seedTask(t, repo)
	w, _ := Watch(ctx, repo, NewRegistrar(repo), task.ID)
	cancel()

	deadline := time.After(2 * time.Second)
	for {
		select {
		case _, ok := <-w.Updates():
			if !ok {
				return
			}
		case <-deadline:
			t.Fatal("watcher did not close after context cancel")
		}
	}
}
