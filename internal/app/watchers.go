package app

import (
	"sync"

	"taskboard/api/internal/reconcile"
)

// watcherSet tracks the live detail session each user has open per task, so
// a registration posted by that user shows up in their stream as pending.
type watcherSet struct {
	mu    sync.Mutex
	byKey map[string]*reconcile.Watcher
}

func newWatcherSet() *watcherSet {
	return &watcherSet{byKey: make(map[string]*reconcile.Watcher)}
}

func watcherKey(userID, taskID string) string {
	return userID + "/" + taskID
}

// add makes w the session for userID on taskID until w closes. A newer
// stream replaces an older one.
func (ws *watcherSet) add(userID, taskID string, w *reconcile.Watcher) {
	key := watcherKey(userID, taskID)
	ws.mu.Lock()
	ws.byKey[key] = w
	ws.mu.Unlock()

	go func() {
		<-w.Done()
		ws.mu.Lock()
		if ws.byKey[key] == w {
			delete(ws.byKey, key)
		}
		ws.mu.Unlock()
	}()
}

func (ws *watcherSet) get(userID, taskID string) *reconcile.Watcher {
	ws.mu.Lock()
	defer ws.mu.Unlock()
	return ws.byKey[watcherKey(userID, taskID)]
}
