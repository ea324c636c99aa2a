package app

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"mime/multipart"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"taskboard/api/internal/reconcile"
)

const taskJSON = `{
	"title": "Algorithms project",
	"description": "Pick one theme per group",
	"dueDate": "2026-04-01",
	"todolist": ["form a group"],
	"themes": [
		{"title": "Graphs", "description": "BFS and DFS"},
		{"title": "Trees"}
	]
}`

func createTaskOverHTTP(t *testing.T, handler http.Handler, token string) string {
	t.Helper()
	rr, payload := doRequest(t, handler, http.MethodPost, "/api/tasks", token, taskJSON)
	if rr.Code != http.StatusCreated {
		t.Fatalf("expected status 201, got %d body=%s", rr.Code, rr.Body.String())
	}
	task, _ := payload["task"].(map[string]any)
	id, _ := task["id"].(string)
	if id == "" {
		t.Fatalf("expected task id, got %v", payload)
	}
	return id
}

func TestTaskCRUDOverHTTP(t *testing.T) {
	env := newTestEnv(t)
	prof := env.signUp(t, "prof@uni.edu", "professor")
	student := env.signUp(t, "ana@uni.edu", "student")
	handler := NewHTTPServer(env.svc, "*").Handler()

	rr, _ := doRequest(t, handler, http.MethodPost, "/api/tasks", student.Token, taskJSON)
	if rr.Code != http.StatusForbidden {
		t.Fatalf("expected student create to be forbidden, got %d", rr.Code)
	}

	taskID := createTaskOverHTTP(t, handler, prof.Token)

	rr, payload := doRequest(t, handler, http.MethodGet, "/api/tasks/"+taskID, student.Token, "")
	if rr.Code != http.StatusOK {
		t.Fatalf("expected status 200, got %d body=%s", rr.Code, rr.Body.String())
	}
	themes, _ := payload["themes"].([]any)
	if len(themes) != 2 {
		t.Fatalf("expected 2 annotated themes, got %v", payload["themes"])
	}
	if first, _ := themes[0].(map[string]any); first["available"] != true || first["title"] != "Graphs" {
		t.Fatalf("unexpected first theme %v", first)
	}

	rr, payload = doRequest(t, handler, http.MethodPut, "/api/tasks/"+taskID, prof.Token, `{"criteria":"Clarity"}`)
	if rr.Code != http.StatusOK {
		t.Fatalf("expected status 200, got %d body=%s", rr.Code, rr.Body.String())
	}
	if task, _ := payload["task"].(map[string]any); task["criteria"] != "Clarity" || task["title"] != "Algorithms project" {
		t.Fatalf("unexpected updated task %v", payload["task"])
	}

	rr, payload = doRequest(t, handler, http.MethodGet, "/api/tasks", student.Token, "")
	if items, _ := payload["tasks"].([]any); rr.Code != http.StatusOK || len(items) != 1 {
		t.Fatalf("expected one task listed, got %d %v", rr.Code, payload)
	}

	rr, payload = doRequest(t, handler, http.MethodGet, "/api/tasks/"+taskID+"/history", prof.Token, "")
	if revisions, _ := payload["revisions"].([]any); rr.Code != http.StatusOK || len(revisions) != 2 {
		t.Fatalf("expected 2 revisions, got %d %v", rr.Code, payload)
	}

	rr, _ = doRequest(t, handler, http.MethodDelete, "/api/tasks/"+taskID, prof.Token, "")
	if rr.Code != http.StatusOK {
		t.Fatalf("expected status 200, got %d body=%s", rr.Code, rr.Body.String())
	}
	rr, payload = doRequest(t, handler, http.MethodGet, "/api/tasks/"+taskID, prof.Token, "")
	if rr.Code != http.StatusNotFound || payload["code"] != "NOT_FOUND" {
		t.Fatalf("expected 404, got %d %v", rr.Code, payload)
	}
}

func TestCreateTaskValidationOverHTTP(t *testing.T) {
	env := newTestEnv(t)
	prof := env.signUp(t, "prof@uni.edu", "professor")
	handler := NewHTTPServer(env.svc, "*").Handler()

	tests := []struct {
		name      string
		body      string
		wantField string
	}{
		{name: "blank title", body: `{"title":"   "}`, wantField: "title"},
		{name: "bad due date", body: `{"title":"A","dueDate":"01/04/2026"}`, wantField: "dueDate"},
		{name: "blank theme", body: `{"title":"A","themes":[{"title":"Graphs"},{"title":" "}]}`, wantField: "themes[1].title"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rr, payload := doRequest(t, handler, http.MethodPost, "/api/tasks", prof.Token, tt.body)
			if rr.Code != http.StatusUnprocessableEntity {
				t.Fatalf("expected status 422, got %d body=%s", rr.Code, rr.Body.String())
			}
			details, _ := payload["details"].(map[string]any)
			fields, _ := details["fields"].(map[string]any)
			if _, ok := fields[tt.wantField]; !ok {
				t.Fatalf("expected field error for %s, got %v", tt.wantField, details)
			}
		})
	}

	rr, payload := doRequest(t, handler, http.MethodPost, "/api/tasks", prof.Token,
		`{"title":"A","themes":[{"title":"Graphs"},{"title":"Graphs"}]}`)
	if rr.Code != http.StatusUnprocessableEntity {
		t.Fatalf("expected duplicate themes to be rejected, got %d", rr.Code)
	}
	details, _ := payload["details"].(map[string]any)
	if details["index"] != float64(1) || details["duplicateOf"] != float64(0) {
		t.Fatalf("unexpected duplicate details %v", details)
	}
}

func TestRegisterGroupOverHTTP(t *testing.T) {
	env := newTestEnv(t)
	prof := env.signUp(t, "prof@uni.edu", "professor")
	ana := env.signUp(t, "ana@uni.edu", "student")
	caio := env.signUp(t, "caio@uni.edu", "student")
	handler := NewHTTPServer(env.svc, "*").Handler()
	taskID := createTaskOverHTTP(t, handler, prof.Token)
	groupsPath := "/api/tasks/" + taskID + "/groups"

	tests := []struct {
		name        string
		token       string
		body        string
		wantStatus  int
		wantMessage string
	}{
		{name: "missing name", token: ana.Token, body: `{"themeIndex":0,"members":["Ana"]}`, wantStatus: http.StatusUnprocessableEntity, wantMessage: reconcile.MsgMissingName},
		{name: "blank member", token: ana.Token, body: `{"themeIndex":0,"name":"Alpha","members":["Ana",""]}`, wantStatus: http.StatusUnprocessableEntity, wantMessage: reconcile.MsgIncompleteMembers},
		{name: "no theme", token: ana.Token, body: `{"name":"Alpha","members":["Ana"]}`, wantStatus: http.StatusUnprocessableEntity, wantMessage: reconcile.MsgThemeNotSelected},
		{name: "registered", token: ana.Token, body: `{"themeIndex":0,"name":"Alpha","members":["Ana","Bruno"]}`, wantStatus: http.StatusCreated},
		{name: "theme taken", token: caio.Token, body: `{"themeIndex":0,"name":"Beta","members":["Caio"]}`, wantStatus: http.StatusConflict, wantMessage: reconcile.MsgThemeUnavailable},
		{name: "professor", token: prof.Token, body: `{"themeIndex":1,"name":"Staff","members":["Prof"]}`, wantStatus: http.StatusForbidden, wantMessage: "Forbidden"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rr, payload := doRequest(t, handler, http.MethodPost, groupsPath, tt.token, tt.body)
			if rr.Code != tt.wantStatus {
				t.Fatalf("expected status %d, got %d body=%s", tt.wantStatus, rr.Code, rr.Body.String())
			}
			if tt.wantMessage != "" && payload["error"] != tt.wantMessage {
				t.Fatalf("expected message %q, got %v", tt.wantMessage, payload["error"])
			}
			if tt.wantStatus != http.StatusCreated {
				return
			}
			group, _ := payload["group"].(map[string]any)
			if group["theme"] != "Graphs" || group["name"] != "Alpha" {
				t.Fatalf("unexpected group %v", group)
			}
			themes, _ := payload["themes"].([]any)
			first, _ := themes[0].(map[string]any)
			if first["available"] != false || first["claimedBy"] != "Alpha" {
				t.Fatalf("expected first theme taken, got %v", first)
			}
		})
	}
}

func TestUploadMaterialOverHTTP(t *testing.T) {
	env := newTestEnv(t)
	prof := env.signUp(t, "prof@uni.edu", "professor")
	handler := NewHTTPServer(env.svc, "*").Handler()
	taskID := createTaskOverHTTP(t, handler, prof.Token)

	var body bytes.Buffer
	writer := multipart.NewWriter(&body)
	part, err := writer.CreateFormFile("file", "brief.txt")
	if err != nil {
		t.Fatalf("CreateFormFile() error = %v", err)
	}
	_, _ = part.Write([]byte("read chapter 3"))
	if err := writer.Close(); err != nil {
		t.Fatalf("Close() error = %v", err)
	}

	req := httptest.NewRequest(http.MethodPost, "/api/tasks/"+taskID+"/materials", &body)
	req.Header.Set("Content-Type", writer.FormDataContentType())
	req.Header.Set("Authorization", "Bearer "+prof.Token)
	rr := httptest.NewRecorder()
	handler.ServeHTTP(rr, req)

	if rr.Code != http.StatusCreated {
		t.Fatalf("expected status 201, got %d body=%s", rr.Code, rr.Body.String())
	}
	var payload struct {
		Task struct {
			Materials []struct {
				Name string `json:"name"`
				URL  string `json:"url"`
				Size int64  `json:"size"`
			} `json:"materials"`
		} `json:"task"`
	}
	if err := json.Unmarshal(rr.Body.Bytes(), &payload); err != nil {
		t.Fatalf("parse response: %v", err)
	}
	if len(payload.Task.Materials) != 1 {
		t.Fatalf("expected one material, got %+v", payload.Task.Materials)
	}
	material := payload.Task.Materials[0]
	if material.Name != "brief.txt" || material.Size != 14 || !strings.HasPrefix(material.URL, "https://files.test/tasks/"+taskID+"/") {
		t.Fatalf("unexpected material %+v", material)
	}

	rr, _ = doRequest(t, handler, http.MethodDelete, "/api/tasks/"+taskID+"/materials/x", prof.Token, "")
	if rr.Code != http.StatusUnprocessableEntity {
		t.Fatalf("expected 422 for bad index, got %d", rr.Code)
	}
	rr, _ = doRequest(t, handler, http.MethodDelete, "/api/tasks/"+taskID+"/materials/0", prof.Token, "")
	if rr.Code != http.StatusOK {
		t.Fatalf("expected status 200, got %d body=%s", rr.Code, rr.Body.String())
	}
}

func TestExportRejectsUnknownFormat(t *testing.T) {
	env := newTestEnv(t)
	prof := env.signUp(t, "prof@uni.edu", "professor")
	handler := NewHTTPServer(env.svc, "*").Handler()
	taskID := createTaskOverHTTP(t, handler, prof.Token)

	rr, payload := doRequest(t, handler, http.MethodPost, "/api/tasks/"+taskID+"/export", prof.Token, `{"format":"odt"}`)
	if rr.Code != http.StatusUnprocessableEntity || payload["code"] != "VALIDATION_ERROR" {
		t.Fatalf("expected 422 VALIDATION_ERROR, got %d %v", rr.Code, payload)
	}
}

func TestUnknownTaskRoutes(t *testing.T) {
	env := newTestEnv(t)
	prof := env.signUp(t, "prof@uni.edu", "professor")
	handler := NewHTTPServer(env.svc, "*").Handler()

	tests := []struct {
		method string
		path   string
	}{
		{method: http.MethodGet, path: "/api/tasks/missing"},
		{method: http.MethodGet, path: "/api/tasks/missing/history"},
		{method: http.MethodGet, path: "/api/tasks/missing/stream"},
		{method: http.MethodGet, path: "/api/nothing"},
	}
	for _, tt := range tests {
		t.Run(tt.path, func(t *testing.T) {
			rr, payload := doRequest(t, handler, tt.method, tt.path, prof.Token, "")
			if rr.Code != http.StatusNotFound || payload["code"] != "NOT_FOUND" {
				t.Fatalf("expected 404, got %d %v", rr.Code, payload)
			}
		})
	}
}

type streamEvent struct {
	name string
	view reconcile.View
}

func readEvents(t *testing.T, scanner *bufio.Scanner, events chan<- streamEvent) {
	t.Helper()
	defer close(events)
	var name string
	for scanner.Scan() {
		line := scanner.Text()
		switch {
		case strings.HasPrefix(line, "event: "):
			name = strings.TrimPrefix(line, "event: ")
		case strings.HasPrefix(line, "data: "):
			var event streamEvent
			event.name = name
			if name == "view" {
				var raw struct {
					TaskID  string                     `json:"taskId"`
					Themes  []reconcile.AnnotatedTheme `json:"themes"`
					Missing bool                       `json:"missing"`
				}
				if err := json.Unmarshal([]byte(strings.TrimPrefix(line, "data: ")), &raw); err != nil {
					t.Errorf("decode view: %v", err)
					return
				}
				event.view = reconcile.View{TaskID: raw.TaskID, Themes: raw.Themes, Missing: raw.Missing}
			}
			events <- event
		}
	}
}

func nextEvent(t *testing.T, events <-chan streamEvent) streamEvent {
	t.Helper()
	select {
	case event, ok := <-events:
		if !ok {
			t.Fatal("stream closed early")
		}
		return event
	case <-time.After(5 * time.Second):
		t.Fatal("timed out waiting for stream event")
	}
	return streamEvent{}
}

func TestStreamFollowsRegistrationsAndDeletion(t *testing.T) {
	env := newTestEnv(t)
	prof := env.signUp(t, "prof@uni.edu", "professor")
	student := env.signUp(t, "ana@uni.edu", "student")
	server := httptest.NewServer(NewHTTPServer(env.svc, "*").Handler())
	defer server.Close()

	taskID := createTaskOverHTTP(t, server.Config.Handler, prof.Token)

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, server.URL+"/api/tasks/"+taskID+"/stream?access_token="+student.Token, nil)
	if err != nil {
		t.Fatalf("NewRequest() error = %v", err)
	}
	resp, err := server.Client().Do(req)
	if err != nil {
		t.Fatalf("stream request error = %v", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("expected status 200, got %d", resp.StatusCode)
	}
	if ct := resp.Header.Get("Content-Type"); ct != "text/event-stream" {
		t.Fatalf("expected event stream, got %q", ct)
	}

	events := make(chan streamEvent, 16)
	go readEvents(t, bufio.NewScanner(resp.Body), events)

	first := nextEvent(t, events)
	if first.name != "view" || len(first.view.Themes) != 2 || !first.view.Themes[0].Available {
		t.Fatalf("unexpected first event %+v", first)
	}

	if _, _, err := env.svc.RegisterGroup(ctx, student, taskID, reconcile.Request{ThemeIndex: 0, Name: "Alpha", Members: []string{"Ana"}}); err != nil {
		t.Fatalf("RegisterGroup() error = %v", err)
	}
	for {
		event := nextEvent(t, events)
		if event.name == "view" && len(event.view.Themes) == 2 && !event.view.Themes[0].Available {
			if event.view.Themes[0].ClaimedBy != "Alpha" || !event.view.Themes[1].Available {
				t.Fatalf("unexpected themes %+v", event.view.Themes)
			}
			break
		}
	}

	if err := env.svc.DeleteTask(ctx, prof, taskID); err != nil {
		t.Fatalf("DeleteTask() error = %v", err)
	}
	for {
		event := nextEvent(t, events)
		if event.name == "deleted" {
			break
		}
	}
}
