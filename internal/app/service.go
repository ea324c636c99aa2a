package app

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log"
	"net/http"
	"strings"
	"time"

	"taskboard/api/internal/auth"
	"taskboard/api/internal/blob"
	"taskboard/api/internal/config"
	"taskboard/api/internal/email"
	"taskboard/api/internal/export"
	"taskboard/api/internal/gitrepo"
	"taskboard/api/internal/identity"
	"taskboard/api/internal/rbac"
	"taskboard/api/internal/reconcile"
	"taskboard/api/internal/search"
	"taskboard/api/internal/session"
	"taskboard/api/internal/store"
	"taskboard/api/internal/tasks"
	"taskboard/api/internal/util"
)

type Session struct {
	Token        string
	RefreshToken string
	UserID       string
	Email        string
	Role         string
	JTI          string
	ExpiresAt    time.Time
}

type identityService interface {
	Register(ctx context.Context, email, password string) (string, error)
	Login(ctx context.Context, email, password string) (string, error)
	Remove(ctx context.Context, email string) error
}

type historyService interface {
	CommitContent(taskID string, content gitrepo.Content, author, message string) (gitrepo.CommitInfo, bool, error)
	History(taskID string, limit int) ([]gitrepo.CommitInfo, error)
	GetContentByHash(taskID, hash string) (gitrepo.Content, error)
	Remove(taskID string) error
}

type blobStore interface {
	Put(ctx context.Context, key string, body io.Reader, size int64, contentType string) (blob.Object, error)
	URL(ctx context.Context, key, filename string) (string, error)
	Delete(ctx context.Context, key string) error
}

type notifier interface {
	IsConfigured() bool
	SendGroupRegistered(to string, data email.GroupRegistered) error
}

type exporter interface {
	Export(ctx context.Context, req export.Request) (*export.Result, error)
}

type searcher interface {
	Search(ctx context.Context, q search.Query) search.Response
	IndexTask(record search.TaskRecord)
	DeleteTask(id string)
}

// Dependencies are the collaborators of Service. Store and Sessions are
// required; a nil History, Blobs or Mailer disables that feature.
type Dependencies struct {
	Store    store.Store
	Sessions session.Store
	Identity identityService
	History  historyService
	Search   searcher
	Blobs    blobStore
	Mailer   notifier
	Exporter exporter
}

type Service struct {
	cfg       config.Config
	store     store.Store
	sessions  session.Store
	tasks     *tasks.Repository
	registrar *reconcile.Registrar
	identity  identityService
	history   historyService
	search    searcher
	blobs     blobStore
	mailer    notifier
	exporter  exporter
	watchers  *watcherSet
	// notify runs owner notifications; tests replace it to run inline.
	notify func(func())
}

func New(cfg config.Config, deps Dependencies) *Service {
	repo := tasks.NewRepository(deps.Store)
	s := &Service{
		cfg:       cfg,
		store:     deps.Store,
		sessions:  deps.Sessions,
		tasks:     repo,
		registrar: reconcile.NewRegistrar(repo),
		identity:  deps.Identity,
		history:   deps.History,
		search:    deps.Search,
		blobs:     deps.Blobs,
		mailer:    deps.Mailer,
		exporter:  deps.Exporter,
		notify:    func(fn func()) { go fn() },
		watchers:  newWatcherSet(),
	}
	if s.identity == nil {
		s.identity = identity.NewService(deps.Store, cfg.BcryptCost)
	}
	if s.search == nil {
		s.search = search.NewService(nil, search.NewScan(repo))
	}
	if s.exporter == nil {
		s.exporter = export.NewService(repo)
	}
	return s
}

func (s *Service) Tasks() *tasks.Repository {
	return s.tasks
}

var (
	errForbidden            = domainError(http.StatusForbidden, "FORBIDDEN", "Forbidden", nil)
	errMaterialsUnavailable = domainError(http.StatusServiceUnavailable, "MATERIALS_UNAVAILABLE", "File storage is not configured", nil)
)

// Register creates the account and the user profile and signs the user in.
func (s *Service) Register(ctx context.Context, emailAddr, password, userType string) (Session, error) {
	kind := tasks.UserType(strings.TrimSpace(userType))
	if !kind.Valid() {
		return Session{}, domainError(http.StatusUnprocessableEntity, "VALIDATION_ERROR", "type must be professor or student", nil)
	}
	userID, err := s.identity.Register(ctx, emailAddr, password)
	if err != nil {
		return Session{}, err
	}
	user := tasks.User{ID: userID, Email: strings.ToLower(strings.TrimSpace(emailAddr)), Type: kind}
	if err := s.tasks.SaveUser(ctx, user); err != nil {
		// Without a profile the account can never sign in, so drop it and
		// let the user register again.
		if removeErr := s.identity.Remove(ctx, emailAddr); removeErr != nil {
			log.Printf("app: remove account %s after failed profile write: %v", userID, removeErr)
		}
		return Session{}, err
	}
	log.Printf("app: registered %s %s", kind, userID)
	return s.issueSession(ctx, user)
}

func (s *Service) Login(ctx context.Context, emailAddr, password string) (Session, error) {
	userID, err := s.identity.Login(ctx, emailAddr, password)
	if err != nil {
		return Session{}, err
	}
	user, err := s.tasks.GetUser(ctx, userID)
	if err != nil {
		return Session{}, err
	}
	return s.issueSession(ctx, user)
}

func (s *Service) Refresh(ctx context.Context, refreshToken string) (Session, error) {
	tokenHash := auth.HashToken(refreshToken)
	userID, err := s.sessions.LookupRefreshSession(ctx, tokenHash)
	if err != nil {
		return Session{}, err
	}
	if err := s.sessions.RevokeRefreshSession(ctx, tokenHash); err != nil {
		return Session{}, err
	}
	user, err := s.tasks.GetUser(ctx, userID)
	if err != nil {
		return Session{}, err
	}
	return s.issueSession(ctx, user)
}

func (s *Service) issueSession(ctx context.Context, user tasks.User) (Session, error) {
	now := time.Now()
	expiresAt := now.Add(s.cfg.AccessTTL)
	jti := util.NewID("jti")

	token, err := auth.IssueToken([]byte(s.cfg.JWTSecret), auth.Claims{
		Sub:   user.ID,
		Email: user.Email,
		Role:  string(user.Type),
		JTI:   jti,
		Exp:   expiresAt.Unix(),
	})
	if err != nil {
		return Session{}, err
	}

	refresh := util.NewToken(32)
	if err := s.sessions.SaveRefreshSession(ctx, auth.HashToken(refresh), user.ID, now.Add(s.cfg.RefreshTTL)); err != nil {
		return Session{}, err
	}

	return Session{
		Token:        token,
		RefreshToken: refresh,
		UserID:       user.ID,
		Email:        user.Email,
		Role:         string(user.Type),
		JTI:          jti,
		ExpiresAt:    expiresAt,
	}, nil
}

func (s *Service) SessionFromToken(ctx context.Context, token string) (Session, error) {
	claims, err := auth.ParseToken([]byte(s.cfg.JWTSecret), token)
	if err != nil {
		return Session{}, err
	}
	revoked, err := s.sessions.IsAccessTokenRevoked(ctx, claims.JTI)
	if err != nil {
		return Session{}, err
	}
	if revoked {
		return Session{}, auth.ErrInvalidToken
	}

	user, err := s.tasks.GetUser(ctx, claims.Sub)
	if errors.Is(err, store.ErrNotFound) {
		return Session{}, auth.ErrInvalidToken
	}
	if err != nil {
		return Session{}, err
	}

	return Session{
		Token:     token,
		UserID:    user.ID,
		Email:     user.Email,
		Role:      string(user.Type),
		JTI:       claims.JTI,
		ExpiresAt: time.Unix(claims.Exp, 0),
	}, nil
}

func (s *Service) Logout(ctx context.Context, sess Session, refreshToken string) error {
	if sess.JTI != "" {
		if err := s.sessions.RevokeAccessToken(ctx, sess.JTI, sess.ExpiresAt); err != nil {
			log.Printf("app: revoke access token %s: %v", sess.JTI, err)
		}
	}
	if refreshToken != "" {
		if err := s.sessions.RevokeRefreshSession(ctx, auth.HashToken(refreshToken)); err != nil {
			log.Printf("app: revoke refresh session for %s: %v", sess.UserID, err)
		}
	}
	return nil
}

func (s *Service) Can(role string, action rbac.Action) bool {
	return rbac.Can(rbac.Normalize(role), action)
}

// TaskSummary is a dashboard row.
type TaskSummary struct {
	ID         string `json:"id"`
	Title      string `json:"title"`
	DueDate    string `json:"dueDate"`
	OwnerID    string `json:"ownerId"`
	Themes     int    `json:"themes"`
	OpenThemes int    `json:"openThemes"`
	Groups     int    `json:"groups"`
}

// Registration is a group a student registered, with the task it belongs to.
type Registration struct {
	TaskID    string      `json:"taskId"`
	TaskTitle string      `json:"taskTitle"`
	Group     tasks.Group `json:"group"`
}

func summarize(task tasks.Task) TaskSummary {
	open := 0
	for _, theme := range reconcile.Annotate(task.Themes, task.Groups) {
		if theme.Available {
			open++
		}
	}
	return TaskSummary{
		ID:         task.ID,
		Title:      task.Title,
		DueDate:    task.DueDate,
		OwnerID:    task.OwnerID,
		Themes:     len(task.Themes),
		OpenThemes: open,
		Groups:     len(task.Groups),
	}
}

// Dashboard lists a professor's own tasks, or every task plus the student's
// registrations.
func (s *Service) Dashboard(ctx context.Context, sess Session) (map[string]any, error) {
	if rbac.Normalize(sess.Role) == rbac.RoleProfessor {
		owned, err := s.tasks.ListTasksByOwner(ctx, sess.UserID)
		if err != nil {
			return nil, err
		}
		items := make([]TaskSummary, 0, len(owned))
		for _, task := range owned {
			items = append(items, summarize(task))
		}
		return map[string]any{"role": sess.Role, "tasks": items}, nil
	}

	all, err := s.tasks.ListTasks(ctx)
	if err != nil {
		return nil, err
	}
	items := make([]TaskSummary, 0, len(all))
	mine := make([]Registration, 0)
	for _, task := range all {
		items = append(items, summarize(task))
		for _, group := range task.Groups {
			if group.CreatedBy == sess.UserID {
				mine = append(mine, Registration{TaskID: task.ID, TaskTitle: task.Title, Group: group})
			}
		}
	}
	return map[string]any{"role": sess.Role, "tasks": items, "registrations": mine}, nil
}

func (s *Service) ListTasks(ctx context.Context) ([]TaskSummary, error) {
	all, err := s.tasks.ListTasks(ctx)
	if err != nil {
		return nil, err
	}
	items := make([]TaskSummary, 0, len(all))
	for _, task := range all {
		items = append(items, summarize(task))
	}
	return items, nil
}

// TaskDetail is a task with its themes annotated by availability.
type TaskDetail struct {
	Task   tasks.Task                 `json:"task"`
	Themes []reconcile.AnnotatedTheme `json:"themes"`
}

func (s *Service) GetTask(ctx context.Context, taskID string) (TaskDetail, error) {
	task, err := s.tasks.GetTask(ctx, taskID)
	if err != nil {
		return TaskDetail{}, err
	}
	s.refreshMaterialURLs(ctx, &task)
	return TaskDetail{Task: task, Themes: reconcile.Annotate(task.Themes, task.Groups)}, nil
}

func (s *Service) CreateTask(ctx context.Context, sess Session, input tasks.TaskInput) (tasks.Task, error) {
	if !s.Can(sess.Role, rbac.ActionManageTasks) {
		return tasks.Task{}, errForbidden
	}
	themes, err := normalizeThemes(input.Themes)
	if err != nil {
		return tasks.Task{}, err
	}
	input.Title = strings.TrimSpace(input.Title)
	input.Themes = themes
	input.Todolist = normalizeTodolist(input.Todolist)

	task, err := s.tasks.CreateTask(ctx, sess.UserID, input)
	if err != nil {
		return tasks.Task{}, err
	}
	s.recordRevision(task, sess, "Create task")
	s.search.IndexTask(search.RecordFromTask(task))
	return task, nil
}

func (s *Service) UpdateTask(ctx context.Context, sess Session, taskID string, update tasks.TaskUpdate) (tasks.Task, error) {
	if _, err := s.requireOwner(ctx, sess, taskID); err != nil {
		return tasks.Task{}, err
	}
	if update.Title != nil {
		title := strings.TrimSpace(*update.Title)
		update.Title = &title
	}
	if update.Todolist != nil {
		todolist := normalizeTodolist(*update.Todolist)
		update.Todolist = &todolist
	}
	task, err := s.tasks.UpdateTask(ctx, taskID, update)
	if err != nil {
		return tasks.Task{}, err
	}
	s.recordRevision(task, sess, "Update task")
	s.search.IndexTask(search.RecordFromTask(task))
	return task, nil
}

// ReplaceThemes swaps the whole theme list. Groups keep the title they
// registered with, so a renamed theme becomes available again.
func (s *Service) ReplaceThemes(ctx context.Context, sess Session, taskID string, themes []tasks.Theme) (TaskDetail, error) {
	if _, err := s.requireOwner(ctx, sess, taskID); err != nil {
		return TaskDetail{}, err
	}
	normalized, err := normalizeThemes(themes)
	if err != nil {
		return TaskDetail{}, err
	}
	task, err := s.tasks.ReplaceThemes(ctx, taskID, normalized)
	if err != nil {
		return TaskDetail{}, err
	}
	s.recordRevision(task, sess, "Update themes")
	s.search.IndexTask(search.RecordFromTask(task))
	return TaskDetail{Task: task, Themes: reconcile.Annotate(task.Themes, task.Groups)}, nil
}

func (s *Service) DeleteTask(ctx context.Context, sess Session, taskID string) error {
	task, err := s.requireOwner(ctx, sess, taskID)
	if err != nil {
		return err
	}
	if err := s.tasks.DeleteTask(ctx, taskID); err != nil {
		return err
	}
	if s.blobs != nil {
		for _, material := range task.Materials {
			if material.Key == "" {
				continue
			}
			if err := s.blobs.Delete(ctx, material.Key); err != nil {
				log.Printf("app: delete material %s of task %s: %v", material.Key, taskID, err)
			}
		}
	}
	if s.history != nil {
		if err := s.history.Remove(taskID); err != nil {
			log.Printf("app: remove history of task %s: %v", taskID, err)
		}
	}
	s.search.DeleteTask(taskID)
	return nil
}

// RegisterGroup registers a group for a theme of the task. When the caller
// has a live detail stream open on the task the registration runs through it,
// so the stream shows the pending group and any failure; otherwise it checks
// against the task as stored right now. The conditional append makes either
// path race free.
func (s *Service) RegisterGroup(ctx context.Context, sess Session, taskID string, req reconcile.Request) (tasks.Group, TaskDetail, error) {
	if !s.Can(sess.Role, rbac.ActionRegisterGroup) {
		return tasks.Group{}, TaskDetail{}, errForbidden
	}
	req.CreatedBy = sess.UserID
	if watcher := s.watchers.get(sess.UserID, taskID); watcher != nil {
		group, err := watcher.Register(ctx, req)
		switch {
		case err == nil:
			log.Printf("app: group %s registered %q on task %s", group.ID, group.Theme, taskID)
			view := watcher.Current()
			if view.Task == nil {
				return tasks.Group{}, TaskDetail{}, tasks.ErrTaskNotFound
			}
			s.notifyOwner(*view.Task, group)
			return group, TaskDetail{Task: *view.Task, Themes: view.Themes}, nil
		case errors.Is(err, reconcile.ErrClosed), errors.Is(err, reconcile.ErrNotReady):
		default:
			return tasks.Group{}, TaskDetail{}, err
		}
	}

	task, err := s.tasks.GetTask(ctx, taskID)
	if err != nil {
		return tasks.Group{}, TaskDetail{}, err
	}
	group, err := s.registrar.RegisterGroup(ctx, task, task.Groups, req)
	if err != nil {
		return tasks.Group{}, TaskDetail{}, err
	}
	log.Printf("app: group %s registered %q on task %s", group.ID, group.Theme, taskID)

	groups := append(append([]tasks.Group{}, task.Groups...), group)
	task.Groups = groups
	s.notifyOwner(task, group)
	return group, TaskDetail{Task: task, Themes: reconcile.Annotate(task.Themes, groups)}, nil
}

// WatchTask opens a live detail session on taskID. The caller closes it.
// Registrations the user posts while it is open are shown through it.
func (s *Service) WatchTask(ctx context.Context, sess Session, taskID string) (*reconcile.Watcher, error) {
	if _, err := s.tasks.GetTask(ctx, taskID); err != nil {
		return nil, err
	}
	watcher, err := reconcile.Watch(ctx, s.tasks, s.registrar, taskID)
	if err != nil {
		return nil, err
	}
	if sess.UserID != "" && s.Can(sess.Role, rbac.ActionRegisterGroup) {
		s.watchers.add(sess.UserID, taskID, watcher)
	}
	return watcher, nil
}

func (s *Service) notifyOwner(task tasks.Task, group tasks.Group) {
	if s.mailer == nil || !s.mailer.IsConfigured() || task.OwnerID == "" {
		return
	}
	s.notify(func() {
		ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		owner, err := s.tasks.GetUser(ctx, task.OwnerID)
		if err != nil {
			log.Printf("app: notify owner of task %s: %v", task.ID, err)
			return
		}
		taskURL := ""
		if s.cfg.PublicURL != "" {
			taskURL = s.cfg.PublicURL + "/tasks/" + task.ID
		}
		err = s.mailer.SendGroupRegistered(owner.Email, email.GroupRegistered{
			TaskTitle: task.Title,
			GroupName: group.Name,
			Theme:     group.Theme,
			Members:   group.Members,
			TaskURL:   taskURL,
		})
		if err != nil {
			log.Printf("app: send registration mail for task %s: %v", task.ID, err)
		}
	})
}

// MaterialUpload is a file received for a task.
type MaterialUpload struct {
	Filename    string
	ContentType string
	Size        int64
	Body        io.Reader
}

func (s *Service) AddMaterial(ctx context.Context, sess Session, taskID string, upload MaterialUpload) (tasks.Task, error) {
	if _, err := s.requireOwner(ctx, sess, taskID); err != nil {
		return tasks.Task{}, err
	}
	if s.blobs == nil {
		return tasks.Task{}, errMaterialsUnavailable
	}

	key := blob.ObjectKey(taskID, upload.Filename)
	object, err := s.blobs.Put(ctx, key, upload.Body, upload.Size, upload.ContentType)
	if err != nil {
		return tasks.Task{}, err
	}
	name := blob.SafeName(upload.Filename)
	url, err := s.blobs.URL(ctx, object.Key, name)
	if err != nil {
		return tasks.Task{}, err
	}

	task, err := s.tasks.AddMaterial(ctx, taskID, tasks.Material{
		Name:        name,
		Key:         object.Key,
		URL:         url,
		ContentType: object.ContentType,
		Size:        object.Size,
	})
	if err != nil {
		if delErr := s.blobs.Delete(ctx, object.Key); delErr != nil {
			log.Printf("app: discard material %s: %v", object.Key, delErr)
		}
		return tasks.Task{}, err
	}
	s.recordRevision(task, sess, "Add material "+name)
	return task, nil
}

func (s *Service) RemoveMaterial(ctx context.Context, sess Session, taskID string, index int) (tasks.Task, error) {
	if _, err := s.requireOwner(ctx, sess, taskID); err != nil {
		return tasks.Task{}, err
	}
	removed, err := s.tasks.RemoveMaterial(ctx, taskID, index)
	if err != nil {
		return tasks.Task{}, err
	}
	if s.blobs != nil && removed.Key != "" {
		if err := s.blobs.Delete(ctx, removed.Key); err != nil {
			log.Printf("app: delete material %s of task %s: %v", removed.Key, taskID, err)
		}
	}
	task, err := s.tasks.GetTask(ctx, taskID)
	if err != nil {
		return tasks.Task{}, err
	}
	s.recordRevision(task, sess, "Remove material "+removed.Name)
	return task, nil
}

// Revision is one history entry with the fields it changed.
type Revision struct {
	gitrepo.CommitInfo
	Changes []gitrepo.FieldChange `json:"changes"`
}

func (s *Service) History(ctx context.Context, sess Session, taskID string, limit int) ([]Revision, error) {
	if !s.Can(sess.Role, rbac.ActionViewHistory) {
		return nil, errForbidden
	}
	if _, err := s.tasks.GetTask(ctx, taskID); err != nil {
		return nil, err
	}
	if s.history == nil {
		return []Revision{}, nil
	}
	if limit <= 0 || limit > 100 {
		limit = 50
	}
	// One extra commit so the oldest listed revision has a parent to diff with.
	commits, err := s.history.History(taskID, limit+1)
	if err != nil {
		return nil, err
	}

	revisions := make([]Revision, 0, len(commits))
	for i, commit := range commits {
		if i == limit {
			break
		}
		revision := Revision{CommitInfo: commit, Changes: []gitrepo.FieldChange{}}
		if i+1 < len(commits) {
			after, err := s.history.GetContentByHash(taskID, commit.Hash)
			if err != nil {
				return nil, err
			}
			before, err := s.history.GetContentByHash(taskID, commits[i+1].Hash)
			if err != nil {
				return nil, err
			}
			revision.Changes = gitrepo.DiffFields(before, after)
		}
		revisions = append(revisions, revision)
	}
	return revisions, nil
}

func (s *Service) Export(ctx context.Context, taskID, format string) (*export.Result, error) {
	parsed, err := export.ParseFormat(format)
	if err != nil {
		return nil, err
	}
	return s.exporter.Export(ctx, export.Request{TaskID: taskID, Format: parsed})
}

// Search finds tasks. mine limits a professor's results to their own tasks.
func (s *Service) Search(ctx context.Context, sess Session, text string, mine bool, limit, offset int) search.Response {
	q := search.Query{Text: strings.TrimSpace(text), Limit: limit, Offset: offset}
	if mine && rbac.Normalize(sess.Role) == rbac.RoleProfessor {
		q.OwnerID = sess.UserID
	}
	return s.search.Search(ctx, q)
}

// Ping verifies the store and the session backend are reachable.
func (s *Service) Ping(ctx context.Context) map[string]error {
	return map[string]error{
		"store":    s.store.Ping(ctx),
		"sessions": s.sessions.Ping(ctx),
	}
}

func (s *Service) requireOwner(ctx context.Context, sess Session, taskID string) (tasks.Task, error) {
	if !s.Can(sess.Role, rbac.ActionManageTasks) {
		return tasks.Task{}, errForbidden
	}
	task, err := s.tasks.GetTask(ctx, taskID)
	if err != nil {
		return tasks.Task{}, err
	}
	// Tasks created before owners were recorded are editable by any professor.
	if task.OwnerID != "" && task.OwnerID != sess.UserID {
		return tasks.Task{}, errForbidden
	}
	return task, nil
}

func (s *Service) recordRevision(task tasks.Task, sess Session, message string) {
	if s.history == nil {
		return
	}
	author := sess.Email
	if author == "" {
		author = sess.UserID
	}
	if _, _, err := s.history.CommitContent(task.ID, gitrepo.ContentFromTask(task), author, message); err != nil {
		log.Printf("app: record revision of task %s: %v", task.ID, err)
	}
}

func (s *Service) refreshMaterialURLs(ctx context.Context, task *tasks.Task) {
	if s.blobs == nil {
		return
	}
	for i, material := range task.Materials {
		if material.Key == "" {
			continue
		}
		url, err := s.blobs.URL(ctx, material.Key, material.Name)
		if err != nil {
			log.Printf("app: presign %s: %v", material.Key, err)
			continue
		}
		task.Materials[i].URL = url
	}
}

// normalizeThemes trims themes and requires non-empty, unique titles.
func normalizeThemes(themes []tasks.Theme) ([]tasks.Theme, error) {
	out := make([]tasks.Theme, 0, len(themes))
	seen := make(map[string]int, len(themes))
	for i, theme := range themes {
		title := strings.TrimSpace(theme.Title)
		if title == "" {
			return nil, domainError(http.StatusUnprocessableEntity, "VALIDATION_ERROR", "theme title is required",
				map[string]any{"index": i})
		}
		if first, ok := seen[title]; ok {
			return nil, domainError(http.StatusUnprocessableEntity, "VALIDATION_ERROR", fmt.Sprintf("duplicate theme %q", title),
				map[string]any{"index": i, "duplicateOf": first})
		}
		seen[title] = i
		out = append(out, tasks.Theme{Title: title, Description: strings.TrimSpace(theme.Description)})
	}
	return out, nil
}

func normalizeTodolist(items []string) []string {
	out := make([]string, 0, len(items))
	for _, item := range items {
		if item = strings.TrimSpace(item); item != "" {
			out = append(out, item)
		}
	}
	return out
}
