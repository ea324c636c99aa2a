// Package gitrepo keeps the edit history of every task in its own git
// repository under a base directory. Each revision is a commit of task.json.
package gitrepo

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"
	"time"

	"taskboard/api/internal/tasks"

	git "github.com/go-git/go-git/v5"
	"github.com/go-git/go-git/v5/plumbing"
	"github.com/go-git/go-git/v5/plumbing/object"
)

const (
	contentFile = "task.json"
	mainBranch  = "main"
)

var ErrNoHistory = errors.New("task has no history")

// Content is the versioned part of a task. Groups are not versioned; they
// are append-only and carry their own timestamps.
type Content struct {
	Title        string        `json:"title"`
	Description  string        `json:"description"`
	DueDate      string        `json:"dueDate"`
	Instructions string        `json:"instructions"`
	Criteria     string        `json:"criteria"`
	Todolist     []string      `json:"todolist"`
	Themes       []tasks.Theme `json:"themes"`
	Materials    []string      `json:"materials"`
}

func ContentFromTask(task tasks.Task) Content {
	materials := make([]string, 0, len(task.Materials))
	for _, material := range task.Materials {
		materials = append(materials, material.Name)
	}
	todolist := append([]string{}, task.Todolist...)
	themes := append([]tasks.Theme{}, task.Themes...)
	return Content{
		Title:        task.Title,
		Description:  task.Description,
		DueDate:      task.DueDate,
		Instructions: task.Instructions,
		Criteria:     task.Criteria,
		Todolist:     todolist,
		Themes:       themes,
		Materials:    materials,
	}
}

type CommitInfo struct {
	Hash      string    `json:"hash"`
	Message   string    `json:"message"`
	Author    string    `json:"author"`
	CreatedAt time.Time `json:"createdAt"`
}

// FieldChange describes one field that differs between two revisions.
type FieldChange struct {
	Field  string `json:"field"`
	Before string `json:"before"`
	After  string `json:"after"`
}

type Service struct {
	baseDir string
	lockMu  sync.Mutex
	locks   map[string]*sync.Mutex
}

func New(baseDir string) *Service {
	return &Service{
		baseDir: baseDir,
		locks:   make(map[string]*sync.Mutex),
	}
}

// EnsureTaskRepo creates the repository of taskID with initial as its first
// revision. It is a no-op when the repository already exists.
func (s *Service) EnsureTaskRepo(taskID string, initial Content, author string) error {
	lock := s.taskLock(taskID)
	lock.Lock()
	defer lock.Unlock()

	path := s.repoPath(taskID)
	if _, err := os.Stat(path); err == nil {
		return nil
	} else if !errors.Is(err, os.ErrNotExist) {
		return fmt.Errorf("stat repo path: %w", err)
	}

	if err := os.MkdirAll(path, 0o755); err != nil {
		return fmt.Errorf("create repo dir: %w", err)
	}
	repo, err := git.PlainInit(path, false)
	if err != nil {
		return fmt.Errorf("init repo: %w", err)
	}

	hash, err := writeAndCommit(repo, initial, author, "Create task", true)
	if err != nil {
		return err
	}
	if err := repo.Storer.SetReference(plumbing.NewHashReference(plumbing.NewBranchReferenceName(mainBranch), hash)); err != nil {
		return fmt.Errorf("set main branch ref: %w", err)
	}
	if err := repo.Storer.SetReference(plumbing.NewSymbolicReference(plumbing.HEAD, plumbing.NewBranchReferenceName(mainBranch))); err != nil {
		return fmt.Errorf("set HEAD to main: %w", err)
	}
	return nil
}

// CommitContent records content as the next revision of taskID, creating the
// repository first if needed. Unchanged content produces no commit and
// returns the current head.
func (s *Service) CommitContent(taskID string, content Content, author, message string) (CommitInfo, bool, error) {
	if err := s.EnsureTaskRepo(taskID, content, author); err != nil {
		return CommitInfo{}, false, err
	}

	lock := s.taskLock(taskID)
	lock.Lock()
	defer lock.Unlock()

	repo, err := git.PlainOpen(s.repoPath(taskID))
	if err != nil {
		return CommitInfo{}, false, fmt.Errorf("open repo: %w", err)
	}
	head, err := headCommit(repo)
	if err != nil {
		return CommitInfo{}, false, err
	}
	current, err := readContentFromCommit(head)
	if err != nil {
		return CommitInfo{}, false, err
	}
	if !HasChanges(current, content) {
		return toCommitInfo(head), false, nil
	}

	hash, err := writeAndCommit(repo, content, author, message, false)
	if err != nil {
		return CommitInfo{}, false, err
	}
	commitObj, err := repo.CommitObject(hash)
	if err != nil {
		return CommitInfo{}, false, fmt.Errorf("read commit object: %w", err)
	}
	return toCommitInfo(commitObj), true, nil
}

func (s *Service) GetHeadContent(taskID string) (Content, CommitInfo, error) {
	lock := s.taskLock(taskID)
	lock.Lock()
	defer lock.Unlock()

	repo, err := s.open(taskID)
	if err != nil {
		return Content{}, CommitInfo{}, err
	}
	head, err := headCommit(repo)
	if err != nil {
		return Content{}, CommitInfo{}, err
	}
	content, err := readContentFromCommit(head)
	if err != nil {
		return Content{}, CommitInfo{}, err
	}
	return content, toCommitInfo(head), nil
}

func (s *Service) GetContentByHash(taskID, hash string) (Content, error) {
	lock := s.taskLock(taskID)
	lock.Lock()
	defer lock.Unlock()

	repo, err := s.open(taskID)
	if err != nil {
		return Content{}, err
	}
	resolvedHash, err := resolveHash(repo, hash)
	if err != nil {
		return Content{}, err
	}
	commitObj, err := repo.CommitObject(resolvedHash)
	if err != nil {
		return Content{}, fmt.Errorf("read commit %s: %w", hash, err)
	}
	return readContentFromCommit(commitObj)
}

// History lists revisions of taskID, newest first. A task without a
// repository has an empty history.
func (s *Service) History(taskID string, limit int) ([]CommitInfo, error) {
	lock := s.taskLock(taskID)
	lock.Lock()
	defer lock.Unlock()

	repo, err := s.open(taskID)
	if errors.Is(err, ErrNoHistory) {
		return []CommitInfo{}, nil
	}
	if err != nil {
		return nil, err
	}
	head, err := headCommit(repo)
	if err != nil {
		return nil, err
	}

	iter, err := repo.Log(&git.LogOptions{From: head.Hash})
	if err != nil {
		return nil, fmt.Errorf("read log: %w", err)
	}
	defer iter.Close()

	items := make([]CommitInfo, 0)
	err = iter.ForEach(func(commitObj *object.Commit) error {
		items = append(items, toCommitInfo(commitObj))
		if limit > 0 && len(items) >= limit {
			return io.EOF
		}
		return nil
	})
	if err != nil && !errors.Is(err, io.EOF) {
		return nil, fmt.Errorf("iterate log: %w", err)
	}
	return items, nil
}

// Remove deletes the repository of taskID.
func (s *Service) Remove(taskID string) error {
	lock := s.taskLock(taskID)
	lock.Lock()
	defer lock.Unlock()

	if err := os.RemoveAll(s.repoPath(taskID)); err != nil {
		return fmt.Errorf("remove repo: %w", err)
	}
	return nil
}

func (s *Service) open(taskID string) (*git.Repository, error) {
	repo, err := git.PlainOpen(s.repoPath(taskID))
	if errors.Is(err, git.ErrRepositoryNotExists) {
		return nil, ErrNoHistory
	}
	if err != nil {
		return nil, fmt.Errorf("open repo: %w", err)
	}
	return repo, nil
}

func (s *Service) repoPath(taskID string) string {
	return filepath.Join(s.baseDir, filepath.Base(filepath.Clean("/"+taskID)))
}

func (s *Service) taskLock(taskID string) *sync.Mutex {
	s.lockMu.Lock()
	defer s.lockMu.Unlock()
	lock, ok := s.locks[taskID]
	if ok {
		return lock
	}
	lock = &sync.Mutex{}
	s.locks[taskID] = lock
	return lock
}

func writeAndCommit(repo *git.Repository, content Content, author, message string, allowEmpty bool) (plumbing.Hash, error) {
	worktree, err := repo.Worktree()
	if err != nil {
		return plumbing.ZeroHash, fmt.Errorf("open worktree: %w", err)
	}

	payload, err := json.MarshalIndent(content, "", "  ")
	if err != nil {
		return plumbing.ZeroHash, fmt.Errorf("marshal content: %w", err)
	}
	repoRoot := worktree.Filesystem.Root()
	if err := os.WriteFile(filepath.Join(repoRoot, contentFile), append(payload, '\n'), 0o644); err != nil {
		return plumbing.ZeroHash, fmt.Errorf("write %s: %w", contentFile, err)
	}
	if _, err := worktree.Add(contentFile); err != nil {
		return plumbing.ZeroHash, fmt.Errorf("git add content: %w", err)
	}

	hash, err := worktree.Commit(message, &git.CommitOptions{
		AllowEmptyCommits: allowEmpty,
		Author: &object.Signature{
			Name:  author,
			Email: fmt.Sprintf("%s@taskboard.local", sanitizeEmail(author)),
			When:  time.Now(),
		},
	})
	if err != nil {
		return plumbing.ZeroHash, fmt.Errorf("commit content: %w", err)
	}
	return hash, nil
}

func headCommit(repo *git.Repository) (*object.Commit, error) {
	ref, err := repo.Reference(plumbing.NewBranchReferenceName(mainBranch), true)
	if err != nil {
		return nil, fmt.Errorf("resolve branch %s: %w", mainBranch, err)
	}
	commitObj, err := repo.CommitObject(ref.Hash())
	if err != nil {
		return nil, fmt.Errorf("load commit object: %w", err)
	}
	return commitObj, nil
}

func readContentFromCommit(commitObj *object.Commit) (Content, error) {
	file, err := commitObj.File(contentFile)
	if err != nil {
		return Content{}, fmt.Errorf("load %s from commit: %w", contentFile, err)
	}
	reader, err := file.Reader()
	if err != nil {
		return Content{}, fmt.Errorf("open content reader: %w", err)
	}
	defer reader.Close()

	raw, err := io.ReadAll(reader)
	if err != nil {
		return Content{}, fmt.Errorf("read content bytes: %w", err)
	}
	var content Content
	if err := json.Unmarshal(raw, &content); err != nil {
		return Content{}, fmt.Errorf("decode commit content: %w", err)
	}
	return content, nil
}

// DiffFields lists the fields that differ between two revisions, sorted by
// field name. List fields are compared as a whole.
func DiffFields(from, to Content) []FieldChange {
	pairs := []FieldChange{
		{Field: "title", Before: from.Title, After: to.Title},
		{Field: "description", Before: from.Description, After: to.Description},
		{Field: "dueDate", Before: from.DueDate, After: to.DueDate},
		{Field: "instructions", Before: from.Instructions, After: to.Instructions},
		{Field: "criteria", Before: from.Criteria, After: to.Criteria},
		{Field: "todolist", Before: strings.Join(from.Todolist, "\n"), After: strings.Join(to.Todolist, "\n")},
		{Field: "themes", Before: themeLines(from.Themes), After: themeLines(to.Themes)},
		{Field: "materials", Before: strings.Join(from.Materials, "\n"), After: strings.Join(to.Materials, "\n")},
	}
	result := make([]FieldChange, 0)
	for _, item := range pairs {
		if item.Before != item.After {
			result = append(result, item)
		}
	}
	sort.SliceStable(result, func(i, j int) bool {
		return result[i].Field < result[j].Field
	})
	return result
}

func HasChanges(from, to Content) bool {
	return len(DiffFields(from, to)) > 0
}

// themeLines renders one "title: description" line per theme.
func themeLines(themes []tasks.Theme) string {
	lines := make([]string, 0, len(themes))
	for _, theme := range themes {
		if theme.Description == "" {
			lines = append(lines, theme.Title)
			continue
		}
		lines = append(lines, theme.Title+": "+theme.Description)
	}
	return strings.Join(lines, "\n")
}

func toCommitInfo(commitObj *object.Commit) CommitInfo {
	return CommitInfo{
		Hash:      commitObj.Hash.String()[:7],
		Message:   strings.TrimSpace(commitObj.Message),
		Author:    commitObj.Author.Name,
		CreatedAt: commitObj.Author.When,
	}
}

func sanitizeEmail(input string) string {
	out := make([]rune, 0, len(input))
	for _, r := range input {
		if (r >= 'a' && r <= 'z') || (r >= 'A' && r <= 'Z') || (r >= '0' && r <= '9') {
			out = append(out, r)
			continue
		}
		if r == ' ' || r == '-' || r == '_' || r == '@' || r == '.' {
			out = append(out, '.')
		}
	}
	if len(out) == 0 {
		return "user"
	}
	return string(out)
}

func resolveHash(repo *git.Repository, hash string) (plumbing.Hash, error) {
	if len(hash) == 40 {
		return plumbing.NewHash(hash), nil
	}
	resolved, err := repo.ResolveRevision(plumbing.Revision(hash))
	if err != nil {
		return plumbing.ZeroHash, fmt.Errorf("resolve hash %s: %w", hash, err)
	}
	return *resolved, nil
}
