// Package taskcfg owns the persisted task list and the .env settings store.
package taskcfg

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"

	"go.uber.org/zap"

	"github.com/tigerliu/idlewatch/internal/domain"
)

// Store reads and writes the ordered task list. Task identity is the
// zero-based index after sorting by the explicit Order field when any task
// carries one, else insertion order.
type Store struct {
	path   string
	logger *zap.Logger

	mu sync.Mutex
}

// NewStore returns a Store over the task list at path.
func NewStore(path string, logger *zap.Logger) *Store {
	return &Store{path: path, logger: logger}
}

// Load reads and orders the task list, composing each task's prompt text.
// When resetTransient is set (process start), is_running and
// generating_ai_criteria are forcibly cleared and written back.
func (s *Store) Load(resetTransient bool) ([]domain.Task, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	tasks, err := s.loadLocked()
	if err != nil {
		return nil, err
	}
	if resetTransient {
		dirty := false
		for i := range tasks {
			if tasks[i].IsRunning || tasks[i].GeneratingAICriteria {
				tasks[i].IsRunning = false
				tasks[i].GeneratingAICriteria = false
				dirty = true
			}
		}
		if dirty {
			if err := s.saveLocked(tasks); err != nil {
				return nil, err
			}
		}
	}
	for i := range tasks {
		tasks[i].Region = NormalizeRegion(tasks[i].Region)
		if tasks[i].AIPromptBaseFile != "" && tasks[i].AIPromptCriteriaFile != "" {
			text, err := ComposePrompt(tasks[i].AIPromptBaseFile, tasks[i].AIPromptCriteriaFile)
			if err != nil {
				s.logger.Warn("prompt composition failed",
					zap.String("task_name", tasks[i].TaskName), zap.Error(err))
				continue
			}
			if warn := promptDefect(text); warn != "" {
				s.logger.Warn("prompt looks defective",
					zap.String("task_name", tasks[i].TaskName), zap.String("defect", warn))
			}
			tasks[i].AIPromptText = text
		}
	}
	return tasks, nil
}

func (s *Store) loadLocked() ([]domain.Task, error) {
	data, err := os.ReadFile(s.path)
	if os.IsNotExist(err) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("read task config %s: %w", s.path, err)
	}
	var tasks []domain.Task
	if err := json.Unmarshal(data, &tasks); err != nil {
		return nil, fmt.Errorf("decode task config %s: %w", s.path, err)
	}
	orderTasks(tasks)
	return tasks, nil
}

// orderTasks sorts by explicit Order when any task has one; the sort is
// stable so tasks without Order keep insertion order among themselves.
func orderTasks(tasks []domain.Task) {
	anyOrder := false
	for _, t := range tasks {
		if t.Order != nil {
			anyOrder = true
			break
		}
	}
	if !anyOrder {
		return
	}
	sort.SliceStable(tasks, func(i, j int) bool {
		oi, oj := tasks[i].Order, tasks[j].Order
		switch {
		case oi == nil:
			return false
		case oj == nil:
			return true
		default:
			return *oi < *oj
		}
	})
}

// Save rewrites the full task list atomically.
func (s *Store) Save(tasks []domain.Task) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.saveLocked(tasks)
}

func (s *Store) saveLocked(tasks []domain.Task) error {
	payload, err := json.MarshalIndent(tasks, "", "  ")
	if err != nil {
		return fmt.Errorf("marshal task config: %w", err)
	}
	dir := filepath.Dir(s.path)
	tmp, err := os.CreateTemp(dir, ".tasks-*.tmp")
	if err != nil {
		return fmt.Errorf("create temp task config: %w", err)
	}
	tmpName := tmp.Name()
	if _, err := tmp.Write(payload); err != nil {
		tmp.Close()
		os.Remove(tmpName)
		return fmt.Errorf("write temp task config: %w", err)
	}
	if err := tmp.Close(); err != nil {
		os.Remove(tmpName)
		return fmt.Errorf("close temp task config: %w", err)
	}
	if err := os.Rename(tmpName, s.path); err != nil {
		os.Remove(tmpName)
		return fmt.Errorf("rename task config: %w", err)
	}
	return nil
}

// Append adds a task at the tail, de-clashing its name with a (副本N) suffix.
func (s *Store) Append(task domain.Task) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	tasks, err := s.loadLocked()
	if err != nil {
		return err
	}
	task.TaskName = dedupeName(task.TaskName, tasks)
	tasks = append(tasks, task)
	return s.saveLocked(tasks)
}

func dedupeName(name string, tasks []domain.Task) string {
	taken := make(map[string]bool, len(tasks))
	for _, t := range tasks {
		taken[t.TaskName] = true
	}
	if !taken[name] {
		return name
	}
	for n := 1; ; n++ {
		candidate := fmt.Sprintf("%s(副本%d)", name, n)
		if !taken[candidate] {
			return candidate
		}
	}
}

// SetRunning writes the is_running flag of the task at index back to disk.
func (s *Store) SetRunning(index int, running bool) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	tasks, err := s.loadLocked()
	if err != nil {
		return err
	}
	if index < 0 || index >= len(tasks) {
		return fmt.Errorf("task index %d out of range", index)
	}
	if tasks[index].IsRunning == running {
		return nil
	}
	tasks[index].IsRunning = running
	return s.saveLocked(tasks)
}

// Delete removes the task at index.
func (s *Store) Delete(index int) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	tasks, err := s.loadLocked()
	if err != nil {
		return err
	}
	if index < 0 || index >= len(tasks) {
		return fmt.Errorf("task index %d out of range", index)
	}
	tasks = append(tasks[:index], tasks[index+1:]...)
	return s.saveLocked(tasks)
}

// CriteriaPending reports whether the task's criteria file still lives in the
// requirement directory, meaning its rubric has not been generated yet. Such
// tasks are skipped by the scheduler even when enabled.
func CriteriaPending(task domain.Task, requirementDir string) bool {
	if task.AIPromptCriteriaFile == "" {
		return false
	}
	criteria := filepath.Clean(task.AIPromptCriteriaFile)
	req := filepath.Clean(requirementDir)
	if criteria == req {
		return true
	}
	return strings.HasPrefix(criteria, req+string(filepath.Separator))
}
