// Package scheduler owns the cron job table and the lifecycle of running
// task workers.
package scheduler

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/robfig/cron/v3"
	"go.uber.org/zap"

	"github.com/tigerliu/idlewatch/internal/domain"
	"github.com/tigerliu/idlewatch/internal/notify"
	"github.com/tigerliu/idlewatch/internal/resultlog"
	"github.com/tigerliu/idlewatch/internal/taskcfg"
)

const startReasonScheduled = "scheduled"

// TaskRunner is the per-run worker contract the supervisor drives.
type TaskRunner interface {
	Run(ctx context.Context, task domain.Task) (domain.RunResult, error)
	Stop()
}

// RunnerFactory builds a fresh runner for one task run.
type RunnerFactory func(task domain.Task) TaskRunner

// JobInfo describes one scheduled job for operator listings.
type JobInfo struct {
	TaskName string
	Cron     string
	NextRun  time.Time
	Order    *int
	Running  bool
}

type runningTask struct {
	runner TaskRunner
	cancel context.CancelFunc
	done   chan struct{}
}

// Supervisor schedules enabled tasks and enforces single-flight per task.
type Supervisor struct {
	tasks          *taskcfg.Store
	requirementDir string
	newRunner      RunnerFactory
	hub            *notify.Hub
	stats          *resultlog.StatsWriter
	logger         *zap.Logger
	cron           *cron.Cron

	mu      sync.Mutex
	running map[string]*runningTask
	entries map[string]cron.EntryID
	crons   map[string]string
}

// New builds a supervisor. Schedules are interpreted in loc, the clock's
// marketplace timezone. requirementDir is where criteria files awaiting
// generation live; tasks pointing there are not scheduled.
func New(tasks *taskcfg.Store, requirementDir string, newRunner RunnerFactory,
	hub *notify.Hub, stats *resultlog.StatsWriter, loc *time.Location, logger *zap.Logger) *Supervisor {
	return &Supervisor{
		tasks:          tasks,
		requirementDir: requirementDir,
		newRunner:      newRunner,
		hub:            hub,
		stats:          stats,
		logger:         logger,
		cron:           cron.New(cron.WithLocation(loc)),
		running:        map[string]*runningTask{},
		entries:        map[string]cron.EntryID{},
		crons:          map[string]string{},
	}
}

// Start clears stale run flags left by a previous process, builds the job
// table and starts the cron loop.
func (s *Supervisor) Start(ctx context.Context) error {
	if _, err := s.tasks.Load(true); err != nil {
		return fmt.Errorf("reset task flags: %w", err)
	}
	if err := s.Reload(ctx); err != nil {
		return err
	}
	s.cron.Start()
	return nil
}

// Reload atomically replaces the job table from the current task config.
func (s *Supervisor) Reload(ctx context.Context) error {
	tasks, err := s.tasks.Load(false)
	if err != nil {
		return fmt.Errorf("load tasks: %w", err)
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	for name, id := range s.entries {
		s.cron.Remove(id)
		delete(s.entries, name)
		delete(s.crons, name)
	}
	for _, task := range tasks {
		if !task.Enabled || task.Cron == "" {
			continue
		}
		if taskcfg.CriteriaPending(task, s.requirementDir) {
			s.logger.Info("task skipped, criteria not generated yet",
				zap.String("task", task.TaskName))
			continue
		}
		task := task
		id, err := s.cron.AddFunc(task.Cron, func() {
			s.fire(ctx, task.TaskName)
		})
		if err != nil {
			s.logger.Warn("invalid cron expression",
				zap.String("task", task.TaskName), zap.String("cron", task.Cron), zap.Error(err))
			continue
		}
		s.entries[task.TaskName] = id
		s.crons[task.TaskName] = task.Cron
	}
	s.logger.Info("job table reloaded", zap.Int("jobs", len(s.entries)))
	return nil
}

// fire re-reads the task before a scheduled run so config edits between
// fires take effect.
func (s *Supervisor) fire(ctx context.Context, taskName string) {
	task, _, err := s.findTask(taskName)
	if err != nil {
		s.logger.Warn("scheduled task vanished", zap.String("task", taskName), zap.Error(err))
		return
	}
	if !task.Enabled {
		return
	}
	if err := s.launch(ctx, task, startReasonScheduled); err != nil {
		s.logger.Info("scheduled fire skipped",
			zap.String("task", taskName), zap.Error(err))
	}
}

// StartTask launches a task manually. A task that is already running is
// rejected.
func (s *Supervisor) StartTask(ctx context.Context, taskName, reason string) error {
	task, _, err := s.findTask(taskName)
	if err != nil {
		return err
	}
	return s.launch(ctx, task, reason)
}

var errAlreadyRunning = fmt.Errorf("task already running")

// launch enforces single-flight and spawns the worker goroutine.
func (s *Supervisor) launch(ctx context.Context, task domain.Task, startReason string) error {
	runCtx, cancel := context.WithCancel(ctx)
	rt := &runningTask{
		runner: s.newRunner(task),
		cancel: cancel,
		done:   make(chan struct{}),
	}

	s.mu.Lock()
	if _, ok := s.running[task.TaskName]; ok {
		s.mu.Unlock()
		cancel()
		return fmt.Errorf("%w: %s", errAlreadyRunning, task.TaskName)
	}
	s.running[task.TaskName] = rt
	s.mu.Unlock()

	s.setRunning(task.TaskName, true)
	go s.runTask(runCtx, task, rt, startReason)
	return nil
}

func (s *Supervisor) runTask(ctx context.Context, task domain.Task, rt *runningTask, startReason string) {
	defer func() {
		s.mu.Lock()
		delete(s.running, task.TaskName)
		s.mu.Unlock()
		s.setRunning(task.TaskName, false)
		rt.cancel()
		close(rt.done)
	}()

	s.hub.SendTaskStart(ctx, task.TaskName, startReason)
	result, err := rt.runner.Run(ctx, task)
	if err != nil {
		s.logger.Error("task run failed", zap.String("task", task.TaskName), zap.Error(err))
	}
	s.logger.Info("task finished",
		zap.String("task", task.TaskName),
		zap.String("end_reason", result.EndReason),
		zap.Int("processed", result.Processed),
		zap.Int("recommended", result.Recommended))

	// the run context may be gone, notifications still go out
	s.hub.SendTaskComplete(context.Background(), task.TaskName, result.EndReason,
		result.Processed, result.Recommended)
}

// StopTask terminates a running task. Stopping a task that is not running
// is a no-op.
func (s *Supervisor) StopTask(taskName string) error {
	s.mu.Lock()
	rt, ok := s.running[taskName]
	s.mu.Unlock()
	if !ok {
		return nil
	}
	rt.runner.Stop()
	rt.cancel()
	<-rt.done
	if err := s.stats.Delete(taskName); err != nil {
		s.logger.Warn("stats delete failed", zap.String("task", taskName), zap.Error(err))
	}
	return nil
}

// Stop halts the cron loop and terminates every running worker.
func (s *Supervisor) Stop() {
	stopCtx := s.cron.Stop()
	<-stopCtx.Done()

	s.mu.Lock()
	names := make([]string, 0, len(s.running))
	for name := range s.running {
		names = append(names, name)
	}
	s.mu.Unlock()
	for _, name := range names {
		if err := s.StopTask(name); err != nil {
			s.logger.Warn("stop failed", zap.String("task", name), zap.Error(err))
		}
	}
}

// IsRunning reports whether a worker currently owns the task.
func (s *Supervisor) IsRunning(taskName string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	_, ok := s.running[taskName]
	return ok
}

// Jobs lists scheduled jobs: by explicit task order when any task carries
// one, else by next fire time.
func (s *Supervisor) Jobs() ([]JobInfo, error) {
	tasks, err := s.tasks.Load(false)
	if err != nil {
		return nil, err
	}
	orderOf := map[string]*int{}
	anyOrder := false
	for _, t := range tasks {
		orderOf[t.TaskName] = t.Order
		if t.Order != nil {
			anyOrder = true
		}
	}

	s.mu.Lock()
	var jobs []JobInfo
	for name, id := range s.entries {
		entry := s.cron.Entry(id)
		_, running := s.running[name]
		jobs = append(jobs, JobInfo{
			TaskName: name,
			Cron:     s.crons[name],
			NextRun:  entry.Next,
			Order:    orderOf[name],
			Running:  running,
		})
	}
	s.mu.Unlock()

	if anyOrder {
		sort.SliceStable(jobs, func(i, j int) bool {
			oi, oj := jobs[i].Order, jobs[j].Order
			switch {
			case oi != nil && oj != nil:
				return *oi < *oj
			case oi != nil:
				return true
			default:
				return false
			}
		})
	} else {
		sort.SliceStable(jobs, func(i, j int) bool {
			return jobs[i].NextRun.Before(jobs[j].NextRun)
		})
	}
	return jobs, nil
}

func (s *Supervisor) findTask(taskName string) (domain.Task, int, error) {
	tasks, err := s.tasks.Load(false)
	if err != nil {
		return domain.Task{}, -1, err
	}
	for i, task := range tasks {
		if task.TaskName == taskName {
			return task, i, nil
		}
	}
	return domain.Task{}, -1, fmt.Errorf("task %q not found", taskName)
}

// setRunning reconciles the is_running flag in the task config.
func (s *Supervisor) setRunning(taskName string, running bool) {
	_, index, err := s.findTask(taskName)
	if err != nil {
		s.logger.Warn("running flag not persisted", zap.String("task", taskName), zap.Error(err))
		return
	}
	if err := s.tasks.SetRunning(index, running); err != nil {
		s.logger.Warn("running flag not persisted", zap.String("task", taskName), zap.Error(err))
	}
}
