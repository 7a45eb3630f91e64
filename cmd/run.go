package cmd

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/tigerliu/idlewatch/internal/app"
	"github.com/tigerliu/idlewatch/internal/domain"
	"github.com/tigerliu/idlewatch/internal/scheduler"
)

func newRunCmd() *cobra.Command {
	var (
		taskName    string
		startReason string
		debugLimit  int
	)

	cmd := &cobra.Command{
		Use:   "run",
		Short: "Run one task or the full scheduler",
		Long: `Without --task-name, loads every enabled task and runs the cron
scheduler until interrupted. With --task-name, runs that task once and
exits; the exit code is zero even when the run surrenders to risk control.`,
		RunE: func(cmd *cobra.Command, _ []string) error {
			application, err := newApp()
			if err != nil {
				return fmt.Errorf("initialize services: %w", err)
			}
			defer application.Close()

			ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
			defer stop()

			if taskName != "" {
				if startReason == "" {
					startReason = "scheduled"
				}
				return runSingleTask(ctx, application, taskName, startReason, debugLimit)
			}
			return runScheduler(ctx, application, debugLimit)
		},
	}

	cmd.Flags().StringVar(&taskName, "task-name", "", "run the named task only")
	cmd.Flags().StringVar(&startReason, "start-reason", "",
		"annotation for the task-start notification")
	cmd.Flags().IntVar(&debugLimit, "debug-limit", 0,
		"stop after N new listings per task (0 = unlimited)")
	return cmd
}

func runSingleTask(ctx context.Context, application *app.App, taskName, startReason string, debugLimit int) error {
	tasks, err := application.Tasks.Load(true)
	if err != nil {
		return fmt.Errorf("load task config: %w", err)
	}
	index := -1
	for i, t := range tasks {
		if t.TaskName == taskName {
			index = i
			break
		}
	}
	if index < 0 {
		return fmt.Errorf("task %q not found in config", taskName)
	}
	task := tasks[index]

	worker, release := application.NewWorker(index, task, debugLimit)
	defer release()

	application.Hub.SendTaskStart(ctx, task.TaskName, startReason)
	result, err := worker.Run(ctx, task)
	if err != nil {
		return fmt.Errorf("run task %q: %w", taskName, err)
	}
	application.Hub.SendTaskComplete(context.Background(),
		task.TaskName, result.EndReason, result.Processed, result.Recommended)

	application.Logger.Info("task finished",
		zap.String("task", task.TaskName),
		zap.String("end_reason", result.EndReason),
		zap.Int("processed", result.Processed),
		zap.Int("recommended", result.Recommended))
	return nil
}

func runScheduler(ctx context.Context, application *app.App, debugLimit int) error {
	sup := scheduler.New(
		application.Tasks,
		application.Config.Paths.RequirementDir,
		func(task domain.Task) scheduler.TaskRunner {
			worker, release := application.NewWorker(taskIndexOf(application, task.TaskName), task, debugLimit)
			return &releasingRunner{worker: worker, release: release}
		},
		application.Hub,
		application.Stats,
		application.Clock.Location(),
		application.Logger,
	)
	if err := sup.Start(ctx); err != nil {
		return fmt.Errorf("start scheduler: %w", err)
	}
	application.Logger.Info("scheduler running")

	<-ctx.Done()
	application.Logger.Info("shutting down")
	sup.Stop()
	return nil
}

func taskIndexOf(application *app.App, taskName string) int {
	tasks, err := application.Tasks.Load(false)
	if err != nil {
		return 0
	}
	for i, t := range tasks {
		if t.TaskName == taskName {
			return i
		}
	}
	return 0
}

// releasingRunner closes the per-task log file once the run ends.
type releasingRunner struct {
	worker  scheduler.TaskRunner
	release func()
}

func (r *releasingRunner) Run(ctx context.Context, task domain.Task) (domain.RunResult, error) {
	defer r.release()
	return r.worker.Run(ctx, task)
}

func (r *releasingRunner) Stop() {
	r.worker.Stop()
}
