// Package app initializes and holds the long-lived services shared by every
// task worker: logging, stores, the notification hub, classifier and scorer.
package app

import (
	"context"
	"fmt"
	"path/filepath"
	"time"

	"go.uber.org/zap"

	"github.com/tigerliu/idlewatch/internal/ai"
	"github.com/tigerliu/idlewatch/internal/bayes"
	"github.com/tigerliu/idlewatch/internal/browser"
	"github.com/tigerliu/idlewatch/internal/clock/system"
	"github.com/tigerliu/idlewatch/internal/config"
	"github.com/tigerliu/idlewatch/internal/domain"
	"github.com/tigerliu/idlewatch/internal/hash/sha256"
	"github.com/tigerliu/idlewatch/internal/logging"
	"github.com/tigerliu/idlewatch/internal/notify"
	"github.com/tigerliu/idlewatch/internal/pipeline"
	"github.com/tigerliu/idlewatch/internal/resultlog"
	"github.com/tigerliu/idlewatch/internal/score"
	"github.com/tigerliu/idlewatch/internal/session"
	"github.com/tigerliu/idlewatch/internal/taskcfg"
)

// App wires the shared services once at startup.
type App struct {
	Config   config.Config
	Settings map[string]string
	Logger   *zap.Logger
	Clock    *system.Clock

	Accounts *session.Store
	Tasks    *taskcfg.Store
	Stats    *resultlog.StatsWriter
	Hub      *notify.Hub
	Scorer   *score.Scorer

	classifier *ai.Client
}

// New builds the service container. taskConfigPath is the task list file
// (config.json).
func New(cfg config.Config, taskConfigPath string) (*App, error) {
	logger, err := logging.New(cfg.Paths.LogDir, cfg.Logging.Development)
	if err != nil {
		return nil, fmt.Errorf("init logging: %w", err)
	}

	clock := system.New()

	settings, err := taskcfg.NewEnvStore(cfg.Paths.EnvFile).Load()
	if err != nil {
		return nil, fmt.Errorf("load settings: %w", err)
	}

	accounts, err := session.NewStore(cfg.Paths.StateDir, sha256.New(), clock, logger)
	if err != nil {
		return nil, fmt.Errorf("init session store: %w", err)
	}

	profile, err := bayes.LoadProfile(cfg.Paths.BayesProfile)
	if err != nil {
		logger.Warn("bayes profile unavailable, scoring degrades to missing_rules",
			zap.String("path", cfg.Paths.BayesProfile), zap.Error(err))
		profile = bayes.Default()
	}

	hub := notify.NewHub(
		notify.Channels(settings),
		taskcfg.EnvBoolDefault(settings, "NOTIFY_AFTER_TASK_COMPLETE", true),
		logger,
	)

	classifier := ai.New(ai.Config{
		APIKey:               settings["OPENAI_API_KEY"],
		BaseURL:              settings["OPENAI_BASE_URL"],
		Model:                settings["OPENAI_MODEL_NAME"],
		MaxTokensParamName:   settings["AI_MAX_TOKENS_PARAM_NAME"],
		MaxTokensLimit:       taskcfg.EnvInt(settings, "AI_MAX_TOKENS_LIMIT", 0),
		VisionEnabled:        taskcfg.EnvBool(settings, "AI_VISION_ENABLED"),
		EnableThinking:       taskcfg.EnvBool(settings, "ENABLE_THINKING"),
		EnableResponseFormat: taskcfg.EnvBool(settings, "ENABLE_RESPONSE_FORMAT"),
		DebugMode:            taskcfg.EnvBool(settings, "AI_DEBUG_MODE"),
		ProxyURL:             settings["PROXY_URL"],
		RequestLogDir:        filepath.Join(cfg.Paths.LogDir, "ai_requests"),
	}, clock, logger)

	return &App{
		Config:     cfg,
		Settings:   settings,
		Logger:     logger,
		Clock:      clock,
		Accounts:   accounts,
		Tasks:      taskcfg.NewStore(taskConfigPath, logger),
		Stats:      resultlog.NewStatsWriter(cfg.Paths.StatsDir, clock),
		Hub:        hub,
		Scorer:     score.New(profile, logger),
		classifier: classifier,
	}, nil
}

// NewWorker builds a fetch worker for one task run, with a per-task log
// file tee'd onto the shared logger.
func (a *App) NewWorker(taskID int, task domain.Task, debugLimit int) (*pipeline.Worker, func()) {
	taskLogger, release, err := logging.ForTask(a.Logger, a.Config.Paths.LogDir, taskID, task.TaskName)
	if err != nil {
		a.Logger.Warn("task log file unavailable", zap.String("task", task.TaskName), zap.Error(err))
		taskLogger, release = a.Logger, func() {}
	}

	launch := func(ctx context.Context, snapshot *domain.AccountSnapshot) (domain.BrowserSession, error) {
		browserCfg := browser.Config{
			Headless:          taskcfg.EnvBool(a.Settings, "RUN_HEADLESS"),
			InDocker:          taskcfg.EnvBool(a.Settings, "RUNNING_IN_DOCKER"),
			NavigationTimeout: a.Config.Browser.NavigationTimeout,
		}
		if taskcfg.EnvBool(a.Settings, "LOGIN_IS_EDGE") {
			browserCfg.EdgePath = a.Config.Browser.EdgePath
		}
		return browser.New(ctx, browserCfg, snapshot, taskLogger)
	}

	worker := pipeline.New(pipeline.Config{
		ResultDir:     a.Config.Paths.ResultDir,
		ImageRoot:     a.Config.Paths.ImageDir,
		DebugLimit:    debugLimit,
		SkipAI:        taskcfg.EnvBool(a.Settings, "SKIP_AI_ANALYSIS"),
		VisionEnabled: taskcfg.EnvBool(a.Settings, "AI_VISION_ENABLED"),
		ProxyURL:      taskcfg.EnvStr(a.Settings, "PROXY_URL", ""),
	}, a.Accounts, launch, a.classifier, a.Scorer, a.Hub, a.Stats, a.Clock, taskLogger)

	return worker, release
}

// Close flushes the loggers. Safe to call once at process exit.
func (a *App) Close() {
	_ = a.Logger.Sync()
	// give the async cores a beat to drain
	time.Sleep(50 * time.Millisecond)
}
