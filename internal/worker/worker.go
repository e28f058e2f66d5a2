package worker

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"time"

	"github.com/hibiken/asynq"
	"github.com/nexus-dashboard/nexus/internal/accounts"
	"github.com/nexus-dashboard/nexus/internal/config"
	"github.com/nexus-dashboard/nexus/internal/docstore"
	"github.com/nexus-dashboard/nexus/internal/logbook"
	"github.com/nexus-dashboard/nexus/internal/mail"
)

// draftMaxAge is how long an abandoned editor draft survives.
const draftMaxAge = 24 * time.Hour

// Deps are the services task handlers use.
type Deps struct {
	Logger   *slog.Logger
	Sender   mail.Sender
	Accounts *accounts.Service
	Store    docstore.Store
	BaseURL  string
}

// asynqLoggerAdapter wraps slog.Logger to implement asynq.Logger interface
type asynqLoggerAdapter struct {
	logger *slog.Logger
}

func (a *asynqLoggerAdapter) Debug(args ...interface{}) {
	a.logger.Debug(fmt.Sprint(args...))
}

func (a *asynqLoggerAdapter) Info(args ...interface{}) {
	a.logger.Info(fmt.Sprint(args...))
}

func (a *asynqLoggerAdapter) Warn(args ...interface{}) {
	a.logger.Warn(fmt.Sprint(args...))
}

func (a *asynqLoggerAdapter) Error(args ...interface{}) {
	a.logger.Error(fmt.Sprint(args...))
}

func (a *asynqLoggerAdapter) Fatal(args ...interface{}) {
	a.logger.Error(fmt.Sprint(args...))
	panic(fmt.Sprint(args...))
}

// Run starts the worker server and blocks until a shutdown signal.
// Use this for standalone worker mode.
func Run(cfg *config.Config, deps Deps) error {
	srv, mux, err := newServer(cfg, deps)
	if err != nil {
		return err
	}
	return srv.Run(mux)
}

// Start starts the worker in non-blocking mode and returns a stop function.
// Use this for embedded mode so the caller can coordinate shutdown.
func Start(cfg *config.Config, deps Deps) (stop func(), err error) {
	srv, mux, err := newServer(cfg, deps)
	if err != nil {
		return nil, err
	}
	if err := srv.Start(mux); err != nil {
		return nil, fmt.Errorf("failed to start worker: %w", err)
	}
	return func() { srv.Shutdown() }, nil
}

func newServer(cfg *config.Config, deps Deps) (*asynq.Server, *asynq.ServeMux, error) {
	redisOpt, err := asynq.ParseRedisURI(cfg.RedisURL)
	if err != nil {
		return nil, nil, fmt.Errorf("failed to parse Redis URL: %w", err)
	}

	srv := asynq.NewServer(
		redisOpt,
		asynq.Config{
			Concurrency:     5,
			ShutdownTimeout: 30 * time.Second,
			ErrorHandler:    asynq.ErrorHandlerFunc(makeErrorHandler(deps.Logger)),
			Logger:          &asynqLoggerAdapter{logger: deps.Logger},
		},
	)

	deps.Logger.Info("Worker starting", "concurrency", 5)
	return srv, NewMux(deps), nil
}

// NewMux registers every task handler.
func NewMux(deps Deps) *asynq.ServeMux {
	mux := asynq.NewServeMux()
	mux.HandleFunc(TaskPasswordResetMail, handlePasswordResetMail(deps))
	mux.HandleFunc(TaskAccountApprovedMail, handleAccountApprovedMail(deps))
	mux.HandleFunc(TaskPurge, handlePurge(deps))
	return mux
}

func handlePasswordResetMail(deps Deps) func(context.Context, *asynq.Task) error {
	return func(ctx context.Context, task *asynq.Task) error {
		var payload PasswordResetPayload
		if err := json.Unmarshal(task.Payload(), &payload); err != nil || payload.Email == "" {
			// Invalid payload - don't retry
			return fmt.Errorf("invalid payload: %w", asynq.SkipRetry)
		}

		if err := deps.Sender.Send(ctx, mail.PasswordReset(payload.Email, deps.BaseURL, payload.Token)); err != nil {
			return err
		}
		deps.Logger.Info("Password reset mail sent", "to", payload.Email)
		return nil
	}
}

func handleAccountApprovedMail(deps Deps) func(context.Context, *asynq.Task) error {
	return func(ctx context.Context, task *asynq.Task) error {
		var payload AccountApprovedPayload
		if err := json.Unmarshal(task.Payload(), &payload); err != nil || payload.Email == "" {
			return fmt.Errorf("invalid payload: %w", asynq.SkipRetry)
		}

		if err := deps.Sender.Send(ctx, mail.AccountApproved(payload.Email, deps.BaseURL)); err != nil {
			return err
		}
		deps.Logger.Info("Account approval mail sent", "to", payload.Email)
		return nil
	}
}

func handlePurge(deps Deps) func(context.Context, *asynq.Task) error {
	return func(ctx context.Context, task *asynq.Task) error {
		return Purge(ctx, deps)
	}
}

// Purge removes used or expired reset tokens and abandoned editor drafts.
// Processes without Redis call it from a ticker instead of the scheduler.
func Purge(ctx context.Context, deps Deps) error {
	resets, err := deps.Accounts.PurgeExpiredResets(ctx)
	if err != nil {
		return fmt.Errorf("failed to purge password resets: %w", err)
	}
	drafts, err := logbook.PurgeStaleDrafts(ctx, deps.Store, draftMaxAge)
	if err != nil {
		return fmt.Errorf("failed to purge drafts: %w", err)
	}

	deps.Logger.Info("Maintenance purge completed", "password_resets", resets, "drafts", drafts)
	return nil
}

// makeErrorHandler creates an error handler function with logger closure.
func makeErrorHandler(logger *slog.Logger) func(context.Context, *asynq.Task, error) {
	return func(ctx context.Context, task *asynq.Task, err error) {
		retried, _ := asynq.GetRetryCount(ctx)
		maxRetry, _ := asynq.GetMaxRetry(ctx)

		logger.Error(
			"Task execution failed",
			"task_type", task.Type(),
			"error", err.Error(),
			"retry_count", retried,
			"max_retry", maxRetry,
		)

		if retried >= maxRetry {
			logger.Error(
				"Task moved to archive (all retries exhausted)",
				"task_type", task.Type(),
			)
		}
	}
}
