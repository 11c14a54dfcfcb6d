// Package scheduler starts crawls of configured accounts on a cron schedule.
package scheduler

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"github.com/robfig/cron/v3"
	"github.com/timmy/mpcrawl/internal/domain"
	"github.com/timmy/mpcrawl/internal/logger"
)

// TaskStarter is the part of the task manager the scheduler drives.
type TaskStarter interface {
	StartTask(ctx context.Context, account string, opts domain.TaskOptions) (string, error)
}

// Scheduler periodically starts one task per configured account. Accounts
// that still have an active task are skipped for that tick.
type Scheduler struct {
	starter  TaskStarter
	spec     string
	accounts []string
	opts     domain.TaskOptions

	cron    *cron.Cron
	entryID cron.EntryID

	mu      sync.Mutex
	started bool
}

// New validates spec and creates a stopped Scheduler.
func New(starter TaskStarter, spec string, accounts []string, opts domain.TaskOptions) (*Scheduler, error) {
	if len(accounts) == 0 {
		return nil, &domain.ConfigError{Field: "scheduler.accounts", Reason: "must not be empty"}
	}
	parser := cron.NewParser(cron.Minute | cron.Hour | cron.Dom | cron.Month | cron.Dow | cron.Descriptor)
	if _, err := parser.Parse(spec); err != nil {
		return nil, &domain.ConfigError{Field: "scheduler.spec", Reason: err.Error()}
	}

	log := cronLogger{}
	return &Scheduler{
		starter:  starter,
		spec:     spec,
		accounts: append([]string(nil), accounts...),
		opts:     opts,
		cron: cron.New(
			cron.WithParser(parser),
			cron.WithLogger(log),
			cron.WithChain(cron.Recover(log), cron.SkipIfStillRunning(log)),
		),
	}, nil
}

// Start registers the schedule and starts the cron loop. ctx carries the
// logger; once it is cancelled, ticks start nothing.
func (s *Scheduler) Start(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.started {
		return errors.New("scheduler already started")
	}

	ctx = logger.SetComponent(ctx, "scheduler")
	id, err := s.cron.AddFunc(s.spec, func() { s.RunOnce(ctx) })
	if err != nil {
		return fmt.Errorf("failed to add cron job: %w", err)
	}
	s.entryID = id
	s.started = true
	s.cron.Start()

	logger.With(logger.Fields{
		"spec":     s.spec,
		"accounts": s.accounts,
		"next_run": s.cron.Entry(id).Next,
	}).Info(ctx, "scheduler started")
	return nil
}

// Stop stops the cron loop and waits for a running tick to return.
func (s *Scheduler) Stop() {
	<-s.cron.Stop().Done()
}

// RunOnce starts a task for every account and returns the IDs it started.
func (s *Scheduler) RunOnce(ctx context.Context) []string {
	var ids []string
	for _, account := range s.accounts {
		if ctx.Err() != nil {
			break
		}
		id, err := s.starter.StartTask(ctx, account, s.opts)
		var conflict *domain.ConflictError
		switch {
		case errors.As(err, &conflict):
			logger.With(logger.Fields{logger.FieldAccount: account, logger.FieldTaskID: conflict.TaskID}).
				Info(ctx, "previous crawl still active, skipping")
		case err != nil:
			logger.With(logger.Fields{logger.FieldAccount: account, "error": err.Error()}).
				Error(ctx, "scheduled crawl not started")
		default:
			logger.With(logger.Fields{logger.FieldAccount: account, logger.FieldTaskID: id}).
				Info(ctx, "scheduled crawl started")
			ids = append(ids, id)
		}
	}
	return ids
}

// cronLogger routes cron's own messages to the default logger.
type cronLogger struct{}

func (cronLogger) Info(msg string, keysAndValues ...interface{}) {
	logger.GetDefault().WithFields(pairs(keysAndValues)).Debug("cron: " + msg)
}

func (cronLogger) Error(err error, msg string, keysAndValues ...interface{}) {
	logger.GetDefault().WithFields(pairs(keysAndValues)).WithError(err).Error("cron: " + msg)
}

func pairs(kv []interface{}) logger.Fields {
	fields := make(logger.Fields, len(kv)/2)
	for i := 0; i+1 < len(kv); i += 2 {
		fields[fmt.Sprint(kv[i])] = kv[i+1]
	}
	return fields
}
