package scheduler

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/timmy/mpcrawl/internal/domain"
)

type fakeStarter struct {
	mu     sync.Mutex
	calls  []string
	active map[string]bool
}

func (f *fakeStarter) StartTask(_ context.Context, account string, _ domain.TaskOptions) (string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls = append(f.calls, account)
	if f.active[account] {
		return "", &domain.ConflictError{Account: account, TaskID: "running"}
	}
	if account == "" {
		return "", &domain.ConfigError{Field: "account", Reason: "must not be empty"}
	}
	return "task-" + account, nil
}

func (f *fakeStarter) callCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.calls)
}

func TestNewValidates(t *testing.T) {
	starter := &fakeStarter{}
	var cfgErr *domain.ConfigError

	_, err := New(starter, "not a spec", []string{"a"}, domain.DefaultTaskOptions())
	require.ErrorAs(t, err, &cfgErr)
	assert.Equal(t, "scheduler.spec", cfgErr.Field)

	_, err = New(starter, "0 */6 * * *", nil, domain.DefaultTaskOptions())
	require.ErrorAs(t, err, &cfgErr)
	assert.Equal(t, "scheduler.accounts", cfgErr.Field)

	_, err = New(starter, "@hourly", []string{"a"}, domain.DefaultTaskOptions())
	assert.NoError(t, err)
}

func TestRunOnceSkipsActiveAccounts(t *testing.T) {
	starter := &fakeStarter{active: map[string]bool{"busy": true}}
	s, err := New(starter, "@hourly", []string{"golang", "busy", "", "rust"}, domain.DefaultTaskOptions())
	require.NoError(t, err)

	ids := s.RunOnce(context.Background())
	assert.Equal(t, []string{"task-golang", "task-rust"}, ids)
	assert.Equal(t, 4, starter.callCount())
}

func TestRunOnceStopsOnCancelledContext(t *testing.T) {
	starter := &fakeStarter{}
	s, err := New(starter, "@hourly", []string{"a", "b"}, domain.DefaultTaskOptions())
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	assert.Empty(t, s.RunOnce(ctx))
	assert.Zero(t, starter.callCount())
}

func TestStartTriggersOnSchedule(t *testing.T) {
	starter := &fakeStarter{}
	s, err := New(starter, "@every 1s", []string{"golang"}, domain.DefaultTaskOptions())
	require.NoError(t, err)

	require.NoError(t, s.Start(context.Background()))
	defer s.Stop()
	assert.Error(t, s.Start(context.Background()))

	require.Eventually(t, func() bool { return starter.callCount() >= 1 }, 3*time.Second, 20*time.Millisecond)
}
