package cleanup

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/polyagents/polyagents/pkg/config"
	"github.com/polyagents/polyagents/pkg/fault"
)

type fakeAudit struct {
	mu            sync.Mutex
	conversations int64
	messages      int64
	err           error
	gotDays       []int
}

func (f *fakeAudit) Cleanup(_ context.Context, days int) (int64, int64, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.gotDays = append(f.gotDays, days)
	if f.err != nil {
		return 0, 0, f.err
	}
	return f.conversations, f.messages, nil
}

func (f *fakeAudit) calls() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.gotDays)
}

func (f *fakeAudit) days() []int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]int(nil), f.gotDays...)
}

type fakeTrimmer struct {
	mu      sync.Mutex
	trimmed int
	err     error
	gotAges []time.Duration
}

func (f *fakeTrimmer) Cleanup(_ context.Context, maxAge time.Duration) (int, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.gotAges = append(f.gotAges, maxAge)
	if f.err != nil {
		return 0, f.err
	}
	return f.trimmed, nil
}

func (f *fakeTrimmer) ages() []time.Duration {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]time.Duration(nil), f.gotAges...)
}

type fakePruner struct {
	mu     sync.Mutex
	pruned int
	calls  int
}

func (f *fakePruner) PruneFinished(time.Duration) int {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls++
	return f.pruned
}

func testConfig(interval time.Duration) config.CleanupConfig {
	return config.CleanupConfig{RetentionDays: 30, Interval: interval}
}

func TestService_RunNowReportsCounts(t *testing.T) {
	audit := &fakeAudit{conversations: 4, messages: 128}
	trimmer := &fakeTrimmer{trimmed: 56}
	pruner := &fakePruner{pruned: 2}
	svc := NewService(testConfig(time.Hour), 48*time.Hour, audit, trimmer, pruner)

	res, err := svc.RunNow(context.Background(), 7)
	require.NoError(t, err)

	assert.Equal(t, int64(4), res.ConversationsDeleted)
	assert.Equal(t, int64(128), res.MessagesDeleted)
	assert.Equal(t, 56, res.StreamEntriesTrimmed)
	assert.Equal(t, 2, res.RegistryPruned)
	assert.Equal(t, 7, res.RetentionDays)

	assert.Equal(t, []int{7}, audit.days())
	assert.Equal(t, []time.Duration{48 * time.Hour}, trimmer.ages())
}

func TestService_RunNowDefaultsRetention(t *testing.T) {
	audit := &fakeAudit{}
	svc := NewService(testConfig(time.Hour), time.Hour, audit, nil, nil)

	res, err := svc.RunNow(context.Background(), 0)
	require.NoError(t, err)

	assert.Equal(t, 30, res.RetentionDays)
	assert.Equal(t, []int{30}, audit.days())
}

func TestService_RunNowAuditFailureAborts(t *testing.T) {
	audit := &fakeAudit{err: fault.New(fault.KindDependency, "database unavailable")}
	trimmer := &fakeTrimmer{trimmed: 9}
	svc := NewService(testConfig(time.Hour), time.Hour, audit, trimmer, nil)

	res, err := svc.RunNow(context.Background(), 0)
	require.Error(t, err)
	assert.Nil(t, res)
	assert.Equal(t, fault.KindDependency, fault.KindOf(err))
	assert.Empty(t, trimmer.ages(), "stream trim should not run after an audit failure")
}

func TestService_RunNowStreamFailureIsNonFatal(t *testing.T) {
	audit := &fakeAudit{conversations: 1, messages: 3}
	trimmer := &fakeTrimmer{err: fault.New(fault.KindDependency, "redis unavailable")}
	svc := NewService(testConfig(time.Hour), time.Hour, audit, trimmer, &fakePruner{pruned: 1})

	res, err := svc.RunNow(context.Background(), 0)
	require.NoError(t, err)

	assert.Equal(t, int64(1), res.ConversationsDeleted)
	assert.Equal(t, 0, res.StreamEntriesTrimmed)
	assert.Equal(t, 1, res.RegistryPruned)
}

func TestService_StartSweepsImmediatelyThenOnTicker(t *testing.T) {
	audit := &fakeAudit{}
	svc := NewService(testConfig(10*time.Millisecond), time.Hour, audit, nil, nil)

	svc.Start(context.Background())
	defer svc.Stop()

	require.Eventually(t, func() bool { return audit.calls() >= 2 },
		time.Second, 2*time.Millisecond, "expected the initial sweep plus at least one ticker sweep")

	for _, days := range audit.days() {
		assert.Equal(t, 30, days)
	}
}

func TestService_StopHaltsSweeping(t *testing.T) {
	audit := &fakeAudit{}
	svc := NewService(testConfig(5*time.Millisecond), time.Hour, audit, nil, nil)

	svc.Start(context.Background())
	require.Eventually(t, func() bool { return audit.calls() >= 1 }, time.Second, time.Millisecond)
	svc.Stop()

	after := audit.calls()
	time.Sleep(30 * time.Millisecond)
	assert.Equal(t, after, audit.calls(), "no sweeps should run after Stop")
}

func TestService_StartIsIdempotent(t *testing.T) {
	audit := &fakeAudit{}
	svc := NewService(testConfig(time.Hour), time.Hour, audit, nil, nil)

	svc.Start(context.Background())
	svc.Start(context.Background())
	svc.Stop()
	svc.Stop()

	assert.Equal(t, 1, audit.calls(), "only one loop should have run the initial sweep")
}

func TestService_SweepFailureKeepsLoopAlive(t *testing.T) {
	audit := &fakeAudit{err: fault.New(fault.KindDependency, "database unavailable")}
	svc := NewService(testConfig(5*time.Millisecond), time.Hour, audit, nil, nil)

	svc.Start(context.Background())
	defer svc.Stop()

	require.Eventually(t, func() bool { return audit.calls() >= 3 },
		time.Second, time.Millisecond, "failed sweeps must not stop the loop")
}
