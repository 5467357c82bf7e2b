package scheduler

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"remindd/internal/clock"
)

type recordingDispatcher struct {
	mu        sync.Mutex
	delivered []delivery
	ch        chan delivery
}

type delivery struct {
	id      string
	url     string
	payload map[string]any
}

func newRecordingDispatcher() *recordingDispatcher {
	return &recordingDispatcher{ch: make(chan delivery, 16)}
}

func (d *recordingDispatcher) Deliver(ctx context.Context, url string, payload map[string]any, id string) {
	d.mu.Lock()
	dl := delivery{id: id, url: url, payload: payload}
	d.delivered = append(d.delivered, dl)
	d.mu.Unlock()
	d.ch <- dl
}

func (d *recordingDispatcher) wait(t *testing.T) delivery {
	t.Helper()
	select {
	case dl := <-d.ch:
		return dl
	case <-time.After(2 * time.Second):
		t.Fatal("timed out waiting for delivery")
		return delivery{}
	}
}

func (d *recordingDispatcher) count() int {
	d.mu.Lock()
	defer d.mu.Unlock()
	return len(d.delivered)
}

func newTestService(t *testing.T, clk clock.Clock) (*Service, *recordingDispatcher) {
	t.Helper()
	disp := newRecordingDispatcher()
	svc := New(disp, Options{Clock: clk, Log: zerolog.Nop()})
	svc.Start()
	t.Cleanup(svc.Stop)
	return svc, disp
}

func TestScheduleAndFire(t *testing.T) {
	start := time.Date(2025, 1, 1, 9, 0, 0, 0, time.UTC)
	clk := clock.NewFake(start)
	svc, disp := newTestService(t, clk)

	due := time.Date(2025, 1, 1, 10, 0, 0, 0, time.UTC)
	payload := map[string]any{"message": "hi"}
	id, err := svc.Schedule(JobRecord{Due: due, WebhookURL: "http://example.test/hook", Payload: payload})
	require.NoError(t, err)
	require.NotEmpty(t, id)

	pending := svc.List()
	require.Contains(t, pending, id)
	assert.True(t, pending[id].Due.Equal(due))
	assert.Equal(t, "http://example.test/hook", pending[id].WebhookURL)
	assert.Equal(t, payload, pending[id].Payload)

	clk.Advance(time.Hour)
	dl := disp.wait(t)
	assert.Equal(t, id, dl.id)
	assert.Equal(t, "http://example.test/hook", dl.url)
	assert.Equal(t, payload, dl.payload)

	assert.NotContains(t, svc.List(), id)

	// No second delivery for the same job.
	clk.Advance(time.Hour)
	time.Sleep(20 * time.Millisecond)
	assert.Equal(t, 1, disp.count())
}

func TestPastDueFiresImmediately(t *testing.T) {
	start := time.Date(2025, 1, 1, 12, 0, 0, 0, time.UTC)
	clk := clock.NewFake(start)
	svc, disp := newTestService(t, clk)

	id, err := svc.Schedule(JobRecord{Due: start.Add(-time.Minute), WebhookURL: "http://example.test/hook"})
	require.NoError(t, err)

	dl := disp.wait(t)
	assert.Equal(t, id, dl.id)
}

func TestDuplicateIDRejected(t *testing.T) {
	clk := clock.NewFake(time.Date(2025, 1, 1, 0, 0, 0, 0, time.UTC))
	svc, _ := newTestService(t, clk)

	rec := JobRecord{ID: "rem_1", Due: clk.Now().Add(time.Hour), WebhookURL: "http://example.test/hook"}
	_, err := svc.Schedule(rec)
	require.NoError(t, err)
	_, err = svc.Schedule(rec)
	assert.ErrorIs(t, err, ErrDuplicateID)
}

func TestScheduleValidation(t *testing.T) {
	clk := clock.NewFake(time.Date(2025, 1, 1, 0, 0, 0, 0, time.UTC))
	svc, _ := newTestService(t, clk)

	_, err := svc.Schedule(JobRecord{Due: clk.Now().Add(time.Hour)})
	assert.ErrorIs(t, err, ErrMissingURL)

	_, err = svc.Schedule(JobRecord{WebhookURL: "http://example.test/hook"})
	assert.ErrorIs(t, err, ErrInvalidTime)

	_, err = svc.Schedule(JobRecord{WebhookURL: "http://example.test/hook", CronExpr: "not a cron"})
	assert.ErrorIs(t, err, ErrInvalidSpec)
}

func TestCancel(t *testing.T) {
	clk := clock.NewFake(time.Date(2025, 1, 1, 0, 0, 0, 0, time.UTC))
	svc, disp := newTestService(t, clk)

	id, err := svc.Schedule(JobRecord{Due: clk.Now().Add(time.Hour), WebhookURL: "http://example.test/hook"})
	require.NoError(t, err)

	assert.True(t, svc.Cancel(id))
	assert.False(t, svc.Cancel(id))
	assert.False(t, svc.Cancel("rem_missing"))
	assert.Empty(t, svc.List())

	clk.Advance(2 * time.Hour)
	time.Sleep(20 * time.Millisecond)
	assert.Equal(t, 0, disp.count())
}

func TestEqualDueTimesBothFire(t *testing.T) {
	clk := clock.NewFake(time.Date(2025, 1, 1, 0, 0, 0, 0, time.UTC))
	svc, disp := newTestService(t, clk)

	due := clk.Now().Add(30 * time.Minute)
	id1, err := svc.Schedule(JobRecord{Due: due, WebhookURL: "http://example.test/a"})
	require.NoError(t, err)
	id2, err := svc.Schedule(JobRecord{Due: due, WebhookURL: "http://example.test/b"})
	require.NoError(t, err)

	clk.Advance(30 * time.Minute)
	got := map[string]bool{disp.wait(t).id: true, disp.wait(t).id: true}
	assert.True(t, got[id1])
	assert.True(t, got[id2])
	assert.Empty(t, svc.List())
}

func TestEarlierJobInterruptsWait(t *testing.T) {
	clk := clock.NewFake(time.Date(2025, 1, 1, 0, 0, 0, 0, time.UTC))
	svc, disp := newTestService(t, clk)

	late, err := svc.Schedule(JobRecord{Due: clk.Now().Add(2 * time.Hour), WebhookURL: "http://example.test/late"})
	require.NoError(t, err)
	early, err := svc.Schedule(JobRecord{Due: clk.Now().Add(10 * time.Minute), WebhookURL: "http://example.test/early"})
	require.NoError(t, err)

	clk.Advance(10 * time.Minute)
	dl := disp.wait(t)
	assert.Equal(t, early, dl.id)

	pending := svc.List()
	assert.Contains(t, pending, late)
	assert.NotContains(t, pending, early)
}

func TestRecurringJobRearms(t *testing.T) {
	start := time.Date(2025, 1, 1, 0, 0, 30, 0, time.UTC)
	clk := clock.NewFake(start)
	svc, disp := newTestService(t, clk)

	// Every minute at second zero.
	id, err := svc.Schedule(JobRecord{CronExpr: "* * * * *", WebhookURL: "http://example.test/hook"})
	require.NoError(t, err)

	first := svc.List()[id].Due
	assert.True(t, first.After(start))

	clk.Advance(first.Sub(start))
	dl := disp.wait(t)
	assert.Equal(t, id, dl.id)

	pending := svc.List()
	require.Contains(t, pending, id)
	assert.True(t, pending[id].Due.After(first))
	assert.True(t, svc.Cancel(id))
}
