package task

import (
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func sendParams(id string) SendParams {
	return SendParams{
		ID:        id,
		SessionID: "sess1",
		Message:   Message{Role: "user", Parts: []Part{TextPart("hello")}},
	}
}

func TestUpsertCreatesSubmitted(t *testing.T) {
	s := NewStore()
	got := s.Upsert(sendParams("t1"))
	assert.Equal(t, StateSubmitted, got.Status.State)
	assert.Equal(t, "sess1", got.SessionID)
	require.Len(t, got.History, 1)
}

func TestUpsertExistingKeepsStatus(t *testing.T) {
	s := NewStore()
	s.Upsert(sendParams("t1"))
	_, err := s.Update("t1", Status{State: StateWorking}, nil)
	require.NoError(t, err)

	got := s.Upsert(sendParams("t1"))
	assert.Equal(t, StateWorking, got.Status.State)
	assert.Len(t, got.History, 2)
}

func TestUpdateTransitionsAndAppends(t *testing.T) {
	s := NewStore()
	s.Upsert(sendParams("t1"))

	msg := Message{Role: "agent", Parts: []Part{TextPart("working on it")}}
	got, err := s.Update("t1", Status{State: StateWorking, Message: &msg}, nil)
	require.NoError(t, err)
	assert.Equal(t, StateWorking, got.Status.State)
	assert.Len(t, got.History, 2)

	art := Artifact{Parts: []Part{TextPart("done")}}
	got, err = s.Update("t1", Status{State: StateCompleted}, []Artifact{art})
	require.NoError(t, err)
	assert.Equal(t, StateCompleted, got.Status.State)
	require.Len(t, got.Artifacts, 1)
	assert.Equal(t, "done", got.Artifacts[0].Text())
}

func TestUpdateTerminalRejected(t *testing.T) {
	s := NewStore()
	s.Upsert(sendParams("t1"))
	_, err := s.Update("t1", Status{State: StateCompleted}, nil)
	require.NoError(t, err)

	_, err = s.Update("t1", Status{State: StateWorking}, nil)
	assert.ErrorIs(t, err, ErrTerminal)
}

func TestInputRequiredMayResumeWorking(t *testing.T) {
	s := NewStore()
	s.Upsert(sendParams("t1"))
	_, err := s.Update("t1", Status{State: StateInputRequired}, nil)
	require.NoError(t, err)
	_, err = s.Update("t1", Status{State: StateWorking}, nil)
	assert.NoError(t, err)
}

func TestUpdateUnknownTask(t *testing.T) {
	s := NewStore()
	_, err := s.Update("nope", Status{State: StateWorking}, nil)
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestTrimHistory(t *testing.T) {
	tk := Task{History: []Message{
		{Role: "user", Parts: []Part{TextPart("one")}},
		{Role: "agent", Parts: []Part{TextPart("two")}},
		{Role: "user", Parts: []Part{TextPart("three")}},
	}}

	trimmed := TrimHistory(tk, 2)
	require.Len(t, trimmed.History, 2)
	assert.Equal(t, "two", trimmed.History[0].Parts[0].Text)
	assert.Equal(t, "three", trimmed.History[1].Parts[0].Text)
	// Source unchanged.
	assert.Len(t, tk.History, 3)

	assert.Len(t, TrimHistory(tk, 0).History, 3)
	assert.Len(t, TrimHistory(tk, 10).History, 3)
}

func TestPushConfigRequiresVerification(t *testing.T) {
	s := NewStore()
	s.Upsert(sendParams("t1"))

	err := s.SetPushConfig("t1", PushConfig{URL: "http://example.test/push"})
	assert.Error(t, err)
	assert.False(t, s.HasPushConfig("t1"))

	err = s.SetPushConfig("t1", PushConfig{URL: "http://example.test/push", Verified: true})
	require.NoError(t, err)
	assert.True(t, s.HasPushConfig("t1"))
	cfg, ok := s.PushConfig("t1")
	require.True(t, ok)
	assert.Equal(t, "http://example.test/push", cfg.URL)

	err = s.SetPushConfig("nope", PushConfig{URL: "http://example.test/push", Verified: true})
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestConcurrentUpdatesSameTask(t *testing.T) {
	s := NewStore()
	s.Upsert(sendParams("t1"))

	var wg sync.WaitGroup
	for i := 0; i < 50; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			msg := Message{Role: "agent", Parts: []Part{TextPart("tick")}}
			_, _ = s.Update("t1", Status{State: StateWorking, Message: &msg, Timestamp: time.Now()}, nil)
		}()
	}
	wg.Wait()

	got, err := s.Get("t1")
	require.NoError(t, err)
	// Initial message plus one per update: no lost updates.
	assert.Len(t, got.History, 51)
}
