// Package taskmanager orchestrates the task lifecycle: it validates send
// requests, drives the planner, records state transitions in the store,
// publishes events to stream consumers, and triggers push notifications.
package taskmanager

import (
	"context"
	"runtime/debug"
	"time"

	"github.com/rs/zerolog"

	"remindd/internal/broker"
	"remindd/internal/planner"
	"remindd/internal/task"
)

// PushNotifier verifies push URLs and delivers signed notifications.
type PushNotifier interface {
	VerifyURL(ctx context.Context, url string) bool
	Send(ctx context.Context, url string, data any) error
}

type Manager struct {
	store   *task.Store
	broker  *broker.Broker
	planner planner.Planner
	push    PushNotifier
	log     zerolog.Logger
}

func New(store *task.Store, b *broker.Broker, p planner.Planner, push PushNotifier, log zerolog.Logger) *Manager {
	return &Manager{store: store, broker: b, planner: p, push: push, log: log}
}

// validate rejects a request before any state mutation. Exactly one
// text-typed message part is supported.
func validate(params task.SendParams) *RPCError {
	if params.ID == "" {
		return InvalidParams("task id is required")
	}
	if len(params.Message.Parts) != 1 {
		return InvalidParams("only one message part is supported")
	}
	if params.Message.Parts[0].Type != "text" {
		return InvalidParams("only text parts are supported")
	}
	return nil
}

// OnSendTask handles the non-streaming send: the planner is invoked
// synchronously and the updated task view is returned.
func (m *Manager) OnSendTask(ctx context.Context, params task.SendParams) (task.Task, error) {
	if rpcErr := validate(params); rpcErr != nil {
		return task.Task{}, rpcErr
	}
	m.store.Upsert(params)
	if _, err := m.store.Update(params.ID, task.Status{State: task.StateWorking}, nil); err != nil {
		m.log.Error().Err(err).Str("task", params.ID).Msg("store update failed")
		return task.Task{}, Internal("an error occurred during task processing")
	}

	res, err := m.planner.Invoke(ctx, params.Message.Parts[0].Text, params.SessionID)
	if err != nil {
		m.log.Error().Err(err).Str("task", params.ID).Msg("planner invocation failed")
		return task.Task{}, Internal("an error occurred during task processing")
	}

	status, artifacts := classify(res)
	updated, err := m.store.Update(params.ID, status, artifacts)
	if err != nil {
		m.log.Error().Err(err).Str("task", params.ID).Msg("store update failed")
		return task.Task{}, Internal("an error occurred during task processing")
	}
	m.notify(ctx, updated)
	return task.TrimHistory(updated, params.HistoryLength), nil
}

// OnSendTaskSubscribe handles the streaming send: it attaches a consumer to
// the task's event stream and drives the planner asynchronously. The caller
// reads events from the returned consumer until the Final event.
func (m *Manager) OnSendTaskSubscribe(ctx context.Context, params task.SendParams) (*broker.Consumer, error) {
	if rpcErr := validate(params); rpcErr != nil {
		return nil, rpcErr
	}
	m.store.Upsert(params)

	if params.PushConfig != nil {
		if !m.push.VerifyURL(ctx, params.PushConfig.URL) {
			return nil, InvalidParams("push notification URL could not be verified")
		}
		cfg := *params.PushConfig
		cfg.Verified = true
		if err := m.store.SetPushConfig(params.ID, cfg); err != nil {
			m.log.Error().Err(err).Str("task", params.ID).Msg("storing push config failed")
			return nil, Internal("an error occurred while streaming the response")
		}
	}

	consumer, err := m.broker.Subscribe(params.ID, false)
	if err != nil {
		m.log.Error().Err(err).Str("task", params.ID).Msg("event stream setup failed")
		return nil, Internal("an error occurred while streaming the response")
	}

	// The stream outlives the subscribing request; a consumer disconnect
	// must not cancel the producer.
	go m.runStream(context.Background(), params)

	return consumer, nil
}

// OnGetTask returns the current task snapshot.
func (m *Manager) OnGetTask(id string, historyLength int) (task.Task, error) {
	t, err := m.store.Get(id)
	if err != nil {
		return task.Task{}, NotFound("task not found")
	}
	return task.TrimHistory(t, historyLength), nil
}

// OnResubscribe reattaches a consumer to an existing task's event stream
// without creating a new task.
func (m *Manager) OnResubscribe(taskID string) (*broker.Consumer, error) {
	consumer, err := m.broker.Subscribe(taskID, true)
	if err != nil {
		m.log.Warn().Err(err).Str("task", taskID).Msg("resubscribe failed")
		return nil, Internal("an error occurred while reconnecting to the stream")
	}
	return consumer, nil
}

// runStream consumes the planner's incremental results. Every transition
// updates the store, notifies the push target, and publishes events; a
// terminal-with-artifact step publishes the artifact event before the final
// status event. Any unhandled failure degrades to one internal-error event.
func (m *Manager) runStream(ctx context.Context, params task.SendParams) {
	defer func() {
		if r := recover(); r != nil {
			m.log.Error().Any("panic", r).Str("task", params.ID).Str("stack", string(debug.Stack())).Msg("panic in stream loop")
			m.broker.Publish(params.ID, task.Event{Err: "an error occurred while streaming the response", Final: true})
		}
	}()

	results, err := m.planner.Stream(ctx, params.Message.Parts[0].Text, params.SessionID)
	if err != nil {
		m.log.Error().Err(err).Str("task", params.ID).Msg("planner stream failed")
		m.broker.Publish(params.ID, task.Event{Err: "an error occurred while streaming the response", Final: true})
		return
	}

	for res := range results {
		status, artifacts := classify(res)
		final := status.State.Terminal() || status.State == task.StateInputRequired

		updated, err := m.store.Update(params.ID, status, artifacts)
		if err != nil {
			m.log.Error().Err(err).Str("task", params.ID).Msg("store update failed mid-stream")
			m.broker.Publish(params.ID, task.Event{Err: "an error occurred while streaming the response", Final: true})
			return
		}
		m.notify(ctx, updated)

		for i := range artifacts {
			m.broker.Publish(params.ID, task.Event{Artifact: &artifacts[i]})
		}
		st := status
		m.broker.Publish(params.ID, task.Event{Status: &st, Final: final})
		if final {
			return
		}
	}
}

// classify maps a planner result onto a task status and artifacts using the
// result's explicit status field.
func classify(res planner.Result) (task.Status, []task.Artifact) {
	parts := []task.Part{task.TextPart(res.Text)}
	now := time.Now()
	switch res.Status {
	case planner.StatusInputRequired:
		return task.Status{
			State:     task.StateInputRequired,
			Message:   &task.Message{Role: "agent", Parts: parts},
			Timestamp: now,
		}, nil
	case planner.StatusWorking:
		return task.Status{
			State:     task.StateWorking,
			Message:   &task.Message{Role: "agent", Parts: parts},
			Timestamp: now,
		}, nil
	default:
		return task.Status{State: task.StateCompleted, Timestamp: now},
			[]task.Artifact{{Parts: parts, Index: 0}}
	}
}

// notify sends a signed push notification carrying the task snapshot, when a
// verified target is configured. Failures are local: logged, not retried,
// never propagated to the caller.
func (m *Manager) notify(ctx context.Context, t task.Task) {
	cfg, ok := m.store.PushConfig(t.ID)
	if !ok {
		m.log.Debug().Str("task", t.ID).Msg("no push notification target configured")
		return
	}
	if err := m.push.Send(ctx, cfg.URL, t); err != nil {
		m.log.Warn().Err(err).Str("task", t.ID).Str("url", cfg.URL).Msg("push notification failed")
	}
}
