package planner

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sort"
	"strings"
	"time"

	"remindd/internal/scheduler"
)

// Reminders is the scheduler surface the planner drives.
type Reminders interface {
	Schedule(rec scheduler.JobRecord) (string, error)
	Cancel(id string) bool
	List() map[string]scheduler.JobInfo
}

// ReminderPlanner interprets structured reminder commands and drives the
// scheduler. It stands in for an LLM-backed planner: the query is a JSON
// command rather than natural language, but the result contract is the same.
type ReminderPlanner struct {
	reminders Reminders
	// DefaultWebhookURL is used when a schedule command omits webhook_url.
	DefaultWebhookURL string
}

func NewReminderPlanner(r Reminders, defaultWebhookURL string) *ReminderPlanner {
	if defaultWebhookURL == "" {
		defaultWebhookURL = "http://localhost:8000/webhook"
	}
	return &ReminderPlanner{reminders: r, DefaultWebhookURL: defaultWebhookURL}
}

type command struct {
	Action     string         `json:"action"`
	Time       string         `json:"time,omitempty"`
	WebhookURL string         `json:"webhook_url,omitempty"`
	Message    string         `json:"message,omitempty"`
	CronExpr   string         `json:"cron_expr,omitempty"`
	ID         string         `json:"id,omitempty"`
	Payload    map[string]any `json:"payload,omitempty"`
}

func (p *ReminderPlanner) Invoke(ctx context.Context, query, sessionID string) (Result, error) {
	var cmd command
	if err := json.Unmarshal([]byte(query), &cmd); err != nil {
		return Result{
			Status: StatusInputRequired,
			Text:   `I couldn't understand that. Send a JSON command like {"action":"schedule","time":"2025-01-01T10:00:00+00:00","message":"call John"}.`,
		}, nil
	}

	switch cmd.Action {
	case "schedule":
		return p.schedule(cmd)
	case "cancel":
		return p.cancel(cmd)
	case "list":
		return p.list()
	default:
		return Result{
			Status: StatusInputRequired,
			Text:   fmt.Sprintf("Unknown action %q. Supported actions: schedule, cancel, list.", cmd.Action),
		}, nil
	}
}

func (p *ReminderPlanner) Stream(ctx context.Context, query, sessionID string) (<-chan Result, error) {
	out := make(chan Result, 2)
	go func() {
		defer close(out)
		select {
		case out <- Result{Status: StatusWorking, Text: "Scheduling your reminder..."}:
		case <-ctx.Done():
			return
		}
		res, err := p.Invoke(ctx, query, sessionID)
		if err != nil {
			return
		}
		select {
		case out <- res:
		case <-ctx.Done():
		}
	}()
	return out, nil
}

func (p *ReminderPlanner) schedule(cmd command) (Result, error) {
	if cmd.Message == "" {
		return Result{Status: StatusInputRequired, Text: "What should the reminder say?"}, nil
	}
	if cmd.Time == "" && cmd.CronExpr == "" {
		return Result{Status: StatusInputRequired, Text: "When should the reminder fire? Provide an ISO-8601 time with offset."}, nil
	}

	rec := scheduler.JobRecord{
		ID:         cmd.ID,
		WebhookURL: cmd.WebhookURL,
		CronExpr:   cmd.CronExpr,
		Payload:    cmd.Payload,
	}
	if cmd.Time != "" {
		due, err := time.Parse(time.RFC3339, cmd.Time)
		if err != nil {
			return Result{
				Status: StatusInputRequired,
				Text:   fmt.Sprintf("Could you provide a clearer time? %q is not an ISO-8601 time with offset.", cmd.Time),
			}, nil
		}
		rec.Due = due
	}
	if rec.WebhookURL == "" {
		rec.WebhookURL = p.DefaultWebhookURL
	}
	if rec.Payload == nil {
		rec.Payload = map[string]any{"message": cmd.Message, "scheduled_at": cmd.Time}
	}

	id, err := p.reminders.Schedule(rec)
	if err != nil {
		if errors.Is(err, scheduler.ErrDuplicateID) {
			return Result{
				Status: StatusInputRequired,
				Text:   fmt.Sprintf("A reminder with id %s already exists. Pick a different id or cancel it first.", cmd.ID),
			}, nil
		}
		if errors.Is(err, scheduler.ErrInvalidSpec) {
			return Result{
				Status: StatusInputRequired,
				Text:   fmt.Sprintf("%q is not a valid cron expression.", cmd.CronExpr),
			}, nil
		}
		return Result{}, err
	}
	return Result{Status: StatusCompleted, Text: fmt.Sprintf("Reminder scheduled with ID: %s", id)}, nil
}

func (p *ReminderPlanner) cancel(cmd command) (Result, error) {
	if cmd.ID == "" {
		return Result{Status: StatusInputRequired, Text: "Which reminder should I cancel? Provide its id."}, nil
	}
	if p.reminders.Cancel(cmd.ID) {
		return Result{Status: StatusCompleted, Text: fmt.Sprintf("Reminder %s canceled.", cmd.ID)}, nil
	}
	return Result{Status: StatusCompleted, Text: fmt.Sprintf("No reminder with id %s was found.", cmd.ID)}, nil
}

func (p *ReminderPlanner) list() (Result, error) {
	pending := p.reminders.List()
	if len(pending) == 0 {
		return Result{Status: StatusCompleted, Text: "No reminders are currently scheduled."}, nil
	}
	ids := make([]string, 0, len(pending))
	for id := range pending {
		ids = append(ids, id)
	}
	sort.Strings(ids)

	var b strings.Builder
	b.WriteString("Currently scheduled reminders:\n")
	for _, id := range ids {
		info := pending[id]
		msg := ""
		if m, ok := info.Payload["message"].(string); ok {
			msg = m
		}
		fmt.Fprintf(&b, "- %s at %s: %s (-> %s)\n", id, info.Due.Format(time.RFC3339), msg, info.WebhookURL)
	}
	return Result{Status: StatusCompleted, Text: strings.TrimRight(b.String(), "\n")}, nil
}
