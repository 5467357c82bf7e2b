package task

import "time"

type State string

const (
	StateSubmitted     State = "submitted"
	StateWorking       State = "working"
	StateInputRequired State = "input-required"
	StateCompleted     State = "completed"
	StateFailed        State = "failed"
)

// Terminal reports whether no further transition is allowed from s.
// input-required is not terminal: a follow-up request for the same task id
// moves it back to working.
func (s State) Terminal() bool {
	return s == StateCompleted || s == StateFailed
}

// Part is one fragment of a message or artifact. Only text parts are
// supported.
type Part struct {
	Type string `json:"type"`
	Text string `json:"text,omitempty"`
}

func TextPart(text string) Part { return Part{Type: "text", Text: text} }

type Message struct {
	Role  string `json:"role"`
	Parts []Part `json:"parts"`
}

type Artifact struct {
	Name  string `json:"name,omitempty"`
	Parts []Part `json:"parts"`
	Index int    `json:"index"`
}

// Text returns the artifact's first text part, if any.
func (a Artifact) Text() string {
	for _, p := range a.Parts {
		if p.Type == "text" {
			return p.Text
		}
	}
	return ""
}

type Status struct {
	State     State     `json:"state"`
	Message   *Message  `json:"message,omitempty"`
	Timestamp time.Time `json:"timestamp"`
}

type Task struct {
	ID        string     `json:"id"`
	SessionID string     `json:"sessionId,omitempty"`
	Status    Status     `json:"status"`
	Artifacts []Artifact `json:"artifacts,omitempty"`
	History   []Message  `json:"history,omitempty"`
}

// PushConfig is a push notification target. It is only stored after the
// authenticator has verified ownership of the URL.
type PushConfig struct {
	URL      string `json:"url"`
	Verified bool   `json:"-"`
}

// SendParams is the payload of a task send request.
type SendParams struct {
	ID            string      `json:"id"`
	SessionID     string      `json:"sessionId"`
	Message       Message     `json:"message"`
	PushConfig    *PushConfig `json:"pushNotification,omitempty"`
	HistoryLength int         `json:"historyLength,omitempty"`
}

// Event is one entry in a task's event stream: either a status update, an
// artifact, or a stream-terminating internal error. Final marks the last
// event any consumer receives for the task.
type Event struct {
	TaskID   string    `json:"id"`
	Status   *Status   `json:"status,omitempty"`
	Artifact *Artifact `json:"artifact,omitempty"`
	Err      string    `json:"-"`
	Final    bool      `json:"final"`
}
