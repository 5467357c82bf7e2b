package api

import (
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/rs/zerolog/log"

	"remindd/internal/broker"
	"remindd/internal/pushauth"
	"remindd/internal/scheduler"
	"remindd/internal/task"
	"remindd/internal/taskmanager"
)

type Server struct {
	r     *chi.Mux
	sched *scheduler.Service
	mgr   *taskmanager.Manager
	auth  *pushauth.Authenticator
}

func NewServer(sched *scheduler.Service, mgr *taskmanager.Manager, auth *pushauth.Authenticator) http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.RequestID, middleware.RealIP, middleware.Logger, middleware.Recoverer)

	s := &Server{r: r, sched: sched, mgr: mgr, auth: auth}

	r.Get("/health", s.health)
	r.Post("/api/reminders", s.scheduleReminder)
	r.Get("/api/reminders", s.listReminders)
	r.Delete("/api/reminders/{id}", s.cancelReminder)

	r.Post("/api/tasks/send", s.sendTask)
	r.Get("/api/tasks/{id}", s.getTask)
	r.Post("/api/tasks/sendSubscribe", s.sendTaskSubscribe)
	r.Post("/api/tasks/resubscribe", s.resubscribe)

	r.Get("/.well-known/jwks.json", s.jwks)
	r.Post("/webhook", s.webhook)

	return r
}

func (s *Server) health(w http.ResponseWriter, r *http.Request) {
	w.WriteHeader(http.StatusOK)
	w.Write([]byte("ok"))
}

type scheduleReq struct {
	DueTime    string         `json:"due_time"`
	CronExpr   string         `json:"cron_expr"`
	WebhookURL string         `json:"webhook_url"`
	Payload    map[string]any `json:"payload"`
	ID         string         `json:"id"`
}

type scheduleResp struct {
	ID string `json:"id"`
}

func (s *Server) scheduleReminder(w http.ResponseWriter, r *http.Request) {
	var req scheduleReq
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeRPCError(w, http.StatusBadRequest, taskmanager.InvalidParams(err.Error()))
		return
	}
	rec := scheduler.JobRecord{
		ID:         req.ID,
		WebhookURL: req.WebhookURL,
		Payload:    req.Payload,
		CronExpr:   req.CronExpr,
	}
	if req.DueTime != "" {
		due, err := time.Parse(time.RFC3339, req.DueTime)
		if err != nil {
			writeRPCError(w, http.StatusBadRequest, taskmanager.InvalidParams(
				fmt.Sprintf("due_time %q is not an ISO-8601 time with offset", req.DueTime)))
			return
		}
		rec.Due = due
	}

	id, err := s.sched.Schedule(rec)
	if err != nil {
		switch {
		case errors.Is(err, scheduler.ErrDuplicateID):
			writeRPCError(w, http.StatusConflict, taskmanager.InvalidParams(err.Error()))
		case errors.Is(err, scheduler.ErrInvalidTime),
			errors.Is(err, scheduler.ErrInvalidSpec),
			errors.Is(err, scheduler.ErrMissingURL):
			writeRPCError(w, http.StatusBadRequest, taskmanager.InvalidParams(err.Error()))
		default:
			writeRPCError(w, http.StatusInternalServerError, taskmanager.Internal("failed to schedule reminder"))
		}
		return
	}
	writeJSON(w, http.StatusCreated, scheduleResp{ID: id})
}

func (s *Server) listReminders(w http.ResponseWriter, r *http.Request) {
	pending := s.sched.List()
	out := make(map[string]any, len(pending))
	for id, info := range pending {
		entry := map[string]any{
			"due_time":    info.Due.Format(time.RFC3339),
			"webhook_url": info.WebhookURL,
			"payload":     info.Payload,
		}
		if info.CronExpr != "" {
			entry["cron_expr"] = info.CronExpr
		}
		out[id] = entry
	}
	writeJSON(w, http.StatusOK, map[string]any{"reminders": out})
}

func (s *Server) cancelReminder(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	writeJSON(w, http.StatusOK, map[string]bool{"canceled": s.sched.Cancel(id)})
}

func (s *Server) sendTask(w http.ResponseWriter, r *http.Request) {
	var params task.SendParams
	if err := json.NewDecoder(r.Body).Decode(&params); err != nil {
		writeRPCError(w, http.StatusBadRequest, taskmanager.InvalidParams(err.Error()))
		return
	}
	t, err := s.mgr.OnSendTask(r.Context(), params)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, t)
}

func (s *Server) getTask(w http.ResponseWriter, r *http.Request) {
	historyLength, _ := strconv.Atoi(r.URL.Query().Get("historyLength"))
	t, err := s.mgr.OnGetTask(chi.URLParam(r, "id"), historyLength)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, t)
}

func (s *Server) sendTaskSubscribe(w http.ResponseWriter, r *http.Request) {
	var params task.SendParams
	if err := json.NewDecoder(r.Body).Decode(&params); err != nil {
		writeRPCError(w, http.StatusBadRequest, taskmanager.InvalidParams(err.Error()))
		return
	}
	consumer, err := s.mgr.OnSendTaskSubscribe(r.Context(), params)
	if err != nil {
		writeError(w, err)
		return
	}
	s.streamEvents(w, r, consumer)
}

type resubscribeReq struct {
	ID string `json:"id"`
}

func (s *Server) resubscribe(w http.ResponseWriter, r *http.Request) {
	var req resubscribeReq
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeRPCError(w, http.StatusBadRequest, taskmanager.InvalidParams(err.Error()))
		return
	}
	consumer, err := s.mgr.OnResubscribe(req.ID)
	if err != nil {
		writeError(w, err)
		return
	}
	s.streamEvents(w, r, consumer)
}

// streamEvents writes the consumer's events as Server-Sent Events until the
// final event or client disconnect. Disconnect detaches only this consumer.
func (s *Server) streamEvents(w http.ResponseWriter, r *http.Request, consumer *broker.Consumer) {
	defer consumer.Close()

	fl, ok := w.(http.Flusher)
	if !ok {
		writeRPCError(w, http.StatusInternalServerError, taskmanager.Internal("streaming unsupported"))
		return
	}
	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")
	w.WriteHeader(http.StatusOK)
	fl.Flush()

	for {
		select {
		case <-r.Context().Done():
			return
		case ev, open := <-consumer.Events():
			if !open {
				return
			}
			data, err := marshalEvent(ev)
			if err != nil {
				log.Error().Err(err).Str("task", ev.TaskID).Msg("event not serializable")
				continue
			}
			fmt.Fprintf(w, "data: %s\n\n", data)
			fl.Flush()
			if ev.Final {
				return
			}
		}
	}
}

func marshalEvent(ev task.Event) ([]byte, error) {
	if ev.Err != "" {
		return json.Marshal(map[string]any{
			"id":    ev.TaskID,
			"error": taskmanager.Internal(ev.Err),
			"final": true,
		})
	}
	return json.Marshal(ev)
}

func (s *Server) jwks(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, s.auth.JWKS())
}

type webhookReq struct {
	Message     string `json:"message"`
	ScheduledAt string `json:"scheduled_at"`
}

// webhook is a sample receiver so the service can act as its own reminder
// target. A real deployment would forward the reminder to the user.
func (s *Server) webhook(w http.ResponseWriter, r *http.Request) {
	var req webhookReq
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeRPCError(w, http.StatusBadRequest, taskmanager.InvalidParams(err.Error()))
		return
	}
	log.Info().Str("message", req.Message).Str("scheduled_at", req.ScheduledAt).Msg("reminder received")
	writeJSON(w, http.StatusOK, map[string]string{"status": "success", "message": "Webhook received"})
}

func writeJSON(w http.ResponseWriter, code int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	_ = json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, err error) {
	var rpcErr *taskmanager.RPCError
	if !errors.As(err, &rpcErr) {
		rpcErr = taskmanager.Internal("internal error")
	}
	status := http.StatusInternalServerError
	switch rpcErr.Code {
	case taskmanager.CodeInvalidParams:
		status = http.StatusBadRequest
	case taskmanager.CodeNotFound:
		status = http.StatusNotFound
	}
	writeRPCError(w, status, rpcErr)
}

func writeRPCError(w http.ResponseWriter, code int, rpcErr *taskmanager.RPCError) {
	writeJSON(w, code, map[string]any{"error": rpcErr})
}
