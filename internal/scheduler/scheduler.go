package scheduler

import (
	"container/heap"
	"context"
	"errors"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/robfig/cron/v3"
	"github.com/rs/zerolog"

	"remindd/internal/clock"
)

var (
	// ErrDuplicateID is returned when the caller supplies an id that is
	// already pending. Duplicate ids are rejected, never overwritten.
	ErrDuplicateID = errors.New("reminder id already scheduled")
	// ErrInvalidTime is returned when a job carries neither a due time nor
	// a cron expression.
	ErrInvalidTime = errors.New("reminder needs a due time or cron expression")
	ErrInvalidSpec = errors.New("invalid cron expression")
	ErrMissingURL  = errors.New("webhook url is required")
)

// Dispatcher performs the outbound delivery for a due job. The scheduler
// treats the job as consumed once handed over: delivery is at-most-once and
// failures are not re-enqueued.
type Dispatcher interface {
	Deliver(ctx context.Context, webhookURL string, payload map[string]any, id string)
}

// Journal optionally persists pending jobs so they survive a restart. All
// journal failures are logged and otherwise ignored; the in-memory state is
// authoritative.
type Journal interface {
	Record(ctx context.Context, rec JobRecord) error
	Remove(ctx context.Context, id string) error
}

// JobRecord is the scheduling request and the shape replayed from a journal.
type JobRecord struct {
	ID         string
	Due        time.Time
	WebhookURL string
	Payload    map[string]any
	CronExpr   string
}

// JobInfo is the List snapshot of one pending job.
type JobInfo struct {
	Due        time.Time
	WebhookURL string
	Payload    map[string]any
	CronExpr   string
}

type job struct {
	id      string
	due     time.Time
	url     string
	payload map[string]any
	spec    string
	sched   cron.Schedule
	index   int
	seq     uint64
}

type Options struct {
	Clock   clock.Clock
	Journal Journal
	// MaxInFlight bounds concurrent webhook deliveries so a burst of due
	// jobs cannot exhaust the process. Defaults to 16.
	MaxInFlight int
	Log         zerolog.Logger
}

// Service keeps pending reminder jobs in a due-time-ordered heap and runs a
// single background waiter that sleeps until the earliest deadline. Newly
// scheduled jobs that become the earliest interrupt the current wait.
type Service struct {
	mu   sync.Mutex
	jobs map[string]*job
	heap jobHeap
	seq  uint64

	clk     clock.Clock
	disp    Dispatcher
	journal Journal
	log     zerolog.Logger

	sem    chan struct{}
	wake   chan struct{}
	stopCh chan struct{}
	wg     sync.WaitGroup

	fireWG sync.WaitGroup
}

func New(disp Dispatcher, opts Options) *Service {
	if opts.Clock == nil {
		opts.Clock = clock.New()
	}
	if opts.MaxInFlight <= 0 {
		opts.MaxInFlight = 16
	}
	return &Service{
		jobs:    map[string]*job{},
		clk:     opts.Clock,
		disp:    disp,
		journal: opts.Journal,
		log:     opts.Log,
		sem:     make(chan struct{}, opts.MaxInFlight),
		wake:    make(chan struct{}, 1),
		stopCh:  make(chan struct{}),
	}
}

func (s *Service) Start() {
	s.wg.Add(1)
	go s.run()
	s.log.Info().Msg("scheduler started")
}

// Stop terminates the waiter. Deliveries already in flight are allowed to
// finish.
func (s *Service) Stop() {
	close(s.stopCh)
	s.wg.Wait()
	s.fireWG.Wait()
	s.log.Info().Msg("scheduler stopped")
}

// Schedule adds a job. An empty id generates a fresh one; a duplicate
// pending id fails with ErrDuplicateID. A due time in the past makes the job
// immediately due.
func (s *Service) Schedule(rec JobRecord) (string, error) {
	if rec.WebhookURL == "" {
		return "", ErrMissingURL
	}
	j := &job{
		id:      rec.ID,
		due:     rec.Due,
		url:     rec.WebhookURL,
		payload: rec.Payload,
		spec:    rec.CronExpr,
	}
	if rec.CronExpr != "" {
		sched, err := cron.ParseStandard(rec.CronExpr)
		if err != nil {
			return "", ErrInvalidSpec
		}
		j.sched = sched
		j.due = sched.Next(s.clk.Now())
	} else if rec.Due.IsZero() {
		return "", ErrInvalidTime
	}
	if j.id == "" {
		j.id = "rem_" + uuid.NewString()
	}

	s.mu.Lock()
	if _, exists := s.jobs[j.id]; exists {
		s.mu.Unlock()
		return "", ErrDuplicateID
	}
	s.seq++
	j.seq = s.seq
	s.jobs[j.id] = j
	heap.Push(&s.heap, j)
	if s.journal != nil {
		rec.ID, rec.Due = j.id, j.due
		if err := s.journal.Record(context.Background(), rec); err != nil {
			s.log.Warn().Err(err).Str("id", j.id).Msg("journal record failed")
		}
	}
	s.mu.Unlock()

	s.kick()
	s.log.Info().Str("id", j.id).Time("due", j.due).Str("url", j.url).Msg("reminder scheduled")
	return j.id, nil
}

// Cancel removes a pending job. It returns false when the id is unknown or
// the job has already been handed to the dispatcher.
func (s *Service) Cancel(id string) bool {
	s.mu.Lock()
	j, ok := s.jobs[id]
	if ok {
		heap.Remove(&s.heap, j.index)
		delete(s.jobs, id)
		if s.journal != nil {
			if err := s.journal.Remove(context.Background(), id); err != nil {
				s.log.Warn().Err(err).Str("id", id).Msg("journal remove failed")
			}
		}
	}
	s.mu.Unlock()
	if ok {
		s.kick()
		s.log.Info().Str("id", id).Msg("reminder canceled")
	} else {
		s.log.Debug().Str("id", id).Msg("cancel: reminder not found")
	}
	return ok
}

// List snapshots the currently pending jobs. Fired jobs are not retained.
func (s *Service) List() map[string]JobInfo {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make(map[string]JobInfo, len(s.jobs))
	for id, j := range s.jobs {
		out[id] = JobInfo{Due: j.due, WebhookURL: j.url, Payload: j.payload, CronExpr: j.spec}
	}
	return out
}

func (s *Service) kick() {
	select {
	case s.wake <- struct{}{}:
	default:
	}
}

func (s *Service) run() {
	defer s.wg.Done()
	for {
		s.mu.Lock()
		now := s.clk.Now()
		due := s.popDueLocked(now)
		var timer clock.Timer
		var tc <-chan time.Time
		if len(due) == 0 && s.heap.Len() > 0 {
			timer = s.clk.NewTimer(s.heap[0].due.Sub(now))
			// The clock may have moved past the deadline between the Now
			// read and the arming; re-evaluate instead of waiting on a
			// stale timer.
			if !s.heap[0].due.After(s.clk.Now()) {
				timer.Stop()
				s.mu.Unlock()
				continue
			}
			tc = timer.C()
		}
		s.mu.Unlock()

		if len(due) > 0 {
			for _, j := range due {
				s.fire(j)
			}
			continue
		}

		select {
		case <-s.stopCh:
			if timer != nil {
				timer.Stop()
			}
			return
		case <-s.wake:
			if timer != nil {
				timer.Stop()
			}
		case <-tc:
		}
	}
}

// popDueLocked removes every job due at or before now. One-shot jobs leave
// the pending set here, before delivery is even attempted. Recurring jobs
// re-arm for their next occurrence under the same id.
func (s *Service) popDueLocked(now time.Time) []*job {
	var due []*job
	for s.heap.Len() > 0 && !s.heap[0].due.After(now) {
		j := heap.Pop(&s.heap).(*job)
		due = append(due, j)
		if j.sched != nil {
			next := &job{
				id: j.id, due: j.sched.Next(now), url: j.url,
				payload: j.payload, spec: j.spec, sched: j.sched,
			}
			s.seq++
			next.seq = s.seq
			s.jobs[j.id] = next
			heap.Push(&s.heap, next)
			if s.journal != nil {
				rec := JobRecord{ID: next.id, Due: next.due, WebhookURL: next.url, Payload: next.payload, CronExpr: next.spec}
				if err := s.journal.Record(context.Background(), rec); err != nil {
					s.log.Warn().Err(err).Str("id", next.id).Msg("journal re-arm failed")
				}
			}
			continue
		}
		delete(s.jobs, j.id)
		if s.journal != nil {
			if err := s.journal.Remove(context.Background(), j.id); err != nil {
				s.log.Warn().Err(err).Str("id", j.id).Msg("journal remove failed")
			}
		}
	}
	return due
}

// fire hands one due job to the dispatcher off the waiter goroutine so slow
// deliveries never delay other due jobs.
func (s *Service) fire(j *job) {
	s.fireWG.Add(1)
	go func() {
		s.sem <- struct{}{}
		defer func() { <-s.sem; s.fireWG.Done() }()
		s.log.Info().Str("id", j.id).Time("due", j.due).Msg("reminder due, dispatching")
		s.disp.Deliver(context.Background(), j.url, j.payload, j.id)
	}()
}

type jobHeap []*job

func (h jobHeap) Len() int { return len(h) }
func (h jobHeap) Less(i, k int) bool {
	if h[i].due.Equal(h[k].due) {
		return h[i].seq < h[k].seq
	}
	return h[i].due.Before(h[k].due)
}
func (h jobHeap) Swap(i, k int) {
	h[i], h[k] = h[k], h[i]
	h[i].index = i
	h[k].index = k
}
func (h *jobHeap) Push(x any) {
	j := x.(*job)
	j.index = len(*h)
	*h = append(*h, j)
}
func (h *jobHeap) Pop() any {
	old := *h
	n := len(old)
	j := old[n-1]
	old[n-1] = nil
	*h = old[:n-1]
	return j
}
