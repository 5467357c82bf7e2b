// Package broker fans a task's ordered event stream out to any number of
// concurrent consumers. Every consumer sees the events published after it
// attaches, in publication order, and its channel closes right after the
// event carrying Final.
package broker

import (
	"errors"
	"sync"

	"remindd/internal/task"
)

var ErrUnknownTask = errors.New("no event stream for task")

const consumerBuffer = 32

type stream struct {
	open      bool
	consumers []*Consumer
}

type Broker struct {
	mu      sync.Mutex
	streams map[string]*stream
}

func New() *Broker {
	return &Broker{streams: map[string]*stream{}}
}

// Subscribe attaches a consumer to the task's event stream, creating the
// stream on first use. With resubscribe set, the stream must already exist.
func (b *Broker) Subscribe(taskID string, resubscribe bool) (*Consumer, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	st, ok := b.streams[taskID]
	if !ok {
		if resubscribe {
			return nil, ErrUnknownTask
		}
		st = &stream{open: true}
		b.streams[taskID] = st
	}
	c := &Consumer{
		b:      b,
		taskID: taskID,
		ch:     make(chan task.Event, consumerBuffer),
		done:   make(chan struct{}),
	}
	if !st.open {
		// Stream already finished: hand back an immediately-closed consumer
		// so the caller's read loop terminates cleanly.
		close(c.ch)
		return c, nil
	}
	st.consumers = append(st.consumers, c)
	return c, nil
}

// Publish delivers ev to every attached consumer. A Final event closes the
// stream: consumers see the event and then their channel closing, and later
// publishes for the task are dropped.
//
// There is one producer per task id, so sends to a given consumer channel
// are ordered.
func (b *Broker) Publish(taskID string, ev task.Event) {
	ev.TaskID = taskID

	b.mu.Lock()
	st, ok := b.streams[taskID]
	if !ok {
		st = &stream{open: true}
		b.streams[taskID] = st
	}
	if !st.open {
		b.mu.Unlock()
		return
	}
	consumers := append([]*Consumer(nil), st.consumers...)
	if ev.Final {
		st.open = false
		st.consumers = nil
	}
	b.mu.Unlock()

	for _, c := range consumers {
		select {
		case c.ch <- ev:
		case <-c.done:
			continue
		}
		if ev.Final {
			close(c.ch)
		}
	}
}

// Consumer is one attached reader of a task's event stream.
type Consumer struct {
	b      *Broker
	taskID string
	ch     chan task.Event
	done   chan struct{}
	once   sync.Once
}

// Events yields events as they are published. The channel closes after the
// Final event. After Close no further events arrive.
func (c *Consumer) Events() <-chan task.Event { return c.ch }

// Close detaches the consumer. Other consumers and the producer are
// unaffected.
func (c *Consumer) Close() {
	c.once.Do(func() {
		close(c.done)
		c.b.mu.Lock()
		if st, ok := c.b.streams[c.taskID]; ok {
			for i, other := range st.consumers {
				if other == c {
					st.consumers = append(st.consumers[:i], st.consumers[i+1:]...)
					break
				}
			}
		}
		c.b.mu.Unlock()
	})
}
