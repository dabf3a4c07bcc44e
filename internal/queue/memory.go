package queue

import (
	"context"
	"strconv"
	"sync"
	"time"
)

// Memory is an in-process Queue for tests with real at-least-once semantics:
// received messages become invisible for the visibility timeout and are
// redelivered (with an incremented attempt count) if not deleted in time.
type Memory struct {
	mu         sync.Mutex
	messages   []*memMessage
	nextID     int
	visibility time.Duration
	now        func() time.Time
}

type memMessage struct {
	id        string
	body      []byte
	receipt   string
	attempts  int
	visibleAt time.Time
	deleted   bool
}

var _ Queue = (*Memory)(nil)

// NewMemory creates an in-memory queue with the given visibility timeout.
func NewMemory(visibility time.Duration) *Memory {
	return &Memory{visibility: visibility, now: time.Now}
}

func (q *Memory) Send(ctx context.Context, body []byte) error {
	q.mu.Lock()
	defer q.mu.Unlock()

	q.nextID++
	cp := make([]byte, len(body))
	copy(cp, body)
	q.messages = append(q.messages, &memMessage{
		id:   "msg-" + strconv.Itoa(q.nextID),
		body: cp,
	})
	return nil
}

func (q *Memory) Receive(ctx context.Context, max int, wait time.Duration) ([]Message, error) {
	q.mu.Lock()
	defer q.mu.Unlock()

	now := q.now()
	var out []Message
	for _, m := range q.messages {
		if len(out) >= max {
			break
		}
		if m.deleted || now.Before(m.visibleAt) {
			continue
		}
		m.attempts++
		m.visibleAt = now.Add(q.visibility)
		m.receipt = m.id + "#" + strconv.Itoa(m.attempts)
		out = append(out, Message{
			ID:       m.id,
			Body:     m.body,
			Receipt:  m.receipt,
			Attempts: m.attempts,
		})
	}
	return out, nil
}

func (q *Memory) Delete(ctx context.Context, receipt string) error {
	q.mu.Lock()
	defer q.mu.Unlock()

	for _, m := range q.messages {
		if m.receipt == receipt && !m.deleted {
			m.deleted = true
			return nil
		}
	}
	return nil
}

func (q *Memory) ChangeVisibility(ctx context.Context, receipt string, timeout time.Duration) error {
	q.mu.Lock()
	defer q.mu.Unlock()

	for _, m := range q.messages {
		if m.receipt == receipt && !m.deleted {
			m.visibleAt = q.now().Add(timeout)
			return nil
		}
	}
	return nil
}

// Len reports the number of live (undeleted) messages, visible or not.
func (q *Memory) Len() int {
	q.mu.Lock()
	defer q.mu.Unlock()

	n := 0
	for _, m := range q.messages {
		if !m.deleted {
			n++
		}
	}
	return n
}

// MakeAllVisible lapses every in-flight visibility timeout. Test helper for
// forcing immediate redelivery without waiting out the clock.
func (q *Memory) MakeAllVisible() {
	q.mu.Lock()
	defer q.mu.Unlock()

	for _, m := range q.messages {
		m.visibleAt = time.Time{}
	}
}
