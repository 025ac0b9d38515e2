package bus

import (
	"context"
	"sync"
	"time"
)

// subjectLog is one subject's append-only, sequence-numbered message log.
type subjectLog struct {
	messages []Message
}

// liveSub is a registered pattern subscription that receives new messages
// as they are published to any matching subject.
type liveSub struct {
	pattern string
	ch      chan Message
	done    chan struct{}
}

// MemoryTransport is an in-process Transport: every subject gets its own
// ordered log, retained up to maxRetention entries (0 = unbounded, fine
// for tests and single-process deployments). It is the seam a
// NATS/Kafka-backed Transport would replace in production (spec §4.A,
// explicitly out of scope for this module).
type MemoryTransport struct {
	mu           sync.Mutex
	logs         map[string]*subjectLog
	subs         []*liveSub
	maxRetention int
}

// NewMemoryTransport creates a MemoryTransport. maxRetention bounds how
// many messages per subject are kept for late-subscriber replay; 0 means
// unbounded.
func NewMemoryTransport(maxRetention int) *MemoryTransport {
	return &MemoryTransport{
		logs:         make(map[string]*subjectLog),
		maxRetention: maxRetention,
	}
}

func (t *MemoryTransport) Publish(ctx context.Context, subject string, payload []byte) (uint64, error) {
	t.mu.Lock()
	log, ok := t.logs[subject]
	if !ok {
		log = &subjectLog{}
		t.logs[subject] = log
	}

	seq := uint64(len(log.messages)) + 1
	msg := Message{Subject: subject, Seq: seq, Payload: payload, PublishedAt: time.Now()}
	log.messages = append(log.messages, msg)
	if t.maxRetention > 0 && len(log.messages) > t.maxRetention {
		log.messages = log.messages[len(log.messages)-t.maxRetention:]
	}

	matching := make([]*liveSub, 0, len(t.subs))
	for _, s := range t.subs {
		if matchGlob(s.pattern, subject) {
			matching = append(matching, s)
		}
	}
	t.mu.Unlock()

	for _, s := range matching {
		select {
		case s.ch <- msg:
		case <-s.done:
		case <-ctx.Done():
			return seq, ctx.Err()
		}
	}
	return seq, nil
}

func (t *MemoryTransport) Subscribe(ctx context.Context, pattern string, fromSeq uint64, prefetch int) (<-chan Message, func(), error) {
	if prefetch <= 0 {
		prefetch = 64
	}

	t.mu.Lock()
	var backlog []Message
	for subject, log := range t.logs {
		if !matchGlob(pattern, subject) {
			continue
		}
		for _, m := range log.messages {
			if m.Seq > fromSeq {
				backlog = append(backlog, m)
			}
		}
	}

	sub := &liveSub{pattern: pattern, ch: make(chan Message, prefetch), done: make(chan struct{})}
	t.subs = append(t.subs, sub)
	t.mu.Unlock()

	out := make(chan Message, prefetch)
	go func() {
		defer close(out)
		for _, m := range backlog {
			select {
			case out <- m:
			case <-sub.done:
				return
			case <-ctx.Done():
				return
			}
		}
		for {
			select {
			case m, ok := <-sub.ch:
				if !ok {
					return
				}
				select {
				case out <- m:
				case <-sub.done:
					return
				case <-ctx.Done():
					return
				}
			case <-sub.done:
				return
			case <-ctx.Done():
				return
			}
		}
	}()

	unsubscribe := func() {
		t.mu.Lock()
		for i, s := range t.subs {
			if s == sub {
				t.subs = append(t.subs[:i], t.subs[i+1:]...)
				break
			}
		}
		t.mu.Unlock()
		close(sub.done)
	}

	return out, unsubscribe, nil
}
