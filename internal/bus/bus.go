// Package bus implements the persistent subject-addressed signed bus: three
// streams (commands, events, data), monotonic per-stream sequence numbers,
// per-identity ACLs, and durable subscriber cursors for at-least-once
// delivery with resume-after-reconnect. It is adapted from the teacher's
// system/sandbox capability-checked bus (SecureBus / BusEventFilter /
// BusRateLimiter), generalized from named Capability grants to
// (identity, subject-prefix) ACL tuples per spec §4.A.
//
// Transport is the seam a NATS/Kafka-backed implementation would fill in
// production; Motor and Cortex only ever depend on the Bus type, never on
// a concrete Transport, so neither imports the other (spec §9: "break
// with the Bus").
package bus

import (
	"context"
	"fmt"
	"sync"
	"time"
)

// Stream names the three persistent streams spec §4.A defines.
type Stream string

const (
	StreamCommands Stream = "commands"
	StreamEvents   Stream = "events"
	StreamData     Stream = "data"
)

// Message is one delivered bus message.
type Message struct {
	Subject     string
	Stream      Stream
	Seq         uint64
	Payload     []byte
	PublishedAt time.Time
}

// Transport is the minimal durable pub/sub primitive the Bus builds on.
type Transport interface {
	// Publish appends payload to subject's log and returns its sequence
	// number within that subject.
	Publish(ctx context.Context, subject string, payload []byte) (seq uint64, err error)

	// Subscribe delivers every message on subjects matching pattern with
	// seq > fromSeq, then continues delivering new messages as published.
	// The returned channel is closed when unsubscribe is called.
	Subscribe(ctx context.Context, pattern string, fromSeq uint64, prefetch int) (<-chan Message, func(), error)
}

// CursorStore persists a subscriber's last-acknowledged sequence per
// stream so a reconnecting consumer resumes instead of re-processing from
// zero or losing messages (spec §4.A failure semantics).
type CursorStore interface {
	Load(ctx context.Context, subscriberID string, stream Stream) (uint64, error)
	Save(ctx context.Context, subscriberID string, stream Stream, seq uint64) error
}

// Bus is the ACL-checked, cursor-tracked façade Motor and Cortex use.
type Bus struct {
	transport Transport
	acl       *ACL
	cursors   CursorStore

	mu        sync.Mutex
	streamSeq map[Stream]uint64
}

// New creates a Bus over transport, enforcing acl and persisting consumer
// progress to cursors.
func New(transport Transport, acl *ACL, cursors CursorStore) *Bus {
	return &Bus{
		transport: transport,
		acl:       acl,
		cursors:   cursors,
		streamSeq: make(map[Stream]uint64),
	}
}

// Publish checks identity's ACL grant for subject, then publishes payload.
func (b *Bus) Publish(ctx context.Context, identity, subject string, stream Stream, payload []byte) (uint64, error) {
	if !b.acl.CanPublish(identity, subject) {
		return 0, &ACLDeniedError{Identity: identity, Subject: subject, Action: "publish"}
	}
	return b.transport.Publish(ctx, subject, payload)
}

// Subscription is a live, cursor-tracked subscription.
type Subscription struct {
	bus          *Bus
	subscriberID string
	stream       Stream
	Messages     <-chan Message
	unsubscribe  func()
}

// Ack persists msg's sequence as the subscriber's new cursor, so a restart
// resumes after it rather than redelivering it. Redelivery of
// already-processed messages before Ack is expected and must be absorbed
// idempotently by the consumer (spec §4.A).
func (s *Subscription) Ack(ctx context.Context, msg Message) error {
	return s.bus.cursors.Save(ctx, s.subscriberID, s.stream, msg.Seq)
}

// Close unsubscribes and stops delivery.
func (s *Subscription) Close() {
	s.unsubscribe()
}

// Subscribe checks identity's ACL grant for pattern, loads subscriberID's
// durable cursor for stream, and resumes delivery from it with a bounded
// prefetch window (spec §5 backpressure: exceeding the window blocks the
// publisher for that subscriber only — enforced by Transport, since the
// window is a property of the underlying log, not of this façade).
func (b *Bus) Subscribe(ctx context.Context, identity, subscriberID, pattern string, stream Stream, prefetch int) (*Subscription, error) {
	if !b.acl.CanSubscribe(identity, pattern) {
		return nil, &ACLDeniedError{Identity: identity, Subject: pattern, Action: "subscribe"}
	}

	fromSeq, err := b.cursors.Load(ctx, subscriberID, stream)
	if err != nil {
		return nil, fmt.Errorf("bus: load cursor: %w", err)
	}

	msgs, unsub, err := b.transport.Subscribe(ctx, pattern, fromSeq, prefetch)
	if err != nil {
		return nil, fmt.Errorf("bus: subscribe: %w", err)
	}

	tagged := make(chan Message, prefetch)
	go func() {
		defer close(tagged)
		for m := range msgs {
			m.Stream = stream
			tagged <- m
		}
	}()

	return &Subscription{
		bus:          b,
		subscriberID: subscriberID,
		stream:       stream,
		Messages:     tagged,
		unsubscribe:  unsub,
	}, nil
}

// ACLDeniedError reports a publish/subscribe call rejected by ACL.
type ACLDeniedError struct {
	Identity string
	Subject  string
	Action   string
}

func (e *ACLDeniedError) Error() string {
	return fmt.Sprintf("bus: identity %q denied %s on %q", e.Identity, e.Action, e.Subject)
}
