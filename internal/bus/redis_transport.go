package bus

import (
	"context"
	"fmt"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/go-redis/redis/v8"
)

// RedisTransport is the cross-process Transport the in-process
// MemoryTransport's doc comment calls out as "the seam a NATS/Kafka-backed
// implementation would fill in production." It is grounded on the
// teacher's go-redis/v8 dependency (present in its go.mod but otherwise
// unexercised) retargeted from cache/session storage onto subject logs:
// each subject is a Redis LIST (RPUSH for append, LRANGE for replay), and
// new-message notification rides a parallel Redis Pub/Sub channel so
// subscribers don't have to poll.
type RedisTransport struct {
	client    *redis.Client
	keyPrefix string
}

// NewRedisTransport wraps client. keyPrefix namespaces subject lists and
// notification channels, e.g. "motorcortex".
func NewRedisTransport(client *redis.Client, keyPrefix string) *RedisTransport {
	return &RedisTransport{client: client, keyPrefix: keyPrefix}
}

func (t *RedisTransport) subjectKey(subject string) string {
	return fmt.Sprintf("%s:subject:%s", t.keyPrefix, subject)
}

func (t *RedisTransport) notifyChannel(subject string) string {
	return fmt.Sprintf("%s:notify:%s", t.keyPrefix, subject)
}

// Publish appends payload to subject's list and publishes a notification
// carrying the new length (the subject's sequence number) so live
// subscribers wake without polling.
func (t *RedisTransport) Publish(ctx context.Context, subject string, payload []byte) (uint64, error) {
	pipe := t.client.TxPipeline()
	pipe.RPush(ctx, t.subjectKey(subject), payload)
	lenCmd := pipe.LLen(ctx, t.subjectKey(subject))
	if _, err := pipe.Exec(ctx); err != nil {
		return 0, fmt.Errorf("bus: redis publish: %w", err)
	}
	seq := uint64(lenCmd.Val())

	if err := t.client.Publish(ctx, t.notifyChannel(subject), strconv.FormatUint(seq, 10)).Err(); err != nil {
		return seq, fmt.Errorf("bus: redis notify: %w", err)
	}
	return seq, nil
}

// Subscribe replays every message matching pattern with seq > fromSeq from
// each currently-existing matching subject, then continues delivering new
// messages as Publish notifies them. pattern uses the same glob syntax
// Redis SCAN/PSUBSCRIBE already understand (*, ?, [...]), so no translation
// is needed between Bus's ACL-facing pattern and Redis's own glob dialect.
func (t *RedisTransport) Subscribe(ctx context.Context, pattern string, fromSeq uint64, prefetch int) (<-chan Message, func(), error) {
	if prefetch <= 0 {
		prefetch = 64
	}
	out := make(chan Message, prefetch)
	stop := make(chan struct{})
	var stopOnce sync.Once

	keyPattern := t.subjectKey(pattern)
	subjects, err := t.scanSubjects(ctx, keyPattern)
	if err != nil {
		return nil, nil, fmt.Errorf("bus: redis scan: %w", err)
	}

	var mu sync.Mutex
	lastSeq := make(map[string]uint64, len(subjects))

	psub := t.client.PSubscribe(ctx, t.notifyChannel(pattern))

	deliver := func(subject string, from uint64) error {
		entries, err := t.client.LRange(ctx, t.subjectKey(subject), int64(from), -1).Result()
		if err != nil {
			return err
		}
		mu.Lock()
		base := lastSeq[subject]
		mu.Unlock()
		for i, payload := range entries {
			seq := base + uint64(i) + 1
			msg := Message{Subject: subject, Seq: seq, Payload: []byte(payload), PublishedAt: time.Now()}
			select {
			case out <- msg:
			case <-stop:
				return nil
			case <-ctx.Done():
				return ctx.Err()
			}
		}
		mu.Lock()
		lastSeq[subject] = base + uint64(len(entries))
		mu.Unlock()
		return nil
	}

	go func() {
		for _, subject := range subjects {
			mu.Lock()
			lastSeq[subject] = fromSeq
			mu.Unlock()
			_ = deliver(subject, fromSeq)
		}

		ch := psub.Channel()
		for {
			select {
			case msg, ok := <-ch:
				if !ok {
					close(out)
					return
				}
				subject := strings.TrimPrefix(msg.Channel, fmt.Sprintf("%s:notify:", t.keyPrefix))
				mu.Lock()
				if _, tracked := lastSeq[subject]; !tracked {
					lastSeq[subject] = fromSeq
				}
				from := lastSeq[subject]
				mu.Unlock()
				_ = deliver(subject, from)
			case <-stop:
				close(out)
				return
			case <-ctx.Done():
				close(out)
				return
			}
		}
	}()

	unsubscribe := func() {
		stopOnce.Do(func() {
			close(stop)
			_ = psub.Close()
		})
	}
	return out, unsubscribe, nil
}

func (t *RedisTransport) scanSubjects(ctx context.Context, keyPattern string) ([]string, error) {
	var subjects []string
	var cursor uint64
	for {
		keys, next, err := t.client.Scan(ctx, cursor, keyPattern, 100).Result()
		if err != nil {
			return nil, err
		}
		for _, k := range keys {
			subjects = append(subjects, strings.TrimPrefix(k, t.keyPrefix+":subject:"))
		}
		cursor = next
		if cursor == 0 {
			break
		}
	}
	return subjects, nil
}
