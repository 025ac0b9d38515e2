package leader

import (
	"context"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeLeaseBus struct {
	mu        sync.Mutex
	observers []func(Heartbeat)
	sent      []Heartbeat
}

func (f *fakeLeaseBus) PublishHeartbeat(ctx context.Context, hb Heartbeat) error {
	f.mu.Lock()
	f.sent = append(f.sent, hb)
	observers := append([]func(Heartbeat){}, f.observers...)
	f.mu.Unlock()
	for _, obs := range observers {
		obs(hb)
	}
	return nil
}

func (f *fakeLeaseBus) SubscribeHeartbeats(ctx context.Context, onHeartbeat func(Heartbeat)) (func(), error) {
	f.mu.Lock()
	f.observers = append(f.observers, onHeartbeat)
	f.mu.Unlock()
	return func() {}, nil
}

func TestElector_SoleCandidatePromotesAndIncrementsTerm(t *testing.T) {
	bus := &fakeLeaseBus{}
	terms := &MemoryTermStore{}
	promoted := 0

	e := New("cortex-1", bus, terms, func(term int64) { promoted++ }, nil)

	ctx := context.Background()
	term, err := terms.LoadTerm(ctx)
	require.NoError(t, err)
	e.currentTerm = term

	require.NoError(t, e.tryPromoteOrRenew(ctx))
	assert.True(t, e.IsLeader())
	assert.Equal(t, int64(1), e.Term())
	assert.Equal(t, 1, promoted)

	require.NoError(t, e.tryPromoteOrRenew(ctx))
	assert.Equal(t, int64(1), e.Term(), "renewal must not bump term again")
	assert.Equal(t, 1, promoted)
}

func TestElector_HigherRivalTermFencesOut(t *testing.T) {
	bus := &fakeLeaseBus{}
	terms := &MemoryTermStore{}
	demoted := 0

	e := New("cortex-1", bus, terms, nil, func() { demoted++ })
	e.isLeader = true
	e.currentTerm = 3

	e.observe(Heartbeat{CandidateID: "cortex-2", Term: 5})

	assert.False(t, e.IsLeader())
	assert.Equal(t, int64(5), e.Term())
	assert.Equal(t, 1, demoted)
}
