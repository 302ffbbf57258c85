package conversation

import (
	"context"
	"sync/atomic"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/sourcegraph/conc"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeClock struct {
	t atomic.Int64
}

func newFakeClock() *fakeClock {
	c := &fakeClock{}
	c.t.Store(time.Date(2024, 12, 19, 9, 0, 0, 0, time.UTC).UnixNano())
	return c
}

func (c *fakeClock) Now() time.Time          { return time.Unix(0, c.t.Load()).UTC() }
func (c *fakeClock) Advance(d time.Duration) { c.t.Add(int64(d)) }

func newTestStore(clock *fakeClock) *Store {
	return NewStore(time.Hour, zerolog.Nop(), WithClock(clock.Now))
}

func TestStore_GetOrCreate(t *testing.T) {
	ctx := context.Background()
	store := newTestStore(newFakeClock())

	conv := store.GetOrCreate(ctx, "abc")
	assert.Equal(t, "abc", conv.ID)
	assert.Equal(t, StageGreeting, conv.Stage)
	assert.Empty(t, conv.Turns)
	assert.Empty(t, conv.Slots)

	again := store.GetOrCreate(ctx, "abc")
	assert.Same(t, conv, again)

	generated := store.GetOrCreate(ctx, "")
	assert.NotEmpty(t, generated.ID)
	assert.NotEqual(t, "abc", generated.ID)
}

func TestStore_PassiveExpiry(t *testing.T) {
	ctx := context.Background()
	clock := newFakeClock()
	store := newTestStore(clock)

	conv := store.GetOrCreate(ctx, "abc")
	store.SetSlot(ctx, conv, SlotName, "John")

	clock.Advance(59 * time.Minute)
	assert.Same(t, conv, store.GetOrCreate(ctx, "abc"))

	// Save refreshed the TTL at the 59 minute mark, so this is still live.
	store.Save(ctx, conv)
	clock.Advance(59 * time.Minute)
	assert.Equal(t, "John", store.GetOrCreate(ctx, "abc").Slots[SlotName])

	clock.Advance(61 * time.Minute)
	fresh := store.GetOrCreate(ctx, "abc")
	assert.NotSame(t, conv, fresh)
	assert.Empty(t, fresh.Slots)
	assert.Equal(t, StageGreeting, fresh.Stage)
}

func TestStore_AppendTurnRefreshesUpdatedAt(t *testing.T) {
	ctx := context.Background()
	clock := newFakeClock()
	store := newTestStore(clock)

	conv := store.GetOrCreate(ctx, "abc")
	created := conv.UpdatedAt

	clock.Advance(time.Minute)
	turn := store.AppendTurn(ctx, conv, RoleUser, "hello")

	require.Len(t, conv.Turns, 1)
	assert.Equal(t, RoleUser, turn.Role)
	assert.Equal(t, "hello", conv.Turns[0].Content)
	assert.True(t, conv.UpdatedAt.After(created))
}

func TestStore_GetReturnsDetachedCopy(t *testing.T) {
	ctx := context.Background()
	store := newTestStore(newFakeClock())

	conv := store.GetOrCreate(ctx, "abc")
	store.AppendTurn(ctx, conv, RoleUser, "hello")
	store.SetSlot(ctx, conv, SlotProcedure, "exam")

	snap, ok := store.Get(ctx, "abc")
	require.True(t, ok)
	assert.Equal(t, "exam", snap.Slots[SlotProcedure])

	snap.Slots[SlotProcedure] = "vaccine"
	snap.Turns[0].Content = "changed"
	assert.Equal(t, "exam", conv.Slots[SlotProcedure])
	assert.Equal(t, "hello", conv.Turns[0].Content)

	_, ok = store.Get(ctx, "missing")
	assert.False(t, ok)
}

func TestStore_SweepExpired(t *testing.T) {
	ctx := context.Background()
	clock := newFakeClock()
	store := newTestStore(clock)

	store.GetOrCreate(ctx, "old")
	clock.Advance(30 * time.Minute)
	store.GetOrCreate(ctx, "new")

	assert.Equal(t, 0, store.SweepExpired())
	clock.Advance(31 * time.Minute)
	assert.Equal(t, 1, store.SweepExpired())
	assert.Equal(t, 1, store.Len())
}

func TestSweeper_UsesStoreClock(t *testing.T) {
	ctx := context.Background()
	clock := newFakeClock()
	store := newTestStore(clock)
	store.GetOrCreate(ctx, "a")

	s, err := NewSweeper(store, "@every 1m", zerolog.Nop())
	require.NoError(t, err)

	// the wall clock is years past the fake one; only the store clock counts
	s.sweep()
	assert.Equal(t, 1, store.Len())

	clock.Advance(2 * time.Hour)
	s.sweep()
	assert.Equal(t, 0, store.Len())
}

func TestStore_LockSerializesSameID(t *testing.T) {
	ctx := context.Background()
	store := newTestStore(newFakeClock())

	var active, maxActive atomic.Int32
	var wg conc.WaitGroup
	for i := 0; i < 32; i++ {
		wg.Go(func() {
			unlock, err := store.Lock(ctx, "same")
			require.NoError(t, err)
			defer unlock()

			n := active.Add(1)
			for {
				m := maxActive.Load()
				if n <= m || maxActive.CompareAndSwap(m, n) {
					break
				}
			}
			time.Sleep(time.Millisecond)
			active.Add(-1)
		})
	}
	wg.Wait()

	assert.Equal(t, int32(1), maxActive.Load())
	assert.Empty(t, store.locks, "lock table should be drained")
}

func TestStore_LockDistinctIDsDoNotContend(t *testing.T) {
	ctx := context.Background()
	store := newTestStore(newFakeClock())

	unlockA, err := store.Lock(ctx, "a")
	require.NoError(t, err)
	defer unlockA()

	timeout, cancel := context.WithTimeout(ctx, time.Second)
	defer cancel()
	unlockB, err := store.Lock(timeout, "b")
	require.NoError(t, err)
	unlockB()
}

func TestStore_LockHonoursContext(t *testing.T) {
	ctx := context.Background()
	store := newTestStore(newFakeClock())

	unlock, err := store.Lock(ctx, "a")
	require.NoError(t, err)

	timeout, cancel := context.WithTimeout(ctx, 20*time.Millisecond)
	defer cancel()
	_, err = store.Lock(timeout, "a")
	assert.ErrorIs(t, err, context.DeadlineExceeded)

	unlock()
	unlock() // idempotent
	assert.Empty(t, store.locks)
}

func TestStage_Index(t *testing.T) {
	assert.Equal(t, 0, StageGreeting.Index())
	assert.Equal(t, 4, StageSchedule.Index())
	assert.Equal(t, -1, StageError.Index())
	assert.False(t, Stage("bogus").Valid())
}

func TestConversation_LastTurns(t *testing.T) {
	conv := NewConversation("x", time.Now())
	conv.Turns = []Turn{
		{Role: RoleUser, Content: "1"},
		{Role: RoleSystem, Content: "s"},
		{Role: RoleAssistant, Content: "2"},
		{Role: RoleUser, Content: "3"},
	}

	last := conv.LastTurns(3, RoleUser, RoleAssistant)
	require.Len(t, last, 2)
	assert.Equal(t, "2", last[0].Content)
	assert.Equal(t, "3", last[1].Content)

	assert.Len(t, conv.LastTurns(0), 4)
}

func TestSweeper_RejectsBadSchedule(t *testing.T) {
	_, err := NewSweeper(newTestStore(newFakeClock()), "not a schedule", zerolog.Nop())
	assert.Error(t, err)

	s, err := NewSweeper(newTestStore(newFakeClock()), "@every 1m", zerolog.Nop())
	require.NoError(t, err)
	s.Start()
	<-s.Stop().Done()
}
