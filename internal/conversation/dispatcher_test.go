package conversation

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/m3rciful/pizzabot/core/metrics"
	"github.com/m3rciful/pizzabot/core/state"
)

type testState string

const (
	stStart testState = "START"
	stMenu  testState = "MENU"
	stCart  testState = "CART"
)

type recordingFlow struct {
	mu    sync.Mutex
	seen  []testState
	fail  bool
	next  testState
	calls atomic.Int32
	hold  time.Duration
}

func (f *recordingFlow) Initial() testState { return stStart }

func (f *recordingFlow) Parse(name string) (testState, bool) {
	switch testState(name) {
	case stStart, stMenu, stCart:
		return testState(name), true
	}
	return "", false
}

func (f *recordingFlow) Handle(_ context.Context, cur testState, req Request) (testState, error) {
	f.calls.Add(1)
	f.mu.Lock()
	f.seen = append(f.seen, cur)
	f.mu.Unlock()
	if f.hold > 0 {
		time.Sleep(f.hold)
	}
	if req.Token != "tok" {
		return "", errors.New("bad token")
	}
	if f.fail {
		return "", errors.New("upstream 500")
	}
	if f.next != "" {
		return f.next, nil
	}
	return stMenu, nil
}

func (f *recordingFlow) lastSeen() testState {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.seen[len(f.seen)-1]
}

type staticTokens struct {
	err error
}

func (s staticTokens) Token(context.Context) (string, error) {
	if s.err != nil {
		return "", s.err
	}
	return "tok", nil
}

type countingStore struct {
	*state.MemoryStore
	gets, sets atomic.Int32
	getErr     error
}

func (c *countingStore) Get(ctx context.Context, key string) (string, bool, error) {
	c.gets.Add(1)
	if c.getErr != nil {
		return "", false, c.getErr
	}
	return c.MemoryStore.Get(ctx, key)
}

func (c *countingStore) Set(ctx context.Context, key, value string) error {
	c.sets.Add(1)
	return c.MemoryStore.Set(ctx, key, value)
}

func newStore() *countingStore {
	return &countingStore{MemoryStore: state.NewMemoryStore()}
}

func ev(text string) Event {
	return Event{Platform: "facebookid", UserID: "42", Text: text, Command: Command{Kind: KindText, Text: text}}
}

func TestDispatchDefaultsToInitialState(t *testing.T) {
	flow := &recordingFlow{}
	store := newStore()
	d := NewDispatcher[testState](flow, store, staticTokens{}, nil)

	require.NoError(t, d.Dispatch(context.Background(), ev("hi")))
	assert.Equal(t, stStart, flow.lastSeen())

	v, ok, err := store.MemoryStore.Get(context.Background(), "facebookid_42")
	require.NoError(t, err)
	assert.True(t, ok)
	assert.Equal(t, "MENU", v)
	assert.EqualValues(t, 1, store.gets.Load())
	assert.EqualValues(t, 1, store.sets.Load())
}

func TestDispatchStartResets(t *testing.T) {
	flow := &recordingFlow{}
	store := newStore()
	require.NoError(t, store.Set(context.Background(), "facebookid_42", "CART"))
	d := NewDispatcher[testState](flow, store, staticTokens{}, nil)

	require.NoError(t, d.Dispatch(context.Background(), ev("hello")))
	assert.Equal(t, stCart, flow.lastSeen())

	require.NoError(t, store.Set(context.Background(), "facebookid_42", "CART"))
	require.NoError(t, d.Dispatch(context.Background(), ev("/start")))
	assert.Equal(t, stStart, flow.lastSeen())

	// Only the exact command resets.
	require.NoError(t, store.Set(context.Background(), "facebookid_42", "CART"))
	require.NoError(t, d.Dispatch(context.Background(), ev("/start now")))
	assert.Equal(t, stCart, flow.lastSeen())
}

func TestDispatchUnknownStateFallsBack(t *testing.T) {
	flow := &recordingFlow{}
	store := newStore()
	require.NoError(t, store.Set(context.Background(), "facebookid_42", "LEGACY"))
	d := NewDispatcher[testState](flow, store, staticTokens{}, nil)

	require.NoError(t, d.Dispatch(context.Background(), ev("x")))
	assert.Equal(t, stStart, flow.lastSeen())

	got, err := d.State(context.Background(), "facebookid", "42")
	require.NoError(t, err)
	assert.Equal(t, stMenu, got)
}

func TestDispatchHandlerFailureKeepsState(t *testing.T) {
	flow := &recordingFlow{fail: true}
	store := newStore()
	require.NoError(t, store.Set(context.Background(), "facebookid_42", "CART"))
	store.sets.Store(0)
	m := metrics.New(nil)
	d := NewDispatcher[testState](flow, store, staticTokens{}, m)

	require.NoError(t, d.Dispatch(context.Background(), ev("x")))
	v, _, _ := store.MemoryStore.Get(context.Background(), "facebookid_42")
	assert.Equal(t, "CART", v)
	assert.Zero(t, store.sets.Load())

	// The next event still works.
	flow.fail = false
	require.NoError(t, d.Dispatch(context.Background(), ev("x")))
	v, _, _ = store.MemoryStore.Get(context.Background(), "facebookid_42")
	assert.Equal(t, "MENU", v)
}

func TestDispatchTokenFailureSkipsStore(t *testing.T) {
	flow := &recordingFlow{}
	store := newStore()
	boom := errors.New("oauth down")
	d := NewDispatcher[testState](flow, store, staticTokens{err: boom}, nil)

	err := d.Dispatch(context.Background(), ev("x"))
	assert.ErrorIs(t, err, boom)
	assert.Zero(t, store.gets.Load())
	assert.Zero(t, store.sets.Load())
	assert.Zero(t, flow.calls.Load())
}

func TestDispatchStoreFailure(t *testing.T) {
	flow := &recordingFlow{}
	store := newStore()
	store.getErr = errors.New("redis down")
	d := NewDispatcher[testState](flow, store, staticTokens{}, nil)

	err := d.Dispatch(context.Background(), ev("x"))
	assert.ErrorContains(t, err, "load state")
	assert.Zero(t, flow.calls.Load())
}

func TestDispatchSerialisesPerUser(t *testing.T) {
	flow := &recordingFlow{hold: 10 * time.Millisecond}
	var active, maxActive atomic.Int32
	wrapped := &concurrencyGauge{inner: flow, active: &active, max: &maxActive}
	d := NewDispatcher[testState](wrapped, newStore(), staticTokens{}, nil)

	var wg sync.WaitGroup
	for i := 0; i < 5; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			assert.NoError(t, d.Dispatch(context.Background(), ev("x")))
		}()
	}
	wg.Wait()
	assert.EqualValues(t, 1, maxActive.Load())
	assert.Zero(t, d.locks.size())
}

type concurrencyGauge struct {
	inner  *recordingFlow
	active *atomic.Int32
	max    *atomic.Int32
}

func (p *concurrencyGauge) Initial() testState                  { return p.inner.Initial() }
func (p *concurrencyGauge) Parse(name string) (testState, bool) { return p.inner.Parse(name) }

func (p *concurrencyGauge) Handle(ctx context.Context, cur testState, req Request) (testState, error) {
	n := p.active.Add(1)
	for {
		m := p.max.Load()
		if n <= m || p.max.CompareAndSwap(m, n) {
			break
		}
	}
	defer p.active.Add(-1)
	return p.inner.Handle(ctx, cur, req)
}

func TestCommandString(t *testing.T) {
	assert.Equal(t, "page:2", Command{Kind: KindPage, Page: 2}.String())
	assert.Equal(t, "add:42", Command{Kind: KindAdd, ID: "42"}.String())
	assert.Equal(t, "category:spicy", Command{Kind: KindCategory, Slug: "spicy"}.String())
	assert.Equal(t, "cart", Command{Kind: KindCart}.String())
}
