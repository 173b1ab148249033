package catalog

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/m3rciful/pizzabot/internal/shop"
)

type fakeProvider struct {
	mu       sync.Mutex
	failList bool
	noImage  string
	calls    map[string]int
}

func newFakeProvider() *fakeProvider {
	return &fakeProvider{calls: map[string]int{}}
}

func (f *fakeProvider) hit(name string) {
	f.mu.Lock()
	f.calls[name]++
	f.mu.Unlock()
}

func (f *fakeProvider) count(name string) int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.calls[name]
}

func (f *fakeProvider) ListCategories(context.Context, string) ([]shop.Category, error) {
	f.hit("categories")
	return []shop.Category{
		{ID: "c1", Slug: "basic", Name: "Основные"},
		{ID: "c2", Slug: "spicy", Name: "Острые"},
	}, nil
}

func (f *fakeProvider) ListProducts(context.Context, string) ([]shop.Product, error) {
	f.hit("products")
	f.mu.Lock()
	fail := f.failList
	f.mu.Unlock()
	if fail {
		return nil, errors.New("upstream down")
	}
	return []shop.Product{{ID: "p1"}, {ID: "p2"}, {ID: "p3"}}, nil
}

func (f *fakeProvider) ListProductsByCategory(_ context.Context, _ string, categoryID string) ([]shop.Product, error) {
	f.hit("by_category")
	if categoryID == "c1" {
		return []shop.Product{{ID: "p1"}, {ID: "p2"}}, nil
	}
	return []shop.Product{{ID: "p3"}}, nil
}

func (f *fakeProvider) GetProduct(_ context.Context, _ string, id string) (shop.Product, error) {
	f.hit("detail")
	img := "img-" + id
	if id == f.noImage {
		img = ""
	}
	return shop.Product{ID: id, Name: "Pizza " + id, ImageID: img}, nil
}

func (f *fakeProvider) ImageURL(_ context.Context, _ string, fileID string) (string, error) {
	f.hit("image")
	return "https://img/" + fileID, nil
}

func TestCacheReadsBeforeBuild(t *testing.T) {
	c := NewCache(newFakeProvider(), Config{}, nil)
	_, err := c.Category("basic")
	assert.ErrorIs(t, err, ErrNotBuilt)
	_, err = c.Image("p1")
	assert.ErrorIs(t, err, ErrNotBuilt)
	_, err = c.Products()
	assert.ErrorIs(t, err, ErrNotBuilt)
}

func TestCacheRebuildIsCoherent(t *testing.T) {
	p := newFakeProvider()
	c := NewCache(p, Config{Concurrency: 2}, nil)
	require.NoError(t, c.Rebuild(context.Background(), "tok"))

	snap, err := c.Snapshot()
	require.NoError(t, err)
	for _, products := range snap.ProductsByCategory {
		for _, prod := range products {
			assert.Contains(t, snap.Images, prod.ID)
		}
	}
	for _, prod := range snap.Products {
		assert.Contains(t, snap.Images, prod.ID)
	}

	basic, err := c.Category("basic")
	require.NoError(t, err)
	assert.Len(t, basic, 2)

	cats, err := c.Categories()
	require.NoError(t, err)
	assert.Equal(t, "basic", cats[0].Slug)
	assert.Equal(t, "spicy", cats[1].Slug)

	href, err := c.Image("p3")
	require.NoError(t, err)
	assert.Equal(t, "https://img/img-p3", href)

	prod, err := c.Product("p2")
	require.NoError(t, err)
	assert.Equal(t, "Pizza p2", prod.Name)

	_, err = c.Category("desserts")
	assert.ErrorIs(t, err, ErrUnknownCategory)
	_, err = c.Product("nope")
	assert.ErrorIs(t, err, ErrUnknownProduct)
	_, err = c.Image("nope")
	assert.ErrorIs(t, err, ErrNoImage)

	assert.Equal(t, 3, p.count("detail"))
}

func TestCacheFailedRebuildKeepsPrevious(t *testing.T) {
	p := newFakeProvider()
	c := NewCache(p, Config{}, nil)
	require.NoError(t, c.Rebuild(context.Background(), "tok"))
	before, _ := c.Snapshot()

	p.mu.Lock()
	p.failList = true
	p.mu.Unlock()
	require.Error(t, c.Rebuild(context.Background(), "tok"))

	after, err := c.Snapshot()
	require.NoError(t, err)
	assert.Same(t, before, after)
}

func TestCacheRejectsProductWithoutImage(t *testing.T) {
	p := newFakeProvider()
	p.noImage = "p2"
	c := NewCache(p, Config{}, nil)
	err := c.Rebuild(context.Background(), "tok")
	assert.ErrorIs(t, err, ErrNoImage)
	_, err = c.Snapshot()
	assert.ErrorIs(t, err, ErrNotBuilt)
}

type fakeSource struct {
	calls atomic.Int32
	ttl   time.Duration
	err   error
	delay time.Duration
}

func (s *fakeSource) FetchToken(context.Context) (shop.Token, error) {
	n := s.calls.Add(1)
	if s.delay > 0 {
		time.Sleep(s.delay)
	}
	if s.err != nil {
		return shop.Token{}, s.err
	}
	return shop.Token{Value: "tok-" + string(rune('0'+n)), ExpiresIn: s.ttl}, nil
}

func TestTokenCacheRefreshesWhenExpired(t *testing.T) {
	now := time.Unix(1_700_000_000, 0)
	src := &fakeSource{ttl: time.Hour}
	c := NewTokenCache(src, WithClock(func() time.Time { return now }))

	tok, err := c.Token(context.Background())
	require.NoError(t, err)
	assert.Equal(t, "tok-1", tok)

	now = now.Add(59 * time.Minute)
	tok, err = c.Token(context.Background())
	require.NoError(t, err)
	assert.Equal(t, "tok-1", tok)

	now = now.Add(time.Minute)
	tok, err = c.Token(context.Background())
	require.NoError(t, err)
	assert.Equal(t, "tok-2", tok)
	assert.EqualValues(t, 2, src.calls.Load())

	c.Invalidate()
	tok, err = c.Token(context.Background())
	require.NoError(t, err)
	assert.Equal(t, "tok-3", tok)
}

func TestTokenCacheSharesConcurrentRefresh(t *testing.T) {
	src := &fakeSource{ttl: time.Hour, delay: 50 * time.Millisecond}
	var rebuilds atomic.Int32
	c := NewTokenCache(src, WithOnRefresh(func(context.Context, string) error {
		rebuilds.Add(1)
		return nil
	}))

	var wg sync.WaitGroup
	for i := 0; i < 16; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			tok, err := c.Token(context.Background())
			assert.NoError(t, err)
			assert.Equal(t, "tok-1", tok)
		}()
	}
	wg.Wait()
	assert.EqualValues(t, 1, src.calls.Load())
	assert.EqualValues(t, 1, rebuilds.Load())
}

func TestTokenCacheRetriesFailedRebuildWithBackoff(t *testing.T) {
	now := time.Unix(1_700_000_000, 0)
	src := &fakeSource{ttl: time.Hour}
	var rebuilds atomic.Int32
	fail := true
	c := NewTokenCache(src,
		WithClock(func() time.Time { return now }),
		WithOnRefresh(func(context.Context, string) error {
			rebuilds.Add(1)
			if fail {
				return errors.New("rebuild failed")
			}
			return nil
		}),
	)

	_, err := c.Token(context.Background())
	require.ErrorContains(t, err, "rebuild failed")

	tok, err := c.Token(context.Background())
	require.NoError(t, err)
	assert.Equal(t, "tok-1", tok)
	assert.EqualValues(t, 1, src.calls.Load())
	assert.EqualValues(t, 1, rebuilds.Load(), "retry waits for the backoff")

	now = now.Add(minRebuildBackoff)
	_, err = c.Token(context.Background())
	require.NoError(t, err)
	assert.EqualValues(t, 2, rebuilds.Load())

	now = now.Add(minRebuildBackoff)
	_, err = c.Token(context.Background())
	require.NoError(t, err)
	assert.EqualValues(t, 2, rebuilds.Load(), "backoff doubles after a second failure")

	fail = false
	now = now.Add(minRebuildBackoff)
	tok, err = c.Token(context.Background())
	require.NoError(t, err)
	assert.Equal(t, "tok-1", tok)
	assert.EqualValues(t, 3, rebuilds.Load())

	now = now.Add(time.Minute)
	_, err = c.Token(context.Background())
	require.NoError(t, err)
	assert.EqualValues(t, 3, rebuilds.Load())
	assert.EqualValues(t, 1, src.calls.Load())
}

func TestTokenCacheFetchError(t *testing.T) {
	boom := errors.New("boom")
	c := NewTokenCache(&fakeSource{err: boom})
	_, err := c.Token(context.Background())
	assert.ErrorIs(t, err, boom)
}

func TestTokenCacheWiredToCatalog(t *testing.T) {
	p := newFakeProvider()
	cache := NewCache(p, Config{}, nil)
	tokens := NewTokenCache(&fakeSource{ttl: time.Hour}, WithOnRefresh(cache.Rebuild))

	_, err := tokens.Token(context.Background())
	require.NoError(t, err)
	products, err := cache.Products()
	require.NoError(t, err)
	assert.Len(t, products, 3)
}
