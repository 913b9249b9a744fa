// Copyright Mesh Intelligence Inc., 2026. All rights reserved.

package ratecache

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/go-redis/redis/v8"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"go.uber.org/zap/zaptest/observer"
)

type trialPage struct {
	IDs   []string `json:"ids"`
	Total int      `json:"total"`
}

func testPolicies() map[string]Policy {
	return map[string]Policy{
		"registry":   {Rate: 100, Window: time.Second, TTL: 15 * time.Minute},
		"literature": {Rate: 100, Window: time.Second, TTL: 30 * time.Minute},
	}
}

func TestKey(t *testing.T) {
	a, err := Key("registry", map[string]any{"cond": "diabetes", "size": 10})
	require.NoError(t, err)
	b, err := Key("registry", map[string]any{"size": 10, "cond": "diabetes"})
	require.NoError(t, err)
	assert.Equal(t, a, b, "map key order must not change the key")
	assert.Contains(t, a, "registry:")

	c, err := Key("literature", map[string]any{"cond": "diabetes", "size": 10})
	require.NoError(t, err)
	assert.NotEqual(t, a, c, "source is part of the key")

	d, err := Key("registry", map[string]any{"cond": "diabetes", "size": 20})
	require.NoError(t, err)
	assert.NotEqual(t, a, d)

	_, err = Key("registry", map[string]any{"bad": make(chan int)})
	assert.Error(t, err)
}

func TestCall_IdempotentWithinTTL(t *testing.T) {
	c := New(testPolicies(), nil, nil)
	rec := NewRecorder()
	ctx := WithRecorder(context.Background(), rec)

	var upstream int32
	fetch := func(context.Context) (trialPage, error) {
		atomic.AddInt32(&upstream, 1)
		return trialPage{IDs: []string{"NCT001", "NCT002"}, Total: 2}, nil
	}
	params := map[string]any{"cond": "type 2 diabetes"}

	first, hit, err := Call(ctx, c, "registry", params, fetch)
	require.NoError(t, err)
	assert.False(t, hit)

	second, hit, err := Call(ctx, c, "registry", params, fetch)
	require.NoError(t, err)
	assert.True(t, hit)
	assert.Equal(t, first, second)
	assert.Equal(t, int32(1), atomic.LoadInt32(&upstream))

	assert.Equal(t, map[string]int{"registry": 1}, rec.Calls())
	assert.Equal(t, map[string]int{"registry": 1}, rec.Hits())
}

func TestCall_ExpiredEntryRefetches(t *testing.T) {
	backend := NewMemoryBackend()
	clock := time.Date(2026, 1, 1, 9, 0, 0, 0, time.UTC)
	backend.now = func() time.Time { return clock }
	c := New(testPolicies(), backend, nil)

	var upstream int32
	fetch := func(context.Context) (int, error) {
		return int(atomic.AddInt32(&upstream, 1)), nil
	}

	v, _, err := Call(context.Background(), c, "registry", "q", fetch)
	require.NoError(t, err)
	assert.Equal(t, 1, v)

	clock = clock.Add(14 * time.Minute)
	v, hit, err := Call(context.Background(), c, "registry", "q", fetch)
	require.NoError(t, err)
	assert.True(t, hit)
	assert.Equal(t, 1, v)

	clock = clock.Add(2 * time.Minute)
	v, hit, err = Call(context.Background(), c, "registry", "q", fetch)
	require.NoError(t, err)
	assert.False(t, hit)
	assert.Equal(t, 2, v)
}

func TestCall_ErrorsAreNotCached(t *testing.T) {
	c := New(testPolicies(), nil, nil)
	calls := 0
	fetch := func(context.Context) (string, error) {
		calls++
		if calls == 1 {
			return "", errors.New("upstream 503")
		}
		return "ok", nil
	}

	_, _, err := Call(context.Background(), c, "literature", "metformin", fetch)
	require.Error(t, err)

	v, hit, err := Call(context.Background(), c, "literature", "metformin", fetch)
	require.NoError(t, err)
	assert.False(t, hit)
	assert.Equal(t, "ok", v)
	assert.Equal(t, 2, calls)
}

func TestCall_ConcurrentMissesShareOneUpstreamCall(t *testing.T) {
	c := New(testPolicies(), nil, nil)
	var upstream int32
	release := make(chan struct{})
	fetch := func(context.Context) (trialPage, error) {
		atomic.AddInt32(&upstream, 1)
		<-release
		return trialPage{IDs: []string{"NCT9"}, Total: 1}, nil
	}

	var wg sync.WaitGroup
	results := make([]trialPage, 8)
	for i := range results {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			v, _, err := Call(context.Background(), c, "registry", "same", fetch)
			assert.NoError(t, err)
			results[i] = v
		}(i)
	}
	time.Sleep(20 * time.Millisecond)
	close(release)
	wg.Wait()

	assert.Equal(t, int32(1), atomic.LoadInt32(&upstream))
	for _, r := range results {
		assert.Equal(t, []string{"NCT9"}, r.IDs)
	}
}

func TestCall_CancelledCallerDoesNotFailOthersSharingTheKey(t *testing.T) {
	c := New(testPolicies(), nil, nil)
	started := make(chan struct{})
	release := make(chan struct{})
	var upstream int32
	fetch := func(ctx context.Context) (trialPage, error) {
		atomic.AddInt32(&upstream, 1)
		close(started)
		select {
		case <-release:
		case <-ctx.Done():
			return trialPage{}, ctx.Err()
		}
		return trialPage{IDs: []string{"NCT7"}, Total: 1}, nil
	}

	leaderCtx, cancel := context.WithCancel(context.Background())
	leaderErr := make(chan error, 1)
	go func() {
		_, _, err := Call(leaderCtx, c, "registry", "shared", fetch)
		leaderErr <- err
	}()
	<-started

	type outcome struct {
		v   trialPage
		hit bool
		err error
	}
	follower := make(chan outcome, 1)
	go func() {
		v, hit, err := Call(context.Background(), c, "registry", "shared", fetch)
		follower <- outcome{v, hit, err}
	}()
	time.Sleep(20 * time.Millisecond)

	cancel()
	assert.ErrorIs(t, <-leaderErr, context.Canceled)

	close(release)
	got := <-follower
	require.NoError(t, got.err)
	assert.True(t, got.hit, "the follower made no upstream call of its own")
	assert.Equal(t, []string{"NCT7"}, got.v.IDs)
	assert.Equal(t, int32(1), atomic.LoadInt32(&upstream))

	// The shared result was cached even though its leader went away.
	v, hit, err := Call(context.Background(), c, "registry", "shared", fetch)
	require.NoError(t, err)
	assert.True(t, hit)
	assert.Equal(t, []string{"NCT7"}, v.IDs)
}

func TestCall_ResultsAreIndependentCopies(t *testing.T) {
	c := New(testPolicies(), nil, nil)
	fetch := func(context.Context) (trialPage, error) {
		return trialPage{IDs: []string{"NCT1"}}, nil
	}
	a, _, err := Call(context.Background(), c, "registry", "copy", fetch)
	require.NoError(t, err)
	a.IDs[0] = "mutated"

	b, hit, err := Call(context.Background(), c, "registry", "copy", fetch)
	require.NoError(t, err)
	assert.True(t, hit)
	assert.Equal(t, "NCT1", b.IDs[0])
}

type brokenBackend struct{ sets int }

func (b *brokenBackend) Get(context.Context, string) ([]byte, bool, error) {
	return nil, false, errors.New("connection refused")
}

func (b *brokenBackend) Set(context.Context, string, []byte, time.Duration) error {
	b.sets++
	return errors.New("connection refused")
}

func TestCall_BackendErrorsDegradeToMiss(t *testing.T) {
	core, logs := observer.New(zapcore.WarnLevel)
	backend := &brokenBackend{}
	c := New(testPolicies(), backend, zap.New(core))

	calls := 0
	fetch := func(context.Context) (string, error) { calls++; return "fresh", nil }
	for i := 0; i < 2; i++ {
		v, hit, err := Call(context.Background(), c, "registry", "x", fetch)
		require.NoError(t, err)
		assert.False(t, hit)
		assert.Equal(t, "fresh", v)
	}
	assert.Equal(t, 2, calls)
	assert.Equal(t, 2, backend.sets)
	assert.NotZero(t, logs.FilterMessage("cache read failed, treating as miss").Len())
	assert.Equal(t, 2, logs.FilterMessage("cache write failed").Len())
}

func TestCall_CancelledWhileWaitingForSlot(t *testing.T) {
	c := New(map[string]Policy{"registry": {Rate: 1, Window: time.Hour, TTL: time.Minute}}, nil, nil)
	_, _, err := Call(context.Background(), c, "registry", "a", func(context.Context) (int, error) { return 1, nil })
	require.NoError(t, err)

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()
	_, _, err = Call(ctx, c, "registry", "b", func(context.Context) (int, error) {
		t.Fatal("upstream must not be called without a slot")
		return 0, nil
	})
	assert.ErrorIs(t, err, context.DeadlineExceeded)
}

func TestRedisBackend_RoundTripAndExpiry(t *testing.T) {
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	defer client.Close()

	backend := NewRedisBackend(client, "trialmatch:")
	ctx := context.Background()

	_, ok, err := backend.Get(ctx, "registry:abc")
	require.NoError(t, err)
	assert.False(t, ok)

	require.NoError(t, backend.Set(ctx, "registry:abc", []byte(`{"ids":["NCT1"]}`), time.Minute))
	assert.True(t, mr.Exists("trialmatch:registry:abc"))

	got, ok, err := backend.Get(ctx, "registry:abc")
	require.NoError(t, err)
	assert.True(t, ok)
	assert.JSONEq(t, `{"ids":["NCT1"]}`, string(got))

	mr.FastForward(2 * time.Minute)
	_, ok, err = backend.Get(ctx, "registry:abc")
	require.NoError(t, err)
	assert.False(t, ok)
}

func TestCall_WithRedisBackend(t *testing.T) {
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	defer client.Close()

	c := New(testPolicies(), NewRedisBackend(client, "tm:"), nil)
	calls := 0
	fetch := func(context.Context) (trialPage, error) {
		calls++
		return trialPage{IDs: []string{"NCT7"}, Total: 1}, nil
	}
	_, _, err := Call(context.Background(), c, "registry", "shared", fetch)
	require.NoError(t, err)

	other := New(testPolicies(), NewRedisBackend(client, "tm:"), nil)
	v, hit, err := Call(context.Background(), other, "registry", "shared", fetch)
	require.NoError(t, err)
	assert.True(t, hit, "a second cache over the same redis sees the entry")
	assert.Equal(t, 1, v.Total)
	assert.Equal(t, 1, calls)
}

func TestNewRedisClient(t *testing.T) {
	mr := miniredis.RunT(t)
	client, err := NewRedisClient(context.Background(), mr.Addr(), 0)
	require.NoError(t, err)
	client.Close()

	_, err = NewRedisClient(context.Background(), "127.0.0.1:1", 0)
	assert.Error(t, err)
}
