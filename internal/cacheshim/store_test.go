package cacheshim

import (
	"context"
	"errors"
	"testing"
	"time"
)

type flakyStore struct {
	failGet bool
	failSet bool
	inner   Store
}

func (f *flakyStore) Get(ctx context.Context, key string) ([]byte, bool, error) {
	if f.failGet {
		return nil, false, errors.New("backend unavailable")
	}
	return f.inner.Get(ctx, key)
}

func (f *flakyStore) Set(ctx context.Context, key string, value []byte, ttl time.Duration) error {
	if f.failSet {
		return errors.New("backend unavailable")
	}
	return f.inner.Set(ctx, key, value, ttl)
}

func (f *flakyStore) Delete(ctx context.Context, key string) error { return f.inner.Delete(ctx, key) }
func (f *flakyStore) Has(ctx context.Context, key string) (bool, error) {
	return f.inner.Has(ctx, key)
}

type payload struct {
	Name string `json:"name"`
}

func TestGetSetRoundTrip(t *testing.T) {
	s := NewLRUStore(16)
	ctx := context.Background()

	if ok := Set(ctx, s, "k", payload{Name: "alice"}, time.Minute); !ok {
		t.Fatal("Set failed")
	}
	got, ok := Get[payload](ctx, s, "k")
	if !ok || got.Name != "alice" {
		t.Fatalf("Get = (%+v, %v), want (alice, true)", got, ok)
	}
}

func TestGetMissing(t *testing.T) {
	s := NewLRUStore(16)
	_, ok := Get[payload](context.Background(), s, "absent")
	if ok {
		t.Fatal("expected miss for absent key")
	}
}

func TestGetExpired(t *testing.T) {
	s := NewLRUStore(16)
	ctx := context.Background()
	Set(ctx, s, "k", payload{Name: "bob"}, time.Millisecond)
	time.Sleep(5 * time.Millisecond)
	_, ok := Get[payload](ctx, s, "k")
	if ok {
		t.Fatal("expected expired entry to be a miss")
	}
}

func TestBackendErrorsDegradeToMiss(t *testing.T) {
	s := &flakyStore{failGet: true, inner: NewLRUStore(16)}
	_, ok := Get[payload](context.Background(), s, "k")
	if ok {
		t.Fatal("backend error should be reported as a miss")
	}
}

func TestBackendErrorOnSetIsNotFatal(t *testing.T) {
	s := &flakyStore{failSet: true, inner: NewLRUStore(16)}
	if Set(context.Background(), s, "k", payload{Name: "x"}, time.Minute) {
		t.Fatal("Set should report false when backend fails")
	}
}

func TestCacheQueryMissFallsThroughToFn(t *testing.T) {
	s := NewLRUStore(16)
	ctx := context.Background()
	calls := 0
	fn := func(context.Context) (payload, error) {
		calls++
		return payload{Name: "computed"}, nil
	}

	got, err := CacheQuery(ctx, s, "q", QueryOptions{TTL: time.Minute}, fn)
	if err != nil || got.Name != "computed" || calls != 1 {
		t.Fatalf("first call: got=%+v err=%v calls=%d", got, err, calls)
	}

	got, err = CacheQuery(ctx, s, "q", QueryOptions{TTL: time.Minute}, fn)
	if err != nil || got.Name != "computed" || calls != 1 {
		t.Fatalf("second call should hit cache: got=%+v err=%v calls=%d", got, err, calls)
	}
}

func TestCacheQueryPropagatesFnError(t *testing.T) {
	s := NewLRUStore(16)
	wantErr := errors.New("origin failed")
	_, err := CacheQuery(context.Background(), s, "q", QueryOptions{}, func(context.Context) (payload, error) {
		return payload{}, wantErr
	})
	if !errors.Is(err, wantErr) {
		t.Fatalf("expected origin error to propagate, got %v", err)
	}
}

func TestCacheQuerySkipIfNullDoesNotCacheZeroValue(t *testing.T) {
	s := NewLRUStore(16)
	ctx := context.Background()
	calls := 0
	fn := func(context.Context) (*payload, error) {
		calls++
		return nil, nil
	}

	CacheQuery(ctx, s, "q", QueryOptions{SkipIfNull: true}, fn)
	CacheQuery(ctx, s, "q", QueryOptions{SkipIfNull: true}, fn)

	if calls != 2 {
		t.Fatalf("expected fn to run every time for a skipped nil result, got %d calls", calls)
	}
}

func TestCacheQueryBackendUnavailableStillReturnsLiveResult(t *testing.T) {
	s := &flakyStore{failGet: true, failSet: true, inner: NewLRUStore(16)}
	got, err := CacheQuery(context.Background(), s, "q", QueryOptions{TTL: time.Minute}, func(context.Context) (payload, error) {
		return payload{Name: "live"}, nil
	})
	if err != nil || got.Name != "live" {
		t.Fatalf("expected live result despite backend errors, got (%+v, %v)", got, err)
	}
}

func TestKeyBuildsStableOrder(t *testing.T) {
	if got, want := Key("model-config", "gpt-4"), "model-config:gpt-4"; got != want {
		t.Errorf("Key = %q, want %q", got, want)
	}
}

func TestHasAndDelete(t *testing.T) {
	s := NewLRUStore(16)
	ctx := context.Background()
	Set(ctx, s, "k", payload{Name: "x"}, 0)

	if !Has(ctx, s, "k") {
		t.Fatal("expected Has to report true after Set")
	}
	Delete(ctx, s, "k")
	if Has(ctx, s, "k") {
		t.Fatal("expected Has to report false after Delete")
	}
}

func TestLRUEvictsOldestBeyondCapacity(t *testing.T) {
	s := NewLRUStore(2)
	ctx := context.Background()
	Set(ctx, s, "a", payload{Name: "a"}, 0)
	Set(ctx, s, "b", payload{Name: "b"}, 0)
	Set(ctx, s, "c", payload{Name: "c"}, 0)

	if Has(ctx, s, "a") {
		t.Error("expected oldest entry to be evicted")
	}
	if !Has(ctx, s, "c") {
		t.Error("expected most recent entry to remain")
	}
}
