// Package cacheshim is the core's generic cache-through layer. It exposes
// the get/set/delete/has/cacheQuery surface the rest of the core is built
// against, backed by an interchangeable Store (Redis or in-process LRU).
//
// Every helper here treats a backend error as if the cache were absent: it
// never fails the caller, it just falls through to the origin function (for
// CacheQuery) or reports a miss (for Get). Only a caller's own fn error
// propagates.
package cacheshim

import (
	"context"
	"encoding/json"
	"reflect"
	"strings"
	"time"
)

// Store is the raw byte-oriented backend a cache tier must implement.
// Get's bool return reports whether the key was present; an error means the
// backend itself failed (connection refused, timeout) — not a cache miss.
type Store interface {
	Get(ctx context.Context, key string) ([]byte, bool, error)
	Set(ctx context.Context, key string, value []byte, ttl time.Duration) error
	Delete(ctx context.Context, key string) error
	Has(ctx context.Context, key string) (bool, error)
}

// Key builds a cache key from ordered parts, e.g. Key("model-config", id).
func Key(parts ...string) string {
	return strings.Join(parts, ":")
}

// Get reads and JSON-decodes a value of type T. A backend error or a
// decode failure is reported as a plain miss, matching the degrade-as-absent
// contract — callers never see the difference between "not cached" and
// "cache unavailable".
func Get[T any](ctx context.Context, s Store, key string) (T, bool) {
	var zero T
	if s == nil {
		return zero, false
	}
	raw, ok, err := s.Get(ctx, key)
	if err != nil || !ok {
		return zero, false
	}
	var v T
	if err := json.Unmarshal(raw, &v); err != nil {
		return zero, false
	}
	return v, true
}

// Set JSON-encodes and writes value under key with the given ttl (zero means
// no expiry). It reports whether the write succeeded; a failure here is
// never fatal to the caller, it just means the next read is a miss.
func Set[T any](ctx context.Context, s Store, key string, value T, ttl time.Duration) bool {
	if s == nil {
		return false
	}
	raw, err := json.Marshal(value)
	if err != nil {
		return false
	}
	return s.Set(ctx, key, raw, ttl) == nil
}

// Delete removes key. Backend errors are swallowed — deletion is
// best-effort cleanup, not a correctness requirement.
func Delete(ctx context.Context, s Store, key string) {
	if s == nil {
		return
	}
	_ = s.Delete(ctx, key)
}

// Has reports whether key is present, treating backend errors as absent.
func Has(ctx context.Context, s Store, key string) bool {
	if s == nil {
		return false
	}
	ok, err := s.Has(ctx, key)
	return err == nil && ok
}

// QueryOptions configures CacheQuery.
type QueryOptions struct {
	// TTL is the duration to cache fn's result for. Zero means no expiry.
	TTL time.Duration
	// SkipIfNull, when true, does not cache a zero/nil result from fn.
	SkipIfNull bool
}

// CacheQuery reads key first; on a miss (or cache unavailable) it calls fn,
// and — unless the result is nil/zero and SkipIfNull is set — writes the
// result back under key with the configured ttl before returning it. Cache
// backend errors never surface to the caller: the worst case is an extra
// call to fn.
func CacheQuery[T any](ctx context.Context, s Store, key string, opts QueryOptions, fn func(context.Context) (T, error)) (T, error) {
	if v, ok := Get[T](ctx, s, key); ok {
		return v, nil
	}
	result, err := fn(ctx)
	if err != nil {
		var zero T
		return zero, err
	}
	if !opts.SkipIfNull || !isNilOrZero(result) {
		Set(ctx, s, key, result, opts.TTL)
	}
	return result, nil
}

func isNilOrZero(v any) bool {
	rv := reflect.ValueOf(v)
	switch rv.Kind() {
	case reflect.Ptr, reflect.Slice, reflect.Map, reflect.Interface, reflect.Chan, reflect.Func:
		return rv.IsNil()
	case reflect.Invalid:
		return true
	default:
		return rv.IsZero()
	}
}
