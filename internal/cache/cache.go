// Package cache is the namespaced TTL cache shared by all sessions.
package cache

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/cespare/xxhash/v2"
	"github.com/hashicorp/golang-lru/v2/simplelru"
	"github.com/rs/zerolog/log"
	"golang.org/x/sync/singleflight"

	"github.com/seanblong/notesearch/internal/textutil"
	"github.com/seanblong/notesearch/pkg/models"
)

// ErrCorrupt reports a stored value that cannot be decoded.
var ErrCorrupt = errors.New("cache entry corrupt")

type Namespace string

const (
	NamespaceQuery     Namespace = "query"
	NamespaceSynthesis Namespace = "synthesis"
)

const (
	DefaultQueryTTL     = 24 * time.Hour
	DefaultSynthesisTTL = time.Hour
	DefaultMaxEntries   = 10000
)

type Options struct {
	MaxEntries   int
	QueryTTL     time.Duration
	SynthesisTTL time.Duration
	// Now overrides the clock, mostly for tests.
	Now func() time.Time
}

type entry struct {
	value     json.RawMessage
	createdAt time.Time
	ttl       time.Duration
}

func (e entry) expired(now time.Time) bool {
	return now.Sub(e.createdAt) > e.ttl
}

// Layer is safe for concurrent use.
type Layer struct {
	mu    sync.Mutex
	lru   *simplelru.LRU[string, entry]
	max   int
	ttls  map[Namespace]time.Duration
	now   func() time.Time
	group singleflight.Group

	// nextExpiry is a lower bound on the earliest expiry of any stored
	// entry; zero when the cache is empty. No entry can be expired before it.
	nextExpiry time.Time
	purges     int
}

func New(opts Options) (*Layer, error) {
	if opts.MaxEntries <= 0 {
		opts.MaxEntries = DefaultMaxEntries
	}
	if opts.QueryTTL <= 0 {
		opts.QueryTTL = DefaultQueryTTL
	}
	if opts.SynthesisTTL <= 0 {
		opts.SynthesisTTL = DefaultSynthesisTTL
	}
	if opts.Now == nil {
		opts.Now = time.Now
	}
	l, err := simplelru.NewLRU[string, entry](opts.MaxEntries, nil)
	if err != nil {
		return nil, fmt.Errorf("create lru: %w", err)
	}
	return &Layer{
		lru: l,
		max: opts.MaxEntries,
		ttls: map[Namespace]time.Duration{
			NamespaceQuery:     opts.QueryTTL,
			NamespaceSynthesis: opts.SynthesisTTL,
		},
		now: opts.Now,
	}, nil
}

// KeyFor hashes the canonical query form of content under a namespace
// prefix. Case, spacing and trailing punctuation do not change the key.
func KeyFor(ns Namespace, content string) string {
	return fmt.Sprintf("%s:%016x", ns, xxhash.Sum64String(textutil.QueryKey(content)))
}

// TTL returns the configured lifetime for a namespace.
func (l *Layer) TTL(ns Namespace) time.Duration {
	return l.ttls[ns]
}

// TTLForKey returns the lifetime of the namespace encoded in key, falling
// back to the query TTL.
func (l *Layer) TTLForKey(key string) time.Duration {
	ns, _, _ := strings.Cut(key, ":")
	if d, ok := l.ttls[Namespace(ns)]; ok {
		return d
	}
	return l.ttls[NamespaceQuery]
}

// Get returns the raw value for key. Expired entries are removed.
func (l *Layer) Get(key string) (json.RawMessage, bool) {
	l.mu.Lock()
	defer l.mu.Unlock()

	e, ok := l.lru.Get(key)
	if !ok {
		return nil, false
	}
	if e.expired(l.now()) {
		l.lru.Remove(key)
		return nil, false
	}
	return e.value, true
}

// Put stores value as JSON. A non-positive ttl uses the key's namespace TTL.
func (l *Layer) Put(key string, value any, ttl time.Duration) error {
	raw, err := json.Marshal(value)
	if err != nil {
		return fmt.Errorf("encode cache value: %w", err)
	}
	if ttl <= 0 {
		ttl = l.TTLForKey(key)
	}
	l.mu.Lock()
	defer l.mu.Unlock()
	l.store(key, entry{value: raw, createdAt: l.now(), ttl: ttl})
	return nil
}

// store must be called with mu held.
func (l *Layer) store(key string, e entry) {
	if !l.lru.Contains(key) && l.lru.Len() >= l.max &&
		!l.nextExpiry.IsZero() && l.now().After(l.nextExpiry) {
		l.purgeExpired()
	}
	l.lru.Add(key, e)
	if exp := e.createdAt.Add(e.ttl); l.nextExpiry.IsZero() || exp.Before(l.nextExpiry) {
		l.nextExpiry = exp
	}
}

// purgeExpired drops every expired entry so LRU eviction only ever hits
// live entries, and recomputes nextExpiry from the survivors. store only
// calls it once something may have expired, so a full cache of live
// entries evicts without scanning.
func (l *Layer) purgeExpired() {
	l.purges++
	now := l.now()
	l.nextExpiry = time.Time{}
	for _, k := range l.lru.Keys() {
		e, ok := l.lru.Peek(k)
		if !ok {
			continue
		}
		if e.expired(now) {
			l.lru.Remove(k)
			continue
		}
		if exp := e.createdAt.Add(e.ttl); l.nextExpiry.IsZero() || exp.Before(l.nextExpiry) {
			l.nextExpiry = exp
		}
	}
}

func (l *Layer) Delete(key string) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.lru.Remove(key)
}

// Len counts stored entries, including expired ones not yet purged.
func (l *Layer) Len() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.lru.Len()
}

// Snapshot returns every unexpired entry, oldest access first.
func (l *Layer) Snapshot() []models.CacheEntry {
	l.mu.Lock()
	defer l.mu.Unlock()

	now := l.now()
	keys := l.lru.Keys()
	out := make([]models.CacheEntry, 0, len(keys))
	for _, k := range keys {
		e, ok := l.lru.Peek(k)
		if !ok || e.expired(now) {
			continue
		}
		out = append(out, models.CacheEntry{Key: k, Value: e.value, CreatedAt: e.createdAt, TTL: e.ttl})
	}
	return out
}

// Restore loads persisted entries, skipping expired ones. It returns the
// number restored.
func (l *Layer) Restore(entries []models.CacheEntry) int {
	l.mu.Lock()
	defer l.mu.Unlock()

	now := l.now()
	n := 0
	for _, ce := range entries {
		if ce.Expired(now) || !json.Valid(ce.Value) {
			continue
		}
		l.store(ce.Key, entry{value: ce.Value, createdAt: ce.CreatedAt, ttl: ce.TTL})
		n++
	}
	return n
}

// Lookup decodes the value stored at key into T. Undecodable entries are
// evicted and reported as a miss.
func Lookup[T any](l *Layer, key string) (T, bool) {
	var v T
	raw, ok := l.Get(key)
	if !ok {
		return v, false
	}
	if err := json.Unmarshal(raw, &v); err != nil {
		log.Warn().Err(fmt.Errorf("%w: %w", ErrCorrupt, err)).Str("key", key).Msg("evicting cache entry")
		l.Delete(key)
		var zero T
		return zero, false
	}
	return v, true
}

// GetOrCompute returns the cached value for key or runs fn once across
// concurrent callers and stores its result. hit reports a cache hit.
func GetOrCompute[T any](ctx context.Context, l *Layer, key string, ttl time.Duration, fn func(context.Context) (T, error)) (v T, hit bool, err error) {
	return GetOrComputeIf(ctx, l, key, ttl, fn, nil)
}

// GetOrComputeIf is GetOrCompute with a keep predicate: a computed value is
// only stored when keep is nil or returns true. Values computed under a
// cancelled context are never stored.
//
// The shared computation runs under the context of the caller that started
// it. A waiter whose own context is still live retries once when that
// computation fails with a context error.
func GetOrComputeIf[T any](ctx context.Context, l *Layer, key string, ttl time.Duration, fn func(context.Context) (T, error), keep func(T) bool) (v T, hit bool, err error) {
	var zero T
	for attempt := 0; ; attempt++ {
		if v, ok := Lookup[T](l, key); ok {
			return v, true, nil
		}
		ch := l.group.DoChan(key, func() (any, error) {
			if v, ok := Lookup[T](l, key); ok {
				return v, nil
			}
			v, err := fn(ctx)
			if err != nil {
				return v, err
			}
			if ctx.Err() == nil && (keep == nil || keep(v)) {
				if perr := l.Put(key, v, ttl); perr != nil {
					log.Warn().Err(perr).Str("key", key).Msg("cache store failed")
				}
			}
			return v, nil
		})

		var r singleflight.Result
		select {
		case r = <-ch:
		case <-ctx.Done():
			return zero, false, ctx.Err()
		}
		if r.Err == nil {
			return r.Val.(T), false, nil
		}
		if attempt == 0 && r.Shared && ctx.Err() == nil && isContextErr(r.Err) {
			log.Debug().Str("key", key).Msg("shared computation cancelled, retrying")
			continue
		}
		return zero, false, r.Err
	}
}

func isContextErr(err error) bool {
	return errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded)
}
