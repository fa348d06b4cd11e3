package identity

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/cuemby/faultbridge/pkg/metrics"
	"github.com/cuemby/faultbridge/pkg/types"
	"github.com/golang/groupcache/lru"
	"golang.org/x/sync/singleflight"
)

// Separator splits a composite key into namespace and local id
const Separator = "~"

const (
	DefaultTTL           = 3 * time.Minute
	DefaultMaxEntries    = 10000
	DefaultLookupTimeout = 10 * time.Second
)

// Status is the outcome of a resolution
type Status int

const (
	StatusFound Status = iota + 1
	StatusNotFound
	StatusInvalidKey
)

func (s Status) String() string {
	switch s {
	case StatusFound:
		return "found"
	case StatusNotFound:
		return "not_found"
	case StatusInvalidKey:
		return "invalid_key"
	default:
		return "unknown"
	}
}

// Result carries either a resolved DeviceID or the reason there is none
type Result struct {
	Status Status
	ID     types.DeviceID
}

// Found reports whether the key resolved
func (r Result) Found() bool {
	return r.Status == StatusFound
}

// Directory is the backing source of device identities
type Directory interface {
	LookupByCompositeKey(ctx context.Context, namespace, localID string) (types.DeviceID, bool, error)
	LookupByAddress(ctx context.Context, addr string) (types.DeviceID, bool, error)
}

// Config tunes the cache
type Config struct {
	TTL        time.Duration
	MaxEntries int
	// LookupTimeout bounds one shared directory call. The call does not
	// inherit the cancellation of whichever caller started it.
	LookupTimeout time.Duration
	Now           func() time.Time
}

type entry struct {
	id         types.DeviceID
	insertedAt time.Time
}

// Cache resolves keys to device identities. Successful lookups are kept
// for TTL; the cache holds at most MaxEntries, evicting least recently used
// entries first. Concurrent misses on one key share a single lookup.
type Cache struct {
	dir           Directory
	ttl           time.Duration
	lookupTimeout time.Duration
	now           func() time.Time

	mu       sync.Mutex
	entries  *lru.Cache
	expiring bool

	group singleflight.Group
}

// New creates a cache in front of dir
func New(dir Directory, cfg Config) *Cache {
	if cfg.TTL <= 0 {
		cfg.TTL = DefaultTTL
	}
	if cfg.MaxEntries <= 0 {
		cfg.MaxEntries = DefaultMaxEntries
	}
	if cfg.LookupTimeout <= 0 {
		cfg.LookupTimeout = DefaultLookupTimeout
	}
	if cfg.Now == nil {
		cfg.Now = time.Now
	}

	c := &Cache{
		dir:           dir,
		ttl:           cfg.TTL,
		lookupTimeout: cfg.LookupTimeout,
		now:           cfg.Now,
		entries:       lru.New(cfg.MaxEntries),
	}
	c.entries.OnEvicted = func(lru.Key, interface{}) {
		if !c.expiring {
			metrics.CacheEvictions.Inc()
		}
	}
	return c
}

// Resolve maps a key to a device identity. A key is either
// "<namespace>~<localId>" or a bare address; anything else is reported as
// StatusInvalidKey without touching the directory. The error return is
// reserved for directory failures.
func (c *Cache) Resolve(ctx context.Context, key string) (Result, error) {
	parts := strings.Split(key, Separator)
	if !validKey(parts) {
		return Result{Status: StatusInvalidKey}, nil
	}

	if id, ok := c.get(key); ok {
		metrics.CacheLookups.WithLabelValues("hit").Inc()
		return Result{Status: StatusFound, ID: id}, nil
	}
	metrics.CacheLookups.WithLabelValues("miss").Inc()

	ch := c.group.DoChan(key, func() (interface{}, error) {
		// a flight that finished just before this one may have filled it
		if id, ok := c.get(key); ok {
			return Result{Status: StatusFound, ID: id}, nil
		}

		lctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), c.lookupTimeout)
		defer cancel()
		res, err := c.lookup(lctx, parts)
		if err != nil {
			metrics.DirectoryLookups.WithLabelValues("error").Inc()
			return nil, err
		}
		metrics.DirectoryLookups.WithLabelValues(res.Status.String()).Inc()
		if res.Found() {
			c.put(key, res.ID)
		}
		return res, nil
	})

	select {
	case r := <-ch:
		if r.Err != nil {
			return Result{}, fmt.Errorf("directory lookup for %q failed: %w", key, r.Err)
		}
		return r.Val.(Result), nil
	case <-ctx.Done():
		return Result{}, ctx.Err()
	}
}

// Len returns the number of cached entries, expired ones included
func (c *Cache) Len() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.entries.Len()
}

// Purge drops every cached entry
func (c *Cache) Purge() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.expiring = true
	c.entries.Clear()
	c.expiring = false
}

func validKey(parts []string) bool {
	switch len(parts) {
	case 1:
		return parts[0] != ""
	case 2:
		return parts[0] != "" && parts[1] != ""
	default:
		return false
	}
}

func (c *Cache) lookup(ctx context.Context, parts []string) (Result, error) {
	var (
		id    types.DeviceID
		found bool
		err   error
	)
	if len(parts) == 2 {
		id, found, err = c.dir.LookupByCompositeKey(ctx, parts[0], parts[1])
	} else {
		id, found, err = c.dir.LookupByAddress(ctx, parts[0])
	}
	if err != nil {
		return Result{}, err
	}
	if !found {
		return Result{Status: StatusNotFound}, nil
	}
	return Result{Status: StatusFound, ID: id}, nil
}

func (c *Cache) get(key string) (types.DeviceID, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()

	v, ok := c.entries.Get(key)
	if !ok {
		return types.DeviceID{}, false
	}
	e := v.(entry)
	if c.now().Sub(e.insertedAt) >= c.ttl {
		c.expiring = true
		c.entries.Remove(key)
		c.expiring = false
		return types.DeviceID{}, false
	}
	return e.id, true
}

func (c *Cache) put(key string, id types.DeviceID) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.entries.Add(key, entry{id: id, insertedAt: c.now()})
}
