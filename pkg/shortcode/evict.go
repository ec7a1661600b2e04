package shortcode

import (
	"errors"
	"log/slog"
	"math"
	"time"
)

// maxTTLSeconds is the longest TTL a time.Duration can hold. Any age fits
// within a longer one.
const maxTTLSeconds = math.MaxInt64 / int64(time.Second)

// Expired reports whether an entry of the given age has outlived ttlSeconds.
// A ttlSeconds of zero or less never expires, and an age equal to the TTL has
// not expired yet.
func Expired(age time.Duration, ttlSeconds int) bool {
	if ttlSeconds <= 0 || int64(ttlSeconds) > maxTTLSeconds {
		return false
	}
	return age > time.Duration(ttlSeconds)*time.Second
}

// Decision is the outcome of checking a cache entry against its time-to-live.
type Decision int

const (
	// Absent means there is no entry; compute and store.
	Absent Decision = iota
	// Keep means the entry is fresh and may be served.
	Keep
	// Evicted means the entry had expired and was removed; compute and store.
	Evicted
	// Stale means the entry had expired but could not be removed. It is served
	// once more rather than failing the request.
	Stale
)

func (d Decision) String() string {
	switch d {
	case Keep:
		return "keep"
	case Evicted:
		return "evicted"
	case Stale:
		return "stale"
	default:
		return "absent"
	}
}

// Servable reports whether the entry should be read from the store.
func (d Decision) Servable() bool {
	return d == Keep || d == Stale
}

// Policy decides lazily, on access, whether a cached fragment is still valid.
type Policy struct {
	store  *Store
	now    func() time.Time
	logger *slog.Logger
}

// NewPolicy returns a Policy over store. A nil clock means time.Now.
func NewPolicy(store *Store, now func() time.Time, logger *slog.Logger) *Policy {
	if now == nil {
		now = time.Now
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Policy{store: store, now: now, logger: logger}
}

// Evaluate checks the entry for key against ttlSeconds and removes it when it
// has outlived the TTL. A ttlSeconds of zero or less never expires. An entry
// exactly ttlSeconds old is still kept.
func (p *Policy) Evaluate(key string, ttlSeconds int) Decision {
	if !p.store.Exists(key) {
		return Absent
	}
	if ttlSeconds <= 0 {
		return Keep
	}

	created, err := p.store.Created(key)
	if err != nil {
		if errors.Is(err, ErrNotFound) {
			return Absent
		}
		// Without an age the entry cannot be proven stale.
		p.logger.Warn("Failed to read fragment age, keeping entry", "key", key, "error", err)
		return Keep
	}

	age := p.now().Sub(created)
	if !Expired(age, ttlSeconds) {
		return Keep
	}

	existed, err := p.store.Remove(key)
	if err != nil {
		p.logger.Warn("Failed to evict expired fragment, serving it stale", "key", key, "age", age, "error", err)
		return Stale
	}
	if !existed {
		// Someone else evicted it first.
		return Absent
	}
	p.logger.Debug("Evicted expired fragment", "key", key, "age", age, "ttl", ttlSeconds)
	return Evicted
}

// ShouldEvict is Evaluate reduced to a yes/no answer: true when the entry was
// expired and has been removed.
func (p *Policy) ShouldEvict(key string, ttlSeconds int) bool {
	return p.Evaluate(key, ttlSeconds) == Evicted
}
