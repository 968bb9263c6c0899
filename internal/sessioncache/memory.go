package sessioncache

import (
	"context"
	"sync"
	"time"
)

// MemoryCache is the in-memory Cache backend for single-instance
// deployments and tests (§4.5, §9). Grounded on the teacher's
// internal/login/session_manager.go: a mutex-guarded map with a
// background sweep removing entries older than their TTL
// (SessionManager.CleanExpired), generalized here to claims and join
// codes with per-entry expiry instead of one fixed session TTL.
type MemoryCache struct {
	mu        sync.Mutex
	claims    map[string]claimEntry
	joinCodes map[string]joinCodeEntry
	topics    map[string]*topic

	sweepStop chan struct{}
	sweepDone chan struct{}
}

type claimEntry struct {
	instance  InstanceID
	expiresAt time.Time
}

type joinCodeEntry struct {
	matchID   string
	expiresAt time.Time
}

// NewMemoryCache builds a MemoryCache with a background sweep goroutine
// that removes expired claims and join codes every interval.
func NewMemoryCache(sweepInterval time.Duration) *MemoryCache {
	if sweepInterval <= 0 {
		sweepInterval = 5 * time.Second
	}
	c := &MemoryCache{
		claims:    make(map[string]claimEntry),
		joinCodes: make(map[string]joinCodeEntry),
		topics:    make(map[string]*topic),
		sweepStop: make(chan struct{}),
		sweepDone: make(chan struct{}),
	}
	go c.sweepLoop(sweepInterval)
	return c
}

func (c *MemoryCache) sweepLoop(interval time.Duration) {
	defer close(c.sweepDone)
	t := time.NewTicker(interval)
	defer t.Stop()
	for {
		select {
		case <-c.sweepStop:
			return
		case <-t.C:
			c.sweepExpired(time.Now())
		}
	}
}

func (c *MemoryCache) sweepExpired(now time.Time) {
	c.mu.Lock()
	defer c.mu.Unlock()
	for id, e := range c.claims {
		if now.After(e.expiresAt) {
			delete(c.claims, id)
		}
	}
	for code, e := range c.joinCodes {
		if now.After(e.expiresAt) {
			delete(c.joinCodes, code)
		}
	}
}

// Close stops the sweep goroutine.
func (c *MemoryCache) Close() error {
	close(c.sweepStop)
	<-c.sweepDone
	return nil
}

func (c *MemoryCache) Claim(ctx context.Context, matchID string, instance InstanceID, lease time.Duration) (InstanceID, bool, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	now := time.Now()
	if e, ok := c.claims[matchID]; ok && now.Before(e.expiresAt) {
		return e.instance, e.instance == instance, nil
	}
	c.claims[matchID] = claimEntry{instance: instance, expiresAt: now.Add(lease)}
	return instance, true, nil
}

func (c *MemoryCache) RenewClaim(ctx context.Context, matchID string, instance InstanceID, lease time.Duration) (bool, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	e, ok := c.claims[matchID]
	if !ok || e.instance != instance || time.Now().After(e.expiresAt) {
		return false, nil
	}
	c.claims[matchID] = claimEntry{instance: instance, expiresAt: time.Now().Add(lease)}
	return true, nil
}

func (c *MemoryCache) Release(ctx context.Context, matchID string, instance InstanceID) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if e, ok := c.claims[matchID]; ok && e.instance == instance {
		delete(c.claims, matchID)
	}
	return nil
}

func (c *MemoryCache) Lookup(ctx context.Context, matchID string) (InstanceID, bool, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	e, ok := c.claims[matchID]
	if !ok || time.Now().After(e.expiresAt) {
		return "", false, nil
	}
	return e.instance, true, nil
}

func (c *MemoryCache) Publish(ctx context.Context, matchID string, payload []byte) error {
	c.mu.Lock()
	t, ok := c.topics[matchID]
	c.mu.Unlock()
	if !ok {
		return nil // nobody subscribed; nothing to deliver
	}
	t.publish(payload)
	return nil
}

func (c *MemoryCache) Subscribe(ctx context.Context, matchID string) (<-chan Message, func(), error) {
	c.mu.Lock()
	t, ok := c.topics[matchID]
	if !ok {
		t = newTopic(64)
		c.topics[matchID] = t
	}
	c.mu.Unlock()

	id, ch := t.subscribe()
	unsub := func() {
		t.unsubscribe(id)
		c.mu.Lock()
		if t.subscriberCount() == 0 {
			delete(c.topics, matchID)
		}
		c.mu.Unlock()
	}
	return ch, unsub, nil
}

func (c *MemoryCache) RegisterJoinCode(ctx context.Context, code, matchID string, ttl time.Duration) (bool, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if e, ok := c.joinCodes[code]; ok && time.Now().Before(e.expiresAt) {
		return e.matchID == matchID, nil
	}
	c.joinCodes[code] = joinCodeEntry{matchID: matchID, expiresAt: time.Now().Add(ttl)}
	return true, nil
}

func (c *MemoryCache) ResolveJoinCode(ctx context.Context, code string) (string, bool, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	e, ok := c.joinCodes[code]
	if !ok || time.Now().After(e.expiresAt) {
		return "", false, nil
	}
	return e.matchID, true, nil
}
