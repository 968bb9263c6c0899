package sessioncache

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
)

// RedisCache is the fleet-wide Cache backend (§4.5, §9). Grounded on the
// pack's Redis position-repository idiom (other_examples
// annel0-mmo-game redis_position_repo.go: key-prefixed values, pipelines,
// TTL'd keys) adapted from go-redis/v8 to go-redis/v9 and from position
// storage to match-ownership claims, cross-instance pub/sub, and
// join-code registration.
type RedisCache struct {
	client    *redis.Client
	keyPrefix string
}

const (
	claimKeyPrefix    = "claim:"
	joinCodeKeyPrefix = "joincode:"
	channelPrefix     = "match-events:"
)

// releaseScript deletes the claim key only if it still holds this
// instance's value — a compare-and-delete, since a plain DEL would also
// remove a claim some other instance acquired after this one's lease
// expired.
var releaseScript = redis.NewScript(`
if redis.call("GET", KEYS[1]) == ARGV[1] then
	return redis.call("DEL", KEYS[1])
else
	return 0
end
`)

// NewRedisCache dials addr and verifies connectivity with a PING.
func NewRedisCache(ctx context.Context, addr, password string, db int, keyPrefix string) (*RedisCache, error) {
	client := redis.NewClient(&redis.Options{
		Addr:     addr,
		Password: password,
		DB:       db,
	})
	if err := client.Ping(ctx).Err(); err != nil {
		return nil, fmt.Errorf("connecting to redis: %w", err)
	}
	return &RedisCache{client: client, keyPrefix: keyPrefix}, nil
}

func (c *RedisCache) claimKey(matchID string) string {
	return c.keyPrefix + claimKeyPrefix + matchID
}

func (c *RedisCache) joinCodeKey(code string) string {
	return c.keyPrefix + joinCodeKeyPrefix + code
}

func (c *RedisCache) channel(matchID string) string {
	return c.keyPrefix + channelPrefix + matchID
}

func (c *RedisCache) Claim(ctx context.Context, matchID string, instance InstanceID, lease time.Duration) (InstanceID, bool, error) {
	ok, err := c.client.SetNX(ctx, c.claimKey(matchID), string(instance), lease).Result()
	if err != nil {
		return "", false, fmt.Errorf("claiming match %s: %w", matchID, err)
	}
	if ok {
		return instance, true, nil
	}
	owner, found, err := c.Lookup(ctx, matchID)
	if err != nil {
		return "", false, err
	}
	if !found {
		// the key expired between our SETNX failing and our GET; report
		// it as not claimed (no owner) and do not retry here.
		return "", false, nil
	}
	return owner, owner == instance, nil
}

func (c *RedisCache) RenewClaim(ctx context.Context, matchID string, instance InstanceID, lease time.Duration) (bool, error) {
	owner, found, err := c.Lookup(ctx, matchID)
	if err != nil {
		return false, err
	}
	if !found || owner != instance {
		return false, nil
	}
	if err := c.client.Expire(ctx, c.claimKey(matchID), lease).Err(); err != nil {
		return false, fmt.Errorf("renewing claim for %s: %w", matchID, err)
	}
	return true, nil
}

func (c *RedisCache) Release(ctx context.Context, matchID string, instance InstanceID) error {
	if err := releaseScript.Run(ctx, c.client, []string{c.claimKey(matchID)}, string(instance)).Err(); err != nil && !errors.Is(err, redis.Nil) {
		return fmt.Errorf("releasing claim for %s: %w", matchID, err)
	}
	return nil
}

func (c *RedisCache) Lookup(ctx context.Context, matchID string) (InstanceID, bool, error) {
	val, err := c.client.Get(ctx, c.claimKey(matchID)).Result()
	if errors.Is(err, redis.Nil) {
		return "", false, nil
	}
	if err != nil {
		return "", false, fmt.Errorf("looking up claim for %s: %w", matchID, err)
	}
	return InstanceID(val), true, nil
}

func (c *RedisCache) Publish(ctx context.Context, matchID string, payload []byte) error {
	if err := c.client.Publish(ctx, c.channel(matchID), payload).Err(); err != nil {
		return fmt.Errorf("publishing to %s: %w", matchID, err)
	}
	return nil
}

// Subscribe wraps go-redis's PubSub in a locally-buffered channel: a
// slow consumer would otherwise stall PubSub's own internal read loop
// for every other subscriber of the same connection, so a full local
// buffer is drained one slot and replaced with a Lagged marker instead
// of blocking the delivery goroutine.
func (c *RedisCache) Subscribe(ctx context.Context, matchID string) (<-chan Message, func(), error) {
	ps := c.client.Subscribe(ctx, c.channel(matchID))
	if _, err := ps.Receive(ctx); err != nil {
		_ = ps.Close()
		return nil, nil, fmt.Errorf("subscribing to %s: %w", matchID, err)
	}

	out := make(chan Message, 64)
	redisCh := ps.Channel()
	done := make(chan struct{})

	go func() {
		defer close(out)
		for {
			select {
			case <-done:
				return
			case msg, ok := <-redisCh:
				if !ok {
					return
				}
				select {
				case out <- Message{Payload: []byte(msg.Payload)}:
				default:
					select {
					case <-out:
					default:
					}
					select {
					case out <- Message{Lagged: true}:
					default:
					}
				}
			}
		}
	}()

	unsub := func() {
		close(done)
		_ = ps.Close()
	}
	return out, unsub, nil
}

func (c *RedisCache) RegisterJoinCode(ctx context.Context, code, matchID string, ttl time.Duration) (bool, error) {
	ok, err := c.client.SetNX(ctx, c.joinCodeKey(code), matchID, ttl).Result()
	if err != nil {
		return false, fmt.Errorf("registering join code %s: %w", code, err)
	}
	if ok {
		return true, nil
	}
	existing, found, err := c.ResolveJoinCode(ctx, code)
	if err != nil {
		return false, err
	}
	return found && existing == matchID, nil
}

func (c *RedisCache) ResolveJoinCode(ctx context.Context, code string) (string, bool, error) {
	val, err := c.client.Get(ctx, c.joinCodeKey(code)).Result()
	if errors.Is(err, redis.Nil) {
		return "", false, nil
	}
	if err != nil {
		return "", false, fmt.Errorf("resolving join code %s: %w", code, err)
	}
	return val, true, nil
}

func (c *RedisCache) Close() error {
	return c.client.Close()
}
