package checkout

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"

	"github.com/joao-fontenele/threadline/internal/domain"
)

// Session is the priced cart snapshot taken when the gateway order is created. Confirm
// builds the order from it, never from what the client sends back.
type Session struct {
	GatewayOrderID string             `json:"gateway_order_id"`
	OrderNumber    string             `json:"order_number"`
	CustomerID     string             `json:"customer_id"`
	Email          string             `json:"email"`
	Shipping       domain.Address     `json:"shipping"`
	Billing        domain.Address     `json:"billing"`
	Items          []domain.OrderItem `json:"items"`
	Totals         domain.Totals      `json:"totals"`
	Currency       string             `json:"currency"`
	DiscountCode   string             `json:"discount_code,omitempty"`
	CreatedAt      time.Time          `json:"created_at"`
}

// ErrLockHeld is returned when another confirmation holds the gateway order.
var ErrLockHeld = fmt.Errorf("%w: payment confirmation already in progress", domain.ErrConflict)

const (
	sessionKeyPrefix = "checkout:session:"
	lockKeyPrefix    = "checkout:lock:"
	lockRetryEvery   = 50 * time.Millisecond
)

// unlockScript deletes the lock only if it still holds our token.
var unlockScript = redis.NewScript(`
if redis.call("GET", KEYS[1]) == ARGV[1] then
	return redis.call("DEL", KEYS[1])
end
return 0
`)

type RedisSessionStore struct {
	client   redis.UniversalClient
	lockTTL  time.Duration
	lockWait time.Duration
}

func NewRedisSessionStore(client redis.UniversalClient, lockTTL, lockWait time.Duration) *RedisSessionStore {
	return &RedisSessionStore{client: client, lockTTL: lockTTL, lockWait: lockWait}
}

func (s *RedisSessionStore) Save(ctx context.Context, sess Session, ttl time.Duration) error {
	data, err := json.Marshal(sess)
	if err != nil {
		return err
	}
	if err := s.client.Set(ctx, sessionKeyPrefix+sess.GatewayOrderID, data, ttl).Err(); err != nil {
		return fmt.Errorf("%w: save checkout session: %v", domain.ErrUpstream, err)
	}
	return nil
}

// Load returns nil when the session expired or never existed.
func (s *RedisSessionStore) Load(ctx context.Context, gatewayOrderID string) (*Session, error) {
	data, err := s.client.Get(ctx, sessionKeyPrefix+gatewayOrderID).Bytes()
	if errors.Is(err, redis.Nil) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("%w: load checkout session: %v", domain.ErrUpstream, err)
	}

	var sess Session
	if err := json.Unmarshal(data, &sess); err != nil {
		return nil, fmt.Errorf("decode checkout session: %w", err)
	}
	return &sess, nil
}

func (s *RedisSessionStore) Delete(ctx context.Context, gatewayOrderID string) error {
	return s.client.Del(ctx, sessionKeyPrefix+gatewayOrderID).Err()
}

// Lock takes a short exclusive lock on the gateway order, waiting up to lockWait for a
// concurrent holder. The lock expires on its own after lockTTL.
func (s *RedisSessionStore) Lock(ctx context.Context, gatewayOrderID string) (func(), error) {
	key := lockKeyPrefix + gatewayOrderID
	token := uuid.NewString()
	deadline := time.Now().Add(s.lockWait)

	for {
		ok, err := s.client.SetNX(ctx, key, token, s.lockTTL).Result()
		if err != nil {
			return nil, fmt.Errorf("%w: acquire checkout lock: %v", domain.ErrUpstream, err)
		}
		if ok {
			break
		}
		if time.Now().After(deadline) {
			return nil, ErrLockHeld
		}

		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-time.After(lockRetryEvery):
		}
	}

	unlock := func() {
		_ = unlockScript.Run(context.WithoutCancel(ctx), s.client, []string{key}, token).Err()
	}
	return unlock, nil
}
