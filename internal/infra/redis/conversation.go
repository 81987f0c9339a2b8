// Package redis stores conversation states in Redis with optimistic locking.
package redis

import (
	"context"
	"encoding/json"
	"errors"
	"time"

	goredis "github.com/redis/go-redis/v9"

	chatdomain "github.com/boddenberg/facturedirect-bot-go/internal/chat/domain"
	"github.com/boddenberg/facturedirect-bot-go/internal/domain"
)

const keyPrefix = "conversation:"

// ConversationStore implements port.ConversationStore. Keys expire with the
// state's ExpiresAt, so Redis performs the expiry sweep on its own.
type ConversationStore struct {
	client *goredis.Client
	now    func() time.Time
}

// NewConversationStore wraps a connected client.
func NewConversationStore(client *goredis.Client) *ConversationStore {
	return &ConversationStore{client: client, now: time.Now}
}

// NewClient parses a redis:// URL and pings the server.
func NewClient(ctx context.Context, url string) (*goredis.Client, error) {
	opts, err := goredis.ParseURL(url)
	if err != nil {
		return nil, err
	}
	client := goredis.NewClient(opts)
	if err := client.Ping(ctx).Err(); err != nil {
		_ = client.Close()
		return nil, err
	}
	return client, nil
}

func (s *ConversationStore) Get(ctx context.Context, phone string) (*chatdomain.ConversationState, error) {
	val, err := s.client.Get(ctx, key(phone)).Bytes()
	if errors.Is(err, goredis.Nil) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	var st chatdomain.ConversationState
	if err := json.Unmarshal(val, &st); err != nil {
		return nil, err
	}
	if st.Expired(s.now()) {
		return nil, nil
	}
	return &st, nil
}

// Save creates with SET NX when Version is 0, otherwise runs a
// WATCH/MULTI/EXEC that checks the stored version first.
func (s *ConversationStore) Save(ctx context.Context, state *chatdomain.ConversationState) error {
	k := key(state.Phone)
	now := s.now()
	conflict := &domain.ErrVersionConflict{Resource: "conversation", ID: state.Phone}

	next := *state
	next.Version = state.Version + 1
	next.UpdatedAt = now
	if next.CreatedAt.IsZero() {
		next.CreatedAt = now
	}
	val, err := json.Marshal(&next)
	if err != nil {
		return err
	}
	ttl := s.ttl(state.ExpiresAt, now)

	if state.Version == 0 {
		ok, err := s.client.SetNX(ctx, k, val, ttl).Result()
		if err != nil {
			return err
		}
		if !ok {
			return conflict
		}
		*state = next
		return nil
	}

	err = s.client.Watch(ctx, func(tx *goredis.Tx) error {
		cur, err := tx.Get(ctx, k).Bytes()
		if errors.Is(err, goredis.Nil) {
			return conflict
		}
		if err != nil {
			return err
		}
		var stored chatdomain.ConversationState
		if err := json.Unmarshal(cur, &stored); err != nil {
			return err
		}
		if stored.Version != state.Version {
			return conflict
		}
		_, err = tx.TxPipelined(ctx, func(pipe goredis.Pipeliner) error {
			pipe.Set(ctx, k, val, ttl)
			return nil
		})
		return err
	}, k)
	if errors.Is(err, goredis.TxFailedErr) {
		return conflict
	}
	if err != nil {
		return err
	}
	*state = next
	return nil
}

func (s *ConversationStore) Delete(ctx context.Context, phone string) error {
	return s.client.Del(ctx, key(phone)).Err()
}

// DeleteExpired is a no-op: every key carries its own TTL.
func (s *ConversationStore) DeleteExpired(_ context.Context, _ time.Time) (int, error) {
	return 0, nil
}

// Ping checks connectivity, used by the readiness probe.
func (s *ConversationStore) Ping(ctx context.Context) error {
	return s.client.Ping(ctx).Err()
}

func (s *ConversationStore) ttl(expiresAt, now time.Time) time.Duration {
	if expiresAt.IsZero() {
		return 0
	}
	d := expiresAt.Sub(now)
	if d < time.Second {
		d = time.Second
	}
	return d
}

func key(phone string) string {
	return keyPrefix + phone
}
