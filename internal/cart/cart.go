// Package cart stores checkout carts in redis as JSON snapshots keyed by a
// client-held reference.
package cart

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/redis/go-redis/v9"

	"github.com/owlsmarket/order-core/internal/apperr"
	"github.com/owlsmarket/order-core/internal/ports"
	"github.com/owlsmarket/order-core/internal/redisx"
)

type Store struct {
	Redis *redis.Client
}

func (s *Store) GetCart(ctx context.Context, ref string) ([]ports.CartItem, error) {
	raw, err := s.Redis.Get(ctx, fmt.Sprintf(redisx.KeyCart, ref)).Result()
	if errors.Is(err, redis.Nil) {
		return nil, apperr.Validationf("cart %s not found or expired", ref)
	}
	if err != nil {
		return nil, err
	}
	var items []ports.CartItem
	if err := json.Unmarshal([]byte(raw), &items); err != nil {
		return nil, fmt.Errorf("decode cart %s: %w", ref, err)
	}
	return items, nil
}

func (s *Store) SaveCart(ctx context.Context, ref string, items []ports.CartItem) error {
	b, err := json.Marshal(items)
	if err != nil {
		return err
	}
	return s.Redis.Set(ctx, fmt.Sprintf(redisx.KeyCart, ref), b, redisx.TTLCart).Err()
}

func (s *Store) ClearCart(ctx context.Context, ref string) error {
	return s.Redis.Del(ctx, fmt.Sprintf(redisx.KeyCart, ref)).Err()
}
