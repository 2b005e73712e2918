package odds

import (
	"context"
	"errors"
	"fmt"

	"github.com/redis/go-redis/v9"
	"github.com/shopspring/decimal"
)

var (
	ErrPriceUnavailable = errors.New("odds price unavailable")
	ErrAlreadyLocked    = errors.New("odds already locked for bet")
)

// Client consome o contrato do mercado de odds: leitura de preço corrente
// e lock/unlock por aposta. O serviço de precificação mantém a chave
// "odds:{eventID}:{market}:{selection}" com a odd corrente, ex: "1.85".
type Client struct {
	Rdb *redis.Client
}

func NewClient(r *redis.Client) *Client { return &Client{Rdb: r} }

func priceKey(sportEventID, marketID, selectionID string) string {
	return fmt.Sprintf("odds:%s:%s:%s", sportEventID, marketID, selectionID)
}

func lockKey(betID string) string { return "oddslock:" + betID }

// GetCurrentPrice lê a odd corrente da seleção
func (c *Client) GetCurrentPrice(ctx context.Context, sportEventID, marketID, selectionID string) (decimal.Decimal, error) {
	val, err := c.Rdb.Get(ctx, priceKey(sportEventID, marketID, selectionID)).Result()
	if err == redis.Nil {
		return decimal.Zero, ErrPriceUnavailable
	}
	if err != nil {
		return decimal.Zero, err
	}
	price, err := decimal.NewFromString(val)
	if err != nil {
		return decimal.Zero, fmt.Errorf("parse odds %q: %w", val, err)
	}
	return price, nil
}

// LockForBet trava o preço para a aposta; falha se já houver lock para o betID
func (c *Client) LockForBet(ctx context.Context, betID, selectionID string) error {
	ok, err := c.Rdb.SetNX(ctx, lockKey(betID), selectionID, 0).Result()
	if err != nil {
		return err
	}
	if !ok {
		return ErrAlreadyLocked
	}
	return nil
}

// Unlock remove o lock da aposta; no-op se não existir
func (c *Client) Unlock(ctx context.Context, betID string) error {
	return c.Rdb.Del(ctx, lockKey(betID)).Err()
}
