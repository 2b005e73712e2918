package index

import (
	"context"

	"github.com/redis/go-redis/v9"
)

// RedisIndex mantém os conjuntos read-side de apostas por usuário e por
// mercado; usado só para enumeração (nenhum invariante depende dele)
type RedisIndex struct {
	Rdb *redis.Client
}

func NewRedisIndex(r *redis.Client) *RedisIndex { return &RedisIndex{Rdb: r} }

func userKey(userID string) string     { return "user_bets:" + userID }
func marketKey(marketID string) string { return "market_bets:" + marketID }

// Register adiciona o betID aos índices do usuário e do mercado
func (i *RedisIndex) Register(ctx context.Context, userID, marketID, betID string) error {
	if err := i.Rdb.SAdd(ctx, userKey(userID), betID).Err(); err != nil {
		return err
	}
	return i.Rdb.SAdd(ctx, marketKey(marketID), betID).Err()
}

// BetsForUser enumera as apostas registradas para o usuário
func (i *RedisIndex) BetsForUser(ctx context.Context, userID string) ([]string, error) {
	return i.Rdb.SMembers(ctx, userKey(userID)).Result()
}

// BetsForMarket enumera as apostas registradas para o mercado
func (i *RedisIndex) BetsForMarket(ctx context.Context, marketID string) ([]string, error) {
	return i.Rdb.SMembers(ctx, marketKey(marketID)).Result()
}
