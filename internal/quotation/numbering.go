package quotation

import (
	"context"
	"fmt"
	"log/slog"
	"math/rand/v2"
	"time"

	"github.com/redis/go-redis/v9"
)

// NumberGenerator issues human-readable quotation numbers.
type NumberGenerator interface {
	Next(ctx context.Context, at time.Time) (string, error)
}

const sequenceKeyPrefix = "rfq:quotation:seq:"

// RedisNumberer draws QT-{year}-{6 digits} numbers from a per-year redis counter. When redis is
// unreachable it falls back to a random suffix, so numbers are unique in practice but not
// guaranteed collision-free.
type RedisNumberer struct {
	client *redis.Client
	logger *slog.Logger
}

// NewRedisNumberer builds a numberer. client may be nil to always use random suffixes.
func NewRedisNumberer(client *redis.Client, logger *slog.Logger) *RedisNumberer {
	if logger == nil {
		logger = slog.Default()
	}
	return &RedisNumberer{client: client, logger: logger}
}

// Next returns the next number for the year of at.
func (n *RedisNumberer) Next(ctx context.Context, at time.Time) (string, error) {
	year := at.Year()
	if n.client != nil {
		seq, err := n.client.Incr(ctx, fmt.Sprintf("%s%d", sequenceKeyPrefix, year)).Result()
		if err == nil {
			return FormatNumber(year, seq), nil
		}
		n.logger.Warn("quotation sequence unavailable, using random suffix", slog.Any("error", err))
	}
	return FormatNumber(year, rand.Int64N(1_000_000)), nil
}

// FormatNumber renders a quotation number. Sequences past six digits wrap.
func FormatNumber(year int, seq int64) string {
	return fmt.Sprintf("QT-%d-%06d", year, seq%1_000_000)
}
