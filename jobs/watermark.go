package jobs

import (
	"context"
	"errors"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/onemanvan/fsm/internal/shared"
)

// advanceScript moves the watermark forward only; it returns 1 when it moved.
var advanceScript = redis.NewScript(`
local current = redis.call('GET', KEYS[1])
if current and tonumber(current) >= tonumber(ARGV[1]) then
	return 0
end
redis.call('SET', KEYS[1], ARGV[1])
return 1
`)

// Watermark stores the last completed tick of each scheduler pass.
type Watermark struct {
	client *redis.Client
}

// NewWatermark builds a Watermark. A nil client disables it: every tick is due.
func NewWatermark(client *redis.Client) *Watermark {
	return &Watermark{client: client}
}

// Last returns the last recorded tick, zero when none.
func (w *Watermark) Last(ctx context.Context, pass string) (time.Time, error) {
	if w == nil || w.client == nil {
		return time.Time{}, nil
	}
	v, err := w.client.Get(ctx, shared.WatermarkKey(pass)).Int64()
	if errors.Is(err, redis.Nil) {
		return time.Time{}, nil
	}
	if err != nil {
		return time.Time{}, err
	}
	return time.Unix(v, 0).UTC(), nil
}

// Due reports whether tick is newer than the recorded watermark.
func (w *Watermark) Due(ctx context.Context, pass string, tick time.Time) (bool, error) {
	last, err := w.Last(ctx, pass)
	if err != nil {
		return false, err
	}
	return last.IsZero() || tick.After(last), nil
}

// Advance records tick unless a newer or equal tick is already stored.
func (w *Watermark) Advance(ctx context.Context, pass string, tick time.Time) (bool, error) {
	if w == nil || w.client == nil {
		return true, nil
	}
	moved, err := advanceScript.Run(ctx, w.client, []string{shared.WatermarkKey(pass)}, tick.Unix()).Int()
	if err != nil {
		return false, err
	}
	return moved == 1, nil
}
