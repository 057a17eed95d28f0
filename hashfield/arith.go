package hashfield

import (
	"context"
	"fmt"
)

// incrBy is hexists, then hget, then hset. An absent field counts as 0.
func (c *call) incrBy(ctx context.Context, key, field string, delta float64, name EventName) (float64, error) {
	exists, err := c.hexists(ctx, key, field)
	if err != nil {
		return 0, err
	}
	current := Number(0)
	if exists {
		if current, err = c.hget(ctx, key, field); err != nil {
			return 0, err
		}
	}
	n, ok := current.Float()
	if !ok {
		return 0, fmt.Errorf("%w: %q in %q holds %s", ErrNotNumber, field, key, current.Kind())
	}
	res, err := c.hset(ctx, key, field, Number(n+delta))
	if err != nil {
		return 0, err
	}
	c.emit(name, key, field, res.Value)
	return n + delta, nil
}

func (l *Layer) arith(ctx context.Context, key, field string, delta float64, name EventName) (float64, error) {
	return withKey(ctx, l, key, func(c *call) (float64, error) {
		return c.incrBy(ctx, key, field, delta, name)
	})
}

// HIncr adds 1 to field and returns the new value. It emits hset followed
// by hincr.
func (l *Layer) HIncr(ctx context.Context, key, field string) (float64, error) {
	return l.arith(ctx, key, field, 1, EventHIncr)
}

// HIncrBy adds delta to field. Numeric strings such as "12" or "3.5kg" are
// read by their leading number; other values fail with ErrNotNumber.
func (l *Layer) HIncrBy(ctx context.Context, key, field string, delta float64) (float64, error) {
	return l.arith(ctx, key, field, delta, EventHIncr)
}

// HIncrByFloat is HIncrBy; integer and float deltas are handled alike.
func (l *Layer) HIncrByFloat(ctx context.Context, key, field string, delta float64) (float64, error) {
	return l.HIncrBy(ctx, key, field, delta)
}

// HDecr subtracts 1 from field and emits hdecr.
func (l *Layer) HDecr(ctx context.Context, key, field string) (float64, error) {
	return l.arith(ctx, key, field, -1, EventHDecr)
}

// HDecrBy subtracts delta from field. It emits hdecr; older releases
// emitted hincr here, so observers keyed on that name must be updated.
func (l *Layer) HDecrBy(ctx context.Context, key, field string, delta float64) (float64, error) {
	return l.arith(ctx, key, field, -delta, EventHDecr)
}

// HDecrByFloat is HDecrBy.
func (l *Layer) HDecrByFloat(ctx context.Context, key, field string, delta float64) (float64, error) {
	return l.HDecrBy(ctx, key, field, delta)
}
