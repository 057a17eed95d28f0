package hashfield

import "context"

// HGetAll returns every field of the hash at key, or ErrNoSuchKey.
func (l *Layer) HGetAll(ctx context.Context, key string) (Hash, error) {
	return withKey(ctx, l, key, func(c *call) (Hash, error) {
		h, ok, err := c.load(ctx, key)
		if err != nil {
			return nil, err
		}
		if !ok {
			return nil, noSuchKey(key)
		}
		return h, nil
	})
}

// HKeys returns the sorted field names of the hash at key. Unlike HGetAll,
// a missing key yields an empty slice rather than an error.
func (l *Layer) HKeys(ctx context.Context, key string) ([]string, error) {
	return withKey(ctx, l, key, func(c *call) ([]string, error) {
		h, _, err := c.load(ctx, key)
		if err != nil {
			return nil, err
		}
		return h.Fields(), nil
	})
}

// HLen returns the number of fields in the hash at key; 0 for a missing key.
func (l *Layer) HLen(ctx context.Context, key string) (int, error) {
	return withKey(ctx, l, key, func(c *call) (int, error) {
		h, _, err := c.load(ctx, key)
		if err != nil {
			return 0, err
		}
		return len(h), nil
	})
}
