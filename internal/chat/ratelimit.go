package chat

import "time"

// BucketConfig describes a token bucket: Capacity tokens, refilled by
// TokensPerInterval every Interval.
type BucketConfig struct {
	Capacity          int
	TokensPerInterval int
	Interval          time.Duration
}

// Bucket is the mutable state of one connection's token bucket. It is a plain
// value; Consume returns the next state instead of mutating in place.
type Bucket struct {
	Tokens     int
	LastRefill time.Time
}

// DefaultBucketConfig allows bursts of five messages refilled once a second.
func DefaultBucketConfig() BucketConfig {
	return BucketConfig{
		Capacity:          5,
		TokensPerInterval: 5,
		Interval:          time.Second,
	}
}

func (c BucketConfig) sanitized() BucketConfig {
	if c.Capacity <= 0 {
		c.Capacity = 1
	}
	if c.TokensPerInterval <= 0 {
		c.TokensPerInterval = c.Capacity
	}
	if c.Interval <= 0 {
		c.Interval = time.Second
	}
	return c
}

// Full returns a bucket holding Capacity tokens as of now.
func (c BucketConfig) Full(now time.Time) Bucket {
	c = c.sanitized()
	return Bucket{Tokens: c.Capacity, LastRefill: now}
}

// Consume refills b for the whole intervals elapsed since its last refill and
// then tries to take n tokens. LastRefill only advances by whole intervals so
// that a partial interval keeps counting toward the next refill.
func (c BucketConfig) Consume(b Bucket, now time.Time, n int) (Bucket, bool) {
	c = c.sanitized()
	if n <= 0 {
		n = 1
	}

	if elapsed := now.Sub(b.LastRefill); elapsed >= c.Interval {
		increments := int64(elapsed / c.Interval)
		added := increments * int64(c.TokensPerInterval)
		tokens := int64(b.Tokens) + added
		if tokens > int64(c.Capacity) {
			tokens = int64(c.Capacity)
		}
		b.Tokens = int(tokens)
		b.LastRefill = b.LastRefill.Add(time.Duration(increments) * c.Interval)
	}

	if b.Tokens < n {
		return b, false
	}
	b.Tokens -= n
	return b, true
}
