// Package ratelimiter implements a token bucket rate limiter with pluggable
// storage and HTTP middleware.
//
// A Bucket holds the limits (Capacity tokens, refilled by RefillRate every
// RefillInterval) and delegates accounting to a Store:
//
//   - MemoryStore keeps buckets in process and evicts idle ones on an interval.
//   - RedisStore keeps buckets in Redis, updated atomically by a Lua script, so
//     that several instances share one limit.
//
// # Usage
//
//	bucket, err := ratelimiter.NewBucket(ratelimiter.NewMemoryStore(), cfg)
//	if err != nil {
//	    return err
//	}
//	r.Use(ratelimiter.Middleware(bucket,
//	    ratelimiter.Composite(ratelimiter.Static("coupons"), userKey),
//	    ratelimiter.WithDeniedHandler(tooManyRequests),
//	))
//
// The middleware sets X-RateLimit-* headers on every response and Retry-After
// on denials. A store failure goes to the error handler instead of letting the
// request through.
package ratelimiter
