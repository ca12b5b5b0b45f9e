// Package redis connects to Redis with retries and exposes a health check.
//
// Connect parses REDIS_URL with github.com/redis/go-redis/v9 and pings the
// server until it answers or RetryAttempts run out. Config.Enabled reports
// whether a URL was provided, letting callers fall back to in-process stores.
package redis
