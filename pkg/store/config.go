package store

import "time"

// RedisOption configures RedisStore.
type RedisOption func(*RedisConfig)

// RedisConfig holds Redis configuration.
type RedisConfig struct {
	Host         string
	Port         int
	Password     string
	DB           int
	PoolSize     int
	PoolTimeout  time.Duration
	MinIdleConns int
	Prefix       string
	PingTimeout  time.Duration
}

// WithRedisHost sets Redis host.
func WithRedisHost(host string) RedisOption {
	return func(c *RedisConfig) {
		c.Host = host
	}
}

// WithRedisPort sets Redis port.
func WithRedisPort(port int) RedisOption {
	return func(c *RedisConfig) {
		c.Port = port
	}
}

// WithRedisPassword sets Redis password.
func WithRedisPassword(password string) RedisOption {
	return func(c *RedisConfig) {
		c.Password = password
	}
}

// WithRedisDB sets Redis database number.
func WithRedisDB(db int) RedisOption {
	return func(c *RedisConfig) {
		c.DB = db
	}
}

// WithRedisPool sets connection pool settings.
func WithRedisPool(poolSize, minIdleConns int, timeout time.Duration) RedisOption {
	return func(c *RedisConfig) {
		if poolSize > 0 {
			c.PoolSize = poolSize
		}
		if minIdleConns >= 0 {
			c.MinIdleConns = minIdleConns
		}
		if timeout > 0 {
			c.PoolTimeout = timeout
		}
	}
}

// WithRedisPrefix sets key prefix. An empty prefix leaves keys untouched.
func WithRedisPrefix(prefix string) RedisOption {
	return func(c *RedisConfig) {
		c.Prefix = prefix
	}
}

// WithPingTimeout bounds the startup connectivity check.
func WithPingTimeout(d time.Duration) RedisOption {
	return func(c *RedisConfig) {
		if d > 0 {
			c.PingTimeout = d
		}
	}
}
