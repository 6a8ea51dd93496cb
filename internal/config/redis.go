package config

// Redis backs the distributed rate limiter on the admin scanner routes.
// When the server is unreachable at startup NewRedisClient returns nil and
// the limiter degrades to a pass-through.

import (
    "context"
    "crypto/tls"
    "time"

    "github.com/kelseyhightower/envconfig"
    "github.com/redis/go-redis/v9"
)

// RedisConfig is read from REDIS_* variables.  REDIS_ADDR is used when
// REDIS_HOST/REDIS_PORT are not both set.
type RedisConfig struct {
    Host     string `envconfig:"REDIS_HOST"`
    Port     string `envconfig:"REDIS_PORT"`
    Addr     string `envconfig:"REDIS_ADDR" default:"localhost:6379"`
    Password string `envconfig:"REDIS_PASSWORD"`
    DB       int    `envconfig:"REDIS_DB" default:"0"`
    TLS      bool   `envconfig:"REDIS_TLS" default:"false"`
}

// Address resolves the host:port to dial.
func (r RedisConfig) Address() string {
    if r.Host != "" && r.Port != "" {
        return r.Host + ":" + r.Port
    }
    return r.Addr
}

// NewRedisClient instantiates a Redis client from REDIS_* variables and
// pings it with a short timeout.  The returned client is nil if the
// configuration is invalid or the server cannot be reached.
func NewRedisClient(ctx context.Context) *redis.Client {
    var rc RedisConfig
    if err := envconfig.Process("", &rc); err != nil {
        return nil
    }
    var tlsConf *tls.Config
    if rc.TLS {
        tlsConf = &tls.Config{MinVersion: tls.VersionTLS12}
    }
    client := redis.NewClient(&redis.Options{
        Addr:      rc.Address(),
        Password:  rc.Password,
        DB:        rc.DB,
        TLSConfig: tlsConf,
    })
    ctx, cancel := context.WithTimeout(ctx, 2*time.Second)
    defer cancel()
    if err := client.Ping(ctx).Err(); err != nil {
        _ = client.Close()
        return nil
    }
    return client
}
