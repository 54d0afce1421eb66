package database

import (
	"context"
	"log"
	"time"

	"github.com/go-redis/redis/v8"
	"github.com/spf13/viper"
)

// InitRedis connects the client backing the token blacklist, receive
// codes and the withdrawal settlement queue. Redis is optional: when
// unreachable the service runs with those features disabled.
func InitRedis() *redis.Client {
	viper.SetDefault("redis.host", "localhost")
	viper.SetDefault("redis.port", "6379")
	viper.SetDefault("redis.password", "")
	viper.SetDefault("redis.db", 0)
	viper.SetDefault("redis.pool_size", 10)

	addr := viper.GetString("redis.host") + ":" + viper.GetString("redis.port")
	rdb := redis.NewClient(&redis.Options{
		Addr:        addr,
		Password:    viper.GetString("redis.password"),
		DB:          viper.GetInt("redis.db"),
		PoolSize:    viper.GetInt("redis.pool_size"),
		DialTimeout: 5 * time.Second,
	})

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	if err := rdb.Ping(ctx).Err(); err != nil {
		log.Printf("Redis unavailable at %s, running without blacklist/settlement queue: %v", addr, err)
		return nil
	}

	log.Printf("Redis connection established (%s)", addr)
	return rdb
}
