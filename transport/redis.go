package transport

import (
	"context"
	"time"

	"github.com/redis/go-redis/v9"

	iface "FaceMocap/interface"
)

// Publisher is the part of *redis.Client the sink needs.
type Publisher interface {
	Publish(ctx context.Context, channel string, message interface{}) *redis.IntCmd
	Close() error
}

// RedisSink publishes every frame on a pub/sub channel so several rigs can
// follow one capture.
type RedisSink struct {
	client  Publisher
	channel string
	timeout time.Duration
}

func NewRedisSink(addr, password string, db int, channel string) *RedisSink {
	client := redis.NewClient(&redis.Options{
		Addr:     addr,
		Password: password,
		DB:       db,
	})
	return NewRedisSinkWithClient(client, channel)
}

func NewRedisSinkWithClient(client Publisher, channel string) *RedisSink {
	return &RedisSink{client: client, channel: channel, timeout: 200 * time.Millisecond}
}

func (s *RedisSink) Send(features iface.FeatureSet) error {
	data, err := Encode(features)
	if err != nil {
		return err
	}
	ctx, cancel := context.WithTimeout(context.Background(), s.timeout)
	defer cancel()
	return s.client.Publish(ctx, s.channel, data).Err()
}

func (s *RedisSink) Close() error {
	return s.client.Close()
}
