package infra

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/minio/minio-go/v7"
	miniocreds "github.com/minio/minio-go/v7/pkg/credentials"
	"github.com/nats-io/nats.go"
	amqp "github.com/rabbitmq/amqp091-go"
	"github.com/redis/go-redis/v9"
)

// NewRedisClient connects to cfg.RedisAddr and verifies the connection.
// It returns nil without error when Redis is not configured.
func NewRedisClient(ctx context.Context, cfg *Config) (*redis.Client, error) {
	if strings.TrimSpace(cfg.RedisAddr) == "" {
		return nil, nil
	}
	client := redis.NewClient(&redis.Options{
		Addr: cfg.RedisAddr,
		DB:   cfg.RedisDB,
	})
	ctx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	if err := client.Ping(ctx).Err(); err != nil {
		_ = client.Close()
		return nil, fmt.Errorf("redis ping: %w", err)
	}
	return client, nil
}

// NewAMQPConnection dials RabbitMQ. It returns nil without error when AMQP is not configured.
func NewAMQPConnection(cfg *Config) (*amqp.Connection, error) {
	if strings.TrimSpace(cfg.AMQPURL) == "" {
		return nil, nil
	}
	conn, err := amqp.Dial(cfg.AMQPURL)
	if err != nil {
		return nil, fmt.Errorf("amqp dial: %w", err)
	}
	return conn, nil
}

// NewNATSConnection connects to NATS. It returns nil without error when NATS is not configured.
func NewNATSConnection(cfg *Config, name string) (*nats.Conn, error) {
	if strings.TrimSpace(cfg.NATSURL) == "" {
		return nil, nil
	}
	nc, err := nats.Connect(cfg.NATSURL,
		nats.Name(name),
		nats.MaxReconnects(-1),
		nats.ReconnectWait(2*time.Second),
	)
	if err != nil {
		return nil, fmt.Errorf("nats connect: %w", err)
	}
	return nc, nil
}

// NewMinioClient builds an S3-compatible client. It returns nil without error
// when no endpoint is configured so callers fall back to local storage.
func NewMinioClient(cfg *Config) (*minio.Client, error) {
	if strings.TrimSpace(cfg.S3Endpoint) == "" {
		return nil, nil
	}
	client, err := minio.New(cfg.S3Endpoint, &minio.Options{
		Creds:  miniocreds.NewStaticV4(cfg.S3AccessKey, cfg.S3SecretKey, ""),
		Secure: cfg.S3UseSSL,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to create S3 client: %w", err)
	}
	return client, nil
}
