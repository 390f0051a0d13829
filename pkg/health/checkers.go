package health

import (
	"context"
	"runtime"
	"runtime/debug"
	"time"

	"github.com/go-faster/errors"
	amqp "github.com/rabbitmq/amqp091-go"
	"github.com/redis/go-redis/v9"
	"github.com/segmentio/kafka-go"
)

// GoroutineCountCheck fails when more than threshold goroutines are running.
func GoroutineCountCheck(threshold int) CheckFunc {
	return func(context.Context) error {
		if n := runtime.NumGoroutine(); n > threshold {
			return errors.Errorf("goroutine count %d exceeds threshold %d", n, threshold)
		}
		return nil
	}
}

// GCMaxPauseCheck fails when a recent GC pause exceeded threshold.
func GCMaxPauseCheck(threshold time.Duration) CheckFunc {
	return func(context.Context) error {
		var stats debug.GCStats
		debug.ReadGCStats(&stats)
		for _, pause := range stats.Pause {
			if pause > threshold {
				return errors.Errorf("GC pause %s exceeds threshold %s", pause, threshold)
			}
		}
		return nil
	}
}

// Pinger is implemented by *pgxpool.Pool.
type Pinger interface {
	Ping(ctx context.Context) error
}

// PingCheck fails when p cannot be pinged.
func PingCheck(p Pinger) CheckFunc {
	return func(ctx context.Context) error {
		return p.Ping(ctx)
	}
}

// RedisCheck fails when redis does not answer PING.
func RedisCheck(rdb redis.UniversalClient) CheckFunc {
	return func(ctx context.Context) error {
		return rdb.Ping(ctx).Err()
	}
}

// KafkaCheck fails when none of the brokers accepts a connection.
func KafkaCheck(brokers []string) CheckFunc {
	return func(ctx context.Context) error {
		var lastErr error
		for _, addr := range brokers {
			conn, err := kafka.DialContext(ctx, "tcp", addr)
			if err != nil {
				lastErr = err
				continue
			}
			return conn.Close()
		}
		if lastErr == nil {
			return errors.New("no kafka brokers configured")
		}
		return errors.Wrap(lastErr, "dial kafka")
	}
}

// AMQPCheck fails once the broker connection has been closed.
func AMQPCheck(conn *amqp.Connection) CheckFunc {
	return func(context.Context) error {
		if conn.IsClosed() {
			return errors.New("amqp connection closed")
		}
		return nil
	}
}
