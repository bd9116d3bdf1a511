package bus

import (
	"context"
	"log/slog"
	"time"

	"github.com/redis/go-redis/v9"
)

const reconnectBackoff = 5 * time.Second

// Message is one raw pub/sub delivery.
type Message struct {
	Channel string
	Payload []byte
}

// Subscribe listens on the given channels and invokes handle for each
// message. It blocks until ctx is cancelled, reconnecting with a fixed
// backoff on any error. Subscribers use no read timeout; the blocking
// receive is interrupted by ctx.
func Subscribe(ctx context.Context, url string, log *slog.Logger, handle func(Message), channels ...string) {
	for {
		if err := listenOnce(ctx, url, log, handle, channels); err != nil {
			if ctx.Err() != nil {
				return
			}
			log.Warn("redis subscriber disconnected", "error", err, "retry_in", reconnectBackoff.String())
		}

		select {
		case <-ctx.Done():
			return
		case <-time.After(reconnectBackoff):
		}
	}
}

func listenOnce(ctx context.Context, url string, log *slog.Logger, handle func(Message), channels []string) error {
	opts, err := redis.ParseURL(url)
	if err != nil {
		return err
	}
	opts.DialTimeout = dialTimeout
	opts.ReadTimeout = 0 // blocking subscribe

	client := redis.NewClient(opts)
	defer client.Close()

	pubsub := client.Subscribe(ctx, channels...)
	defer pubsub.Close()

	// Fail fast if the subscription itself did not go through.
	if _, err := pubsub.Receive(ctx); err != nil {
		return err
	}
	log.Info("subscribed to redis channels", "channels", channels)

	for {
		msg, err := pubsub.ReceiveMessage(ctx)
		if err != nil {
			return err
		}
		handle(Message{Channel: msg.Channel, Payload: []byte(msg.Payload)})
	}
}
