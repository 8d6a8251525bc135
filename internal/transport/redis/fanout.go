package redis

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/rocketscienceinc/tictactoe-wager/internal/entity"
)

const (
	channelPrefix  = "match:snapshots:"
	publishTimeout = 2 * time.Second
)

type localPublisher interface {
	Publish(snapshot *entity.Snapshot)
}

// Fanout relays snapshots through redis pub/sub, so subscribers connected to any instance see every change.
type Fanout struct {
	logger *slog.Logger
	client *redis.Client
	local  localPublisher
}

func NewFanout(logger *slog.Logger, client *redis.Client, local localPublisher) *Fanout {
	return &Fanout{
		logger: logger.With("component", "fanout"),
		client: client,
		local:  local,
	}
}

// Publish sends the snapshot to every instance, this one included. Falls back to local delivery when redis is down.
func (that *Fanout) Publish(snapshot *entity.Snapshot) {
	log := that.logger.With("method", "Publish", "matchID", snapshot.ID)

	payload, err := json.Marshal(snapshot)
	if err != nil {
		log.Error("failed to marshal snapshot", "error", err)
		return
	}

	ctx, cancel := context.WithTimeout(context.Background(), publishTimeout)
	defer cancel()

	if err = that.client.Publish(ctx, channelPrefix+snapshot.ID, payload).Err(); err != nil {
		log.Warn("failed to publish snapshot, delivering locally", "error", err)
		that.local.Publish(snapshot)
	}
}

// Run feeds snapshots from redis into the local broker until ctx is done.
func (that *Fanout) Run(ctx context.Context) error {
	log := that.logger.With("method", "Run")

	pubsub := that.client.PSubscribe(ctx, channelPrefix+"*")
	defer pubsub.Close()

	if _, err := pubsub.Receive(ctx); err != nil {
		return fmt.Errorf("failed to subscribe to snapshots: %w", err)
	}

	messages := pubsub.Channel()

	for {
		select {
		case <-ctx.Done():
			return nil
		case message, ok := <-messages:
			if !ok {
				return nil
			}

			var snapshot entity.Snapshot
			if err := json.Unmarshal([]byte(message.Payload), &snapshot); err != nil {
				log.Warn("skipping malformed snapshot", "channel", message.Channel, "error", err)
				continue
			}

			that.local.Publish(&snapshot)
		}
	}
}
