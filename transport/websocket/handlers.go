package websocket

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/rocketscienceinc/tictactoe-wager/internal/entity"
)

func (that *Server) handleSubscribe(ctx context.Context, client *client, message *Message) error {
	var payload subscribePayload
	if err := json.Unmarshal(message.Payload, &payload); err != nil {
		return errInvalidMessage
	}

	if payload.MatchID == "" {
		return errMissingMatchID
	}

	return that.subscribe(ctx, client, payload.MatchID)
}

// subscribe sends the current snapshot, then forwards every newer published one until the subscription closes.
func (that *Server) subscribe(ctx context.Context, client *client, matchID string) error {
	snapshot, subscription, err := that.snapshots.Subscribe(ctx, matchID)
	if err != nil {
		return fmt.Errorf("failed to subscribe: %w", err)
	}

	client.subsMu.Lock()
	if previous, ok := client.subscriptions[matchID]; ok {
		previous.Close()
	}
	client.subscriptions[matchID] = subscription
	client.subsMu.Unlock()

	if err = client.send(actionSnapshot, snapshot); err != nil {
		return err
	}

	go func() {
		last := snapshot
		for next := range subscription.C {
			if next.OlderThan(last) {
				continue
			}
			last = next

			if err := client.send(actionSnapshot, next); err != nil {
				that.logger.Debug("failed to push snapshot", "matchID", matchID, "error", err)
				return
			}
		}
	}()

	return nil
}

func (that *Server) handleUnsubscribe(_ context.Context, client *client, message *Message) error {
	var payload subscribePayload
	if err := json.Unmarshal(message.Payload, &payload); err != nil {
		return errInvalidMessage
	}

	client.subsMu.Lock()
	defer client.subsMu.Unlock()

	if subscription, ok := client.subscriptions[payload.MatchID]; ok {
		subscription.Close()
		delete(client.subscriptions, payload.MatchID)
	}

	return nil
}

func (that *Server) handleMove(ctx context.Context, client *client, message *Message) error {
	if client.playerID == "" {
		return errAnonymous
	}

	var payload movePayload
	if err := json.Unmarshal(message.Payload, &payload); err != nil {
		return errInvalidMessage
	}

	switch {
	case payload.MatchID == "":
		return errMissingMatchID
	case payload.Cell == nil:
		return errMissingCell
	}

	match, err := that.mover.ApplyMove(ctx, payload.MatchID, client.playerID, *payload.Cell)
	if err != nil {
		return fmt.Errorf("failed to apply move: %w", err)
	}

	client.subsMu.Lock()
	_, subscribed := client.subscriptions[payload.MatchID]
	client.subsMu.Unlock()

	if subscribed {
		return nil
	}

	return client.send(actionSnapshot, entity.NewSnapshot(match, that.turnTimeout))
}
