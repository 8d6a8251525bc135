package usecase

import (
	"sync"

	"github.com/rocketscienceinc/tictactoe-wager/internal/entity"
)

const subscriptionBuffer = 4

// Broker fans snapshots out to subscribers of a match. Slow subscribers lose the oldest snapshots.
// A snapshot older than the last one delivered for its match is dropped.
type Broker struct {
	mu          sync.Mutex
	subscribers map[string]map[*Subscription]struct{}
	latest      map[string]*entity.Snapshot
}

func NewBroker() *Broker {
	return &Broker{
		subscribers: make(map[string]map[*Subscription]struct{}),
		latest:      make(map[string]*entity.Snapshot),
	}
}

type Subscription struct {
	C <-chan *entity.Snapshot

	ch      chan *entity.Snapshot
	matchID string
	broker  *Broker
	once    sync.Once
}

func (that *Broker) Subscribe(matchID string) *Subscription {
	ch := make(chan *entity.Snapshot, subscriptionBuffer)
	subscription := &Subscription{
		C:       ch,
		ch:      ch,
		matchID: matchID,
		broker:  that,
	}

	that.mu.Lock()
	defer that.mu.Unlock()

	if that.subscribers[matchID] == nil {
		that.subscribers[matchID] = make(map[*Subscription]struct{})
	}
	that.subscribers[matchID][subscription] = struct{}{}

	return subscription
}

func (that *Broker) Publish(snapshot *entity.Snapshot) {
	that.mu.Lock()
	defer that.mu.Unlock()

	subscribers := that.subscribers[snapshot.ID]
	if len(subscribers) == 0 {
		return
	}

	if latest, ok := that.latest[snapshot.ID]; ok && snapshot.OlderThan(latest) {
		return
	}
	that.latest[snapshot.ID] = snapshot

	for subscription := range subscribers {
		select {
		case subscription.ch <- snapshot:
		default:
			select {
			case <-subscription.ch:
			default:
			}
			subscription.ch <- snapshot
		}
	}
}

// Close unsubscribes and closes C. Safe to call more than once.
func (that *Subscription) Close() {
	that.once.Do(func() {
		that.broker.mu.Lock()
		defer that.broker.mu.Unlock()

		subscribers := that.broker.subscribers[that.matchID]
		delete(subscribers, that)
		if len(subscribers) == 0 {
			delete(that.broker.subscribers, that.matchID)
			delete(that.broker.latest, that.matchID)
		}

		close(that.ch)
	})
}
