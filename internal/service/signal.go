package service

import (
	"context"
	"encoding/json"

	"github.com/redis/go-redis/v9"

	"github.com/propdao/propindex/internal/domain"
)

const snapshotChannel = "propindex:snapshots"

// SignalService fans snapshot events out over redis pub/sub so every
// realtime subscriber sees each completed cycle.
type SignalService struct {
	rdb *redis.Client
}

func NewSignalService(redisClient *redis.Client) *SignalService {
	return &SignalService{
		rdb: redisClient,
	}
}

func (s *SignalService) PublishSnapshot(ctx context.Context, event domain.SnapshotEvent) error {
	jsonstr, err := json.Marshal(event)
	if err != nil {
		return err
	}

	err = s.rdb.Publish(ctx, snapshotChannel, jsonstr).Err()
	if err != nil {
		return err
	}

	return nil
}

// Subscribe delivers snapshot events until the context is cancelled.
func (s *SignalService) Subscribe(ctx context.Context, output chan<- domain.SnapshotEvent) {
	pubsub := s.rdb.Subscribe(ctx, snapshotChannel)
	defer pubsub.Close()

	ch := pubsub.Channel()
	for {
		select {
		case <-ctx.Done():
			return
		case msg, ok := <-ch:
			if !ok {
				return
			}
			var event domain.SnapshotEvent
			if err := json.Unmarshal([]byte(msg.Payload), &event); err != nil {
				continue
			}
			select {
			case output <- event:
			case <-ctx.Done():
				return
			}
		}
	}
}
