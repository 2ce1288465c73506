package service

import (
	"context"
	"encoding/json"

	"github.com/redis/go-redis/v9"

	"github.com/imprint-pub/imprint/internal/domain"
)

// RecordChannel is the redis pub/sub channel carrying freshly accepted
// records to realtime listeners.
const RecordChannel = "imprint:records"

type SignalService struct {
	rdb *redis.Client
}

func NewSignalService(redisClient *redis.Client) *SignalService {
	return &SignalService{
		rdb: redisClient,
	}
}

func (s *SignalService) PublishRecord(ctx context.Context, rec domain.Record) error {

	jsonstr, err := json.Marshal(rec)
	if err != nil {
		return err
	}

	err = s.rdb.Publish(ctx, RecordChannel, jsonstr).Err()
	if err != nil {
		return err
	}

	return nil
}

// Subscribe opens a pub/sub subscription on the record channel. The caller
// owns the returned subscription and must Close it.
func (s *SignalService) Subscribe(ctx context.Context) *redis.PubSub {
	return s.rdb.Subscribe(ctx, RecordChannel)
}

// Realtime pumps accepted records to output until ctx is cancelled. Authors
// received on input replace the current filter set; an empty set passes
// everything.
func (s *SignalService) Realtime(ctx context.Context, input chan []string, output chan domain.Record) {
	pubsub := s.Subscribe(ctx)
	defer pubsub.Close()

	var authors []string
	ch := pubsub.Channel()

	for {
		select {
		case <-ctx.Done():
			return
		case authors = <-input:
		case msg, ok := <-ch:
			if !ok {
				return
			}
			var rec domain.Record
			if err := json.Unmarshal([]byte(msg.Payload), &rec); err != nil {
				continue
			}
			if !matchesAuthors(rec, authors) {
				continue
			}
			select {
			case output <- rec:
			case <-ctx.Done():
				return
			}
		}
	}
}

func matchesAuthors(rec domain.Record, authors []string) bool {
	if len(authors) == 0 {
		return true
	}
	for _, author := range authors {
		if rec.Author == author {
			return true
		}
	}
	return false
}
