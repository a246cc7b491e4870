package repository

import (
	"encoding/json"
	"time"

	"github.com/go-redis/redis"
	"github.com/pkg/errors"

	"github.com/kounelisagis/reana-server/pkg/workflow"
)

const (
	runningSetKey    = "Workflow:Running"
	runningObjectKey = "Workflow:Running:Submission"
)

// RunningSet tracks workflows that have been dispatched but not yet reported
// finished, failed or stopped. Its cardinality is the concurrency ceiling
// count; the stored documents let the completion watcher release the right
// owner's quota.
type RunningSet interface {
	Add(sub *workflow.Submission, dispatchedAt time.Time) error
	// Remove returns the stored submission, or nil if the id is unknown
	// (e.g. a duplicate completion event).
	Remove(id string) (*workflow.Submission, error)
	Get(id string) (*workflow.Submission, error)
	Count() (int, error)
}

type RedisRunningSet struct {
	db redis.UniversalClient
}

func NewRedisRunningSet(db redis.UniversalClient) *RedisRunningSet {
	return &RedisRunningSet{db: db}
}

func (r *RedisRunningSet) Add(sub *workflow.Submission, dispatchedAt time.Time) error {
	data, err := json.Marshal(sub)
	if err != nil {
		return errors.Wrapf(err, "error marshalling running workflow %s", sub.Id)
	}
	pipe := r.db.TxPipeline()
	pipe.ZAdd(runningSetKey, redis.Z{Member: sub.Id, Score: float64(dispatchedAt.Unix())})
	pipe.HSet(runningObjectKey, sub.Id, data)
	_, err = pipe.Exec()
	return errors.Wrapf(err, "error recording running workflow %s", sub.Id)
}

func (r *RedisRunningSet) Remove(id string) (*workflow.Submission, error) {
	sub, err := r.Get(id)
	if err != nil {
		return nil, err
	}
	if sub == nil {
		return nil, nil
	}
	pipe := r.db.TxPipeline()
	pipe.ZRem(runningSetKey, id)
	pipe.HDel(runningObjectKey, id)
	if _, err := pipe.Exec(); err != nil {
		return nil, errors.Wrapf(err, "error removing running workflow %s", id)
	}
	return sub, nil
}

func (r *RedisRunningSet) Get(id string) (*workflow.Submission, error) {
	data, err := r.db.HGet(runningObjectKey, id).Result()
	if err == redis.Nil {
		return nil, nil
	} else if err != nil {
		return nil, errors.Wrapf(err, "error reading running workflow %s", id)
	}
	sub := &workflow.Submission{}
	if err := json.Unmarshal([]byte(data), sub); err != nil {
		return nil, errors.Wrapf(err, "error unmarshalling running workflow %s", id)
	}
	return sub, nil
}

func (r *RedisRunningSet) Count() (int, error) {
	count, err := r.db.ZCard(runningSetKey).Result()
	if err != nil {
		return 0, errors.Wrap(err, "error counting running workflows")
	}
	return int(count), nil
}
