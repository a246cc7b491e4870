package repository

import (
	"encoding/json"
	"time"

	"github.com/go-redis/redis"
	"github.com/pkg/errors"

	"github.com/kounelisagis/reana-server/internal/common/util"
	"github.com/kounelisagis/reana-server/internal/scheduler/configuration"
	"github.com/kounelisagis/reana-server/pkg/workflow"
)

const (
	submissionQueueKey  = "Workflow:Queue"
	submissionObjectKey = "Workflow:Submission"
	submissionSeqKey    = "Workflow:Queue:Seq"
)

// maxPriority bounds the priority component of the queue score so that the
// composite score stays exactly representable in a float64. Priorities above
// it are clamped.
const maxPriority = 1<<13 - 1

// prioritySpan separates priority classes in the composite score. Sequence
// numbers below it keep FIFO order intact within a class.
const prioritySpan = 1 << 40

type SubmissionQueue interface {
	Enqueue(sub *workflow.Submission) error
	// Peek returns the highest-priority, earliest-enqueued eligible
	// submission, or nil if there is none.
	Peek() (*workflow.Submission, error)
	Requeue(sub *workflow.Submission, delay time.Duration) error
	// Remove deletes the submission with the given id from the queue,
	// reporting whether it was present.
	Remove(id string) (bool, error)
	Get(id string) (*workflow.Submission, error)
	Update(sub *workflow.Submission) error
	List() ([]*workflow.Submission, error)
	Size() (int64, error)
}

// RedisSubmissionQueue keeps not-yet-dispatched submissions in a sorted set
// scored by policy order, with the submission documents in a hash.
type RedisSubmissionQueue struct {
	db     redis.UniversalClient
	policy string
	clock  util.Clock
}

func NewRedisSubmissionQueue(db redis.UniversalClient, policy string) *RedisSubmissionQueue {
	return &RedisSubmissionQueue{db: db, policy: policy, clock: &util.DefaultClock{}}
}

// WithClock replaces the queue's clock, for tests.
func (q *RedisSubmissionQueue) WithClock(clock util.Clock) *RedisSubmissionQueue {
	q.clock = clock
	return q
}

// score computes the sorted-set score for a submission. Lower scores dequeue
// first. Under the fifo policy only arrival order matters; under the balanced
// policy higher priorities dequeue first and arrival order breaks ties.
// Both components are integers well below 2^53, so the float64 score is exact
// and the ordering deterministic.
func (q *RedisSubmissionQueue) score(sub *workflow.Submission) float64 {
	if q.policy == configuration.PolicyFifo {
		return float64(sub.Seq)
	}
	priority := sub.Priority
	if priority > maxPriority {
		priority = maxPriority
	}
	return float64((maxPriority-priority)*prioritySpan + sub.Seq)
}

func (q *RedisSubmissionQueue) Enqueue(sub *workflow.Submission) error {
	if sub.Seq == 0 {
		seq, err := q.db.Incr(submissionSeqKey).Result()
		if err != nil {
			return errors.Wrap(err, "error assigning queue sequence number")
		}
		sub.Seq = seq
	}
	if sub.EnqueuedAt.IsZero() {
		sub.EnqueuedAt = q.clock.Now()
	}
	sub.State = workflow.StateQueued
	return q.add(sub)
}

// Requeue reinserts a submission after a transient failure. The original
// sequence number and EnqueuedAt are preserved so the submission keeps its
// place among equal-priority work; the delay is realized as a NotBefore
// timestamp honored by Peek rather than by reordering.
func (q *RedisSubmissionQueue) Requeue(sub *workflow.Submission, delay time.Duration) error {
	sub.RetryCount++
	sub.State = workflow.StateRequeued
	sub.NotBefore = q.clock.Now().Add(delay)
	return q.add(sub)
}

func (q *RedisSubmissionQueue) add(sub *workflow.Submission) error {
	data, err := json.Marshal(sub)
	if err != nil {
		return errors.Wrapf(err, "error marshalling submission %s", sub.Id)
	}
	pipe := q.db.TxPipeline()
	pipe.ZAdd(submissionQueueKey, redis.Z{Member: sub.Id, Score: q.score(sub)})
	pipe.HSet(submissionObjectKey, sub.Id, data)
	_, err = pipe.Exec()
	return errors.Wrapf(err, "error writing submission %s to the queue", sub.Id)
}

// peekWindow bounds how many queue heads Peek inspects when skipping
// requeued submissions whose delay has not yet elapsed.
const peekWindow = 64

func (q *RedisSubmissionQueue) Peek() (*workflow.Submission, error) {
	ids, err := q.db.ZRange(submissionQueueKey, 0, peekWindow-1).Result()
	if err != nil {
		return nil, errors.Wrap(err, "error reading queue head")
	}
	now := q.clock.Now()
	for _, id := range ids {
		sub, err := q.Get(id)
		if err != nil {
			return nil, err
		}
		if sub == nil {
			// Queue entry without a document; drop the orphan.
			q.db.ZRem(submissionQueueKey, id)
			continue
		}
		if sub.Eligible(now) {
			return sub, nil
		}
	}
	return nil, nil
}

func (q *RedisSubmissionQueue) Get(id string) (*workflow.Submission, error) {
	data, err := q.db.HGet(submissionObjectKey, id).Result()
	if err == redis.Nil {
		return nil, nil
	} else if err != nil {
		return nil, errors.Wrapf(err, "error reading submission %s", id)
	}
	sub := &workflow.Submission{}
	if err := json.Unmarshal([]byte(data), sub); err != nil {
		return nil, errors.Wrapf(err, "error unmarshalling submission %s", id)
	}
	return sub, nil
}

// Update rewrites the stored document without touching queue order.
func (q *RedisSubmissionQueue) Update(sub *workflow.Submission) error {
	data, err := json.Marshal(sub)
	if err != nil {
		return errors.Wrapf(err, "error marshalling submission %s", sub.Id)
	}
	err = q.db.HSet(submissionObjectKey, sub.Id, data).Err()
	return errors.Wrapf(err, "error updating submission %s", sub.Id)
}

func (q *RedisSubmissionQueue) Remove(id string) (bool, error) {
	pipe := q.db.TxPipeline()
	removed := pipe.ZRem(submissionQueueKey, id)
	pipe.HDel(submissionObjectKey, id)
	if _, err := pipe.Exec(); err != nil {
		return false, errors.Wrapf(err, "error removing submission %s", id)
	}
	return removed.Val() > 0, nil
}

// List returns all queued submissions in dequeue order.
func (q *RedisSubmissionQueue) List() ([]*workflow.Submission, error) {
	ids, err := q.db.ZRange(submissionQueueKey, 0, -1).Result()
	if err != nil {
		return nil, errors.Wrap(err, "error listing queue")
	}
	subs := make([]*workflow.Submission, 0, len(ids))
	for _, id := range ids {
		sub, err := q.Get(id)
		if err != nil {
			return nil, err
		}
		if sub != nil {
			subs = append(subs, sub)
		}
	}
	return subs, nil
}

func (q *RedisSubmissionQueue) Size() (int64, error) {
	size, err := q.db.ZCard(submissionQueueKey).Result()
	return size, errors.Wrap(err, "error reading queue size")
}
