package repository

import (
	"sort"
	"strconv"

	"github.com/go-redis/redis"
	"github.com/pkg/errors"

	"github.com/kounelisagis/reana-server/internal/common/schedulererrors"
	"github.com/kounelisagis/reana-server/pkg/workflow"
)

const (
	quotaLimitPrefix = "Quota:Limit:"
	quotaUsedPrefix  = "Quota:Used:"
)

type QuotaLedger interface {
	// Reserve atomically applies all deltas for the owner, or none of them.
	// A kind with a zero delta asserts headroom without consuming any: the
	// reservation is denied if that kind is already at its limit.
	// Kinds without a configured limit are not enforced.
	Reserve(owner string, deltas map[string]int64) error
	// Release returns previously reserved amounts, clamped at zero.
	Release(owner string, deltas map[string]int64) error
	SetLimits(owner string, limits map[string]int64) error
	GetAccount(owner string) (*workflow.QuotaAccount, error)
}

// reserveScript checks every kind before mutating any, so that concurrent
// reservations for the same owner can never both succeed on the last unit
// and a denial never leaves a partial reservation applied.
// Returns the denied kind, or an empty string on success.
var reserveScript = redis.NewScript(`
local limits = KEYS[1]
local used = KEYS[2]
for i = 1, #ARGV, 2 do
	local kind = ARGV[i]
	local delta = tonumber(ARGV[i+1])
	local limit = redis.call('HGET', limits, kind)
	if limit then
		local u = tonumber(redis.call('HGET', used, kind) or '0')
		if delta > 0 then
			if u + delta > tonumber(limit) then
				return kind
			end
		else
			if u >= tonumber(limit) then
				return kind
			end
		end
	end
end
for i = 1, #ARGV, 2 do
	local delta = tonumber(ARGV[i+1])
	if delta > 0 then
		redis.call('HINCRBY', used, ARGV[i], delta)
	end
end
return ''
`)

// releaseScript decrements used amounts, clamped at zero so that a double
// release can never drive the ledger negative.
var releaseScript = redis.NewScript(`
local used = KEYS[1]
for i = 1, #ARGV, 2 do
	local u = tonumber(redis.call('HGET', used, ARGV[i]) or '0')
	local delta = tonumber(ARGV[i+1])
	if delta > u then
		delta = u
	end
	if delta > 0 then
		redis.call('HINCRBY', used, ARGV[i], -delta)
	end
end
return ''
`)

// RedisQuotaLedger tracks per-owner consumed vs. allotted resources.
// Owners without explicit limits fall back to the configured defaults.
type RedisQuotaLedger struct {
	db            redis.UniversalClient
	defaultLimits map[string]int64
}

func NewRedisQuotaLedger(db redis.UniversalClient, defaultLimits map[string]int64) *RedisQuotaLedger {
	return &RedisQuotaLedger{db: db, defaultLimits: defaultLimits}
}

func (l *RedisQuotaLedger) Reserve(owner string, deltas map[string]int64) error {
	if len(deltas) == 0 {
		return nil
	}
	if err := l.ensureLimits(owner); err != nil {
		return err
	}
	keys := []string{quotaLimitPrefix + owner, quotaUsedPrefix + owner}
	result, err := reserveScript.Run(l.db, keys, scriptArgs(deltas)...).Result()
	if err != nil {
		return errors.Wrapf(err, "error reserving quota for %s", owner)
	}
	deniedKind, ok := result.(string)
	if !ok {
		return errors.Errorf("unexpected reserve script result %v for %s", result, owner)
	}
	if deniedKind == "" {
		return nil
	}

	account, err := l.GetAccount(owner)
	if err != nil {
		return err
	}
	return &schedulererrors.ErrQuotaExceeded{
		Owner:     owner,
		Resource:  deniedKind,
		Requested: deltas[deniedKind],
		Used:      account.Used[deniedKind],
		Limit:     account.Limits[deniedKind],
	}
}

func (l *RedisQuotaLedger) Release(owner string, deltas map[string]int64) error {
	if len(deltas) == 0 {
		return nil
	}
	keys := []string{quotaUsedPrefix + owner}
	err := releaseScript.Run(l.db, keys, scriptArgs(deltas)...).Err()
	return errors.Wrapf(err, "error releasing quota for %s", owner)
}

func (l *RedisQuotaLedger) SetLimits(owner string, limits map[string]int64) error {
	if len(limits) == 0 {
		return nil
	}
	values := make(map[string]interface{}, len(limits))
	for kind, limit := range limits {
		values[kind] = limit
	}
	err := l.db.HMSet(quotaLimitPrefix+owner, values).Err()
	return errors.Wrapf(err, "error setting quota limits for %s", owner)
}

func (l *RedisQuotaLedger) GetAccount(owner string) (*workflow.QuotaAccount, error) {
	pipe := l.db.Pipeline()
	limitsCmd := pipe.HGetAll(quotaLimitPrefix + owner)
	usedCmd := pipe.HGetAll(quotaUsedPrefix + owner)
	if _, err := pipe.Exec(); err != nil && err != redis.Nil {
		return nil, errors.Wrapf(err, "error reading quota account for %s", owner)
	}
	limits, err := toInt64Map(limitsCmd.Val())
	if err != nil {
		return nil, errors.Wrapf(err, "error parsing quota limits for %s", owner)
	}
	used, err := toInt64Map(usedCmd.Val())
	if err != nil {
		return nil, errors.Wrapf(err, "error parsing quota usage for %s", owner)
	}
	return &workflow.QuotaAccount{Owner: owner, Limits: limits, Used: used}, nil
}

// ensureLimits seeds the owner's limit hash with the configured defaults.
// HSetNX keeps explicitly set limits authoritative.
func (l *RedisQuotaLedger) ensureLimits(owner string) error {
	if len(l.defaultLimits) == 0 {
		return nil
	}
	pipe := l.db.Pipeline()
	for kind, limit := range l.defaultLimits {
		pipe.HSetNX(quotaLimitPrefix+owner, kind, limit)
	}
	_, err := pipe.Exec()
	return errors.Wrapf(err, "error seeding default quota limits for %s", owner)
}

// scriptArgs flattens deltas into kind/amount pairs in sorted order, so that
// script invocations are deterministic.
func scriptArgs(deltas map[string]int64) []interface{} {
	kinds := make([]string, 0, len(deltas))
	for kind := range deltas {
		kinds = append(kinds, kind)
	}
	sort.Strings(kinds)
	args := make([]interface{}, 0, 2*len(kinds))
	for _, kind := range kinds {
		args = append(args, kind, deltas[kind])
	}
	return args
}

func toInt64Map(values map[string]string) (map[string]int64, error) {
	result := make(map[string]int64, len(values))
	for k, v := range values {
		n, err := strconv.ParseInt(v, 10, 64)
		if err != nil {
			return nil, err
		}
		result[k] = n
	}
	return result, nil
}
