// Package redis keeps event capacity in a Redis hash guarded by a version
// counter. It has no "decrement if enough" primitive; callers go through
// inventory.OptimisticController.
package redis

import (
	"context"
	"fmt"
	"strconv"

	"ms-booking/internal/models"

	"github.com/go-redis/redis/v8"
)

const keyPrefix = "event_capacity:"

// casScript swaps available only if the stored version still matches.
// Returns -1 when the entry does not exist.
var casScript = redis.NewScript(`
local v = redis.call('HGET', KEYS[1], 'version')
if not v then
  return -1
end
if tonumber(v) ~= tonumber(ARGV[1]) then
  return 0
end
redis.call('HSET', KEYS[1], 'available', ARGV[2], 'version', tonumber(v) + 1)
return 1
`)

var openScript = redis.NewScript(`
if redis.call('EXISTS', KEYS[1]) == 1 then
  return 0
end
redis.call('HSET', KEYS[1], 'available', ARGV[1], 'total', ARGV[2], 'version', 0)
return 1
`)

type Ledger struct {
	Client *redis.Client
}

func NewLedger(client *redis.Client) *Ledger {
	return &Ledger{Client: client}
}

func key(eventID string) string {
	return keyPrefix + eventID
}

func (l *Ledger) Snapshot(ctx context.Context, eventID string) (models.CapacitySnapshot, error) {
	fields, err := l.Client.HGetAll(ctx, key(eventID)).Result()
	if err != nil {
		return models.CapacitySnapshot{}, err
	}
	if len(fields) == 0 {
		return models.CapacitySnapshot{}, fmt.Errorf("%w: event %s", models.ErrNotFound, eventID)
	}

	snap := models.CapacitySnapshot{EventID: eventID}
	if snap.Available, err = strconv.Atoi(fields["available"]); err != nil {
		return models.CapacitySnapshot{}, fmt.Errorf("corrupt ledger entry %s: available: %w", key(eventID), err)
	}
	if snap.Total, err = strconv.Atoi(fields["total"]); err != nil {
		return models.CapacitySnapshot{}, fmt.Errorf("corrupt ledger entry %s: total: %w", key(eventID), err)
	}
	if snap.Version, err = strconv.ParseInt(fields["version"], 10, 64); err != nil {
		return models.CapacitySnapshot{}, fmt.Errorf("corrupt ledger entry %s: version: %w", key(eventID), err)
	}
	return snap, nil
}

func (l *Ledger) CompareAndSwap(ctx context.Context, eventID string, expectedVersion int64, available int) (bool, error) {
	res, err := casScript.Run(ctx, l.Client, []string{key(eventID)}, expectedVersion, available).Int()
	if err != nil {
		return false, err
	}
	switch res {
	case -1:
		return false, fmt.Errorf("%w: event %s", models.ErrNotFound, eventID)
	case 1:
		return true, nil
	default:
		return false, nil
	}
}

// Open seeds the entry from the event's current availability. An existing
// entry is left untouched so restarts do not reset live counts.
func (l *Ledger) Open(ctx context.Context, event models.Event) (bool, error) {
	res, err := openScript.Run(ctx, l.Client, []string{key(event.ID)}, event.TicketsAvailable, event.TotalCapacity).Int()
	if err != nil {
		return false, err
	}
	return res == 1, nil
}
