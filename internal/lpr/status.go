package lpr

import (
	"context"
	"fmt"
	"log"
	"time"

	"github.com/redis/go-redis/v9"
)

const statusTTL = 5 * time.Minute

// StatusReporter mirrors device connectivity into Redis so the admin API
// can report live status without touching the pool. A nil reporter is a
// no-op, which keeps the core testable without Redis.
type StatusReporter struct {
	Client *redis.Client
}

func statusKey(deviceID int64) string {
	return fmt.Sprintf("lpr:status:%d", deviceID)
}

func (r *StatusReporter) SetConnected(deviceID int64) {
	if r == nil || r.Client == nil {
		return
	}
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	if err := r.Client.Set(ctx, statusKey(deviceID), "connected", statusTTL).Err(); err != nil {
		log.Printf("[WARN] LPR %d: status write failed: %v", deviceID, err)
	}
}

func (r *StatusReporter) SetDisconnected(deviceID int64) {
	if r == nil || r.Client == nil {
		return
	}
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	if err := r.Client.Set(ctx, statusKey(deviceID), "disconnected", statusTTL).Err(); err != nil {
		log.Printf("[WARN] LPR %d: status write failed: %v", deviceID, err)
	}
}

// Get returns "connected", "disconnected" or "unknown".
func (r *StatusReporter) Get(ctx context.Context, deviceID int64) string {
	if r == nil || r.Client == nil {
		return "unknown"
	}
	v, err := r.Client.Get(ctx, statusKey(deviceID)).Result()
	if err != nil {
		return "unknown"
	}
	return v
}

// Clear removes the status key, used when a device is deleted.
func (r *StatusReporter) Clear(deviceID int64) {
	if r == nil || r.Client == nil {
		return
	}
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	r.Client.Del(ctx, statusKey(deviceID))
}
