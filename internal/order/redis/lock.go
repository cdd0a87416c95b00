package redis

import (
	"context"
	"time"

	"github.com/go-redis/redis/v8"
)

// Locks keeps short-lived coordination state in Redis: a per-order
// payment-initiation lock so double-submitted checkouts hit one
// provider call, and a per-QR scan cooldown so rapid re-scans at the
// gate don't race each other.
type Locks struct {
	Client *redis.Client
}

func NewLocks(client *redis.Client) *Locks {
	return &Locks{Client: client}
}

// AcquirePaymentLock takes the initiation lock for an order. Returns
// false if another initiation is already in flight.
func (l *Locks) AcquirePaymentLock(ctx context.Context, orderID string, ttl time.Duration) (bool, error) {
	key := "payment_lock:" + orderID
	return l.Client.SetNX(ctx, key, "1", ttl).Result()
}

// ReleasePaymentLock drops the initiation lock once the provider call
// has returned.
func (l *Locks) ReleasePaymentLock(ctx context.Context, orderID string) error {
	key := "payment_lock:" + orderID
	return l.Client.Del(ctx, key).Err()
}

// MarkScanned records a redemption scan for a QR token. Returns false
// if the token was scanned within the cooldown window, in which case
// the caller should reject the scan without touching the database.
func (l *Locks) MarkScanned(ctx context.Context, qrToken string, cooldown time.Duration) (bool, error) {
	key := "scan_cooldown:" + qrToken
	return l.Client.SetNX(ctx, key, "1", cooldown).Result()
}

// ClearScan drops the cooldown mark for a token whose scan was
// rejected, so the next attempt is not locked out.
func (l *Locks) ClearScan(ctx context.Context, qrToken string) error {
	key := "scan_cooldown:" + qrToken
	return l.Client.Del(ctx, key).Err()
}
