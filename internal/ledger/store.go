package ledger

import (
	"context"
	"time"
)

// Store persists hour buckets and applies usage commits.
type Store interface {
	// BucketCount returns the committed request count for the bucket
	// starting at bucketStart. A missing bucket counts zero.
	BucketCount(ctx context.Context, principalID string, bucketStart time.Time) (int64, error)

	// Commit atomically adds chars to the principal's monthly character
	// counter, increments its monthly request counter, and increments
	// the hour bucket. Returns ErrPrincipalNotFound when the principal
	// row is gone.
	Commit(ctx context.Context, principalID string, chars int64, bucketStart time.Time) error

	// SweepExpired deletes buckets that started before the cutoff and
	// returns how many were removed.
	SweepExpired(ctx context.Context, cutoff time.Time) (int, error)
}
