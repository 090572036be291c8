package storage

import (
	"context"
	"time"
)

// queryTimeout bounds individual database queries so a slow backend
// degrades into DB_UNAVAILABLE instead of hung request handlers.
const queryTimeout = 5 * time.Second

// withQueryTimeout wraps ctx with the standard per-query deadline.
// Callers must invoke the returned cancel func.
func withQueryTimeout(ctx context.Context) (context.Context, context.CancelFunc) {
	return context.WithTimeout(ctx, queryTimeout)
}
