package pagecache

import "context"

// Store is the port for rendered-page caching.
// Implementations are shared by every request goroutine and must be safe for
// concurrent use.
//
// Keys are opaque to the store; tenant and path composition happens in the
// caller. Values are fully assembled HTML documents and are replaced whole.
type Store interface {
	// Get returns the stored document and true, or "" and false when the key
	// is absent or expired. A non-nil error means the lookup itself failed;
	// callers treat that as a miss.
	Get(ctx context.Context, key string) (string, bool, error)

	// Set inserts or replaces the document stored under key.
	Set(ctx context.Context, key string, value string) error
}
