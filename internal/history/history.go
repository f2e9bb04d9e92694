// Package history is the client-local blob store behind the selector's
// anti-repetition windows. It is best-effort by contract: callers swallow
// failures because losing history degrades variety, not correctness.
package history

// Store is a flat key/value blob store. GetBlob returns nil for an
// absent key.
type Store interface {
	GetBlob(key string) ([]byte, error)
	SetBlob(key string, blob []byte) error
	Delete(key string) error
	Close() error
}
