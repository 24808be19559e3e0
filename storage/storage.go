// Package storage defines the key-value port the client persists through.
// Browser embeddings back it with the platform's local storage; tests and
// the CLI use the in-memory implementation in storage/memkv.
package storage

// KV is the minimal key-value surface the session store, the pending invite
// store, and the image cache are written against.
type KV interface {
	// Get returns the value stored under key and whether it was present.
	Get(key string) (string, bool)

	// Set stores value under key, replacing any previous value.
	// Implementations with bounded capacity return an error when the
	// write cannot be completed (e.g. a storage quota is exhausted).
	Set(key, value string) error

	// Delete removes key. Deleting an absent key is not an error.
	Delete(key string)

	// Keys returns every stored key in unspecified order.
	Keys() []string
}
