package cropcache

import "errors"

var (
	// ErrNotFound is returned by backends when a row or key does not exist.
	ErrNotFound = errors.New("cache entry not found")
	// ErrInvalidEntry is returned when an entry cannot be stored as given.
	ErrInvalidEntry = errors.New("invalid cache entry")
)

// Backend is the persisted row store behind a Store. Implementations must be
// safe for concurrent use and keep CacheKey unique: inserting a row whose key
// already exists replaces the previous row.
type Backend interface {
	Insert(e Entry) error
	Update(e Entry) error
	Delete(id string) error
	FindByKey(cacheKey string) (Entry, error)
	FindByImage(imageURL string) ([]Entry, error)
	List() ([]Entry, error)
	Close() error
}
