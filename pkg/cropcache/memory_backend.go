package cropcache

import (
	"encoding/json"
	"fmt"
	"os"
	"sort"
	"sync"
	"time"

	"github.com/dlevesque1980/dailywallpaper-sub001/util/log"
)

// MemoryBackend keeps rows in memory and optionally mirrors them to a JSON file.
type MemoryBackend struct {
	mu      sync.RWMutex
	rows    map[string]Entry
	byKey   map[string]string              // cacheKey -> id
	byImage map[string]map[string]struct{} // imageURL -> ids

	cachePath string
	asyncSave bool

	saveTimer *time.Timer
	saveMu    sync.Mutex

	// Testing hook
	saveFunc func()

	debounceDuration time.Duration
}

// NewMemoryBackend creates an empty backend with no file persistence.
func NewMemoryBackend() *MemoryBackend {
	return &MemoryBackend{
		rows:             make(map[string]Entry),
		byKey:            make(map[string]string),
		byImage:          make(map[string]map[string]struct{}),
		asyncSave:        true,
		debounceDuration: 2 * time.Second,
	}
}

func (b *MemoryBackend) SetDebounceDuration(d time.Duration) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.debounceDuration = d
}

func (b *MemoryBackend) SetAsyncSave(enabled bool) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.asyncSave = enabled
}

// SetCacheFile enables persistence to path. An empty path disables it.
func (b *MemoryBackend) SetCacheFile(path string) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.cachePath = path
}

func (b *MemoryBackend) Insert(e Entry) error {
	if e.ID == "" {
		return fmt.Errorf("%w: empty row id", ErrInvalidEntry)
	}
	b.mu.Lock()
	defer b.mu.Unlock()

	if oldID, ok := b.byKey[e.CacheKey]; ok && oldID != e.ID {
		b.removeLocked(oldID)
	}
	if _, ok := b.rows[e.ID]; ok {
		b.removeLocked(e.ID)
	}
	b.addLocked(e)
	b.scheduleSaveLocked()
	return nil
}

func (b *MemoryBackend) Update(e Entry) error {
	b.mu.Lock()
	defer b.mu.Unlock()

	if _, ok := b.rows[e.ID]; !ok {
		return ErrNotFound
	}
	b.removeLocked(e.ID)
	if oldID, ok := b.byKey[e.CacheKey]; ok {
		b.removeLocked(oldID)
	}
	b.addLocked(e)
	b.scheduleSaveLocked()
	return nil
}

func (b *MemoryBackend) Delete(id string) error {
	b.mu.Lock()
	defer b.mu.Unlock()

	if _, ok := b.rows[id]; !ok {
		return ErrNotFound
	}
	b.removeLocked(id)
	b.scheduleSaveLocked()
	return nil
}

func (b *MemoryBackend) FindByKey(cacheKey string) (Entry, error) {
	b.mu.RLock()
	defer b.mu.RUnlock()

	id, ok := b.byKey[cacheKey]
	if !ok {
		return Entry{}, ErrNotFound
	}
	return b.rows[id], nil
}

func (b *MemoryBackend) FindByImage(imageURL string) ([]Entry, error) {
	b.mu.RLock()
	defer b.mu.RUnlock()

	ids := b.byImage[imageURL]
	res := make([]Entry, 0, len(ids))
	for id := range ids {
		res = append(res, b.rows[id])
	}
	sortByID(res)
	return res, nil
}

func (b *MemoryBackend) List() ([]Entry, error) {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return b.snapshotLocked(), nil
}

// Count returns the number of rows.
func (b *MemoryBackend) Count() int {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return len(b.rows)
}

// Close flushes any pending debounced save.
func (b *MemoryBackend) Close() error {
	b.saveMu.Lock()
	pending := b.saveTimer != nil && b.saveTimer.Stop()
	b.saveTimer = nil
	b.saveMu.Unlock()

	if pending {
		b.SaveCache()
	}
	return nil
}

// addLocked stores e and indexes it.
// CALLER MUST HOLD b.mu.Lock()
func (b *MemoryBackend) addLocked(e Entry) {
	b.rows[e.ID] = e
	b.byKey[e.CacheKey] = e.ID
	ids, ok := b.byImage[e.ImageURL]
	if !ok {
		ids = make(map[string]struct{})
		b.byImage[e.ImageURL] = ids
	}
	ids[e.ID] = struct{}{}
}

// removeLocked drops a row and its index entries.
// CALLER MUST HOLD b.mu.Lock()
func (b *MemoryBackend) removeLocked(id string) {
	e, ok := b.rows[id]
	if !ok {
		return
	}
	delete(b.rows, id)
	if b.byKey[e.CacheKey] == id {
		delete(b.byKey, e.CacheKey)
	}
	if ids, ok := b.byImage[e.ImageURL]; ok {
		delete(ids, id)
		if len(ids) == 0 {
			delete(b.byImage, e.ImageURL)
		}
	}
}

func (b *MemoryBackend) snapshotLocked() []Entry {
	res := make([]Entry, 0, len(b.rows))
	for _, e := range b.rows {
		res = append(res, e)
	}
	sortByID(res)
	return res
}

// scheduleSaveLocked handles persistence.
// CALLER MUST HOLD b.mu.Lock()
func (b *MemoryBackend) scheduleSaveLocked() {
	if b.cachePath == "" && b.saveFunc == nil {
		return
	}
	if !b.asyncSave {
		// Sync mode: snapshot while locked and save immediately.
		b.saveCacheInternal(b.snapshotLocked())
		return
	}

	b.saveMu.Lock()
	defer b.saveMu.Unlock()

	if b.saveTimer != nil {
		b.saveTimer.Stop()
	}
	b.saveTimer = time.AfterFunc(b.debounceDuration, func() {
		b.SaveCache()
	})
}

// LoadCache replaces the in-memory rows with the contents of the cache file.
// A missing file is not an error.
func (b *MemoryBackend) LoadCache() error {
	b.mu.Lock()
	defer b.mu.Unlock()

	if b.cachePath == "" {
		return nil
	}

	file, err := os.Open(b.cachePath)
	if err != nil {
		if os.IsNotExist(err) {
			return nil
		}
		return err
	}
	defer file.Close()

	var entries []Entry
	if err := json.NewDecoder(file).Decode(&entries); err != nil {
		return fmt.Errorf("decoding crop cache %s: %w", b.cachePath, err)
	}

	b.rows = make(map[string]Entry, len(entries))
	b.byKey = make(map[string]string, len(entries))
	b.byImage = make(map[string]map[string]struct{})
	for _, e := range entries {
		if oldID, ok := b.byKey[e.CacheKey]; ok {
			b.removeLocked(oldID)
		}
		b.addLocked(e)
	}
	return nil
}

// SaveCache writes all rows to the cache file.
func (b *MemoryBackend) SaveCache() {
	b.mu.RLock()
	snapshot := b.snapshotLocked()
	b.mu.RUnlock()

	b.saveCacheInternal(snapshot)
}

func (b *MemoryBackend) saveCacheInternal(entries []Entry) {
	if b.saveFunc != nil {
		b.saveFunc()
	}

	if b.cachePath == "" {
		return
	}

	tmp := b.cachePath + ".tmp"
	file, err := os.Create(tmp)
	if err != nil {
		log.Printf("CropCache: Failed to save cache: %v", err)
		return
	}

	encoder := json.NewEncoder(file)
	encoder.SetIndent("", "  ")
	if err := encoder.Encode(entries); err != nil {
		file.Close()
		log.Printf("CropCache: Failed to encode cache: %v", err)
		return
	}
	file.Close()

	if err := os.Rename(tmp, b.cachePath); err != nil {
		log.Printf("CropCache: Failed to rename cache: %v", err)
	}
}

func sortByID(entries []Entry) {
	sort.Slice(entries, func(i, j int) bool { return entries[i].ID < entries[j].ID })
}
