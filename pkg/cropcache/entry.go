package cropcache

import (
	"encoding/json"
	"time"

	"github.com/dlevesque1980/dailywallpaper-sub001/pkg/crop"
)

// Entry is one cached crop decision.
type Entry struct {
	ID             string           `json:"id"`
	CacheKey       string           `json:"cache_key"`
	ImageURL       string           `json:"image_url"`
	TargetWidth    int              `json:"target_width"`
	TargetHeight   int              `json:"target_height"`
	SettingsHash   string           `json:"settings_hash"`
	Coordinates    crop.Coordinates `json:"coordinates"`
	CreatedAt      time.Time        `json:"created_at"`
	LastAccessedAt time.Time        `json:"last_accessed_at"`
	AccessCount    int              `json:"access_count"`
}

// NewEntry builds an entry for a freshly computed decision.
func NewEntry(imageURL string, target crop.Size, settings crop.Settings, coords crop.Coordinates, now time.Time) Entry {
	return Entry{
		CacheKey:       DeriveKey(imageURL, target, settings),
		ImageURL:       imageURL,
		TargetWidth:    target.Width,
		TargetHeight:   target.Height,
		SettingsHash:   SettingsHash(settings),
		Coordinates:    coords,
		CreatedAt:      now,
		LastAccessedAt: now,
		AccessCount:    1,
	}
}

// Target returns the entry's target size.
func (e Entry) Target() crop.Size {
	return crop.Size{Width: e.TargetWidth, Height: e.TargetHeight}
}

// touched returns the copy persisted on a cache hit.
func (e Entry) touched(now time.Time) Entry {
	if now.Before(e.CreatedAt) {
		now = e.CreatedAt
	}
	e.LastAccessedAt = now
	e.AccessCount++
	return e
}

// approxSize is the encoded size of the entry, used for statistics.
func (e Entry) approxSize() int64 {
	b, err := json.Marshal(e)
	if err != nil {
		return 0
	}
	return int64(len(b))
}
