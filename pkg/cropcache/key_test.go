package cropcache

import (
	"testing"

	"github.com/dlevesque1980/dailywallpaper-sub001/pkg/crop"
	"github.com/stretchr/testify/assert"
)

func TestDeriveKeyDeterministic(t *testing.T) {
	settings := crop.DefaultSettings()
	a := DeriveKey("https://example.com/a.jpg", crop.Size{Width: 1920, Height: 1080}, settings)
	b := DeriveKey("https://example.com/a.jpg", crop.Size{Width: 1920, Height: 1080}, crop.DefaultSettings())
	assert.Equal(t, a, b)
	assert.Len(t, a, 64)
}

func TestDeriveKeyChangesWithEveryField(t *testing.T) {
	url := "https://example.com/a.jpg"
	size := crop.Size{Width: 1920, Height: 1080}
	settings := crop.DefaultSettings()
	base := DeriveKey(url, size, settings)

	edge := settings
	edge.EdgeDetection = true
	aggressive := settings
	aggressive.Aggressiveness = crop.Aggressive

	variants := map[string]string{
		"image":          DeriveKey(url+"?v=2", size, settings),
		"width":          DeriveKey(url, crop.Size{Width: 1921, Height: 1080}, settings),
		"height":         DeriveKey(url, crop.Size{Width: 1920, Height: 1081}, settings),
		"swapped size":   DeriveKey(url, crop.Size{Width: 1080, Height: 1920}, settings),
		"toggle":         DeriveKey(url, size, edge),
		"aggressiveness": DeriveKey(url, size, aggressive),
	}
	seen := map[string]string{base: "base"}
	for name, key := range variants {
		prev, dup := seen[key]
		assert.False(t, dup, "%s collides with %s", name, prev)
		seen[key] = name
	}
}

func TestDeriveTunedKey(t *testing.T) {
	url := "https://example.com/a.jpg"
	size := crop.Size{Width: 1920, Height: 1080}
	settings := crop.DefaultSettings()

	assert.Equal(t, DeriveKey(url, size, settings), DeriveTunedKey(url, size, settings, ""))

	def := crop.DefaultTuningConfig()
	tuned := def
	tuned.ThirdsWeight = 0.2
	a := DeriveTunedKey(url, size, settings, def.Fingerprint())
	b := DeriveTunedKey(url, size, settings, tuned.Fingerprint())
	assert.NotEqual(t, a, b)
	assert.NotEqual(t, DeriveKey(url, size, settings), a)
}

func TestSettingsHash(t *testing.T) {
	assert.Equal(t, crop.DefaultSettings().Hash(), SettingsHash(crop.DefaultSettings()))
}
