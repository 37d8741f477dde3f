package cropcache

import (
	"crypto/sha256"
	"encoding/binary"
	"encoding/hex"
	"hash"

	"github.com/dlevesque1980/dailywallpaper-sub001/pkg/crop"
)

// keyVersion prefixes every key encoding; changing it orphans all existing entries.
const keyVersion = "cropcache/v2"

// DeriveKey fingerprints an (image, target size, settings) combination.
// Each field is length-prefixed so that no two distinct inputs share an encoding.
func DeriveKey(imageURL string, target crop.Size, settings crop.Settings) string {
	return DeriveTunedKey(imageURL, target, settings, "")
}

// DeriveTunedKey is DeriveKey with the analyzer tuning fingerprint folded in.
// An empty tuning yields the same key as DeriveKey.
func DeriveTunedKey(imageURL string, target crop.Size, settings crop.Settings, tuning string) string {
	h := sha256.New()
	writeField(h, []byte(keyVersion))
	writeField(h, []byte(imageURL))

	var dims [16]byte
	binary.BigEndian.PutUint64(dims[:8], uint64(int64(target.Width)))
	binary.BigEndian.PutUint64(dims[8:], uint64(int64(target.Height)))
	h.Write(dims[:])

	writeField(h, settings.Canonical())
	writeField(h, []byte(tuning))
	return hex.EncodeToString(h.Sum(nil))
}

// SettingsHash returns the digest stored alongside entries for diagnostics.
func SettingsHash(settings crop.Settings) string {
	return settings.Hash()
}

// imageHash is used by the badger index so arbitrary URLs never leak into key prefixes.
func imageHash(imageURL string) string {
	sum := sha256.Sum256([]byte(imageURL))
	return hex.EncodeToString(sum[:16])
}

func writeField(h hash.Hash, b []byte) {
	var n [8]byte
	binary.BigEndian.PutUint64(n[:], uint64(len(b)))
	h.Write(n[:])
	h.Write(b)
}
