package crop

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseTuning(t *testing.T) {
	tc, err := ParseTuning(nil)
	require.NoError(t, err)
	assert.Equal(t, DefaultTuningConfig(), tc)

	tc, err = ParseTuning([]byte(`{"center_weight": 0.9, "edge_grid": 4}`))
	require.NoError(t, err)
	assert.Equal(t, 0.9, tc.CenterWeight)
	assert.Equal(t, 4, tc.EdgeGrid)
	assert.Equal(t, DefaultTuningConfig().ThirdsWeight, tc.ThirdsWeight)

	_, err = ParseTuning([]byte(`{"center_weight": "heavy"}`))
	assert.Error(t, err)
}

func TestTuningFingerprint(t *testing.T) {
	def := DefaultTuningConfig()
	assert.Equal(t, def.Fingerprint(), DefaultTuningConfig().Fingerprint())
	assert.Len(t, def.Fingerprint(), 16)

	tuned := def
	tuned.CenterWeight = 0.9
	assert.NotEqual(t, def.Fingerprint(), tuned.Fingerprint())
}
