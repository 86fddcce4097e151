package thumbnails

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestPositionsSingleStillLandsAtQuarterMark(t *testing.T) {
	positions := Positions(100, 1)
	require.Equal(t, []float64{25}, positions)
}

func TestPositionsSpreadAcrossMiddleSpan(t *testing.T) {
	positions := Positions(100, 3)
	require.Len(t, positions, 3)
	require.InDelta(t, 10, positions[0], 0.0001)
	require.InDelta(t, 50, positions[1], 0.0001)
	require.InDelta(t, 90, positions[2], 0.0001)
}

func TestPositionsAreMonotonicallyIncreasing(t *testing.T) {
	positions := Positions(637.5, 7)
	require.Len(t, positions, 7)
	for i := 1; i < len(positions); i++ {
		require.Greater(t, positions[i], positions[i-1])
	}
	// never captures at the very start or end
	require.Greater(t, positions[0], 0.0)
	require.Less(t, positions[len(positions)-1], 637.5)
}

func TestPositionsDegenerateInputs(t *testing.T) {
	require.Nil(t, Positions(100, 0))
	require.Nil(t, Positions(100, -1))
	require.Nil(t, Positions(0, 3))
	require.Nil(t, Positions(-5, 3))
}

func TestStillName(t *testing.T) {
	require.Equal(t, "thumbnail_0.jpg", StillName(0))
	require.Equal(t, "thumbnail_12.jpg", StillName(12))
}
