package collector

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/cuong-tay/web-trade-crypto-sub000/internal/domain"
)

func TestConvertIntervalToBybit(t *testing.T) {
	want := map[domain.Granularity]string{
		domain.Granularity1m:  "1",
		domain.Granularity5m:  "5",
		domain.Granularity15m: "15",
		domain.Granularity1h:  "60",
		domain.Granularity4h:  "240",
		domain.Granularity1d:  "D",
	}
	for _, g := range domain.Granularities() {
		t.Run(g.String(), func(t *testing.T) {
			got, err := convertIntervalToBybit(g.String())
			require.NoError(t, err)
			assert.Equal(t, want[g], got)
		})
	}

	for _, bad := range []string{"", "1", "1x", "m", "xh"} {
		t.Run("invalid "+bad, func(t *testing.T) {
			_, err := convertIntervalToBybit(bad)
			assert.Error(t, err)
		})
	}
}

func TestParseTimestamp(t *testing.T) {
	ts, err := parseTimestamp("1672531200000")
	require.NoError(t, err)
	assert.Equal(t, int64(1672531200000), ts.UnixMilli())

	_, err = parseTimestamp("")
	assert.Error(t, err)

	_, err = parseTimestamp("abc")
	assert.Error(t, err)
}
