package symbol

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"optionsmetrics/internal/domain/options"
)

func TestParse(t *testing.T) {
	tests := []struct {
		name   string
		symbol string
		strike float64
		expiry string
		typ    options.OptionType
	}{
		{"bybit month format call", "BTC-27DEC24-100000-C", 100000, "2024-12-27", options.Call},
		{"bybit month format put", "ETH-28MAR25-3500-P", 3500, "2025-03-28", options.Put},
		{"settle suffix", "SOL-26SEP25-180-C-USDT", 180, "2025-09-26", options.Call},
		{"compact date", "ETH-20250627-3500-P", 3500, "2025-06-27", options.Put},
		{"iso date", "BTC-2025-06-27-65000-C", 65000, "2025-06-27", options.Call},
		{"four digit year", "BTC-5JAN2026-90000-P", 90000, "2026-01-05", options.Put},
		{"decimal strike", "XRP-27DEC24-2.5-C", 2.5, "2024-12-27", options.Call},
		{"trailing type letter", "BTC-27DEC24-100000C", 100000, "2024-12-27", options.Call},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			id := Parse(tt.symbol)

			require.NotNil(t, id.Strike)
			assert.InDelta(t, tt.strike, *id.Strike, 1e-9)
			require.NotNil(t, id.Expiry)
			assert.Equal(t, tt.expiry, id.Expiry.Format("2006-01-02"))
			assert.Equal(t, tt.typ, id.Type)
		})
	}
}

func TestParse_Unresolvable(t *testing.T) {
	id := Parse("")
	assert.Nil(t, id.Strike)
	assert.Nil(t, id.Expiry)
	assert.Equal(t, options.Unknown, id.Type)

	id = Parse("BTC-PERPETUAL")
	assert.Nil(t, id.Strike)
	assert.Nil(t, id.Expiry)
	assert.Equal(t, options.Unknown, id.Type, "asset ticker ending in C must not read as a call")

	id = Parse("BTC-31FEB25-50000-C")
	assert.Nil(t, id.Expiry, "impossible calendar dates are rejected")
	require.NotNil(t, id.Strike)
	assert.Equal(t, 50000.0, *id.Strike)
}

func TestExpiryFromDeliveryTime(t *testing.T) {
	want := time.Date(2025, 12, 26, 0, 0, 0, 0, time.UTC)

	for _, in := range []string{
		"1766736000000", // ms
		"1766736000",    // s
		"2025-12-26T08:00:00Z",
		"2025-12-26T08:00:00",
		"2025-12-26 08:00:00",
		"2025-12-26",
	} {
		got := ExpiryFromDeliveryTime(in)
		require.NotNil(t, got, in)
		assert.True(t, want.Equal(*got), "%s -> %s", in, got)
	}

	assert.Nil(t, ExpiryFromDeliveryTime(""))
	assert.Nil(t, ExpiryFromDeliveryTime("not-a-date"))
}
