package util

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseOptionSymbol(t *testing.T) {
	tests := []struct {
		symbol string
		ticker string
		expiry string
		typ    string
		strike float64
	}{
		{"HIMS  251017P00037000", "HIMS", "2025-10-17", "Put", 37.00},
		{"HIMS  251017C00040000", "HIMS", "2025-10-17", "Call", 40.00},
		{"SOFI  260116P00012500", "SOFI", "2026-01-16", "Put", 12.50},
	}
	for _, tt := range tests {
		t.Run(tt.symbol, func(t *testing.T) {
			c, err := ParseOptionSymbol(tt.symbol)
			require.NoError(t, err)
			assert.Equal(t, tt.ticker, c.Ticker)
			assert.Equal(t, tt.expiry, c.ExpiryISO())
			assert.Equal(t, tt.typ, c.OptionType)
			assert.InDelta(t, tt.strike, c.StrikePrice, 1e-9)
		})
	}
}

func TestParseOptionSymbolMalformed(t *testing.T) {
	tests := []struct {
		name   string
		symbol string
	}{
		{"plain ticker", "HIMS"},
		{"short code", "HIMS 2510"},
		{"bad type letter", "HIMS  251017X00037000"},
		{"bad expiry", "HIMS  99ab17P00037000"},
		{"bad strike", "HIMS  251017P000370ab"},
		{"empty", ""},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := ParseOptionSymbol(tt.symbol)
			assert.Error(t, err)
		})
	}
}
