package util

import (
	"fmt"
	"strconv"
	"strings"
	"time"
)

// OptionContract is the result of parsing an OCC-style option symbol.
type OptionContract struct {
	Ticker      string
	Expiry      time.Time
	OptionType  string // "Call" or "Put"
	StrikePrice float64
}

// ExpiryISO returns the expiry formatted as YYYY-MM-DD.
func (c *OptionContract) ExpiryISO() string {
	return c.Expiry.Format("2006-01-02")
}

// ParseOptionSymbol parses a standard option symbol such as
// "HIMS  251017P00037000" into its components (HIMS, 2025-10-17, Put,
// $37.00). Returns an error for malformed symbols; callers treat that as a
// data inconsistency, not a fatal condition.
func ParseOptionSymbol(symbol string) (*OptionContract, error) {
	parts := strings.Fields(strings.TrimSpace(symbol))
	if len(parts) < 2 {
		return nil, fmt.Errorf("option symbol %q: missing option code", symbol)
	}
	ticker := parts[0]
	code := parts[len(parts)-1]

	// YYMMDDX######## = 15 chars minimum
	if len(code) < 15 {
		return nil, fmt.Errorf("option symbol %q: code too short", symbol)
	}

	expiry, err := time.Parse("060102", code[0:6])
	if err != nil {
		return nil, fmt.Errorf("option symbol %q: bad expiry: %w", symbol, err)
	}

	var optType string
	switch code[6] {
	case 'P':
		optType = "Put"
	case 'C':
		optType = "Call"
	default:
		return nil, fmt.Errorf("option symbol %q: bad type %q", symbol, code[6])
	}

	// Strike is encoded in thousandths of a dollar.
	strikeRaw, err := strconv.Atoi(code[7:15])
	if err != nil {
		return nil, fmt.Errorf("option symbol %q: bad strike: %w", symbol, err)
	}

	return &OptionContract{
		Ticker:      ticker,
		Expiry:      expiry,
		OptionType:  optType,
		StrikePrice: float64(strikeRaw) / 1000.0,
	}, nil
}
