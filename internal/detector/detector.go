// Package detector classifies current brokerage positions into wheel
// strategy patterns with confidence scoring and risk assessment.
//
// Classification is a priority-ordered, mutually exclusive rule list:
// full_wheel, then covered_call, then cash_secured_put, then naked_stock.
// First match wins; the ordering is a business rule, not an accident.
package detector

import (
	"context"
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/eddiefleurent/wheelhouse/internal/models"
)

// BrokeragePosition is one position-table row exactly as the brokerage
// boundary exposes it, before sign normalization.
type BrokeragePosition struct {
	ID               string
	Symbol           string
	UnderlyingSymbol string
	AssetType        string // EQUITY | OPTION
	OptionType       models.OptionType
	StrikePrice      float64
	ExpirationDate   string
	LongQuantity     float64
	ShortQuantity    float64
	MarketValue      float64
	AveragePrice     float64
	DataSource       string
}

// PositionSource supplies current positions for detection.
type PositionSource interface {
	ListActivePositions(ctx context.Context, accountID string, tickers []string) ([]BrokeragePosition, error)
}

// Normalize converts a brokerage row to the signed-net convention the
// detection pipeline depends on: negative contracts/shares mean short.
// Done once, here, so nothing downstream second-guesses signs.
func (b *BrokeragePosition) Normalize() models.PositionForDetection {
	net := b.LongQuantity - b.ShortQuantity
	p := models.PositionForDetection{
		ID:               b.ID,
		Symbol:           b.Symbol,
		Shares:           net,
		IsOption:         b.AssetType == "OPTION",
		UnderlyingSymbol: b.UnderlyingSymbol,
		StrikePrice:      b.StrikePrice,
		ExpirationDate:   b.ExpirationDate,
		MarketValue:      b.MarketValue,
		Source:           b.DataSource,
	}
	if p.Source == "" {
		p.Source = "unknown"
	}
	if p.IsOption {
		p.Contracts = net
		p.OptionType = models.OptionType(strings.ToUpper(string(b.OptionType)))
	}
	return p
}

// GroupPositionsByTicker groups positions by underlying symbol for options
// and symbol for stock, so an option and its underlying's stock share a
// group.
func GroupPositionsByTicker(positions []models.PositionForDetection) map[string][]models.PositionForDetection {
	grouped := make(map[string][]models.PositionForDetection)
	for i := range positions {
		key := positions[i].TickerKey()
		grouped[key] = append(grouped[key], positions[i])
	}
	return grouped
}

// snapshot is the pre-processed view of one ticker's positions that the
// classification rules and result builders consume.
type snapshot struct {
	ticker           string
	positions        []models.EnhancedPosition
	totalStockShares float64
	shortCallCount   int
	shortPutCount    int
	optionCount      int
	opts             *models.DetectionOptions
}

func (s *snapshot) cashBalance() float64 {
	if s.opts != nil && s.opts.CashBalance != nil {
		return *s.opts.CashBalance
	}
	return 0
}

func (s *snapshot) marketContext() *models.MarketContext {
	if s.opts != nil {
		return s.opts.MarketData
	}
	return nil
}

func (s *snapshot) shortPuts() []models.EnhancedPosition {
	var out []models.EnhancedPosition
	for i := range s.positions {
		if s.positions[i].Type == "put" && s.positions[i].IsShort() {
			out = append(out, s.positions[i])
		}
	}
	return out
}

// rule pairs a strategy predicate with its result builder. Rules are
// evaluated in slice order and the first match wins.
type rule struct {
	strategy models.WheelStrategy
	matches  func(s *snapshot) bool
	build    func(s *snapshot) *models.WheelDetectionResult
}

func classificationRules() []rule {
	return []rule{
		{
			strategy: models.StrategyFullWheel,
			matches: func(s *snapshot) bool {
				return s.totalStockShares >= models.SharesPerContract && s.shortCallCount > 0 && s.shortPutCount > 0
			},
			build: buildFullWheel,
		},
		{
			strategy: models.StrategyCoveredCall,
			matches: func(s *snapshot) bool {
				return s.totalStockShares >= models.SharesPerContract && s.shortCallCount > 0
			},
			build: buildCoveredCall,
		},
		{
			strategy: models.StrategyCashSecuredPut,
			matches: func(s *snapshot) bool {
				// Checked even with zero shares: a lone short put is a
				// wheel in its opening phase.
				return s.shortPutCount > 0
			},
			build: buildCashSecuredPut,
		},
		{
			strategy: models.StrategyNakedStock,
			matches: func(s *snapshot) bool {
				return s.totalStockShares >= models.SharesPerContract && s.optionCount == 0
			},
			build: buildNakedStock,
		},
	}
}

// AnalyzeTickerPositions classifies one ticker's position snapshot.
// Returns nil when no wheel strategy pattern matches; "no opportunity" is
// a normal outcome, not an error.
func AnalyzeTickerPositions(ticker string, positions []models.PositionForDetection, opts *models.DetectionOptions, now time.Time) *models.WheelDetectionResult {
	if len(positions) == 0 {
		return nil
	}

	s := &snapshot{
		ticker: ticker,
		opts:   opts,
	}
	for i := range positions {
		p := &positions[i]
		s.positions = append(s.positions, enhance(p, now))
		if p.IsOption {
			s.optionCount++
			if p.Contracts < 0 {
				switch p.OptionType {
				case models.OptionCall:
					s.shortCallCount++
				case models.OptionPut:
					s.shortPutCount++
				}
			}
		} else {
			s.totalStockShares += p.Shares
		}
	}

	for _, r := range classificationRules() {
		if r.matches(s) {
			return r.build(s)
		}
	}
	return nil
}

// enhance builds the per-position result view, deriving display type,
// direction, and days to expiration.
func enhance(p *models.PositionForDetection, now time.Time) models.EnhancedPosition {
	typ := "stock"
	raw := p.Shares
	short := p.Shares < 0
	if p.IsOption {
		raw = p.Contracts
		short = p.Contracts < 0
		if p.OptionType == models.OptionCall {
			typ = "call"
		} else {
			typ = "put"
		}
	}

	direction := "long"
	if short {
		direction = "short"
	}
	qty := raw
	if qty < 0 {
		qty = -qty
	}

	e := models.EnhancedPosition{
		Type:           typ,
		Symbol:         p.Symbol,
		Quantity:       qty,
		Position:       direction,
		StrikePrice:    p.StrikePrice,
		ExpirationDate: p.ExpirationDate,
		MarketValue:    p.MarketValue,
		RawQuantity:    raw,
		OptionType:     p.OptionType,
		Source:         p.Source,
	}
	if p.ExpirationDate != "" {
		dte := DaysToExpiration(p.ExpirationDate, now)
		e.DaysToExpiration = &dte
	}
	return e
}

// DetectWheelStrategies is the top-level batch entry: load active
// positions, group by ticker, classify each group, and sort results by
// strategy priority then descending confidence so the most actionable
// opportunities surface first.
func DetectWheelStrategies(ctx context.Context, req models.DetectionRequest, source PositionSource, now time.Time) ([]models.WheelDetectionResult, error) {
	rows, err := source.ListActivePositions(ctx, req.AccountID, req.SpecificTickers)
	if err != nil {
		return nil, fmt.Errorf("loading positions: %w", err)
	}

	wanted := make(map[string]bool, len(req.SpecificTickers))
	for _, t := range req.SpecificTickers {
		wanted[strings.ToUpper(t)] = true
	}

	var positions []models.PositionForDetection
	for i := range rows {
		p := rows[i].Normalize()
		if len(wanted) > 0 && !wanted[strings.ToUpper(p.TickerKey())] {
			continue
		}
		positions = append(positions, p)
	}
	if len(positions) == 0 {
		return []models.WheelDetectionResult{}, nil
	}

	results := []models.WheelDetectionResult{}
	for ticker, group := range GroupPositionsByTicker(positions) {
		if res := AnalyzeTickerPositions(ticker, group, req.Options, now); res != nil {
			results = append(results, *res)
		}
	}

	sort.Slice(results, func(i, j int) bool {
		pi, pj := results[i].Strategy.Priority(), results[j].Strategy.Priority()
		if pi != pj {
			return pi < pj
		}
		if results[i].ConfidenceScore != results[j].ConfidenceScore {
			return results[i].ConfidenceScore > results[j].ConfidenceScore
		}
		return results[i].Ticker < results[j].Ticker
	})
	return results, nil
}
