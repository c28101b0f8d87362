// Package pnl computes position-level and portfolio-level profit and loss
// for option positions, with strategy-aware breakeven and max-profit
// annotations. All functions are pure; prices are supplied by callers.
package pnl

import (
	"time"

	"github.com/eddiefleurent/wheelhouse/internal/models"
	"github.com/eddiefleurent/wheelhouse/internal/util"
)

// PositionType declares the direction of a position when the contract sign
// alone cannot (zero contracts).
type PositionType string

const (
	Long  PositionType = "long"
	Short PositionType = "short"
)

// DefaultMultiplier is the standard equity option contract multiplier.
const DefaultMultiplier = 100

// BasicPnL is the result of a basic P&L calculation. Monetary values are
// rounded to cents.
type BasicPnL struct {
	ProfitLoss        float64 `json:"profit_loss"`
	ProfitLossPercent float64 `json:"profit_loss_percent"`
	MarketValue       float64 `json:"market_value"`
	CostBasis         float64 `json:"cost_basis"`
}

// CalculateBasicPnL computes P&L for an option position.
//
// Contracts are signed: positive = long, negative = short. When contracts
// are zero the declared positionType breaks the tie, though every output is
// zero in that case anyway. Percent is defined as 0 when cost basis is 0;
// a zero-sized position is not a division error.
func CalculateBasicPnL(positionType PositionType, contracts, averagePrice, currentPrice float64, multiplier int) BasicPnL {
	if multiplier <= 0 {
		multiplier = DefaultMultiplier
	}
	absContracts := contracts
	if absContracts < 0 {
		absContracts = -absContracts
	}

	costBasis := averagePrice * absContracts * float64(multiplier)
	marketValue := currentPrice * absContracts * float64(multiplier)

	var profitLoss float64
	if contracts > 0 || (contracts == 0 && positionType != Short) {
		// Long: profit when current > average.
		profitLoss = marketValue - costBasis
	} else {
		// Short: profit when current < average (sold high, buy back low).
		profitLoss = costBasis - marketValue
	}

	var pct float64
	if costBasis > 0 {
		pct = profitLoss / costBasis * 100
	}

	return BasicPnL{
		ProfitLoss:        util.RoundToCent(profitLoss),
		ProfitLossPercent: util.RoundToCent(pct),
		MarketValue:       util.RoundToCent(marketValue),
		CostBasis:         util.RoundToCent(costBasis),
	}
}

// OptionData describes one option position for strategy-aware P&L.
type OptionData struct {
	Symbol       string
	Contracts    float64 // signed: negative = short
	AveragePrice float64 // per share
	CurrentPrice float64 // per share
	OptionType   models.OptionType
	StrikePrice  float64
	StrategyType string // wheel, covered_call, pmcc, ...
}

// StrategyPnL enriches BasicPnL with strategy insights.
type StrategyPnL struct {
	BasicPnL
	RiskLevel       models.RiskLevel `json:"risk_level"`
	TimeDecayImpact string           `json:"time_decay_impact"` // positive, neutral, negative
	BreakevenPrice  float64          `json:"breakeven_price"`
	MaxProfit       *float64         `json:"max_profit,omitempty"`
	StrategyNotes   string           `json:"strategy_notes,omitempty"`
	StrategyType    string           `json:"strategy_type"`
	CalculatedAt    time.Time        `json:"calculation_timestamp"`
}

// CalculateStrategyPnL wraps the basic calculation with fixed per-strategy
// breakeven and max-profit formulas.
func CalculateStrategyPnL(data OptionData, strategyType string, now time.Time) StrategyPnL {
	positionType := Long
	if data.Contracts <= 0 {
		positionType = Short
	}
	basic := CalculateBasicPnL(positionType, data.Contracts, data.AveragePrice, data.CurrentPrice, DefaultMultiplier)

	out := StrategyPnL{
		BasicPnL:        basic,
		RiskLevel:       models.RiskMedium,
		TimeDecayImpact: "neutral",
		StrategyType:    strategyType,
		CalculatedAt:    now,
	}
	if out.StrategyType == "" {
		out.StrategyType = "unknown"
	}

	absContracts := data.Contracts
	if absContracts < 0 {
		absContracts = -absContracts
	}
	short := data.Contracts < 0

	switch {
	case strategyType == "wheel" && data.OptionType == models.OptionPut && short:
		// Cash-secured put: premium is the max gain, assignment at strike
		// the downside.
		maxProfit := util.RoundToCent(data.AveragePrice * absContracts * DefaultMultiplier)
		out.RiskLevel = models.RiskLow
		out.TimeDecayImpact = "positive"
		out.BreakevenPrice = data.StrikePrice - data.AveragePrice
		out.MaxProfit = &maxProfit
		out.StrategyNotes = "Cash-secured put - profit from premium, assignment at strike"
	case strategyType == "covered_call" && data.OptionType == models.OptionCall && short:
		maxProfit := util.RoundToCent(data.AveragePrice * absContracts * DefaultMultiplier)
		out.RiskLevel = models.RiskLow
		out.TimeDecayImpact = "positive"
		out.BreakevenPrice = data.StrikePrice + data.AveragePrice
		out.MaxProfit = &maxProfit
		out.StrategyNotes = "Covered call - income strategy with upside cap"
	case strategyType == "pmcc":
		out.StrategyNotes = "PMCC - synthetic covered call using long call"
	}

	return out
}

// StrategyBucket aggregates portfolio P&L per strategy.
type StrategyBucket struct {
	Count      int     `json:"count"`
	TotalPnL   float64 `json:"total_pnl"`
	TotalValue float64 `json:"total_value"`
}

// PortfolioPnL aggregates P&L across positions.
type PortfolioPnL struct {
	TotalProfitLoss        float64                   `json:"total_profit_loss"`
	TotalProfitLossPercent float64                   `json:"total_profit_loss_percent"`
	TotalMarketValue       float64                   `json:"total_market_value"`
	TotalCostBasis         float64                   `json:"total_cost_basis"`
	PositionCount          int                       `json:"position_count"`
	WinningPositions       int                       `json:"winning_positions"`
	LosingPositions        int                       `json:"losing_positions"`
	WinRatePercent         float64                   `json:"win_rate_percent"`
	StrategyBreakdown      map[string]StrategyBucket `json:"strategy_breakdown"`
	CalculatedAt           time.Time                 `json:"calculation_timestamp"`
}

// CalculatePortfolioPnL sums P&L, cost basis, and market value across
// positions, tracking win rate and a per-strategy breakdown.
func CalculatePortfolioPnL(positions []OptionData, now time.Time) PortfolioPnL {
	out := PortfolioPnL{
		PositionCount:     len(positions),
		StrategyBreakdown: make(map[string]StrategyBucket),
		CalculatedAt:      now,
	}

	for _, p := range positions {
		res := CalculateStrategyPnL(p, p.StrategyType, now)

		out.TotalProfitLoss += res.ProfitLoss
		out.TotalCostBasis += res.CostBasis
		out.TotalMarketValue += res.MarketValue

		if res.ProfitLoss > 0 {
			out.WinningPositions++
		} else if res.ProfitLoss < 0 {
			out.LosingPositions++
		}

		bucket := out.StrategyBreakdown[res.StrategyType]
		bucket.Count++
		bucket.TotalPnL = util.RoundToCent(bucket.TotalPnL + res.ProfitLoss)
		bucket.TotalValue = util.RoundToCent(bucket.TotalValue + res.MarketValue)
		out.StrategyBreakdown[res.StrategyType] = bucket
	}

	if out.TotalCostBasis > 0 {
		out.TotalProfitLossPercent = util.RoundToCent(out.TotalProfitLoss / out.TotalCostBasis * 100)
	}
	if out.PositionCount > 0 {
		out.WinRatePercent = util.RoundToCent(float64(out.WinningPositions) / float64(out.PositionCount) * 100)
	}
	out.TotalProfitLoss = util.RoundToCent(out.TotalProfitLoss)
	out.TotalCostBasis = util.RoundToCent(out.TotalCostBasis)
	out.TotalMarketValue = util.RoundToCent(out.TotalMarketValue)

	return out
}
