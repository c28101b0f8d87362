package pnl

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/eddiefleurent/wheelhouse/internal/models"
)

var calcNow = time.Date(2025, 6, 1, 0, 0, 0, 0, time.UTC)

func TestCalculateBasicPnLShortPutDecay(t *testing.T) {
	// Premium decayed from 3.50 to 1.25; the seller keeps the difference.
	res := CalculateBasicPnL(Short, -1, 3.50, 1.25, DefaultMultiplier)
	assert.InDelta(t, 225.00, res.ProfitLoss, 1e-9)
	assert.InDelta(t, 350.00, res.CostBasis, 1e-9)
	assert.InDelta(t, 125.00, res.MarketValue, 1e-9)
	assert.InDelta(t, 64.29, res.ProfitLossPercent, 1e-9)
}

func TestCalculateBasicPnLLong(t *testing.T) {
	res := CalculateBasicPnL(Long, 2, 2.00, 3.00, DefaultMultiplier)
	assert.InDelta(t, 200.00, res.ProfitLoss, 1e-9)
	assert.InDelta(t, 50.00, res.ProfitLossPercent, 1e-9)
}

func TestCalculateBasicPnLShortLoss(t *testing.T) {
	// The short moved against the seller.
	res := CalculateBasicPnL(Short, -1, 1.00, 2.50, DefaultMultiplier)
	assert.InDelta(t, -150.00, res.ProfitLoss, 1e-9)
}

func TestCalculateBasicPnLZeroContracts(t *testing.T) {
	res := CalculateBasicPnL(Long, 0, 5.00, 3.00, DefaultMultiplier)
	assert.Zero(t, res.ProfitLoss)
	assert.Zero(t, res.ProfitLossPercent)
	assert.Zero(t, res.MarketValue)
	assert.Zero(t, res.CostBasis)
}

func TestCalculateBasicPnLDefaultsMultiplier(t *testing.T) {
	res := CalculateBasicPnL(Long, 1, 1.00, 2.00, 0)
	assert.InDelta(t, 100.00, res.ProfitLoss, 1e-9)
}

func TestCalculateStrategyPnLWheelPut(t *testing.T) {
	data := OptionData{
		Symbol:       "HIMS250815P00035000",
		Contracts:    -1,
		AveragePrice: 1.50,
		CurrentPrice: 0.75,
		OptionType:   models.OptionPut,
		StrikePrice:  35,
	}

	res := CalculateStrategyPnL(data, "wheel", calcNow)
	assert.InDelta(t, 75.00, res.ProfitLoss, 1e-9)
	assert.InDelta(t, 33.50, res.BreakevenPrice, 1e-9) // strike - premium
	require.NotNil(t, res.MaxProfit)
	assert.InDelta(t, 150.00, *res.MaxProfit, 1e-9)
	assert.Equal(t, models.RiskLow, res.RiskLevel)
	assert.Equal(t, "positive", res.TimeDecayImpact)
}

func TestCalculateStrategyPnLCoveredCall(t *testing.T) {
	data := OptionData{
		Contracts:    -2,
		AveragePrice: 1.10,
		CurrentPrice: 0.60,
		OptionType:   models.OptionCall,
		StrikePrice:  40,
	}

	res := CalculateStrategyPnL(data, "covered_call", calcNow)
	assert.InDelta(t, 41.10, res.BreakevenPrice, 1e-9) // strike + premium
	require.NotNil(t, res.MaxProfit)
	assert.InDelta(t, 220.00, *res.MaxProfit, 1e-9)
}

func TestCalculateStrategyPnLUnknownStrategy(t *testing.T) {
	res := CalculateStrategyPnL(OptionData{Contracts: 1, AveragePrice: 1, CurrentPrice: 1}, "", calcNow)
	assert.Equal(t, "unknown", res.StrategyType)
	assert.Equal(t, models.RiskMedium, res.RiskLevel)
	assert.Equal(t, "neutral", res.TimeDecayImpact)
	assert.Nil(t, res.MaxProfit)
}

func TestCalculatePortfolioPnL(t *testing.T) {
	positions := []OptionData{
		{Contracts: -1, AveragePrice: 3.50, CurrentPrice: 1.25, OptionType: models.OptionPut, StrikePrice: 100, StrategyType: "wheel"},
		{Contracts: -1, AveragePrice: 1.00, CurrentPrice: 2.50, OptionType: models.OptionCall, StrikePrice: 50, StrategyType: "covered_call"},
		{Contracts: 1, AveragePrice: 2.00, CurrentPrice: 2.00, StrategyType: "other"},
	}

	res := CalculatePortfolioPnL(positions, calcNow)
	assert.Equal(t, 3, res.PositionCount)
	assert.Equal(t, 1, res.WinningPositions)
	assert.Equal(t, 1, res.LosingPositions)
	assert.InDelta(t, 33.33, res.WinRatePercent, 1e-9)
	assert.InDelta(t, 75.00, res.TotalProfitLoss, 1e-9) // 225 - 150 + 0

	require.Len(t, res.StrategyBreakdown, 3)
	assert.InDelta(t, 225.00, res.StrategyBreakdown["wheel"].TotalPnL, 1e-9)
	assert.InDelta(t, -150.00, res.StrategyBreakdown["covered_call"].TotalPnL, 1e-9)
	assert.Equal(t, 1, res.StrategyBreakdown["other"].Count)
}

func TestCalculatePortfolioPnLEmpty(t *testing.T) {
	res := CalculatePortfolioPnL(nil, calcNow)
	assert.Zero(t, res.PositionCount)
	assert.Zero(t, res.WinRatePercent)
	assert.Zero(t, res.TotalProfitLoss)
}
