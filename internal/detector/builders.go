package detector

import (
	"fmt"

	"github.com/eddiefleurent/wheelhouse/internal/models"
)

// Recommendation and action tables are fixed lookup content keyed by
// strategy, not computed.

func buildFullWheel(s *snapshot) *models.WheelDetectionResult {
	cashRequired := CalculateCashRequired(s.shortPuts())
	confidence, score := CalculateConfidenceScore(models.StrategyFullWheel, s.positions, cashRequired, s.cashBalance(), s.marketContext())

	var stockShares float64
	for i := range s.positions {
		if s.positions[i].Type == "stock" {
			stockShares += s.positions[i].Quantity
		}
	}

	return &models.WheelDetectionResult{
		Ticker:          s.ticker,
		Strategy:        models.StrategyFullWheel,
		Confidence:      confidence,
		ConfidenceScore: score,
		Description: fmt.Sprintf("Complete wheel strategy: %.0f shares with covered call and put-selling capability",
			stockShares),
		CashRequired:   cashRequired,
		CashValidated:  s.validateCash(cashRequired),
		RiskAssessment: AssessRisk(models.StrategyFullWheel, s.positions, s.opts),
		Positions:      s.positions,
		Recommendations: []string{
			"Monitor covered call for expiration or early assignment",
			"Consider rolling call option if needed",
			"Look for opportunities to sell additional puts if assigned",
		},
		PotentialActions: []models.PotentialAction{
			{Action: "roll_call", Description: "Roll covered call to later expiration", Priority: "high"},
			{Action: "close_call", Description: "Buy back call option for profit", Priority: "medium"},
			{Action: "sell_put", Description: "Sell additional cash-secured puts", Priority: "low"},
		},
		MarketContext: s.marketContext(),
	}
}

func buildCoveredCall(s *snapshot) *models.WheelDetectionResult {
	confidence, score := CalculateConfidenceScore(models.StrategyCoveredCall, s.positions, 0, s.cashBalance(), s.marketContext())

	shortCalls := 0
	for i := range s.positions {
		if s.positions[i].Type == "call" && s.positions[i].IsShort() {
			shortCalls++
		}
	}

	return &models.WheelDetectionResult{
		Ticker:          s.ticker,
		Strategy:        models.StrategyCoveredCall,
		Confidence:      confidence,
		ConfidenceScore: score,
		Description: fmt.Sprintf("Covered call position: %.0f shares with %d short call(s)",
			s.totalStockShares, shortCalls),
		RiskAssessment: AssessRisk(models.StrategyCoveredCall, s.positions, s.opts),
		Positions:      s.positions,
		Recommendations: []string{
			"Monitor for potential assignment at expiration",
			"Consider rolling call if wanting to keep shares",
			"Could evolve into full wheel by selling puts",
		},
		PotentialActions: []models.PotentialAction{
			{Action: "roll_call", Description: "Extend call expiration", Priority: "high"},
			{Action: "sell_put", Description: "Start wheel by selling puts below current price", Priority: "medium"},
		},
		MarketContext: s.marketContext(),
	}
}

func buildCashSecuredPut(s *snapshot) *models.WheelDetectionResult {
	cashRequired := CalculateCashRequired(s.shortPuts())
	confidence, score := CalculateConfidenceScore(models.StrategyCashSecuredPut, s.positions, cashRequired, s.cashBalance(), s.marketContext())

	shortPuts := len(s.shortPuts())
	desc := fmt.Sprintf("Cash-secured put position: %d short put(s)", shortPuts)
	if s.totalStockShares > 0 {
		desc += fmt.Sprintf(" with %.0f existing shares", s.totalStockShares)
	}

	return &models.WheelDetectionResult{
		Ticker:          s.ticker,
		Strategy:        models.StrategyCashSecuredPut,
		Confidence:      confidence,
		ConfidenceScore: score,
		Description:     desc,
		CashRequired:    cashRequired,
		CashValidated:   s.validateCash(cashRequired),
		RiskAssessment:  AssessRisk(models.StrategyCashSecuredPut, s.positions, s.opts),
		Positions:       s.positions,
		Recommendations: []string{
			"Prepare for potential assignment",
			"Ensure sufficient cash to purchase shares",
			"Plan covered call strategy if assigned",
		},
		PotentialActions: []models.PotentialAction{
			{Action: "manage_assignment", Description: "Prepare for potential share assignment", Priority: "high"},
			{Action: "roll_put", Description: "Roll put to avoid assignment", Priority: "medium"},
		},
		MarketContext: s.marketContext(),
	}
}

func buildNakedStock(s *snapshot) *models.WheelDetectionResult {
	confidence, score := CalculateConfidenceScore(models.StrategyNakedStock, s.positions, 0, s.cashBalance(), s.marketContext())

	return &models.WheelDetectionResult{
		Ticker:          s.ticker,
		Strategy:        models.StrategyNakedStock,
		Confidence:      confidence,
		ConfidenceScore: score,
		Description:     fmt.Sprintf("%.0f shares ready for wheel strategy", s.totalStockShares),
		RiskAssessment:  AssessRisk(models.StrategyNakedStock, s.positions, s.opts),
		Positions:       s.positions,
		Recommendations: []string{
			"Consider selling covered calls to generate income",
			"Stock position is suitable for wheel strategy",
			"Could start with covered calls above current price",
		},
		PotentialActions: []models.PotentialAction{
			{Action: "sell_call", Description: "Start covered call strategy", Priority: "high"},
			{Action: "start_wheel", Description: "Begin full wheel strategy", Priority: "medium"},
		},
		MarketContext: s.marketContext(),
	}
}

// validateCash reports whether the supplied cash balance covers the
// requirement; nil when no balance was supplied with the request.
func (s *snapshot) validateCash(cashRequired float64) *bool {
	if s.opts == nil || s.opts.CashBalance == nil {
		return nil
	}
	ok := *s.opts.CashBalance >= cashRequired
	return &ok
}
