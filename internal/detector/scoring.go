package detector

import (
	"strings"
	"time"

	"github.com/eddiefleurent/wheelhouse/internal/models"
)

// Confidence scoring constants. The strategy bonus reflects strategy
// maturity: a full wheel already has every leg in place.
const (
	baseScore = 50

	bonusFullWheel      = 30
	bonusCoveredCall    = 20
	bonusCashSecuredPut = 15
	bonusNakedStock     = 10

	cashFullBonus    = 15
	cashPartialBonus = 5
	cashShortPenalty = -10

	farExpiryBonus    = 10  // mean DTE > 30
	nearExpiryPenalty = -15 // mean DTE < 7

	highVolatilityBonus = 5
	bullishTrendBonus   = 5
)

var strategyBonus = map[models.WheelStrategy]int{
	models.StrategyFullWheel:      bonusFullWheel,
	models.StrategyCoveredCall:    bonusCoveredCall,
	models.StrategyCashSecuredPut: bonusCashSecuredPut,
	models.StrategyNakedStock:     bonusNakedStock,
}

// DaysToExpiration computes whole days until an ISO date or RFC3339
// timestamp, clamped at zero. Unparseable dates count as zero days rather
// than failing; imported expiration strings are not always clean.
func DaysToExpiration(expiration string, now time.Time) int {
	if expiration == "" {
		return 0
	}
	var exp time.Time
	var err error
	if strings.Contains(expiration, "T") {
		exp, err = time.Parse(time.RFC3339, expiration)
	} else {
		exp, err = time.Parse("2006-01-02", expiration)
	}
	if err != nil {
		return 0
	}
	days := int(exp.Sub(now).Hours() / 24)
	if days < 0 {
		return 0
	}
	return days
}

// CalculateConfidenceScore scores how confidently the detected strategy is
// "in progress": base 50, plus a strategy-maturity bonus, cash adequacy,
// time horizon, and optional market context. The score is clamped to
// [0,100]; >=70 is high, >=40 medium, else low.
func CalculateConfidenceScore(strategy models.WheelStrategy, positions []models.EnhancedPosition, cashRequired, cashBalance float64, market *models.MarketContext) (models.Confidence, int) {
	score := baseScore
	score += strategyBonus[strategy]

	if cashRequired > 0 {
		switch {
		case cashBalance >= cashRequired:
			score += cashFullBonus
		case cashBalance >= cashRequired*0.5:
			score += cashPartialBonus
		default:
			score += cashShortPenalty
		}
	}

	var dteSum, dteCount int
	for i := range positions {
		if positions[i].DaysToExpiration != nil {
			dteSum += *positions[i].DaysToExpiration
			dteCount++
		}
	}
	if dteCount > 0 {
		avg := float64(dteSum) / float64(dteCount)
		if avg > 30 {
			score += farExpiryBonus
		} else if avg < 7 {
			score += nearExpiryPenalty
		}
	}

	if market != nil {
		if market.Volatility > 0.3 {
			score += highVolatilityBonus
		}
		if market.MarketTrend == "bullish" {
			score += bullishTrendBonus
		}
	}

	if score < 0 {
		score = 0
	}
	if score > 100 {
		score = 100
	}

	switch {
	case score >= 70:
		return models.ConfidenceHigh, score
	case score >= 40:
		return models.ConfidenceMedium, score
	default:
		return models.ConfidenceLow, score
	}
}

// CalculateCashRequired sums the cash needed to cover assignment of the
// given short puts: one contract is 100 shares at strike.
func CalculateCashRequired(shortPuts []models.EnhancedPosition) float64 {
	var total float64
	for i := range shortPuts {
		p := &shortPuts[i]
		if p.Type != "put" || !p.IsShort() || p.StrikePrice == 0 {
			continue
		}
		contracts := p.RawQuantity
		if contracts < 0 {
			contracts = -contracts
		}
		total += contracts * p.StrikePrice * float64(models.SharesPerContract)
	}
	return total
}

// AssessRisk builds the qualitative risk assessment for a detected
// strategy. Assignment risk starts at 50 and escalates as short options
// approach expiration.
func AssessRisk(strategy models.WheelStrategy, positions []models.EnhancedPosition, opts *models.DetectionOptions) models.RiskAssessment {
	factors := []string{}
	level := models.RiskMedium
	assignmentRisk := 50.0

	minDTE := -1
	for i := range positions {
		p := &positions[i]
		if !p.IsShort() || p.DaysToExpiration == nil {
			continue
		}
		if minDTE < 0 || *p.DaysToExpiration < minDTE {
			minDTE = *p.DaysToExpiration
		}
	}
	if minDTE >= 0 {
		if minDTE < 7 {
			factors = append(factors, "Options expiring within 7 days - high assignment risk")
			assignmentRisk = 80.0
			level = models.RiskHigh
		} else if minDTE < 21 {
			factors = append(factors, "Options expiring within 3 weeks - moderate assignment risk")
			assignmentRisk = 60.0
		}
	}

	if opts != nil {
		switch opts.RiskTolerance {
		case models.ToleranceConservative:
			factors = append(factors, "Conservative risk profile - consider safer strikes")
			if level == models.RiskMedium {
				level = models.RiskHigh
			}
		case models.ToleranceAggressive:
			factors = append(factors, "Aggressive risk profile - monitor positions closely")
		}
	}

	switch strategy {
	case models.StrategyCashSecuredPut:
		factors = append(factors, "Assignment would result in stock ownership")
		if assignmentRisk > 70 {
			factors = append(factors, "High probability of assignment at current levels")
		}
	case models.StrategyCoveredCall:
		factors = append(factors, "Call assignment would result in stock sale")
	case models.StrategyFullWheel:
		factors = append(factors, "Multiple assignment possibilities - complex management")
		if level != models.RiskHigh {
			level = models.RiskMedium
		}
	}

	return models.RiskAssessment{
		Level:          level,
		Factors:        factors,
		AssignmentRisk: assignmentRisk,
	}
}
