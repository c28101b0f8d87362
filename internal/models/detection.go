package models

// WheelStrategy identifies a detected wheel strategy pattern.
type WheelStrategy string

const (
	StrategyFullWheel      WheelStrategy = "full_wheel"
	StrategyCoveredCall    WheelStrategy = "covered_call"
	StrategyCashSecuredPut WheelStrategy = "cash_secured_put"
	StrategyNakedStock     WheelStrategy = "naked_stock"
)

// Priority returns the fixed surfacing order for detection results: the
// more complete the strategy, the earlier it sorts.
func (s WheelStrategy) Priority() int {
	switch s {
	case StrategyFullWheel:
		return 0
	case StrategyCoveredCall:
		return 1
	case StrategyCashSecuredPut:
		return 2
	case StrategyNakedStock:
		return 3
	default:
		return 4
	}
}

// Confidence labels for detection results.
type Confidence string

const (
	ConfidenceHigh   Confidence = "high"
	ConfidenceMedium Confidence = "medium"
	ConfidenceLow    Confidence = "low"
)

// RiskLevel labels for risk assessments.
type RiskLevel string

const (
	RiskLow    RiskLevel = "low"
	RiskMedium RiskLevel = "medium"
	RiskHigh   RiskLevel = "high"
)

// RiskTolerance is the user-declared appetite supplied with a detection
// request.
type RiskTolerance string

const (
	ToleranceConservative RiskTolerance = "conservative"
	ToleranceModerate     RiskTolerance = "moderate"
	ToleranceAggressive   RiskTolerance = "aggressive"
)

// OptionType distinguishes calls from puts on option positions.
type OptionType string

const (
	OptionCall OptionType = "CALL"
	OptionPut  OptionType = "PUT"
)

// PositionForDetection is a normalized view of one brokerage position row,
// constructed per detection request and never persisted. Contracts and
// Shares are signed net quantities: negative means short. Normalizing the
// sign convention here, once, is what the whole detection pipeline depends
// on.
type PositionForDetection struct {
	ID               string     `json:"id"`
	Symbol           string     `json:"symbol"`
	Shares           float64    `json:"shares"`
	IsOption         bool       `json:"is_option"`
	UnderlyingSymbol string     `json:"underlying_symbol,omitempty"`
	OptionType       OptionType `json:"option_type,omitempty"`
	StrikePrice      float64    `json:"strike_price,omitempty"`
	ExpirationDate   string     `json:"expiration_date,omitempty"` // ISO date or RFC3339
	Contracts        float64    `json:"contracts,omitempty"`
	MarketValue      float64    `json:"market_value"`
	Source           string     `json:"source"`
}

// TickerKey returns the grouping key: an option and its underlying's stock
// share a key.
func (p *PositionForDetection) TickerKey() string {
	if p.IsOption && p.UnderlyingSymbol != "" {
		return p.UnderlyingSymbol
	}
	return p.Symbol
}

// EnhancedPosition is the per-position view attached to detection results.
type EnhancedPosition struct {
	Type             string     `json:"type"` // stock, call, put
	Symbol           string     `json:"symbol"`
	Quantity         float64    `json:"quantity"` // absolute, for display
	Position         string     `json:"position"` // long, short
	StrikePrice      float64    `json:"strike_price,omitempty"`
	ExpirationDate   string     `json:"expiration_date,omitempty"`
	DaysToExpiration *int       `json:"days_to_expiration,omitempty"`
	MarketValue      float64    `json:"market_value"`
	RawQuantity      float64    `json:"raw_quantity"` // signed, preserved for logic
	OptionType       OptionType `json:"-"`
	Source           string     `json:"source,omitempty"`
}

// IsShort reports whether the position row is net short.
func (p *EnhancedPosition) IsShort() bool {
	return p.Position == "short"
}

// RiskAssessment summarizes the risk of a detected strategy.
type RiskAssessment struct {
	Level          RiskLevel `json:"level"`
	Factors        []string  `json:"factors"`
	AssignmentRisk float64   `json:"assignment_risk"` // 0-100
}

// PotentialAction is a structured next-step recommendation.
type PotentialAction struct {
	Action      string `json:"action"`
	Description string `json:"description"`
	Priority    string `json:"priority"` // high, medium, low
}

// MarketContext is optional market data supplied with a detection request
// and passed through to results.
type MarketContext struct {
	Volatility  float64 `json:"volatility,omitempty"`
	MarketTrend string  `json:"market_trend,omitempty"` // bullish, bearish, neutral
	Sector      string  `json:"sector,omitempty"`
	MarketCap   string  `json:"market_cap,omitempty"` // small, mid, large
}

// DetectionOptions tune a detection request.
type DetectionOptions struct {
	CashBalance   *float64       `json:"cash_balance,omitempty"`
	RiskTolerance RiskTolerance  `json:"risk_tolerance,omitempty"`
	MarketData    *MarketContext `json:"market_data,omitempty"`
	IncludeClosed bool           `json:"include_historical,omitempty"`
}

// DetectionRequest is the top-level batch detection input.
type DetectionRequest struct {
	AccountID       string            `json:"account_id,omitempty"`
	SpecificTickers []string          `json:"specific_tickers,omitempty"`
	Options         *DetectionOptions `json:"options,omitempty"`
}

// WheelDetectionResult is the classifier output for one ticker.
type WheelDetectionResult struct {
	Ticker           string             `json:"ticker"`
	Strategy         WheelStrategy      `json:"strategy"`
	Confidence       Confidence         `json:"confidence"`
	ConfidenceScore  int                `json:"confidence_score"` // 0-100
	Description      string             `json:"description"`
	CashRequired     float64            `json:"cash_required,omitempty"`
	CashValidated    *bool              `json:"cash_validated,omitempty"`
	RiskAssessment   RiskAssessment     `json:"risk_assessment"`
	Positions        []EnhancedPosition `json:"positions"`
	Recommendations  []string           `json:"recommendations,omitempty"`
	PotentialActions []PotentialAction  `json:"potential_actions,omitempty"`
	MarketContext    *MarketContext     `json:"market_context,omitempty"`
}
