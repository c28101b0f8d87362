package models

import (
	"fmt"
	"time"
)

// LotStatus represents the current lifecycle status of a share lot.
type LotStatus string

const (
	// LotOpenUncovered means the shares are held with no call written
	// against them.
	LotOpenUncovered LotStatus = "OPEN_UNCOVERED"
	// LotOpenCovered means a short call is currently written against the
	// shares.
	LotOpenCovered LotStatus = "OPEN_COVERED"
	// LotClosed means the shares have left the account (sold or called
	// away).
	LotClosed LotStatus = "CLOSED"
)

// Valid returns true if the LotStatus is one of the defined constants.
func (s LotStatus) Valid() bool {
	switch s {
	case LotOpenUncovered, LotOpenCovered, LotClosed:
		return true
	default:
		return false
	}
}

// IsOpen reports whether the lot's shares are still held.
func (s LotStatus) IsOpen() bool {
	return s == LotOpenUncovered || s == LotOpenCovered
}

// LotTransition defines a valid lot status transition.
type LotTransition struct {
	From      LotStatus
	To        LotStatus
	Condition string
}

// ValidLotTransitions enumerates the lot lifecycle. A lot is created
// uncovered, flips covered/uncovered as calls open and close, and closes
// exactly once when the shares leave.
var ValidLotTransitions = []LotTransition{
	{LotOpenUncovered, LotOpenCovered, "call_opened"},
	{LotOpenCovered, LotOpenUncovered, "call_closed"},
	{LotOpenUncovered, LotClosed, "shares_sold"},
	{LotOpenCovered, LotClosed, "called_away"},
	{LotOpenCovered, LotClosed, "shares_sold"},
}

// AcquisitionMethod records how a lot's shares were acquired.
type AcquisitionMethod string

const (
	// AcquireOutright marks shares bought on the open market.
	AcquireOutright AcquisitionMethod = "OUTRIGHT_PURCHASE"
	// AcquireAssignment marks shares forced in by a short put assignment.
	AcquireAssignment AcquisitionMethod = "PUT_ASSIGNMENT"
)

// Lot is a reconstructed 100-share block with a single acquisition story.
// Its share quantity is fixed at creation and the lot is never re-split;
// all lots in this model are SharesPerContract shares.
type Lot struct {
	ID                string            `json:"id"`
	CycleID           string            `json:"cycle_id"`
	Ticker            string            `json:"ticker"`
	Status            LotStatus         `json:"status"`
	CostBasis         float64           `json:"cost_basis"` // per share
	AcquisitionDate   time.Time         `json:"acquisition_date"`
	AcquisitionMethod AcquisitionMethod `json:"acquisition_method"`
	Notes             string            `json:"notes,omitempty"`
}

// Covered reports whether a call is currently written against the lot.
// Derived from status rather than stored separately so the two can never
// disagree.
func (l *Lot) Covered() bool {
	return l.Status == LotOpenCovered
}

// Transition moves the lot to a new status, enforcing the lifecycle table.
func (l *Lot) Transition(to LotStatus, condition string) error {
	for _, t := range ValidLotTransitions {
		if t.From == l.Status && t.To == to && t.Condition == condition {
			l.Status = to
			return nil
		}
	}
	return fmt.Errorf("lot %s: invalid transition %s -> %s (%s)", l.ID, l.Status, to, condition)
}

// LinkRole identifies which part a linked event plays in a lot's story.
type LinkRole string

const (
	RoleStockBuy       LinkRole = "STOCK_BUY"
	RoleStockSell      LinkRole = "STOCK_SELL"
	RolePutAssignment  LinkRole = "PUT_ASSIGNMENT"
	RoleCallOpen       LinkRole = "CALL_OPEN"
	RoleCallClose      LinkRole = "CALL_CLOSE"
	RoleCallAssignment LinkRole = "CALL_ASSIGNMENT" // called away
)

// LinkedObjectWheelEvent is the only linked object type in this model.
const LinkedObjectWheelEvent = "WHEEL_EVENT"

// LotLink records which WheelEvent plays which role for a Lot.
// Invariant: at most one CALL_OPEN link without a matching CALL_CLOSE per
// open lot (a lot cannot be double-covered).
type LotLink struct {
	ID               string   `json:"id"`
	LotID            string   `json:"lot_id"`
	LinkedObjectType string   `json:"linked_object_type"`
	LinkedObjectID   string   `json:"linked_object_id"`
	Role             LinkRole `json:"role"`
}

// LotMetrics holds derived per-lot financials. Cached, never authoritative:
// always reconstructable from the lot, its links, the linked events, and a
// current price.
type LotMetrics struct {
	LotID            string    `json:"lot_id"`
	PremiumCollected float64   `json:"premium_collected"` // per share, net of buybacks
	RealizedPnL      float64   `json:"realized_pnl"`      // dollars, closed lots only
	UnrealizedPnL    *float64  `json:"unrealized_pnl"`    // dollars, nil without a price
	DaysHeld         int       `json:"days_held"`
	ComputedAt       time.Time `json:"computed_at"`
}

// CycleMetrics holds running average-cost accounting over a cycle's full
// event stream.
type CycleMetrics struct {
	CycleID            string   `json:"cycle_id"`
	Ticker             string   `json:"ticker"`
	SharesOwned        int      `json:"shares_owned"`
	AverageCostBasis   float64  `json:"average_cost_basis"`
	TotalCostRemaining float64  `json:"total_cost_remaining"`
	NetOptionsCashflow float64  `json:"net_options_cashflow"`
	RealizedStockPnL   float64  `json:"realized_stock_pl"`
	TotalRealizedPnL   float64  `json:"total_realized_pl"`
	CurrentPrice       *float64 `json:"current_price"`
	UnrealizedPnL      float64  `json:"unrealized_pl"`
}
