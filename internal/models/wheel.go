// Package models provides data structures and state management for wheel
// strategy tracking: cycles, trade events, share lots, and detection types.
package models

import (
	"sort"
	"time"
)

// SharesPerContract is the equity option multiplier.
const SharesPerContract = 100

// CycleStatus represents the lifecycle status of a wheel cycle.
type CycleStatus string

const (
	// CycleOpen marks a cycle with ongoing wheel activity.
	CycleOpen CycleStatus = "Open"
	// CycleClosed marks a cycle that has been wound down.
	CycleClosed CycleStatus = "Closed"
)

// Valid returns true if the CycleStatus is one of the defined constants.
func (s CycleStatus) Valid() bool {
	switch s {
	case CycleOpen, CycleClosed:
		return true
	default:
		return false
	}
}

// WheelCycle is the bookkeeping container for one ticker's ongoing wheel
// campaign. It owns the events and lots recorded against it.
type WheelCycle struct {
	ID        string      `json:"id"`
	CycleKey  string      `json:"cycle_key"` // unique human label, e.g. "HIMS-W1"
	Ticker    string      `json:"ticker"`
	Status    CycleStatus `json:"status"`
	StartedAt time.Time   `json:"started_at,omitempty"`
	Notes     string      `json:"notes,omitempty"`
}

// EventType identifies the kind of trade fact a WheelEvent records.
type EventType string

const (
	EventBuyShares     EventType = "BUY_SHARES"
	EventSellShares    EventType = "SELL_SHARES"
	EventSellPutOpen   EventType = "SELL_PUT_OPEN"
	EventSellPutClose  EventType = "SELL_PUT_CLOSE"
	EventSellCallOpen  EventType = "SELL_CALL_OPEN"
	EventSellCallClose EventType = "SELL_CALL_CLOSE"
	EventAssignment    EventType = "ASSIGNMENT"
	EventCalledAway    EventType = "CALLED_AWAY"
)

// Valid returns true if the EventType is one of the defined constants.
func (t EventType) Valid() bool {
	switch t {
	case EventBuyShares, EventSellShares,
		EventSellPutOpen, EventSellPutClose,
		EventSellCallOpen, EventSellCallClose,
		EventAssignment, EventCalledAway:
		return true
	default:
		return false
	}
}

// IsOptionOpen reports whether the event opens a short option position.
func (t EventType) IsOptionOpen() bool {
	return t == EventSellPutOpen || t == EventSellCallOpen
}

// WheelEvent is an immutable, time-ordered trade fact belonging to a cycle.
// Events are never mutated after creation except for linkage backfill
// (LinkEventID) and never deleted except on cycle purge.
type WheelEvent struct {
	ID             string    `json:"id"`
	Seq            int64     `json:"seq"` // storage-assigned, preserves import order
	CycleID        string    `json:"cycle_id"`
	EventType      EventType `json:"event_type"`
	TradeDate      time.Time `json:"trade_date"`
	QuantityShares int       `json:"quantity_shares,omitempty"`
	Contracts      int       `json:"contracts,omitempty"` // signed net: negative = short
	Strike         float64   `json:"strike,omitempty"`
	Premium        float64   `json:"premium,omitempty"` // per share
	Price          float64   `json:"price,omitempty"`   // per share, stock events
	Fees           float64   `json:"fees,omitempty"`
	LinkEventID    string    `json:"link_event_id,omitempty"` // open event a close/assignment resolves
	Notes          string    `json:"notes,omitempty"`
}

// ContractCount returns the unsigned contract count for the event.
// Imported data inconsistently supplies signed vs unsigned contracts;
// everything downstream works in unsigned counts.
func (e *WheelEvent) ContractCount() int {
	if e.Contracts < 0 {
		return -e.Contracts
	}
	return e.Contracts
}

// ShareQuantity returns the share quantity the event represents, deriving
// from contracts for assignment-style events when quantity_shares is unset.
func (e *WheelEvent) ShareQuantity() int {
	if e.QuantityShares != 0 {
		if e.QuantityShares < 0 {
			return -e.QuantityShares
		}
		return e.QuantityShares
	}
	switch e.EventType {
	case EventAssignment, EventCalledAway:
		return e.ContractCount() * SharesPerContract
	}
	return 0
}

// SortEvents orders events by (TradeDate, Seq) ascending, the canonical
// processing order for lot assembly. Seq breaks same-day ties in import
// order, which is required for deterministic rebuilds.
func SortEvents(events []WheelEvent) {
	sort.SliceStable(events, func(i, j int) bool {
		if !events[i].TradeDate.Equal(events[j].TradeDate) {
			return events[i].TradeDate.Before(events[j].TradeDate)
		}
		return events[i].Seq < events[j].Seq
	})
}
