// Package lots reconstructs share lots from a cycle's trade event stream
// and derives per-lot and per-cycle financial metrics.
//
// The assembly pass and the metric calculators are pure functions over
// in-memory data: no I/O, no shared mutable state, safe to call from
// multiple goroutines. Persistence happens only through the storage-bound
// Assembler wrapper.
package lots

import (
	"fmt"
	"strconv"
	"sync"

	"github.com/google/uuid"

	"github.com/eddiefleurent/wheelhouse/internal/models"
	"github.com/eddiefleurent/wheelhouse/internal/storage"
)

// Inconsistency kinds recorded during assembly. Historical import data is
// inherently imperfect; these are reported, never raised.
const (
	KindNakedCall          = "naked_call"
	KindUnmatchedCallClose = "unmatched_call_close"
	KindCalledAwayExceeds  = "called_away_exceeds_covered"
	KindOversell           = "oversell"
	KindSeveredCoverage    = "severed_coverage"
	KindOddLotRemainder    = "odd_lot_remainder"
	KindOddLotDisposal     = "odd_lot_disposal"
)

// Inconsistency records a malformed or unmatchable event encountered while
// assembling lots.
type Inconsistency struct {
	EventID string `json:"event_id,omitempty"`
	Kind    string `json:"kind"`
	Detail  string `json:"detail"`
}

// Result is the output of one assembly pass.
type Result struct {
	Lots            []models.Lot    `json:"lots"`
	Links           []models.LotLink `json:"links"`
	Inconsistencies []Inconsistency `json:"inconsistencies,omitempty"`
}

// lotIDNamespace anchors content-addressed lot and link IDs. Rebuilding the
// same event stream must yield bit-identical lots and links, so IDs are
// derived from the cycle and an ordinal rather than generated randomly.
var lotIDNamespace = uuid.MustParse("8c3f1a52-0b6e-44d0-9d0f-5a1d2b9c7e10")

func lotID(cycleID string, ordinal int) string {
	return uuid.NewSHA1(lotIDNamespace, []byte(cycleID+"/lot/"+strconv.Itoa(ordinal))).String()
}

func linkID(cycleID string, ordinal int) string {
	return uuid.NewSHA1(lotIDNamespace, []byte(cycleID+"/link/"+strconv.Itoa(ordinal))).String()
}

// assembly is the working state of one pass over the event stream.
type assembly struct {
	cycle   *models.WheelCycle
	lots    []*models.Lot
	links   []models.LotLink
	issues  []Inconsistency
	// openCall maps lot ID to the SELL_CALL_OPEN event currently covering it.
	openCall map[string]string
	// shareBuffer accumulates BUY_SHARES quantities until a full lot is
	// reached.
	shareBuffer int
}

// AssembleLots runs the single-pass event-to-lot state machine over a
// cycle's events. Events are sorted by (TradeDate, Seq) before processing,
// so the result is independent of input order. Malformed events are
// recorded as inconsistencies and skipped; the pass always returns whatever
// lots it could construct.
func AssembleLots(cycle *models.WheelCycle, events []models.WheelEvent) *Result {
	ordered := make([]models.WheelEvent, len(events))
	copy(ordered, events)
	models.SortEvents(ordered)

	a := &assembly{
		cycle:    cycle,
		openCall: make(map[string]string),
	}

	for i := range ordered {
		e := &ordered[i]
		switch e.EventType {
		case models.EventBuyShares:
			a.buyShares(e)
		case models.EventAssignment:
			a.assignment(e)
		case models.EventSellCallOpen:
			a.sellCallOpen(e)
		case models.EventSellCallClose:
			a.sellCallClose(e)
		case models.EventCalledAway:
			a.calledAway(e)
		case models.EventSellShares:
			a.sellShares(e)
		case models.EventSellPutOpen, models.EventSellPutClose:
			// Puts create cash obligations, not share positions; they are
			// cycle-level context only.
		}
	}

	if a.shareBuffer > 0 {
		a.record("", KindOddLotRemainder,
			fmt.Sprintf("%d shares bought below lot size remain unassigned", a.shareBuffer))
	}

	res := &Result{
		Lots:            make([]models.Lot, len(a.lots)),
		Links:           a.links,
		Inconsistencies: a.issues,
	}
	for i, l := range a.lots {
		res.Lots[i] = *l
	}
	return res
}

func (a *assembly) record(eventID, kind, detail string) {
	a.issues = append(a.issues, Inconsistency{EventID: eventID, Kind: kind, Detail: detail})
}

func (a *assembly) newLot(e *models.WheelEvent, method models.AcquisitionMethod, costBasis float64, role models.LinkRole) *models.Lot {
	lot := &models.Lot{
		ID:                lotID(a.cycle.ID, len(a.lots)),
		CycleID:           a.cycle.ID,
		Ticker:            a.cycle.Ticker,
		Status:            models.LotOpenUncovered,
		CostBasis:         costBasis,
		AcquisitionDate:   e.TradeDate,
		AcquisitionMethod: method,
	}
	a.lots = append(a.lots, lot)
	a.link(lot, e, role)
	return lot
}

func (a *assembly) link(lot *models.Lot, e *models.WheelEvent, role models.LinkRole) {
	a.links = append(a.links, models.LotLink{
		ID:               linkID(a.cycle.ID, len(a.links)),
		LotID:            lot.ID,
		LinkedObjectType: models.LinkedObjectWheelEvent,
		LinkedObjectID:   e.ID,
		Role:             role,
	})
}

// oldest returns the earliest-created lot currently in the given status,
// FIFO by creation order. Creation order already encodes acquisition date
// order because events are processed chronologically.
func (a *assembly) oldest(status models.LotStatus) *models.Lot {
	for _, l := range a.lots {
		if l.Status == status {
			return l
		}
	}
	return nil
}

func (a *assembly) buyShares(e *models.WheelEvent) {
	a.shareBuffer += e.ShareQuantity()
	for a.shareBuffer >= models.SharesPerContract {
		// The event that completes the lot supplies the cost basis and
		// acquisition date.
		a.newLot(e, models.AcquireOutright, e.Price, models.RoleStockBuy)
		a.shareBuffer -= models.SharesPerContract
	}
}

func (a *assembly) assignment(e *models.WheelEvent) {
	qty := e.ShareQuantity()
	for qty >= models.SharesPerContract {
		// Assignment forces purchase at the put's strike, so the strike is
		// the cost basis regardless of market price.
		a.newLot(e, models.AcquireAssignment, e.Strike, models.RolePutAssignment)
		qty -= models.SharesPerContract
	}
	if qty > 0 {
		a.record(e.ID, KindOddLotRemainder,
			fmt.Sprintf("assignment of %d shares is not a round lot", e.ShareQuantity()))
	}
}

func (a *assembly) sellCallOpen(e *models.WheelEvent) {
	contracts := e.ContractCount()
	if contracts == 0 {
		contracts = 1
	}
	for i := 0; i < contracts; i++ {
		lot := a.oldest(models.LotOpenUncovered)
		if lot == nil {
			a.record(e.ID, KindNakedCall,
				fmt.Sprintf("%d call contract(s) have no uncovered shares to cover", contracts-i))
			return
		}
		a.link(lot, e, models.RoleCallOpen)
		_ = lot.Transition(models.LotOpenCovered, "call_opened")
		a.openCall[lot.ID] = e.ID
	}
}

func (a *assembly) sellCallClose(e *models.WheelEvent) {
	matched := false

	// Prefer the lots whose covering call is the open this close resolves.
	if e.LinkEventID != "" {
		for _, lot := range a.lots {
			if lot.Status == models.LotOpenCovered && a.openCall[lot.ID] == e.LinkEventID {
				a.uncover(lot, e)
				matched = true
			}
		}
		if matched {
			return
		}
	}

	// Historical imports often lack linkage; fall back to oldest covered.
	contracts := e.ContractCount()
	if contracts == 0 {
		contracts = 1
	}
	for i := 0; i < contracts; i++ {
		lot := a.oldest(models.LotOpenCovered)
		if lot == nil {
			break
		}
		a.uncover(lot, e)
		matched = true
	}
	if !matched {
		a.record(e.ID, KindUnmatchedCallClose, "call close with no covered lot to release")
	}
}

func (a *assembly) uncover(lot *models.Lot, e *models.WheelEvent) {
	a.link(lot, e, models.RoleCallClose)
	_ = lot.Transition(models.LotOpenUncovered, "call_closed")
	delete(a.openCall, lot.ID)
}

func (a *assembly) calledAway(e *models.WheelEvent) {
	qty := e.ShareQuantity()
	for qty >= models.SharesPerContract {
		lot := a.oldest(models.LotOpenCovered)
		if lot == nil {
			a.record(e.ID, KindCalledAwayExceeds,
				fmt.Sprintf("%d shares called away exceed covered inventory", qty))
			return
		}
		a.link(lot, e, models.RoleCallAssignment)
		_ = lot.Transition(models.LotClosed, "called_away")
		delete(a.openCall, lot.ID)
		qty -= models.SharesPerContract
	}
	if qty > 0 {
		a.record(e.ID, KindOddLotDisposal,
			fmt.Sprintf("called-away quantity %d is not a round lot", e.ShareQuantity()))
	}
}

func (a *assembly) sellShares(e *models.WheelEvent) {
	qty := e.ShareQuantity()
	for qty >= models.SharesPerContract {
		lot := a.oldest(models.LotOpenUncovered)
		if lot == nil {
			// Policy: a sale larger than the uncovered inventory continues
			// into covered lots, severing their coverage. The shares are
			// gone either way; the severed call is surfaced for review.
			lot = a.oldest(models.LotOpenCovered)
			if lot == nil {
				a.record(e.ID, KindOversell,
					fmt.Sprintf("%d shares sold exceed open inventory", qty))
				return
			}
			a.record(e.ID, KindSeveredCoverage,
				fmt.Sprintf("sale closed covered lot %s; covering call left unbacked", lot.ID))
			delete(a.openCall, lot.ID)
		}
		a.link(lot, e, models.RoleStockSell)
		_ = lot.Transition(models.LotClosed, "shares_sold")
		qty -= models.SharesPerContract
	}
	if qty > 0 {
		a.record(e.ID, KindOddLotDisposal,
			fmt.Sprintf("sale quantity %d is not a round lot", e.ShareQuantity()))
	}
}

// Assembler rebuilds and persists lots for a cycle. Rebuilds for the same
// cycle are serialized with a per-cycle advisory lock; the pass itself is
// not safe against concurrent mutation of the cycle's events.
type Assembler struct {
	store storage.Interface
	locks sync.Map // cycleID -> *sync.Mutex
}

// NewAssembler creates an Assembler over the given store.
func NewAssembler(store storage.Interface) *Assembler {
	return &Assembler{store: store}
}

// RebuildForCycle discards any previously derived lots for the cycle and
// rebuilds them from the cycle's ordered event stream. Idempotent: calling
// it repeatedly on unchanged events yields identical lots and links.
func (a *Assembler) RebuildForCycle(cycleID string) (*Result, error) {
	muIface, _ := a.locks.LoadOrStore(cycleID, &sync.Mutex{})
	mu := muIface.(*sync.Mutex)
	mu.Lock()
	defer mu.Unlock()

	cycle, err := a.store.GetCycle(cycleID)
	if err != nil {
		return nil, fmt.Errorf("loading cycle %s: %w", cycleID, err)
	}
	events, err := a.store.ListEvents(cycleID)
	if err != nil {
		return nil, fmt.Errorf("loading events for cycle %s: %w", cycleID, err)
	}

	res := AssembleLots(cycle, events)

	if err := a.store.ReplaceLots(cycleID, res.Lots, res.Links); err != nil {
		return nil, fmt.Errorf("replacing lots for cycle %s: %w", cycleID, err)
	}
	return res, nil
}
