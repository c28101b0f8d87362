package lots

import (
	"time"

	"github.com/eddiefleurent/wheelhouse/internal/models"
	"github.com/eddiefleurent/wheelhouse/internal/storage"
	"github.com/eddiefleurent/wheelhouse/internal/util"
)

// ComputeMetrics derives a lot's financials from the lot, its links
// resolved to events, and an optional current price. The price is always
// injected by the caller, never fetched here, so batch scoring can
// parallelize the fetches and keep this pure.
//
// PremiumCollected is per share: premium received on each covering call
// minus premium paid to buy calls back. Dollar P&L terms multiply by the
// 100-share lot size.
func ComputeMetrics(lot *models.Lot, links []models.LotLink, events map[string]models.WheelEvent, currentPrice *float64, now time.Time) models.LotMetrics {
	m := models.LotMetrics{
		LotID:      lot.ID,
		ComputedAt: now,
	}

	var premium float64
	var disposalPrice float64
	var disposalDate time.Time
	disposed := false

	for _, link := range links {
		if link.LotID != lot.ID || link.LinkedObjectType != models.LinkedObjectWheelEvent {
			continue
		}
		e, ok := events[link.LinkedObjectID]
		if !ok {
			continue
		}
		switch link.Role {
		case models.RoleCallOpen:
			premium += e.Premium
		case models.RoleCallClose:
			// Closing a short call costs the premium paid to buy it back.
			premium -= e.Premium
		case models.RoleStockSell:
			disposalPrice = e.Price
			disposalDate = e.TradeDate
			disposed = true
		case models.RoleCallAssignment:
			// Called away realizes the sale at the call's strike.
			disposalPrice = e.Strike
			disposalDate = e.TradeDate
			disposed = true
		}
	}

	m.PremiumCollected = util.RoundToCent(premium)

	shares := float64(models.SharesPerContract)
	if lot.Status == models.LotClosed && disposed {
		m.RealizedPnL = util.RoundToCent((disposalPrice-lot.CostBasis)*shares + premium*shares)
	}
	if lot.Status.IsOpen() && currentPrice != nil {
		u := util.RoundToCent((*currentPrice-lot.CostBasis)*shares + premium*shares)
		m.UnrealizedPnL = &u
	}

	end := now
	if disposed {
		end = disposalDate
	}
	m.DaysHeld = wholeDays(lot.AcquisitionDate, end)

	return m
}

// RefreshMetrics recomputes one lot's metrics from storage and saves them to
// the metrics cache. currentPrice may be nil when no quote is available.
func RefreshMetrics(store storage.Interface, lot *models.Lot, currentPrice *float64, now time.Time) (*models.LotMetrics, error) {
	links, err := store.ListLotLinks(lot.ID)
	if err != nil {
		return nil, err
	}
	events := make(map[string]models.WheelEvent, len(links))
	for _, link := range links {
		if link.LinkedObjectType != models.LinkedObjectWheelEvent {
			continue
		}
		e, err := store.GetEvent(link.LinkedObjectID)
		if err != nil {
			// A link pointing at a purged event is historical noise, not a
			// reason to fail the whole refresh.
			continue
		}
		events[e.ID] = *e
	}

	m := ComputeMetrics(lot, links, events, currentPrice, now)
	if err := store.SaveLotMetrics(&m); err != nil {
		return nil, err
	}
	return &m, nil
}

// wholeDays returns the whole-day span between two times, never negative.
func wholeDays(from, to time.Time) int {
	d := int(to.UTC().Truncate(24*time.Hour).Sub(from.UTC().Truncate(24*time.Hour)).Hours() / 24)
	if d < 0 {
		return 0
	}
	return d
}

// ComputeCycleMetrics runs average-cost accounting over a cycle's full
// event stream: share inventory at average cost, net option cashflow (fees
// included), and realized stock P&L. Mirrors cycle-level reporting rather
// than lot-level attribution; the two agree on totals but not on
// per-disposal P&L when cost bases differ across lots.
func ComputeCycleMetrics(cycle *models.WheelCycle, events []models.WheelEvent, currentPrice *float64) models.CycleMetrics {
	ordered := make([]models.WheelEvent, len(events))
	copy(ordered, events)
	models.SortEvents(ordered)

	var (
		sharesOwned     int
		totalCost       float64
		optionsCashflow float64
		realizedStock   float64
	)

	for i := range ordered {
		e := &ordered[i]
		qty := e.ShareQuantity()
		contracts := float64(e.ContractCount())
		perContract := float64(models.SharesPerContract)

		switch e.EventType {
		case models.EventBuyShares:
			sharesOwned += qty
			totalCost += e.Price*float64(qty) + e.Fees
		case models.EventAssignment:
			sharesOwned += qty
			totalCost += e.Strike*float64(qty) + e.Fees
		case models.EventSellShares:
			if qty > 0 && sharesOwned > 0 {
				avg := totalCost / float64(sharesOwned)
				realizedStock += (e.Price-avg)*float64(qty) - e.Fees
				sharesOwned -= qty
				totalCost -= avg * float64(qty)
			}
		case models.EventCalledAway:
			if qty > 0 && sharesOwned > 0 {
				avg := totalCost / float64(sharesOwned)
				realizedStock += (e.Strike-avg)*float64(qty) - e.Fees
				sharesOwned -= qty
				totalCost -= avg * float64(qty)
			}
		case models.EventSellPutOpen, models.EventSellCallOpen:
			optionsCashflow += e.Premium*contracts*perContract - e.Fees
		case models.EventSellPutClose, models.EventSellCallClose:
			optionsCashflow -= e.Premium*contracts*perContract + e.Fees
		}
	}

	m := models.CycleMetrics{
		CycleID:            cycle.ID,
		Ticker:             cycle.Ticker,
		SharesOwned:        sharesOwned,
		NetOptionsCashflow: util.RoundToCent(optionsCashflow),
		RealizedStockPnL:   util.RoundToCent(realizedStock),
		TotalCostRemaining: util.RoundToCent(totalCost),
		CurrentPrice:       currentPrice,
	}
	if sharesOwned > 0 {
		m.AverageCostBasis = totalCost / float64(sharesOwned)
	}
	m.TotalRealizedPnL = util.RoundToCent(realizedStock + optionsCashflow)
	if currentPrice != nil && sharesOwned > 0 {
		m.UnrealizedPnL = util.RoundToCent((*currentPrice - m.AverageCostBasis) * float64(sharesOwned))
	}
	return m
}
