package fundval

import (
	"context"
	"fmt"
	"sort"

	"golang.org/x/sync/errgroup"
)

const (
	lowChangeThreshold  = -3.0
	highChangeThreshold = 3.0
	noChangeRateDisplay = "--"
)

// Calculate values every holding and returns the portfolio summary. Holdings
// whose snapshot cannot be resolved are skipped; Calculate itself never fails.
func (e *Engine) Calculate(ctx context.Context, holdings []Holding) PortfolioSummary {
	resolved := e.resolveHoldings(ctx, holdings)
	acc := newAccumulator(len(holdings))
	for _, r := range resolved {
		if r.ok {
			acc.add(r.valuation)
		}
	}
	return acc.summary()
}

type resolvedHolding struct {
	valuation HoldingValuation
	ok        bool
}

// resolveHoldings fans out on a bounded pool. Each task writes only its own
// slot, so the result keeps input order.
func (e *Engine) resolveHoldings(ctx context.Context, holdings []Holding) []resolvedHolding {
	results := make([]resolvedHolding, len(holdings))
	var g errgroup.Group
	g.SetLimit(e.workers)
	for i, h := range holdings {
		i, h := i, h
		g.Go(func() error {
			valuation, err := e.valueHolding(ctx, h)
			if err != nil {
				e.logger.Warn("skipping holding", "code", h.FundCode, "err", err)
				return nil
			}
			results[i] = resolvedHolding{valuation: valuation, ok: true}
			return nil
		})
	}
	_ = g.Wait()
	return results
}

func (e *Engine) valueHolding(ctx context.Context, h Holding) (HoldingValuation, error) {
	snapshot, err := e.FundInfo(ctx, h.FundCode)
	if err != nil {
		return HoldingValuation{}, err
	}
	valuation, err := valueSnapshot(h, snapshot)
	if err != nil {
		return HoldingValuation{}, err
	}
	valuation.RecentNavHistory = e.History(ctx, h.FundCode, e.windowDays)
	return valuation, nil
}

// valueSnapshot derives the per-holding figures. The order of the roundings
// matters and matches the published numbers.
func valueSnapshot(h Holding, s FundSnapshot) (HoldingValuation, error) {
	v := HoldingValuation{
		FundCode:  h.FundCode,
		FundName:  s.Name,
		Cost:      round2(h.CostPrice * h.Shares),
		CostPrice: h.CostPrice,
	}

	switch s.Kind {
	case KindOpenEnd:
		if s.UnitNav == nil {
			return HoldingValuation{}, NewError(ErrCodeInternal, "open-end snapshot without unit nav: "+s.Code)
		}
		unitNav := *s.UnitNav
		todayValue := unitNav
		if s.EstimateNav != nil {
			todayValue = *s.EstimateNav
		}
		v.MarketAmount = round2(unitNav * h.Shares)
		v.PriorNav = floatPtr(unitNav)
		v.TodayEstimateValue = todayValue
		v.TodayRevenue = round2((todayValue - unitNav) * h.Shares)
	case KindListed:
		if s.Value == nil {
			return HoldingValuation{}, NewError(ErrCodeInternal, "listed snapshot without value: "+s.Code)
		}
		v.MarketAmount = round2(*s.Value * h.Shares)
		v.TodayEstimateValue = *s.Value
		v.TodayRevenue = 0
	default:
		return HoldingValuation{}, NewError(ErrCodeInternal, fmt.Sprintf("snapshot %s has unknown kind %q", s.Code, s.Kind))
	}

	v.TotalRevenue = round2((v.TodayEstimateValue - h.CostPrice) * h.Shares)
	if v.Cost > 0 {
		v.ProfitLossRatioPercent = round2(v.TotalRevenue / v.Cost * 100)
	}

	if s.EstimateChangePercent != nil {
		v.ChangeRatePercent = *s.EstimateChangePercent
		v.ChangeRateDisplay = formatRate(v.ChangeRatePercent) + "%"
	} else {
		v.ChangeRateDisplay = noChangeRateDisplay
	}
	return v, nil
}

// accumulator holds the running totals of one Calculate call.
type accumulator struct {
	totalCost              float64
	yesterdayHoldingAmount float64
	yesterdayHoldingIncome float64
	todayRevenue           float64
	todayHoldingAmount     float64
	low                    []string
	high                   []string
	details                []HoldingValuation
}

func newAccumulator(capacity int) *accumulator {
	return &accumulator{
		low:     []string{},
		high:    []string{},
		details: make([]HoldingValuation, 0, capacity),
	}
}

func (a *accumulator) add(v HoldingValuation) {
	a.totalCost += v.Cost
	a.yesterdayHoldingAmount += v.MarketAmount
	a.yesterdayHoldingIncome += v.TotalRevenue - v.TodayRevenue
	// Rounded on every step, not only at the end.
	a.todayRevenue = round2(a.todayRevenue + v.TodayRevenue)
	a.todayHoldingAmount = a.yesterdayHoldingAmount + a.todayRevenue

	rate := v.ChangeRatePercent
	if rate <= lowChangeThreshold {
		a.low = append(a.low, fmt.Sprintf("%s 跌幅为: %s%%", v.FundName, formatRate(rate)))
	}
	if rate >= highChangeThreshold {
		a.high = append(a.high, fmt.Sprintf("%s 涨幅为: +%s%%", v.FundName, formatRate(rate)))
	}
	a.details = append(a.details, v)
}

func (a *accumulator) summary() PortfolioSummary {
	sort.SliceStable(a.details, func(i, j int) bool {
		return a.details[i].ChangeRatePercent > a.details[j].ChangeRatePercent
	})
	return PortfolioSummary{
		FundCount:              len(a.details),
		TotalCost:              round2(a.totalCost),
		YesterdayHoldingAmount: round2(a.yesterdayHoldingAmount),
		YesterdayHoldingIncome: round2(a.yesterdayHoldingIncome),
		TodayRevenue:           round2(a.todayRevenue),
		TodayHoldingAmount:     round2(a.todayHoldingAmount),
		LowFundList:            a.low,
		HighFundList:           a.high,
		FundDetails:            a.details,
	}
}
