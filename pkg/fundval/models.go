package fundval

import "fmt"

// FundKind tags which upstream shape produced a snapshot.
type FundKind string

const (
	// KindOpenEnd is an open-end fund quoted by the JSONP estimate feed.
	KindOpenEnd FundKind = "open_end"
	// KindListed is a listed or LOF fund scraped from its detail page.
	KindListed FundKind = "listed"
)

// FundSnapshot is a normalized valuation record for one fund at fetch time.
// Exactly one of UnitNav (open-end) or Value (listed) is set.
type FundSnapshot struct {
	Code                  string   `json:"code"`
	Name                  string   `json:"name"`
	Kind                  FundKind `json:"kind"`
	AsOf                  string   `json:"as_of"`
	UnitNav               *float64 `json:"unit_nav,omitempty"`
	EstimateNav           *float64 `json:"estimate_nav,omitempty"`
	EstimateChangePercent *float64 `json:"estimate_change_percent,omitempty"`
	Value                 *float64 `json:"value,omitempty"`
}

func newOpenEndSnapshot(code, name, asOf string, unitNav float64, estimateNav, changePercent *float64) FundSnapshot {
	return FundSnapshot{
		Code:                  code,
		Name:                  name,
		Kind:                  KindOpenEnd,
		AsOf:                  asOf,
		UnitNav:               &unitNav,
		EstimateNav:           estimateNav,
		EstimateChangePercent: changePercent,
	}
}

func newListedSnapshot(code, name, asOf string, value float64) FundSnapshot {
	return FundSnapshot{
		Code:  code,
		Name:  name,
		Kind:  KindListed,
		AsOf:  asOf,
		Value: &value,
	}
}

// Validate checks the kind/field invariant. Cached payloads are validated before use.
func (s FundSnapshot) Validate() error {
	switch s.Kind {
	case KindOpenEnd:
		if s.UnitNav == nil || s.Value != nil {
			return fmt.Errorf("open-end snapshot %s must carry unit nav only", s.Code)
		}
	case KindListed:
		if s.Value == nil || s.UnitNav != nil || s.EstimateNav != nil || s.EstimateChangePercent != nil {
			return fmt.Errorf("listed snapshot %s must carry value only", s.Code)
		}
	default:
		return fmt.Errorf("snapshot %s has unknown kind %q", s.Code, s.Kind)
	}
	return nil
}

// NavHistoryPoint is one trading day of historical net asset value.
type NavHistoryPoint struct {
	Date               string   `json:"date"`
	UnitNav            *float64 `json:"unit_nav"`
	DailyGrowthPercent *float64 `json:"daily_growth_percent"`
	DailyGrowthRaw     string   `json:"daily_growth_raw"`
}

// Holding is one position supplied by the caller.
type Holding struct {
	FundCode  string  `json:"fund_code"`
	CostPrice float64 `json:"cost_price"`
	Shares    float64 `json:"shares"`
}

// HoldingValuation holds the derived figures for one resolved holding.
type HoldingValuation struct {
	FundCode               string            `json:"fund_code"`
	FundName               string            `json:"fund_name"`
	Cost                   float64           `json:"cost"`
	MarketAmount           float64           `json:"amount"`
	CostPrice              float64           `json:"cost_price"`
	PriorNav               *float64          `json:"shangrijingzhi"`
	TodayEstimateValue     float64           `json:"today_value"`
	ChangeRateDisplay      string            `json:"change_rate"`
	ChangeRatePercent      float64           `json:"change_rate_percent"`
	TodayRevenue           float64           `json:"today_revenue"`
	TotalRevenue           float64           `json:"total_revenue"`
	ProfitLossRatioPercent float64           `json:"profit_loss_ratio"`
	RecentNavHistory       []NavHistoryPoint `json:"recent_nav_history"`
}

// PortfolioSummary is the whole-portfolio result of one Calculate call.
type PortfolioSummary struct {
	FundCount              int                `json:"fund_count"`
	TotalCost              float64            `json:"total_cost"`
	YesterdayHoldingAmount float64            `json:"yesterday_holding_amount"`
	YesterdayHoldingIncome float64            `json:"yesterday_holding_income"`
	TodayRevenue           float64            `json:"today_revenue"`
	TodayHoldingAmount     float64            `json:"today_holding_amount"`
	LowFundList            []string           `json:"low_fund_list"`
	HighFundList           []string           `json:"high_fund_list"`
	FundDetails            []HoldingValuation `json:"fund_details"`
}
