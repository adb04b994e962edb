package stats

import (
	"sort"

	"github.com/shopspring/decimal"

	"github.com/wonny/stratstats/internal/contracts"
)

// DefaultBaselinePrice is the reference price every strategy starts from
var DefaultBaselinePrice = decimal.NewFromInt(1000)

var (
	one     = decimal.NewFromInt(1)
	hundred = decimal.NewFromInt(100)
)

// dailyReturnPrecision is the scale of the intermediate daily return ratio
const dailyReturnPrecision = 12

// ComputeMonth derives one month's aggregate from its daily records and the
// chain predecessor (closest earlier aggregate, nil for the first month).
// Returns nil when the month has no records.
//
// 기준가 체인:
//
//	P_d = P_{d-1} + depWd_d
//	r_d = pl_d / P_d   (P_d <= 0 이면 0)
//	R_d = max(0, R_{d-1} * (1 + r_d))
//
// 원금 이상의 손실이면 기준가는 0에서 멈추고 이후 누적 수익률은 -100%로 유지된다.
// 직전 기준가가 0인 달의 월간 수익률은 0.
func ComputeMonth(
	strategyID int64,
	month contracts.Month,
	records []*contracts.DailyRecord,
	prev *contracts.MonthlyAggregate,
	baseline decimal.Decimal,
) *contracts.MonthlyAggregate {
	if len(records) == 0 {
		return nil
	}

	sorted := make([]*contracts.DailyRecord, len(records))
	copy(sorted, records)
	sort.SliceStable(sorted, func(i, j int) bool {
		return sorted[i].Date.Before(sorted[j].Date)
	})

	principal := decimal.Zero
	refPrice := baseline
	prevRefPrice := baseline
	prevCumPL := decimal.Zero
	if prev != nil {
		principal = prev.ClosingPrincipal
		refPrice = prev.ClosingReferencePrice
		prevRefPrice = prev.ClosingReferencePrice
		prevCumPL = prev.CumulativeProfitLoss
	}

	principalSum := decimal.Zero
	netFlow := decimal.Zero
	profitLoss := decimal.Zero

	for _, rec := range sorted {
		depWd := rec.DepWd()
		pl := rec.ProfitLoss()

		principal = principal.Add(depWd)
		principalSum = principalSum.Add(principal)
		netFlow = netFlow.Add(depWd)
		profitLoss = profitLoss.Add(pl)

		if principal.IsPositive() {
			dailyReturn := pl.DivRound(principal, dailyReturnPrecision)
			refPrice = decimal.Max(decimal.Zero, refPrice.Mul(one.Add(dailyReturn)).Round(contracts.ReferencePriceScale))
		}
	}

	return &contracts.MonthlyAggregate{
		StrategyID:            strategyID,
		AnalysisMonth:         month,
		AveragePrincipal:      principalSum.DivRound(decimal.NewFromInt(int64(len(sorted))), contracts.AmountScale),
		NetFlow:               netFlow.Round(contracts.AmountScale),
		MonthlyProfitLoss:     profitLoss.Round(contracts.AmountScale),
		MonthlyReturn:         percentChange(refPrice, prevRefPrice),
		CumulativeProfitLoss:  prevCumPL.Add(profitLoss).Round(contracts.AmountScale),
		CumulativeReturn:      percentChange(refPrice, baseline),
		ClosingPrincipal:      principal.Round(contracts.AmountScale),
		ClosingReferencePrice: refPrice,
		TradingDays:           len(sorted),
	}
}

// ComputeChain recomputes every month of a strategy from scratch.
// records may be in any order; the result is ordered oldest month first.
func ComputeChain(strategyID int64, records []*contracts.DailyRecord, baseline decimal.Decimal) []*contracts.MonthlyAggregate {
	byMonth := make(map[contracts.Month][]*contracts.DailyRecord)
	var months []contracts.Month
	for _, rec := range records {
		m := rec.Month()
		if _, ok := byMonth[m]; !ok {
			months = append(months, m)
		}
		byMonth[m] = append(byMonth[m], rec)
	}
	sort.Slice(months, func(i, j int) bool { return months[i].Before(months[j]) })

	chain := make([]*contracts.MonthlyAggregate, 0, len(months))
	var prev *contracts.MonthlyAggregate
	for _, m := range months {
		agg := ComputeMonth(strategyID, m, byMonth[m], prev, baseline)
		chain = append(chain, agg)
		prev = agg
	}
	return chain
}

// percentChange returns (current/base - 1) * 100 at the stored return scale
func percentChange(current, base decimal.Decimal) decimal.Decimal {
	if !base.IsPositive() {
		return decimal.Zero
	}
	return current.DivRound(base, dailyReturnPrecision).
		Sub(one).
		Mul(hundred).
		Round(contracts.ReturnScale)
}
