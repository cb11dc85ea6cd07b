// Package dashboard turns a tenant's spend aggregations into the summary the
// web dashboard renders.
package dashboard

import (
	"context"
	"math"
	"strings"
	"time"

	"github.com/dvloznov/finance-advisor/internal/domain"
	"github.com/dvloznov/finance-advisor/internal/tenant"
	finerr "github.com/dvloznov/finance-advisor/pkg/errors"
)

// Range is a look-back window such as "30d".
type Range string

const (
	Range1D  Range = "1d"
	Range7D  Range = "7d"
	Range30D Range = "30d"
	Range3M  Range = "3m"
	Range6M  Range = "6m"
	Range1Y  Range = "1y"
	RangeAll Range = "all"

	DefaultRange = Range30D

	uncategorized = "Uncategorized"
)

var rangeDays = map[Range]int{
	Range1D:  1,
	Range7D:  7,
	Range30D: 30,
	Range3M:  90,
	Range6M:  180,
	Range1Y:  365,
	RangeAll: 0,
}

// ParseRange accepts the range keys above; empty means DefaultRange.
func ParseRange(s string) (Range, error) {
	s = strings.ToLower(strings.TrimSpace(s))
	if s == "" {
		return DefaultRange, nil
	}
	r := Range(s)
	if _, ok := rangeDays[r]; !ok {
		return "", finerr.New(finerr.CodeServerRequestInvalid, "unknown range", finerr.Field("range", s))
	}
	return r, nil
}

// Since is the first day included in the range, or zero for all time.
func (r Range) Since(now time.Time) time.Time {
	days := rangeDays[r]
	if days == 0 {
		return time.Time{}
	}
	y, m, d := now.UTC().Date()
	return time.Date(y, m, d, 0, 0, 0, 0, time.UTC).AddDate(0, 0, -days)
}

// Monthly reports whether the trend for this range is bucketed by month.
func (r Range) Monthly() bool {
	return r == Range6M || r == Range1Y || r == RangeAll
}

type CategoryStat struct {
	Category   string  `json:"category"`
	Amount     float64 `json:"amount"`
	Percentage float64 `json:"percentage"`
}

type TrendPoint struct {
	Period string  `json:"period"`
	Amount float64 `json:"amount"`
}

type Stats struct {
	TotalSpent        float64        `json:"total_spent"`
	TopCategory       *string        `json:"top_category"`
	CategoryBreakdown []CategoryStat `json:"category_breakdown"`
	Trend             []TrendPoint   `json:"monthly_trend"`
}

// Reader is the slice of the analytics repository the dashboard reads.
type Reader interface {
	CategoryBreakdown(ctx context.Context, owner tenant.ID, filter domain.SpendFilter) ([]domain.CategoryTotal, error)
	SpendTrend(ctx context.Context, owner tenant.ID, filter domain.SpendFilter) ([]domain.TrendPoint, error)
}

type Service struct {
	reader Reader
	now    func() time.Time
}

func NewService(reader Reader) *Service {
	return &Service{reader: reader, now: time.Now}
}

// Stats summarises owner's spend over r, optionally limited to categories.
func (s *Service) Stats(ctx context.Context, owner tenant.ID, r Range, categories []string) (Stats, error) {
	if err := owner.Validate(); err != nil {
		return Stats{}, err
	}

	filter := domain.SpendFilter{
		Since:      r.Since(s.now()),
		Categories: categories,
		Monthly:    r.Monthly(),
	}

	totals, err := s.reader.CategoryBreakdown(ctx, owner, filter)
	if err != nil {
		return Stats{}, finerr.Wrap(err, finerr.CodeStoreQueryFailure, "loading category breakdown")
	}
	trend, err := s.reader.SpendTrend(ctx, owner, filter)
	if err != nil {
		return Stats{}, finerr.Wrap(err, finerr.CodeStoreQueryFailure, "loading spend trend")
	}

	return summarise(totals, trend), nil
}

// summarise expects totals sorted by amount, largest first.
func summarise(totals []domain.CategoryTotal, trend []domain.TrendPoint) Stats {
	out := Stats{
		CategoryBreakdown: make([]CategoryStat, 0, len(totals)),
		Trend:             make([]TrendPoint, 0, len(trend)),
	}

	for _, t := range totals {
		out.TotalSpent += t.Total
	}
	for _, t := range totals {
		category := t.Category
		if category == "" {
			category = uncategorized
		}
		pct := 0.0
		if out.TotalSpent > 0 {
			pct = math.Round(t.Total/out.TotalSpent*1000) / 10
		}
		out.CategoryBreakdown = append(out.CategoryBreakdown, CategoryStat{Category: category, Amount: t.Total, Percentage: pct})
	}
	if len(out.CategoryBreakdown) > 0 {
		top := out.CategoryBreakdown[0].Category
		out.TopCategory = &top
	}

	for _, p := range trend {
		out.Trend = append(out.Trend, TrendPoint{Period: p.Bucket, Amount: p.Total})
	}
	return out
}
