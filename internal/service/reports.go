package service

import (
	"context"
	"database/sql"
	"errors"
	"time"

	"github.com/safar/go-storefront/internal/store"
	"github.com/shopspring/decimal"
	"golang.org/x/sync/errgroup"
)

type ReportTotals struct {
	TotalPaymentsAmount       decimal.Decimal `json:"total_payments_amount"`
	TotalPaymentsCount        int64           `json:"total_payments_count"`
	RefundApprovedCount       int64           `json:"refund_approved_count"`
	RefundRejectedCount       int64           `json:"refund_rejected_count"`
	TotalApprovedRefundAmount decimal.Decimal `json:"total_approved_refund_amount"`
	NetIncome                 decimal.Decimal `json:"net_income"`
}

func (t ReportTotals) add(o ReportTotals) ReportTotals {
	return ReportTotals{
		TotalPaymentsAmount:       t.TotalPaymentsAmount.Add(o.TotalPaymentsAmount),
		TotalPaymentsCount:        t.TotalPaymentsCount + o.TotalPaymentsCount,
		RefundApprovedCount:       t.RefundApprovedCount + o.RefundApprovedCount,
		RefundRejectedCount:       t.RefundRejectedCount + o.RefundRejectedCount,
		TotalApprovedRefundAmount: t.TotalApprovedRefundAmount.Add(o.TotalApprovedRefundAmount),
		NetIncome:                 t.NetIncome.Add(o.NetIncome),
	}
}

type MonthlyReport struct {
	Year  int `json:"year"`
	Month int `json:"month"`
	ReportTotals
}

type YearlyReport struct {
	Year int `json:"year"`
	ReportTotals
	Months []MonthlyReport `json:"months"`
}

type periodAggregator func(ctx context.Context, from, to time.Time) (*store.PeriodTotals, error)

type ReportService struct {
	aggregate periodAggregator
}

func NewReportService(db *sql.DB) (*ReportService, error) {
	if db == nil {
		return nil, errors.New("report service: db is required")
	}
	return &ReportService{
		aggregate: func(ctx context.Context, from, to time.Time) (*store.PeriodTotals, error) {
			return store.AggregatePeriod(ctx, db, from, to)
		},
	}, nil
}

// Monthly aggregates payments captured and refunds decided in the calendar
// month, in UTC. A month without activity yields zero totals.
func (s *ReportService) Monthly(ctx context.Context, year, month int) (MonthlyReport, error) {
	if err := validateYear(year); err != nil {
		return MonthlyReport{}, err
	}
	if month < 1 || month > 12 {
		return MonthlyReport{}, invalid("month", "must be between 1 and 12")
	}

	from := time.Date(year, time.Month(month), 1, 0, 0, 0, 0, time.UTC)
	raw, err := s.aggregate(ctx, from, from.AddDate(0, 1, 0))
	if err != nil {
		return MonthlyReport{}, err
	}

	return MonthlyReport{
		Year:  year,
		Month: month,
		ReportTotals: ReportTotals{
			TotalPaymentsAmount:       raw.PaymentsAmount,
			TotalPaymentsCount:        raw.PaymentsCount,
			RefundApprovedCount:       raw.RefundApprovedCount,
			RefundRejectedCount:       raw.RefundRejectedCount,
			TotalApprovedRefundAmount: raw.ApprovedRefundsAmount,
			NetIncome:                 raw.PaymentsAmount.Sub(raw.ApprovedRefundsAmount),
		},
	}, nil
}

// Yearly is the pointwise sum of the twelve Monthly reports of the year.
func (s *ReportService) Yearly(ctx context.Context, year int) (YearlyReport, error) {
	if err := validateYear(year); err != nil {
		return YearlyReport{}, err
	}

	months := make([]MonthlyReport, 12)
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(4)
	for i := range months {
		g.Go(func() error {
			report, err := s.Monthly(gctx, year, i+1)
			if err != nil {
				return err
			}
			months[i] = report
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return YearlyReport{}, err
	}

	total := ReportTotals{}
	for _, m := range months {
		total = total.add(m.ReportTotals)
	}

	return YearlyReport{Year: year, ReportTotals: total, Months: months}, nil
}

func validateYear(year int) error {
	if year < 1970 || year > 9999 {
		return invalid("year", "must be between 1970 and 9999")
	}
	return nil
}
