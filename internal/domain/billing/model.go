package billing

import (
	"sort"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/clinicdesk/clinic/internal/platform/auth"
)

// DayLayout is the key format of a calendar day in reports and query params.
const DayLayout = "2006-01-02"

// restrictedDaysBack is how far back non-doctors may look.
const restrictedDaysBack = 4

type ChargeType string

const (
	ChargeDoctor     ChargeType = "DOCTOR"
	ChargeDispensary ChargeType = "DISPENSARY"
)

func ParseChargeType(s string) (ChargeType, bool) {
	switch t := ChargeType(strings.ToUpper(strings.TrimSpace(s))); t {
	case ChargeDoctor, ChargeDispensary:
		return t, true
	}
	return "", false
}

// Charge maps to the charge table. There is at most one row per type.
type Charge struct {
	ID        uuid.UUID       `db:"id" json:"id"`
	Type      ChargeType      `db:"type" json:"type"`
	Value     decimal.Decimal `db:"value" json:"value"`
	UpdatedAt time.Time       `db:"updated_at" json:"updated_at"`
}

// DateRange is the half-open interval [From, To).
type DateRange struct {
	From time.Time `json:"from"`
	To   time.Time `json:"to"`
}

func (r DateRange) Valid() bool {
	return !r.From.IsZero() && !r.To.IsZero() && r.From.Before(r.To)
}

// IncomeRecord is the slice of a prescription that billing reads.
type IncomeRecord struct {
	Time       time.Time       `db:"time"`
	FinalPrice decimal.Decimal `db:"final_price"`
}

type DailyIncome struct {
	Date         string          `json:"date"`
	TotalIncome  decimal.Decimal `json:"total_income"`
	PatientCount int             `json:"patient_count"`
}

type RangeTotals struct {
	TotalIncome       decimal.Decimal `json:"total_income"`
	PatientCount      int             `json:"patient_count"`
	AveragePerPatient decimal.Decimal `json:"average_per_patient"`
}

// Report wraps a result with the range it was computed over, which differs
// from the requested one when the caller was restricted.
type Report[T any] struct {
	Range      DateRange `json:"range"`
	Restricted bool      `json:"restricted"`
	Result     T         `json:"result"`
}

// StartOfDay truncates t to midnight in loc.
func StartOfDay(t time.Time, loc *time.Location) time.Time {
	y, m, d := t.In(loc).Date()
	return time.Date(y, m, d, 0, 0, 0, 0, loc)
}

// AggregateDaily groups records by the calendar day of their time in loc and
// returns one entry per day that has records, newest day first.
func AggregateDaily(records []IncomeRecord, loc *time.Location) []DailyIncome {
	byDay := make(map[string]*DailyIncome)
	for _, rec := range records {
		key := rec.Time.In(loc).Format(DayLayout)
		day, ok := byDay[key]
		if !ok {
			day = &DailyIncome{Date: key, TotalIncome: decimal.Zero}
			byDay[key] = day
		}
		day.TotalIncome = day.TotalIncome.Add(rec.FinalPrice)
		day.PatientCount++
	}

	days := make([]DailyIncome, 0, len(byDay))
	for _, d := range byDay {
		days = append(days, *d)
	}
	// DayLayout sorts lexically in date order.
	sort.Slice(days, func(i, j int) bool { return days[i].Date > days[j].Date })
	return days
}

// Totals sums grouped days. The average is zero when there are no patients.
func Totals(days []DailyIncome) RangeTotals {
	t := RangeTotals{TotalIncome: decimal.Zero, AveragePerPatient: decimal.Zero}
	for _, d := range days {
		t.TotalIncome = t.TotalIncome.Add(d.TotalIncome)
		t.PatientCount += d.PatientCount
	}
	if t.PatientCount > 0 {
		t.AveragePerPatient = t.TotalIncome.DivRound(decimal.NewFromInt(int64(t.PatientCount)), 2)
	}
	return t
}

// RestrictRange narrows the range for callers who are not doctors to
// [today - 4 days, tomorrow) in loc, whatever they asked for. The second
// return reports whether the range was replaced.
func RestrictRange(p auth.Principal, requested DateRange, now time.Time, loc *time.Location) (DateRange, bool) {
	if p.IsDoctor() {
		return requested, false
	}
	today := StartOfDay(now, loc)
	return DateRange{
		From: today.AddDate(0, 0, -restrictedDaysBack),
		To:   today.AddDate(0, 0, 1),
	}, true
}
