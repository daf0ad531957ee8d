// Package history aggregates recorded dose events into adherence reports.
package history

import (
	"context"
	"sort"
	"strings"
	"time"

	"github.com/montanaflynn/stats"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"pillbox-backend/internal/apperr"
	"pillbox-backend/internal/imagestore"
	"pillbox-backend/internal/model"
	"pillbox-backend/internal/schedule"
	"pillbox-backend/internal/store"
)

const (
	PeriodAll   = "all"
	PeriodWeek  = "week"
	PeriodMonth = "month"

	dateLayout     = "2006-01-02"
	timeLayout     = "2006-01-02 15:04:05"
	topMedications = 5
	defaultLimit   = 20
	maxLimit       = 100
)

// Range selects the events a summary covers. Start and End are inclusive
// YYYY-MM-DD dates and take precedence over Period.
type Range struct {
	Period string
	Start  string
	End    string
}

type Totals struct {
	Taken          int64   `json:"taken"`
	Missed         int64   `json:"missed"`
	Total          int64   `json:"total"`
	ComplianceRate float64 `json:"compliance_rate"`
}

type SlotSummary struct {
	SlotNumber int    `json:"slot_number"`
	Label      string `json:"timing_label"`
	Totals
}

type DaySummary struct {
	Date    string  `json:"date"`
	Weekday string  `json:"day"`
	Total   int64   `json:"total"`
	Taken   int64   `json:"taken"`
	Rate    float64 `json:"compliance_rate"`
}

type MedicationSummary struct {
	Name  string  `json:"medication_name"`
	Total int64   `json:"total"`
	Taken int64   `json:"taken"`
	Rate  float64 `json:"compliance_rate"`
}

// Summary is the adherence report for one connection.
type Summary struct {
	Period         string              `json:"period"`
	Start          string              `json:"start_date,omitempty"`
	End            string              `json:"end_date,omitempty"`
	Totals         Totals              `json:"overall"`
	Slots          []SlotSummary       `json:"by_slot"`
	Daily          []DaySummary        `json:"daily_trend,omitempty"`
	TopMedications []MedicationSummary `json:"top_medications"`
}

type Service struct {
	store    store.Store
	defaults schedule.Defaults
	images   imagestore.Store
	log      *zap.Logger
	now      func() time.Time
}

// NewService builds the aggregator. images may be nil.
func NewService(s store.Store, defaults schedule.Defaults, images imagestore.Store, log *zap.Logger) *Service {
	return &Service{store: s, defaults: defaults, images: images, log: log, now: time.Now}
}

// Rate is taken/total rounded to two decimals, or zero without events.
func Rate(taken, total int64) float64 {
	if total <= 0 {
		return 0
	}
	r, err := stats.Round(float64(taken)/float64(total), 2)
	if err != nil {
		return 0
	}
	return r
}

func totals(taken, total int64) Totals {
	return Totals{Taken: taken, Missed: total - taken, Total: total, ComplianceRate: Rate(taken, total)}
}

// window converts a Range into store bounds in the configured time zone.
func (s *Service) window(r Range) (store.HistoryFilter, string, error) {
	loc := s.defaults.Location()
	now := s.now().In(loc)
	tomorrow := time.Date(now.Year(), now.Month(), now.Day(), 0, 0, 0, 0, loc).AddDate(0, 0, 1)

	period := strings.ToLower(strings.TrimSpace(r.Period))
	if period == "" {
		period = PeriodAll
	}

	var f store.HistoryFilter
	switch period {
	case PeriodAll:
	case PeriodWeek:
		f.From, f.To = tomorrow.AddDate(0, 0, -7), tomorrow
	case PeriodMonth:
		f.From, f.To = tomorrow.AddDate(0, 0, -30), tomorrow
	default:
		return f, "", apperr.Validation("period must be one of all, week, month")
	}

	if r.Start != "" {
		start, err := time.ParseInLocation(dateLayout, r.Start, loc)
		if err != nil {
			return f, "", apperr.Validation("start_date must be YYYY-MM-DD")
		}
		f.From = start
	}
	if r.End != "" {
		end, err := time.ParseInLocation(dateLayout, r.End, loc)
		if err != nil {
			return f, "", apperr.Validation("end_date must be YYYY-MM-DD")
		}
		f.To = end.AddDate(0, 0, 1)
	}
	if !f.From.IsZero() && !f.To.IsZero() && !f.From.Before(f.To) {
		return f, "", apperr.Validation("start_date must not be after end_date")
	}
	return f, period, nil
}

// Summary computes totals, the per-slot breakdown, the daily trend and the
// most frequent medications. The four queries run concurrently.
func (s *Service) Summary(ctx context.Context, connectionID int64, r Range) (*Summary, error) {
	f, period, err := s.window(r)
	if err != nil {
		return nil, err
	}
	f.ConnectionID = connectionID
	bounded := period != PeriodAll || r.Start != "" || r.End != ""

	var (
		counts   store.Counts
		bySlot   []store.SlotCount
		outcomes []store.Outcome
		byMed    []store.MedicationCount
	)
	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() (err error) {
		counts, err = s.store.StatusCounts(gctx, f)
		return err
	})
	g.Go(func() (err error) {
		bySlot, err = s.store.SlotCounts(gctx, f)
		return err
	})
	if bounded {
		g.Go(func() (err error) {
			outcomes, err = s.store.Outcomes(gctx, f)
			return err
		})
	}
	g.Go(func() (err error) {
		byMed, err = s.store.MedicationCounts(gctx, f)
		return err
	})
	if err := g.Wait(); err != nil {
		return nil, err
	}

	out := &Summary{
		Period:         period,
		Start:          r.Start,
		End:            r.End,
		Totals:         totals(counts.Taken, counts.Total),
		Slots:          make([]SlotSummary, len(bySlot)),
		TopMedications: topMeds(byMed),
	}
	for i, sc := range bySlot {
		out.Slots[i] = SlotSummary{SlotNumber: sc.SlotNumber, Label: s.defaults.Label(sc.SlotNumber), Totals: totals(sc.Taken, sc.Total)}
	}
	if bounded {
		out.Daily = s.daily(outcomes)
	}
	return out, nil
}

// daily groups outcomes by calendar day, newest day first.
func (s *Service) daily(outcomes []store.Outcome) []DaySummary {
	loc := s.defaults.Location()
	index := map[string]int{}
	days := []DaySummary{}
	for _, o := range outcomes {
		local := o.ScheduledAt.In(loc)
		key := local.Format(dateLayout)
		i, ok := index[key]
		if !ok {
			i = len(days)
			index[key] = i
			days = append(days, DaySummary{Date: key, Weekday: s.defaults.WeekdayLabel(local.Weekday())})
		}
		days[i].Total++
		if o.Status == model.DoseTaken {
			days[i].Taken++
		}
	}
	sort.SliceStable(days, func(a, b int) bool { return days[a].Date > days[b].Date })
	for i := range days {
		days[i].Rate = Rate(days[i].Taken, days[i].Total)
	}
	return days
}

func topMeds(counts []store.MedicationCount) []MedicationSummary {
	out := make([]MedicationSummary, len(counts))
	for i, c := range counts {
		out[i] = MedicationSummary{Name: c.MedicationName, Total: c.Total, Taken: c.Taken, Rate: Rate(c.Taken, c.Total)}
	}
	sort.SliceStable(out, func(a, b int) bool {
		if out[a].Total != out[b].Total {
			return out[a].Total > out[b].Total
		}
		if out[a].Rate != out[b].Rate {
			return out[a].Rate > out[b].Rate
		}
		return out[a].Name < out[b].Name
	})
	if len(out) > topMedications {
		out = out[:topMedications]
	}
	return out
}
