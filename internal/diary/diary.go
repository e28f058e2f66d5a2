// Package diary is the per-date activity log: entries keyed by calendar
// date, a month grid and aggregate stats.
package diary

import (
	"context"
	"encoding/json"
	"fmt"
	"math"
	"sort"
	"strings"
	"time"

	"github.com/nexus-dashboard/nexus/internal/apperr"
	"github.com/nexus-dashboard/nexus/internal/docstore"
	"github.com/nexus-dashboard/nexus/internal/validation"
)

// ModuleID is the diary's module identifier and document namespace.
const ModuleID = "diary"

// Protection values
const (
	ProtectionNone   = "none"
	ProtectionCondom = "condom"
	ProtectionPill   = "pill"
	ProtectionPrEP   = "prep"
	ProtectionOther  = "other"
)

// Errors
var (
	ErrEntryNotFound = apperr.New(apperr.ErrNotFound, "entry_not_found", "no entry at this date and index")
)

// Activity is one recorded entry.
type Activity struct {
	Location   string `json:"location" validate:"max=200"`
	Protection string `json:"protection" validate:"required,oneof=none condom pill prep other"`
	Climax     bool   `json:"climax"`
	Toys       bool   `json:"toys"`
}

// Diary is the module's main document. A date key is present only while it
// has at least one entry.
type Diary struct {
	Entries    map[string][]Activity `json:"entries"`
	LastUpdate time.Time             `json:"last_update"`
}

// Service implements the diary operations.
type Service struct {
	store docstore.Store
	now   func() time.Time
}

// NewService creates a diary service.
func NewService(store docstore.Store) *Service {
	return &Service{store: store, now: time.Now}
}

func mainPath(uid string) docstore.Path {
	return docstore.Main(uid, ModuleID)
}

func (s *Service) load(ctx context.Context, uid string) (Diary, int64, error) {
	d, version, err := docstore.Load[Diary](ctx, s.store, mainPath(uid))
	if err != nil {
		return d, 0, err
	}
	if d.Entries == nil {
		d.Entries = map[string][]Activity{}
	}
	return d, version, nil
}

// Append adds an activity to date's list.
func (s *Service) Append(ctx context.Context, uid, date string, a Activity) ([]Activity, error) {
	if err := validation.Var(date, "required,isodate"); err != nil {
		return nil, err
	}
	if err := validation.Struct(a); err != nil {
		return nil, err
	}
	d, _, err := docstore.UpdateInto(ctx, s.store, mainPath(uid), func(d *Diary) error {
		if d.Entries == nil {
			d.Entries = map[string][]Activity{}
		}
		d.Entries[date] = append(d.Entries[date], a)
		d.LastUpdate = s.now().UTC()
		return nil
	})
	if err != nil {
		return nil, err
	}
	return d.Entries[date], nil
}

// DeleteEntry removes the entry at index for date. Removing the last entry
// removes the date key.
func (s *Service) DeleteEntry(ctx context.Context, uid, date string, index int) ([]Activity, error) {
	d, _, err := docstore.UpdateInto(ctx, s.store, mainPath(uid), func(d *Diary) error {
		list := d.Entries[date]
		if index < 0 || index >= len(list) {
			return ErrEntryNotFound
		}
		list = append(list[:index], list[index+1:]...)
		if len(list) == 0 {
			delete(d.Entries, date)
		} else {
			d.Entries[date] = list
		}
		d.LastUpdate = s.now().UTC()
		return nil
	})
	if err != nil {
		return nil, err
	}
	day := d.Entries[date]
	if day == nil {
		day = []Activity{}
	}
	return day, nil
}

// Day returns the entries recorded on date.
func (s *Service) Day(ctx context.Context, uid, date string) ([]Activity, error) {
	if err := validation.Var(date, "required,isodate"); err != nil {
		return nil, err
	}
	d, _, err := s.load(ctx, uid)
	if err != nil {
		return nil, err
	}
	day := d.Entries[date]
	if day == nil {
		day = []Activity{}
	}
	return day, nil
}

// DaySummary is one cell of the month grid.
type DaySummary struct {
	Date  string `json:"date"`
	Count int    `json:"count"`
}

// MonthView lists the recorded days of one month.
type MonthView struct {
	Month string       `json:"month"`
	Days  []DaySummary `json:"days"`
	Total int          `json:"total"`
}

// Month returns the days of month ("YYYY-MM") that have entries.
func (s *Service) Month(ctx context.Context, uid, month string) (*MonthView, error) {
	if err := validation.Var(month, "required,yearmonth"); err != nil {
		return nil, err
	}
	d, _, err := s.load(ctx, uid)
	if err != nil {
		return nil, err
	}
	view := &MonthView{Month: month, Days: []DaySummary{}}
	for _, date := range sortedDates(d.Entries) {
		if !strings.HasPrefix(date, month+"-") {
			continue
		}
		n := len(d.Entries[date])
		view.Days = append(view.Days, DaySummary{Date: date, Count: n})
		view.Total += n
	}
	return view, nil
}

// Stats are the diary aggregates.
type Stats struct {
	Total         int `json:"total"`
	FlaggedRate   int `json:"flagged_rate"`
	LongestStreak int `json:"longest_streak"`
}

// Stats computes totals, the rounded percentage of entries with the climax
// flag and the longest run of consecutive recorded days.
func (s *Service) Stats(ctx context.Context, uid string) (*Stats, error) {
	d, _, err := s.load(ctx, uid)
	if err != nil {
		return nil, err
	}
	return ComputeStats(d.Entries), nil
}

// ComputeStats derives Stats from an entry map.
func ComputeStats(entries map[string][]Activity) *Stats {
	st := &Stats{}
	flagged := 0
	for _, list := range entries {
		st.Total += len(list)
		for _, a := range list {
			if a.Climax {
				flagged++
			}
		}
	}
	if st.Total > 0 {
		st.FlaggedRate = int(math.Round(float64(flagged) / float64(st.Total) * 100))
	}
	st.LongestStreak = LongestStreak(sortedDates(entries))
	return st
}

// LongestStreak returns the longest run of consecutive days in sorted date
// keys. Keys are calendar dates, so they are parsed as UTC midnights and
// compared in whole days; the local zone and its DST changes play no part.
func LongestStreak(dates []string) int {
	const day = 24 * time.Hour

	best, run := 0, 0
	var last time.Time
	for _, ds := range dates {
		cur, err := time.Parse(time.DateOnly, ds)
		if err != nil {
			continue
		}
		switch {
		case last.IsZero():
			run = 1
		case cur.Sub(last) == day:
			run++
		case cur.After(last):
			run = 1
		}
		best = max(best, run)
		last = cur
	}
	return best
}

func sortedDates(entries map[string][]Activity) []string {
	dates := make([]string, 0, len(entries))
	for k := range entries {
		dates = append(dates, k)
	}
	sort.Strings(dates)
	return dates
}

// Backup is the diary's export file.
type Backup struct {
	Entries map[string][]Activity `json:"entries"`
}

// Export returns every entry of uid.
func (s *Service) Export(ctx context.Context, uid string) (any, error) {
	d, _, err := s.load(ctx, uid)
	if err != nil {
		return nil, err
	}
	return Backup{Entries: d.Entries}, nil
}

// ImportWrites appends the file's entries to the existing dates. The write
// expects the document version read here, so a concurrent edit fails the
// import instead of being overwritten.
func (s *Service) ImportWrites(ctx context.Context, uid string, raw json.RawMessage) ([]docstore.Write, error) {
	var b Backup
	if err := json.Unmarshal(raw, &b); err != nil {
		return nil, invalidImport("malformed diary backup: %v", err)
	}
	d, version, err := s.load(ctx, uid)
	if err != nil {
		return nil, err
	}

	for _, date := range sortedDates(b.Entries) {
		if err := validation.Var(date, "isodate"); err != nil {
			return nil, invalidImport("invalid date key %q", date)
		}
		for i, a := range b.Entries[date] {
			if err := validation.Struct(a); err != nil {
				return nil, invalidImport("%s #%d: %v", date, i+1, err)
			}
		}
		if len(b.Entries[date]) > 0 {
			d.Entries[date] = append(d.Entries[date], b.Entries[date]...)
		}
	}
	d.LastUpdate = s.now().UTC()

	expected := version
	if version == 0 {
		expected = docstore.MustNotExist
	}
	return []docstore.Write{{Path: mainPath(uid), Op: docstore.OpSet, Data: d, ExpectedVersion: expected}}, nil
}

func invalidImport(format string, args ...any) error {
	return apperr.New(apperr.ErrInvalidInput, "invalid_import", fmt.Sprintf(format, args...))
}
