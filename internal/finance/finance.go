// Package finance is the vehicle ledger: vehicles, motorway tolls and other
// running expenses. Totals are plain sums.
package finance

import (
	"cmp"
	"context"
	"math"
	"slices"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/nexus-dashboard/nexus/internal/apperr"
	"github.com/nexus-dashboard/nexus/internal/docstore"
	"github.com/nexus-dashboard/nexus/internal/validation"
)

// ModuleID is the ledger's module identifier and document namespace.
const ModuleID = "finance"

// Expense types
const (
	ExpenseFuel       = "fuel"
	ExpenseInspection = "inspection"
	ExpenseInsurance  = "insurance"
	ExpenseService    = "service"
	ExpenseExtra      = "extra"
)

// Errors
var (
	ErrVehicleNotFound = apperr.New(apperr.ErrNotFound, "vehicle_not_found", "vehicle not found")
	ErrTollNotFound    = apperr.New(apperr.ErrNotFound, "toll_not_found", "toll not found")
	ErrExpenseNotFound = apperr.New(apperr.ErrNotFound, "expense_not_found", "expense not found")
)

// Vehicle is an owned vehicle.
type Vehicle struct {
	ID    string `json:"id"`
	Model string `json:"model" validate:"required,max=200"`
	Plate string `json:"plate" validate:"required,max=20"`
	VIN   string `json:"vin,omitempty" validate:"max=17"`
}

// Toll is a motorway toll between two stations, optionally tied to a
// vehicle and a logbook trip.
type Toll struct {
	ID        string  `json:"id"`
	Entry     string  `json:"entry" validate:"required,max=200"`
	Exit      string  `json:"exit" validate:"required,max=200"`
	Cost      float64 `json:"cost" validate:"min=0"`
	Date      string  `json:"date" validate:"required,isodate"`
	VehicleID string  `json:"vehicle_id,omitempty" validate:"max=128"`
	TripID    string  `json:"trip_id,omitempty" validate:"max=128"`
}

// Expense is any other cost.
type Expense struct {
	ID        string  `json:"id"`
	Type      string  `json:"type" validate:"required,oneof=fuel inspection insurance service extra"`
	Cost      float64 `json:"cost" validate:"min=0"`
	Date      string  `json:"date" validate:"required,isodate"`
	Notes     string  `json:"notes,omitempty" validate:"max=2000"`
	VehicleID string  `json:"vehicle_id,omitempty" validate:"max=128"`
}

// Ledger is the module's main document.
type Ledger struct {
	Vehicles  []Vehicle `json:"vehicles"`
	Tolls     []Toll    `json:"tolls"`
	Expenses  []Expense `json:"expenses"`
	UpdatedAt time.Time `json:"updated_at"`
}

func (l *Ledger) normalize() {
	if l.Vehicles == nil {
		l.Vehicles = []Vehicle{}
	}
	if l.Tolls == nil {
		l.Tolls = []Toll{}
	}
	if l.Expenses == nil {
		l.Expenses = []Expense{}
	}
}

// TollFilter narrows the toll list. Station matches entry or exit,
// case-insensitively.
type TollFilter struct {
	Station string   `form:"station"`
	MaxCost *float64 `form:"max_cost"`
	Vehicle string   `form:"vehicle_id"`
}

func (f TollFilter) match(t Toll) bool {
	if f.Station != "" {
		q := strings.ToLower(f.Station)
		if !strings.Contains(strings.ToLower(t.Entry), q) && !strings.Contains(strings.ToLower(t.Exit), q) {
			return false
		}
	}
	if f.MaxCost != nil && t.Cost > *f.MaxCost {
		return false
	}
	return f.Vehicle == "" || t.VehicleID == f.Vehicle
}

// ExpenseFilter narrows the expense list.
type ExpenseFilter struct {
	Type    string `form:"type"`
	Vehicle string `form:"vehicle_id"`
}

func (f ExpenseFilter) match(e Expense) bool {
	return (f.Type == "" || e.Type == f.Type) && (f.Vehicle == "" || e.VehicleID == f.Vehicle)
}

// Totals are plain sums.
type Totals struct {
	Tolls    float64 `json:"tolls"`
	Expenses float64 `json:"expenses"`
	Total    float64 `json:"total"`
}

// ComputeTotals sums tolls and expenses.
func ComputeTotals(tolls []Toll, expenses []Expense) Totals {
	var t Totals
	for _, x := range tolls {
		t.Tolls += x.Cost
	}
	for _, x := range expenses {
		t.Expenses += x.Cost
	}
	t.Tolls = roundCents(t.Tolls)
	t.Expenses = roundCents(t.Expenses)
	t.Total = roundCents(t.Tolls + t.Expenses)
	return t
}

func roundCents(v float64) float64 {
	return math.Round(v*100) / 100
}

// Service implements the ledger operations.
type Service struct {
	store docstore.Store
	now   func() time.Time
}

// NewService creates a finance service.
func NewService(store docstore.Store) *Service {
	return &Service{store: store, now: time.Now}
}

func mainPath(uid string) docstore.Path {
	return docstore.Main(uid, ModuleID)
}

func (s *Service) load(ctx context.Context, uid string) (Ledger, int64, error) {
	l, version, err := docstore.Load[Ledger](ctx, s.store, mainPath(uid))
	l.normalize()
	return l, version, err
}

func (s *Service) mutate(ctx context.Context, uid string, fn func(*Ledger) error) error {
	_, _, err := docstore.UpdateInto(ctx, s.store, mainPath(uid), func(l *Ledger) error {
		l.normalize()
		if err := fn(l); err != nil {
			return err
		}
		l.UpdatedAt = s.now().UTC()
		return nil
	})
	return err
}

// View is the ledger with filters applied and totals over what is shown.
type View struct {
	Vehicles []Vehicle `json:"vehicles"`
	Tolls    []Toll    `json:"tolls"`
	Expenses []Expense `json:"expenses"`
	Totals   Totals    `json:"totals"`
}

// View returns the filtered ledger. Tolls and expenses are newest first.
func (s *Service) View(ctx context.Context, uid string, tf TollFilter, ef ExpenseFilter) (*View, error) {
	l, _, err := s.load(ctx, uid)
	if err != nil {
		return nil, err
	}
	v := &View{Vehicles: l.Vehicles, Tolls: []Toll{}, Expenses: []Expense{}}
	for _, t := range l.Tolls {
		if tf.match(t) {
			v.Tolls = append(v.Tolls, t)
		}
	}
	for _, e := range l.Expenses {
		if ef.match(e) {
			v.Expenses = append(v.Expenses, e)
		}
	}
	slices.SortStableFunc(v.Tolls, func(a, b Toll) int { return cmp.Compare(b.Date, a.Date) })
	slices.SortStableFunc(v.Expenses, func(a, b Expense) int { return cmp.Compare(b.Date, a.Date) })
	v.Totals = ComputeTotals(v.Tolls, v.Expenses)
	return v, nil
}

// SaveVehicle creates (empty id) or replaces a vehicle.
func (s *Service) SaveVehicle(ctx context.Context, uid, id string, v Vehicle) (*Vehicle, error) {
	if err := validation.Struct(v); err != nil {
		return nil, err
	}
	v.ID = id
	err := s.mutate(ctx, uid, func(l *Ledger) error {
		return upsert(&l.Vehicles, &v, func(x *Vehicle) *string { return &x.ID }, ErrVehicleNotFound)
	})
	if err != nil {
		return nil, err
	}
	return &v, nil
}

// DeleteVehicle removes a vehicle. Tolls and expenses keep their reference.
func (s *Service) DeleteVehicle(ctx context.Context, uid, id string) error {
	return s.mutate(ctx, uid, func(l *Ledger) error {
		return remove(&l.Vehicles, id, func(x *Vehicle) *string { return &x.ID }, ErrVehicleNotFound)
	})
}

// SaveToll creates (empty id) or replaces a toll.
func (s *Service) SaveToll(ctx context.Context, uid, id string, t Toll) (*Toll, error) {
	if err := validation.Struct(t); err != nil {
		return nil, err
	}
	t.ID = id
	err := s.mutate(ctx, uid, func(l *Ledger) error {
		return upsert(&l.Tolls, &t, func(x *Toll) *string { return &x.ID }, ErrTollNotFound)
	})
	if err != nil {
		return nil, err
	}
	return &t, nil
}

// DeleteToll removes a toll.
func (s *Service) DeleteToll(ctx context.Context, uid, id string) error {
	return s.mutate(ctx, uid, func(l *Ledger) error {
		return remove(&l.Tolls, id, func(x *Toll) *string { return &x.ID }, ErrTollNotFound)
	})
}

// SaveExpense creates (empty id) or replaces an expense.
func (s *Service) SaveExpense(ctx context.Context, uid, id string, e Expense) (*Expense, error) {
	if err := validation.Struct(e); err != nil {
		return nil, err
	}
	e.ID = id
	err := s.mutate(ctx, uid, func(l *Ledger) error {
		return upsert(&l.Expenses, &e, func(x *Expense) *string { return &x.ID }, ErrExpenseNotFound)
	})
	if err != nil {
		return nil, err
	}
	return &e, nil
}

// DeleteExpense removes an expense.
func (s *Service) DeleteExpense(ctx context.Context, uid, id string) error {
	return s.mutate(ctx, uid, func(l *Ledger) error {
		return remove(&l.Expenses, id, func(x *Expense) *string { return &x.ID }, ErrExpenseNotFound)
	})
}

// upsert appends item with a fresh id when its id is empty, otherwise
// replaces the item with the same id.
func upsert[T any](items *[]T, item *T, idOf func(*T) *string, notFound error) error {
	id := idOf(item)
	if *id == "" {
		*id = uuid.NewString()
		*items = append(*items, *item)
		return nil
	}
	for i := range *items {
		if *idOf(&(*items)[i]) == *id {
			(*items)[i] = *item
			return nil
		}
	}
	return notFound
}

func remove[T any](items *[]T, id string, idOf func(*T) *string, notFound error) error {
	for i := range *items {
		if *idOf(&(*items)[i]) == id {
			*items = slices.Delete(*items, i, i+1)
			return nil
		}
	}
	return notFound
}
