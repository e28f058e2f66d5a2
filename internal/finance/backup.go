package finance

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/google/uuid"
	"github.com/nexus-dashboard/nexus/internal/apperr"
	"github.com/nexus-dashboard/nexus/internal/docstore"
	"github.com/nexus-dashboard/nexus/internal/validation"
)

// Backup is the export file. Vehicle ids are kept so tolls and expenses in
// the same file can be re-linked on import.
type Backup struct {
	Vehicles []Vehicle `json:"vehicles"`
	Tolls    []Toll    `json:"tolls"`
	Expenses []Expense `json:"expenses"`
}

// Export returns the whole ledger of uid.
func (s *Service) Export(ctx context.Context, uid string) (any, error) {
	l, _, err := s.load(ctx, uid)
	if err != nil {
		return nil, err
	}
	return Backup{Vehicles: l.Vehicles, Tolls: l.Tolls, Expenses: l.Expenses}, nil
}

// ImportWrites appends the file's records with fresh ids.
func (s *Service) ImportWrites(ctx context.Context, uid string, raw json.RawMessage) ([]docstore.Write, error) {
	var b Backup
	if err := json.Unmarshal(raw, &b); err != nil {
		return nil, invalidImport("malformed finance backup: %v", err)
	}
	l, version, err := s.load(ctx, uid)
	if err != nil {
		return nil, err
	}

	vehicles := make(map[string]string, len(b.Vehicles))
	relink := func(old string) string {
		if id, ok := vehicles[old]; ok {
			return id
		}
		return old
	}

	for i, v := range b.Vehicles {
		if err := validation.Struct(v); err != nil {
			return nil, invalidImport("vehicle #%d: %v", i+1, err)
		}
		id := uuid.NewString()
		if v.ID != "" {
			vehicles[v.ID] = id
		}
		v.ID = id
		l.Vehicles = append(l.Vehicles, v)
	}
	for i, t := range b.Tolls {
		if err := validation.Struct(t); err != nil {
			return nil, invalidImport("toll #%d: %v", i+1, err)
		}
		t.ID = uuid.NewString()
		t.VehicleID = relink(t.VehicleID)
		l.Tolls = append(l.Tolls, t)
	}
	for i, e := range b.Expenses {
		if err := validation.Struct(e); err != nil {
			return nil, invalidImport("expense #%d: %v", i+1, err)
		}
		e.ID = uuid.NewString()
		e.VehicleID = relink(e.VehicleID)
		l.Expenses = append(l.Expenses, e)
	}
	l.UpdatedAt = s.now().UTC()

	expected := version
	if version == 0 {
		expected = docstore.MustNotExist
	}
	return []docstore.Write{{Path: mainPath(uid), Op: docstore.OpSet, Data: l, ExpectedVersion: expected}}, nil
}

func invalidImport(format string, args ...any) error {
	return apperr.New(apperr.ErrInvalidInput, "invalid_import", fmt.Sprintf(format, args...))
}
