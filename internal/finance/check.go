package finance

import (
	"encoding/json"

	"github.com/nexus-dashboard/nexus/internal/docstore"
	"github.com/nexus-dashboard/nexus/internal/validation"
)

// CheckDocument validates a raw write of the ledger. Every record needs an
// id, since updates and deletes address records by it.
func CheckDocument(path docstore.Path, raw json.RawMessage) error {
	if !path.IsMain() {
		return docstore.InvalidDocument("the finance ledger has only a main document")
	}
	var l Ledger
	if err := docstore.DecodeStrict(raw, &l); err != nil {
		return err
	}
	for i, v := range l.Vehicles {
		if err := checkRecord("vehicle", i, v.ID, v); err != nil {
			return err
		}
	}
	for i, t := range l.Tolls {
		if err := checkRecord("toll", i, t.ID, t); err != nil {
			return err
		}
	}
	for i, e := range l.Expenses {
		if err := checkRecord("expense", i, e.ID, e); err != nil {
			return err
		}
	}
	return nil
}

func checkRecord(kind string, index int, id string, v any) error {
	if id == "" {
		return docstore.InvalidDocument("%s #%d: id is required", kind, index+1)
	}
	if err := validation.Struct(v); err != nil {
		return docstore.InvalidDocument("%s #%d: %v", kind, index+1, err)
	}
	return nil
}
