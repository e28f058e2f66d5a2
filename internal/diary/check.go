package diary

import (
	"encoding/json"

	"github.com/nexus-dashboard/nexus/internal/docstore"
	"github.com/nexus-dashboard/nexus/internal/validation"
)

// CheckDocument validates a raw write of the diary document: only the main
// document exists, every key is a date and no date is left without entries.
func CheckDocument(path docstore.Path, raw json.RawMessage) error {
	if !path.IsMain() {
		return docstore.InvalidDocument("the diary has only a main document")
	}
	var d Diary
	if err := docstore.DecodeStrict(raw, &d); err != nil {
		return err
	}
	for _, date := range sortedDates(d.Entries) {
		if err := validation.Var(date, "isodate"); err != nil {
			return docstore.InvalidDocument("invalid date key %q", date)
		}
		if len(d.Entries[date]) == 0 {
			return docstore.InvalidDocument("date %s has no entries", date)
		}
		for i, a := range d.Entries[date] {
			if err := validation.Struct(a); err != nil {
				return docstore.InvalidDocument("%s #%d: %v", date, i+1, err)
			}
		}
	}
	return nil
}
