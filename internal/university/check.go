package university

import (
	"encoding/json"
	"errors"

	"github.com/nexus-dashboard/nexus/internal/docstore"
	"github.com/nexus-dashboard/nexus/internal/validation"
)

func checkSubject(s Subject) error {
	return validation.Struct(SubjectInput{Name: s.Name, Credits: s.Credits, Instructor: s.Instructor})
}

func checkClass(c Class) error {
	return validation.Struct(ClassInput{SubjectID: c.SubjectID, Weekday: c.Weekday, Start: c.Start, End: c.End, Room: c.Room})
}

// checkExam expects the stored form: honors already split from the grade.
func checkExam(e Exam) error {
	if err := validation.Var(e.Date, "isodate"); err != nil {
		return errors.New("invalid date")
	}
	if e.Grade < MinGrade || e.Grade > MaxGrade || e.Credits < 0 {
		return errors.New("grade or credits out of range")
	}
	return nil
}

func checkDeadline(d Deadline) error {
	if err := validation.Var(d.Date, "isodate"); err != nil {
		return errors.New("invalid date")
	}
	if d.Title == "" && d.SubjectID == "" {
		return errors.New("title or subject required")
	}
	return nil
}

// CheckDocument validates a raw write of the tracker document. References
// to subjects may dangle, as they do after a subject is deleted.
func CheckDocument(path docstore.Path, raw json.RawMessage) error {
	if !path.IsMain() {
		return docstore.InvalidDocument("the university tracker has only a main document")
	}
	var r Record
	if err := docstore.DecodeStrict(raw, &r); err != nil {
		return err
	}

	check := func(kind string, i int, id string, err error) error {
		if id == "" {
			return docstore.InvalidDocument("%s #%d: id is required", kind, i+1)
		}
		if err != nil {
			return docstore.InvalidDocument("%s #%d: %v", kind, i+1, err)
		}
		return nil
	}
	for i, s := range r.Subjects {
		if err := check("subject", i, s.ID, checkSubject(s)); err != nil {
			return err
		}
	}
	for i, c := range r.Schedule {
		if err := check("class", i, c.ID, checkClass(c)); err != nil {
			return err
		}
	}
	for i, e := range r.Exams {
		if err := check("exam", i, e.ID, checkExam(e)); err != nil {
			return err
		}
	}
	for i, d := range r.Deadlines {
		if err := check("deadline", i, d.ID, checkDeadline(d)); err != nil {
			return err
		}
	}
	return nil
}
