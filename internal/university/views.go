package university

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/google/uuid"
	"github.com/nexus-dashboard/nexus/internal/apperr"
	"github.com/nexus-dashboard/nexus/internal/docstore"
)

// SubjectRef is a resolved weak reference.
type SubjectRef struct {
	SubjectName    string `json:"subject_name"`
	SubjectMissing bool   `json:"subject_missing,omitempty"`
}

// ClassView is a class with its subject resolved.
type ClassView struct {
	Class
	SubjectRef
}

// ExamView is an exam with its subject resolved.
type ExamView struct {
	Exam
	SubjectRef
}

// DeadlineView is a deadline with its display title resolved.
type DeadlineView struct {
	Deadline
	SubjectRef
	DisplayTitle string `json:"display_title"`
}

// View is the owner's full view of the tracker.
type View struct {
	Subjects  []Subject      `json:"subjects"`
	Schedule  []ClassView    `json:"schedule"`
	Exams     []ExamView     `json:"exams"`
	Deadlines []DeadlineView `json:"deadlines"`
	Stats     Stats          `json:"stats"`
	IsPublic  bool           `json:"is_public"`
}

// PublicView is what a share link shows.
type PublicView struct {
	Subjects []Subject  `json:"subjects"`
	Exams    []ExamView `json:"exams"`
	Stats    Stats      `json:"stats"`
}

func (r *Record) ref(subjectID string) SubjectRef {
	if sub, ok := r.subject(subjectID); ok {
		return SubjectRef{SubjectName: sub.Name}
	}
	return SubjectRef{SubjectMissing: true}
}

func (r *Record) examViews() []ExamView {
	out := make([]ExamView, len(r.Exams))
	for i, e := range r.Exams {
		out[i] = ExamView{Exam: e, SubjectRef: r.ref(e.SubjectID)}
	}
	return out
}

// View returns the tracker with references resolved and stats derived.
func (s *Service) View(ctx context.Context, uid string) (*View, error) {
	r, _, err := s.load(ctx, uid)
	if err != nil {
		return nil, err
	}

	v := &View{
		Subjects:  r.Subjects,
		Schedule:  make([]ClassView, len(r.Schedule)),
		Exams:     r.examViews(),
		Deadlines: make([]DeadlineView, len(r.Deadlines)),
		Stats:     ComputeStats(r.Exams),
		IsPublic:  r.IsPublic,
	}
	for i, c := range r.Schedule {
		v.Schedule[i] = ClassView{Class: c, SubjectRef: r.ref(c.SubjectID)}
	}
	for i, d := range r.Deadlines {
		dv := DeadlineView{Deadline: d, DisplayTitle: d.Title}
		if d.SubjectID != "" {
			dv.SubjectRef = r.ref(d.SubjectID)
			if dv.DisplayTitle == "" {
				dv.DisplayTitle = dv.SubjectName
			}
		}
		v.Deadlines[i] = dv
	}
	return v, nil
}

// Shared returns uid's public view. Private and missing records both yield
// ErrNotShared.
func Shared(ctx context.Context, store docstore.Store, uid string) (*PublicView, error) {
	path := mainPath(uid)
	if err := path.Validate(); err != nil {
		return nil, ErrNotShared
	}
	r, _, err := docstore.Load[Record](ctx, store, path)
	if err != nil {
		return nil, err
	}
	if !r.IsPublic {
		return nil, ErrNotShared
	}
	r.normalize()
	return &PublicView{Subjects: r.Subjects, Exams: r.examViews(), Stats: ComputeStats(r.Exams)}, nil
}

// Backup is the export file. Ids are kept only so the file's own
// references can be remapped on import.
type Backup struct {
	Subjects  []Subject  `json:"subjects"`
	Schedule  []Class    `json:"schedule"`
	Exams     []Exam     `json:"exams"`
	Deadlines []Deadline `json:"deadlines"`
}

// Export returns every record of uid.
func (s *Service) Export(ctx context.Context, uid string) (any, error) {
	r, _, err := s.load(ctx, uid)
	if err != nil {
		return nil, err
	}
	return Backup{Subjects: r.Subjects, Schedule: r.Schedule, Exams: r.Exams, Deadlines: r.Deadlines}, nil
}

// ImportWrites appends the file's records with fresh ids. Subject references
// inside the file follow their subject to its new id; references to
// subjects not in the file are kept as they are.
func (s *Service) ImportWrites(ctx context.Context, uid string, raw json.RawMessage) ([]docstore.Write, error) {
	var b Backup
	if err := json.Unmarshal(raw, &b); err != nil {
		return nil, invalidImport("malformed university backup: %v", err)
	}
	r, version, err := s.load(ctx, uid)
	if err != nil {
		return nil, err
	}

	remap := make(map[string]string, len(b.Subjects))
	newID := func(old string) string {
		if id, ok := remap[old]; ok {
			return id
		}
		return old
	}

	for i, sub := range b.Subjects {
		if err := checkSubject(sub); err != nil {
			return nil, invalidImport("subject #%d: %v", i+1, err)
		}
		id := uuid.NewString()
		if sub.ID != "" {
			remap[sub.ID] = id
		}
		sub.ID = id
		r.Subjects = append(r.Subjects, sub)
	}
	for i, c := range b.Schedule {
		if err := checkClass(c); err != nil {
			return nil, invalidImport("class #%d: %v", i+1, err)
		}
		c.ID = uuid.NewString()
		c.SubjectID = newID(c.SubjectID)
		r.Schedule = append(r.Schedule, c)
	}
	for i, e := range b.Exams {
		if e.Grade == HonorsGrade {
			e.Grade, e.Honors = MaxGrade, true
		}
		if err := checkExam(e); err != nil {
			return nil, invalidImport("exam #%d: %v", i+1, err)
		}
		e.ID = uuid.NewString()
		e.SubjectID = newID(e.SubjectID)
		r.Exams = append(r.Exams, e)
	}
	for i, d := range b.Deadlines {
		if err := checkDeadline(d); err != nil {
			return nil, invalidImport("deadline #%d: %v", i+1, err)
		}
		d.ID = uuid.NewString()
		if d.SubjectID != "" {
			d.SubjectID = newID(d.SubjectID)
		}
		r.Deadlines = append(r.Deadlines, d)
	}
	r.sortSchedule()
	r.sortDeadlines()
	r.UpdatedAt = s.now().UTC()

	expected := version
	if version == 0 {
		expected = docstore.MustNotExist
	}
	return []docstore.Write{{Path: mainPath(uid), Op: docstore.OpSet, Data: r, ExpectedVersion: expected}}, nil
}

func invalidImport(format string, args ...any) error {
	return apperr.New(apperr.ErrInvalidInput, "invalid_import", fmt.Sprintf(format, args...))
}
