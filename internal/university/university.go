// Package university tracks subjects, the weekly class schedule, exams and
// deadlines, and derives grade averages and degree progress.
//
// Classes, exams and deadlines refer to subjects by id. The references are
// weak: deleting a subject leaves them in place, and views mark them with
// subject_missing.
package university

import (
	"cmp"
	"context"
	"math"
	"slices"
	"time"

	"github.com/google/uuid"
	"github.com/nexus-dashboard/nexus/internal/apperr"
	"github.com/nexus-dashboard/nexus/internal/docstore"
	"github.com/nexus-dashboard/nexus/internal/validation"
)

// ModuleID is the tracker's module identifier and document namespace.
const ModuleID = "university"

// Grading scale
const (
	MinGrade     = 18
	MaxGrade     = 30
	HonorsGrade  = MaxGrade + 1
	TargetCredit = 180
)

// Errors
var (
	ErrSubjectNotFound  = apperr.New(apperr.ErrNotFound, "subject_not_found", "subject not found")
	ErrClassNotFound    = apperr.New(apperr.ErrNotFound, "class_not_found", "class not found")
	ErrExamNotFound     = apperr.New(apperr.ErrNotFound, "exam_not_found", "exam not found")
	ErrDeadlineNotFound = apperr.New(apperr.ErrNotFound, "deadline_not_found", "deadline not found")
	ErrDeadlineTitle    = apperr.New(apperr.ErrInvalidInput, "invalid_input", "a deadline needs a title or a subject")
	ErrNotShared        = apperr.New(apperr.ErrForbidden, "not_shared", "this record is not shared")
)

// Subject is a course of the degree.
type Subject struct {
	ID         string `json:"id"`
	Name       string `json:"name"`
	Credits    int    `json:"credits"`
	Instructor string `json:"instructor,omitempty"`
}

// Class is a weekly lesson slot.
type Class struct {
	ID        string `json:"id"`
	SubjectID string `json:"subject_id"`
	Weekday   int    `json:"weekday"`
	Start     string `json:"start"`
	End       string `json:"end,omitempty"`
	Room      string `json:"room,omitempty"`
}

// Exam is a passed exam. Grade never exceeds MaxGrade; honors is separate.
type Exam struct {
	ID        string `json:"id"`
	SubjectID string `json:"subject_id"`
	Date      string `json:"date"`
	Credits   int    `json:"credits"`
	Grade     int    `json:"grade"`
	Honors    bool   `json:"honors"`
}

// Deadline is a dated reminder, titled directly or by its subject.
type Deadline struct {
	ID        string `json:"id"`
	Title     string `json:"title,omitempty"`
	SubjectID string `json:"subject_id,omitempty"`
	Date      string `json:"date"`
}

// Record is the module's main document.
type Record struct {
	Subjects  []Subject  `json:"subjects"`
	Schedule  []Class    `json:"schedule"`
	Exams     []Exam     `json:"exams"`
	Deadlines []Deadline `json:"deadlines"`
	IsPublic  bool       `json:"is_public"`
	UpdatedAt time.Time  `json:"updated_at"`
}

func (r *Record) normalize() {
	if r.Subjects == nil {
		r.Subjects = []Subject{}
	}
	if r.Schedule == nil {
		r.Schedule = []Class{}
	}
	if r.Exams == nil {
		r.Exams = []Exam{}
	}
	if r.Deadlines == nil {
		r.Deadlines = []Deadline{}
	}
}

func (r *Record) subject(id string) (Subject, bool) {
	i := slices.IndexFunc(r.Subjects, func(s Subject) bool { return s.ID == id })
	if i < 0 {
		return Subject{}, false
	}
	return r.Subjects[i], true
}

func (r *Record) sortSchedule() {
	slices.SortStableFunc(r.Schedule, func(a, b Class) int {
		return cmp.Or(cmp.Compare(a.Weekday, b.Weekday), cmp.Compare(a.Start, b.Start))
	})
}

func (r *Record) sortDeadlines() {
	slices.SortStableFunc(r.Deadlines, func(a, b Deadline) int { return cmp.Compare(a.Date, b.Date) })
}

// Stats are derived from the exam ledger.
type Stats struct {
	TotalCredits    int     `json:"total_credits"`
	WeightedAverage float64 `json:"weighted_average"`
	Average         float64 `json:"average"`
	ProgressPercent float64 `json:"progress_percent"`
}

// ComputeStats returns the credit-weighted and plain grade averages and the
// progress toward TargetCredit, capped at 100. Averages are zero without exams.
func ComputeStats(exams []Exam) Stats {
	var st Stats
	var weighted, sum int
	for _, e := range exams {
		st.TotalCredits += e.Credits
		weighted += e.Grade * e.Credits
		sum += e.Grade
	}
	if st.TotalCredits > 0 && len(exams) > 0 {
		st.WeightedAverage = round2(float64(weighted) / float64(st.TotalCredits))
		st.Average = round2(float64(sum) / float64(len(exams)))
	}
	st.ProgressPercent = round2(math.Min(float64(st.TotalCredits)/TargetCredit*100, 100))
	return st
}

func round2(v float64) float64 {
	return math.Round(v*100) / 100
}

// SplitGrade maps a submitted grade to the stored grade and honors flag:
// HonorsGrade means MaxGrade with honors.
func SplitGrade(submitted int) (grade int, honors bool, err error) {
	switch {
	case submitted == HonorsGrade:
		return MaxGrade, true, nil
	case submitted >= MinGrade && submitted <= MaxGrade:
		return submitted, false, nil
	default:
		return 0, false, apperr.New(apperr.ErrInvalidInput, "invalid_grade", "grade must be between 18 and 31")
	}
}

// Service implements the tracker operations.
type Service struct {
	store docstore.Store
	now   func() time.Time
}

// NewService creates a university service.
func NewService(store docstore.Store) *Service {
	return &Service{store: store, now: time.Now}
}

func mainPath(uid string) docstore.Path {
	return docstore.Main(uid, ModuleID)
}

func (s *Service) load(ctx context.Context, uid string) (Record, int64, error) {
	r, version, err := docstore.Load[Record](ctx, s.store, mainPath(uid))
	r.normalize()
	return r, version, err
}

// mutate runs fn on the record under the store's row lock.
func (s *Service) mutate(ctx context.Context, uid string, fn func(*Record) error) (*Record, error) {
	r, _, err := docstore.UpdateInto(ctx, s.store, mainPath(uid), func(r *Record) error {
		r.normalize()
		if err := fn(r); err != nil {
			return err
		}
		r.UpdatedAt = s.now().UTC()
		return nil
	})
	if err != nil {
		return nil, err
	}
	return &r, nil
}

// SubjectInput creates or edits a subject.
type SubjectInput struct {
	Name       string `json:"name" validate:"required,max=200"`
	Credits    int    `json:"credits" validate:"min=0,max=60"`
	Instructor string `json:"instructor" validate:"max=200"`
}

// AddSubject adds a subject to the catalog.
func (s *Service) AddSubject(ctx context.Context, uid string, in SubjectInput) (*Subject, error) {
	if err := validation.Struct(in); err != nil {
		return nil, err
	}
	sub := Subject{ID: uuid.NewString(), Name: in.Name, Credits: in.Credits, Instructor: in.Instructor}
	if _, err := s.mutate(ctx, uid, func(r *Record) error {
		r.Subjects = append(r.Subjects, sub)
		return nil
	}); err != nil {
		return nil, err
	}
	return &sub, nil
}

// UpdateSubject edits a subject in place.
func (s *Service) UpdateSubject(ctx context.Context, uid, id string, in SubjectInput) (*Subject, error) {
	if err := validation.Struct(in); err != nil {
		return nil, err
	}
	var out Subject
	_, err := s.mutate(ctx, uid, func(r *Record) error {
		i := slices.IndexFunc(r.Subjects, func(s Subject) bool { return s.ID == id })
		if i < 0 {
			return ErrSubjectNotFound
		}
		r.Subjects[i] = Subject{ID: id, Name: in.Name, Credits: in.Credits, Instructor: in.Instructor}
		out = r.Subjects[i]
		return nil
	})
	if err != nil {
		return nil, err
	}
	return &out, nil
}

// DeleteSubject removes a subject. Classes, exams and deadlines that refer
// to it are kept.
func (s *Service) DeleteSubject(ctx context.Context, uid, id string) error {
	_, err := s.mutate(ctx, uid, func(r *Record) error {
		return removeByID(&r.Subjects, id, func(s Subject) string { return s.ID }, ErrSubjectNotFound)
	})
	return err
}

// ClassInput schedules a weekly class.
type ClassInput struct {
	SubjectID string `json:"subject_id" validate:"required,max=128"`
	Weekday   int    `json:"weekday" validate:"min=1,max=7"`
	Start     string `json:"start" validate:"required,hhmm"`
	End       string `json:"end" validate:"omitempty,hhmm"`
	Room      string `json:"room" validate:"max=100"`
}

// AddClass adds a class; the schedule stays ordered by weekday and start.
func (s *Service) AddClass(ctx context.Context, uid string, in ClassInput) (*Class, error) {
	if err := validation.Struct(in); err != nil {
		return nil, err
	}
	cl := Class{ID: uuid.NewString(), SubjectID: in.SubjectID, Weekday: in.Weekday, Start: in.Start, End: in.End, Room: in.Room}
	if _, err := s.mutate(ctx, uid, func(r *Record) error {
		r.Schedule = append(r.Schedule, cl)
		r.sortSchedule()
		return nil
	}); err != nil {
		return nil, err
	}
	return &cl, nil
}

// DeleteClass removes one class.
func (s *Service) DeleteClass(ctx context.Context, uid, id string) error {
	_, err := s.mutate(ctx, uid, func(r *Record) error {
		return removeByID(&r.Schedule, id, func(c Class) string { return c.ID }, ErrClassNotFound)
	})
	return err
}

// ClearSchedule removes every class.
func (s *Service) ClearSchedule(ctx context.Context, uid string) error {
	_, err := s.mutate(ctx, uid, func(r *Record) error {
		r.Schedule = []Class{}
		return nil
	})
	return err
}

// ExamInput records an exam. Grade 31 means 30 with honors. Zero credits
// take the subject's credits.
type ExamInput struct {
	SubjectID string `json:"subject_id" validate:"required,max=128"`
	Date      string `json:"date" validate:"required,isodate"`
	Credits   int    `json:"credits" validate:"min=0,max=60"`
	Grade     int    `json:"grade"`
}

// AddExam appends an exam to the ledger.
func (s *Service) AddExam(ctx context.Context, uid string, in ExamInput) (*Exam, error) {
	if err := validation.Struct(in); err != nil {
		return nil, err
	}
	grade, honors, err := SplitGrade(in.Grade)
	if err != nil {
		return nil, err
	}
	exam := Exam{ID: uuid.NewString(), SubjectID: in.SubjectID, Date: in.Date, Credits: in.Credits, Grade: grade, Honors: honors}
	if _, err := s.mutate(ctx, uid, func(r *Record) error {
		if exam.Credits == 0 {
			if sub, ok := r.subject(exam.SubjectID); ok {
				exam.Credits = sub.Credits
			}
		}
		r.Exams = append(r.Exams, exam)
		return nil
	}); err != nil {
		return nil, err
	}
	return &exam, nil
}

// DeleteExam removes an exam.
func (s *Service) DeleteExam(ctx context.Context, uid, id string) error {
	_, err := s.mutate(ctx, uid, func(r *Record) error {
		return removeByID(&r.Exams, id, func(e Exam) string { return e.ID }, ErrExamNotFound)
	})
	return err
}

// DeadlineInput adds a deadline; Title or SubjectID is required.
type DeadlineInput struct {
	Title     string `json:"title" validate:"max=200"`
	SubjectID string `json:"subject_id" validate:"max=128"`
	Date      string `json:"date" validate:"required,isodate"`
}

// AddDeadline adds a deadline; the list stays ordered by due date.
func (s *Service) AddDeadline(ctx context.Context, uid string, in DeadlineInput) (*Deadline, error) {
	if err := validation.Struct(in); err != nil {
		return nil, err
	}
	if in.Title == "" && in.SubjectID == "" {
		return nil, ErrDeadlineTitle
	}
	dl := Deadline{ID: uuid.NewString(), Title: in.Title, SubjectID: in.SubjectID, Date: in.Date}
	if _, err := s.mutate(ctx, uid, func(r *Record) error {
		r.Deadlines = append(r.Deadlines, dl)
		r.sortDeadlines()
		return nil
	}); err != nil {
		return nil, err
	}
	return &dl, nil
}

// DeleteDeadline removes a deadline.
func (s *Service) DeleteDeadline(ctx context.Context, uid, id string) error {
	_, err := s.mutate(ctx, uid, func(r *Record) error {
		return removeByID(&r.Deadlines, id, func(d Deadline) string { return d.ID }, ErrDeadlineNotFound)
	})
	return err
}

// SetPublic toggles the public read-only view.
func (s *Service) SetPublic(ctx context.Context, uid string, public bool) error {
	_, err := s.mutate(ctx, uid, func(r *Record) error {
		r.IsPublic = public
		return nil
	})
	return err
}

func removeByID[T any](items *[]T, id string, idOf func(T) string, notFound error) error {
	i := slices.IndexFunc(*items, func(v T) bool { return idOf(v) == id })
	if i < 0 {
		return notFound
	}
	*items = slices.Delete(*items, i, i+1)
	return nil
}
