package service

import (
	"context"
	"time"

	json "github.com/goccy/go-json"
	"gorm.io/datatypes"

	lmserrors "github.com/surrealdb/surreallms/pkg/errors"
	"github.com/surrealdb/surreallms/pkg/models"
	"github.com/surrealdb/surreallms/pkg/search"
	"github.com/surrealdb/surreallms/pkg/write"
)

const examComponent = "ExamWorkService"

// ExamWorkInput is one student's submission of one exam. Content is stored as
// given; questions are not validated here.
type ExamWorkInput struct {
	TeacherID string
	CourseID  string
	ExamID    string
	StudentID string
	Content   []models.Question
	Point     int
	// SubmitAt defaults to now.
	SubmitAt time.Time
}

type ExamWorkService struct {
	deps  Deps
	works *search.Facade[models.ExamWork]
}

func NewExamWorkService(deps Deps, works *search.Facade[models.ExamWork]) *ExamWorkService {
	return &ExamWorkService{deps: deps.withDefaults(), works: works}
}

// Upsert stores a submission. With insert it applies only to the first
// submission; otherwise a resubmission overwrites the previous one.
func (s *ExamWorkService) Upsert(ctx context.Context, w ExamWorkInput, insert bool, ttl time.Duration) (bool, error) {
	if err := required(examComponent, "Upsert",
		"teacher_id", w.TeacherID, "course_id", w.CourseID,
		"exam_id", w.ExamID, "student_id", w.StudentID); err != nil {
		return false, err
	}
	if w.Content == nil {
		w.Content = []models.Question{}
	}
	blob, err := json.Marshal(w.Content)
	if err != nil {
		return false, lmserrors.WrapInvalid(err, examComponent, "Upsert", "encode content")
	}
	submitAt := w.SubmitAt.UTC()
	if w.SubmitAt.IsZero() {
		submitAt = s.deps.now()
	}

	pred := write.None
	if insert {
		pred = write.MustNotExist
	}
	return s.deps.Exec.Write(ctx, write.Intent{
		Key: models.ExamWorkKey(w.TeacherID, w.CourseID, w.ExamID, w.StudentID),
		Set: map[string]any{
			"content":   datatypes.JSON(blob),
			"point":     w.Point,
			"submit_at": submitAt,
		},
		Predicate: pred,
		TTL:       ttl,
	})
}

// GetByStudent returns the student's submission of the exam.
func (s *ExamWorkService) GetByStudent(ctx context.Context, teacherID, courseID, examID, studentID string) (*models.ExamWork, error) {
	return s.works.GetByKey(ctx, models.ExamWorkKey(teacherID, courseID, examID, studentID), search.Projection{})
}

// GetByExam returns every submission of the exam.
func (s *ExamWorkService) GetByExam(ctx context.Context, teacherID, courseID, examID string, page int) (search.Hits[models.ExamWork], error) {
	return s.works.Search(ctx, search.Query{
		Must: []search.Clause{
			search.Eq("teacher_id", teacherID),
			search.Eq("course_id", courseID),
			search.Eq("exam_id", examID),
		},
		OrderBy: "submit_at",
	}, page)
}
