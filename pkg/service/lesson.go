package service

import (
	"context"
	"time"

	"github.com/surrealdb/surreallms/pkg/models"
	"github.com/surrealdb/surreallms/pkg/search"
	"github.com/surrealdb/surreallms/pkg/write"
)

const lessonComponent = "LessonService"

type LessonInput struct {
	TeacherID string
	CourseID  string
	// LessonID is generated on insert when empty.
	LessonID string
	Title    string
	Content  string
}

type LessonService struct {
	deps    Deps
	lessons *search.Facade[models.Lesson]
}

func NewLessonService(deps Deps, lessons *search.Facade[models.Lesson]) *LessonService {
	return &LessonService{deps: deps.withDefaults(), lessons: lessons}
}

// Upsert creates the lesson when insert is true and it does not exist yet,
// and otherwise rewrites an existing lesson. It returns the lesson id.
func (s *LessonService) Upsert(ctx context.Context, l LessonInput, insert bool, ttl time.Duration) (string, bool, error) {
	if err := required(lessonComponent, "Upsert",
		"teacher_id", l.TeacherID, "course_id", l.CourseID, "title", l.Title); err != nil {
		return "", false, err
	}
	if l.LessonID == "" && insert {
		l.LessonID = models.NewTimeID()
	}
	if err := required(lessonComponent, "Upsert", "lesson_id", l.LessonID); err != nil {
		return "", false, err
	}

	in := write.Intent{
		Key:       models.LessonKey(l.TeacherID, l.CourseID, l.LessonID),
		Set:       map[string]any{"title": l.Title, "content": l.Content},
		Predicate: write.MustExist,
		TTL:       ttl,
	}
	if insert {
		in.Set["created_at"] = s.deps.now()
		in.Predicate = write.MustNotExist
	}
	applied, err := s.deps.Exec.Write(ctx, in)
	if err != nil {
		return "", false, err
	}
	return l.LessonID, applied, nil
}

func (s *LessonService) Remove(ctx context.Context, teacherID, courseID, lessonID string) (bool, error) {
	if err := required(lessonComponent, "Remove",
		"teacher_id", teacherID, "course_id", courseID, "lesson_id", lessonID); err != nil {
		return false, err
	}
	return s.deps.Exec.Delete(ctx, models.LessonKey(teacherID, courseID, lessonID), write.MustExist)
}

func (s *LessonService) GetByID(ctx context.Context, teacherID, courseID, lessonID string) (*models.Lesson, error) {
	return s.lessons.GetByKey(ctx, models.LessonKey(teacherID, courseID, lessonID), search.Projection{})
}

func (s *LessonService) GetByTeacherAndCourse(ctx context.Context, teacherID, courseID string, page int) (search.Hits[models.Lesson], error) {
	return s.lessons.Search(ctx, search.Query{
		Must: []search.Clause{
			search.Eq("teacher_id", teacherID),
			search.Eq("course_id", courseID),
		},
		OrderBy: "created_at",
	}, page)
}

// Search matches keyword against lesson titles and content within a course.
func (s *LessonService) Search(ctx context.Context, teacherID, courseID, keyword string, page int) (search.Hits[models.Lesson], error) {
	return s.lessons.Search(ctx, search.Query{
		Must: []search.Clause{
			search.Eq("teacher_id", teacherID),
			search.Eq("course_id", courseID),
		},
		Should: []search.Clause{
			search.Matches("title", keyword),
			search.Matches("content", keyword),
		},
	}, page)
}
