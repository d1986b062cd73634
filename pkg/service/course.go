package service

import (
	"context"
	"time"

	lmserrors "github.com/surrealdb/surreallms/pkg/errors"
	"github.com/surrealdb/surreallms/pkg/models"
	"github.com/surrealdb/surreallms/pkg/search"
	"github.com/surrealdb/surreallms/pkg/write"
)

const courseComponent = "CourseService"

// StudentsColumn maps enrolled student ids to their enrolment time.
const StudentsColumn = "students"

type NewCourse struct {
	TeacherID string
	// CourseID is generated when empty.
	CourseID    string
	CourseName  string
	Description string
}

// CourseUpdate names the columns to change. Nil fields are left as they are.
type CourseUpdate struct {
	TeacherID   string
	CourseID    string
	CourseName  *string
	Description *string
	Archive     *bool
}

type CourseService struct {
	deps    Deps
	courses *search.Facade[models.Course]
}

func NewCourseService(deps Deps, courses *search.Facade[models.Course]) *CourseService {
	return &CourseService{deps: deps.withDefaults(), courses: courses}
}

func (s *CourseService) Create(ctx context.Context, c NewCourse, ttl time.Duration) (string, bool, error) {
	if err := required(courseComponent, "Create", "teacher_id", c.TeacherID, "course_name", c.CourseName); err != nil {
		return "", false, err
	}
	id := c.CourseID
	if id == "" {
		id = models.NewID()
	}
	applied, err := s.deps.Exec.Write(ctx, write.Intent{
		Key: models.CourseKey(c.TeacherID, id),
		Set: map[string]any{
			"course_name": c.CourseName,
			"description": c.Description,
			"archive":     false,
			"created_at":  s.deps.now(),
		},
		Predicate: write.MustNotExist,
		TTL:       ttl,
	})
	if err != nil {
		return "", false, err
	}
	return id, applied, nil
}

// Update writes the selected columns of an existing course.
func (s *CourseService) Update(ctx context.Context, u CourseUpdate, ttl time.Duration) (bool, error) {
	if err := required(courseComponent, "Update", "teacher_id", u.TeacherID, "course_id", u.CourseID); err != nil {
		return false, err
	}
	set := map[string]any{}
	if u.CourseName != nil {
		if *u.CourseName == "" {
			return false, lmserrors.Invalid(courseComponent, "Update", "course_name cannot be empty")
		}
		set["course_name"] = *u.CourseName
	}
	if u.Description != nil {
		set["description"] = *u.Description
	}
	if u.Archive != nil {
		set["archive"] = *u.Archive
	}
	if len(set) == 0 {
		return false, lmserrors.Invalid(courseComponent, "Update", "nothing to update")
	}
	return s.deps.Exec.Write(ctx, write.Intent{
		Key:       models.CourseKey(u.TeacherID, u.CourseID),
		Set:       set,
		Predicate: write.MustExist,
		TTL:       ttl,
	})
}

func (s *CourseService) Archive(ctx context.Context, teacherID, courseID string, archived bool) (bool, error) {
	return s.Update(ctx, CourseUpdate{TeacherID: teacherID, CourseID: courseID, Archive: &archived}, 0)
}

// Enroll adds the student to the course's member map.
func (s *CourseService) Enroll(ctx context.Context, teacherID, courseID, studentID string, ttl time.Duration) (bool, error) {
	if err := required(courseComponent, "Enroll",
		"teacher_id", teacherID, "course_id", courseID, "student_id", studentID); err != nil {
		return false, err
	}
	return s.deps.Exec.Write(ctx, write.Intent{
		Key:       models.CourseKey(teacherID, courseID),
		MapColumn: StudentsColumn,
		MapAssign: map[string]string{studentID: s.deps.now().Format(time.RFC3339)},
		Predicate: write.MustExist,
		TTL:       ttl,
	})
}

func (s *CourseService) Unenroll(ctx context.Context, teacherID, courseID, studentID string) (bool, error) {
	if err := required(courseComponent, "Unenroll",
		"teacher_id", teacherID, "course_id", courseID, "student_id", studentID); err != nil {
		return false, err
	}
	return s.deps.Exec.Write(ctx, write.Intent{
		Key:       models.CourseKey(teacherID, courseID),
		MapColumn: StudentsColumn,
		MapRemove: []string{studentID},
		Predicate: write.MustExist,
	})
}

func (s *CourseService) GetByID(ctx context.Context, teacherID, courseID string, proj search.Projection) (*models.Course, error) {
	return s.courses.GetByKey(ctx, models.CourseKey(teacherID, courseID), proj)
}

func (s *CourseService) GetByTeacher(ctx context.Context, teacherID string, page int) (search.Hits[models.Course], error) {
	return s.courses.Search(ctx, search.Query{
		Must:    []search.Clause{search.Eq("teacher_id", teacherID)},
		OrderBy: "created_at",
		Desc:    true,
	}, page)
}

// GetByStudent returns the courses the student is enrolled in.
func (s *CourseService) GetByStudent(ctx context.Context, studentID string, page int) (search.Hits[models.Course], error) {
	return s.courses.Search(ctx, search.Query{
		Must:    []search.Clause{search.Has(StudentsColumn, studentID)},
		OrderBy: "created_at",
		Desc:    true,
	}, page)
}
