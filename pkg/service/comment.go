package service

import (
	"context"
	"time"

	lmserrors "github.com/surrealdb/surreallms/pkg/errors"
	"github.com/surrealdb/surreallms/pkg/models"
	"github.com/surrealdb/surreallms/pkg/search"
	"github.com/surrealdb/surreallms/pkg/write"
)

const commentComponent = "CommentService"

// CommentRef identifies one comment on a lesson.
type CommentRef struct {
	TeacherID string
	CourseID  string
	LessonID  string
	CommentID string
}

func (r CommentRef) Key() write.Key {
	return models.CommentKey(r.TeacherID, r.CourseID, r.LessonID, r.CommentID)
}

func (r CommentRef) validate(method string) error {
	return required(commentComponent, method,
		"teacher_id", r.TeacherID, "course_id", r.CourseID,
		"lesson_id", r.LessonID, "comment_id", r.CommentID)
}

type NewComment struct {
	TeacherID string
	CourseID  string
	LessonID  string
	UserID    string
	Content   string
}

type CommentService struct {
	deps     Deps
	comments *search.Facade[models.Comment]
}

func NewCommentService(deps Deps, comments *search.Facade[models.Comment]) *CommentService {
	return &CommentService{deps: deps.withDefaults(), comments: comments}
}

// Create stores a comment under a time-ordered id.
func (s *CommentService) Create(ctx context.Context, c NewComment, ttl time.Duration) (CommentRef, bool, error) {
	if err := required(commentComponent, "Create",
		"teacher_id", c.TeacherID, "course_id", c.CourseID, "lesson_id", c.LessonID,
		"user_id", c.UserID, "content", c.Content); err != nil {
		return CommentRef{}, false, err
	}
	ref := CommentRef{
		TeacherID: c.TeacherID,
		CourseID:  c.CourseID,
		LessonID:  c.LessonID,
		CommentID: models.NewTimeID(),
	}
	now := s.deps.now()
	applied, err := s.deps.Exec.Write(ctx, write.Intent{
		Key: ref.Key(),
		Set: map[string]any{
			"user_id":    c.UserID,
			"content":    c.Content,
			"created_at": now,
			"updated_at": now,
		},
		Predicate: write.MustNotExist,
		TTL:       ttl,
	})
	if err != nil {
		return CommentRef{}, false, err
	}
	return ref, applied, nil
}

func (s *CommentService) UpdateContent(ctx context.Context, ref CommentRef, content string, ttl time.Duration) (bool, error) {
	if err := ref.validate("UpdateContent"); err != nil {
		return false, err
	}
	if err := required(commentComponent, "UpdateContent", "content", content); err != nil {
		return false, err
	}
	return s.deps.Exec.Write(ctx, write.Intent{
		Key:       ref.Key(),
		Set:       map[string]any{"content": content, "updated_at": s.deps.now()},
		Predicate: write.MustExist,
		TTL:       ttl,
	})
}

func (s *CommentService) Remove(ctx context.Context, ref CommentRef) (bool, error) {
	if err := ref.validate("Remove"); err != nil {
		return false, err
	}
	return s.deps.Exec.Delete(ctx, ref.Key(), write.MustExist)
}

func (s *CommentService) GetByID(ctx context.Context, ref CommentRef) (*models.Comment, error) {
	return s.comments.GetByKey(ctx, ref.Key(), search.Projection{})
}

// GetByLesson returns the lesson's comments, oldest first.
func (s *CommentService) GetByLesson(ctx context.Context, teacherID, courseID, lessonID string, page int) (search.Hits[models.Comment], error) {
	return s.comments.Search(ctx, search.Query{
		Must: []search.Clause{
			search.Eq("teacher_id", teacherID),
			search.Eq("course_id", courseID),
			search.Eq("lesson_id", lessonID),
		},
		OrderBy: "created_at",
	}, page)
}

// RequireOwner returns nil when userID wrote the comment, a NotFound error
// when the comment does not exist and a Forbidden error otherwise.
func (s *CommentService) RequireOwner(ctx context.Context, ref CommentRef, userID string) error {
	c, err := s.GetByID(ctx, ref)
	if err != nil {
		return err
	}
	if c.UserID != userID {
		return lmserrors.Forbidden(commentComponent, "RequireOwner", "not the owner of this comment")
	}
	return nil
}
