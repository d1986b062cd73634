// Package models defines the LMS record kinds: their table layout in the
// authoritative store, their keys, and the structs used both as gorm rows for
// migration and as derived documents decoded from SurrealDB.
//
// Field names are snake_case and identical on both sides.
package models

import (
	"crypto/md5"
	"encoding/hex"
	"time"

	"github.com/spf13/cast"
	"gorm.io/datatypes"

	"github.com/surrealdb/surreallms/pkg/write"
)

// Table names.
const (
	TableUsers     = "users"
	TableCourses   = "courses"
	TableLessons   = "lessons"
	TableExamWorks = "exam_works"
	TableTopics    = "topics"
	TableComments  = "comments"
)

// GravatarURL is the base of derived avatar links.
const GravatarURL = "https://gravatar.com/avatar"

// Gravatar returns the avatar link for an email address.
func Gravatar(email string) string {
	sum := md5.Sum([]byte(email))
	return GravatarURL + "/" + hex.EncodeToString(sum[:])
}

type UserType string

const (
	UserStudent UserType = "student"
	UserTeacher UserType = "teacher"
)

func (t UserType) Valid() bool {
	return t == UserStudent || t == UserTeacher
}

// Tables returns the layout of every record kind.
func Tables() []write.Table {
	return []write.Table{
		{Name: TableUsers, Key: []string{"id"}, Map: "info",
			Columns: []string{"username", "email", "hash_password", "type", "created_at"}},
		{Name: TableCourses, Key: []string{"teacher_id", "course_id"}, Map: "students",
			Columns: []string{"course_name", "description", "archive", "created_at"}},
		{Name: TableLessons, Key: []string{"teacher_id", "course_id", "lesson_id"},
			Columns: []string{"title", "content", "created_at"}},
		{Name: TableExamWorks, Key: []string{"teacher_id", "course_id", "exam_id", "student_id"},
			Columns: []string{"content", "point", "submit_at"}},
		{Name: TableTopics, Key: []string{"id"},
			Columns: []string{"name", "created_at"}},
		{Name: TableComments, Key: []string{"teacher_id", "course_id", "lesson_id", "comment_id"},
			Columns: []string{"user_id", "content", "created_at", "updated_at"}},
	}
}

func UserKey(id string) write.Key {
	return write.NewKey(TableUsers, "id", id)
}

func CourseKey(teacherID, courseID string) write.Key {
	return write.NewKey(TableCourses, "teacher_id", teacherID, "course_id", courseID)
}

func LessonKey(teacherID, courseID, lessonID string) write.Key {
	return write.NewKey(TableLessons, "teacher_id", teacherID, "course_id", courseID, "lesson_id", lessonID)
}

func ExamWorkKey(teacherID, courseID, examID, studentID string) write.Key {
	return write.NewKey(TableExamWorks,
		"teacher_id", teacherID, "course_id", courseID, "exam_id", examID, "student_id", studentID)
}

func TopicKey(id string) write.Key {
	return write.NewKey(TableTopics, "id", id)
}

func CommentKey(teacherID, courseID, lessonID, commentID string) write.Key {
	return write.NewKey(TableComments,
		"teacher_id", teacherID, "course_id", courseID, "lesson_id", lessonID, "comment_id", commentID)
}

// Expiry holds the expiry columns the Postgres backend maintains: when the
// whole row stops being live, and the expiry of each cell written with a TTL.
type Expiry struct {
	ExpiresAt  *time.Time        `gorm:"index" json:"-"`
	CellExpiry datatypes.JSONMap `gorm:"type:jsonb" json:"-"`
}

type User struct {
	ID           DocID             `gorm:"primaryKey;column:id" json:"id"`
	Username     string            `gorm:"index" json:"username"`
	Email        string            `gorm:"index" json:"email"`
	HashPassword string            `json:"hash_password,omitempty"`
	Type         UserType          `json:"type"`
	Info         datatypes.JSONMap `gorm:"type:jsonb" json:"info,omitempty"`
	CreatedAt    Time              `json:"created_at"`
	Expiry
}

func (User) TableName() string { return TableUsers }

// InfoMap returns the profile map as strings.
func (u *User) InfoMap() map[string]string {
	return cast.ToStringMapString(map[string]any(u.Info))
}

type Course struct {
	ID          DocID             `gorm:"-" json:"id"`
	TeacherID   string            `gorm:"primaryKey" json:"teacher_id"`
	CourseID    string            `gorm:"primaryKey" json:"course_id"`
	CourseName  string            `json:"course_name"`
	Description string            `json:"description"`
	Archive     bool              `json:"archive"`
	Students    datatypes.JSONMap `gorm:"type:jsonb" json:"students,omitempty"`
	CreatedAt   Time              `json:"created_at"`
	Expiry
}

func (Course) TableName() string { return TableCourses }

type Lesson struct {
	ID        DocID  `gorm:"-" json:"id"`
	TeacherID string `gorm:"primaryKey" json:"teacher_id"`
	CourseID  string `gorm:"primaryKey" json:"course_id"`
	LessonID  string `gorm:"primaryKey" json:"lesson_id"`
	Title     string `json:"title"`
	Content   string `json:"content"`
	CreatedAt Time   `json:"created_at"`
	Expiry
}

func (Lesson) TableName() string { return TableLessons }

// Question is one entry of a submitted exam.
type Question struct {
	Question string   `json:"question"`
	Choices  []string `json:"choices"`
	Point    int      `json:"point"`
	Answer   int      `json:"answer"`
}

type ExamWork struct {
	ID        DocID                         `gorm:"-" json:"id"`
	TeacherID string                        `gorm:"primaryKey" json:"teacher_id"`
	CourseID  string                        `gorm:"primaryKey" json:"course_id"`
	ExamID    string                        `gorm:"primaryKey" json:"exam_id"`
	StudentID string                        `gorm:"primaryKey" json:"student_id"`
	Content   datatypes.JSONSlice[Question] `gorm:"type:jsonb" json:"content"`
	Point     int                           `json:"point"`
	SubmitAt  Time                          `json:"submit_at"`
	Expiry
}

func (ExamWork) TableName() string { return TableExamWorks }

type Topic struct {
	ID        DocID  `gorm:"primaryKey;column:id" json:"id"`
	Name      string `json:"name"`
	CreatedAt Time   `json:"created_at"`
	Expiry
}

func (Topic) TableName() string { return TableTopics }

type Comment struct {
	ID        DocID  `gorm:"-" json:"id"`
	TeacherID string `gorm:"primaryKey" json:"teacher_id"`
	CourseID  string `gorm:"primaryKey" json:"course_id"`
	LessonID  string `gorm:"primaryKey" json:"lesson_id"`
	CommentID string `gorm:"primaryKey" json:"comment_id"`
	UserID    string `gorm:"index" json:"user_id"`
	Content   string `json:"content"`
	CreatedAt Time   `json:"created_at"`
	UpdatedAt Time   `json:"updated_at"`
	Expiry
}

func (Comment) TableName() string { return TableComments }

// All returns one zero value of every row type, in migration order.
func All() []any {
	return []any{&User{}, &Course{}, &Lesson{}, &ExamWork{}, &Topic{}, &Comment{}}
}
