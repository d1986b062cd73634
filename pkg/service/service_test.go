package service_test

import (
	"context"
	"net/http"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/suite"

	lmserrors "github.com/surrealdb/surreallms/pkg/errors"
	"github.com/surrealdb/surreallms/pkg/models"
	"github.com/surrealdb/surreallms/pkg/plan"
	"github.com/surrealdb/surreallms/pkg/search"
	"github.com/surrealdb/surreallms/pkg/search/memsearch"
	"github.com/surrealdb/surreallms/pkg/service"
	"github.com/surrealdb/surreallms/pkg/write"
	"github.com/surrealdb/surreallms/pkg/write/memstore"
)

type clock struct {
	mu sync.Mutex
	t  time.Time
}

func (c *clock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.t
}

func (c *clock) Advance(d time.Duration) {
	c.mu.Lock()
	c.t = c.t.Add(d)
	c.mu.Unlock()
}

type ServiceSuite struct {
	suite.Suite
	ctx   context.Context
	clock *clock
	exec  *write.Executor

	userDocs    *memsearch.Index[models.User]
	courseDocs  *memsearch.Index[models.Course]
	topicDocs   *memsearch.Index[models.Topic]
	commentDocs *memsearch.Index[models.Comment]

	users    *service.UserService
	courses  *service.CourseService
	lessons  *service.LessonService
	works    *service.ExamWorkService
	topics   *service.TopicService
	comments *service.CommentService
}

func TestServiceSuite(t *testing.T) {
	suite.Run(t, new(ServiceSuite))
}

func (s *ServiceSuite) SetupTest() {
	s.ctx = context.Background()
	s.clock = &clock{t: time.Date(2024, 3, 1, 9, 0, 0, 0, time.UTC)}
	s.exec = write.NewExecutor(memstore.New(memstore.WithClock(s.clock.Now)), models.Tables())
	deps := service.Deps{Exec: s.exec, Now: s.clock.Now}

	s.userDocs = memsearch.New[models.User]()
	s.courseDocs = memsearch.New[models.Course]()
	s.topicDocs = memsearch.New[models.Topic]()
	s.commentDocs = memsearch.New[models.Comment]()

	s.users = service.NewUserService(deps, search.NewFacade[models.User](s.userDocs, models.TableUsers))
	s.courses = service.NewCourseService(deps, search.NewFacade[models.Course](s.courseDocs, models.TableCourses))
	s.lessons = service.NewLessonService(deps, search.NewFacade[models.Lesson](memsearch.New[models.Lesson](), models.TableLessons))
	s.works = service.NewExamWorkService(deps, search.NewFacade[models.ExamWork](memsearch.New[models.ExamWork](), models.TableExamWorks))
	s.topics = service.NewTopicService(deps, search.NewFacade[models.Topic](s.topicDocs, models.TableTopics))
	s.comments = service.NewCommentService(deps, search.NewFacade[models.Comment](s.commentDocs, models.TableComments))
}

func (s *ServiceSuite) alice() service.NewUser {
	return service.NewUser{
		ID:           "u-alice",
		Username:     "alice",
		Email:        "a@x.com",
		HashPassword: "$2a$10$hash",
		Type:         models.UserStudent,
	}
}

func (s *ServiceSuite) TestCreateUserTwice() {
	id, applied, err := s.users.Create(s.ctx, s.alice(), 0)
	s.Require().NoError(err)
	s.True(applied)
	s.Equal("u-alice", id)

	_, applied, err = s.users.Create(s.ctx, s.alice(), 0)
	s.Require().NoError(err)
	s.False(applied)

	rec, err := s.exec.Lookup(s.ctx, models.UserKey(id))
	s.Require().NoError(err)
	s.Equal("alice", rec.Columns["username"])
	s.Equal(map[string]string{
		service.InfoFullname: "",
		service.InfoBirthday: "",
		plan.ImageField:      models.Gravatar("a@x.com"),
	}, rec.Map)
}

func (s *ServiceSuite) TestCreateUserValidation() {
	u := s.alice()
	u.Type = "admin"
	_, _, err := s.users.Create(s.ctx, u, 0)
	s.True(lmserrors.IsInvalid(err))

	u = s.alice()
	u.Email = ""
	_, _, err = s.users.Create(s.ctx, u, 0)
	s.True(lmserrors.IsInvalid(err))
}

func (s *ServiceSuite) TestRegisterChecksUniqueness() {
	s.Require().NoError(s.userDocs.Put(models.TableUsers, "u-alice", models.User{
		ID:       models.DocID{Table: models.TableUsers, ID: "u-alice"},
		Username: "alice",
		Email:    "a@x.com",
	}))

	u := s.alice()
	u.Email = "other@x.com"
	_, err := s.users.Register(s.ctx, u)
	s.Require().Error(err)

	var fe lmserrors.FieldErrors
	s.Require().ErrorAs(err, &fe)
	s.Contains(fe, "username")
	s.NotContains(fe, "email")
	s.Equal(http.StatusBadRequest, lmserrors.HTTPStatus(err))

	bob := service.NewUser{Username: "bob", Email: "b@x.com", HashPassword: "h", Type: models.UserTeacher}
	id, err := s.users.Register(s.ctx, bob)
	s.Require().NoError(err)
	s.NotEmpty(id)

	_, err = s.exec.Lookup(s.ctx, models.UserKey(id))
	s.NoError(err)
}

func (s *ServiceSuite) TestUpdateInfo() {
	id, _, err := s.users.Create(s.ctx, s.alice(), 0)
	s.Require().NoError(err)

	applied, err := s.users.UpdateInfo(s.ctx, id, map[string]any{
		"bio":                "hi",
		service.InfoFullname: nil,
		service.InfoBirthday: "1990-01-01",
		plan.ImageField:      "https://evil.example/x.png",
	}, 0)
	s.Require().NoError(err)
	s.True(applied)

	rec, err := s.exec.Lookup(s.ctx, models.UserKey(id))
	s.Require().NoError(err)
	s.Equal("hi", rec.Map["bio"])
	s.Equal("1990-01-01", rec.Map[service.InfoBirthday])
	s.Equal(models.Gravatar("a@x.com"), rec.Map[plan.ImageField])
	s.NotContains(rec.Map, service.InfoFullname)
	s.NotEmpty(rec.Map[plan.TouchField])

	_, err = s.users.UpdateInfo(s.ctx, id, map[string]any{"nested": map[string]any{"a": 1}}, 0)
	s.True(lmserrors.IsInvalid(err))
}

func (s *ServiceSuite) TestUpdatesNeedExistingUser() {
	applied, err := s.users.UpdateUsername(s.ctx, "ghost", "casper", 0)
	s.Require().NoError(err)
	s.False(applied)

	applied, err = s.users.UpdateInfo(s.ctx, "ghost", map[string]any{"bio": "boo"}, 0)
	s.Require().NoError(err)
	s.False(applied)

	applied, err = s.users.UpdateEmail(s.ctx, "ghost", "g@x.com", 0)
	s.Require().NoError(err)
	s.False(applied)

	_, err = s.exec.Lookup(s.ctx, models.UserKey("ghost"))
	s.True(lmserrors.IsNotFound(err))
}

func (s *ServiceSuite) TestUpdateEmailRecomputesImage() {
	id, _, err := s.users.Create(s.ctx, s.alice(), 0)
	s.Require().NoError(err)

	applied, err := s.users.UpdateEmail(s.ctx, id, "new@x.com", 0)
	s.Require().NoError(err)
	s.True(applied)

	applied, err = s.users.UpdatePassword(s.ctx, id, "$2a$10$other", 0)
	s.Require().NoError(err)
	s.True(applied)

	rec, err := s.exec.Lookup(s.ctx, models.UserKey(id))
	s.Require().NoError(err)
	s.Equal("new@x.com", rec.Columns["email"])
	s.Equal("$2a$10$other", rec.Columns["hash_password"])
	s.Equal(models.Gravatar("new@x.com"), rec.Map[plan.ImageField])
}

func (s *ServiceSuite) TestPasswordTTLKeepsUser() {
	id, _, err := s.users.Create(s.ctx, s.alice(), 0)
	s.Require().NoError(err)

	applied, err := s.users.UpdatePassword(s.ctx, id, "$2a$10$temp", time.Second)
	s.Require().NoError(err)
	s.True(applied)

	s.clock.Advance(2 * time.Second)
	rec, err := s.exec.Lookup(s.ctx, models.UserKey(id))
	s.Require().NoError(err)
	s.Equal("alice", rec.Columns["username"])
	s.Equal("a@x.com", rec.Columns["email"])
	s.NotContains(rec.Columns, "hash_password")

	applied, err = s.users.UpdateUsername(s.ctx, id, "alice2", 0)
	s.Require().NoError(err)
	s.True(applied)
}

func (s *ServiceSuite) TestUserReads() {
	for _, u := range []models.User{
		{ID: models.DocID{Table: models.TableUsers, ID: "u1"}, Username: "alice", Email: "a@x.com", HashPassword: "secret"},
		{ID: models.DocID{Table: models.TableUsers, ID: "u2"}, Username: "bob", Email: "b@x.com", HashPassword: "secret"},
	} {
		s.Require().NoError(s.userDocs.Put(models.TableUsers, u.ID.ID, u))
	}
	noHash := search.Projection{Exclude: []string{"hash_password"}}

	u, err := s.users.GetByEmailOrUsername(s.ctx, "b@x.com", noHash)
	s.Require().NoError(err)
	s.Equal("bob", u.Username)
	s.Empty(u.HashPassword)

	u, err = s.users.GetByEmailOrUsername(s.ctx, "alice", noHash)
	s.Require().NoError(err)
	s.Equal("u1", u.ID.ID)

	_, err = s.users.GetByUsername(s.ctx, "carol", noHash)
	s.True(lmserrors.IsNotFound(err))

	many, err := s.users.GetMany(s.ctx, []string{"u2", "u1", "u9"}, search.Projection{})
	s.Require().NoError(err)
	s.Len(many, 2)

	u, err = s.users.GetByID(s.ctx, "u2", search.Projection{Include: []string{"id", "email"}})
	s.Require().NoError(err)
	s.Equal("b@x.com", u.Email)
	s.Empty(u.Username)
}

func (s *ServiceSuite) TestExamWorkWithTTL() {
	w := service.ExamWorkInput{
		TeacherID: "t1",
		CourseID:  "c1",
		ExamID:    models.NewTimeID(),
		StudentID: "s1",
		Content: []models.Question{
			{Question: "2+2", Choices: []string{"3", "4", "5", "6"}, Point: 5, Answer: 1},
		},
		Point: 5,
	}
	key := models.ExamWorkKey(w.TeacherID, w.CourseID, w.ExamID, w.StudentID)

	applied, err := s.works.Upsert(s.ctx, w, true, 300*time.Second)
	s.Require().NoError(err)
	s.True(applied)

	rec, err := s.exec.Lookup(s.ctx, key)
	s.Require().NoError(err)
	s.Equal(5, rec.Columns["point"])
	s.Equal(s.clock.Now().Add(300*time.Second), rec.ExpiresAt)

	applied, err = s.works.Upsert(s.ctx, w, true, 300*time.Second)
	s.Require().NoError(err)
	s.False(applied)

	w.Point = 0
	applied, err = s.works.Upsert(s.ctx, w, false, 300*time.Second)
	s.Require().NoError(err)
	s.True(applied)

	s.clock.Advance(301 * time.Second)
	_, err = s.exec.Lookup(s.ctx, key)
	s.True(lmserrors.IsNotFound(err))
}

func (s *ServiceSuite) TestLessonLifecycle() {
	in := service.LessonInput{TeacherID: "t1", CourseID: "c1", Title: "Intro", Content: "hello"}
	id, applied, err := s.lessons.Upsert(s.ctx, in, true, 0)
	s.Require().NoError(err)
	s.True(applied)
	s.NotEmpty(id)

	in.LessonID = id
	_, applied, err = s.lessons.Upsert(s.ctx, in, true, 0)
	s.Require().NoError(err)
	s.False(applied)

	in.Title = "Introduction"
	_, applied, err = s.lessons.Upsert(s.ctx, in, false, 0)
	s.Require().NoError(err)
	s.True(applied)

	rec, err := s.exec.Lookup(s.ctx, models.LessonKey("t1", "c1", id))
	s.Require().NoError(err)
	s.Equal("Introduction", rec.Columns["title"])

	applied, err = s.lessons.Remove(s.ctx, "t1", "c1", id)
	s.Require().NoError(err)
	s.True(applied)

	_, applied, err = s.lessons.Upsert(s.ctx, in, false, 0)
	s.Require().NoError(err)
	s.False(applied)

	_, _, err = s.lessons.Upsert(s.ctx, service.LessonInput{TeacherID: "t1", CourseID: "c1", Title: "x"}, false, 0)
	s.True(lmserrors.IsInvalid(err))
}

func (s *ServiceSuite) TestCourseMembership() {
	id, applied, err := s.courses.Create(s.ctx, service.NewCourse{TeacherID: "t1", CourseName: "Go"}, 0)
	s.Require().NoError(err)
	s.True(applied)

	applied, err = s.courses.Enroll(s.ctx, "t1", id, "s1", 0)
	s.Require().NoError(err)
	s.True(applied)
	applied, err = s.courses.Enroll(s.ctx, "t1", id, "s2", 0)
	s.Require().NoError(err)
	s.True(applied)
	applied, err = s.courses.Unenroll(s.ctx, "t1", id, "s1")
	s.Require().NoError(err)
	s.True(applied)

	rec, err := s.exec.Lookup(s.ctx, models.CourseKey("t1", id))
	s.Require().NoError(err)
	s.Equal(map[string]string{"s2": s.clock.Now().Format(time.RFC3339)}, rec.Map)

	applied, err = s.courses.Enroll(s.ctx, "t1", "missing", "s1", 0)
	s.Require().NoError(err)
	s.False(applied)
}

func (s *ServiceSuite) TestCourseUpdate() {
	id, _, err := s.courses.Create(s.ctx, service.NewCourse{TeacherID: "t1", CourseName: "Go", Description: "basics"}, 0)
	s.Require().NoError(err)

	name := "Go 101"
	applied, err := s.courses.Update(s.ctx, service.CourseUpdate{TeacherID: "t1", CourseID: id, CourseName: &name}, 0)
	s.Require().NoError(err)
	s.True(applied)

	applied, err = s.courses.Archive(s.ctx, "t1", id, true)
	s.Require().NoError(err)
	s.True(applied)

	rec, err := s.exec.Lookup(s.ctx, models.CourseKey("t1", id))
	s.Require().NoError(err)
	s.Equal("Go 101", rec.Columns["course_name"])
	s.Equal("basics", rec.Columns["description"])
	s.Equal(true, rec.Columns["archive"])

	_, err = s.courses.Update(s.ctx, service.CourseUpdate{TeacherID: "t1", CourseID: id}, 0)
	s.True(lmserrors.IsInvalid(err))
}

func (s *ServiceSuite) TestCoursesByStudent() {
	for _, c := range []models.Course{
		{ID: models.DocID{Table: models.TableCourses, ID: `["t1","c1"]`}, TeacherID: "t1", CourseID: "c1", Students: map[string]any{"s1": "x"}},
		{ID: models.DocID{Table: models.TableCourses, ID: `["t1","c2"]`}, TeacherID: "t1", CourseID: "c2"},
		{ID: models.DocID{Table: models.TableCourses, ID: `["t2","c3"]`}, TeacherID: "t2", CourseID: "c3", Students: map[string]any{"s1": "y"}},
	} {
		s.Require().NoError(s.courseDocs.Put(models.TableCourses, c.ID.ID, c))
	}

	hits, err := s.courses.GetByStudent(s.ctx, "s1", 0)
	s.Require().NoError(err)
	s.Equal(2, hits.Total)

	hits, err = s.courses.GetByTeacher(s.ctx, "t1", 1)
	s.Require().NoError(err)
	s.Equal(2, hits.Total)

	c, err := s.courses.GetByID(s.ctx, "t2", "c3", search.Projection{})
	s.Require().NoError(err)
	s.Equal([]string{"t2", "c3"}, c.ID.Parts())
}

func (s *ServiceSuite) TestTopics() {
	id, applied, err := s.topics.Create(s.ctx, "  Concurrency  ", 0)
	s.Require().NoError(err)
	s.True(applied)

	rec, err := s.exec.Lookup(s.ctx, models.TopicKey(id))
	s.Require().NoError(err)
	s.Equal("Concurrency", rec.Columns["name"])

	_, _, err = s.topics.Create(s.ctx, " ", 0)
	s.True(lmserrors.IsInvalid(err))

	s.Require().NoError(s.topicDocs.Put(models.TableTopics, id, models.Topic{
		ID:   models.DocID{Table: models.TableTopics, ID: id},
		Name: "Concurrency",
	}))
	hits, err := s.topics.Search(s.ctx, "concurrency", 1)
	s.Require().NoError(err)
	s.Equal(1, hits.Total)

	got, err := s.topics.GetByID(s.ctx, id)
	s.Require().NoError(err)
	s.Equal("Concurrency", got.Name)
}

func (s *ServiceSuite) TestCommentLifecycle() {
	ref, applied, err := s.comments.Create(s.ctx, service.NewComment{
		TeacherID: "t1", CourseID: "c1", LessonID: "l1", UserID: "u1", Content: "first",
	}, 0)
	s.Require().NoError(err)
	s.True(applied)
	s.NotEmpty(ref.CommentID)

	s.clock.Advance(time.Minute)
	applied, err = s.comments.UpdateContent(s.ctx, ref, "edited", 0)
	s.Require().NoError(err)
	s.True(applied)

	rec, err := s.exec.Lookup(s.ctx, ref.Key())
	s.Require().NoError(err)
	s.Equal("edited", rec.Columns["content"])
	s.Equal(s.clock.Now(), rec.Columns["updated_at"])

	applied, err = s.comments.Remove(s.ctx, ref)
	s.Require().NoError(err)
	s.True(applied)

	applied, err = s.comments.Remove(s.ctx, ref)
	s.Require().NoError(err)
	s.False(applied)

	applied, err = s.comments.UpdateContent(s.ctx, ref, "again", 0)
	s.Require().NoError(err)
	s.False(applied)
}

func (s *ServiceSuite) TestCommentRequireOwner() {
	ref := service.CommentRef{TeacherID: "t1", CourseID: "c1", LessonID: "l1", CommentID: models.NewTimeID()}
	s.Require().NoError(s.commentDocs.Put(models.TableComments, ref.Key().DocID(), models.Comment{
		ID:        models.DocID{Table: models.TableComments, ID: ref.Key().DocID()},
		TeacherID: ref.TeacherID,
		CourseID:  ref.CourseID,
		LessonID:  ref.LessonID,
		CommentID: ref.CommentID,
		UserID:    "u1",
		Content:   "mine",
	}))

	s.NoError(s.comments.RequireOwner(s.ctx, ref, "u1"))

	err := s.comments.RequireOwner(s.ctx, ref, "u2")
	s.True(lmserrors.IsForbidden(err))
	s.Equal(http.StatusForbidden, lmserrors.HTTPStatus(err))

	missing := ref
	missing.CommentID = models.NewTimeID()
	err = s.comments.RequireOwner(s.ctx, missing, "u1")
	s.True(lmserrors.IsNotFound(err))
	s.Equal(http.StatusNotFound, lmserrors.HTTPStatus(err))

	hits, err := s.comments.GetByLesson(s.ctx, "t1", "c1", "l1", 1)
	s.Require().NoError(err)
	s.Equal(1, hits.Total)
}
