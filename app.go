package surreallms

import (
	"context"
	"errors"
	"fmt"
	rawslog "log/slog"

	lmserrors "github.com/surrealdb/surreallms/pkg/errors"
	"github.com/surrealdb/surreallms/pkg/logger"
	slogadapter "github.com/surrealdb/surreallms/pkg/logger/slog"
	"github.com/surrealdb/surreallms/pkg/metric"
	"github.com/surrealdb/surreallms/pkg/models"
	"github.com/surrealdb/surreallms/pkg/plan"
	"github.com/surrealdb/surreallms/pkg/retry"
	"github.com/surrealdb/surreallms/pkg/search"
	"github.com/surrealdb/surreallms/pkg/search/memsearch"
	"github.com/surrealdb/surreallms/pkg/search/surreal"
	"github.com/surrealdb/surreallms/pkg/service"
	"github.com/surrealdb/surreallms/pkg/write"
	"github.com/surrealdb/surreallms/pkg/write/memstore"
	"github.com/surrealdb/surreallms/pkg/write/postgres"
	"github.com/surrealdb/surreallms/pkg/write/redisstore"
)

const appComponent = "App"

// SearchIndexes are the full-text indexes the derived store needs.
func SearchIndexes() []surreal.Index {
	return []surreal.Index{
		{Table: models.TableTopics, Field: "name"},
		{Table: models.TableLessons, Field: "title"},
		{Table: models.TableLessons, Field: "content"},
	}
}

// App holds the process-wide handles: both stores, the executor and one
// service per record kind. It is opened once and shared.
type App struct {
	Config  *Config
	Log     logger.Logger
	Metrics *metric.Metrics
	Exec    *write.Executor

	Users     *service.UserService
	Courses   *service.CourseService
	Lessons   *service.LessonService
	ExamWorks *service.ExamWorkService
	Topics    *service.TopicService
	Comments  *service.CommentService

	logData *logger.LogData
	store   write.Store
	pg      *postgres.Store
	mem     *memstore.Store
	surreal *surreal.Store
}

// Open connects to the configured stores, retrying while they come up, and
// wires the services.
func Open(ctx context.Context, cfg *Config) (*App, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	logData, err := logger.New().WithLevel(cfg.LogLevel).FromPath(cfg.LogFile).Make()
	if err != nil {
		return nil, fmt.Errorf("failed to open log: %w", err)
	}
	a := &App{
		Config:  cfg,
		Log:     logData,
		Metrics: metric.New(),
		logData: logData,
	}
	if cfg.LogFormat == LogSlog {
		a.Log = slogadapter.New(rawslog.NewTextHandler(logData.Writer(), &rawslog.HandlerOptions{
			Level: slogLevel(cfg.LogLevel),
		}))
	}
	if err := a.openStores(ctx); err != nil {
		_ = a.Close()
		return nil, err
	}

	tables := models.Tables()
	a.Exec = write.NewExecutor(a.store, tables, write.WithLogger(a.Log), write.WithMetrics(a.Metrics))
	deps := service.Deps{Exec: a.Exec, Planner: plan.New(), Log: a.Log}
	a.Users = service.NewUserService(deps, facade[models.User](a, models.TableUsers))
	a.Courses = service.NewCourseService(deps, facade[models.Course](a, models.TableCourses))
	a.Lessons = service.NewLessonService(deps, facade[models.Lesson](a, models.TableLessons))
	a.ExamWorks = service.NewExamWorkService(deps, facade[models.ExamWork](a, models.TableExamWorks))
	a.Topics = service.NewTopicService(deps, facade[models.Topic](a, models.TableTopics))
	a.Comments = service.NewCommentService(deps, facade[models.Comment](a, models.TableComments))

	a.Log.Info("application ready", "store", cfg.Store, "search", cfg.Search)
	return a, nil
}

func (a *App) openStores(ctx context.Context) error {
	cfg := a.Config
	switch cfg.Store {
	case StorePostgres:
		pg, err := retry.DoWithResult(ctx, retry.Startup(), func() (*postgres.Store, error) {
			s, err := postgres.Open(cfg.PostgresDSN, models.Tables())
			if err != nil {
				a.Log.Warn("waiting for PostgreSQL", "err", err)
				return nil, lmserrors.WrapTransient(err, appComponent, "Open", "connect postgres")
			}
			return s, nil
		})
		if err != nil {
			return err
		}
		a.pg, a.store = pg, pg
	case StoreRedis:
		rs, err := retry.DoWithResult(ctx, retry.Startup(), func() (*redisstore.Store, error) {
			s, err := redisstore.Open(ctx, redisstore.Options{URL: cfg.RedisURL, Prefix: cfg.RedisPrefix})
			if err != nil {
				a.Log.Warn("waiting for Redis", "err", err)
				return nil, lmserrors.WrapTransient(err, appComponent, "Open", "connect redis")
			}
			return s, nil
		})
		if err != nil {
			return err
		}
		a.store = rs
	case StoreMemory:
		a.mem = memstore.New()
		a.store = a.mem
	}

	if cfg.Search == SearchSurreal {
		s, err := retry.DoWithResult(ctx, retry.Startup(), func() (*surreal.Store, error) {
			s, err := surreal.Open(ctx, surreal.Options{
				URL:       cfg.Surreal.URL,
				Namespace: cfg.Surreal.Namespace,
				Database:  cfg.Surreal.Database,
				Username:  cfg.Surreal.Username,
				Password:  cfg.Surreal.Password,
			})
			if err != nil {
				a.Log.Warn("waiting for SurrealDB", "err", err)
				return nil, lmserrors.WrapTransient(err, appComponent, "Open", "connect surrealdb")
			}
			return s, nil
		})
		if err != nil {
			return err
		}
		a.surreal = s
	}
	return nil
}

func slogLevel(level string) rawslog.Level {
	var l rawslog.Level
	if err := l.UnmarshalText([]byte(level)); err != nil {
		return rawslog.LevelInfo
	}
	return l
}

func facade[T any](a *App, table string) *search.Facade[T] {
	var backend search.Backend[T]
	if a.surreal != nil {
		backend = surreal.NewBackend[T](a.surreal)
	} else {
		backend = memsearch.New[T]()
	}
	return search.NewFacade[T](backend, table, search.WithLogger(a.Log), search.WithMetrics(a.Metrics))
}

// Close releases both stores and the log file.
func (a *App) Close() error {
	var errs []error
	if a.store != nil {
		errs = append(errs, a.store.Close())
	}
	if a.surreal != nil {
		errs = append(errs, a.surreal.Close(context.Background()))
	}
	if a.logData != nil {
		errs = append(errs, a.logData.Close())
	}
	return errors.Join(errs...)
}
