package service

import (
	"context"
	"fmt"
	"time"

	lmserrors "github.com/surrealdb/surreallms/pkg/errors"
	"github.com/surrealdb/surreallms/pkg/models"
	"github.com/surrealdb/surreallms/pkg/plan"
	"github.com/surrealdb/surreallms/pkg/search"
	"github.com/surrealdb/surreallms/pkg/write"
)

const userComponent = "UserService"

// InfoColumn is the user's free-form profile map.
const InfoColumn = "info"

// Profile fields every new user starts with.
const (
	InfoFullname = "fullname"
	InfoBirthday = "birthday"
)

// NewUser is the input of Create. HashPassword is hashed by the caller.
type NewUser struct {
	// ID is generated when empty.
	ID           string
	Username     string
	Email        string
	HashPassword string
	Type         models.UserType
}

type UserService struct {
	deps  Deps
	users *search.Facade[models.User]
}

func NewUserService(deps Deps, users *search.Facade[models.User]) *UserService {
	return &UserService{deps: deps.withDefaults(), users: users}
}

func (s *UserService) GetByID(ctx context.Context, id string, proj search.Projection) (*models.User, error) {
	return s.users.GetByKey(ctx, models.UserKey(id), proj)
}

// GetMany returns the users with the given ids that exist.
func (s *UserService) GetMany(ctx context.Context, ids []string, proj search.Projection) ([]models.User, error) {
	if len(ids) == 0 {
		return []models.User{}, nil
	}
	hits, err := s.users.SearchSized(ctx, search.Query{
		Must:       []search.Clause{search.AnyOf("id", ids...)},
		Projection: proj,
	}, 1, len(ids))
	if err != nil {
		return nil, err
	}
	return hits.Items, nil
}

func (s *UserService) findOne(ctx context.Context, method, what string, q search.Query) (*models.User, error) {
	hits, err := s.users.SearchSized(ctx, q, 1, 1)
	if err != nil {
		return nil, err
	}
	return first(hits, userComponent, method, what)
}

func (s *UserService) GetByUsername(ctx context.Context, username string, proj search.Projection) (*models.User, error) {
	return s.findOne(ctx, "GetByUsername", "user "+username, search.Query{
		Must:       []search.Clause{search.Eq("username", username)},
		Projection: proj,
	})
}

func (s *UserService) GetByEmail(ctx context.Context, email string, proj search.Projection) (*models.User, error) {
	return s.findOne(ctx, "GetByEmail", "user "+email, search.Query{
		Must:       []search.Clause{search.Eq("email", email)},
		Projection: proj,
	})
}

// GetByEmailOrUsername looks up a sign-in name that may be either.
func (s *UserService) GetByEmailOrUsername(ctx context.Context, login string, proj search.Projection) (*models.User, error) {
	return s.findOne(ctx, "GetByEmailOrUsername", "user "+login, search.Query{
		Should:     []search.Clause{search.Eq("email", login), search.Eq("username", login)},
		Projection: proj,
	})
}

// CheckUniqueness searches the derived store for the username and email. It
// returns FieldErrors naming the fields already in use.
//
// The check is advisory: the derived store may lag, so two concurrent
// registrations can both pass it.
func (s *UserService) CheckUniqueness(ctx context.Context, username, email string) error {
	taken := func(field, value string) (bool, error) {
		hits, err := s.users.SearchSized(ctx, search.Query{
			Must:       []search.Clause{search.Eq(field, value)},
			Projection: search.Projection{Include: []string{"id"}},
		}, 1, 1)
		if err != nil {
			return false, err
		}
		return hits.Total > 0, nil
	}

	fe := lmserrors.FieldErrors{}
	if ok, err := taken("username", username); err != nil {
		return err
	} else if ok {
		fe["username"] = fmt.Sprintf("Username %q has already been used", username)
	}
	if ok, err := taken("email", email); err != nil {
		return err
	} else if ok {
		fe["email"] = fmt.Sprintf("Email %q has already been used", email)
	}
	if len(fe) > 0 {
		return fe
	}
	return nil
}

// Create inserts the user if no user with the same id exists. The profile
// starts with an empty fullname and birthday and a Gravatar image.
func (s *UserService) Create(ctx context.Context, u NewUser, ttl time.Duration) (string, bool, error) {
	if err := required(userComponent, "Create",
		"username", u.Username, "email", u.Email, "hash_password", u.HashPassword); err != nil {
		return "", false, err
	}
	if !u.Type.Valid() {
		return "", false, lmserrors.Invalid(userComponent, "Create", "unknown user type %q", u.Type)
	}
	id := u.ID
	if id == "" {
		id = models.NewID()
	}

	applied, err := s.deps.Exec.Write(ctx, write.Intent{
		Key: models.UserKey(id),
		Set: map[string]any{
			"username":      u.Username,
			"email":         u.Email,
			"hash_password": u.HashPassword,
			"type":          string(u.Type),
			"created_at":    s.deps.now(),
		},
		MapColumn: InfoColumn,
		MapAssign: map[string]string{
			InfoFullname:   "",
			InfoBirthday:   "",
			plan.ImageField: models.Gravatar(u.Email),
		},
		Predicate: write.MustNotExist,
		TTL:       ttl,
	})
	if err != nil {
		return "", false, err
	}
	return id, applied, nil
}

// Register checks uniqueness in the derived store, then creates the user
// under a fresh id.
//
// Uniqueness of username and email is only as strong as the derived store is
// current. Two registrations racing between the check and the write both
// succeed; only the id is unique at the authoritative store.
func (s *UserService) Register(ctx context.Context, u NewUser) (string, error) {
	if err := required(userComponent, "Register", "username", u.Username, "email", u.Email); err != nil {
		return "", err
	}
	if err := s.CheckUniqueness(ctx, u.Username, u.Email); err != nil {
		return "", err
	}
	u.ID = ""
	id, applied, err := s.Create(ctx, u, 0)
	if err != nil {
		return "", err
	}
	if !applied {
		// A fresh random id collided.
		return "", lmserrors.WrapTransient(fmt.Errorf("user %s already exists", id),
			userComponent, "Register", "create")
	}
	s.deps.Log.Info("user registered", "id", id, "type", string(u.Type))
	return id, nil
}

func (s *UserService) update(ctx context.Context, method, id string, set map[string]any, ttl time.Duration) (bool, error) {
	if err := required(userComponent, method, "id", id); err != nil {
		return false, err
	}
	return s.deps.Exec.Write(ctx, write.Intent{
		Key:       models.UserKey(id),
		Set:       set,
		Predicate: write.MustExist,
		TTL:       ttl,
	})
}

func (s *UserService) UpdatePassword(ctx context.Context, id, hashPassword string, ttl time.Duration) (bool, error) {
	if err := required(userComponent, "UpdatePassword", "hash_password", hashPassword); err != nil {
		return false, err
	}
	return s.update(ctx, "UpdatePassword", id, map[string]any{"hash_password": hashPassword}, ttl)
}

func (s *UserService) UpdateUsername(ctx context.Context, id, username string, ttl time.Duration) (bool, error) {
	if err := required(userComponent, "UpdateUsername", "username", username); err != nil {
		return false, err
	}
	return s.update(ctx, "UpdateUsername", id, map[string]any{"username": username}, ttl)
}

// UpdateInfo applies a sparse profile update. Entries that are nil, empty or
// plan.Delete are removed; all others are assigned as strings. The image
// entry cannot be set this way.
func (s *UserService) UpdateInfo(ctx context.Context, id string, payload map[string]any, ttl time.Duration) (bool, error) {
	if err := required(userComponent, "UpdateInfo", "id", id); err != nil {
		return false, err
	}
	p, err := s.deps.Planner.Plan(nil, payload)
	if err != nil {
		return false, err
	}
	return s.deps.Exec.Batch(ctx, p.Render(models.UserKey(id), InfoColumn, ttl)...)
}

// UpdateEmail changes the email and the Gravatar image derived from it.
func (s *UserService) UpdateEmail(ctx context.Context, id, email string, ttl time.Duration) (bool, error) {
	if err := required(userComponent, "UpdateEmail", "id", id, "email", email); err != nil {
		return false, err
	}
	return s.deps.Exec.Write(ctx, write.Intent{
		Key:       models.UserKey(id),
		Set:       map[string]any{"email": email},
		MapColumn: InfoColumn,
		MapAssign: map[string]string{plan.ImageField: models.Gravatar(email)},
		Predicate: write.MustExist,
		TTL:       ttl,
	})
}
