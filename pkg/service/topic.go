package service

import (
	"context"
	"strings"
	"time"

	"github.com/surrealdb/surreallms/pkg/models"
	"github.com/surrealdb/surreallms/pkg/search"
	"github.com/surrealdb/surreallms/pkg/write"
)

const topicComponent = "TopicService"

type TopicService struct {
	deps   Deps
	topics *search.Facade[models.Topic]
}

func NewTopicService(deps Deps, topics *search.Facade[models.Topic]) *TopicService {
	return &TopicService{deps: deps.withDefaults(), topics: topics}
}

// Create stores a topic under a fresh id and returns the id.
func (s *TopicService) Create(ctx context.Context, name string, ttl time.Duration) (string, bool, error) {
	name = strings.TrimSpace(name)
	if err := required(topicComponent, "Create", "name", name); err != nil {
		return "", false, err
	}
	id := models.NewID()
	applied, err := s.deps.Exec.Write(ctx, write.Intent{
		Key:       models.TopicKey(id),
		Set:       map[string]any{"name": name, "created_at": s.deps.now()},
		Predicate: write.MustNotExist,
		TTL:       ttl,
	})
	if err != nil {
		return "", false, err
	}
	return id, applied, nil
}

func (s *TopicService) GetByID(ctx context.Context, id string) (*models.Topic, error) {
	return s.topics.GetByKey(ctx, models.TopicKey(id), search.Projection{})
}

// Search returns topics whose name matches keyword.
func (s *TopicService) Search(ctx context.Context, keyword string, page int) (search.Hits[models.Topic], error) {
	return s.topics.Search(ctx, search.Query{
		Must: []search.Clause{search.Matches("name", keyword)},
	}, page)
}
