package catalog

import (
	"context"
	"fmt"
	"sort"
)

// Service exposes catalog registration and lookups.
type Service struct {
	repo Repository
}

// NewService constructs the service.
func NewService(repo Repository) *Service {
	return &Service{repo: repo}
}

// Register creates or updates an entity.
func (s *Service) Register(ctx context.Context, t EntityType, req RegisterRequest) (Entity, error) {
	active := true
	if req.Active != nil {
		active = *req.Active
	}
	e, err := s.repo.Upsert(ctx, Entity{Type: t, ID: req.ID, Name: req.Name, Active: active, Attributes: req.Attributes})
	if err != nil {
		return Entity{}, fmt.Errorf("register %s: %w", t, err)
	}
	return e, nil
}

// Get loads one entity.
func (s *Service) Get(ctx context.Context, t EntityType, id string) (Entity, error) {
	return s.repo.Get(ctx, t, id)
}

// List returns a page of entities and the total count.
func (s *Service) List(ctx context.Context, t EntityType, filter ListFilter) ([]Entity, int, error) {
	return s.repo.List(ctx, t, filter)
}

// Missing returns the keys that are unknown or inactive, sorted and
// de-duplicated.
func (s *Service) Missing(ctx context.Context, keys []Key) ([]Key, error) {
	uniq := make(map[Key]struct{}, len(keys))
	for _, k := range keys {
		uniq[k] = struct{}{}
	}
	list := make([]Key, 0, len(uniq))
	for k := range uniq {
		list = append(list, k)
	}
	sort.Slice(list, func(i, j int) bool { return list[i].String() < list[j].String() })

	found, err := s.repo.ActiveKeys(ctx, list)
	if err != nil {
		return nil, err
	}
	var missing []Key
	for _, k := range list {
		if !found[k] {
			missing = append(missing, k)
		}
	}
	return missing, nil
}
