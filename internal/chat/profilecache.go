package chat

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"github.com/chatflow/internal/metrics"
	"github.com/chatflow/internal/model"
	"github.com/chatflow/internal/repository"
	"golang.org/x/sync/singleflight"
)

// ProfileSource — точечное чтение из profiles.
// Отсутствующая строка возвращается как repository.ErrNotFound.
type ProfileSource interface {
	GetByID(ctx context.Context, id string) (*model.Profile, error)
}

// ProfileCache — read-through кеш профилей на время сессии.
// Профили считаются неизменными: ни вытеснения, ни TTL. Промахи не кешируются, поэтому
// пользователь, созданный позже, найдётся при следующем запросе.
// Одновременные промахи по одному id делят один запрос.
type ProfileCache struct {
	src   ProfileSource
	group singleflight.Group

	mu       sync.RWMutex
	profiles map[string]*model.Profile
}

func NewProfileCache(src ProfileSource) *ProfileCache {
	return &ProfileCache{src: src, profiles: make(map[string]*model.Profile)}
}

// Get возвращает профиль или nil для неизвестного пользователя. Прочие ошибки
// возвращаются и не кешируются.
func (c *ProfileCache) Get(ctx context.Context, userID string) (*model.Profile, error) {
	if p, ok := c.cached(userID); ok {
		metrics.ProfileCacheHits.Inc()
		return p, nil
	}
	v, err, _ := c.group.Do(userID, func() (any, error) {
		if p, ok := c.cached(userID); ok {
			return p, nil
		}
		metrics.ProfileCacheMisses.Inc()
		p, err := c.src.GetByID(ctx, userID)
		if errors.Is(err, repository.ErrNotFound) {
			return (*model.Profile)(nil), nil
		}
		if err != nil {
			return nil, fmt.Errorf("chat.ProfileCache.Get %s: %w", userID, err)
		}
		c.mu.Lock()
		c.profiles[userID] = p
		c.mu.Unlock()
		return p, nil
	})
	if err != nil {
		return nil, err
	}
	return v.(*model.Profile), nil
}

func (c *ProfileCache) cached(userID string) (*model.Profile, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	p, ok := c.profiles[userID]
	return p, ok
}

// Len — число профилей в кеше.
func (c *ProfileCache) Len() int {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return len(c.profiles)
}
