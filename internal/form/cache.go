package form

import (
	"context"
	"fmt"
	"sync"

	"github.com/ashureev/carebridge/internal/domain"
)

// templateCache is a read-through cache of normalized templates. Templates
// are immutable once sessions reference them, so entries never expire.
type templateCache struct {
	reader TemplateReader
	mu     sync.RWMutex
	byID   map[int64]*domain.FormTemplate
}

func newTemplateCache(reader TemplateReader) *templateCache {
	return &templateCache{reader: reader, byID: make(map[int64]*domain.FormTemplate)}
}

func (c *templateCache) get(ctx context.Context, id int64) (*domain.FormTemplate, error) {
	c.mu.RLock()
	tpl, ok := c.byID[id]
	c.mu.RUnlock()
	if ok {
		return tpl, nil
	}

	tpl, err := c.reader.GetTemplate(ctx, id)
	if err != nil {
		return nil, fmt.Errorf("load template %d: %w", id, err)
	}
	if tpl == nil {
		return nil, ErrTemplateNotFound
	}
	tpl.Normalize()

	c.mu.Lock()
	if cached, ok := c.byID[id]; ok {
		tpl = cached
	} else {
		c.byID[id] = tpl
	}
	c.mu.Unlock()
	return tpl, nil
}
