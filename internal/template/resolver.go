package template

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/notifykit/notifykit/internal/domain"
	"github.com/notifykit/notifykit/internal/observability"
	"go.uber.org/zap"
)

// Store is the durable template lookup the resolver falls through to on a
// cache miss.
type Store interface {
	FindOne(ctx context.Context, method domain.DeliveryMethod, name string) (*domain.Template, error)
}

// Input carries either a stored-template reference or inline content, plus
// the substitution context. When both are present the template wins.
type Input struct {
	Template string
	Subject  string
	Title    string
	Body     string
	Context  any
}

// ResolvedContent is the fully compiled message content handed to a
// provider adapter. Fields the method does not use stay empty.
type ResolvedContent struct {
	Subject string
	Title   string
	Body    string
}

// Resolver compiles notification content, looking stored templates up
// cache-first. Apart from cache population it is side-effect-free.
type Resolver struct {
	store   Store
	cache   Cache
	logger  *zap.Logger
	metrics *observability.Metrics
}

func NewResolver(store Store, cache Cache, logger *zap.Logger) (*Resolver, error) {
	if store == nil {
		return nil, fmt.Errorf("template store is required")
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Resolver{store: store, cache: cache, logger: logger}, nil
}

func (r *Resolver) SetMetrics(metrics *observability.Metrics) {
	if r == nil {
		return
	}
	r.metrics = metrics
}

// Resolve yields compiled subject/title/body for one delivery. A missing
// stored template is unrecoverable: retrying cannot make it appear.
func (r *Resolver) Resolve(ctx context.Context, method domain.DeliveryMethod, in Input) (*ResolvedContent, error) {
	subject := in.Subject
	title := in.Title
	body := in.Body

	if name := strings.TrimSpace(in.Template); name != "" {
		tpl, err := r.lookup(ctx, method, name)
		if err != nil {
			return nil, err
		}

		body = tpl.Body
		if tpl.Subject != nil && strings.TrimSpace(*tpl.Subject) != "" {
			subject = *tpl.Subject
		}
	}

	compiledSubject, err := Compile(subject, in.Context)
	if err != nil {
		return nil, err
	}
	compiledTitle, err := Compile(title, in.Context)
	if err != nil {
		return nil, err
	}
	compiledBody, err := Compile(body, in.Context)
	if err != nil {
		return nil, err
	}

	return &ResolvedContent{
		Subject: compiledSubject,
		Title:   compiledTitle,
		Body:    compiledBody,
	}, nil
}

// lookup is the explicit cache-aside point: key from method+name, miss
// loader backed by the durable store. Cache faults degrade to loads.
func (r *Resolver) lookup(ctx context.Context, method domain.DeliveryMethod, name string) (*domain.Template, error) {
	key := CacheKey(&method, name)

	if r.cache != nil {
		cached, ok, err := r.cache.Get(ctx, key)
		if err != nil {
			r.logger.Warn("template cache read failed, falling through",
				zap.String("template", name),
				zap.Error(err),
			)
		} else if ok {
			r.metrics.IncTemplateCacheHit()
			return cached, nil
		}
	}
	r.metrics.IncTemplateCacheMiss()

	tpl, err := r.store.FindOne(ctx, method, name)
	if err != nil {
		if errors.Is(err, domain.ErrNotFound) {
			return nil, domain.Unrecoverable(fmt.Errorf("%w: template %q for method %q", domain.ErrNotFound, name, method))
		}
		return nil, fmt.Errorf("template lookup failed: %w", err)
	}

	if r.cache != nil {
		if err := r.cache.Set(ctx, key, tpl); err != nil {
			r.logger.Warn("template cache write failed",
				zap.String("template", name),
				zap.Error(err),
			)
		}
	}

	return tpl, nil
}
