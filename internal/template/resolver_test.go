package template

import (
	"context"
	"errors"
	"fmt"
	"testing"

	"github.com/notifykit/notifykit/internal/domain"
	"go.uber.org/zap"
)

func TestResolverCompilesInlineContent(t *testing.T) {
	t.Parallel()

	resolver, err := NewResolver(&fakeStore{}, nil, zap.NewNop())
	if err != nil {
		t.Fatalf("NewResolver() error = %v", err)
	}

	content, err := resolver.Resolve(context.Background(), domain.MethodEmail, Input{
		Subject: "hello {{name}}",
		Body:    "a {{hello}} b {{world.value}} c",
		Context: map[string]any{
			"name":  "ada",
			"hello": "veniam",
			"world": map[string]any{"value": "dolore"},
		},
	})
	if err != nil {
		t.Fatalf("Resolve() error = %v", err)
	}

	if content.Subject != "hello ada" {
		t.Fatalf("subject = %q, want %q", content.Subject, "hello ada")
	}
	if content.Body != "a veniam b dolore c" {
		t.Fatalf("body = %q, want %q", content.Body, "a veniam b dolore c")
	}
}

func TestResolverStoredTemplateWinsOverInline(t *testing.T) {
	t.Parallel()

	subject := "stored subject {{name}}"
	store := &fakeStore{
		findOneFn: func(ctx context.Context, method domain.DeliveryMethod, name string) (*domain.Template, error) {
			if method != domain.MethodEmail {
				t.Fatalf("method = %q, want email", method)
			}
			if name != "welcome" {
				t.Fatalf("template name = %q, want welcome", name)
			}
			return &domain.Template{
				ID:      "tpl-1",
				Name:    "welcome",
				Subject: &subject,
				Body:    "stored body {{name}}",
			}, nil
		},
	}

	resolver, err := NewResolver(store, nil, zap.NewNop())
	if err != nil {
		t.Fatalf("NewResolver() error = %v", err)
	}

	content, err := resolver.Resolve(context.Background(), domain.MethodEmail, Input{
		Template: "welcome",
		Subject:  "inline subject",
		Body:     "inline body",
		Context:  map[string]any{"name": "ada"},
	})
	if err != nil {
		t.Fatalf("Resolve() error = %v", err)
	}

	if content.Subject != "stored subject ada" {
		t.Fatalf("subject = %q, want stored subject to win", content.Subject)
	}
	if content.Body != "stored body ada" {
		t.Fatalf("body = %q, want stored body to win", content.Body)
	}
}

func TestResolverKeepsInlineSubjectWhenTemplateHasNone(t *testing.T) {
	t.Parallel()

	store := &fakeStore{
		findOneFn: func(ctx context.Context, method domain.DeliveryMethod, name string) (*domain.Template, error) {
			return &domain.Template{ID: "tpl-2", Name: name, Body: "stored body"}, nil
		},
	}

	resolver, err := NewResolver(store, nil, zap.NewNop())
	if err != nil {
		t.Fatalf("NewResolver() error = %v", err)
	}

	content, err := resolver.Resolve(context.Background(), domain.MethodEmail, Input{
		Template: "welcome",
		Subject:  "inline subject",
	})
	if err != nil {
		t.Fatalf("Resolve() error = %v", err)
	}
	if content.Subject != "inline subject" {
		t.Fatalf("subject = %q, want inline subject to survive", content.Subject)
	}
}

func TestResolverMissingTemplateIsUnrecoverable(t *testing.T) {
	t.Parallel()

	store := &fakeStore{
		findOneFn: func(ctx context.Context, method domain.DeliveryMethod, name string) (*domain.Template, error) {
			return nil, domain.ErrNotFound
		},
	}

	resolver, err := NewResolver(store, nil, zap.NewNop())
	if err != nil {
		t.Fatalf("NewResolver() error = %v", err)
	}

	_, err = resolver.Resolve(context.Background(), domain.MethodSMS, Input{Template: "missing"})
	if err == nil {
		t.Fatal("Resolve() expected error")
	}
	if !errors.Is(err, domain.ErrNotFound) {
		t.Fatalf("Resolve() error = %v, want ErrNotFound", err)
	}
	if !domain.IsUnrecoverable(err) {
		t.Fatalf("Resolve() error = %v, want unrecoverable", err)
	}
}

func TestResolverCacheHitSkipsStore(t *testing.T) {
	t.Parallel()

	store := &fakeStore{
		findOneFn: func(ctx context.Context, method domain.DeliveryMethod, name string) (*domain.Template, error) {
			t.Fatal("store should not be consulted on a cache hit")
			return nil, nil
		},
	}
	cache := &fakeCache{
		getFn: func(ctx context.Context, key string) (*domain.Template, bool, error) {
			if want := CacheKey(methodPtr(domain.MethodEmail), "welcome"); key != want {
				t.Fatalf("cache key = %q, want %q", key, want)
			}
			return &domain.Template{ID: "tpl-3", Name: "welcome", Body: "cached body"}, true, nil
		},
	}

	resolver, err := NewResolver(store, cache, zap.NewNop())
	if err != nil {
		t.Fatalf("NewResolver() error = %v", err)
	}

	content, err := resolver.Resolve(context.Background(), domain.MethodEmail, Input{Template: "welcome"})
	if err != nil {
		t.Fatalf("Resolve() error = %v", err)
	}
	if content.Body != "cached body" {
		t.Fatalf("body = %q, want cached body", content.Body)
	}
}

func TestResolverCacheMissPopulatesCache(t *testing.T) {
	t.Parallel()

	var setCalled bool
	store := &fakeStore{
		findOneFn: func(ctx context.Context, method domain.DeliveryMethod, name string) (*domain.Template, error) {
			return &domain.Template{ID: "tpl-4", Name: name, Body: "stored body"}, nil
		},
	}
	cache := &fakeCache{
		setFn: func(ctx context.Context, key string, tpl *domain.Template) error {
			setCalled = true
			if tpl == nil || tpl.ID != "tpl-4" {
				t.Fatalf("cached template = %+v, want tpl-4", tpl)
			}
			return nil
		},
	}

	resolver, err := NewResolver(store, cache, zap.NewNop())
	if err != nil {
		t.Fatalf("NewResolver() error = %v", err)
	}

	if _, err := resolver.Resolve(context.Background(), domain.MethodEmail, Input{Template: "welcome"}); err != nil {
		t.Fatalf("Resolve() error = %v", err)
	}
	if !setCalled {
		t.Fatal("expected cache to be populated after a miss")
	}
}

func TestResolverCacheFaultFallsThroughToStore(t *testing.T) {
	t.Parallel()

	var storeCalled bool
	store := &fakeStore{
		findOneFn: func(ctx context.Context, method domain.DeliveryMethod, name string) (*domain.Template, error) {
			storeCalled = true
			return &domain.Template{ID: "tpl-5", Name: name, Body: "stored body"}, nil
		},
	}
	cache := &fakeCache{
		getFn: func(ctx context.Context, key string) (*domain.Template, bool, error) {
			return nil, false, fmt.Errorf("redis unreachable")
		},
		setFn: func(ctx context.Context, key string, tpl *domain.Template) error {
			return fmt.Errorf("redis unreachable")
		},
	}

	resolver, err := NewResolver(store, cache, zap.NewNop())
	if err != nil {
		t.Fatalf("NewResolver() error = %v", err)
	}

	content, err := resolver.Resolve(context.Background(), domain.MethodEmail, Input{Template: "welcome"})
	if err != nil {
		t.Fatalf("Resolve() error = %v", err)
	}
	if !storeCalled {
		t.Fatal("expected the store to be consulted when the cache faults")
	}
	if content.Body != "stored body" {
		t.Fatalf("body = %q, want stored body", content.Body)
	}
}

func methodPtr(m domain.DeliveryMethod) *domain.DeliveryMethod { return &m }

type fakeStore struct {
	findOneFn func(ctx context.Context, method domain.DeliveryMethod, name string) (*domain.Template, error)
}

func (f *fakeStore) FindOne(ctx context.Context, method domain.DeliveryMethod, name string) (*domain.Template, error) {
	if f.findOneFn != nil {
		return f.findOneFn(ctx, method, name)
	}
	return nil, domain.ErrNotFound
}

type fakeCache struct {
	getFn    func(ctx context.Context, key string) (*domain.Template, bool, error)
	setFn    func(ctx context.Context, key string, tpl *domain.Template) error
	deleteFn func(ctx context.Context, key string) error
}

func (f *fakeCache) Get(ctx context.Context, key string) (*domain.Template, bool, error) {
	if f.getFn != nil {
		return f.getFn(ctx, key)
	}
	return nil, false, nil
}

func (f *fakeCache) Set(ctx context.Context, key string, tpl *domain.Template) error {
	if f.setFn != nil {
		return f.setFn(ctx, key, tpl)
	}
	return nil
}

func (f *fakeCache) Delete(ctx context.Context, key string) error {
	if f.deleteFn != nil {
		return f.deleteFn(ctx, key)
	}
	return nil
}

var _ Cache = (*fakeCache)(nil)
