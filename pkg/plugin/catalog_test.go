package plugin

import (
	"context"
	"errors"
	"testing"
)

type stubPlugin struct{ name string }

func (s *stubPlugin) Info() Info { return Info{Name: s.name} }
func (s *stubPlugin) Setup(*ExecutionContext) error { return nil }
func (s *stubPlugin) Teardown(*ExecutionContext) error { return nil }

type stubLoader struct {
	calls int
	err   error
}

func (l *stubLoader) Load(_ context.Context, src Source) (Plugin, error) {
	l.calls++
	if l.err != nil {
		return nil, l.err
	}
	return &stubPlugin{name: src.Name}, nil
}

func TestCatalogReturnsFreshInstances(t *testing.T) {
	catalog := NewCatalog(WithPlugin("stub", func() Plugin { return &stubPlugin{name: "stub"} }))

	first, err := catalog.Load(context.Background(), Source{Name: "stub"})
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	second, err := catalog.Load(context.Background(), Source{Name: "stub"})
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if first == second {
		t.Fatalf("expected distinct instances per load")
	}
}

func TestCatalogFallback(t *testing.T) {
	fallback := &stubLoader{}
	catalog := NewCatalog(WithFallback(fallback))

	p, err := catalog.Load(context.Background(), Source{Name: "external"})
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if p.Info().Name != "external" || fallback.calls != 1 {
		t.Fatalf("fallback not used: info=%+v calls=%d", p.Info(), fallback.calls)
	}

	fallback.err = errors.New("missing .so")
	if _, err := catalog.Load(context.Background(), Source{Name: "external"}); err == nil {
		t.Fatalf("expected fallback error to surface")
	}
}

func TestCatalogRejectsDuplicatesAndUnknown(t *testing.T) {
	catalog := NewCatalog()
	ctor := func() Plugin { return &stubPlugin{} }
	if err := catalog.Register("a", ctor); err != nil {
		t.Fatalf("register: %v", err)
	}
	if err := catalog.Register("a", ctor); err == nil {
		t.Fatalf("expected duplicate registration error")
	}
	if err := catalog.Register("", ctor); err == nil {
		t.Fatalf("expected empty name error")
	}
	if _, err := catalog.Load(context.Background(), Source{Name: "b"}); err == nil {
		t.Fatalf("expected unknown plugin error")
	}
	if names := catalog.Names(); len(names) != 1 || names[0] != "a" {
		t.Fatalf("unexpected names: %v", names)
	}
}
