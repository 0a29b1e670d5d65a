package registry

import (
	"context"
	"errors"
	"testing"

	"github.com/bloopai/model-router/internal/catalog"
	"github.com/bloopai/model-router/internal/provider"
)

type stubProvider struct {
	name string
}

func (s *stubProvider) Generate(ctx context.Context, req *provider.Request) (*provider.Response, error) {
	return &provider.Response{Provider: s.name}, nil
}

func (s *stubProvider) Name() string         { return s.name }
func (s *stubProvider) DefaultModel() string { return s.name + "-default" }

func (s *stubProvider) Catalog() []catalog.ModelInfo {
	return []catalog.ModelInfo{{Provider: s.name, Model: s.name + "-default"}}
}

func TestRegister_Duplicate(t *testing.T) {
	reg := New()
	if err := reg.Register(&stubProvider{name: "a"}); err != nil {
		t.Fatalf("Register failed: %v", err)
	}
	if err := reg.Register(&stubProvider{name: "a"}); !errors.Is(err, ErrAlreadyRegistered) {
		t.Errorf("Expected ErrAlreadyRegistered, got %v", err)
	}
}

func TestAvailable_RegistrationOrder(t *testing.T) {
	reg := New()
	for _, name := range []string{"c", "a", "b"} {
		if err := reg.Register(&stubProvider{name: name}); err != nil {
			t.Fatalf("Register failed: %v", err)
		}
	}

	got := reg.Available()
	want := []string{"c", "a", "b"}
	if len(got) != len(want) {
		t.Fatalf("Expected %v, got %v", want, got)
	}
	for i := range want {
		if got[i] != want[i] {
			t.Errorf("Expected %v, got %v", want, got)
			break
		}
	}
}

func TestReportOutcome_TripsBreaker(t *testing.T) {
	reg := New()
	if err := reg.Register(&stubProvider{name: "flaky"}); err != nil {
		t.Fatalf("Register failed: %v", err)
	}

	for i := 0; i < 3; i++ {
		reg.ReportOutcome("flaky", errors.New("fail"))
	}

	if got := reg.Available(); len(got) != 0 {
		t.Errorf("Expected flaky to be unavailable after 3 failures, got %v", got)
	}
	if reg.Count() != 1 {
		t.Errorf("Count should still include tripped providers, got %d", reg.Count())
	}
}

func TestReportOutcome_SuccessResetsFailures(t *testing.T) {
	reg := New()
	if err := reg.Register(&stubProvider{name: "p"}); err != nil {
		t.Fatalf("Register failed: %v", err)
	}

	reg.ReportOutcome("p", errors.New("fail"))
	reg.ReportOutcome("p", errors.New("fail"))
	reg.ReportOutcome("p", nil)
	reg.ReportOutcome("p", errors.New("fail"))
	reg.ReportOutcome("p", errors.New("fail"))

	if got := reg.Available(); len(got) != 1 {
		t.Errorf("Expected p to remain available, got %v", got)
	}
}

func TestCatalog_AggregatesInOrder(t *testing.T) {
	reg := New()
	for _, name := range []string{"x", "y"} {
		if err := reg.Register(&stubProvider{name: name}); err != nil {
			t.Fatalf("Register failed: %v", err)
		}
	}

	entries := reg.Catalog().Entries()
	if len(entries) != 2 {
		t.Fatalf("Expected 2 entries, got %d", len(entries))
	}
	if entries[0].Provider != "x" || entries[1].Provider != "y" {
		t.Errorf("Catalog order wrong: %v", entries)
	}
}
