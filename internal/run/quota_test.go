package run

import (
	"context"
	"testing"
	"time"

	"github.com/kandev/sandboxctl/internal/store"
	"github.com/kandev/sandboxctl/internal/store/memstore"
)

func TestQuotaCheckerAllowsUnderLimit(t *testing.T) {
	s := memstore.New()
	q := NewQuotaChecker(s, 2)

	allowed, err := q.Check(context.Background(), "u1")
	if err != nil {
		t.Fatalf("Check: %v", err)
	}
	if !allowed {
		t.Fatalf("expected allowed with zero runs so far")
	}
}

func TestQuotaCheckerDeniesAtLimit(t *testing.T) {
	s := memstore.New()
	q := NewQuotaChecker(s, 1)

	if err := s.CreateRun(context.Background(), &store.Run{
		ID: "r1", UserID: "u1", ProjectID: "p1", Status: store.RunRunning, Prompt: "x", StartedAt: time.Now(),
	}); err != nil {
		t.Fatalf("CreateRun: %v", err)
	}

	allowed, err := q.Check(context.Background(), "u1")
	if err != nil {
		t.Fatalf("Check: %v", err)
	}
	if allowed {
		t.Fatalf("expected denial at the daily limit")
	}
}

func TestQuotaCheckerIgnoresOtherUsers(t *testing.T) {
	s := memstore.New()
	q := NewQuotaChecker(s, 1)

	if err := s.CreateRun(context.Background(), &store.Run{
		ID: "r1", UserID: "someone-else", ProjectID: "p1", Status: store.RunRunning, Prompt: "x", StartedAt: time.Now(),
	}); err != nil {
		t.Fatalf("CreateRun: %v", err)
	}

	allowed, err := q.Check(context.Background(), "u1")
	if err != nil {
		t.Fatalf("Check: %v", err)
	}
	if !allowed {
		t.Fatalf("expected another user's runs not to count against u1's quota")
	}
}
