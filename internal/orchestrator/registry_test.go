package orchestrator

import (
	"errors"
	"testing"
	"time"

	"streamcast/internal/models"
)

func registrySession(id, name string, created time.Time) *Session {
	cfg := models.SessionConfig{Name: name, Title: name, Content: models.ContentSource{Source: "s"}}
	return newSession(id, cfg, "", created, 10)
}

func TestRegistryRejectsDuplicateNames(t *testing.T) {
	r := NewRegistry()
	now := time.Now()
	if err := r.Register(registrySession("a", "Demo", now)); err != nil {
		t.Fatalf("register: %v", err)
	}

	for _, name := range []string{"Demo", "demo", " DEMO "} {
		err := r.Register(registrySession("b", name, now))
		if !errors.Is(err, ErrDuplicateName) {
			t.Fatalf("register %q: err = %v, want ErrDuplicateName", name, err)
		}
	}
	if r.Len() != 1 {
		t.Fatalf("len = %d, want 1", r.Len())
	}
}

func TestRegistryReserveBlocksConcurrentCreation(t *testing.T) {
	r := NewRegistry()
	release, err := r.Reserve("demo")
	if err != nil {
		t.Fatalf("reserve: %v", err)
	}
	if _, err := r.Reserve("Demo"); !errors.Is(err, ErrDuplicateName) {
		t.Fatalf("err = %v, want ErrDuplicateName", err)
	}
	release()
	release() // safe to call twice
	if _, err := r.Reserve("demo"); err != nil {
		t.Fatalf("reserve after release: %v", err)
	}
}

func TestRegistryRegisterConsumesReservation(t *testing.T) {
	r := NewRegistry()
	release, err := r.Reserve("demo")
	if err != nil {
		t.Fatalf("reserve: %v", err)
	}
	if err := r.Register(registrySession("a", "demo", time.Now())); err != nil {
		t.Fatalf("register: %v", err)
	}
	// Release after registration must not free the registered name.
	release()
	if _, err := r.Reserve("demo"); !errors.Is(err, ErrDuplicateName) {
		t.Fatalf("err = %v, want ErrDuplicateName", err)
	}
}

func TestRegistryLookupAndRemove(t *testing.T) {
	r := NewRegistry()
	s := registrySession("id-1", "My Stream", time.Now())
	if err := r.Register(s); err != nil {
		t.Fatalf("register: %v", err)
	}

	if got, ok := r.Lookup("id-1"); !ok || got != s {
		t.Fatal("lookup by id failed")
	}
	if got, ok := r.Lookup("my stream"); !ok || got != s {
		t.Fatal("lookup by folded name failed")
	}
	if _, ok := r.Lookup("ghost"); ok {
		t.Fatal("lookup of unknown ref succeeded")
	}

	if !r.Remove("id-1") {
		t.Fatal("remove returned false")
	}
	if _, ok := r.ByName("My Stream"); ok {
		t.Fatal("name still resolvable after remove")
	}
	if r.Remove("id-1") {
		t.Fatal("second remove returned true")
	}
}

func TestRegistryListOrders(t *testing.T) {
	r := NewRegistry()
	base := time.Now()
	later := registrySession("id-2", "b", base.Add(time.Second))
	earlier := registrySession("id-1", "a", base)
	for _, s := range []*Session{later, earlier} {
		if err := r.Register(s); err != nil {
			t.Fatalf("register: %v", err)
		}
	}
	list := r.List()
	if len(list) != 2 || list[0] != earlier || list[1] != later {
		t.Fatalf("unexpected order: %v", list)
	}
}
