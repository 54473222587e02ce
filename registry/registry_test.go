package registry_test

import (
	"errors"
	"slices"
	"sync"
	"testing"

	"github.com/tailored-agentic-units/eventbus/registry"
)

type stubContext struct{ name string }

func (c *stubContext) Post(task func()) error { task(); return nil }
func (c *stubContext) Name() string           { return c.name }

var target = &stubContext{name: "test"}

func register(t *testing.T, r *registry.Registry[string], address, handler string, opts ...registry.Option) *registry.Registration[string] {
	t.Helper()
	reg, err := r.Register(address, target, handler, opts...)
	if err != nil {
		t.Fatalf("Register() error = %v", err)
	}
	return reg
}

func TestRegister_Validation(t *testing.T) {
	r := registry.New[string]()

	if _, err := r.Register("", target, "h"); !errors.Is(err, registry.ErrEmptyAddress) {
		t.Errorf("Register(empty) error = %v, want ErrEmptyAddress", err)
	}
	if _, err := r.Register("a", nil, "h"); !errors.Is(err, registry.ErrNilTarget) {
		t.Errorf("Register(nil target) error = %v, want ErrNilTarget", err)
	}
}

func TestRegister_UniqueIDs(t *testing.T) {
	r := registry.New[string]()
	seen := make(map[registry.ID]bool)

	for range 100 {
		reg := register(t, r, "a", "h")
		if seen[reg.ID] {
			t.Fatalf("duplicate id %s", reg.ID)
		}
		seen[reg.ID] = true
	}

	if r.Len("a") != 100 {
		t.Errorf("Len() = %d, want 100", r.Len("a"))
	}
}

func TestNext_RoundRobin(t *testing.T) {
	r := registry.New[string]()
	register(t, r, "A", "H1")
	register(t, r, "A", "H2")

	var got []string
	for range 3 {
		reg, ok := r.Next("A", false)
		if !ok {
			t.Fatal("Next() found no registration")
		}
		got = append(got, reg.Handler)
	}

	if want := []string{"H1", "H2", "H1"}; !slices.Equal(got, want) {
		t.Errorf("rotation = %v, want %v", got, want)
	}
}

func TestNext_CursorAfterRemoval(t *testing.T) {
	tests := []struct {
		name   string
		remove int
		want   []string
	}{
		{name: "before cursor", remove: 0, want: []string{"H2", "H3", "H2"}},
		{name: "at cursor", remove: 1, want: []string{"H3", "H1", "H3"}},
		{name: "after cursor", remove: 2, want: []string{"H2", "H1", "H2"}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			r := registry.New[string]()
			regs := []*registry.Registration[string]{
				register(t, r, "A", "H1"),
				register(t, r, "A", "H2"),
				register(t, r, "A", "H3"),
			}

			// advances the cursor to H2
			r.Next("A", false)
			r.Unregister(regs[tt.remove].ID)

			var got []string
			for range 3 {
				reg, _ := r.Next("A", false)
				got = append(got, reg.Handler)
			}
			if !slices.Equal(got, tt.want) {
				t.Errorf("rotation = %v, want %v", got, tt.want)
			}
		})
	}
}

func TestNext_Empty(t *testing.T) {
	r := registry.New[string]()

	if _, ok := r.Next("missing", false); ok {
		t.Error("Next() on unknown address should report false")
	}
}

func TestNext_OneShotFiresOnce(t *testing.T) {
	r := registry.New[string]()
	reg := register(t, r, "once", "H", registry.OneShot())

	first, ok := r.Next("once", false)
	if !ok || first != reg {
		t.Fatal("first Next() should select the one-shot")
	}
	if !reg.Removed() {
		t.Error("selected one-shot should be removed")
	}
	if _, ok := r.Next("once", false); ok {
		t.Error("second Next() should find nothing")
	}
	if r.Count() != 0 {
		t.Errorf("Count() = %d, want 0", r.Count())
	}
}

func TestNext_OneShotConcurrent(t *testing.T) {
	r := registry.New[string]()
	register(t, r, "once", "H", registry.OneShot())

	var wg sync.WaitGroup
	var mu sync.Mutex
	selected := 0

	for range 32 {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if _, ok := r.Next("once", false); ok {
				mu.Lock()
				selected++
				mu.Unlock()
			}
		}()
	}
	wg.Wait()

	if selected != 1 {
		t.Errorf("one-shot selected %d times, want 1", selected)
	}
}

func TestNext_RemoteSkipsLocal(t *testing.T) {
	r := registry.New[string]()
	register(t, r, "A", "local", registry.LocalOnly())
	register(t, r, "A", "cluster")

	for range 3 {
		reg, ok := r.Next("A", true)
		if !ok || reg.Handler != "cluster" {
			t.Fatalf("Next(remote) = %v, want cluster", reg)
		}
	}

	r2 := registry.New[string]()
	register(t, r2, "B", "local", registry.LocalOnly())
	if _, ok := r2.Next("B", true); ok {
		t.Error("Next(remote) should not select local-only registration")
	}
	if _, ok := r2.Next("B", false); !ok {
		t.Error("Next(local) should select local-only registration")
	}
}

func TestSnapshot(t *testing.T) {
	r := registry.New[string]()
	register(t, r, "news", "H1")
	register(t, r, "news", "H2", registry.OneShot())
	register(t, r, "news", "H3")

	snap := r.Snapshot("news", false)
	if len(snap) != 3 {
		t.Fatalf("Snapshot() len = %d, want 3", len(snap))
	}

	register(t, r, "news", "late")
	if len(snap) != 3 {
		t.Errorf("snapshot grew to %d after later registration", len(snap))
	}

	if r.Len("news") != 3 {
		t.Errorf("Len() = %d, want 3 (one-shot consumed, late added)", r.Len("news"))
	}

	r.Unregister(snap[0].ID)
	if !snap[0].Removed() {
		t.Error("unregistered entry should report Removed()")
	}
}

func TestUnregister_Idempotent(t *testing.T) {
	r := registry.New[string]()
	reg := register(t, r, "A", "H")

	if _, ok := r.Unregister("does-not-exist"); ok {
		t.Error("Unregister(unknown) should report false")
	}
	if _, ok := r.Unregister(reg.ID); !ok {
		t.Error("Unregister() should report true")
	}
	if _, ok := r.Unregister(reg.ID); ok {
		t.Error("second Unregister() should report false")
	}
	if got := r.Addresses(); len(got) != 0 {
		t.Errorf("Addresses() = %v, want none", got)
	}
}

func TestRegister_WithID(t *testing.T) {
	r := registry.New[string]()
	reg := register(t, r, "A", "H", registry.WithID("fixed"))

	if reg.ID != "fixed" {
		t.Errorf("ID = %q, want fixed", reg.ID)
	}
	if got, ok := r.Get("fixed"); !ok || got != reg {
		t.Error("Get() should return the registration")
	}
}

func TestAddresses(t *testing.T) {
	r := registry.New[string]()
	register(t, r, "b", "H")
	register(t, r, "a", "H")
	register(t, r, "b", "H")

	if got := r.Addresses(); !slices.Equal(got, []string{"a", "b"}) {
		t.Errorf("Addresses() = %v, want [a b]", got)
	}
	if r.Count() != 3 {
		t.Errorf("Count() = %d, want 3", r.Count())
	}
}

func TestPersistent(t *testing.T) {
	r := registry.New[string]()
	register(t, r, "orders", "H")
	reply := register(t, r, "reply-1", "R", registry.OneShot(), registry.Ephemeral())
	register(t, r, "reply-2", "R", registry.OneShot(), registry.Ephemeral())

	if got := r.Persistent(); got != 1 {
		t.Errorf("Persistent() = %d, want 1", got)
	}
	if !reply.Ephemeral {
		t.Error("Ephemeral option should mark the registration")
	}

	if _, ok := r.Next("reply-1", false); !ok {
		t.Fatal("Next() should select the reply registration")
	}
	r.Unregister(reply.ID)
	if _, ok := r.Unregister(register(t, r, "orders", "H2").ID); !ok {
		t.Fatal("Unregister() should report true")
	}

	if got := r.Persistent(); got != 1 {
		t.Errorf("Persistent() = %d, want 1", got)
	}
	if got := r.Count(); got != 2 {
		t.Errorf("Count() = %d, want 2", got)
	}
}
