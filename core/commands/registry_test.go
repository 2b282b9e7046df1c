package commands

import (
	"context"
	"errors"
	"testing"
	"time"
)

type fakeClock struct{ t time.Time }

func (c *fakeClock) Now() time.Time          { return c.t }
func (c *fakeClock) Advance(d time.Duration) { c.t = c.t.Add(d) }

func newClock() *fakeClock {
	return &fakeClock{t: time.Date(2024, 3, 1, 12, 0, 0, 0, time.UTC)}
}

func noop(context.Context, *Message, []string) error { return nil }

func helpHandler() Handler {
	return New(Descriptor{Name: "help", Aliases: []string{"h", "halp"}, Description: "list commands"}, noop)
}

func banHandler() Handler {
	return New(Descriptor{
		Name:            "ban",
		Aliases:         []string{"b"},
		CooldownSeconds: 10,
		Permissions:     PermBanMembers,
		GuildOnly:       true,
	}, noop)
}

func TestRegistryResolveNameAndAliases(t *testing.T) {
	reg := NewRegistry(RegistryOptions{})
	if err := reg.Build(Static{helpHandler(), banHandler()}); err != nil {
		t.Fatalf("build: %v", err)
	}
	for _, cn := range []string{"help", "h", "halp"} {
		h, ok := reg.Resolve(cn)
		if !ok {
			t.Fatalf("resolve %q: not found", cn)
		}
		if got := h.Descriptor().Name; got != "help" {
			t.Fatalf("resolve %q = %s, want help", cn, got)
		}
	}
	if h, ok := reg.Resolve("b"); !ok || h.Descriptor().Name != "ban" {
		t.Fatalf("resolve b: ok=%v", ok)
	}
	if _, ok := reg.Resolve("kick"); ok {
		t.Fatal("resolve kick: expected miss")
	}
	if _, ok := reg.Resolve("HELP"); ok {
		t.Fatal("callnames must be case-sensitive")
	}
}

func TestRegistryDuplicateCallname(t *testing.T) {
	reg := NewRegistry(RegistryOptions{})
	clash := New(Descriptor{Name: "hint", Aliases: []string{"h"}}, noop)

	err := reg.Build(Static{helpHandler(), clash})
	if !errors.Is(err, ErrDuplicateCallname) {
		t.Fatalf("expected duplicate callname error, got %v", err)
	}
	var dup *DuplicateCallnameError
	if !errors.As(err, &dup) {
		t.Fatalf("expected *DuplicateCallnameError, got %T", err)
	}
	if dup.Command != "help" || dup.Callname != "h" || dup.Rejected != "hint" {
		t.Fatalf("unexpected conflict details: %+v", dup)
	}
	if reg.Built() {
		t.Fatal("failed build must not mark registry built")
	}
	if reg.Len() != 0 {
		t.Fatalf("failed build must not keep partial registrations, got %d", reg.Len())
	}
}

func TestRegistryRegisterRejectsNameCollidingWithAlias(t *testing.T) {
	reg := NewRegistry(RegistryOptions{})
	if err := reg.Register(helpHandler()); err != nil {
		t.Fatalf("register help: %v", err)
	}
	err := reg.Register(New(Descriptor{Name: "halp"}, noop))
	var dup *DuplicateCallnameError
	if !errors.As(err, &dup) || dup.Callname != "halp" || dup.Command != "help" {
		t.Fatalf("unexpected error: %v", err)
	}
	if _, ok := reg.Resolve("halp"); !ok {
		t.Fatal("original alias owner must still resolve")
	}
	if reg.Len() != 1 {
		t.Fatalf("rejected handler must not be added, len=%d", reg.Len())
	}
}

func TestRegistryBuildOnce(t *testing.T) {
	reg := NewRegistry(RegistryOptions{})
	if err := reg.Build(Static{helpHandler()}); err != nil {
		t.Fatalf("first build: %v", err)
	}
	err := reg.Build(Static{banHandler()})
	if !errors.Is(err, ErrAlreadyBuilt) {
		t.Fatalf("second build: expected ErrAlreadyBuilt, got %v", err)
	}
	if reg.Len() != 1 {
		t.Fatalf("second build changed state: len=%d", reg.Len())
	}
	if _, ok := reg.Resolve("ban"); ok {
		t.Fatal("second build must not register handlers")
	}
}

func TestRegistryBuildRetriesAfterFailure(t *testing.T) {
	reg := NewRegistry(RegistryOptions{})
	clash := New(Descriptor{Name: "hint", Aliases: []string{"h"}}, noop)
	if err := reg.Build(Static{helpHandler(), clash}); err == nil {
		t.Fatal("conflicting source must fail")
	}
	if err := reg.Build(Static{helpHandler(), banHandler()}); err != nil {
		t.Fatalf("corrected source: %v", err)
	}
	if !reg.Built() || reg.Len() != 2 {
		t.Fatalf("built=%v len=%d", reg.Built(), reg.Len())
	}
	if err := reg.Build(Static{}); !errors.Is(err, ErrAlreadyBuilt) {
		t.Fatalf("expected ErrAlreadyBuilt after success, got %v", err)
	}
}

func TestRegistryInvalidDescriptor(t *testing.T) {
	cases := []Descriptor{
		{Name: ""},
		{Name: "two words"},
		{Name: "neg", CooldownSeconds: -1},
		{Name: "alias", Aliases: []string{""}},
	}
	for _, desc := range cases {
		reg := NewRegistry(RegistryOptions{})
		err := reg.Register(New(desc, noop))
		var inv *InvalidDescriptorError
		if !errors.As(err, &inv) {
			t.Fatalf("descriptor %+v: expected InvalidDescriptorError, got %v", desc, err)
		}
	}
}

func TestRegistryManifestNilFactory(t *testing.T) {
	reg := NewRegistry(RegistryOptions{})
	err := reg.Build(Manifest{helpHandler, nil})
	if !errors.Is(err, ErrNilHandler) {
		t.Fatalf("expected ErrNilHandler, got %v", err)
	}
}

func TestRegistryDescriptorsSnapshot(t *testing.T) {
	reg := NewRegistry(RegistryOptions{})
	if err := reg.Build(Manifest{helpHandler, banHandler}); err != nil {
		t.Fatalf("build: %v", err)
	}
	descs := reg.Descriptors()
	if len(descs) != 2 || descs[0].Name != "help" || descs[1].Name != "ban" {
		t.Fatalf("unexpected order: %+v", descs)
	}
	descs[0].Aliases[0] = "mutated"
	descs[0].Name = "mutated"
	if _, ok := reg.Resolve("h"); !ok {
		t.Fatal("mutating the snapshot must not affect the registry")
	}
	if again := reg.Descriptors(); again[0].Aliases[0] != "h" || again[0].Name != "help" {
		t.Fatalf("snapshot leaked live state: %+v", again[0])
	}
}

func TestRegistryCooldownWindow(t *testing.T) {
	clock := newClock()
	reg := NewRegistry(RegistryOptions{Now: clock.Now})

	if reg.IsOnCooldown("ban", 7, 10) {
		t.Fatal("no prior invocation must never be on cooldown")
	}

	reg.RecordInvocation("ban", 7)
	if !reg.IsOnCooldown("ban", 7, 10) {
		t.Fatal("expected cooldown at T")
	}
	clock.Advance(9999 * time.Millisecond)
	if !reg.IsOnCooldown("ban", 7, 10) {
		t.Fatal("expected cooldown at T+9.999s")
	}
	if got := reg.Remaining("ban", 7, 10); got != time.Millisecond {
		t.Fatalf("remaining = %v, want 1ms", got)
	}
	clock.Advance(time.Millisecond)
	if reg.IsOnCooldown("ban", 7, 10) {
		t.Fatal("cooldown must end at T+10s")
	}
	if reg.IsOnCooldown("ban", 8, 10) {
		t.Fatal("cooldown is per user")
	}
	if reg.IsOnCooldown("help", 7, 10) {
		t.Fatal("cooldown is per command")
	}
}

func TestRegistryZeroCooldown(t *testing.T) {
	clock := newClock()
	reg := NewRegistry(RegistryOptions{Now: clock.Now})
	reg.RecordInvocation("help", 1)
	if reg.IsOnCooldown("help", 1, 0) {
		t.Fatal("zero cooldown must never block")
	}
}

func TestRegistrySweep(t *testing.T) {
	clock := newClock()
	reg := NewRegistry(RegistryOptions{Now: clock.Now})
	if err := reg.Build(Static{helpHandler(), banHandler()}); err != nil {
		t.Fatalf("build: %v", err)
	}
	reg.RecordInvocation("ban", 1)
	clock.Advance(5 * time.Second)
	reg.RecordInvocation("ban", 2)
	clock.Advance(5 * time.Second)

	if removed := reg.Sweep(); removed != 1 {
		t.Fatalf("sweep removed %d, want 1", removed)
	}
	if reg.CooldownEntries() != 1 {
		t.Fatalf("entries = %d, want 1", reg.CooldownEntries())
	}
	if !reg.IsOnCooldown("ban", 2, 10) {
		t.Fatal("sweep must keep live entries")
	}
}

func TestPermissions(t *testing.T) {
	granted := PermBanMembers | PermPinMessages
	if !granted.Has(PermBanMembers) {
		t.Fatal("expected subset")
	}
	if granted.Has(PermBanMembers | PermManageChat) {
		t.Fatal("expected missing flag")
	}
	if !PermNone.Has(PermNone) {
		t.Fatal("empty set is a subset of everything")
	}
	p, err := ParsePermissions("ban_members", " PIN_MESSAGES ")
	if err != nil || p != granted {
		t.Fatalf("parse = %v, %v", p, err)
	}
	if _, err := ParsePermissions("FLY"); err == nil {
		t.Fatal("expected unknown permission error")
	}
	if s := granted.String(); s != "BAN_MEMBERS|PIN_MESSAGES" {
		t.Fatalf("string = %s", s)
	}
}
