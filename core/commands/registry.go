package commands

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"time"

	"github.com/m3rciful/dispatchbot/core/logger"
)

// RegistryOptions configures NewRegistry.
type RegistryOptions struct {
	// Now overrides the clock used for cooldown bookkeeping.
	Now func() time.Time
}

type entry struct {
	handler Handler
	desc    Descriptor
}

type table struct {
	entries    []entry
	byCallname map[string]int
}

func (t *table) clone() *table {
	out := &table{
		entries:    append([]entry(nil), t.entries...),
		byCallname: make(map[string]int, len(t.byCallname)),
	}
	for k, v := range t.byCallname {
		out.byCallname[k] = v
	}
	return out
}

func (t *table) add(h Handler) (Descriptor, error) {
	if h == nil {
		return Descriptor{}, ErrNilHandler
	}
	desc := h.Descriptor().clone()
	if err := desc.validate(); err != nil {
		return Descriptor{}, err
	}
	callnames := desc.Callnames()
	for _, cn := range callnames {
		if idx, taken := t.byCallname[cn]; taken {
			return Descriptor{}, &DuplicateCallnameError{
				Command:  t.entries[idx].desc.Name,
				Callname: cn,
				Rejected: desc.Name,
			}
		}
	}
	idx := len(t.entries)
	t.entries = append(t.entries, entry{handler: h, desc: desc})
	for _, cn := range callnames {
		t.byCallname[cn] = idx
	}
	return desc, nil
}

// Registry holds registered command handlers and the per-user cooldown state.
type Registry struct {
	mu    sync.RWMutex
	built bool
	tbl   *table

	cooldowns *cooldownTracker
}

// NewRegistry creates an empty, unbuilt registry.
func NewRegistry(opts RegistryOptions) *Registry {
	now := opts.Now
	if now == nil {
		now = time.Now
	}
	return &Registry{
		tbl:       &table{byCallname: make(map[string]int)},
		cooldowns: newCooldownTracker(now),
	}
}

// Build registers every handler yielded by source. It may succeed only once:
// after a successful Build every further call returns ErrAlreadyBuilt.
// Registration stops at the first conflict and nothing from the source is kept,
// which leaves the registry unbuilt so a corrected source can be built again.
func (r *Registry) Build(source Source) error {
	if source == nil {
		return ErrNilSource
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.built {
		return ErrAlreadyBuilt
	}

	handlers, err := source.Handlers()
	if err != nil {
		return fmt.Errorf("commands: load handlers: %w", err)
	}

	start := time.Now()
	staged := r.tbl.clone()
	registered := make([]Descriptor, 0, len(handlers))
	for _, h := range handlers {
		desc, err := staged.add(h)
		if err != nil {
			logger.Error(context.Background(), "cmd.registry", "register.command.fail",
				slog.String("status", "fail"),
				slog.String("err", err.Error()),
			)
			return err
		}
		registered = append(registered, desc)
	}

	r.tbl = staged
	r.built = true

	for _, desc := range registered {
		logRegistered(desc)
	}
	logger.Info(context.Background(), "cmd.registry", "register.complete",
		slog.String("status", "ok"),
		slog.Int("count", len(registered)),
		slog.Duration("duration", logger.Since(start)),
	)
	return nil
}

// Register adds a single handler. Its name and aliases must not overlap any registered callname.
func (r *Registry) Register(h Handler) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	desc, err := r.tbl.add(h)
	if err != nil {
		return err
	}
	logRegistered(desc)
	return nil
}

func logRegistered(desc Descriptor) {
	logger.Info(context.Background(), "cmd.registry", "register.command",
		slog.String("status", "ok"),
		slog.String("command", desc.Name),
		slog.String("callnames", strings.Join(desc.Callnames(), ", ")),
	)
}

// Built reports whether Build has completed successfully.
func (r *Registry) Built() bool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.built
}

// Len returns the number of registered commands.
func (r *Registry) Len() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.tbl.entries)
}

// Resolve returns the handler owning callname. Matching is exact and case-sensitive.
func (r *Registry) Resolve(callname string) (Handler, bool) {
	h, _, ok := r.Lookup(callname)
	return h, ok
}

// Lookup returns the handler owning callname together with the descriptor captured at registration.
func (r *Registry) Lookup(callname string) (Handler, Descriptor, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	idx, ok := r.tbl.byCallname[callname]
	if !ok {
		return nil, Descriptor{}, false
	}
	e := r.tbl.entries[idx]
	return e.handler, e.desc.clone(), true
}

// Descriptors returns a snapshot of the registered descriptors in registration order.
func (r *Registry) Descriptors() []Descriptor {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]Descriptor, 0, len(r.tbl.entries))
	for _, e := range r.tbl.entries {
		out = append(out, e.desc.clone())
	}
	return out
}

// RecordInvocation marks that userID just invoked the command.
func (r *Registry) RecordInvocation(command string, userID int64) {
	r.cooldowns.record(command, userID)
}

// IsOnCooldown reports whether userID invoked command less than cooldownSeconds ago.
// A user with no recorded invocation is never on cooldown.
func (r *Registry) IsOnCooldown(command string, userID int64, cooldownSeconds int) bool {
	return r.cooldowns.remaining(command, userID, cooldownSeconds) > 0
}

// Remaining returns how long userID still has to wait before invoking command again.
func (r *Registry) Remaining(command string, userID int64, cooldownSeconds int) time.Duration {
	return r.cooldowns.remaining(command, userID, cooldownSeconds)
}

// Sweep drops cooldown entries older than the longest registered cooldown and returns how many were removed.
func (r *Registry) Sweep() int {
	return r.cooldowns.sweep(r.maxCooldown())
}

// CooldownEntries returns the number of tracked (command, user) pairs.
func (r *Registry) CooldownEntries() int {
	return r.cooldowns.len()
}

func (r *Registry) maxCooldown() time.Duration {
	r.mu.RLock()
	defer r.mu.RUnlock()
	longest := 0
	for _, e := range r.tbl.entries {
		if e.desc.CooldownSeconds > longest {
			longest = e.desc.CooldownSeconds
		}
	}
	return time.Duration(longest) * time.Second
}
