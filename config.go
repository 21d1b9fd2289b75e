package fiberloop

import (
	"fmt"
	"io"
	"strings"
	"sync"

	"gopkg.in/yaml.v3"
)

// Var is a live-reloadable named configuration value. Grounded on the
// original's Config::Lookup<T>/ConfigVar<T> pair: a named, typed,
// listener-observable value that can be repointed at runtime by loading a
// new YAML document, without restarting anything that already holds a
// *Var[T].
type Var[T any] struct {
	varName     string
	description string

	mu        sync.RWMutex
	value     T
	listeners map[int]func(oldVal, newVal T)
	nextID    int
}

// Value returns the variable's current value.
func (v *Var[T]) Value() T {
	v.mu.RLock()
	defer v.mu.RUnlock()
	return v.value
}

// SetValue updates the variable's value and notifies every listener, even
// when the new value equals the old one (T is not constrained to
// comparable, so no equality check is made; callers that care about no-op
// writes compare themselves).
func (v *Var[T]) SetValue(newVal T) {
	v.mu.Lock()
	old := v.value
	v.value = newVal
	listeners := make([]func(T, T), 0, len(v.listeners))
	for _, l := range v.listeners {
		listeners = append(listeners, l)
	}
	v.mu.Unlock()

	for _, l := range listeners {
		l(old, newVal)
	}
}

// AddListener registers a callback invoked with (old, new) on every
// [Var.SetValue], returning an id for [Var.RemoveListener].
func (v *Var[T]) AddListener(fn func(oldVal, newVal T)) int {
	v.mu.Lock()
	defer v.mu.Unlock()
	id := v.nextID
	v.nextID++
	if v.listeners == nil {
		v.listeners = make(map[int]func(T, T))
	}
	v.listeners[id] = fn
	return id
}

// RemoveListener unregisters a callback added via [Var.AddListener].
func (v *Var[T]) RemoveListener(id int) {
	v.mu.Lock()
	defer v.mu.Unlock()
	delete(v.listeners, id)
}

// Name returns the variable's registered name.
func (v *Var[T]) Name() string { return v.varName }

// Description returns the human-readable description given at
// registration time.
func (v *Var[T]) Description() string { return v.description }

// configVarBase is the type-erased interface the global registry stores,
// so LoadYAML can decode into whatever concrete Var[T] is registered
// under a given name without a type switch over every T this module uses.
type configVarBase interface {
	name() string
	decodeAndSet(node *yaml.Node) error
}

func (v *Var[T]) name() string { return v.varName }

func (v *Var[T]) decodeAndSet(node *yaml.Node) error {
	var tmp T
	if err := node.Decode(&tmp); err != nil {
		return fmt.Errorf("config: decode %q: %w", v.varName, err)
	}
	v.SetValue(tmp)
	return nil
}

var configRegistry = struct {
	mu   sync.RWMutex
	vars map[string]configVarBase
}{vars: make(map[string]configVarBase)}

// Lookup returns the named config variable, registering it with def and
// description on first use. Subsequent calls with the same name return
// the same *Var[T], so Lookup is the idiomatic way for unrelated packages
// to share one live-reloadable setting — mirroring the original's
// Config::Lookup<T> registry. A second Lookup of the same name with a
// different T panics, since that can only be a programming error.
func Lookup[T any](name string, def T, description string) *Var[T] {
	key := strings.ToLower(name)

	configRegistry.mu.Lock()
	defer configRegistry.mu.Unlock()

	if existing, ok := configRegistry.vars[key]; ok {
		v, ok := existing.(*Var[T])
		if !ok {
			panic(newContractViolation("Lookup", fmt.Errorf("config var %q already registered with a different type", name)))
		}
		return v
	}

	v := &Var[T]{varName: key, description: description, value: def}
	configRegistry.vars[key] = v
	return v
}

// LoadYAML parses a YAML document of name->value pairs and applies each
// key's value to the matching registered [Var], if any. Unrecognized
// keys are ignored, so a single config file can be shared across
// processes that only register a subset of its keys.
func LoadYAML(r io.Reader) error {
	var doc map[string]yaml.Node
	if err := yaml.NewDecoder(r).Decode(&doc); err != nil {
		return fmt.Errorf("config: parse: %w", err)
	}

	configRegistry.mu.RLock()
	defer configRegistry.mu.RUnlock()

	for key, node := range doc {
		v, ok := configRegistry.vars[strings.ToLower(key)]
		if !ok {
			continue
		}
		node := node
		if err := v.decodeAndSet(&node); err != nil {
			return err
		}
	}
	return nil
}

// Named configuration variables used throughout this module. Promoted
// from hardcoded constants in the original (fiberStackSize,
// tcpConnectTimeoutMs) plus two this module adds for the reactor's own
// tunables (reactorPollCap, reactorInitialFDCapacity).
var (
	fiberStackSize = Lookup[int64](
		"fiber.stack_size", 128*1024,
		"cosmetic stack-size hint recorded against spawned fibers; Go goroutine stacks grow on demand regardless",
	)
	tcpConnectTimeoutMs = Lookup[int64](
		"tcp.connect.timeout", 5000,
		"milliseconds a hooked Connect waits for a non-blocking connect to complete before failing with ETIMEDOUT",
	)
	reactorPollCap = Lookup[int64](
		"reactor.poll_cap", 10000,
		"maximum milliseconds a reactor's poll loop blocks in one poll syscall absent a nearer timer deadline",
	)
	reactorInitialFDCapacity = Lookup[int64](
		"reactor.initial_fd_capacity", 32,
		"starting size of a reactor's per-fd continuation table, grown 1.5x on demand",
	)
)
