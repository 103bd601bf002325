package sandbox

import (
	"fmt"
	"strings"
	"time"
)

// Default resource limits applied when a policy leaves them unset.
const (
	DefaultTimeout        = 5 * time.Second
	DefaultMaxStackDepth  = 500
	DefaultMaxOutputBytes = 1 << 20 // 1 MB
)

// DefaultAllowedModules returns the module allow-list used when the caller
// does not narrow it down. Every entry is served by the built-in registry.
func DefaultAllowedModules() []string {
	return []string{
		"base64",
		"datetime",
		"json",
		"math",
		"random",
		"re",
		"statistics",
		"strings",
		"uuid",
	}
}

// Policy describes everything a single execution is allowed to do. A policy
// is immutable per invocation: the caller supplies it together with the
// source, and nothing about it changes while the snippet runs.
//
// Anything not listed in AllowedModules is denied. Memory use is deliberately
// not part of the policy because it cannot be enforced in-process; the
// enforced resource bounds are the wall-clock timeout, the interpreter stack
// depth, and the captured output size.
type Policy struct {
	AllowedModules []string
	Timeout        time.Duration
	MaxStackDepth  int
	MaxOutputBytes int
}

// DefaultPolicy returns the policy applied to requests that do not override it.
func DefaultPolicy() Policy {
	return Policy{
		AllowedModules: DefaultAllowedModules(),
		Timeout:        DefaultTimeout,
		MaxStackDepth:  DefaultMaxStackDepth,
		MaxOutputBytes: DefaultMaxOutputBytes,
	}
}

// withDefaults fills unset fields. A nil AllowedModules means "default list";
// an empty, non-nil slice allows no modules at all.
func (p Policy) withDefaults() Policy {
	if p.AllowedModules == nil {
		p.AllowedModules = DefaultAllowedModules()
	}
	if p.Timeout == 0 {
		p.Timeout = DefaultTimeout
	}
	if p.MaxStackDepth == 0 {
		p.MaxStackDepth = DefaultMaxStackDepth
	}
	if p.MaxOutputBytes == 0 {
		p.MaxOutputBytes = DefaultMaxOutputBytes
	}
	return p
}

// Validate ensures the policy is executable.
func (p Policy) Validate() error {
	if p.Timeout <= 0 {
		return fmt.Errorf("policy timeout must be positive, got: %s", p.Timeout)
	}
	if p.MaxStackDepth <= 0 {
		return fmt.Errorf("policy max stack depth must be positive, got: %d", p.MaxStackDepth)
	}
	if p.MaxOutputBytes <= 0 {
		return fmt.Errorf("policy max output bytes must be positive, got: %d", p.MaxOutputBytes)
	}
	return nil
}

// AllowsImport reports whether the policy permits importing the named module.
// Only the top-level name counts: "datetime/tz" is governed by "datetime".
func (p Policy) AllowsImport(name string) bool {
	top := topLevelModule(name)
	if top == "" {
		return false
	}
	for _, allowed := range p.AllowedModules {
		if allowed == top {
			return true
		}
	}
	return false
}

// topLevelModule reduces a module path to the name policies are written
// against.
func topLevelModule(name string) string {
	name = strings.TrimSpace(name)
	if i := strings.IndexByte(name, '/'); i >= 0 {
		name = name[:i]
	}
	return name
}
