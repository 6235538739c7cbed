// Package scope defines emergency severity levels and the scope references
// they act on. A scope names the blast radius of a switch: the whole
// platform, one tenant, one service, one feature, or one rate-limit key.
package scope

import (
	"fmt"
	"strings"
)

// Level is the severity tier of an emergency switch.
// 0 is the most severe and broadest; 4 the least severe and narrowest.
type Level int

const (
	LevelPlatformStop Level = iota // full platform stop
	LevelTenantHalt                // halt a single tenant
	LevelServiceStop               // stop a named service integration
	LevelFeatureOff                // disable a named feature
	LevelThrottle                  // throttle a rate-limit target
)

// MinLevel and MaxLevel bound the valid severity range.
const (
	MinLevel = LevelPlatformStop
	MaxLevel = LevelThrottle
)

// Valid reports whether l is within the defined severity range.
func (l Level) Valid() bool {
	return l >= MinLevel && l <= MaxLevel
}

func (l Level) String() string {
	switch l {
	case LevelPlatformStop:
		return "platform_stop"
	case LevelTenantHalt:
		return "tenant_halt"
	case LevelServiceStop:
		return "service_stop"
	case LevelFeatureOff:
		return "feature_off"
	case LevelThrottle:
		return "throttle"
	default:
		return fmt.Sprintf("level(%d)", int(l))
	}
}

// Kind discriminates the scope union.
type Kind string

const (
	KindGlobal    Kind = "global"
	KindTenant    Kind = "tenant"
	KindService   Kind = "service"
	KindFeature   Kind = "feature"
	KindRateLimit Kind = "ratelimit"
)

// Ref identifies the target of an emergency action.
// Value is empty for KindGlobal and required for every other kind.
type Ref struct {
	Kind  Kind   `json:"kind" yaml:"kind"`
	Value string `json:"value,omitempty" yaml:"value,omitempty"`
}

// Global is the whole-platform scope.
var Global = Ref{Kind: KindGlobal}

// Tenant returns a tenant-scoped reference.
func Tenant(id string) Ref { return Ref{Kind: KindTenant, Value: id} }

// Service returns a service-scoped reference.
func Service(name string) Ref { return Ref{Kind: KindService, Value: name} }

// Feature returns a feature-scoped reference.
func Feature(name string) Ref { return Ref{Kind: KindFeature, Value: name} }

// RateLimitTarget returns a rate-limit-key-scoped reference.
func RateLimitTarget(key string) Ref { return Ref{Kind: KindRateLimit, Value: key} }

// Validate checks structural validity of the reference itself.
func (r Ref) Validate() error {
	switch r.Kind {
	case KindGlobal:
		if r.Value != "" {
			return fmt.Errorf("global scope must not carry a value")
		}
	case KindTenant, KindService, KindFeature, KindRateLimit:
		if strings.TrimSpace(r.Value) == "" {
			return fmt.Errorf("%s scope requires a value", r.Kind)
		}
		if strings.ContainsAny(r.Value, ": \t\n") {
			return fmt.Errorf("%s scope value %q contains invalid characters", r.Kind, r.Value)
		}
	default:
		return fmt.Errorf("unknown scope kind %q", r.Kind)
	}
	return nil
}

// String renders the canonical kind:value encoding used on the wire,
// in the WAL, and in audit entries.
func (r Ref) String() string {
	if r.Kind == KindGlobal {
		return string(KindGlobal)
	}
	return string(r.Kind) + ":" + r.Value
}

// Parse decodes the canonical kind:value encoding.
func Parse(s string) (Ref, error) {
	if s == string(KindGlobal) {
		return Global, nil
	}
	kind, value, ok := strings.Cut(s, ":")
	if !ok {
		return Ref{}, fmt.Errorf("invalid scope %q: expected kind:value", s)
	}
	r := Ref{Kind: Kind(kind), Value: value}
	if err := r.Validate(); err != nil {
		return Ref{}, err
	}
	return r, nil
}

// legalKinds maps each level to the scope kinds it accepts.
// The ordering property holds throughout: broader levels take broader scopes.
var legalKinds = map[Level][]Kind{
	LevelPlatformStop: {KindGlobal},
	LevelTenantHalt:   {KindTenant},
	LevelServiceStop:  {KindService},
	LevelFeatureOff:   {KindFeature},
	LevelThrottle:     {KindGlobal, KindService, KindRateLimit},
}

// LegalForLevel reports whether the scope kind is accepted at the level.
func LegalForLevel(l Level, r Ref) bool {
	for _, k := range legalKinds[l] {
		if k == r.Kind {
			return true
		}
	}
	return false
}

// Key is the identity of a switch: one active switch per (level, scope).
type Key struct {
	Level Level
	Scope Ref
}

func (k Key) String() string {
	return fmt.Sprintf("%d/%s", int(k.Level), k.Scope)
}

// ParseKey decodes the level/scope encoding produced by Key.String.
func ParseKey(s string) (Key, error) {
	lvl, rest, ok := strings.Cut(s, "/")
	if !ok {
		return Key{}, fmt.Errorf("invalid switch key %q", s)
	}
	var l int
	if _, err := fmt.Sscanf(lvl, "%d", &l); err != nil {
		return Key{}, fmt.Errorf("invalid level in key %q", s)
	}
	ref, err := Parse(rest)
	if err != nil {
		return Key{}, err
	}
	k := Key{Level: Level(l), Scope: ref}
	if !k.Level.Valid() {
		return Key{}, fmt.Errorf("level %d out of range", l)
	}
	return k, nil
}
