package tiercache

import (
	"strings"
	"time"

	"github.com/unkn0wn-root/tiercache/transform"
)

// keySep joins namespace and caller key. Namespaces must not contain it, so
// two distinct (namespace, key) pairs can never produce the same storage key.
const keySep = ":"

// Namespace declares per-namespace policy. Settings left zero inherit the
// engine-wide defaults from Options.
type Namespace struct {
	// Name partitions the key space. Required, unique, must not contain ":".
	Name string

	// DefaultTTL applies when a call passes ttl == 0. 0 => Options.DefaultTTL.
	DefaultTTL time.Duration

	// CompressThreshold enables compression for values of at least this many
	// bytes. 0 disables compression for the namespace.
	CompressThreshold int

	// EncryptionKey enables encryption at rest for the namespace. Must be 32
	// bytes; validated at startup.
	EncryptionKey []byte

	// ServeStaleOnOutage permits serving an expired local value when the
	// shared tier is unreachable. Off by default: a silent stale read is the
	// riskier failure mode, so staleness is an explicit opt-in.
	ServeStaleOnOutage bool

	// DisableStampedeGuard opts the namespace out of lock-serialized
	// computation even when the engine has a Locker.
	DisableStampedeGuard bool
}

// policy is a resolved namespace: defaults applied, transforms built.
type policy struct {
	name       string
	prefix     string // name + keySep
	ttl        time.Duration
	pipeline   *transform.Pipeline
	serveStale bool
	guard      bool
}

func (p *policy) storageKey(key string) string { return p.prefix + key }

// router resolves namespaces to policies. Built once by New; read-only after.
type router struct {
	byName map[string]*policy
	def    *policy
}

func newRouter(namespaces []Namespace, defaultTTL time.Duration) (*router, error) {
	// passthrough pipeline for namespaces nobody declared
	defPipe, err := transform.New(transform.Config{})
	if err != nil {
		return nil, err
	}
	r := &router{
		byName: make(map[string]*policy, len(namespaces)),
		def: &policy{
			ttl:      defaultTTL,
			pipeline: defPipe,
			guard:    true,
		},
	}

	for _, ns := range namespaces {
		if ns.Name == "" {
			return nil, &ConfigError{Reason: "namespace name is required"}
		}
		if strings.Contains(ns.Name, keySep) {
			return nil, &ConfigError{Reason: "namespace " + ns.Name + " contains the key separator " + keySep}
		}
		if _, dup := r.byName[ns.Name]; dup {
			return nil, &ConfigError{Reason: "duplicate namespace " + ns.Name}
		}
		pipe, err := transform.New(transform.Config{
			CompressThreshold: ns.CompressThreshold,
			EncryptionKey:     ns.EncryptionKey,
		})
		if err != nil {
			return nil, &ConfigError{Reason: "namespace " + ns.Name, Cause: err}
		}
		r.byName[ns.Name] = &policy{
			name:       ns.Name,
			prefix:     ns.Name + keySep,
			ttl:        coalesce(ns.DefaultTTL, defaultTTL),
			pipeline:   pipe,
			serveStale: ns.ServeStaleOnOutage,
			guard:      !ns.DisableStampedeGuard,
		}
	}
	return r, nil
}

// policy returns the declared policy for name, or an engine-default policy
// for undeclared namespaces (isolation still holds; only the tuning is
// generic). Undeclared names are held to the same separator rule as declared
// ones; otherwise ("a:b", "c") and ("a", "b:c") would share a storage key.
func (r *router) policy(name string) (*policy, error) {
	if p, ok := r.byName[name]; ok {
		return p, nil
	}
	if strings.Contains(name, keySep) {
		return nil, &ConfigError{Reason: "namespace " + name + " contains the key separator " + keySep}
	}
	// default policy with the caller's prefix
	return &policy{
		name:       name,
		prefix:     name + keySep,
		ttl:        r.def.ttl,
		pipeline:   r.def.pipeline,
		guard:      r.def.guard,
		serveStale: r.def.serveStale,
	}, nil
}
