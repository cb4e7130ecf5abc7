package roleguard

import (
	"fmt"
	"path"
	"regexp"
	"strings"
)

// Scope is the broad ownership class of a path.
type Scope int

const (
	// Public paths are served to anyone.
	Public Scope = iota
	// Common paths need any signed-in role.
	Common
	// RoleOwned paths need the owning role (see Role.Satisfies).
	RoleOwned
)

func (s Scope) String() string {
	switch s {
	case Public:
		return "public"
	case Common:
		return "common"
	case RoleOwned:
		return "role"
	default:
		return fmt.Sprintf("scope(%d)", int(s))
	}
}

// Ownership is the classification of one path.
type Ownership struct {
	Scope Scope
	Role  Role // set only for RoleOwned
}

func (o Ownership) String() string {
	if o.Scope == RoleOwned {
		return "role:" + string(o.Role)
	}
	return o.Scope.String()
}

// TableConfig describes a route classification table. Exact entries are
// checked before patterns. Patterns are tried per role in the order of
// Roles, then CommonPatterns; the first match wins.
type TableConfig struct {
	AuthRoutes     []string
	CommonExact    []string
	CommonPatterns []string
	RoleExact      map[Role][]string
	RolePatterns   map[Role][]string

	// ExcludedPrefixes and ExcludedExact are never gated. Public paths whose
	// last segment has a file extension are excluded too.
	ExcludedPrefixes []string
	ExcludedExact    []string
}

// DefaultTableConfig is the marketplace's route layout.
func DefaultTableConfig() TableConfig {
	return TableConfig{
		AuthRoutes:     []string{"/login", "/register", "/forgot-password", "/reset-password"},
		CommonExact:    []string{"/my-profile", "/change-password", "/settings"},
		CommonPatterns: []string{`^/dashboard(/.*)?$`},
		RolePatterns: map[Role][]string{
			Admin:   {`^/dashboard/admin(/.*)?$`},
			Guide:   {`^/dashboard/guide(/.*)?$`},
			Tourist: {`^/dashboard/tourist(/.*)?$`},
		},
		ExcludedPrefixes: []string{"/api/", "/_next/", "/static/"},
		ExcludedExact:    []string{"/favicon.ico", "/robots.txt", "/sitemap.xml", "/livez", "/readyz"},
	}
}

type rule struct {
	pattern *regexp.Regexp
	owner   Ownership
}

// Table is an immutable route classification table. Safe for concurrent use.
type Table struct {
	auth     map[string]struct{}
	exact    map[string]Ownership
	rules    []rule
	prefixes []string
	excluded map[string]struct{}
}

// NewTable compiles cfg.
func NewTable(cfg TableConfig) (*Table, error) {
	t := &Table{
		auth:     make(map[string]struct{}, len(cfg.AuthRoutes)),
		exact:    make(map[string]Ownership),
		prefixes: append([]string(nil), cfg.ExcludedPrefixes...),
		excluded: make(map[string]struct{}, len(cfg.ExcludedExact)),
	}

	for _, p := range cfg.AuthRoutes {
		t.auth[normalize(p)] = struct{}{}
	}
	for _, p := range cfg.ExcludedExact {
		t.excluded[normalize(p)] = struct{}{}
	}
	for _, p := range cfg.CommonExact {
		t.exact[normalize(p)] = Ownership{Scope: Common}
	}

	for _, role := range Roles {
		for _, p := range cfg.RoleExact[role] {
			t.exact[normalize(p)] = Ownership{Scope: RoleOwned, Role: role}
		}
		for _, expr := range cfg.RolePatterns[role] {
			re, err := regexp.Compile(expr)
			if err != nil {
				return nil, fmt.Errorf("roleguard: %s pattern %q: %w", role, expr, err)
			}
			t.rules = append(t.rules, rule{pattern: re, owner: Ownership{Scope: RoleOwned, Role: role}})
		}
	}
	for role := range cfg.RoleExact {
		if !role.Valid() {
			return nil, fmt.Errorf("roleguard: unknown role %q", role)
		}
	}
	for role := range cfg.RolePatterns {
		if !role.Valid() {
			return nil, fmt.Errorf("roleguard: unknown role %q", role)
		}
	}

	for _, expr := range cfg.CommonPatterns {
		re, err := regexp.Compile(expr)
		if err != nil {
			return nil, fmt.Errorf("roleguard: common pattern %q: %w", expr, err)
		}
		t.rules = append(t.rules, rule{pattern: re, owner: Ownership{Scope: Common}})
	}

	return t, nil
}

// DefaultTable returns the compiled DefaultTableConfig.
func DefaultTable() *Table {
	t, err := NewTable(DefaultTableConfig())
	if err != nil {
		panic(err)
	}
	return t
}

// Classify returns the ownership of p. It depends on nothing but p.
func (t *Table) Classify(p string) Ownership {
	p = normalize(p)

	if o, ok := t.exact[p]; ok {
		return o
	}
	for _, r := range t.rules {
		if r.pattern.MatchString(p) {
			return r.owner
		}
	}
	return Ownership{Scope: Public}
}

// IsAuthRoute reports whether p is a sign-in style page that a signed-in
// user has no business seeing.
func (t *Table) IsAuthRoute(p string) bool {
	_, ok := t.auth[normalize(p)]
	return ok
}

// Excluded reports whether p bypasses the gate entirely.
func (t *Table) Excluded(p string) bool {
	if _, ok := t.excluded[normalize(p)]; ok {
		return true
	}
	for _, prefix := range t.prefixes {
		if strings.HasPrefix(p, prefix) {
			return true
		}
	}
	return path.Ext(p) != "" && t.Classify(p).Scope == Public
}

// normalize drops a trailing slash so "/login/" and "/login" classify alike.
func normalize(p string) string {
	if p == "" {
		return "/"
	}
	if len(p) > 1 {
		p = strings.TrimRight(p, "/")
		if p == "" {
			return "/"
		}
	}
	return p
}
