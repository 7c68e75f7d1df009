package property

// Decision is the outcome of a mediated property access.
type Decision int

const (
	// Allow permits the access.
	Allow Decision = iota
	// DenyClass rejects the access because of the path's classification
	// (write to read-only, read from write-only).
	DenyClass
	// DenyStage rejects the access because the current hook stage is not
	// in the rule's legal stage set.
	DenyStage
	// DenyUnknown rejects the access because the path is not in the table.
	// The table is closed-world; unknown paths fail closed.
	DenyUnknown
)

func (d Decision) Allowed() bool { return d == Allow }

func (d Decision) String() string {
	switch d {
	case Allow:
		return "allow"
	case DenyClass:
		return "deny (classification)"
	case DenyStage:
		return "deny (stage)"
	case DenyUnknown:
		return "deny (unknown path)"
	}
	return "deny"
}

// AccessKind distinguishes read and write violations.
type AccessKind string

const (
	AccessRead  AccessKind = "read"
	AccessWrite AccessKind = "write"
)

// Violation records one denied property access. Violations attach to the
// enclosing hook result; they are diagnostics, never errors.
type Violation struct {
	Path           string
	Stage          string
	Kind           AccessKind
	Decision       Decision
	AttemptedValue string // attempted value for writes, empty for reads
}

// Policy answers whether a property access is legal in a given hook stage.
//
// The zero value is unusable; construct with NewPolicy. A non-enforcing
// policy allows every access and is meant for exploratory debugging where
// production parity is not wanted.
type Policy struct {
	rules   map[string]Rule
	enforce bool
}

// NewPolicy builds a policy over the given rule table.
func NewPolicy(rules map[string]Rule, enforce bool) *Policy {
	return &Policy{rules: rules, enforce: enforce}
}

// Default returns a policy over the production rule table.
func Default(enforce bool) *Policy {
	return NewPolicy(defaultRules, enforce)
}

// Enforcing reports whether the policy denies anything at all.
func (p *Policy) Enforcing() bool { return p.enforce }

// Rule returns the rule for path, if the path is known.
func (p *Policy) Rule(path string) (Rule, bool) {
	r, ok := p.rules[path]
	return r, ok
}

// CheckRead decides whether the guest may read path during stage.
func (p *Policy) CheckRead(path, stage string) Decision {
	if !p.enforce {
		return Allow
	}
	rule, ok := p.rules[path]
	if !ok {
		return DenyUnknown
	}
	if rule.Class == WriteOnly {
		return DenyClass
	}
	if !stageLegal(rule.ReadStages, stage) {
		return DenyStage
	}
	return Allow
}

// CheckWrite decides whether the guest may write path during stage.
func (p *Policy) CheckWrite(path, stage string) Decision {
	if !p.enforce {
		return Allow
	}
	rule, ok := p.rules[path]
	if !ok {
		return DenyUnknown
	}
	if rule.Class == ReadOnly {
		return DenyClass
	}
	if !stageLegal(rule.WriteStages, stage) {
		return DenyStage
	}
	return Allow
}

func stageLegal(stages []string, stage string) bool {
	for _, s := range stages {
		if s == stage {
			return true
		}
	}
	return false
}
