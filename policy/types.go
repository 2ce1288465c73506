package policy

// Conclusion is the outcome of evaluating moderation statements against one
// candidate record.
type Conclusion int

const (
	UNSET Conclusion = iota
	ALLOW
	DENY
)

func ParseConclusion(s string) Conclusion {
	switch s {
	case "allow":
		return ALLOW
	case "deny":
		return DENY
	default:
		return UNSET
	}
}

// Or merges two conclusions. Contradicting conclusions cancel out; deny
// otherwise dominates.
func (c Conclusion) Or(other Conclusion) Conclusion {
	if c == UNSET {
		return other
	}
	if other == UNSET {
		return c
	}
	if (c == DENY && other == ALLOW) || (c == ALLOW && other == DENY) {
		return UNSET
	}
	if c == DENY || other == DENY {
		return DENY
	}
	return ALLOW
}

// RecordContext is the data a moderation expression can Load from. Fields
// mirror the wire shape of a candidate record.
type RecordContext struct {
	Author     string         `json:"author"`
	Identifier string         `json:"identifier"`
	Title      string         `json:"title"`
	Topics     []string       `json:"topics"`
	Version    int            `json:"version"`
	Status     string         `json:"status"`
	ContentLen int            `json:"content_len"`
	Params     map[string]any `json:"params"`
}

// Document is a named, versioned moderation ruleset loaded from disk.
type Document struct {
	Name        string             `json:"name"`
	Description string             `json:"description"`
	Versions    map[string]Ruleset `json:"versions"`
}

// Ruleset maps actions to their statements, with per-action defaults for
// when no statement concludes anything.
type Ruleset struct {
	Statements map[string][]Stmt `json:"statements"`
	Defaults   map[string]bool   `json:"defaults"`
}

type Stmt struct {
	Emit      string `json:"emit"`
	Condition Expr   `json:"condition"`
}

// Expr is one node of a condition tree: either a constant or an operator
// applied to sub-expressions.
type Expr struct {
	Operator string `json:"op"`
	Args     []Expr `json:"args"`
	Const    any    `json:"const,omitempty"`
}

// EvalResult carries the value of one evaluated node, preserving the tree
// shape so a denied record can be explained.
type EvalResult struct {
	Operator string       `json:"op"`
	Args     []EvalResult `json:"args"`
	Result   any          `json:"result"`
	Error    string       `json:"error"`
}
