// Package reference implements the parameter reference language used by
// workflow nodes: tokens of the form ${kind:body} that point at trigger
// payloads, upstream node outputs, workspace variables, credentials,
// database connections, and stored files.
package reference

import (
	"fmt"
	"regexp"
	"strings"
)

// Kind identifies what a reference points at.
type Kind string

const (
	KindStatic     Kind = "static"
	KindTrigger    Kind = "trigger"
	KindNode       Kind = "node"
	KindValue      Kind = "value"
	KindCredential Kind = "credential"
	KindDatabase   Kind = "database"
	KindFile       Kind = "file"
)

var knownKinds = map[Kind]bool{
	KindStatic:     true,
	KindTrigger:    true,
	KindNode:       true,
	KindValue:      true,
	KindCredential: true,
	KindDatabase:   true,
	KindFile:       true,
}

// Reference is a parsed ${kind:body} token.
//
// ID is set for node, value, credential, database, and file references.
// Path is the dotted path for path-bearing kinds; for static references it
// carries the literal verbatim.
type Reference struct {
	Kind Kind
	ID   string
	Path string
}

var tokenRe = regexp.MustCompile(`^\$\{([a-z]+):(.*)\}$`)

// IsCandidate reports whether s has the textual shape of a reference token.
// A candidate may still fail Parse (unknown kind, empty body).
func IsCandidate(s string) bool {
	return tokenRe.MatchString(s)
}

// Parse parses a whole-string reference token. The boolean is false when s
// is not shaped like a token at all; a malformed token (unknown kind,
// missing id) returns an error.
func Parse(s string) (*Reference, bool, error) {
	m := tokenRe.FindStringSubmatch(s)
	if m == nil {
		return nil, false, nil
	}
	kind, body := Kind(m[1]), m[2]
	if !knownKinds[kind] {
		return nil, true, fmt.Errorf("unknown reference kind %q", m[1])
	}

	ref := &Reference{Kind: kind}
	switch kind {
	case KindStatic:
		// Literal carried verbatim, colons and dots included.
		ref.Path = body
	case KindTrigger:
		ref.Path = body
	case KindValue:
		if body == "" {
			return nil, true, fmt.Errorf("value reference requires a variable id")
		}
		ref.ID = body
	default:
		// node, credential, database, file: <id>[.<path>]
		id, path := splitIDPath(body)
		if id == "" {
			return nil, true, fmt.Errorf("%s reference requires an id", kind)
		}
		ref.ID = id
		ref.Path = path
	}
	return ref, true, nil
}

// splitIDPath splits "<id>.<path>" on the first dot. Ids never contain dots.
func splitIDPath(body string) (string, string) {
	if i := strings.IndexByte(body, '.'); i >= 0 {
		return body[:i], body[i+1:]
	}
	return body, ""
}

// String renders the reference back to its ${kind:body} form. Parsing the
// result yields an equal Reference.
func (r *Reference) String() string {
	var body string
	switch r.Kind {
	case KindStatic, KindTrigger:
		body = r.Path
	case KindValue:
		body = r.ID
	default:
		body = r.ID
		if r.Path != "" {
			body += "." + r.Path
		}
	}
	return fmt.Sprintf("${%s:%s}", r.Kind, body)
}
