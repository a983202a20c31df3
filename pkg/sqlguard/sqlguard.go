// Package sqlguard validates bot-authored SQL before it reaches the tenant
// database. It is deliberately not a full SQL parser: the checks are
// conservative lexical rules sufficient to prevent multi-statement injection
// and schema-changing verbs, while the bind rewrite guarantees values never
// get spliced into the statement text.
package sqlguard

import (
	"errors"
	"fmt"
	"hash/fnv"
	"regexp"
	"strings"
)

// Mode selects the verb whitelist applied to a statement.
type Mode string

const (
	// ModeExec permits INSERT, UPDATE and DELETE.
	ModeExec Mode = "exec"
	// ModeQuery permits SELECT and WITH.
	ModeQuery Mode = "query"
)

var (
	// ErrEmptyStatement is returned for empty or whitespace-only SQL.
	ErrEmptyStatement = errors.New("empty SQL statement")
	// ErrMultipleStatements is returned when a semicolon separates statements.
	ErrMultipleStatements = errors.New("multiple SQL statements not allowed")
	// ErrVerbNotAllowed is returned when the leading verb is outside the mode's whitelist.
	ErrVerbNotAllowed = errors.New("SQL verb not allowed")
	// ErrForbiddenKeyword is returned when the statement contains a schema-changing keyword.
	ErrForbiddenKeyword = errors.New("forbidden SQL keyword")
	// ErrBindMissing is returned when a :name placeholder has no corresponding variable.
	ErrBindMissing = errors.New("SQL bind missing")
)

var (
	execVerbs  = []string{"INSERT", "UPDATE", "DELETE"}
	queryVerbs = []string{"SELECT", "WITH"}

	forbiddenRe = regexp.MustCompile(`(?i)\b(DROP|CREATE|ALTER|TRUNCATE|GRANT|REVOKE|COPY|VACUUM)\b`)
	limitRe     = regexp.MustCompile(`(?i)\bLIMIT\b`)

	// bindRe matches :name placeholders. The leading group excludes a
	// preceding colon so Postgres ::type casts are never treated as binds.
	bindRe = regexp.MustCompile(`(^|[^:]):([A-Za-z_][A-Za-z0-9_]*)`)
)

// Statement is a validated statement ready for the pgx driver.
type Statement struct {
	// SQL holds the rewritten text with $1..$n placeholders.
	SQL string
	// Binds lists parameter names in positional order, one per $n.
	Binds []string
	// Hash is the stable identifier logged in place of the SQL text.
	Hash string
}

// Validate checks sql against the mode's whitelist and rewrites :name
// placeholders into positional form. Allowed bind names are bot_id, user_id
// and the keys of vars. In query mode a statement without LIMIT gets
// "LIMIT 100" appended.
func Validate(sql string, mode Mode, vars map[string]any) (*Statement, error) {
	trimmed := strings.TrimSpace(sql)
	if trimmed == "" {
		return nil, ErrEmptyStatement
	}

	// A single trailing semicolon is tolerated; anything after it means a
	// second statement.
	trimmed = strings.TrimSpace(strings.TrimSuffix(trimmed, ";"))
	if trimmed == "" {
		return nil, ErrEmptyStatement
	}
	if strings.Contains(trimmed, ";") {
		return nil, ErrMultipleStatements
	}

	verb := leadingVerb(trimmed)
	if !verbAllowed(verb, mode) {
		return nil, fmt.Errorf("%w: %s statements are not permitted in %s mode", ErrVerbNotAllowed, verb, mode)
	}

	if m := forbiddenRe.FindString(trimmed); m != "" {
		return nil, fmt.Errorf("%w: %s", ErrForbiddenKeyword, strings.ToUpper(m))
	}

	rewritten, binds, err := rewriteBinds(trimmed, vars)
	if err != nil {
		return nil, err
	}

	if mode == ModeQuery && !limitRe.MatchString(rewritten) {
		rewritten += " LIMIT 100"
	}

	return &Statement{
		SQL:   rewritten,
		Binds: binds,
		Hash:  Hash(sql),
	}, nil
}

// Hash returns the FNV-64a digest of the whitespace-collapsed, case-preserved
// SQL text as a fixed-width hex string. Events carry this value instead of
// the statement itself.
func Hash(sql string) string {
	normalized := strings.Join(strings.Fields(sql), " ")
	h := fnv.New64a()
	h.Write([]byte(normalized))
	return fmt.Sprintf("%016x", h.Sum64())
}

func leadingVerb(sql string) string {
	fields := strings.Fields(sql)
	if len(fields) == 0 {
		return ""
	}
	return strings.ToUpper(fields[0])
}

func verbAllowed(verb string, mode Mode) bool {
	allowed := queryVerbs
	if mode == ModeExec {
		allowed = execVerbs
	}
	for _, v := range allowed {
		if verb == v {
			return true
		}
	}
	return false
}

// rewriteBinds replaces each :name with a positional placeholder. Repeated
// names share a position so the driver receives one argument per distinct
// name, in first-appearance order.
func rewriteBinds(sql string, vars map[string]any) (string, []string, error) {
	positions := make(map[string]int)
	binds := make([]string, 0, 4)

	var b strings.Builder
	last := 0
	for _, loc := range bindRe.FindAllStringSubmatchIndex(sql, -1) {
		// loc[2]:loc[3] is the preceding character, loc[4]:loc[5] the name.
		name := sql[loc[4]:loc[5]]
		if !bindNameAllowed(name, vars) {
			return "", nil, fmt.Errorf("%w: :%s", ErrBindMissing, name)
		}
		pos, ok := positions[name]
		if !ok {
			binds = append(binds, name)
			pos = len(binds)
			positions[name] = pos
		}
		b.WriteString(sql[last:loc[3]])
		fmt.Fprintf(&b, "$%d", pos)
		last = loc[1]
	}
	b.WriteString(sql[last:])

	return b.String(), binds, nil
}

func bindNameAllowed(name string, vars map[string]any) bool {
	if name == "bot_id" || name == "user_id" {
		return true
	}
	_, ok := vars[name]
	return ok
}
