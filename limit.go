package dbi

import (
	"regexp"
	"strings"
)

// trailingModifiers matches the clauses that must stay after LIMIT.
const trailingModifiers = `(?:\s+PROCEDURE\s+\w+\s*\(.*?\))?` +
	`(?:\s+FOR\s+UPDATE)?` +
	`(?:\s+LOCK\s+IN\s+SHARE\s+MODE)?`

var (
	// hasLimitRe finds a LIMIT clause that is only followed by trailing
	// modifiers and whitespace, i.e. one that applies to the whole statement.
	hasLimitRe = regexp.MustCompile(`(?is)\sLIMIT\s+\d+(?:\s*(?:,|OFFSET)\s*\d+)?` + trailingModifiers + `\s*$`)

	// splitTailRe splits a statement into its body and trailing modifiers.
	splitTailRe = regexp.MustCompile(`(?is)^(.*?)(` + trailingModifiers + `)\s*$`)
)

// HasLimit reports whether query ends in a LIMIT clause, optionally followed
// by PROCEDURE, FOR UPDATE or LOCK IN SHARE MODE. A LIMIT inside a
// parenthesised subquery is followed by the closing parenthesis and so does
// not count.
func HasLimit(query string) bool {
	return hasLimitRe.MatchString(query)
}

// InjectLimit returns query restricted to one row. Queries that already limit
// their result with a literal count are returned unchanged (LIMIT ? is not
// recognised); otherwise LIMIT 1 is inserted after the statement body and
// before any trailing locking or procedure clause.
//
//	InjectLimit("SELECT * FROM t FOR UPDATE") // "SELECT * FROM t LIMIT 1 FOR UPDATE"
func InjectLimit(query string) string {
	if HasLimit(query) {
		return query
	}
	m := splitTailRe.FindStringSubmatch(query)
	return strings.TrimRightFunc(m[1], isSpace) + " LIMIT 1" + m[2]
}

func isSpace(r rune) bool {
	return r == ' ' || r == '\t' || r == '\n' || r == '\r' || r == '\f' || r == '\v'
}
