package relational

import (
	"strings"

	"github.com/datagate-io/datagate/internal/proxyerr"
)

// readVerbs are the statement-leading keywords permitted on read-only
// connectors. Anything else is refused before the query reaches the
// backend, regardless of what privileges the stored credentials carry.
var readVerbs = map[string]bool{
	"SELECT":   true,
	"SHOW":     true,
	"DESCRIBE": true,
	"DESC":     true,
	"EXPLAIN":  true,
	"WITH":     true,
}

// writeVerbs are keywords that make a statement a write even when it opens
// with an allowed verb (e.g. WITH ... INSERT INTO).
var writeVerbs = []string{
	"INSERT", "UPDATE", "DELETE", "REPLACE", "MERGE",
	"CREATE", "ALTER", "DROP", "TRUNCATE", "RENAME",
	"GRANT", "REVOKE", "SET", "CALL", "EXEC", "EXECUTE",
	"LOCK", "LOAD", "COPY", "VACUUM", "ATTACH", "DETACH", "OPTIMIZE",
}

// EnsureReadOnly rejects statements that could mutate the backend. It is a
// lexical guard: the leading verb must be a read verb, no second statement
// may follow a semicolon, and no write verb may appear as a bare word
// anywhere in the statement. String literals are skipped so data values
// containing keywords do not trip it.
func EnsureReadOnly(query string) error {
	stripped := stripLiterals(query)

	if i := strings.IndexByte(stripped, ';'); i >= 0 {
		if strings.TrimSpace(stripped[i+1:]) != "" {
			return readOnlyViolation("multiple statements are not allowed")
		}
		stripped = stripped[:i]
	}

	fields := strings.Fields(stripped)
	if len(fields) == 0 {
		return readOnlyViolation("empty query")
	}
	if !readVerbs[strings.ToUpper(fields[0])] {
		return readOnlyViolation("statement must start with a read verb")
	}
	for _, f := range fields[1:] {
		word := strings.ToUpper(strings.Trim(f, "(),"))
		for _, verb := range writeVerbs {
			if word == verb {
				return readOnlyViolation("write keyword %q is not allowed", verb)
			}
		}
	}
	return nil
}

func readOnlyViolation(format string, args ...interface{}) *proxyerr.Error {
	return proxyerr.New(proxyerr.CodePermissionDenied, "read-only connector: "+format, args...)
}

// stripLiterals blanks out quoted literals and identifiers so the keyword
// scan never matches inside data values or quoted names. A doubled quote
// inside a literal is treated as an escape, not a terminator.
func stripLiterals(query string) string {
	var b strings.Builder
	b.Grow(len(query))

	var quote byte
	for i := 0; i < len(query); i++ {
		c := query[i]
		if quote != 0 {
			if c == quote {
				if i+1 < len(query) && query[i+1] == quote {
					i++ // doubled quote inside literal
					continue
				}
				quote = 0
				b.WriteByte(' ')
			}
			continue
		}
		if c == '\'' || c == '"' || c == '`' {
			quote = c
			b.WriteByte(' ')
			continue
		}
		b.WriteByte(c)
	}
	return b.String()
}
