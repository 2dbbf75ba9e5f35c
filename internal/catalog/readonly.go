package catalog

import (
	"fmt"
	"strings"
	"unicode"
)

var readOnlyLeaders = map[string]bool{
	"SELECT": true,
	"WITH":   true,
	"VALUES": true,
	"TABLE":  true,
	"SHOW":   true,
}

// Words that make an otherwise read-only statement write or escape
var forbiddenWords = map[string]bool{
	"INSERT":   true,
	"UPDATE":   true,
	"DELETE":   true,
	"MERGE":    true,
	"UPSERT":   true,
	"REPLACE":  true,
	"CREATE":   true,
	"DROP":     true,
	"ALTER":    true,
	"TRUNCATE": true,
	"GRANT":    true,
	"REVOKE":   true,
	"INTO":     true,
	"COPY":     true,
	"ATTACH":   true,
	"DETACH":   true,
	"PRAGMA":   true,
	"VACUUM":   true,
	"REINDEX":  true,
	"LOCK":     true,
	"CALL":     true,
	"DO":       true,
}

// CheckReadOnly accepts a single SELECT-like statement. Literals, quoted
// identifiers and comments are skipped when looking for keywords.
func CheckReadOnly(sql string) error {
	words, statements := scanSQL(sql)
	if len(words) == 0 {
		return fmt.Errorf("%w: sql is empty", ErrInvalidParams)
	}
	if statements > 1 {
		return fmt.Errorf("%w: multiple statements", ErrNotReadOnly)
	}
	if !readOnlyLeaders[words[0]] {
		return fmt.Errorf("%w: %s", ErrNotReadOnly, words[0])
	}
	for _, w := range words[1:] {
		if forbiddenWords[w] {
			return fmt.Errorf("%w: %s", ErrNotReadOnly, w)
		}
	}
	return nil
}

// scanSQL returns the upper-cased bare words of sql and the number of
// non-empty statements separated by semicolons.
func scanSQL(sql string) (words []string, statements int) {
	src := []rune(sql)
	inStatement := false
	for i := 0; i < len(src); {
		c := src[i]
		switch {
		case c == '-' && i+1 < len(src) && src[i+1] == '-':
			for i < len(src) && src[i] != '\n' {
				i++
			}
		case c == '/' && i+1 < len(src) && src[i+1] == '*':
			i += 2
			for i < len(src) && !(src[i] == '*' && i+1 < len(src) && src[i+1] == '/') {
				i++
			}
			i += 2
		case c == '\'' || c == '"' || c == '`':
			inStatement = true
			i = skipQuoted(src, i, c)
		case c == '$' && dollarTag(src, i) != "":
			inStatement = true
			tag := []rune(dollarTag(src, i))
			i = skipDollarQuoted(src, i+len(tag), tag)
		case c == ';':
			if inStatement {
				statements++
				inStatement = false
			}
			i++
		case unicode.IsLetter(c) || c == '_':
			start := i
			for i < len(src) && (unicode.IsLetter(src[i]) || unicode.IsDigit(src[i]) || src[i] == '_' || src[i] == '$') {
				i++
			}
			words = append(words, strings.ToUpper(string(src[start:i])))
			inStatement = true
		case unicode.IsSpace(c):
			i++
		default:
			inStatement = true
			i++
		}
	}
	if inStatement {
		statements++
	}
	return words, statements
}

// skipQuoted returns the index just past the literal starting at i.
// Doubled quotes escape themselves.
func skipQuoted(src []rune, i int, quote rune) int {
	i++
	for i < len(src) {
		if src[i] == quote {
			if i+1 < len(src) && src[i+1] == quote {
				i += 2
				continue
			}
			return i + 1
		}
		i++
	}
	return i
}

// dollarTag returns the Postgres dollar-quote tag starting at i, if any
func dollarTag(src []rune, i int) string {
	j := i + 1
	for j < len(src) && (unicode.IsLetter(src[j]) || src[j] == '_' || (j > i+1 && unicode.IsDigit(src[j]))) {
		j++
	}
	if j < len(src) && src[j] == '$' {
		return string(src[i : j+1])
	}
	return ""
}

// skipDollarQuoted returns the index just past the closing tag
func skipDollarQuoted(src []rune, i int, tag []rune) int {
	for ; i+len(tag) <= len(src); i++ {
		if string(src[i:i+len(tag)]) == string(tag) {
			return i + len(tag)
		}
	}
	return len(src)
}
