package cql

import (
	"strings"
)

// Split breaks a script into statements terminated by semicolons. Comments
// are dropped; string literals, quoted identifiers and $$ blocks are kept
// intact. A trailing statement without a semicolon is returned as well.
func Split(script string) []string { //nolint:cyclop
	var (
		statements []string
		current    strings.Builder
	)

	flush := func() {
		stmt := strings.TrimSpace(current.String())
		if stmt != "" {
			statements = append(statements, stmt)
		}
		current.Reset()
	}

	runes := []rune(script)
	for i := 0; i < len(runes); i++ {
		c := runes[i]
		next := rune(0)
		if i+1 < len(runes) {
			next = runes[i+1]
		}

		switch {
		case c == '-' && next == '-', c == '/' && next == '/':
			i = skipLine(runes, i)
			current.WriteRune('\n')

		case c == '/' && next == '*':
			i = skipBlock(runes, i)
			current.WriteRune(' ')

		case c == '\'' || c == '"':
			end := skipQuoted(runes, i, c)
			current.WriteString(string(runes[i:end]))
			i = end - 1

		case c == '$' && next == '$':
			end := skipDollar(runes, i)
			current.WriteString(string(runes[i:end]))
			i = end - 1

		case c == ';':
			flush()

		default:
			current.WriteRune(c)
		}
	}
	flush()

	return statements
}

// skipLine returns the index of the line terminator ending the comment at i.
func skipLine(runes []rune, i int) int {
	for i < len(runes) && runes[i] != '\n' {
		i++
	}
	return i
}

// skipBlock returns the index of the '/' closing the comment at i.
func skipBlock(runes []rune, i int) int {
	for i += 2; i < len(runes); i++ {
		if runes[i] == '*' && i+1 < len(runes) && runes[i+1] == '/' {
			return i + 1
		}
	}
	return len(runes)
}

// skipQuoted returns the index just past the quote closing the literal at i.
// A doubled quote is an escaped quote.
func skipQuoted(runes []rune, i int, quote rune) int {
	for i++; i < len(runes); i++ {
		if runes[i] != quote {
			continue
		}
		if i+1 < len(runes) && runes[i+1] == quote {
			i++
			continue
		}
		return i + 1
	}
	return len(runes)
}

// skipDollar returns the index just past the $$ closing the block at i.
func skipDollar(runes []rune, i int) int {
	for i += 2; i+1 < len(runes); i++ {
		if runes[i] == '$' && runes[i+1] == '$' {
			return i + 2
		}
	}
	return len(runes)
}
