// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package normalize

import "strings"

const maxOutputExcerptChars = 2000

// splitCommand tokenizes a shell command line with POSIX-ish quote
// handling. An unterminated quote falls back to whitespace splitting.
func splitCommand(command string) []string {
	var tokens []string
	var current strings.Builder
	inToken := false
	var quote rune

	flush := func() {
		if inToken {
			tokens = append(tokens, current.String())
			current.Reset()
			inToken = false
		}
	}

	runes := []rune(command)
	for i := 0; i < len(runes); i++ {
		char := runes[i]
		switch {
		case quote != 0:
			if char == quote {
				quote = 0
			} else {
				current.WriteRune(char)
			}
		case char == '\'' || char == '"':
			quote = char
			inToken = true
		case char == '\\' && i+1 < len(runes):
			i++
			current.WriteRune(runes[i])
			inToken = true
		case char == ' ' || char == '\t' || char == '\n':
			flush()
		default:
			current.WriteRune(char)
			inToken = true
		}
	}
	if quote != 0 {
		return strings.Fields(command)
	}
	flush()
	return tokens
}

// unwrapShellCommand peels a "sh -c"/"bash -lc" wrapper so the inner
// command is what gets recorded and inspected.
func unwrapShellCommand(argv []string) []string {
	if len(argv) < 3 {
		return argv
	}
	base := argv[0]
	if slash := strings.LastIndex(base, "/"); slash >= 0 {
		base = base[slash+1:]
	}
	flag := strings.ToLower(argv[1])
	if (base == "bash" || base == "sh") && (flag == "-lc" || flag == "-c") {
		if inner := splitCommand(argv[2]); len(inner) > 0 {
			return inner
		}
	}
	return argv
}

// formatCommand renders an argv for display, quoting arguments that
// contain whitespace or quotes.
func formatCommand(argv []string) string {
	quoted := make([]string, len(argv))
	for i, arg := range argv {
		if arg == "" || strings.ContainsAny(arg, " \t\n'\"") {
			quoted[i] = "'" + strings.ReplaceAll(arg, "'", `'\''`) + "'"
		} else {
			quoted[i] = arg
		}
	}
	return strings.Join(quoted, " ")
}

// excerptText bounds captured output to maxOutputExcerptChars, keeping
// the head and tail around a truncation marker.
func excerptText(text string) (string, bool) {
	if len(text) <= maxOutputExcerptChars {
		return text, false
	}
	marker := "\n...[truncated_output]...\n"
	available := maxOutputExcerptChars - len(marker)
	head := available / 2
	tail := available - head
	return text[:head] + marker + text[len(text)-tail:], true
}

// joinStreams labels and concatenates captured stdout and stderr for
// failure excerpts.
func joinStreams(stdout, stderr string) string {
	var parts []string
	if strings.TrimSpace(stdout) != "" {
		parts = append(parts, "[stdout]\n"+strings.TrimRight(stdout, "\n"))
	}
	if strings.TrimSpace(stderr) != "" {
		parts = append(parts, "[stderr]\n"+strings.TrimRight(stderr, "\n"))
	}
	return strings.TrimSpace(strings.Join(parts, "\n"))
}
