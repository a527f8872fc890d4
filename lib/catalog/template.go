// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package catalog

import (
	"fmt"
	"regexp"
	"sort"
	"strings"
)

var placeholderPattern = regexp.MustCompile(`\$\{([^}]+)\}`)

// RenderTemplate substitutes ${name} placeholders in text from vars.
// Substitution is strict: a placeholder with no corresponding variable
// is an error naming every missing key, so a template drift is caught
// at prompt-build time instead of producing a prompt with literal
// "${...}" holes.
func RenderTemplate(text string, vars map[string]string) (string, error) {
	missing := map[string]bool{}

	rendered := placeholderPattern.ReplaceAllStringFunc(text, func(match string) string {
		key := match[2 : len(match)-1]
		value, ok := vars[key]
		if !ok {
			missing[key] = true
			return match
		}
		return value
	})

	if len(missing) > 0 {
		keys := make([]string, 0, len(missing))
		for key := range missing {
			keys = append(keys, key)
		}
		sort.Strings(keys)
		return "", fmt.Errorf("missing template variables: %s", strings.Join(keys, ", "))
	}
	return rendered, nil
}
