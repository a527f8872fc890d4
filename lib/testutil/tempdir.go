// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package testutil

import (
	"os"
	"path/filepath"
	"testing"
)

// WriteTree writes each entry of files under root, where keys are
// slash-separated relative paths and values are file contents. Parent
// directories are created as needed. Fails the test on any I/O error.
//
//	testutil.WriteTree(t, dir, map[string]string{
//	    "README.md":   "hello\n",
//	    "src/main.go": "package main\n",
//	})
func WriteTree(t *testing.T, root string, files map[string]string) {
	t.Helper()
	for relative, content := range files {
		path := filepath.Join(root, filepath.FromSlash(relative))
		if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
			t.Fatalf("creating directory for %s: %v", relative, err)
		}
		if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
			t.Fatalf("writing %s: %v", relative, err)
		}
	}
}
