// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package artifact

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
)

// Dir is one run's artifact directory. All writes go through it so
// the directory only ever contains the contract's file names.
type Dir struct {
	path string
}

// NewDir creates the run directory (and parents) if needed.
func NewDir(path string) (Dir, error) {
	if err := os.MkdirAll(path, 0o755); err != nil {
		return Dir{}, fmt.Errorf("create run directory: %w", err)
	}
	return Dir{path: path}, nil
}

// Root returns the run directory path.
func (d Dir) Root() string {
	return d.path
}

// Path returns the absolute path of a named artifact.
func (d Dir) Path(name string) string {
	return filepath.Join(d.path, name)
}

// WriteJSON writes a JSON artifact, indented, with a trailing
// newline.
func (d Dir) WriteJSON(name string, value any) error {
	encoded, err := json.MarshalIndent(value, "", "  ")
	if err != nil {
		return fmt.Errorf("encode %s: %w", name, err)
	}
	return d.WriteText(name, string(encoded)+"\n")
}

// WriteText writes a text artifact.
func (d Dir) WriteText(name string, text string) error {
	if err := os.WriteFile(d.Path(name), []byte(text), 0o644); err != nil {
		return fmt.Errorf("write %s: %w", name, err)
	}
	return nil
}

// Create opens a named artifact for streaming writes, truncating any
// previous content.
func (d Dir) Create(name string) (*os.File, error) {
	file, err := os.Create(d.Path(name))
	if err != nil {
		return nil, fmt.Errorf("create %s: %w", name, err)
	}
	return file, nil
}

// Exists reports whether a named artifact is present.
func (d Dir) Exists(name string) bool {
	_, err := os.Stat(d.Path(name))
	return err == nil
}

// ReadBytes returns a named artifact's content.
func (d Dir) ReadBytes(name string) ([]byte, error) {
	return os.ReadFile(d.Path(name))
}

// ReadJSON decodes a JSON artifact into value.
func (d Dir) ReadJSON(name string, value any) error {
	raw, err := os.ReadFile(d.Path(name))
	if err != nil {
		return err
	}
	if err := json.Unmarshal(raw, value); err != nil {
		return fmt.Errorf("decode %s: %w", name, err)
	}
	return nil
}
