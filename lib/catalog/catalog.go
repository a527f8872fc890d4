// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

// Package catalog loads personas, missions, prompt templates, and
// report schemas from a catalog directory.
//
// Personas and missions are markdown documents with YAML frontmatter.
// Both support single-inheritance through an "extends" field: bodies
// concatenate parent-then-child, scalar fields fall back to the parent
// when the child leaves them empty, and capability requirements OR
// together. Extends cycles are an error.
//
// Layout under the catalog root:
//
//	personas/*.persona.md
//	missions/*.mission.md
//	templates/*.tmpl.md
//	schemas/*.schema.json
//
// The catalog is loaded once at process start and read-only
// afterwards, so parallel batch workers share it without locking.
package catalog

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"gopkg.in/yaml.v3"
)

// Persona is a resolved persona document.
type Persona struct {
	ID      string
	Name    string
	Extends string
	Body    string
}

// Mission is a resolved mission document. RequiresShell and
// RequiresEdits feed policy resolution; PromptTemplate and
// ReportSchema name entries in the catalog's templates and schemas.
type Mission struct {
	ID             string
	Name           string
	Extends        string
	Tags           []string
	PromptTemplate string
	ReportSchema   string
	Body           string
	RequiresShell  bool
	RequiresEdits  bool
}

// Catalog is the loaded, immutable catalog.
type Catalog struct {
	Personas  map[string]*Persona
	Missions  map[string]*Mission
	Templates map[string]string
	Schemas   map[string]json.RawMessage
}

// NotFoundError reports a lookup of an id the catalog does not have.
type NotFoundError struct {
	Kind string
	ID   string
}

func (e *NotFoundError) Error() string {
	return fmt.Sprintf("%s %q not found in catalog", e.Kind, e.ID)
}

// frontmatter is the raw YAML header shared by persona and mission
// documents.
type frontmatter struct {
	ID             string   `yaml:"id"`
	Name           string   `yaml:"name"`
	Extends        string   `yaml:"extends"`
	Tags           []string `yaml:"tags"`
	PromptTemplate string   `yaml:"prompt_template"`
	ReportSchema   string   `yaml:"report_schema"`
	RequiresShell  bool     `yaml:"requires_shell"`
	RequiresEdits  bool     `yaml:"requires_edits"`
}

// Load reads and resolves the catalog under root.
func Load(root string) (*Catalog, error) {
	catalog := &Catalog{
		Personas:  map[string]*Persona{},
		Missions:  map[string]*Mission{},
		Templates: map[string]string{},
		Schemas:   map[string]json.RawMessage{},
	}

	if err := catalog.loadPersonas(filepath.Join(root, "personas")); err != nil {
		return nil, err
	}
	if err := catalog.loadMissions(filepath.Join(root, "missions")); err != nil {
		return nil, err
	}
	if err := catalog.loadTemplates(filepath.Join(root, "templates")); err != nil {
		return nil, err
	}
	if err := catalog.loadSchemas(filepath.Join(root, "schemas")); err != nil {
		return nil, err
	}

	if err := catalog.resolvePersonaExtends(); err != nil {
		return nil, err
	}
	if err := catalog.resolveMissionExtends(); err != nil {
		return nil, err
	}
	return catalog, nil
}

// Persona returns the resolved persona with the given id.
func (c *Catalog) Persona(id string) (*Persona, error) {
	persona, ok := c.Personas[id]
	if !ok {
		return nil, &NotFoundError{Kind: "persona", ID: id}
	}
	return persona, nil
}

// Mission returns the resolved mission with the given id.
func (c *Catalog) Mission(id string) (*Mission, error) {
	mission, ok := c.Missions[id]
	if !ok {
		return nil, &NotFoundError{Kind: "mission", ID: id}
	}
	return mission, nil
}

// Template returns the template text with the given id.
func (c *Catalog) Template(id string) (string, error) {
	template, ok := c.Templates[id]
	if !ok {
		return "", &NotFoundError{Kind: "template", ID: id}
	}
	return template, nil
}

// Schema returns the report schema document with the given id.
func (c *Catalog) Schema(id string) (json.RawMessage, error) {
	schema, ok := c.Schemas[id]
	if !ok {
		return nil, &NotFoundError{Kind: "schema", ID: id}
	}
	return schema, nil
}

func (c *Catalog) loadPersonas(dir string) error {
	return eachFile(dir, ".persona.md", func(path string, content []byte) error {
		header, body, err := splitFrontmatter(content)
		if err != nil {
			return fmt.Errorf("%s: %w", path, err)
		}
		if header.ID == "" {
			return fmt.Errorf("%s: missing id", path)
		}
		if _, exists := c.Personas[header.ID]; exists {
			return fmt.Errorf("%s: duplicate persona id %q", path, header.ID)
		}
		c.Personas[header.ID] = &Persona{
			ID: header.ID, Name: header.Name, Extends: header.Extends, Body: body,
		}
		return nil
	})
}

func (c *Catalog) loadMissions(dir string) error {
	return eachFile(dir, ".mission.md", func(path string, content []byte) error {
		header, body, err := splitFrontmatter(content)
		if err != nil {
			return fmt.Errorf("%s: %w", path, err)
		}
		if header.ID == "" {
			return fmt.Errorf("%s: missing id", path)
		}
		if _, exists := c.Missions[header.ID]; exists {
			return fmt.Errorf("%s: duplicate mission id %q", path, header.ID)
		}
		c.Missions[header.ID] = &Mission{
			ID: header.ID, Name: header.Name, Extends: header.Extends,
			Tags:           header.Tags,
			PromptTemplate: header.PromptTemplate,
			ReportSchema:   header.ReportSchema,
			RequiresShell:  header.RequiresShell,
			RequiresEdits:  header.RequiresEdits,
			Body:           body,
		}
		return nil
	})
}

func (c *Catalog) loadTemplates(dir string) error {
	return eachFile(dir, ".tmpl.md", func(path string, content []byte) error {
		id := strings.TrimSuffix(filepath.Base(path), ".tmpl.md")
		c.Templates[id] = string(content)
		return nil
	})
}

func (c *Catalog) loadSchemas(dir string) error {
	return eachFile(dir, ".schema.json", func(path string, content []byte) error {
		id := strings.TrimSuffix(filepath.Base(path), ".schema.json")
		if !json.Valid(content) {
			return fmt.Errorf("%s: not valid JSON", path)
		}
		c.Schemas[id] = json.RawMessage(content)
		return nil
	})
}

// eachFile walks dir for files with the given suffix, in sorted order.
// A missing directory is not an error: catalogs may omit sections.
func eachFile(dir, suffix string, visit func(path string, content []byte) error) error {
	entries, err := os.ReadDir(dir)
	if err != nil {
		if os.IsNotExist(err) {
			return nil
		}
		return err
	}
	for _, entry := range entries {
		if entry.IsDir() || !strings.HasSuffix(entry.Name(), suffix) {
			continue
		}
		path := filepath.Join(dir, entry.Name())
		content, err := os.ReadFile(path)
		if err != nil {
			return err
		}
		if err := visit(path, content); err != nil {
			return err
		}
	}
	return nil
}

// splitFrontmatter separates the YAML header between "---" fences from
// the markdown body.
func splitFrontmatter(content []byte) (frontmatter, string, error) {
	text := strings.ReplaceAll(string(content), "\r\n", "\n")
	if !strings.HasPrefix(text, "---\n") {
		return frontmatter{}, "", fmt.Errorf("missing frontmatter fence")
	}
	rest := text[len("---\n"):]
	end := strings.Index(rest, "\n---")
	if end < 0 {
		return frontmatter{}, "", fmt.Errorf("unterminated frontmatter fence")
	}
	headerText := rest[:end]
	body := rest[end+len("\n---"):]
	body = strings.TrimPrefix(body, "\n")

	var header frontmatter
	if err := yaml.Unmarshal([]byte(headerText), &header); err != nil {
		return frontmatter{}, "", fmt.Errorf("parsing frontmatter: %w", err)
	}
	return header, strings.TrimSpace(body), nil
}

func (c *Catalog) resolvePersonaExtends() error {
	resolved := map[string]bool{}
	visiting := map[string]bool{}

	var resolve func(id string) (*Persona, error)
	resolve = func(id string) (*Persona, error) {
		persona, ok := c.Personas[id]
		if !ok {
			return nil, fmt.Errorf("unknown persona id referenced by extends: %q", id)
		}
		if resolved[id] {
			return persona, nil
		}
		if visiting[id] {
			return nil, fmt.Errorf("persona extends cycle detected at %q", id)
		}
		visiting[id] = true
		defer delete(visiting, id)

		if persona.Extends != "" {
			parent, err := resolve(persona.Extends)
			if err != nil {
				return nil, err
			}
			persona.Body = joinBodies(parent.Body, persona.Body)
		}
		resolved[id] = true
		return persona, nil
	}

	for id := range c.Personas {
		if _, err := resolve(id); err != nil {
			return err
		}
	}
	return nil
}

func (c *Catalog) resolveMissionExtends() error {
	resolved := map[string]bool{}
	visiting := map[string]bool{}

	var resolve func(id string) (*Mission, error)
	resolve = func(id string) (*Mission, error) {
		mission, ok := c.Missions[id]
		if !ok {
			return nil, fmt.Errorf("unknown mission id referenced by extends: %q", id)
		}
		if resolved[id] {
			return mission, nil
		}
		if visiting[id] {
			return nil, fmt.Errorf("mission extends cycle detected at %q", id)
		}
		visiting[id] = true
		defer delete(visiting, id)

		if mission.Extends != "" {
			parent, err := resolve(mission.Extends)
			if err != nil {
				return nil, err
			}
			if mission.PromptTemplate == "" {
				mission.PromptTemplate = parent.PromptTemplate
			}
			if mission.ReportSchema == "" {
				mission.ReportSchema = parent.ReportSchema
			}
			mission.RequiresShell = mission.RequiresShell || parent.RequiresShell
			mission.RequiresEdits = mission.RequiresEdits || parent.RequiresEdits
			mission.Body = joinBodies(parent.Body, mission.Body)
		}

		if mission.PromptTemplate == "" {
			return nil, fmt.Errorf("mission %q has no prompt_template after resolution", id)
		}
		if mission.ReportSchema == "" {
			return nil, fmt.Errorf("mission %q has no report_schema after resolution", id)
		}
		resolved[id] = true
		return mission, nil
	}

	for id := range c.Missions {
		if _, err := resolve(id); err != nil {
			return err
		}
	}
	return nil
}

func joinBodies(parent, child string) string {
	parent = strings.TrimSpace(parent)
	child = strings.TrimSpace(child)
	switch {
	case parent == "":
		return child
	case child == "":
		return parent
	default:
		return parent + "\n\n" + child
	}
}
