// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 HoloMUSH Contributors

// Package plugin reads and validates the package.json manifest of a plugin
// under development.
package plugin

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"regexp"

	"github.com/Masterminds/semver/v3"
	"github.com/samber/oops"
)

// ManifestFile is the manifest file name expected at the root of a plugin location.
const ManifestFile = "package.json"

// Manifest is the subset of package.json the hosted instance cares about.
type Manifest struct {
	Name         string            `json:"name" jsonschema:"minLength=1,maxLength=214"`
	Version      string            `json:"version,omitempty"`
	Description  string            `json:"description,omitempty"`
	Engines      map[string]string `json:"engines,omitempty"`
	Contribution *Contribution     `json:"theiaPlugin,omitempty"`
}

// Contribution declares the plugin entry points for each side of the platform.
type Contribution struct {
	Frontend string `json:"frontend,omitempty"`
	Backend  string `json:"backend,omitempty"`
}

// Declared reports whether at least one entry point is set.
func (c *Contribution) Declared() bool {
	return c != nil && (c.Frontend != "" || c.Backend != "")
}

// namePattern follows npm package naming: optional scope, lowercase, url-safe.
var namePattern = regexp.MustCompile(`^(@[a-z0-9-~][a-z0-9-._~]*/)?[a-z0-9-~][a-z0-9-._~]*$`)

// IsValid reports whether location holds a package.json declaring a frontend
// or backend contribution. A missing or unreadable manifest is a plain false.
func IsValid(location string) bool {
	_, err := Read(location)
	return err == nil
}

// Read decodes the manifest at location and requires only a declared
// contribution, the rule IsValid applies. Use Load for full validation.
func Read(location string) (*Manifest, error) {
	dir, ok := LocalPath(location)
	if !ok {
		return nil, oops.Code("UNSUPPORTED_LOCATION").
			With("location", location).
			Errorf("only local plugin locations are supported")
	}

	path := filepath.Join(dir, ManifestFile)
	data, err := os.ReadFile(path) //nolint:gosec // plugin location is chosen by the developer
	if err != nil {
		return nil, oops.Code("MANIFEST_NOT_FOUND").With("path", path).Wrap(err)
	}

	var m Manifest
	if err := json.Unmarshal(data, &m); err != nil {
		return nil, oops.Code("INVALID_MANIFEST").With("path", path).Wrapf(err, "invalid JSON")
	}
	if !m.Contribution.Declared() {
		return nil, oops.Code("INVALID_MANIFEST").
			With("path", path).
			Errorf("theiaPlugin must declare a frontend or backend entry")
	}
	return &m, nil
}

// ParseManifest decodes package.json content and checks it against the manifest schema.
func ParseManifest(data []byte) (*Manifest, error) {
	if err := ValidateSchema(data); err != nil {
		return nil, oops.Code("INVALID_MANIFEST").Wrap(err)
	}

	var m Manifest
	if err := json.Unmarshal(data, &m); err != nil {
		return nil, oops.Code("INVALID_MANIFEST").Wrapf(err, "invalid JSON")
	}
	return &m, nil
}

// Load reads and strictly validates the manifest found at location.
func Load(location string) (*Manifest, error) {
	dir, ok := LocalPath(location)
	if !ok {
		return nil, oops.Code("UNSUPPORTED_LOCATION").
			With("location", location).
			Errorf("only local plugin locations are supported")
	}

	path := filepath.Join(dir, ManifestFile)
	data, err := os.ReadFile(path) //nolint:gosec // plugin location is chosen by the developer
	if err != nil {
		return nil, oops.Code("MANIFEST_NOT_FOUND").With("path", path).Wrap(err)
	}

	m, err := ParseManifest(data)
	if err != nil {
		return nil, oops.With("path", path).Wrap(err)
	}
	if err := m.Validate(); err != nil {
		return nil, oops.With("path", path).Wrap(err)
	}
	if err := m.CheckEntries(dir); err != nil {
		return nil, err
	}
	return m, nil
}

// Validate checks manifest constraints beyond the schema.
func (m *Manifest) Validate() error {
	if m.Name == "" || !namePattern.MatchString(m.Name) {
		return oops.Code("INVALID_MANIFEST").
			Errorf("name %q must be a lowercase, url-safe package name", m.Name)
	}

	if m.Version != "" {
		if _, err := semver.StrictNewVersion(m.Version); err != nil {
			return oops.Code("INVALID_MANIFEST").
				With("version", m.Version).
				Wrapf(err, "version must be semver")
		}
	}

	if !m.Contribution.Declared() {
		return oops.Code("INVALID_MANIFEST").
			Errorf("theiaPlugin must declare a frontend or backend entry")
	}
	return nil
}

// CheckEntries verifies that declared entry points exist below dir.
func (m *Manifest) CheckEntries(dir string) error {
	if m.Contribution == nil {
		return nil
	}
	for side, entry := range map[string]string{
		"frontend": m.Contribution.Frontend,
		"backend":  m.Contribution.Backend,
	} {
		if entry == "" {
			continue
		}
		path := filepath.Join(dir, entry)
		if _, err := os.Stat(path); err != nil {
			return oops.Code("MISSING_ENTRY").
				With("side", side).
				With("path", path).
				Wrap(fmt.Errorf("%s entry: %w", side, err))
		}
	}
	return nil
}
