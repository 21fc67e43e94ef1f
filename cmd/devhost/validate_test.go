// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 HoloMUSH Contributors

package main

import (
	"bytes"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/holomush/devhost/pkg/errutil"
)

func writePlugin(t *testing.T, manifest string, files ...string) string {
	t.Helper()
	dir := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(dir, "package.json"), []byte(manifest), 0o600))
	for _, f := range files {
		path := filepath.Join(dir, f)
		require.NoError(t, os.MkdirAll(filepath.Dir(path), 0o700))
		require.NoError(t, os.WriteFile(path, []byte("// entry\n"), 0o600))
	}
	return dir
}

func executeValidate(args ...string) (string, error) {
	cmd := NewValidateCmd()
	buf := new(bytes.Buffer)
	cmd.SetOut(buf)
	cmd.SetErr(buf)
	cmd.SetArgs(args)
	err := cmd.Execute()
	return buf.String(), err
}

func TestValidate_Valid(t *testing.T) {
	dir := writePlugin(t, `{"name":"hello","theiaPlugin":{"frontend":"lib/frontend.js"}}`)

	out, err := executeValidate(dir)
	require.NoError(t, err)
	assert.Contains(t, out, "valid plugin")
}

func TestValidate_NoContribution(t *testing.T) {
	dir := writePlugin(t, `{"name":"hello"}`)

	_, err := executeValidate(dir)
	errutil.AssertErrorCode(t, err, "INVALID_PLUGIN")
}

func TestValidate_Strict(t *testing.T) {
	dir := writePlugin(t, `{"name":"hello","version":"1.2.3","theiaPlugin":{"backend":"lib/backend.js"}}`, "lib/backend.js")

	out, err := executeValidate("--strict", dir)
	require.NoError(t, err)
	assert.Contains(t, out, "hello@1.2.3")
}

func TestValidate_StrictMissingEntry(t *testing.T) {
	dir := writePlugin(t, `{"name":"hello","theiaPlugin":{"backend":"lib/backend.js"}}`)

	_, err := executeValidate("--strict", dir)
	errutil.AssertErrorCode(t, err, "MISSING_ENTRY")
}

func TestValidate_StrictBadVersion(t *testing.T) {
	dir := writePlugin(t, `{"name":"hello","version":"one","theiaPlugin":{"backend":"lib/backend.js"}}`, "lib/backend.js")

	_, err := executeValidate("--strict", dir)
	errutil.AssertErrorCode(t, err, "INVALID_MANIFEST")
}

func TestValidate_RequiresArgument(t *testing.T) {
	_, err := executeValidate()
	assert.Error(t, err)
}
