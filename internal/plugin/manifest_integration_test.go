// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 HoloMUSH Contributors

//go:build integration

package plugin_test

import (
	"os"
	"path/filepath"

	. "github.com/onsi/ginkgo/v2" //nolint:revive // ginkgo convention
	. "github.com/onsi/gomega"    //nolint:revive // gomega convention

	"github.com/holomush/devhost/internal/plugin"
)

// scaffold lays out a plugin tree the way a generator would.
func scaffold(manifest string, files ...string) string {
	dir := GinkgoT().TempDir()
	Expect(os.WriteFile(filepath.Join(dir, plugin.ManifestFile), []byte(manifest), 0o600)).To(Succeed())
	for _, f := range files {
		path := filepath.Join(dir, f)
		Expect(os.MkdirAll(filepath.Dir(path), 0o700)).To(Succeed())
		Expect(os.WriteFile(path, []byte("module.exports = {};\n"), 0o600)).To(Succeed())
	}
	return dir
}

var _ = Describe("Loading a plugin from disk", func() {
	It("accepts a full-stack plugin with both entry points", func() {
		dir := scaffold(`{
			"name": "@acme/hello-world",
			"version": "0.0.1",
			"description": "says hello",
			"engines": {"theiaPlugin": "latest"},
			"theiaPlugin": {
				"frontend": "lib/frontend/hello-world-frontend-plugin.js",
				"backend": "lib/backend/hello-world-backend-plugin.js"
			},
			"scripts": {"prepare": "yarn run build"},
			"devDependencies": {"typescript": "^5.0.0"}
		}`, "lib/frontend/hello-world-frontend-plugin.js", "lib/backend/hello-world-backend-plugin.js")

		Expect(plugin.IsValid(dir)).To(BeTrue())
		Expect(plugin.IsValid("file://" + dir)).To(BeTrue())

		m, err := plugin.Load(dir)
		Expect(err).NotTo(HaveOccurred())
		Expect(m.Name).To(Equal("@acme/hello-world"))
		Expect(m.Contribution.Frontend).To(HaveSuffix("frontend-plugin.js"))
		Expect(m.Engines).To(HaveKeyWithValue("theiaPlugin", "latest"))
	})

	It("treats a plain npm package as not a plugin", func() {
		dir := scaffold(`{"name": "left-pad", "version": "1.3.0", "main": "index.js"}`, "index.js")

		Expect(plugin.IsValid(dir)).To(BeFalse())
		_, err := plugin.Load(dir)
		Expect(err).To(HaveOccurred())
	})

	It("rejects a manifest whose contribution block has the wrong shape", func() {
		dir := scaffold(`{"name": "hello", "theiaPlugin": "lib/backend.js"}`)

		Expect(plugin.IsValid(dir)).To(BeFalse())
		_, err := plugin.Load(dir)
		Expect(err).To(MatchError(ContainSubstring("theiaPlugin")))
	})
})
