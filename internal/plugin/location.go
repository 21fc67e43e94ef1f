// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 HoloMUSH Contributors

package plugin

import (
	"net/url"
	"path/filepath"
	"strings"
)

// LocalPath resolves a plugin location to an absolute filesystem path.
// Plain paths and file:// URLs are local; every other scheme is not.
func LocalPath(location string) (string, bool) {
	if location == "" {
		return "", false
	}

	if strings.Contains(location, "://") {
		u, err := url.Parse(location)
		if err != nil || u.Scheme != "file" {
			return "", false
		}
		if u.Host != "" && u.Host != "localhost" {
			return "", false
		}
		location = u.Path
		if location == "" {
			return "", false
		}
	}

	abs, err := filepath.Abs(location)
	if err != nil {
		return "", false
	}
	return abs, true
}
