// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 HoloMUSH Contributors

package hosted

import (
	"bufio"
	"io"
	"log/slog"
	"regexp"
)

// readyPattern matches the line a hosted instance prints once its listener is
// active, capturing the address: "<text> listening on <address>. []<text>".
var readyPattern = regexp.MustCompile(`listening on (\S+)\. \[\]`)

// maxLineSize bounds a single line of child output.
const maxLineSize = 1 << 20

// ReadyAddress extracts the listening address from a readiness line.
func ReadyAddress(line string) (string, bool) {
	m := readyPattern.FindStringSubmatch(line)
	if m == nil {
		return "", false
	}
	return m[1], true
}

// pumpLines reads r line by line, logging each line at debug level, until EOF.
// The first readiness line found is sent on ready when ready is non-nil; later
// lines are still drained so the child never blocks on a full pipe.
func pumpLines(r io.ReadCloser, logger *slog.Logger, stream string, ready chan<- string) {
	defer r.Close() //nolint:errcheck // read side of a pipe we own

	scanner := bufio.NewScanner(r)
	scanner.Buffer(make([]byte, 0, 64*1024), maxLineSize)

	for scanner.Scan() {
		line := scanner.Text()
		logger.Debug("hosted instance output", "stream", stream, "line", line)

		if ready == nil {
			continue
		}
		if addr, ok := ReadyAddress(line); ok {
			ready <- addr
			ready = nil
		}
	}

	if err := scanner.Err(); err != nil {
		logger.Debug("hosted instance output closed", "stream", stream, "error", err)
	}
}
