// Copyright (c) 2025 suprsokr
// SPDX-License-Identifier: MIT

package mpq

import (
	"strings"
)

const listfileName = "(listfile)"

// buildListfile joins member names with newlines.
func buildListfile(names []string) []byte {
	return []byte(strings.Join(names, "\n"))
}

// ParseListfile splits a (listfile) into member names. Blank lines and
// lines starting with ';' or '#' are skipped, and anything after a ';' on a
// name line is dropped.
func ParseListfile(data []byte) []string {
	var names []string
	for _, line := range strings.Split(string(data), "\n") {
		line = strings.TrimSpace(line)
		if line == "" || line[0] == ';' || line[0] == '#' {
			continue
		}
		if i := strings.IndexByte(line, ';'); i >= 0 {
			line = strings.TrimSpace(line[:i])
		}
		if line != "" {
			names = append(names, line)
		}
	}
	return names
}
