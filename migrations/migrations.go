// Package migrations embeds the SQL schema so binaries and tests apply the same files.
package migrations

import (
	"embed"
	"fmt"
	"io/fs"
	"sort"
	"strings"
)

//go:embed *.sql
var files embed.FS

// Direction selects up or down scripts
type Direction string

const (
	Up   Direction = "up"
	Down Direction = "down"
)

// ParseDirection validates a -direction flag value
func ParseDirection(s string) (Direction, error) {
	switch Direction(strings.ToLower(strings.TrimSpace(s))) {
	case Up:
		return Up, nil
	case Down:
		return Down, nil
	}
	return "", fmt.Errorf("unknown migration direction %q (want up or down)", s)
}

// Script is one migration file
type Script struct {
	Name string
	SQL  string
}

// Scripts returns the scripts for a direction in the order they must run:
// ascending for up, descending for down.
func Scripts(d Direction) ([]Script, error) {
	names, err := fs.Glob(files, "*."+string(d)+".sql")
	if err != nil {
		return nil, err
	}
	sort.Strings(names)
	if d == Down {
		sort.Sort(sort.Reverse(sort.StringSlice(names)))
	}

	scripts := make([]Script, 0, len(names))
	for _, name := range names {
		content, err := files.ReadFile(name)
		if err != nil {
			return nil, fmt.Errorf("failed to read migration %s: %w", name, err)
		}
		scripts = append(scripts, Script{Name: name, SQL: string(content)})
	}
	return scripts, nil
}
