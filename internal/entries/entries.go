// Package entries loads the ordered list of text lines a session broadcasts.
package entries

import (
	"bufio"
	"io"
	"os"
	"strings"
	"unicode/utf8"

	apperrors "databroadcast/internal/errors"
)

// DefaultPath is consulted when no explicit file yields an entry.
const DefaultPath = "data.txt"

// Entry is one non-empty, trimmed line of broadcast text.
type Entry string

// Load reads every existing regular file in paths, in order, and returns
// their non-blank trimmed lines concatenated. When paths yields nothing,
// defaultPath is read instead.
func Load(paths []string, defaultPath string) ([]Entry, error) {
	var out []Entry
	for _, p := range paths {
		if !isFile(p) {
			continue
		}
		got, err := readFile(p)
		if err != nil {
			return nil, err
		}
		out = append(out, got...)
	}
	if len(out) > 0 {
		return out, nil
	}

	if strings.TrimSpace(defaultPath) == "" {
		defaultPath = DefaultPath
	}
	if !isFile(defaultPath) {
		return nil, apperrors.ConfigurationError("no data source").
			WithContext("default_path", defaultPath).
			WithContext("paths", len(paths))
	}
	out, err := readFile(defaultPath)
	if err != nil {
		return nil, err
	}
	if len(out) == 0 {
		return nil, apperrors.ConfigurationError("empty data source").
			WithContext("default_path", defaultPath)
	}
	return out, nil
}

// UniquePaths returns paths without duplicates, keeping the first
// occurrence. Blank paths are dropped.
func UniquePaths(paths []string) []string {
	seen := make(map[string]struct{}, len(paths))
	out := make([]string, 0, len(paths))
	for _, p := range paths {
		p = strings.TrimSpace(p)
		if p == "" {
			continue
		}
		if _, ok := seen[p]; ok {
			continue
		}
		seen[p] = struct{}{}
		out = append(out, p)
	}
	return out
}

func isFile(path string) bool {
	if path == "" {
		return false
	}
	fi, err := os.Stat(path)
	return err == nil && fi.Mode().IsRegular()
}

func readFile(path string) ([]Entry, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, apperrors.ConfigurationErrorf("cannot open data source", err).WithContext("path", path)
	}
	defer f.Close()

	out, err := Read(f)
	if err != nil {
		return nil, apperrors.ConfigurationErrorf("cannot read data source", err).WithContext("path", path)
	}
	return out, nil
}

// Read parses entries from r: one per line, surrounding whitespace
// stripped, blank lines dropped. "\n", "\r\n" and a lone "\r" all end a
// line, and a line may be any length. Lines must be valid UTF-8.
func Read(r io.Reader) ([]Entry, error) {
	br := bufio.NewReader(r)

	var out []Entry
	line := 0
	for {
		chunk, err := br.ReadString('\n')
		if chunk != "" {
			body := strings.TrimSuffix(strings.TrimSuffix(chunk, "\n"), "\r")
			for _, raw := range strings.Split(body, "\r") {
				line++
				if !utf8.ValidString(raw) {
					return nil, apperrors.ConfigurationError("data source is not valid UTF-8").WithContext("line", line)
				}
				if s := strings.TrimSpace(raw); s != "" {
					out = append(out, Entry(s))
				}
			}
		}
		if err == io.EOF {
			return out, nil
		}
		if err != nil {
			return nil, err
		}
	}
}
