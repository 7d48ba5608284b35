package domain

import (
	"bufio"
	"fmt"
	"io"
	"strings"
)

// LocatorSeparator joins a primary reference with its auxiliaries in
// locator list files: "primary|aux1|aux2".
const LocatorSeparator = "|"

// Locator references one input unit, optionally with auxiliary sources
// merged into the primary before extraction.
type Locator struct {
	Primary   string
	Auxiliary []string
}

// ParseLocator parses one locator list line.
func ParseLocator(s string) (Locator, error) {
	parts := strings.Split(strings.TrimSpace(s), LocatorSeparator)
	var refs []string
	for _, p := range parts {
		if p = strings.TrimSpace(p); p != "" {
			refs = append(refs, p)
		}
	}
	if len(refs) == 0 {
		return Locator{}, fmt.Errorf("empty locator %q", s)
	}
	return Locator{Primary: refs[0], Auxiliary: refs[1:]}, nil
}

// String renders the locator in list-file form, so failed lists are
// retry-ready.
func (l Locator) String() string {
	if len(l.Auxiliary) == 0 {
		return l.Primary
	}
	return l.Primary + LocatorSeparator + strings.Join(l.Auxiliary, LocatorSeparator)
}

// ReadLocators reads one locator per line, skipping blanks and "#" comments.
// Duplicate locators are dropped keeping first occurrence.
func ReadLocators(r io.Reader) ([]Locator, error) {
	var out []Locator
	seen := map[string]bool{}
	sc := bufio.NewScanner(r)
	sc.Buffer(make([]byte, 64*1024), 1024*1024)
	for sc.Scan() {
		line := strings.TrimSpace(sc.Text())
		if line == "" || strings.HasPrefix(line, "#") {
			continue
		}
		loc, err := ParseLocator(line)
		if err != nil {
			return nil, err
		}
		if seen[loc.String()] {
			continue
		}
		seen[loc.String()] = true
		out = append(out, loc)
	}
	if err := sc.Err(); err != nil {
		return nil, fmt.Errorf("read locators: %w", err)
	}
	return out, nil
}
