// Package emailaddr parses and formats the "Name <addr>" recipient
// strings used throughout the messaging tables. It is deliberately not an
// RFC 5322 parser: provider payloads and operator input follow the loose
// whitespace convention, and round-tripping must be byte-exact, including
// non-ASCII names and addresses.
package emailaddr

import (
	"errors"
	"fmt"
	"strings"
)

// ErrInvalidAddress is returned for strings that contain a space but are
// not of the form "Name <addr>".
var ErrInvalidAddress = errors.New("invalid address structure")

// Parse returns ("Marco Polo", "marco@polo.com") from "Marco Polo <marco@polo.com>"
// and ("", "marco@polo.com") from a bare "marco@polo.com".
func Parse(raw string) (name, address string, err error) {
	trimmed := strings.TrimSpace(raw)
	if !strings.Contains(trimmed, " ") {
		return "", trimmed, nil
	}

	if !strings.Contains(trimmed, "<") || !strings.Contains(trimmed, ">") {
		return "", "", fmt.Errorf("%w: %s", ErrInvalidAddress, raw)
	}

	parts := strings.Split(trimmed, " ")
	name = strings.Join(parts[:len(parts)-1], " ")
	address = strings.TrimSuffix(strings.TrimPrefix(parts[len(parts)-1], "<"), ">")
	return name, address, nil
}

// Format renders a recipient back into "Name <addr>" form, or the bare
// address when no name is present.
func Format(name, address string) string {
	if name == "" {
		return address
	}
	return fmt.Sprintf("%s <%s>", name, address)
}

// Domain returns the lower-cased part after "@", or "" for malformed input.
func Domain(address string) string {
	at := strings.LastIndex(address, "@")
	if at < 0 {
		return ""
	}
	return strings.ToLower(address[at+1:])
}
