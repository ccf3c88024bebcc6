// Package callsign implements the amateur-radio callsign domain type used
// throughout the backbone: a base callsign of 1-6 alphanumerics with an
// optional numeric SSID suffix (0-15), canonicalized to uppercase so that
// equality and map-keying never depend on the caller's case.
package callsign

import (
	"errors"
	"fmt"
	"strconv"
	"strings"
)

// CQ is the reserved broadcast destination: "all stations".
const CQ = "CQ"

// NODES is the reserved destination used by RF transports for node-local
// control traffic (distinct from a specific callsign and from CQ).
const NODES = "NODES"

var (
	// ErrEmpty is returned for a zero-length callsign.
	ErrEmpty = errors.New("callsign: empty")
	// ErrBase is returned when the base callsign is not 1-6 alphanumerics.
	ErrBase = errors.New("callsign: base must be 1-6 alphanumerics")
	// ErrSSID is returned when the SSID suffix is not an integer 0-15.
	ErrSSID = errors.New("callsign: ssid must be 0-15")
)

// Callsign is a validated, canonicalized amateur-radio station identifier,
// e.g. "W1ABC-10". The zero value is not valid; construct with Parse.
type Callsign struct {
	base string
	ssid uint8
}

// Parse validates and canonicalizes s into a Callsign. CQ and NODES are
// accepted verbatim as reserved destinations.
func Parse(s string) (Callsign, error) {
	if s == "" {
		return Callsign{}, ErrEmpty
	}

	upper := strings.ToUpper(strings.TrimSpace(s))

	if upper == CQ || upper == NODES {
		return Callsign{base: upper}, nil
	}

	base := upper
	var ssid uint8

	if i := strings.IndexByte(upper, '-'); i >= 0 {
		base = upper[:i]
		suffix := upper[i+1:]
		n, err := strconv.Atoi(suffix)
		if err != nil || n < 0 || n > 15 {
			return Callsign{}, ErrSSID
		}
		ssid = uint8(n)
	}

	if len(base) < 1 || len(base) > 6 || !isAlphanumeric(base) {
		return Callsign{}, ErrBase
	}

	return Callsign{base: base, ssid: ssid}, nil
}

// MustParse is Parse but panics on error; for use with compile-time-known
// literals (tests, constants).
func MustParse(s string) Callsign {
	c, err := Parse(s)
	if err != nil {
		panic(err)
	}
	return c
}

func isAlphanumeric(s string) bool {
	for i := 0; i < len(s); i++ {
		c := s[i]
		if !(c >= 'A' && c <= 'Z' || c >= '0' && c <= '9') {
			return false
		}
	}
	return true
}

// Base returns the canonical base callsign without SSID suffix.
func (c Callsign) Base() string { return c.base }

// SSID returns the numeric SSID suffix (0 if none was given, or if this is
// a reserved destination).
func (c Callsign) SSID() uint8 { return c.ssid }

// IsReserved reports whether c is the CQ broadcast or NODES destination.
func (c Callsign) IsReserved() bool { return c.base == CQ || c.base == NODES }

// IsZero reports whether c is the unconstructed zero value.
func (c Callsign) IsZero() bool { return c.base == "" }

// String renders the canonical wire form, e.g. "W1ABC-10" or "CQ".
func (c Callsign) String() string {
	if c.base == "" {
		return ""
	}
	if c.IsReserved() || c.ssid == 0 {
		return c.base
	}
	return fmt.Sprintf("%s-%d", c.base, c.ssid)
}

// Equal compares canonical forms.
func (c Callsign) Equal(other Callsign) bool {
	return c.base == other.base && c.ssid == other.ssid
}
