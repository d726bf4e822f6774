// Package config loads an optional TOML connection-profile file (spec.md
// §4 ambient stack): connection defaults, default parallelism, and default
// format, merged under whatever explicit CLI flags the caller supplied.
// It mirrors internal/parser/toml's decode-into-a-struct shape, applied to
// tool configuration rather than schema authoring.
package config

import (
	"fmt"
	"io"
	"os"

	"github.com/BurntSushi/toml"
)

// Profile is the top-level TOML document. Every field is optional; a zero
// value means "not set in the profile, defer to the flag default."
type Profile struct {
	DSN         string `toml:"dsn"`
	Format      string `toml:"format"`
	Parallelism int    `toml:"parallelism"`
	Mechanism   string `toml:"mechanism"`
}

// Load reads and decodes the TOML profile at path. A missing path is not
// an error: it returns a zero Profile, since the profile file is always
// optional (spec.md's CLI flags are the primary configuration surface).
func Load(path string) (*Profile, error) {
	if path == "" {
		return &Profile{}, nil
	}
	f, err := os.Open(path)
	if err != nil {
		if os.IsNotExist(err) {
			return &Profile{}, nil
		}
		return nil, fmt.Errorf("config: open %q: %w", path, err)
	}
	defer f.Close()
	return Decode(f)
}

// Decode reads a Profile from r.
func Decode(r io.Reader) (*Profile, error) {
	var p Profile
	if _, err := toml.NewDecoder(r).Decode(&p); err != nil {
		return nil, fmt.Errorf("config: decode error: %w", err)
	}
	return &p, nil
}

// MergeString returns flagValue if it differs from flagDefault (i.e. the
// user passed it explicitly), otherwise profileValue, otherwise
// flagDefault. This is how a profile's setting yields to an explicit flag
// without needing cobra's own "was this flag set" bookkeeping threaded
// through every call site.
func MergeString(flagValue, flagDefault, profileValue string) string {
	if flagValue != flagDefault {
		return flagValue
	}
	if profileValue != "" {
		return profileValue
	}
	return flagDefault
}

// MergeInt is MergeString's counterpart for integer settings such as
// parallelism.
func MergeInt(flagValue, flagDefault, profileValue int) int {
	if flagValue != flagDefault {
		return flagValue
	}
	if profileValue != 0 {
		return profileValue
	}
	return flagDefault
}
