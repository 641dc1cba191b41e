// Package config resolves CLI settings from flags, the environment, a .env
// file and the optional ~/.cmda.yaml config file.
package config

import (
	"os"
	"regexp"
)

// envVarPattern matches ${VAR} and ${VAR:-default} patterns.
// - ${VAR} expands to the variable's value, or empty string if unset
// - ${VAR:-default} expands to the variable's value, or "default" if unset/empty
var envVarPattern = regexp.MustCompile(`\$\{([A-Za-z_][A-Za-z0-9_]*)(?::-([^}]*))?\}`)

// ExpandEnv replaces ${VAR} and ${VAR:-default} patterns in the input string
// with values from the process environment.
func ExpandEnv(input string) string {
	return ExpandWith(input, os.LookupEnv)
}

// ExpandWith is ExpandEnv over an arbitrary lookup.
// Unset variables without defaults expand to the empty string; an empty
// function name is rejected later, before any request is made.
func ExpandWith(input string, lookup func(string) (string, bool)) string {
	return envVarPattern.ReplaceAllStringFunc(input, func(match string) string {
		groups := envVarPattern.FindStringSubmatch(match)
		if len(groups) < 2 {
			return match
		}

		if value, ok := lookup(groups[1]); ok && value != "" {
			return value
		}
		// groups[2] is the default, empty when absent
		if len(groups) >= 3 {
			return groups[2]
		}
		return ""
	})
}

// Lookup chains lookups; the first one holding a non-empty value wins.
func Lookup(sources ...func(string) (string, bool)) func(string) (string, bool) {
	return func(key string) (string, bool) {
		for _, src := range sources {
			if v, ok := src(key); ok && v != "" {
				return v, true
			}
		}
		return "", false
	}
}

// MapLookup adapts a map, such as parsed .env values, to a lookup.
func MapLookup(m map[string]string) func(string) (string, bool) {
	return func(key string) (string, bool) {
		v, ok := m[key]
		return v, ok
	}
}
