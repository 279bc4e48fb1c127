package main

import "github.com/mitchellh/go-homedir"

// expandHome expands a leading "~" in a CLI-supplied path (e.g. `--policy
// ~/policies/default.json`) the same way the teacher's plugin config
// reader resolves `~`-prefixed paths via homedir.Expand before stat'ing
// them. Paths with no leading "~" pass through unchanged.
func expandHome(p string) (string, error) {
	if p == "" || p[0] != '~' {
		return p, nil
	}

	return homedir.Expand(p)
}
