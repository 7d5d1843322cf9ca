// Package workspace owns the deterministic on-disk directory layout for
// preprocessing output and its cleanup.
package workspace
