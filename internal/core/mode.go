// Package core is the orchestration layer.  It composes the reader, the
// signer and the coordinator into complete operational modes and
// provides a builder that selects the right mode from a Config.
//
// Architecture layers (bottom → top):
//
//	reader, signer  →  coordinator  →  bridge, httpapi  →  core  →  cmd (CLI)
package core

import "context"

// Mode represents a complete operational mode of ciesign (mock sign,
// NFC sign, or serve).  Each mode owns its full lifecycle from input
// to teardown.
type Mode interface {
	Run(ctx context.Context) error
}
