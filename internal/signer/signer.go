// Package signer defines the boundary to the document signer.
//
// The real signer (PDF incremental update, CMS envelope, card applet
// dialogue) lives outside this module; the coordinator only sees the
// Gateway contract.  Mock provides a self-contained implementation for
// hosts and tests without a card.
package signer

import (
	"context"

	"ciesign/internal/appearance"
	"ciesign/internal/reader"
)

// Request is the input of one signature.
type Request struct {
	Document   []byte
	PIN        string
	Appearance *appearance.Descriptor
}

// Gateway signs a document using an open card session.  Sign may block
// for as long as the card exchange takes; it is always called from the
// coordinator's worker goroutine, never from a reader callback.
type Gateway interface {
	Sign(ctx context.Context, req Request, sess reader.Session) ([]byte, error)
}

// NoHardware is implemented by gateways that can sign without a card.
type NoHardware interface {
	MockSign(ctx context.Context, document []byte, app *appearance.Descriptor) ([]byte, error)
}

// GatewayFunc adapts a function to Gateway.
type GatewayFunc func(ctx context.Context, req Request, sess reader.Session) ([]byte, error)

// Sign implements Gateway.
func (f GatewayFunc) Sign(ctx context.Context, req Request, sess reader.Session) ([]byte, error) {
	return f(ctx, req, sess)
}
