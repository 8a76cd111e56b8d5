// Package bridge is the method-call boundary between a host application
// and the signing coordinator.
//
// Every call produces exactly one terminal reply: signed bytes or a
// *errors.SignError whose Code is one of the wire codes the host knows.
package bridge

import (
	"context"

	"ciesign/internal/appearance"
	"ciesign/internal/args"
	"ciesign/internal/coordinator"
	cserrors "ciesign/internal/errors"
	"ciesign/internal/events"
	"ciesign/internal/signer"
	"ciesign/util"
)

// Method names accepted by Call.
const (
	MethodMockSignPdf      = "mockSignPdf"
	MethodSignPdfWithNfc   = "signPdfWithNfc"
	MethodCancelNfcSigning = "cancelNfcSigning"
)

// Argument keys.
const (
	ArgPDF        = "pdf"
	ArgPIN        = "pin"
	ArgAppearance = "appearance"
	ArgOutputPath = "outputPath"
)

// Bridge dispatches host calls.
type Bridge struct {
	coord  *coordinator.Coordinator
	mock   signer.NoHardware
	logger *util.Logger
}

// New returns a bridge over coord.  mock serves mockSignPdf and may be
// nil when the host has no no-hardware signer.
func New(coord *coordinator.Coordinator, mock signer.NoHardware, logger *util.Logger) *Bridge {
	if logger == nil {
		logger = util.NewLogger(0)
	}
	return &Bridge{coord: coord, mock: mock, logger: logger.Named("bridge")}
}

// Call dispatches method with its argument map.  mockSignPdf and
// signPdfWithNfc reply []byte, cancelNfcSigning replies bool.
func (b *Bridge) Call(ctx context.Context, method string, a args.Map) (any, error) {
	b.logger.Debug("call %s", method)
	switch method {
	case MethodMockSignPdf:
		return b.MockSignPdf(ctx, a)
	case MethodSignPdfWithNfc:
		return b.SignPdfWithNfc(ctx, a)
	case MethodCancelNfcSigning:
		return b.CancelNfcSigning(), nil
	default:
		return nil, cserrors.Sign(cserrors.CodeNotImplemented, "unknown method "+method)
	}
}

// MockSignPdf signs a["pdf"] without a card.  The optional
// a["appearance"] map places the mark and a["outputPath"] receives a
// copy of the result.
func (b *Bridge) MockSignPdf(ctx context.Context, a args.Map) ([]byte, error) {
	if a == nil {
		return nil, cserrors.Sign(cserrors.CodeInvalidArgs, "expected map arguments")
	}
	pdf, ok := args.Bytes(a, ArgPDF)
	if !ok || len(pdf) == 0 {
		return nil, cserrors.Sign(cserrors.CodeInvalidPDF, "argument 'pdf' must be non-empty bytes")
	}
	if b.mock == nil {
		return nil, cserrors.Sign(cserrors.CodeMockSignFailed, "no mock signer configured")
	}
	app := parseAppearance(a)

	signed, err := b.mock.MockSign(ctx, pdf, app)
	if err != nil {
		return nil, cserrors.Wrap(cserrors.CodeMockSignFailed, err)
	}
	if path := args.String(a, ArgOutputPath); path != "" {
		if err := util.WriteFileAtomic(path, signed, 0o644); err != nil {
			return nil, cserrors.Wrap(cserrors.CodeMockSignFailed, err)
		}
		b.logger.Verbose("mock signature written to %s", path)
	}
	return signed, nil
}

// SignPdfWithNfc submits an NFC signing request and blocks until it is
// resolved.  If ctx ends first the request is canceled and the cancel
// outcome is returned.
func (b *Bridge) SignPdfWithNfc(ctx context.Context, a args.Map) ([]byte, error) {
	if a == nil {
		return nil, cserrors.Sign(cserrors.CodeInvalidArgs, "expected map arguments")
	}
	pdf, _ := args.Bytes(a, ArgPDF)
	req := coordinator.Request{
		Document:   pdf,
		PIN:        args.String(a, ArgPIN),
		Appearance: parseAppearance(a),
		OutputPath: args.String(a, ArgOutputPath),
	}

	comp, err := b.coord.Submit(req)
	if err != nil {
		return nil, err
	}
	select {
	case <-comp.Done():
	case <-ctx.Done():
		if b.coord.Withdraw(comp) {
			b.logger.Verbose("request %s withdrawn: %v", comp.ID(), ctx.Err())
		}
		<-comp.Done()
	}
	return comp.Result()
}

// CancelNfcSigning cancels the in-flight request, reporting whether
// there was one.
func (b *Bridge) CancelNfcSigning() bool {
	return b.coord.Cancel()
}

// Subscribe installs the event stream observer.
func (b *Bridge) Subscribe(sink events.Sink) { b.coord.Subscribe(sink) }

// Unsubscribe removes the event stream observer.
func (b *Bridge) Unsubscribe() { b.coord.Unsubscribe() }

// Release removes sink unless a newer observer replaced it.
func (b *Bridge) Release(sink events.Sink) { b.coord.Release(sink) }

func parseAppearance(a args.Map) *appearance.Descriptor {
	sub, ok := args.Sub(a, ArgAppearance)
	if !ok {
		return nil
	}
	return appearance.FromArgs(sub)
}
