package core

import (
	"context"
	"fmt"
	"os"

	"ciesign/internal/appearance"
	"ciesign/internal/metrics"
	"ciesign/internal/signer"
	"ciesign/util"
)

// MockSignMode signs a file without a card and writes the result.
type MockSignMode struct {
	Signer     signer.NoHardware
	Input      string
	Output     string
	Appearance *appearance.Descriptor
	Metrics    *metrics.Collector
	Logger     *util.Logger
}

// Run reads Input, signs it and writes Output atomically.
func (m *MockSignMode) Run(ctx context.Context) error {
	doc, err := os.ReadFile(m.Input)
	if err != nil {
		return fmt.Errorf("read document: %w", err)
	}

	m.Metrics.RequestSubmitted()
	signed, err := m.Signer.MockSign(ctx, doc, m.Appearance)
	if err != nil {
		m.Metrics.RequestFailed(err.Error())
		return fmt.Errorf("mock sign %s: %w", m.Input, err)
	}
	if err := util.WriteFileAtomic(m.Output, signed, 0o644); err != nil {
		m.Metrics.RequestFailed(err.Error())
		return fmt.Errorf("write %s: %w", m.Output, err)
	}
	m.Metrics.RequestCompleted(len(signed))

	m.Logger.Info("signed %s → %s (%d bytes, no card)", m.Input, m.Output, len(signed))
	return nil
}
