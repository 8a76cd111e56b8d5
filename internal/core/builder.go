package core

import (
	"fmt"
	"os"

	"ciesign/config"
	"ciesign/internal/appearance"
	"ciesign/internal/bridge"
	"ciesign/internal/coordinator"
	"ciesign/internal/httpapi"
	"ciesign/internal/metrics"
	"ciesign/internal/reader"
	"ciesign/internal/signer"
	"ciesign/util"
)

// Build constructs the appropriate Mode from the given configuration.
// m may be nil.
func Build(cfg *config.Config, logger *util.Logger, m *metrics.Collector) (Mode, error) {
	switch {
	case cfg.Serving():
		return buildServe(cfg, logger, m)
	case cfg.Mock:
		return buildMockSign(cfg, logger, m)
	default:
		return buildNfcSign(cfg, logger, m)
	}
}

// ── mode builders ────────────────────────────────────────────────────

func buildMockSign(cfg *config.Config, logger *util.Logger, m *metrics.Collector) (Mode, error) {
	app, err := buildAppearance(cfg, logger)
	if err != nil {
		return nil, err
	}
	return &MockSignMode{
		Signer:     signer.NewMock(logger),
		Input:      cfg.Input,
		Output:     cfg.OutputPath(),
		Appearance: app,
		Metrics:    m,
		Logger:     logger,
	}, nil
}

func buildNfcSign(cfg *config.Config, logger *util.Logger, m *metrics.Collector) (Mode, error) {
	app, err := buildAppearance(cfg, logger)
	if err != nil {
		return nil, err
	}
	sim := reader.NewSim(readerStatus(cfg.ReaderStatus))
	return &NfcSignMode{
		Coordinator: buildCoordinator(cfg, sim, logger, m),
		Sim:         sim,
		Tag:         cfg.SimulateTag,
		TagDelay:    cfg.SimTagDelay,
		CardWait:    cfg.CardWait,
		Input:       cfg.Input,
		Output:      cfg.OutputPath(),
		PIN:         cfg.PIN,
		Appearance:  app,
		Logger:      logger,
	}, nil
}

func buildServe(cfg *config.Config, logger *util.Logger, m *metrics.Collector) (Mode, error) {
	sim := reader.NewSim(readerStatus(cfg.ReaderStatus))
	coord := buildCoordinator(cfg, sim, logger, m)
	srv := httpapi.NewServer(httpapi.Options{
		Bridge:      bridge.New(coord, signer.NewMock(logger), logger),
		Coordinator: coord,
		Sim:         sim,
		Metrics:     m,
		Logger:      logger,
	})
	return &ServeMode{
		Address:     cfg.Serve,
		Coordinator: coord,
		Server:      srv,
		Logger:      logger,
	}, nil
}

// ── shared helpers ───────────────────────────────────────────────────

func buildCoordinator(cfg *config.Config, rd reader.Controller, logger *util.Logger, m *metrics.Collector) *coordinator.Coordinator {
	return coordinator.New(coordinator.Options{
		Reader:         rd,
		Gateway:        signer.NewMock(logger),
		Logger:         logger,
		Metrics:        m,
		SessionTimeout: cfg.SessionTimeout,
		QueueSize:      cfg.QueueSize,
	})
}

// buildAppearance assembles the descriptor from flags.  An image file
// that cannot be read is an error; one that cannot be decoded is
// dropped with a warning and the mark is drawn without it.
func buildAppearance(cfg *config.Config, logger *util.Logger) (*appearance.Descriptor, error) {
	var img *appearance.Raster
	if cfg.ImagePath != "" {
		raw, err := os.ReadFile(cfg.ImagePath)
		if err != nil {
			return nil, fmt.Errorf("read signature image: %w", err)
		}
		if img = appearance.DecodeImage(raw); img == nil {
			logger.Warn("%s is not a decodable image, signing without it", cfg.ImagePath)
		}
	}
	return appearance.New(appearance.Options{
		PageIndex: cfg.Page,
		Left:      cfg.Left,
		Bottom:    cfg.Bottom,
		Width:     cfg.Width,
		Height:    cfg.Height,
		Reason:    cfg.Reason,
		Location:  cfg.Location,
		Name:      cfg.Name,
		FieldIDs:  cfg.FieldIDs,
		Image:     img,
	}), nil
}

func readerStatus(s string) reader.Status {
	switch s {
	case config.ReaderDisabled:
		return reader.Disabled
	case config.ReaderUnsupported:
		return reader.NotSupported
	default:
		return reader.Ready
	}
}
