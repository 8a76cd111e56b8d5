package core

import (
	"context"
	"fmt"
	"net"

	"golang.org/x/sync/errgroup"

	"ciesign/internal/coordinator"
	"ciesign/internal/httpapi"
	"ciesign/util"
)

// ServeMode hosts the signing bridge over HTTP until the context ends.
type ServeMode struct {
	Address     string
	Coordinator *coordinator.Coordinator
	Server      *httpapi.Server
	Logger      *util.Logger

	// Listener overrides Address when set.  Tests use it to bind an
	// ephemeral port.
	Listener net.Listener
}

// Run starts the coordinator and the HTTP server.  Either one failing
// stops the other.
func (m *ServeMode) Run(ctx context.Context) error {
	ln := m.Listener
	if ln == nil {
		var err error
		ln, err = net.Listen("tcp", m.Address)
		if err != nil {
			return fmt.Errorf("listen on %s: %w", m.Address, err)
		}
	}

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error { return m.Coordinator.Run(gctx) })
	g.Go(func() error {
		select {
		case <-m.Coordinator.Started():
		case <-gctx.Done():
			ln.Close()
			return nil
		}
		return m.Server.Serve(gctx, ln)
	})

	err := g.Wait()
	m.Logger.Verbose("bridge stopped")
	return err
}
