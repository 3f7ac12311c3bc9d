package app

import (
	"trestle/pkg/config"
	fhengine "trestle/pkg/engine/fasthttp"
	"trestle/pkg/engine/stdhttp"
	"trestle/pkg/logger"
)

// startData starts the data-plane listener for the configured engine in a
// goroutine and returns a channel carrying any fatal serve error.
func (a *App) startData() <-chan error {
	errCh := make(chan error, 1)
	addr := a.cfg.Addr()
	cert := a.cfg.Server.TLS.CertFile
	key := a.cfg.Server.TLS.KeyFile

	switch a.cfg.Engine() {
	case config.EngineFastHTTP:
		srv := fhengine.NewServer(a.bridge, fhengine.Options{
			StreamBody: true,
			ReadChunk:  int(a.cfg.Relay.ReadChunk.Int64()),
			MaxBody:    int(a.cfg.Relay.MaxBody.Int64()),
			Name:       "trestle/" + a.version,
		})
		a.stopData = srv.ShutdownWithContext
		go func() {
			logger.Info("data_listener_starting", "engine", config.EngineFastHTTP, "addr", addr)
			if cert != "" && key != "" {
				errCh <- srv.ListenAndServeTLS(addr, cert, key)
			} else {
				errCh <- srv.ListenAndServe(addr)
			}
		}()
	default:
		srv := stdhttp.NewServer(a.bridge, addr, stdhttp.Options{
			ReadChunk: int(a.cfg.Relay.ReadChunk.Int64()),
			MaxBody:   a.cfg.Relay.MaxBody.Int64(),
		})
		a.stopData = srv.Shutdown
		go func() {
			logger.Info("data_listener_starting", "engine", config.EngineNetHTTP, "addr", addr)
			if cert != "" && key != "" {
				errCh <- srv.ListenAndServeTLS(cert, key)
			} else {
				errCh <- srv.ListenAndServe()
			}
		}()
	}
	return errCh
}
