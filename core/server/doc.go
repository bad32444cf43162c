// Package server runs an http.Server with production timeouts and graceful
// shutdown, shaped for errgroup:
//
//	srv, err := server.NewFromConfig(cfg.Server, server.WithLogger(log))
//	if err != nil {
//		return err
//	}
//	eg, ctx := errgroup.WithContext(ctx)
//	eg.Go(srv.Run(ctx, handler))
//	return eg.Wait()
//
// Setting SERVER_TLS_CERT_FILE and SERVER_TLS_KEY_FILE switches to HTTPS
// with TLS 1.2 as the minimum version.
package server
