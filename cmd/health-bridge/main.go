// Minimal bridge POC: one health handler served through the relay over
// either engine. Useful for measuring bridge+engine overhead with the same
// tool against both listeners.
package main

import (
	"flag"
	"fmt"
	"net/http"
	"time"

	"trestle/pkg/config"
	fhengine "trestle/pkg/engine/fasthttp"
	"trestle/pkg/engine/stdhttp"
	"trestle/pkg/relay"
)

func main() {
	addr := flag.String("addr", ":8081", "listen address")
	engine := flag.String("engine", config.EngineNetHTTP, "engine (nethttp|fasthttp)")
	ver := flag.String("version", "dev", "version string to return")
	flag.Parse()

	handler := func(c *relay.Ctx) (*relay.Response, error) {
		switch c.Request.Path {
		case "/health", "/healthz":
			// keep the handler extremely lean to measure bridge+net overhead
			return relay.JSON(http.StatusOK, map[string]string{
				"status":  "ok",
				"version": *ver,
				"engine":  c.Platform.Engine,
			})
		default:
			return relay.Text(http.StatusNotFound, "not found"), nil
		}
	}
	b, err := relay.New(handler, relay.Options{})
	if err != nil {
		fmt.Printf("bridge init: %v\n", err)
		return
	}

	fmt.Printf("bridge health POC (%s) listening on %s\n", *engine, *addr)
	switch *engine {
	case config.EngineFastHTTP:
		srv := fhengine.NewServer(b, fhengine.Options{Name: "trestle-bridge-poc"})
		srv.ReadTimeout = 5 * time.Second
		srv.WriteTimeout = 5 * time.Second
		if err := srv.ListenAndServe(*addr); err != nil {
			fmt.Printf("fasthttp server exit: %v\n", err)
		}
	default:
		srv := stdhttp.NewServer(b, *addr, stdhttp.Options{})
		srv.ReadTimeout = 5 * time.Second
		srv.WriteTimeout = 5 * time.Second
		if err := srv.ListenAndServe(); err != nil {
			fmt.Printf("net/http server exit: %v\n", err)
		}
	}
}
