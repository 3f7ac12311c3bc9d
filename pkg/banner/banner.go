package banner

import (
	"fmt"

	"trestle/pkg/config"
)

const banner = `
████████╗██████╗ ███████╗███████╗████████╗██╗     ███████╗
╚══██╔══╝██╔══██╗██╔════╝██╔════╝╚══██╔══╝██║     ██╔════╝
   ██║   ██████╔╝█████╗  ███████╗   ██║   ██║     █████╗
   ██║   ██╔══██╗██╔══╝  ╚════██║   ██║   ██║     ██╔══╝
   ██║   ██║  ██║███████╗███████║   ██║   ███████╗███████╗
   ╚═╝   ╚═╝  ╚═╝╚══════╝╚══════╝   ╚═╝   ╚══════╝╚══════╝
`

// Print writes the startup banner with the effective configuration so
// operators can see at a glance which engine, listeners and store the
// process is about to run with.
func Print(cfg *config.Config, sources, version string) {
	fmt.Print(banner)
	fmt.Println("== Config =====================================================")
	fmt.Printf("Listen:   %s\n", cfg.Addr())
	fmt.Printf("Engine:   %s\n", cfg.Engine())
	fmt.Printf("DB Path:  %s\n", cfg.Store.DBPath)
	if cfg.Origin.URL != "" {
		fmt.Printf("Origin:   %s\n", cfg.Origin.URL)
	} else if cfg.Origin.TrustProxy {
		fmt.Println("Origin:   from trusted proxy headers")
	} else {
		fmt.Println("Origin:   from connection")
	}
	if version != "" {
		fmt.Printf("Version:  %s\n", version)
	}
	if sources != "" {
		fmt.Printf("Config sources: %s\n", sources)
	}

	fmt.Println("\n== Endpoints ==================================================")
	fmt.Println("PUT    /v1/docs/{key} - Store a document (X-Doc-TTL: seconds to expiry)")
	fmt.Println("GET    /v1/docs/{key} - Fetch a document")
	fmt.Println("DELETE /v1/docs/{key} - Remove a document")
	fmt.Println("GET    /v1/docs?prefix=<p>&limit=<n> - List document keys")
	fmt.Println("POST   /v1/echo - Stream the request body back")
	fmt.Println("GET    /v1/info - Engine and connection info")
	if cfg.Ops.Address != "" {
		fmt.Printf("Ops:    %s (/healthz /readyz /metrics /docs/ /admin/*)\n", cfg.Ops.Address)
	}
	if cfg.Ops.UnixSocket != "" {
		fmt.Printf("Ops:    unix:%s\n", cfg.Ops.UnixSocket)
	}

	fmt.Println("\n== Examples ===================================================")
	fmt.Printf("curl -X PUT 'http://localhost%s/v1/docs/notes/today' -d 'remember the milk'\n", portSuffix(cfg))
	fmt.Printf("curl 'http://localhost%s/v1/docs?prefix=notes/'\n", portSuffix(cfg))

	fmt.Println("\n== Production? =================================================")
	if cfg.Server.TLS.CertFile != "" && cfg.Server.TLS.KeyFile != "" {
		fmt.Println("- TLS: configured")
	} else {
		fmt.Println("- TLS: unconfigured (terminate TLS upstream or set server.tls)")
	}
	if cfg.Origin.TrustProxy {
		fmt.Println("- Proxy headers: trusted (only safe behind your own proxy)")
	}
	if cfg.Store.Sweep.Enabled {
		fmt.Printf("- Sweep: enabled (%s)\n", sweepCron(cfg))
	} else {
		fmt.Println("- Sweep: disabled (expired documents accumulate)")
	}
}

func portSuffix(cfg *config.Config) string {
	p := cfg.Server.Port
	if p == 0 {
		p = 8080
	}
	return fmt.Sprintf(":%d", p)
}

func sweepCron(cfg *config.Config) string {
	if cfg.Store.Sweep.Cron == "" {
		return "0 3 * * *"
	}
	return cfg.Store.Sweep.Cron
}
