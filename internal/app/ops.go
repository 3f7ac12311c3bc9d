package app

import (
	"context"
	"net"
	"net/http"
	"net/url"
	"os"
	"time"

	"github.com/gorilla/mux"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	httpSwagger "github.com/swaggo/http-swagger"

	"trestle/pkg/docstore"
	"trestle/pkg/logger"
	"trestle/pkg/utils"
)

type peerUIDKey struct{}

// startOps starts the ops listener(s) when configured: a TCP address, a unix
// socket, or both, all serving the same router. Returns a channel carrying
// any fatal serve error; an unconfigured ops plane yields a silent channel.
func (a *App) startOps() <-chan error {
	errCh := make(chan error, 2)
	if a.cfg.Ops.Address == "" && a.cfg.Ops.UnixSocket == "" {
		return errCh
	}

	a.opsSrv = &http.Server{
		Handler: a.opsRouter(),
		ConnContext: func(ctx context.Context, c net.Conn) context.Context {
			return context.WithValue(ctx, peerUIDKey{}, peerUIDForConn(c))
		},
	}

	if addr := a.cfg.Ops.Address; addr != "" {
		ln, err := net.Listen("tcp", addr)
		if err != nil {
			errCh <- err
			return errCh
		}
		logger.Info("ops_listener_starting", "addr", addr)
		go func() { errCh <- a.opsSrv.Serve(ln) }()
	}
	if sock := a.cfg.Ops.UnixSocket; sock != "" {
		// remove old socket
		_ = os.Remove(sock)
		ln, err := net.Listen("unix", sock)
		if err != nil {
			errCh <- err
			return errCh
		}
		_ = os.Chmod(sock, 0600)
		logger.Info("ops_socket_starting", "path", sock)
		go func() { errCh <- a.opsSrv.Serve(ln) }()
	}
	return errCh
}

// opsRouter builds the ops/admin surface. It is deliberately separate from
// the data plane: health, metrics, API docs and document administration
// never ride through the bridge.
func (a *App) opsRouter() *mux.Router {
	r := mux.NewRouter()
	r.HandleFunc("/healthz", healthzHandler).Methods(http.MethodGet)
	r.HandleFunc("/readyz", a.readyzHandler).Methods(http.MethodGet)
	r.Handle("/metrics", promhttp.Handler()).Methods(http.MethodGet)
	r.PathPrefix("/docs/").Handler(httpSwagger.Handler(httpSwagger.URL("/openapi.yaml")))
	r.Handle("/openapi.yaml", http.FileServer(http.Dir("./docs")))

	admin := r.PathPrefix("/admin").Subrouter()
	admin.Use(a.sameUserOnly)
	admin.HandleFunc("/stats", a.adminStats).Methods(http.MethodGet)
	admin.HandleFunc("/docs/{key:.+}", a.adminGetDoc).Methods(http.MethodGet)
	admin.HandleFunc("/docs/{key:.+}", a.adminDeleteDoc).Methods(http.MethodDelete)
	admin.HandleFunc("/sweep", a.adminSweep).Methods(http.MethodPost)
	logger.Info("admin_routes_registered")
	return r
}

// sameUserOnly rejects unix-socket requests from other users when
// ops.same_user_only is set. TCP connections carry no peer credentials and
// are not restricted here; bind the ops address to localhost instead.
func (a *App) sameUserOnly(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if a.cfg.Ops.SameUserOnly {
			if uid, ok := r.Context().Value(peerUIDKey{}).(int); ok && uid >= 0 && uid != os.Getuid() {
				utils.JSONError(w, http.StatusForbidden, "forbidden")
				return
			}
		}
		next.ServeHTTP(w, r)
	})
}

// healthzHandler handles the /healthz endpoint.
func healthzHandler(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write([]byte(`{"status":"ok"}`))
}

// readyzHandler handles the /readyz endpoint.
func (a *App) readyzHandler(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	if !docstore.Ready() {
		w.WriteHeader(http.StatusServiceUnavailable)
		_, _ = w.Write([]byte(`{"status":"not ready"}`))
		return
	}
	w.WriteHeader(http.StatusOK)
	// include the running version to help ops verify what binary is active
	ver := a.version
	if ver == "" {
		ver = "dev"
	}
	_, _ = w.Write([]byte(`{"status":"ok","version":"` + ver + `"}`))
}

func (a *App) adminStats(w http.ResponseWriter, r *http.Request) {
	st := docstore.Usage()
	_ = utils.JSONWrite(w, 0, struct {
		Docs      int    `json:"docs"`
		DiskBytes uint64 `json:"disk_bytes"`
		Engine    string `json:"engine"`
		Version   string `json:"version"`
	}{Docs: st.Docs, DiskBytes: st.DiskBytes, Engine: a.cfg.Engine(), Version: a.version})
}

// adminGetDoc returns the raw stored document, expired or not, so operators
// can inspect what the sweeper will remove.
func (a *App) adminGetDoc(w http.ResponseWriter, r *http.Request) {
	key, ok := docKeyVar(w, r)
	if !ok {
		return
	}
	doc, err := docstore.Get(key)
	if err != nil {
		utils.JSONError(w, http.StatusNotFound, err.Error())
		return
	}
	ct := doc.ContentType
	if ct == "" {
		ct = "application/octet-stream"
	}
	w.Header().Set("Content-Type", ct)
	if !doc.Expires.IsZero() {
		w.Header().Set("X-Doc-Expires", doc.Expires.UTC().Format(time.RFC3339))
	}
	_, _ = w.Write(doc.Body)
}

func (a *App) adminDeleteDoc(w http.ResponseWriter, r *http.Request) {
	key, ok := docKeyVar(w, r)
	if !ok {
		return
	}
	if err := docstore.Delete(key); err != nil {
		utils.JSONError(w, http.StatusInternalServerError, err.Error())
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (a *App) adminSweep(w http.ResponseWriter, r *http.Request) {
	n, err := docstore.RunImmediate()
	if err != nil {
		utils.JSONError(w, http.StatusInternalServerError, err.Error())
		return
	}
	_ = utils.JSONWrite(w, 0, map[string]int{"swept": n})
}

// docKeyVar extracts and unescapes the {key} path variable. URL path
// variables are not automatically unescaped by gorilla/mux, so use
// PathUnescape to recover the original key string.
func docKeyVar(w http.ResponseWriter, r *http.Request) (string, bool) {
	keyEnc, ok := mux.Vars(r)["key"]
	if !ok || keyEnc == "" {
		utils.JSONError(w, http.StatusBadRequest, "missing key")
		return "", false
	}
	key, err := url.PathUnescape(keyEnc)
	if err != nil {
		utils.JSONError(w, http.StatusBadRequest, "invalid key encoding")
		return "", false
	}
	return key, true
}
