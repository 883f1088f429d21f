package command

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"image/png"
	"net"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/urfave/cli/v2"
	"golang.org/x/sync/errgroup"

	"github.com/yndnr/vmsnap-go/internal/core/domain"
	"github.com/yndnr/vmsnap-go/internal/core/service"
	"github.com/yndnr/vmsnap-go/internal/infra/shutdown"
	"github.com/yndnr/vmsnap-go/internal/machine"
	"github.com/yndnr/vmsnap-go/internal/storage/vmstate"
	"github.com/yndnr/vmsnap-go/internal/telemetry/logger"
	"github.com/yndnr/vmsnap-go/internal/telemetry/metric"
)

const shutdownTimeout = 10 * time.Second

// WatchCommand returns the watch command.
func WatchCommand() *cli.Command {
	return &cli.Command{
		Name:  "watch",
		Usage: "Watch the snapshot directory and serve listings and metrics over HTTP",
		Description: "Keeps the metadata cache in sync with changes made by other processes.\n" +
			"Serves /health, /metrics, /snapshots, /snapshots/{name} and\n" +
			"/snapshots/{name}/thumbnail.png until interrupted.",
		Flags: []cli.Flag{
			&cli.StringFlag{
				Name:  "metrics-addr",
				Usage: "HTTP listen address (overrides metrics.addr)",
			},
		},
		Action: watchAction,
	}
}

func watchAction(c *cli.Context) error {
	e := getEnv(c)
	if e.cfg.Storage.Engine != vmstate.EngineFile {
		return fmt.Errorf("watch requires the %q engine, got %q", vmstate.EngineFile, e.cfg.Storage.Engine)
	}

	addr := c.String("metrics-addr")
	if addr == "" {
		addr = e.cfg.Metrics.Addr
	}

	store, err := e.openStore()
	if err != nil {
		return err
	}
	h := shutdown.NewHandler(shutdownTimeout)
	h.OnShutdown(func(context.Context) error { return store.Close() })

	metrics := metric.NewRegistry()
	svc := service.NewSnapshotService(store, machine.New(nil), service.WithMetrics(metrics))
	if err := metrics.Register(metric.NewStoreCollector(storeStats(c.Context, svc, e.log))); err != nil {
		store.Close()
		return err
	}

	w, err := vmstate.NewWatcher(e.cfg.Storage.Dir, vmstate.WithWatcherLogger(logger.Slog(e.log)))
	if err != nil {
		store.Close()
		return err
	}
	w.OnChange(func(name string) {
		svc.Invalidate()
		e.log.Info("snapshot store changed", "snapshot", name)
	})
	w.StartAsync()
	h.OnShutdown(func(context.Context) error { return w.Stop() })

	ln, err := net.Listen("tcp", addr)
	if err != nil {
		return errors.Join(fmt.Errorf("listen %s: %w", addr, err), w.Stop(), store.Close())
	}
	srv := &http.Server{
		Handler:           newWatchRouter(svc, metrics),
		ReadHeaderTimeout: 5 * time.Second,
	}
	h.OnShutdown(srv.Shutdown)

	if _, err := svc.List(c.Context); err != nil {
		e.log.Warn("initial snapshot listing failed", "error", err)
	}
	e.log.Info("watching snapshot store",
		"dir", e.cfg.Storage.Dir,
		"metrics_addr", ln.Addr().String())

	g, ctx := errgroup.WithContext(c.Context)
	g.Go(func() error {
		if err := srv.Serve(ln); !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("http server: %w", err)
		}
		return nil
	})
	g.Go(func() error {
		return h.Wait(ctx)
	})

	err = g.Wait()
	e.log.Info("watch stopped")
	return err
}

// newWatchRouter builds the HTTP routes served by watch.
func newWatchRouter(svc *service.SnapshotService, metrics *metric.Registry) http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.Recoverer)

	r.Get("/health", func(w http.ResponseWriter, _ *http.Request) {
		writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
	})
	r.Handle("/metrics", metrics.Handler())

	r.Route("/snapshots", func(r chi.Router) {
		r.Get("/", func(w http.ResponseWriter, r *http.Request) {
			entries, err := svc.List(r.Context())
			if err != nil {
				writeError(w, err)
				return
			}
			writeJSON(w, http.StatusOK, newSnapshotViews(entries))
		})

		r.Get("/{name}", func(w http.ResponseWriter, r *http.Request) {
			entry, err := svc.Get(r.Context(), chi.URLParam(r, "name"))
			if err != nil {
				writeError(w, err)
				return
			}
			writeJSON(w, http.StatusOK, newSnapshotView(entry))
		})

		r.Get("/{name}/thumbnail.png", func(w http.ResponseWriter, r *http.Request) {
			entry, err := svc.Get(r.Context(), chi.URLParam(r, "name"))
			if err != nil {
				writeError(w, err)
				return
			}
			if !entry.Extra.ThumbnailPresent {
				writeJSON(w, http.StatusNotFound, map[string]string{"error": "snapshot has no thumbnail"})
				return
			}
			width, _ := strconv.Atoi(r.URL.Query().Get("width"))
			height, _ := strconv.Atoi(r.URL.Query().Get("height"))
			img, err := thumbnailImage(entry.Extra.Thumbnail, width, height)
			if err != nil {
				writeJSON(w, http.StatusBadRequest, map[string]string{"error": err.Error()})
				return
			}
			w.Header().Set("Content-Type", "image/png")
			png.Encode(w, img)
		})
	})

	return r
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, err error) {
	status := http.StatusInternalServerError
	switch {
	case errors.Is(err, domain.ErrSnapshotNotFound):
		status = http.StatusNotFound
	case errors.Is(err, domain.ErrInvalidName):
		status = http.StatusBadRequest
	}
	writeJSON(w, status, map[string]string{
		"code":  domain.GetErrorCode(err),
		"error": err.Error(),
	})
}

// storeStats summarizes the cached listing for the store collector.
func storeStats(ctx context.Context, svc *service.SnapshotService, log logger.Logger) func() metric.StoreStats {
	return func() metric.StoreStats {
		entries, err := svc.List(ctx)
		if err != nil {
			log.Warn("collect store stats", "error", err)
			return metric.StoreStats{}
		}
		var s metric.StoreStats
		s.Snapshots = len(entries)
		for _, entry := range entries {
			s.VMStateBytes += entry.Info.VMStateSize
			if entry.Extra.ThumbnailPresent {
				s.Thumbnails++
			}
		}
		return s
	}
}
