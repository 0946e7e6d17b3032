package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os/signal"
	"strconv"
	"syscall"
	"time"

	"github.com/Sternrassler/unifeed/pkg/client"
	"github.com/Sternrassler/unifeed/pkg/feed"
	"github.com/Sternrassler/unifeed/pkg/metrics"
	"github.com/Sternrassler/unifeed/pkg/pagination"
	jsoniter "github.com/json-iterator/go"
	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"
)

var json = jsoniter.ConfigCompatibleWithStandardLibrary

func newProxyCmd(a *app) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "proxy",
		Short: "Serve the feed through the caching client",
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			if ctx == nil {
				ctx = context.Background()
			}
			ctx, stop := signal.NotifyContext(ctx, syscall.SIGINT, syscall.SIGTERM)
			defer stop()

			api, rdb, closeAPI, err := a.newClient(ctx)
			if err != nil {
				return err
			}
			defer closeAPI()

			return serveProxy(ctx, a.cfg.ListenAddr, newProxyHandler(api, rdb))
		},
	}
	cmd.Flags().String("listen", ":8080", "Listen address")
	_ = a.v.BindPFlag("listen_addr", cmd.Flags().Lookup("listen"))
	return cmd
}

func newProxyHandler(api *client.Client, rdb *redis.Client) http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("/health", healthHandler)
	mux.HandleFunc("/ready", readyHandler(rdb))
	mux.Handle("/metrics", metrics.Handler())
	mux.HandleFunc("/feed", feedHandler(api))
	return mux
}

func serveProxy(ctx context.Context, addr string, handler http.Handler) error {
	srv := &http.Server{
		Addr:              addr,
		Handler:           handler,
		ReadHeaderTimeout: 10 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		log.Info().Str("addr", addr).Msg("Starting feed proxy server")
		errCh <- srv.ListenAndServe()
	}()

	select {
	case err := <-errCh:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return fmt.Errorf("server failed: %w", err)
	case <-ctx.Done():
	}

	log.Info().Msg("Shutting down feed proxy server")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	return srv.Shutdown(shutdownCtx)
}

func healthHandler(w http.ResponseWriter, r *http.Request) {
	w.WriteHeader(http.StatusOK)
	fmt.Fprintf(w, "OK")
}

// readyHandler reports whether Redis answers, when one is configured.
func readyHandler(rdb *redis.Client) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if rdb != nil {
			ctx, cancel := context.WithTimeout(r.Context(), 2*time.Second)
			defer cancel()
			if err := rdb.Ping(ctx).Err(); err != nil {
				http.Error(w, fmt.Sprintf("redis unavailable: %v", err), http.StatusServiceUnavailable)
				return
			}
		}
		w.WriteHeader(http.StatusOK)
		fmt.Fprintf(w, "READY")
	}
}

// feedHandler serves one feed page envelope. Query parameters mirror the
// filter flags: page, type, hub, sort, time, my_hubs.
func feedHandler(api *client.Client) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodGet {
			http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
			return
		}

		q := r.URL.Query()
		page := 1
		if p := q.Get("page"); p != "" {
			n, err := strconv.Atoi(p)
			if err != nil || n < 1 {
				http.Error(w, fmt.Sprintf("invalid page %q", p), http.StatusBadRequest)
				return
			}
			page = n
		}

		ff := filterFlags{
			docType:  q.Get("type"),
			hub:      q.Get("hub"),
			ordering: q.Get("sort"),
			scope:    q.Get("time"),
			myHubs:   q.Get("my_hubs") == "true",
		}
		filters, err := ff.filters(api.LoggedIn())
		if err != nil {
			http.Error(w, err.Error(), http.StatusBadRequest)
			return
		}

		ctx, cancel := context.WithTimeout(r.Context(), 30*time.Second)
		defer cancel()

		env, err := api.Envelope(ctx, page, filters)
		if err != nil {
			status := http.StatusBadGateway
			var apiErr *client.APIError
			if errors.As(err, &apiErr) && apiErr.Class == client.ErrorClassClient && apiErr.StatusCode >= 400 {
				status = apiErr.StatusCode
			}
			log.Warn().Err(err).Int("page", page).Str("filters", filters.String()).Msg("Proxy feed request failed")
			http.Error(w, fmt.Sprintf("feed request failed: %v", err), status)
			return
		}

		docs, err := pagination.DecodeResults[feed.Document](env.Results)
		if err != nil {
			http.Error(w, fmt.Sprintf("decode documents: %v", err), http.StatusBadGateway)
			return
		}

		body := struct {
			Page    int             `json:"page"`
			Filters string          `json:"filters"`
			HasMore bool            `json:"has_more"`
			Count   int             `json:"count"`
			Results []feed.Document `json:"results"`
		}{
			Page:    page,
			Filters: filters.String(),
			HasMore: env.HasNext(),
			Count:   env.Count,
			Results: docs,
		}

		w.Header().Set("Content-Type", "application/json")
		if err := json.NewEncoder(w).Encode(body); err != nil {
			log.Warn().Err(err).Msg("Failed to write response")
		}
	}
}
