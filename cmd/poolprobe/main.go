// Package main is the entrypoint for poolprobe, a small example binary that
// wires a redis-backed pool together with a metrics server and a health
// endpoint: flag-parsed config path, a /metrics Prometheus endpoint, a
// /health JSON endpoint, and graceful shutdown on SIGINT/SIGTERM.
package main

import (
	"context"
	"encoding/json"
	"flag"
	"fmt"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/joao-brasil/asyncpool/managers/redismanager"
	"github.com/joao-brasil/asyncpool/pool"
	"github.com/joao-brasil/asyncpool/poolmetrics"
	"github.com/joao-brasil/asyncpool/poolyaml"
)

var (
	configPath  = flag.String("config", "configs/pools.yaml", "Path to pool configuration file")
	poolName    = flag.String("pool", "default", "Name of the pool entry (within -config) to build")
	redisAddr   = flag.String("redis-addr", "127.0.0.1:6379", "Address of the Redis instance this probe pools connections to")
	metricsPort = flag.Int("metrics-port", 9090, "Port for the /metrics HTTP endpoint")
	healthPort  = flag.Int("health-port", 8080, "Port for the /health HTTP endpoint")
)

func main() {
	flag.Parse()
	log.SetFlags(log.LstdFlags | log.Lshortfile)
	log.Println("[main] Starting poolprobe")

	all, err := poolyaml.Load(*configPath)
	if err != nil {
		log.Fatalf("[main] Failed to load pool configuration: %v", err)
	}
	settings, ok := poolyaml.ByName(all, *poolName)
	if !ok {
		log.Fatalf("[main] No pool named %q in %s", *poolName, *configPath)
	}
	log.Printf("[main] Configuration loaded: pool=%s max_size=%d", settings.Name, settings.MaxSize)

	sink := poolmetrics.NewSink(settings.Name)
	manager := redismanager.New(redismanager.Config{Addr: *redisAddr})

	builder := poolyaml.Apply[*redismanager.Conn](settings).ErrorSink(sink)

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	p, err := builder.Build(ctx, manager)
	cancel()
	if err != nil {
		log.Fatalf("[main] Failed to build pool %q: %v", settings.Name, err)
	}
	log.Printf("[main] Pool %q ready: %+v", settings.Name, p.State())

	metricsServer := startMetricsServer(*metricsPort)
	healthServer := startHealthServer(*healthPort, p, settings.Name)
	stopSampling := startMetricsSampling(p, settings.Name)

	if err := demoRun(p); err != nil {
		log.Printf("[main] demo Run failed: %v", err)
	}

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)

	log.Println("[main] poolprobe is ready. Waiting for shutdown signal...")
	sig := <-sigCh
	log.Printf("[main] Received signal %v, shutting down gracefully...", sig)

	close(stopSampling)

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer shutdownCancel()

	if err := healthServer.Shutdown(shutdownCtx); err != nil {
		log.Printf("[main] Health server shutdown error: %v", err)
	}
	if err := metricsServer.Shutdown(shutdownCtx); err != nil {
		log.Printf("[main] Metrics server shutdown error: %v", err)
	}

	log.Println("[main] Shutdown complete.")
}

// demoRun exercises Get/Run once at boot, checking that the pool can
// actually reach the backend. A failure is only logged by the caller;
// startup continues either way.
func demoRun(p *pool.Pool[*redismanager.Conn]) error {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	return p.Run(ctx, func(ctx context.Context, c *redismanager.Conn) (*redismanager.Conn, error) {
		return c, c.Ping(ctx).Err()
	})
}

func startMetricsServer(port int) *http.Server {
	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.Handler())
	server := &http.Server{
		Addr:         fmt.Sprintf(":%d", port),
		Handler:      mux,
		ReadTimeout:  10 * time.Second,
		WriteTimeout: 10 * time.Second,
	}
	go func() {
		log.Printf("[main] Metrics server listening on :%d/metrics", port)
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Printf("[main] Metrics server error: %v", err)
		}
	}()
	return server
}

// healthReport is the /health response body for the single pool this probe
// manages.
type healthReport struct {
	Status    string    `json:"status"`
	Timestamp string    `json:"timestamp"`
	Pool      string    `json:"pool"`
	State     poolState `json:"state"`
}

type poolState struct {
	Connections     int `json:"connections"`
	IdleConnections int `json:"idle_connections"`
}

func startHealthServer(port int, p *pool.Pool[*redismanager.Conn], name string) *http.Server {
	mux := http.NewServeMux()
	mux.HandleFunc("/health", func(w http.ResponseWriter, r *http.Request) {
		s := p.State()
		report := healthReport{
			Status:    "healthy",
			Timestamp: time.Now().UTC().Format(time.RFC3339),
			Pool:      name,
			State:     poolState{Connections: s.Connections, IdleConnections: s.IdleConnections},
		}
		w.Header().Set("Content-Type", "application/json")
		json.NewEncoder(w).Encode(report)
	})
	server := &http.Server{
		Addr:         fmt.Sprintf(":%d", port),
		Handler:      mux,
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 15 * time.Second,
	}
	go func() {
		log.Printf("[main] Health server listening on :%d/health", port)
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Printf("[main] Health server error: %v", err)
		}
	}()
	return server
}

// startMetricsSampling periodically reports State() to poolmetrics, since
// that package cannot reach into pool.Pool[C]'s generic internals itself.
// Returns a channel the caller closes to stop sampling.
func startMetricsSampling(p *pool.Pool[*redismanager.Conn], name string) chan struct{} {
	stop := make(chan struct{})
	go func() {
		ticker := time.NewTicker(5 * time.Second)
		defer ticker.Stop()
		for {
			select {
			case <-stop:
				return
			case <-ticker.C:
				s := p.State()
				poolmetrics.Observe(name, s.Connections, s.IdleConnections)
			}
		}
	}()
	return stop
}
