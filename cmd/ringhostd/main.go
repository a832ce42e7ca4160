// Command ringhostd runs the active station (monitor) of a token-ring
// overlay: it admits passive stations and circulates the token among
// them.
package main

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"strconv"
	"syscall"
	"time"

	"github.com/rs/zerolog"
	"github.com/spf13/pflag"

	"github.com/ringcast/ringd/internal/audit"
	"github.com/ringcast/ringd/internal/config"
	"github.com/ringcast/ringd/internal/telemetry"
	"github.com/ringcast/ringd/pkg/ring"
	"github.com/ringcast/ringd/pkg/ring/metrics"
	"github.com/ringcast/ringd/pkg/ring/monitor"
	"github.com/ringcast/ringd/pkg/ring/transport"
)

var opt struct {
	Help bool
}

func init() {
	pflag.BoolVarP(&opt.Help, "help", "h", false, "Show this help text")
}

func main() {
	pflag.Parse()
	if pflag.NArg() > 1 || opt.Help {
		fmt.Printf("usage: %s [options] [env_file]\n\noptions:\n%s\nconfiguration is read from RINGD_* environment variables, or from env_file if given\n", os.Args[0], pflag.CommandLine.FlagUsages())
		if opt.Help {
			os.Exit(2)
		}
		os.Exit(0)
	}

	env := os.Environ()
	if pflag.NArg() == 1 {
		e, err := config.ReadEnvFile(pflag.Arg(0))
		if err != nil {
			fmt.Fprintf(os.Stderr, "error: read env file: %v\n", err)
			os.Exit(1)
		}
		env = e
	}

	cfg, err := config.LoadMonitorFrom(env)
	if err != nil {
		fmt.Fprintf(os.Stderr, "error: load config: %v\n", err)
		os.Exit(1)
	}
	if err := cfg.Validate(); err != nil {
		fmt.Fprintf(os.Stderr, "error: invalid config: %v\n", err)
		os.Exit(1)
	}

	log := telemetry.Component(telemetry.NewLogger(cfg.LogLevel), "monitor")

	kp, err := ring.GenerateKeypair()
	if err != nil {
		fmt.Fprintf(os.Stderr, "error: generate keypair: %v\n", err)
		os.Exit(1)
	}

	sock, err := transport.Listen(cfg.ListenAddr, log)
	if err != nil {
		fmt.Fprintf(os.Stderr, "error: listen: %v\n", err)
		os.Exit(1)
	}

	aud, err := audit.Open(cfg.AuditDBPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "error: open audit log: %v\n", err)
		os.Exit(1)
	}
	defer aud.Close()

	met := metrics.NewMonitor()
	if cfg.MetricsAddr != "" {
		mux := http.NewServeMux()
		mux.Handle("/metrics", met.Handler())
		mux.HandleFunc("/audit/events", auditEventsHandler(aud, log))
		go func() {
			if err := http.ListenAndServe(cfg.MetricsAddr, mux); err != nil {
				log.Warn().Err(err).Msg("metrics server stopped")
			}
		}()
	}

	m := monitor.New(monitor.Config{
		ID:                ring.NewWorkStationID(cfg.MonitorID),
		Password:          cfg.Password,
		AcceptConnections: cfg.AcceptConnections,
		MaxConnections:    cfg.MaxConnections,
		MaxPassoverTime:   cfg.MaxPassoverTime,
	}, kp, sock, log, met, aud)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	go sock.RunReceiver()
	go sock.RunSender()

	log.Info().Stringer("addr", sock.LocalAddr()).Msg("monitor listening")

	ticker := time.NewTicker(50 * time.Millisecond)
	defer ticker.Stop()

loop:
	for {
		select {
		case <-ctx.Done():
			break loop
		case <-ticker.C:
			m.RecvAll()
			if err := m.PollTokenPass(); err != nil {
				log.Debug().Err(err).Msg("poll token pass")
			}
		}
	}

	m.Shutdown()
	sock.CloseSender()
	sock.Close()
	log.Info().Msg("monitor shut down")
}

// auditEventsHandler serves the most recent audit log rows for a station,
// e.g. GET /audit/events?station=alice&limit=50, for operators debugging a
// station's admission/rotation history without opening the sqlite file
// directly.
func auditEventsHandler(aud *audit.Log, log zerolog.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		station := r.URL.Query().Get("station")
		if station == "" {
			http.Error(w, "missing station query parameter", http.StatusBadRequest)
			return
		}
		limit := 100
		if raw := r.URL.Query().Get("limit"); raw != "" {
			n, err := strconv.Atoi(raw)
			if err != nil || n <= 0 {
				http.Error(w, "invalid limit", http.StatusBadRequest)
				return
			}
			limit = n
		}

		events, err := aud.Recent(r.Context(), station, limit)
		if err != nil {
			log.Warn().Err(err).Str("station", station).Msg("audit query failed")
			http.Error(w, "query failed", http.StatusInternalServerError)
			return
		}

		w.Header().Set("Content-Type", "application/json")
		if err := json.NewEncoder(w).Encode(events); err != nil {
			log.Warn().Err(err).Msg("failed to encode audit events")
		}
	}
}
