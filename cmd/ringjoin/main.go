// Command ringjoin runs a passive station: it connects to a monitor,
// relays the token, and appends one broadcast data frame each time it
// receives the token. This is a minimal demonstration loop, not an
// interactive client; a real embedding application drives Station's
// public operations directly.
package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/pflag"

	"github.com/ringcast/ringd/internal/config"
	"github.com/ringcast/ringd/internal/telemetry"
	"github.com/ringcast/ringd/pkg/ring"
	"github.com/ringcast/ringd/pkg/ring/metrics"
	"github.com/ringcast/ringd/pkg/ring/station"
	"github.com/ringcast/ringd/pkg/ring/transport"
	"github.com/ringcast/ringd/pkg/ring/wire"
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
		fmt.Printf("usage: %s [options] [env_file]\n\noptions:\n%s\nconfiguration is read from RINGJOIN_* environment variables, or from env_file if given\n", os.Args[0], pflag.CommandLine.FlagUsages())
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

	cfg, err := config.LoadStationFrom(env)
	if err != nil {
		fmt.Fprintf(os.Stderr, "error: load config: %v\n", err)
		os.Exit(1)
	}
	if err := cfg.Validate(); err != nil {
		fmt.Fprintf(os.Stderr, "error: invalid config: %v\n", err)
		os.Exit(1)
	}

	log := telemetry.Component(telemetry.NewLogger(cfg.LogLevel), "station")

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

	met := metrics.NewStation()
	id := ring.NewWorkStationID(cfg.StationID)
	s := station.New(id, kp, sock, log, met)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	go sock.RunReceiver()
	go sock.RunSender()

	if err := s.Connect(cfg.MonitorAddr, cfg.Password); err != nil {
		fmt.Fprintf(os.Stderr, "error: connect: %v\n", err)
		os.Exit(1)
	}
	log.Info().Stringer("monitor", cfg.MonitorAddr).Msg("joining ring")

	ticker := time.NewTicker(20 * time.Millisecond)
	defer ticker.Stop()

loop:
	for {
		select {
		case <-ctx.Done():
			break loop
		case <-ticker.C:
			if err := s.RecvNext(); err != nil {
				log.Debug().Err(err).Msg("recv next")
			}
			if tok, ok := s.HeldToken(); ok {
				log.Info().Int("frames", len(tok.Frames)).Msg("holding token")
				s.AppendFrame(wire.FrameData, func(f *wire.TokenFrame) {
					f.Mode = wire.SendBroadcast
					f.Payload = []byte("hello from " + string(id))
				})
				if err := s.PassOnToken(); err != nil {
					log.Warn().Err(err).Msg("pass on token")
				}
			}
		}
	}

	s.Shutdown()
	sock.CloseSender()
	sock.Close()
	log.Info().Msg("station shut down")
}
