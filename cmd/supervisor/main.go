// Command supervisor is the on-device orchestrator for the companion
// robot: it opens the Reflex and Face serial links, runs the 50 Hz
// control loop, supervises the vision/audio/planner workers, and serves
// the dashboard API.
//
// Exit codes: 0 on clean shutdown, 1 on an unhandled runtime error,
// 2 on a configuration error.
package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/spf13/cobra"

	"github.com/jangala-dev/robot-supervisor/arbitration"
	"github.com/jangala-dev/robot-supervisor/config"
	"github.com/jangala-dev/robot-supervisor/faceclient"
	"github.com/jangala-dev/robot-supervisor/loop"
	"github.com/jangala-dev/robot-supervisor/metrics"
	"github.com/jangala-dev/robot-supervisor/mockdev"
	"github.com/jangala-dev/robot-supervisor/mockworker"
	"github.com/jangala-dev/robot-supervisor/params"
	"github.com/jangala-dev/robot-supervisor/planner"
	"github.com/jangala-dev/robot-supervisor/reflexclient"
	"github.com/jangala-dev/robot-supervisor/rlog"
	"github.com/jangala-dev/robot-supervisor/transport"
	"github.com/jangala-dev/robot-supervisor/webapi"
	"github.com/jangala-dev/robot-supervisor/workerbus"
)

type options struct {
	configPath string
	logLevel   string
	webAddr    string
	mock       bool
}

// configError marks failures that should exit with status 2.
type configError struct{ err error }

func (e configError) Error() string { return e.err.Error() }
func (e configError) Unwrap() error { return e.err }

func main() {
	var opts options
	root := &cobra.Command{
		Use:           "supervisor",
		Short:         "Companion-robot supervisor core",
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return run(cmd.Context(), opts)
		},
	}
	root.Flags().StringVar(&opts.configPath, "config", "", "path to YAML config file")
	root.Flags().StringVar(&opts.logLevel, "log-level", "", "override log level (debug|info|warn|error)")
	root.Flags().StringVar(&opts.webAddr, "web-addr", "", "override web API listen address")
	root.Flags().BoolVar(&opts.mock, "mock", false, "run against in-process fake MCUs and workers")

	if err := root.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, "supervisor:", err)
		var ce configError
		if errors.As(err, &ce) {
			os.Exit(2)
		}
		os.Exit(1)
	}
}

func run(parent context.Context, opts options) error {
	cfg := config.Default()
	if opts.configPath != "" {
		loaded, err := config.Load(opts.configPath)
		if err != nil {
			return configError{err}
		}
		cfg = loaded
	}
	if opts.logLevel != "" {
		cfg.LogLevel = opts.logLevel
	}
	if opts.webAddr != "" {
		cfg.WebAddr = opts.webAddr
	}

	log := rlog.New(cfg.LogLevel, opts.mock)
	log.Info().Bool("mock", opts.mock).Str("web_addr", cfg.WebAddr).Msg("supervisor starting")

	ctx, stop := signal.NotifyContext(parent, os.Interrupt, syscall.SIGTERM)
	defer stop()

	var reflexDialer, faceDialer transport.Dialer
	if opts.mock {
		rd, rpeers := transport.NewMockDialer()
		fd, fpeers := transport.NewMockDialer()
		go servePeers(ctx, rpeers, mockdev.NewReflex().Serve)
		go servePeers(ctx, fpeers, mockdev.NewFace().Serve)
		reflexDialer, faceDialer = rd, fd
	} else {
		reflexDialer = transport.NewSerialDialer(cfg.Reflex.Port, cfg.Reflex.Baud)
		faceDialer = transport.NewSerialDialer(cfg.Face.Port, cfg.Face.Baud)
	}

	reflexTr := transport.Start(ctx, reflexDialer)
	defer reflexTr.Close()
	faceTr := transport.Start(ctx, faceDialer)
	defer faceTr.Close()

	reflex := reflexclient.New(reflexTr)
	face := faceclient.New(faceTr)

	promReg := prometheus.NewRegistry()
	mreg := metrics.NewRegistry(promReg)

	workers := workerbus.New(workerbus.Config{
		VisionArgv:  cfg.Workers.VisionArgv,
		AudioArgv:   cfg.Workers.AudioArgv,
		PlannerArgv: cfg.Workers.PlannerArgv,
	})
	workers.OnWorkerExit(func(worker string) {
		mreg.WorkerRespawns.WithLabelValues(worker).Inc()
	})
	workers.Start(ctx)
	if opts.mock {
		mockworker.Start(ctx, workers)
	}

	var pl planner.Planner = planner.NullPlanner{}
	if cfg.PlannerEnabled && cfg.PlannerURL != "" {
		pl = planner.New(cfg.PlannerURL)
	}

	reg := params.New()
	if err := config.DeclareParams(reg, cfg, reflex.SetConfig); err != nil {
		return configError{fmt.Errorf("config params: %w", err)}
	}

	core := loop.New(loop.Deps{
		Reflex:  reflex,
		Face:    face,
		Workers: workers,
		Planner: pl,
		Params:  reg,
		Arbiter: arbitration.New(),
		Metrics: mreg,
		Log:     rlog.Component(log, "loop"),
	})

	if _, ok := pl.(*planner.Client); ok {
		director := planner.NewDirector(pl, workers, cfg.RobotID, 0,
			rlog.Component(log, "planner"), mreg.PlannerRetries.Inc)
		go director.Run(ctx, core.Snapshot)
	}

	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.HandlerFor(promReg, promhttp.HandlerOpts{}))
	mux.Handle("/", webapi.NewRouter(core, reg, rlog.Component(log, "webapi")))
	srv := &http.Server{Addr: cfg.WebAddr, Handler: mux}

	srvErr := make(chan error, 1)
	go func() { srvErr <- srv.ListenAndServe() }()

	loopDone := make(chan struct{})
	go func() {
		core.Run(ctx)
		close(loopDone)
	}()

	var runErr error
	select {
	case <-ctx.Done():
	case err := <-srvErr:
		if err != nil && !errors.Is(err, http.ErrServerClosed) {
			runErr = fmt.Errorf("web server: %w", err)
		}
		stop()
	}

	<-loopDone

	shutCtx, cancel := context.WithTimeout(context.Background(), 3*time.Second)
	defer cancel()
	_ = srv.Shutdown(shutCtx)
	workers.Shutdown(shutCtx)

	log.Info().Msg("supervisor stopped")
	return runErr
}

// servePeers attaches a fresh fake-MCU session to every MCU-side pipe
// the MockDialer hands out, so transport reconnects find a live device
// again, same as plugging the cable back in.
func servePeers(ctx context.Context, peers <-chan net.Conn, serve func(context.Context, io.ReadWriteCloser)) {
	for {
		select {
		case <-ctx.Done():
			return
		case conn := <-peers:
			go serve(ctx, conn)
		}
	}
}
