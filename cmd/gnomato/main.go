package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"io"
	"log/slog"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/gitter-badger/gnomato/internal/audit"
	"github.com/gitter-badger/gnomato/internal/bootstrap"
	"github.com/gitter-badger/gnomato/internal/bus"
	"github.com/gitter-badger/gnomato/internal/config"
	"github.com/gitter-badger/gnomato/internal/ipc"
	otelPkg "github.com/gitter-badger/gnomato/internal/otel"
	"github.com/gitter-badger/gnomato/internal/persistence"
	"github.com/gitter-badger/gnomato/internal/state"
	"github.com/gitter-badger/gnomato/internal/telemetry"
	"github.com/godbus/dbus/v5"
)

// Version is set via ldflags at build time: -ldflags "-X main.Version=..."
var Version = "v0.9-dev"

func printUsage() {
	fmt.Fprintf(os.Stderr, `Usage of %s:

SERVICE:
  %s                          Bootstrap the task store and publish state on the session bus
  %s -quiet                   Same, logging to <home>/logs/system.jsonl only

SUBCOMMANDS:
  %s tasks [list]             List pending tasks
  %s tasks add <name>         Add a task
  %s tasks done <id>          Mark a task done
  %s tasks rm <id>            Delete a task
  %s elapsed                  Ask the running instance for GetElapsedTime
  %s doctor [-json]           Run diagnostic checks

FLAGS:
`, os.Args[0], os.Args[0], os.Args[0], os.Args[0], os.Args[0], os.Args[0], os.Args[0], os.Args[0], os.Args[0])
	flag.PrintDefaults()
	fmt.Fprintf(os.Stderr, `
ENVIRONMENT VARIABLES:
  GNOMATO_HOME            Data directory (default: ~/.gnomato)
  GNOMATO_LOG_LEVEL       debug, info, warn or error
  GNOMATO_DB_PATH         Task database path (default: <home>/gnomato.db)
  GNOMATO_BUS_ENABLED     Set to false to run without the state publisher
`)
}

func main() {
	quiet := flag.Bool("quiet", false, "write logs to the log file only")
	flag.Usage = printUsage
	flag.Parse()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if args := flag.Args(); len(args) > 0 {
		switch strings.ToLower(strings.TrimSpace(args[0])) {
		case "help", "-h", "--help":
			printUsage()
			os.Exit(0)
		case "tasks":
			os.Exit(runTasksCommand(ctx, args[1:], os.Stdout))
		case "elapsed":
			os.Exit(runElapsedCommand(ctx, args[1:], os.Stdout))
		case "doctor":
			os.Exit(runDoctorCommand(ctx, args[1:]))
		default:
			fmt.Fprintf(os.Stderr, "unknown command %q\n\n", args[0])
			printUsage()
			os.Exit(2)
		}
	}

	cfg, err := config.Load()
	if err != nil {
		fatalStartup(nil, "E_CONFIG_LOAD", err)
	}

	level := new(slog.LevelVar)
	level.Set(telemetry.ParseLevel(cfg.LogLevel))
	// Opened before the logger so E_LOGGER_INIT failures are journaled.
	journal, err := audit.Open(cfg.HomeDir)
	if err != nil {
		fatalStartup(nil, "E_AUDIT_INIT", err)
	}
	defer journal.Close()
	fail := func(logger *slog.Logger, reasonCode string, err error) {
		journal.Record("fatal", "runtime.startup", reasonCode, errorText(err))
		fatalStartup(logger, reasonCode, err)
	}

	logger, closer, err := telemetry.NewLogger(cfg.HomeDir, level, *quiet)
	if err != nil {
		fail(nil, "E_LOGGER_INIT", err)
	}
	defer closer.Close()
	slog.SetDefault(logger)
	logger.Info("startup phase", "phase", "config_loaded", "config_fingerprint", cfg.Fingerprint())

	if cfg.NeedsDefault {
		if _, err := config.WriteDefault(cfg.HomeDir); err != nil {
			fail(logger, "E_CONFIG_WRITE", err)
		}
		logger.Info("default config.yaml written", "home", cfg.HomeDir)
	}

	if err := runDaemon(ctx, cfg, logger, level, journal, dialSessionBus); err != nil {
		var se *startupError
		if errors.As(err, &se) {
			fail(logger, se.code, se.err)
		}
		fail(logger, "E_RUNTIME", err)
	}
}

// busConn is a session-bus connection the daemon owns.
type busConn interface {
	ipc.Conn
	Close() error
}

type sessionDialer func(context.Context) (busConn, error)

// onServing, when set, runs once start-up has finished.
var onServing func()

func dialSessionBus(ctx context.Context) (busConn, error) {
	conn, err := ipc.ConnectSession(ctx)
	if err != nil {
		return nil, err
	}
	return conn, nil
}

// startupError carries the reason code reported by fatalStartup.
type startupError struct {
	code string
	err  error
}

func (e *startupError) Error() string { return e.code + ": " + e.err.Error() }
func (e *startupError) Unwrap() error { return e.err }

// runDaemon is the composition root: bootstrap, store, state holder and
// publisher, then wait for ctx. Teardown runs publisher first, store last.
func runDaemon(ctx context.Context, cfg config.Config, logger *slog.Logger, level *slog.LevelVar,
	journal *audit.Journal, dial sessionDialer) error {
	eventBus := bus.New()

	// No-op when disabled.
	otelProvider, err := otelPkg.Init(ctx, otelPkg.Config{
		Enabled:     cfg.Telemetry.Enabled,
		Exporter:    cfg.Telemetry.Exporter,
		Endpoint:    cfg.Telemetry.Endpoint,
		ServiceName: cfg.Telemetry.ServiceName,
		SampleRate:  cfg.Telemetry.SampleRate,
	})
	if err != nil {
		return &startupError{code: "E_OTEL_INIT", err: err}
	}
	defer func() {
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := otelProvider.Shutdown(shutdownCtx); err != nil {
			logger.Warn("telemetry shutdown failed", "error", err)
		}
	}()
	metrics, err := otelPkg.NewMetrics(otelProvider.Meter)
	if err != nil {
		return &startupError{code: "E_OTEL_INIT", err: err}
	}

	db, err := bootstrap.EnsureReady(ctx, cfg.DBPath, logger)
	if err != nil {
		if errors.Is(err, persistence.ErrConnection) {
			return &startupError{code: "E_STORE_OPEN", err: err}
		}
		return &startupError{code: "E_BOOTSTRAP", err: err}
	}
	store := persistence.NewStore(db, eventBus,
		persistence.WithTracer(otelProvider.Tracer),
		persistence.WithMetrics(metrics),
	)
	logger.Info("startup phase", "phase", "store_ready", "path", cfg.DBPath)

	elapsed := state.NewElapsed(eventBus)

	sub := eventBus.Subscribe("")
	go logEvents(logger, sub)
	journalSub := eventBus.Subscribe("")
	go journal.Follow(journalSub)

	var (
		publisher *ipc.Publisher
		conn      busConn
	)
	if cfg.Bus.Enabled {
		conn, publisher = startPublisher(ctx, cfg, logger, dial, elapsed, eventBus, otelProvider, metrics)
	} else {
		logger.Info("state publisher disabled")
	}

	watcher := config.NewWatcher(cfg.HomeDir, logger)
	if err := watcher.Start(ctx); err != nil {
		logger.Warn("config watcher unavailable; log level reload disabled", "error", err)
	} else {
		go func() {
			for ev := range watcher.Events() {
				logger.Info("config hot-reload event", "path", ev.Path, "op", ev.Op.String())
				reloadLogLevel(logger, level)
			}
		}()
	}

	logger.Info("startup phase", "phase", "serving")
	if onServing != nil {
		onServing()
	}
	<-ctx.Done()
	logger.Info("shutdown signal received")

	if publisher != nil {
		if err := publisher.Close(); err != nil {
			logger.Warn("state publisher close failed", "error", err)
		}
	}
	if conn != nil {
		_ = conn.Close()
	}
	if err := store.Close(); err != nil {
		logger.Error("task store close failed", "error", err)
	}
	for name, s := range map[string]*bus.Subscription{"log": sub, "audit": journalSub} {
		if n := s.Dropped(); n > 0 {
			logger.Warn("event listener fell behind", "listener", name, "dropped", n)
		}
		eventBus.Unsubscribe(s)
	}
	logger.Info("shutdown complete")
	return nil
}

// startPublisher connects to the session bus and registers the state
// object. Failures are logged and the daemon continues without IPC; the
// returned publisher, when non-nil, must still be closed.
func startPublisher(ctx context.Context, cfg config.Config, logger *slog.Logger, dial sessionDialer,
	elapsed *state.Elapsed, eventBus *bus.Bus, provider *otelPkg.Provider, metrics *otelPkg.Metrics) (busConn, *ipc.Publisher) {
	conn, err := dial(ctx)
	if err != nil {
		logger.Warn("session bus unavailable; continuing without IPC", "error", err)
		return nil, nil
	}
	publisher := ipc.NewPublisher(conn, elapsed.Current, ipc.Config{
		Name:       cfg.Bus.Name,
		ObjectPath: dbus.ObjectPath(cfg.Bus.ObjectPath),
		Interface:  cfg.Bus.Interface,
	},
		ipc.WithLogger(logger),
		ipc.WithEventBus(eventBus),
		ipc.WithTracer(provider.Tracer),
		ipc.WithMetrics(metrics),
	)
	if err := publisher.Start(ctx); err != nil {
		logger.Warn("state publisher registration failed; continuing without IPC", "error", err)
	}
	return conn, publisher
}

func reloadLogLevel(logger *slog.Logger, level *slog.LevelVar) {
	cfg, err := config.Load()
	if err != nil {
		logger.Error("config.yaml reload rejected; retaining previous settings", "error", err)
		return
	}
	next := telemetry.ParseLevel(cfg.LogLevel)
	if next != level.Level() {
		level.Set(next)
		logger.Info("log level reloaded", "log_level", cfg.LogLevel, "config_fingerprint", cfg.Fingerprint())
	}
}

// logEvents mirrors in-process events into the debug log until sub closes.
func logEvents(logger *slog.Logger, sub *bus.Subscription) {
	for ev := range sub.Ch() {
		switch p := ev.Payload.(type) {
		case bus.TaskEvent:
			logger.Debug("task event", "topic", ev.Topic, "task_id", p.TaskID, "rows_affected", p.RowsAffected)
		case bus.PublisherStateEvent:
			logger.Debug("publisher event", "topic", ev.Topic, "from", p.From, "to", p.To, "reason", p.Reason)
		case bus.ElapsedChangedEvent:
			logger.Debug("elapsed changed", "elapsed", p.Elapsed)
		default:
			logger.Debug("bus event", "topic", ev.Topic)
		}
	}
}

func fatalStartup(logger *slog.Logger, reasonCode string, err error) {
	writeFatal(os.Stderr, logger, reasonCode, err)
	os.Exit(1)
}

func errorText(err error) string {
	if err == nil {
		return ""
	}
	return err.Error()
}

func writeFatal(w io.Writer, logger *slog.Logger, reasonCode string, err error) {
	message := errorText(err)
	if logger != nil {
		logger.Error("startup failure", "reason_code", reasonCode, "error", message)
		return
	}
	fmt.Fprintf(
		w,
		`{"timestamp":"%s","level":"ERROR","component":"runtime","trace_id":"-","msg":"startup failure","reason_code":%q,"error":%q}`+"\n",
		time.Now().UTC().Format(time.RFC3339Nano),
		reasonCode,
		message,
	)
}
