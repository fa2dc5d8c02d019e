package cmd

import (
	"context"
	"fmt"
	"io"
	"os/signal"
	"strings"
	"syscall"

	"github.com/gin-gonic/gin"
	"github.com/spf13/cobra"

	"github.com/makerGeek/claudiomiro/internal/config"
	"github.com/makerGeek/claudiomiro/internal/hub"
	"github.com/makerGeek/claudiomiro/internal/journal"
	"github.com/makerGeek/claudiomiro/internal/logger"
	"github.com/makerGeek/claudiomiro/internal/projectpath"
	"github.com/makerGeek/claudiomiro/internal/server"
	"github.com/makerGeek/claudiomiro/internal/watcher"
)

// NewServeCommand creates the serve command
func NewServeCommand() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Run the dashboard server",
		Long: `Run the dashboard HTTP and WebSocket server.

Configuration is loaded from ./claudiomiro-ui.yaml if present.
CLI flags override configuration file settings.

Examples:
  claudiomiro-ui serve
  claudiomiro-ui serve --port 8080 --allow ~/work
  claudiomiro-ui serve --static-dir ./web/dist --log-dir ./logs
  claudiomiro-ui serve --no-journal --log-level debug`,
		Args: cobra.NoArgs,
		RunE: serveCommand,
	}

	cmd.Flags().String("host", "", "Listen host (default: 127.0.0.1)")
	cmd.Flags().Int("port", 0, "Listen port (default: 3000)")
	cmd.Flags().StringSlice("allow", nil, "Project root allowed to be opened (repeatable)")
	cmd.Flags().String("static-dir", "", "Directory of the compiled browser UI")
	cmd.Flags().String("log-level", "", "Log level: trace, debug, info, warn, error")
	cmd.Flags().String("log-dir", "", "Directory for per-run log files")
	cmd.Flags().Bool("no-journal", false, "Do not record broadcast frames in the event journal")

	return cmd
}

// resolveServeConfig loads the config file and applies the flags that were set
func resolveServeConfig(cmd *cobra.Command) (*config.Config, error) {
	cfg, err := loadConfig(cmd)
	if err != nil {
		return nil, err
	}

	flags := cmd.Flags()
	var host, staticDir, logLevel, logDir *string
	var port *int
	var noJournal *bool
	if flags.Changed("host") {
		v, _ := flags.GetString("host")
		host = &v
	}
	if flags.Changed("port") {
		v, _ := flags.GetInt("port")
		port = &v
	}
	if flags.Changed("static-dir") {
		v, _ := flags.GetString("static-dir")
		staticDir = &v
	}
	if flags.Changed("log-level") {
		v, _ := flags.GetString("log-level")
		logLevel = &v
	}
	if flags.Changed("log-dir") {
		v, _ := flags.GetString("log-dir")
		logDir = &v
	}
	if flags.Changed("no-journal") {
		v, _ := flags.GetBool("no-journal")
		noJournal = &v
	}
	allowed, _ := flags.GetStringSlice("allow")

	cfg.MergeWithFlags(host, port, allowed, staticDir, logLevel, logDir, noJournal)

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}
	if err := cfg.ResolveJournalPath(); err != nil {
		return nil, fmt.Errorf("failed to resolve journal path: %w", err)
	}
	return cfg, nil
}

// buildLogger returns the console logger, teed into a file logger when a log
// directory is configured. The returned close func releases the file.
func buildLogger(cfg *config.Config, w io.Writer) (logger.Logger, func(), error) {
	console := logger.NewConsoleLogger(w, cfg.LogLevel)
	if cfg.LogDir == "" {
		return console, func() {}, nil
	}
	file, err := logger.NewFileLogger(cfg.LogDir, cfg.LogLevel)
	if err != nil {
		return nil, nil, err
	}
	return logger.Tee{console, file}, func() { file.Close() }, nil
}

// buildServer wires the journal, hub and validator into a Server
func buildServer(cfg *config.Config, log logger.Logger) (*server.Server, error) {
	hubOpts := hub.Options{
		Logger: log,
		WatcherFactory: hub.DefaultWatcherFactory(watcher.Options{
			SettleWindow:  cfg.SettleWindow,
			StabilityPoll: cfg.StabilityPoll,
			Logger:        log,
		}),
	}

	var store *journal.Store
	if cfg.Journal.Enabled {
		var err error
		store, err = journal.NewStore(cfg.Journal.DBPath, cfg.Journal.MaxEventsPerProject)
		if err != nil {
			return nil, fmt.Errorf("failed to open event journal: %w", err)
		}
		hubOpts.Recorder = store
		log.LogInfo(fmt.Sprintf("event journal at %s", store.Path()))
	}

	validator := projectpath.NewValidator(cfg.AllowedPaths)
	if roots := validator.AllowedRoots(); len(roots) > 0 {
		log.LogInfo("allowed project roots: " + strings.Join(roots, ", "))
	} else {
		log.LogWarn("no allowed paths configured: any project with a state root can be opened")
	}

	return server.New(server.Options{
		Addr:      cfg.Address(),
		Validator: validator,
		Hub:       hub.New(hubOpts),
		Journal:   store,
		StaticDir: cfg.StaticDir,
		Logger:    log,
		Version:   Version,
	}), nil
}

// serveCommand implements the serve command logic
func serveCommand(cmd *cobra.Command, args []string) error {
	cfg, err := resolveServeConfig(cmd)
	if err != nil {
		return err
	}

	log, closeLog, err := buildLogger(cfg, cmd.ErrOrStderr())
	if err != nil {
		return fmt.Errorf("failed to create file logger: %w", err)
	}
	defer closeLog()

	gin.SetMode(gin.ReleaseMode)
	srv, err := buildServer(cfg, log)
	if err != nil {
		return err
	}

	ctx, cancel := signal.NotifyContext(cmdContext(cmd), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	return srv.Run(ctx)
}

func cmdContext(cmd *cobra.Command) context.Context {
	if ctx := cmd.Context(); ctx != nil {
		return ctx
	}
	return context.Background()
}
