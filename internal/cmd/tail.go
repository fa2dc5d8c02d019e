package cmd

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/makerGeek/claudiomiro/internal/config"
	"github.com/makerGeek/claudiomiro/internal/logger"
	"github.com/makerGeek/claudiomiro/internal/wsclient"
)

// NewTailCommand creates the tail command
func NewTailCommand() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "tail <project-path>",
		Short: "Follow a project's live events from a running server",
		Long: `Connect to a running dashboard server and print every frame it pushes
for one project. The connection is re-established with exponential backoff
when the server restarts; a server that rejects the project ends the command.

Examples:
  claudiomiro-ui tail ~/work/app
  claudiomiro-ui tail --url ws://127.0.0.1:8080/ws ~/work/app
  claudiomiro-ui tail --count 1 ~/work/app          # Print the snapshot and exit`,
		Args: cobra.ExactArgs(1),
		RunE: tailCommand,
	}

	cmd.Flags().String("url", "", "WebSocket endpoint (default: derived from host and port in the config)")
	cmd.Flags().Int("count", 0, "Exit after this many frames (0 = follow until interrupted)")

	return cmd
}

// tailCommand implements the tail command logic
func tailCommand(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfig(cmd)
	if err != nil {
		return err
	}

	endpoint, _ := cmd.Flags().GetString("url")
	if endpoint == "" {
		endpoint = endpointFor(cfg)
	}
	count, _ := cmd.Flags().GetInt("count")

	// the server resolves paths on its side; send it an absolute one
	project, err := filepath.Abs(args[0])
	if err != nil {
		return fmt.Errorf("resolve %s: %w", args[0], err)
	}

	ctx, cancel := signal.NotifyContext(cmdContext(cmd), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	opts := wsclient.Options{
		InitialDelay: cfg.Reconnect.InitialDelay,
		MaxDelay:     cfg.Reconnect.MaxDelay,
		Multiplier:   cfg.Reconnect.Multiplier,
		Logger:       logger.NewConsoleLogger(cmd.ErrOrStderr(), cfg.LogLevel),
	}
	return runTail(ctx, cmd.OutOrStdout(), endpoint, project, opts, count)
}

func endpointFor(cfg *config.Config) string {
	return fmt.Sprintf("ws://%s/ws", cfg.Address())
}

// runTail prints frames until ctx is done, count frames were printed, or the
// server closes the connection for good.
func runTail(ctx context.Context, output io.Writer, endpoint, project string, opts wsclient.Options, count int) error {
	stopped := make(chan struct{}, 1)
	userHook := opts.OnStateChange
	opts.OnStateChange = func(s wsclient.State) {
		if userHook != nil {
			userHook(s)
		}
		if s == wsclient.StateDisconnected {
			select {
			case stopped <- struct{}{}:
			default:
			}
		}
	}

	client := wsclient.New(endpoint, opts)
	client.Connect(project)
	defer client.Disconnect()

	printed := 0
	for {
		select {
		case <-ctx.Done():
			return nil
		case frame := <-client.Frames():
			printFrame(output, frame.Event, frame.Data)
			printed++
			if count > 0 && printed >= count {
				return nil
			}
		case <-stopped:
			// a disconnect with no reconnect pending is final
			if client.State() == wsclient.StateDisconnected && client.Attempts() == 0 {
				drain(output, client)
				return fmt.Errorf("server closed the connection for %s", project)
			}
		}
	}
}

// drain prints frames already buffered, such as the error frame that
// preceded a rejection
func drain(output io.Writer, client *wsclient.Client) {
	for {
		select {
		case frame := <-client.Frames():
			printFrame(output, frame.Event, frame.Data)
		case <-time.After(50 * time.Millisecond):
			return
		}
	}
}

func printFrame(output io.Writer, event string, data any) {
	body, err := json.Marshal(data)
	if err != nil {
		body = []byte(fmt.Sprintf("%v", data))
	}
	fmt.Fprintf(output, "[%s] %s %s\n", time.Now().Format("15:04:05"), logger.EventColor(event).Sprint(event), body)
}
