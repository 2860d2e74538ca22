// togethr - shopping assistant chat client
package main

import (
	"io"
	"log/slog"
	"os"

	"github.com/ashureev/togethr/internal/config"
	"github.com/joho/godotenv"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"
)

func main() {
	if err := newRootCmd(os.Stdin, os.Stdout, os.Stderr).Execute(); err != nil {
		os.Exit(1)
	}
}

// rootOptions is shared by every subcommand.
type rootOptions struct {
	v      *viper.Viper
	cfg    *config.Config
	stdin  io.Reader
	stdout io.Writer
	stderr io.Writer
}

func newRootCmd(stdin io.Reader, stdout, stderr io.Writer) *cobra.Command {
	opts := &rootOptions{v: config.New(), stdin: stdin, stdout: stdout, stderr: stderr}

	cmd := &cobra.Command{
		Use:           "togethr",
		Short:         "Chat with the togethr shopping assistant",
		SilenceUsage:  true,
		SilenceErrors: false,
		PersistentPreRunE: func(cmd *cobra.Command, _ []string) error {
			return opts.load(cmd)
		},
	}
	cmd.SetIn(stdin)
	cmd.SetOut(stdout)
	cmd.SetErr(stderr)

	flags := cmd.PersistentFlags()
	flags.String("backend-url", "", "assistant backend base URL (env BACKEND_URL)")
	flags.String("db-path", "", "profile database path (env DB_PATH)")
	flags.Duration("http-timeout", 0, "backend request timeout (env HTTP_TIMEOUT)")
	flags.Duration("conversation-wait", 0, "max wait for a conversation id (env CONVERSATION_WAIT)")
	flags.String("log-level", "", "debug, info, warn or error (env LOG_LEVEL)")

	cmd.AddCommand(newChatCmd(opts), newServeCmd(opts))
	return cmd
}

// load reads .env, binds the flags that were set and installs the logger.
func (o *rootOptions) load(cmd *cobra.Command) error {
	if err := godotenv.Load(); err != nil {
		slog.Debug("No .env file found, using environment variables")
	}

	if err := config.BindFlags(o.v, cmd.Flags()); err != nil {
		return err
	}
	cfg, err := config.Load(o.v)
	if err != nil {
		return err
	}
	o.cfg = cfg

	// Logs go to stderr so the chat on stdout stays readable.
	logger := slog.New(slog.NewJSONHandler(o.stderr, &slog.HandlerOptions{
		Level: cfg.LogLevel,
	}))
	slog.SetDefault(logger)
	return nil
}
