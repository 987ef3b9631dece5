package app

import (
	"bufio"
	"crypto/rand"
	"encoding/base64"
	"errors"
	"fmt"
	"io"
	"os"
	"os/signal"
	"strings"
	"syscall"

	"github.com/spf13/cobra"

	"netreaper/cmd/security/password"
	"netreaper/cmd/security/token"
)

// Version is stamped at build time with -ldflags "-X netreaper/cmd/internal/app.Version=...".
var Version = "dev"

// Run is the CLI entrypoint used by cmd/netreaperd.
// It returns an error instead of calling os.Exit to keep defers effective.
func Run() error {
	return NewRootCmd().Execute()
}

// NewRootCmd builds the netreaperd command tree.
func NewRootCmd() *cobra.Command {
	root := &cobra.Command{
		Use:          "netreaperd",
		Short:        "NetReaper command gateway",
		Long:         "Authenticated HTTP and WebSocket gateway for running allow-listed NetReaper commands and scans.",
		Version:      Version,
		SilenceUsage: true,
	}

	root.AddCommand(
		serveCmd(),
		hashPasswordCmd(),
		tokenCmd(),
	)
	return root
}

func serveCmd() *cobra.Command {
	var configPath string

	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Start the gateway",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			var file map[string]string
			if configPath != "" {
				var err error
				if file, err = LoadFile(configPath); err != nil {
					return err
				}
			}
			env := NewEnv(os.Getenv, file)

			cfg, err := LoadConfig(env)
			if err != nil {
				return err
			}
			log := NewLogger(cfg.LogLevel, cfg.LogFormat, cmd.OutOrStdout())

			ctx, cancel := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
			defer cancel()

			a, err := New(ctx, cfg, env, log)
			if err != nil {
				log.Error("server.init.fail", "err", err)
				return err
			}
			return a.Run(ctx)
		},
	}
	cmd.Flags().StringVarP(&configPath, "config", "c", "", "TOML config file (environment variables take precedence)")
	return cmd
}

func hashPasswordCmd() *cobra.Command {
	var useBcrypt bool

	cmd := &cobra.Command{
		Use:   "hash-password",
		Short: "Hash a password read from stdin for NETREAPER_PASSWORD",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			pw, err := readSecretLine(cmd.InOrStdin())
			if err != nil {
				return err
			}
			cfg, err := password.FromEnv()
			if err != nil {
				return err
			}

			var hash string
			if useBcrypt {
				hash, err = cfg.HashBcrypt(pw)
			} else {
				hash, err = cfg.Hash(pw)
			}
			if err != nil {
				return err
			}
			_, err = fmt.Fprintln(cmd.OutOrStdout(), hash)
			return err
		},
	}
	cmd.Flags().BoolVar(&useBcrypt, "bcrypt", false, "emit a bcrypt hash instead of argon2id")
	return cmd
}

func tokenCmd() *cobra.Command {
	var size int

	cmd := &cobra.Command{
		Use:   "token",
		Short: "Generate a random value for NETREAPER_SECRET or NETREAPER_API_TOKEN",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			if size < token.MinKeyBytes {
				return fmt.Errorf("--bytes must be at least %d", token.MinKeyBytes)
			}
			buf := make([]byte, size)
			if _, err := rand.Read(buf); err != nil {
				return err
			}
			_, err := fmt.Fprintln(cmd.OutOrStdout(), base64.RawURLEncoding.EncodeToString(buf))
			return err
		},
	}
	cmd.Flags().IntVar(&size, "bytes", token.MinKeyBytes, "random bytes before encoding")
	return cmd
}

// readSecretLine returns the first line of r without its line ending.
func readSecretLine(r io.Reader) (string, error) {
	line, err := bufio.NewReader(r).ReadString('\n')
	if err != nil && !errors.Is(err, io.EOF) {
		return "", err
	}
	line = strings.TrimRight(line, "\r\n")
	if line == "" {
		return "", errors.New("no password on stdin")
	}
	return line, nil
}
