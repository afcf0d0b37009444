// Package cmd implements the notesync command line interface.
package cmd

import (
	"bufio"
	"context"
	"fmt"
	"io"
	"os"
	"strings"

	"github.com/charmbracelet/lipgloss"
	"github.com/spf13/cobra"
	"golang.org/x/term"

	"notesync/internal/config"
	"notesync/internal/credentials"
	"notesync/internal/logging"
	"notesync/internal/remote"
	"notesync/internal/store"
	"notesync/internal/sync"
)

// Version is set at build time
var Version = "dev"

var (
	labelStyle = lipgloss.NewStyle().Faint(true)
	okStyle    = lipgloss.NewStyle().Foreground(lipgloss.Color("2")).Bold(true)
	failStyle  = lipgloss.NewStyle().Foreground(lipgloss.Color("1")).Bold(true)
	dimStyle   = lipgloss.NewStyle().Foreground(lipgloss.Color("8"))
)

// Options carries test overrides for the CLI.
type Options struct {
	Keyring    credentials.Keyring
	ConfigPath string
}

// Execute runs the CLI with the given arguments and IO writers.
func Execute(args []string, stdout, stderr io.Writer) int {
	return ExecuteWithOptions(args, stdout, stderr, nil)
}

// ExecuteWithOptions runs the CLI with injectable dependencies.
func ExecuteWithOptions(args []string, stdout, stderr io.Writer, opts *Options) int {
	rootCmd := NewRoot(stdout, stderr, opts)

	rootCmd.SetArgs(args)
	rootCmd.SetOut(stdout)
	rootCmd.SetErr(stderr)

	if err := rootCmd.Execute(); err != nil {
		_, _ = fmt.Fprintln(stderr, "Error:", err)
		return 1
	}
	return 0
}

// NewRoot creates the root command with injectable IO.
func NewRoot(stdout, stderr io.Writer, opts *Options) *cobra.Command {
	if opts == nil {
		opts = &Options{}
	}
	if opts.Keyring == nil {
		opts.Keyring = credentials.NewSystemKeyring()
	}

	var configPath string
	var verbose bool

	cmd := &cobra.Command{
		Use:           "notesync",
		Short:         "Mirror local notes to a remote task service",
		Long:          "notesync keeps a local note store synchronized with a remote hosted task-list service.",
		Version:       Version,
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	cmd.PersistentFlags().StringVar(&configPath, "config", "", "config file path")
	cmd.PersistentFlags().BoolVarP(&verbose, "verbose", "v", false, "enable debug logging")

	loadConfig := func() (*config.Config, error) {
		path := configPath
		if path == "" {
			path = opts.ConfigPath
		}
		if path == "" {
			path = config.DefaultConfigPath()
		}
		cfg, err := config.Load(path)
		if err != nil {
			return nil, err
		}

		level, err := logging.ParseLevel(cfg.Logging.Level)
		if err != nil {
			return nil, err
		}
		if verbose {
			level = logging.LevelDebug
		}
		logging.SetLevel(level)
		if cfg.Logging.File != "" {
			logging.SetLogFile(cfg.Logging.File, cfg.Logging.MaxSizeMB, cfg.Logging.MaxBackups)
		}
		return cfg, nil
	}

	cmd.AddCommand(newSyncCmd(stdout, opts, loadConfig))
	cmd.AddCommand(newStatusCmd(stdout, opts, loadConfig))
	cmd.AddCommand(newAuthCmd(stdout, opts, loadConfig))
	return cmd
}

func clientOptions(cfg *config.Config, kr credentials.Keyring) remote.Options {
	return remote.Options{
		BaseURL:           cfg.Remote.BaseURL,
		Tokens:            &keyringTokens{keyring: kr, account: cfg.Remote.Account},
		Timeout:           cfg.RequestTimeout(),
		MaxPendingUpdates: cfg.Remote.UpdateBatchMax,
	}
}

// keyringTokens reads the auth token from the OS keyring. There is no
// way to mint a fresh token here, so Invalidate only clears the cached
// copy; a rejected token means the user must run auth set again.
type keyringTokens struct {
	keyring credentials.Keyring
	account string
	cached  string
}

func (k *keyringTokens) Token(ctx context.Context) (string, error) {
	if k.cached != "" {
		return k.cached, nil
	}
	token, err := k.keyring.Get(credentials.Service, k.accountName())
	if err != nil {
		return "", fmt.Errorf("no auth token stored, run 'notesync auth set': %w", err)
	}
	k.cached = token
	return token, nil
}

func (k *keyringTokens) Invalidate() {
	k.cached = ""
}

func (k *keyringTokens) accountName() string {
	if k.account == "" {
		return "default"
	}
	return k.account
}

func newSyncCmd(stdout io.Writer, opts *Options, loadConfig func() (*config.Config, error)) *cobra.Command {
	return &cobra.Command{
		Use:   "sync",
		Short: "Run one synchronization pass",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig()
			if err != nil {
				return err
			}
			defer logging.Close()

			st, err := store.Open(cfg.Store.Path)
			if err != nil {
				return err
			}
			defer func() { _ = st.Close() }()

			svc := sync.NewService(st, clientOptions(cfg, opts.Keyring), func(msg string) {
				_, _ = fmt.Fprintln(stdout, dimStyle.Render("  "+msg))
			})
			if svc.Start() == sync.StatusInProgress {
				return fmt.Errorf("a sync pass is already running")
			}
			result := svc.Wait()

			switch result.Status {
			case sync.StatusSuccess:
				_, _ = fmt.Fprintln(stdout, okStyle.Render("sync complete"))
				return nil
			default:
				if result.Err != nil {
					return fmt.Errorf("sync failed (%s): %w", result.Status, result.Err)
				}
				return fmt.Errorf("sync failed (%s)", result.Status)
			}
		},
	}
}

func newStatusCmd(stdout io.Writer, opts *Options, loadConfig func() (*config.Config, error)) *cobra.Command {
	return &cobra.Command{
		Use:   "status",
		Short: "Show store and credential status",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig()
			if err != nil {
				return err
			}
			defer logging.Close()

			st, err := store.Open(cfg.Store.Path)
			if err != nil {
				return err
			}
			defer func() { _ = st.Close() }()

			stats, err := st.Stats(cmd.Context())
			if err != nil {
				return err
			}

			tokens := &keyringTokens{keyring: opts.Keyring, account: cfg.Remote.Account}
			tokenLine := okStyle.Render("present")
			if _, err := tokens.Token(cmd.Context()); err != nil {
				tokenLine = failStyle.Render("missing")
			}

			syncedLine := okStyle.Render("clean")
			if stats.Unsynced > 0 {
				syncedLine = failStyle.Render(fmt.Sprintf("%d pending", stats.Unsynced))
			}

			rows := [][2]string{
				{"remote", cfg.Remote.BaseURL},
				{"store", cfg.Store.Path},
				{"auth token", tokenLine},
				{"notes", fmt.Sprintf("%d", stats.Notes)},
				{"folders", fmt.Sprintf("%d", stats.Folders)},
				{"trashed", fmt.Sprintf("%d", stats.Trashed)},
				{"sync state", syncedLine},
			}
			for _, r := range rows {
				_, _ = fmt.Fprintf(stdout, "%s %s\n", labelStyle.Render(fmt.Sprintf("%-11s", r[0])), r[1])
			}
			return nil
		},
	}
}

func newAuthCmd(stdout io.Writer, opts *Options, loadConfig func() (*config.Config, error)) *cobra.Command {
	authCmd := &cobra.Command{
		Use:   "auth",
		Short: "Manage the remote service auth token",
	}

	setCmd := &cobra.Command{
		Use:   "set",
		Short: "Store the auth token in the OS keyring",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig()
			if err != nil {
				return err
			}
			defer logging.Close()

			token, err := readToken(cmd, stdout)
			if err != nil {
				return err
			}
			if token == "" {
				return fmt.Errorf("empty token")
			}

			account := (&keyringTokens{account: cfg.Remote.Account}).accountName()
			if err := opts.Keyring.Set(credentials.Service, account, token); err != nil {
				return err
			}
			_, _ = fmt.Fprintln(stdout, okStyle.Render("token stored"))
			return nil
		},
	}

	var forgetPairings bool
	clearCmd := &cobra.Command{
		Use:   "clear",
		Short: "Remove the auth token from the OS keyring",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig()
			if err != nil {
				return err
			}
			defer logging.Close()

			account := (&keyringTokens{account: cfg.Remote.Account}).accountName()
			if err := opts.Keyring.Delete(credentials.Service, account); err != nil {
				return err
			}

			// Switching to a different account needs the old pairings
			// gone, otherwise the next pass misreads stale remote ids.
			if forgetPairings {
				st, err := store.Open(cfg.Store.Path)
				if err != nil {
					return err
				}
				defer func() { _ = st.Close() }()
				if err := st.ClearSyncMarkers(cmd.Context()); err != nil {
					return err
				}
			}

			_, _ = fmt.Fprintln(stdout, okStyle.Render("token cleared"))
			return nil
		},
	}
	clearCmd.Flags().BoolVar(&forgetPairings, "forget-pairings", false, "also unpair all notes from their remote ids (use when switching accounts)")

	authCmd.AddCommand(setCmd, clearCmd)
	return authCmd
}

// readToken prompts for the token without echo on a terminal, and
// falls back to reading a line from stdin otherwise so the command
// stays scriptable.
func readToken(cmd *cobra.Command, stdout io.Writer) (string, error) {
	if f, ok := cmd.InOrStdin().(*os.File); ok && term.IsTerminal(int(f.Fd())) {
		_, _ = fmt.Fprint(stdout, "Token: ")
		raw, err := term.ReadPassword(int(f.Fd()))
		_, _ = fmt.Fprintln(stdout)
		if err != nil {
			return "", err
		}
		return strings.TrimSpace(string(raw)), nil
	}

	line, err := bufio.NewReader(cmd.InOrStdin()).ReadString('\n')
	if err != nil && line == "" {
		return "", err
	}
	return strings.TrimSpace(line), nil
}
