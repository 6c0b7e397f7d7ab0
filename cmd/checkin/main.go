package main

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"net"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"text/tabwriter"
	"time"

	"checkin-go/internal/actions"
	"checkin-go/internal/api"
	"checkin-go/internal/app"
	"checkin-go/internal/archive"
	"checkin-go/internal/config"
	"checkin-go/internal/scanner"

	"github.com/google/uuid"
	"github.com/spf13/cobra"
	"golang.org/x/term"
)

func main() {
	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}

// loadConfig reads the config file named by the environment defaults.
func loadConfig() (*config.Config, app.Defaults, error) {
	defaults, err := app.GetDefaults()
	if err != nil {
		return nil, app.Defaults{}, fmt.Errorf("getting defaults: %w", err)
	}

	cfg, err := config.ReadFromFile(defaults.ConfigPath)
	if err != nil {
		return nil, app.Defaults{}, fmt.Errorf("reading config: %w", err)
	}
	return cfg, defaults, nil
}

// newApp reads the config and creates a CheckinApp. The caller must defer a.Close().
func newApp(opts app.Options) (*app.CheckinApp, error) {
	cfg, defaults, err := loadConfig()
	if err != nil {
		return nil, err
	}

	opts.Env = defaults.Env
	opts.RunID = uuid.New().String()[:8]
	a, err := app.NewCheckinApp(cfg, opts)
	if err != nil {
		return nil, fmt.Errorf("initializing app: %w", err)
	}
	return a, nil
}

// readPassphrase prompts on the terminal without echo. Piped input is read
// one line at a time.
func readPassphrase(prompt string) (string, error) {
	fmt.Fprint(os.Stderr, prompt)
	fd := int(os.Stdin.Fd())
	if term.IsTerminal(fd) {
		b, err := term.ReadPassword(fd)
		fmt.Fprintln(os.Stderr)
		if err != nil {
			return "", fmt.Errorf("reading passphrase: %w", err)
		}
		return string(b), nil
	}

	line, err := stdin.ReadString('\n')
	if err != nil && line == "" {
		return "", fmt.Errorf("reading passphrase: %w", err)
	}
	return strings.TrimRight(line, "\r\n"), nil
}

var stdin = bufio.NewReader(os.Stdin)

var rootCmd = &cobra.Command{
	Use:   "checkin",
	Short: "Event check-in scanner",
}

// config command
var configCmd = &cobra.Command{
	Use:   "config",
	Short: "Manage configuration",
}

var configInitCmd = &cobra.Command{
	Use:   "init",
	Short: "Initialize configuration",
	RunE: func(cmd *cobra.Command, args []string) error {
		defaults, err := app.GetDefaults()
		if err != nil {
			return fmt.Errorf("failed to get defaults: %w", err)
		}

		deviceID := uuid.New().String()
		cfg := config.NewConfig(deviceID, defaults.BaseDir)

		if err := config.Init(defaults.ConfigPath, cfg); err != nil {
			return fmt.Errorf("failed to initialize config: %w", err)
		}

		fmt.Printf("Configuration initialized at %s\n", defaults.ConfigPath)
		fmt.Printf("Device ID: %s\n", deviceID)
		fmt.Printf("Base Dir:  %s\n", defaults.BaseDir)
		fmt.Println("Next: `checkin db migrate`, then `checkin keys init` to enable history export.")
		return nil
	},
}

var configListCmd = &cobra.Command{
	Use:   "list",
	Short: "View configuration",
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, defaults, err := loadConfig()
		if err != nil {
			return err
		}

		fmt.Printf("Configuration from %s:\n\n", defaults.ConfigPath)
		fmt.Printf("Device ID: %s\n", cfg.DeviceID)
		fmt.Printf("Base Dir:  %s\n", cfg.BaseDir)
		fmt.Printf("Log Dir:   %s\n", cfg.LogDir)
		fmt.Printf("Camera:    %s (facing %s)\n", cfg.Camera.Type, cfg.Camera.Facing)
		fmt.Printf("Decoder:   %s\n", cfg.Decoder.Type)
		fmt.Printf("Database:  %s\n", cfg.Database.Type)
		fmt.Printf("Archive:   %s (%s)\n", cfg.Archive.Name, cfg.Archive.Type)
		fmt.Printf("API:       %s\n", cfg.Server.Addr)
		return nil
	},
}

// scan command
var scanCmd = &cobra.Command{
	Use:   "scan",
	Short: "Scan one code and check it in",
	RunE: func(cmd *cobra.Command, args []string) error {
		torch, _ := cmd.Flags().GetBool("torch")
		timeout, _ := cmd.Flags().GetDuration("timeout")

		var acts []scanner.Action
		for _, a := range []scanner.Action{scanner.ActionOpen, scanner.ActionCopy, scanner.ActionShare} {
			if on, _ := cmd.Flags().GetBool(string(a)); on {
				acts = append(acts, a)
			}
		}

		ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
		defer stop()

		a, err := newApp(app.Options{Stdout: os.Stdout, Stderr: os.Stderr})
		if err != nil {
			return err
		}
		defer a.Close()

		fmt.Fprintln(os.Stderr, "Scanning... (Ctrl-C to cancel)")
		out, err := a.Scan(ctx, app.ScanOptions{Torch: torch, Timeout: timeout, Actions: acts})
		if err != nil {
			switch {
			case errors.Is(err, scanner.ErrPermissionDenied):
				return fmt.Errorf("camera permission denied: allow camera access and try again")
			case errors.Is(err, context.DeadlineExceeded):
				return fmt.Errorf("nothing scanned within %s", timeout)
			case errors.Is(err, context.Canceled):
				fmt.Fprintln(os.Stderr, "Scan cancelled.")
				return nil
			}
			return err
		}

		r := out.Status.Result
		if r == nil {
			fmt.Println("Scan ended without a result.")
			return nil
		}
		printResult(*r)
		for _, rep := range out.Reports {
			if !rep.OK {
				fmt.Fprintf(os.Stderr, "%s failed: %v\n", rep.Action, rep.Err)
			}
		}
		return nil
	},
}

func printResult(r scanner.ScanResult) {
	fmt.Printf("%s  %s\n", r.Kind, r.DisplayName())
	if r.Kind == scanner.KindEventCheckin {
		if r.Duplicate {
			fmt.Printf("Already checked in to %s\n", r.EventID)
		} else {
			fmt.Printf("Checked in to %s\n", r.EventID)
		}
	}
	for _, kv := range [][2]string{
		{"Description", r.Description},
		{"Location", r.Location},
		{"Date", r.Date},
		{"Target", r.Target},
	} {
		if kv[1] != "" {
			fmt.Printf("%-12s %s\n", kv[0]+":", kv[1])
		}
	}
}

// history command
var historyCmd = &cobra.Command{
	Use:   "history",
	Short: "View and archive scan history",
}

var historyListCmd = &cobra.Command{
	Use:   "list",
	Short: "List recent scans",
	RunE: func(cmd *cobra.Command, args []string) error {
		limit, _ := cmd.Flags().GetInt("limit")

		a, err := newApp(app.Options{})
		if err != nil {
			return err
		}
		defer a.Close()

		entries, err := a.History(cmd.Context(), limit)
		if err != nil {
			return err
		}
		printHistory(entries)
		return nil
	},
}

func printHistory(entries []scanner.HistoryEntry) {
	if len(entries) == 0 {
		fmt.Println("No scans recorded.")
		return
	}
	w := tabwriter.NewWriter(os.Stdout, 0, 4, 2, ' ', 0)
	for _, e := range entries {
		fmt.Fprintf(w, "%s\t%s\t%s\t%s\t%s\n",
			e.DetectedAt.Local().Format("2006-01-02 15:04:05"),
			e.Outcome,
			e.Kind,
			e.Name,
			e.Detail,
		)
	}
	w.Flush()
}

var historyExportCmd = &cobra.Command{
	Use:   "export",
	Short: "Encrypt the scan history and store it in the archive",
	RunE: func(cmd *cobra.Command, args []string) error {
		a, err := newApp(app.Options{})
		if err != nil {
			return err
		}
		defer a.Close()

		m, err := a.ExportHistory(cmd.Context())
		if errors.Is(err, archive.ErrNothingToExport) {
			fmt.Println("No scans recorded; nothing exported.")
			return nil
		}
		if err != nil {
			return fmt.Errorf("export failed: %w", err)
		}
		fmt.Printf("Exported %d entries to %s (%d bytes)\n", m.Entries, m.Key, m.Size)
		return nil
	},
}

var historyArchivesCmd = &cobra.Command{
	Use:   "archives",
	Short: "List stored exports for this device",
	RunE: func(cmd *cobra.Command, args []string) error {
		a, err := newApp(app.Options{})
		if err != nil {
			return err
		}
		defer a.Close()

		keys, err := a.ListArchives(cmd.Context())
		if err != nil {
			return err
		}
		if len(keys) == 0 {
			fmt.Println("No exports stored.")
		}
		for _, k := range keys {
			fmt.Println(k)
		}
		return nil
	},
}

var historyImportCmd = &cobra.Command{
	Use:   "import-archive KEY",
	Short: "Decrypt and print a stored export",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		a, err := newApp(app.Options{})
		if err != nil {
			return err
		}
		defer a.Close()

		passphrase, err := readPassphrase("Passphrase: ")
		if err != nil {
			return err
		}
		entries, err := a.ImportArchive(cmd.Context(), args[0], passphrase)
		if err != nil {
			return err
		}
		printHistory(entries)
		return nil
	},
}

// keys command
var keysCmd = &cobra.Command{
	Use:   "keys",
	Short: "Manage history export keys",
}

var keysInitCmd = &cobra.Command{
	Use:   "init",
	Short: "Generate the export key pair",
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, _, err := loadConfig()
		if err != nil {
			return err
		}

		passphrase, err := readPassphrase("New passphrase: ")
		if err != nil {
			return err
		}
		confirm, err := readPassphrase("Repeat passphrase: ")
		if err != nil {
			return err
		}
		if passphrase != confirm {
			return fmt.Errorf("passphrases do not match")
		}

		if err := app.InitKeys(cfg, passphrase); err != nil {
			return fmt.Errorf("initializing keys: %w", err)
		}
		fmt.Printf("Keys written to %s and %s\n", cfg.Encryption.PublicKeyPath, cfg.Encryption.PrivateKeyPath)
		return nil
	},
}

// db command
var dbCmd = &cobra.Command{
	Use:   "db",
	Short: "Manage the local database",
}

var dbMigrateCmd = &cobra.Command{
	Use:   "migrate",
	Short: "Apply pending schema migrations",
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, _, err := loadConfig()
		if err != nil {
			return err
		}
		st, err := app.MigrateDatabase(cfg)
		if err != nil {
			return err
		}
		fmt.Printf("Database at schema version %d\n", st.Current)
		return nil
	},
}

var dbStatusCmd = &cobra.Command{
	Use:   "status",
	Short: "Show the schema version",
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, _, err := loadConfig()
		if err != nil {
			return err
		}
		st, err := app.DatabaseStatus(cfg)
		if err != nil {
			return err
		}
		fmt.Printf("Current: %d\nLatest:  %d\n", st.Current, st.Latest)
		if st.Dirty {
			fmt.Println("Dirty: a migration failed part-way; fix the database before migrating again.")
		} else if n := st.Pending(); n > 0 {
			fmt.Printf("%d migration(s) pending; run `checkin db migrate`.\n", n)
		}
		return nil
	},
}

// serve command
var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Run the kiosk control API",
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
		defer stop()

		cards := actions.NewRecordingSharer()
		a, err := newApp(app.Options{Stderr: os.Stderr, Sharer: cards})
		if err != nil {
			return err
		}
		defer a.Close()

		cfg := a.Config()
		addr := cfg.Server.Addr
		if flagAddr, _ := cmd.Flags().GetString("addr"); flagAddr != "" {
			addr = flagAddr
		}

		ln, err := net.Listen("tcp", addr)
		if err != nil {
			return fmt.Errorf("listening on %s: %w", addr, err)
		}

		logger := a.Log()
		router := api.NewRouter(ctx, a, cards, cfg.Server, logger)
		return api.Serve(ctx, ln, router, logger)
	},
}

func init() {
	// config subcommands
	configCmd.AddCommand(configInitCmd)
	configCmd.AddCommand(configListCmd)

	// scan flags
	scanCmd.Flags().Bool("torch", false, "Turn the torch on when the camera supports it")
	scanCmd.Flags().Bool("open", false, "Open the scanned target")
	scanCmd.Flags().Bool("copy", false, "Copy the scanned payload to the clipboard")
	scanCmd.Flags().Bool("share", false, "Print a share card for the result")
	scanCmd.Flags().Duration("timeout", 2*time.Minute, "Give up when nothing is scanned in time (0 waits forever)")

	// history subcommands
	historyCmd.AddCommand(historyListCmd)
	historyListCmd.Flags().IntP("limit", "n", 50, "Maximum number of scans to show")
	historyCmd.AddCommand(historyExportCmd)
	historyCmd.AddCommand(historyArchivesCmd)
	historyCmd.AddCommand(historyImportCmd)

	keysCmd.AddCommand(keysInitCmd)

	dbCmd.AddCommand(dbMigrateCmd)
	dbCmd.AddCommand(dbStatusCmd)

	serveCmd.Flags().String("addr", "", "Listen address (overrides server.addr)")

	// root commands
	rootCmd.AddCommand(configCmd)
	rootCmd.AddCommand(scanCmd)
	rootCmd.AddCommand(historyCmd)
	rootCmd.AddCommand(keysCmd)
	rootCmd.AddCommand(dbCmd)
	rootCmd.AddCommand(serveCmd)
}
