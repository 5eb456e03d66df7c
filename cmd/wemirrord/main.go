package main

import (
	"context"
	"fmt"
	"io"
	"os"
	"os/signal"
	"syscall"

	"wemirror/internal/app"
	"wemirror/internal/config"

	"github.com/google/uuid"
	"github.com/spf13/cobra"
	"golang.org/x/term"
)

func main() {
	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}

// newApp reads the config and creates an App. The caller must defer app.Close().
// operation identifies the CLI command being run (e.g. "Serve", "Apply").
func newApp(ctx context.Context, operation string) (*app.App, error) {
	defaults, err := app.GetDefaults()
	if err != nil {
		return nil, fmt.Errorf("getting defaults: %w", err)
	}

	cfg, err := config.ReadFromFile(defaults["config_path"])
	if err != nil {
		return nil, fmt.Errorf("reading config: %w", err)
	}

	a, err := app.NewApp(ctx, cfg, operation)
	if err != nil {
		return nil, fmt.Errorf("initializing app: %w", err)
	}

	return a, nil
}

// readPassphrase prompts on stderr and reads a passphrase without echo.
func readPassphrase(prompt string) (string, error) {
	fmt.Fprint(os.Stderr, prompt)
	b, err := term.ReadPassword(int(os.Stdin.Fd()))
	fmt.Fprintln(os.Stderr)
	if err != nil {
		return "", fmt.Errorf("reading passphrase: %w", err)
	}
	return string(b), nil
}

var rootCmd = &cobra.Command{
	Use:   "wemirrord",
	Short: "Mirrors identity and document events into a denormalized read store",
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
		// Get application defaults
		defaults, err := app.GetDefaults()
		if err != nil {
			return fmt.Errorf("failed to get defaults: %w", err)
		}

		// Generate a new instance ID
		instanceID := uuid.New().String()

		// Create config with defaults
		cfg := config.NewConfig(instanceID, defaults["base_dir"])

		// Initialize config file
		if err := config.Init(defaults["config_path"], cfg); err != nil {
			return fmt.Errorf("failed to initialize config: %w", err)
		}

		fmt.Printf("Configuration initialized at %s\n", defaults["config_path"])
		fmt.Printf("Instance ID: %s\n", instanceID)
		fmt.Printf("Base Dir: %s\n", defaults["base_dir"])
		return nil
	},
}

var configListCmd = &cobra.Command{
	Use:   "list",
	Short: "View configuration",
	RunE: func(cmd *cobra.Command, args []string) error {
		// Get application defaults
		defaults, err := app.GetDefaults()
		if err != nil {
			return fmt.Errorf("failed to get defaults: %w", err)
		}

		// Read config
		cfg, err := config.ReadFromFile(defaults["config_path"])
		if err != nil {
			return fmt.Errorf("failed to read config: %w", err)
		}

		// Display config
		fmt.Printf("Configuration from %s:\n\n", defaults["config_path"])
		fmt.Printf("Instance ID: %s\n", cfg.InstanceID)
		fmt.Printf("Base Dir:    %s\n", cfg.BaseDir)
		fmt.Printf("Log Dir:     %s\n", cfg.LogDir)
		fmt.Printf("Store:       %s\n", cfg.Store.Type)
		fmt.Printf("Listen Addr: %s\n", cfg.Server.ListenAddr)
		return nil
	},
}

// keys command
var keysCmd = &cobra.Command{
	Use:   "keys",
	Short: "Manage snapshot encryption keys",
}

var keysInitCmd = &cobra.Command{
	Use:   "init",
	Short: "Generate the snapshot encryption key pair",
	RunE: func(cmd *cobra.Command, args []string) error {
		a, err := newApp(cmd.Context(), "SetupKeys")
		if err != nil {
			return err
		}
		defer a.Close()

		passphrase, err := readPassphrase("Passphrase for private key: ")
		if err != nil {
			return err
		}
		confirm, err := readPassphrase("Confirm passphrase: ")
		if err != nil {
			return err
		}
		if passphrase != confirm {
			return fmt.Errorf("passphrases do not match")
		}

		if err := a.SetupKeys(passphrase); err != nil {
			return err
		}

		fmt.Println("Encryption keys generated.")
		return nil
	},
}

// serve command
var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Run the event ingest and read server",
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
		defer stop()

		a, err := newApp(ctx, "Serve")
		if err != nil {
			return err
		}
		defer a.Close()

		return a.Serve(ctx)
	},
}

// apply command
var applyCmd = &cobra.Command{
	Use:   "apply [FILE|-]",
	Short: "Apply a single event synchronously",
	Long: `Apply reads one event payload (JSON) from FILE, or from stdin when
FILE is "-", decodes it, and applies it to the mirror store in process.
Use --type to select the event kind.`,
	Args: cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		eventType, _ := cmd.Flags().GetString("type")

		var payload []byte
		var err error
		if args[0] == "-" {
			payload, err = io.ReadAll(os.Stdin)
		} else {
			payload, err = os.ReadFile(args[0])
		}
		if err != nil {
			return fmt.Errorf("reading event payload: %w", err)
		}

		a, err := newApp(cmd.Context(), "Apply")
		if err != nil {
			return err
		}
		defer a.Close()

		switch eventType {
		case "identity-created":
			err = a.ApplyIdentityCreated(cmd.Context(), payload)
		case "document-changed":
			err = a.ApplyDocumentChange(cmd.Context(), payload)
		default:
			return fmt.Errorf("unknown event type %q (want identity-created or document-changed)", eventType)
		}
		if err != nil {
			return fmt.Errorf("applying event: %w", err)
		}

		fmt.Println("Event applied.")
		return nil
	},
}

// profile command
var profileCmd = &cobra.Command{
	Use:   "profile UID",
	Short: "View a provisioned profile record",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		a, err := newApp(cmd.Context(), "GetProfile")
		if err != nil {
			return err
		}
		defer a.Close()

		profile, ok, err := a.GetProfile(cmd.Context(), args[0])
		if err != nil {
			return err
		}
		if !ok {
			fmt.Println("No profile found.")
			return nil
		}

		for k, v := range profile {
			fmt.Printf("%s: %v\n", k, v)
		}
		return nil
	},
}

// pages command
var pagesCmd = &cobra.Command{
	Use:   "pages UID",
	Short: "List mirrored pages for an owner",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		a, err := newApp(cmd.Context(), "ListPages")
		if err != nil {
			return err
		}
		defer a.Close()

		pages, err := a.ListPages(cmd.Context(), args[0])
		if err != nil {
			return err
		}

		if len(pages) == 0 {
			fmt.Println("No pages found.")
			return nil
		}

		for id, fields := range pages {
			title := ""
			if t, ok := fields["title"].(string); ok {
				title = t
			}
			fmt.Printf("%s  %s\n", id, title)
		}
		return nil
	},
}

// export command
var exportCmd = &cobra.Command{
	Use:   "export",
	Short: "Export an encrypted snapshot of the mirror store",
	RunE: func(cmd *cobra.Command, args []string) error {
		out, _ := cmd.Flags().GetString("out")
		if out == "" {
			return fmt.Errorf("--out is required")
		}

		a, err := newApp(cmd.Context(), "ExportSnapshot")
		if err != nil {
			return err
		}
		defer a.Close()

		f, err := os.Create(out)
		if err != nil {
			return fmt.Errorf("creating snapshot file: %w", err)
		}
		defer f.Close()

		if err := a.ExportSnapshot(cmd.Context(), f); err != nil {
			return err
		}

		fmt.Printf("Snapshot written to %s\n", out)
		return nil
	},
}

// import command
var importCmd = &cobra.Command{
	Use:   "import",
	Short: "Import an encrypted snapshot into the mirror store",
	RunE: func(cmd *cobra.Command, args []string) error {
		in, _ := cmd.Flags().GetString("in")
		if in == "" {
			return fmt.Errorf("--in is required")
		}

		a, err := newApp(cmd.Context(), "ImportSnapshot")
		if err != nil {
			return err
		}
		defer a.Close()

		passphrase, err := readPassphrase("Passphrase for private key: ")
		if err != nil {
			return err
		}

		f, err := os.Open(in)
		if err != nil {
			return fmt.Errorf("opening snapshot file: %w", err)
		}
		defer f.Close()

		count, err := a.ImportSnapshot(cmd.Context(), f, passphrase)
		if err != nil {
			return err
		}

		fmt.Printf("Restored %d record(s)\n", count)
		return nil
	},
}

func init() {
	// config subcommands
	configCmd.AddCommand(configInitCmd)
	configCmd.AddCommand(configListCmd)

	// keys subcommands
	keysCmd.AddCommand(keysInitCmd)

	// root commands
	rootCmd.AddCommand(configCmd)
	rootCmd.AddCommand(keysCmd)
	rootCmd.AddCommand(serveCmd)
	rootCmd.AddCommand(applyCmd)
	applyCmd.Flags().StringP("type", "t", "document-changed", "Event type: identity-created or document-changed")
	rootCmd.AddCommand(profileCmd)
	rootCmd.AddCommand(pagesCmd)
	rootCmd.AddCommand(exportCmd)
	exportCmd.Flags().StringP("out", "o", "", "Output file for the encrypted snapshot")
	rootCmd.AddCommand(importCmd)
	importCmd.Flags().StringP("in", "i", "", "Input snapshot file")
}
