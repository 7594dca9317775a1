package main

import (
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"
	"time"

	"dms-go/internal/app"
	"dms-go/internal/config"
	"dms-go/internal/database"
	"dms-go/internal/encryption"

	"github.com/spf13/cobra"
	"golang.org/x/term"
)

func main() {
	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}

// newApp reads the config and creates an App. The caller must defer a.Close().
// operation identifies the CLI command being run (e.g. "Put", "Grant").
func newApp(cmd *cobra.Command, operation string) (*app.App, error) {
	defaults, err := app.GetDefaults()
	if err != nil {
		return nil, fmt.Errorf("getting defaults: %w", err)
	}

	cfg, err := config.ReadFromFile(defaults["config_path"])
	if err != nil {
		return nil, fmt.Errorf("reading config: %w", err)
	}

	a, err := app.NewApp(cmd.Context(), cfg, operation)
	if err != nil {
		return nil, fmt.Errorf("initializing app: %w", err)
	}

	return a, nil
}

// requireUser returns the --user flag value, which every store command needs.
func requireUser(cmd *cobra.Command) (string, error) {
	user, _ := cmd.Flags().GetString("user")
	if user == "" {
		return "", fmt.Errorf("--user is required")
	}
	return user, nil
}

// ownerOrUser returns the --owner flag value, defaulting to user when the
// command addresses the caller's own documents.
func ownerOrUser(cmd *cobra.Command, user string) string {
	owner, _ := cmd.Flags().GetString("owner")
	if owner == "" {
		return user
	}
	return owner
}

// promptPassphrase reads a passphrase from the terminal without echo.
func promptPassphrase(prompt string) (string, error) {
	fmt.Fprint(os.Stderr, prompt)
	pass, err := term.ReadPassword(int(os.Stdin.Fd()))
	fmt.Fprintln(os.Stderr)
	if err != nil {
		return "", fmt.Errorf("reading passphrase: %w", err)
	}
	return string(pass), nil
}

// unlockIfNeeded prompts for the passphrase and unlocks the blob store when
// encryption at rest is enabled. Reads of version content require it.
func unlockIfNeeded(a *app.App) error {
	if !a.EncryptionEnabled() {
		return nil
	}
	pass, err := promptPassphrase("Passphrase: ")
	if err != nil {
		return err
	}
	return a.Unlock(pass)
}

var rootCmd = &cobra.Command{
	Use:   "dms",
	Short: "Document version store",
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
		encrypt, _ := cmd.Flags().GetBool("encrypt")

		defaults, err := app.GetDefaults()
		if err != nil {
			return fmt.Errorf("failed to get defaults: %w", err)
		}

		cfg := config.NewConfig(defaults["base_dir"])
		if encrypt {
			cfg.Encryption.Type = "age"
		}

		if err := config.Init(defaults["config_path"], cfg); err != nil {
			return fmt.Errorf("failed to initialize config: %w", err)
		}

		if encrypt {
			pass, err := promptPassphrase("New key passphrase: ")
			if err != nil {
				return err
			}
			confirm, err := promptPassphrase("Confirm passphrase: ")
			if err != nil {
				return err
			}
			if pass != confirm {
				return fmt.Errorf("passphrases do not match")
			}
			enc := encryption.NewAgeEncryptor(cfg.Encryption)
			if err := enc.Setup(pass); err != nil {
				return fmt.Errorf("generating keys: %w", err)
			}
			fmt.Printf("Encryption keys written to %s\n", cfg.Encryption.PublicKeyPath)
		}

		fmt.Printf("Configuration initialized at %s\n", defaults["config_path"])
		fmt.Printf("Base Dir: %s\n", defaults["base_dir"])
		return nil
	},
}

var configListCmd = &cobra.Command{
	Use:   "list",
	Short: "View configuration",
	RunE: func(cmd *cobra.Command, args []string) error {
		defaults, err := app.GetDefaults()
		if err != nil {
			return fmt.Errorf("failed to get defaults: %w", err)
		}

		cfg, err := config.ReadFromFile(defaults["config_path"])
		if err != nil {
			return fmt.Errorf("failed to read config: %w", err)
		}

		fmt.Printf("Configuration from %s:\n\n", defaults["config_path"])
		fmt.Printf("Base Dir:   %s\n", cfg.BaseDir)
		fmt.Printf("Log Dir:    %s\n", cfg.LogDir)
		fmt.Printf("Database:   %s (%s)\n", cfg.Database.Type, cfg.Database.DataDir)
		fmt.Printf("Blob store: %s\n", cfg.Blob.Type)
		fmt.Printf("Encryption: %s\n", cfg.Encryption.Type)
		return nil
	},
}

// migrate command
var migrateCmd = &cobra.Command{
	Use:   "migrate",
	Short: "Apply pending database migrations",
	RunE: func(cmd *cobra.Command, args []string) error {
		defaults, err := app.GetDefaults()
		if err != nil {
			return fmt.Errorf("getting defaults: %w", err)
		}
		cfg, err := config.ReadFromFile(defaults["config_path"])
		if err != nil {
			return fmt.Errorf("reading config: %w", err)
		}

		db, err := database.NewDatabaseFromConfig(cfg.Database)
		if err != nil {
			return fmt.Errorf("opening database: %w", err)
		}
		defer db.Close()

		m, ok := db.(interface{ MigrateUp() error })
		if !ok {
			return fmt.Errorf("database type %q does not support migrations", cfg.Database.Type)
		}
		if err := m.MigrateUp(); err != nil {
			return fmt.Errorf("migrating: %w", err)
		}

		fmt.Println("Database is up to date.")
		return nil
	},
}

// put command
var putCmd = &cobra.Command{
	Use:   "put PATH FILE",
	Short: "Store a file as a new document version (FILE may be - for stdin)",
	Args:  cobra.ExactArgs(2),
	RunE: func(cmd *cobra.Command, args []string) error {
		user, err := requireUser(cmd)
		if err != nil {
			return err
		}
		owner := ownerOrUser(cmd, user)
		contentType, _ := cmd.Flags().GetString("type")

		var content []byte
		fileName := filepath.Base(args[1])
		if args[1] == "-" {
			content, err = io.ReadAll(os.Stdin)
			fileName = filepath.Base(args[0])
		} else {
			content, err = os.ReadFile(args[1])
		}
		if err != nil {
			return fmt.Errorf("reading content: %w", err)
		}

		a, err := newApp(cmd, "Put")
		if err != nil {
			return err
		}
		defer a.Close()

		doc, version, err := a.Put(cmd.Context(), user, owner, args[0], contentType, fileName, content)
		if err != nil {
			return err
		}

		fmt.Printf("%s version %d  %s\n", doc.Path, version.VersionNumber, version.ContentHash)
		return nil
	},
}

// ls command
var lsCmd = &cobra.Command{
	Use:   "ls",
	Short: "List your documents",
	RunE: func(cmd *cobra.Command, args []string) error {
		user, err := requireUser(cmd)
		if err != nil {
			return err
		}

		a, err := newApp(cmd, "ListDocuments")
		if err != nil {
			return err
		}
		defer a.Close()

		docs, err := a.Documents(cmd.Context(), user)
		if err != nil {
			return err
		}

		if len(docs) == 0 {
			fmt.Println("No documents.")
			return nil
		}

		for _, d := range docs {
			fmt.Printf("%s  %-24s  %s\n",
				d.UpdatedAt.Format("2006-01-02 15:04:05"),
				d.ContentType,
				d.Path,
			)
		}
		return nil
	},
}

// log command
var logCmd = &cobra.Command{
	Use:   "log PATH",
	Short: "View a document's version history",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		user, err := requireUser(cmd)
		if err != nil {
			return err
		}
		owner := ownerOrUser(cmd, user)

		a, err := newApp(cmd, "ListVersions")
		if err != nil {
			return err
		}
		defer a.Close()

		versions, err := a.Versions(cmd.Context(), user, owner, args[0])
		if err != nil {
			return err
		}

		if len(versions) == 0 {
			fmt.Println("No versions.")
			return nil
		}

		for _, v := range versions {
			fmt.Printf("v%-4d  %s  %s  %d  %s\n",
				v.VersionNumber,
				v.ContentHash[:12],
				v.CreatedAt.Format("2006-01-02 15:04:05"),
				v.Size,
				v.FileName,
			)
		}
		return nil
	},
}

// cat command
var catCmd = &cobra.Command{
	Use:   "cat PATH",
	Short: "Print the content of a document version",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		user, err := requireUser(cmd)
		if err != nil {
			return err
		}
		owner := ownerOrUser(cmd, user)
		number, _ := cmd.Flags().GetInt64("version")
		output, _ := cmd.Flags().GetString("output")

		a, err := newApp(cmd, "GetContent")
		if err != nil {
			return err
		}
		defer a.Close()

		if err := unlockIfNeeded(a); err != nil {
			return err
		}

		_, content, err := a.Content(cmd.Context(), user, owner, args[0], number)
		if err != nil {
			return err
		}

		if output != "" {
			if err := os.WriteFile(output, content, 0644); err != nil {
				return fmt.Errorf("writing output: %w", err)
			}
			return nil
		}
		_, err = os.Stdout.Write(content)
		return err
	},
}

// resolve command
var resolveCmd = &cobra.Command{
	Use:   "resolve HASH",
	Short: "Find the latest readable version with the given content hash",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		user, err := requireUser(cmd)
		if err != nil {
			return err
		}

		a, err := newApp(cmd, "Resolve")
		if err != nil {
			return err
		}
		defer a.Close()

		v, err := a.Resolve(cmd.Context(), user, args[0])
		if err != nil {
			return err
		}

		fmt.Printf("version %d  owner:%s  %s  %s\n",
			v.VersionNumber,
			v.OwnerID,
			v.CreatedAt.Format("2006-01-02 15:04:05"),
			v.FileName,
		)
		return nil
	},
}

// grant command
var grantCmd = &cobra.Command{
	Use:   "grant PATH",
	Short: "Replace the grant sets of a document version",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		user, err := requireUser(cmd)
		if err != nil {
			return err
		}
		number, _ := cmd.Flags().GetInt64("version")
		readList, _ := cmd.Flags().GetString("read")
		writeList, _ := cmd.Flags().GetString("write")
		if number == 0 {
			return fmt.Errorf("--version is required")
		}

		a, err := newApp(cmd, "Grant")
		if err != nil {
			return err
		}
		defer a.Close()

		err = a.Grant(cmd.Context(), user, args[0], number, splitUsers(readList), splitUsers(writeList))
		if err != nil {
			return err
		}

		fmt.Printf("Grants replaced for %s version %d\n", args[0], number)
		return nil
	},
}

// history command
var historyCmd = &cobra.Command{
	Use:   "history",
	Short: "View store operation history",
	RunE: func(cmd *cobra.Command, args []string) error {
		limit, _ := cmd.Flags().GetInt("limit")

		a, err := newApp(cmd, "GetHistory")
		if err != nil {
			return err
		}
		defer a.Close()

		ops, err := a.History(cmd.Context(), limit)
		if err != nil {
			return err
		}

		if len(ops) == 0 {
			fmt.Println("No operations recorded.")
			return nil
		}

		for _, op := range ops {
			duration := ""
			if op.FinishedAt != nil {
				d := op.FinishedAt.Sub(op.StartedAt)
				duration = d.Truncate(time.Millisecond).String()
			}
			fmt.Printf("#%d  %-15s  %s  %-10s  %s\n",
				op.ID,
				op.Operation,
				op.StartedAt.Format("2006-01-02 15:04:05"),
				op.Status,
				duration,
			)
		}
		return nil
	},
}

// splitUsers parses a comma-separated user list, dropping empty entries.
func splitUsers(s string) []string {
	var out []string
	for _, u := range strings.Split(s, ",") {
		if u = strings.TrimSpace(u); u != "" {
			out = append(out, u)
		}
	}
	return out
}

func init() {
	rootCmd.PersistentFlags().StringP("user", "u", "", "Acting user identity")

	configCmd.AddCommand(configInitCmd)
	configCmd.AddCommand(configListCmd)
	configInitCmd.Flags().Bool("encrypt", false, "Generate keys and encrypt blob content at rest")

	putCmd.Flags().String("owner", "", "Document owner (defaults to --user)")
	putCmd.Flags().StringP("type", "t", "application/octet-stream", "Content type")
	logCmd.Flags().String("owner", "", "Document owner (defaults to --user)")
	catCmd.Flags().String("owner", "", "Document owner (defaults to --user)")
	catCmd.Flags().Int64P("version", "v", 0, "Version number (0 = latest)")
	catCmd.Flags().StringP("output", "o", "", "Write content to file instead of stdout")
	grantCmd.Flags().Int64P("version", "v", 0, "Version number")
	grantCmd.Flags().String("read", "", "Comma-separated users granted read")
	grantCmd.Flags().String("write", "", "Comma-separated users granted write")
	historyCmd.Flags().IntP("limit", "n", 50, "Maximum number of operations to show")

	rootCmd.AddCommand(configCmd)
	rootCmd.AddCommand(migrateCmd)
	rootCmd.AddCommand(putCmd)
	rootCmd.AddCommand(lsCmd)
	rootCmd.AddCommand(logCmd)
	rootCmd.AddCommand(catCmd)
	rootCmd.AddCommand(resolveCmd)
	rootCmd.AddCommand(grantCmd)
	rootCmd.AddCommand(historyCmd)
}
