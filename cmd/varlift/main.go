package main

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/schaermu/varlift/internal/config"
	"github.com/schaermu/varlift/internal/convert"
	"github.com/schaermu/varlift/internal/rootfs"
	"github.com/schaermu/varlift/internal/userdb"
	"github.com/spf13/cobra"
)

var (
	// Set by goreleaser
	version = "dev"
	commit  = "none"
	date    = "unknown"

	// Global flags
	cfgFile   string
	logLevel  string
	logFormat string

	// Command flags
	rootDir string
	dryRun  bool
)

func main() {
	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}

var rootCmd = &cobra.Command{
	Use:   "varlift",
	Short: "Convert /var state into systemd tmpfiles.d declarations",
	Long: `varlift walks the persistent state under a root's /var subtree and turns
directories and symlinks into declarative tmpfiles.d entries, deleting the
translated objects so the next boot recreates them from the declarations.

It is meant for image build pipelines that want /var reconstructed at first
boot rather than shipped as literal bytes.`,
	SilenceUsage: true,
}

var convertCmd = &cobra.Command{
	Use:   "convert",
	Short: "Convert the subtree and write a new tmpfiles.d generation",
	Long: `Convert scans the existing tmpfiles.d declarations, walks the configured
subtree depth-first, emits one entry per undeclared directory or symlink and
removes what it translated. The new entries are written atomically as the
next auto-generated conf file generation.

Objects with no tmpfiles.d representation (regular files, devices, sockets,
fifos) are skipped and reported.`,
	RunE: runConvert,
}

var checkCmd = &cobra.Command{
	Use:   "check",
	Short: "Preview the entries a conversion would produce",
	Long: `Check performs the same walk as convert but deletes nothing and writes no
file. The entries a destructive run would generate are printed to stdout.`,
	RunE: runCheck,
}

var versionCmd = &cobra.Command{
	Use:   "version",
	Short: "Print version information",
	Run: func(cmd *cobra.Command, args []string) {
		fmt.Printf("varlift %s\n", version)
		fmt.Printf("  commit: %s\n", commit)
		fmt.Printf("  built:  %s\n", date)
	},
}

func init() {
	// Global flags
	rootCmd.PersistentFlags().StringVar(&cfgFile, "config", "", "config file (built-in defaults when omitted)")
	rootCmd.PersistentFlags().StringVar(&logLevel, "log-level", "info", "log level (debug, info, warn, error)")
	rootCmd.PersistentFlags().StringVar(&logFormat, "log-format", "text", "log format (text, json)")

	// Convert command flags
	convertCmd.Flags().StringVar(&rootDir, "root", "", "target root directory (overrides paths.root)")
	convertCmd.Flags().BoolVar(&dryRun, "dry-run", false, "show what would be done without making changes")

	// Check command flags
	checkCmd.Flags().StringVar(&rootDir, "root", "", "target root directory (overrides paths.root)")

	// Add commands
	rootCmd.AddCommand(convertCmd)
	rootCmd.AddCommand(checkCmd)
	rootCmd.AddCommand(versionCmd)
}

func runConvert(cmd *cobra.Command, args []string) error {
	ctx, cancel := setupSignalHandler()
	defer cancel()

	logger := setupLogger()

	engine, err := buildEngine(logger, dryRun)
	if err != nil {
		return err
	}

	if _, err := engine.Run(ctx); err != nil {
		logger.Error("conversion failed", "error", err)
		return err
	}
	return nil
}

func runCheck(cmd *cobra.Command, args []string) error {
	ctx, cancel := setupSignalHandler()
	defer cancel()

	logger := setupLogger()

	engine, err := buildEngine(logger, false)
	if err != nil {
		return err
	}

	res, err := engine.Check(ctx)
	if err != nil {
		logger.Error("check failed", "error", err)
		return err
	}

	for _, line := range res.Entries {
		fmt.Println(line)
	}
	if len(res.Unsupported) > 0 {
		logger.Info("unconvertible objects present", "count", len(res.Unsupported))
	}
	return nil
}

// buildEngine wires configuration, root filesystem and identity database
// into a conversion engine.
func buildEngine(logger *slog.Logger, dryRun bool) (*convert.Engine, error) {
	cfg, err := loadConfig(logger)
	if err != nil {
		return nil, fmt.Errorf("failed to load config: %w", err)
	}

	fsys, err := rootfs.New(cfg.Paths.Root)
	if err != nil {
		return nil, err
	}

	db, err := userdb.Load(fsys)
	if err != nil {
		return nil, fmt.Errorf("failed to load identity database: %w", err)
	}
	logger.Debug("identity database loaded",
		"users", db.UserCount(),
		"groups", db.GroupCount())

	return convert.NewEngine(cfg, fsys, db, logger, dryRun), nil
}

func setupLogger() *slog.Logger {
	// Parse log level
	var level slog.Level
	switch logLevel {
	case "debug":
		level = slog.LevelDebug
	case "info":
		level = slog.LevelInfo
	case "warn":
		level = slog.LevelWarn
	case "error":
		level = slog.LevelError
	default:
		level = slog.LevelInfo
	}

	// Create handler based on format. Logs go to stderr: stdout is
	// reserved for the entry lines check prints.
	var handler slog.Handler
	opts := &slog.HandlerOptions{Level: level}

	if logFormat == "json" {
		handler = slog.NewJSONHandler(os.Stderr, opts)
	} else {
		handler = slog.NewTextHandler(os.Stderr, opts)
	}

	return slog.New(handler)
}

func loadConfig(logger *slog.Logger) (*config.Config, error) {
	var cfg *config.Config
	if cfgFile == "" {
		logger.Debug("no config file given, using defaults")
		cfg = config.Default()
	} else {
		logger.Info("loading configuration", "path", cfgFile)
		loaded, err := config.Load(cfgFile)
		if err != nil {
			return nil, err
		}
		cfg = loaded
	}

	if rootDir != "" {
		cfg.Paths.Root = rootDir
		if err := cfg.Validate(); err != nil {
			return nil, fmt.Errorf("invalid configuration: %w", err)
		}
	}

	logger.Debug("configuration loaded",
		"root", cfg.Paths.Root,
		"subtree", cfg.Paths.Subtree,
		"tmpfiles_dir", cfg.Paths.TmpfilesDir)

	return cfg, nil
}

func setupSignalHandler() (context.Context, context.CancelFunc) {
	ctx, cancel := context.WithCancel(context.Background())

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, os.Interrupt, syscall.SIGTERM)

	go func() {
		<-sigCh
		cancel()
	}()

	return ctx, cancel
}
