package cmd

import (
	"encoding/json"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/google/uuid"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/masahif/docharvest/internal/config"
	"github.com/masahif/docharvest/internal/crawler"
	"github.com/masahif/docharvest/internal/storage"
)

var crawlBindings = []flagBinding{
	{"crawl.max_file_size", "max-file-size"},
	{"crawl.file_prefix", "file-prefix"},
	{"crawl.file_suffix", "file-suffix"},
}

func newCrawlCmd(v *viper.Viper) *cobra.Command {
	defaults := config.DefaultConfig()

	crawl := &cobra.Command{
		Use:   "crawl [URLs...]",
		Short: "Run one crawl task in the foreground",
		Long: `Crawl runs a single task from the given seed URLs until the frontier drains
or SIGINT/SIGTERM is received. A signal stops new fetches, lets in-flight ones
finish and flushes every recorded URL before exiting.`,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runCrawl(v, cmd, args)
		},
	}

	f := crawl.Flags()
	f.String("task-id", "", "Task id (default is a generated UUID)")
	f.String("task-name", "", "Human readable task name")
	f.Int64P("limit", "l", 0, "Stop admitting URLs after N entries (0=unlimited)")
	f.Int64("max-file-size", defaults.Crawl.MaxFileSize, "Content file rotation threshold in bytes")
	f.String("file-prefix", defaults.Crawl.FilePrefix, "Content file name prefix")
	f.String("file-suffix", defaults.Crawl.FileSuffix, "Content file name suffix")
	bindFlags(v, f, crawlBindings)

	return crawl
}

func runCrawl(v *viper.Viper, cmd *cobra.Command, args []string) error {
	cfg, err := loadConfig(v, cmd)
	if err != nil {
		return err
	}
	if show, _ := cmd.Flags().GetBool("show-config"); show {
		return showCurrentConfig(cmd.OutOrStdout(), cfg)
	}
	logCloser, err := setupLogging(cfg)
	if err != nil {
		return err
	}
	defer func() { _ = logCloser.Close() }()

	engine, err := crawler.NewEngine(cfg, nil)
	if err != nil {
		return err
	}

	taskID, _ := cmd.Flags().GetString("task-id")
	if taskID == "" {
		taskID = uuid.NewString()
	}
	taskName, _ := cmd.Flags().GetString("task-name")
	limit, _ := cmd.Flags().GetInt64("limit")

	tc, err := config.TaskConfig{
		TaskID:        taskID,
		TaskName:      taskName,
		SeedURLs:      args,
		CrawlQuantity: limit,
	}.Resolve(engine.Defaults())
	if err != nil {
		return err
	}

	ctx, stop := signal.NotifyContext(commandContext(cmd), os.Interrupt, syscall.SIGTERM)
	defer stop()

	store, err := storage.Open(ctx, cfg.Storage, tc.SaveDirectory, engine.MaxConns())
	if err != nil {
		return fmt.Errorf("failed to open metadata store: %w", err)
	}
	defer func() {
		if err := store.Close(); err != nil {
			slog.Warn("Closing metadata store failed", "error", err)
		}
	}()

	task, err := engine.NewTask(ctx, tc, store)
	if err != nil {
		return err
	}

	_, _ = fmt.Fprintf(cmd.ErrOrStderr(), "Starting task %s\n", tc.TaskID)
	_, _ = fmt.Fprintf(cmd.ErrOrStderr(), "  Seed URLs: %v\n", tc.SeedURLs)
	_, _ = fmt.Fprintf(cmd.ErrOrStderr(), "  Save directory: %s\n", tc.SaveDirectory)
	_, _ = fmt.Fprintf(cmd.ErrOrStderr(), "  Storage driver: %s\n", cfg.Storage.Driver)
	_, _ = fmt.Fprintf(cmd.ErrOrStderr(), "  Workers: %d-%d (%s)\n", cfg.Pool.CoreSize, cfg.Pool.MaxSize, cfg.Pool.RejectionPolicy)

	runErr := task.Run(ctx)

	enc := json.NewEncoder(cmd.OutOrStdout())
	enc.SetIndent("", "  ")
	if err := enc.Encode(task.Stats()); err != nil {
		slog.Warn("Writing task summary failed", "error", err)
	}
	return runErr
}
