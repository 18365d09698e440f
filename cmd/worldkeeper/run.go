package main

import (
	"context"
	"fmt"
	"io"
	"log"
	"os"
	"os/signal"
	"path/filepath"
	"strings"
	"syscall"

	"github.com/TheGojiOG/worldkeeper/internal/backup"
	"github.com/TheGojiOG/worldkeeper/internal/command"
	"github.com/TheGojiOG/worldkeeper/internal/config"
	"github.com/TheGojiOG/worldkeeper/internal/console"
	"github.com/TheGojiOG/worldkeeper/internal/database"
	"github.com/TheGojiOG/worldkeeper/internal/logging"
	"github.com/TheGojiOG/worldkeeper/internal/process"
	"github.com/TheGojiOG/worldkeeper/internal/state"
	"github.com/TheGojiOG/worldkeeper/internal/status"
	"github.com/TheGojiOG/worldkeeper/internal/supervisor"
)

const consoleBufferLines = 500

func runSupervisor(ctx context.Context, configPath string) error {
	cfg, err := config.Load(configPath)
	if err != nil {
		return fmt.Errorf("failed to load configuration: %w", err)
	}

	if err := setupLogging(cfg); err != nil {
		return fmt.Errorf("failed to set up logging: %w", err)
	}
	defer logging.Close()

	if ctx == nil {
		ctx = context.Background()
	}
	ctx, stop := signal.NotifyContext(ctx, syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	var history backup.History
	if cfg.Database.Path != "" {
		db, err := openDatabase(ctx, cfg.Database.Path)
		if err != nil {
			return err
		}
		defer db.Close()
		history = backup.NewSQLHistory(db)
	}

	destinations, err := backup.NewDestinations(cfg.Backup.Destinations, filepath.Join(cfg.Storage.DataDir, "known_hosts"))
	if err != nil {
		return fmt.Errorf("failed to configure backup destinations: %w", err)
	}

	store := state.NewStore(state.Policy{
		Interval: cfg.Backup.Interval,
		Compress: cfg.Backup.Compress,
		Schedule: strings.TrimSpace(cfg.Backup.Schedule),
	}, cfg.Commands.SuperUsers...)

	channel := process.NewChannel(process.Config{
		Executable: cfg.Server.Executable,
		Args:       cfg.Server.Args,
		WorkingDir: cfg.Server.WorkingDir,
	})

	snapshots, err := backup.NewSnapshotter(channel, store, backup.Options{
		WorldDir:         cfg.Storage.WorldDir,
		BackupDir:        cfg.Storage.BackupDir,
		Exclude:          cfg.Backup.Exclude,
		CompressionLevel: cfg.Backup.CompressionLevel,
		QuiesceTimeout:   cfg.Backup.QuiesceTimeout,
		PreCommands:      cfg.Backup.PreCommands,
		PostCommands:     cfg.Backup.PostCommands,
		BroadcastPrefix:  cfg.Commands.BroadcastPrefix,
		RetentionCount:   cfg.Backup.RetentionCount,
		Destinations:     destinations,
		History:          history,
	})
	if err != nil {
		return fmt.Errorf("failed to configure backups: %w", err)
	}
	scheduler := backup.NewScheduler(snapshots, store, cfg.Backup.PollInterval)

	router := command.NewRouter(channel, snapshots, store, command.Options{
		Marker:          cfg.Commands.Marker,
		BroadcastPrefix: cfg.Commands.BroadcastPrefix,
		Operator:        os.Stdout,
	})

	logWriter, err := console.NewLogWriter(filepath.Join(cfg.Storage.BackupDir, "logs"))
	if err != nil {
		return fmt.Errorf("failed to open console log: %w", err)
	}
	defer logWriter.Close()
	buffer := console.NewRingBuffer(consoleBufferLines)
	sink := console.NewSink(logWriter, buffer, os.Stdout)

	// The status server is an auxiliary surface; it outlives neither the
	// supervisor nor a failed listen.
	if cfg.Status.Listen != "" {
		statusCtx, cancelStatus := context.WithCancel(context.Background())
		defer cancelStatus()
		server := status.NewServer(cfg.Status.Listen, status.Deps{
			Process:  channel,
			Store:    store,
			Backups:  snapshots,
			Schedule: scheduler,
			History:  history,
			Console:  buffer,
			Debug:    strings.EqualFold(cfg.Logging.Level, "debug"),
		})
		go func() {
			if err := server.Run(statusCtx); err != nil {
				log.Printf("[Status] %v", err)
			}
		}()
	}

	sup := supervisor.New(channel, router, scheduler, sink, supervisor.Options{
		Input:       os.Stdin,
		Output:      os.Stdout,
		StopCommand: cfg.Server.StopCommand,
		StopTimeout: cfg.Server.StopTimeout,
	})

	log.Printf("[Supervisor] Starting %s in %s", cfg.Server.Executable, cfg.Server.WorkingDir)
	code, err := sup.Run(ctx)
	if err != nil {
		// Only a server that never started is a supervisor failure.
		if channel.Pid() == 0 {
			return err
		}
		log.Printf("[Supervisor] %v", err)
	}
	log.Printf("[Supervisor] Server exit code %d; supervisor exiting", code)
	return nil
}

func setupLogging(cfg *config.Config) error {
	if strings.TrimSpace(cfg.Logging.File) == "" {
		dataDir := cfg.Storage.DataDir
		if dataDir == "" {
			dataDir = "./data"
		}
		cfg.Logging.File = filepath.Join(dataDir, "logs", "worldkeeper.log")
	}
	if err := os.MkdirAll(filepath.Dir(cfg.Logging.File), 0755); err != nil {
		return err
	}
	_, err := logging.Init(cfg.Logging)
	return err
}

func openDatabase(ctx context.Context, path string) (*database.DB, error) {
	db, err := database.NewDB(path)
	if err != nil {
		return nil, fmt.Errorf("failed to initialize database: %w", err)
	}
	if _, err := db.Migrate(ctx); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to run migrations: %w", err)
	}
	return db, nil
}

func runMigrations(ctx context.Context, configPath string, out io.Writer) error {
	cfg, err := config.Load(configPath)
	if err != nil {
		return fmt.Errorf("failed to load configuration: %w", err)
	}
	if cfg.Database.Path == "" {
		return fmt.Errorf("database.path is not set; backup history is disabled")
	}
	if ctx == nil {
		ctx = context.Background()
	}

	db, err := database.NewDB(cfg.Database.Path)
	if err != nil {
		return fmt.Errorf("failed to initialize database: %w", err)
	}
	defer db.Close()

	applied, err := db.Migrate(ctx)
	if err != nil {
		return fmt.Errorf("migration failed: %w", err)
	}
	if len(applied) == 0 {
		fmt.Fprintln(out, "Database is up to date")
		return nil
	}
	for _, version := range applied {
		fmt.Fprintf(out, "Applied %s\n", version)
	}
	return nil
}
