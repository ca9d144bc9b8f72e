package main

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/hrygo/conductor/internal/profile"
	"github.com/hrygo/conductor/internal/version"
	"github.com/hrygo/conductor/server"
	"github.com/hrygo/conductor/store"
	"github.com/hrygo/conductor/store/db"
)

var rootCmd = &cobra.Command{
	Use:   "conductor",
	Short: `A persistent, dependency-aware task scheduler. Submit tasks over HTTP and conductor runs them once their prerequisites complete.`,
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		// Try to load a .env file from the current directory (ignore
		// error if the file doesn't exist).
		_ = godotenv.Load()
		return nil
	},
	Run: func(_ *cobra.Command, _ []string) {
		instanceProfile := &profile.Profile{
			Mode:        viper.GetString("mode"),
			Addr:        viper.GetString("addr"),
			Port:        viper.GetInt("port"),
			DatabaseURL: viper.GetString("database-url"),
			Version:     version.GetCurrentVersion(viper.GetString("mode")),
		}
		instanceProfile.FromEnv()
		if err := instanceProfile.Validate(); err != nil {
			panic(err)
		}

		setupLogging(instanceProfile)

		ctx, cancel := context.WithCancel(context.Background())
		defer cancel()

		dbDriver, err := db.NewDBDriver(instanceProfile)
		if err != nil {
			slog.Error("failed to create db driver", "error", err)
			return
		}

		storeInstance := store.New(dbDriver, instanceProfile)
		if err := storeInstance.Migrate(ctx); err != nil {
			slog.Error("failed to migrate", "error", err)
			return
		}

		s, err := server.NewServer(ctx, instanceProfile, storeInstance)
		if err != nil {
			slog.Error("failed to create server", "error", err)
			return
		}

		c := make(chan os.Signal, 1)
		// Trigger graceful shutdown on SIGINT or SIGTERM. The default
		// signal sent by the `kill` command is SIGTERM, which is taken
		// as the graceful shutdown signal by most process managers.
		signal.Notify(c, terminationSignals...)

		if err := s.Start(ctx); err != nil {
			slog.Error("failed to start server", "error", err)
			return
		}

		printGreetings(instanceProfile)

		<-c
		slog.Info("shutdown signal received")
		shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 30*time.Second)
		defer shutdownCancel()
		s.Shutdown(shutdownCtx)
	},
}

func init() {
	viper.SetDefault("mode", "dev")
	viper.SetDefault("port", 8080)

	rootCmd.PersistentFlags().String("mode", "dev", `mode of server, can be "prod" or "dev" or "demo"`)
	rootCmd.PersistentFlags().String("addr", "", "address of server")
	rootCmd.PersistentFlags().Int("port", 8080, "port of server")
	rootCmd.PersistentFlags().String("database-url", "", "connection string for the task store (SQLite path or postgres:// URL)")

	for _, flag := range []string{"mode", "addr", "port", "database-url"} {
		if err := viper.BindPFlag(flag, rootCmd.PersistentFlags().Lookup(flag)); err != nil {
			panic(err)
		}
	}

	viper.SetEnvPrefix("conductor")
	viper.AutomaticEnv()
	viper.SetEnvKeyReplacer(strings.NewReplacer(".", "_", "-", "_"))

	// DATABASE_URL is the conventional unprefixed name for the store
	// connection string; keep supporting it alongside CONDUCTOR_*.
	if err := viper.BindEnv("database-url", "CONDUCTOR_DATABASE_URL", "DATABASE_URL"); err != nil {
		panic(err)
	}
}

// setupLogging installs the process-wide slog handler at the configured
// level.
func setupLogging(profile *profile.Profile) {
	handler := slog.NewTextHandler(os.Stdout, &slog.HandlerOptions{
		Level: profile.SlogLevel(),
	})
	slog.SetDefault(slog.New(handler))
}

func printGreetings(profile *profile.Profile) {
	fmt.Printf("Conductor %s started successfully!\n", profile.Version)

	if profile.IsDev() {
		fmt.Fprint(os.Stderr, "Development mode is enabled\n")
		fmt.Fprintf(os.Stderr, "Database: %s\n", profile.DSN)
	}

	fmt.Printf("Database driver: %s\n", profile.Driver)
	fmt.Printf("Mode: %s\n", profile.Mode)
	fmt.Printf("Max concurrent tasks: %d\n", profile.MaxConcurrentTasks)
	fmt.Printf("Scheduler poll interval: %s\n", profile.SchedulerPollInterval)

	if len(profile.Addr) == 0 {
		fmt.Printf("Server running on port %d\n", profile.Port)
	} else {
		fmt.Printf("Server running on %s:%d\n", profile.Addr, profile.Port)
	}
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		panic(err)
	}
}
