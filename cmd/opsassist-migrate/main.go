package main

import (
	"fmt"
	"os"

	"github.com/mlbrnm/incidentgpt/internal/config"
	internal_storage "github.com/mlbrnm/incidentgpt/internal/storage"
	"github.com/spf13/cobra"
)

var rootCmd = &cobra.Command{Use: "opsassist-migrate"}

var migrateCmd = &cobra.Command{
	Use:   "migrate",
	Short: "Run database migrations",
	Run: func(cmd *cobra.Command, args []string) {
		v := config.New()
		_ = v.BindPFlag("db_dsn", cmd.Flags().Lookup("db"))
		_ = v.BindPFlag("db_driver", cmd.Flags().Lookup("driver"))

		cfg, err := config.Load(v)
		if err != nil {
			fmt.Printf("Invalid configuration: %v\n", err)
			os.Exit(1)
		}
		if cfg.Store.Driver == internal_storage.DriverMemory {
			fmt.Println("The memory store has no schema to migrate")
			return
		}
		if err := internal_storage.Migrate(cfg.Store.Driver, cfg.Store.DSN); err != nil {
			fmt.Printf("Failed to apply migrations: %v\n", err)
			os.Exit(1)
		}
		fmt.Printf("Migrations applied successfully (%s)\n", cfg.Store.Driver)
	},
}

func main() {
	rootCmd.AddCommand(migrateCmd)
	migrateCmd.Flags().String("db", "", "Database DSN (optional if DB_* env vars are set for postgres)")
	migrateCmd.Flags().String("driver", "", "Store driver: sqlite or postgres")
	if err := rootCmd.Execute(); err != nil {
		fmt.Println(err)
		os.Exit(1)
	}
}
