package main

import (
	"context"
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"fleet_traffic/internal/config"
	"fleet_traffic/internal/database"
	"fleet_traffic/internal/logging"
	"fleet_traffic/internal/repositories"
	"fleet_traffic/internal/services"
)

var (
	cfgFile  string
	logLevel string

	cfg    *config.Config
	logger *logging.GologLogger
)

var rootCmd = &cobra.Command{
	Use:   "fleet",
	Short: "Multi-robot fleet traffic management over a navigation graph",
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		var err error
		cfg, err = config.Load(cfgFile)
		if err != nil {
			return err
		}
		if logLevel != "" {
			cfg.LogLevel = logLevel
		}
		level, err := logging.ParseLevel(cfg.LogLevel)
		if err != nil {
			return err
		}
		logger = logging.New(os.Stderr, "[fleet] ", level)
		return nil
	},
	SilenceUsage: true,
}

func init() {
	rootCmd.PersistentFlags().StringVarP(&cfgFile, "config", "c", "", "path to a TOML config file")
	rootCmd.PersistentFlags().StringVar(&logLevel, "log-level", "", "debug, info, warn, error or disable")

	rootCmd.AddCommand(newServeCmd())
	rootCmd.AddCommand(newPathCmd())
	rootCmd.AddCommand(newLevelsCmd())
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

// openLevelSource returns the configured level source and a cleanup
// function for any connection it opened.
func openLevelSource(ctx context.Context) (services.LevelSource, func(), error) {
	if cfg.LevelSource != config.SourceNeo4j {
		return services.FileLevelSource{Path: cfg.LevelFile}, func() {}, nil
	}
	db, err := openNeo4j(ctx)
	if err != nil {
		return nil, nil, err
	}
	return repositories.NewLevelRepository(db.Driver), func() { db.Close(context.Background()) }, nil
}

func openNeo4j(ctx context.Context) (*database.Neo4jDatabase, error) {
	db, err := database.NewNeo4jDatabase(ctx, cfg.Neo4j.URI, cfg.Neo4j.User, cfg.Neo4j.Password)
	if err != nil {
		return nil, err
	}
	logger.Debug("connected to neo4j at %s", cfg.Neo4j.URI)
	return db, nil
}
