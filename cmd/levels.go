package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"fleet_traffic/internal/navgraph"
	"fleet_traffic/internal/repositories"
	"fleet_traffic/internal/services"
)

func newLevelsCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "levels",
		Short: "Inspect and manage navigation levels",
	}
	cmd.AddCommand(newLevelsListCmd())
	cmd.AddCommand(newLevelsImportCmd())
	cmd.AddCommand(newLevelsSeedCmd())
	return cmd
}

func newLevelsListCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "list",
		Short: "List the levels of the configured source",
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			source, closeSource, err := openLevelSource(ctx)
			if err != nil {
				return err
			}
			defer closeSource()

			names, err := services.ListLevels(ctx, source)
			if err != nil {
				return err
			}
			file, err := source.LoadLevelFile(ctx)
			if err != nil {
				return err
			}
			// A stored level without vertices is listed with zero counts.
			for _, name := range names {
				level := file.Levels[name]
				marker := " "
				if name == cfg.LevelName {
					marker = "*"
				}
				fmt.Fprintf(cmd.OutOrStdout(), "%s %s\t%d vertices\t%d lanes\n", marker, name, len(level.Vertices), len(level.Lanes))
			}
			return nil
		},
	}
}

func newLevelsImportCmd() *cobra.Command {
	var file string
	cmd := &cobra.Command{
		Use:   "import [level...]",
		Short: "Copy levels from a JSON level file into Neo4j",
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			if file == "" {
				file = cfg.LevelFile
			}
			levels, err := services.FileLevelSource{Path: file}.LoadLevelFile(ctx)
			if err != nil {
				return err
			}
			names := args
			if len(names) == 0 {
				names = services.LevelNames(levels)
			}

			db, err := openNeo4j(ctx)
			if err != nil {
				return err
			}
			defer db.Close(ctx)
			repo := repositories.NewLevelRepository(db.Driver)

			for _, name := range names {
				// Validate before writing so Neo4j never holds a level
				// that would fail to load.
				if _, err := navgraph.LoadLevel(levels, name); err != nil {
					return err
				}
				if err := repo.SaveLevel(ctx, name, levels.Levels[name]); err != nil {
					return err
				}
				logger.Info("imported level %q", name)
			}
			return nil
		},
	}
	cmd.Flags().StringVarP(&file, "file", "f", "", "level file (defaults to the configured level_file)")
	return cmd
}

func newLevelsSeedCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "seed <script.cypher>",
		Short: "Run a Cypher script against Neo4j",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			db, err := openNeo4j(ctx)
			if err != nil {
				return err
			}
			defer db.Close(ctx)
			if err := db.ExecuteCypherFile(ctx, args[0]); err != nil {
				return err
			}
			logger.Info("executed %s", args[0])
			return nil
		},
	}
}
