package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"fleet_traffic/internal/dijkstra"
	"fleet_traffic/internal/services"
)

func newPathCmd() *cobra.Command {
	var (
		from, to  int
		weighted  bool
		levelName string
	)
	cmd := &cobra.Command{
		Use:   "path",
		Short: "Print the route between two vertices of a level",
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			source, closeSource, err := openLevelSource(ctx)
			if err != nil {
				return err
			}
			defer closeSource()

			name := levelName
			if name == "" {
				name = cfg.LevelName
			}
			graph, err := services.LoadGraph(ctx, source, name)
			if err != nil {
				return err
			}

			var path []int
			if weighted {
				path, err = graph.ShortestPathWeighted(from, to, dijkstra.SpeedWeighted)
			} else {
				path, err = graph.ShortestPath(from, to)
			}
			if err != nil {
				_, unreachable := graph.Reachable(from)
				if len(unreachable) > 0 {
					fmt.Fprintf(cmd.ErrOrStderr(), "unreachable from %d: %v\n", from, unreachable)
				}
				return err
			}

			out := cmd.OutOrStdout()
			fmt.Fprintf(out, "%s: %v (%d hops)\n", name, path, len(path)-1)
			for i := 1; i < len(path); i++ {
				speed, _ := graph.SpeedLimit(path[i-1], path[i])
				fmt.Fprintf(out, "  %d -> %d  speed limit %v\n", path[i-1], path[i], speed)
			}
			return nil
		},
	}
	cmd.Flags().IntVar(&from, "from", 0, "start vertex")
	cmd.Flags().IntVar(&to, "to", 0, "destination vertex")
	cmd.Flags().BoolVar(&weighted, "weighted", false, "prefer fast lanes instead of fewest hops")
	cmd.Flags().StringVarP(&levelName, "level", "l", "", "level name (defaults to the configured level)")
	cmd.MarkFlagRequired("to")
	return cmd
}
