package cli

import (
	"context"
	"fmt"

	"github.com/spf13/cobra"

	"syndrodm/src/migrations"
)

var upCmd = &cobra.Command{
	Use:   "up",
	Short: "Apply pending migrations",
	Long: `Runs the forward procedures of the migrations after the current one.
Without --distance every pending migration is applied.`,
	Args: cobra.NoArgs,
	RunE: runMigrate(migrations.Forward),
}

var downCmd = &cobra.Command{
	Use:   "down",
	Short: "Roll back applied migrations",
	Long: `Runs the backward procedures starting at the current migration.
--distance 0 rolls back every applied migration.`,
	Args: cobra.NoArgs,
	RunE: runMigrate(migrations.Backward),
}

var statusCmd = &cobra.Command{
	Use:   "status",
	Short: "List migrations and whether they are applied",
	Args:  cobra.NoArgs,
	RunE:  runStatus,
}

func init() {
	upCmd.Flags().Int("distance", 0, "Number of migrations to apply, 0 applies all")
	downCmd.Flags().Int("distance", 1, "Number of migrations to roll back, 0 rolls back all")

	rootCmd.AddCommand(upCmd)
	rootCmd.AddCommand(downCmd)
	rootCmd.AddCommand(statusCmd)
}

func runMigrate(direction migrations.Direction) func(*cobra.Command, []string) error {
	return func(cmd *cobra.Command, _ []string) error {
		distance, err := cmd.Flags().GetInt("distance")
		if err != nil {
			return err
		}
		if distance < 0 {
			return fmt.Errorf("distance must not be negative, got %d", distance)
		}

		return withChain(cmd, func(ctx context.Context, chain *migrations.Chain) error {
			res, err := chain.Run(ctx, migrations.Mode{Direction: direction, Distance: distance})
			if res != nil {
				for _, name := range res.Applied {
					cmd.Printf("%s %s\n", direction, name)
				}
			}
			if err != nil {
				return fmt.Errorf("migration run failed: %w", err)
			}
			if len(res.Applied) == 0 {
				cmd.Println("Nothing to do.")
			}
			cmd.Printf("Current: %s\n", displayName(res.Current))
			return nil
		})
	}
}

func runStatus(cmd *cobra.Command, _ []string) error {
	return withChain(cmd, func(_ context.Context, chain *migrations.Chain) error {
		statuses := chain.Status()
		if len(statuses) == 0 {
			cmd.Println("No migrations registered.")
			return nil
		}
		for _, s := range statuses {
			mark := " "
			if s.Applied {
				mark = "x"
			}
			line := fmt.Sprintf("[%s] %s", mark, s.Name)
			if s.Current {
				line += " (current)"
			}
			cmd.Println(line)
		}
		return nil
	})
}

func displayName(name string) string {
	if name == "" {
		return "(none)"
	}
	return name
}
