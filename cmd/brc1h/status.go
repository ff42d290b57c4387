package main

import (
	"fmt"
	"time"

	"github.com/spf13/cobra"
	"github.com/srg/brc1h/internal/state"
)

const exampleAddress = "AA:BB:CC:DD:EE:FF"

func newStatusCmd() *cobra.Command {
	var (
		asJSON bool
		watch  bool
	)

	cmd := &cobra.Command{
		Use:   "status",
		Short: "Show the full controller state",
		Long: fmt.Sprintf(`Reads every feature of the controller and prints its state.

With --watch the command keeps the connection open and prints changes as the
controller reports them, for example when it is operated from its own panel.

Examples:
  brc1h status --address %s
  brc1h status --json
  brc1h status --watch`, exampleAddress),
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			env, err := loadEnv(cmd, true)
			if err != nil {
				return err
			}
			// All arguments validated - don't show usage on runtime errors
			cmd.SilenceUsage = true

			ctx, cancel := interruptContext(env.logger)
			defer cancel()

			sess, err := env.openSession(ctx, cmd)
			if err != nil {
				return err
			}
			defer env.closeSession(sess)

			if err := sess.Refresh(ctx); err != nil {
				return fmt.Errorf("failed to read controller state: %w", err)
			}

			out := cmd.OutOrStdout()
			if asJSON {
				if err := printStateJSON(out, sess.Snapshot(), nil); err != nil {
					return err
				}
			} else {
				printState(out, sess.Snapshot(), nil)
			}
			if !watch {
				return nil
			}

			changes := make(chan state.Change, 64)
			unsubscribe := sess.OnChange(func(c state.Change) {
				select {
				case changes <- c:
				default:
					env.logger.Warn("Dropping state change, output is too slow")
				}
			})
			defer unsubscribe()

			for {
				select {
				case <-ctx.Done():
					return nil
				case c := <-changes:
					if asJSON {
						if err := printStateJSON(out, c.Current, c.Changed); err != nil {
							return err
						}
						continue
					}
					fmt.Fprintf(out, "--- %s (revision %d)\n", c.Current.UpdatedAt.Format(time.TimeOnly), c.Current.Revision)
					printState(out, c.Current, c.Changed)
				}
			}
		},
	}

	cmd.Flags().BoolVar(&asJSON, "json", false, "Print JSON instead of text")
	cmd.Flags().BoolVarP(&watch, "watch", "w", false, "Keep running and print changes")
	return cmd
}
