package main

import (
	"context"
	"fmt"

	"github.com/spf13/cobra"
	"github.com/srg/brc1h/internal/protocol"
	"github.com/srg/brc1h/pkg/session"
)

func newGetCmd() *cobra.Command {
	var asJSON bool

	cmd := &cobra.Command{
		Use:   "get <attribute>[,attribute...]...",
		Short: "Read selected attributes",
		Long: `Reads only the features that carry the requested attributes.

Attributes: power, mode, cooling_setpoint, heating_setpoint,
fan_speed_cooling, fan_speed_heating, indoor_temperature,
outdoor_temperature, clean_filter, setpoint_range_enabled, setpoint_mode,
setpoint_min_differential, cooling_lower_limit, cooling_upper_limit,
heating_lower_limit, heating_upper_limit.

Examples:
  brc1h get power mode
  brc1h get cooling_setpoint,heating_setpoint --json`,
		Args: cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			attrs, err := parseAttributes(args)
			if err != nil {
				return err
			}
			env, err := loadEnv(cmd, true)
			if err != nil {
				return err
			}
			cmd.SilenceUsage = true

			ctx, cancel := interruptContext(env.logger)
			defer cancel()

			sess, err := env.openSession(ctx, cmd)
			if err != nil {
				return err
			}
			defer env.closeSession(sess)

			if err := queryFeatures(ctx, sess, attrs); err != nil {
				return err
			}

			if asJSON {
				return printStateJSON(cmd.OutOrStdout(), sess.Snapshot(), attrs)
			}
			printState(cmd.OutOrStdout(), sess.Snapshot(), attrs)
			return nil
		},
	}

	cmd.Flags().BoolVar(&asJSON, "json", false, "Print JSON instead of text")
	return cmd
}

// queryFeatures reads each feature carrying one of attrs, once.
func queryFeatures(ctx context.Context, sess *session.Session, attrs []protocol.Attribute) error {
	seen := make(map[protocol.Opcode]bool)
	for _, attr := range attrs {
		op, ok := protocol.QueryFor(attr)
		if !ok || seen[op] {
			continue
		}
		seen[op] = true

		query, err := protocol.Query(op)
		if err != nil {
			return err
		}
		if _, err := sess.Send(ctx, query, 0); err != nil {
			name, _ := protocol.FeatureName(op)
			return fmt.Errorf("failed to read %s: %w", name, err)
		}
	}
	return nil
}
