package main

import (
	"fmt"
	"strings"

	"github.com/spf13/cobra"
	"github.com/srg/brc1h/bridge"
	"github.com/srg/brc1h/internal/protocol"
)

func newSetCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "set <attribute> <value>",
		Short: "Change a controller setting",
		Long: `Changes one setting and prints its new value.

Writable attributes and values:
  power                on, off
  mode                 fan, dry, auto, cool, heat, ventilation
  cooling_setpoint     10..32 (°C, 0.5 steps are typical)
  heating_setpoint     10..32
  fan_speed_cooling    auto, low, mid-low, mid, mid-high, high
  fan_speed_heating    auto, low, mid-low, mid, mid-high, high
  clean_filter         reset

Set points and fan speeds are stored in pairs; the other half of the pair is
read from the controller and written back unchanged.

Examples:
  brc1h set power on
  brc1h set mode heat
  brc1h set heating_setpoint 21.5`,
		Args: cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			attr, err := protocol.ParseAttribute(args[0])
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

			// The other half of a set point or fan speed pair must be known.
			if err := queryFeatures(ctx, sess, []protocol.Attribute{attr}); err != nil {
				return err
			}

			command, err := bridge.Translate(attr, []byte(strings.TrimSpace(args[1])), sess.Snapshot())
			if err != nil {
				return err
			}
			env.logger.WithField("command", fmt.Sprintf("%T", command)).Debug("Sending command")

			if _, err := sess.Send(ctx, command, 0); err != nil {
				return fmt.Errorf("failed to set %s: %w", attr, err)
			}

			printState(cmd.OutOrStdout(), sess.Snapshot(), []protocol.Attribute{attr})
			return nil
		},
	}
	return cmd
}
