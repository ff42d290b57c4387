package main

import (
	"fmt"

	"github.com/spf13/cobra"
	"gopkg.in/yaml.v3"
)

func newInfoCmd() *cobra.Command {
	var format string

	cmd := &cobra.Command{
		Use:   "info",
		Short: "Show controller model and firmware",
		Long: `Reads the Device Information Service of the controller.

Examples:
  brc1h info
  brc1h info --format yaml`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			switch format {
			case "text", "json", "yaml":
			default:
				return fmt.Errorf("invalid format %q (must be text, json or yaml)", format)
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

			info, err := sess.DeviceInfo(ctx)
			if err != nil {
				return fmt.Errorf("failed to read device information: %w", err)
			}

			out := cmd.OutOrStdout()
			switch format {
			case "json":
				return writeJSON(out, info)
			case "yaml":
				enc := yaml.NewEncoder(out)
				enc.SetIndent(2)
				if err := enc.Encode(info); err != nil {
					return fmt.Errorf("failed to encode output: %w", err)
				}
				return enc.Close()
			}

			rows := []struct{ label, value string }{
				{"address", env.address},
				{"manufacturer", info.Manufacturer},
				{"model", info.Model},
				{"serial", info.Serial},
				{"hardware", info.Hardware},
				{"firmware", info.Firmware},
				{"software", info.Software},
			}
			for _, r := range rows {
				if r.value == "" {
					continue
				}
				fmt.Fprintf(out, "%s  %s\n", labelColor.Sprintf("%-12s", r.label), r.value)
			}
			return nil
		},
	}

	cmd.Flags().StringVarP(&format, "format", "f", "text", "Output format: text, json or yaml")
	return cmd
}
