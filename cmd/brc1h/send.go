package main

import (
	"fmt"

	"github.com/spf13/cobra"
	"github.com/srg/brc1h/internal/protocol"
)

func newSendCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "send <frame-hex>",
		Short: "Send a raw protocol frame",
		Long: `Sends one frame exactly as given and prints the controller's answer.

The frame is written as hex, with or without ':' separators, including the
length byte. Raw frames are never retried.

Examples:
  # query power state
  brc1h send 07:00:00:20:20:01:00
  brc1h send 07000020200100`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			frame, err := protocol.ParseHex(args[0])
			if err != nil {
				return fmt.Errorf("invalid frame: %w", err)
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

			resp, err := sess.Send(ctx, protocol.Raw{Op: frame.Opcode, Params: frame.Params}, 0)
			if err != nil {
				return err
			}

			raw, err := resp.Frame.Bytes()
			if err != nil {
				return err
			}
			out := cmd.OutOrStdout()
			fmt.Fprintf(out, "%s  %s\n", labelColor.Sprint("response"), protocol.FormatHex(raw))
			fmt.Fprintf(out, "%s  %s\n", labelColor.Sprint("decoded "), resp.Frame)
			for _, attr := range protocol.Attributes {
				if v, ok := resp.Values[attr]; ok {
					fmt.Fprintf(out, "  %s  %s\n", labelColor.Sprintf("%-25s", attr), formatValue(attr, v))
				}
			}
			return nil
		},
	}
	return cmd
}
