package main

import (
	"fmt"

	"github.com/spf13/cobra"
	"github.com/srg/brc1h/bridge"
)

func newBridgeCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "bridge",
		Short: "Bridge the controller to an MQTT broker",
		Long: `Keeps a connection to the controller and mirrors it on an MQTT broker.

Topics, with <base> = <mqtt.topic_prefix>/<mqtt.device_id>:
  <base>/state/<attribute>  retained JSON value of one attribute
  <base>/state              retained JSON document of the whole state
  <base>/set/<attribute>    write a new value (power, mode, set points,
                            fan speeds, clean_filter)
  <base>/availability       retained "online" or "offline"
  <base>/error              JSON report of failed writes

The device id defaults to the controller address without separators.
Broker settings come from the mqtt section of the configuration file or
BRC1H_MQTT_* environment variables.

Examples:
  brc1h bridge --config /etc/brc1h.yaml
  BRC1H_ADDRESS=` + exampleAddress + ` BRC1H_MQTT_BROKER=tcp://nas:1883 brc1h bridge`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			env, err := loadEnv(cmd, false)
			if err != nil {
				return err
			}
			cmd.SilenceUsage = true

			ctx, cancel := interruptContext(env.logger)
			defer cancel()

			cfg := env.cfg
			topics := bridge.Topics{Prefix: cfg.MQTT.TopicPrefix, Device: cfg.DeviceID()}

			progress := NewProgressPrinter(cmd.ErrOrStderr(), fmt.Sprintf("Starting bridge for %s", env.address), "Connecting", "Running", "Failed")
			progress.Start()
			defer progress.Stop()

			err = bridge.RunDeviceBridge(ctx, &bridge.BridgeOptions{
				Address:        env.address,
				Session:        cfg.SessionConfig(),
				SessionOptions: transportOptions(),
				MQTT:           cfg.MQTTClientConfig(),
				Topics:         topics,
				PollInterval:   cfg.MQTT.PollInterval,
				Logger:         env.logger,
			}, progress.Callback())
			if err != nil {
				return err
			}
			env.logger.Info("Bridge shut down")
			return nil
		},
	}
	return cmd
}
