package signal

import (
	"context"
	"os"
	"os/signal"
	"syscall"
	"time"

	mqtt "github.com/eclipse/paho.mqtt.golang"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
	"github.com/urfave/cli/v2"
	"github.com/urfave/cli/v2/altsrc"
	"github.com/williamlsh/logging"

	signalsvc "github.com/swifthub/beacon/internal/signal"
	"github.com/swifthub/beacon/internal/signal/cfg"
	mqttclient "github.com/swifthub/beacon/pkg/mqttclient"
)

const configFlagName = "config"

// Command returns a signal command.
func Command() *cli.Command {
	ctx := context.Background()

	var (
		logger zerolog.Logger

		mc mqtt.Client

		mqttConfigOptions    mqttclient.ConfigOptions
		serverConfigOptions  cfg.ServerConfigOptions
		keyConfigOptions     cfg.KeyConfigOptions
		sweeperConfigOptions cfg.SweeperConfigOptions
		eventsConfigOptions  cfg.EventsConfigOptions
	)

	flags := func() (flags []cli.Flag) {
		for _, v := range [][]cli.Flag{
			loadConfigFlag(),
			serverFlags(&serverConfigOptions),
			keyFlags(&keyConfigOptions),
			sweeperFlags(&sweeperConfigOptions),
			eventsFlags(&eventsConfigOptions),
			mqttFlags(&mqttConfigOptions),
		} {
			flags = append(flags, v...)
		}
		return
	}()

	return &cli.Command{
		Name:  "signal",
		Usage: "run the session registry and signaling relay for live camera broadcasts",
		Flags: flags,
		Before: func(c *cli.Context) error {
			if err := altsrc.InitInputSourceWithContext(
				flags,
				altsrc.NewTomlSourceFromFlagFunc(configFlagName),
			)(c); err != nil {
				return err
			}

			// Set up logger.
			debug := c.Bool("debug")
			logging.Debug(debug)
			logger = log.With().Str("service", "beacon").Str("command", "signal").Logger()
			ctx = logger.WithContext(ctx)

			// The MQTT client is needed only when lifecycle event export is on.
			if eventsConfigOptions.Enable {
				mc = mqttclient.NewClient(ctx, mqttConfigOptions)
				if err := mqttclient.CheckConnectivity(mc, 3*time.Second); err != nil {
					return err
				}
				ctx = mqttclient.WithContext(ctx, mc)
			}
			return nil
		},
		Action: func(c *cli.Context) error {
			runCtx, cancel := context.WithCancel(ctx)
			defer cancel()

			sigs := make(chan os.Signal, 1)
			signal.Notify(sigs, syscall.SIGINT, syscall.SIGTERM)
			go func() {
				<-sigs
				cancel()
			}()

			svc := signalsvc.New(runCtx, &cfg.ConfigOptions{
				ServerConfigOptions:  serverConfigOptions,
				KeyConfigOptions:     keyConfigOptions,
				SweeperConfigOptions: sweeperConfigOptions,
				EventsConfigOptions:  eventsConfigOptions,
			})
			err := svc.Run(runCtx)
			if err != nil {
				logger.Err(err).Msg("signal service failed")
			}
			return err
		},
		After: func(c *cli.Context) error {
			logger.Info().Msg("exits")
			return nil
		},
	}
}

// loadConfigFlag sets a config file path for app command.
// Note: you can't set any other flags' `Required` value to `true`,
// As it conflicts with this flag. You can set only either this flag or specifically the other flags but not both.
func loadConfigFlag() []cli.Flag {
	return []cli.Flag{
		&cli.StringFlag{
			Name:        configFlagName,
			Aliases:     []string{"c"},
			Usage:       "Config file path",
			Value:       "config/config.toml",
			DefaultText: "config/config.toml",
		},
	}
}

func serverFlags(options *cfg.ServerConfigOptions) []cli.Flag {
	return []cli.Flag{
		altsrc.NewStringFlag(&cli.StringFlag{
			Name:        "signal_server.host",
			Usage:       "Host of the signaling server",
			Value:       "0.0.0.0",
			DefaultText: "0.0.0.0",
			Destination: &options.Host,
		}),
		altsrc.NewIntFlag(&cli.IntFlag{
			Name:        "signal_server.port",
			Usage:       "Port of the signaling server",
			Value:       8080,
			DefaultText: "8080",
			Destination: &options.Port,
		}),
	}
}

func keyFlags(options *cfg.KeyConfigOptions) []cli.Flag {
	return []cli.Flag{
		altsrc.NewStringFlag(&cli.StringFlag{
			Name:        "signal.key_mode",
			Usage:       "Publish key sourcing: 'phone' (caller supplies a stable key) or 'token' (server generates one)",
			Value:       cfg.KeyModePhone,
			DefaultText: cfg.KeyModePhone,
			Destination: &options.Mode,
		}),
	}
}

func sweeperFlags(options *cfg.SweeperConfigOptions) []cli.Flag {
	return []cli.Flag{
		altsrc.NewDurationFlag(&cli.DurationFlag{
			Name:        "signal.sweep_interval",
			Usage:       "Interval between stale-viewer reconciliation passes",
			Value:       30 * time.Second,
			DefaultText: "30s",
			Destination: &options.Interval,
		}),
	}
}

func eventsFlags(options *cfg.EventsConfigOptions) []cli.Flag {
	return []cli.Flag{
		altsrc.NewBoolFlag(&cli.BoolFlag{
			Name:        "events.enable",
			Usage:       "Export session lifecycle events to MQTT",
			Value:       false,
			DefaultText: "false",
			Destination: &options.Enable,
		}),
		altsrc.NewStringFlag(&cli.StringFlag{
			Name:        "events.topic_prefix",
			Usage:       "MQTT topic prefix for session lifecycle events",
			Value:       "/beacon/broadcast/lifecycle",
			DefaultText: "/beacon/broadcast/lifecycle",
			Destination: &options.TopicPrefix,
		}),
		altsrc.NewUintFlag(&cli.UintFlag{
			Name:        "events.qos",
			Usage:       "MQTT qos for session lifecycle events",
			Value:       0,
			DefaultText: "0",
			Destination: &options.Qos,
		}),
		altsrc.NewBoolFlag(&cli.BoolFlag{
			Name:        "events.retained",
			Usage:       "MQTT retention for session lifecycle events",
			Value:       false,
			DefaultText: "false",
			Destination: &options.Retained,
		}),
	}
}

func mqttFlags(options *mqttclient.ConfigOptions) []cli.Flag {
	return []cli.Flag{
		altsrc.NewStringFlag(&cli.StringFlag{
			Name:        "mqtt.server",
			Usage:       "MQTT server address",
			Value:       "tcp://mosquitto:1883",
			DefaultText: "tcp://mosquitto:1883",
			Destination: &options.Server,
		}),
		altsrc.NewStringFlag(&cli.StringFlag{
			Name:        "mqtt.clientID",
			Usage:       "MQTT client id",
			Value:       "beacon_signal",
			DefaultText: "beacon_signal",
			Destination: &options.ClientID,
		}),
		altsrc.NewStringFlag(&cli.StringFlag{
			Name:        "mqtt.username",
			Usage:       "MQTT broker username",
			Value:       "",
			Destination: &options.Username,
		}),
		altsrc.NewStringFlag(&cli.StringFlag{
			Name:        "mqtt.password",
			Usage:       "MQTT broker password",
			Value:       "",
			Destination: &options.Password,
		}),
	}
}
