/*
Copyright © 2025 Mathias Djärv <mathias.djarv@allbinary.se>
*/
package cmd

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/rs/zerolog"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"
	"golang.org/x/sync/errgroup"

	serial "github.com/allbin/go-serial-relay"
	"github.com/allbin/go-serial-relay/detect"
	"github.com/allbin/go-serial-relay/internal/api"
)

// relayCmd represents the relay command
var relayCmd = &cobra.Command{
	Use:   "relay",
	Short: "Forward detection event codes to the device",
	Long: `Run the relay daemon: keep a session connected and forward every
detection event code from the source to the device.

Sources:
  stdin  one integer code per line, the relay exits at end of input
  nsq    one integer code per message body on --nsq-topic

The session reconnects every --reconnect-interval while disconnected, so
unplugging the adapter or resetting it only drops the codes that arrive
meanwhile.

With --publish-model the detection model configuration is published to
--model-topic before relaying, so the inference runtime reloads it.
With --http-addr a small control API is served (GET /status,
POST /connect, /disconnect, /send, /trigger/{code}).

Examples:
  detector | serial-relay relay
  serial-relay relay --source nsq --nsqd 127.0.0.1:4150 --nsq-topic detections
  serial-relay relay --source nsq --lookupd 127.0.0.1:4161 --publish-model --model yolox-nano --backend gpu`,
	Args: cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		logger, closeLog, err := newLogger(false)
		if err != nil {
			return err
		}
		defer closeLog()

		ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
		defer stop()
		return runRelay(ctx, logger)
	},
}

func init() {
	rootCmd.AddCommand(relayCmd)

	f := relayCmd.Flags()
	f.String("source", "stdin", "Event code source: stdin or nsq")
	f.Duration("reconnect-interval", 2*time.Second, "Delay between connection attempts while disconnected")
	f.String("http-addr", "", "Serve the control API on this address, e.g. :8080")

	f.StringSlice("nsqd", nil, "nsqd TCP addresses")
	f.StringSlice("lookupd", nil, "nsqlookupd HTTP addresses")
	f.String("nsq-topic", "detections", "Topic carrying event codes")
	f.String("nsq-channel", "serial-relay", "Channel to consume event codes on")
	f.Int("max-in-flight", 1, "Messages in flight per connection")

	f.Bool("publish-model", false, "Publish the model configuration before relaying")
	f.String("model-topic", "detector-reload", "Topic model reload requests are published on")
	f.String("model", "yolox-tiny", "Detection model name")
	f.String("backend", "cpu", "Inference backend: cpu or gpu")
	f.Int("rate-tier", 0, "Sampling tier, detection runs every (tier+1)th frame")
	f.Bool("delegate", false, "Enable the hardware delegate")

	cobra.CheckErr(viper.BindPFlags(f))
}

func runRelay(ctx context.Context, logger zerolog.Logger) error {
	src, err := eventSource(logger)
	if err != nil {
		return err
	}

	if viper.GetBool("publish-model") {
		if err := publishModel(ctx, logger); err != nil {
			return err
		}
	}

	s, err := newSession(logger)
	if err != nil {
		return err
	}
	defer s.Close()

	g, ctx := errgroup.WithContext(ctx)
	relayCtx, stopRelay := context.WithCancel(ctx)
	defer stopRelay()

	g.Go(func() error {
		superviseSession(relayCtx, s, viper.GetDuration("reconnect-interval"), logger)
		return nil
	})

	if addr := viper.GetString("http-addr"); addr != "" {
		srv := &http.Server{Addr: addr, Handler: api.NewRouter(s, logger), ReadHeaderTimeout: 5 * time.Second}
		g.Go(func() error {
			logger.Info().Str("addr", addr).Msg("control api listening")
			if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
				return fmt.Errorf("control api: %w", err)
			}
			return nil
		})
		g.Go(func() error {
			<-relayCtx.Done()
			shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			defer cancel()
			return srv.Shutdown(shutdownCtx)
		})
	}

	g.Go(func() error {
		// The source ending stops the whole relay
		defer stopRelay()
		return detect.Relay(relayCtx, src, s, logger)
	})

	return g.Wait()
}

func eventSource(logger zerolog.Logger) (detect.Source, error) {
	switch src := viper.GetString("source"); src {
	case "", "stdin":
		return &detect.LineSource{R: os.Stdin, Logger: logger}, nil
	case "nsq":
		return &detect.NSQSource{
			Topic:        viper.GetString("nsq-topic"),
			Channel:      viper.GetString("nsq-channel"),
			NSQDAddrs:    viper.GetStringSlice("nsqd"),
			LookupdAddrs: viper.GetStringSlice("lookupd"),
			MaxInFlight:  viper.GetInt("max-in-flight"),
			Logger:       logger,
		}, nil
	default:
		return nil, fmt.Errorf("unknown source %q, want stdin or nsq", src)
	}
}

func publishModel(ctx context.Context, logger zerolog.Logger) error {
	backend, err := detect.ParseBackend(viper.GetString("backend"))
	if err != nil {
		return err
	}
	cfg, err := detect.NewModelConfig(
		detect.WithModel(viper.GetString("model")),
		detect.WithBackend(backend),
		detect.WithRateTier(viper.GetInt("rate-tier")),
		detect.WithDelegate(viper.GetBool("delegate")),
	)
	if err != nil {
		return err
	}

	nsqd := viper.GetStringSlice("nsqd")
	if len(nsqd) == 0 {
		return errors.New("--publish-model needs an --nsqd address")
	}
	engine, stop, err := detect.DialNSQEngine(nsqd[0], viper.GetString("model-topic"), logger)
	if err != nil {
		return err
	}
	defer stop()
	return detect.Reload(ctx, engine, cfg)
}

// supervised is the part of a session the reconnect loop drives
type supervised interface {
	State() serial.State
	Connect(outcome serial.PermissionOutcome)
	Events() <-chan serial.Event
}

// superviseSession keeps s connected until ctx is done. It connects
// immediately, retries every interval while disconnected and feeds
// permission decisions back into Connect.
func superviseSession(ctx context.Context, s supervised, interval time.Duration, logger zerolog.Logger) {
	if interval <= 0 {
		interval = 2 * time.Second
	}
	s.Connect(serial.PermissionUnknown)

	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case ev := <-s.Events():
			switch ev.Type {
			case serial.EventPermission:
				s.Connect(ev.Permission)
			case serial.EventConnected:
				logger.Info().Str("device", ev.Device.ID).Msg("relay connected")
			case serial.EventConnectError, serial.EventIOError:
				logger.Warn().Err(ev.Err).Str("device", ev.Device.ID).Stringer("event", ev.Type).Msg("relay link down")
			case serial.EventRead:
				logger.Debug().Hex("data", ev.Data).Msg("device data")
			}
		case <-ticker.C:
			if s.State() == serial.StateDisconnected {
				s.Connect(serial.PermissionUnknown)
			}
		}
	}
}
