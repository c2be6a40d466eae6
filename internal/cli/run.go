package cli

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os/signal"
	"sync"
	"syscall"
	"time"

	"github.com/google/uuid"
	"github.com/spf13/cobra"

	"github.com/unklstewy/skycapture/internal/api"
	"github.com/unklstewy/skycapture/internal/auth"
	"github.com/unklstewy/skycapture/internal/capture"
	"github.com/unklstewy/skycapture/internal/db"
	"github.com/unklstewy/skycapture/internal/devices"
	"github.com/unklstewy/skycapture/internal/influxdb"
	"github.com/unklstewy/skycapture/internal/logging"
	"github.com/unklstewy/skycapture/internal/mqtt"
	"github.com/unklstewy/skycapture/pkg/config"
	"github.com/unklstewy/skycapture/pkg/coordinates"
	"github.com/unklstewy/skycapture/pkg/retry"
)

type runOptions struct {
	sequence string
	watch    bool
	start    bool
}

func newRunCmd(root *Root) *cobra.Command {
	var opts runOptions

	cmd := &cobra.Command{
		Use:   "run",
		Short: "Connect the devices and run the capture daemon",
		Long: `Connect to the Alpaca devices and the PHD2 guider, load a sequence file and
serve the control API until interrupted. Status is published to MQTT,
InfluxDB and the capture history database when they are enabled.

Examples:
  # Load a sequence and start capturing immediately
  skycapture run --sequence m42.yaml --start

  # Reload the queue whenever the file is edited while idle
  skycapture run --sequence m42.yaml --watch`,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := root.loadConfig()
			if err != nil {
				return err
			}
			ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
			defer stop()
			return root.runDaemon(ctx, cfg, opts)
		},
	}
	cmd.Flags().StringVarP(&opts.sequence, "sequence", "s", "", "sequence file to load")
	cmd.Flags().BoolVar(&opts.watch, "watch", false, "reload the sequence file when it changes")
	cmd.Flags().BoolVar(&opts.start, "start", false, "start the sequence once loaded")
	return cmd
}

// logNotifier writes the updates the sequencer does not already log.
func logNotifier(logger *slog.Logger) capture.Notifier {
	return capture.NotifierFunc(func(u capture.Update) {
		switch u.Kind {
		case capture.UpdateImage:
			logger.Info("frame saved", "path", u.Path, "job", u.JobID, "adu", u.ADU, "hfr", u.HFR)
		case capture.UpdateGuide:
			logger.Debug("guide deviation", "ra", u.RA, "dec", u.Dec, "total", u.Deviation)
		}
	})
}

// daemon holds everything runDaemon starts, so shutdown can release it in
// reverse order.
type daemon struct {
	cfg    *config.Config
	logger *logging.Logger
	cancel context.CancelFunc
	wg     sync.WaitGroup
	closer []func()

	notifiers capture.Notifiers
	hub       *api.Hub
	mqtt      *mqtt.Client
	database  *db.DB
	recorder  *db.Recorder
}

func (d *daemon) goRun(fn func()) {
	d.wg.Add(1)
	go func() {
		defer d.wg.Done()
		fn()
	}()
}

func (d *daemon) onClose(fn func()) {
	d.closer = append(d.closer, fn)
}

func (d *daemon) close() {
	d.cancel()
	d.wg.Wait()
	for i := len(d.closer) - 1; i >= 0; i-- {
		d.closer[i]()
	}
}

func (r *Root) runDaemon(ctx context.Context, cfg *config.Config, opts runOptions) error {
	logger := logging.New(cfg.Logging, r.version)
	if err := cfg.Capture.Validate(); err != nil {
		return fmt.Errorf("invalid capture settings: %w", err)
	}

	runCtx, cancel := context.WithCancel(ctx)
	defer cancel()

	d := &daemon{cfg: cfg, logger: logger, cancel: cancel}
	defer d.close()

	d.notifiers = capture.Notifiers{logNotifier(logger.Logger)}
	d.hub = api.NewHub(logger.Logger)
	d.notifiers = append(d.notifiers, d.hub)
	d.goRun(func() { d.hub.Run(runCtx) })

	d.setupMQTT(runCtx)
	d.setupInfluxDB()
	d.setupHistory(runCtx, opts.sequence)

	observer := coordinates.NewObserver(cfg.Observer.Latitude, cfg.Observer.Longitude, cfg.Observer.Elevation)
	bridge := devices.NewBridge(cfg.Alpaca, observer, logger.Logger)
	d.onClose(func() {
		if err := bridge.Close(); err != nil {
			logger.Warn("device disconnect failed", "error", err)
		}
	})
	devs, err := bridge.Open(ctx)
	if err != nil {
		return fmt.Errorf("failed to open devices: %w", err)
	}

	var guider *devices.PHD2
	if cfg.Guider.Enabled {
		guider = devices.NewPHD2(cfg.Guider, logger.Logger)
		devs.Guider = guider
	}

	seq := capture.NewSequencer(capture.Options{
		Capture:  cfg.Capture,
		Devices:  devs,
		Store:    devices.NewFITSStore(logger.Logger),
		Notifier: d.notifiers,
		Logger:   logger.Logger,
		Observer: cfg.Observer.Name,
	})
	bridge.Attach(seq)
	if guider != nil {
		guider.Attach(seq)
		d.goRun(func() {
			if err := guider.Run(runCtx); err != nil && !errors.Is(err, context.Canceled) {
				logger.Error("guider stopped", "error", err)
			}
		})
	}

	session := uuid.NewString()
	seq.SetSession(session)
	logger.Info("capture session", "session", session, "camera", devs.Camera.ID())

	if d.mqtt != nil {
		topics := d.mqtt.Topics()
		if err := mqtt.SubscribeCommands(d.mqtt, topics, cfg.MQTT.QoS, seq, logger.Logger); err != nil {
			logger.Warn("mqtt command subscription failed", "error", err)
		}
	}

	if opts.sequence != "" {
		if err := seq.LoadSequence(opts.sequence); err != nil {
			return fmt.Errorf("failed to load sequence: %w", err)
		}
		if opts.watch {
			watcher := NewSequenceWatcher(opts.sequence, seq, logger.Logger)
			d.goRun(func() {
				if err := watcher.Run(runCtx); err != nil {
					logger.Error("sequence watcher stopped", "error", err)
				}
			})
		}
	}

	if cfg.Server.Enabled {
		authSvc := auth.NewService(cfg.Auth)
		if !authSvc.Enabled() {
			logger.Warn("control API has no operator password, all routes are open")
		}
		apiOpts := api.Options{
			Config:    cfg.Server,
			Sequencer: seq,
			Auth:      authSvc,
			Hub:       d.hub,
			Logger:    logger.Logger,
		}
		if d.database != nil {
			apiOpts.Sessions = db.NewSessionRepository(d.database)
			apiOpts.Frames = db.NewFrameRepository(d.database)
		}
		srv := api.NewServer(apiOpts)
		d.goRun(func() {
			if err := srv.ListenAndServe(runCtx); err != nil {
				logger.Error("control API failed", "error", err)
				cancel()
			}
		})
	}

	now := time.Now()
	sun := coordinates.SunAt(observer, now)
	logger.Info("sky", "sun_altitude", fmt.Sprintf("%.1f", sun.Altitude), "twilight", coordinates.TwilightFor(sun.Altitude).String())
	start, end, ok := coordinates.NextSkyFlatWindow(observer, now)
	if ok {
		logger.Info("next sky-flat window", "start", start.Format(time.RFC3339), "end", end.Format(time.RFC3339))
	}

	loopDone := make(chan error, 1)
	go func() { loopDone <- seq.Run(runCtx) }()

	if opts.start {
		if err := seq.Start(); err != nil {
			logger.Error("failed to start sequence", "error", err)
		}
	}

	<-runCtx.Done()
	logger.Info("shutting down")
	seq.Stop()
	cancel()
	if err := <-loopDone; err != nil && !errors.Is(err, context.Canceled) {
		return err
	}
	return nil
}

func (d *daemon) setupMQTT(ctx context.Context) {
	if !d.cfg.MQTT.Enabled {
		return
	}
	client, err := mqtt.Connect(d.cfg.MQTT)
	if err != nil {
		d.logger.Warn("mqtt unavailable, continuing without it", "error", err)
		return
	}
	d.mqtt = client
	d.onClose(func() { client.Close() })

	publisher := mqtt.NewPublisher(client, client.Topics(), d.cfg.MQTT.QoS, d.logger.Logger)
	d.notifiers = append(d.notifiers, publisher)
	d.goRun(func() { publisher.Run(ctx) })
}

func (d *daemon) setupInfluxDB() {
	if !d.cfg.InfluxDB.Enabled {
		return
	}
	client, err := influxdb.Connect(d.cfg.InfluxDB)
	if err != nil {
		d.logger.Warn("influxdb unavailable, continuing without metrics", "error", err)
		return
	}
	client.SetOnError(func(err error) {
		d.logger.Warn("influxdb write failed", "error", err)
	})
	d.onClose(func() { client.Close() })
	d.notifiers = append(d.notifiers, influxdb.NewMetrics(client))
}

func (d *daemon) setupHistory(ctx context.Context, sequenceFile string) {
	if !d.cfg.Database.Enabled {
		return
	}
	database, err := db.ReconnectWithRetry(ctx, d.cfg.Database, retry.DefaultRetryConfig(), d.logger.Logger)
	if err != nil {
		d.logger.Warn("capture history unavailable", "error", err)
		return
	}
	if err := database.InitSchema(ctx); err != nil {
		d.logger.Warn("capture history schema failed", "error", err)
		database.Close()
		return
	}
	d.database = database
	d.onClose(func() { database.Close() })

	d.recorder = db.NewRecorder(database, d.logger.Logger)
	d.recorder.SequenceFile = sequenceFile
	d.recorder.Observer = d.cfg.Observer.Name
	d.notifiers = append(d.notifiers, d.recorder)
	d.goRun(func() { d.recorder.Run(ctx) })
}
