// Package daemon wires the controller together and runs it: the sampling
// engine, the irrigation executor, the scheduler, the alerter and the
// optional telemetry side channels, all behind a unix-socket HTTP control
// plane.
package daemon

import (
	"context"
	"errors"
	"net"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/sirupsen/logrus"

	"github.com/spinoza-lab/drip/pkg/alert"
	"github.com/spinoza-lab/drip/pkg/config"
	"github.com/spinoza-lab/drip/pkg/events"
	"github.com/spinoza-lab/drip/pkg/hardware"
	"github.com/spinoza-lab/drip/pkg/irrigation"
	"github.com/spinoza-lab/drip/pkg/schedule"
	"github.com/spinoza-lab/drip/pkg/sensor"
	"github.com/spinoza-lab/drip/pkg/state"
	"github.com/spinoza-lab/drip/pkg/store"
	"github.com/spinoza-lab/drip/pkg/telemetry"
)

// svc holds the wired controller for the HTTP handlers.
var svc *service

type service struct {
	conf      *config.File
	store     *state.Store
	files     *store.Files
	hub       *events.EventHub
	engine    *sensor.Engine
	executor  *irrigation.Executor
	registry  *schedule.Registry
	scheduler *schedule.Scheduler
	alerts    *alert.Manager
	metrics   *telemetry.Metrics
	startedAt time.Time
}

// buildService loads the persisted state and constructs every component.
// The stock daemon runs against the hardware simulator; deployments bind
// their relay, ADC and probe drivers here.
func buildService(conf *config.File) (*service, error) {
	files, err := store.NewFiles(conf.DataDir())
	if err != nil {
		return nil, err
	}

	st := state.NewStore(conf.ZoneCount(), conf.DefaultThreshold())
	st.SetMode(modeFromString(conf.Mode()))

	thresholds, err := files.Thresholds()
	if err != nil {
		return nil, err
	}
	for id, th := range thresholds {
		if !st.SetZoneThreshold(id, th) {
			logrus.WithField("zone", id).Warn("Threshold for unknown zone ignored")
		}
	}

	cal, err := files.Calibration()
	if err != nil {
		return nil, err
	}

	entries, err := files.Schedules()
	if err != nil {
		return nil, err
	}
	valid := make([]schedule.Entry, 0, len(entries))
	for _, e := range entries {
		if err := e.Validate(conf.ZoneCount(), conf.MaxDuration()); err != nil {
			logrus.WithError(err).WithField("id", e.ID).Warn("Dropping invalid schedule entry")
			continue
		}
		valid = append(valid, e)
	}

	hub := events.NewEventHub()
	clock := hardware.SystemClock()
	sim := hardware.NewSimulator(conf.ZoneCount())
	bus := &hardware.BusLock{}

	alerts := alert.NewManager(conf, clock, hub)
	engine := sensor.NewEngine(conf, sim, sim, clock, bus, st, cal, hub, alerts)
	executor := irrigation.NewExecutor(conf, sim, clock, bus, st, hub, files)
	registry := schedule.NewRegistry(valid, files.SaveSchedules)
	scheduler := schedule.NewScheduler(conf, registry, executor, st, clock, hub)

	return &service{
		conf:      conf,
		store:     st,
		files:     files,
		hub:       hub,
		engine:    engine,
		executor:  executor,
		registry:  registry,
		scheduler: scheduler,
		alerts:    alerts,
		metrics:   telemetry.NewMetrics(),
		startedAt: time.Now(),
	}, nil
}

func modeFromString(s string) state.Mode {
	switch s {
	case string(state.ModeManual):
		return state.ModeManual
	case "", string(state.ModeAuto):
		return state.ModeAuto
	}
	logrus.Warnf("unknown mode %q in config, using auto", s)
	return state.ModeAuto
}

func setupRoutes() *gin.Engine {
	gin.SetMode(gin.ReleaseMode)

	router := gin.New()
	router.Use(gin.Recovery())
	router.Use(ginLogger(logrus.StandardLogger()))

	router.GET("/status", getStatus)
	router.GET("/zones", getZones)
	router.GET("/tanks", getTanks)
	router.GET("/interlock", getInterlock)
	router.GET("/mode", getMode)
	router.PUT("/mode", setMode)
	router.POST("/irrigation/start", startIrrigation)
	router.POST("/irrigation/stop", stopIrrigation)
	router.POST("/irrigation/sequence", startSequence)
	router.POST("/irrigation/drain", startDrain)
	router.POST("/emergency-stop", emergencyStop)
	router.GET("/hose", getHose)
	router.PUT("/hose", setHose)
	router.GET("/schedules", listSchedules)
	router.POST("/schedules", addSchedule)
	router.DELETE("/schedules/:id", deleteSchedule)
	router.PUT("/schedules/:id/enabled", setScheduleEnabled)
	router.GET("/schedules/next", getNextRun)
	router.GET("/events", getEvents)
	router.GET("/events/stream", streamEvents)
	router.GET("/alerts", getAlerts)
	router.GET("/calibration", getCalibration)
	router.PUT("/calibration", setCalibration)
	router.GET("/config", getConfig)
	router.GET("/healthz", getHealthz)
	router.GET("/metrics", gin.WrapH(svc.metrics.Handler()))
	router.GET("/version", getVersion)

	return router
}

// Run starts the daemon and blocks until SIGINT or SIGTERM.
func Run(configPath string, unixSocketPath string, allowNonRoot bool) error {
	config.LoadDotEnv()

	conf, err := config.NewFile(configPath)
	if err != nil {
		logrus.Fatalf("failed to parse config during startup: %v", err)
	}
	conf.ApplyEnvOverrides()
	logrus.WithFields(conf.LogrusFields()).Infof("config loaded")

	svc, err = buildService(conf)
	if err != nil {
		logrus.Fatalf("failed to build the controller: %v", err)
	}

	router := setupRoutes()

	// Receive SIGHUP to reload config
	go func() {
		sigc := make(chan os.Signal, 1)
		signal.Notify(sigc, syscall.SIGHUP)
		for range sigc {
			err := conf.Load()
			if err != nil {
				logrus.Errorf("failed to reload config: %v", err)
				continue
			}
			conf.ApplyEnvOverrides()
			svc.store.SetMode(modeFromString(conf.Mode()))
			logrus.Infof("config reloaded")
		}
	}()

	loopCtx, stopLoops := context.WithCancel(context.Background())
	go svc.engine.Run(loopCtx)
	go svc.scheduler.Run(loopCtx)
	go svc.metrics.Run(loopCtx, svc.hub)

	// The side channels are optional: a missing broker or Influx endpoint
	// must never keep the controller from irrigating.
	if mq := conf.MQTT(); mq.Broker != "" {
		pub, err := telemetry.NewPublisher(mq)
		if err != nil {
			logrus.WithError(err).Error("MQTT telemetry disabled")
		} else {
			go pub.Run(loopCtx, svc.hub)
		}
	}
	if in := conf.Influx(); in.URL != "" {
		rec, err := telemetry.NewRecorder(in)
		if err != nil {
			logrus.WithError(err).Error("InfluxDB recorder disabled")
		} else {
			go rec.Run(loopCtx, svc.hub)
		}
	}

	srv := &http.Server{
		Handler: router,
	}

	// A socket file left behind by an unclean shutdown would fail the listen.
	if _, err := os.Stat(unixSocketPath); err == nil {
		_ = os.Remove(unixSocketPath)
	}

	l, err := net.Listen("unix", unixSocketPath)
	if err != nil {
		logrus.Fatal(err)
	}

	if conf.AllowNonRootAccess() || allowNonRoot {
		logrus.Infof("non-root access is allowed, changing permissions of %s to 0777", unixSocketPath)
		err = os.Chmod(unixSocketPath, 0777)
		if err != nil {
			logrus.Fatal(err)
		}
	}

	// Serve HTTP on unix socket
	go func() {
		logrus.Infof("http server listening on %s", l.Addr().String())
		if err := srv.Serve(l); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logrus.Fatal(err)
		}
	}()

	svc.alerts.Info("controller started")

	// Handle common process-killing signals, so we can gracefully shut down:
	sigc := make(chan os.Signal, 1)
	signal.Notify(sigc, syscall.SIGINT, syscall.SIGTERM)
	// Wait for a SIGINT or SIGTERM:
	sig := <-sigc
	logrus.Infof("caught signal \"%s\": shutting down.", sig)

	logrus.Info("shutting down http server")
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	err = srv.Shutdown(ctx)
	if err != nil {
		logrus.Errorf("failed to shutdown http server: %v", err)
	}
	cancel()

	logrus.Info("stopping control loops")
	stopLoops()

	// Leave the field safe: whatever was running, every output goes off.
	if err := svc.executor.EmergencyStop(); err != nil {
		logrus.Errorf("failed to force outputs off before exiting: %v", err)
	}

	logrus.Info("exiting")
	return nil
}
