package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	log "github.com/sirupsen/logrus"
	"github.com/urfave/cli/v2"
	"go.uber.org/multierr"
	"golang.org/x/sync/errgroup"

	slm "github.com/ztkent/lux-meter/internal/sunlightmeter"
	"github.com/ztkent/lux-meter/internal/tools"
	"github.com/ztkent/lux-meter/tsl2591"
	"github.com/ztkent/lux-meter/tsl2591/i2cbus"
)

/*
	This is the primary entry point for the Sunlight Meter application.
	It should be running at startup, on a Raspberry Pi, with the TSL2591 sensor connected.
*/

func main() {
	if err := newApp().Run(os.Args); err != nil {
		log.Fatal(err)
	}
}

func newApp() *cli.App {
	return &cli.App{
		Name:  "lux-meter",
		Usage: "record sunlight from a TSL2591 and serve it over HTTP",
		Flags: []cli.Flag{
			&cli.StringFlag{Name: "transport", Value: i2cbus.TransportDevfs, EnvVars: []string{"SLM_TRANSPORT"}, Usage: "I2C transport: devfs, periph or ch347"},
			&cli.StringFlag{Name: "bus", Value: "/dev/i2c-1", EnvVars: []string{"SLM_BUS"}, Usage: "i2c-dev path or periph bus name"},
			&cli.StringFlag{Name: "gain", Value: "low", EnvVars: []string{"SLM_GAIN"}, Usage: "initial gain: low, med, high or max"},
			&cli.StringFlag{Name: "timing", Value: "300ms", EnvVars: []string{"SLM_TIMING"}, Usage: "initial integration time, 100ms to 600ms"},
			&cli.StringFlag{Name: "converter", Value: "adafruit", EnvVars: []string{"SLM_CONVERTER"}, Usage: "lux formula: adafruit, simple or yocto"},
			&cli.StringFlag{Name: "port", Value: "80", EnvVars: []string{"SLM_PORT"}},
			&cli.StringFlag{Name: "db", Value: slm.DB_PATH, EnvVars: []string{"SLM_DB"}, Usage: "sqlite results database"},
			&cli.StringFlag{Name: "log-level", Value: "info", EnvVars: []string{"LOG_LEVEL"}},
			&cli.StringFlag{Name: "log-file", Value: "slm.log", EnvVars: []string{"SLM_LOG_FILE"}, Usage: "rotating log file, empty to disable"},
			&cli.StringFlag{Name: "timezone", Value: "America/Indiana/Indianapolis", EnvVars: []string{"SLM_TZ"}, Usage: "zone of dashboard date inputs"},
			&cli.DurationFlag{Name: "record-interval", Value: slm.RECORD_INTERVAL, EnvVars: []string{"SLM_RECORD_INTERVAL"}},
			&cli.DurationFlag{Name: "max-job", Value: slm.MAX_JOB_DURATION, EnvVars: []string{"SLM_MAX_JOB"}},
			&cli.BoolFlag{Name: "local-only", EnvVars: []string{"SLM_LOCAL_ONLY"}, Usage: "reject requests from outside private networks"},
			&cli.BoolFlag{Name: "tls", EnvVars: []string{"SSL"}, Usage: "serve HTTPS with a self-signed certificate"},
			&cli.StringFlag{Name: "tls-cert", Value: "cert.pem", EnvVars: []string{"SLM_TLS_CERT"}},
			&cli.StringFlag{Name: "tls-key", Value: "key.pem", EnvVars: []string{"SLM_TLS_KEY"}},
		},
		Action: run,
	}
}

func run(c *cli.Context) (err error) {
	logCloser, err := tools.SetupLogging(c.String("log-level"), c.String("log-file"))
	if err != nil {
		return err
	}
	defer func() { err = multierr.Append(err, logCloser.Close()) }()

	pid := os.Getpid()
	log.WithField("pid", pid).Info("SunlightMeter starting")

	loc, err := time.LoadLocation(c.String("timezone"))
	if err != nil {
		return fmt.Errorf("timezone: %w", err)
	}
	gain, err := tsl2591.ParseGain(c.String("gain"))
	if err != nil {
		return err
	}
	timing, err := tsl2591.ParseIntegrationTime(c.String("timing"))
	if err != nil {
		return err
	}
	conv, err := tsl2591.ParseConverter(c.String("converter"))
	if err != nil {
		return err
	}

	// connect to the sqlite database
	slmDB, err := tools.ConnectSqlite(c.String("db"))
	if err != nil {
		// Unlike connecting to the sensor, this should always work.
		return fmt.Errorf("failed to connect to the sqlite database: %w", err)
	}
	defer func() { err = multierr.Append(err, slmDB.Close()) }()

	meter := &slm.SLMeter{
		Converter:      conv,
		LuxResultsChan: make(chan slm.LuxResults),
		ResultsDB:      slmDB,
		DBPath:         c.String("db"),
		Location:       loc,
		RecordInterval: c.Duration("record-interval"),
		MaxJobDuration: c.Duration("max-job"),
		Pid:            pid,
	}

	// connect to the lux sensor, the dashboard still serves history without one
	device, busCloser, err := connectSensor(c.String("transport"), c.String("bus"), timing, gain, conv)
	if err != nil {
		log.WithError(err).Error("Failed to connect to the TSL2591 sensor")
	} else {
		meter.Sensor = device
		defer func() { err = multierr.Append(err, busCloser.Close()) }()
	}

	r := chi.NewRouter()
	if c.Bool("local-only") {
		r.Use(tools.CheckInNetwork)
	}
	defineRoutes(r, meter)

	ctx, stop := signal.NotifyContext(c.Context, os.Interrupt, syscall.SIGTERM)
	defer stop()
	return serve(ctx, c, r, meter)
}

func connectSensor(transport, bus string, timing tsl2591.IntegrationTime, gain tsl2591.Gain, conv tsl2591.Converter) (*tsl2591.Device, io.Closer, error) {
	b, closer, err := i2cbus.Open(transport, bus)
	if err != nil {
		return nil, nil, err
	}
	device, err := tsl2591.NewWithConfig(b, timing, gain,
		tsl2591.WithConverter(conv),
		tsl2591.WithDelay(tsl2591.SuspendingDelay{}),
		tsl2591.WithLogger(log.StandardLogger()),
	)
	if err == nil {
		err = device.Reapply()
	}
	if err != nil {
		return nil, nil, multierr.Append(err, closer.Close())
	}
	log.WithFields(log.Fields{"transport": transport, "bus": bus, "gain": gain.String(), "timing": timing.String()}).Info("Connected to the TSL2591 sensor")
	return device, closer, nil
}

func serve(ctx context.Context, c *cli.Context, handler http.Handler, meter *slm.SLMeter) error {
	srv := &http.Server{
		Addr:              ":" + c.String("port"),
		Handler:           handler,
		ReadHeaderTimeout: 10 * time.Second,
	}

	g, ctx := errgroup.WithContext(ctx)
	// Listen for any result messages from our jobs, record them in sqlite
	g.Go(func() error {
		return meter.MonitorAndRecordResults(ctx)
	})
	g.Go(func() error {
		var err error
		if c.Bool("tls") {
			certPath, keyPath := c.String("tls-cert"), c.String("tls-key")
			// Generate a self-signed certificate if one doesn't exist
			if err := tools.EnsureCertificate(certPath, keyPath, []string{"localhost", "127.0.0.1"}); err != nil {
				return err
			}
			log.Infof("Starting HTTPS server on %s", srv.Addr)
			err = srv.ListenAndServeTLS(certPath, keyPath)
		} else {
			log.Infof("Starting HTTP server on %s", srv.Addr)
			err = srv.ListenAndServe()
		}
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return err
	})
	g.Go(func() error {
		<-ctx.Done()
		log.Info("Shutting down")
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		return multierr.Combine(srv.Shutdown(shutdownCtx), meter.Shutdown())
	})
	return g.Wait()
}

func defineRoutes(r *chi.Mux, meter *slm.SLMeter) {
	// Log requests through logrus and recover from panics
	r.Use(middleware.RequestLogger(&middleware.DefaultLogFormatter{Logger: log.StandardLogger(), NoColor: true}))
	r.Use(handleServerPanic)

	// Sunlight Meter Dashboard Controls
	r.Get("/", meter.ServeDashboard())
	r.Route("/sunlightmeter", func(r chi.Router) {
		r.Get("/start", meter.Start())
		r.Get("/stop", meter.Stop())
		r.Get("/current-conditions", meter.CurrentConditions())
		r.Get("/export", meter.ServeResultsDB())
		r.Post("/graph", meter.ServeResultsGraph())
		r.Get("/controls", meter.ServeSunlightControls())
		r.Get("/status", meter.ServeSensorStatus())
		r.Post("/results", meter.ServeResultsTab())
		r.Post("/config", meter.Configure())
		r.Get("/clear", meter.Clear())
	})

	// Sunlight Meter API, these serve a JSON response
	r.Route("/api/v1", func(r chi.Router) {
		r.Get("/start", meter.Start())
		r.Get("/stop", meter.Stop())
		r.Get("/current-conditions", meter.CurrentConditions())
		r.Get("/export", meter.ServeResultsDB())
		r.Get("/reading", meter.Reading())
		r.Get("/status", meter.SensorStatus())
		r.Post("/config", meter.Configure())
	})

	// Route for service identification
	r.Get("/id", func(w http.ResponseWriter, r *http.Request) {
		response := struct {
			ServiceName string `json:"service_name"`
			Pid         int    `json:"pid"`
		}{
			ServiceName: "Sunlight Meter",
			Pid:         meter.Pid,
		}

		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusOK)
		json.NewEncoder(w).Encode(response)
	})
}

func handleServerPanic(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		defer func() {
			if err := recover(); err != nil {
				log.WithField("path", r.URL.Path).Errorf("Recovered from panic: %v", err)
				slm.ServeResponse(w, r, fmt.Sprintf("%v", err), http.StatusInternalServerError)
			}
		}()
		next.ServeHTTP(w, r)
	})
}
