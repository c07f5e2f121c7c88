package main

import (
	"flag"
	"fmt"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"klipper-go-migration/pkg/config"
	"klipper-go-migration/pkg/logging"
)

func main() {
	configFile := flag.String("config", "", "path to a printer.cfg-style geometry config (required)")
	listenAddr := flag.String("listen", ":8080", "HTTP address for the debug websocket and metrics endpoints")
	logFile := flag.String("logfile", "", "optional log file path (rotated)")
	logLevel := flag.String("loglevel", "info", "log level: debug, info, warn, error")
	tickHz := flag.Float64("tick-hz", 50, "simulated Spin passes per second")
	flag.Parse()

	if *configFile == "" {
		fmt.Fprintln(os.Stderr, "motion-sim: -config is required")
		flag.Usage()
		os.Exit(1)
	}

	if *logFile != "" {
		logging.ConfigureFile(logging.FileConfig{Path: *logFile})
	}
	logging.SetLevel(logging.ParseLevel(*logLevel))
	defer logging.Sync()

	logger := logging.For("motion-sim")

	geom, err := config.LoadGeometryConfig(*configFile)
	if err != nil {
		log.Fatalf("motion-sim: failed to load geometry config: %v", err)
	}
	logger.Info("geometry config loaded", "kinematics", geom.Kind.String(), "max_velocity", geom.MaxVelocity)

	const numDrives = 4 // X, Y, Z, extruder
	harness := NewHarness(geom, numDrives)

	metricsServer := harness.MetricsServer()

	mux := http.NewServeMux()
	mux.HandleFunc("/debug/ws", harness.ServeDebugWS(100*time.Millisecond))
	mux.Handle("/", metricsServer.Mux())

	httpServer := &http.Server{Addr: *listenAddr, Handler: mux}
	go func() {
		logger.Info("debug server listening", "addr", *listenAddr)
		if err := httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.Error("debug server stopped", "error", err)
		}
	}()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)

	tickInterval := time.Duration(float64(time.Second) / *tickHz)
	ticker := time.NewTicker(tickInterval)
	defer ticker.Stop()

	dt := 1.0 / *tickHz
	logger.Info("motion-sim ready", "tick_hz", *tickHz)
	for {
		select {
		case <-sigCh:
			logger.Info("shutdown signal received")
			_ = httpServer.Close()
			return
		case <-ticker.C:
			if err := harness.Tick(dt); err != nil {
				logger.Error("spin pass failed", "error", err)
			}
		}
	}
}
