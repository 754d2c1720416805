package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/pflag"

	log "github.com/sirupsen/logrus"

	"github.com/hnw/broute-meter-exporter/config"
	"github.com/hnw/broute-meter-exporter/echonet"
	"github.com/hnw/broute-meter-exporter/exporter"
	"github.com/hnw/broute-meter-exporter/lineport"
	"github.com/hnw/broute-meter-exporter/modem"
	"github.com/hnw/broute-meter-exporter/scrape"
	"github.com/hnw/broute-meter-exporter/serialtransport"
	"github.com/hnw/broute-meter-exporter/session"
)

// Version info - increment based on change magnitude:
// Major (x.0.0): Breaking changes, major rewrites
// Minor (0.y.0): New features, significant enhancements
// Patch (0.0.z): Bug fixes, minor improvements
var Version = "1.0.0"

func main() {
	configPath := pflag.String("config", "config.yaml", "Path to config file")
	envFilePath := pflag.String("env-file", "", "Optional env file overlaying scalar config fields")
	logPath := pflag.String("log-file", "", "Path to log file (stderr if unset)")
	pflag.Parse()

	log.SetFormatter(&log.TextFormatter{
		FullTimestamp: true,
	})

	if *logPath != "" {
		logFile, err := os.OpenFile(*logPath, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0644)
		if err != nil {
			log.Fatalf("opening log file: %v", err)
		}
		log.SetOutput(logFile)
	}

	cfg, err := config.Load(*configPath)
	if err != nil {
		log.Fatalf("loading config: %v", err)
	}
	if *envFilePath != "" {
		if err := config.ApplyEnvFile(cfg, *envFilePath); err != nil {
			log.Fatalf("applying env file: %v", err)
		}
	}
	if err := cfg.Validate(); err != nil {
		log.Fatalf("invalid config: %v", err)
	}

	log.Infof("Starting broute-meter-exporter v%s", Version)
	log.Infof("  Serial device: %s @ %d baud", cfg.SerialDevicePath, cfg.Baud)
	log.Infof("  Bind address: %s", cfg.Bind)
	log.Infof("  Measures configured: %d", len(cfg.Measures))

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)
	go func() {
		<-sigChan
		log.Info("Shutting down...")
		cancel()
	}()

	rwc, err := serialtransport.Open(cfg.SerialDevicePath, cfg.Baud)
	if err != nil {
		log.Fatalf("opening serial port %s: %v", cfg.SerialDevicePath, err)
	}
	defer rwc.Close()

	port := lineport.New(rwc)
	driver := modem.New(port)

	if err := driver.Reset(); err != nil {
		log.Fatalf("resetting modem: %v", err)
	}

	var creds *session.Credentials
	if cfg.Credentials != nil {
		creds = &session.Credentials{RouteBID: cfg.Credentials.RBID, RouteBPassword: cfg.Credentials.Pwd}
	}
	sessionMgr := session.New(driver, session.Config{
		Credentials:     creds,
		ScanChannelMask: cfg.ScanChannelMask,
		ScanDuration:    cfg.ScanDuration,
	})

	log.Info("Connecting to meter...")
	if err := sessionMgr.Connect(); err != nil {
		log.Fatalf("connecting to meter: %v", err)
	}
	defer sessionMgr.Close()
	log.Infof("Connected, remote address: %s", sessionMgr.RemoteAddr())

	target, err := cfg.TargetObject.ToEoj()
	if err != nil {
		log.Fatalf("parsing target_object: %v", err)
	}

	measures, err := buildMeasures(cfg.Measures)
	if err != nil {
		log.Fatalf("building measures: %v", err)
	}

	alloc := &echonet.TransactionAllocator{}
	codec := echonet.NewCodec(sessionMgr, alloc)
	scraper := scrape.New(codec, target, measures, cfg.RecvTimeoutMs)

	srv := exporter.New(cfg.Bind, scraper)
	if err := srv.Run(ctx); err != nil {
		log.Fatalf("HTTP server error: %v", err)
	}
}

func buildMeasures(cfgMeasures []config.MeasureConfig) ([]scrape.Measure, error) {
	out := make([]scrape.Measure, 0, len(cfgMeasures))
	for _, m := range cfgMeasures {
		epc, err := m.EPCByte()
		if err != nil {
			return nil, err
		}
		layouts, err := m.FieldLayouts()
		if err != nil {
			return nil, fmt.Errorf("measure %q: %w", m.Name, err)
		}
		out = append(out, scrape.Measure{
			Name:   m.Name,
			Help:   m.Help,
			EPC:    epc,
			Layout: layouts,
		})
	}
	return out, nil
}
