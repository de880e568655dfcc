package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	log "github.com/sirupsen/logrus"
	"github.com/spf13/pflag"

	"github.com/jeongseonghan/qam-lab/internal/audio"
	"github.com/jeongseonghan/qam-lab/internal/config"
	"github.com/jeongseonghan/qam-lab/internal/publish"
	"github.com/jeongseonghan/qam-lab/internal/server"
)

func main() {
	configFile := pflag.StringP("config", "c", "", "YAML configuration file (defaults built in)")
	addr := pflag.String("addr", "", "Server address (overrides config)")
	staticDir := pflag.String("static-dir", "", "Static file directory (overrides config)")
	logLevel := pflag.String("log-level", "", "Log level (overrides config)")
	listDevices := pflag.Bool("list-devices", false, "List audio devices and exit")
	pflag.Parse()
	if err := config.EnvOverride(pflag.CommandLine, log.StandardLogger()); err != nil {
		log.WithError(err).Fatal("invalid environment override")
	}

	cfg := config.Default()
	if *configFile != "" {
		var err error
		if cfg, err = config.LoadConfig(*configFile); err != nil {
			log.WithError(err).Fatal("failed to load config")
		}
	}
	if *addr != "" {
		cfg.Server.Addr = *addr
	}
	if *staticDir != "" {
		cfg.Server.StaticDir = *staticDir
	}
	if *logLevel != "" {
		cfg.Logging.Level = *logLevel
	}
	if err := cfg.Logging.Apply(log.StandardLogger()); err != nil {
		log.WithError(err).Fatal("invalid logging config")
	}

	if *listDevices {
		if err := audio.Init(); err != nil {
			log.WithError(err).Fatal("failed to initialize PortAudio")
		}
		defer audio.Terminate()
		if err := audio.PrintDevices(os.Stdout); err != nil {
			log.WithError(err).Fatal("failed to list devices")
		}
		return
	}

	pub, err := publish.New(&cfg.MQTT, log.StandardLogger())
	if err != nil {
		log.WithError(err).Fatal("failed to create MQTT publisher")
	}
	defer pub.Disconnect()

	handlers := server.NewHandlers(cfg, pub, log.StandardLogger())
	srv := server.NewServer(cfg.Server.Addr, handlers, cfg.Server.StaticDir, log.StandardLogger())

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	fmt.Printf("\n  QAM Lab Server running at http://%s\n\n", cfg.Server.Addr)
	if err := srv.Start(ctx); err != nil {
		log.WithError(err).Fatal("server error")
	}
	log.Info("shutdown complete")
}
