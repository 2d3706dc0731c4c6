package main

import (
	"context"
	"flag"
	"log"
	"os"
	"os/signal"
	"syscall"

	"github.com/greenroomlabs/envirodash/internal/board"
	"github.com/greenroomlabs/envirodash/internal/control"
	"github.com/greenroomlabs/envirodash/internal/mqtt"
	"github.com/greenroomlabs/envirodash/internal/server"
	"github.com/greenroomlabs/envirodash/internal/sim"
	"github.com/greenroomlabs/envirodash/web"
)

func main() {
	configPath := flag.String("config", "/etc/envirodash/config.yaml", "Path to config file")
	simulate := flag.Bool("sim", false, "Force simulated sensor data")
	listenAddr := flag.String("listen", "", "Override listen address (e.g. :8080)")
	flag.Parse()

	log.SetFlags(log.Ldate | log.Ltime | log.Lshortfile)
	log.Println("[main] envirodash starting")

	// Load config
	cfg := server.LoadConfig(*configPath)

	if *simulate {
		cfg.Mode = string(control.ModeSimulation)
	}
	if *listenAddr != "" {
		cfg.Server.ListenAddr = *listenAddr
	}

	// Create context with signal handling
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	go func() {
		sig := <-sigCh
		log.Printf("[main] received %v, shutting down", sig)
		cancel()
	}()

	ctrl := control.New()
	if len(cfg.Thresholds) > 0 {
		applyThresholds(ctrl, cfg.Thresholds)
	}
	ctrl.LogEvent(control.CategorySystem, "system started", control.LevelInfo)

	transport := board.New(ctrl.HandleFrame)
	defer transport.Disconnect()

	// Serial mode connects at startup; simulation leaves the link down
	// until requested over the API.
	if cfg.Mode == string(control.ModeSerial) {
		if err := ctrl.SetMode(control.ModeSerial, false); err != nil {
			log.Fatalf("[main] bad mode in config: %v", err)
		}
		if err := transport.Connect(cfg.Serial.PortPath, cfg.Serial.BaudRate); err != nil {
			log.Printf("[main] serial connect failed: %v", err)
			ctrl.LogEvent(control.CategoryError, err.Error(), control.LevelError)
		} else {
			ctrl.LogEvent(control.CategorySerial, "connected to "+cfg.Serial.PortPath, control.LevelInfo)
		}
	}

	var pub mqtt.Publisher = mqtt.NewNoop()
	if cfg.MQTT.Enabled {
		p, err := mqtt.New(cfg.MQTT)
		if err != nil {
			log.Printf("[main] mqtt disabled: %v", err)
		} else {
			pub = p
		}
	}
	defer func() { pub.Close() }()

	srv := server.New(cfg, ctrl, transport, sim.New(), pub, web.FS)
	if err := srv.Run(ctx); err != nil {
		log.Printf("[main] server exited: %v", err)
	}
}

// applyThresholds seeds the controller's bands from config without
// letting the config invent bounds the controller does not know about.
func applyThresholds(ctrl *control.Controller, t control.Thresholds) {
	for sensor, b := range t {
		if b == nil {
			continue
		}
		if b.Min != nil {
			if err := ctrl.SetThreshold(sensor, "min", *b.Min); err != nil {
				log.Printf("[main] config threshold %s/min ignored: %v", sensor, err)
			}
		}
		if b.Max != nil {
			if err := ctrl.SetThreshold(sensor, "max", *b.Max); err != nil {
				log.Printf("[main] config threshold %s/max ignored: %v", sensor, err)
			}
		}
	}
}
