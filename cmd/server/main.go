//go:build !js && !wasm
// +build !js,!wasm

package main

import (
	"flag"
	"log"
	"os"
	"strings"

	"github.com/himanishpuri/BlinkCal/pkg/blinkcal"
	"github.com/himanishpuri/BlinkCal/pkg/blinkcal/notify"
	"github.com/himanishpuri/BlinkCal/pkg/blinkcal/spectral"
	"github.com/himanishpuri/BlinkCal/pkg/utils"
)

var (
	port           int
	dbPath         string
	configPath     string
	mqttBroker     string
	nominalRate    float64
	allowedOrigins string
)

func init() {
	flag.IntVar(&port, "port", 8080, "HTTP server port")
	flag.StringVar(&dbPath, "db", getEnvOrDefault("BLINKCAL_DB_PATH", "blinkcal.sqlite3"), "Path to SQLite database")
	flag.StringVar(&configPath, "config", getEnvOrDefault("BLINKCAL_CONFIG", ""), "JSON tuning file")
	flag.StringVar(&mqttBroker, "mqtt", getEnvOrDefault("BLINKCAL_MQTT_BROKER", ""), "MQTT broker to publish finished calibrations to")
	flag.Float64Var(&nominalRate, "rate", 60, "Frame rate assumed for uploads without one")
	flag.StringVar(&allowedOrigins, "origins", "*", "Comma-separated list of allowed CORS origins (use * for all)")
}

func getEnvOrDefault(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func main() {
	flag.Parse()

	var origins []string
	if allowedOrigins == "*" {
		origins = []string{"*"}
	} else {
		origins = strings.Split(allowedOrigins, ",")
		for i := range origins {
			origins[i] = strings.TrimSpace(origins[i])
		}
	}

	excludedBins := spectral.DefaultExcludedBins
	opts := []blinkcal.Option{
		blinkcal.WithDBPath(dbPath),
		blinkcal.WithNominalRate(nominalRate),
	}
	if configPath != "" {
		tuning, err := blinkcal.LoadTuningConfig(configPath)
		if err != nil {
			log.Fatalf("Failed to load tuning: %v", err)
		}
		opts = append(opts, tuning.Options()...)
		if tuning.ExcludedBins != nil {
			excludedBins = *tuning.ExcludedBins
		}
	}
	if mqttBroker != "" {
		pub, err := notify.Connect(mqttBroker, "blinkcal-server-"+utils.NewSessionID()[:8])
		if err != nil {
			log.Fatalf("Failed to connect to MQTT broker: %v", err)
		}
		defer pub.Close()
		opts = append(opts, blinkcal.WithPublisher(pub))
	}

	service, err := blinkcal.NewService(opts...)
	if err != nil {
		log.Fatalf("Failed to create service: %v", err)
	}
	defer service.Close()

	config := &ServerConfig{
		Port:           port,
		DBPath:         dbPath,
		NominalRateHz:  nominalRate,
		ExcludedBins:   excludedBins,
		MQTTBroker:     mqttBroker,
		AllowedOrigins: origins,
	}

	server := NewServer(service, config)
	if err := server.Start(); err != nil {
		log.Fatalf("Server failed: %v", err)
	}
}
