// Command valuesub runs the subscriber daemon: it loads configuration,
// starts the debug/metrics HTTP surface, and blocks until a shutdown
// signal arrives.
package main

import (
	"flag"
	"log"

	"github.com/valuemesh/subscriber/internal/config"
	"github.com/valuemesh/subscriber/internal/server"
)

func main() {
	var configPath string
	flag.StringVar(&configPath, "config", "", "path to configuration file")
	flag.Parse()

	cfg, err := config.Load(configPath)
	if err != nil {
		log.Fatalf("valuesub: failed to load configuration: %v", err)
	}

	srv := server.New(cfg)
	if err := srv.Start(); err != nil {
		log.Fatalf("valuesub: server error: %v", err)
	}
}
