package main

import (
	"flag"
	"fmt"
	"os"

	"msgoffice/client/ui"
	"msgoffice/config"
	"msgoffice/observability"
	"msgoffice/session"
	"msgoffice/xmpp"
)

func main() {
	configPath := flag.String("config", "", "path to config.toml")
	server := flag.String("server", "", "XMPP server address (host:port), overrides config")
	flag.Parse()

	log := observability.InitLoggerTo("msgoffice", os.Stderr)

	cfg, err := config.Load(*configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
	if *server != "" {
		cfg.Server = *server
	}

	transport := xmpp.NewClient(log)
	engine := session.NewEngine(cfg, transport, log)

	app := ui.NewApp(engine, cfg)
	if err := app.Run(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}
