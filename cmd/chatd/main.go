package main

import (
	"flag"
	"fmt"
	"os"

	"github.com/matheus3301/chatline/internal/config"
	"github.com/matheus3301/chatline/internal/daemon"
	"github.com/matheus3301/chatline/internal/session"
	"go.uber.org/fx"
)

func main() {
	sessionFlag := flag.String("session", "", "session name (overrides $CHATLINE_SESSION and config default)")
	configFlag := flag.String("config", "", "config file (default ~/.chatline/config.toml)")
	serverFlag := flag.String("server", "", "server URL (overrides config server_url)")
	flag.Parse()

	sessionName := session.Resolve(*sessionFlag)
	if err := session.ValidateName(sessionName); err != nil {
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
		os.Exit(1)
	}

	configPath := *configFlag
	if configPath == "" {
		configPath = session.ConfigPath()
	}
	cfg, err := config.LoadOrDefault(configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "error: load config %s: %v\n", configPath, err)
		os.Exit(1)
	}
	if *serverFlag != "" {
		cfg.ServerURL = *serverFlag
	}
	if cfg.ServerURL == "" {
		fmt.Fprintf(os.Stderr, "error: no server_url configured (set it in %s or pass --server)\n", configPath)
		os.Exit(1)
	}

	app := fx.New(
		daemon.Module(daemon.Params{SessionName: sessionName, Config: cfg}),
	)

	app.Run()
}
