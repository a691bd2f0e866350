package main

import (
	"flag"
	"fmt"
	"os"

	"github.com/ternarybob/arbor"
	"github.com/ternarybob/perquire/internal/common"
)

var (
	configPath  = flag.String("config", "", "Configuration file path (TOML)")
	serverPort  = flag.Int("port", 0, "Server port (overrides config)")
	serverHost  = flag.String("host", "", "Server host (overrides config)")
	showVersion = flag.Bool("version", false, "Print version information")

	config *common.Config
	logger arbor.ILogger
)

func main() {
	flag.Parse()

	if *showVersion {
		fmt.Printf("Perquire version %s\n", common.GetFullVersion())
		os.Exit(0)
	}

	command := flag.Arg(0)
	if command == "" {
		command = "serve"
	}
	if command == "version" {
		fmt.Printf("Perquire version %s\n", common.GetFullVersion())
		os.Exit(0)
	}

	// Startup order: config, CLI overrides, logger, banner.
	path := *configPath
	if path == "" {
		if _, err := os.Stat("perquire.toml"); err == nil {
			path = "perquire.toml"
		}
	}

	var err error
	config, err = common.LoadConfig(path)
	if err != nil {
		arbor.NewLogger().Fatal().Err(err).Str("path", path).Msg("Failed to load configuration")
		os.Exit(1)
	}
	if *serverPort != 0 {
		config.Server.Port = *serverPort
	}
	if *serverHost != "" {
		config.Server.Host = *serverHost
	}

	logger = common.InitLogger(config)
	common.PrintBanner(common.GetVersion())
	common.InstallCrashHandler("logs")

	switch command {
	case "serve":
		runServe()
	case "submit":
		runSubmit(flag.Args()[1:])
	default:
		fmt.Fprintf(os.Stderr, "Unknown command %q (expected serve, submit, or version)\n", command)
		os.Exit(1)
	}
}
