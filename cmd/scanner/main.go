package main

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"breakout-scanner/internal/cli"
	"breakout-scanner/internal/config"
	"breakout-scanner/internal/logging"
)

func main() {
	configDir := flagValue(os.Args[1:], "--config")
	if configDir == "" {
		configDir = config.DefaultConfigDir()
	}

	cfg, err := config.Load(configDir)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}

	logCfg := logging.DefaultLogConfig()
	logCfg.Level = cfg.Logging.Level
	logCfg.File = cfg.Logging.File
	logCfg.FilePath = filepath.Join(configDir, "logs", "scanner.log")
	// console logs would interleave with command output
	logCfg.Console = hasFlag(os.Args[1:], "--debug")
	logger := logging.NewLoggerWithConfig(logCfg)

	if err := cli.NewRootCmd(cfg, logger).Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

// flagValue finds a string flag before cobra parses the command line, since
// configuration is needed to build the command tree.
func flagValue(args []string, name string) string {
	for i, arg := range args {
		if arg == name && i+1 < len(args) {
			return args[i+1]
		}
		if v, ok := strings.CutPrefix(arg, name+"="); ok {
			return v
		}
	}
	return ""
}

func hasFlag(args []string, name string) bool {
	for _, arg := range args {
		if arg == name || arg == name+"=true" {
			return true
		}
	}
	return false
}
