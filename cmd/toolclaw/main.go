// ToolClaw - tool-calling agent orchestration engine
// License: MIT
//
// Copyright (c) 2026 ToolClaw contributors

package main

import (
	"fmt"
	"os"
	"path/filepath"
	"runtime"

	"github.com/joho/godotenv"

	"github.com/zhaopengme/toolclaw/pkg/config"
	"github.com/zhaopengme/toolclaw/pkg/logger"
)

var (
	version   = "dev"
	gitCommit string
	buildTime string
	goVersion string
)

const logo = "🦀"

// formatVersion returns the version string with optional git commit
func formatVersion() string {
	v := version
	if gitCommit != "" {
		v += fmt.Sprintf(" (git: %s)", gitCommit)
	}
	return v
}

// formatBuildInfo returns build time and go version info
func formatBuildInfo() (build string, goVer string) {
	if buildTime != "" {
		build = buildTime
	}
	goVer = goVersion
	if goVer == "" {
		goVer = runtime.Version()
	}
	return
}

func printVersion() {
	fmt.Printf("%s toolclaw %s\n", logo, formatVersion())
	build, goVer := formatBuildInfo()
	if build != "" {
		fmt.Printf("  Build: %s\n", build)
	}
	if goVer != "" {
		fmt.Printf("  Go: %s\n", goVer)
	}
}

func main() {
	// .env is optional; real environment variables win.
	_ = godotenv.Load()

	if len(os.Args) < 2 {
		printHelp()
		os.Exit(1)
	}

	command := os.Args[1]

	switch command {
	case "agent":
		agentCmd(os.Args[2:])
	case "status":
		statusCmd(os.Args[2:])
	case "version", "--version", "-v":
		printVersion()
	case "help", "--help", "-h":
		printHelp()
	default:
		fmt.Printf("Unknown command: %s\n", command)
		printHelp()
		os.Exit(1)
	}
}

func printHelp() {
	fmt.Printf("%s toolclaw - tool-calling agent v%s\n\n", logo, version)
	fmt.Println("Usage: toolclaw <command> [flags]")
	fmt.Println()
	fmt.Println("Commands:")
	fmt.Println("  agent       Ask the agent a question, or chat interactively")
	fmt.Println("  status      Show configuration and engine status")
	fmt.Println("  version     Show version information")
	fmt.Println()
	fmt.Println("Environment:")
	fmt.Printf("  %sCONFIG     Path to config.json (default %s)\n", config.EnvPrefix, defaultConfigPath())
}

func defaultConfigPath() string {
	home, _ := os.UserHomeDir()
	return filepath.Join(home, ".toolclaw", "config.json")
}

// getConfigPath resolves the config file from the flag value, then the
// environment, then the default location.
func getConfigPath(flagValue string) string {
	if flagValue != "" {
		return flagValue
	}
	if p := os.Getenv(config.EnvPrefix + "CONFIG"); p != "" {
		return p
	}
	return defaultConfigPath()
}

func loadConfig(path string) (*config.Config, error) {
	cfg, err := config.LoadConfig(path)
	if err != nil {
		return nil, err
	}
	logger.SetLevel(logger.ParseLevel(cfg.Log.Level))
	logger.EnableJSON(cfg.Log.JSON)
	return cfg, nil
}
