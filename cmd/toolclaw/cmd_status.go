// ToolClaw - tool-calling agent orchestration engine
// License: MIT

package main

import (
	"fmt"
	"os"
	"sort"

	"github.com/spf13/pflag"

	"github.com/zhaopengme/toolclaw/pkg/agent"
)

func statusCmd(args []string) {
	fs := pflag.NewFlagSet("status", pflag.ExitOnError)
	configFlag := fs.StringP("config", "c", "", "path to config.json")
	_ = fs.Parse(args)

	configPath := getConfigPath(*configFlag)
	cfg, err := loadConfig(configPath)
	if err != nil {
		fmt.Printf("Error loading config: %v\n", err)
		return
	}

	fmt.Printf("%s toolclaw Status\n", logo)
	fmt.Printf("Version: %s\n", formatVersion())
	build, _ := formatBuildInfo()
	if build != "" {
		fmt.Printf("Build: %s\n", build)
	}
	fmt.Println()

	if _, err := os.Stat(configPath); err == nil {
		fmt.Println("Config:", configPath, "✓")
	} else {
		fmt.Println("Config:", configPath, "✗")
	}

	workspace := cfg.WorkspacePath()
	if _, err := os.Stat(workspace); err == nil {
		fmt.Println("Workspace:", workspace, "✓")
	} else {
		fmt.Println("Workspace:", workspace, "✗")
	}

	status := func(name string) string {
		if name == "" {
			return "not set"
		}
		if _, err := cfg.GetModelConfig(name); err != nil {
			return name + " ✗ (" + err.Error() + ")"
		}
		return name + " ✓"
	}
	fmt.Println("Model:", status(cfg.Agent.Model))
	fmt.Println("Fallback:", status(cfg.Agent.FallbackModel))
	fmt.Printf("Storage: %s %s\n", cfg.Storage.Driver, cfg.Storage.Path)

	inst, err := agent.NewFromConfig(cfg)
	if err != nil {
		fmt.Printf("\nEngine: ✗ %v\n", err)
		return
	}
	defer inst.Close()

	fmt.Println("\nEngine:")
	printStatus(inst.Status())
}

func printStatus(status map[string]interface{}) {
	keys := make([]string, 0, len(status))
	for k := range status {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	for _, k := range keys {
		fmt.Printf("  %s: %v\n", k, status[k])
	}
}
