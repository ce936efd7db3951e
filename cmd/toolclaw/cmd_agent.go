// ToolClaw - tool-calling agent orchestration engine
// License: MIT

package main

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"os/signal"
	"path/filepath"
	"strings"

	"github.com/chzyer/readline"
	"github.com/google/uuid"
	"github.com/spf13/pflag"

	"github.com/zhaopengme/toolclaw/pkg/agent"
	"github.com/zhaopengme/toolclaw/pkg/bus"
	"github.com/zhaopengme/toolclaw/pkg/logger"
)

func agentCmd(args []string) {
	fs := pflag.NewFlagSet("agent", pflag.ExitOnError)
	message := fs.StringP("message", "m", "", "ask a single question and exit")
	threadID := fs.StringP("session", "s", "cli:default", "conversation thread id")
	configPath := fs.StringP("config", "c", "", "path to config.json")
	modelOverride := fs.String("model", "", "override agent.model")
	fresh := fs.Bool("new", false, "start a new thread instead of --session")
	debug := fs.BoolP("debug", "d", false, "enable debug logging and print progress events")
	_ = fs.Parse(args)

	if *fresh {
		*threadID = "cli:" + uuid.NewString()
	}

	cfg, err := loadConfig(getConfigPath(*configPath))
	if err != nil {
		fmt.Printf("Error loading config: %v\n", err)
		os.Exit(1)
	}
	if *debug {
		logger.SetLevel(logger.DEBUG)
		fmt.Println("🔍 Debug mode enabled")
	}
	if *modelOverride != "" {
		cfg.Agent.Model = *modelOverride
	}

	inst, err := agent.NewFromConfig(cfg)
	if err != nil {
		fmt.Printf("Error creating agent: %v\n", err)
		os.Exit(1)
	}
	defer inst.Close()

	ctx, stop := context.WithCancel(context.Background())
	defer stop()
	inst.Start(ctx)
	go drainProgress(ctx, inst.Progress, *debug)

	if *message != "" {
		text, err := ask(ctx, inst, *message, *threadID)
		if err != nil {
			fmt.Printf("Error: %s\n", text)
			inst.Close()
			os.Exit(1)
		}
		fmt.Printf("\n%s %s\n", logo, text)
		return
	}

	fmt.Printf("%s Interactive mode (Ctrl+C to exit)\n\n", logo)
	interactiveMode(ctx, inst, *threadID)
}

// ask runs one query. Ctrl+C during the run cancels it, keeping its
// snapshot so the same question can pick up where it stopped.
func ask(ctx context.Context, inst *agent.Instance, query, threadID string) (string, error) {
	runCtx, stop := signal.NotifyContext(ctx, os.Interrupt)
	defer stop()

	answer, err := inst.Run(runCtx, agent.Request{Query: query, ThreadID: threadID})
	if err != nil {
		var ae *agent.Error
		if errors.As(err, &ae) {
			return ae.UserMessage(), err
		}
		return err.Error(), err
	}
	if answer.Source != agent.SourcePrimary {
		logger.DebugCF("agent", "Answer source", map[string]interface{}{
			"source":     answer.Source,
			"iterations": answer.Iterations,
		})
	}
	return answer.Text, nil
}

// drainProgress keeps the progress bus empty, printing events in debug mode.
func drainProgress(ctx context.Context, pb *bus.ProgressBus, show bool) {
	for {
		ev, ok := pb.Consume(ctx)
		if !ok {
			return
		}
		if !show {
			continue
		}
		line := fmt.Sprintf("  · [%d] %s", ev.Iteration, ev.Kind)
		if ev.Tool != "" {
			line += " " + ev.Tool
		}
		if ev.Message != "" {
			line += ": " + strings.ReplaceAll(ev.Message, "\n", " ")
		}
		fmt.Println(line)
	}
}

func interactiveMode(ctx context.Context, inst *agent.Instance, threadID string) {
	prompt := fmt.Sprintf("%s You: ", logo)

	rl, err := readline.NewEx(&readline.Config{
		Prompt:          prompt,
		HistoryFile:     filepath.Join(os.TempDir(), ".toolclaw_history"),
		HistoryLimit:    100,
		InterruptPrompt: "^C",
		EOFPrompt:       "exit",
	})
	if err != nil {
		fmt.Printf("Error initializing readline: %v\n", err)
		fmt.Println("Falling back to simple input mode...")
		simpleInteractiveMode(ctx, inst, threadID)
		return
	}
	defer rl.Close()

	for {
		line, err := rl.Readline()
		if err != nil {
			if err == readline.ErrInterrupt || err == io.EOF {
				fmt.Println("\nGoodbye!")
				return
			}
			fmt.Printf("Error reading input: %v\n", err)
			continue
		}
		if !handleInput(ctx, inst, line, threadID) {
			return
		}
	}
}

func simpleInteractiveMode(ctx context.Context, inst *agent.Instance, threadID string) {
	reader := bufio.NewReader(os.Stdin)
	for {
		fmt.Printf("%s You: ", logo)
		line, err := reader.ReadString('\n')
		if err != nil {
			if err == io.EOF {
				fmt.Println("\nGoodbye!")
				return
			}
			fmt.Printf("Error reading input: %v\n", err)
			continue
		}
		if !handleInput(ctx, inst, line, threadID) {
			return
		}
	}
}

// handleInput answers one line and reports whether the session continues.
func handleInput(ctx context.Context, inst *agent.Instance, line, threadID string) bool {
	input := strings.TrimSpace(line)
	switch input {
	case "":
		return true
	case "exit", "quit":
		fmt.Println("Goodbye!")
		return false
	case "/status":
		printStatus(inst.Status())
		return true
	}

	text, err := ask(ctx, inst, input, threadID)
	if err != nil {
		fmt.Printf("Error: %s\n\n", text)
		return true
	}
	fmt.Printf("\n%s %s\n\n", logo, text)
	return true
}
