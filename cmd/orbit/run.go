package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"strings"
	"syscall"

	"github.com/chzyer/readline"
	"github.com/mattn/go-isatty"
	"github.com/spf13/cobra"

	"github.com/martinemde/orbit/llm"
	"github.com/martinemde/orbit/loop"
	"github.com/martinemde/orbit/pricing"
	"github.com/martinemde/orbit/tools"
	"github.com/martinemde/orbit/trigger"
)

var runFlags struct {
	model         string
	provider      string
	steps         int
	confirm       bool
	showReasoning bool
	noTools       bool
	forceLoop     bool
	artifactDir   string
	jsonOut       bool
}

var runCmd = &cobra.Command{
	Use:   "run <prompt>",
	Short: "Run an agentic loop for one prompt",
	Long: `Run drives a loop for the given prompt and prints the answer on
stdout; progress renders on stderr. Prompts with no loop signals are
answered in a single completion unless --loop forces the full loop.`,
	Example: `  orbit run "compare the weather in Lisbon and Porto today"
  orbit run --confirm "fetch https://example.com and summarize it"
  orbit run --json "what time is it in Tokyo?"`,
	Args: cobra.MinimumNArgs(1),
	RunE: runLoop,
}

func init() {
	runCmd.Flags().StringVarP(&runFlags.model, "model", "m", "", "model ID or catalog alias")
	runCmd.Flags().StringVar(&runFlags.provider, "provider", "", "pin a provider (anthropic, openai, gemini, ollama)")
	runCmd.Flags().IntVarP(&runFlags.steps, "steps", "s", 0, "maximum loop steps (default 8)")
	runCmd.Flags().BoolVarP(&runFlags.confirm, "confirm", "c", false, "pause for approval before every tool round")
	runCmd.Flags().BoolVar(&runFlags.showReasoning, "show-reasoning", false, "stream model reasoning")
	runCmd.Flags().BoolVar(&runFlags.noTools, "no-tools", false, "offer no tools; the model must answer directly")
	runCmd.Flags().BoolVar(&runFlags.forceLoop, "loop", false, "run the full loop even for prompts that look one-shot")
	runCmd.Flags().StringVar(&runFlags.artifactDir, "artifact-dir", "artifacts", "directory for create_artifact output")
	runCmd.Flags().BoolVar(&runFlags.jsonOut, "json", false, "print the final state as JSON")
	rootCmd.AddCommand(runCmd)
}

func runLoop(cmd *cobra.Command, args []string) error {
	prompt := strings.TrimSpace(strings.Join(args, " "))
	if prompt == "" {
		return errors.New("prompt is required")
	}

	logger := newLogger(os.Stderr)
	client, err := llm.NewFromEnv(logger)
	if err != nil {
		return err
	}
	defer client.Close()

	color := isatty.IsTerminal(os.Stderr.Fd()) || isatty.IsCygwinTerminal(os.Stderr.Fd())
	rend := newRenderer(os.Stderr, color)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if verdict := trigger.Detect(prompt); !verdict.Engage && !runFlags.forceLoop {
		rend.notice(fmt.Sprintf("answering directly (%s)", verdict.Reason))
		return singleShot(ctx, client, prompt)
	}

	cfg := loop.Config{
		Client:        client,
		Model:         resolveModel(runFlags.model),
		Provider:      runFlags.provider,
		MaxSteps:      runFlags.steps,
		Confirm:       runFlags.confirm,
		ShowReasoning: runFlags.showReasoning,
		Logger:        logger,
	}
	if !runFlags.noTools {
		reg := tools.NewRegistry()
		if err := tools.RegisterBuiltins(reg, tools.BuiltinOptions{ArtifactDir: runFlags.artifactDir}); err != nil {
			return err
		}
		cfg.Tools = reg
	}
	table, err := loadRates()
	if err != nil {
		return err
	}
	cfg.Rates = table

	ctl, err := loop.New(prompt, cfg)
	if err != nil {
		return err
	}

	rendered := make(chan struct{})
	go func() {
		defer close(rendered)
		for ev := range ctl.Events() {
			rend.event(ev)
		}
	}()

	state, err := ctl.Run(ctx)
	for err == nil && state.Status == loop.StatusAwaitingConfirmation {
		rend.confirmRequest(state.Steps[len(state.Steps)-1])
		approved, feedback, perr := promptConfirmation()
		if perr != nil {
			ctl.Cancel()
			break
		}
		if err = ctl.Resume(ctx, approved, feedback); err != nil {
			break
		}
		state, err = ctl.Run(ctx)
	}
	if err != nil {
		ctl.Cancel()
		<-rendered
		return err
	}

	<-rendered
	final := ctl.State()

	if runFlags.jsonOut {
		out, err := json.MarshalIndent(final, "", "  ")
		if err != nil {
			return err
		}
		fmt.Println(string(out))
	} else {
		if final.Status == loop.StatusCompleted && final.Final != nil {
			fmt.Println(final.Final.Content)
		}
		rend.final(final)
	}

	switch final.Status {
	case loop.StatusCompleted:
		return nil
	case loop.StatusCancelled:
		return errors.New("loop cancelled")
	default:
		return errors.New("loop failed")
	}
}

// singleShot answers the prompt with one completion, no tools, no loop.
func singleShot(ctx context.Context, client *llm.Client, prompt string) error {
	resp, err := client.Complete(ctx, llm.Request{
		Model:    resolveModel(runFlags.model),
		Provider: runFlags.provider,
		Messages: []llm.Message{llm.UserMessage(prompt)},
	})
	if err != nil {
		return err
	}

	if runFlags.jsonOut {
		out, err := json.MarshalIndent(resp, "", "  ")
		if err != nil {
			return err
		}
		fmt.Println(string(out))
		return nil
	}
	fmt.Println(resp.Content)
	return nil
}

// promptConfirmation blocks on the operator's verdict for a pending tool
// round. Rejections ask for optional feedback to hand back to the loop.
func promptConfirmation() (approved bool, feedback string, err error) {
	rl, err := readline.NewEx(&readline.Config{
		Prompt:          "approve? [y/n] > ",
		InterruptPrompt: "",
		EOFPrompt:       "",
	})
	if err != nil {
		return false, "", err
	}
	defer rl.Close()

	for {
		line, err := rl.Readline()
		if err != nil {
			return false, "", err
		}
		switch strings.TrimSpace(strings.ToLower(line)) {
		case "y", "yes":
			return true, "", nil
		case "n", "no":
			rl.SetPrompt("feedback (optional) > ")
			fb, err := rl.Readline()
			if err != nil {
				fb = ""
			}
			return false, strings.TrimSpace(fb), nil
		default:
			fmt.Println("Invalid input. Please enter 'y' or 'n'.")
		}
	}
}

// resolveModel expands catalog aliases to canonical IDs. Anything the
// catalog does not recognize passes through untouched, so local Ollama
// tags keep working.
func resolveModel(raw string) string {
	if raw == "" {
		return ""
	}
	info := llm.GetModelInfo(raw)
	if info == nil || info.ID == raw {
		return raw
	}
	for _, alias := range info.Aliases {
		if alias == raw {
			return info.ID
		}
	}
	// Matched by stripping an Ollama ":tag" suffix; keep the tag.
	return raw
}

// loadRates reads the optional ORBIT_RATES pricing table. Empty means the
// built-in rates.
func loadRates() (*pricing.Table, error) {
	path := strings.TrimSpace(os.Getenv("ORBIT_RATES"))
	if path == "" {
		return nil, nil
	}
	table, err := pricing.LoadFile(path)
	if err != nil {
		return nil, fmt.Errorf("loading rate table: %w", err)
	}
	return table, nil
}
