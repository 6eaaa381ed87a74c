package main

import (
	"errors"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/sevigo/pr-warden/internal/agent"
	"github.com/sevigo/pr-warden/internal/config"
	"github.com/sevigo/pr-warden/internal/logger"
	"github.com/sevigo/pr-warden/internal/workspace"
)

const probeContext = `# Agent probe context

If you can read attached files, reply with the title of this file.
`

var probeOpts struct {
	apiKey  string
	bin     string
	noFiles bool
	timeout time.Duration
}

var probeCmd = &cobra.Command{
	Use:   "probe [message...]",
	Short: "Send a prompt to the review agent through the same path reviews use",
	Long: `Send a prompt to the review agent through the same path reviews use.

Unless --no-files is given, a small context file is attached so you can
check that the agent reads attachments.

Examples:
  prw probe --api-key sk-... "say hello"
  ZAI_API_KEY=sk-... prw probe --no-files "what model are you?"`,
	Args: cobra.MinimumNArgs(1),
	RunE: runProbe,
}

func init() { //nolint:gochecknoinits // Cobra command registration
	probeCmd.Flags().StringVar(&probeOpts.apiKey, "api-key", "", "Provider API key (defaults to $ZAI_API_KEY)")
	probeCmd.Flags().StringVar(&probeOpts.bin, "opencode-bin", "", "Override the opencode binary for this run")
	probeCmd.Flags().BoolVar(&probeOpts.noFiles, "no-files", false, "Do not attach the probe context file")
	probeCmd.Flags().DurationVar(&probeOpts.timeout, "timeout", 0, "Override agent.timeout")
	rootCmd.AddCommand(probeCmd)
}

func runProbe(cmd *cobra.Command, args []string) error {
	message := strings.TrimSpace(strings.Join(args, " "))
	if message == "" {
		return errors.New("message must not be empty")
	}
	apiKey := strings.TrimSpace(probeOpts.apiKey)
	if apiKey == "" {
		apiKey = strings.TrimSpace(os.Getenv("ZAI_API_KEY"))
	}
	if apiKey == "" {
		return errors.New("no API key: pass --api-key or set ZAI_API_KEY")
	}

	cfg, err := config.Load(viper.New(), ".env")
	if err != nil {
		return fmt.Errorf("failed to load configuration: %w", err)
	}
	log := logger.NewLogger(cfg.Logging, os.Stderr)

	auth, err := agent.AuthMaterial(cfg.Agent.ProviderID, apiKey)
	if err != nil {
		return err
	}
	req := agent.Request{
		Prompt:       message,
		Env:          map[string]string{},
		Timeout:      probeOpts.timeout,
		AuthMaterial: auth,
	}
	if cfg.Agent.ProviderEnvVar != "" {
		req.Env[cfg.Agent.ProviderEnvVar] = apiKey
	}
	if bin := strings.TrimSpace(probeOpts.bin); bin != "" {
		req.Env["OPENCODE_BIN"] = bin
	}

	if !probeOpts.noFiles {
		ws, err := workspace.New("prw-probe")
		if err != nil {
			return err
		}
		defer ws.Close()
		path, err := ws.WriteFile("probe_context.md", []byte(probeContext))
		if err != nil {
			return err
		}
		req.Attachments = []string{path}
		req.WorkDir = ws.Root()
	}

	res, err := agent.NewRunner(&cfg.Agent, log).Invoke(cmd.Context(), req)
	if err != nil {
		errorColor.Fprintln(os.Stderr, "probe failed")
		return err
	}
	text := strings.TrimSpace(res.Text)
	if text == "" {
		return errors.New("agent returned an empty response")
	}

	fmt.Println(text)
	dimColor.Fprintf(os.Stderr, "\n%d events, exit code %d, %s\n", res.Events, res.ExitCode, res.Duration.Round(time.Millisecond))
	return nil
}
