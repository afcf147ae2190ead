package pipeline

import (
	"bytes"
	"context"
	"fmt"
	"os/exec"
	"strings"

	"github.com/rs/zerolog"
)

// Result is what one agent invocation produced. Summary is the explicitly
// extracted summary text, empty when the agent left no marker; Output is the
// full raw output.
type Result struct {
	Summary string
	Output  string
}

// AgentRunner invokes the external coding agent with a built prompt. The
// call is synchronous; streaming is the runner's internal concern.
type AgentRunner interface {
	Run(ctx context.Context, workDir, prompt string) (*Result, error)
}

// summaryMarker is the heading the agent is instructed to end its output
// with; everything after the last occurrence becomes the extracted summary.
const summaryMarker = "## Summary"

// CLIRunner runs the agent as a subprocess, piping the prompt on stdin.
type CLIRunner struct {
	Command    string
	Args       []string
	cmdFactory func(ctx context.Context, name string, arg ...string) *exec.Cmd
	logger     zerolog.Logger
}

func NewCLIRunner(command string, args []string, logger zerolog.Logger) *CLIRunner {
	if command == "" {
		command = "claude"
	}
	return &CLIRunner{
		Command:    command,
		Args:       args,
		cmdFactory: exec.CommandContext,
		logger:     logger.With().Str("component", "runner").Logger(),
	}
}

func (r *CLIRunner) Run(ctx context.Context, workDir, prompt string) (*Result, error) {
	cmd := r.cmdFactory(ctx, r.Command, r.Args...)
	cmd.Dir = workDir
	cmd.Stdin = strings.NewReader(prompt)

	var out bytes.Buffer
	cmd.Stdout = &out
	cmd.Stderr = &out

	r.logger.Debug().Str("command", r.Command).Msg("Invoking agent")
	if err := cmd.Run(); err != nil {
		return nil, fmt.Errorf("agent invocation failed: %w", err)
	}

	output := out.String()
	return &Result{
		Summary: ExtractSummary(output),
		Output:  output,
	}, nil
}

// ExtractSummary pulls the text following the last summary marker out of raw
// agent output. Returns "" when the agent emitted no marker.
func ExtractSummary(output string) string {
	idx := strings.LastIndex(output, summaryMarker)
	if idx < 0 {
		return ""
	}
	return strings.TrimSpace(output[idx+len(summaryMarker):])
}

// TrailingOutput returns up to n trailing non-empty lines of raw output, for
// the pipeline-only fallback when the agent produced no extractable summary.
func TrailingOutput(output string, n int) string {
	lines := strings.Split(strings.TrimSpace(output), "\n")
	kept := make([]string, 0, n)
	for i := len(lines) - 1; i >= 0 && len(kept) < n; i-- {
		if strings.TrimSpace(lines[i]) == "" {
			continue
		}
		kept = append(kept, lines[i])
	}
	for i, j := 0, len(kept)-1; i < j; i, j = i+1, j-1 {
		kept[i], kept[j] = kept[j], kept[i]
	}
	return strings.Join(kept, "\n")
}
