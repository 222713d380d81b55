// Package approval provides tool execution approval mechanisms.
package approval

import (
	"bufio"
	"context"
	"fmt"
	"io"
	"os"
	"strings"

	"github.com/AlecAivazis/survey/v2"
	"golang.org/x/term"
)

// ExecutionMode determines how tool approvals are handled.
type ExecutionMode string

const (
	// ModeInteractive prompts the user for approval
	ModeInteractive ExecutionMode = "interactive"

	// ModeUnattended only allows auto-approved tools
	ModeUnattended ExecutionMode = "unattended"
)

// Approver handles tool execution approval decisions.
type Approver interface {
	// Approve returns true if the tool execution should proceed.
	// toolName is the name of the tool being invoked.
	// toolDescription describes what the tool does.
	// inputs are the parameters being passed to the tool.
	Approve(ctx context.Context, toolName string, toolDescription string, inputs map[string]interface{}) (bool, error)
}

// CLIApprover prompts the user for approval via command line. Against a real
// terminal it prompts with survey.Select; against a custom reader/writer (as
// used by tests, and by any non-interactive invocation that still wants a
// scripted approval flow) it falls back to a plain line-oriented prompt.
// Neither path runs at all when stdin isn't a terminal and no custom IO was
// supplied — ask_once default-denies rather than hanging a daemon process.
type CLIApprover struct {
	reader        io.Reader
	writer        io.Writer
	customIO      bool
	alwaysApprove map[string]bool // Tools the user said "always" to this run
}

// NewCLIApprover creates a CLI-based approver that prompts on the real
// terminal, or default-denies every request when stdin isn't a TTY.
func NewCLIApprover() *CLIApprover {
	return &CLIApprover{
		reader:        os.Stdin,
		writer:        os.Stdout,
		alwaysApprove: make(map[string]bool),
	}
}

// NewCLIApproverWithIO creates a CLI approver with custom IO (for testing or
// for scripting approvals over a pipe), bypassing the TTY check.
func NewCLIApproverWithIO(reader io.Reader, writer io.Writer) *CLIApprover {
	return &CLIApprover{
		reader:        reader,
		writer:        writer,
		customIO:      true,
		alwaysApprove: make(map[string]bool),
	}
}

// Approve prompts the user for approval.
// Returns true if approved, false if denied.
func (c *CLIApprover) Approve(ctx context.Context, toolName string, toolDescription string, inputs map[string]interface{}) (bool, error) {
	if c.alwaysApprove[toolName] {
		return true, nil
	}

	if c.customIO {
		return c.approveViaScanner(toolName, toolDescription, inputs)
	}

	if !term.IsTerminal(int(os.Stdin.Fd())) {
		return false, fmt.Errorf("tool %q requires approval but stdin is not a terminal", toolName)
	}
	return c.approveViaSurvey(toolName, toolDescription, inputs)
}

func (c *CLIApprover) approveViaSurvey(toolName, toolDescription string, inputs map[string]interface{}) (bool, error) {
	message := fmt.Sprintf("Approve %q (%s)?", toolName, toolDescription)
	if len(inputs) > 0 {
		message = fmt.Sprintf("%s\n  inputs: %v", message, inputs)
	}

	var choice string
	prompt := &survey.Select{
		Message: message,
		Options: []string{"no", "yes", "always"},
		Default: "no",
	}
	if err := survey.AskOne(prompt, &choice); err != nil {
		return false, fmt.Errorf("failed to read approval: %w", err)
	}

	switch choice {
	case "yes":
		return true, nil
	case "always":
		c.alwaysApprove[toolName] = true
		return true, nil
	default:
		return false, nil
	}
}

func (c *CLIApprover) approveViaScanner(toolName, toolDescription string, inputs map[string]interface{}) (bool, error) {
	fmt.Fprintf(c.writer, "\n")
	fmt.Fprintf(c.writer, "Tool approval required:\n")
	fmt.Fprintf(c.writer, "  Tool: %s\n", toolName)
	fmt.Fprintf(c.writer, "  Description: %s\n", toolDescription)
	if len(inputs) > 0 {
		fmt.Fprintf(c.writer, "  Inputs:\n")
		for k, v := range inputs {
			fmt.Fprintf(c.writer, "    %s: %v\n", k, v)
		}
	}
	fmt.Fprintf(c.writer, "\n")
	fmt.Fprintf(c.writer, "Approve execution? [y/N/always]: ")

	scanner := bufio.NewScanner(c.reader)
	if !scanner.Scan() {
		if err := scanner.Err(); err != nil {
			return false, fmt.Errorf("failed to read input: %w", err)
		}
		return false, nil
	}

	switch strings.ToLower(strings.TrimSpace(scanner.Text())) {
	case "y", "yes":
		return true, nil
	case "always":
		c.alwaysApprove[toolName] = true
		return true, nil
	default:
		return false, nil
	}
}

// UnattendedApprover only allows auto-approved tools.
type UnattendedApprover struct {
	autoApprovedTools map[string]bool
}

// NewUnattendedApprover creates an approver for unattended mode.
// It accepts a set of tool names that are auto-approved.
func NewUnattendedApprover(autoApprovedTools map[string]bool) *UnattendedApprover {
	return &UnattendedApprover{
		autoApprovedTools: autoApprovedTools,
	}
}

// Approve returns true only if the tool is in the auto-approved list.
func (u *UnattendedApprover) Approve(ctx context.Context, toolName string, toolDescription string, inputs map[string]interface{}) (bool, error) {
	if u.autoApprovedTools[toolName] {
		return true, nil
	}
	return false, fmt.Errorf("tool %s requires approval but running in unattended mode", toolName)
}
