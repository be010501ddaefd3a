// Package repl implements the interactive investigation console.
package repl

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"sort"
	"strings"

	"github.com/chzyer/readline"
	"github.com/fatih/color"

	"github.com/steveyegge/sleuth/internal/report"
	"github.com/steveyegge/sleuth/internal/safety"
	"github.com/steveyegge/sleuth/internal/storage"
)

// errExit ends the loop without an error.
var errExit = errors.New("exit")

// Investigator is the subset of investigation.Runner the console drives.
type Investigator interface {
	Run(ctx context.Context) (*report.Report, error)
	Last() *report.Report
	SafetyStatus() *safety.Status
	History(ctx context.Context, limit int) ([]storage.InvestigationRecord, error)
	Report(ctx context.Context, sessionID string) (*report.Report, error)
}

// REPL represents the interactive shell
type REPL struct {
	runner      Investigator
	ctx         context.Context
	out         io.Writer
	historyFile string
	commands    map[string]CommandHandler
}

// CommandHandler handles a specific command
type CommandHandler func(args []string) error

// Config holds REPL configuration
type Config struct {
	Runner Investigator
	// Out defaults to stdout.
	Out io.Writer
	// HistoryFile persists line history; empty keeps it in memory.
	HistoryFile string
}

// New creates a new REPL instance
func New(cfg *Config) (*REPL, error) {
	if cfg.Runner == nil {
		return nil, fmt.Errorf("runner is required")
	}
	out := cfg.Out
	if out == nil {
		out = os.Stdout
	}

	r := &REPL{
		runner:      cfg.Runner,
		ctx:         context.Background(),
		out:         out,
		historyFile: cfg.HistoryFile,
		commands:    make(map[string]CommandHandler),
	}
	r.registerCommands()
	return r, nil
}

// Run starts the REPL loop
func (r *REPL) Run(ctx context.Context) error {
	r.ctx = ctx

	cyan := color.New(color.FgCyan).SprintFunc()
	rl, err := readline.NewEx(&readline.Config{
		Prompt:            cyan("sleuth> "),
		HistoryFile:       r.historyFile,
		AutoComplete:      newCompleter(r),
		InterruptPrompt:   "^C",
		EOFPrompt:         "exit",
		HistorySearchFold: true,
		Stdout:            r.out,
	})
	if err != nil {
		return fmt.Errorf("failed to create readline: %w", err)
	}
	defer rl.Close()

	r.printWelcome()

	for {
		if ctx.Err() != nil {
			return nil
		}
		line, err := rl.Readline()
		if err != nil {
			if errors.Is(err, readline.ErrInterrupt) {
				continue
			} else if errors.Is(err, io.EOF) {
				fmt.Fprintln(r.out, "\nGoodbye!")
				return nil
			}
			return err
		}

		line = strings.TrimSpace(line)
		if line == "" {
			continue
		}

		if err := r.processInput(line); err != nil {
			if errors.Is(err, errExit) {
				return nil
			}
			red := color.New(color.FgRed).SprintFunc()
			fmt.Fprintf(r.out, "%s %v\n", red("Error:"), err)
		}
	}
}

// processInput processes a single line of input
func (r *REPL) processInput(line string) error {
	parts := strings.Fields(line)
	if len(parts) == 0 {
		return nil
	}

	command := strings.ToLower(strings.TrimPrefix(parts[0], "/"))
	if handler, ok := r.commands[command]; ok {
		return handler(parts[1:])
	}

	yellow := color.New(color.FgYellow).SprintFunc()
	fmt.Fprintf(r.out, "%s Unknown command %q. Use 'help' for available commands.\n", yellow("Note:"), parts[0])
	return nil
}

// registerCommands registers all built-in commands
func (r *REPL) registerCommands() {
	r.commands["investigate"] = r.cmdInvestigate
	r.commands["run"] = r.cmdInvestigate
	r.commands["status"] = r.cmdStatus
	r.commands["report"] = r.cmdReport
	r.commands["history"] = r.cmdHistory
	r.commands["help"] = r.cmdHelp
	r.commands["?"] = r.cmdHelp
	r.commands["exit"] = r.cmdExit
	r.commands["quit"] = r.cmdExit
}

// commandNames returns the registered commands in order, for completion.
func (r *REPL) commandNames() []string {
	names := make([]string, 0, len(r.commands))
	for name := range r.commands {
		if name == "?" {
			continue
		}
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

func (r *REPL) printWelcome() {
	cyan := color.New(color.FgCyan, color.Bold).SprintFunc()
	fmt.Fprintf(r.out, "\n%s\n", cyan("sleuth interactive console"))
	fmt.Fprintln(r.out, "Adaptive bottleneck investigation")
	fmt.Fprintln(r.out)
	fmt.Fprintln(r.out, "Type 'help' for available commands, 'exit' to quit")
	fmt.Fprintln(r.out)
}

// cmdHelp shows help information
func (r *REPL) cmdHelp(args []string) error {
	cyan := color.New(color.FgCyan, color.Bold).SprintFunc()
	green := color.New(color.FgGreen).SprintFunc()
	fmt.Fprintf(r.out, "\n%s\n\n", cyan("Available Commands:"))

	commands := []struct {
		name string
		desc string
	}{
		{"investigate, run", "Sample the target and run an investigation"},
		{"status", "Show safety monitor state and the last result"},
		{"report [id] [-v]", "Show the last report, or a stored one by session id"},
		{"history [n]", "List recent investigations"},
		{"help, ?", "Show this help message"},
		{"exit, quit", "Exit the console"},
	}
	for _, cmd := range commands {
		fmt.Fprintf(r.out, "  %-18s %s\n", green(cmd.name), cmd.desc)
	}
	fmt.Fprintln(r.out)
	return nil
}

// cmdExit exits the REPL
func (r *REPL) cmdExit(args []string) error {
	green := color.New(color.FgGreen).SprintFunc()
	fmt.Fprintf(r.out, "\n%s Goodbye!\n", green("✓"))
	return errExit
}
