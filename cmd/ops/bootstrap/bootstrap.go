package main

import (
	"bufio"
	"context"
	"crypto/rand"
	"encoding/hex"
	"errors"
	"fmt"
	"io"
	"os"
	"strings"

	"github.com/jackc/pgx/v5/pgconn"
	"golang.org/x/term"
)

// Step is one secret the connector manager resolves through a _SSM_PARAM
// pointer.
type Step struct {
	Label  string
	EnvKey string
	Prompt string

	// Generate, when set, produces the value if the operator enters nothing.
	Generate func() (string, error)
	Validate func(string) error
	Optional bool
}

const maxRetries = 5

var errSkipped = errors.New("parameter skipped by operator")

// Inventory lists the secrets in the order they are collected.
func Inventory() []Step {
	return []Step{
		{
			Label:    "Database URL",
			EnvKey:   "DATABASE_URL",
			Prompt:   "Paste the postgres:// connection string of the openpodcast database:",
			Validate: validateDatabaseURL,
		},
		{
			Label:  "Credential encryption passphrase",
			EnvKey: "OPENPODCAST_ENCRYPTION_KEY",
			Prompt: "Paste the passphrase the stored credential blobs were encrypted with.\n" +
				"  Leave empty to generate one for a fresh installation:",
			Generate: generatePassphrase,
		},
		{
			Label:    "Podigee OAuth client secret",
			EnvKey:   "PODIGEE_CLIENT_SECRET",
			Prompt:   "Paste the Podigee OAuth application secret (empty to skip):",
			Optional: true,
		},
	}
}

func validateDatabaseURL(dsn string) error {
	if !strings.HasPrefix(dsn, "postgres://") && !strings.HasPrefix(dsn, "postgresql://") {
		return errors.New("must start with postgres:// or postgresql://")
	}
	if _, err := pgconn.ParseConfig(dsn); err != nil {
		return fmt.Errorf("not a valid connection string: %w", err)
	}
	return nil
}

// generatePassphrase returns 32 random bytes, hex encoded.
func generatePassphrase() (string, error) {
	buf := make([]byte, 32)
	if _, err := rand.Read(buf); err != nil {
		return "", fmt.Errorf("crypto/rand failed: %w", err)
	}
	return hex.EncodeToString(buf), nil
}

// BootstrapRunner walks the inventory, writing each secret to SSM.
type BootstrapRunner struct {
	SSM    *SSMManager
	Stdin  io.Reader
	Stdout io.Writer
	Stderr io.Writer

	steps   []Step
	scanner *bufio.Scanner
}

// NewBootstrapRunner creates a runner with production dependencies.
func NewBootstrapRunner(bctx *BootstrapContext) *BootstrapRunner {
	return &BootstrapRunner{
		SSM:    NewSSMManager(bctx),
		Stdin:  os.Stdin,
		Stdout: os.Stdout,
		Stderr: os.Stderr,
	}
}

type stepResult struct {
	Step   Step
	Action string // written, generated, overwritten, skipped
	Path   string
	// Stored is true when a parameter exists at Path after the step.
	Stored bool
}

// Run processes every step, then prints a summary to Stderr and the
// _SSM_PARAM pointer lines for the deployment environment to Stdout.
func (r *BootstrapRunner) Run(ctx context.Context) error {
	steps := r.steps
	if steps == nil {
		steps = Inventory()
	}

	results := make([]stepResult, 0, len(steps))
	for i, step := range steps {
		fmt.Fprintf(r.Stderr, "\n[%d/%d] %s\n", i+1, len(steps), step.Label)
		res, err := r.processStep(ctx, step)
		if err != nil {
			return fmt.Errorf("step %q failed: %w", step.Label, err)
		}
		results = append(results, res)
	}

	r.printSummary(results)
	for _, res := range results {
		if res.Stored {
			fmt.Fprintf(r.Stdout, "%s_SSM_PARAM=%s\n", res.Step.EnvKey, res.Path)
		}
	}
	return nil
}

func (r *BootstrapRunner) processStep(ctx context.Context, step Step) (stepResult, error) {
	path := r.SSM.SSMPath(step.EnvKey)
	result := stepResult{Step: step, Path: path}

	exists, err := r.SSM.ParameterExists(ctx, path)
	if err != nil {
		return result, err
	}
	if exists {
		fmt.Fprintf(r.Stderr, "  Parameter already exists: %s\n", path)
		choice, err := r.promptSkipOrOverwrite()
		if err != nil {
			return result, fmt.Errorf("reading skip/overwrite choice: %w", err)
		}
		if choice == "skip" {
			fmt.Fprintln(r.Stderr, "  Skipped.")
			result.Action = "skipped"
			result.Stored = true
			return result, nil
		}
	}

	value, generated, err := r.obtainValue(step)
	if errors.Is(err, errSkipped) {
		fmt.Fprintln(r.Stderr, "  Skipped.")
		result.Action = "skipped"
		return result, nil
	}
	if err != nil {
		return result, err
	}

	if err := r.SSM.PutSecret(ctx, path, value, exists); err != nil {
		return result, err
	}

	result.Stored = true
	switch {
	case exists:
		result.Action = "overwritten"
	case generated:
		result.Action = "generated"
	default:
		result.Action = "written"
	}
	fmt.Fprintf(r.Stderr, "  Stored: %s\n", path)
	return result, nil
}

// obtainValue prompts until the input validates. Empty input generates a
// value when the step can, skips optional steps and re-prompts otherwise.
func (r *BootstrapRunner) obtainValue(step Step) (string, bool, error) {
	fmt.Fprintf(r.Stderr, "\n  %s\n\n", step.Prompt)

	for attempt := 1; attempt <= maxRetries; attempt++ {
		input, err := r.readSecretInput("  > ")
		if err != nil {
			return "", false, fmt.Errorf("reading input for %s: %w", step.Label, err)
		}
		input = strings.TrimSpace(input)

		if input == "" {
			switch {
			case step.Generate != nil:
				v, err := step.Generate()
				if err != nil {
					return "", false, err
				}
				fmt.Fprintf(r.Stderr, "  Auto-generated (%d chars)\n", len(v))
				return v, true, nil
			case step.Optional:
				return "", false, errSkipped
			default:
				fmt.Fprintln(r.Stderr, "  A value is required.")
				continue
			}
		}

		fmt.Fprintf(r.Stderr, "  Received %d chars.\n", len(input))
		if step.Validate != nil {
			if err := step.Validate(input); err != nil {
				fmt.Fprintf(r.Stderr, "  Validation failed: %v\n", err)
				continue
			}
		}
		return input, false, nil
	}
	return "", false, fmt.Errorf("maximum retries (%d) exceeded for %s", maxRetries, step.Label)
}

func (r *BootstrapRunner) scanLine() (string, error) {
	if r.scanner == nil {
		r.scanner = bufio.NewScanner(r.Stdin)
	}
	if !r.scanner.Scan() {
		if err := r.scanner.Err(); err != nil {
			return "", err
		}
		return "", io.EOF
	}
	return r.scanner.Text(), nil
}

// readSecretInput reads without echo on a terminal and falls back to a plain
// line read for piped input.
func (r *BootstrapRunner) readSecretInput(prompt string) (string, error) {
	fmt.Fprint(r.Stderr, prompt)
	if f, ok := r.Stdin.(*os.File); ok && term.IsTerminal(int(f.Fd())) {
		pw, err := term.ReadPassword(int(f.Fd()))
		fmt.Fprintln(r.Stderr)
		if err != nil {
			return "", fmt.Errorf("reading secret input: %w", err)
		}
		return string(pw), nil
	}
	return r.scanLine()
}

func (r *BootstrapRunner) promptSkipOrOverwrite() (string, error) {
	for {
		fmt.Fprint(r.Stderr, "  [S]kip or [O]verwrite? ")
		line, err := r.scanLine()
		if err != nil {
			return "", err
		}
		switch strings.ToLower(strings.TrimSpace(line)) {
		case "s", "skip":
			return "skip", nil
		case "o", "overwrite":
			return "overwrite", nil
		default:
			fmt.Fprintln(r.Stderr, "  Please enter 'S' to skip or 'O' to overwrite.")
		}
	}
}

func (r *BootstrapRunner) printSummary(results []stepResult) {
	fmt.Fprintln(r.Stderr)
	fmt.Fprintln(r.Stderr, "============================================================")
	fmt.Fprintln(r.Stderr, "  Bootstrap Summary")
	fmt.Fprintln(r.Stderr, "============================================================")
	for _, res := range results {
		fmt.Fprintf(r.Stderr, "  %-14s %s\n", "["+strings.ToUpper(res.Action)+"]", res.Step.Label)
	}
	fmt.Fprintln(r.Stderr, "------------------------------------------------------------")
	fmt.Fprintln(r.Stderr, "  Add the lines printed on stdout to the service environment.")
	fmt.Fprintln(r.Stderr)
}
