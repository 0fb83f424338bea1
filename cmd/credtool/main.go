// Package main implements credtool, the operator tool for reading and writing
// podcastSources credential blobs.
//
// It is the recovery path when a refreshed token could not be persisted: the
// operator decrypts the stored blob, replaces the rotated fields and encrypts
// the result for a manual UPDATE.
//
// Usage:
//
//	credtool encrypt --in creds.json      # plaintext {"FIELD":"value"} -> blob
//	credtool decrypt --in blob.json       # blob -> plaintext JSON
//	credtool decrypt --lenient < blob.json
//
// The passphrase is read from OPENPODCAST_ENCRYPTION_KEY when set, otherwise
// prompted for without echo. decrypt fails on any undecryptable field unless
// --lenient is given, in which case such fields are printed as stored.
package main

import (
	"bufio"
	"encoding/json"
	"errors"
	"flag"
	"fmt"
	"io"
	"log/slog"
	"os"
	"strings"

	"golang.org/x/term"

	"podconnect/internal/credentials"
	"podconnect/internal/types"
)

const passphraseEnv = "OPENPODCAST_ENCRYPTION_KEY"

// Runner holds the I/O of one credtool invocation.
type Runner struct {
	Stdin  io.Reader
	Stdout io.Writer
	Stderr io.Writer
	Getenv func(string) string
	Open   func(name string) (io.ReadCloser, error)

	scanner *bufio.Scanner
}

func main() {
	r := &Runner{
		Stdin:  os.Stdin,
		Stdout: os.Stdout,
		Stderr: os.Stderr,
		Getenv: os.Getenv,
		Open:   func(name string) (io.ReadCloser, error) { return os.Open(name) },
	}
	if err := r.Run(os.Args[1:]); err != nil {
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
		os.Exit(1)
	}
}

// Run executes one subcommand.
func (r *Runner) Run(args []string) error {
	if len(args) == 0 {
		return errors.New("usage: credtool encrypt|decrypt [--in file] [--lenient]")
	}

	fs := flag.NewFlagSet("credtool "+args[0], flag.ContinueOnError)
	fs.SetOutput(r.Stderr)
	in := fs.String("in", "-", "Input file, - for stdin")
	lenient := fs.Bool("lenient", false, "decrypt: keep undecryptable fields as stored")
	if err := fs.Parse(args[1:]); err != nil {
		return err
	}

	input, err := r.readInput(*in)
	if err != nil {
		return err
	}

	passphrase, err := r.passphrase()
	if err != nil {
		return err
	}

	logger := slog.New(slog.NewTextHandler(r.Stderr, &slog.HandlerOptions{Level: slog.LevelWarn}))

	switch args[0] {
	case "encrypt":
		var set types.CredentialSet
		if err := json.Unmarshal(input, &set); err != nil {
			return fmt.Errorf("input is not a JSON object of strings: %w", err)
		}
		blob, err := credentials.NewCodec(credentials.WithLogger(logger)).Encrypt(set, passphrase)
		if err != nil {
			return err
		}
		_, err = fmt.Fprintln(r.Stdout, blob)
		return err

	case "decrypt":
		policy := credentials.Strict
		if *lenient {
			policy = credentials.FallbackPlaintext
		}
		codec := credentials.NewCodec(credentials.WithLogger(logger), credentials.WithPolicy(policy))
		set, err := codec.Decrypt(string(input), passphrase)
		if err != nil {
			return err
		}
		enc := json.NewEncoder(r.Stdout)
		enc.SetIndent("", "  ")
		return enc.Encode(set)

	default:
		return fmt.Errorf("unknown command %q", args[0])
	}
}

func (r *Runner) readInput(name string) ([]byte, error) {
	if name == "-" {
		return io.ReadAll(r.Stdin)
	}
	f, err := r.Open(name)
	if err != nil {
		return nil, fmt.Errorf("open input: %w", err)
	}
	defer f.Close()
	return io.ReadAll(f)
}

// passphrase reads the passphrase from the environment, or prompts for it
// without echo when stdin is a terminal.
func (r *Runner) passphrase() (types.SecretString, error) {
	if v := strings.TrimSpace(r.Getenv(passphraseEnv)); v != "" {
		return types.SecretString(v), nil
	}

	fmt.Fprint(r.Stderr, "Encryption passphrase: ")
	if f, ok := r.Stdin.(*os.File); ok && term.IsTerminal(int(f.Fd())) {
		pw, err := term.ReadPassword(int(f.Fd()))
		fmt.Fprintln(r.Stderr)
		if err != nil {
			return "", fmt.Errorf("reading passphrase: %w", err)
		}
		return nonEmpty(string(pw))
	}

	if r.scanner == nil {
		r.scanner = bufio.NewScanner(r.Stdin)
	}
	if !r.scanner.Scan() {
		if err := r.scanner.Err(); err != nil {
			return "", err
		}
		return "", io.EOF
	}
	return nonEmpty(r.scanner.Text())
}

func nonEmpty(s string) (types.SecretString, error) {
	s = strings.TrimSpace(s)
	if s == "" {
		return "", errors.New("empty passphrase")
	}
	return types.SecretString(s), nil
}
