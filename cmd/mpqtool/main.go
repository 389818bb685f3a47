// Copyright (c) 2025 suprsokr
// SPDX-License-Identifier: MIT

// mpqtool builds and inspects MPQ archives.
//
//	mpqtool build -o patch.mpq manifest.yaml
//	mpqtool build -o patch.mpq --version 2 dir/
//	mpqtool info patch.mpq
//	mpqtool list patch.mpq
//	mpqtool extract -d out patch.mpq Data\Readme.txt
//	mpqtool verify patch.mpq
//	mpqtool hash "(listfile)"
//
// Set MPQKIT_DEBUG=1 for debug logging on stderr.
package main

import (
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"

	"github.com/spf13/pflag"
)

const toolVersion = "0.3.0"

type command struct {
	name    string
	summary string
	run     func(env *env, args []string) error
}

// env carries the process streams and logger through subcommands.
type env struct {
	stdout io.Writer
	stderr io.Writer
	logger *slog.Logger
}

var commands = []command{
	{"build", "build an archive from a manifest or a directory", runBuild},
	{"info", "print the header and table statistics", runInfo},
	{"list", "list files named by the archive's listfile", runList},
	{"extract", "extract files from an archive or patch chain", runExtract},
	{"verify", "check table digests and file checksums", runVerify},
	{"hash", "print the hashes of archive names", runHash},
	{"version", "print the tool version", runVersion},
}

func main() {
	if err := run(os.Args[1:], os.Stdout, os.Stderr); err != nil {
		if errors.Is(err, pflag.ErrHelp) {
			return
		}
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
		os.Exit(1)
	}
}

func run(args []string, stdout, stderr io.Writer) error {
	level := slog.LevelWarn
	if os.Getenv("MPQKIT_DEBUG") != "" {
		level = slog.LevelDebug
	}
	e := &env{
		stdout: stdout,
		stderr: stderr,
		logger: slog.New(slog.NewTextHandler(stderr, &slog.HandlerOptions{Level: level})),
	}

	if len(args) == 0 || args[0] == "-h" || args[0] == "--help" || args[0] == "help" {
		printUsage(stderr)
		return nil
	}

	for _, c := range commands {
		if c.name == args[0] {
			return c.run(e, args[1:])
		}
	}
	printUsage(stderr)
	return fmt.Errorf("unknown command %q", args[0])
}

func printUsage(w io.Writer) {
	fmt.Fprintln(w, "Usage: mpqtool <command> [flags] [args]")
	fmt.Fprintln(w)
	fmt.Fprintln(w, "Commands:")
	for _, c := range commands {
		fmt.Fprintf(w, "  %-8s %s\n", c.name, c.summary)
	}
}

// newFlagSet returns a flag set that prints usage to the env's stderr.
func newFlagSet(e *env, name, usage string) *pflag.FlagSet {
	fs := pflag.NewFlagSet(name, pflag.ContinueOnError)
	fs.SetOutput(e.stderr)
	fs.Usage = func() {
		fmt.Fprintf(e.stderr, "Usage: mpqtool %s %s\n\n", name, usage)
		fs.PrintDefaults()
	}
	return fs
}

func runVersion(e *env, args []string) error {
	fmt.Fprintf(e.stdout, "mpqtool %s\n", toolVersion)
	return nil
}

func usageError(fs *pflag.FlagSet, format string, args ...any) error {
	fs.Usage()
	return fmt.Errorf(format, args...)
}
