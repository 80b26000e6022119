// Package sandbox talks to the code execution service that compiles and runs
// submissions against a single test input.
package sandbox

import (
	"context"
	"time"
)

type Request struct {
	Language      string // Runtime name understood by the executor
	Version       string
	FileName      string
	Code          string
	Stdin         string
	TimeLimit     time.Duration
	MemoryLimitKb int
}

// Result describes one program run. A program that crashed or timed out is a
// normal Result; only executor failures are returned as errors.
type Result struct {
	Stdout         string
	Stderr         string
	ExitCode       int
	Signal         string
	TimedOut       bool
	MemoryExceeded bool
	CompileError   bool
	CompileOutput  string
	Elapsed        time.Duration
	MemoryKb       int
}

type Sandbox interface {
	Run(ctx context.Context, req Request) (*Result, error)
}
