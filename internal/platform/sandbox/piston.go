package sandbox

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"
)

type pistonFile struct {
	Name    string `json:"name,omitempty"`
	Content string `json:"content"`
}

type pistonExecuteRequest struct {
	Language           string       `json:"language"`
	Version            string       `json:"version"`
	Files              []pistonFile `json:"files"`
	Stdin              string       `json:"stdin"`
	CompileTimeout     int          `json:"compile_timeout"`      // milliseconds
	RunTimeout         int          `json:"run_timeout"`          // milliseconds
	CompileMemoryLimit int          `json:"compile_memory_limit"` // bytes, -1 for none
	RunMemoryLimit     int          `json:"run_memory_limit"`     // bytes
}

type pistonStage struct {
	Stdout   string   `json:"stdout"`
	Stderr   string   `json:"stderr"`
	Output   string   `json:"output"`
	Code     *int     `json:"code"`
	Signal   *string  `json:"signal"`
	Status   string   `json:"status"`
	Message  string   `json:"message"`
	WallTime *float64 `json:"wall_time"` // milliseconds
	Memory   *int64   `json:"memory"`    // bytes
}

type pistonExecuteResponse struct {
	Language string       `json:"language"`
	Version  string       `json:"version"`
	Run      pistonStage  `json:"run"`
	Compile  *pistonStage `json:"compile,omitempty"`
	Message  string       `json:"message,omitempty"` // Set on 4xx
}

// HTTPError is a non-2xx answer from the executor.
type HTTPError struct {
	StatusCode int
	Message    string
}

func (e *HTTPError) Error() string {
	return fmt.Sprintf("executor returned %d: %s", e.StatusCode, e.Message)
}

// Retryable reports whether the failure can succeed on a later attempt.
func (e *HTTPError) Retryable() bool {
	return e.StatusCode >= 500 || e.StatusCode == http.StatusTooManyRequests
}

const compileTimeout = 10 * time.Second

// PistonClient runs code through a Piston-compatible HTTP executor.
type PistonClient struct {
	baseURL string
	http    *http.Client
}

func NewPistonClient(baseURL string, timeout time.Duration) *PistonClient {
	return &PistonClient{
		baseURL: strings.TrimRight(baseURL, "/"),
		http:    &http.Client{Timeout: timeout},
	}
}

func (c *PistonClient) Run(ctx context.Context, req Request) (*Result, error) {
	fileName := req.FileName
	if fileName == "" {
		fileName = "main"
	}
	version := req.Version
	if version == "" {
		version = "*"
	}
	body := pistonExecuteRequest{
		Language:           req.Language,
		Version:            version,
		Files:              []pistonFile{{Name: fileName, Content: req.Code}},
		Stdin:              req.Stdin,
		CompileTimeout:     int(compileTimeout / time.Millisecond),
		RunTimeout:         int(req.TimeLimit / time.Millisecond),
		CompileMemoryLimit: -1,
		RunMemoryLimit:     req.MemoryLimitKb * 1024,
	}
	if req.MemoryLimitKb <= 0 {
		body.RunMemoryLimit = -1
	}

	payload, err := json.Marshal(body)
	if err != nil {
		return nil, fmt.Errorf("marshal execute request: %w", err)
	}
	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/api/v2/execute", bytes.NewReader(payload))
	if err != nil {
		return nil, fmt.Errorf("build execute request: %w", err)
	}
	httpReq.Header.Set("Content-Type", "application/json")

	resp, err := c.http.Do(httpReq)
	if err != nil {
		return nil, fmt.Errorf("call executor: %w", err)
	}
	defer resp.Body.Close()

	raw, err := io.ReadAll(io.LimitReader(resp.Body, 16<<20))
	if err != nil {
		return nil, fmt.Errorf("read executor response: %w", err)
	}
	var out pistonExecuteResponse
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		msg := strings.TrimSpace(string(raw))
		if json.Unmarshal(raw, &out) == nil && out.Message != "" {
			msg = out.Message
		}
		return nil, &HTTPError{StatusCode: resp.StatusCode, Message: msg}
	}
	if err := json.Unmarshal(raw, &out); err != nil {
		return nil, fmt.Errorf("decode executor response: %w", err)
	}
	return toResult(&out, req), nil
}

func toResult(out *pistonExecuteResponse, req Request) *Result {
	if out.Compile != nil && stageFailed(out.Compile) {
		msg := out.Compile.Stderr
		if msg == "" {
			msg = out.Compile.Output
		}
		return &Result{CompileError: true, CompileOutput: msg, ExitCode: exitCode(out.Compile)}
	}

	run := out.Run
	res := &Result{
		Stdout:   run.Stdout,
		Stderr:   run.Stderr,
		ExitCode: exitCode(&run),
	}
	if run.Signal != nil {
		res.Signal = *run.Signal
	}
	if run.WallTime != nil {
		res.Elapsed = time.Duration(*run.WallTime * float64(time.Millisecond))
	}
	if run.Memory != nil {
		res.MemoryKb = int(*run.Memory / 1024)
	}

	switch {
	case run.Status == "TO":
		res.TimedOut = true
	case res.Signal == "SIGKILL" && req.TimeLimit > 0 && res.Elapsed >= req.TimeLimit:
		res.TimedOut = true
	case req.TimeLimit > 0 && res.Elapsed > req.TimeLimit:
		res.TimedOut = true
	}
	if req.MemoryLimitKb > 0 && res.MemoryKb > req.MemoryLimitKb {
		res.MemoryExceeded = true
	}
	return res
}

func stageFailed(s *pistonStage) bool {
	return (s.Code != nil && *s.Code != 0) || (s.Signal != nil && *s.Signal != "")
}

func exitCode(s *pistonStage) int {
	if s.Code == nil {
		return -1
	}
	return *s.Code
}
