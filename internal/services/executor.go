package services

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"os/exec"
	"path/filepath"
	"strings"
	"sync"

	"github.com/coreastra/coreastra/internal/audit"
)

type ExecEventType string

const (
	EventConfirmationRequired ExecEventType = "confirmation_required"
	EventExecutionStart       ExecEventType = "execution_start"
	EventOutput               ExecEventType = "output"
	EventExecutionComplete    ExecEventType = "execution_complete"
	EventError                ExecEventType = "error"
)

// BackupRef pairs an affected path with the snapshot taken for it.
type BackupRef struct {
	Original string `json:"original"`
	Backup   string `json:"backup"`
}

// ExecEvent is one element of the execution event stream. The fields
// populated depend on Type. The completion fields carry no omitempty:
// exit_code 0 and success false are meaningful values and must stay
// distinguishable from absent on the wire.
type ExecEvent struct {
	Type       ExecEventType   `json:"type"`
	Assessment *RiskAssessment `json:"assessment,omitempty"`
	Message    string          `json:"message,omitempty"`
	Command    string          `json:"command,omitempty"`
	Backups    []BackupRef     `json:"backups,omitempty"`
	Stream     string          `json:"stream,omitempty"`
	Content    string          `json:"content,omitempty"`
	ExitCode   int             `json:"exit_code"`
	Success    bool            `json:"success"`
	Stdout     string          `json:"stdout"`
	Stderr     string          `json:"stderr"`
}

// ExecRequest is one command submission.
type ExecRequest struct {
	Command       string
	Confirmed     bool
	DisableBackup bool
	Dir           string // overrides the executor working directory when set
}

// Executor runs local shell commands through the classification,
// confirmation, and backup gates, streaming output as it arrives.
// Each Execute call is an independent pipeline; the executor itself
// only carries the working directory and environment.
type Executor struct {
	classifier *RiskClassifier
	backups    *BackupStore
	recorder   audit.Recorder

	mu  sync.Mutex
	dir string
	env []string
}

func NewExecutor(classifier *RiskClassifier, backups *BackupStore, recorder audit.Recorder) *Executor {
	dir, err := os.Getwd()
	if err != nil {
		dir = os.TempDir()
	}
	return &Executor{
		classifier: classifier,
		backups:    backups,
		recorder:   recorder,
		dir:        dir,
		env:        os.Environ(),
	}
}

// Analyze classifies a command without executing it.
func (e *Executor) Analyze(command string) RiskAssessment {
	return e.classifier.Classify(command)
}

// Execute submits a command and returns its event stream. The channel
// is closed after the terminal event (confirmation_required,
// execution_complete, or error).
func (e *Executor) Execute(ctx context.Context, req ExecRequest) <-chan ExecEvent {
	events := make(chan ExecEvent, 16)
	go e.run(ctx, req, events)
	return events
}

// emit delivers an event unless the consumer's context is gone. A
// false return means the stream was abandoned; senders must unwind
// instead of blocking on a channel nobody reads.
func emit(ctx context.Context, events chan<- ExecEvent, ev ExecEvent) bool {
	select {
	case events <- ev:
		return true
	case <-ctx.Done():
		return false
	}
}

func (e *Executor) run(ctx context.Context, req ExecRequest, events chan<- ExecEvent) {
	defer close(events)

	assessment := e.classifier.Classify(req.Command)

	if assessment.RequiresConfirmation && !req.Confirmed {
		e.recorder.Record(audit.Event{
			Action:    "command_confirmation_required",
			RiskLevel: string(assessment.RiskLevel),
			Details:   map[string]any{"command": req.Command, "reason": assessment.Reason},
		})
		emit(ctx, events, ExecEvent{
			Type:       EventConfirmationRequired,
			Assessment: &assessment,
			Message: fmt.Sprintf("This command is potentially risky (%s): %s",
				assessment.RiskLevel, assessment.Reason),
		})
		return
	}

	// Best-effort safety net, not a precondition: snapshot failures are
	// recorded and execution continues.
	var backups []BackupRef
	if assessment.BackupRecommended && !req.DisableBackup {
		for _, path := range assessment.AffectedPaths {
			if _, err := os.Stat(path); err != nil {
				continue
			}
			record, err := e.backups.Snapshot(path)
			if err != nil {
				slog.Warn("Pre-execution backup failed", "path", path, "error", err)
				continue
			}
			backups = append(backups, BackupRef{Original: path, Backup: record.BackupPath})
		}
	}

	e.recorder.Record(audit.Event{
		Action:    "command_execution_start",
		RiskLevel: string(assessment.RiskLevel),
		Details: map[string]any{
			"command":        req.Command,
			"user_confirmed": req.Confirmed,
			"backups":        backups,
		},
	})

	if !emit(ctx, events, ExecEvent{
		Type:    EventExecutionStart,
		Command: req.Command,
		Backups: backups,
	}) {
		return
	}

	dir, env := e.workingState()
	if req.Dir != "" {
		dir = req.Dir
	}

	cmd := exec.CommandContext(ctx, "/bin/bash", "-c", req.Command)
	cmd.Dir = dir
	cmd.Env = env

	stdout, err := cmd.StdoutPipe()
	if err != nil {
		emit(ctx, events, ExecEvent{Type: EventError, Message: err.Error()})
		return
	}
	stderr, err := cmd.StderrPipe()
	if err != nil {
		emit(ctx, events, ExecEvent{Type: EventError, Message: err.Error()})
		return
	}

	if err := cmd.Start(); err != nil {
		slog.Error("Command spawn failed", "command", req.Command, "error", err)
		e.recorder.Record(audit.Event{
			Action:    "command_execution_error",
			RiskLevel: string(assessment.RiskLevel),
			Details:   map[string]any{"command": req.Command, "error": err.Error()},
		})
		emit(ctx, events, ExecEvent{Type: EventError, Message: err.Error()})
		return
	}

	// Stream both pipes line-by-line as they arrive. Ordering is
	// guaranteed within a stream, not across the two. When ctx is
	// canceled CommandContext kills the process, the pumps unwind, and
	// cmd.Wait below reaps it.
	var wg sync.WaitGroup
	var stdoutAll, stderrAll strings.Builder
	wg.Add(2)
	go pumpLines(ctx, stdout, "stdout", &stdoutAll, events, &wg)
	go pumpLines(ctx, stderr, "stderr", &stderrAll, events, &wg)
	wg.Wait()

	exitCode := 0
	if err := cmd.Wait(); err != nil {
		var exitErr *exec.ExitError
		if errors.As(err, &exitErr) {
			// Non-zero exit is still a completed execution.
			exitCode = exitErr.ExitCode()
		} else {
			e.recorder.Record(audit.Event{
				Action:    "command_execution_error",
				RiskLevel: string(assessment.RiskLevel),
				Details:   map[string]any{"command": req.Command, "error": err.Error()},
			})
			emit(ctx, events, ExecEvent{Type: EventError, Message: err.Error()})
			return
		}
	}

	e.recorder.Record(audit.Event{
		Action:    "command_execution_complete",
		RiskLevel: string(assessment.RiskLevel),
		Details: map[string]any{
			"command":   req.Command,
			"exit_code": exitCode,
			"success":   exitCode == 0,
		},
	})

	emit(ctx, events, ExecEvent{
		Type:     EventExecutionComplete,
		ExitCode: exitCode,
		Success:  exitCode == 0,
		Stdout:   stdoutAll.String(),
		Stderr:   stderrAll.String(),
	})
}

func pumpLines(ctx context.Context, r io.Reader, stream string, all *strings.Builder, events chan<- ExecEvent, wg *sync.WaitGroup) {
	defer wg.Done()
	scanner := bufio.NewScanner(r)
	scanner.Buffer(make([]byte, 64*1024), 1024*1024)
	for scanner.Scan() {
		line := scanner.Text() + "\n"
		all.WriteString(line)
		if !emit(ctx, events, ExecEvent{Type: EventOutput, Stream: stream, Content: line}) {
			return
		}
	}
}

func (e *Executor) workingState() (string, []string) {
	e.mu.Lock()
	defer e.mu.Unlock()
	env := make([]string, len(e.env))
	copy(env, e.env)
	return e.dir, env
}

// ChangeDir moves the executor working directory. Relative paths
// resolve against the current directory.
func (e *Executor) ChangeDir(path string) (string, error) {
	e.mu.Lock()
	defer e.mu.Unlock()

	target := path
	if !filepath.IsAbs(target) {
		target = filepath.Join(e.dir, target)
	}
	target = filepath.Clean(target)

	info, err := os.Stat(target)
	if err != nil {
		return "", fmt.Errorf("directory does not exist: %s", target)
	}
	if !info.IsDir() {
		return "", fmt.Errorf("not a directory: %s", target)
	}

	e.dir = target
	return target, nil
}

// Getwd returns the executor working directory.
func (e *Executor) Getwd() string {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.dir
}

// Setenv sets an environment variable for subsequent executions.
func (e *Executor) Setenv(key, value string) {
	e.mu.Lock()
	defer e.mu.Unlock()

	prefix := key + "="
	for i, kv := range e.env {
		if strings.HasPrefix(kv, prefix) {
			e.env[i] = prefix + value
			return
		}
	}
	e.env = append(e.env, prefix+value)
}
