// Package app wires configuration, logging, and the attempt pipeline behind
// the viva command surface.
package app

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"os"
	"strings"
	"syscall"
	"time"

	"github.com/shoaibmiaan/viva/internal/announce"
	"github.com/shoaibmiaan/viva/internal/audio"
	"github.com/shoaibmiaan/viva/internal/cli"
	"github.com/shoaibmiaan/viva/internal/config"
	"github.com/shoaibmiaan/viva/internal/doctor"
	"github.com/shoaibmiaan/viva/internal/draft"
	"github.com/shoaibmiaan/viva/internal/exam"
	"github.com/shoaibmiaan/viva/internal/ipc"
	"github.com/shoaibmiaan/viva/internal/logging"
	"github.com/shoaibmiaan/viva/internal/platform"
	"github.com/shoaibmiaan/viva/internal/score"
	"github.com/shoaibmiaan/viva/internal/session"
	"github.com/shoaibmiaan/viva/internal/upload"
	"github.com/shoaibmiaan/viva/internal/version"
)

type Runner struct {
	Stdout io.Writer
	Stderr io.Writer
	Logger *slog.Logger
}

func Execute(ctx context.Context, args []string, stdout, stderr io.Writer) int {
	r := Runner{Stdout: stdout, Stderr: stderr}
	return r.Execute(ctx, args)
}

func (r Runner) Execute(ctx context.Context, args []string) int {
	parsed, err := cli.Parse(args)
	if err != nil {
		fmt.Fprintf(r.Stderr, "error: %v\n\n", err)
		fmt.Fprint(r.Stderr, cli.HelpText("viva"))
		return 2
	}

	if parsed.ShowHelp {
		fmt.Fprint(r.Stdout, cli.HelpText("viva"))
		return 0
	}

	if parsed.Command == cli.CommandVersion {
		fmt.Fprintln(r.Stdout, version.String())
		return 0
	}

	// The forwarded control commands need no config or pipeline wiring.
	switch parsed.Command {
	case cli.CommandStatus:
		return r.commandStatus(ctx)
	case cli.CommandStop:
		return r.forwardOrFail(ctx, "stop")
	case cli.CommandRetry:
		return r.forwardOrFail(ctx, "retry")
	case cli.CommandDevices:
		return r.commandDevices(ctx)
	}

	logRuntime, err := logging.New()
	if err != nil {
		fmt.Fprintf(r.Stderr, "error: setup logging: %v\n", err)
		return 1
	}
	defer func() { _ = logRuntime.Close() }()

	logger := r.Logger
	if logger == nil {
		logger = logRuntime.Logger
	}

	cfg, err := config.Load(parsed.EnvFile)
	if err != nil {
		fmt.Fprintf(r.Stderr, "error: %v\n", err)
		logger.Error("load config failed", "error", err.Error())
		return 1
	}

	logger.Info("command start",
		"command", parsed.Command,
		"log", logRuntime.Path,
	)

	switch parsed.Command {
	case cli.CommandDoctor:
		report := doctor.Run(cfg)
		fmt.Fprintln(r.Stdout, report.String())
		if report.OK() {
			return 0
		}
		return 1
	case cli.CommandRun:
		return r.commandRun(ctx, parsed, cfg, logger)
	default:
		fmt.Fprintf(r.Stderr, "error: unsupported command %q\n", parsed.Command)
		return 2
	}
}

func (r Runner) commandDevices(ctx context.Context) int {
	devices, err := audio.ListDevices(ctx)
	if err != nil {
		fmt.Fprintf(r.Stderr, "error: %v\n", err)
		return 1
	}
	if len(devices) == 0 {
		fmt.Fprintln(r.Stdout, "no audio devices found")
		return 1
	}

	for _, device := range devices {
		defaultMark := " "
		if device.Default {
			defaultMark = "*"
		}
		availability := "yes"
		if !device.Available {
			availability = "no"
		}
		muted := "no"
		if device.Muted {
			muted = "yes"
		}
		fmt.Fprintf(
			r.Stdout,
			"%s id=%s | description=%q | state=%s | available=%s | muted=%s\n",
			defaultMark,
			device.ID,
			device.Description,
			device.State,
			availability,
			muted,
		)
	}

	return 0
}

func (r Runner) commandStatus(ctx context.Context) int {
	socketPath, err := ipc.RuntimeSocketPath()
	if err != nil {
		fmt.Fprintln(r.Stdout, "idle")
		return 0
	}

	resp, handled, err := tryForward(ctx, socketPath, "status")
	if handled {
		if err != nil {
			fmt.Fprintf(r.Stderr, "error: %v\n", err)
			return 1
		}
		if resp.State == "" {
			resp.State = "idle"
		}
		if resp.Message != "" && resp.Message != "status" {
			fmt.Fprintf(r.Stdout, "%s (%s)\n", resp.State, resp.Message)
			return 0
		}
		fmt.Fprintln(r.Stdout, resp.State)
		return 0
	}

	fmt.Fprintln(r.Stdout, "idle")
	return 0
}

func (r Runner) forwardOrFail(ctx context.Context, command string) int {
	socketPath, err := ipc.RuntimeSocketPath()
	if err != nil {
		fmt.Fprintf(r.Stderr, "error: %v\n", err)
		return 1
	}

	resp, handled, err := tryForward(ctx, socketPath, command)
	if !handled {
		fmt.Fprintf(r.Stderr, "error: no attempt is running\n")
		return 1
	}
	if err != nil {
		fmt.Fprintf(r.Stderr, "error: %v\n", err)
		return 1
	}
	if resp.Message != "" {
		fmt.Fprintln(r.Stdout, resp.Message)
	}
	return 0
}

// commandRun owns the attempt socket and drives one full speaking attempt.
func (r Runner) commandRun(ctx context.Context, parsed cli.Parsed, cfg *config.Config, logger *slog.Logger) int {
	mode := exam.ModeSimulator
	if parsed.Mode != "" {
		mode = exam.Mode(parsed.Mode)
	}
	if !mode.Valid() {
		fmt.Fprintf(r.Stderr, "error: unknown mode %q (want simulator, practice, or roleplay)\n", parsed.Mode)
		return 2
	}

	socketPath, err := ipc.RuntimeSocketPath()
	if err != nil {
		fmt.Fprintf(r.Stderr, "error: %v\n", err)
		return 1
	}

	listener, err := ipc.Acquire(ctx, socketPath, 180*time.Millisecond, 8, nil)
	if err != nil {
		if errors.Is(err, ipc.ErrAlreadyRunning) {
			fmt.Fprintln(r.Stderr, "error: another attempt is already running; use stop/retry/status to control it")
			return 1
		}
		fmt.Fprintf(r.Stderr, "error: %v\n", err)
		return 1
	}
	defer func() {
		_ = listener.Close()
		_ = os.Remove(socketPath)
	}()

	httpClient := &http.Client{Timeout: cfg.Platform.HTTPTimeout}
	client := platform.NewClient(httpClient, platform.Endpoints{
		Attempt:  cfg.Platform.AttemptURL,
		Sign:     cfg.Platform.SignURL,
		Evaluate: cfg.Platform.EvalURL,
	}, logger)
	uploader := upload.NewPipeline(
		client,
		cfg.Platform.IntakeURL,
		cfg.Platform.FallbackIntakeURL,
		cfg.Platform.Bucket,
		cfg.Platform.Visibility,
		logger,
	)
	scorer := score.NewScorer(client, logger)
	engine := audio.NewEngine(&audio.PulseBackend{Input: cfg.Audio.Input, Fallback: cfg.Audio.Fallback}, logger)
	speaker := announce.NewSpeaker(cfg.Speech, logger)
	drafts := draft.Open(cfg.Draft.Path, logger)
	defer func() { _ = drafts.Close() }()

	controller := session.NewController(session.Config{
		Mode:            mode,
		ResumeAttemptID: parsed.Resume,
		Tick:            cfg.Timing.Tick,
		CeilingGrace:    cfg.Timing.CeilingGrace,
	}, session.Deps{
		Logger:    logger,
		Attempts:  client,
		Announcer: speaker,
		Engine:    engine,
		Uploader:  uploader,
		Scorer:    scorer,
		Drafts:    drafts,
		OnResult:  func(res session.QuestionResult) { r.printResult(res) },
	})

	serverCtx, serverCancel := context.WithCancel(ctx)
	defer serverCancel()

	serverErrCh := make(chan error, 1)
	go func() {
		serverErrCh <- ipc.Serve(serverCtx, listener, controller)
	}()

	fmt.Fprintf(r.Stdout, "starting %s attempt; stop early with `viva stop` in another terminal\n", mode)
	summary := controller.Run(ctx)
	serverCancel()
	if serverErr := <-serverErrCh; serverErr != nil {
		fmt.Fprintf(r.Stderr, "error: control server failed: %v\n", serverErr)
		return 1
	}

	logSummary(logger, summary)
	return r.printSummary(summary)
}

func (r Runner) printResult(res session.QuestionResult) {
	partial := ""
	if res.Partial {
		partial = ", partial audio"
	}
	fmt.Fprintf(r.Stdout, "[%s] band %.1f (%s) via %s, %s%s\n",
		res.Prompt.Key(),
		res.Feedback.Band,
		res.Feedback.Provenance,
		res.Stored.Via,
		res.Duration.Round(time.Second),
		partial,
	)
}

func (r Runner) printSummary(summary session.Summary) int {
	if summary.Err != nil {
		fmt.Fprintf(r.Stderr, "error: %v\n", summary.Err)
		return 1
	}

	fmt.Fprintf(r.Stdout, "attempt %s complete: %d responses", summary.AttemptID, len(summary.Results))
	if len(summary.Skipped) > 0 {
		fmt.Fprintf(r.Stdout, " (%d resumed from draft)", len(summary.Skipped))
	}
	fmt.Fprintln(r.Stdout)

	if band, ok := overallBand(summary.Results); ok {
		fmt.Fprintf(r.Stdout, "overall band: %.1f\n", band)
	}
	return 0
}

// overallBand is the band-rounded mean across all scored responses.
func overallBand(results []session.QuestionResult) (float64, bool) {
	if len(results) == 0 {
		return 0, false
	}
	total := 0.0
	for _, res := range results {
		total += res.Feedback.Band
	}
	return score.RoundToBand(total / float64(len(results))), true
}

func logSummary(logger *slog.Logger, summary session.Summary) {
	if logger == nil {
		return
	}
	fields := []any{
		"attempt", summary.AttemptID,
		"mode", string(summary.Mode),
		"state", string(summary.State),
		"results", len(summary.Results),
		"skipped", len(summary.Skipped),
		"started_at", summary.StartedAt.Format(time.RFC3339Nano),
		"finished_at", summary.FinishedAt.Format(time.RFC3339Nano),
		"duration_ms", summary.FinishedAt.Sub(summary.StartedAt).Milliseconds(),
	}

	if summary.Err != nil {
		logger.Error("attempt failed", append(fields, "error", summary.Err.Error())...)
		return
	}
	logger.Info("attempt complete", fields...)
}

func tryForward(ctx context.Context, socketPath string, command string) (ipc.Response, bool, error) {
	resp, err := ipc.Send(ctx, socketPath, ipc.Request{Command: command}, 220*time.Millisecond)
	if err == nil {
		if resp.OK {
			return resp, true, nil
		}
		return resp, true, errors.New(resp.Error)
	}

	if isSocketMissing(err) || isConnectionRefused(err) {
		return ipc.Response{}, false, nil
	}

	return ipc.Response{}, true, fmt.Errorf("forward command %q: %w", command, err)
}

func isSocketMissing(err error) bool {
	if err == nil {
		return false
	}
	return errors.Is(err, os.ErrNotExist) ||
		strings.Contains(err.Error(), "no such file or directory")
}

func isConnectionRefused(err error) bool {
	if err == nil {
		return false
	}
	return errors.Is(err, syscall.ECONNREFUSED)
}
