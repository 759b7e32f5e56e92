// Package doctor runs runtime readiness diagnostics for config, speech
// tooling, audio devices, the draft store, and the platform endpoints.
package doctor

import (
	"context"
	"fmt"
	"os/exec"
	"strings"

	"github.com/shoaibmiaan/viva/internal/audio"
	"github.com/shoaibmiaan/viva/internal/config"
	"github.com/shoaibmiaan/viva/internal/draft"
	"github.com/shoaibmiaan/viva/internal/exam"
)

// Check is one doctor assertion result.
type Check struct {
	Name    string
	Pass    bool
	Message string
}

// Report is the full doctor output contract.
type Report struct {
	Checks []Check
}

// OK returns true when all checks pass.
func (r Report) OK() bool {
	for _, check := range r.Checks {
		if !check.Pass {
			return false
		}
	}
	return true
}

// String renders the report as user-facing text output.
func (r Report) String() string {
	var b strings.Builder
	for _, check := range r.Checks {
		status := "OK"
		if !check.Pass {
			status = "FAIL"
		}
		b.WriteString(fmt.Sprintf("[%s] %s: %s\n", status, check.Name, check.Message))
	}
	return strings.TrimSuffix(b.String(), "\n")
}

// Run executes environment/config/runtime checks for a loaded config.
func Run(cfg *config.Config) Report {
	checks := []Check{
		{Name: "config", Pass: true, Message: "configuration loaded"},
		checkEndpoints(cfg.Platform),
		checkTTS(cfg.Speech),
		checkAudioSelection(cfg),
		checkDraftStore(cfg.Draft.Path),
	}
	return Report{Checks: checks}
}

// checkEndpoints verifies that a full upload/scoring path is configured.
func checkEndpoints(p config.PlatformConfig) Check {
	var missing []string
	for name, value := range map[string]string{
		"VIVA_ATTEMPT_URL": p.AttemptURL,
		"VIVA_SIGN_URL":    p.SignURL,
		"VIVA_INTAKE_URL":  p.IntakeURL,
		"VIVA_EVAL_URL":    p.EvalURL,
	} {
		if strings.TrimSpace(value) == "" {
			missing = append(missing, name)
		}
	}
	if len(missing) > 0 {
		return Check{
			Name:    "platform.endpoints",
			Pass:    false,
			Message: fmt.Sprintf("unset: %s", strings.Join(missing, ", ")),
		}
	}
	return Check{Name: "platform.endpoints", Pass: true, Message: "attempt, sign, intake, and eval endpoints configured"}
}

// checkTTS validates that the announcement synthesizer is runnable.
func checkTTS(speech config.SpeechConfig) Check {
	if len(speech.TTS.Argv) == 0 {
		return Check{Name: "speech.tts", Pass: false, Message: "VIVA_TTS_CMD is empty"}
	}
	bin := speech.TTS.Argv[0]
	path, err := exec.LookPath(bin)
	if err != nil {
		return Check{Name: "speech.tts", Pass: false, Message: fmt.Sprintf("binary not found in PATH: %s", bin)}
	}
	return Check{Name: "speech.tts", Pass: true, Message: fmt.Sprintf("found at %s", path)}
}

// checkAudioSelection runs live device selection to surface selection/fallback issues.
func checkAudioSelection(cfg *config.Config) Check {
	selection, err := audio.SelectDevice(context.Background(), cfg.Audio.Input, cfg.Audio.Fallback)
	if err != nil {
		return Check{Name: "audio.device", Pass: false, Message: err.Error()}
	}
	message := fmt.Sprintf("selected %q", selection.Device.ID)
	if selection.Warning != "" {
		message = message + " (" + selection.Warning + ")"
	}
	return Check{Name: "audio.device", Pass: true, Message: message}
}

// checkDraftStore verifies the draft database opens and accepts a write.
func checkDraftStore(path string) Check {
	store := draft.Open(path, nil)
	defer store.Close()

	if _, ok := store.(draft.Discard); ok {
		return Check{Name: "draft.store", Pass: false, Message: fmt.Sprintf("cannot open draft database at %s", path)}
	}

	store.Save("doctor-probe", "p0-q0", exam.Snapshot{Part: "p0"})
	if _, ok := store.Load("doctor-probe", "p0-q0"); !ok {
		store.Clear("doctor-probe")
		return Check{Name: "draft.store", Pass: false, Message: fmt.Sprintf("draft write probe failed at %s", path)}
	}
	store.Clear("doctor-probe")
	return Check{Name: "draft.store", Pass: true, Message: fmt.Sprintf("writable at %s", path)}
}
