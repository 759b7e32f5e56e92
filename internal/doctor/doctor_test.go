package doctor

import (
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/shoaibmiaan/viva/internal/config"
)

func TestReportOKAndString(t *testing.T) {
	report := Report{Checks: []Check{
		{Name: "a", Pass: true, Message: "fine"},
		{Name: "b", Pass: false, Message: "broken"},
	}}

	require.False(t, report.OK())
	text := report.String()
	require.Contains(t, text, "[OK] a: fine")
	require.Contains(t, text, "[FAIL] b: broken")

	report.Checks[1].Pass = true
	require.True(t, report.OK())
}

func TestCheckEndpointsMissing(t *testing.T) {
	check := checkEndpoints(config.PlatformConfig{
		AttemptURL: "https://api.example/attempts",
	})
	require.False(t, check.Pass)
	require.Contains(t, check.Message, "VIVA_SIGN_URL")
	require.Contains(t, check.Message, "VIVA_INTAKE_URL")
	require.Contains(t, check.Message, "VIVA_EVAL_URL")
	require.NotContains(t, check.Message, "VIVA_ATTEMPT_URL")
}

func TestCheckEndpointsComplete(t *testing.T) {
	check := checkEndpoints(config.PlatformConfig{
		AttemptURL: "https://api.example/attempts",
		SignURL:    "https://api.example/sign",
		IntakeURL:  "https://api.example/intake",
		EvalURL:    "https://api.example/eval",
	})
	require.True(t, check.Pass)
}

func TestCheckTTS(t *testing.T) {
	missing := checkTTS(config.SpeechConfig{})
	require.False(t, missing.Pass)

	notFound := checkTTS(config.SpeechConfig{
		TTS: config.CommandConfig{Argv: []string{"definitely-not-a-binary-xyz"}},
	})
	require.False(t, notFound.Pass)
	require.Contains(t, notFound.Message, "not found")

	// The shell is present on any system these tests run on.
	found := checkTTS(config.SpeechConfig{
		TTS: config.CommandConfig{Argv: []string{"sh"}},
	})
	require.True(t, found.Pass)
}

func TestCheckDraftStore(t *testing.T) {
	ok := checkDraftStore(filepath.Join(t.TempDir(), "drafts.db"))
	require.True(t, ok.Pass)
	require.Contains(t, ok.Message, "writable")

	bad := checkDraftStore(string([]byte{0}) + "/nope/drafts.db")
	require.False(t, bad.Pass)
}
