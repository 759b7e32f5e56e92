package cli

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestParseDefaultsToHelp(t *testing.T) {
	parsed, err := Parse(nil)
	require.NoError(t, err)
	require.Equal(t, CommandHelp, parsed.Command)
	require.True(t, parsed.ShowHelp)
}

func TestParseRunWithFlags(t *testing.T) {
	parsed, err := Parse([]string{"--env", ".env.local", "--mode", "practice", "run"})
	require.NoError(t, err)
	require.Equal(t, CommandRun, parsed.Command)
	require.Equal(t, "practice", parsed.Mode)
	require.Equal(t, ".env.local", parsed.EnvFile)
	require.False(t, parsed.ShowHelp)
}

func TestParseResume(t *testing.T) {
	parsed, err := Parse([]string{"--resume", "att-42", "run"})
	require.NoError(t, err)
	require.Equal(t, CommandRun, parsed.Command)
	require.Equal(t, "att-42", parsed.Resume)
}

func TestParseFlagsAfterCommand(t *testing.T) {
	parsed, err := Parse([]string{"run", "--mode", "roleplay"})
	require.NoError(t, err)
	require.Equal(t, CommandRun, parsed.Command)
	require.Equal(t, "roleplay", parsed.Mode)
}

func TestParseControlCommands(t *testing.T) {
	for _, cmd := range []Command{CommandStop, CommandRetry, CommandStatus, CommandDevices, CommandDoctor} {
		parsed, err := Parse([]string{string(cmd)})
		require.NoError(t, err)
		require.Equal(t, cmd, parsed.Command)
		require.False(t, parsed.ShowHelp)
	}
}

func TestParseVersionFlag(t *testing.T) {
	parsed, err := Parse([]string{"--version"})
	require.NoError(t, err)
	require.Equal(t, CommandVersion, parsed.Command)
}

func TestParseErrors(t *testing.T) {
	cases := [][]string{
		{"--mode"},
		{"--env"},
		{"--resume"},
		{"--bogus"},
		{"frobnicate"},
	}
	for _, args := range cases {
		_, err := Parse(args)
		require.Error(t, err, "args %v", args)
	}
}

func TestHelpTextNamesEveryCommand(t *testing.T) {
	text := HelpText("viva")
	for cmd := range validCommands {
		require.Contains(t, text, string(cmd))
	}
	require.Contains(t, text, "--mode")
	require.Contains(t, text, "--resume")
}
