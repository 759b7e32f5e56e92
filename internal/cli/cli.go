package cli

import (
	"errors"
	"fmt"
	"strings"
)

type Command string

const (
	CommandRun     Command = "run"
	CommandStop    Command = "stop"
	CommandRetry   Command = "retry"
	CommandStatus  Command = "status"
	CommandDevices Command = "devices"
	CommandDoctor  Command = "doctor"
	CommandVersion Command = "version"
	CommandHelp    Command = "help"
)

var validCommands = map[Command]struct{}{
	CommandRun:     {},
	CommandStop:    {},
	CommandRetry:   {},
	CommandStatus:  {},
	CommandDevices: {},
	CommandDoctor:  {},
	CommandVersion: {},
	CommandHelp:    {},
}

type Parsed struct {
	Command  Command
	Mode     string
	EnvFile  string
	Resume   string
	ShowHelp bool
}

func Parse(args []string) (Parsed, error) {
	parsed := Parsed{Command: CommandHelp, ShowHelp: true}

	for i := 0; i < len(args); i++ {
		arg := args[i]

		switch arg {
		case "-h", "--help":
			parsed.ShowHelp = true
			parsed.Command = CommandHelp
		case "--version":
			parsed.ShowHelp = false
			parsed.Command = CommandVersion
		case "--mode":
			i++
			if i >= len(args) {
				return Parsed{}, errors.New("--mode requires a value")
			}
			parsed.Mode = args[i]
		case "--env":
			i++
			if i >= len(args) {
				return Parsed{}, errors.New("--env requires a path")
			}
			parsed.EnvFile = args[i]
		case "--resume":
			i++
			if i >= len(args) {
				return Parsed{}, errors.New("--resume requires an attempt id")
			}
			parsed.Resume = args[i]
		default:
			if strings.HasPrefix(arg, "-") {
				return Parsed{}, fmt.Errorf("unknown flag: %s", arg)
			}

			cmd := Command(arg)
			if _, ok := validCommands[cmd]; !ok {
				return Parsed{}, fmt.Errorf("unknown command: %s", arg)
			}

			parsed.Command = cmd
			parsed.ShowHelp = cmd == CommandHelp
		}
	}

	return parsed, nil
}

func HelpText(binaryName string) string {
	return fmt.Sprintf(`Usage:
  %[1]s [--env PATH] [--mode MODE] [--resume ATTEMPT] <command>

Commands:
  run       Run one speaking attempt end to end
  stop      Submit the response being recorded early
  retry     Retry a parked attempt from the last successful step
  status    Print the running attempt's state
  devices   List available input devices
  doctor    Run configuration and environment checks
  version   Print version information
  help      Show this help

Flags:
  --mode MODE       Attempt mode: simulator, practice, or roleplay (default: simulator)
  --env PATH        Environment file to load before reading configuration
  --resume ATTEMPT  Resume an existing attempt, skipping answered prompts
  -h, --help        Show help
  --version         Show version
`, binaryName)
}
