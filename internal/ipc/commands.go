package ipc

import (
	"os"
	"path/filepath"
	"strings"
)

// Command represents user commands from the UI to the capture daemon. A
// command may carry one argument separated by whitespace (e.g. "word hi",
// "upload /path/to/clip.webm").
type Command string

const (
	CmdStart    Command = "start"    // begin countdown + recording for the current word
	CmdStop     Command = "stop"     // stop an active recording early
	CmdSubmit   Command = "submit"   // submit the pending clip for grading
	CmdRetry    Command = "retry"    // discard the pending clip / verdict and return to idle
	CmdUpload   Command = "upload"   // attach a pre-recorded clip file (arg: path)
	CmdWord     Command = "word"     // change the practice word (arg: word)
	CmdNext     Command = "next"     // advance to the next vocabulary word
	CmdPrevious Command = "previous" // go back to the previous vocabulary word
	CmdQuit     Command = "quit"     // shut down the daemon
)

// knownCommands is the set of valid command verbs.
var knownCommands = map[Command]bool{
	CmdStart: true, CmdStop: true, CmdSubmit: true, CmdRetry: true,
	CmdUpload: true, CmdWord: true, CmdNext: true, CmdPrevious: true,
	CmdQuit: true,
}

// CommandPath returns the command file path under ~/.cache/signcoach.
func CommandPath() string {
	return filepath.Join(os.Getenv("HOME"), ".cache", "signcoach", "cmd.txt")
}

// WriteCommand writes a command (with optional argument) to the command file.
func WriteCommand(cmd Command, arg string) error {
	cacheDir := filepath.Join(os.Getenv("HOME"), ".cache", "signcoach")
	if err := os.MkdirAll(cacheDir, 0755); err != nil {
		return err
	}
	line := string(cmd)
	if arg != "" {
		line += " " + arg
	}
	return os.WriteFile(CommandPath(), []byte(line), 0644)
}

// ReadCommand reads and clears the command file. Returns an empty command
// when no command is pending or the verb is unknown.
func ReadCommand() (Command, string, error) {
	data, err := os.ReadFile(CommandPath())
	if err != nil {
		if os.IsNotExist(err) {
			return "", "", nil // no command pending
		}
		return "", "", err
	}

	// Clear the file immediately to prevent re-execution.
	if err := os.WriteFile(CommandPath(), []byte(""), 0644); err != nil {
		return "", "", err
	}

	line := strings.TrimSpace(string(data))
	if line == "" {
		return "", "", nil
	}
	verb, arg, _ := strings.Cut(line, " ")
	cmd := Command(verb)
	if !knownCommands[cmd] {
		// Invalid command - ignore it.
		return "", "", nil
	}
	return cmd, strings.TrimSpace(arg), nil
}
