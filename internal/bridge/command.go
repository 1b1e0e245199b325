package bridge

import (
	"fmt"
	"strings"
)

// Verb is a recognized chat command.
type Verb string

const (
	VerbResync Verb = "resync"
	VerbPause  Verb = "pause"
	VerbResume Verb = "resume"
	VerbStatus Verb = "status"
)

// Command is a parsed chat command.
type Command struct {
	Verb Verb
}

// ParseCommand parses the fixed command grammar from a slash-command text.
// The verb is the first word; trailing words ("resync now", "pause sync")
// are accepted and ignored. Unrecognized verbs produce a user-visible error.
func ParseCommand(text string) (Command, error) {
	fields := strings.Fields(strings.ToLower(strings.TrimSpace(text)))
	if len(fields) == 0 {
		return Command{}, fmt.Errorf("empty command; try one of: resync, pause, resume, status")
	}
	switch Verb(fields[0]) {
	case VerbResync, VerbPause, VerbResume, VerbStatus:
		return Command{Verb: Verb(fields[0])}, nil
	default:
		return Command{}, fmt.Errorf("unknown command %q; try one of: resync, pause, resume, status", fields[0])
	}
}
