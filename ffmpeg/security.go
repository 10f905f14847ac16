package ffmpeg

import (
	"fmt"
	"strings"

	"github.com/google/shlex"
)

// Flags that would let configured arguments add inputs or outputs of their own.
var disallowedFlags = map[string]bool{
	"-i":               true,
	"-y":               true,
	"-f":               true,
	"-map":             true,
	"-filter_complex":  true,
	"-dump_attachment": true,
}

// ParseEngineArgs splits configured encoder arguments without a shell and
// checks them with SanitizeArgs.
func ParseEngineArgs(command string) ([]string, error) {
	args, err := shlex.Split(command)
	if err != nil {
		return nil, fmt.Errorf("invalid engine argument syntax: %w", err)
	}
	if err := SanitizeArgs(args); err != nil {
		return nil, err
	}
	return args, nil
}

// SanitizeArgs rejects shell metacharacters and flags that change the
// command's inputs or outputs.
func SanitizeArgs(args []string) error {
	for _, arg := range args {
		if disallowedFlags[arg] {
			return fmt.Errorf("engine argument not allowed: %s", arg)
		}
		if strings.ContainsAny(arg, "|&;`$()<>") {
			return fmt.Errorf("disallowed character found in argument: %s", arg)
		}
	}
	return nil
}
