package service

import (
	"os/exec"
	"strings"
)

// buildCommand constructs an *exec.Cmd for a command string. It avoids
// invoking a shell when not necessary and respects an explicit shell
// invocation already present in the string (e.g. "sh -c 'echo hi'") without
// double-wrapping it in another shell.
func buildCommand(command string) *exec.Cmd {
	cmdStr := strings.TrimSpace(command)
	if cmdStr == "" {
		// #nosec G204
		return exec.Command("/bin/true")
	}
	if after, ok := parseExplicitShell(cmdStr); ok {
		// Absolute shell path so PATH overrides in Env cannot break spawning.
		// #nosec G204
		return exec.Command("/bin/sh", "-c", after)
	}
	if strings.ContainsAny(cmdStr, "|&;<>*?`$\"'(){}[]~") {
		// #nosec G204
		return exec.Command("/bin/sh", "-c", cmdStr)
	}
	parts := strings.Fields(cmdStr)
	var args []string
	if len(parts) > 1 {
		args = parts[1:]
	}
	// #nosec G204
	return exec.Command(parts[0], args...)
}

// parseExplicitShell detects "sh -c <ARG>" or "/bin/sh -c <ARG>" prefixes and
// returns the argument after "-c", with one surrounding quote pair stripped so
// redirections inside the script still parse.
func parseExplicitShell(cmdStr string) (string, bool) {
	trim := strings.TrimLeft(cmdStr, " \t")
	for _, p := range []string{"sh -c ", "/bin/sh -c ", "/usr/bin/sh -c "} {
		if strings.HasPrefix(trim, p) {
			after := trim[len(p):]
			if n := len(after); n >= 2 {
				if (after[0] == '\'' && after[n-1] == '\'') || (after[0] == '"' && after[n-1] == '"') {
					after = after[1 : n-1]
				}
			}
			return after, true
		}
	}
	return "", false
}
