package command

import "strconv"

// Built-in command verbs. Whether a verb actually runs on the current
// platform is decided by the per-platform invocation table; isBuiltin only
// answers "is this a verb the engine has ever heard of".
var knownBuiltins = map[string]bool{
	"shutdown":   true,
	"restart":    true,
	"sleep":      true,
	"lock":       true,
	"systeminfo": true,
	"tasklist":   true,
	"wmic":       true,
}

func isBuiltin(name string) bool {
	return knownBuiltins[name]
}

// BuiltinCommands lists every built-in verb the engine knows.
func BuiltinCommands() []string {
	return []string{"shutdown", "restart", "sleep", "lock", "systeminfo", "tasklist", "wmic"}
}

// delaySeconds parses the optional shutdown/restart delay argument.
func delaySeconds(args []string) int {
	if len(args) == 0 {
		return 0
	}
	d, err := strconv.Atoi(args[0])
	if err != nil || d < 0 {
		return 0
	}
	return d
}
