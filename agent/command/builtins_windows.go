//go:build windows

package command

import (
	"fmt"
	"strings"
)

// builtinArgv maps a built-in verb to its Windows invocation.
func builtinArgv(name string, args []string) ([]string, bool) {
	switch name {
	case "shutdown":
		return []string{"shutdown", "/s", "/t", fmt.Sprint(delaySeconds(args))}, true
	case "restart":
		return []string{"shutdown", "/r", "/t", fmt.Sprint(delaySeconds(args))}, true
	case "sleep":
		return []string{"rundll32", "powrprof.dll,SetSuspendState", "0,1,0"}, true
	case "lock":
		return []string{"rundll32", "user32.dll,LockWorkStation"}, true
	case "systeminfo":
		// chcp 65001 switches the console to UTF-8 before the real command.
		return []string{"cmd", "/c", "chcp 65001 >nul && systeminfo"}, true
	case "tasklist":
		return []string{"tasklist"}, true
	case "wmic":
		return append([]string{"wmic"}, args...), true
	default:
		return nil, false
	}
}

// customArgv wraps a free-form command in cmd /c so built-in shell verbs
// work, forcing the console to UTF-8 first.
func customArgv(name string, args []string) []string {
	full := name
	if len(args) > 0 {
		full += " " + strings.Join(args, " ")
	}
	return []string{"cmd", "/c", "chcp 65001 >nul && " + full}
}
