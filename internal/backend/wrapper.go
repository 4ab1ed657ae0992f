package backend

import (
	"fmt"
	"path/filepath"
	"strings"
)

// Wrap builds the shell command the dispatcher actually launches: run
// the worker with its output captured into the run directory, then
// re-report the exit code through the scheduler binary. The report op
// is a no-op when the worker already recorded a terminal status itself,
// so double reporting is harmless.
func Wrap(inv Invocation, selfExe, taskID, agentID string) Invocation {
	var sb strings.Builder
	sb.WriteString(shellQuote(inv.Path))
	for _, a := range inv.Args {
		sb.WriteByte(' ')
		sb.WriteString(shellQuote(a))
	}
	sb.WriteString(" > ")
	sb.WriteString(shellQuote(filepath.Join(inv.WorkDir, "stdout.log")))
	sb.WriteString(" 2> ")
	sb.WriteString(shellQuote(filepath.Join(inv.WorkDir, "stderr.log")))
	sb.WriteString("; rc=$?; ")
	sb.WriteString(fmt.Sprintf("%s report --task %s --agent %s --exit $rc",
		shellQuote(selfExe), shellQuote(taskID), shellQuote(agentID)))

	return Invocation{
		Path:    "/bin/sh",
		Args:    []string{"-c", sb.String()},
		WorkDir: inv.WorkDir,
	}
}

// shellQuote wraps s in single quotes, escaping embedded single quotes.
func shellQuote(s string) string {
	if s == "" {
		return "''"
	}
	return "'" + strings.ReplaceAll(s, "'", `'\''`) + "'"
}
