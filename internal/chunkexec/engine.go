package chunkexec

import (
	"strings"

	"github.com/zjrosen/chunkrun/internal/process"
)

// EngineRscript runs a file only when given "-f"; every other engine takes
// the script path positionally.
const EngineRscript = "Rscript"

// ShellCommandForEngine builds the command that runs scriptPath with engine.
func ShellCommandForEngine(engine, scriptPath string) process.Command {
	cmd := process.Command{Program: engine}
	if engine == EngineRscript {
		cmd.Args = append(cmd.Args, "-f")
	}
	cmd.Args = append(cmd.Args, scriptPath)
	return cmd
}

// Engines maps engine names to interpreter executables. Engines missing from
// the map run under their own name. Names also match in lower case, since
// config keys are case-folded when loaded.
type Engines map[string]string

// Command builds the command for engine, substituting the configured
// interpreter path. Flag selection still keys off the engine name.
func (e Engines) Command(engine, scriptPath string) process.Command {
	cmd := ShellCommandForEngine(engine, scriptPath)
	path, ok := e[engine]
	if !ok {
		path = e[strings.ToLower(engine)]
	}
	if path != "" {
		cmd.Program = path
	}
	return cmd
}
