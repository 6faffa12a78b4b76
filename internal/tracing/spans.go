package tracing

// Span and attribute names for chunk executions.
const (
	SpanChunkExecute = "chunk.execute"

	AttrDocID      = "chunk.doc_id"
	AttrChunkID    = "chunk.id"
	AttrContextID  = "chunk.context_id"
	AttrCommand    = "process.command"
	AttrPID        = "process.pid"
	AttrExitStatus = "process.exit_status"
	AttrTerminated = "chunk.terminated"
	AttrBytes      = "output.bytes"
	AttrPath       = "output.path"

	EventProcessStarted       = "process.started"
	EventOutputStdout         = "output.stdout"
	EventOutputStderr         = "output.stderr"
	EventTerminationRequested = "termination.requested"
	EventProcessExited        = "process.exited"
	EventErrorOccurred        = "error.occurred"
)
