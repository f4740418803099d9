package recording

import (
	"os"
	"strings"
	"time"
)

// ExecTable is the name of the table that describes the recorded run.
const ExecTable = "exec_info"

type execInfo struct {
	Property string
	Value    string
}

// ExecRecorder records when and how the program was run.
type ExecRecorder struct {
	recorder DataRecorder
	entries  []execInfo
}

// NewExecRecorder creates the exec table.
func NewExecRecorder(r DataRecorder) *ExecRecorder {
	r.CreateTable(ExecTable, execInfo{})

	return &ExecRecorder{recorder: r}
}

// Start notes the start time and the command line.
func (e *ExecRecorder) Start() {
	e.entries = append(e.entries,
		execInfo{"Start Time", timestamp()},
		execInfo{"Command", strings.Join(os.Args, " ")},
	)

	if wd, err := os.Getwd(); err == nil {
		e.entries = append(e.entries, execInfo{"Working Directory", wd})
	}
}

// End writes the collected information with the end time.
func (e *ExecRecorder) End() {
	for _, entry := range e.entries {
		e.recorder.InsertData(ExecTable, entry)
	}

	e.recorder.InsertData(ExecTable, execInfo{"End Time", timestamp()})
	e.entries = nil

	e.recorder.Flush()
}

func timestamp() string {
	return time.Now().Format("2006-01-02 15:04:05.000000000")
}
