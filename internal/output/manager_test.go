package output

import (
	"bytes"
	"errors"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestManagerTaskLifecycle(t *testing.T) {
	m := NewManager()
	first := m.Register("alpha")
	second := m.Register("beta")
	third := m.Register("gamma")

	m.SetMessage(first, "Recording")
	assert.Equal(t, StatusActive, m.Task(first).Status)
	m.AddFile(first, "alpha_1.flv")
	m.Complete(first, "Recorded 1 file")
	m.Warn(second, "Room is offline")
	m.ReportError(third, errors.New("connection reset"))

	success, warnings, failures := m.Counts()
	assert.Equal(t, 1, success)
	assert.Equal(t, 1, warnings)
	assert.Equal(t, 1, failures)
	assert.Equal(t, []string{"alpha_1.flv"}, m.Task(first).Files)
	assert.Equal(t, "connection reset", m.Task(third).Message)
	assert.Equal(t, Task{}, m.Task(42))
}

func TestManagerStreamLinesAreBounded(t *testing.T) {
	m := NewManager()
	id := m.Register("alpha")
	for i := 0; i < 20; i++ {
		m.AddStreamLine(id, "line")
	}
	assert.Len(t, m.Task(id).StreamLines, m.maxStreams)
	m.SetProgress(id, 50, 100, "uploading")
	assert.Len(t, m.Task(id).StreamLines, 1)
	assert.Contains(t, m.Task(id).StreamLines[0], "50.0%")
}

func TestManagerRenderHidesOldFinishedTasks(t *testing.T) {
	m := NewManager()
	running := m.Register("live")
	m.SetMessage(running, "Recording")
	for i := 0; i < 10; i++ {
		m.Complete(m.Register("done"), "ok")
	}
	lines := m.render(5)
	assert.Len(t, lines, 5)
	assert.Contains(t, lines[0], "Recording")
	assert.Contains(t, lines[1], "finished tasks hidden")
}

func TestManagerSummary(t *testing.T) {
	var buf bytes.Buffer
	m := NewManager()
	m.out = &buf
	id := m.Register("alpha")
	m.AddFile(id, "alpha_1.flv")
	m.Complete(id, "done")
	m.ReportError(m.Register("beta"), errors.New("boom"))
	m.ShowSummary()

	out := buf.String()
	assert.Contains(t, out, "Completed 1 of 2")
	assert.Contains(t, out, "Failed 1 of 2")
	assert.Contains(t, out, "alpha_1.flv")
	assert.True(t, strings.Contains(out, "beta: boom"))
}

func TestProgressBarClamps(t *testing.T) {
	assert.Contains(t, ProgressBar(200, 100, 10), "100.0%")
	assert.Contains(t, ProgressBar(-5, 100, 10), "0.0%")
}
