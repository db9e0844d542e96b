package output

import (
	"fmt"
	"io"
	"os"
	"slices"
	"strings"
	"sync"
	"time"

	"github.com/tanq16/streamup/internal/utils"
	"golang.org/x/term"
)

type Status string

const (
	StatusPending Status = "pending"
	StatusActive  Status = "active"
	StatusSuccess Status = "success"
	StatusWarning Status = "warning"
	StatusError   Status = "error"
)

// Task is the display state of one recording or upload.
type Task struct {
	ID          int
	Name        string
	Status      Status
	Message     string
	StreamLines []string
	Files       []string
	StartTime   time.Time
	LastUpdated time.Time
	Error       error
}

func (t *Task) done() bool {
	return t.Status == StatusSuccess || t.Status == StatusWarning || t.Status == StatusError
}

type ErrorReport struct {
	Name  string
	Error error
	Time  time.Time
}

// Manager keeps per-task state and redraws it in place on a ticker.
// All setters are safe for concurrent use.
type Manager struct {
	mu         sync.RWMutex
	tasks      []*Task
	errors     []ErrorReport
	out        io.Writer
	numLines   int
	maxStreams int
	tick       time.Duration
	doneCh     chan struct{}
	wg         sync.WaitGroup
}

func NewManager() *Manager {
	return &Manager{
		out:        os.Stdout,
		maxStreams: 6,
		tick:       300 * time.Millisecond,
		doneCh:     make(chan struct{}),
	}
}

func (m *Manager) Register(name string) int {
	m.mu.Lock()
	defer m.mu.Unlock()
	now := time.Now()
	m.tasks = append(m.tasks, &Task{
		ID:          len(m.tasks) + 1,
		Name:        name,
		Status:      StatusPending,
		StartTime:   now,
		LastUpdated: now,
	})
	return len(m.tasks)
}

func (m *Manager) update(id int, fn func(t *Task)) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if id < 1 || id > len(m.tasks) {
		return
	}
	t := m.tasks[id-1]
	fn(t)
	t.LastUpdated = time.Now()
}

func (m *Manager) SetMessage(id int, message string) {
	m.update(id, func(t *Task) {
		t.Message = message
		if t.Status == StatusPending {
			t.Status = StatusActive
		}
	})
}

func (m *Manager) AddStreamLine(id int, line string) {
	m.update(id, func(t *Task) {
		t.StreamLines = append(t.StreamLines, wrapText(line, 6)...)
		if len(t.StreamLines) > m.maxStreams {
			t.StreamLines = t.StreamLines[len(t.StreamLines)-m.maxStreams:]
		}
	})
}

// AddFile records a finished output file of the task.
func (m *Manager) AddFile(id int, path string) {
	m.update(id, func(t *Task) { t.Files = append(t.Files, path) })
}

// SetProgress replaces the stream lines with a progress bar.
func (m *Manager) SetProgress(id int, done, total int64, text string) {
	m.update(id, func(t *Task) {
		elapsed := time.Since(t.StartTime).Seconds()
		bar := ProgressBar(max(0, done), total, 30)
		t.StreamLines = []string{fmt.Sprintf("%s%s %s %s", bar, debugStyle.Render(text), StyleSymbols["bullet"], debugStyle.Render(utils.FormatSpeed(done, elapsed)))}
	})
}

func (m *Manager) Complete(id int, message string) {
	m.update(id, func(t *Task) {
		t.Status = StatusSuccess
		t.Message = message
		t.StreamLines = nil
	})
}

// Warn finishes the task without counting it as a failure.
func (m *Manager) Warn(id int, message string) {
	m.update(id, func(t *Task) {
		t.Status = StatusWarning
		t.Message = message
		t.StreamLines = nil
	})
}

func (m *Manager) ReportError(id int, err error) {
	m.update(id, func(t *Task) {
		t.Status = StatusError
		t.Error = err
		t.Message = err.Error()
		m.errors = append(m.errors, ErrorReport{Name: t.Name, Error: err, Time: time.Now()})
	})
}

// Task returns a copy of the task state.
func (m *Manager) Task(id int) Task {
	m.mu.RLock()
	defer m.mu.RUnlock()
	if id < 1 || id > len(m.tasks) {
		return Task{}
	}
	t := *m.tasks[id-1]
	t.StreamLines = slices.Clone(t.StreamLines)
	t.Files = slices.Clone(t.Files)
	return t
}

func (m *Manager) Counts() (success, warnings, failures int) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	for _, t := range m.tasks {
		switch t.Status {
		case StatusSuccess:
			success++
		case StatusWarning:
			warnings++
		case StatusError:
			failures++
		}
	}
	return success, warnings, failures
}

func statusIndicator(status Status) string {
	switch status {
	case StatusSuccess:
		return successStyle.Render(StyleSymbols["pass"])
	case StatusError:
		return errorStyle.Render(StyleSymbols["fail"])
	case StatusWarning:
		return warningStyle.Render(StyleSymbols["warning"])
	case StatusPending:
		return pendingStyle.Render(StyleSymbols["pending"])
	default:
		return infoStyle.Render(StyleSymbols["bullet"])
	}
}

func styleMessage(status Status, message string) string {
	switch status {
	case StatusSuccess:
		return successStyle.Render(message)
	case StatusError:
		return errorStyle.Render(message)
	case StatusWarning:
		return warningStyle.Render(message)
	default:
		return pendingStyle.Render(message)
	}
}

// render lays out running tasks first, then finished ones, within height lines.
func (m *Manager) render(height int) []string {
	m.mu.RLock()
	defer m.mu.RUnlock()
	var running, finished []*Task
	for _, t := range m.tasks {
		if t.done() {
			finished = append(finished, t)
		} else {
			running = append(running, t)
		}
	}
	var lines []string
	indent := strings.Repeat(" ", 2)
	for _, t := range running {
		message := t.Message
		if t.Status == StatusPending {
			message = "Waiting..."
		}
		elapsed := time.Since(t.StartTime).Round(time.Second)
		lines = append(lines, fmt.Sprintf("%s%s %s %s %s", indent, statusIndicator(t.Status), debugStyle.Render(elapsed.String()), headerStyle.Render(t.Name), styleMessage(t.Status, message)))
		for _, line := range t.StreamLines {
			lines = append(lines, indent+indent+indent+streamStyle.Render(line))
		}
	}
	if room := height - len(lines); len(finished) > room {
		hidden := len(finished) - max(room-1, 0)
		lines = append(lines, infoStyle.Render(fmt.Sprintf("%s%d finished tasks hidden ...", indent, hidden)))
		finished = finished[hidden:]
	}
	for _, t := range finished {
		total := t.LastUpdated.Sub(t.StartTime).Round(time.Second)
		lines = append(lines, fmt.Sprintf("%s%s %s %s %s", indent, statusIndicator(t.Status), debugStyle.Render(total.String()), headerStyle.Render(t.Name), styleMessage(t.Status, t.Message)))
	}
	if len(lines) > height {
		lines = lines[:height]
	}
	return lines
}

func (m *Manager) redraw() {
	_, height, err := term.GetSize(int(os.Stdout.Fd()))
	if err != nil || height <= 0 {
		height = 24
	}
	lines := m.render(height - 3)
	if m.numLines > 0 {
		fmt.Fprintf(m.out, "\033[%dA\033[J", m.numLines)
	}
	for _, line := range lines {
		fmt.Fprintln(m.out, line)
	}
	m.numLines = len(lines)
}

func (m *Manager) StartDisplay() {
	m.wg.Add(1)
	go func() {
		defer m.wg.Done()
		ticker := time.NewTicker(m.tick)
		defer ticker.Stop()
		for {
			select {
			case <-ticker.C:
				m.redraw()
			case <-m.doneCh:
				m.redraw()
				m.ShowSummary()
				return
			}
		}
	}()
}

func (m *Manager) StopDisplay() {
	close(m.doneCh)
	m.wg.Wait()
}

func (m *Manager) ShowSummary() {
	success, warnings, failures := m.Counts()
	m.mu.RLock()
	defer m.mu.RUnlock()
	indent := strings.Repeat(" ", 2)
	fmt.Fprintln(m.out)
	fmt.Fprintln(m.out, indent+success2Style.Render(fmt.Sprintf("Completed %d of %d", success, len(m.tasks))))
	if warnings > 0 {
		fmt.Fprintln(m.out, indent+warningStyle.Render(fmt.Sprintf("Offline %d of %d", warnings, len(m.tasks))))
	}
	for _, t := range m.tasks {
		for _, f := range t.Files {
			fmt.Fprintf(m.out, "%s%s %s\n", indent+indent, detailStyle.Render(StyleSymbols["arrow"]), f)
		}
	}
	if failures > 0 {
		fmt.Fprintln(m.out, indent+errorStyle.Render(fmt.Sprintf("Failed %d of %d", failures, len(m.tasks))))
		fmt.Fprintln(m.out, indent+errorStyle.Bold(true).Render("Errors:"))
		for i, report := range m.errors {
			fmt.Fprintf(m.out, "%s%s %s %s\n", indent+indent,
				errorStyle.Render(fmt.Sprintf("%d.", i+1)),
				debugStyle.Render(fmt.Sprintf("[%s]", report.Time.Format("15:04:05"))),
				errorStyle.Render(fmt.Sprintf("%s: %v", report.Name, report.Error)))
		}
	}
	fmt.Fprintln(m.out)
}
