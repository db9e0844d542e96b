package recorder

import (
	"bufio"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/rs/zerolog/log"
	"github.com/tanq16/streamup/internal/utils"
)

const DefaultTemplate = "{title}_%Y-%m-%d_%H-%M-%S"

var titleReplacer = strings.NewReplacer(
	"/", "_", "\\", "_", ":", "_", "*", "_", "?", "_",
	"\"", "_", "<", "_", ">", "_", "|", "_", "\n", " ", "\r", " ",
)

// Segmentable decides when the current output file is rolled over.
// Zero values disable the corresponding limit.
type Segmentable struct {
	Duration time.Duration
	Size     int64
}

func (s Segmentable) Due(elapsed time.Duration, written int64) bool {
	if s.Duration > 0 && elapsed >= s.Duration {
		return true
	}
	if s.Size > 0 && written >= s.Size {
		return true
	}
	return false
}

func (s Segmentable) Enabled() bool {
	return s.Duration > 0 || s.Size > 0
}

// LifecycleFile is the sink decoders write into. Each call to Create closes
// the current file and opens a new one named from the template.
type LifecycleFile struct {
	Extension string

	dir      string
	template string
	now      func() time.Time

	file    *os.File
	buf     *bufio.Writer
	path    string
	written int64
	started time.Time

	finished []string
	onClose  func(path string)
}

func NewLifecycleFile(dir, template string) *LifecycleFile {
	if template == "" {
		template = DefaultTemplate
	}
	return &LifecycleFile{
		Extension: "ts",
		dir:       dir,
		template:  template,
		now:       time.Now,
	}
}

// SetTitle substitutes the {title} placeholder of the template.
func (f *LifecycleFile) SetTitle(title string) {
	f.template = strings.ReplaceAll(f.template, "{title}", titleReplacer.Replace(strings.TrimSpace(title)))
}

func (f *LifecycleFile) Template() string {
	return f.template
}

// OnClose registers fn to be called with the path of every finished file.
func (f *LifecycleFile) OnClose(fn func(path string)) {
	f.onClose = fn
}

// Name expands the time verbs of the template for t.
func (f *LifecycleFile) Name(t time.Time) string {
	name := utils.TimeVerbRegex.ReplaceAllStringFunc(f.template, func(verb string) string {
		switch verb {
		case "%Y":
			return fmt.Sprintf("%04d", t.Year())
		case "%m":
			return fmt.Sprintf("%02d", int(t.Month()))
		case "%d":
			return fmt.Sprintf("%02d", t.Day())
		case "%H":
			return fmt.Sprintf("%02d", t.Hour())
		case "%M":
			return fmt.Sprintf("%02d", t.Minute())
		default:
			return fmt.Sprintf("%02d", t.Second())
		}
	})
	return filepath.Join(f.dir, name)
}

// Create finishes the current file, if any, and opens the next one.
func (f *LifecycleFile) Create() error {
	if err := f.Close(); err != nil {
		return err
	}
	now := f.now()
	path := f.Name(now)
	if f.Extension != "" {
		path += "." + f.Extension
	}
	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		return fmt.Errorf("error creating output directory: %v", err)
	}
	if _, err := os.Stat(path); err == nil {
		path = utils.RenewOutputPath(path)
	}
	file, err := os.Create(path)
	if err != nil {
		return fmt.Errorf("error creating output file: %v", err)
	}
	f.file = file
	f.buf = bufio.NewWriterSize(file, 1024*1024)
	f.path = path
	f.written = 0
	f.started = now
	log.Info().Str("op", "recorder/lifecycle").Msgf("Recording to %s", path)
	return nil
}

func (f *LifecycleFile) Write(p []byte) (int, error) {
	if f.file == nil {
		if err := f.Create(); err != nil {
			return 0, err
		}
	}
	n, err := f.buf.Write(p)
	f.written += int64(n)
	return n, err
}

func (f *LifecycleFile) Flush() error {
	if f.buf == nil {
		return nil
	}
	return f.buf.Flush()
}

func (f *LifecycleFile) Open() bool {
	return f.file != nil
}

func (f *LifecycleFile) Written() int64 {
	return f.written
}

func (f *LifecycleFile) Elapsed() time.Duration {
	if f.file == nil {
		return 0
	}
	return f.now().Sub(f.started)
}

// Files lists every file finished so far, in creation order.
func (f *LifecycleFile) Files() []string {
	return f.finished
}

// Close flushes and closes the current file. Empty files are removed.
// Calling Close on a closed sink is a no-op.
func (f *LifecycleFile) Close() error {
	if f.file == nil {
		return nil
	}
	file, path, written := f.file, f.path, f.written
	f.file = nil
	flushErr := f.buf.Flush()
	f.buf = nil
	closeErr := file.Close()
	if flushErr != nil {
		return fmt.Errorf("error flushing %s: %v", path, flushErr)
	}
	if closeErr != nil {
		return fmt.Errorf("error closing %s: %v", path, closeErr)
	}
	if written == 0 {
		os.Remove(path)
		return nil
	}
	log.Debug().Str("op", "recorder/lifecycle").Msgf("Finished %s (%s)", path, utils.FormatBytes(uint64(written)))
	f.finished = append(f.finished, path)
	if f.onClose != nil {
		f.onClose(path)
	}
	return nil
}
