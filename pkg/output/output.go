// Package output writes results of concurrently running scripts. Every line is prefixed with the
// script name colorized by the name, so lines of different scripts can be told apart, and secrets
// are masked.
package output

import (
	"bufio"
	"bytes"
	"fmt"
	"hash/crc32"
	"io"
	"regexp"
	"sync"

	"github.com/fatih/color"
)

// Writer is a line writer with a colorized source prefix. Writers made by WithSource share the
// underlying writer and never interleave parts of lines.
type Writer struct {
	wr         io.Writer
	mu         *sync.Mutex
	source     string
	secrets    []*regexp.Regexp
	monochrome bool
}

// New makes a writer to wr masking secrets. Monochrome writer doesn't colorize prefixes.
func New(wr io.Writer, secrets []string, monochrome bool) *Writer {
	res := &Writer{wr: wr, mu: &sync.Mutex{}, monochrome: monochrome}
	for _, s := range secrets {
		if s == " " || s == "" {
			continue
		}
		// matches the secret only if it appears as a whole word
		res.secrets = append(res.secrets, regexp.MustCompile(`\b`+regexp.QuoteMeta(s)+`\b`))
	}
	return res
}

// WithSource makes a writer prefixing lines with "[source]".
func (w *Writer) WithSource(source string) *Writer {
	return &Writer{wr: w.wr, mu: w.mu, source: source, secrets: w.secrets, monochrome: w.monochrome}
}

// Printf writes formatted text.
func (w *Writer) Printf(format string, v ...any) {
	fmt.Fprintf(w, format, v...)
}

// Write writes p line by line, a missing final newline is added.
func (w *Writer) Write(p []byte) (n int, err error) {
	colorizer := w.colorizer()
	scanner := bufio.NewScanner(bytes.NewReader(p))
	scanner.Buffer(make([]byte, 0, 64*1024), 16*1024*1024)

	w.mu.Lock()
	defer w.mu.Unlock()
	for scanner.Scan() {
		line := w.mask(scanner.Text())
		if w.source != "" {
			line = fmt.Sprintf("[%s] %s", w.source, line)
		}
		if _, err = io.WriteString(w.wr, colorizer("%s", line)+"\n"); err != nil {
			return 0, err
		}
	}
	if err := scanner.Err(); err != nil {
		return 0, err
	}
	return len(p), nil
}

func (w *Writer) mask(s string) string {
	for _, re := range w.secrets {
		s = re.ReplaceAllString(s, "****")
	}
	return s
}

// colorizer returns a formatter with a color picked by the source name
func (w *Writer) colorizer() func(format string, a ...any) string {
	if w.monochrome || w.source == "" {
		return fmt.Sprintf
	}
	colors := []color.Attribute{
		color.FgHiRed, color.FgHiGreen, color.FgHiYellow,
		color.FgHiBlue, color.FgHiMagenta, color.FgHiCyan,
		color.FgRed, color.FgGreen, color.FgYellow,
		color.FgBlue, color.FgMagenta, color.FgCyan,
	}
	c := colors[int(crc32.ChecksumIEEE([]byte(w.source)))%len(colors)]
	return color.New(c).SprintfFunc()
}
