package main

import (
	"bytes"
	"strings"

	"github.com/sirupsen/logrus"
)

// kernelLogWriter turns kernel console output into log entries, one per
// line. Partial lines are buffered until a newline arrives or Flush is
// called.
type kernelLogWriter struct {
	entry *logrus.Entry
	buf   bytes.Buffer
}

func newKernelLogWriter(entry *logrus.Entry) *kernelLogWriter {
	return &kernelLogWriter{entry: entry}
}

// Write implements io.Writer.
func (w *kernelLogWriter) Write(p []byte) (int, error) {
	w.buf.Write(p)

	for {
		line, err := w.buf.ReadString('\n')
		if err != nil {
			// No newline yet; keep the partial line for the next write.
			w.buf.Reset()
			w.buf.WriteString(line)
			break
		}
		w.emit(line)
	}

	return len(p), nil
}

// Flush logs any buffered partial line.
func (w *kernelLogWriter) Flush() {
	if w.buf.Len() > 0 {
		w.emit(w.buf.String())
		w.buf.Reset()
	}
}

func (w *kernelLogWriter) emit(line string) {
	line = strings.TrimRight(line, "\r\n")
	if strings.TrimSpace(line) == "" {
		return
	}

	if strings.Contains(line, "unrecoverable error") || strings.Contains(line, "kernel panic") {
		w.entry.Error(line)
		return
	}
	w.entry.Info(line)
}
