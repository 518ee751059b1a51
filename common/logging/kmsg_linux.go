package logging

import (
	"bytes"
	"fmt"
	"io"
	"os"
)

const (
	kmsgPath = "/dev/kmsg"

	// Syslog priority for the kernel ring buffer: facility LOG_DAEMON (3),
	// severity info (6).
	kmsgPriority = 3<<3 | 6

	// Writes to /dev/kmsg are truncated by the kernel at roughly this
	// size, clip the record ourselves so nothing is silently lost
	// mid-field.
	kmsgMaxRecord = 976
)

// kmsgWriter emits each log line as a single record into the kernel
// ring buffer, the way the daemon logs when it is not attached to a
// console.
type kmsgWriter struct {
	f   *os.File
	tag string
}

// NewKmsgWriter returns a Writer that forwards log lines to /dev/kmsg,
// prefixed with the given tag.  Opening the device requires privileges;
// the error is returned so the caller can fall back to stderr.
func NewKmsgWriter(tag string) (io.Writer, error) {
	f, err := os.OpenFile(kmsgPath, os.O_WRONLY, 0)
	if err != nil {
		return nil, fmt.Errorf("logging: kmsg open failed: %w", err)
	}

	return &kmsgWriter{f: f, tag: tag}, nil
}

func (w *kmsgWriter) Write(p []byte) (int, error) {
	line := bytes.TrimRight(p, "\n")
	if len(line) > kmsgMaxRecord {
		line = line[:kmsgMaxRecord]
	}

	// Each record must be submitted in one write call.
	rec := fmt.Sprintf("<%d>%s: %s\n", kmsgPriority, w.tag, line)
	if _, err := w.f.WriteString(rec); err != nil {
		return 0, err
	}

	return len(p), nil
}
