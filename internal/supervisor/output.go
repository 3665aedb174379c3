package supervisor

import (
	"bytes"
	"sync"
)

// maxLineBytes bounds a single buffered line; longer runs are split.
const maxLineBytes = 1 << 20

// lineWriter is handed to exec.Cmd as Stdout/Stderr and turns the byte
// stream into lines. exec copies each pipe on its own goroutine, so every
// stream gets its own lineWriter.
type lineWriter struct {
	mu   sync.Mutex
	buf  []byte
	emit func(line string)
}

func newLineWriter(emit func(string)) *lineWriter {
	return &lineWriter{emit: emit}
}

func (w *lineWriter) Write(p []byte) (int, error) {
	w.mu.Lock()
	defer w.mu.Unlock()

	w.buf = append(w.buf, p...)
	start := 0
	for {
		i := bytes.IndexByte(w.buf[start:], '\n')
		if i < 0 {
			break
		}
		w.emit(string(bytes.TrimSuffix(w.buf[start:start+i], []byte{'\r'})))
		start += i + 1
	}
	n := copy(w.buf, w.buf[start:])
	w.buf = w.buf[:n]

	if len(w.buf) >= maxLineBytes {
		w.emit(string(w.buf))
		w.buf = w.buf[:0]
	}
	return len(p), nil
}

// Flush emits a trailing line that had no newline.
func (w *lineWriter) Flush() {
	w.mu.Lock()
	defer w.mu.Unlock()
	if len(w.buf) > 0 {
		w.emit(string(bytes.TrimSuffix(w.buf, []byte{'\r'})))
		w.buf = w.buf[:0]
	}
}
