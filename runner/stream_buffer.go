package runner

import (
	"bytes"
	"sync"
)

// streamBuffer collects a child process stream. The timeout timer appends its
// marker from another goroutine while the copy goroutine of exec.Cmd may
// still be writing, so every access takes the lock.
type streamBuffer struct {
	mu  sync.Mutex
	buf bytes.Buffer
}

func (b *streamBuffer) Write(p []byte) (int, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.buf.Write(p)
}

// appendLine writes s on its own line
func (b *streamBuffer) appendLine(s string) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if n := b.buf.Len(); n > 0 && b.buf.Bytes()[n-1] != '\n' {
		b.buf.WriteByte('\n')
	}
	b.buf.WriteString(s)
	b.buf.WriteByte('\n')
}

func (b *streamBuffer) String() string {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.buf.String()
}
