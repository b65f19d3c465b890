package serial

import (
	"bytes"
	"sync"
	"testing"
	"time"

	"go.uber.org/zap/zaptest"
)

// fakePort is an in-memory Port. Input is delivered one queued chunk per Read;
// an empty queue sleeps for the current read timeout and returns 0, nil like
// go.bug.st does.
type fakePort struct {
	mu sync.Mutex

	written  bytes.Buffer
	frames   []string
	chunks   [][]byte
	readErrs []error
	timeout  time.Duration

	writeErr error
	resetErr error
	drainErr error

	inputResets  int
	outputResets int
	drains       int
	closed       bool

	// onWrite runs after each write with the written frame, outside the lock
	onWrite func(p *fakePort, frame string)
}

func newFakePort() *fakePort {
	return &fakePort{timeout: time.Millisecond}
}

func (p *fakePort) queue(chunks ...string) {
	p.mu.Lock()
	defer p.mu.Unlock()
	for _, c := range chunks {
		p.chunks = append(p.chunks, []byte(c))
	}
}

func (p *fakePort) failReads(errs ...error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.readErrs = append(p.readErrs, errs...)
}

func (p *fakePort) Read(buf []byte) (int, error) {
	p.mu.Lock()
	if len(p.readErrs) > 0 {
		err := p.readErrs[0]
		p.readErrs = p.readErrs[1:]
		p.mu.Unlock()
		return 0, err
	}
	if len(p.chunks) > 0 {
		n := copy(buf, p.chunks[0])
		if n < len(p.chunks[0]) {
			p.chunks[0] = p.chunks[0][n:]
		} else {
			p.chunks = p.chunks[1:]
		}
		p.mu.Unlock()
		return n, nil
	}
	timeout := p.timeout
	p.mu.Unlock()

	time.Sleep(timeout)
	return 0, nil
}

func (p *fakePort) Write(data []byte) (int, error) {
	p.mu.Lock()
	if p.writeErr != nil {
		err := p.writeErr
		p.mu.Unlock()
		return 0, err
	}
	p.written.Write(data)
	p.frames = append(p.frames, string(data))
	hook := p.onWrite
	p.mu.Unlock()

	if hook != nil {
		hook(p, string(data))
	}
	return len(data), nil
}

func (p *fakePort) Close() error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.closed = true
	return nil
}

func (p *fakePort) ResetInputBuffer() error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.resetErr != nil {
		return p.resetErr
	}
	p.inputResets++
	p.chunks = nil
	return nil
}

func (p *fakePort) ResetOutputBuffer() error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.resetErr != nil {
		return p.resetErr
	}
	p.outputResets++
	return nil
}

func (p *fakePort) Drain() error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.drainErr != nil {
		return p.drainErr
	}
	p.drains++
	return nil
}

func (p *fakePort) SetReadTimeout(t time.Duration) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.timeout = t
	return nil
}

func (p *fakePort) writtenFrames() []string {
	p.mu.Lock()
	defer p.mu.Unlock()
	return append([]string(nil), p.frames...)
}

// replyWith makes the port answer every write with reply
func replyWith(reply string) func(*fakePort, string) {
	return func(p *fakePort, _ string) {
		p.queue(reply)
	}
}

// newTestConfig returns a configuration with short timeouts suitable for tests.
func newTestConfig() *Config {
	cfg := DefaultConfig("/dev/ttyTEST0")
	cfg.ReadTimeout = 5 * time.Millisecond
	cfg.PollInterval = time.Millisecond
	cfg.Timeout = 50 * time.Millisecond
	cfg.FaultBackoff = 2 * time.Millisecond
	return cfg
}

func newTestSession(t *testing.T, port *fakePort, cfg *Config) *Session {
	t.Helper()

	if cfg == nil {
		cfg = newTestConfig()
	}
	s := NewSession(port, cfg, zaptest.NewLogger(t))
	t.Cleanup(func() { _ = s.Close() })

	return s
}
