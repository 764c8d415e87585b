// Package writer ships log output to a LogStreamer receiver. Writer is an io.Writer, so
// it plugs into the standard log package or, through zapcore.AddSync, into zap.
package writer

import (
	"context"
	"sync"
	"time"

	"github.com/pkg/errors"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"

	"logstreamer/api"
	"logstreamer/receiver"
)

// Writer sends every Write as one LogRequest.
type Writer struct {
	stub     api.LogStreamerBlockingStub
	path     string
	filename string
	timeout  time.Duration

	mu  sync.Mutex
	err error // First failed write, reported by Sync
}

// New returns a writer sending lines of path/filename through stub. Each write waits at
// most timeout, zero means no limit.
func New(stub api.LogStreamerBlockingStub, path, filename string, timeout time.Duration) *Writer {
	return &Writer{stub: stub, path: path, filename: filename, timeout: timeout}
}

// Write implements io.Writer. It fails unless the receiver accepted the line.
func (w *Writer) Write(p []byte) (int, error) {
	stub := w.stub
	if w.timeout > 0 {
		stub = stub.WithDeadlineAfter(w.timeout)
	}

	resp, err := stub.Log(context.Background(), &api.LogRequest{
		Path:     w.path,
		Filename: w.filename,
		Line:     string(p),
	})
	if err != nil {
		return 0, w.fail(errors.Wrap(err, "sending log line"))
	}
	if resp.GetRes() != receiver.Accepted {
		return 0, w.fail(errors.Errorf("line not accepted: %q", resp.GetRes()))
	}
	return len(p), nil
}

func (w *Writer) fail(err error) error {
	w.mu.Lock()
	defer w.mu.Unlock()

	if w.err == nil {
		w.err = err
	}
	return err
}

// Sync implements zapcore.WriteSyncer. Writes are synchronous, nothing is buffered, but
// zap drops write errors, so Sync reports the first write that failed.
func (w *Writer) Sync() error {
	w.mu.Lock()
	defer w.mu.Unlock()

	return w.err
}

// NewLogger returns a zap logger writing JSON entries through w.
func NewLogger(w *Writer, level zapcore.Level) *zap.Logger {
	encoder := zapcore.NewJSONEncoder(zap.NewProductionEncoderConfig())
	return zap.New(zapcore.NewCore(encoder, zapcore.AddSync(w), level))
}
