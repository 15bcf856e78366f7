// Package transport frames ACP JSON-RPC messages as NDJSON over a child
// process's stdin/stdout, classifies inbound lines, and exposes the two
// waiting primitives ("receive-any", "receive-matching-id") that the rest of
// the ACP stack is built on.
package transport

import (
	"bufio"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"sync"
	"time"

	"github.com/infiniact/agent-hub-sub000/internal/acp/jsonrpc"
	"github.com/infiniact/agent-hub-sub000/internal/common/logger"
	"go.uber.org/zap"
)

// DefaultMailboxCapacity is the bounded mailbox capacity the transport design
// calls for.
const DefaultMailboxCapacity = 256

// DefaultMatchTimeout is the default receive-matching-id timeout.
const DefaultMatchTimeout = 30 * time.Second

// Transport frames NDJSON over a single child process's stdio.
type Transport struct {
	stdin  io.Writer
	stdout io.Reader
	log    *logger.Logger

	writeMu sync.Mutex // serializes outbound frame writes

	mailbox chan *jsonrpc.RawMessage
	closed  chan struct{}
	once    sync.Once
}

// New wraps the given stdin/stdout pipes of an already-spawned child.
func New(stdin io.Writer, stdout io.Reader, log *logger.Logger) *Transport {
	t := &Transport{
		stdin:   stdin,
		stdout:  stdout,
		log:     log,
		mailbox: make(chan *jsonrpc.RawMessage, DefaultMailboxCapacity),
		closed:  make(chan struct{}),
	}
	go t.readLoop()
	return t
}

// readLoop splits stdout on newlines, parses each non-empty line, and
// forwards it to the mailbox. Unparsable lines are logged and skipped. The
// loop terminates when stdout closes, closing the mailbox channel.
func (t *Transport) readLoop() {
	defer close(t.closed)
	defer close(t.mailbox)

	scanner := bufio.NewScanner(t.stdout)
	scanner.Buffer(make([]byte, 0, 64*1024), 16*1024*1024)

	for scanner.Scan() {
		line := scanner.Bytes()
		if len(line) == 0 {
			continue
		}
		var msg jsonrpc.RawMessage
		if err := json.Unmarshal(line, &msg); err != nil {
			t.log.Warn("dropping unparsable ACP line", zap.Error(err))
			continue
		}
		select {
		case t.mailbox <- &msg:
		default:
			// Mailbox full: drop the oldest rather than block the reader
			// forever, logging loudly since this should not happen in
			// practice with a 256-entry capacity.
			t.log.Warn("ACP mailbox full, dropping oldest message")
			select {
			case <-t.mailbox:
			default:
			}
			t.mailbox <- &msg
		}
	}
	if err := scanner.Err(); err != nil {
		t.log.Warn("ACP stdout reader stopped with error", zap.Error(err))
	}
}

// Send writes a single-line, newline-terminated JSON-RPC request under the
// per-process stdin lock, flushing immediately.
func (t *Transport) Send(req *jsonrpc.Request) error {
	req.JSONRPC = "2.0"
	line, err := json.Marshal(req)
	if err != nil {
		return fmt.Errorf("marshaling ACP request: %w", err)
	}
	return t.writeLine(line)
}

// SendRaw writes an already-encoded object (e.g. a response to an inbound
// request) as a single line.
func (t *Transport) SendRaw(v interface{}) error {
	line, err := json.Marshal(v)
	if err != nil {
		return fmt.Errorf("marshaling ACP message: %w", err)
	}
	return t.writeLine(line)
}

func (t *Transport) writeLine(line []byte) error {
	t.writeMu.Lock()
	defer t.writeMu.Unlock()

	line = append(line, '\n')
	if _, err := t.stdin.Write(line); err != nil {
		return fmt.Errorf("writing ACP frame: %w", err)
	}
	if f, ok := t.stdin.(interface{ Flush() error }); ok {
		return f.Flush()
	}
	return nil
}

// ReceiveAny blocks for the next mailbox item or until ctx is done. The
// second return is false if the mailbox closed (stdout ended) with nothing
// pending.
func (t *Transport) ReceiveAny(ctx context.Context) (*jsonrpc.RawMessage, bool) {
	select {
	case msg, ok := <-t.mailbox:
		return msg, ok
	case <-ctx.Done():
		return nil, false
	}
}

// ReceiveMatchingID drains the mailbox until a response whose id matches
// expectedID is found, or timeout elapses. Notifications and requests
// encountered while draining are handled by onOther (logged/dropped by the
// caller — they are re-observed by the polling collector for in-flight
// prompts) and are not returned here.
func (t *Transport) ReceiveMatchingID(ctx context.Context, expectedID interface{}, timeout time.Duration, onOther func(*jsonrpc.RawMessage)) (*jsonrpc.RawMessage, error) {
	if timeout <= 0 {
		timeout = DefaultMatchTimeout
	}
	deadline := time.After(timeout)
	want, err := json.Marshal(expectedID)
	if err != nil {
		return nil, fmt.Errorf("marshaling expected id: %w", err)
	}

	for {
		select {
		case msg, ok := <-t.mailbox:
			if !ok {
				return nil, fmt.Errorf("acp transport: channel closed")
			}
			if msg.Classify() == jsonrpc.KindResponse && idsEqual(msg.ID, want) {
				return msg, nil
			}
			if onOther != nil {
				onOther(msg)
			} else {
				t.log.Debug("dropping unmatched ACP message while awaiting response",
					zap.String("method", msg.Method))
			}
		case <-deadline:
			return nil, fmt.Errorf("acp transport: timed out waiting for response id=%v", expectedID)
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}
}

// TryReceive is a non-blocking receive used by the session/prompt collection
// loop: it returns immediately with ok=false if nothing is pending.
func (t *Transport) TryReceive() (msg *jsonrpc.RawMessage, ok bool, closed bool) {
	select {
	case m, open := <-t.mailbox:
		if !open {
			return nil, false, true
		}
		return m, true, false
	default:
		return nil, false, false
	}
}

// Closed reports whether the reader loop has terminated (stdout closed).
func (t *Transport) Closed() <-chan struct{} { return t.closed }

func idsEqual(raw json.RawMessage, want []byte) bool {
	if len(raw) == 0 {
		return false
	}
	return string(trimSpace(raw)) == string(trimSpace(want))
}

func trimSpace(b []byte) []byte {
	start, end := 0, len(b)
	for start < end && isSpace(b[start]) {
		start++
	}
	for end > start && isSpace(b[end-1]) {
		end--
	}
	return b[start:end]
}

func isSpace(c byte) bool {
	return c == ' ' || c == '\t' || c == '\n' || c == '\r'
}
