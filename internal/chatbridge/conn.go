package chatbridge

import (
	"bufio"
	"encoding/json"
	"fmt"
	"io"
	"sync"

	"github.com/infiniact/agent-hub-sub000/internal/common/logger"
	"go.uber.org/zap"
)

// conn frames NDJSON events/commands over a bridge subprocess's stdio, the
// same line-delimited discipline as the ACP transport but for the bridge's
// simpler tagged-union shapes and without a response-id matcher: the driver
// consumes every event through a single channel.
type conn struct {
	stdin   io.Writer
	writeMu sync.Mutex

	events chan Event
	closed chan struct{}
	log    *logger.Logger
}

func newConn(stdin io.Writer, stdout io.Reader, log *logger.Logger) *conn {
	c := &conn{
		stdin:  stdin,
		events: make(chan Event, 64),
		closed: make(chan struct{}),
		log:    log,
	}
	go c.readLoop(stdout)
	return c
}

func (c *conn) readLoop(stdout io.Reader) {
	defer close(c.closed)
	defer close(c.events)

	scanner := bufio.NewScanner(stdout)
	scanner.Buffer(make([]byte, 0, 64*1024), 16*1024*1024)

	for scanner.Scan() {
		line := scanner.Bytes()
		if len(line) == 0 {
			continue
		}
		var evt Event
		if err := json.Unmarshal(line, &evt); err != nil {
			c.log.Warn("dropping unparsable chat-bridge line", zap.Error(err))
			continue
		}
		select {
		case c.events <- evt:
		default:
			c.log.Warn("chat-bridge event channel full, dropping oldest")
			select {
			case <-c.events:
			default:
			}
			c.events <- evt
		}
	}
}

func (c *conn) send(cmd Command) error {
	line, err := json.Marshal(cmd)
	if err != nil {
		return fmt.Errorf("marshaling chat-bridge command: %w", err)
	}
	line = append(line, '\n')

	c.writeMu.Lock()
	defer c.writeMu.Unlock()
	if _, err := c.stdin.Write(line); err != nil {
		return fmt.Errorf("writing chat-bridge command: %w", err)
	}
	if f, ok := c.stdin.(interface{ Flush() error }); ok {
		return f.Flush()
	}
	return nil
}
