package transport

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/infiniact/agent-hub-sub000/internal/acp/jsonrpc"
	"github.com/infiniact/agent-hub-sub000/internal/common/logger"
)

// safeWriter serializes writes to a bytes.Buffer so the test can inspect it
// concurrently with the transport's writeMu-protected Send calls.
type safeWriter struct {
	mu  sync.Mutex
	buf bytes.Buffer
}

func (w *safeWriter) Write(p []byte) (int, error) {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.buf.Write(p)
}

func (w *safeWriter) String() string {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.buf.String()
}

func newTestTransport(t *testing.T) (*Transport, *safeWriter, *io.PipeWriter) {
	t.Helper()
	stdin := &safeWriter{}
	pr, pw := io.Pipe()
	tr := New(stdin, pr, logger.Default())
	t.Cleanup(func() { pw.Close() })
	return tr, stdin, pw
}

func TestSend_WritesNewlineTerminatedJSON(t *testing.T) {
	tr, stdin, _ := newTestTransport(t)

	require.NoError(t, tr.Send(&jsonrpc.Request{ID: 1, Method: "initialize", Params: map[string]int{"a": 1}}))

	written := stdin.String()
	require.True(t, strings.HasSuffix(written, "\n"))
	require.Equal(t, 1, strings.Count(written, "\n"), "exactly one frame written")

	var decoded jsonrpc.Request
	require.NoError(t, json.Unmarshal([]byte(strings.TrimSuffix(written, "\n")), &decoded))
	assert.Equal(t, "2.0", decoded.JSONRPC)
	assert.Equal(t, "initialize", decoded.Method)
}

func TestSendRaw_WritesNewlineTerminatedJSON(t *testing.T) {
	tr, stdin, _ := newTestTransport(t)

	resp := jsonrpc.Response{JSONRPC: "2.0", ID: float64(7), Result: json.RawMessage(`{"ok":true}`)}
	require.NoError(t, tr.SendRaw(resp))

	written := stdin.String()
	require.True(t, strings.HasSuffix(written, "\n"))

	var decoded jsonrpc.Response
	require.NoError(t, json.Unmarshal([]byte(strings.TrimSuffix(written, "\n")), &decoded))
	assert.Equal(t, float64(7), decoded.ID)
}

func TestReceiveAny_DeliversParsedLine(t *testing.T) {
	tr, _, pw := newTestTransport(t)

	_, err := pw.Write([]byte(`{"jsonrpc":"2.0","method":"session/update","params":{}}` + "\n"))
	require.NoError(t, err)

	msg, ok := tr.ReceiveAny(context.Background())
	require.True(t, ok)
	require.NotNil(t, msg)
	assert.Equal(t, "session/update", msg.Method)
	assert.Equal(t, jsonrpc.KindNotification, msg.Classify())
}

func TestReceiveAny_ReturnsFalseOnContextDone(t *testing.T) {
	tr, _, _ := newTestTransport(t)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	msg, ok := tr.ReceiveAny(ctx)
	assert.False(t, ok)
	assert.Nil(t, msg)
}

func TestReceiveAny_FalseWhenMailboxClosedAfterStdoutEnds(t *testing.T) {
	tr, _, pw := newTestTransport(t)
	pw.Close()

	select {
	case <-tr.Closed():
	case <-time.After(time.Second):
		t.Fatal("transport did not observe stdout close")
	}

	msg, ok := tr.ReceiveAny(context.Background())
	assert.False(t, ok)
	assert.Nil(t, msg)
}

func TestReceiveMatchingID_SkipsOtherMessagesAndMatchesResponse(t *testing.T) {
	tr, _, pw := newTestTransport(t)

	_, err := pw.Write([]byte(`{"jsonrpc":"2.0","method":"session/update","params":{}}` + "\n"))
	require.NoError(t, err)
	_, err = pw.Write([]byte(`{"jsonrpc":"2.0","id":1,"result":{"ok":true}}` + "\n"))
	require.NoError(t, err)

	var other []*jsonrpc.RawMessage
	msg, err := tr.ReceiveMatchingID(context.Background(), 1, time.Second, func(m *jsonrpc.RawMessage) {
		other = append(other, m)
	})
	require.NoError(t, err)
	require.NotNil(t, msg)
	assert.Equal(t, jsonrpc.KindResponse, msg.Classify())
	require.Len(t, other, 1)
	assert.Equal(t, "session/update", other[0].Method)
}

func TestReceiveMatchingID_TimesOutWhenNoMatchArrives(t *testing.T) {
	tr, _, _ := newTestTransport(t)

	_, err := tr.ReceiveMatchingID(context.Background(), 99, 20*time.Millisecond, nil)
	assert.Error(t, err)
	assert.Contains(t, err.Error(), "timed out")
}

func TestReceiveMatchingID_ContextDoneReturnsContextError(t *testing.T) {
	tr, _, _ := newTestTransport(t)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, err := tr.ReceiveMatchingID(ctx, 1, time.Second, nil)
	assert.ErrorIs(t, err, context.Canceled)
}

func TestReceiveMatchingID_ChannelClosedReturnsError(t *testing.T) {
	tr, _, pw := newTestTransport(t)
	pw.Close()

	select {
	case <-tr.Closed():
	case <-time.After(time.Second):
		t.Fatal("transport did not observe stdout close")
	}

	_, err := tr.ReceiveMatchingID(context.Background(), 1, time.Second, nil)
	assert.Error(t, err)
	assert.Contains(t, err.Error(), "channel closed")
}

func TestTryReceive_NonBlockingWhenEmpty(t *testing.T) {
	tr, _, _ := newTestTransport(t)

	msg, ok, closed := tr.TryReceive()
	assert.Nil(t, msg)
	assert.False(t, ok)
	assert.False(t, closed)
}

func TestTryReceive_ReturnsPendingMessage(t *testing.T) {
	tr, _, pw := newTestTransport(t)

	_, err := pw.Write([]byte(`{"jsonrpc":"2.0","method":"session/update","params":{}}` + "\n"))
	require.NoError(t, err)

	require.Eventually(t, func() bool {
		_, ok, _ := tr.TryReceive()
		return ok
	}, time.Second, 5*time.Millisecond)
}

func TestTryReceive_ClosedTrueOnceMailboxDrainedAfterStdoutEnds(t *testing.T) {
	tr, _, pw := newTestTransport(t)
	pw.Close()

	require.Eventually(t, func() bool {
		_, _, closed := tr.TryReceive()
		return closed
	}, time.Second, 5*time.Millisecond)
}

func TestReadLoop_DropsUnparsableLinesButKeepsGoodOnes(t *testing.T) {
	tr, _, pw := newTestTransport(t)

	_, err := pw.Write([]byte("not json\n"))
	require.NoError(t, err)
	_, err = pw.Write([]byte(`{"jsonrpc":"2.0","method":"session/update","params":{}}` + "\n"))
	require.NoError(t, err)

	msg, ok := tr.ReceiveAny(context.Background())
	require.True(t, ok)
	assert.Equal(t, "session/update", msg.Method)
}

func TestReadLoop_DropsOldestWhenMailboxFull(t *testing.T) {
	tr, _, pw := newTestTransport(t)

	total := DefaultMailboxCapacity + 5
	for i := 0; i < total; i++ {
		line, err := json.Marshal(map[string]interface{}{
			"jsonrpc": "2.0",
			"id":      i,
			"result":  map[string]bool{"ok": true},
		})
		require.NoError(t, err)
		_, err = pw.Write(append(line, '\n'))
		require.NoError(t, err)
	}

	// Give the read loop time to process every line before we start draining,
	// so the overflow actually triggers the drop-oldest path.
	require.Eventually(t, func() bool {
		return len(tr.mailbox) == DefaultMailboxCapacity
	}, time.Second, 5*time.Millisecond)

	first, ok := tr.ReceiveAny(context.Background())
	require.True(t, ok)

	var id int
	require.NoError(t, json.Unmarshal(first.ID, &id))
	assert.Equal(t, 5, id, "the first 5 messages should have been dropped to make room")
}
