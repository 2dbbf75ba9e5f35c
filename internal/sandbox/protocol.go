package sandbox

import (
	"bufio"
	"errors"
	"fmt"
	"io"
	"sync"

	"github.com/bytedance/sonic"
)

// Message types exchanged between host and worker, one JSON object per line.
const (
	msgStart   = "start"   // host → worker
	msgCall    = "call"    // worker → host
	msgReply   = "reply"   // host → worker
	msgConsole = "console" // worker → host
	msgDone    = "done"    // worker → host
	msgError   = "error"   // worker → host
)

// maxLineBytes bounds a single protocol line
const maxLineBytes = 16 << 20

type message struct {
	Type      string `json:"type"`
	RequestID uint64 `json:"requestId,omitempty"`

	// start
	Code          string              `json:"code,omitempty"`
	Root          string              `json:"root,omitempty"`
	Shape         map[string][]string `json:"shape,omitempty"`
	TimeoutMs     int64               `json:"timeoutMs,omitempty"`
	MemoryLimitMB int                 `json:"memoryLimitMb,omitempty"`
	Policy        *Policy             `json:"policy,omitempty"`

	// call
	Group  string                 `json:"group,omitempty"`
	Method string                 `json:"method,omitempty"`
	Args   map[string]interface{} `json:"args,omitempty"`

	// reply, done, error, console
	Result  interface{} `json:"result,omitempty"`
	Error   string      `json:"error,omitempty"`
	Stack   string      `json:"stack,omitempty"`
	Level   string      `json:"level,omitempty"`
	Message string      `json:"message,omitempty"`
}

// lineCodec frames messages as newline-delimited JSON. Writes are
// serialised; reads must come from a single goroutine.
type lineCodec struct {
	r *bufio.Scanner

	mu sync.Mutex
	w  io.Writer
}

func newLineCodec(r io.Reader, w io.Writer) *lineCodec {
	sc := bufio.NewScanner(r)
	sc.Buffer(make([]byte, 0, 64<<10), maxLineBytes+1)
	return &lineCodec{r: sc, w: w}
}

func (c *lineCodec) write(msg *message) error {
	data, err := sonic.Marshal(msg)
	if err != nil {
		return fmt.Errorf("failed to encode %s message: %w", msg.Type, err)
	}
	data = append(data, '\n')

	c.mu.Lock()
	defer c.mu.Unlock()
	if _, err := c.w.Write(data); err != nil {
		return fmt.Errorf("failed to write %s message: %w", msg.Type, err)
	}
	return nil
}

func (c *lineCodec) read() (*message, error) {
	if !c.r.Scan() {
		err := c.r.Err()
		if errors.Is(err, bufio.ErrTooLong) {
			return nil, fmt.Errorf("protocol line exceeds %d bytes", maxLineBytes)
		}
		if err == nil {
			err = io.EOF
		}
		return nil, err
	}
	var msg message
	if err := sonic.Unmarshal(c.r.Bytes(), &msg); err != nil {
		return nil, fmt.Errorf("failed to decode message: %w", err)
	}
	return &msg, nil
}
