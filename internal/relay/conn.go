package relay

import (
	"context"
	"sync"
	"sync/atomic"
	"time"

	"github.com/coder/websocket"
	"github.com/google/uuid"
)

// Connection wraps one gateway websocket with serialized writes and
// traffic counters. Reads happen only from the connection's own read
// loop; writes may come from any goroutine.
type Connection struct {
	ID          string
	RemoteAddr  string
	ConnectedAt time.Time

	ws           *websocket.Conn
	writeTimeout time.Duration
	writeMu      sync.Mutex

	framesReceived atomic.Uint64
	bytesReceived  atomic.Uint64
	framesSent     atomic.Uint64
	bytesSent      atomic.Uint64

	// writeOverride replaces the websocket write path in tests.
	writeOverride func(ctx context.Context, data []byte) error
}

// ConnectionInfo is a monitoring snapshot of one connection.
type ConnectionInfo struct {
	ID             string    `json:"id"`
	RemoteAddr     string    `json:"remote_addr"`
	ConnectedAt    time.Time `json:"connected_at"`
	FramesReceived uint64    `json:"frames_received"`
	BytesReceived  uint64    `json:"bytes_received"`
	FramesSent     uint64    `json:"frames_sent"`
	BytesSent      uint64    `json:"bytes_sent"`
}

func newConnection(ws *websocket.Conn, remoteAddr string, writeTimeout time.Duration) *Connection {
	return &Connection{
		ID:           uuid.New().String(),
		RemoteAddr:   remoteAddr,
		ConnectedAt:  time.Now(),
		ws:           ws,
		writeTimeout: writeTimeout,
	}
}

// write sends one text frame, serialized against concurrent writers.
func (c *Connection) write(ctx context.Context, data []byte) error {
	c.writeMu.Lock()
	defer c.writeMu.Unlock()

	if c.writeOverride != nil {
		if err := c.writeOverride(ctx, data); err != nil {
			return err
		}
	} else {
		wctx := ctx
		if c.writeTimeout > 0 {
			var cancel context.CancelFunc
			wctx, cancel = context.WithTimeout(ctx, c.writeTimeout)
			defer cancel()
		}
		if err := c.ws.Write(wctx, websocket.MessageText, data); err != nil {
			return err
		}
	}

	c.framesSent.Add(1)
	c.bytesSent.Add(uint64(len(data)))
	return nil
}

// read receives one frame and updates the receive counters.
func (c *Connection) read(ctx context.Context) ([]byte, error) {
	_, data, err := c.ws.Read(ctx)
	if err != nil {
		return nil, err
	}
	c.framesReceived.Add(1)
	c.bytesReceived.Add(uint64(len(data)))
	return data, nil
}

// close terminates the websocket.
func (c *Connection) close(code websocket.StatusCode, reason string) {
	if c.ws != nil {
		c.ws.Close(code, reason)
	}
}

// Info returns a monitoring snapshot.
func (c *Connection) Info() ConnectionInfo {
	return ConnectionInfo{
		ID:             c.ID,
		RemoteAddr:     c.RemoteAddr,
		ConnectedAt:    c.ConnectedAt,
		FramesReceived: c.framesReceived.Load(),
		BytesReceived:  c.bytesReceived.Load(),
		FramesSent:     c.framesSent.Load(),
		BytesSent:      c.bytesSent.Load(),
	}
}
