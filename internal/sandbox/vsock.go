//go:build linux

package sandbox

import (
	"bufio"
	"context"
	"encoding/binary"
	"encoding/json"
	"fmt"
	"io"
	"net"
	"sync"
	"time"
)

// GuestAgentPort is the vsock port the guest agent listens on.
const GuestAgentPort = 52

// VsockConnection is a length-prefixed JSON request/response channel to the
// guest agent over Firecracker's vsock device.
type VsockConnection struct {
	socketPath string
	cid        uint32
	port       uint32

	mu     sync.Mutex
	conn   net.Conn
	reader *bufio.Reader
	writer *bufio.Writer
	closed bool

	reqMu     sync.Mutex
	requestID uint64

	pendingMu sync.Mutex
	pending   map[uint64]chan *GuestResponse
}

// GuestRequest is sent to the guest agent.
type GuestRequest struct {
	ID       uint64 `json:"id"`
	Type     string `json:"type"`
	Code     string `json:"code,omitempty"`
	Language string `json:"language,omitempty"`
	Stdin    string `json:"stdin,omitempty"`
	Timeout  int    `json:"timeout,omitempty"`
}

// GuestResponse is returned by the guest agent.
type GuestResponse struct {
	ID       uint64 `json:"id"`
	Success  bool   `json:"success"`
	Stdout   string `json:"stdout,omitempty"`
	Stderr   string `json:"stderr,omitempty"`
	ExitCode int    `json:"exit_code"`
	Error    string `json:"error,omitempty"`
	Timeout  bool   `json:"timeout,omitempty"`
}

// NewVsockConnection prepares a connection without dialing it.
func NewVsockConnection(socketPath string, cid, port uint32) (*VsockConnection, error) {
	return &VsockConnection{
		socketPath: socketPath,
		cid:        cid,
		port:       port,
		pending:    make(map[uint64]chan *GuestResponse),
	}, nil
}

// Connect dials the vsock unix-socket Firecracker exposes and sends the
// vsock connect header (CID + port).
func (vc *VsockConnection) Connect(ctx context.Context) error {
	vc.mu.Lock()
	defer vc.mu.Unlock()
	if vc.conn != nil {
		return nil
	}

	dialer := net.Dialer{Timeout: 10 * time.Second}
	conn, err := dialer.DialContext(ctx, "unix", vc.socketPath+".vsock")
	if err != nil {
		return fmt.Errorf("sandbox: dial vsock socket: %w", err)
	}

	header := make([]byte, 8)
	binary.LittleEndian.PutUint32(header[0:4], vc.cid)
	binary.LittleEndian.PutUint32(header[4:8], vc.port)
	if _, err := conn.Write(header); err != nil {
		conn.Close()
		return fmt.Errorf("sandbox: send vsock header: %w", err)
	}

	vc.conn = conn
	vc.reader = bufio.NewReader(conn)
	vc.writer = bufio.NewWriter(conn)
	vc.closed = false
	go vc.readResponses()
	return nil
}

func (vc *VsockConnection) readResponses() {
	for {
		vc.mu.Lock()
		if vc.closed || vc.reader == nil {
			vc.mu.Unlock()
			return
		}
		reader := vc.reader
		vc.mu.Unlock()

		lengthBuf := make([]byte, 4)
		if _, err := io.ReadFull(reader, lengthBuf); err != nil {
			return
		}
		length := binary.LittleEndian.Uint32(lengthBuf)
		if length > 10*1024*1024 {
			continue
		}
		body := make([]byte, length)
		if _, err := io.ReadFull(reader, body); err != nil {
			return
		}

		var resp GuestResponse
		if err := json.Unmarshal(body, &resp); err != nil {
			continue
		}

		vc.pendingMu.Lock()
		if ch, ok := vc.pending[resp.ID]; ok {
			delete(vc.pending, resp.ID)
			ch <- &resp
		}
		vc.pendingMu.Unlock()
	}
}

// Send issues one request and blocks for its response.
func (vc *VsockConnection) Send(ctx context.Context, req *GuestRequest) (*GuestResponse, error) {
	if err := vc.ensureConnected(ctx); err != nil {
		return nil, err
	}

	vc.reqMu.Lock()
	vc.requestID++
	req.ID = vc.requestID
	vc.reqMu.Unlock()

	respCh := make(chan *GuestResponse, 1)
	vc.pendingMu.Lock()
	vc.pending[req.ID] = respCh
	vc.pendingMu.Unlock()
	defer func() {
		vc.pendingMu.Lock()
		delete(vc.pending, req.ID)
		vc.pendingMu.Unlock()
	}()

	data, err := json.Marshal(req)
	if err != nil {
		return nil, fmt.Errorf("sandbox: marshal guest request: %w", err)
	}

	vc.mu.Lock()
	if vc.writer == nil {
		vc.mu.Unlock()
		return nil, fmt.Errorf("sandbox: vsock connection not established")
	}
	lengthBuf := make([]byte, 4)
	binary.LittleEndian.PutUint32(lengthBuf, uint32(len(data)))
	if _, err := vc.writer.Write(lengthBuf); err != nil {
		vc.mu.Unlock()
		return nil, fmt.Errorf("sandbox: write message length: %w", err)
	}
	if _, err := vc.writer.Write(data); err != nil {
		vc.mu.Unlock()
		return nil, fmt.Errorf("sandbox: write message body: %w", err)
	}
	if err := vc.writer.Flush(); err != nil {
		vc.mu.Unlock()
		return nil, fmt.Errorf("sandbox: flush message: %w", err)
	}
	vc.mu.Unlock()

	select {
	case resp := <-respCh:
		return resp, nil
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

// Execute asks the guest agent to run one code snippet.
func (vc *VsockConnection) Execute(ctx context.Context, code, language, stdin string, timeoutSeconds int) (*GuestResponse, error) {
	return vc.Send(ctx, &GuestRequest{Type: "execute", Code: code, Language: language, Stdin: stdin, Timeout: timeoutSeconds})
}

func (vc *VsockConnection) ensureConnected(ctx context.Context) error {
	vc.mu.Lock()
	connected := vc.conn != nil && !vc.closed
	vc.mu.Unlock()
	if connected {
		return nil
	}
	return vc.Connect(ctx)
}

// Close tears down the connection and cancels any in-flight requests.
func (vc *VsockConnection) Close() error {
	vc.mu.Lock()
	defer vc.mu.Unlock()
	if vc.closed {
		return nil
	}
	vc.closed = true

	vc.pendingMu.Lock()
	for id, ch := range vc.pending {
		delete(vc.pending, id)
		close(ch)
	}
	vc.pendingMu.Unlock()

	if vc.conn != nil {
		return vc.conn.Close()
	}
	return nil
}
