package visa

import (
	"bufio"
	"fmt"
	"net"
	"strings"
	"time"
)

// writeTerminator is appended to every outgoing command. The instrument does
// not announce a read terminator; replies are framed by the newline the
// device emits on its own.
const writeTerminator = "\r\n"

const defaultTimeout = 5 * time.Second

type tcpHandle struct {
	conn    net.Conn
	reader  *bufio.Reader
	timeout time.Duration
}

// NewTCPDialer returns a DialFunc that opens raw TCP socket connections. A
// non-positive timeout falls back to the 5 second default, applied to the
// dial as well as to every read and write deadline.
func NewTCPDialer(timeout time.Duration) DialFunc {
	if timeout <= 0 {
		timeout = defaultTimeout
	}
	return func(address string) (Handle, error) {
		if address == "" {
			return nil, fmt.Errorf("instrument address is required")
		}
		conn, err := net.DialTimeout("tcp", address, timeout)
		if err != nil {
			return nil, fmt.Errorf("connect instrument %s: %w", address, err)
		}
		return &tcpHandle{conn: conn, reader: bufio.NewReader(conn), timeout: timeout}, nil
	}
}

func (h *tcpHandle) Write(cmd string) error {
	if err := h.conn.SetWriteDeadline(time.Now().Add(h.timeout)); err != nil {
		return fmt.Errorf("set write deadline: %w", err)
	}
	if _, err := h.conn.Write([]byte(cmd + writeTerminator)); err != nil {
		return fmt.Errorf("write %q: %w", cmd, err)
	}
	return nil
}

func (h *tcpHandle) Query(cmd string) (string, error) {
	if err := h.Write(cmd); err != nil {
		return "", err
	}
	if err := h.conn.SetReadDeadline(time.Now().Add(h.timeout)); err != nil {
		return "", fmt.Errorf("set read deadline: %w", err)
	}
	reply, err := h.reader.ReadString('\n')
	if err != nil {
		return "", fmt.Errorf("read reply for %q: %w", cmd, err)
	}
	return strings.TrimRight(reply, "\r\n"), nil
}

func (h *tcpHandle) Close() error {
	return h.conn.Close()
}
