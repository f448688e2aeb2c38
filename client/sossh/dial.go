package sossh

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net"
	"os"
	"os/exec"
	"time"
)

// Conn is a stream to target relayed by socat on the other end of an ssh session.
type Conn struct {
	io.ReadCloser
	io.WriteCloser
	cancel context.CancelFunc
	remote addr
}

var _ net.Conn = (*Conn)(nil)

type addr string

func (a addr) Network() string { return "ssh" }
func (a addr) String() string  { return string(a) }

func (c *Conn) Close() error {
	c.cancel()
	return errors.Join(c.ReadCloser.Close(), c.WriteCloser.Close())
}

func (c *Conn) LocalAddr() net.Addr {
	return addr("local")
}

func (c *Conn) RemoteAddr() net.Addr {
	return c.remote
}

// Deadlines are not supported on a pipe to a child process

func (c *Conn) SetDeadline(t time.Time) error {
	return fmt.Errorf("not implemented")
}

func (c *Conn) SetReadDeadline(t time.Time) error {
	return fmt.Errorf("not implemented")
}

func (c *Conn) SetWriteDeadline(t time.Time) error {
	return fmt.Errorf("not implemented")
}

// sshArgs builds the ssh command line relaying stdio to target through socat on host.
func sshArgs(network, host, port, username, target string) []string {
	destination := host
	if username != "" {
		destination = username + "@" + host
	}
	return []string{
		destination, "-p", port, "-o", "BatchMode=yes", "--",
		"socat", "stdio", fmt.Sprintf("%s:%s", network, target),
	}
}

// DialContext connects to target as seen from the ssh server at addr. The
// connection lives until it is closed or ctx is done.
func DialContext(ctx context.Context, network, address, username, target string) (net.Conn, error) {
	if network != "tcp" {
		return nil, fmt.Errorf("unsupported network: %s", network)
	}

	host, port, err := net.SplitHostPort(address)
	if err != nil {
		host, port = address, "22"
	}

	ctx, cancel := context.WithCancel(ctx)

	cmd := exec.CommandContext(ctx, "ssh", sshArgs(network, host, port, username, target)...)
	cmd.Stderr = os.Stderr

	in, err := cmd.StdoutPipe()
	if err != nil {
		cancel()
		return nil, fmt.Errorf("stdout pipe: %w", err)
	}

	out, err := cmd.StdinPipe()
	if err != nil {
		cancel()
		return nil, fmt.Errorf("stdin pipe: %w", err)
	}

	if err := cmd.Start(); err != nil {
		cancel()
		return nil, fmt.Errorf("failed to start ssh: %w", err)
	}

	return &Conn{
		ReadCloser:  in,
		WriteCloser: out,
		cancel:      cancel,
		remote:      addr(target),
	}, nil
}
