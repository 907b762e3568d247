// Package stepctl implements an optional remote single-step
// controller for `tcgtrans step --remote`: a TCP control connection a
// separate client attaches to, sending one byte per "continue to next
// TB" request and receiving one line describing the TB just
// translated.
//
// Adapted from bassosimone/risc32's pkg/vm.SerialTTY, which accepts exactly
// one controlling TCP connection and polls it with short read/write
// deadlines so the owning loop is never blocked indefinitely waiting
// on a remote party. Here only "accept once, report detach as an
// error" is kept as is: ReportTB writes with a short deadline, but
// WaitContinue clears the read deadline and blocks until the client
// sends a byte or the connection closes. The payload also changed: SerialTTY ferries guest console bytes in both directions,
// while Controller ferries step requests and TB summaries, since a
// translator build has no guest I/O device to emulate.
package stepctl

import (
	"bufio"
	"errors"
	"fmt"
	"log"
	"net"
	"time"
)

// ErrDetached indicates the remote controller's connection closed or
// failed; the caller should fall back to local (keyboard) stepping.
var ErrDetached = errors.New("stepctl: controller detached")

// Controller is the accepted control connection for one remote
// stepping session.
type Controller struct {
	conn   net.Conn
	reader *bufio.Reader
}

// Accept waits for a controlling TCP connection on an ephemeral local
// port and returns once one client has attached, mirroring
// bassosimone/risc32's TTYAcceptConn.
func Accept() (*Controller, error) {
	nl, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		return nil, err
	}
	log.Printf("stepctl: waiting for a remote stepper to attach on %s/tcp...", nl.Addr())
	conn, err := nl.Accept()
	if err != nil {
		return nil, err
	}
	return &Controller{conn: conn, reader: bufio.NewReader(conn)}, nil
}

// Close closes the underlying connection.
func (c *Controller) Close() error { return c.conn.Close() }

// LocalAddr returns the address the controller is listening/connected on.
func (c *Controller) LocalAddr() net.Addr { return c.conn.LocalAddr() }

// WaitContinue blocks until the remote client sends one byte
// requesting the next step, or the connection is closed.
func (c *Controller) WaitContinue() error {
	c.conn.SetReadDeadline(time.Time{})
	if _, err := c.reader.ReadByte(); err != nil {
		return fmt.Errorf("%w: %s", ErrDetached, err.Error())
	}
	return nil
}

// ReportTB sends a one-line summary of the TB just translated back to
// the remote client.
func (c *Controller) ReportTB(pcFirst, pcLast uint64, numInsns int) error {
	c.conn.SetWriteDeadline(time.Now().Add(time.Second))
	line := fmt.Sprintf("tb pc=%#x..%#x insns=%d\n", pcFirst, pcLast, numInsns)
	if _, err := c.conn.Write([]byte(line)); err != nil {
		return fmt.Errorf("%w: %s", ErrDetached, err.Error())
	}
	return nil
}
