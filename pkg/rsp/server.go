package rsp

import (
	"bufio"
	"fmt"
	"io"
	"net"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/coldfiredbg/coldfiredbg/pkg/breakpoint"
	"github.com/coldfiredbg/coldfiredbg/pkg/flashdriver"
	"github.com/coldfiredbg/coldfiredbg/pkg/target"
	"github.com/coldfiredbg/coldfiredbg/pkg/wire"
)

// acceptPollInterval and recvPollInterval bound both Accept and the
// per-connection read so SIGINT/SIGTERM are noticed within a second even
// mid-wait, rather than only between connections (§5).
const (
	acceptPollInterval = 1 * time.Second
	recvPollInterval   = 1 * time.Second
)

// Server is the single-threaded, synchronous GDB RSP server: one client
// at a time, one command processed to completion before the next is read
// (§5 concurrency model).
type Server struct {
	port   wire.Primitives
	seq    *target.Sequencer
	driver *flashdriver.Driver
	bp     *breakpoint.Engine

	listenPort int
}

// NewServer wires the shared target-facing dependencies and the TCP port
// to listen on.
func NewServer(port wire.Primitives, seq *target.Sequencer, driver *flashdriver.Driver, bp *breakpoint.Engine, listenPort int) *Server {
	return &Server{port: port, seq: seq, driver: driver, bp: bp, listenPort: listenPort}
}

// Run listens and serves GDB connections one at a time until SIGINT,
// SIGTERM, or a listener error ends it. SIGPIPE is ignored so a client
// that vanishes mid-write doesn't kill the process (§5).
func (srv *Server) Run() error {
	signal.Ignore(syscall.SIGPIPE)

	ln, err := net.Listen("tcp", fmt.Sprintf(":%d", srv.listenPort))
	if err != nil {
		return fmt.Errorf("rsp: listen: %w", err)
	}
	defer ln.Close()
	tcpLn, _ := ln.(*net.TCPListener)

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	defer signal.Stop(sigCh)

	for {
		select {
		case sig := <-sigCh:
			return fmt.Errorf("rsp: received %v", sig)
		default:
		}

		if tcpLn != nil {
			_ = tcpLn.SetDeadline(time.Now().Add(acceptPollInterval))
		}
		conn, err := ln.Accept()
		if err != nil {
			if ne, ok := err.(net.Error); ok && ne.Timeout() {
				continue
			}
			return fmt.Errorf("rsp: accept: %w", err)
		}

		if tcpConn, ok := conn.(*net.TCPConn); ok {
			_ = tcpConn.SetNoDelay(true)
		}

		if err := srv.handleConnection(conn, sigCh); err != nil && err != io.EOF {
			fmt.Fprintln(os.Stderr, "rsp: connection:", err)
		}
	}
}

// handleConnection serves one client to completion: session setup, then
// a read-dispatch-reply loop until the client disconnects, sends k/D, or
// a signal interrupts the server.
func (srv *Server) handleConnection(conn net.Conn, sigCh chan os.Signal) error {
	defer conn.Close()

	sess := newSession(srv.port, srv.seq, srv.driver, srv.bp)
	if err := sess.readResetVector(); err != nil {
		fmt.Fprintln(os.Stderr, "rsp: reading reset vector:", err)
	}

	rw := bufio.NewReadWriter(bufio.NewReader(conn), bufio.NewWriter(conn))
	framer := NewFramer(rw)
	tcpConn, isTCP := conn.(*net.TCPConn)

	for {
		select {
		case sig := <-sigCh:
			return fmt.Errorf("received %v", sig)
		default:
		}

		if isTCP {
			_ = tcpConn.SetReadDeadline(time.Now().Add(recvPollInterval))
		}

		packet, err := framer.ReadPacket()
		if err != nil {
			if err == ErrInterrupt {
				if ierr := sess.interrupt(); ierr != nil {
					return ierr
				}
				if werr := framer.WritePacket([]byte("S02")); werr != nil {
					return werr
				}
				continue
			}
			if ne, ok := err.(net.Error); ok && ne.Timeout() {
				continue
			}
			if err == io.EOF {
				return nil
			}
			return fmt.Errorf("frame: %w", err)
		}

		reply, closeConn := dispatch(sess, packet)
		if err := framer.WritePacket(reply); err != nil {
			return err
		}
		if closeConn {
			return nil
		}
	}
}
