// Copyright ©2020 Dan Kortschak. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

// Package server implements the persistent-server mode of spec.md §6:
// a local UNIX-domain socket (BWTSW_SOCKET) accepting one QueryInput
// record per connection, processing each connection to completion
// before accepting the next (spec.md §5's scheduling model), with an
// empty database name signalling shutdown.
package server

import (
	"bufio"
	"encoding/json"
	"fmt"
	"io"
	"log"
	"net"
	"os"

	"golang.org/x/sys/unix"

	"github.com/kortschak/bwtsw/internal/params"
)

// QueryInput is one client request, spec.md §6's server protocol
// record. An empty Database is the shutdown signal.
type QueryInput struct {
	Database    string
	QueryPath   string
	OutputPath  string
	AlignPath   string
	Format      params.OutputFormat
	Strand      params.Strand
	HardMask    bool
	Dust        bool
	EValue      float64
	Scores      params.ScoreBlock
}

// Handler processes one decoded QueryInput, writing any progress or
// error text to w (relayed to the client over the socket, per spec.md
// §6) and returning a non-nil error only for a failure that should be
// reported to the client and not treated as a shutdown.
type Handler func(w io.Writer, q QueryInput) error

// Server owns the listening socket and an advisory lock file so at
// most one instance binds a given socket path at a time.
type Server struct {
	socketPath string
	lockPath   string
	lockFile   *os.File
	listener   net.Listener
	log        *log.Logger
	handle     Handler
}

// New prepares a Server bound to socketPath, guarded by an advisory
// lock file at socketPath+".lock" (spec.md §6's BWTSW_SOCKET, extended
// with a lock file so -L cannot silently double-start).
func New(socketPath string, logger *log.Logger, handle Handler) *Server {
	return &Server{
		socketPath: socketPath,
		lockPath:   socketPath + ".lock",
		log:        logger,
		handle:     handle,
	}
}

// Load starts listening, per the -L CLI flag of spec.md §6. It fails
// if another server already holds the lock file.
func (s *Server) Load() error {
	f, err := os.OpenFile(s.lockPath, os.O_CREATE|os.O_RDWR, 0o644)
	if err != nil {
		return fmt.Errorf("server: opening lock file %s: %w", s.lockPath, err)
	}
	if err := unix.Flock(int(f.Fd()), unix.LOCK_EX|unix.LOCK_NB); err != nil {
		f.Close()
		return fmt.Errorf("server: another instance already holds %s: %w", s.lockPath, err)
	}
	s.lockFile = f

	os.Remove(s.socketPath)
	l, err := net.Listen("unix", s.socketPath)
	if err != nil {
		s.releaseLock()
		return fmt.Errorf("server: listening on %s: %w", s.socketPath, err)
	}
	s.listener = l
	return nil
}

func (s *Server) releaseLock() {
	if s.lockFile != nil {
		unix.Flock(int(s.lockFile.Fd()), unix.LOCK_UN)
		s.lockFile.Close()
		os.Remove(s.lockPath)
		s.lockFile = nil
	}
}

// Serve accepts connections until a shutdown request (an empty-name
// QueryInput, matching the -X CLI flag of spec.md §6) is received, or
// the listener is closed. Each connection is processed fully before
// the next is accepted, per spec.md §5.
func (s *Server) Serve() error {
	defer s.releaseLock()
	defer os.Remove(s.socketPath)
	for {
		conn, err := s.listener.Accept()
		if err != nil {
			return fmt.Errorf("server: accept: %w", err)
		}
		shutdown := s.handleConn(conn)
		if shutdown {
			return nil
		}
	}
}

// handleConn decodes one QueryInput, dispatches it, and relays the
// handler's output back over the connection, followed by an "error: "
// line if the handler fails; a malformed request gets a single
// "bad request: " line. No terminal message is written on success: the
// connection is closed once the output is flushed.
func (s *Server) handleConn(conn net.Conn) (shutdown bool) {
	defer conn.Close()

	dec := json.NewDecoder(conn)
	var q QueryInput
	if err := dec.Decode(&q); err != nil {
		fmt.Fprintf(conn, "bad request: %v\n", err)
		return false
	}
	if q.Database == "" {
		s.log.Print("server: shutdown requested")
		return true
	}

	w := bufio.NewWriter(conn)
	defer w.Flush()
	if err := s.handle(w, q); err != nil {
		fmt.Fprintf(w, "error: %v\n", err)
		return false
	}
	return false
}
