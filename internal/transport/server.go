package transport

import (
	"bufio"
	"encoding/json"
	"fmt"
	"net"
	"os"
	"sync"

	"go.uber.org/zap"

	"github.com/ayonsaha2011/ipchat/internal/bus"
	"github.com/ayonsaha2011/ipchat/internal/store"
)

// Server accepts peer connections and turns their frames into "net."
// bus events for the ingest engine. The one exception is pull_request,
// which it answers inline from the canonical log, and transfer_data,
// which it writes straight to the accepted destination file.
type Server struct {
	db      *store.DB
	bus     *bus.Bus
	localID string
	addr    string
	log     *zap.Logger

	ln net.Listener
	wg sync.WaitGroup

	mu    sync.Mutex
	sinks map[string]*fileSink
}

// fileSink is an open destination file for an in-flight transfer.
type fileSink struct {
	file    *os.File
	written int64
}

func NewServer(db *store.DB, b *bus.Bus, localID string, port int, log *zap.Logger) *Server {
	return &Server{
		db:      db,
		bus:     b,
		localID: localID,
		addr:    fmt.Sprintf(":%d", port),
		log:     log.Named("server"),
		sinks:   make(map[string]*fileSink),
	}
}

// Start begins listening and accepting connections.
func (s *Server) Start() error {
	ln, err := net.Listen("tcp", s.addr)
	if err != nil {
		return fmt.Errorf("listen %s: %w", s.addr, err)
	}
	s.ln = ln
	s.log.Info("listening", zap.String("addr", ln.Addr().String()))

	s.wg.Add(1)
	go s.acceptLoop()
	return nil
}

// Stop closes the listener and waits for in-flight connections.
func (s *Server) Stop() {
	if s.ln != nil {
		_ = s.ln.Close()
	}
	s.wg.Wait()

	s.mu.Lock()
	for id, sink := range s.sinks {
		_ = sink.file.Close()
		delete(s.sinks, id)
	}
	s.mu.Unlock()
}

// Addr returns the bound listen address, useful when port 0 was requested.
func (s *Server) Addr() string {
	if s.ln == nil {
		return s.addr
	}
	return s.ln.Addr().String()
}

func (s *Server) acceptLoop() {
	defer s.wg.Done()
	for {
		conn, err := s.ln.Accept()
		if err != nil {
			// Listener closed on Stop.
			return
		}
		s.wg.Add(1)
		go func() {
			defer s.wg.Done()
			s.handleConn(conn)
		}()
	}
}

func (s *Server) handleConn(conn net.Conn) {
	defer func() { _ = conn.Close() }()

	sc := bufio.NewScanner(conn)
	sc.Buffer(make([]byte, 64*1024), MaxFrameSize)
	for sc.Scan() {
		f, err := decodeFrame(sc.Bytes())
		if err != nil {
			s.log.Warn("bad frame",
				zap.String("remote", conn.RemoteAddr().String()),
				zap.Error(err))
			return
		}
		s.handleFrame(conn, f)
	}
}

func (s *Server) handleFrame(conn net.Conn, f *Frame) {
	switch f.Kind {
	case KindMessage:
		var m store.Message
		if err := json.Unmarshal(f.Payload, &m); err != nil {
			s.dropFrame(f, err)
			return
		}
		s.bus.Emit("net.message", &m)

	case KindTransferOff, KindTransferStat:
		var t store.FileTransfer
		if err := json.Unmarshal(f.Payload, &t); err != nil {
			s.dropFrame(f, err)
			return
		}
		s.bus.Emit("net.transfer", &t)

	case KindReadReceipt:
		s.bus.Emit("net.read_receipt", f.From)

	case KindPullRequest:
		s.servePull(conn, f.From)

	case KindTransferData:
		var d TransferData
		if err := json.Unmarshal(f.Payload, &d); err != nil {
			s.dropFrame(f, err)
			return
		}
		s.sinkChunk(&d)

	default:
		s.log.Warn("unknown frame kind", zap.String("kind", f.Kind))
	}
}

// servePull answers a peer's full-state poll with our shared history.
func (s *Server) servePull(conn net.Conn, peerID string) {
	snap, err := s.db.SnapshotFor(peerID)
	if err != nil {
		s.log.Error("snapshot for pull", zap.String("peer", peerID), zap.Error(err))
		return
	}
	buf, err := encodeFrame(KindPullResponse, s.localID, scrubSnapshot(snap))
	if err != nil {
		s.log.Error("encode pull response", zap.String("peer", peerID), zap.Error(err))
		return
	}
	if _, err := conn.Write(buf); err != nil {
		s.log.Warn("write pull response", zap.String("peer", peerID), zap.Error(err))
	}
}

// sinkChunk appends a file data chunk to the transfer's destination
// file. Chunks for transfers we never accepted are dropped.
func (s *Server) sinkChunk(d *TransferData) {
	sink, t, err := s.sink(d.TransferID)
	if err != nil {
		// Covers cancellation mid-stream: the record goes terminal and
		// remaining chunks are discarded.
		s.closeSink(d.TransferID)
		s.log.Warn("dropping file chunk",
			zap.String("transfer", d.TransferID),
			zap.Error(err))
		return
	}

	if len(d.Data) > 0 {
		if _, err := sink.file.Write(d.Data); err != nil {
			s.closeSink(d.TransferID)
			s.log.Error("write chunk",
				zap.String("transfer", d.TransferID),
				zap.Error(err))
			fail := *t
			fail.Status = store.StatusFailed
			fail.Error = err.Error()
			s.bus.Emit("net.transfer", &fail)
			return
		}
		sink.written += int64(len(d.Data))
		s.bus.Emit("net.transfer_progress", &store.ProgressUpdate{
			TransferID: d.TransferID,
			Bytes:      sink.written,
		})
	}

	if d.Done {
		written := sink.written
		s.closeSink(d.TransferID)
		done := *t
		done.Status = store.StatusCompleted
		done.BytesTransferred = written
		s.bus.Emit("net.transfer", &done)
		s.log.Info("file received",
			zap.String("transfer", d.TransferID),
			zap.Int64("bytes", written))
	}
}

// sink returns the open destination file for a transfer, opening it on
// the first chunk.
func (s *Server) sink(transferID string) (*fileSink, *store.FileTransfer, error) {
	t, err := s.db.GetTransfer(transferID)
	if err != nil {
		return nil, nil, err
	}
	if t == nil {
		return nil, nil, fmt.Errorf("unknown transfer %s", transferID)
	}
	if t.Status != store.StatusInProgress {
		return nil, nil, fmt.Errorf("transfer %s is %s, not in_progress", transferID, t.Status)
	}
	if t.DestPath == "" {
		return nil, nil, fmt.Errorf("transfer %s has no destination path", transferID)
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if sink, ok := s.sinks[transferID]; ok {
		return sink, t, nil
	}
	file, err := os.OpenFile(t.DestPath, os.O_CREATE|os.O_WRONLY|os.O_TRUNC, 0o644)
	if err != nil {
		return nil, nil, err
	}
	sink := &fileSink{file: file}
	s.sinks[transferID] = sink
	return sink, t, nil
}

func (s *Server) closeSink(transferID string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if sink, ok := s.sinks[transferID]; ok {
		_ = sink.file.Close()
		delete(s.sinks, transferID)
	}
}

func (s *Server) dropFrame(f *Frame, err error) {
	s.log.Warn("dropping malformed payload",
		zap.String("kind", f.Kind),
		zap.String("from", f.From),
		zap.Error(err))
}
