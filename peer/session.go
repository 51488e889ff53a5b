// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//     http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.
package peer

import (
	"context"
	"errors"
	"fmt"
	"net"
	"sync"
	"time"

	"github.com/andres-erbsen/clock"
	"github.com/satori/go.uuid"
	"github.com/willf/bitset"
	"go.uber.org/zap"

	"github.com/SkyPlay-Code/btswarm/choke"
	"github.com/SkyPlay-Code/btswarm/core"
	"github.com/SkyPlay-Code/btswarm/metrics"
	"github.com/SkyPlay-Code/btswarm/utils/bandwidth"
	"github.com/SkyPlay-Code/btswarm/wire"

	"github.com/uber-go/tally"
)

// Mode selects which wire messages a Session's request pipeline speaks:
// ordinary block requests against piece data, or BEP-9 ut_metadata
// requests against a still-unknown info dictionary.
type Mode int

const (
	// ModeBlocks drives the ordinary request/piece message pair.
	ModeBlocks Mode = iota
	// ModeMetadata drives the ut_metadata request/data extended-message
	// pair, used before a magnet-sourced torrent's info dictionary is
	// known. Metadata requests are not subject to choking, per BEP-9.
	ModeMetadata
)

// Queue is the subset of the swarm's peer candidate queue a Session needs
// to feed newly discovered ut_pex addresses into.
type Queue interface {
	Push(addr net.TCPAddr) bool
}

// errSessionClosed is returned by send when the session has already torn
// down its write path.
var errSessionClosed = errors.New("peer: session closed")

// Session drives one peer connection through its lifecycle: HANDSHAKE, an
// optional extension handshake, INTERESTED, then the steady-state RUN
// read/dispatch loop, ending in DEAD. Exactly
// one Session exists per live socket; it owns that socket and its own
// per-session counters, and holds only a non-owning handle to the
// Manager (piece store or metadata fetcher) driving its request pipeline.
type Session struct {
	infoHash  core.InfoHash
	localID   core.PeerID
	numPieces int
	manager   Manager
	mode      Mode
	queue     Queue
	live      *LiveSet
	controller *choke.Controller
	cfg       Config
	limiter   *bandwidth.Limiter
	clock     clock.Clock
	logger    *zap.SugaredLogger
	scope     tally.Scope
	corrID    uuid.UUID

	conn                    net.Conn
	remoteAddr              net.TCPAddr
	remoteID                core.PeerID
	remoteSupportsExtension bool

	sender    chan []byte
	done      chan struct{}
	closeOnce sync.Once
	wg        sync.WaitGroup

	mu                 sync.Mutex
	amChoking          bool
	amInterested       bool
	peerChoking        bool
	peerInterested     bool
	downloadWindow     int64
	uploadWindow       int64
	lastDataReceivedAt time.Time

	ext         *extensionState
	sentPEX     map[string]struct{}
	pexOnce     sync.Once

	// outstanding maps each in-flight request to its issuance time, for
	// download-time metrics and for dropping requests the scheduler has
	// timed out.
	outstanding map[core.BlockSpec]time.Time
}

// NewSession creates a Session ready to drive conn through its lifecycle.
// numPieces sizes incoming bitfield parsing and is ignored in
// ModeMetadata (0 is fine there).
func NewSession(
	infoHash core.InfoHash,
	localID core.PeerID,
	numPieces int,
	manager Manager,
	mode Mode,
	queue Queue,
	live *LiveSet,
	controller *choke.Controller,
	cfg Config,
	limiter *bandwidth.Limiter,
	clk clock.Clock,
	logger *zap.SugaredLogger,
	scope tally.Scope,
) *Session {
	cfg.ApplyDefaults()
	if clk == nil {
		clk = clock.New()
	}
	if logger == nil {
		logger = zap.NewNop().Sugar()
	}
	if scope == nil {
		scope = metrics.NewTestScope()
	}
	return &Session{
		infoHash:    infoHash,
		localID:     localID,
		numPieces:   numPieces,
		manager:     manager,
		mode:        mode,
		queue:       queue,
		live:        live,
		controller:  controller,
		cfg:         cfg,
		limiter:     limiter,
		clock:       clk,
		logger:      logger.With("module", "peer"),
		scope:       metrics.Module(scope, "peer"),
		corrID:      uuid.NewV4(),
		peerChoking: true,
		amChoking:   true,
		ext:         newExtensionState(),
		sentPEX:     make(map[string]struct{}),
		outstanding: make(map[core.BlockSpec]time.Time),
	}
}

func addrKey(addr net.TCPAddr) string {
	return addr.String()
}

// ID returns the remote peer's id. Only meaningful once the handshake has
// completed.
func (s *Session) ID() core.PeerID { return s.remoteID }

// PeerInterested reports the remote's last-announced interest in us.
func (s *Session) PeerInterested() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.peerInterested
}

// LastDataReceivedAt reports when a "piece" or ut_metadata data message was
// last received from this peer.
func (s *Session) LastDataReceivedAt() time.Time {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.lastDataReceivedAt
}

// AmChoking reports our current am_choking flag toward this peer.
func (s *Session) AmChoking() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.amChoking
}

// SetChoking transitions am_choking, sending the corresponding choke/
// unchoke message if the flag actually changes. Called only by the choke
// controller.
func (s *Session) SetChoking(chokeIt bool) error {
	s.mu.Lock()
	if s.amChoking == chokeIt {
		s.mu.Unlock()
		return nil
	}
	s.amChoking = chokeIt
	s.mu.Unlock()

	id := wire.Unchoke
	if chokeIt {
		id = wire.Choke
	}
	return s.send(wire.Encode(id, nil))
}

// Tick reports the bytes downloaded from and uploaded to this peer since
// the last call, resetting both windows to zero. Called once per choke
// controller tick.
func (s *Session) Tick() (downloaded, uploaded int64) {
	s.mu.Lock()
	defer s.mu.Unlock()
	downloaded, uploaded = s.downloadWindow, s.uploadWindow
	s.downloadWindow, s.uploadWindow = 0, 0
	return downloaded, uploaded
}

// Run drives conn (already dialed, or accepted, and passed through any
// StreamWrapper) through HANDSHAKE, the optional extension handshake,
// INTERESTED, and RUN, returning only once the session has reached DEAD.
// The caller -- a swarm worker -- is expected to treat any returned error
// as informational: a dead session is simply discarded, never retried
// against the same address within the same worker iteration.
func (s *Session) Run(ctx context.Context, conn net.Conn, addr net.TCPAddr) error {
	s.conn = conn
	s.remoteAddr = addr
	s.done = make(chan struct{})
	s.sender = make(chan []byte, s.cfg.SenderBufferSize)

	watchDone := make(chan struct{})
	go func() {
		select {
		case <-ctx.Done():
			s.conn.Close()
		case <-watchDone:
		}
	}()
	defer close(watchDone)

	if err := s.handshake(); err != nil {
		metrics.IncPeerConnected(s.scope, "handshake_failed")
		return fmt.Errorf("peer: handshake: %s", err)
	}
	metrics.IncPeerConnected(s.scope, "connected")

	// Registration order matters: defers run LIFO, and writeLoop/pexLoop
	// only exit once teardown closes s.done, so teardown must be deferred
	// after wg.Wait to run before it.
	defer s.wg.Wait()
	defer s.teardown()

	s.manager.AddPeer(s.remoteID, nil)
	s.mu.Lock()
	s.lastDataReceivedAt = s.clock.Now()
	s.mu.Unlock()

	s.wg.Add(1)
	go func() { defer s.wg.Done(); s.writeLoop() }()

	s.wg.Add(1)
	go func() { defer s.wg.Done(); s.requestTimeoutLoop() }()

	if s.remoteSupportsExtension {
		if err := s.send(wire.ExtendedMessage(localExtIDHandshake, buildExtHandshake(), nil)); err != nil {
			return fmt.Errorf("peer: send extension handshake: %s", err)
		}
	}

	if s.mode == ModeBlocks {
		s.mu.Lock()
		s.amInterested = true
		s.mu.Unlock()
		if err := s.send(wire.Encode(wire.Interested, nil)); err != nil {
			return fmt.Errorf("peer: send interested: %s", err)
		}
		if s.controller != nil {
			s.controller.Register(s)
			defer s.controller.Deregister(s.remoteID)
		}
	}
	if s.live != nil {
		s.live.Register(s.remoteID, addr)
		defer s.live.Deregister(s.remoteID)
	}

	s.logger.Debugw("peer session running",
		"peer", s.remoteID, "addr", addr.String(), "corr_id", s.corrID.String())

	return s.runLoop(ctx)
}

// handshake performs the fixed 68-byte handshake exchange under a single
// deadline covering both directions.
func (s *Session) handshake() error {
	deadline := time.Now().Add(s.cfg.HandshakeTimeout)
	if err := s.conn.SetDeadline(deadline); err != nil {
		return err
	}
	if err := wire.WriteHandshake(s.conn, s.infoHash, s.localID); err != nil {
		return err
	}
	hs, err := wire.ReadHandshake(s.conn)
	if err != nil {
		return err
	}
	if hs.InfoHash != s.infoHash {
		return fmt.Errorf("info hash mismatch: got %s, want %s", hs.InfoHash, s.infoHash)
	}
	s.remoteID = hs.PeerID
	s.remoteSupportsExtension = hs.SupportsExtensionProtocol()
	return s.conn.SetDeadline(time.Time{})
}

func (s *Session) runLoop(ctx context.Context) error {
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		default:
		}
		if err := s.conn.SetReadDeadline(time.Now().Add(s.cfg.InactivityTimeout)); err != nil {
			return err
		}
		frame, err := wire.ReadFrame(s.conn)
		if err != nil {
			return err
		}
		if frame.KeepAlive {
			continue
		}
		if err := s.handleFrame(frame); err != nil {
			return fmt.Errorf("peer: handle %s: %s", frame.ID, err)
		}
	}
}

func (s *Session) teardown() {
	s.closeOnce.Do(func() {
		close(s.done)
		s.conn.Close()
		if s.remoteID != (core.PeerID{}) {
			s.manager.RemovePeer(s.remoteID)
		}
	})
}

func (s *Session) send(b []byte) error {
	select {
	case s.sender <- b:
		return nil
	case <-s.done:
		return errSessionClosed
	}
}

func (s *Session) writeLoop() {
	for {
		select {
		case b := <-s.sender:
			if err := s.conn.SetWriteDeadline(time.Now().Add(s.cfg.WriteTimeout)); err != nil {
				return
			}
			if _, err := s.conn.Write(b); err != nil {
				s.conn.Close()
				return
			}
		case <-s.done:
			return
		}
	}
}

// handleFrame dispatches a single decoded message, per its
// per-id behavior.
func (s *Session) handleFrame(f wire.Frame) error {
	switch f.ID {
	case wire.Choke:
		s.mu.Lock()
		s.peerChoking = true
		outstanding := make([]core.BlockSpec, 0, len(s.outstanding))
		for b := range s.outstanding {
			outstanding = append(outstanding, b)
			delete(s.outstanding, b)
		}
		s.mu.Unlock()
		if s.mode == ModeBlocks {
			for _, b := range outstanding {
				s.send(wire.CancelMessage(b.PieceIndex, b.Offset, b.Length))
			}
		}
		return nil

	case wire.Unchoke:
		s.mu.Lock()
		s.peerChoking = false
		s.mu.Unlock()
		return s.fillPipeline()

	case wire.Interested:
		s.mu.Lock()
		s.peerInterested = true
		s.mu.Unlock()
		return nil

	case wire.NotInterested:
		s.mu.Lock()
		s.peerInterested = false
		s.mu.Unlock()
		return nil

	case wire.Have:
		idx, err := wire.DecodeHave(f.Payload)
		if err != nil {
			return err
		}
		s.manager.UpdatePeer(s.remoteID, idx)
		return s.fillPipeline()

	case wire.Bitfield:
		if s.mode != ModeBlocks || s.numPieces == 0 {
			return nil
		}
		bits := parseBitfield(f.Payload, s.numPieces)
		s.manager.AddPeer(s.remoteID, bits)
		return s.fillPipeline()

	case wire.Request:
		req, err := wire.DecodeBlockRequest(f.Payload)
		if err != nil {
			return err
		}
		return s.handleRequest(req)

	case wire.Piece:
		pb, err := wire.DecodePieceMessage(f.Payload)
		if err != nil {
			return err
		}
		return s.handlePiece(pb)

	case wire.Cancel:
		// Nothing queued server-side to cancel in this design: upload
		// responses are written synchronously as requests arrive.
		return nil

	case wire.Extended:
		payload, err := wire.DecodeExtended(f.Payload)
		if err != nil {
			return err
		}
		return s.handleExtended(payload)

	default:
		s.logger.Debugw("ignoring unknown message id", "id", uint8(f.ID), "peer", s.remoteID)
		return nil
	}
}

func (s *Session) handleRequest(req wire.BlockRequest) error {
	start := s.clock.Now()
	if s.AmChoking() {
		return nil
	}
	if req.Length > s.cfg.MaxIncomingRequestLength {
		s.logger.Debugw("dropping oversized request", "peer", s.remoteID, "length", req.Length)
		return nil
	}
	block := core.BlockSpec{PieceIndex: req.Index, Offset: req.Begin, Length: req.Length}
	data, err := s.manager.ReadBlock(block)
	if err != nil {
		// Not an error worth tearing down the session over: the peer
		// asked for something we don't have (yet, or ever, in the
		// metadata-upload case).
		return nil
	}
	if s.limiter != nil {
		if err := s.limiter.ReserveEgress(int64(len(data))); err != nil {
			s.logger.Debugw("egress reservation failed, serving anyway", "peer", s.remoteID, "error", err)
		}
	}
	if err := s.send(wire.PieceMessage(req.Index, req.Begin, data)); err != nil {
		return err
	}
	s.mu.Lock()
	s.uploadWindow += int64(len(data))
	s.mu.Unlock()
	metrics.RecordUpload(s.scope, int64(len(data)), s.clock.Now().Sub(start))
	return nil
}

func (s *Session) handlePiece(pb wire.PieceBlock) error {
	if s.limiter != nil {
		if err := s.limiter.ReserveIngress(int64(len(pb.Data))); err != nil {
			s.logger.Debugw("ingress reservation failed, accepting anyway", "peer", s.remoteID, "error", err)
		}
	}
	block := core.BlockSpec{PieceIndex: pb.Index, Offset: pb.Begin, Length: len(pb.Data)}
	now := s.clock.Now()
	s.mu.Lock()
	s.downloadWindow += int64(len(pb.Data))
	s.lastDataReceivedAt = now
	issuedAt, tracked := s.outstanding[block]
	delete(s.outstanding, block)
	s.mu.Unlock()
	if tracked {
		metrics.RecordDownload(s.scope, int64(len(pb.Data)), now.Sub(issuedAt))
	} else {
		// An unsolicited or endgame-duplicate block still counts toward
		// volume, but its timing is meaningless.
		s.scope.Counter("bytes_downloaded").Inc(int64(len(pb.Data)))
	}

	if _, err := s.manager.BlockReceived(s.remoteID, block, pb.Data); err != nil {
		s.logger.Debugw("block rejected", "peer", s.remoteID, "block", block.String(), "error", err)
	}
	if s.mode == ModeBlocks {
		return s.fillPipeline()
	}
	return nil
}

func (s *Session) handleExtended(payload wire.ExtendedPayload) error {
	switch int(payload.ExtID) {
	case localExtIDHandshake:
		if err := s.ext.applyHandshake(payload.Rest); err != nil {
			return err
		}
		if s.mode == ModeMetadata && s.ext.metadataSize > 0 {
			if setter, ok := s.manager.(interface{ SetSize(int64) }); ok {
				setter.SetSize(s.ext.metadataSize)
			}
		}
		s.startPEXOnce()
		return s.fillPipeline()

	case localExtIDUTPex:
		addrs, err := decodeUTPexMessage(payload.Rest)
		if err != nil {
			return err
		}
		if s.queue != nil {
			for _, a := range addrs {
				s.queue.Push(a)
			}
		}
		return nil

	case localExtIDUTMetadata:
		return s.handleUTMetadata(payload.Rest)

	default:
		s.logger.Debugw("ignoring unknown extension id", "ext_id", payload.ExtID, "peer", s.remoteID)
		return nil
	}
}

func (s *Session) handleUTMetadata(rest []byte) error {
	header, tail, err := decodeUTMetadataMessage(rest)
	if err != nil {
		return err
	}
	switch header.MsgType {
	case utMetadataMsgTypeRequest:
		// This engine only leeches metadata; it never re-serves it.
		if remoteID, ok := s.ext.remoteUTMetadataID(); ok {
			return s.send(buildUTMetadataReject(uint8(remoteID), header.Piece))
		}
		return nil
	case utMetadataMsgTypeData:
		block := core.BlockSpec{PieceIndex: header.Piece, Offset: 0, Length: len(tail)}
		s.mu.Lock()
		s.lastDataReceivedAt = s.clock.Now()
		delete(s.outstanding, block)
		s.mu.Unlock()
		if _, err := s.manager.BlockReceived(s.remoteID, block, tail); err != nil {
			s.logger.Debugw("metadata block rejected", "peer", s.remoteID, "piece", header.Piece, "error", err)
		}
		return s.fillPipeline()
	case utMetadataMsgTypeReject:
		// The remote won't serve this piece. Its request stays in
		// s.outstanding, so this session does not request it again.
		return nil
	default:
		return fmt.Errorf("unknown ut_metadata msg_type %d", header.MsgType)
	}
}

// fillPipeline requests as many additional blocks as the configured
// pipeline depth allows, stopping early once the manager hands back a
// block that is already outstanding. In ModeBlocks, no request is made while the
// remote is choking us. In ModeMetadata, requests bypass choking entirely
// (BEP-9) but require the remote's ut_metadata extension id to be known.
func (s *Session) fillPipeline() error {
	if s.mode == ModeBlocks {
		s.mu.Lock()
		choked := s.peerChoking
		s.mu.Unlock()
		if choked {
			return nil
		}
	}
	if s.mode == ModeMetadata {
		if _, ok := s.ext.remoteUTMetadataID(); !ok {
			return nil
		}
	}

	for {
		s.mu.Lock()
		depth := len(s.outstanding)
		s.mu.Unlock()
		if depth >= s.pipelineDepth() {
			return nil
		}
		block, ok, err := s.manager.NextRequest(s.remoteID)
		if err != nil {
			return err
		}
		if !ok {
			return nil
		}
		s.mu.Lock()
		_, requested := s.outstanding[block]
		s.mu.Unlock()
		if requested {
			return nil
		}
		if err := s.requestBlock(block); err != nil {
			return err
		}
		s.mu.Lock()
		s.outstanding[block] = s.clock.Now()
		s.mu.Unlock()
	}
}

func (s *Session) pipelineDepth() int {
	if s.cfg.PipelineDepth <= 0 {
		return 1
	}
	return s.cfg.PipelineDepth
}

func (s *Session) requestBlock(block core.BlockSpec) error {
	switch s.mode {
	case ModeBlocks:
		return s.send(wire.RequestMessage(block.PieceIndex, block.Offset, block.Length))
	case ModeMetadata:
		id, ok := s.ext.remoteUTMetadataID()
		if !ok {
			return errors.New("peer: remote does not support ut_metadata")
		}
		return s.send(buildUTMetadataRequest(uint8(id), block.PieceIndex))
	default:
		return fmt.Errorf("peer: unknown mode %d", s.mode)
	}
}

// startPEXOnce launches the periodic ut_pex broadcast loop the first time
// a session learns its remote supports ut_pex. Safe to call from every
// extension-handshake receipt; only the first call after construction has
// any effect.
func (s *Session) startPEXOnce() {
	if s.live == nil || !s.ext.remoteSupportsUTPex() {
		return
	}
	s.pexOnce.Do(func() {
		s.wg.Add(1)
		go func() {
			defer s.wg.Done()
			s.pexLoop()
		}()
	})
}

// pexLoop periodically advertises newly seen live peers to the remote
// over ut_pex, on a fixed heartbeat, until the session tears
// down.
func (s *Session) pexLoop() {
	ticker := s.clock.Ticker(s.cfg.PEXInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ticker.C:
			s.sendPEX()
		case <-s.done:
			return
		}
	}
}

// sendPEX advertises every live peer this session hasn't already sent,
// capped at PEXMaxPeersPerMessage per message.
func (s *Session) sendPEX() {
	remoteID, ok := s.ext.remoteUTPexID()
	if !ok {
		return
	}
	candidates := s.live.Snapshot(s.remoteID)

	s.mu.Lock()
	fresh := make([]net.TCPAddr, 0, len(candidates))
	for _, addr := range candidates {
		key := addrKey(addr)
		if _, sent := s.sentPEX[key]; sent {
			continue
		}
		fresh = append(fresh, addr)
		if len(fresh) >= s.cfg.PEXMaxPeersPerMessage {
			break
		}
	}
	for _, addr := range fresh {
		s.sentPEX[addrKey(addr)] = struct{}{}
	}
	s.mu.Unlock()

	if len(fresh) == 0 {
		return
	}
	if err := s.send(buildUTPexMessage(uint8(remoteID), fresh)); err != nil {
		s.logger.Debugw("failed to send pex message", "peer", s.remoteID, "error", err)
	}
}

// requestTimeoutLoop periodically asks the manager which of this peer's
// outstanding requests timed out at the scheduler level, so they can be
// reissued. Without it the retry never fires: fillPipeline only ever
// shrinks s.outstanding on a matching reply, so a peer that accepts a
// request and then goes silent (without letting the connection itself go
// idle) would wedge the pipeline for the rest of the session's life.
func (s *Session) requestTimeoutLoop() {
	ticker := s.clock.Ticker(s.cfg.RequestRetryInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ticker.C:
			s.retryExpiredRequests()
		case <-s.done:
			return
		}
	}
}

// retryExpiredRequests drops every outstanding block belonging to a piece
// (or metadata block) the manager no longer considers pending, then
// refills the pipeline so NextRequest can reissue them.
func (s *Session) retryExpiredRequests() {
	expired := s.manager.ExpiredRequests(s.remoteID)
	if len(expired) == 0 {
		return
	}
	stale := make(map[int]struct{}, len(expired))
	for _, piece := range expired {
		stale[piece] = struct{}{}
	}

	s.mu.Lock()
	for b := range s.outstanding {
		if _, ok := stale[b.PieceIndex]; ok {
			delete(s.outstanding, b)
		}
	}
	s.mu.Unlock()

	if err := s.fillPipeline(); err != nil {
		s.logger.Debugw("failed to refill pipeline after request timeout", "peer", s.remoteID, "error", err)
	}
}

// parseBitfield decodes a wire bitfield payload into a bitset sized for
// numPieces, MSB-first within each byte, ignoring any index at or past
// numPieces (a non-conformant peer's padding or overflow).
func parseBitfield(payload []byte, numPieces int) *bitset.BitSet {
	bits := bitset.New(uint(numPieces))
	for i := 0; i < numPieces; i++ {
		byteIdx := i / 8
		if byteIdx >= len(payload) {
			break
		}
		if payload[byteIdx]&(1<<uint(7-i%8)) != 0 {
			bits.Set(uint(i))
		}
	}
	return bits
}
