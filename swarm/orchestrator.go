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
package swarm

import (
	"context"
	"fmt"
	"net"
	"path/filepath"
	"sync"
	"time"

	"github.com/andres-erbsen/clock"
	"go.uber.org/multierr"
	"go.uber.org/zap"

	"github.com/SkyPlay-Code/btswarm/choke"
	"github.com/SkyPlay-Code/btswarm/core"
	"github.com/SkyPlay-Code/btswarm/dht"
	"github.com/SkyPlay-Code/btswarm/meta"
	"github.com/SkyPlay-Code/btswarm/metadatafetcher"
	"github.com/SkyPlay-Code/btswarm/metrics"
	"github.com/SkyPlay-Code/btswarm/mse"
	"github.com/SkyPlay-Code/btswarm/nat"
	"github.com/SkyPlay-Code/btswarm/peer"
	"github.com/SkyPlay-Code/btswarm/storage/filemapper"
	"github.com/SkyPlay-Code/btswarm/storage/piecestore"
	"github.com/SkyPlay-Code/btswarm/utils/bandwidth"

	"github.com/uber-go/tally"
)

// PeerSource is the common contract every peer discovery mechanism
// (tracker, DHT, static list) satisfies, identical to
// tracker.PeerSource's own NextPeers method.
type PeerSource interface {
	NextPeers(ctx context.Context) ([]net.TCPAddr, error)
}

// dhtSource adapts a dht.Client, which is looked up per-info-hash, into a
// PeerSource bound to one torrent.
type dhtSource struct {
	client   dht.Client
	infoHash core.InfoHash
}

func (d dhtSource) NextPeers(ctx context.Context) ([]net.TCPAddr, error) {
	return d.client.FindPeers(ctx, d.infoHash)
}

// Dependencies bundles every component Config and external collaborator
// an Orchestrator needs, besides the torrent descriptor itself.
type Dependencies struct {
	PeerConfig      peer.Config
	ChokeConfig     choke.Config
	PendingConfig   piecestore.PendingConfig
	CacheConfig     filemapper.CacheConfig
	BandwidthConfig bandwidth.Config

	Sources    []PeerSource
	DHTClient  dht.Client
	PortMapper nat.PortMapper
	StreamWrap mse.StreamWrapper

	Clock  clock.Clock
	Logger *zap.SugaredLogger
	Scope  tally.Scope
}

func (d *Dependencies) applyDefaults() {
	d.PeerConfig.ApplyDefaults()
	if d.DHTClient == nil {
		d.DHTClient = dht.NoOpClient{}
	}
	if d.PortMapper == nil {
		d.PortMapper = nat.NoOpPortMapper{}
	}
	if d.StreamWrap == nil {
		d.StreamWrap = mse.Identity
	}
	if d.Clock == nil {
		d.Clock = clock.New()
	}
	if d.Logger == nil {
		d.Logger = zap.NewNop().Sugar()
	}
	if d.Scope == nil {
		d.Scope = metrics.NewTestScope()
	}
}

// Orchestrator drives one torrent's full lifecycle: polling its peer
// sources into a shared queue, dialing and accepting connections up to
// MaxPeers, running the choke controller, and transitioning from
// PhaseMagnet through PhaseTransition into PhaseDownload/PhaseSeed once
// the info dictionary is known and storage is open.
type Orchestrator struct {
	descriptor *meta.Descriptor
	localID    core.PeerID
	cfg        Config
	deps       Dependencies

	dialer     *peer.Dialer
	queue      *PeerQueue
	live       *peer.LiveSet
	limiter    *bandwidth.Limiter
	controller *choke.Controller
	phase      *phaseMachine
	logger     *zap.SugaredLogger
	scope      tally.Scope

	mu        sync.RWMutex
	manager   peer.Manager
	numPieces int
	store     *piecestore.Store
	cache     *filemapper.Cache

	listener net.Listener
	cancel   context.CancelFunc
	wg       sync.WaitGroup
	stopOnce sync.Once
	done     chan struct{}
}

// New creates an Orchestrator for descriptor. If descriptor is not yet
// Loaded (a bare magnet URI), the swarm starts in PhaseMagnet and fetches
// the info dictionary over ut_metadata before opening any storage.
func New(descriptor *meta.Descriptor, localID core.PeerID, cfg Config, deps Dependencies) (*Orchestrator, error) {
	cfg.applyDefaults()
	deps.applyDefaults()

	limiter, err := bandwidth.NewLimiter(deps.BandwidthConfig)
	if err != nil {
		return nil, fmt.Errorf("swarm: bandwidth limiter: %s", err)
	}

	o := &Orchestrator{
		descriptor: descriptor,
		localID:    localID,
		cfg:        cfg,
		deps:       deps,
		dialer:     peer.NewDialer(cfg.MaxHalfOpenDials, deps.StreamWrap),
		queue:      NewPeerQueue(cfg.QueueCapacity),
		live:       peer.NewLiveSet(),
		limiter:    limiter,
		logger:     deps.Logger.With("module", "swarm"),
		scope:      metrics.Module(deps.Scope, "swarm"),
		done:       make(chan struct{}),
	}
	o.controller = choke.NewController(deps.ChokeConfig, deps.Clock, o.phaseSeeding, o.logger, o.scope)

	if descriptor.Loaded() {
		o.phase = newPhaseMachine(PhaseTransition)
		if err := o.openStorage(descriptor.Info()); err != nil {
			return nil, err
		}
	} else {
		o.phase = newPhaseMachine(PhaseMagnet)
		fetcher := metadatafetcher.New(descriptor.InfoHash)
		o.manager = peer.NewMetadataManager(fetcher, o.onMetadataComplete)
	}
	return o, nil
}

func (o *Orchestrator) phaseSeeding() bool {
	return o.phase.Seeding()
}

// onMetadataComplete is invoked by the metadata manager, from whichever
// peer session's BlockReceived call assembles the last block, once the
// info dictionary's digest has been verified.
func (o *Orchestrator) onMetadataComplete(data []byte) {
	o.phase.SetPhase(PhaseTransition)
	if err := o.descriptor.LoadMetadata(data); err != nil {
		o.logger.Errorw("fetched metadata failed validation", "error", err)
		o.phase.SetPhase(PhaseMagnet)
		return
	}
	if err := o.openStorage(o.descriptor.Info()); err != nil {
		o.logger.Errorw("failed to open storage after metadata fetch", "error", err)
		o.phase.SetPhase(PhaseMagnet)
		return
	}
	o.logger.Infow("metadata fetched, entering download phase", "info_hash", o.descriptor.InfoHash)
}

// openStorage opens the on-disk mapper, write-back cache, piece store, and
// scheduler for info, resuming from a saved bitfield if one exists, and
// publishes the resulting peer.Manager for subsequent sessions to use.
func (o *Orchestrator) openStorage(info *meta.Info) error {
	dir := filepath.Join(o.cfg.BaseDir, o.descriptor.InfoHash.Hex())
	mapper, err := filemapper.New(dir, info)
	if err != nil {
		return fmt.Errorf("swarm: open file mapper: %s", err)
	}
	if err := mapper.Preallocate(); err != nil {
		return fmt.Errorf("swarm: preallocate files: %s", err)
	}
	cache := filemapper.NewCache(mapper, o.deps.CacheConfig)

	resume, _, err := piecestore.LoadResume(o.cfg.BaseDir, o.descriptor.InfoHash, info.NumPieces())
	if err != nil {
		return fmt.Errorf("swarm: load resume data: %s", err)
	}
	store, err := piecestore.Open(o.descriptor.InfoHash, info, cache, resume)
	if err != nil {
		return fmt.Errorf("swarm: open piece store: %s", err)
	}

	policy := piecestore.NewSelectionPolicy(o.cfg.SelectionPolicy)
	pending := piecestore.NewPendingManager(o.deps.Clock, info.NumPieces(), policy, o.deps.PendingConfig)
	scheduler := piecestore.NewScheduler(store, pending)

	o.mu.Lock()
	o.manager = peer.NewPieceManager(scheduler)
	o.numPieces = info.NumPieces()
	o.store = store
	o.cache = cache
	o.mu.Unlock()

	if store.Complete() {
		o.phase.SetPhase(PhaseSeed)
	} else {
		o.phase.SetPhase(PhaseDownload)
	}
	return nil
}

func (o *Orchestrator) snapshot() (peer.Manager, peer.Mode, int) {
	o.mu.RLock()
	defer o.mu.RUnlock()
	if o.phase.Phase() == PhaseMagnet {
		return o.manager, peer.ModeMetadata, 0
	}
	return o.manager, peer.ModeBlocks, o.numPieces
}

// Run starts every background worker -- peer source polling, dial
// workers, the incoming listener (if configured), and the choke
// controller -- and blocks until ctx is cancelled or Stop is called.
func (o *Orchestrator) Run(ctx context.Context) error {
	ctx, cancel := context.WithCancel(ctx)
	o.cancel = cancel
	defer cancel()

	if _, err := o.deps.PortMapper.Map(ctx, listenPort(o.cfg.ListenAddr)); err != nil {
		o.logger.Debugw("port mapping failed, continuing without it", "error", err)
	}

	o.wg.Add(1)
	go func() { defer o.wg.Done(); o.controller.Run(ctx) }()

	sources := append([]PeerSource(nil), o.deps.Sources...)
	if _, ok := o.deps.DHTClient.(dht.NoOpClient); !ok {
		sources = append(sources, dhtSource{client: o.deps.DHTClient, infoHash: o.descriptor.InfoHash})
	}
	for _, src := range sources {
		o.wg.Add(1)
		go func(src PeerSource) { defer o.wg.Done(); o.pollSource(ctx, src) }(src)
	}

	for i := 0; i < o.cfg.MaxPeers; i++ {
		o.wg.Add(1)
		go func() { defer o.wg.Done(); o.dialWorker(ctx) }()
	}

	if o.cfg.ListenAddr != "" {
		ln, err := net.Listen("tcp", o.cfg.ListenAddr)
		if err != nil {
			return fmt.Errorf("swarm: listen on %s: %s", o.cfg.ListenAddr, err)
		}
		o.listener = ln
		o.wg.Add(1)
		go func() { defer o.wg.Done(); o.acceptLoop(ctx) }()
	}

	<-ctx.Done()
	return ctx.Err()
}

func (o *Orchestrator) pollSource(ctx context.Context, src PeerSource) {
	ticker := o.deps.Clock.Ticker(o.cfg.PeerSourcePollInterval)
	defer ticker.Stop()
	poll := func() {
		addrs, err := src.NextPeers(ctx)
		if err != nil {
			o.logger.Debugw("peer source poll failed", "error", err)
			return
		}
		for _, a := range addrs {
			o.queue.Push(a)
		}
	}
	poll()
	for {
		select {
		case <-ticker.C:
			poll()
		case <-ctx.Done():
			return
		}
	}
}

// dialWorker is one of MaxPeers workers, each looping: pop a candidate,
// dial it (through the dialer's half-open semaphore), run the resulting
// session to completion, loop. Session failure never kills a worker; only
// queue closure or global cancellation does.
func (o *Orchestrator) dialWorker(ctx context.Context) {
	for {
		addr, ok := o.queue.Pop(ctx)
		if !ok {
			return
		}
		conn, err := o.dialer.Dial(ctx, &addr)
		if err != nil {
			o.logger.Debugw("dial failed", "addr", addr.String(), "error", err)
			continue
		}
		o.runSession(ctx, conn, addr)
	}
}

func (o *Orchestrator) acceptLoop(ctx context.Context) {
	go func() {
		<-ctx.Done()
		o.listener.Close()
	}()
	for {
		conn, err := o.listener.Accept()
		if err != nil {
			return
		}
		wrapped, err := o.deps.StreamWrap(conn)
		if err != nil {
			conn.Close()
			continue
		}
		addr, _ := wrapped.RemoteAddr().(*net.TCPAddr)
		if addr == nil {
			addr = &net.TCPAddr{}
		}
		o.wg.Add(1)
		go func(conn net.Conn, addr net.TCPAddr) {
			defer o.wg.Done()
			o.runSession(ctx, conn, addr)
		}(wrapped, *addr)
	}
}

// runSession drives one session over conn to completion.
func (o *Orchestrator) runSession(ctx context.Context, conn net.Conn, addr net.TCPAddr) {
	manager, mode, numPieces := o.snapshot()
	session := peer.NewSession(
		o.descriptor.InfoHash,
		o.localID,
		numPieces,
		manager,
		mode,
		o.queue,
		o.live,
		o.controller,
		o.deps.PeerConfig,
		o.limiter,
		o.deps.Clock,
		o.logger,
		o.scope,
	)
	if err := session.Run(ctx, conn, addr); err != nil {
		o.logger.Debugw("session ended", "addr", addr.String(), "error", err)
	}
}

// Left reports the torrent's current bytes-remaining, for a tracker
// PeerSource's announce parameters.
func (o *Orchestrator) Left() int64 {
	o.mu.RLock()
	defer o.mu.RUnlock()
	if o.store == nil {
		return o.descriptor.TotalLength()
	}
	return o.descriptor.TotalLength() - o.store.DownloadedBytes()
}

// Stop cancels every background worker and waits for them to exit,
// returning the aggregate of every error encountered along the way.
func (o *Orchestrator) Stop() error {
	var err error
	o.stopOnce.Do(func() {
		if o.cancel != nil {
			o.cancel()
		}
		o.queue.Close()
		o.controller.Stop()
		o.wg.Wait()

		if o.listener != nil {
			err = multierr.Append(err, o.listener.Close())
		}
		unmapCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		err = multierr.Append(err, o.deps.PortMapper.Unmap(unmapCtx, listenPort(o.cfg.ListenAddr)))

		o.mu.RLock()
		store, cache := o.store, o.cache
		o.mu.RUnlock()
		// Flush buffered writes to disk before recording any piece as
		// verified in the resume bitfield; a bitfield claiming pieces the
		// cache never flushed would poison the next trust-on-load start.
		if cache != nil {
			err = multierr.Append(err, cache.Close())
		}
		if store != nil {
			err = multierr.Append(err, store.SaveResume(o.cfg.BaseDir))
		}
		close(o.done)
	})
	return err
}

func listenPort(addr string) int {
	_, portStr, err := net.SplitHostPort(addr)
	if err != nil {
		return 0
	}
	var port int
	fmt.Sscanf(portStr, "%d", &port)
	return port
}
