// Package service implements the service state machine (C10) and the
// route pipeline (C11): the two components that turn the leaf pieces
// (ring, rpc, selector) into a running FRET node.
package service

import (
	"context"
	"sync"
	"sync/atomic"
	"time"

	"github.com/benbjohnson/clock"
	"github.com/google/uuid"
	temperr "github.com/jbenet/go-temp-err-catcher"
	"go.uber.org/multierr"

	"github.com/fret/fret/internal/ring"
	"github.com/fret/fret/internal/rpc"
	"github.com/fret/fret/pkg/interfaces"
	"github.com/fret/fret/pkg/lib/log"
	"github.com/fret/fret/pkg/types"
)

var logger = log.Logger("service")

// RunState is the service's operating mode: passive differs from active
// only in stabilization cadence and whether a pre-connect loop runs
// (§4.10).
type RunState int32

const (
	StatePassive RunState = iota
	StateActive
)

// Service wires the Digitree, estimator, selector, and RPC envelope into
// the running stabilization loop and route pipeline. One instance owns
// exactly one Digitree (§5 shared resource policy).
type Service struct {
	cfg     Config
	budgets Budgets
	host    interfaces.HostRuntime
	clock   clock.Clock

	store     *ring.Digitree
	sparsity  *ring.SparsityModel
	estimator *ring.Estimator

	dedup   *rpc.DedupCache
	buckets map[string]*rpc.TokenBucket
	backoff *BackoffMap
	diag    *Diagnostics

	runState atomic.Int32
	started  atomic.Bool
	stopCh   chan struct{}
	wg       sync.WaitGroup
	tickMu   sync.Mutex // serializes stabilization ticks (O3)

	inflightAct atomic.Int32

	activityMu sync.RWMutex
	activity   interfaces.ActivityHandler

	announcedMu sync.Mutex
	announced   map[types.PeerID]time.Time

	unsubscribe func()

	// tickErrCatcher isolates transient per-peer errors during a
	// stabilization tick from a genuine pattern of persistent failures
	// (§4.10: "errors per peer are logged and isolated; the tick never
	// throws"); once it stops treating errors as temporary, the tick
	// abandons the remaining probe targets for that phase rather than
	// burning the whole interval retrying a peer that is clearly gone.
	tickErrCatcher temperr.TempErrCatcher
}

// New constructs a Service. The clock defaults to the real wall clock;
// pass a *clock.Mock in tests for deterministic stabilization ticks.
func New(cfg Config, host interfaces.HostRuntime, clk clock.Clock) (*Service, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	if clk == nil {
		clk = clock.New()
	}
	selfID := types.PeerID(host.SelfID())
	store := ring.NewDigitree(selfID, cfg.Capacity, cfg.M)
	budgets := BudgetsFor(cfg.Profile)

	s := &Service{
		cfg:       cfg,
		budgets:   budgets,
		host:      host,
		clock:     clk,
		store:     store,
		sparsity:  ring.NewSparsityModel(),
		dedup:     rpc.NewDedupCache(cfg.DedupTTL, cfg.DedupMax),
		backoff:   NewBackoffMap(clk),
		diag:      NewDiagnostics(),
		announced: make(map[types.PeerID]time.Time),
		buckets:   make(map[string]*rpc.TokenBucket),
	}
	s.estimator = ring.NewEstimator(clk, s.selfSizeEstimate)
	s.buckets["ping"] = rpc.NewTokenBucket(clk, budgets.PingRate*2, budgets.PingRate)
	s.buckets["neighbors"] = rpc.NewTokenBucket(clk, budgets.NeighborsRate*2, budgets.NeighborsRate)
	s.buckets["maybeAct"] = rpc.NewTokenBucket(clk, budgets.MaybeActRate*2, budgets.MaybeActRate)
	s.buckets["discovery"] = rpc.NewTokenBucket(clk, budgets.DiscoveryRate*2, budgets.DiscoveryRate)
	return s, nil
}

// SetActivityHandler registers the single application-supplied activity
// callback (§9). Absence is the zero value (nil).
func (s *Service) SetActivityHandler(h interfaces.ActivityHandler) {
	s.activityMu.Lock()
	defer s.activityMu.Unlock()
	s.activity = h
}

func (s *Service) activityHandler() interfaces.ActivityHandler {
	s.activityMu.RLock()
	defer s.activityMu.RUnlock()
	return s.activity
}

func (s *Service) selfID() types.PeerID { return s.store.SelfID() }

// SelfID returns this service's own peer id.
func (s *Service) SelfID() types.PeerID { return s.store.SelfID() }

// selfSizeEstimate derives a self-estimate from the spacing of self's S/P
// set: the denser the local band, the larger the inferred network (§4.4).
func (s *Service) selfSizeEstimate() (int, float64) {
	right := s.store.NeighborsRight(s.store.SelfCoord(), s.cfg.M)
	left := s.store.NeighborsLeft(s.store.SelfCoord(), s.cfg.M)
	total := len(right) + len(left)
	if total == 0 {
		return 0, 0
	}
	// A very rough density-to-population inference: the closer the
	// nearest neighbors sit (smaller normalized distance), the larger
	// the inferred total population at that density.
	var sumDist float64
	count := 0
	for _, id := range right {
		if e, ok := s.store.GetByID(id); ok && id != s.selfID() {
			sumDist += types.NormalizedLogDistance(s.store.SelfCoord(), e.Coord)
			count++
		}
	}
	for _, id := range left {
		if e, ok := s.store.GetByID(id); ok && id != s.selfID() {
			sumDist += types.NormalizedLogDistance(s.store.SelfCoord(), e.Coord)
			count++
		}
	}
	if count == 0 {
		return 0, 0
	}
	avgDist := sumDist / float64(count)
	if avgDist <= 0 {
		avgDist = 1e-6
	}
	estimate := int(float64(count) / avgDist)
	confidence := 0.4
	if count >= s.cfg.M {
		confidence = 0.6
	}
	return estimate, confidence
}

func namespacedProtocol(network types.NetworkName, name string) string {
	return string(types.NamespacedProtocol(network, name))
}

// Start performs §4.10's startup sequence: seed, register handlers,
// proactive announce, install liveness hooks, begin stabilization.
func (s *Service) Start(ctx context.Context) error {
	if !s.started.CompareAndSwap(false, true) {
		return newError("Start", ErrAlreadyStarted, "")
	}
	s.stopCh = make(chan struct{})

	for _, bootstrap := range s.cfg.Bootstraps {
		s.store.Upsert(types.PeerID(bootstrap), types.HashToCoord(bootstrap))
	}

	s.registerHandlers()

	events, unsubscribe := s.host.Subscribe()
	s.unsubscribe = unsubscribe
	s.wg.Add(1)
	go s.liveness(events)

	s.proactiveAnnounce()

	s.wg.Add(1)
	go s.stabilizationLoop()

	return nil
}

// Stop implements §4.10/§5's graceful shutdown: best-effort leave notices,
// then tear down every owned resource together (§9).
func (s *Service) Stop() error {
	if !s.started.CompareAndSwap(true, false) {
		return newError("Stop", ErrNotStarted, "")
	}
	close(s.stopCh)
	if s.unsubscribe != nil {
		s.unsubscribe()
	}

	err := s.sendLeaveNotices()
	s.wg.Wait()
	return err
}

func (s *Service) liveness(events <-chan interfaces.PeerLivenessEvent) {
	defer s.wg.Done()
	first := true
	for {
		select {
		case <-s.stopCh:
			return
		case ev, ok := <-events:
			if !ok {
				return
			}
			id := types.PeerID(ev.Peer)
			switch ev.Kind {
			case interfaces.PeerConnected:
				s.store.Upsert(id, types.HashToCoord(string(id)))
				s.store.SetState(id, types.StateConnected) // O1
				if first {
					first = false
					go s.proactiveAnnounce()
				}
			case interfaces.PeerDisconnected:
				s.store.SetState(id, types.StateDisconnected)
			}
		}
	}
}

func (s *Service) interval() time.Duration {
	if RunState(s.runState.Load()) == StateActive {
		return s.cfg.ActiveInterval
	}
	return s.cfg.PassiveInterval
}

func (s *Service) stabilizationLoop() {
	defer s.wg.Done()
	ticker := s.clock.Ticker(s.interval())
	defer ticker.Stop()
	for {
		select {
		case <-s.stopCh:
			return
		case <-ticker.C:
			s.tick()
		}
	}
}

// tick implements §4.10's stabilization tick. It never throws: per-peer
// errors are isolated and logged, and tick K+1 cannot start before tick K
// settles (O3, via tickMu).
func (s *Service) tick() {
	s.tickMu.Lock()
	defer s.tickMu.Unlock()

	for _, bootstrap := range s.cfg.Bootstraps {
		s.store.Upsert(types.PeerID(bootstrap), types.HashToCoord(bootstrap))
	}

	m := s.cfg.M
	if m < 2 {
		m = 2
	}
	union := s.spUnion(m)

	probeTargets := union
	if len(probeTargets) > 4 {
		probeTargets = probeTargets[:4]
	}

	var errs error
	for _, id := range probeTargets {
		if err := s.sendPing(context.Background(), id); err != nil {
			errs = multierr.Append(errs, err)
			s.backoff.RecordFailure(id)
			logger.Debug("ping failed during stabilization", "peer", id, "err", err)
			if !s.tickErrCatcher.IsTemporary(err) {
				logger.Warn("stabilization tick aborting ping phase after a non-temporary error burst")
				break
			}
			continue
		}
		s.backoff.Clear(id)
	}
	for _, id := range probeTargets {
		snap, err := s.fetchNeighbors(context.Background(), id)
		if err != nil {
			errs = multierr.Append(errs, err)
			logger.Debug("neighbors fetch failed during stabilization", "peer", id, "err", err)
			if !s.tickErrCatcher.IsTemporary(err) {
				logger.Warn("stabilization tick aborting neighbors phase after a non-temporary error burst")
				break
			}
			continue
		}
		s.mergeSnapshot(id, snap)
	}
	if errs != nil {
		logger.Debug("stabilization tick completed with isolated peer errors", "errs", errs)
	}
}

// spUnion returns self's S/P union: up to m per side, filtered to
// non-self peers with either a live connection or a known entry.
func (s *Service) spUnion(m int) []types.PeerID {
	// The right walk starts at self's own entry, so it asks for one extra.
	right := s.store.NeighborsRight(s.store.SelfCoord(), m+1)
	left := s.store.NeighborsLeft(s.store.SelfCoord(), m)
	seen := make(map[types.PeerID]bool)
	out := make([]types.PeerID, 0, 2*m)
	add := func(ids []types.PeerID) {
		for _, id := range ids {
			if id == s.selfID() || seen[id] {
				continue
			}
			seen[id] = true
			out = append(out, id)
		}
	}
	add(right)
	add(left)
	return out
}

// proactiveAnnounce emits a bounded announce to up to 8 neighbors, per
// §4.10's startup step ("emit a bounded proactive announce to up to 8
// neighbors").
func (s *Service) proactiveAnnounce() {
	union := s.spUnion(s.cfg.M)
	if len(union) > 8 {
		union = union[:8]
	}
	for _, id := range union {
		if err := s.announceNeighbors(context.Background(), id); err != nil {
			logger.Debug("proactive announce failed", "peer", id, "err", err)
			continue
		}
	}
}

func newCorrelationID() string {
	return uuid.NewString()
}

// Snapshot returns a read-only copy of every entry in the local Digitree,
// for diagnostics and simulation introspection.
func (s *Service) Snapshot() []types.PeerEntry {
	return s.store.List()
}

// NetworkSizeEstimate exposes the current network-size/partition
// estimate, for diagnostics and simulation introspection.
func (s *Service) NetworkSizeEstimate() ring.Estimate {
	return s.estimator.GetNetworkSizeEstimate()
}

// Neighbors exposes self's current S/P union, for diagnostics and
// simulation introspection (e.g. dead-neighbor-ratio sampling).
func (s *Service) Neighbors() []types.PeerID {
	return s.spUnion(s.cfg.M)
}

// ExportDocument produces the persisted-state document of §6: every known
// entry, tagged with self's id and the export timestamp.
func (s *Service) ExportDocument() types.PersistedDocument {
	return types.PersistedDocument{
		V:         1,
		PeerID:    s.selfID(),
		Timestamp: rpc.NowMs(s.clock),
		Entries:   s.store.ExportEntries(),
	}
}

// ImportDocument restores a previously exported document. Every restored
// entry is forced to the disconnected state (I4); capacity is enforced
// afterward, so an import that exceeds capacity evicts by relevance exactly
// as a live Upsert would.
func (s *Service) ImportDocument(doc types.PersistedDocument) int {
	return s.store.ImportEntries(doc.Entries)
}
