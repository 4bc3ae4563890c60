package sim

import (
	"context"
	"fmt"
	"math"
	"math/rand"
	"sort"
	"sync"
	"time"

	"github.com/benbjohnson/clock"
	"github.com/spaolacci/murmur3"

	"github.com/fret/fret/internal/service"
	"github.com/fret/fret/pkg/interfaces"
	"github.com/fret/fret/pkg/lib/log"
	"github.com/fret/fret/pkg/types"
)

var logger = log.Logger("sim")

// Harness drives a deterministic mesh of service.Service instances that
// share one mock clock and one Network, so joins, leaves, and routing
// probes can be scripted and replayed exactly (C12).
type Harness struct {
	mu       sync.Mutex
	clock    *clock.Mock
	net      *Network
	cfg      func() service.Config
	rng      *rand.Rand
	metrics  *Metrics
	peers    map[string]*service.Service
	settleBy time.Duration
}

// NewHarness builds a harness seeded deterministically: the same seed and
// schedule always drive the same sequence of bootstrap choices.
func NewHarness(seed int64, cfgFn func() service.Config) *Harness {
	return &Harness{
		clock:    clock.NewMock(),
		net:      NewNetwork(),
		cfg:      cfgFn,
		rng:      rand.New(rand.NewSource(seed)),
		metrics:  &Metrics{},
		peers:    make(map[string]*service.Service),
		settleBy: time.Millisecond,
	}
}

// SyntheticID derives a stable synthetic peer identifier from an index and
// a seed. Using murmur3 rather than the index itself spreads ids across
// the space so two harnesses with different seeds never collide, while
// remaining fully reproducible for one seed.
func SyntheticID(index int, seed int64) string {
	digest := murmur3.Sum32WithSeed([]byte(fmt.Sprintf("peer-%d", index)), uint32(seed))
	return fmt.Sprintf("sim-%08x", digest)
}

// Metrics returns the harness's running metrics collector.
func (h *Harness) Metrics() *Metrics { return h.metrics }

// Clock returns the harness's shared mock clock.
func (h *Harness) Clock() *clock.Mock { return h.clock }

// Len reports the number of currently joined peers.
func (h *Harness) Len() int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return len(h.peers)
}

// Join starts a new Service for id, bootstrapped from up to three
// already-joined peers chosen by the harness's seeded PRNG, and notifies
// both sides' liveness hooks as a real host runtime would on connect.
func (h *Harness) Join(ctx context.Context, id string) (*service.Service, error) {
	h.mu.Lock()
	bootstraps := h.samplePeersLocked(3)
	cfg := h.cfg()
	cfg.Bootstraps = bootstraps
	host := h.net.host(id)
	h.mu.Unlock()

	svc, err := service.New(cfg, host, h.clock)
	if err != nil {
		return nil, err
	}
	svc.SetActivityHandler(interfaces.ActivityHandlerFunc(h.commitActivity))
	if err := svc.Start(ctx); err != nil {
		return nil, err
	}

	h.mu.Lock()
	h.peers[id] = svc
	h.mu.Unlock()

	h.notifyConnect(id)
	h.metrics.RecordJoin()
	return svc, nil
}

// commitActivity is the harness's reference activity handler, installed on
// every simulated peer so an in-cluster RouteAndMaybeAct dispatch has
// something to commit to, mirroring what a real application callback
// would do (§9).
func (h *Harness) commitActivity(activity []byte, cohort []types.PeerID, minSigs int, correlationID string) (types.CommitCertificate, error) {
	h.metrics.RecordCommit()
	return types.CommitCertificate{V: 1, Payload: activity}, nil
}

// samplePeersLocked returns up to n existing peer ids chosen via the
// harness's seeded PRNG. Callers must hold h.mu.
func (h *Harness) samplePeersLocked(n int) []string {
	ids := make([]string, 0, len(h.peers))
	for id := range h.peers {
		ids = append(ids, id)
	}
	// Map iteration order is random; sort first so the shuffle alone decides.
	sort.Strings(ids)
	h.rng.Shuffle(len(ids), func(i, j int) { ids[i], ids[j] = ids[j], ids[i] })
	if len(ids) > n {
		ids = ids[:n]
	}
	return ids
}

// notifyConnect fires a connected-liveness event between id and every
// other currently-joined peer.
func (h *Harness) notifyConnect(id string) {
	h.mu.Lock()
	host := h.net.host(id)
	others := make([]string, 0, len(h.peers))
	for other := range h.peers {
		if other != id {
			others = append(others, other)
		}
	}
	h.mu.Unlock()
	for _, other := range others {
		otherHost := h.net.host(other)
		host.notify(other, true)
		otherHost.notify(id, true)
	}
}

// Leave gracefully stops id's Service (sending best-effort leave notices)
// and removes it from the network, simulating a clean departure.
func (h *Harness) Leave(id string) error {
	h.mu.Lock()
	svc, ok := h.peers[id]
	if !ok {
		h.mu.Unlock()
		return fmt.Errorf("sim: unknown peer %q", id)
	}
	delete(h.peers, id)
	h.mu.Unlock()

	err := svc.Stop()
	h.net.Remove(id)
	h.metrics.RecordLeave()
	return err
}

// Kill removes id from the network without a graceful Stop, simulating an
// abrupt departure (crash, network partition) with no leave notice sent.
func (h *Harness) Kill(id string) {
	h.mu.Lock()
	delete(h.peers, id)
	h.mu.Unlock()
	h.net.Remove(id)
	h.metrics.RecordLeave()
}

// Advance moves the shared mock clock forward by d, letting every peer's
// stabilization loop fire any tickers due in that window, then yields
// briefly so the resulting goroutines can settle before the next event.
func (h *Harness) Advance(d time.Duration) {
	h.clock.Add(d)
	time.Sleep(h.settleBy)
	h.metrics.RecordStabilizationCycle()
}

// RouteOutcome is one recorded result from a scheduled EventRouteProbe.
type RouteOutcome struct {
	Tick    int64
	Peer    string
	Key     string
	Hops    int
	Success bool
}

// RunSchedule drains sched strictly in (Tick, insertion order), advancing
// the shared mock clock by tickUnit for every logical tick elapsed since
// the previous event before dispatching it (C12): EventJoin and
// EventLeave drive Join/Leave, EventRouteProbe drives RouteProbe and its
// outcome is recorded. The same scheduler contents and tickUnit always
// produce the same sequence of dispatches and outcomes.
func (h *Harness) RunSchedule(ctx context.Context, sched *Scheduler, tickUnit time.Duration) []RouteOutcome {
	var outcomes []RouteOutcome
	var lastTick int64
	for {
		ev, ok := sched.Next()
		if !ok {
			break
		}
		if delta := ev.Tick - lastTick; delta > 0 {
			h.Advance(time.Duration(delta) * tickUnit)
		}
		lastTick = ev.Tick

		switch ev.Kind {
		case EventJoin:
			if _, err := h.Join(ctx, ev.Peer); err != nil {
				logger.Debug("scheduled join failed", "peer", ev.Peer, "err", err)
			}
		case EventLeave:
			if err := h.Leave(ev.Peer); err != nil {
				logger.Debug("scheduled leave failed", "peer", ev.Peer, "err", err)
			}
		case EventRouteProbe:
			hops, success := h.RouteProbe(ctx, ev.Peer, ev.Key)
			outcomes = append(outcomes, RouteOutcome{Tick: ev.Tick, Peer: ev.Peer, Key: ev.Key, Hops: hops, Success: success})
		}
	}
	return outcomes
}

// HopBound returns the routing attempt ceiling for a mesh of the given
// size: ceil(2*log2(alive)) + 4 (C12).
func HopBound(alive int) int {
	if alive < 2 {
		return 4
	}
	return int(math.Ceil(2*math.Log2(float64(alive)))) + 4
}

// RouteProbe drives one IterativeLookup from "from" toward "key" and
// reports the number of hops attempted and whether it ended in a commit.
func (h *Harness) RouteProbe(ctx context.Context, from, key string) (hops int, success bool) {
	h.mu.Lock()
	svc, ok := h.peers[from]
	alive := len(h.peers)
	h.mu.Unlock()
	if !ok {
		return 0, false
	}
	ttl := HopBound(alive)
	progress := svc.IterativeLookup(ctx, key, 3, ttl, 1, []byte("probe"))
	for ev := range progress {
		switch ev.Stage {
		case service.StageProbing:
			hops++
		case service.StageComplete:
			if ev.Result != nil && ev.Result.Commit != nil {
				success = true
			}
		}
	}
	h.metrics.RecordRoute(hops, success)
	return hops, success
}

// SampleCoverage records what fraction of currently joined peers have a
// fully live S/P union (no neighbor pointing at a peer that has since
// left), a proxy for how well the ring has healed after churn.
func (h *Harness) SampleCoverage() float64 {
	h.mu.Lock()
	peers := make(map[string]*service.Service, len(h.peers))
	for id, svc := range h.peers {
		peers[id] = svc
	}
	h.mu.Unlock()
	if len(peers) == 0 {
		return 0
	}

	healthy := 0
	for _, svc := range peers {
		ok := true
		for _, n := range svc.Neighbors() {
			if _, present := peers[string(n)]; !present {
				ok = false
				break
			}
		}
		if ok {
			healthy++
		}
	}
	fraction := float64(healthy) / float64(len(peers))
	h.metrics.RecordCoverage(fraction)
	return fraction
}

// StopAll gracefully stops every currently joined peer, used for harness
// teardown at the end of a scripted run.
func (h *Harness) StopAll() {
	h.mu.Lock()
	ids := make([]string, 0, len(h.peers))
	for id := range h.peers {
		ids = append(ids, id)
	}
	h.mu.Unlock()
	for _, id := range ids {
		_ = h.Leave(id)
	}
}
