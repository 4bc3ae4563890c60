package service

import (
	"context"

	"github.com/fret/fret/internal/rpc"
	"github.com/fret/fret/internal/selector"
	"github.com/fret/fret/pkg/types"
)

// inClusterWidth is how many of a cohort's leading entries are considered
// "in cluster" for dispatch purposes (§4.11: self at cohort index 0 or 1).
const inClusterWidth = 2

// maxActivityPayloadBytes bounds the activity payload itself (§4.11 step
// 5), distinct from budgets.MaxMaybeActBytes which bounds the whole
// encoded request.
const maxActivityPayloadBytes = 128 << 10

func (s *Service) handleMaybeActRPC(ctx context.Context, peerID string, body []byte) ([]byte, error) {
	if len(body) > s.budgets.MaxMaybeActBytes {
		s.diag.IncRejected(RejectPayloadTooLarge)
		return nil, newError("handleMaybeActRPC", rpc.ErrPayloadTooLarge, "")
	}
	var msg types.RouteAndMaybeAct
	if err := rpc.Decode(body, &msg); err != nil {
		return nil, err
	}
	if !rpc.VerifyActivityDigest(msg.Activity, msg.Digest) {
		return nil, newError("handleMaybeActRPC", rpc.ErrDigestMismatch, "")
	}
	if !rpc.ValidateTimestamp(rpc.NowMs(s.clock), msg.Timestamp, rpc.TimestampWindowMs) {
		s.diag.IncRejected(RejectTimestampBounds)
		return nil, newError("handleMaybeActRPC", rpc.ErrTimestampOutOfBounds, "")
	}
	if msg.TTL <= 0 {
		s.diag.IncRejected(RejectTTLExpired)
		return rpc.Encode(types.MaybeActResult{NearAnchor: &types.NearAnchor{
			V: 1, Anchors: AssembleCohort(s.store, types.HashKey(msg.Key), msg.WantK),
		}})
	}
	if len(msg.Activity) > maxActivityPayloadBytes {
		s.diag.IncRejected(RejectPayloadTooLarge)
		return rpc.Encode(types.MaybeActResult{NearAnchor: &types.NearAnchor{
			V: 1, Anchors: AssembleCohort(s.store, types.HashKey(msg.Key), msg.WantK),
		}})
	}
	for _, id := range msg.Breadcrumbs {
		if id == s.selfID() {
			// Loop: the message has already passed through us. Answer
			// with the best anchors we have rather than forwarding again.
			return rpc.Encode(types.MaybeActResult{NearAnchor: &types.NearAnchor{
				V: 1, Anchors: AssembleCohort(s.store, types.HashKey(msg.Key), msg.WantK),
			}})
		}
	}

	if cached, ok := s.dedup.Get(msg.CorrelationID); ok {
		return cached, nil
	}

	if !s.buckets["maybeAct"].TryTake() {
		s.diag.IncRejected(RejectRateLimited)
		reply, _ := rpc.Encode(types.MaybeActResult{Busy: ptr(rpc.BusyReply(s.buckets["maybeAct"].RetryAfterMs()))})
		return reply, nil
	}
	if s.inflightAct.Load() >= s.budgets.InflightMaybeAct {
		s.diag.IncRejected(RejectRateLimited)
		reply, _ := rpc.Encode(types.MaybeActResult{Busy: ptr(rpc.BusyReply(200))})
		return reply, nil
	}
	s.inflightAct.Add(1)
	defer s.inflightAct.Add(-1)

	// O2: reserve the dedup slot before dispatching, so a concurrent
	// duplicate observes the in-flight placeholder rather than
	// re-invoking the activity handler.
	s.dedup.Set(msg.CorrelationID, nil)

	result, err := s.routeAct(ctx, types.PeerID(peerID), msg)
	if err != nil {
		return nil, err
	}
	reply, err := rpc.Encode(result)
	if err != nil {
		return nil, err
	}
	s.dedup.Set(msg.CorrelationID, reply)
	return reply, nil
}

func ptr[T any](v T) *T { return &v }

// routeAct implements §4.11's core dispatch: either deliver to the
// application activity handler (in cluster), or forward one hop closer.
func (s *Service) routeAct(ctx context.Context, from types.PeerID, msg types.RouteAndMaybeAct) (types.MaybeActResult, error) {
	keyCoord := types.HashKey(msg.Key)
	wantK := msg.WantK
	if wantK <= 0 {
		wantK = s.cfg.K
	}
	cohort := AssembleCohort(s.store, keyCoord, wantK)
	dist := NeighborDistance(s.selfID(), cohort)

	if dist >= 0 && dist < inClusterWidth {
		if len(msg.Activity) > 0 {
			handler := s.activityHandler()
			if handler == nil {
				return types.MaybeActResult{}, newError("routeAct", ErrNoActivityHandler, "")
			}
			commit, err := handler.HandleActivity(msg.Activity, cohort, msg.MinSigs, msg.CorrelationID)
			if err != nil {
				return types.MaybeActResult{}, err
			}
			return types.MaybeActResult{Commit: &commit}, nil
		}
		est := s.estimator.GetNetworkSizeEstimate()
		return types.MaybeActResult{NearAnchor: &types.NearAnchor{
			V: 1, Anchors: cohort, CohortHint: cohort,
			EstimatedClusterSize: est.Size, Confidence: est.Confidence,
		}}, nil
	}

	exclude := make(map[types.PeerID]bool, len(msg.Breadcrumbs)+1)
	exclude[s.selfID()] = true
	exclude[from] = true
	for _, id := range msg.Breadcrumbs {
		exclude[id] = true
	}
	candidates := CandidatesExcluding(s.store, keyCoord, wantK*4, exclude)
	if len(candidates) == 0 {
		candidates = cohort
	}

	est := s.estimator.GetNetworkSizeEstimate()
	var nearRadius *types.RingCoord
	if est.SourceCount > 0 {
		r := selector.ComputeNearRadius(est.Size, wantK, 1.5)
		nearRadius = &r
	}

	nextHop, ok := selector.SelectNextHop(candidates, selector.Options{
		Target:     keyCoord,
		NearRadius: nearRadius,
		Confidence: est.Confidence,
		Lookup:     func(id types.PeerID) (types.PeerEntry, bool) { return s.store.GetByID(id) },
		LinkQuality: func(id types.PeerID) float64 {
			entry, ok := s.store.GetByID(id)
			if !ok || entry.SuccessCount+entry.FailureCount == 0 {
				return 0.5
			}
			return float64(entry.SuccessCount) / float64(entry.SuccessCount+entry.FailureCount)
		},
		Backoff:     func(id types.PeerID) float64 { return s.backoff.Penalty(id) },
		IsConnected: func(id types.PeerID) bool { e, ok := s.store.GetByID(id); return ok && e.State == types.StateConnected },
	})
	if !ok {
		return types.MaybeActResult{NearAnchor: &types.NearAnchor{
			V: 1, Anchors: cohort, CohortHint: cohort,
			EstimatedClusterSize: est.Size, Confidence: est.Confidence,
		}}, nil
	}

	forward := msg
	forward.TTL = msg.TTL - 1
	forward.Breadcrumbs = append(append([]types.PeerID{}, msg.Breadcrumbs...), s.selfID())
	if est.SourceCount > 0 && !selector.ShouldIncludePayload(
		types.XORDistance(s.store.SelfCoord(), keyCoord), est.Size, est.Confidence, wantK, 1.5, 0.2) {
		forward.Activity = nil
		forward.Digest = ""
	}

	body, err := rpc.Encode(forward)
	if err != nil {
		return types.MaybeActResult{}, err
	}
	proto := namespacedProtocol(s.cfg.NetworkName, "maybeAct")
	respBody, err := s.host.SendRequest(ctx, string(nextHop), proto, body)
	if err != nil {
		s.recordFailure(nextHop)
		return types.MaybeActResult{}, err
	}
	s.recordSuccess(nextHop, 0)
	var result types.MaybeActResult
	if err := rpc.Decode(respBody, &result); err != nil {
		return types.MaybeActResult{}, err
	}
	return result, nil
}

// RouteStage names one step of an IterativeLookup's progress feed.
type RouteStage string

const (
	StageProbing     RouteStage = "probing"
	StageForwarding  RouteStage = "forwarding"
	StageNearAnchor  RouteStage = "near_anchor"
	StageActivitySent RouteStage = "activity_sent"
	StageComplete    RouteStage = "complete"
	StageExhausted   RouteStage = "exhausted"
)

// RouteProgress is one event emitted by IterativeLookup.
type RouteProgress struct {
	Stage  RouteStage
	Peer   types.PeerID
	Result *types.MaybeActResult
}

// IterativeLookup drives a client-side RouteAndMaybeAct exchange,
// following NearAnchor hints toward the key's cohort until a Commit or
// attempt exhaustion (§4.11's client loop); a Busy reply backs that peer
// off and the loop moves on to the next candidate. Progress is
// reported on the returned channel, which is closed when the lookup
// ends.
func (s *Service) IterativeLookup(ctx context.Context, key string, wantK, ttl, minSigs int, activity []byte) <-chan RouteProgress {
	out := make(chan RouteProgress, 4)
	go func() {
		defer close(out)
		keyCoord := types.HashKey(key)
		correlationID := newCorrelationID()
		maxAttempts := ttl + 2
		tried := map[types.PeerID]bool{s.selfID(): true}

		candidates := AssembleCohort(s.store, keyCoord, wantK*2)

		// send performs one maybeAct round trip, recording
		// per-peer success/failure the same way the server's
		// forward hop does.
		send := func(target types.PeerID, sendTTL int, breadcrumbs []types.PeerID, includeActivity bool) (*types.MaybeActResult, error) {
			var payload []byte
			var digest string
			if includeActivity {
				payload = activity
				digest = rpc.ActivityDigest(payload)
			}
			msg := types.RouteAndMaybeAct{
				V: 1, Key: key, WantK: wantK, TTL: sendTTL, MinSigs: minSigs,
				Activity: payload, Digest: digest, CorrelationID: correlationID,
				Timestamp: rpc.NowMs(s.clock), Breadcrumbs: breadcrumbs,
			}
			body, err := rpc.Encode(msg)
			if err != nil {
				return nil, err
			}
			proto := namespacedProtocol(s.cfg.NetworkName, "maybeAct")
			respBody, err := s.host.SendRequest(ctx, string(target), proto, body)
			if err != nil {
				s.recordFailure(target)
				return nil, err
			}
			s.recordSuccess(target, 0)
			var result types.MaybeActResult
			if err := rpc.Decode(respBody, &result); err != nil {
				return nil, err
			}
			return &result, nil
		}

		// handleNearAnchor folds a NearAnchor outcome's anchors into
		// the candidate list and, per §4.11, follows up with a
		// second maybeAct carrying the withheld activity to the
		// first anchor if one wasn't included yet.
		handleNearAnchor := func(target types.PeerID, result *types.MaybeActResult, includedActivity bool, breadcrumbs []types.PeerID) (done bool) {
			out <- RouteProgress{Stage: StageNearAnchor, Peer: target, Result: result}
			anchors := result.NearAnchor.Anchors
			if activity != nil && !includedActivity && len(anchors) > 0 {
				first := anchors[0]
				extended := append(append([]types.PeerID{}, breadcrumbs...), target)
				followResult, err := send(first, 1, extended, true)
				if err != nil {
					s.backoff.RecordFailure(first)
					return false
				}
				switch {
				case followResult.Commit != nil:
					out <- RouteProgress{Stage: StageActivitySent, Peer: first, Result: followResult}
					out <- RouteProgress{Stage: StageComplete, Peer: first, Result: followResult}
					return true
				case followResult.IsBusy():
					s.backoff.RecordFailure(first)
				case followResult.NearAnchor != nil:
					out <- RouteProgress{Stage: StageNearAnchor, Peer: first, Result: followResult}
					for _, id := range followResult.NearAnchor.Anchors {
						if !tried[id] {
							candidates = append(candidates, id)
						}
					}
				}
				return false
			}
			for _, id := range anchors {
				if !tried[id] {
					candidates = append(candidates, id)
				}
			}
			return false
		}

		for attempt := 0; attempt < maxAttempts; attempt++ {
			var target types.PeerID
			for _, id := range candidates {
				if !tried[id] {
					target = id
					break
				}
			}
			if target == "" {
				out <- RouteProgress{Stage: StageExhausted}
				return
			}
			tried[target] = true

			est := s.estimator.GetNetworkSizeEstimate()
			includeActivity := activity == nil
			if activity != nil {
				includeActivity = est.SourceCount == 0 || selector.ShouldIncludePayload(
					types.XORDistance(s.store.SelfCoord(), keyCoord), est.Size, est.Confidence, wantK, 1.5, 0.2)
			}

			out <- RouteProgress{Stage: StageProbing, Peer: target}

			result, err := send(target, ttl, nil, includeActivity)
			if err != nil {
				continue
			}

			switch {
			case result.IsBusy():
				s.backoff.RecordFailure(target)
				continue
			case result.Commit != nil:
				out <- RouteProgress{Stage: StageActivitySent, Peer: target, Result: result}
				out <- RouteProgress{Stage: StageComplete, Peer: target, Result: result}
				return
			case result.NearAnchor != nil:
				if handleNearAnchor(target, result, includeActivity, nil) {
					return
				}
			}
		}
		out <- RouteProgress{Stage: StageExhausted}
	}()
	return out
}
