package service

import (
	"context"
	"time"

	"github.com/fret/fret/internal/rpc"
	"github.com/fret/fret/pkg/types"
)

// registerHandlers installs the five inbound protocol handlers of §4.9,
// each wrapped by the shared envelope: decode, validate timestamp,
// rate-limit, dispatch, encode.
func (s *Service) registerHandlers() {
	proto := func(name string) string { return namespacedProtocol(s.cfg.NetworkName, name) }
	s.host.RegisterHandler(proto("ping"), s.handlePingRPC)
	s.host.RegisterHandler(proto("neighbors"), s.handleNeighborsRPC)
	s.host.RegisterHandler(proto("neighbors-announce"), s.handleNeighborsAnnounceRPC)
	s.host.RegisterHandler(proto("maybeAct"), s.handleMaybeActRPC)
	s.host.RegisterHandler(proto("leave"), s.handleLeaveRPC)
}

// checkEnvelope runs the shared timestamp/rate-limit gate (§4.9 steps
// 3-4) and counts the corresponding rejection reason on failure.
func (s *Service) checkEnvelope(bucketName string, tsMs int64, maxRateBudget float64) error {
	now := rpc.NowMs(s.clock)
	if !rpc.ValidateTimestamp(now, tsMs, rpc.TimestampWindowMs) {
		s.diag.IncRejected(RejectTimestampBounds)
		return newError("checkEnvelope", rpc.ErrTimestampOutOfBounds, "")
	}
	if bucket, ok := s.buckets[bucketName]; ok && maxRateBudget > 0 {
		if !bucket.TryTake() {
			s.diag.IncRejected(RejectRateLimited)
			return newError("checkEnvelope", ErrPeerUnreachable, "rate limited")
		}
	}
	return nil
}

func (s *Service) handlePingRPC(ctx context.Context, peerID string, body []byte) ([]byte, error) {
	var req types.PingRequest
	if err := rpc.Decode(body, &req); err != nil {
		return nil, err
	}
	if err := s.checkEnvelope("ping", req.TS, s.budgets.PingRate); err != nil {
		return nil, err
	}
	s.touchPeer(types.PeerID(peerID))

	resp := types.PingResponse{OK: true, TS: rpc.NowMs(s.clock)}
	est := s.estimator.GetNetworkSizeEstimate()
	if est.SourceCount > 0 {
		resp.SizeEstimate = &est.Size
		resp.Confidence = &est.Confidence
	}
	return rpc.Encode(resp)
}

func (s *Service) handleNeighborsRPC(ctx context.Context, peerID string, body []byte) ([]byte, error) {
	var req types.PingRequest
	if err := rpc.Decode(body, &req); err != nil {
		return nil, err
	}
	if err := s.checkEnvelope("neighbors", req.TS, s.budgets.NeighborsRate); err != nil {
		return nil, err
	}
	s.touchPeer(types.PeerID(peerID))
	return rpc.Encode(s.buildSnapshot())
}

func (s *Service) handleNeighborsAnnounceRPC(ctx context.Context, peerID string, body []byte) ([]byte, error) {
	var snap types.NeighborSnapshot
	if err := rpc.Decode(body, &snap); err != nil {
		return nil, err
	}
	if err := s.checkEnvelope("neighbors", snap.Timestamp, s.budgets.NeighborsRate); err != nil {
		return nil, err
	}
	s.mergeSnapshot(types.PeerID(peerID), snap)
	return rpc.Encode(types.PingResponse{OK: true, TS: rpc.NowMs(s.clock)})
}

func (s *Service) handleLeaveRPC(ctx context.Context, peerID string, body []byte) ([]byte, error) {
	var notice types.LeaveNotice
	if err := rpc.Decode(body, &notice); err != nil {
		return nil, err
	}
	if err := s.checkEnvelope("neighbors", notice.Timestamp, s.budgets.NeighborsRate); err != nil {
		return nil, err
	}
	s.handleLeaveNotice(notice)
	return rpc.Encode(types.PingResponse{OK: true, TS: rpc.NowMs(s.clock)})
}

// touchPeer records an access against a known remote peer, folding the
// sparsity bonus into its relevance score (§4.3).
func (s *Service) touchPeer(id types.PeerID) {
	if id == "" || id == s.selfID() {
		return
	}
	entry, ok := s.store.GetByID(id)
	if !ok {
		return
	}
	x := types.NormalizedLogDistance(s.store.SelfCoord(), entry.Coord)
	now := rpc.NowMs(s.clock)
	s.store.Update(id, func(e *types.PeerEntry) {
		s.sparsity.Touch(e, x, now)
	})
}

// buildSnapshot assembles the self-describing NeighborSnapshot sent in
// reply to "neighbors" pulls and pushed via "neighbors-announce" (§6).
func (s *Service) buildSnapshot() types.NeighborSnapshot {
	m := s.cfg.M
	successors := s.store.NeighborsRight(s.store.SelfCoord(), m)
	predecessors := s.store.NeighborsLeft(s.store.SelfCoord(), m)

	var sample []types.SampleEntry
	for _, e := range s.store.List() {
		if len(sample) >= m {
			break
		}
		if e.ID == s.selfID() {
			continue
		}
		sample = append(sample, types.SampleEntry{ID: e.ID, Coord: e.Coord.String(), Relevance: e.Relevance})
	}

	snap := types.NeighborSnapshot{
		V:            1,
		From:         s.selfID(),
		Timestamp:    rpc.NowMs(s.clock),
		Successors:   successors,
		Predecessors: predecessors,
		Sample:       sample,
	}
	est := s.estimator.GetNetworkSizeEstimate()
	if est.SourceCount > 0 {
		snap.SizeEstimate = &est.Size
		snap.Confidence = &est.Confidence
	}
	return snap
}

// mergeSnapshot folds a received NeighborSnapshot into the local store
// (§4.10's snapshot merge step): upsert the sender, its successors,
// predecessors, and sample rows, then feed the size estimate onward.
func (s *Service) mergeSnapshot(from types.PeerID, snap types.NeighborSnapshot) {
	now := rpc.NowMs(s.clock)
	if !rpc.ValidateTimestamp(now, snap.Timestamp, rpc.TimestampWindowMs) {
		s.diag.IncRejected(RejectTimestampBounds)
		return
	}

	upsert := func(id types.PeerID) {
		if id == "" || id == s.selfID() {
			return
		}
		coord := types.HashToCoord(string(id))
		s.store.Upsert(id, coord)
	}
	upsert(from)
	for _, id := range snap.Successors {
		upsert(id)
	}
	for _, id := range snap.Predecessors {
		upsert(id)
	}
	for _, se := range snap.Sample {
		if se.ID == "" || se.ID == s.selfID() {
			continue
		}
		coord, err := types.CoordFromString(se.Coord)
		if err != nil {
			continue
		}
		s.store.Upsert(se.ID, coord)
	}

	if snap.SizeEstimate != nil && snap.Confidence != nil {
		s.estimator.ReportNetworkSize(*snap.SizeEstimate, *snap.Confidence, string(from))
	}
}

func (s *Service) sendPing(ctx context.Context, id types.PeerID) error {
	req := types.PingRequest{V: 1, TS: rpc.NowMs(s.clock)}
	body, err := rpc.Encode(req)
	if err != nil {
		return err
	}
	proto := namespacedProtocol(s.cfg.NetworkName, "ping")
	start := s.clock.Now()
	respBody, err := s.host.SendRequest(ctx, string(id), proto, body)
	if err != nil {
		s.recordFailure(id)
		return err
	}
	var resp types.PingResponse
	if err := rpc.Decode(respBody, &resp); err != nil {
		s.recordFailure(id)
		return err
	}
	latency := float64(s.clock.Now().Sub(start)) / float64(time.Millisecond)
	s.recordSuccess(id, latency)
	if resp.SizeEstimate != nil && resp.Confidence != nil {
		s.estimator.ReportNetworkSize(*resp.SizeEstimate, *resp.Confidence, string(id))
	}
	s.diag.PingsSent.Inc()
	return nil
}

func (s *Service) fetchNeighbors(ctx context.Context, id types.PeerID) (types.NeighborSnapshot, error) {
	req := types.PingRequest{V: 1, TS: rpc.NowMs(s.clock)}
	body, err := rpc.Encode(req)
	if err != nil {
		return types.NeighborSnapshot{}, err
	}
	proto := namespacedProtocol(s.cfg.NetworkName, "neighbors")
	respBody, err := s.host.SendRequest(ctx, string(id), proto, body)
	if err != nil {
		s.recordFailure(id)
		return types.NeighborSnapshot{}, err
	}
	var snap types.NeighborSnapshot
	if err := rpc.Decode(respBody, &snap); err != nil {
		s.recordFailure(id)
		return types.NeighborSnapshot{}, err
	}
	s.recordSuccess(id, 0)
	return snap, nil
}

func (s *Service) announceNeighbors(ctx context.Context, id types.PeerID) error {
	body, err := rpc.Encode(s.buildSnapshot())
	if err != nil {
		return err
	}
	proto := namespacedProtocol(s.cfg.NetworkName, "neighbors-announce")
	_, err = s.host.SendRequest(ctx, string(id), proto, body)
	if err != nil {
		s.recordFailure(id)
		return err
	}
	s.diag.AnnouncementsSent.Inc()
	return nil
}

func (s *Service) recordSuccess(id types.PeerID, latencyMs float64) {
	s.backoff.Clear(id)
	entry, ok := s.store.GetByID(id)
	if !ok {
		return
	}
	x := types.NormalizedLogDistance(s.store.SelfCoord(), entry.Coord)
	s.store.Update(id, func(e *types.PeerEntry) {
		s.sparsity.RecordSuccess(e, latencyMs, x)
	})
}

func (s *Service) recordFailure(id types.PeerID) {
	s.backoff.RecordFailure(id)
	entry, ok := s.store.GetByID(id)
	if !ok {
		return
	}
	x := types.NormalizedLogDistance(s.store.SelfCoord(), entry.Coord)
	s.store.Update(id, func(e *types.PeerEntry) {
		s.sparsity.RecordFailure(e, x)
	})
}

// sendLeaveNotices implements §4.10's graceful-leave sender side: derive
// replacement candidates via an outward walk past self's own S/P set,
// then best-effort notify self's current neighbors.
func (s *Service) sendLeaveNotices() error {
	m := s.cfg.M
	own := make(map[types.PeerID]bool, 2*m)
	for _, id := range s.spUnion(m) {
		own[id] = true
	}
	own[s.selfID()] = true

	replacements := CandidatesExcluding(s.store, s.store.SelfCoord(), s.budgets.ReplacementCap, own)
	notice := types.LeaveNotice{
		V:            1,
		From:         s.selfID(),
		Replacements: replacements,
		Timestamp:    rpc.NowMs(s.clock),
	}
	body, err := rpc.Encode(notice)
	if err != nil {
		return err
	}
	proto := namespacedProtocol(s.cfg.NetworkName, "leave")

	targets := s.spUnion(m)
	if len(targets) > s.budgets.AnnounceFanout*2 {
		targets = targets[:s.budgets.AnnounceFanout*2]
	}
	var firstErr error
	for _, id := range targets {
		if _, err := s.host.SendRequest(context.Background(), string(id), proto, body); err != nil {
			logger.Debug("leave notice failed", "peer", id, "err", err)
			if firstErr == nil {
				firstErr = err
			}
		}
	}
	return firstErr
}

// handleLeaveNotice implements §4.10's graceful-leave receiver side:
// drop the departing peer, recover its coordinate, build a merged
// replacement list (the departing peer's suggestions first, then a
// locally expanded cohort), warm up to 6 of them by pinging each and
// announcing our snapshot to the ones we weren't already connected to,
// and push a fresh snapshot to our own S/P neighbors so the gap heals
// quickly.
func (s *Service) handleLeaveNotice(notice types.LeaveNotice) {
	departingCoord := types.HashToCoord(string(notice.From))
	if entry, ok := s.store.GetByID(notice.From); ok {
		departingCoord = entry.Coord
	}
	s.store.Remove(notice.From)

	seen := map[types.PeerID]bool{"": true, s.selfID(): true}
	var merged []types.PeerID
	for _, id := range notice.Replacements {
		if seen[id] {
			continue
		}
		seen[id] = true
		merged = append(merged, id)
	}
	for _, id := range CandidatesExcluding(s.store, departingCoord, s.budgets.ReplacementCap, seen) {
		if seen[id] {
			continue
		}
		seen[id] = true
		merged = append(merged, id)
	}
	if len(merged) > 12 {
		merged = merged[:12]
	}

	warmed := 0
	for _, id := range merged {
		if warmed >= 6 {
			break
		}
		warmed++

		entry, known := s.store.GetByID(id)
		alreadyConnected := known && entry.State == types.StateConnected
		s.store.Upsert(id, types.HashToCoord(string(id)))
		if err := s.sendPing(context.Background(), id); err != nil {
			logger.Debug("post-leave replacement ping failed", "peer", id, "err", err)
			continue
		}
		if !alreadyConnected {
			if err := s.announceNeighbors(context.Background(), id); err != nil {
				logger.Debug("post-leave replacement announce failed", "peer", id, "err", err)
			}
		}
	}

	m := s.cfg.M
	targets := s.spUnion(m)
	if len(targets) > s.budgets.AnnounceFanout*2 {
		targets = targets[:s.budgets.AnnounceFanout*2]
	}
	for _, id := range targets {
		if err := s.announceNeighbors(context.Background(), id); err != nil {
			logger.Debug("post-leave announce failed", "peer", id, "err", err)
		}
	}
}
