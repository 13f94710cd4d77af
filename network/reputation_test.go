package network

import (
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/opencanarias-go/subjectchain/ledger"
	"github.com/opencanarias-go/subjectchain/validation"
)

func TestReputationManagerTracksEvents(t *testing.T) {
	cfg := ReputationConfig{
		GreyScore:        10,
		BanScore:         20,
		GreylistDuration: time.Minute,
		BanDuration:      time.Minute,
		DecayHalfLife:    time.Hour,
	}
	rep := NewReputationManager(cfg)
	now := time.Now()

	status := rep.MarkHeartbeat("peer", now)
	require.Equal(t, heartbeatRewardDelta, status.Score)

	status = rep.MarkUptime("peer", 24*time.Hour, now)
	require.Equal(t, heartbeatRewardDelta+uptimeRewardDelta, status.Score)

	status = rep.MarkUseful("peer", now)
	require.EqualValues(t, 1, status.Useful)

	status = rep.PenalizeMalformed("peer", now, false)
	require.Equal(t, heartbeatRewardDelta+uptimeRewardDelta+malformedMessagePenaltyDelta, status.Score)

	status = rep.PenalizeSpam("peer", now, false)
	require.True(t, status.Greylisted)

	mis := rep.MarkMisbehavior("peer", now)
	require.NotZero(t, mis.Misbehavior)

	latencyStatus := rep.ObserveLatency("peer", 50*time.Millisecond, now)
	require.Greater(t, latencyStatus.LatencyMS, 0.0)

	status = rep.PenalizeRejectedEvent("peer", validation.ErrDifferentProofForEvent, now, false)
	require.True(t, status.Banned)

	persistent := rep.PenalizeRejectedEvent("persistent", validation.ErrDifferentProofForEvent, now, true)
	require.False(t, persistent.Banned, "persistent peers never enter the ban list")
}

func TestRejectionPenaltyDeltaClassifiesByCause(t *testing.T) {
	require.Equal(t, differentProofPenaltyDelta, rejectionPenaltyDelta(validation.ErrDifferentProofForEvent))
	require.Equal(t, differentProofPenaltyDelta, rejectionPenaltyDelta(validation.ErrBrokenChain))
	require.Equal(t, quorumRejectedPenaltyDelta, rejectionPenaltyDelta(validation.ErrPreviousProofQuorumIncomplete))
	require.Equal(t, quorumRejectedPenaltyDelta, rejectionPenaltyDelta(ledger.ErrIncompleteValidation))
	require.Equal(t, staleEventPenaltyDelta, rejectionPenaltyDelta(validation.ErrStaleProof))
	require.Equal(t, staleEventPenaltyDelta, rejectionPenaltyDelta(ledger.ErrStaleEvent))
	require.Equal(t, rejectedEventPenaltyDelta, rejectionPenaltyDelta(validation.ErrSubjectSignatureInvalid))
	require.Equal(t, rejectedEventPenaltyDelta, rejectionPenaltyDelta(errors.New("network: some other rejection")))
	require.Equal(t, 0, rejectionPenaltyDelta(nil))
}

func TestReputationManagerDecaysOverTime(t *testing.T) {
	cfg := ReputationConfig{DecayHalfLife: time.Minute}
	rep := NewReputationManager(cfg)
	now := time.Now()

	rep.Adjust("peer", 100, now, false)
	later := now.Add(time.Minute)
	decayed := rep.Score("peer", later)
	require.Less(t, decayed, 100)
	require.Greater(t, decayed, 0)
}
