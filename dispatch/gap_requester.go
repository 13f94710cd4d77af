package dispatch

import "github.com/opencanarias-go/subjectchain/crypto"

// PeerProvider lists the peers a GapRequester broadcasts catch-up
// requests to. A subject's owner and witnesses are not generally known to
// the ledger at gap-fill time, so requests go out to every currently
// known peer rather than a resolved signer set.
type PeerProvider interface {
	Peers() []crypto.KeyIdentifier
}

// GapRequester implements ledger.GapRequester by broadcasting a GapRequest
// envelope to every known peer; whichever peer holds the missing event
// answers with an ExternalEvent or ExternalIntermediateEvent envelope.
type GapRequester struct {
	transport Transport
	peers     PeerProvider
}

func NewGapRequester(transport Transport, peers PeerProvider) *GapRequester {
	return &GapRequester{transport: transport, peers: peers}
}

func (g *GapRequester) RequestIntermediateEvent(subjectID crypto.Digest, sn uint64) error {
	return g.broadcast(GapRequest{SubjectID: subjectID, SN: sn})
}

func (g *GapRequester) RequestGenesisEvent(subjectID crypto.Digest) error {
	return g.broadcast(GapRequest{SubjectID: subjectID, Genesis: true})
}

func (g *GapRequester) broadcast(req GapRequest) error {
	env, err := Encode(req)
	if err != nil {
		return err
	}
	for _, peer := range g.peers.Peers() {
		if err := g.transport.Send(peer, env); err != nil {
			return err
		}
	}
	return nil
}
