package basket

import "strings"

// FinalizationRequest is the lock-and-deploy proposal layered onto the
// document. Votes are keyed by lowercase participant address. Rejection
// deletes the whole request rather than recording a "rejected" state; that
// unlocks editing and allows an immediate re-proposal.
type FinalizationRequest struct {
	Proposer   string          `json:"proposer"`
	ProposedAt int64           `json:"proposed_at"`
	Votes      map[string]bool `json:"votes"`
}

func NewFinalizationRequest(proposer string, now int64) *FinalizationRequest {
	return &FinalizationRequest{
		Proposer:   strings.ToLower(proposer),
		ProposedAt: now,
		Votes:      make(map[string]bool),
	}
}

func (f *FinalizationRequest) Clone() *FinalizationRequest {
	if f == nil {
		return nil
	}
	votes := make(map[string]bool, len(f.Votes))
	for addr, v := range f.Votes {
		votes[addr] = v
	}
	return &FinalizationRequest{Proposer: f.Proposer, ProposedAt: f.ProposedAt, Votes: votes}
}

func (f *FinalizationRequest) HasVoted(participant string) bool {
	if f == nil {
		return false
	}
	_, ok := f.Votes[strings.ToLower(participant)]
	return ok
}

// WithVote returns a copy carrying the new vote; the original is never
// mutated in place.
func (f *FinalizationRequest) WithVote(participant string, accept bool) *FinalizationRequest {
	out := f.Clone()
	if out.Votes == nil {
		out.Votes = make(map[string]bool)
	}
	out.Votes[strings.ToLower(participant)] = accept
	return out
}

// QuorumReached is true when every fixed participant has voted true. Taking
// the participant list as a parameter is the seam for sessions with more
// than two parties.
func (f *FinalizationRequest) QuorumReached(participants []string) bool {
	if f == nil || len(participants) == 0 {
		return false
	}
	for _, p := range participants {
		if !f.Votes[strings.ToLower(p)] {
			return false
		}
	}
	return true
}
