package models

// Consensus method identifiers reported in ConsensusOutcome.Method.
const (
	MethodSingleResponse     = "single_response"
	MethodMajorityVote       = "majority_vote_with_tiebreak"
	MethodSemanticClustering = "semantic_clustering"
	MethodSynthesis          = "synthesis"
)

// ConsensusOutcome is the in-memory result of a consensus run.
type ConsensusOutcome struct {
	FinalAnswer  string   `json:"final_answer"`
	WinningVotes int      `json:"winning_votes"`
	TotalVotes   int      `json:"total_votes"`
	Method       string   `json:"method"`
	Confidence   *float64 `json:"confidence,omitempty"`
}
