package config

// ConsensusAlgorithm selects how agent replies are reduced to one answer.
type ConsensusAlgorithm string

const (
	// AlgorithmMajorityVote picks the most common first-line ballot.
	AlgorithmMajorityVote ConsensusAlgorithm = "majority_vote"
	// AlgorithmSemantic clusters reply embeddings and picks the answer
	// closest to the largest cluster's centroid.
	AlgorithmSemantic ConsensusAlgorithm = "semantic"
	// AlgorithmSynthesis summarizes every reply and fuses the summaries
	// into a new answer with the LLM.
	AlgorithmSynthesis ConsensusAlgorithm = "synthesis"
)

// IsValid checks if the consensus algorithm is valid.
func (a ConsensusAlgorithm) IsValid() bool {
	switch a {
	case AlgorithmMajorityVote, AlgorithmSemantic, AlgorithmSynthesis:
		return true
	default:
		return false
	}
}
