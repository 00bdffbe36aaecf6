// Package market ranks CapabilityResponse envelopes collected by
// Coordinator.RequestCapability, adapted from the teacher's optimizer.go
// RankBids (which scored Bid structs against cost/speed/trust/confidence/
// capability-match). ACS's CapabilityResponse carries no cost or bid
// confidence, so this keeps the same multi-objective weighting scheme
// against what ACS actually has: trust, proficiency-weighted capability
// match, and availability latency.
package market

import (
	"sort"

	"github.com/b00t-dev/acs/envelope"
)

// Weights controls each objective's contribution to a response's score.
// Delegators can tune these per task, exactly as optimizer.go's
// OptimizationWeights does.
type Weights struct {
	Trust         float64 // higher trust is better
	ProficiencyCapMatch float64 // proficiency-weighted capability overlap
	Availability  float64 // sooner estimated availability is better
}

func DefaultWeights() Weights {
	return Weights{Trust: 0.4, ProficiencyCapMatch: 0.4, Availability: 0.2}
}

func HighStakesWeights() Weights {
	return Weights{Trust: 0.55, ProficiencyCapMatch: 0.35, Availability: 0.1}
}

func CostOptimizedWeights() Weights {
	return Weights{Trust: 0.2, ProficiencyCapMatch: 0.3, Availability: 0.5}
}

// ScoredResponse pairs a response with its computed score and the
// normalized per-objective components, for transparency.
type ScoredResponse struct {
	Response            envelope.CapabilityResponse
	Score               float64
	TrustScore          float64
	CapMatchScore       float64
	AvailabilityScore   float64
}

// RankResponses scores and sorts responses descending by weighted score
// (optimizer.go's RankBids). Unavailable responses are dropped entirely,
// since an agent that reported Available=false is not a viable candidate
// regardless of score.
func RankResponses(responses []envelope.CapabilityResponse, weights Weights, agentTrust map[string]float64, requiredCaps []string) []ScoredResponse {
	candidates := make([]envelope.CapabilityResponse, 0, len(responses))
	for _, r := range responses {
		if r.Available {
			candidates = append(candidates, r)
		}
	}
	if len(candidates) == 0 {
		return nil
	}

	var minAvail, maxAvail int64
	minAvail, maxAvail = candidates[0].EstimatedAvailability, candidates[0].EstimatedAvailability
	for _, r := range candidates {
		if r.EstimatedAvailability < minAvail {
			minAvail = r.EstimatedAvailability
		}
		if r.EstimatedAvailability > maxAvail {
			maxAvail = r.EstimatedAvailability
		}
	}

	scored := make([]ScoredResponse, len(candidates))
	for i, r := range candidates {
		availScore := 1.0
		if maxAvail > minAvail {
			availScore = 1.0 - float64(r.EstimatedAvailability-minAvail)/float64(maxAvail-minAvail)
		}

		trust := agentTrust[r.RespondingAgent]
		capScore := proficiencyCapMatchScore(requiredCaps, r.ProficiencyScores)

		total := weights.Trust*trust + weights.ProficiencyCapMatch*capScore + weights.Availability*availScore

		scored[i] = ScoredResponse{
			Response: r, Score: total,
			TrustScore: trust, CapMatchScore: capScore, AvailabilityScore: availScore,
		}
	}

	sort.Slice(scored, func(i, j int) bool { return scored[i].Score > scored[j].Score })
	return scored
}

// proficiencyCapMatchScore averages proficiency across required
// capabilities (0 for any capability the respondent didn't report),
// mirroring optimizer.go's Jaccard-style capabilityMatchScore but weighted
// by reported proficiency instead of plain presence/absence.
func proficiencyCapMatchScore(required []string, proficiency map[string]float64) float64 {
	if len(required) == 0 {
		return 1.0
	}
	var sum float64
	for _, cap := range required {
		sum += proficiency[cap]
	}
	return sum / float64(len(required))
}
