package market

import (
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/b00t-dev/acs/envelope"
)

func TestRankResponsesDropsUnavailable(t *testing.T) {
	responses := []envelope.CapabilityResponse{
		{RespondingAgent: "a", Available: false},
		{RespondingAgent: "b", Available: true, ProficiencyScores: map[string]float64{"rust": 0.9}},
	}
	scored := RankResponses(responses, DefaultWeights(), map[string]float64{"b": 0.8}, []string{"rust"})
	assert.Len(t, scored, 1)
	assert.Equal(t, "b", scored[0].Response.RespondingAgent)
}

func TestRankResponsesOrdersByScore(t *testing.T) {
	responses := []envelope.CapabilityResponse{
		{RespondingAgent: "low-trust", Available: true, ProficiencyScores: map[string]float64{"rust": 0.9}},
		{RespondingAgent: "high-trust", Available: true, ProficiencyScores: map[string]float64{"rust": 0.9}},
	}
	trust := map[string]float64{"low-trust": 0.1, "high-trust": 0.9}
	scored := RankResponses(responses, DefaultWeights(), trust, []string{"rust"})
	assert.Equal(t, "high-trust", scored[0].Response.RespondingAgent)
}
