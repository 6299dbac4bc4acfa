package ranking

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"tenantops/pkg/config"
	"tenantops/pkg/persistence"
)

func contractors() []*persistence.Contractor {
	return []*persistence.Contractor{
		{ID: "slow", Name: "Slow Co", Rating: 3.0, AvgResponseHours: 72},
		{ID: "star", Name: "Star Plumbing", Rating: 4.9, AvgResponseHours: 4, EmergencyAvailable: true},
		{ID: "mid", Name: "Mid Fix", Rating: 4.0, AvgResponseHours: 24, EmergencyAvailable: true},
	}
}

func TestCandidates(t *testing.T) {
	all := contractors()

	assert.Len(t, Candidates(all, false), 3)

	emergency := Candidates(all, true)
	require.Len(t, emergency, 2)
	for _, c := range emergency {
		assert.True(t, c.EmergencyAvailable)
	}

	none := []*persistence.Contractor{{ID: "a"}, {ID: "b"}}
	assert.Equal(t, none, Candidates(none, true))
}

func TestSelect(t *testing.T) {
	ctx := context.Background()

	t.Run("first match keeps store order", func(t *testing.T) {
		c, err := Select(ctx, FirstMatch{}, Request{}, contractors())
		require.NoError(t, err)
		assert.Equal(t, "slow", c.ID)
	})

	t.Run("emergency always picks from available subset", func(t *testing.T) {
		for _, s := range []Strategy{FirstMatch{}, DefaultWeighted()} {
			c, err := Select(ctx, s, Request{Emergency: true}, contractors())
			require.NoError(t, err)
			assert.True(t, c.EmergencyAvailable, s.Name())
		}
	})

	t.Run("no candidates", func(t *testing.T) {
		c, err := Select(ctx, FirstMatch{}, Request{}, nil)
		require.NoError(t, err)
		assert.Nil(t, c)
	})
}

func TestWeighted(t *testing.T) {
	ranked, err := DefaultWeighted().Rank(context.Background(), Request{}, contractors())
	require.NoError(t, err)
	require.Len(t, ranked, 3)
	assert.Equal(t, "star", ranked[0].ID)
	assert.Equal(t, "slow", ranked[2].ID)
}

func TestCEL(t *testing.T) {
	ctx := context.Background()

	t.Run("lowest response time wins", func(t *testing.T) {
		s, err := NewCEL("0.0 - contractor.avg_response_hours")
		require.NoError(t, err)
		ranked, err := s.Rank(ctx, Request{}, contractors())
		require.NoError(t, err)
		assert.Equal(t, []string{"star", "mid", "slow"}, ids(ranked))
	})

	t.Run("request variables are visible", func(t *testing.T) {
		s, err := NewCEL(`request.emergency && contractor.emergency_available ? contractor.rating : 0.0`)
		require.NoError(t, err)
		ranked, err := s.Rank(ctx, Request{Emergency: true}, contractors())
		require.NoError(t, err)
		assert.Equal(t, "star", ranked[0].ID)
	})

	t.Run("compile errors surface at construction", func(t *testing.T) {
		_, err := NewCEL("contractor.rating +")
		require.Error(t, err)
	})

	t.Run("non-numeric result is an error", func(t *testing.T) {
		s, err := NewCEL(`contractor.name`)
		require.NoError(t, err)
		_, err = s.Rank(ctx, Request{}, contractors())
		require.Error(t, err)
	})
}

func TestNew(t *testing.T) {
	s, err := New(config.RankingConfig{Strategy: config.RankingWeighted})
	require.NoError(t, err)
	assert.Equal(t, config.RankingWeighted, s.Name())

	_, err = New(config.RankingConfig{Strategy: "random"})
	require.Error(t, err)
}

func ids(cs []*persistence.Contractor) []string {
	out := make([]string, len(cs))
	for i, c := range cs {
		out[i] = c.ID
	}
	return out
}
