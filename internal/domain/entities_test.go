package domain

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestLevelRangeNormalize(t *testing.T) {
	tests := []struct {
		name string
		in   LevelRange
		want LevelRange
	}{
		{name: "обычный", in: LevelRange{Min: 6, Max: 10}, want: LevelRange{Min: 6, Max: 10}},
		{name: "перевёрнутый", in: LevelRange{Min: 5, Max: 1}, want: LevelRange{Min: 1, Max: 5}},
		{name: "за границами", in: LevelRange{Min: -3, Max: 99}, want: LevelRange{Min: 1, Max: 30}},
		{name: "перевёрнутый за границами", in: LevelRange{Min: 40, Max: 0}, want: LevelRange{Min: 1, Max: 30}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, tt.in.Normalize())
		})
	}
}

func TestTierForLevel(t *testing.T) {
	assert.Equal(t, "Unrated", TierForLevel(0).Name)
	assert.Equal(t, "Bronze V", TierForLevel(1).Name)
	assert.Equal(t, "Gold III", TierForLevel(13).Name)
	assert.Equal(t, "Ruby I", TierForLevel(30).Name)
	assert.Equal(t, "Unrated", TierForLevel(31).Name)
}

func TestParseGroupKind(t *testing.T) {
	kind, err := ParseGroupKind("Squad")
	assert.NoError(t, err)
	assert.Equal(t, GroupKindSquad, kind)

	_, err = ParseGroupKind("guild")
	assert.Error(t, err)
	assert.Equal(t, "team:7", GroupRef{ID: 7, Kind: GroupKindTeam}.String())
}
