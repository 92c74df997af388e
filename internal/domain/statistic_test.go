package domain

import (
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestStatistic_EnumerationOrder(t *testing.T) {
	names := make([]string, 0, NumStatistics)
	for _, s := range AllStatistics() {
		names = append(names, s.String())
	}
	assert.Equal(t, []string{
		"COUNT", "MINIMUM", "MEAN", "MAXIMUM", "MEDIAN", "MODE", "STD", "SUM", "VARIANCE",
	}, names)
}

func TestParseStatistics_SortsAndDeduplicates(t *testing.T) {
	stats, err := ParseStatistics("sum, COUNT,mean,sum,")
	require.NoError(t, err)
	assert.Equal(t, []Statistic{Count, Mean, Sum}, stats)
}

func TestParseStatistics_Errors(t *testing.T) {
	_, err := ParseStatistics("COUNT,P90")
	require.ErrorIs(t, err, ErrInvalidInput)
	assert.Contains(t, err.Error(), "P90")

	_, err = ParseStatistics(" , ")
	require.ErrorIs(t, err, ErrInvalidInput)
}

func TestStatistic_JSON(t *testing.T) {
	data, err := json.Marshal([]Statistic{Median, Variance})
	require.NoError(t, err)
	assert.JSONEq(t, `["MEDIAN","VARIANCE"]`, string(data))

	var back []Statistic
	require.NoError(t, json.Unmarshal([]byte(`["std","mode"]`), &back))
	assert.Equal(t, []Statistic{Std, Mode}, back)

	_, err = json.Marshal(Statistic(42))
	require.Error(t, err)
	assert.Equal(t, "Statistic(42)", Statistic(42).String())
}
