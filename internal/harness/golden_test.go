package harness

import (
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/roach88/tessera/internal/addr"
)

// TestGoldenScenarios runs every scenario under testdata/scenarios and
// compares its materialized state with testdata/golden/{name}.golden.
//
// To regenerate golden files, run:
//
//	go test ./internal/harness -run TestGoldenScenarios -update
func TestGoldenScenarios(t *testing.T) {
	scenarios, err := LoadScenarios(filepath.Join("testdata", "scenarios"))
	require.NoError(t, err)
	require.NotEmpty(t, scenarios)

	for _, scenario := range scenarios {
		t.Run(scenario.Name, func(t *testing.T) {
			result, err := RunWithGolden(t, scenario)
			require.NoError(t, err)
			assert.True(t, result.Pass, "errors: %v", result.Errors)
		})
	}
}

func TestStateSnapshot_CanonicalValue(t *testing.T) {
	result, err := Run(mustParse(t, minimalScenario))
	require.NoError(t, err)

	data, err := addr.Canonicalize(StateSnapshot{ScenarioName: "minimal", Result: result})
	require.NoError(t, err)

	assert.Equal(t,
		`{"buffered":0,"scenario_name":"minimal","segments":1,"state":{"derived":[],"nodes":[`+
			`{"deleted":false,"id":"A","kind":"box","links":[],"props":{},`+
			`"transform":{"position":[0,0,0],"rotation":[0,0,0],"scale":[1,1,1]}}]}}`,
		string(data))
}

func TestStateSnapshot_GoldenIsDeterministic(t *testing.T) {
	scenario := mustParse(t, minimalScenario)

	var outputs []string
	for range 3 {
		result, err := Run(scenario)
		require.NoError(t, err)
		data, err := addr.Canonicalize(StateSnapshot{ScenarioName: scenario.Name, Result: result})
		require.NoError(t, err)
		outputs = append(outputs, string(data))
	}

	assert.Equal(t, outputs[0], outputs[1])
	assert.Equal(t, outputs[1], outputs[2])
}
