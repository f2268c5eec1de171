package harness

import (
	"testing"

	"github.com/sebdah/goldie/v2"

	"github.com/roach88/tessera/internal/addr"
)

// StateSnapshot is the golden form of a scenario result: its name, the
// manifest and buffer sizes, and the materialized state. Hashes are left
// out so the file reads as the state itself.
type StateSnapshot struct {
	ScenarioName string
	Result       *Result
}

// CanonicalValue returns the snapshot's golden form.
func (s StateSnapshot) CanonicalValue() (addr.Value, error) {
	state, err := s.Result.State.CanonicalValue()
	if err != nil {
		return nil, err
	}
	return addr.Object{
		"scenario_name": addr.String(s.ScenarioName),
		"segments":      addr.Number(float64(len(s.Result.Manifest))),
		"buffered":      addr.Number(float64(s.Result.Buffered)),
		"state":         state,
	}, nil
}

// RunWithGolden executes a scenario and compares the materialized state
// against a golden file stored in testdata/golden/{scenario.Name}.golden.
//
// To regenerate golden files, run:
//
//	go test ./internal/harness -update
//
// Returns error if scenario execution fails. Test failure (via goldie)
// occurs if the state doesn't match the golden file.
func RunWithGolden(t *testing.T, scenario *Scenario) (*Result, error) {
	t.Helper()

	result, err := Run(scenario)
	if err != nil {
		return nil, err
	}
	if err := AssertGolden(t, scenario.Name, result); err != nil {
		return nil, err
	}
	return result, nil
}

// AssertGolden compares an existing result against a golden file without
// re-running the scenario.
func AssertGolden(t *testing.T, scenarioName string, result *Result) error {
	t.Helper()

	data, err := addr.Canonicalize(StateSnapshot{ScenarioName: scenarioName, Result: result})
	if err != nil {
		return err
	}

	g := goldie.New(t,
		goldie.WithFixtureDir("testdata/golden"),
		goldie.WithNameSuffix(".golden"),
	)
	g.Assert(t, scenarioName, data)

	return nil
}
