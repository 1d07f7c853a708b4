// Package manifest serializes every input and result of a promotion attempt
// into a versioned, write-once record, and re-executes those inputs later to
// prove the record reproducible.
package manifest

import (
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"os"
	"runtime"
	"time"

	"github.com/stratgate/stratgate/internal/cache"
	"github.com/stratgate/stratgate/internal/gates"
	"github.com/stratgate/stratgate/internal/guardrails"
	"github.com/stratgate/stratgate/internal/model"
	"github.com/stratgate/stratgate/internal/objective"
	"github.com/stratgate/stratgate/internal/period"
	"github.com/stratgate/stratgate/internal/walkforward"
)

// SchemaVersion is bumped whenever the record shape changes incompatibly.
const SchemaVersion = "2.0"

// Stage tags how far the promotion attempt progressed.
type Stage string

const (
	StageTuning      Stage = "tuning"
	StageGate1Passed Stage = "gate1_passed"
	StageGate2Passed Stage = "gate2_passed"
	StageFinal       Stage = "final"
)

// ConfigSection captures every knob that shaped the run.
type ConfigSection struct {
	Seed      int64                  `json:"seed"`
	NTrials   int                    `json:"n_trials"`
	TopN      int                    `json:"top_n"`
	DateStart string                 `json:"date_start"` // 2006-01-02
	DateEnd   string                 `json:"date_end"`
	Split     period.SplitConfig     `json:"split"`
	Objective objective.Config       `json:"objective"`
	Gate2     gates.Gate2Config      `json:"gate2"`
	Window    walkforward.WindowSpec `json:"window"`
	Guards    guardrails.Config      `json:"guards"`
	Costs     model.CostConfig       `json:"costs"`
	Universe  []string               `json:"universe"`
}

// BestTrial is the winning candidate's full evidence.
type BestTrial struct {
	Params          model.Params            `json:"params"`
	Fingerprint     string                  `json:"fingerprint"`
	Score           float64                 `json:"score"`
	BindingLookback int                     `json:"binding_lookback"`
	Metrics         model.RunResult         `json:"metrics"`
	PerLookback     map[int]model.RunResult `json:"per_lookback,omitempty"`
}

// CandidateSummary records where each gate candidate ended up.
type CandidateSummary struct {
	ID          string       `json:"id"`
	Fingerprint string       `json:"fingerprint"`
	Score       float64      `json:"score"`
	Status      gates.Status `json:"status"`
}

// ResultsSection holds the run's outputs.
type ResultsSection struct {
	BestTrial   *BestTrial           `json:"best_trial,omitempty"`
	WalkForward *walkforward.Summary `json:"walk_forward,omitempty"`
	Candidates  []CandidateSummary   `json:"candidates,omitempty"`
}

// EnvironmentSection fingerprints where the run executed.
type EnvironmentSection struct {
	GoVersion string `json:"go_version"`
	OS        string `json:"os"`
	Arch      string `json:"arch"`
	Hostname  string `json:"hostname"`
}

// EngineHealth snapshots the governance machinery's own counters.
type EngineHealth struct {
	Cache  cache.Stats    `json:"cache"`
	Trials map[string]int `json:"trials"`
}

// Manifest is one promotion attempt's complete record. Created once,
// persisted immutably; a later stage produces a new Manifest.
type Manifest struct {
	SchemaVersion string             `json:"schema_version"`
	RunID         string             `json:"run_id"`
	CreatedAt     time.Time          `json:"created_at"`
	Stage         Stage              `json:"stage"`
	Config        ConfigSection      `json:"config"`
	Data          model.DataConfig   `json:"data"`
	Results       ResultsSection     `json:"results"`
	Environment   EnvironmentSection `json:"environment"`
	Health        EngineHealth       `json:"engine_health"`
}

// New assembles a manifest and stamps its identifier. The sealing rule is
// enforced at creation: any stage short of final must carry a nil held-out
// metrics block.
func New(stage Stage, runID string, cfg ConfigSection, data model.DataConfig,
	results ResultsSection, health EngineHealth) (*Manifest, error) {

	m := &Manifest{
		SchemaVersion: SchemaVersion,
		RunID:         runID,
		CreatedAt:     time.Now().UTC(),
		Stage:         stage,
		Config:        cfg,
		Data:          data,
		Results:       results,
		Environment:   captureEnvironment(),
		Health:        health,
	}

	if err := m.Validate(); err != nil {
		return nil, err
	}
	return m, nil
}

// Validate enforces the cross-field invariants of the record.
func (m *Manifest) Validate() error {
	switch m.Stage {
	case StageTuning, StageGate1Passed, StageGate2Passed, StageFinal:
	default:
		return fmt.Errorf("manifest: unknown stage %q", m.Stage)
	}
	if m.Stage != StageFinal && m.Results.BestTrial != nil && m.Results.BestTrial.Metrics.Test != nil {
		return fmt.Errorf("manifest: stage %s carries held-out metrics, sealing violated", m.Stage)
	}
	if m.RunID == "" {
		return fmt.Errorf("manifest: empty run id")
	}
	return nil
}

// ID is the generated identifier {stage}_{timestamp}_{shorthash}.
func (m *Manifest) ID() string {
	return fmt.Sprintf("%s_%s_%s", m.Stage, m.CreatedAt.Format("20060102T150405Z"), m.shortHash())
}

func (m *Manifest) shortHash() string {
	payload, _ := json.Marshal(struct {
		RunID  string        `json:"run_id"`
		Config ConfigSection `json:"config"`
	}{m.RunID, m.Config})
	sum := sha256.Sum256(payload)
	return hex.EncodeToString(sum[:])[:12]
}

func captureEnvironment() EnvironmentSection {
	hostname, _ := os.Hostname()
	return EnvironmentSection{
		GoVersion: runtime.Version(),
		OS:        runtime.GOOS,
		Arch:      runtime.GOARCH,
		Hostname:  hostname,
	}
}
