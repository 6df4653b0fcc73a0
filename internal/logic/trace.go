package logic

import "github.com/patrickwarner/adselect/internal/models"

// TraceStep records the candidate ad units at a selection stage.
type TraceStep struct {
	Stage     string            `json:"stage"`
	AdUnitIDs []string          `json:"ad_unit_ids"`
	Campaigns []string          `json:"campaigns"`
	Details   map[string]string `json:"details,omitempty"`
}

// SelectionTrace captures the ordered list of steps performed by a selector.
type SelectionTrace struct {
	Steps []TraceStep `json:"steps"`
}

// AddStep appends a trace entry for the given stage using the supplied entries.
// Duplicate campaigns are removed.
func (t *SelectionTrace) AddStep(stage string, entries []models.AdEntry) {
	t.AddStepWithDetails(stage, entries, nil)
}

// AddStepWithDetails appends a trace entry with additional details.
func (t *SelectionTrace) AddStepWithDetails(stage string, entries []models.AdEntry, details map[string]string) {
	if t == nil {
		return
	}
	step := TraceStep{Stage: stage, Details: details, AdUnitIDs: []string{}, Campaigns: []string{}}
	seen := make(map[models.CampaignID]struct{})
	for _, e := range entries {
		step.AdUnitIDs = append(step.AdUnitIDs, e.AdUnitID)
		if _, ok := seen[e.CampaignID]; !ok {
			seen[e.CampaignID] = struct{}{}
			step.Campaigns = append(step.Campaigns, e.CampaignID.String())
		}
	}
	t.Steps = append(t.Steps, step)
}
