package validator

import (
	"testing"

	"github.com/stretchr/testify/assert"

	"certflow/backend/pkg/models"
)

func TestValidateRejectsWeakHumanDependentText(t *testing.T) {
	in := Input{
		Text:           "The operator should ensure the brake is checked",
		HazardSeverity: models.SeverityCatastrophic,
	}

	a := Validate(in, AgentRuleSet)

	assert.Equal(t, VerdictReject, a.Status)
	assert.False(t, a.Rules.HumanIndependent)
	assert.False(t, a.Rules.PreventiveConstraint)
	assert.NotEmpty(t, a.Issues)
}

func TestValidatePassesQuantifiedSystemRequirement(t *testing.T) {
	in := Input{
		Text: "The system shall detect brake failure within 200 ms and shall isolate the faulted circuit",
	}

	a := Validate(in, AgentRuleSet)

	assert.Equal(t, VerdictPass, a.Status)
	assert.True(t, a.Rules.PreventiveConstraint)
	assert.True(t, a.Rules.HumanIndependent)
	assert.True(t, a.Rules.ObjectivelyVerifiable)
	// No when/if/during clause, so the context category costs 2 points but
	// does not flag the requirement.
	assert.False(t, a.Rules.ClearContext)
	assert.Equal(t, 8, a.Score)
	assert.Empty(t, a.Issues)
	assert.NotEmpty(t, a.Suggestions)
}

func TestValidateRuleCategories(t *testing.T) {
	tests := []struct {
		name   string
		in     Input
		set    RuleSet
		status Verdict
		check  func(t *testing.T, a *Assessment)
	}{
		{
			name:   "context clause passes binding rule",
			in:     Input{Text: "When the guard door is open, the system shall prevent spindle rotation within 500 ms"},
			set:    AgentRuleSet,
			status: VerdictPass,
			check: func(t *testing.T, a *Assessment) {
				assert.True(t, a.Rules.ClearContext)
				assert.Equal(t, MaxScore, a.Score)
			},
		},
		{
			name:   "short text skips context rule",
			in:     Input{Text: "Shall limit current to 5 mA"},
			set:    AgentRuleSet,
			status: VerdictPass,
			check: func(t *testing.T, a *Assessment) {
				assert.True(t, a.Rules.ClearContext)
			},
		},
		{
			name:   "verification method substitutes for missing quantity",
			in:     Input{Text: "The system shall prevent unintended motion of the lift platform", VerificationMethod: "test"},
			set:    AgentRuleSet,
			status: VerdictPass,
			check: func(t *testing.T, a *Assessment) {
				assert.True(t, a.Rules.ObjectivelyVerifiable)
			},
		},
		{
			name: "catastrophic hazard mitigated by training only is rejected",
			in: Input{
				Text:            "If overpressure occurs during filling, the system shall detect it and shall vent within 2 s",
				HazardSeverity:  models.SeverityCatastrophic,
				MitigationLevel: MitigationTraining,
			},
			set:    AgentRuleSet,
			status: VerdictReject,
			check: func(t *testing.T, a *Assessment) {
				assert.False(t, a.Rules.SeverityAligned)
			},
		},
		{
			name: "catastrophic hazard with safety device mitigation is aligned",
			in: Input{
				Text:            "If overpressure occurs during filling, the system shall detect it and shall vent within 2 s",
				HazardSeverity:  models.SeverityCatastrophic,
				MitigationLevel: MitigationSafetyDevices,
			},
			set:    AgentRuleSet,
			status: VerdictPass,
			check: func(t *testing.T, a *Assessment) {
				assert.True(t, a.Rules.SeverityAligned)
				assert.Equal(t, MaxScore, a.Score)
			},
		},
		{
			name: "marginal hazard does not evaluate severity alignment",
			in: Input{
				Text:            "During startup the system shall monitor coolant flow and shall not exceed 80 % duty",
				HazardSeverity:  models.SeverityMarginal,
				MitigationLevel: MitigationDocumentation,
			},
			set:    AgentRuleSet,
			status: VerdictPass,
			check: func(t *testing.T, a *Assessment) {
				assert.True(t, a.Rules.SeverityAligned)
			},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			a := Validate(tt.in, tt.set)
			assert.Equal(t, tt.status, a.Status)
			if tt.check != nil {
				tt.check(t, a)
			}
		})
	}
}

func TestValidateRuleSetAsymmetry(t *testing.T) {
	// Constraint language present but hedged: the agent set still awards the
	// constraint category, the batch set does not.
	in := Input{Text: "The system should detect loss of communication within 3 seconds"}

	agent := Validate(in, AgentRuleSet)
	batch := Validate(in, BatchRuleSet)

	assert.True(t, agent.Rules.PreventiveConstraint)
	assert.False(t, batch.Rules.PreventiveConstraint)
	assert.Equal(t, agent.Score-2, batch.Score)

	// Both still record the weak-language issue.
	assert.Equal(t, VerdictFlag, agent.Status)
	assert.Equal(t, VerdictFlag, batch.Status)
}

func TestValidateIsDeterministic(t *testing.T) {
	in := Input{
		Text:           "Upon detection of a ground fault the system shall isolate the circuit within 100 ms",
		HazardSeverity: models.SeverityCritical,
		MitigationLevel: MitigationDesignMinimum,
	}

	first := Validate(in, AgentRuleSet)
	for i := 0; i < 10; i++ {
		again := Validate(in, AgentRuleSet)
		assert.Equal(t, first, again)
	}
	assert.GreaterOrEqual(t, first.Score, 0)
	assert.LessOrEqual(t, first.Score, MaxScore)
}
