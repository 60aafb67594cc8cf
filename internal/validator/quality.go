// Package validator scores requirement text against the safety-quality rule
// heuristics. It is pure: no I/O, identical inputs always yield identical
// assessments.
package validator

import (
	"fmt"
	"regexp"
	"strings"

	"certflow/backend/pkg/models"
)

// Verdict is the overall outcome of an assessment.
type Verdict string

const (
	VerdictPass   Verdict = "PASS"
	VerdictFlag   Verdict = "FLAG"
	VerdictReject Verdict = "REJECT"
)

// RuleSet selects which scoring policy applies. The two sets differ only in
// how weak modal language interacts with the preventive-constraint score:
// the batch set zeroes the constraint category when hedging terms are
// present, the agent set scores the constraint category independently and
// reports weak language as its own issue.
type RuleSet int

const (
	// AgentRuleSet scores the five categories independently.
	AgentRuleSet RuleSet = iota
	// BatchRuleSet folds weak-language presence into the constraint category.
	BatchRuleSet
)

// MaxScore is the highest achievable quality score.
const MaxScore = 10

// Mitigation design-precedence hierarchy, best (1) to least preferred (7).
const (
	MitigationElimination     = 1
	MitigationDesignMinimum   = 2
	MitigationSafetyDevices   = 3
	MitigationWarningDevices  = 4
	MitigationAlertsLabels    = 5
	MitigationTraining        = 6
	MitigationDocumentation   = 7
)

// Input carries the text under assessment plus optional hazard context.
type Input struct {
	Text               string
	HazardSeverity     models.Severity
	VerificationMethod string
	// MitigationLevel is the design-precedence tier (1..7); zero means
	// unspecified.
	MitigationLevel int
}

// Issue is one failed rule.
type Issue struct {
	Rule     string `json:"rule"`
	Message  string `json:"message"`
	Critical bool   `json:"critical"`
}

// RuleResults holds the five scored category outcomes.
type RuleResults struct {
	PreventiveConstraint  bool `json:"preventive_constraint"`
	HumanIndependent      bool `json:"human_independent"`
	ObjectivelyVerifiable bool `json:"objectively_verifiable"`
	SeverityAligned       bool `json:"severity_aligned"`
	ClearContext          bool `json:"clear_context"`
}

// Assessment is the result of validating one requirement text.
type Assessment struct {
	Score       int         `json:"score"`
	Rules       RuleResults `json:"rules"`
	Issues      []Issue     `json:"issues"`
	Suggestions []string    `json:"suggestions,omitempty"`
	Status      Verdict     `json:"status"`
}

// IssueMessages flattens issues for denormalized storage on the requirement.
func (a *Assessment) IssueMessages() []string {
	out := make([]string, 0, len(a.Issues))
	for _, i := range a.Issues {
		out = append(out, i.Message)
	}
	return out
}

var (
	weakTermRe = regexp.MustCompile(`(?i)\b(should|may|might|could|try|attempt|consider|strive)\b`)

	humanRoleRe = regexp.MustCompile(`(?i)\b(operator|personnel|user|driver|maintainer|staff|worker|crew)s?\s+(shall|should|must|will|may)\b`)

	constraintRes = []*regexp.Regexp{
		regexp.MustCompile(`(?i)\b(prevent|preclude|prohibit|inhibit|block)\b`),
		regexp.MustCompile(`(?i)\b(detect|monitor|sense|annunciate)\b`),
		regexp.MustCompile(`(?i)\b(limit|restrict|not exceed|no more than|no greater than)\b`),
		regexp.MustCompile(`(?i)\b(redundant|redundancy|dual[- ]channel|backup|fail[- ]?over)\b`),
		regexp.MustCompile(`(?i)\b(fail[- ]?safe|safe state|shut\s?down|isolate|interlock)\b`),
		regexp.MustCompile(`(?i)\bwithin\s+\d+(\.\d+)?\s*(ms|milliseconds?|s|seconds?|minutes?|hours?)\b`),
	}

	quantitativeRes = []*regexp.Regexp{
		regexp.MustCompile(`(?i)\b\d+(\.\d+)?\s*(ms|milliseconds?|s|sec|seconds?|min|minutes?|h|hours?)\b`),
		regexp.MustCompile(`\b\d+(\.\d+)?\s*%`),
		regexp.MustCompile(`(?i)\b\d+(\.\d+)?\s*(mm|cm|km|m|meters?|millimeters?)\b`),
		regexp.MustCompile(`(?i)\bSIL\s*[0-4]\b`),
		regexp.MustCompile(`\b10\^?-?\d+\b|\b\d+(\.\d+)?[eE]-?\d+\b`),
		regexp.MustCompile(`\b\d+(\.\d+)?\s*(V|mV|kV|A|mA|kg|g|N|kN|W|kW|Hz|kHz)\b`),
	}

	contextRes = []*regexp.Regexp{
		regexp.MustCompile(`(?i)\b(when|if|during|upon|while)\b`),
		regexp.MustCompile(`(?i)\bin the event of\b`),
		regexp.MustCompile(`(?i)\bunder\s+\w+\s+conditions\b`),
	}
)

// contextMinLength is the text length above which the context-binding rule
// is evaluated.
const contextMinLength = 50

// Validate assesses requirement text under the given rule set.
func Validate(in Input, set RuleSet) *Assessment {
	a := &Assessment{}
	text := in.Text

	hasWeak := weakTermRe.MatchString(text)
	hasHumanDependence := humanRoleRe.MatchString(text)
	hasConstraint := matchAny(constraintRes, text)
	hasQuantitative := matchAny(quantitativeRes, text)
	method := strings.ToLower(strings.TrimSpace(in.VerificationMethod))
	hasMethod := method != "" && method != "none"

	significant := in.HazardSeverity == models.SeverityCatastrophic ||
		in.HazardSeverity == models.SeverityCritical

	// Preventive-constraint category. The batch set treats hedging language
	// as defeating the constraint; the agent set scores them apart.
	switch set {
	case BatchRuleSet:
		a.Rules.PreventiveConstraint = hasConstraint && !hasWeak
	default:
		a.Rules.PreventiveConstraint = hasConstraint
	}
	if !hasConstraint {
		a.Issues = append(a.Issues, Issue{
			Rule:    "constraint_language",
			Message: "no preventive, detective, or limiting constraint language found",
		})
	}
	if hasWeak {
		a.Issues = append(a.Issues, Issue{
			Rule:    "weak_language",
			Message: "contains weak modal language (should/may/might/could/try/attempt/consider/strive)",
		})
	}

	a.Rules.HumanIndependent = !hasHumanDependence
	if hasHumanDependence {
		a.Issues = append(a.Issues, Issue{
			Rule:    "human_independence",
			Message: "relies on human action rather than an engineered control",
		})
	}

	a.Rules.ObjectivelyVerifiable = hasQuantitative || hasMethod
	if !a.Rules.ObjectivelyVerifiable {
		a.Issues = append(a.Issues, Issue{
			Rule:    "verifiability",
			Message: "no quantitative bound or verification method; not objectively verifiable",
		})
	}

	a.Rules.SeverityAligned = true
	if significant {
		switch {
		case in.MitigationLevel >= MitigationElimination && in.MitigationLevel <= MitigationSafetyDevices:
			// top three tiers are acceptable for significant risk
		case in.MitigationLevel >= MitigationAlertsLabels:
			a.Rules.SeverityAligned = false
			a.Issues = append(a.Issues, Issue{
				Rule:     "severity_alignment",
				Message:  fmt.Sprintf("%s-severity hazard mitigated only at design-precedence level %d; levels 5-7 alone are insufficient", in.HazardSeverity, in.MitigationLevel),
				Critical: true,
			})
		default:
			a.Rules.SeverityAligned = false
			a.Issues = append(a.Issues, Issue{
				Rule:    "severity_alignment",
				Message: fmt.Sprintf("%s-severity hazard requires mitigation in the top three design-precedence tiers", in.HazardSeverity),
			})
		}
	}

	// Context binding is only expected of non-trivial text, and a miss is a
	// score deduction rather than a review issue.
	a.Rules.ClearContext = true
	if len(text) > contextMinLength && !matchAny(contextRes, text) {
		a.Rules.ClearContext = false
		a.Suggestions = append(a.Suggestions,
			"add an operational context (when/if/during/upon/in the event of)")
	}

	a.Score = score2(a.Rules.PreventiveConstraint) +
		score2(a.Rules.HumanIndependent) +
		score2(a.Rules.ObjectivelyVerifiable) +
		score2(a.Rules.SeverityAligned) +
		score2(a.Rules.ClearContext)

	a.Status = verdict(a, hasWeak, hasHumanDependence)
	return a
}

func verdict(a *Assessment, hasWeak, hasHuman bool) Verdict {
	critical := false
	for _, i := range a.Issues {
		if i.Critical {
			critical = true
		}
	}
	// Human dependence combined with hedging language is the other hard
	// blocker besides misaligned mitigation of significant risk.
	if hasWeak && hasHuman {
		critical = true
	}
	switch {
	case critical:
		return VerdictReject
	case len(a.Issues) > 0:
		return VerdictFlag
	default:
		return VerdictPass
	}
}

func score2(ok bool) int {
	if ok {
		return 2
	}
	return 0
}

func matchAny(res []*regexp.Regexp, text string) bool {
	for _, re := range res {
		if re.MatchString(text) {
			return true
		}
	}
	return false
}
