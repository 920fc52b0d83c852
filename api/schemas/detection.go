package schemas

import "time"

// RuleCheckResult is the pure output of a single rule evaluation. A
// non-match always carries zero confidence; use the constructors below
// rather than building the struct by hand.
type RuleCheckResult struct {
	Matched    bool           `json:"matched"`
	Confidence float64        `json:"confidence"`
	Details    map[string]any `json:"details,omitempty"`
}

// NoMatch is the canonical negative result.
func NoMatch() RuleCheckResult {
	return RuleCheckResult{}
}

// Match builds a positive result with the confidence clamped to [0,1].
func Match(confidence float64, details map[string]any) RuleCheckResult {
	if confidence < 0 {
		confidence = 0
	} else if confidence > 1 {
		confidence = 1
	}
	return RuleCheckResult{Matched: true, Confidence: confidence, Details: details}
}

// RuleMatch pairs a matched rule with its check result, in evaluation order.
type RuleMatch struct {
	RuleID   string          `json:"rule_id"`
	RuleName string          `json:"rule_name"`
	Result   RuleCheckResult `json:"result"`
}

// DetectionResult is the outcome of one heuristic engine evaluation.
type DetectionResult struct {
	Verdict      Verdict     `json:"verdict"`
	Confidence   float64     `json:"confidence"`
	MatchedRules []RuleMatch `json:"matched_rules,omitempty"`
	Reason       string      `json:"reason"`
}

// AnalysisResult is what the orchestrator returns for a network request,
// after the heuristic pass and any AI escalation.
type AnalysisResult struct {
	Verdict        Verdict        `json:"verdict"`
	Confidence     float64        `json:"confidence"`
	Reason         string         `json:"reason"`
	Recommendation Recommendation `json:"recommendation"`
	MatchedRuleIDs []string       `json:"matched_rule_ids,omitempty"`
	UsedAI         bool           `json:"used_ai"`
	AnalysisTimeMs int64          `json:"analysis_time_ms"`
}

// DetectionEvent is the persisted record of a non-SAFE verdict. It maps
// directly to the detection_events table.
type DetectionEvent struct {
	ID             string         `json:"id"`
	Verdict        Verdict        `json:"verdict"`
	Confidence     float64        `json:"confidence"`
	Reason         string         `json:"reason"`
	Recommendation Recommendation `json:"recommendation"`
	MatchedRuleID  string         `json:"matched_rule_id,omitempty"`
	RequestID      string         `json:"request_id"`
	RequestType    RequestType    `json:"request_type"`
	TargetDomain   string         `json:"target_domain"`
	CurrentDomain  string         `json:"current_domain"`
	Timestamp      time.Time      `json:"timestamp"`
}

// AIAnalysisRequest is the payload handed to the AI analyzer when the
// heuristics are inconclusive.
type AIAnalysisRequest struct {
	Request             NetworkRequest   `json:"request"`
	RecentInputs        []SensitiveInput `json:"recent_inputs,omitempty"`
	CurrentDomain       string           `json:"current_domain"`
	ExternalScripts     []string         `json:"external_scripts,omitempty"`
	HeuristicVerdict    Verdict          `json:"heuristic_verdict,omitempty"`
	HeuristicConfidence float64          `json:"heuristic_confidence"`
}

// AIAnalysisResponse is the AI analyzer's judgement.
type AIAnalysisResponse struct {
	Verdict        Verdict        `json:"verdict"`
	Confidence     float64        `json:"confidence"`
	Reason         string         `json:"reason"`
	Recommendation Recommendation `json:"recommendation"`
	Details        map[string]any `json:"details,omitempty"`
}
