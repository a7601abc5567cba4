package compliance

// ViolationStatus tracks a violation through the filter/review lifecycle.
type ViolationStatus string

const (
	StatusPending   ViolationStatus = "pending"
	StatusConfirmed ViolationStatus = "confirmed"
	StatusRejected  ViolationStatus = "rejected"
)

// EvidenceSource identifies which signal a violation was detected from.
type EvidenceSource string

const (
	SourceTranscript EvidenceSource = "transcript"
	SourceOCR        EvidenceSource = "ocr"
	SourceVision     EvidenceSource = "vision"
)

// Violation is a single compliance issue, either reported by the LLM audit
// pass or synthesized by the exact-match validator from a rule the LLM
// missed.
type Violation struct {
	RuleID      int             `json:"rule_id"`
	RuleContent string          `json:"rule_content"`
	Reason      string          `json:"reason"`
	Severity    Severity        `json:"severity"`
	Confidence  float64         `json:"confidence"`
	Status      ViolationStatus `json:"status"`

	Timestamp    string `json:"timestamp"`
	TimestampMs  int    `json:"timestamp_ms"`
	EndMs        int    `json:"end_ms"`
	Speaker      string `json:"speaker"`
	OriginalText string `json:"original_text"`

	Source       EvidenceSource `json:"source"`
	EvidenceURL  *string        `json:"evidence_url,omitempty"`
	EvidenceText *string        `json:"evidence_text,omitempty"`
	RuleRef      *string        `json:"rule_ref,omitempty"`

	// Reasoning carries the LLM's chain-of-thought, if the model was asked
	// to think and the audit pass chose to keep it for auditability.
	Reasoning *string `json:"reasoning,omitempty"`
}

// Report is the full compliance audit result for one recording.
type Report struct {
	TotalRules           int            `json:"total_rules"`
	TotalSegmentsChecked int            `json:"total_segments_checked"`
	Violations           []Violation    `json:"violations"`
	Summary              string         `json:"summary"`
	ComplianceScore      float64        `json:"compliance_score"`
	SourceCounts         map[string]int `json:"source_counts"`
}

// Response is the API-level wrapper: the rules parsed from the uploaded
// rule file (before enrichment), the resulting report, and timing.
type Response struct {
	Rules            []Rule  `json:"rules"`
	Report           Report  `json:"report"`
	ProcessingTimeMs float64 `json:"processing_time_ms"`
}
