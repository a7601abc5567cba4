package evaluate

// Meta is the evaluation's descriptive header: a title, inferred category,
// and keywords the LLM pulled out of the transcript.
type Meta struct {
	Title    string   `json:"title"`
	Category string   `json:"category"`
	Keywords []string `json:"keywords"`
}

// Scores is the three-dimension rubric score plus total, each out of its own
// ceiling (Logic and InfoDensity out of 35, Expression out of 30).
type Scores struct {
	Logic       int `json:"logic"`
	InfoDensity int `json:"info_density"`
	Expression  int `json:"expression"`
	Total       int `json:"total"`
}

// Analysis is the free-form content breakdown: main points, any data points
// called out, and an overall sentiment read.
type Analysis struct {
	MainPoints []string `json:"main_points"`
	KeyData    []string `json:"key_data"`
	Sentiment  string   `json:"sentiment"`
}

// Result is the full LLM-generated evaluation for one transcript, whether it
// came from a single direct pass or a map-reduce run over a long one.
type Result struct {
	Meta     Meta     `json:"meta"`
	Scores   Scores   `json:"scores"`
	Analysis Analysis `json:"analysis"`
	Summary  string   `json:"summary"`
}

// Response is the API-level wrapper around a Result, alongside the text it
// was computed from and how long the pass took.
type Response struct {
	RawText          string  `json:"raw_text"`
	CorrectedText    string  `json:"corrected_text"`
	Evaluation       Result  `json:"evaluation"`
	ProcessingTimeMs float64 `json:"processing_time_ms"`
}
