package model

// SubmissionDetail is the human-readable judge message plus optional
// structured metadata. It is flattened to a single column only by the
// repository layer.
type SubmissionDetail struct {
	Message string      `json:"message"`
	Meta    *DetailMeta `json:"meta,omitempty"`
}

type DetailMeta struct {
	Groups           []GroupScore `json:"groups"`
	HiddenFromStatus bool         `json:"hidden_from_status"`
	Origin           OriginKind   `json:"origin"`
}

type GroupScore struct {
	Key         string `json:"key"`
	Label       string `json:"label"`
	PassedCases int    `json:"passed_cases"`
	TotalCases  int    `json:"total_cases"`
	EarnedScore int    `json:"earned_score"`
	MaxScore    int    `json:"max_score"`
}
