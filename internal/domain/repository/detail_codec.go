package repository

import (
	"encoding/json"
	"fmt"
	"strings"

	"tle_judge/internal/domain/model"
)

// detailSentinel separates the human message from the JSON metadata in the
// submissions.detail column.
const detailSentinel = "\n<!--judge-meta-->"

func encodeDetail(d model.SubmissionDetail) (string, error) {
	if d.Meta == nil {
		return d.Message, nil
	}
	meta, err := json.Marshal(d.Meta)
	if err != nil {
		return "", fmt.Errorf("encode submission detail: %w", err)
	}
	return d.Message + detailSentinel + string(meta), nil
}

// decodeDetail splits on the last sentinel. A tail that is not valid JSON is
// treated as part of the message.
func decodeDetail(raw string) model.SubmissionDetail {
	i := strings.LastIndex(raw, detailSentinel)
	if i < 0 {
		return model.SubmissionDetail{Message: raw}
	}
	var meta model.DetailMeta
	if err := json.Unmarshal([]byte(raw[i+len(detailSentinel):]), &meta); err != nil {
		return model.SubmissionDetail{Message: raw}
	}
	return model.SubmissionDetail{Message: raw[:i], Meta: &meta}
}
