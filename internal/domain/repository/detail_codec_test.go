package repository

import (
	"testing"

	"github.com/google/go-cmp/cmp"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"tle_judge/internal/domain/model"
)

func TestDetailCodecRoundTrip(t *testing.T) {
	in := model.SubmissionDetail{
		Message: "Wrong answer on test case 2 (Hidden): 1/2 test cases passed",
		Meta: &model.DetailMeta{
			Groups: []model.GroupScore{
				{Key: "sample", Label: "Sample", PassedCases: 1, TotalCases: 1},
				{Key: "main", Label: "Hidden", TotalCases: 1, MaxScore: 100},
			},
			HiddenFromStatus: true,
			Origin:           model.OriginDuel,
		},
	}

	raw, err := encodeDetail(in)
	require.NoError(t, err)
	out := decodeDetail(raw)

	if diff := cmp.Diff(in, out); diff != "" {
		t.Errorf("detail mismatch (-want +got):\n%s", diff)
	}
}

func TestDecodeDetailSplitsOnLastSentinel(t *testing.T) {
	// A message that itself contains the sentinel text, e.g. echoed program output.
	msg := "Runtime error" + detailSentinel + "not json"
	raw, err := encodeDetail(model.SubmissionDetail{Message: msg, Meta: &model.DetailMeta{Origin: model.OriginPractice}})
	require.NoError(t, err)

	out := decodeDetail(raw)
	assert.Equal(t, msg, out.Message)
	require.NotNil(t, out.Meta)
	assert.Equal(t, model.OriginPractice, out.Meta.Origin)
}

func TestDecodeDetailWithoutMeta(t *testing.T) {
	raw, err := encodeDetail(model.SubmissionDetail{Message: "queued"})
	require.NoError(t, err)
	assert.Equal(t, "queued", raw)

	out := decodeDetail(raw)
	assert.Equal(t, "queued", out.Message)
	assert.Nil(t, out.Meta)

	broken := decodeDetail("oops" + detailSentinel + "{broken")
	assert.Equal(t, "oops"+detailSentinel+"{broken", broken.Message)
	assert.Nil(t, broken.Meta)
}
