package conflict

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/mytips/synccore/internal/errs"
)

func TestAnalyzeOnlyFlagsFieldsChangedOnBothSides(t *testing.T) {
	r := NewResolver(nil)
	rec := Record{
		Table:    "tips",
		RecordID: "abc",
		Fields: []FieldValue{
			{Field: "title", Local: "A", Remote: "B", LocalChanged: true, RemoteChanged: true},
			{Field: "category_id", Local: "c1", Remote: "c1", LocalChanged: false, RemoteChanged: false},
		},
	}
	a := r.Analyze(rec)
	require.Len(t, a.Conflicts, 1)
	assert.Equal(t, "title", a.Conflicts[0].Field)
	// tips.title is critical by default (critical/longer_wins): one
	// disagreeing critical field classifies the record as High.
	assert.Equal(t, SeverityHigh, a.Severity)
}

func TestClassifySeverityRules(t *testing.T) {
	r := NewResolver(nil)

	// High: a critical field (tips.content) disagrees.
	a := r.Analyze(Record{Table: "tips", Fields: []FieldValue{
		{Field: "content", Local: "a", Remote: "b", LocalChanged: true, RemoteChanged: true},
	}})
	assert.Equal(t, SeverityHigh, a.Severity)

	// Medium: more than three non-critical fields disagree.
	a = r.Analyze(Record{Table: "tips", Fields: []FieldValue{
		{Field: "f1", Local: "a", Remote: "b", LocalChanged: true, RemoteChanged: true},
		{Field: "f2", Local: "a", Remote: "b", LocalChanged: true, RemoteChanged: true},
		{Field: "f3", Local: "a", Remote: "b", LocalChanged: true, RemoteChanged: true},
		{Field: "f4", Local: "a", Remote: "b", LocalChanged: true, RemoteChanged: true},
	}})
	assert.Equal(t, SeverityMedium, a.Severity)

	// Critical: structural damage, one side a map and the other a scalar.
	a = r.Analyze(Record{Table: "tips", Fields: []FieldValue{
		{Field: "metadata", Local: map[string]any{"k": "v"}, Remote: "not-an-object", LocalChanged: true, RemoteChanged: true},
	}})
	assert.Equal(t, SeverityCritical, a.Severity)
}

func TestApplyLongerWinsPicksLongerString(t *testing.T) {
	r := NewResolver(nil)
	rec := Record{
		Table: "tips",
		Fields: []FieldValue{
			{Field: "title", Local: "short", Remote: "a much longer title", LocalChanged: true, RemoteChanged: true},
		},
	}
	a := r.Analyze(rec)
	res, err := r.Apply(a)
	require.NoError(t, err)
	assert.Equal(t, "a much longer title", res.Merged["title"])
	assert.Equal(t, StrategyLongerWins, res.Applied["title"])
}

func TestApplyUserChoiceEscalates(t *testing.T) {
	r := NewResolver([]FieldCriticality{
		{Table: "tips", Field: "owner", Severity: SeverityHigh, Strategy: StrategyUserChoice},
	})
	rec := Record{
		Table: "tips",
		Fields: []FieldValue{
			{Field: "owner", Local: "alice", Remote: "bob", LocalChanged: true, RemoteChanged: true},
		},
	}
	a := r.Analyze(rec)
	res, err := r.Apply(a)
	require.ErrorIs(t, err, errs.ErrConflictEscalated)
	assert.True(t, res.NeedsUser)

	r.ApplyUserChoice(res, "owner", "alice")
	assert.False(t, res.NeedsUser)
	assert.Equal(t, "alice", res.Merged["owner"])
}

func TestScoreUserChoiceIsHighestConfidence(t *testing.T) {
	res := &Resolution{Applied: map[string]Strategy{"a": StrategyUserChoice}}
	assert.Equal(t, 100, Score(res))

	res2 := &Resolution{Applied: map[string]Strategy{"a": StrategyLocalWins, "b": StrategyRemoteWins}}
	assert.Equal(t, 85, Score(res2))

	res3 := &Resolution{Applied: map[string]Strategy{"a": StrategyNewerWins}}
	assert.Equal(t, 70, Score(res3))
}

func TestMergeListsDeduplicates(t *testing.T) {
	out := mergeLists([]any{"x", "y"}, []any{"y", "z"})
	assert.ElementsMatch(t, []any{"x", "y", "z"}, out)
}
