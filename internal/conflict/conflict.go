// Package conflict implements the analyze → classify → apply → validate →
// score pipeline the sync engine runs whenever local and remote both
// changed the same record (spec.md §4.7). Error taxonomy and struct-tag
// validation follow the teacher's error/validator conventions
// (internal/database/postgres/errors.go, go-playground/validator/v10 used
// the way the teacher validates core.Alert).
package conflict

import (
	"fmt"

	"github.com/go-playground/validator/v10"

	"github.com/mytips/synccore/internal/errs"
)

// Severity classifies how serious a detected conflict is, driven by
// per-(table,field) criticality configuration.
type Severity string

const (
	SeverityLow      Severity = "low"
	SeverityMedium   Severity = "medium"
	SeverityHigh     Severity = "high"
	SeverityCritical Severity = "critical"
)

// Strategy is a per-field merge strategy.
type Strategy string

const (
	StrategyLocalWins  Strategy = "local_wins"
	StrategyRemoteWins Strategy = "remote_wins"
	StrategyNewerWins  Strategy = "newer_wins"
	StrategyLongerWins Strategy = "longer_wins"
	StrategyMergeLists Strategy = "merge_lists"
	StrategyUserChoice Strategy = "user_choice"
	StrategyCustom     Strategy = "custom"
)

// FieldCriticality maps a (table, field) pair to the severity that
// classify reads when that field conflicts, and to the strategy Apply uses
// to merge it.
type FieldCriticality struct {
	Table    string
	Field    string
	Severity Severity
	Strategy Strategy
}

// DefaultCriticality is the built-in (table, field) criticality table;
// callers may extend or override it via Resolver.Criticality.
func DefaultCriticality() []FieldCriticality {
	return []FieldCriticality{
		// spec.md §4.7 "Defaults by field name": title, name, content,
		// description -> LongerWins; tips.title, tips.content,
		// categories.name, tags.name are critical by default.
		{Table: "tips", Field: "content", Severity: SeverityCritical, Strategy: StrategyLongerWins},
		{Table: "tips", Field: "encrypted_content", Severity: SeverityCritical, Strategy: StrategyNewerWins},
		{Table: "tips", Field: "title", Severity: SeverityCritical, Strategy: StrategyLongerWins},
		{Table: "tips", Field: "category_id", Severity: SeverityLow, Strategy: StrategyRemoteWins},
		{Table: "categories", Field: "name", Severity: SeverityCritical, Strategy: StrategyLongerWins},
		{Table: "categories", Field: "parent_id", Severity: SeverityHigh, Strategy: StrategyNewerWins},
		{Table: "tags", Field: "name", Severity: SeverityCritical, Strategy: StrategyLongerWins},
		{Table: "tip_tags", Field: "*", Severity: SeverityLow, Strategy: StrategyMergeLists},
	}
}

// FieldValue is one field's local and remote state going into a merge.
type FieldValue struct {
	Field        string
	Local        any
	Remote       any
	LocalNewer   bool
	LocalChanged bool
	RemoteChanged bool
}

// Record is the full set of field values under comparison for one
// table/record pair.
type Record struct {
	Table    string
	RecordID string
	Fields   []FieldValue
}

// Analysis is the outcome of comparing local and remote field values.
type Analysis struct {
	Record    Record
	Conflicts []FieldValue // fields where both sides changed
	Severity  Severity
}

// Resolution is the merged record plus bookkeeping for confidence scoring.
type Resolution struct {
	Table      string
	RecordID   string
	Merged     map[string]any
	Applied    map[string]Strategy
	Confidence int // 0-100
	NeedsUser  bool
}

// Resolver runs the four-stage pipeline: Analyze, Classify, Apply, Score.
// Validation is a separate call, ValidatePostMerge, which uses the shared
// validator instance; Apply does not invoke it.
type Resolver struct {
	criticality map[string]FieldCriticality // keyed by table+"."+field
	validate    *validator.Validate
}

// NewResolver builds a Resolver from a criticality table (DefaultCriticality
// if nil).
func NewResolver(criticality []FieldCriticality) *Resolver {
	if criticality == nil {
		criticality = DefaultCriticality()
	}
	m := make(map[string]FieldCriticality, len(criticality))
	for _, c := range criticality {
		m[c.Table+"."+c.Field] = c
	}
	return &Resolver{criticality: m, validate: validator.New()}
}

func (r *Resolver) lookup(table, field string) FieldCriticality {
	if c, ok := r.criticality[table+"."+field]; ok {
		return c
	}
	if c, ok := r.criticality[table+".*"]; ok {
		return c
	}
	return FieldCriticality{Table: table, Field: field, Severity: SeverityLow, Strategy: StrategyNewerWins}
}

// Analyze compares local and remote field values, returning the subset
// where both sides changed since the last sync (a true conflict, as
// opposed to a one-sided change that needs no merge).
func (r *Resolver) Analyze(rec Record) Analysis {
	a := Analysis{Record: rec, Severity: SeverityLow}
	for _, f := range rec.Fields {
		if f.LocalChanged && f.RemoteChanged {
			a.Conflicts = append(a.Conflicts, f)
		}
	}
	a.Severity = r.classify(rec.Table, a.Conflicts)
	return a
}

// classify derives the overall severity from the conflicting fields
// (spec.md §4.7): structural damage in any field is always Critical
// regardless of which field it's in; otherwise at least one field
// configured as critical makes the whole record High; four or more
// disagreeing non-critical fields make it Medium; anything smaller is Low.
func (r *Resolver) classify(table string, conflicts []FieldValue) Severity {
	criticalHit := false
	nonCritical := 0
	for _, f := range conflicts {
		if structuralDamage(f) {
			return SeverityCritical
		}
		c := r.lookup(table, f.Field)
		if c.Severity == SeverityCritical {
			criticalHit = true
			continue
		}
		nonCritical++
	}
	switch {
	case criticalHit:
		return SeverityHigh
	case nonCritical > 3:
		return SeverityMedium
	default:
		return SeverityLow
	}
}

// Apply merges every field according to its configured strategy,
// producing a Resolution. Fields with StrategyUserChoice set NeedsUser and
// are left out of Merged until a caller supplies a choice via
// ApplyUserChoice.
func (r *Resolver) Apply(a Analysis) (*Resolution, error) {
	res := &Resolution{
		Table:    a.Record.Table,
		RecordID: a.Record.RecordID,
		Merged:   make(map[string]any),
		Applied:  make(map[string]Strategy),
	}

	conflictSet := make(map[string]bool, len(a.Conflicts))
	for _, f := range a.Conflicts {
		conflictSet[f.Field] = true
	}

	for _, f := range a.Record.Fields {
		crit := r.lookup(a.Record.Table, f.Field)
		if !conflictSet[f.Field] {
			// no conflict: whichever side actually changed wins, else keep local
			if f.RemoteChanged {
				res.Merged[f.Field] = f.Remote
			} else {
				res.Merged[f.Field] = f.Local
			}
			continue
		}

		value, strat, needsUser := applyStrategy(crit.Strategy, f)
		res.Applied[f.Field] = strat
		if needsUser {
			res.NeedsUser = true
			continue
		}
		res.Merged[f.Field] = value
	}

	res.Confidence = Score(res)
	if res.NeedsUser {
		return res, errs.ErrConflictEscalated
	}
	return res, nil
}

// strategyConfidence ranks each merge strategy by how much it trusts its
// own outcome: an explicit human choice is certain, simple one-sided picks
// are nearly so, and strategies that lean on a heuristic (string length,
// wall-clock ordering) or custom logic are progressively less so.
var strategyConfidence = map[Strategy]int{
	StrategyUserChoice: 100,
	StrategyLocalWins:  85,
	StrategyRemoteWins: 85,
	StrategyMergeLists: 80,
	StrategyLongerWins: 75,
	StrategyNewerWins:  70,
	StrategyCustom:     60,
}

// Score is the pipeline's final stage (spec.md §4.7): the average
// per-field confidence of whichever strategy resolved it. A Resolution
// with no conflicting fields at all scores 100 (nothing needed resolving).
func Score(res *Resolution) int {
	if len(res.Applied) == 0 {
		return 100
	}
	total := 0
	for _, strat := range res.Applied {
		total += strategyConfidence[strat]
	}
	return total / len(res.Applied)
}

func applyStrategy(strat Strategy, f FieldValue) (value any, applied Strategy, needsUser bool) {
	switch strat {
	case StrategyLocalWins:
		return f.Local, StrategyLocalWins, false
	case StrategyRemoteWins:
		return f.Remote, StrategyRemoteWins, false
	case StrategyNewerWins:
		if f.LocalNewer {
			return f.Local, StrategyNewerWins, false
		}
		return f.Remote, StrategyNewerWins, false
	case StrategyLongerWins:
		ls, lok := f.Local.(string)
		rs, rok := f.Remote.(string)
		if lok && rok {
			if len(ls) >= len(rs) {
				return f.Local, StrategyLongerWins, false
			}
			return f.Remote, StrategyLongerWins, false
		}
		return f.Remote, StrategyLongerWins, false
	case StrategyMergeLists:
		return mergeLists(f.Local, f.Remote), StrategyMergeLists, false
	case StrategyUserChoice:
		return nil, StrategyUserChoice, true
	case StrategyCustom:
		return f.Remote, StrategyCustom, false
	default:
		return f.Remote, StrategyRemoteWins, false
	}
}

// structuralDamage reports a field where both sides hold a non-empty
// value but disagree on shape — one side a structured value (map or
// slice), the other a bare scalar — the "both sides non-empty but
// non-object" case spec.md §4.7 classifies as Critical regardless of
// which field it's in.
func structuralDamage(f FieldValue) bool {
	if isEmpty(f.Local) || isEmpty(f.Remote) {
		return false
	}
	return isStructured(f.Local) != isStructured(f.Remote)
}

func isEmpty(v any) bool {
	switch t := v.(type) {
	case nil:
		return true
	case string:
		return t == ""
	case []any:
		return len(t) == 0
	case map[string]any:
		return len(t) == 0
	default:
		return false
	}
}

func isStructured(v any) bool {
	switch v.(type) {
	case map[string]any, []any:
		return true
	default:
		return false
	}
}

func mergeLists(local, remote any) []any {
	seen := make(map[any]bool)
	var out []any
	appendUnique := func(v any) {
		if !seen[v] {
			seen[v] = true
			out = append(out, v)
		}
	}
	if ls, ok := local.([]any); ok {
		for _, v := range ls {
			appendUnique(v)
		}
	}
	if rs, ok := remote.([]any); ok {
		for _, v := range rs {
			appendUnique(v)
		}
	}
	return out
}

// ApplyUserChoice fills in a field left pending by Apply with a caller-
// supplied choice (spec.md §4.7 "Apply and validate"). Once every
// UserChoice field has a value, NeedsUser clears.
func (r *Resolver) ApplyUserChoice(res *Resolution, field string, value any) {
	res.Merged[field] = value
	res.Applied[field] = StrategyUserChoice

	for f, strat := range res.Applied {
		if strat == StrategyUserChoice {
			if _, ok := res.Merged[f]; !ok {
				res.NeedsUser = true
				return
			}
		}
	}
	res.NeedsUser = false
}

// ValidatePostMerge re-validates the merged struct (e.g. model.Note) so a
// bad merge never reaches storage — spec.md §4.7's "validate" stage.
func (r *Resolver) ValidatePostMerge(merged any) error {
	if err := r.validate.Struct(merged); err != nil {
		return fmt.Errorf("conflict: post-merge validation failed: %w", err)
	}
	return nil
}
