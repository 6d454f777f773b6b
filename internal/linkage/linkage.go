// Package linkage joins curated trial records against the independently
// keyed event-count source. Every curated trial leaves with exactly one
// linkage status; retained trials produce arm-level dex/control count rows.
package linkage

import (
	"fmt"
	"regexp"
	"sort"
	"strconv"
	"strings"

	"github.com/rotisserie/eris"
	"go.uber.org/zap"

	"github.com/sedationlab/dexatlas/internal/model"
	"github.com/sedationlab/dexatlas/internal/normalize"
)

// QC flags attached to arm count rows.
const (
	FlagUsedStudyKeyAlias    = "used_study_key_alias"
	FlagAmbiguityResolved    = "resolved_ambiguity_by_dexmedetomidine_name"
	FlagMultiDexTrial        = "multi_dex_trial"
	FlagManualCountsOverride = "manual_counts_override"
)

var dexArmRe = regexp.MustCompile(`(?i)dexmedetomidine|\bdex\b`)

// Linker resolves curated trials against event rows using immutable
// curation tables fixed at construction.
type Linker struct {
	tables   Tables
	excluded map[string]struct{}
	keep     map[string]map[int]struct{}
	allowed  map[string]struct{}
}

// NewLinker builds a Linker around one table set. The tables are indexed
// here once; Link itself performs no table mutation.
func NewLinker(tables Tables) *Linker {
	l := &Linker{
		tables:   tables,
		excluded: make(map[string]struct{}, len(tables.ExcludedTrials)),
		keep:     make(map[string]map[int]struct{}, len(tables.ArmKeep)),
		allowed:  make(map[string]struct{}, len(tables.ControlAllowed)),
	}
	for _, id := range tables.ExcludedTrials {
		l.excluded[normalize.Clean(id)] = struct{}{}
	}
	for trialID, indices := range tables.ArmKeep {
		set := make(map[int]struct{}, len(indices))
		for _, idx := range indices {
			set[idx] = struct{}{}
		}
		l.keep[trialID] = set
	}
	for _, label := range tables.ControlAllowed {
		l.allowed[strings.ToLower(normalize.Clean(label))] = struct{}{}
	}
	return l
}

// Link resolves every curated trial to its event-source counts. The
// returned slices are ordered by the input trial order; the coverage block
// reconciles statuses against the curated trial count. Any count or
// accounting violation is returned as an error rather than flagged, since
// it indicates broken upstream data, not an adjudication case.
func (l *Linker) Link(trials []model.TrialArmRecord, events []model.EventRow) ([]model.ArmCountRow, []model.LinkageRecord, model.LinkageCoverage, error) {
	canonical, inconsistent, sourceIDs, err := collapseEventRows(events)
	if err != nil {
		return nil, nil, model.LinkageCoverage{}, err
	}
	lookup := buildKeyLookup(sourceIDs)

	var armRows []model.ArmCountRow
	records := make([]model.LinkageRecord, 0, len(trials))
	armCountByTrial := make(map[string]int)

	for _, trial := range trials {
		rows, record, err := l.linkTrial(trial, canonical, inconsistent, lookup)
		if err != nil {
			return nil, nil, model.LinkageCoverage{}, err
		}
		armRows = append(armRows, rows...)
		armCountByTrial[record.TrialID] += len(rows)
		records = append(records, record)
	}

	if err := checkArmRowKeys(armRows); err != nil {
		return nil, nil, model.LinkageCoverage{}, err
	}
	coverage, err := reconcile(records, len(trials), len(armRows), armCountByTrial)
	if err != nil {
		return nil, nil, model.LinkageCoverage{}, err
	}

	zap.L().Info("linkage complete",
		zap.Int("trials_curated", coverage.NTrialsCurated),
		zap.Int("trials_extracted", coverage.NExtractedTrials),
		zap.Int("arm_rows", coverage.NExtractedRows),
	)
	return armRows, records, coverage, nil
}

// linkTrial resolves one curated trial to zero or more arm rows plus its
// linkage record, walking the resolution order: manual exclusion, manual
// count override, key lookup, control scope, dex-arm detection.
func (l *Linker) linkTrial(
	trial model.TrialArmRecord,
	canonical map[string]model.EventRow,
	inconsistent map[string]struct{},
	lookup map[string][]string,
) ([]model.ArmCountRow, model.LinkageRecord, error) {
	trialID := normalize.TrimPageSuffix(trial.TrialID)
	studyLabel := normalize.Clean(trial.StudyLabel)
	record := model.LinkageRecord{TrialID: trialID, StudyLabel: studyLabel, CandidateIDs: []string{}}

	if _, ok := l.excluded[trialID]; ok {
		record.Status = model.LinkManuallyExcluded
		record.Notes = "excluded by manual audit policy"
		return nil, record, nil
	}

	studyKey := normalize.StudyKey(studyLabel)
	resolvedKey := studyKey
	if alias, ok := l.tables.Aliases[studyKey]; ok {
		resolvedKey = alias
	}
	keyUsedAlias := resolvedKey != studyKey

	override, hasOverride := l.tables.CountOverrides[trialID]
	candidates := lookup[resolvedKey]
	if len(candidates) > 0 {
		record.CandidateIDs = append([]string(nil), candidates...)
	}

	selected, method := chooseCandidate(candidates)

	if selected == "" && !hasOverride && len(candidates) == 0 {
		record.Status = model.LinkMissingInCSV
		record.Notes = fmt.Sprintf("no event source match for key=%s", resolvedKey)
		return nil, record, nil
	}
	if selected == "" && !hasOverride {
		record.Status = model.LinkAmbiguousUnresolved
		record.Notes = "multiple candidate studyIDs and no unique dexmedetomidine candidate"
		zap.L().Warn("ambiguous linkage left unresolved",
			zap.String("trial_id", trialID),
			zap.Strings("candidates", candidates),
		)
		return nil, record, nil
	}
	if selected == "" {
		selected = normalize.Clean(override.SourceStudyID)
		if selected == "" {
			selected = "manual_override"
		}
		method = model.MapManualOverride
		if len(record.CandidateIDs) == 0 {
			record.CandidateIDs = []string{selected}
		}
	}
	if keyUsedAlias && method == model.MapExactKey {
		method = model.MapAliasKey
	}

	if !hasOverride {
		if _, bad := inconsistent[selected]; bad {
			record.Status = model.LinkInconsistentCSVRows
			record.Notes = fmt.Sprintf("inconsistent event tuple across repeated complication rows for %s", selected)
			return nil, record, nil
		}
	}

	if hasOverride {
		rows, err := l.overrideRows(trialID, studyLabel, studyKey, selected, override)
		if err != nil {
			return nil, record, err
		}
		record.Status = model.LinkExtracted
		record.Notes = fmt.Sprintf("selected %s; manual counts override applied", selected)
		return rows, record, nil
	}

	eventRow := canonical[selected]
	controlLabel := normalize.Clean(eventRow.Control)
	if _, ok := l.allowed[strings.ToLower(controlLabel)]; !ok {
		record.Status = model.LinkControlMismatch
		record.Notes = fmt.Sprintf("control %q is outside strict placebo/saline scope", controlLabel)
		return nil, record, nil
	}

	dexIndices := detectDexArmIndices(eventRow)
	if keep, ok := l.keep[trialID]; ok {
		kept := dexIndices[:0]
		for _, idx := range dexIndices {
			if _, retain := keep[idx]; retain {
				kept = append(kept, idx)
			}
		}
		dexIndices = kept
	}
	if len(dexIndices) == 0 {
		record.Status = model.LinkNoDexArm
		record.Notes = "no dexmedetomidine arm detected in Intervention1/2/3"
		return nil, record, nil
	}

	controlEvents, err := parseCount(eventRow.ControlCases, "Control_cases", selected)
	if err != nil {
		return nil, record, err
	}
	controlTotal, err := parseCount(eventRow.ControlTotal, "Control_total", selected)
	if err != nil {
		return nil, record, err
	}
	if err := checkCounts(controlEvents, controlTotal, "control", selected); err != nil {
		return nil, record, err
	}

	var raised []string
	if keyUsedAlias {
		raised = append(raised, FlagUsedStudyKeyAlias)
	}
	if method == model.MapAmbiguityRule {
		raised = append(raised, FlagAmbiguityResolved)
	}
	if len(dexIndices) > 1 {
		raised = append(raised, FlagMultiDexTrial)
	}
	baseFlags := model.AddFlags(nil, raised...)

	rows := make([]model.ArmCountRow, 0, len(dexIndices))
	for _, speIdx := range dexIndices {
		dexEvents, err := parseCount(eventRow.ArmCases(speIdx), fmt.Sprintf("Intervention%d_cases", speIdx), selected)
		if err != nil {
			return nil, record, err
		}
		dexTotal, err := parseCount(eventRow.ArmTotal(speIdx), fmt.Sprintf("Intervention%d_total", speIdx), selected)
		if err != nil {
			return nil, record, err
		}
		if err := checkCounts(dexEvents, dexTotal, fmt.Sprintf("dex arm %d", speIdx), selected); err != nil {
			return nil, record, err
		}

		label := normalize.Clean(eventRow.Intervention(speIdx))
		if renamed, ok := l.tables.ArmLabelOverrides[ArmLabelKey(trialID, speIdx)]; ok {
			label = renamed
		}

		rows = append(rows, model.ArmCountRow{
			TrialID:       trialID,
			StudyLabel:    studyLabel,
			StudyKey:      studyKey,
			SourceStudyID: selected,
			DexArmIndex:   speIdx,
			DexArmLabel:   label,
			DexEvents:     dexEvents,
			DexTotal:      dexTotal,
			ControlLabel:  controlLabel,
			ControlEvents: controlEvents,
			ControlTotal:  controlTotal,
			MappingMethod: method,
			QCFlags:       model.AddFlags(baseFlags),
		})
	}

	record.Status = model.LinkExtracted
	record.Notes = fmt.Sprintf("selected %s", selected)
	return rows, record, nil
}

// overrideRows materializes the arm rows of a manual count override after
// validating every count it carries.
func (l *Linker) overrideRows(trialID, studyLabel, studyKey, selected string, override CountOverride) ([]model.ArmCountRow, error) {
	controlLabel := normalize.Clean(override.ControlLabel)
	if err := checkCounts(override.ControlEvents, override.ControlTotal, "manual override control", trialID); err != nil {
		return nil, err
	}
	if len(override.Arms) == 0 {
		return nil, eris.Errorf("linkage: manual override for %s has no dex arms", trialID)
	}

	indices := make([]int, 0, len(override.Arms))
	for idx := range override.Arms {
		indices = append(indices, idx)
	}
	sort.Ints(indices)

	raised := []string{FlagManualCountsOverride}
	if len(indices) > 1 {
		raised = append(raised, FlagMultiDexTrial)
	}
	flags := model.AddFlags(nil, raised...)

	rows := make([]model.ArmCountRow, 0, len(indices))
	for _, idx := range indices {
		arm := override.Arms[idx]
		if err := checkCounts(arm.Events, arm.Total, fmt.Sprintf("manual override dex arm %d", idx), trialID); err != nil {
			return nil, err
		}
		rows = append(rows, model.ArmCountRow{
			TrialID:       trialID,
			StudyLabel:    studyLabel,
			StudyKey:      studyKey,
			SourceStudyID: selected,
			DexArmIndex:   idx,
			DexArmLabel:   normalize.Clean(arm.Label),
			DexEvents:     arm.Events,
			DexTotal:      arm.Total,
			ControlLabel:  controlLabel,
			ControlEvents: override.ControlEvents,
			ControlTotal:  override.ControlTotal,
			MappingMethod: model.MapManualOverride,
			QCFlags:       model.AddFlags(flags),
		})
	}
	return rows, nil
}

// collapseEventRows groups event rows by study id and collapses repeated
// complication rows to one canonical row per id. Ids whose count tuples
// disagree across repeats are returned as inconsistent instead.
func collapseEventRows(events []model.EventRow) (map[string]model.EventRow, map[string]struct{}, []string, error) {
	byStudyID := make(map[string][]model.EventRow)
	var order []string
	for _, row := range events {
		studyID := normalize.Clean(row.StudyID)
		if studyID == "" {
			return nil, nil, nil, eris.New("linkage: event row with empty studyID")
		}
		if _, seen := byStudyID[studyID]; !seen {
			order = append(order, studyID)
		}
		byStudyID[studyID] = append(byStudyID[studyID], row)
	}

	canonical := make(map[string]model.EventRow, len(byStudyID))
	inconsistent := make(map[string]struct{})
	for _, studyID := range order {
		rows := byStudyID[studyID]
		first := cleanTuple(rows[0])
		consistent := true
		for _, row := range rows[1:] {
			if cleanTuple(row) != first {
				inconsistent[studyID] = struct{}{}
				consistent = false
				break
			}
		}
		if consistent {
			canonical[studyID] = rows[0]
		}
	}
	return canonical, inconsistent, order, nil
}

func cleanTuple(row model.EventRow) [8]string {
	tuple := row.CountTuple()
	for i, cell := range tuple {
		tuple[i] = normalize.Clean(cell)
	}
	return tuple
}

// buildKeyLookup indexes source study ids by their derived study key. Ids
// are visited in sorted order so candidate lists are deterministic.
func buildKeyLookup(sourceIDs []string) map[string][]string {
	unique := make(map[string]struct{}, len(sourceIDs))
	for _, id := range sourceIDs {
		unique[id] = struct{}{}
	}
	sorted := make([]string, 0, len(unique))
	for id := range unique {
		sorted = append(sorted, id)
	}
	sort.Strings(sorted)

	lookup := make(map[string][]string)
	for _, id := range sorted {
		key := normalize.KeyFromSourceID(id)
		lookup[key] = append(lookup[key], id)
	}
	return lookup
}

// chooseCandidate picks the source id for a candidate list: a single
// candidate is accepted directly; among several, exactly one id containing
// the drug name wins via the ambiguity rule; anything else stays unresolved.
func chooseCandidate(candidates []string) (string, model.MappingMethod) {
	if len(candidates) == 0 {
		return "", ""
	}
	if len(candidates) == 1 {
		return candidates[0], model.MapExactKey
	}
	var dexCandidates []string
	for _, id := range candidates {
		if strings.Contains(strings.ToLower(id), "dexmedetomidine") {
			dexCandidates = append(dexCandidates, id)
		}
	}
	if len(dexCandidates) == 1 {
		return dexCandidates[0], model.MapAmbiguityRule
	}
	return "", ""
}

// detectDexArmIndices returns the 1-based intervention slots naming a
// dexmedetomidine arm.
func detectDexArmIndices(row model.EventRow) []int {
	var indices []int
	for idx := 1; idx <= 3; idx++ {
		label := normalize.Clean(row.Intervention(idx))
		if label == "" || strings.EqualFold(label, "NA") {
			continue
		}
		if dexArmRe.MatchString(label) {
			indices = append(indices, idx)
		}
	}
	return indices
}

// parseCount coerces one raw count cell to a non-negative integer. "NA" and
// blanks are fatal here because the caller only asks for arms it has already
// decided to retain.
func parseCount(cell, field, studyID string) (int, error) {
	text := normalize.Clean(cell)
	if text == "" || strings.EqualFold(text, "NA") {
		return 0, eris.Errorf("linkage: missing numeric value for %s in %s", field, studyID)
	}
	value, err := strconv.ParseFloat(text, 64)
	if err != nil {
		return 0, eris.Errorf("linkage: invalid numeric value for %s in %s: %q", field, studyID, text)
	}
	n := int(value)
	if n < 0 {
		return 0, eris.Errorf("linkage: negative value for %s in %s: %d", field, studyID, n)
	}
	return n, nil
}

func checkCounts(events, total int, what, source string) error {
	if events < 0 || total <= 0 || events > total {
		return eris.Errorf("linkage: invalid %s counts for %s: %d/%d", what, source, events, total)
	}
	return nil
}

func checkArmRowKeys(rows []model.ArmCountRow) error {
	seen := make(map[model.ComparisonKey]struct{}, len(rows))
	for _, row := range rows {
		key := row.Key()
		if _, dup := seen[key]; dup {
			return eris.Errorf("linkage: duplicate (trial_id, dex_arm_index) row: %s", key.ComparisonID())
		}
		seen[key] = struct{}{}
	}
	return nil
}

// reconcile builds the coverage block and enforces the accounting identity:
// every curated trial carries exactly one status and the per-status counts
// sum back to the curated trial count.
func reconcile(records []model.LinkageRecord, nTrials, nArmRows int, armCountByTrial map[string]int) (model.LinkageCoverage, error) {
	if len(records) != nTrials {
		return model.LinkageCoverage{}, eris.Errorf(
			"linkage: internal: %d linkage records for %d curated trials", len(records), nTrials)
	}

	counts := make(map[model.LinkStatus]int, 7)
	for _, record := range records {
		counts[record.Status]++
	}

	multiDex := 0
	for _, n := range armCountByTrial {
		if n > 1 {
			multiDex++
		}
	}

	coverage := model.LinkageCoverage{
		NTrialsCurated:       nTrials,
		NExtractedTrials:     counts[model.LinkExtracted],
		NExtractedRows:       nArmRows,
		NMissingInCSV:        counts[model.LinkMissingInCSV],
		NControlMismatch:     counts[model.LinkControlMismatch],
		NAmbiguousUnresolved: counts[model.LinkAmbiguousUnresolved],
		NInconsistentCSVRows: counts[model.LinkInconsistentCSVRows],
		NManuallyExcluded:    counts[model.LinkManuallyExcluded],
		NMultiDexTrials:      multiDex,
	}

	accounted := coverage.NExtractedTrials +
		coverage.NMissingInCSV +
		coverage.NControlMismatch +
		coverage.NAmbiguousUnresolved +
		coverage.NInconsistentCSVRows +
		coverage.NManuallyExcluded +
		counts[model.LinkNoDexArm]
	if accounted != nTrials {
		return model.LinkageCoverage{}, eris.Errorf(
			"linkage: internal: status accounting %d does not reconcile to curated trial count %d", accounted, nTrials)
	}
	return coverage, nil
}
