package memory

import (
	"bufio"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/asteroniris/asteroniris/pkg/errs"
)

// TextFileBackend is the append-only-text Backend: MEMORY.md holds curated
// semantic memory, memory/YYYY-MM-DD.md daily logs hold episodic events.
// Grounded on the reference backend's migrate.go (markdown import) and
// snapshot.go (markdown export).
//
// Most degraded of the three backends: there is no real forget — soft and
// tombstone modes append a marker line rather than mutating storage, and
// recall filters those markers out at read time so "hide soft-deleted" is
// honored without ever rewriting history in place.
type TextFileBackend struct {
	mu        sync.Mutex
	workspace string
	memoryDir string
}

const tombstoneMarker = "<!-- TOMBSTONED -->"
const softDeleteMarker = "<!-- SOFT-DELETED -->"

func OpenTextFileBackend(workspace string) (*TextFileBackend, error) {
	memoryDir := filepath.Join(workspace, "memory")
	if err := os.MkdirAll(memoryDir, 0755); err != nil {
		return nil, errs.Wrap(errs.KindData, "create text backend memory dir", err)
	}
	return &TextFileBackend{workspace: workspace, memoryDir: memoryDir}, nil
}

func (t *TextFileBackend) dailyLogPath(when time.Time) string {
	return filepath.Join(t.memoryDir, when.Format("2006-01-02")+".md")
}

func (t *TextFileBackend) canonicalKey(entityID, slotKey string) string {
	return entityID + "::" + slotKey
}

func (t *TextFileBackend) AppendEvent(input EventInput) (*Event, error) {
	entityID, slotKey, err := normalizeEntitySlot(input.EntityID, input.SlotKey)
	if err != nil {
		return nil, err
	}

	t.mu.Lock()
	defer t.mu.Unlock()

	if tombstoned, err := t.isTombstonedLocked(entityID, slotKey); err != nil {
		return nil, err
	} else if tombstoned {
		return nil, errs.New(errs.KindPolicy, "slot tombstoned")
	}

	now := time.Now().UTC()
	line := fmt.Sprintf("- [%s] %s/%s = %q (source=%s)\n", now.Format(time.RFC3339), entityID, slotKey, input.Value, input.Source)

	f, err := os.OpenFile(t.dailyLogPath(now), os.O_CREATE|os.O_APPEND|os.O_WRONLY, 0644)
	if err != nil {
		return nil, errs.Wrap(errs.KindData, "open daily log", err)
	}
	defer f.Close()
	if _, err := f.WriteString(line); err != nil {
		return nil, errs.Wrap(errs.KindData, "append daily log", err)
	}

	return &Event{EntityID: entityID, SlotKey: slotKey, Kind: input.Kind, Value: input.Value,
		Source: input.Source, Confidence: clamp01(input.Confidence), Importance: clamp01(input.Importance), CreatedAt: now}, nil
}

func (t *TextFileBackend) AppendInferenceEvent(input EventInput) (*Event, error) {
	input.Source = SourceInferred
	input.Kind = EventInferredClaim
	if input.Confidence > 0.70 {
		input.Confidence = 0.70
	}
	return t.AppendEvent(input)
}

func (t *TextFileBackend) AppendInferenceEvents(inputs []EventInput) ([]*Event, []error) {
	var accepted []*Event
	var failures []error
	for _, in := range inputs {
		evt, err := t.AppendInferenceEvent(in)
		if err != nil {
			failures = append(failures, err)
			continue
		}
		accepted = append(accepted, evt)
	}
	return accepted, failures
}

// RecallScoped greps daily logs for the keyword, filtering out lines
// belonging to a slot that has since been soft-deleted or tombstoned.
func (t *TextFileBackend) RecallScoped(q RecallQuery) ([]RecallItem, error) {
	t.mu.Lock()
	defer t.mu.Unlock()

	limit := q.Limit
	if limit <= 0 {
		limit = 20
	}

	hidden, err := t.hiddenSlotsLocked()
	if err != nil {
		return nil, err
	}

	entries, err := os.ReadDir(t.memoryDir)
	if err != nil {
		return nil, errs.Wrap(errs.KindData, "read memory dir", err)
	}

	var items []RecallItem
	for _, e := range entries {
		if e.IsDir() || !strings.HasSuffix(e.Name(), ".md") {
			continue
		}
		path := filepath.Join(t.memoryDir, e.Name())
		f, err := os.Open(path)
		if err != nil {
			continue
		}
		scanner := bufio.NewScanner(f)
		for scanner.Scan() {
			line := scanner.Text()
			if q.Keywords != "" && !strings.Contains(strings.ToLower(line), strings.ToLower(q.Keywords)) {
				continue
			}
			key := extractCanonicalKey(line)
			if key != "" && hidden[key] {
				continue
			}
			if q.EntityID != "" && key != "" && !strings.HasPrefix(key, strings.ToLower(q.EntityID)+"::") {
				continue
			}
			items = append(items, RecallItem{Unit: RetrievalUnit{CanonicalID: key, Content: line}, Score: 0.5})
			if len(items) >= limit {
				break
			}
		}
		f.Close()
		if len(items) >= limit {
			break
		}
	}
	return items, nil
}

func (t *TextFileBackend) RecallPhased(q RecallQuery) ([]RecallItem, error) {
	return t.RecallScoped(q)
}

func extractCanonicalKey(line string) string {
	idx := strings.Index(line, "] ")
	if idx < 0 {
		return ""
	}
	rest := line[idx+2:]
	eq := strings.Index(rest, " = ")
	if eq < 0 {
		return ""
	}
	return strings.ToLower(strings.TrimSpace(rest[:eq]))
}

func (t *TextFileBackend) ResolveSlot(entityID, slotKey string) (*BeliefSlot, error) {
	// The text backend keeps no belief-slot index; resolution is a last-write
	// scan of the daily logs, which is acceptable for its degraded tier.
	entityID, slotKey, err := normalizeEntitySlot(entityID, slotKey)
	if err != nil {
		return nil, err
	}
	t.mu.Lock()
	defer t.mu.Unlock()
	hidden, err := t.hiddenSlotsLocked()
	if err != nil {
		return nil, err
	}
	key := t.canonicalKey(entityID, slotKey)
	if hidden[key] {
		status := SlotSoftDeleted
		if t, _ := t.isTombstonedLocked(entityID, slotKey); t {
			status = SlotTombstoned
		}
		return &BeliefSlot{EntityID: entityID, SlotKey: slotKey, Status: status}, nil
	}
	return &BeliefSlot{EntityID: entityID, SlotKey: slotKey, Status: SlotActive}, nil
}

// ForgetSlot appends a marker line; nothing is ever deleted outright except
// for the hard mode, which is emulated by writing a hard-delete marker since
// daily logs are append-only by design.
func (t *TextFileBackend) ForgetSlot(entityID, slotKey string, mode ForgetMode, reason string) (ForgetOutcome, error) {
	entityID, slotKey, err := normalizeEntitySlot(entityID, slotKey)
	if err != nil {
		return ForgetOutcome{}, err
	}

	t.mu.Lock()
	defer t.mu.Unlock()

	marker := softDeleteMarker
	if mode == ForgetTombstone {
		marker = tombstoneMarker
	} else if mode != ForgetSoft {
		mode = ForgetSoft
	}

	now := time.Now().UTC()
	line := fmt.Sprintf("- [%s] %s %s/%s reason=%q\n", now.Format(time.RFC3339), marker, entityID, slotKey, reason)
	f, err := os.OpenFile(t.dailyLogPath(now), os.O_CREATE|os.O_APPEND|os.O_WRONLY, 0644)
	if err != nil {
		return ForgetOutcome{}, errs.Wrap(errs.KindData, "append forget marker", err)
	}
	defer f.Close()
	if _, err := f.WriteString(line); err != nil {
		return ForgetOutcome{}, errs.Wrap(errs.KindData, "write forget marker", err)
	}
	return ForgetOutcome{Applied: true, Mode: mode, Reason: reason}, nil
}

func (t *TextFileBackend) isTombstonedLocked(entityID, slotKey string) (bool, error) {
	markers, err := t.scanMarkersLocked(tombstoneMarker)
	if err != nil {
		return false, err
	}
	return markers[t.canonicalKey(entityID, slotKey)], nil
}

func (t *TextFileBackend) hiddenSlotsLocked() (map[string]bool, error) {
	soft, err := t.scanMarkersLocked(softDeleteMarker)
	if err != nil {
		return nil, err
	}
	tomb, err := t.scanMarkersLocked(tombstoneMarker)
	if err != nil {
		return nil, err
	}
	for k := range tomb {
		soft[k] = true
	}
	return soft, nil
}

func (t *TextFileBackend) scanMarkersLocked(marker string) (map[string]bool, error) {
	out := map[string]bool{}
	entries, err := os.ReadDir(t.memoryDir)
	if err != nil {
		return out, nil
	}
	for _, e := range entries {
		if e.IsDir() || !strings.HasSuffix(e.Name(), ".md") {
			continue
		}
		data, err := os.ReadFile(filepath.Join(t.memoryDir, e.Name()))
		if err != nil {
			continue
		}
		for _, line := range strings.Split(string(data), "\n") {
			if !strings.Contains(line, marker) {
				continue
			}
			fields := strings.Fields(line)
			for _, f := range fields {
				if strings.Contains(f, "::") {
					out[strings.ToLower(f)] = true
				}
			}
		}
	}
	return out, nil
}

func (t *TextFileBackend) CountEvents(entityID string) int {
	t.mu.Lock()
	defer t.mu.Unlock()
	entries, err := os.ReadDir(t.memoryDir)
	if err != nil {
		return 0
	}
	count := 0
	for _, e := range entries {
		if e.IsDir() || !strings.HasSuffix(e.Name(), ".md") {
			continue
		}
		data, err := os.ReadFile(filepath.Join(t.memoryDir, e.Name()))
		if err != nil {
			continue
		}
		for _, line := range strings.Split(string(data), "\n") {
			if strings.HasPrefix(strings.TrimSpace(line), "- [") {
				if entityID == "" || strings.Contains(strings.ToLower(line), strings.ToLower(entityID)+"::") || strings.Contains(strings.ToLower(line), " "+strings.ToLower(entityID)+"/") {
					count++
				}
			}
		}
	}
	return count
}

func (t *TextFileBackend) RunHygiene() (HygieneReport, error) {
	return HygieneReport{}, nil
}

func (t *TextFileBackend) Capabilities() CapabilityMatrix {
	return CapabilityMatrix{
		SupportsVectorRecall:  false,
		SupportsKeywordRecall: true,
		SupportsSoftDelete:    true,
		SupportsHardDelete:    false,
		SupportsTombstone:     true,
		Degraded:              true,
		Notes:                 "soft/tombstone are marker-text rewrites; no real hard-delete, no vector recall",
	}
}

func (t *TextFileBackend) Close() error { return nil }
