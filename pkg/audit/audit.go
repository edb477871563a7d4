// Package audit appends Action Intent records to a daily JSONL ledger,
// independent of whether the action the record describes was allowed to
// run. Grounded on the teacher's pkg/cost/tracker.go JSONL-append shape.
package audit

import (
	"bufio"
	"crypto/rand"
	"encoding/hex"
	"encoding/json"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/asteroniris/asteroniris/pkg/logger"
)

// Intent is one Action Intent record: appended whether or not the action
// it describes executed.
type Intent struct {
	ID          string                 `json:"id"`
	Kind        string                 `json:"kind"`
	Operator    string                 `json:"operator"`
	Payload     map[string]interface{} `json:"payload,omitempty"`
	Allowed     bool                   `json:"allowed"`
	DenyReason  string                 `json:"deny_reason,omitempty"`
	RequestedAt time.Time              `json:"requested_at"`
}

// Ledger appends Action Intent records to action_intents/YYYY-MM-DD.jsonl
// under the workspace state directory.
type Ledger struct {
	dir string
	mu  sync.Mutex
}

func Open(workspace string) (*Ledger, error) {
	dir := filepath.Join(workspace, "state", "action_intents")
	if err := os.MkdirAll(dir, 0755); err != nil {
		return nil, err
	}
	return &Ledger{dir: dir}, nil
}

func newID() string {
	b := make([]byte, 8)
	rand.Read(b)
	return hex.EncodeToString(b)
}

// Record appends an Action Intent. Never returns an error to the caller on
// write failure — audit logging is best-effort so it never blocks the
// action it's describing; failures are logged instead.
func (l *Ledger) Record(kind, operator string, payload map[string]interface{}, decision bool, denyReason string) Intent {
	intent := Intent{
		ID:          newID(),
		Kind:        kind,
		Operator:    operator,
		Payload:     payload,
		Allowed:     decision,
		DenyReason:  denyReason,
		RequestedAt: time.Now().UTC(),
	}

	if l == nil {
		return intent
	}

	l.mu.Lock()
	defer l.mu.Unlock()

	path := filepath.Join(l.dir, intent.RequestedAt.Format("2006-01-02")+".jsonl")
	f, err := os.OpenFile(path, os.O_CREATE|os.O_APPEND|os.O_WRONLY, 0644)
	if err != nil {
		logger.ErrorCF("audit", "failed to open ledger file", map[string]interface{}{"error": err.Error()})
		return intent
	}
	defer f.Close()

	data, err := json.Marshal(intent)
	if err != nil {
		logger.ErrorCF("audit", "failed to marshal intent", map[string]interface{}{"error": err.Error()})
		return intent
	}
	if _, err := f.Write(append(data, '\n')); err != nil {
		logger.ErrorCF("audit", "failed to append intent", map[string]interface{}{"error": err.Error()})
	}
	return intent
}

// ForDay reads back all Action Intent records for a given day, for
// diagnostics and the gateway's audit surface.
func (l *Ledger) ForDay(day time.Time) ([]Intent, error) {
	path := filepath.Join(l.dir, day.Format("2006-01-02")+".jsonl")
	f, err := os.Open(path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, err
	}
	defer f.Close()

	var intents []Intent
	scanner := bufio.NewScanner(f)
	scanner.Buffer(make([]byte, 64*1024), 1024*1024)
	for scanner.Scan() {
		var intent Intent
		if err := json.Unmarshal(scanner.Bytes(), &intent); err != nil {
			continue
		}
		intents = append(intents, intent)
	}
	return intents, scanner.Err()
}
