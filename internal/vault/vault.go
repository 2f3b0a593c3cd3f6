package vault

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"regexp"
	"sort"
	"strings"
	"sync"

	"github.com/mrwolf/journeygen/internal/models"
)

// Artifact layout under the output directory
const (
	MessagesFile   = "messages.json"
	TranscriptFile = "transcript.md"
	DecisionsDir   = "decisions"
)

// ErrNotFound is returned when an artifact does not exist
var ErrNotFound = errors.New("not found")

var decisionIDPattern = regexp.MustCompile(`^decision_[a-z]+_[0-9a-f]+(_[0-9]+)?$`)

// ValidDecisionID reports whether id has the shape of a generated decision id.
// Anything else is rejected before it reaches the filesystem.
func ValidDecisionID(id string) bool {
	return decisionIDPattern.MatchString(id)
}

// Vault owns the output directory of generated artifacts
type Vault struct {
	basePath string
	mu       sync.RWMutex // a Persist is never observed half-written
}

func NewVault(basePath string) *Vault {
	return &Vault{basePath: basePath}
}

// BasePath returns the vault base path
func (v *Vault) BasePath() string {
	return v.basePath
}

// Persist writes one rationale file per decision, the transcript and the
// timeline. Decision files from earlier runs that are not part of this one
// are removed. The timeline is written last so it never references a
// decision file that does not exist yet.
func (v *Vault) Persist(tl models.Timeline, decisions []models.DecisionRecord) error {
	v.mu.Lock()
	defer v.mu.Unlock()

	keep := make(map[string]bool, len(decisions))
	for _, d := range decisions {
		if !ValidDecisionID(d.ID) {
			return fmt.Errorf("invalid decision id %q", d.ID)
		}
		body, err := json.MarshalIndent(d, "", "  ")
		if err != nil {
			return fmt.Errorf("marshaling decision %s: %w", d.ID, err)
		}
		name := d.ID + ".json"
		if err := WriteFileAtomic(filepath.Join(v.basePath, DecisionsDir, name), body); err != nil {
			return fmt.Errorf("writing decision %s: %w", d.ID, err)
		}
		keep[name] = true
	}

	if err := v.removeStale(keep); err != nil {
		return err
	}

	if err := WriteFileAtomic(filepath.Join(v.basePath, TranscriptFile), []byte(buildTranscript(tl))); err != nil {
		return fmt.Errorf("writing transcript: %w", err)
	}

	body, err := json.MarshalIndent(tl, "", "  ")
	if err != nil {
		return fmt.Errorf("marshaling timeline: %w", err)
	}
	if err := WriteFileAtomic(filepath.Join(v.basePath, MessagesFile), body); err != nil {
		return fmt.Errorf("writing timeline: %w", err)
	}
	return nil
}

func (v *Vault) removeStale(keep map[string]bool) error {
	dir := filepath.Join(v.basePath, DecisionsDir)
	entries, err := os.ReadDir(dir)
	if err != nil {
		if os.IsNotExist(err) {
			return nil
		}
		return fmt.Errorf("listing decisions: %w", err)
	}
	for _, e := range entries {
		if e.IsDir() || !strings.HasSuffix(e.Name(), ".json") || keep[e.Name()] {
			continue
		}
		if err := os.Remove(filepath.Join(dir, e.Name())); err != nil {
			return fmt.Errorf("removing stale decision %s: %w", e.Name(), err)
		}
	}
	return nil
}

// LoadTimeline reads the persisted timeline
func (v *Vault) LoadTimeline() (*models.Timeline, error) {
	v.mu.RLock()
	defer v.mu.RUnlock()

	var tl models.Timeline
	if err := readJSON(filepath.Join(v.basePath, MessagesFile), &tl); err != nil {
		return nil, err
	}
	return &tl, nil
}

// LoadDecision reads one rationale file
func (v *Vault) LoadDecision(id string) (*models.DecisionRecord, error) {
	if !ValidDecisionID(id) {
		return nil, fmt.Errorf("decision %q: %w", id, ErrNotFound)
	}
	v.mu.RLock()
	defer v.mu.RUnlock()

	var rec models.DecisionRecord
	if err := readJSON(filepath.Join(v.basePath, DecisionsDir, id+".json"), &rec); err != nil {
		return nil, err
	}
	return &rec, nil
}

// ListDecisions reads every rationale file, ordered by triggering turn
func (v *Vault) ListDecisions() ([]models.DecisionRecord, error) {
	v.mu.RLock()
	defer v.mu.RUnlock()

	dir := filepath.Join(v.basePath, DecisionsDir)
	entries, err := os.ReadDir(dir)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, fmt.Errorf("listing decisions: %w", err)
	}

	var out []models.DecisionRecord
	for _, e := range entries {
		id, ok := strings.CutSuffix(e.Name(), ".json")
		if e.IsDir() || !ok || !ValidDecisionID(id) {
			continue
		}
		var rec models.DecisionRecord
		if err := readJSON(filepath.Join(dir, e.Name()), &rec); err != nil {
			return nil, err
		}
		out = append(out, rec)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Turn.ID < out[j].Turn.ID })
	return out, nil
}

func readJSON(path string, dst any) error {
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return fmt.Errorf("%s: %w", filepath.Base(path), ErrNotFound)
		}
		return fmt.Errorf("reading %s: %w", path, err)
	}
	if err := json.Unmarshal(data, dst); err != nil {
		return fmt.Errorf("decoding %s: %w", path, err)
	}
	return nil
}
