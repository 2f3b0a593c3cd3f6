package timeline

import (
	"errors"
	"fmt"
	"time"

	"github.com/mrwolf/journeygen/internal/models"
)

// Verify checks the structural guarantees of a generated timeline:
// timestamps never go backwards, no speaker has two turns at the same
// instant, and decision references and records form a one-to-one mapping.
// Every violation found is returned.
func Verify(turns []models.Turn, decisions []models.DecisionRecord) error {
	var errs []error

	records := make(map[string]models.DecisionRecord, len(decisions))
	for _, d := range decisions {
		if _, dup := records[d.ID]; dup {
			errs = append(errs, fmt.Errorf("decision %s recorded twice", d.ID))
			continue
		}
		records[d.ID] = d
	}

	type speakerAt struct {
		speaker string
		at      time.Time
	}
	seen := make(map[speakerAt]int, len(turns))
	referenced := make(map[string]int, len(decisions))

	for i, t := range turns {
		if i > 0 && t.Timestamp.Before(turns[i-1].Timestamp) {
			errs = append(errs, fmt.Errorf("turn %d at %s is earlier than turn %d", t.ID, t.Timestamp.Format(time.RFC3339), turns[i-1].ID))
		}

		key := speakerAt{t.Speaker, t.Timestamp.UTC()}
		if other, dup := seen[key]; dup {
			errs = append(errs, fmt.Errorf("turns %d and %d share speaker %s and timestamp %s", other, t.ID, t.Speaker, t.Timestamp.Format(time.RFC3339)))
		}
		seen[key] = t.ID

		_, bearing := models.DecisionCategoryFor(t.Tags)
		if t.DecisionRef == "" {
			if bearing {
				errs = append(errs, fmt.Errorf("turn %d has decision tags %v but no decision reference", t.ID, t.Tags))
			}
			continue
		}

		rec, ok := records[t.DecisionRef]
		if !ok {
			errs = append(errs, fmt.Errorf("turn %d references unknown decision %s", t.ID, t.DecisionRef))
			continue
		}
		if rec.Turn.ID != t.ID {
			errs = append(errs, fmt.Errorf("decision %s points at turn %d, referenced by turn %d", rec.ID, rec.Turn.ID, t.ID))
		}
		referenced[t.DecisionRef]++
	}

	for _, d := range decisions {
		switch n := referenced[d.ID]; n {
		case 1:
		case 0:
			errs = append(errs, fmt.Errorf("decision %s is not referenced by any turn", d.ID))
		default:
			errs = append(errs, fmt.Errorf("decision %s is referenced by %d turns", d.ID, n))
		}
	}

	return errors.Join(errs...)
}

// VerifyRoster checks that every speaker is on the roster and that each
// turn's sender role matches the speaker's roster category.
func VerifyRoster(turns []models.Turn, roster []models.Role) error {
	categories := rosterCategories(roster)

	var errs []error
	for _, t := range turns {
		cat, ok := categories[t.Speaker]
		switch {
		case !ok:
			errs = append(errs, fmt.Errorf("turn %d: speaker %s is not on the roster", t.ID, t.Speaker))
		case t.Role != cat:
			errs = append(errs, fmt.Errorf("turn %d: speaker %s has role %q, roster says %q", t.ID, t.Speaker, t.Role, cat))
		}
	}
	return errors.Join(errs...)
}

// FixRoles rewrites sender roles from the roster, resolving category
// aliases, and returns how many turns changed. Unknown speakers are left
// alone.
func FixRoles(turns []models.Turn, roster []models.Role) int {
	categories := rosterCategories(roster)

	fixed := 0
	for i := range turns {
		cat, ok := categories[turns[i].Speaker]
		if !ok || turns[i].Role == cat {
			continue
		}
		turns[i].Role = cat
		fixed++
	}
	return fixed
}

func rosterCategories(roster []models.Role) map[string]models.RoleCategory {
	out := make(map[string]models.RoleCategory, len(roster))
	for _, r := range roster {
		cat, ok := models.ParseRoleCategory(string(r.Category))
		if !ok {
			cat = r.Category
		}
		out[r.Name] = cat
	}
	return out
}
