package vault

import (
	"fmt"
	"strings"
	"time"

	"github.com/mrwolf/journeygen/internal/models"
)

// buildTranscript renders the timeline as a markdown file with YAML
// frontmatter and one section per day, for reading rather than parsing.
func buildTranscript(tl models.Timeline) string {
	var sb strings.Builder

	sb.WriteString("---\n")
	sb.WriteString(fmt.Sprintf("member: %s\n", tl.Member.ID))
	sb.WriteString(fmt.Sprintf("name: %s\n", tl.Member.Name))
	sb.WriteString(fmt.Sprintf("generated: %s\n", tl.GeneratedAt.Format(time.RFC3339)))
	sb.WriteString(fmt.Sprintf("start: %s\n", tl.Period.StartDate))
	sb.WriteString(fmt.Sprintf("end: %s\n", tl.Period.EndDate))
	sb.WriteString(fmt.Sprintf("seed: %d\n", tl.Meta.Seed))
	sb.WriteString(fmt.Sprintf("backend: %s\n", tl.Meta.Backend))
	sb.WriteString(fmt.Sprintf("messages: %d\n", tl.Meta.TotalMessages))
	sb.WriteString(fmt.Sprintf("decisions: %d\n", tl.Meta.Decisions))
	sb.WriteString("---\n")

	day := ""
	for _, m := range tl.Messages {
		if d := m.Timestamp.Format("2006-01-02"); d != day {
			day = d
			sb.WriteString(fmt.Sprintf("\n## %s (%s)\n\n", d, m.Timestamp.Weekday()))
		}
		sb.WriteString(fmt.Sprintf("- %s **%s** (%s): %s", m.Timestamp.Format("15:04"), m.Speaker, m.Role, m.Text))
		if len(m.Tags) > 0 {
			sb.WriteString(" `" + strings.Join(m.Tags, " ") + "`")
		}
		if m.DecisionRef != "" {
			sb.WriteString(fmt.Sprintf(" [%s](decisions/%s.json)", m.DecisionRef, m.DecisionRef))
		}
		sb.WriteString("\n")
	}
	return sb.String()
}
