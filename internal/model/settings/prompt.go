package settings

import (
	"fmt"
	"strings"
	"time"
)

const noMemories = "No specific memories added yet."

// ComposeSystemPrompt renders the persona prompt sent with every chat
// completion. Order is fixed: persona, names, memories, current date.
func (s AppSettings) ComposeSystemPrompt(now time.Time) string {
	memories := strings.TrimSpace(s.CustomMemories)
	if memories == "" {
		memories = noMemories
	}

	return strings.TrimSpace(fmt.Sprintf(`%s

IMPORTANT CONTEXT:
- Your Name: %s
- Partner's Name: %s

KEY MEMORIES & FACTS (Must Remember):
%s

Current Date: %s`,
		strings.TrimSpace(s.SystemPrompt),
		s.UserName,
		s.PartnerName,
		memories,
		now.Format("Monday, 2 January 2006"),
	))
}
