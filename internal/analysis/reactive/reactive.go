// Package reactive derives extra content from completion replies: a citation
// link for reference-worthy answers and the follow-up quick replies.
// Everything here is a pure function of the reply text.
package reactive

import (
	"strings"

	"github.com/zhouzirui/timetravel/backend/internal/model/source"
)

// FollowUpMarker is the sentinel the default persona emits to offer follow-ups.
const FollowUpMarker = "[OFFER_BUTTONS]"

const citationPrefix = "\n\n🔗 Вот полезная ссылка по теме: "

// citationTriggers are matched case-insensitively against the reply.
var citationTriggers = []string{
	"поделиться ссылкой",
	"подробный материал",
}

// InjectCitation appends a link line when the reply offers further material and
// mentions a known topic. The first topic in catalog order wins; at most one
// link is added.
func InjectCitation(reply string, sources *source.Catalog) (string, bool) {
	lower := strings.ToLower(reply)
	if !containsAny(lower, citationTriggers) {
		return reply, false
	}
	for _, entry := range sources.Entries() {
		if entry.Topic == "" {
			continue
		}
		if strings.Contains(lower, strings.ToLower(entry.Topic)) {
			return reply + citationPrefix + entry.URL, true
		}
	}
	return reply, false
}

// ExtractFollowUp removes every follow-up marker from the reply and reports
// whether one was present.
func ExtractFollowUp(reply string) (string, bool) {
	if !strings.Contains(reply, FollowUpMarker) {
		return reply, false
	}
	// Removal can splice a new marker out of nested fragments.
	for strings.Contains(reply, FollowUpMarker) {
		reply = strings.ReplaceAll(reply, FollowUpMarker, "")
	}
	return strings.TrimSpace(reply), true
}

func containsAny(s string, needles []string) bool {
	for _, n := range needles {
		if strings.Contains(s, n) {
			return true
		}
	}
	return false
}
