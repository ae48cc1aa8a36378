package decision

import (
	"fmt"
	"sort"
	"strings"
)

// BuildStatusComment renders the ballot as a two-column markdown table.
//
// Participants are emitted in sorted order so the table is deterministic
// regardless of map iteration. Prior votes render struck through, the
// current vote bold; both link back to the comment that cast them.
//
// A participant present in current but missing from history is an
// inconsistency in the persisted state and fails hard.
func BuildStatusComment(history map[string][]UserStatus, current map[string]*UserStatus) (string, error) {
	var b strings.Builder
	b.WriteString("| Team member | State |\n|-------------|-------|")

	users := make([]string, 0, len(current))
	for user := range current {
		users = append(users, user)
	}
	sort.Strings(users)

	for _, user := range users {
		statuses, ok := history[user]
		if !ok {
			return "", fmt.Errorf("user %s not present in history statuses list", user)
		}

		fmt.Fprintf(&b, "\n| @%s |", user)
		for _, st := range statuses {
			fmt.Fprintf(&b, " [~~%s~~](%s) ", st.Resolution, st.CommentURL)
		}

		cur := ""
		if st := current[user]; st != nil {
			cur = fmt.Sprintf("[**%s**](%s)", st.Resolution, st.CommentURL)
		}
		fmt.Fprintf(&b, " %s |", cur)
	}

	return b.String(), nil
}
