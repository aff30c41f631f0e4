// CLAUDE:SUMMARY Immutable role→selector mapping with fail-fast checks for mandatory roles.
// Package selectors maps logical DOM roles to query strings. A Set is
// read-only once built; the collection core only ever asks it for a role.
package selectors

import (
	"fmt"
	"slices"
	"strings"

	"github.com/hazyhaar/scrollback/exporter/record"
)

// Role is a logical DOM role.
type Role string

const (
	AppShell        Role = "app_shell"
	ScrollContainer Role = "scroll_container"
	Message         Role = "message"
	MessageID       Role = "message_id"
	ChatTitle       Role = "chat_title"
	Sender          Role = "sender"
	SenderFallback  Role = "sender_fallback"
	Timestamp       Role = "timestamp"
	Content         Role = "content"
	Avatar          Role = "avatar"
	AvatarFallback  Role = "avatar_fallback"
	ReactionSummary Role = "reaction_summary"
	ReactionPill    Role = "reaction_pill"
	ForceScreenshot Role = "force_screenshot"
	SubjectLine     Role = "subject_line"
	ThreadContainer Role = "thread_container" // channel mode: the post wrapping a root and its replies
	Emoticon        Role = "emoticon"         // inline emoji renderers replaced by their alt text

	// Collapsed reply threads (channel mode). A thread_container holding a
	// reply_button hides replies that only its thread_view renders.
	ReplyButton   Role = "reply_button"
	ThreadView    Role = "thread_view"
	ThreadMessage Role = "thread_message" // message nodes inside thread_view; default: message
	ThreadClose   Role = "thread_close"   // back to the channel; default: history.back()
)

// Mandatory roles: without them no collection can start.
var Mandatory = []Role{ScrollContainer, Message}

// Set is an immutable selector configuration.
type Set struct {
	name       string
	version    string
	roles      map[Role]string
	substrings []string
	channel    bool
}

// New builds a Set. The maps and slices are copied.
func New(name, version string, roles map[Role]string, forceSubstrings []string, channel bool) *Set {
	s := &Set{
		name:    name,
		version: version,
		roles:   make(map[Role]string, len(roles)),
		channel: channel,
	}
	for r, q := range roles {
		if q = strings.TrimSpace(q); q != "" {
			s.roles[r] = q
		}
	}
	for _, sub := range forceSubstrings {
		if sub = strings.TrimSpace(sub); sub != "" {
			s.substrings = append(s.substrings, sub)
		}
	}
	return s
}

// Name returns "name@version".
func (s *Set) Name() string {
	if s.version == "" {
		return s.name
	}
	return s.name + "@" + s.version
}

// Query returns the selector for role and whether it is configured.
func (s *Set) Query(role Role) (string, bool) {
	q, ok := s.roles[role]
	return q, ok
}

// Get returns the selector for role, or "" when unset.
func (s *Set) Get(role Role) string {
	return s.roles[role]
}

// Channel reports whether the profile targets channel (threaded) views.
func (s *Set) Channel() bool { return s.channel }

// ExpandsThreads reports whether collapsed reply threads can be opened:
// a channel profile with thread_container, reply_button and thread_view.
func (s *Set) ExpandsThreads() bool {
	return s.channel && s.roles[ThreadContainer] != "" && s.roles[ReplyButton] != "" && s.roles[ThreadView] != ""
}

// ForceSubstrings returns the substrings that classify an element as
// forced-capture content.
func (s *Set) ForceSubstrings() []string {
	return slices.Clone(s.substrings)
}

// Require fails with record.ErrConfigurationMissing naming every absent role.
func (s *Set) Require(roles ...Role) error {
	var missing []string
	for _, r := range roles {
		if _, ok := s.roles[r]; !ok {
			missing = append(missing, string(r))
		}
	}
	if len(missing) > 0 {
		return fmt.Errorf("selectors: profile %s: missing role(s) %s: %w",
			s.Name(), strings.Join(missing, ", "), record.ErrConfigurationMissing)
	}
	return nil
}

// Validate checks the mandatory roles.
func (s *Set) Validate() error {
	return s.Require(Mandatory...)
}

// MatchesForced reports whether any identifying attribute value contains
// one of the configured forced-capture substrings.
func (s *Set) MatchesForced(attrs map[string]string) bool {
	for _, v := range attrs {
		for _, sub := range s.substrings {
			if strings.Contains(v, sub) {
				return true
			}
		}
	}
	return false
}
