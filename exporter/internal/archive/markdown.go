package archive

import (
	"fmt"
	"strings"

	"github.com/hazyhaar/scrollback/exporter/record"
)

// Markdown renders the export as a Markdown transcript.
func (a *Archiver) Markdown(exp *record.Export) ([]byte, error) {
	var b strings.Builder
	title := exp.Session.ChatTitle
	if title == "" {
		title = "Chat export"
	}
	fmt.Fprintf(&b, "# %s\n\n", title)
	if exp.Incomplete {
		fmt.Fprintf(&b, "> Incomplete export: %s\n\n", exp.Summary.Abort)
	}

	prevThread := ""
	for _, m := range exp.Messages {
		if m.ThreadID != "" && m.ThreadID != prevThread {
			prevThread = m.ThreadID
			subject := m.Subject
			if subject == "" {
				subject = "Thread"
			}
			fmt.Fprintf(&b, "## %s\n\n", subject)
		}
		fmt.Fprintf(&b, "**%s** · %s\n\n", m.Author, a.displayTime(m))

		body := localBody(m)
		if body != "" {
			text, err := a.md.ConvertString(body)
			if err != nil {
				a.cfg.Logger.Debug("archive: markdown body", "id", m.ID, "error", err)
				text = m.BodyText
			}
			if text = strings.TrimSpace(text); text != "" {
				b.WriteString(text)
				b.WriteString("\n\n")
			}
		}
		for _, r := range unplaced(m) {
			b.WriteString(mdAsset(r))
			b.WriteString("\n\n")
		}
		if len(m.Reactions) > 0 {
			parts := make([]string, 0, len(m.Reactions))
			for _, r := range m.Reactions {
				parts = append(parts, fmt.Sprintf("%s %d", r.Label, r.Count))
			}
			fmt.Fprintf(&b, "_Reactions: %s_\n\n", strings.Join(parts, ", "))
		}
		b.WriteString("---\n\n")
	}
	return []byte(b.String()), nil
}

func mdAsset(r record.AssetRef) string {
	if r.Resolved() {
		return fmt.Sprintf("![%s](%s)", r.Alt, r.Path)
	}
	return "*" + placeholderText(r) + "*"
}
