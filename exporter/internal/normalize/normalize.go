// CLAUDE:SUMMARY Pure fragment→Message mapping over captured HTML: author, timestamp, cleaned body, attachments, avatar, reactions.
// Package normalize maps captured message fragments to structured
// records. It never touches the live page: everything is read from the
// HTML copied at observation time, so normalization can run at any point
// after collection.
package normalize

import (
	"fmt"
	"log/slog"
	"regexp"
	"strconv"
	"strings"
	"time"

	"github.com/JohannesKaufmann/html-to-markdown/v2/converter"
	"github.com/JohannesKaufmann/html-to-markdown/v2/plugin/base"
	"github.com/JohannesKaufmann/html-to-markdown/v2/plugin/commonmark"
	"github.com/PuerkitoBio/goquery"
	"github.com/araddon/dateparse"

	"github.com/hazyhaar/scrollback/exporter/internal/collector"
	"github.com/hazyhaar/scrollback/exporter/internal/selectors"
	"github.com/hazyhaar/scrollback/exporter/record"
)

// UnknownSender is used when no sender node is found.
const UnknownSender = "Unknown Sender"

// Config configures a Normalizer.
type Config struct {
	// Location for timestamps without a zone. Default: time.Local.
	Location *time.Location
	// MentionLabel matches the aria-label of mention blocks.
	// Default matches "mentioned" (any case) and its Japanese UI string.
	MentionLabel *regexp.Regexp

	Logger *slog.Logger
}

func (c *Config) defaults() {
	if c.Location == nil {
		c.Location = time.Local
	}
	if c.MentionLabel == nil {
		c.MentionLabel = regexp.MustCompile(`(?i)mentioned|をメンションしました`)
	}
	if c.Logger == nil {
		c.Logger = slog.Default()
	}
}

// Normalizer turns fragments into messages for one selector set.
type Normalizer struct {
	cfg Config
	set *selectors.Set
	md  *converter.Converter
}

// New creates a Normalizer.
func New(set *selectors.Set, cfg Config) *Normalizer {
	cfg.defaults()
	return &Normalizer{
		cfg: cfg,
		set: set,
		md: converter.NewConverter(
			converter.WithPlugins(
				base.NewBasePlugin(),
				commonmark.NewCommonmarkPlugin(),
			),
		),
	}
}

var digits = regexp.MustCompile(`\d+`)

// Normalize maps one fragment. Missing sub-elements yield empty fields;
// a fragment without identity or without a content node fails with
// record.ErrRecordIncomplete.
func (n *Normalizer) Normalize(f record.Fragment) (record.Message, error) {
	if f.Key == "" && f.NativeID == "" {
		return record.Message{}, fmt.Errorf("normalize: fragment without identity: %w", record.ErrRecordIncomplete)
	}
	id := f.NativeID
	if id == "" {
		id = f.Key
	}

	node, err := parseFragment(f.HTML)
	if err != nil {
		return record.Message{}, fmt.Errorf("normalize: %s: %w", id, err)
	}
	meta := node
	if n.set.Channel() && f.ContextHTML != "" {
		if header, err := parseFragment(f.ContextHTML); err == nil {
			meta = header
		}
	}

	content := n.find(node, selectors.Content)
	if content.Length() == 0 {
		return record.Message{}, fmt.Errorf("normalize: %s: no content node: %w", id, record.ErrRecordIncomplete)
	}

	msg := record.Message{
		ID:       id,
		Author:   n.author(meta),
		ThreadID: f.ThreadID,
		Subject:  f.Subject,
		Sample:   f.Sample,
		Slot:     f.Slot,
		Seq:      f.Seq,
	}
	if n.set.Channel() && msg.ThreadID == "" {
		msg.ThreadID = id
	}
	msg.Timestamp, msg.Time = n.timestamp(meta)

	n.replaceEmoticons(content)
	ordinal := 0
	msg.Attachments = n.attachments(content, id, &ordinal)
	msg.Reactions = n.reactions(node, id, &ordinal)
	msg.Avatar = n.avatar(meta, id)

	n.clean(content, f.PageURL)
	body, err := content.Html()
	if err != nil {
		return record.Message{}, fmt.Errorf("normalize: %s: render body: %w", id, err)
	}
	msg.BodyHTML = strings.TrimSpace(body)
	msg.BodyText = n.text(msg.BodyHTML)
	return msg, nil
}

// NormalizeAll maps fragments, skipping incomplete ones. It returns the
// messages and the keys of skipped fragments.
func (n *Normalizer) NormalizeAll(frags []record.Fragment) ([]record.Message, []string) {
	msgs := make([]record.Message, 0, len(frags))
	var skipped []string
	for _, f := range frags {
		m, err := n.Normalize(f)
		if err != nil {
			n.cfg.Logger.Warn("normalize: skipping fragment", "key", f.Key, "error", err)
			skipped = append(skipped, f.Key)
			continue
		}
		msgs = append(msgs, m)
	}
	return msgs, skipped
}

func parseFragment(html string) (*goquery.Selection, error) {
	doc, err := goquery.NewDocumentFromReader(strings.NewReader(html))
	if err != nil {
		return nil, fmt.Errorf("parse fragment: %w", err)
	}
	return doc.Find("body").Children().First(), nil
}

// find matches role against root itself and its descendants.
func (n *Normalizer) find(root *goquery.Selection, role selectors.Role) *goquery.Selection {
	q, ok := n.set.Query(role)
	if !ok {
		return root.Slice(0, 0)
	}
	if root.Is(q) {
		return root
	}
	return root.Find(q).First()
}

func (n *Normalizer) author(meta *goquery.Selection) string {
	s := n.find(meta, selectors.Sender)
	if s.Length() == 0 {
		s = n.find(meta, selectors.SenderFallback)
	}
	if name := collapse(s.Text()); name != "" {
		return name
	}
	return UnknownSender
}

func (n *Normalizer) timestamp(meta *goquery.Selection) (string, time.Time) {
	s := n.find(meta, selectors.Timestamp)
	if s.Length() == 0 {
		return "", time.Time{}
	}
	raw, _ := s.Attr("title")
	if raw = collapse(raw); raw == "" {
		if dt, ok := s.Attr("datetime"); ok && dt != "" {
			raw = dt
		} else {
			raw = collapse(s.Text())
		}
	}
	return raw, ParseTime(raw, n.cfg.Location)
}

// layouts are tried before dateparse: they cover the chat clients'
// tooltip formats exactly, where dateparse would guess.
var layouts = []string{
	time.RFC3339,
	"January 2, 2006 3:04 PM",
	"Monday, January 2, 2006 3:04 PM",
	"January 2, 2006 15:04",
	"2 January 2006 15:04",
	"1/2/2006 3:04 PM",
	"2006-01-02 15:04",
	"2006/01/02 15:04",
	"2006年1月2日 15:04",
}

// ParseTime parses a displayed timestamp. Unparseable input gives the
// zero time.
func ParseTime(raw string, loc *time.Location) time.Time {
	raw = collapse(strings.ReplaceAll(raw, " at ", " "))
	if raw == "" {
		return time.Time{}
	}
	if loc == nil {
		loc = time.Local
	}
	for _, l := range layouts {
		if t, err := time.ParseInLocation(l, raw, loc); err == nil {
			return t
		}
	}
	if t, err := dateparse.ParseIn(raw, loc); err == nil {
		return t
	}
	return time.Time{}
}

func (n *Normalizer) attachments(content *goquery.Selection, msgID string, ordinal *int) []record.AssetRef {
	forced, _ := n.set.Query(selectors.ForceScreenshot)
	var refs []record.AssetRef
	content.Find("[" + collector.AssetAttr + "]").Each(func(_ int, s *goquery.Selection) {
		kind := record.KindContent
		switch {
		case forced != "" && s.Is(forced):
			kind = record.KindSprite
		case goquery.NodeName(s) != "img":
			return
		}
		ref, ok := n.ref(s, msgID, kind, ordinal)
		if !ok {
			return
		}
		if ref.Kind == record.KindContent && n.set.MatchesForced(ref.Attrs) {
			ref.Kind = record.KindSprite
		}
		refs = append(refs, ref)
	})
	return refs
}

func (n *Normalizer) avatar(meta *goquery.Selection, msgID string) *record.AssetRef {
	s := n.find(meta, selectors.Avatar)
	if s.Length() == 0 {
		s = n.find(meta, selectors.AvatarFallback)
	}
	if s.Length() == 0 {
		return nil
	}
	ord := -1 // avatars take ordinal 0
	ref, ok := n.ref(s, msgID, record.KindAvatar, &ord)
	if !ok {
		return nil
	}
	return &ref
}

func (n *Normalizer) reactions(node *goquery.Selection, msgID string, ordinal *int) []record.Reaction {
	pill, ok := n.set.Query(selectors.ReactionPill)
	if !ok {
		return nil
	}
	summary := n.find(node, selectors.ReactionSummary)
	if summary.Length() == 0 {
		return nil
	}
	var out []record.Reaction
	summary.Find(pill).Each(func(_ int, s *goquery.Selection) {
		text := collapse(s.Text())
		aria, _ := s.Attr("aria-label")
		r := record.Reaction{Count: 1}
		if m := digits.FindString(text); m != "" {
			r.Count, _ = strconv.Atoi(m)
		} else if m := digits.FindString(aria); m != "" {
			r.Count, _ = strconv.Atoi(m)
		}
		r.Label = collapse(digits.ReplaceAllString(text, ""))
		if r.Label == "" {
			r.Label = collapse(aria)
		}
		if ref, ok := n.ref(s, msgID, record.KindReaction, ordinal); ok {
			r.Icon = &ref
		}
		out = append(out, r)
	})
	return out
}

// ref builds an AssetRef for a stamped node. Unstamped nodes cannot be
// located again and are skipped.
func (n *Normalizer) ref(s *goquery.Selection, msgID string, kind record.AssetKind, ordinal *int) (record.AssetRef, bool) {
	stamp, ok := s.Attr(collector.AssetAttr)
	if !ok || stamp == "" {
		return record.AssetRef{}, false
	}
	*ordinal++
	src, _ := s.Attr("src")
	alt, _ := s.Attr("alt")
	if alt == "" {
		alt, _ = s.Attr("title")
	}
	attrs := map[string]string{}
	for _, a := range []string{"src", "class", "data-tid", "title", "alt", "aria-label"} {
		if v, ok := s.Attr(a); ok && v != "" {
			attrs[a] = v
		}
	}
	ord := *ordinal
	return record.AssetRef{
		ID:        fmt.Sprintf("%s/%d", msgID, ord),
		MessageID: msgID,
		Ordinal:   ord,
		Kind:      kind,
		Source:    strings.TrimSpace(src),
		Locator:   Locator(stamp),
		Alt:       alt,
		Attrs:     attrs,
		State:     record.StateUnresolved,
	}, true
}

// Locator returns the CSS selector of a stamped node.
func Locator(stamp string) string {
	return fmt.Sprintf(`[%s="%s"]`, collector.AssetAttr, stamp)
}

func (n *Normalizer) text(body string) string {
	if body == "" {
		return ""
	}
	md, err := n.md.ConvertString(body)
	if err != nil {
		n.cfg.Logger.Debug("normalize: markdown conversion", "error", err)
		doc, perr := goquery.NewDocumentFromReader(strings.NewReader(body))
		if perr != nil {
			return ""
		}
		return collapse(doc.Text())
	}
	return strings.TrimSpace(md)
}

func collapse(s string) string {
	return strings.Join(strings.Fields(s), " ")
}
