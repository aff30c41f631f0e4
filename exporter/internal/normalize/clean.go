package normalize

import (
	"net/url"
	"strings"

	"github.com/PuerkitoBio/goquery"
	"golang.org/x/net/html"
	"golang.org/x/net/html/atom"

	"github.com/hazyhaar/scrollback/exporter/internal/collector"
	"github.com/hazyhaar/scrollback/exporter/internal/selectors"
)

// replaceEmoticons swaps inline emoji renderers for their alt text. Nodes
// stamped for forced capture are kept.
func (n *Normalizer) replaceEmoticons(content *goquery.Selection) {
	q, ok := n.set.Query(selectors.Emoticon)
	if !ok {
		return
	}
	content.Find(q).Each(func(_ int, s *goquery.Selection) {
		if _, stamped := s.Attr(collector.AssetAttr); stamped {
			return
		}
		alt, _ := s.Find("img").Attr("alt")
		if alt == "" {
			alt, _ = s.Attr("title")
		}
		if alt == "" {
			s.Remove()
			return
		}
		s.ReplaceWithNodes(&html.Node{Type: html.TextNode, Data: alt})
	})
}

// clean rewrites the body in place: mention blocks become inline spans and
// root-relative links are resolved against the page URL.
func (n *Normalizer) clean(content *goquery.Selection, pageURL string) {
	content.Find("div[aria-label]").Each(func(_ int, s *goquery.Selection) {
		label, _ := s.Attr("aria-label")
		if !n.cfg.MentionLabel.MatchString(label) {
			return
		}
		var parts []string
		for _, node := range s.Nodes {
			parts = appendText(parts, node)
		}
		if text := strings.Join(parts, " "); text != "" {
			s.ReplaceWithNodes(mentionNode(text))
		}
	})

	base, err := url.Parse(pageURL)
	if err != nil || base.Host == "" {
		return
	}
	content.Find("a[href]").Each(func(_ int, s *goquery.Selection) {
		href, _ := s.Attr("href")
		if !strings.HasPrefix(href, "/") || strings.HasPrefix(href, "//") {
			return
		}
		ref, err := url.Parse(href)
		if err != nil {
			return
		}
		s.SetAttr("href", base.ResolveReference(ref).String())
	})
}

// appendText collects the non-blank text nodes under node. Mention names
// are split across block elements, one per name part.
func appendText(acc []string, node *html.Node) []string {
	if node.Type == html.TextNode {
		if t := collapse(node.Data); t != "" {
			acc = append(acc, t)
		}
		return acc
	}
	for c := node.FirstChild; c != nil; c = c.NextSibling {
		acc = appendText(acc, c)
	}
	return acc
}

func mentionNode(text string) *html.Node {
	span := &html.Node{
		Type:     html.ElementNode,
		DataAtom: atom.Span,
		Data:     "span",
		Attr:     []html.Attribute{{Key: "class", Val: "mention"}},
	}
	span.AppendChild(&html.Node{Type: html.TextNode, Data: text})
	return span
}
