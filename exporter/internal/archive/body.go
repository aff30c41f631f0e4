package archive

import (
	"fmt"
	"strings"

	"github.com/PuerkitoBio/goquery"
	"golang.org/x/net/html"
	"golang.org/x/net/html/atom"

	"github.com/hazyhaar/scrollback/exporter/internal/collector"
	"github.com/hazyhaar/scrollback/exporter/record"
)

// localBody rewrites stamped asset nodes of m's body to their local files.
// Failed references become placeholder spans.
func localBody(m record.Message) string {
	if m.BodyHTML == "" {
		return ""
	}
	doc, err := goquery.NewDocumentFromReader(strings.NewReader("<div>" + m.BodyHTML + "</div>"))
	if err != nil {
		return m.BodyHTML
	}
	refs := make(map[string]record.AssetRef, len(m.Attachments))
	for _, r := range m.Attachments {
		refs[r.Locator] = r
	}
	root := doc.Find("body > div").First()
	root.Find("[" + collector.AssetAttr + "]").Each(func(_ int, s *goquery.Selection) {
		stamp, _ := s.Attr(collector.AssetAttr)
		ref, ok := refs[fmt.Sprintf(`[%s="%s"]`, collector.AssetAttr, stamp)]
		if !ok {
			return
		}
		switch {
		case ref.Resolved():
			s.ReplaceWithNodes(imgNode(ref))
		default:
			s.ReplaceWithNodes(placeholderNode(ref))
		}
	})
	out, err := root.Html()
	if err != nil {
		return m.BodyHTML
	}
	return out
}

func imgNode(ref record.AssetRef) *html.Node {
	attrs := []html.Attribute{
		{Key: "src", Val: ref.Path},
		{Key: "alt", Val: ref.Alt},
	}
	if ref.Kind == record.KindSprite {
		attrs = append(attrs, html.Attribute{Key: "class", Val: "sprite"})
	}
	return &html.Node{Type: html.ElementNode, DataAtom: atom.Img, Data: "img", Attr: attrs}
}

func placeholderNode(ref record.AssetRef) *html.Node {
	span := &html.Node{
		Type:     html.ElementNode,
		DataAtom: atom.Span,
		Data:     "span",
		Attr: []html.Attribute{
			{Key: "class", Val: "asset-missing"},
			{Key: "title", Val: ref.Err},
		},
	}
	span.AppendChild(&html.Node{Type: html.TextNode, Data: placeholderText(ref)})
	return span
}

func placeholderText(ref record.AssetRef) string {
	if ref.Alt != "" {
		return "[image unavailable: " + ref.Alt + "]"
	}
	return "[image unavailable]"
}

// unplaced returns attachments whose node is not in the body, so they
// still appear in the output.
func unplaced(m record.Message) []record.AssetRef {
	var out []record.AssetRef
	for _, r := range m.Attachments {
		stamp := strings.TrimSuffix(strings.TrimPrefix(r.Locator, "["+collector.AssetAttr+`="`), `"]`)
		if !strings.Contains(m.BodyHTML, collector.AssetAttr+`="`+stamp+`"`) {
			out = append(out, r)
		}
	}
	return out
}
