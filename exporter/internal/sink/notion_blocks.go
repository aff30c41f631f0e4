package sink

import (
	"strconv"
	"strings"

	"github.com/yuin/goldmark"
	"github.com/yuin/goldmark/ast"
	"github.com/yuin/goldmark/text"
)

// Block is one Notion block object.
type Block = map[string]any

var mdParser = goldmark.New().Parser()

// MarkdownBlocks converts a Markdown transcript to Notion blocks: headings
// (levels past 3 fold into 3), paragraphs, quotes, dividers, list items
// and code. Inline bold, italic, code and http(s) links are kept as rich
// text annotations; local images become "[image: alt]".
func MarkdownBlocks(src []byte) []Block {
	doc := mdParser.Parse(text.NewReader(src))
	var out []Block
	for n := doc.FirstChild(); n != nil; n = n.NextSibling() {
		out = appendBlocks(out, n, src)
	}
	return out
}

func appendBlocks(out []Block, n ast.Node, src []byte) []Block {
	switch n := n.(type) {
	case *ast.Heading:
		level := min(max(n.Level, 1), 3)
		key := "heading_" + strconv.Itoa(level)
		return append(out, block(key, map[string]any{"rich_text": richText(n, src)}))
	case *ast.ThematicBreak:
		return append(out, block("divider", map[string]any{}))
	case *ast.Blockquote:
		var rt []any
		for c := n.FirstChild(); c != nil; c = c.NextSibling() {
			if len(rt) > 0 {
				rt = append(rt, textItem("\n", style{}))
			}
			rt = append(rt, inline(c, src, style{})...)
		}
		return append(out, block("quote", map[string]any{"rich_text": orSpace(rt)}))
	case *ast.List:
		key := "bulleted_list_item"
		if n.IsOrdered() {
			key = "numbered_list_item"
		}
		for item := n.FirstChild(); item != nil; item = item.NextSibling() {
			out = append(out, block(key, map[string]any{"rich_text": richText(item, src)}))
		}
		return out
	case *ast.FencedCodeBlock, *ast.CodeBlock:
		var b strings.Builder
		lines := n.Lines()
		for i := 0; i < lines.Len(); i++ {
			seg := lines.At(i)
			b.Write(seg.Value(src))
		}
		return append(out, block("code", map[string]any{
			"rich_text": orSpace(chunked(strings.TrimRight(b.String(), "\n"), style{})),
			"language":  "plain text",
		}))
	case *ast.HTMLBlock:
		return out
	default:
		return append(out, block("paragraph", map[string]any{"rich_text": richText(n, src)}))
	}
}

func block(typ string, body map[string]any) Block {
	return Block{"object": "block", "type": typ, typ: body}
}

type style struct {
	bold, italic, code bool
	link               string
}

func richText(n ast.Node, src []byte) []any {
	return orSpace(inline(n, src, style{}))
}

func orSpace(rt []any) []any {
	if len(rt) == 0 {
		return []any{textItem(" ", style{})}
	}
	return rt
}

func inline(n ast.Node, src []byte, st style) []any {
	var out []any
	for c := n.FirstChild(); c != nil; c = c.NextSibling() {
		switch c := c.(type) {
		case *ast.Text:
			s := string(c.Segment.Value(src))
			if c.SoftLineBreak() || c.HardLineBreak() {
				s += "\n"
			}
			out = append(out, chunked(s, st)...)
		case *ast.String:
			out = append(out, chunked(string(c.Value), st)...)
		case *ast.Emphasis:
			next := st
			if c.Level >= 2 {
				next.bold = true
			} else {
				next.italic = true
			}
			out = append(out, inline(c, src, next)...)
		case *ast.CodeSpan:
			next := st
			next.code = true
			out = append(out, inline(c, src, next)...)
		case *ast.Link:
			next := st
			if dest := string(c.Destination); linkable(dest) {
				next.link = dest
			}
			out = append(out, inline(c, src, next)...)
		case *ast.AutoLink:
			url := string(c.URL(src))
			next := st
			if linkable(url) {
				next.link = url
			}
			out = append(out, chunked(string(c.Label(src)), next)...)
		case *ast.Image:
			alt := plainText(c, src)
			if alt == "" {
				alt = "image"
			}
			next := st
			next.italic = true
			if dest := string(c.Destination); linkable(dest) {
				next.link = dest
			}
			out = append(out, textItem("[image: "+alt+"]", next))
		case *ast.RawHTML:
		default:
			out = append(out, inline(c, src, st)...)
		}
	}
	return out
}

func linkable(url string) bool {
	return (strings.HasPrefix(url, "http://") || strings.HasPrefix(url, "https://")) && len(url) <= 2000
}

func plainText(n ast.Node, src []byte) string {
	var b strings.Builder
	_ = ast.Walk(n, func(c ast.Node, entering bool) (ast.WalkStatus, error) {
		if !entering {
			return ast.WalkContinue, nil
		}
		switch c := c.(type) {
		case *ast.Text:
			b.Write(c.Segment.Value(src))
		case *ast.String:
			b.Write(c.Value)
		}
		return ast.WalkContinue, nil
	})
	return b.String()
}

// chunked splits s into segments the API accepts, on rune boundaries.
func chunked(s string, st style) []any {
	if s == "" {
		return nil
	}
	var out []any
	r := []rune(s)
	for len(r) > 0 {
		n := min(len(r), notionTextLimit)
		out = append(out, textItem(string(r[:n]), st))
		r = r[n:]
	}
	return out
}

func textItem(content string, st style) map[string]any {
	t := map[string]any{"content": content}
	if st.link != "" {
		t["link"] = map[string]any{"url": st.link}
	}
	item := map[string]any{"type": "text", "text": t}
	if st.bold || st.italic || st.code {
		item["annotations"] = map[string]any{"bold": st.bold, "italic": st.italic, "code": st.code}
	}
	return item
}
