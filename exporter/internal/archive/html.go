package archive

import (
	"bytes"
	"html/template"

	"github.com/hazyhaar/scrollback/exporter/record"
)

type assetView struct {
	Path    string
	Alt     string
	Missing string
	Err     string
}

type reactionView struct {
	Label string
	Count int
	Icon  *assetView
}

type messageView struct {
	ID        string
	Author    string
	Time      string
	Subject   string
	NewThread bool
	Avatar    *assetView
	Body      template.HTML
	Extra     []assetView
	Reactions []reactionView
}

func view(ref *record.AssetRef) *assetView {
	if ref == nil {
		return nil
	}
	v := &assetView{Alt: ref.Alt, Err: ref.Err}
	if ref.Resolved() {
		v.Path = ref.Path
	} else {
		v.Missing = placeholderText(*ref)
	}
	return v
}

var pageTmpl = template.Must(template.New("page").Parse(`<!DOCTYPE html>
<html lang="en"><head><meta charset="UTF-8"><meta name="viewport" content="width=device-width,initial-scale=1">
<title>{{.Title}}</title>
<style>
body{font-family:system-ui,sans-serif;max-width:900px;margin:2rem auto;padding:0 1rem;color:#222;background:#fafafa}
h1{font-size:1.4rem;border-bottom:2px solid #e0e0e0;padding-bottom:.5rem}
h2.thread{font-size:1.1rem;margin-top:2rem;color:#444}
.msg{display:flex;gap:.75rem;background:#fff;border:1px solid #e0e0e0;border-radius:6px;padding:.75rem;margin-bottom:.5rem}
.avatar{width:32px;height:32px;border-radius:50%;flex:none}
.meta{font-size:.8rem;color:#666;margin-bottom:.25rem}
.meta b{color:#222}
.body img{max-width:100%}
.body img.sprite{max-width:64px;vertical-align:middle}
.mention{color:#5b5fc7;font-weight:600}
.asset-missing{display:inline-block;border:1px dashed #c00;color:#c00;padding:.5rem;font-size:.8rem}
.reactions span{display:inline-block;border:1px solid #ddd;border-radius:1rem;padding:0 .5rem;margin-right:.25rem;font-size:.8rem}
.reactions img{height:16px;vertical-align:middle}
.warn{background:#fff4e5;border:1px solid #f0a040;padding:.5rem;border-radius:6px}
</style></head><body>
<h1>{{.Title}} ({{.Count}})</h1>
{{- if .Incomplete}}
<p class="warn">Incomplete export: {{.Abort}}</p>
{{- end}}
{{- range .Messages}}
{{- if .NewThread}}
<h2 class="thread">{{if .Subject}}{{.Subject}}{{else}}Thread{{end}}</h2>
{{- end}}
<div class="msg" id="{{.ID}}">
{{- with .Avatar}}{{if .Path}}<img class="avatar" src="{{.Path}}" alt="">{{else}}<span class="asset-missing avatar" title="{{.Err}}"></span>{{end}}{{end}}
<div><div class="meta"><b>{{.Author}}</b> {{.Time}}</div>
<div class="body">{{.Body}}
{{- range .Extra}}
{{- if .Path}}<img src="{{.Path}}" alt="{{.Alt}}">{{else}}<span class="asset-missing" title="{{.Err}}">{{.Missing}}</span>{{end}}
{{- end}}</div>
{{- if .Reactions}}
<div class="reactions">{{range .Reactions}}<span>{{with .Icon}}{{if .Path}}<img src="{{.Path}}" alt="{{.Alt}}"> {{else}}{{.Missing}} {{end}}{{end}}{{.Label}} {{.Count}}</span>{{end}}</div>
{{- end}}
</div></div>
{{- end}}
</body></html>
`))

// HTML renders the export as a standalone page. Message bodies are
// sanitized; asset nodes point at local files.
func (a *Archiver) HTML(exp *record.Export) ([]byte, error) {
	title := exp.Session.ChatTitle
	if title == "" {
		title = "Chat export"
	}
	views := make([]messageView, len(exp.Messages))
	prevThread := ""
	for i, m := range exp.Messages {
		v := messageView{
			ID:      m.ID,
			Author:  m.Author,
			Time:    a.displayTime(m),
			Subject: m.Subject,
			Avatar:  view(m.Avatar),
			Body:    template.HTML(a.policy.Sanitize(localBody(m))),
		}
		if m.ThreadID != "" && m.ThreadID != prevThread {
			v.NewThread = true
			prevThread = m.ThreadID
		}
		for _, r := range unplaced(m) {
			v.Extra = append(v.Extra, *view(&r))
		}
		for _, r := range m.Reactions {
			v.Reactions = append(v.Reactions, reactionView{Label: r.Label, Count: r.Count, Icon: view(r.Icon)})
		}
		views[i] = v
	}

	var buf bytes.Buffer
	err := pageTmpl.Execute(&buf, struct {
		Title      string
		Count      int
		Incomplete bool
		Abort      string
		Messages   []messageView
	}{
		Title:      title,
		Count:      len(exp.Messages),
		Incomplete: exp.Incomplete,
		Abort:      exp.Summary.Abort,
		Messages:   views,
	})
	if err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}
