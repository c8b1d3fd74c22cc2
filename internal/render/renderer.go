package render

import (
	"bytes"
	"strings"
	"text/template"

	"github.com/pcileechlab/pcileechfwgen/internal/board"
	"github.com/pcileechlab/pcileechfwgen/internal/fwerr"
)

// Renderer evaluates the template library against a fixed context. The
// substitution language is deliberately restricted: variable expansion,
// conditionals on context booleans, and iteration over the fixed-length
// bars and file-list sequences. A reference to an undeclared key is a hard
// error, never an empty expansion. Output is byte-identical across runs
// and platforms for identical inputs; line endings are LF; no wall-clock
// time is read — the provenance line comes from the context.
type Renderer struct {
	tree board.TemplateTree
}

// NewRenderer creates a Renderer using the given advanced-template tree.
func NewRenderer(tree board.TemplateTree) *Renderer {
	if tree == "" {
		tree = board.TreeTemplates
	}
	return &Renderer{tree: tree}
}

// Tree returns the active template tree.
func (r *Renderer) Tree() board.TemplateTree { return r.tree }

// Render evaluates one template against the context and returns the file
// content.
func (r *Renderer) Render(id string, ctx Context) ([]byte, error) {
	src, err := TemplateSource(id, r.tree)
	if err != nil {
		return nil, fwerr.Wrap(fwerr.TemplateRenderError, err, "resolve template")
	}

	tmpl, err := template.New(id).Option("missingkey=error").Parse(src)
	if err != nil {
		return nil, fwerr.Wrap(fwerr.TemplateRenderError, err, "parse template %s", id)
	}

	var buf bytes.Buffer
	if err := tmpl.Execute(&buf, map[string]any(ctx)); err != nil {
		return nil, fwerr.AtKey(fwerr.TemplateRenderError, id, "render: %v", err)
	}

	out := buf.Bytes()
	if bytes.ContainsRune(out, '\r') {
		out = []byte(strings.ReplaceAll(string(out), "\r\n", "\n"))
	}
	return out, nil
}
