package ingest

import (
	"strings"

	"github.com/yuin/goldmark"
	"github.com/yuin/goldmark/ast"
	"github.com/yuin/goldmark/extension"
	"github.com/yuin/goldmark/text"

	"pixie-engine/internal/docstore"
)

var mdParser = goldmark.New(goldmark.WithExtensions(extension.Table))

// NormalizeContent prepares document content for embedding. Note content is
// markdown, so its syntax is stripped via AST traversal to keep heading
// markers and link targets out of the vector. Other kinds embed as-is.
func NormalizeContent(kind, content string) string {
	if kind != docstore.KindNote {
		return strings.TrimSpace(content)
	}
	return markdownToPlain([]byte(content))
}

func markdownToPlain(content []byte) string {
	doc := mdParser.Parser().Parse(text.NewReader(content))

	var sb strings.Builder
	_ = ast.Walk(doc, func(n ast.Node, entering bool) (ast.WalkStatus, error) {
		if !entering {
			return ast.WalkContinue, nil
		}
		switch node := n.(type) {
		case *ast.Text:
			sb.Write(node.Segment.Value(content))
			if node.SoftLineBreak() || node.HardLineBreak() {
				sb.WriteString("\n")
			}
		case *ast.String:
			sb.Write(node.Value)
		case *ast.CodeBlock, *ast.FencedCodeBlock:
			lines := n.Lines()
			for i := 0; i < lines.Len(); i++ {
				line := lines.At(i)
				sb.Write(line.Value(content))
			}
			return ast.WalkSkipChildren, nil
		case *ast.Heading, *ast.Paragraph, *ast.ListItem:
			if sb.Len() > 0 && !strings.HasSuffix(sb.String(), "\n") {
				sb.WriteString("\n")
			}
		}
		return ast.WalkContinue, nil
	})

	return strings.TrimSpace(sb.String())
}
