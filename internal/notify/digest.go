package notify

import (
	"bytes"
	"fmt"
	"strings"
	"time"

	"github.com/ternarybob/propago/internal/models"
	"github.com/yuin/goldmark"
	"github.com/yuin/goldmark/extension"
	"github.com/yuin/goldmark/renderer/html"
)

// buildDigest renders the failure digest as markdown. The markdown form is
// the plain-text email part; renderHTML produces the alternative part.
func buildDigest(runs []*models.PipelineRun, articles []*models.Article) string {
	var b strings.Builder
	b.WriteString("# Pipeline failure digest\n\n")
	fmt.Fprintf(&b, "Generated %s\n\n", time.Now().Format(time.RFC1123))

	if len(runs) > 0 {
		b.WriteString("## Failed runs\n\n")
		b.WriteString("| Run | Workspace | Phase | Started | Error |\n")
		b.WriteString("|---|---|---|---|---|\n")
		for _, run := range runs {
			fmt.Fprintf(&b, "| %s | %s | %s | %s | %s |\n",
				run.ID, run.WorkspaceID, run.Phase,
				run.StartedAt.Format("2006-01-02 15:04"),
				sanitizeCell(run.Error))
		}
		b.WriteString("\n")
	}

	if len(articles) > 0 {
		b.WriteString("## Articles in error\n\n")
		for _, article := range articles {
			fmt.Fprintf(&b, "- **%s** (%s, %d retries): %s\n",
				article.Title, article.ID, article.RetryCount, sanitizeCell(article.LastError))
		}
		b.WriteString("\n")
	}

	if len(runs) == 0 && len(articles) == 0 {
		b.WriteString("No failures recorded.\n")
	}
	return b.String()
}

// sanitizeCell keeps multi-line error text from breaking the markdown table.
func sanitizeCell(s string) string {
	s = strings.ReplaceAll(s, "\n", " ")
	s = strings.ReplaceAll(s, "|", "/")
	return strings.TrimSpace(s)
}

// renderHTML converts the markdown digest to styled HTML for the email body.
func renderHTML(markdown string) (string, error) {
	md := goldmark.New(
		goldmark.WithExtensions(
			extension.GFM,
		),
		goldmark.WithRendererOptions(
			html.WithHardWraps(),
			html.WithXHTML(),
		),
	)

	var buf bytes.Buffer
	if err := md.Convert([]byte(markdown), &buf); err != nil {
		return "", fmt.Errorf("failed to render digest html: %w", err)
	}
	return buf.String(), nil
}
