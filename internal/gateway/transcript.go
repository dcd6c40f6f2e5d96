// ABOUTME: HTML transcript rendering for conversation review
// ABOUTME: Assistant markdown goes through goldmark; user text is escaped

package gateway

import (
	"bytes"
	"html/template"
	"net/http"
	"time"

	"github.com/yuin/goldmark"
	"github.com/yuin/goldmark/extension"
	"github.com/yuin/goldmark/renderer/html"

	"github.com/2389/support-gateway/internal/store"
)

// markdown renders assistant answers, which arrive as markdown from the
// remote agent. Raw HTML in answers is not trusted.
var markdown = goldmark.New(
	goldmark.WithExtensions(extension.GFM),
	goldmark.WithRendererOptions(html.WithHardWraps()),
)

var transcriptTmpl = template.Must(template.New("transcript").Parse(`<!DOCTYPE html>
<html>
<head>
<meta charset="utf-8">
<title>Conversation {{.SessionID}}</title>
<style>
body { font-family: sans-serif; max-width: 48rem; margin: 2rem auto; padding: 0 1rem; }
.turn { margin: 1rem 0; padding: 0.75rem 1rem; border-radius: 0.5rem; }
.turn.user { background: #eef2ff; }
.turn.assistant { background: #f4f4f5; }
.meta { font-size: 0.75rem; color: #666; margin-bottom: 0.25rem; }
</style>
</head>
<body>
<h1>Conversation {{.SessionID}}</h1>
<p class="meta">started {{.StartedAt}}</p>
{{range .Turns}}<div class="turn {{.Role}}">
<div class="meta">{{.Role}} &middot; {{.At}}</div>
{{.Body}}
</div>
{{end}}</body>
</html>
`))

type transcriptTurn struct {
	Role string
	At   string
	Body template.HTML
}

type transcriptPage struct {
	SessionID string
	StartedAt string
	Turns     []transcriptTurn
}

// sendTranscriptHTML writes the session transcript as a standalone HTML page.
func (s *Server) sendTranscriptHTML(w http.ResponseWriter, session *store.Session, turns []*store.ConversationTurn) {
	page := transcriptPage{
		SessionID: session.ID,
		StartedAt: session.CreatedAt.Format(time.RFC1123),
		Turns:     make([]transcriptTurn, 0, len(turns)),
	}

	for _, turn := range turns {
		body, err := renderTurnBody(turn)
		if err != nil {
			s.logger.Warn("rendering turn markdown", "turn_id", turn.ID, "error", err)
			body = template.HTML("<p>" + template.HTMLEscapeString(turn.Content) + "</p>")
		}
		page.Turns = append(page.Turns, transcriptTurn{
			Role: turn.Role,
			At:   turn.CreatedAt.Format(time.RFC1123),
			Body: body,
		})
	}

	var buf bytes.Buffer
	if err := transcriptTmpl.Execute(&buf, page); err != nil {
		s.logger.Error("rendering transcript", "session_id", session.ID, "error", err)
		s.sendJSONError(w, http.StatusInternalServerError, "internal server error")
		return
	}

	w.Header().Set("Content-Type", "text/html; charset=utf-8")
	w.WriteHeader(http.StatusOK)
	w.Write(buf.Bytes())
}

// renderTurnBody converts one turn to HTML. Only assistant turns are treated
// as markdown; user input is always escaped verbatim.
func renderTurnBody(turn *store.ConversationTurn) (template.HTML, error) {
	if turn.Role != store.RoleAssistant {
		return template.HTML("<p>" + template.HTMLEscapeString(turn.Content) + "</p>"), nil
	}

	var buf bytes.Buffer
	if err := markdown.Convert([]byte(turn.Content), &buf); err != nil {
		return "", err
	}
	return template.HTML(buf.String()), nil
}
