// Package newsletter delivers queued issues to active subscribers.
package newsletter

import (
	"fmt"
	"html/template"
	"net/url"
	"strings"

	"github.com/quillhq/quill/internal/auth"
	"github.com/quillhq/quill/internal/mailer"
	"github.com/quillhq/quill/internal/model"
)

// issueHTML is the shell wrapped around the author-supplied issue body.
var issueHTML = template.Must(template.New("issue").Parse(`<!DOCTYPE html>
<html>
<body style="font-family: sans-serif; max-width: 600px; margin: 0 auto;">
{{.Body}}
<hr>
<p style="color: #888; font-size: 12px;">
You are receiving this because you subscribed to {{.SiteTitle}}.
<a href="{{.UnsubscribeURL}}">Unsubscribe</a>
</p>
</body>
</html>
`))

// Renderer turns an issue into per-subscriber messages.
type Renderer struct {
	siteTitle         string
	baseURL           string
	unsubscribeSecret string
}

// NewRenderer creates a message renderer for the site.
func NewRenderer(siteTitle, baseURL, unsubscribeSecret string) *Renderer {
	return &Renderer{
		siteTitle:         siteTitle,
		baseURL:           baseURL,
		unsubscribeSecret: unsubscribeSecret,
	}
}

// UnsubscribeURL returns the signed one-click unsubscribe link for a subscriber.
func (r *Renderer) UnsubscribeURL(subscriberID string) string {
	token := auth.SignUnsubscribeToken(r.unsubscribeSecret, subscriberID)
	return r.baseURL + "/v1/newsletter/unsubscribe?token=" + url.QueryEscape(token)
}

// Render builds the outbound message for one subscriber.
// The issue body is author-authored HTML and is passed through unescaped;
// the surrounding shell and unsubscribe link are generated.
func (r *Renderer) Render(issue *model.Issue, sub *model.Subscriber) (mailer.Message, error) {
	unsubURL := r.UnsubscribeURL(sub.ID)

	var html strings.Builder
	err := issueHTML.Execute(&html, struct {
		Body           template.HTML
		SiteTitle      string
		UnsubscribeURL string
	}{
		Body:           template.HTML(issue.Body),
		SiteTitle:      r.siteTitle,
		UnsubscribeURL: unsubURL,
	})
	if err != nil {
		return mailer.Message{}, fmt.Errorf("render issue: %w", err)
	}

	text := fmt.Sprintf("%s\n\n---\nUnsubscribe: %s\n", stripTags(issue.Body), unsubURL)

	return mailer.Message{
		To:       sub.Email,
		Subject:  issue.Subject,
		HTMLBody: html.String(),
		TextBody: text,
	}, nil
}

// stripTags produces a rough plain-text fallback from HTML content.
// Good enough for the text/plain alternative part; not a sanitizer.
func stripTags(s string) string {
	var b strings.Builder
	inTag := false
	for _, r := range s {
		switch {
		case r == '<':
			inTag = true
		case r == '>':
			inTag = false
		case !inTag:
			b.WriteRune(r)
		}
	}
	return strings.TrimSpace(b.String())
}
