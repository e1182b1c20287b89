// Package feed renders the public RSS 2.0 feed from published posts.
package feed

import (
	"encoding/xml"
	"fmt"
	"time"

	"github.com/quillhq/quill/internal/model"
)

// ContentType is the MIME type served with the feed document.
const ContentType = "application/rss+xml; charset=utf-8"

// Builder renders the feed for a site.
type Builder struct {
	siteTitle       string
	siteDescription string
	baseURL         string
	maxItems        int
}

// NewBuilder creates a feed builder with the site identity.
func NewBuilder(siteTitle, siteDescription, baseURL string, maxItems int) *Builder {
	return &Builder{
		siteTitle:       siteTitle,
		siteDescription: siteDescription,
		baseURL:         baseURL,
		maxItems:        maxItems,
	}
}

type rss struct {
	XMLName xml.Name `xml:"rss"`
	Version string   `xml:"version,attr"`
	Channel channel  `xml:"channel"`
}

type channel struct {
	Title         string `xml:"title"`
	Link          string `xml:"link"`
	Description   string `xml:"description"`
	LastBuildDate string `xml:"lastBuildDate,omitempty"`
	Items         []item `xml:"item"`
}

type item struct {
	Title       string `xml:"title"`
	Link        string `xml:"link"`
	Description string `xml:"description,omitempty"`
	GUID        guid   `xml:"guid"`
	PubDate     string `xml:"pubDate"`
}

type guid struct {
	Value       string `xml:",chardata"`
	IsPermaLink bool   `xml:"isPermaLink,attr"`
}

// Build renders posts into an RSS 2.0 document.
// Posts must already be published and sorted newest first; drafts and
// deleted posts are skipped defensively. Output is capped at maxItems.
func (b *Builder) Build(posts []*model.Post) ([]byte, error) {
	doc := rss{
		Version: "2.0",
		Channel: channel{
			Title:       b.siteTitle,
			Link:        b.baseURL,
			Description: b.siteDescription,
		},
	}

	for _, p := range posts {
		if !p.IsPublished() || p.PublishedAt == nil {
			continue
		}
		if b.maxItems > 0 && len(doc.Channel.Items) >= b.maxItems {
			break
		}

		url := p.CanonicalURL(b.baseURL)
		doc.Channel.Items = append(doc.Channel.Items, item{
			Title:       p.Title,
			Link:        url,
			Description: p.Summary,
			// The canonical URL is stable across edits, so it doubles
			// as the GUID. Readers dedupe on it.
			GUID:    guid{Value: url, IsPermaLink: true},
			PubDate: p.PublishedAt.UTC().Format(time.RFC1123Z),
		})
	}

	if len(doc.Channel.Items) > 0 {
		doc.Channel.LastBuildDate = doc.Channel.Items[0].PubDate
	}

	out, err := xml.MarshalIndent(doc, "", "  ")
	if err != nil {
		return nil, fmt.Errorf("failed to marshal feed: %w", err)
	}

	return append([]byte(xml.Header), out...), nil
}
