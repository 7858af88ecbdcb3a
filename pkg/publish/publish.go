package publish

import (
	"encoding/xml"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/go-pkgz/lgr"

	"github.com/Snapcyberdragon/Feed-Rss-notizie/pkg/domain"
)

// maxEntriesPerCategory caps the number of outlines in one published document
const maxEntriesPerCategory = 100

// Publisher materializes per-category OPML documents from cache records and
// writes them into the output directory.
type Publisher struct {
	dir string
}

// NewPublisher creates a publisher writing to dir
func NewPublisher(dir string) *Publisher {
	return &Publisher{dir: dir}
}

// Dir returns the output directory
func (p *Publisher) Dir() string {
	return p.dir
}

// PublishAll writes one OPML file per category, including the uncategorized
// bucket. Records are grouped by category; each file holds at most
// maxEntriesPerCategory entries.
func (p *Publisher) PublishAll(categories []string, recs []domain.Record) error {
	if err := os.MkdirAll(p.dir, 0o750); err != nil {
		return fmt.Errorf("create output dir: %w", err)
	}

	byCategory := make(map[string][]domain.Record)
	for _, rec := range recs {
		byCategory[rec.Category] = append(byCategory[rec.Category], rec)
	}

	for _, category := range categories {
		if err := p.publish(category, byCategory[category]); err != nil {
			return fmt.Errorf("publish category %s: %w", category, err)
		}
	}
	return nil
}

// publish renders one category document and writes it to disk
func (p *Publisher) publish(category string, recs []domain.Record) error {
	if len(recs) > maxEntriesPerCategory {
		recs = recs[:maxEntriesPerCategory]
	}

	doc, err := renderOPML(category, recs)
	if err != nil {
		return err
	}

	path := filepath.Join(p.dir, fileName(category))
	if err := os.WriteFile(path, []byte(doc), 0o600); err != nil {
		return fmt.Errorf("write %s: %w", path, err)
	}

	lgr.Printf("[DEBUG] published %d entries for category %s to %s", len(recs), category, path)
	return nil
}

// fileName maps a category label to its output file name
func fileName(category string) string {
	return strings.ToLower(category) + "_feeds.opml"
}

// renderOPML builds the OPML document for one category
func renderOPML(category string, recs []domain.Record) (string, error) {
	type outline struct {
		XMLName xml.Name `xml:"outline"`
		Type    string   `xml:"type,attr"`
		Text    string   `xml:"text,attr"`
		Title   string   `xml:"title,attr"`
		XMLUrl  string   `xml:"xmlUrl,attr"`
	}

	type body struct {
		XMLName  xml.Name  `xml:"body"`
		Outlines []outline `xml:"outline"`
	}

	type head struct {
		XMLName     xml.Name `xml:"head"`
		Title       string   `xml:"title"`
		DateCreated string   `xml:"dateCreated"`
	}

	type opml struct {
		XMLName xml.Name `xml:"opml"`
		Version string   `xml:"version,attr"`
		Head    head     `xml:"head"`
		Body    body     `xml:"body"`
	}

	outlines := make([]outline, 0, len(recs))
	for _, rec := range recs {
		outlines = append(outlines, outline{
			Type:   "rss",
			Text:   rec.Title,
			Title:  rec.Title,
			XMLUrl: rec.Link,
		})
	}

	doc := opml{
		Version: "1.0",
		Head: head{
			Title:       fmt.Sprintf("%s Feed", category),
			DateCreated: time.Now().Format(time.RFC1123Z),
		},
		Body: body{Outlines: outlines},
	}

	output, err := xml.MarshalIndent(doc, "", "  ")
	if err != nil {
		return "", fmt.Errorf("marshal OPML: %w", err)
	}

	return xml.Header + string(output), nil
}
