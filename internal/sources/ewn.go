package sources

import (
	"context"
	"net/url"
	"regexp"
	"time"

	"github.com/PuerkitoBio/goquery"
	"go.uber.org/zap"

	"github.com/JakeFAU/tender-watch/internal/tender"
)

const germanTimestamp = "02.01.2006 15:04:05"

var (
	ewnProcedure = regexp.MustCompile(`Vergabeart:\s*([^\n]+)`)
	ewnDeadline  = regexp.MustCompile(`Angebotsschlusstermin:\s*(\S+)`)
)

// EWN scrapes the Entsorgungswerk für Nuklearanlagen announcements table.
type EWN struct {
	*portal
}

// NewEWN implements Entry.New.
func NewEWN(cfg Config, deps Deps) tender.Unit {
	return &EWN{portal: newPortal(cfg, deps)}
}

// Fetch implements tender.Unit.
func (e *EWN) Fetch(ctx context.Context, rc tender.RunContext) ([]tender.RawRecord, error) {
	doc, base, err := e.load(ctx, e.cfg.URL, "table.announcements")
	if err != nil {
		return nil, err
	}
	if doc.Find("table[class='announcements']").Length() == 0 {
		e.logger.Warn("announcements table not found")
		return nil, nil
	}
	seen := rc.Started
	if seen.IsZero() {
		seen = time.Now()
	}
	records := parseEWN(doc, base, seen)
	e.logger.Debug("parsed listing", zap.Int("items", len(records)))
	return records, nil
}

// parseEWN reads the table's divs pairwise: an info div followed by the
// div holding the detail button. EWN publishes no date, so the time the
// listing was seen is used.
func parseEWN(doc *goquery.Document, base *url.URL, seen time.Time) []tender.RawRecord {
	divs := doc.Find("table[class='announcements']").First().Find("div")
	published := seen.Format(germanTimestamp)

	var out []tender.RawRecord
	for i := 0; i < divs.Length(); i += 2 {
		info := divs.Eq(i)
		rec := tender.RawRecord{
			ExternalID:   cleanText(info.Find("span[class='tender--identifier']").First().Text()),
			Title:        cleanText(info.Find("span[class='title']").First().Text()),
			Organization: "EWN",
			Published:    published,
		}
		if rec.Title == "" {
			continue
		}
		if cat := info.Find("p[class='category']").First(); cat.Length() > 0 {
			text := cat.Text()
			if m := ewnProcedure.FindStringSubmatch(text); m != nil {
				rec.Category = cleanText(m[1])
			}
			if m := ewnDeadline.FindStringSubmatch(text); m != nil {
				rec.Deadline = cleanText(m[1])
			}
		}
		if i+1 < divs.Length() {
			if href, ok := divs.Eq(i + 1).Find("a[class='button']").First().Attr("href"); ok {
				rec.URL = resolve(base, href)
			}
		}
		out = append(out, rec)
	}
	return out
}
