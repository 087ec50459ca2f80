package sources

import (
	"context"
	"net/url"
	"strings"

	"github.com/PuerkitoBio/goquery"
	"go.uber.org/zap"

	"github.com/JakeFAU/tender-watch/internal/tender"
)

// maxDeadlineLen trims BGE deadlines to "dd.mm.yyyy hh:mm:ss".
const maxDeadlineLen = 19

// BGE scrapes the Bundesgesellschaft für Endlagerung tender list.
type BGE struct {
	*portal
}

// NewBGE implements Entry.New.
func NewBGE(cfg Config, deps Deps) tender.Unit {
	return &BGE{portal: newPortal(cfg, deps)}
}

// Fetch implements tender.Unit.
func (b *BGE) Fetch(ctx context.Context, _ tender.RunContext) ([]tender.RawRecord, error) {
	doc, base, err := b.load(ctx, b.cfg.URL, "div.rss_item")
	if err != nil {
		return nil, err
	}
	records := parseBGE(doc, base)
	b.logger.Debug("parsed listing", zap.Int("items", len(records)))
	return records, nil
}

func parseBGE(doc *goquery.Document, base *url.URL) []tender.RawRecord {
	var out []tender.RawRecord
	doc.Find("div[class='rss_item col-sm-10']").Each(func(_ int, item *goquery.Selection) {
		heading := cleanText(item.Find("h3").First().Text())
		rec := tender.RawRecord{Title: heading}
		if id, title, ok := strings.Cut(heading, ":"); ok {
			rec.ExternalID = strings.TrimSpace(id)
			rec.Title = strings.TrimSpace(title)
		}
		if rec.Title == "" {
			return
		}
		if href, ok := item.Find("h3 a").First().Attr("href"); ok {
			rec.URL = resolve(base, href)
		}

		cells := item.Find("td")
		rec.Organization = cleanText(cells.Eq(0).Text())
		rec.Category = cleanText(cells.Eq(2).Text())

		item.Find("tr").EachWithBreak(func(_ int, row *goquery.Selection) bool {
			label := strings.ToLower(cleanText(row.Find("th").First().Text()))
			if !strings.HasSuffix(label, "frist") {
				return true
			}
			deadline := cleanText(row.Find("td").First().Text())
			if len(deadline) > maxDeadlineLen {
				deadline = deadline[:maxDeadlineLen]
			}
			rec.Deadline = deadline
			return false
		})
		out = append(out, rec)
	})
	return out
}
