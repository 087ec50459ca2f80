package sources

import (
	"context"
	"errors"
	"fmt"
	"net/url"
	"strings"

	"github.com/PuerkitoBio/goquery"
	"go.uber.org/zap"

	"github.com/JakeFAU/tender-watch/internal/tender"
)

const fraunhoferAuthority = "Fraunhofer-Gesellschaft"

// Fraunhofer queries the Fraunhofer NetServer publication search. It
// implements tender.Searcher: the portal filters by Searchkey itself.
type Fraunhofer struct {
	*portal
}

// NewFraunhofer implements Entry.New.
func NewFraunhofer(cfg Config, deps Deps) tender.Unit {
	return &Fraunhofer{portal: newPortal(cfg, deps)}
}

// Fetch lists every open invitation to tender.
func (f *Fraunhofer) Fetch(ctx context.Context, _ tender.RunContext) ([]tender.RawRecord, error) {
	return f.search(ctx, []string{""})
}

// Search runs one portal query per term and tags results with the term.
func (f *Fraunhofer) Search(ctx context.Context, _ tender.RunContext, terms []string) ([]tender.RawRecord, error) {
	if len(terms) == 0 {
		return nil, nil
	}
	return f.search(ctx, terms)
}

func (f *Fraunhofer) search(ctx context.Context, terms []string) ([]tender.RawRecord, error) {
	var (
		out  []tender.RawRecord
		errs []error
		seen = make(map[string]struct{})
	)
	for _, term := range terms {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		doc, base, err := f.load(ctx, f.searchURL(term), "body")
		if err != nil {
			if ctx.Err() != nil {
				return nil, err
			}
			f.logger.Warn("search failed", zap.String("term", term), zap.Error(err))
			errs = append(errs, fmt.Errorf("search %q: %w", term, err))
			continue
		}
		found := parseFraunhofer(doc, base)
		for _, rec := range found {
			if rec.ExternalID != "" {
				if _, dup := seen[rec.ExternalID]; dup {
					continue
				}
				seen[rec.ExternalID] = struct{}{}
			}
			rec.MatchedKeyword = term
			out = append(out, rec)
		}
		f.logger.Debug("search done", zap.String("term", term), zap.Int("items", len(found)))
	}
	if len(errs) == len(terms) {
		return nil, errors.Join(errs...)
	}
	return out, tender.NewPartialError(errs)
}

// searchURL keeps empty parameters, which the servlet expects.
func (f *Fraunhofer) searchURL(term string) string {
	params := []string{
		"Searchkey=" + url.QueryEscape(term),
		"function=Search",
		"Category=InvitationToTender",
		"TenderLaw=All",
		"TenderKind=All",
		"Authority=",
	}
	return f.cfg.URL + "?" + strings.Join(params, "&")
}

func parseFraunhofer(doc *goquery.Document, base *url.URL) []tender.RawRecord {
	var out []tender.RawRecord
	doc.Find("tr.tableRow.clickable-row.publicationDetail").Each(func(_ int, row *goquery.Selection) {
		link := row.Find("a").First()
		rec := tender.RawRecord{
			Title:        cleanText(link.Text()),
			Category:     cleanText(row.Find("td.tenderType").First().Text()),
			Deadline:     cleanText(row.Find("td.tenderDeadline").First().Text()),
			Published:    cleanText(row.Find("td").First().Text()),
			Organization: fraunhoferAuthority,
		}
		if rec.Title == "" {
			return
		}
		if href, ok := link.Attr("href"); ok && href != "" {
			rec.URL = resolve(base, strings.TrimLeft(href, "/"))
		}
		if oid, ok := row.Attr("data-oid"); ok {
			rec.ExternalID = oid
		} else if oid, ok := row.Find("[data-oid]").First().Attr("data-oid"); ok {
			rec.ExternalID = oid
		}
		if authority := cleanText(row.Find("td.tenderAuthority").First().Text()); authority != "" {
			rec.Organization = fraunhoferAuthority + " / " + authority
		}
		out = append(out, rec)
	})
	return out
}
