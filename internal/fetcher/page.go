package fetcher

import (
	"context"
	"fmt"
	"net/http"
	"strconv"
	"strings"

	"github.com/PuerkitoBio/goquery"

	"github.com/mixforge/mixforge/internal/models"
)

// PageManifest is the enumeration of a transfer-service share page: the
// files on offer plus the session state needed to resolve their links.
type PageManifest struct {
	Session       Session
	Files         []models.BatchItem
	TotalDeclared int64
}

// EnumeratePage loads a transfer-service page and extracts its file list.
// The page's session cookie lands in the client's jar; the CSRF token is
// read from the standard meta tag. File rows carry their metadata in data
// attributes; rows without a direct URL get the candidate API endpoints to
// try at download time.
func (f *Fetcher) EnumeratePage(ctx context.Context, pageURL string) (*PageManifest, error) {
	if err := f.limiter.Wait(ctx); err != nil {
		return nil, err
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, pageURL, nil)
	if err != nil {
		return nil, fmt.Errorf("invalid page url: %w", err)
	}
	f.setHeaders(req)

	resp, err := f.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("failed to load transfer page: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return nil, fmt.Errorf("transfer page returned status %d", resp.StatusCode)
	}

	doc, err := goquery.NewDocumentFromReader(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("failed to parse transfer page: %w", err)
	}

	manifest := &PageManifest{
		Session: Session{BaseURL: pageURL},
	}
	if token, ok := doc.Find(`meta[name="csrf-token"]`).Attr("content"); ok {
		manifest.Session.CSRFToken = token
	}

	doc.Find("[data-file]").Each(func(i int, sel *goquery.Selection) {
		item := models.BatchItem{
			Index:   len(manifest.Files),
			Outcome: models.ItemPending,
		}

		item.Name = strings.TrimSpace(sel.AttrOr("data-name", ""))
		if item.Name == "" {
			item.Name = strings.TrimSpace(sel.Text())
		}
		if item.Name == "" {
			item.Name = fmt.Sprintf("file-%d", item.Index+1)
		}

		item.MimeType = sel.AttrOr("data-mime", "")
		if size, err := strconv.ParseInt(sel.AttrOr("data-size", ""), 10, 64); err == nil && size > 0 {
			item.DeclaredSize = size
			manifest.TotalDeclared += size
		}

		if direct := sel.AttrOr("data-url", ""); direct != "" {
			item.DirectURL = direct
		} else if fileID := sel.AttrOr("data-file", ""); fileID != "" {
			item.Strategies = candidateStrategies(pageURL, fileID)
		}

		manifest.Files = append(manifest.Files, item)
	})

	f.logger.Info().
		Str("url", pageURL).
		Int("files", len(manifest.Files)).
		Int64("declared_bytes", manifest.TotalDeclared).
		Msg("Transfer page enumerated")
	return manifest, nil
}

// candidateStrategies builds the ordered endpoint list for one file. Transfer
// services have shipped several download API shapes over time; each form is
// tried in preference order at download time.
func candidateStrategies(pageURL, fileID string) []models.LinkStrategy {
	base := strings.TrimRight(pageURL, "/")
	return []models.LinkStrategy{
		{
			Endpoint: base + "/download",
			Payload:  map[string]string{"file_ids[]": fileID, "intent": "single_file"},
		},
		{
			Endpoint: base + "/download",
			Payload:  map[string]string{"file_id": fileID},
		},
		{
			Endpoint: base + "/files/" + fileID + "/download-link",
			Method:   http.MethodGet,
		},
	}
}
