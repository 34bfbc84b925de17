// Package eutils binds the three upstream endpoints the harvester depends
// on: paginated literature search (esearch), batch id conversion (idconv),
// and batch full-text retrieval (efetch).
package eutils

import (
	"bytes"
	"context"
	"encoding/json"
	"encoding/xml"
	"fmt"
	"io"
	"net/url"
	"strconv"
	"strings"

	"github.com/geneius/pmc-harvester/pkg/client"
)

// Default endpoint locations.
const (
	DefaultSearchURL = "https://eutils.ncbi.nlm.nih.gov/entrez/eutils/esearch.fcgi"
	DefaultConvURL   = "https://www.ncbi.nlm.nih.gov/pmc/utils/idconv/v1.0/"
	DefaultFetchURL  = "https://eutils.ncbi.nlm.nih.gov/entrez/eutils/efetch.fcgi"
)

// Config holds the endpoint locations, overridable for tests.
type Config struct {
	SearchURL string
	ConvURL   string
	FetchURL  string
}

// Service issues requests against the E-utilities endpoints.
type Service struct {
	client    *client.Client
	searchURL string
	convURL   string
	fetchURL  string
}

// NewService creates a service over the given transport client. Empty URL
// fields fall back to the public endpoints.
func NewService(c *client.Client, cfg Config) *Service {
	if cfg.SearchURL == "" {
		cfg.SearchURL = DefaultSearchURL
	}
	if cfg.ConvURL == "" {
		cfg.ConvURL = DefaultConvURL
	}
	if cfg.FetchURL == "" {
		cfg.FetchURL = DefaultFetchURL
	}
	return &Service{
		client:    c,
		searchURL: cfg.SearchURL,
		convURL:   cfg.ConvURL,
		fetchURL:  cfg.FetchURL,
	}
}

// SearchPage requests one page of search results for term, starting at
// retStart with up to retMax ids. An empty slice signals exhaustion.
func (s *Service) SearchPage(ctx context.Context, term string, retStart, retMax int) ([]string, error) {
	params := url.Values{}
	params.Set("db", "pubmed")
	params.Set("term", fmt.Sprintf("%q", term))
	params.Set("retmode", "json")
	params.Set("retmax", strconv.Itoa(retMax))
	params.Set("retstart", strconv.Itoa(retStart))

	body, err := s.client.Get(ctx, s.searchURL, params)
	if err != nil {
		return nil, err
	}

	var resp searchResponse
	if err := json.Unmarshal(body, &resp); err != nil {
		return nil, client.NewDecodeError(fmt.Errorf("decode esearch response: %w", err))
	}

	return resp.ESearchResult.IDList, nil
}

// ConvertIDs resolves a batch of primary ids to the secondary id space in a
// single request. The response may omit records or return records without a
// secondary id; both are valid.
func (s *Service) ConvertIDs(ctx context.Context, ids []string) ([]ConversionRecord, error) {
	params := url.Values{}
	params.Set("format", "json")
	params.Set("ids", strings.Join(ids, ","))

	body, err := s.client.Get(ctx, s.convURL, params)
	if err != nil {
		return nil, err
	}

	var resp convResponse
	if err := json.Unmarshal(body, &resp); err != nil {
		return nil, client.NewDecodeError(fmt.Errorf("decode idconv response: %w", err))
	}

	return resp.Records, nil
}

// FetchDocuments retrieves the full-text XML container for a batch of ids.
// The raw body is returned; use SplitArticles to recover the per-id
// sub-documents.
func (s *Service) FetchDocuments(ctx context.Context, ids []string) ([]byte, error) {
	params := url.Values{}
	params.Set("db", "pmc")
	params.Set("id", strings.Join(ids, ","))
	params.Set("retmode", "xml")

	return s.client.Get(ctx, s.fetchURL, params)
}

// SplitArticles extracts each <article> element from an efetch response
// container, re-serialized standalone, in document order.
//
// The upstream contract associates the i-th article with the i-th requested
// id purely by position. Callers must compare len(result) against the
// request batch size before pairing; a shorter result means the response
// silently dropped records and pairing would mis-attribute every document
// after the gap.
func SplitArticles(body []byte) ([][]byte, error) {
	dec := xml.NewDecoder(bytes.NewReader(body))
	// Full-text bodies embed entities the default strict decoder rejects.
	dec.Strict = false

	var articles [][]byte
	for {
		tok, err := dec.Token()
		if err == io.EOF {
			break
		}
		if err != nil {
			return nil, client.NewDecodeError(fmt.Errorf("decode efetch response: %w", err))
		}

		start, ok := tok.(xml.StartElement)
		if !ok || start.Name.Local != "article" {
			continue
		}

		doc, err := copyElement(dec, start)
		if err != nil {
			return nil, client.NewDecodeError(fmt.Errorf("extract article: %w", err))
		}
		articles = append(articles, doc)
	}

	return articles, nil
}

// copyElement re-encodes the subtree rooted at start, consuming tokens from
// dec up to and including the matching end element.
func copyElement(dec *xml.Decoder, start xml.StartElement) ([]byte, error) {
	var buf bytes.Buffer
	enc := xml.NewEncoder(&buf)

	if err := enc.EncodeToken(start); err != nil {
		return nil, err
	}

	depth := 1
	for depth > 0 {
		tok, err := dec.Token()
		if err != nil {
			return nil, fmt.Errorf("unterminated element %q: %w", start.Name.Local, err)
		}
		switch tok.(type) {
		case xml.StartElement:
			depth++
		case xml.EndElement:
			depth--
		}
		if err := enc.EncodeToken(xml.CopyToken(tok)); err != nil {
			return nil, err
		}
	}

	if err := enc.Flush(); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}
