package scraper

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/mikeboe/research-conductor/pkg/research"
)

const mistralOCREndpoint = "https://api.mistral.ai/v1/ocr"

type ocrPage struct {
	Index    int    `json:"index"`
	Markdown string `json:"markdown"`
}

type ocrResponse struct {
	Pages []ocrPage `json:"pages"`
}

// PDFScraper extracts the contents of a PDF as markdown using Mistral OCR.
type PDFScraper struct {
	APIKey   string
	Client   *http.Client
	Endpoint string
}

func NewPDFScraper(apiKey string) *PDFScraper {
	return &PDFScraper{APIKey: apiKey, Client: &http.Client{Timeout: 2 * time.Minute}}
}

func (s *PDFScraper) Scrape(ctx context.Context, location string) (research.Document, error) {
	if s.APIKey == "" {
		return research.Document{}, fmt.Errorf("MISTRAL_API_KEY is not set")
	}
	docURL := strings.Replace(location, "http://", "https://", 1)

	reqBody := map[string]any{
		"model": "mistral-ocr-latest",
		"document": map[string]string{
			"type":         "document_url",
			"document_url": docURL,
		},
	}
	jsonBody, err := json.Marshal(reqBody)
	if err != nil {
		return research.Document{}, fmt.Errorf("failed to marshal request body: %w", err)
	}

	endpoint := s.Endpoint
	if endpoint == "" {
		endpoint = mistralOCREndpoint
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, endpoint, bytes.NewReader(jsonBody))
	if err != nil {
		return research.Document{}, fmt.Errorf("failed to create HTTP request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Authorization", "Bearer "+s.APIKey)

	client := s.Client
	if client == nil {
		client = http.DefaultClient
	}
	resp, err := client.Do(req)
	if err != nil {
		return research.Document{}, fmt.Errorf("failed to make API request: %w", err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return research.Document{}, fmt.Errorf("failed to read response body: %w", err)
	}
	if resp.StatusCode != http.StatusOK {
		return research.Document{}, fmt.Errorf("API request failed with status: %s, body: %s", resp.Status, string(body))
	}

	var ocr ocrResponse
	if err := json.Unmarshal(body, &ocr); err != nil {
		return research.Document{}, fmt.Errorf("failed to unmarshal OCR response: %w", err)
	}

	var sb strings.Builder
	for _, page := range ocr.Pages {
		fmt.Fprintf(&sb, "- Page %d -\n", page.Index)
		sb.WriteString(page.Markdown)
		sb.WriteString("\n\n")
	}
	return research.Document{
		Location: location,
		Content:  sb.String(),
		Metadata: map[string]any{"pages": len(ocr.Pages)},
	}, nil
}
