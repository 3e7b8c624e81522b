package scraper

import (
	"context"
	"fmt"
	"time"

	"github.com/chromedp/chromedp"

	"github.com/mikeboe/research-conductor/pkg/research"
)

// BrowserScraper renders pages in headless Chrome before extraction, for
// sites that build their content with JavaScript.
type BrowserScraper struct {
	Timeout time.Duration
}

func (s *BrowserScraper) Scrape(ctx context.Context, location string) (research.Document, error) {
	timeout := s.Timeout
	if timeout <= 0 {
		timeout = 15 * time.Second
	}
	ctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	html, err := renderHTML(ctx, location)
	if err != nil {
		return research.Document{}, fmt.Errorf("failed to render page: %w", err)
	}
	return extract(location, html)
}

func renderHTML(ctx context.Context, location string) (string, error) {
	opts := append(chromedp.DefaultExecAllocatorOptions[:],
		chromedp.Flag("headless", true),
		chromedp.UserAgent(userAgent),
	)
	actx, cancelAlloc := chromedp.NewExecAllocator(ctx, opts...)
	defer cancelAlloc()
	bctx, cancelBrowser := chromedp.NewContext(actx)
	defer cancelBrowser()

	var html string
	err := chromedp.Run(bctx,
		chromedp.Navigate(location),
		chromedp.WaitReady("body", chromedp.ByQuery),
		chromedp.OuterHTML("html", &html, chromedp.ByQuery),
	)
	return html, err
}
