package facebook

import (
	"context"
	"errors"
	"fmt"
	"net/url"
	"os"
	"os/exec"
	"strings"
	"sync"
	"time"

	"github.com/chromedp/chromedp"

	"propertybridge/config"
	"propertybridge/models"
	"propertybridge/utils"
)

const (
	loginURL       = "https://www.facebook.com/login"
	marketplaceURL = "https://www.facebook.com/marketplace/"
	platform       = string(models.SourceFacebook)
)

// ErrLoginFailed is returned when the login form is still shown after submitting credentials.
var ErrLoginFailed = errors.New("facebook: login failed")

// Scraper collects property listings from Facebook Marketplace.
type Scraper struct {
	cfg        *config.Config
	logger     *utils.Logger
	pool       *utils.WorkerPool
	visitedURL *utils.KeySet
	retry      *utils.RetryConfig

	mu       sync.Mutex
	listings []*models.RawListing
}

// New creates a ready-to-use marketplace Scraper.
func New(cfg *config.Config, logger *utils.Logger) *Scraper {
	return &Scraper{
		cfg:        cfg,
		logger:     logger,
		pool:       utils.NewWorkerPool(cfg.MaxConcurrency, cfg.RateLimitMs),
		visitedURL: utils.NewKeySet(),
		retry: &utils.RetryConfig{
			MaxAttempts: cfg.MaxRetries,
			BaseDelay:   2 * time.Second,
			Logger:      logger,
		},
		listings: make([]*models.RawListing, 0),
	}
}

// Scrape logs in when credentials are configured, runs a marketplace search
// for query and enriches each result from its detail page.
func (s *Scraper) Scrape(ctx context.Context, query string) ([]*models.RawListing, error) {
	s.logger.Info("[facebook] Starting scrape: query %q in %s, limit %d", query, s.cfg.MarketplaceCity, s.cfg.ScrapeLimit)

	chromeBin := findChromeBinary(s.cfg.ChromeBin)
	s.logger.Info("[facebook] Using browser binary: %s", chromeBin)

	opts := append(chromedp.DefaultExecAllocatorOptions[:],
		chromedp.Flag("headless", true),
		chromedp.Flag("disable-gpu", true),
		chromedp.Flag("no-sandbox", true),
		chromedp.Flag("disable-dev-shm-usage", true),
		chromedp.Flag("disable-notifications", true),
		chromedp.UserAgent("Mozilla/5.0 (X11; Linux x86_64) AppleWebKit/537.36 "+
			"(KHTML, like Gecko) Chrome/120.0.0.0 Safari/537.36"),
	)
	if chromeBin != "" {
		opts = append(opts, chromedp.ExecPath(chromeBin))
	}

	allocCtx, cancelAlloc := chromedp.NewExecAllocator(ctx, opts...)
	defer cancelAlloc()

	// one browser for the whole run so the login cookie is shared by every tab
	browserCtx, cancelBrowser := chromedp.NewContext(allocCtx, chromedp.WithLogf(func(string, ...interface{}) {}))
	defer cancelBrowser()

	if s.cfg.FacebookEmail != "" && s.cfg.FacebookPassword != "" {
		if err := s.login(browserCtx); err != nil {
			return nil, err
		}
	} else {
		s.logger.Warn("[facebook] FB_EMAIL/FB_PASSWORD not set, browsing anonymously")
	}

	searchURL := SearchURL(s.cfg.MarketplaceCity, query)
	s.logger.Info("[facebook] Search URL: %s", searchURL)

	found, err := s.scrapeSearch(browserCtx, searchURL)
	if err != nil {
		return nil, fmt.Errorf("facebook: search failed: %w", err)
	}
	if len(found) == 0 {
		s.logger.Warn("[facebook] Search returned 0 listings")
		return nil, nil
	}

	s.enrichListings(browserCtx, found)

	s.mu.Lock()
	s.listings = append(s.listings, found...)
	total := len(s.listings)
	s.mu.Unlock()

	s.logger.Info("[facebook] Scrape complete, total raw listings: %d (%d unique URLs seen)", total, s.visitedURL.Size())
	return s.listings, nil
}

func (s *Scraper) login(browserCtx context.Context) error {
	return s.retry.Do(browserCtx, "facebook-login", func() error {
		ctx, cancel := context.WithTimeout(browserCtx, 60*time.Second)
		defer cancel()

		var stillOnLogin bool
		err := chromedp.Run(ctx,
			chromedp.Navigate(loginURL),
			chromedp.WaitVisible(`#email`, chromedp.ByQuery),
			chromedp.SendKeys(`#email`, s.cfg.FacebookEmail, chromedp.ByQuery),
			chromedp.SendKeys(`#pass`, s.cfg.FacebookPassword, chromedp.ByQuery),
			chromedp.Click(`button[name="login"]`, chromedp.ByQuery),
			chromedp.Sleep(6*time.Second),
			chromedp.Evaluate(`!!document.querySelector('#pass')`, &stillOnLogin),
		)
		if err != nil {
			return fmt.Errorf("chromedp login: %w", err)
		}
		if stillOnLogin {
			return ErrLoginFailed
		}
		s.logger.Info("[facebook] Logged in")
		return nil
	})
}

// card is what the search page script returns for every result tile.
type card struct {
	Title    string `json:"title"`
	Price    string `json:"price"`
	Location string `json:"location"`
	ImageURL string `json:"image"`
	URL      string `json:"url"`
}

// scrapeSearch loads the search results, scrolling until the limit is reached
// or the page stops growing.
func (s *Scraper) scrapeSearch(browserCtx context.Context, searchURL string) ([]*models.RawListing, error) {
	var out []*models.RawListing

	err := s.retry.Do(browserCtx, "marketplace-search", func() error {
		ctx, cancel := chromedp.NewContext(browserCtx)
		defer cancel()

		ctx, cancelTimeout := context.WithTimeout(ctx, 120*time.Second)
		defer cancelTimeout()

		if err := chromedp.Run(ctx, chromedp.Navigate(searchURL), chromedp.Sleep(6*time.Second)); err != nil {
			return fmt.Errorf("chromedp navigate: %w", err)
		}

		var cards []card
		for round := 0; round < 6; round++ {
			err := chromedp.Run(ctx,
				chromedp.Evaluate(`
					(function() {
						var results = [];
						var seen = {};
						var links = document.querySelectorAll('a[href*="/marketplace/item/"]');
						for (var i = 0; i < links.length; i++) {
							var href = links[i].href.split('?')[0];
							if (seen[href]) continue;
							seen[href] = true;

							var lines = (links[i].innerText || '').split('\n')
								.map(function(l){ return l.trim(); }).filter(Boolean);
							var img = links[i].querySelector('img');
							results.push({
								price:    lines.find(function(l){ return /₦|NGN|\$|free/i.test(l); }) || '',
								title:    lines.find(function(l){ return !/₦|NGN|\$/.test(l); }) || '',
								location: lines.length > 2 ? lines[lines.length - 1] : '',
								image:    img ? img.src : '',
								url:      href
							});
						}
						return results;
					})()
				`, &cards),
			)
			if err != nil {
				return fmt.Errorf("chromedp extract: %w", err)
			}
			if len(cards) >= s.cfg.ScrapeLimit {
				break
			}
			if err := chromedp.Run(ctx,
				chromedp.Evaluate(`window.scrollTo(0, document.body.scrollHeight)`, nil),
				chromedp.Sleep(3*time.Second),
			); err != nil {
				return fmt.Errorf("chromedp scroll: %w", err)
			}
		}

		s.logger.Debug("[facebook] Found %d cards", len(cards))
		out = s.collectCards(cards, time.Now())
		return nil
	})

	return out, err
}

// collectCards turns search tiles into raw listings, skipping blank and
// already-visited URLs and stopping at the scrape limit.
func (s *Scraper) collectCards(cards []card, scrapedAt time.Time) []*models.RawListing {
	var out []*models.RawListing
	for _, c := range cards {
		if s.cfg.ScrapeLimit > 0 && len(out) >= s.cfg.ScrapeLimit {
			break
		}
		if c.URL == "" {
			continue
		}
		if !s.visitedURL.Add(c.URL) {
			s.logger.Debug("[facebook] Skipping duplicate: %s", c.URL)
			continue
		}
		out = append(out, &models.RawListing{
			Title:     orNA(c.Title),
			RawPrice:  orNA(c.Price),
			Location:  orNA(c.Location),
			URL:       c.URL,
			ImageURL:  c.ImageURL,
			ScrapedAt: scrapedAt,
			Platform:  platform,
		})
	}
	return out
}

// enrichListings visits every detail page for the description and seller,
// filling any field the search tile left empty.
func (s *Scraper) enrichListings(browserCtx context.Context, listings []*models.RawListing) {
	for _, listing := range listings {
		l := listing
		s.pool.Submit(browserCtx, func() {
			detail, err := s.scrapeDetailPage(browserCtx, l.URL)
			if err != nil {
				s.logger.Warn("[facebook] Detail page failed for %s: %v", l.URL, err)
				return
			}
			mergeDetail(l, detail)
			s.logger.Debug("[facebook] Enriched: %s", l.Title)
		})
	}
	s.pool.Wait()
}

func (s *Scraper) scrapeDetailPage(browserCtx context.Context, itemURL string) (*models.RawListing, error) {
	listing := &models.RawListing{URL: itemURL, Platform: platform}

	err := s.retry.Do(browserCtx, "detail-page", func() error {
		ctx, cancel := chromedp.NewContext(browserCtx)
		defer cancel()

		ctx, cancelTimeout := context.WithTimeout(ctx, 60*time.Second)
		defer cancelTimeout()

		var details struct {
			Title       string `json:"title"`
			Price       string `json:"price"`
			Location    string `json:"location"`
			Seller      string `json:"seller"`
			Description string `json:"description"`
		}

		err := chromedp.Run(ctx,
			chromedp.Navigate(itemURL),
			chromedp.Sleep(4*time.Second),
			chromedp.Evaluate(`
				(function() {
					var result = { title: '', price: '', location: '', seller: '', description: '' };

					var h1 = document.querySelector('h1');
					if (h1) result.title = h1.innerText.trim();

					var spans = document.querySelectorAll('span');
					for (var i = 0; i < spans.length; i++) {
						var t = (spans[i].innerText || '').trim();
						if (!result.price && /^(₦|NGN)\s*[\d,]+/.test(t)) result.price = t;
						if (!result.location && /^Listed .* in /.test(t)) {
							result.location = t.replace(/^Listed .* in /, '');
						}
					}

					var seller = document.querySelector('a[href*="/marketplace/profile/"]');
					if (seller) result.seller = seller.innerText.trim();

					var desc = document.querySelector('div[data-testid="marketplace_pdp_description"]') ||
					           document.querySelector('div[class*="xz9dl7a"] span');
					if (desc) result.description = desc.innerText.trim().substring(0, 2000);

					return result;
				})()
			`, &details),
		)
		if err != nil {
			return fmt.Errorf("chromedp detail extract: %w", err)
		}

		listing.Title = details.Title
		listing.RawPrice = details.Price
		listing.Location = details.Location
		listing.Seller = details.Seller
		listing.Description = details.Description
		return nil
	})

	return listing, err
}

// SearchURL builds the marketplace property-rentals search URL for a city.
func SearchURL(city, query string) string {
	city = strings.ToLower(strings.TrimSpace(city))
	if city == "" {
		city = "lagos"
	}
	u := marketplaceURL + url.PathEscape(city) + "/propertyrentals"
	if q := strings.TrimSpace(query); q != "" {
		u = marketplaceURL + url.PathEscape(city) + "/search?query=" + url.QueryEscape(q)
	}
	return u
}

// mergeDetail copies detail page fields onto l, keeping search values the
// detail page could not read.
func mergeDetail(l, detail *models.RawListing) {
	if usable(detail.Title) {
		l.Title = detail.Title
	}
	if usable(detail.RawPrice) {
		l.RawPrice = detail.RawPrice
	}
	if usable(detail.Location) {
		l.Location = detail.Location
	}
	if detail.Seller != "" {
		l.Seller = detail.Seller
	}
	if detail.Description != "" {
		l.Description = detail.Description
	}
}

func usable(s string) bool {
	return s != "" && s != "N/A"
}

func orNA(s string) string {
	if s = strings.TrimSpace(s); s == "" {
		return "N/A"
	}
	return s
}

// findChromeBinary locates Chrome/Chromium, preferring the configured path.
func findChromeBinary(configured string) string {
	if configured != "" {
		return configured
	}
	if bin := os.Getenv("CHROME_BIN"); bin != "" {
		return bin
	}

	names := []string{"google-chrome-stable", "google-chrome", "chromium", "chromium-browser"}
	for _, name := range names {
		if path, err := exec.LookPath(name); err == nil {
			return path
		}
	}

	paths := []string{
		"/usr/bin/google-chrome-stable",
		"/usr/bin/google-chrome",
		"/usr/bin/chromium-browser",
		"/usr/bin/chromium",
		"/snap/bin/chromium",
	}
	for _, p := range paths {
		if _, err := os.Stat(p); err == nil {
			return p
		}
	}

	return ""
}
