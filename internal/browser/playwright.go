package browser

import (
	"fmt"
	"strings"
	"time"

	"github.com/playwright-community/playwright-go"

	"github.com/einvoicetw/captcha-solver/internal/observability"
)

// Options configures a Chromium session.
type Options struct {
	Headless       bool
	ExecutablePath string // Empty uses the driver-managed Chromium
	UserAgent      string
	ViewportWidth  int
	ViewportHeight int
	NavTimeout     time.Duration
}

// PlaywrightSession drives a single Chromium page through Playwright.
// Lookups run against the focused frame, which defaults to the main frame.
type PlaywrightSession struct {
	pw      *playwright.Playwright
	browser playwright.Browser
	page    playwright.Page
	frame   playwright.Frame // nil means main frame
	opts    Options
}

// PlaywrightSession implements Session.
var _ Session = (*PlaywrightSession)(nil)

// Install downloads the Playwright driver and the Chromium browser. Intended
// for first-run setup; a no-op when everything is already present.
func Install() error {
	return playwright.Install(&playwright.RunOptions{
		Browsers: []string{"chromium"},
	})
}

// NewSession launches Chromium and opens a single page.
func NewSession(opts Options) (*PlaywrightSession, error) {
	pw, err := playwright.Run()
	if err != nil {
		return nil, fmt.Errorf("failed to start playwright driver: %w", err)
	}

	launchOpts := playwright.BrowserTypeLaunchOptions{
		Headless: playwright.Bool(opts.Headless),
		Args: []string{
			"--no-sandbox",
			"--disable-gpu",
		},
	}
	if opts.ExecutablePath != "" {
		launchOpts.ExecutablePath = playwright.String(opts.ExecutablePath)
	}

	br, err := pw.Chromium.Launch(launchOpts)
	if err != nil {
		_ = pw.Stop()
		return nil, fmt.Errorf("failed to launch chromium: %w", err)
	}

	pageOpts := playwright.BrowserNewPageOptions{}
	if opts.UserAgent != "" {
		pageOpts.UserAgent = playwright.String(opts.UserAgent)
	}
	if opts.ViewportWidth > 0 && opts.ViewportHeight > 0 {
		pageOpts.Viewport = &playwright.Size{
			Width:  opts.ViewportWidth,
			Height: opts.ViewportHeight,
		}
	}

	page, err := br.NewPage(pageOpts)
	if err != nil {
		_ = br.Close()
		_ = pw.Stop()
		return nil, fmt.Errorf("failed to open page: %w", err)
	}

	if opts.NavTimeout > 0 {
		page.SetDefaultTimeout(float64(opts.NavTimeout.Milliseconds()))
	}

	logger := observability.WithComponent("browser")
	logger.Debug().
		Bool("headless", opts.Headless).
		Msg("Chromium session started")

	return &PlaywrightSession{pw: pw, browser: br, page: page, opts: opts}, nil
}

// locator resolves selector against the focused frame.
func (s *PlaywrightSession) locator(selector string) playwright.Locator {
	if s.frame != nil {
		return s.frame.Locator(selector)
	}
	return s.page.Locator(selector)
}

// Goto navigates to url and waits for the network to go idle.
func (s *PlaywrightSession) Goto(url string) error {
	gotoOpts := playwright.PageGotoOptions{
		WaitUntil: playwright.WaitUntilStateNetworkidle,
	}
	if s.opts.NavTimeout > 0 {
		gotoOpts.Timeout = playwright.Float(float64(s.opts.NavTimeout.Milliseconds()))
	}

	if _, err := s.page.Goto(url, gotoOpts); err != nil {
		return fmt.Errorf("failed to navigate to %s: %w", url, wrapTimeout(err))
	}
	return nil
}

// Click waits for the element to become interactable, then clicks it.
func (s *PlaywrightSession) Click(selector string, timeout time.Duration) error {
	err := s.locator(selector).First().Click(playwright.LocatorClickOptions{
		Timeout: playwright.Float(float64(timeout.Milliseconds())),
	})
	if err != nil {
		return fmt.Errorf("failed to click %q: %w", selector, wrapTimeout(err))
	}
	return nil
}

// WaitVisible waits for the element to be present and visible.
func (s *PlaywrightSession) WaitVisible(selector string, timeout time.Duration) error {
	err := s.locator(selector).First().WaitFor(playwright.LocatorWaitForOptions{
		State:   playwright.WaitForSelectorStateVisible,
		Timeout: playwright.Float(float64(timeout.Milliseconds())),
	})
	if err != nil {
		return fmt.Errorf("failed waiting for %q: %w", selector, wrapTimeout(err))
	}
	return nil
}

// Attribute waits for the element, then reads the named attribute.
func (s *PlaywrightSession) Attribute(selector, name string, timeout time.Duration) (string, error) {
	loc := s.locator(selector).First()

	err := loc.WaitFor(playwright.LocatorWaitForOptions{
		State:   playwright.WaitForSelectorStateAttached,
		Timeout: playwright.Float(float64(timeout.Milliseconds())),
	})
	if err != nil {
		return "", fmt.Errorf("failed waiting for %q: %w", selector, wrapTimeout(err))
	}

	value, err := loc.GetAttribute(name)
	if err != nil {
		return "", fmt.Errorf("failed to read attribute %s of %q: %w", name, selector, wrapTimeout(err))
	}
	return value, nil
}

// Fill replaces the element's current value.
func (s *PlaywrightSession) Fill(selector, value string) error {
	if err := s.locator(selector).First().Fill(value); err != nil {
		return fmt.Errorf("failed to fill %q: %w", selector, wrapTimeout(err))
	}
	return nil
}

// FocusFrame scopes lookups to the child frame matching nameOrURL.
func (s *PlaywrightSession) FocusFrame(nameOrURL string) error {
	for _, f := range s.page.Frames() {
		if f == s.page.MainFrame() {
			continue
		}
		if f.Name() == nameOrURL || strings.Contains(f.URL(), nameOrURL) {
			s.frame = f
			return nil
		}
	}
	return fmt.Errorf("frame %q not found", nameOrURL)
}

// FocusMainFrame resets lookups to the page's default frame.
func (s *PlaywrightSession) FocusMainFrame() {
	s.frame = nil
}

// URL returns the current page address.
func (s *PlaywrightSession) URL() string {
	return s.page.URL()
}

// Close releases the page, browser, and driver. Closing gets a short grace
// period; a wedged driver process is abandoned rather than hanging shutdown.
func (s *PlaywrightSession) Close() error {
	done := make(chan error, 1)
	go func() {
		var firstErr error
		if err := s.page.Close(); err != nil {
			firstErr = err
		}
		if err := s.browser.Close(); err != nil && firstErr == nil {
			firstErr = err
		}
		if err := s.pw.Stop(); err != nil && firstErr == nil {
			firstErr = err
		}
		done <- firstErr
	}()

	select {
	case err := <-done:
		if err != nil {
			return fmt.Errorf("failed to close browser session: %w", err)
		}
		return nil
	case <-time.After(5 * time.Second):
		return fmt.Errorf("browser session close timed out")
	}
}

// wrapTimeout maps Playwright's expired-wait errors onto ErrTimeout so
// callers can classify them without string matching.
func wrapTimeout(err error) error {
	if err == nil {
		return nil
	}
	msg := err.Error()
	if strings.Contains(msg, "Timeout") && strings.Contains(msg, "exceeded") {
		return fmt.Errorf("%w: %s", ErrTimeout, msg)
	}
	return err
}
