package extract

import (
	"context"
	"errors"
	"fmt"

	"github.com/go-rod/rod"
	"github.com/go-rod/rod/lib/launcher"
	"github.com/go-rod/rod/lib/proto"
)

// BrowserStrategy renders pages in a headless Chromium driven by rod. Each
// Open launches a browser that lives until the returned fetcher is closed.
type BrowserStrategy struct {
	bin      string
	headless bool
}

func NewBrowserStrategy(bin string, headless bool) *BrowserStrategy {
	return &BrowserStrategy{bin: bin, headless: headless}
}

func (s *BrowserStrategy) Name() string {
	return "browser"
}

func (s *BrowserStrategy) Open(ctx context.Context) (Fetcher, error) {
	l := launcher.New().Context(ctx).Headless(s.headless)
	if s.bin != "" {
		l = l.Bin(s.bin)
	}
	controlURL, err := l.Launch()
	if err != nil {
		return nil, fmt.Errorf("launch browser: %w", err)
	}

	browser := rod.New().ControlURL(controlURL).Context(ctx)
	if err := browser.Connect(); err != nil {
		l.Kill()
		return nil, fmt.Errorf("connect to browser: %w", err)
	}
	return &browserSession{browser: browser, launcher: l}, nil
}

type browserSession struct {
	browser  *rod.Browser
	launcher *launcher.Launcher
}

func (b *browserSession) Fetch(ctx context.Context, url string) (Page, error) {
	page, err := b.browser.Page(proto.TargetCreateTarget{})
	if err != nil {
		return Page{}, fmt.Errorf("open tab: %w", err)
	}
	defer page.Close()

	tab := page.Context(ctx)
	if err := tab.Navigate(url); err != nil {
		return Page{}, fmt.Errorf("navigate: %w", err)
	}
	if err := tab.WaitLoad(); err != nil {
		return Page{}, fmt.Errorf("wait load: %w", err)
	}
	html, err := tab.HTML()
	if err != nil {
		return Page{}, fmt.Errorf("read html: %w", err)
	}
	return CleanHTML(html)
}

func (b *browserSession) Close() error {
	err := b.browser.Close()
	b.launcher.Kill()
	if err != nil && !errors.Is(err, context.Canceled) {
		return fmt.Errorf("close browser: %w", err)
	}
	return nil
}
