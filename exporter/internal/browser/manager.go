// CLAUDE:SUMMARY Manages the Chrome session: launch with a persistent profile or attach to a remote instance, open the chat tab, shut down.
package browser

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"time"

	"github.com/go-rod/rod"
	"github.com/go-rod/rod/lib/launcher"
	"github.com/go-rod/rod/lib/proto"
	"github.com/go-rod/stealth"
)

// Config configures the browser manager.
type Config struct {
	// RemoteURL is the DevTools WebSocket URL of an already running Chrome.
	// Empty = launch a local Chrome via launcher.
	RemoteURL string

	// Bin overrides the Chrome binary. Empty = launcher auto-detection.
	Bin string

	// UserDataDir persists the login session across runs. Default: ".scrollback/profile".
	UserDataDir string

	// Headless hides the window. The user has to log in and pick a chat,
	// so the default is a visible browser.
	Headless bool

	// Stealth applies go-rod/stealth evasions to the chat tab.
	Stealth bool

	// StartURL is opened when no existing tab already points at its host.
	StartURL string

	// NavigateTimeout bounds the initial navigation. Default: 60s.
	NavigateTimeout time.Duration

	// ResourceBlocking lists resource types to block (fonts, media).
	// Images are never blocked: they are what the exporter collects.
	ResourceBlocking []string

	// ForwardConsole logs the page's console output at debug level.
	ForwardConsole bool

	Logger *slog.Logger
}

func (c *Config) defaults() {
	if c.UserDataDir == "" {
		c.UserDataDir = ".scrollback/profile"
	}
	if c.NavigateTimeout <= 0 {
		c.NavigateTimeout = 60 * time.Second
	}
	if c.Logger == nil {
		c.Logger = slog.Default()
	}
}

// Manager owns the browser process (or remote connection).
type Manager struct {
	cfg     Config
	mu      sync.Mutex
	browser *rod.Browser
	lnch    *launcher.Launcher
	closed  bool
}

// NewManager creates a browser Manager. Call Start to launch Chrome.
func NewManager(cfg Config) *Manager {
	cfg.defaults()
	return &Manager{cfg: cfg}
}

// Start launches Chrome (or connects to a remote instance) and returns
// the Rod browser handle.
func (m *Manager) Start(ctx context.Context) (*rod.Browser, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.closed {
		return nil, fmt.Errorf("browser: manager is closed")
	}
	if m.browser != nil {
		return m.browser, nil
	}

	b, err := m.launch(ctx)
	if err != nil {
		return nil, err
	}
	m.browser = b
	return b, nil
}

// Browser returns the current Rod browser handle.
func (m *Manager) Browser() *rod.Browser {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.browser
}

// Close shuts down Chrome. A remote browser is only disconnected.
func (m *Manager) Close() error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.closed = true
	return m.cleanup()
}

func (m *Manager) launch(ctx context.Context) (*rod.Browser, error) {
	log := m.cfg.Logger

	var wsURL string
	if m.cfg.RemoteURL != "" {
		wsURL = m.cfg.RemoteURL
		log.Info("browser: connecting to remote", "url", wsURL)
	} else {
		l := launcher.New().
			Context(ctx).
			Headless(m.cfg.Headless).
			UserDataDir(m.cfg.UserDataDir).
			Leakless(false)
		if m.cfg.Bin != "" {
			l = l.Bin(m.cfg.Bin)
		}
		l = l.Set("disable-blink-features", "AutomationControlled")

		u, err := l.Launch()
		if err != nil {
			return nil, fmt.Errorf("browser: launch: %w", err)
		}
		wsURL = u
		m.lnch = l
		log.Info("browser: launched local chrome", "url", wsURL,
			"headless", m.cfg.Headless, "profile", m.cfg.UserDataDir)
	}

	b := rod.New().ControlURL(wsURL)
	if err := b.Connect(); err != nil {
		return nil, fmt.Errorf("browser: connect: %w", err)
	}
	return b, nil
}

func (m *Manager) cleanup() error {
	if m.browser != nil {
		if m.lnch != nil {
			m.browser.Close()
		}
		m.browser = nil
	}
	if m.lnch != nil {
		// Kill, not Cleanup: Cleanup removes UserDataDir and with it the login.
		m.lnch.Kill()
		m.lnch = nil
	}
	return nil
}

// OpenChat returns the tab showing StartURL's host, reusing an open tab
// when one exists so an attached browser keeps its state.
func (m *Manager) OpenChat(ctx context.Context) (*RodPage, error) {
	b := m.Browser()
	if b == nil {
		return nil, fmt.Errorf("browser: no active browser")
	}
	log := m.cfg.Logger

	page := m.findTab(b)
	if page == nil {
		var err error
		if m.cfg.Stealth {
			page, err = stealth.Page(b)
		} else {
			page, err = b.Page(proto.TargetCreateTarget{URL: ""})
		}
		if err != nil {
			return nil, fmt.Errorf("browser: create tab: %w", err)
		}

		if len(m.cfg.ResourceBlocking) > 0 {
			if err := applyResourceBlocking(page, m.cfg.ResourceBlocking, log); err != nil {
				log.Warn("browser: resource blocking failed", "error", err)
			}
		}

		if m.cfg.StartURL != "" {
			navCtx, cancel := context.WithTimeout(ctx, m.cfg.NavigateTimeout)
			err := page.Context(navCtx).Navigate(m.cfg.StartURL)
			if err == nil {
				err = page.Context(navCtx).WaitLoad()
			}
			cancel()
			if err != nil {
				log.Warn("browser: initial navigation", "url", m.cfg.StartURL, "error", err)
			}
		}
	} else {
		log.Info("browser: reusing open tab", "url", page.MustInfo().URL)
	}

	if m.cfg.ForwardConsole {
		forwardConsole(ctx, page, log)
	}
	return NewRodPage(page, log), nil
}

func (m *Manager) findTab(b *rod.Browser) *rod.Page {
	if m.cfg.StartURL == "" {
		return nil
	}
	host := hostOf(m.cfg.StartURL)
	pages, err := b.Pages()
	if err != nil {
		return nil
	}
	for _, p := range pages {
		info, err := p.Info()
		if err != nil {
			continue
		}
		if host != "" && strings.Contains(info.URL, host) {
			return p
		}
	}
	return nil
}

func hostOf(u string) string {
	s := u
	if i := strings.Index(s, "://"); i >= 0 {
		s = s[i+3:]
	}
	if i := strings.IndexAny(s, "/?#"); i >= 0 {
		s = s[:i]
	}
	return s
}

// forwardConsole relays console.* calls from the page to the logger.
func forwardConsole(ctx context.Context, page *rod.Page, log *slog.Logger) {
	p := page.Context(ctx)
	if err := (proto.RuntimeEnable{}).Call(p); err != nil {
		log.Debug("browser: runtime enable", "error", err)
		return
	}
	go p.EachEvent(func(e *proto.RuntimeConsoleAPICalled) {
		parts := make([]string, 0, len(e.Args))
		for _, a := range e.Args {
			if a.Value.Nil() {
				parts = append(parts, a.Description)
				continue
			}
			parts = append(parts, a.Value.String())
		}
		log.Debug("browser: console", "type", string(e.Type), "text", strings.Join(parts, " "))
	})()
}
