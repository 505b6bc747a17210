// Package offline is the client-side cache controller: it keeps one versioned cache of
// static assets and answers same-origin GET requests from the network or that cache
// depending on the URL.
package offline

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"strings"
	"sync/atomic"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
)

const (
	defaultApp         = "tastesig"
	installConcurrency = 4
	rootDocument       = "/"
)

// DefaultPrecache lists the app shell assets stored on install.
var DefaultPrecache = []string{
	"/",
	"/index.html",
	"/manifest.json",
	"/css/styles.css",
	"/js/app.js",
	"/icons/icon-192.png",
	"/icons/icon-512.png",
}

// DefaultBypass matches authentication, AI API and CDN traffic that is never cached.
var DefaultBypass = []string{
	"/api/",
	"firebase",
	"googleapis.com",
	"identitytoolkit",
	"securetoken",
	"anthropic.com",
	"gstatic.com",
	"cdn",
}

// Strategy names how a request was answered.
type Strategy string

const (
	StrategyPassthrough  Strategy = "passthrough"
	StrategyBypass       Strategy = "bypass"
	StrategyNetworkFirst Strategy = "network_first"
	StrategyCacheFirst   Strategy = "cache_first"
)

// Config describes one controller version.
type Config struct {
	// App prefixes every cache name; caches are named "<App>-<Version>".
	App     string
	Version string
	// Origin is the scheme and host the controller serves, e.g. "https://tastesignature.app".
	Origin   string
	Precache []string
	Bypass   []string
	Storage  Storage
	Network  http.RoundTripper
	Logger   *zap.Logger
}

// Controller applies the per-request cache strategies. It is safe for concurrent use.
type Controller struct {
	app      string
	cache    string
	origin   *url.URL
	precache []string
	bypass   []string
	storage  Storage
	network  http.RoundTripper
	logger   *zap.Logger
	active   atomic.Bool
}

// New validates cfg and returns an inactive controller.
func New(cfg Config) (*Controller, error) {
	if cfg.Version == "" {
		return nil, errors.New("offline: version is required")
	}
	origin, err := url.Parse(cfg.Origin)
	if err != nil || origin.Scheme == "" || origin.Host == "" {
		return nil, fmt.Errorf("offline: invalid origin %q", cfg.Origin)
	}
	if cfg.App == "" {
		cfg.App = defaultApp
	}
	if cfg.Precache == nil {
		cfg.Precache = DefaultPrecache
	}
	if cfg.Bypass == nil {
		cfg.Bypass = DefaultBypass
	}
	if cfg.Storage == nil {
		cfg.Storage = NewMemoryStorage()
	}
	if cfg.Network == nil {
		cfg.Network = http.DefaultTransport
	}
	if cfg.Logger == nil {
		cfg.Logger = zap.NewNop()
	}
	return &Controller{
		app:      cfg.App,
		cache:    cfg.App + "-" + cfg.Version,
		origin:   &url.URL{Scheme: origin.Scheme, Host: origin.Host},
		precache: cfg.Precache,
		bypass:   cfg.Bypass,
		storage:  cfg.Storage,
		network:  cfg.Network,
		logger:   cfg.Logger.With(zap.String("cache", cfg.App+"-"+cfg.Version)),
	}, nil
}

// CacheName is the name of the cache this version owns.
func (c *Controller) CacheName() string {
	return c.cache
}

// Active reports whether Activate has completed.
func (c *Controller) Active() bool {
	return c.active.Load()
}

// Install fetches every precache path and stores the responses. Nothing is stored unless
// every fetch succeeds with 200.
func (c *Controller) Install(ctx context.Context) error {
	entries := make([]*Entry, len(c.precache))
	g, ctx := errgroup.WithContext(ctx)
	g.SetLimit(installConcurrency)
	for i, path := range c.precache {
		i, path := i, path
		g.Go(func() error {
			req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.resolve(path), nil)
			if err != nil {
				return err
			}
			resp, err := c.network.RoundTrip(req)
			if err != nil {
				return fmt.Errorf("precache %s: %w", path, err)
			}
			entry, err := readEntry(resp)
			if err != nil {
				return fmt.Errorf("precache %s: %w", path, err)
			}
			if entry.Status != http.StatusOK {
				return fmt.Errorf("precache %s: status %d", path, entry.Status)
			}
			entries[i] = entry
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		c.logger.Error("install failed", zap.Error(err))
		return err
	}
	for i, path := range c.precache {
		c.storage.Put(c.cache, c.resolve(path), entries[i])
	}
	c.logger.Info("installed", zap.Int("assets", len(entries)))
	return nil
}

// Activate deletes older caches of the same app and takes control of subsequent fetches.
// It returns the names of the deleted caches.
func (c *Controller) Activate(ctx context.Context) ([]string, error) {
	var deleted []string
	for _, name := range c.storage.Names() {
		if err := ctx.Err(); err != nil {
			return deleted, err
		}
		if name == c.cache || !strings.HasPrefix(name, c.app+"-") {
			continue
		}
		if c.storage.Delete(name) {
			deleted = append(deleted, name)
		}
	}
	c.active.Store(true)
	c.logger.Info("activated", zap.Strings("deleted", deleted))
	return deleted, nil
}

// Classify reports which strategy Fetch applies to req.
func (c *Controller) Classify(req *http.Request) Strategy {
	if req.Method != http.MethodGet || !c.active.Load() {
		return StrategyPassthrough
	}
	full := req.URL.String()
	for _, pattern := range c.bypass {
		if strings.Contains(full, pattern) {
			return StrategyBypass
		}
	}
	if !c.sameOrigin(req.URL) {
		return StrategyPassthrough
	}
	if isDocumentOrScript(req) {
		return StrategyNetworkFirst
	}
	return StrategyCacheFirst
}

// Fetch answers req according to Classify.
func (c *Controller) Fetch(req *http.Request) (*http.Response, error) {
	switch c.Classify(req) {
	case StrategyNetworkFirst:
		return c.networkFirst(req)
	case StrategyCacheFirst:
		return c.cacheFirst(req)
	default:
		return c.network.RoundTrip(req)
	}
}

// RoundTrip lets the controller sit in an http.Client.
func (c *Controller) RoundTrip(req *http.Request) (*http.Response, error) {
	return c.Fetch(req)
}

func (c *Controller) networkFirst(req *http.Request) (*http.Response, error) {
	key := cacheKey(req.URL)
	resp, err := c.network.RoundTrip(req)
	if err == nil {
		if resp.StatusCode == http.StatusOK {
			c.store(key, resp)
		}
		return resp, nil
	}
	if entry, ok := c.storage.Match(c.cache, key); ok {
		c.logger.Debug("network failed, serving cached copy", zap.String("url", key), zap.Error(err))
		return entry.Response(req), nil
	}
	return nil, err
}

func (c *Controller) cacheFirst(req *http.Request) (*http.Response, error) {
	key := cacheKey(req.URL)
	if entry, ok := c.storage.Match(c.cache, key); ok {
		return entry.Response(req), nil
	}
	resp, err := c.network.RoundTrip(req)
	if err == nil {
		if resp.StatusCode == http.StatusOK {
			c.store(key, resp)
		}
		return resp, nil
	}
	if entry, ok := c.storage.Match(c.cache, c.resolve(rootDocument)); ok {
		c.logger.Debug("network failed, serving root document", zap.String("url", key), zap.Error(err))
		return entry.Response(req), nil
	}
	return nil, err
}

func (c *Controller) store(key string, resp *http.Response) {
	entry, err := readEntry(resp)
	if err != nil {
		c.logger.Warn("cache population failed", zap.String("url", key), zap.Error(err))
		return
	}
	c.storage.Put(c.cache, key, entry)
}

func (c *Controller) resolve(path string) string {
	ref, err := url.Parse(path)
	if err != nil {
		return c.origin.String() + path
	}
	return cacheKey(c.origin.ResolveReference(ref))
}

func (c *Controller) sameOrigin(u *url.URL) bool {
	return strings.EqualFold(u.Scheme, c.origin.Scheme) && strings.EqualFold(u.Host, c.origin.Host)
}

func cacheKey(u *url.URL) string {
	clean := *u
	clean.Fragment = ""
	clean.RawFragment = ""
	return clean.String()
}

func isDocumentOrScript(req *http.Request) bool {
	path := req.URL.Path
	if path == "" || strings.HasSuffix(path, "/") {
		return true
	}
	if strings.HasSuffix(path, ".html") || strings.HasSuffix(path, ".js") || strings.HasSuffix(path, ".mjs") {
		return true
	}
	return strings.Contains(req.Header.Get("Accept"), "text/html")
}
