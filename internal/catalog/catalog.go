// Package catalog looks up app metadata (display name, change number,
// public build) from a SteamCMD info API and caches it on disk.
package catalog

import (
	"context"
	"fmt"
	"log/slog"
	"strconv"
	"strings"
	"time"

	"github.com/imroc/req/v3"
	"github.com/loykin/steamkeeper/internal/errs"
	"github.com/loykin/steamkeeper/internal/store"
)

const (
	DefaultBaseURL = "https://api.steamcmd.net/v1/info"
	DefaultTimeout = 15 * time.Second
)

type Metadata struct {
	AppID        string     `json:"app_id"`
	Name         string     `json:"name"`
	ChangeNumber int64      `json:"change_number"`
	BuildID      string     `json:"build_id,omitempty"`
	UpdatedAt    *time.Time `json:"updated_at,omitempty"`
}

// infoResponse is the subset of the info API payload we read.
type infoResponse struct {
	Status string             `json:"status"`
	Data   map[string]appInfo `json:"data"`
}

type appInfo struct {
	ChangeNumber int64 `json:"_change_number"`
	Common       struct {
		Name string `json:"name"`
	} `json:"common"`
	Depots struct {
		Branches map[string]branchInfo `json:"branches"`
	} `json:"depots"`
}

type branchInfo struct {
	BuildID     string `json:"buildid"`
	TimeUpdated string `json:"timeupdated"`
}

type Config struct {
	BaseURL string
	Timeout time.Duration
	// Branch whose build id signals a new release; defaults to "public".
	Branch string
}

type Client struct {
	cfg    Config
	http   *req.Client
	cache  *store.Document[store.CatalogCache]
	logger *slog.Logger
	now    func() time.Time
}

func New(cfg Config, cache *store.Document[store.CatalogCache], logger *slog.Logger) *Client {
	if cfg.BaseURL == "" {
		cfg.BaseURL = DefaultBaseURL
	}
	cfg.BaseURL = strings.TrimRight(cfg.BaseURL, "/")
	if cfg.Timeout <= 0 {
		cfg.Timeout = DefaultTimeout
	}
	if cfg.Branch == "" {
		cfg.Branch = "public"
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Client{
		cfg:    cfg,
		http:   req.C().SetTimeout(cfg.Timeout).SetUserAgent("steamkeeper/1.0"),
		cache:  cache,
		logger: logger,
		now:    time.Now,
	}
}

func (c *Client) fetch(ctx context.Context, appID string) (Metadata, error) {
	if _, err := strconv.ParseUint(appID, 10, 32); err != nil {
		return Metadata{}, fmt.Errorf("invalid app id %q", appID)
	}
	var body infoResponse
	resp, err := c.http.R().SetContext(ctx).SetSuccessResult(&body).Get(c.cfg.BaseURL + "/" + appID)
	if err != nil {
		return Metadata{}, fmt.Errorf("catalog request for %s: %w", appID, err)
	}
	if resp.StatusCode != 200 {
		return Metadata{}, fmt.Errorf("catalog request for %s: status %d", appID, resp.StatusCode)
	}
	info, ok := body.Data[appID]
	if !ok || body.Status != "success" {
		return Metadata{}, fmt.Errorf("app %s: %w", appID, errs.ErrNotFound)
	}
	md := Metadata{AppID: appID, Name: info.Common.Name, ChangeNumber: info.ChangeNumber}
	if br, ok := info.Depots.Branches[c.cfg.Branch]; ok {
		md.BuildID = br.BuildID
		if sec, err := strconv.ParseInt(br.TimeUpdated, 10, 64); err == nil && sec > 0 {
			ts := time.Unix(sec, 0).UTC()
			md.UpdatedAt = &ts
		}
	}
	return md, nil
}

// Metadata fetches fresh metadata and records it in the cache.
func (c *Client) Metadata(ctx context.Context, appID string) (Metadata, error) {
	md, err := c.fetch(ctx, appID)
	if err != nil {
		return md, err
	}
	if _, _, err := c.remember(md); err != nil {
		c.logger.Warn("Failed to update catalog cache", "app_id", appID, "error", err)
	}
	return md, nil
}

// remember stores md and returns the entry it replaced.
func (c *Client) remember(md Metadata) (store.CatalogEntry, bool, error) {
	var prev store.CatalogEntry
	var had bool
	_, err := c.cache.Update(func(cc *store.CatalogCache) error {
		if *cc == nil {
			*cc = store.CatalogCache{}
		}
		prev, had = (*cc)[md.AppID]
		(*cc)[md.AppID] = store.CatalogEntry{
			Name:         md.Name,
			ChangeNumber: md.ChangeNumber,
			BuildID:      md.BuildID,
			LastUpdated:  md.UpdatedAt,
			LastChecked:  c.now(),
		}
		return nil
	})
	return prev, had, err
}

// Name returns the display name, served from cache when known.
func (c *Client) Name(ctx context.Context, appID string) (string, error) {
	if cc, err := c.cache.Load(); err == nil {
		if e, ok := cc[appID]; ok && e.Name != "" {
			return e.Name, nil
		}
	}
	md, err := c.Metadata(ctx, appID)
	if err != nil {
		return "", err
	}
	if md.Name == "" {
		return "", fmt.Errorf("app %s has no name: %w", appID, errs.ErrNotFound)
	}
	return md.Name, nil
}

// Changed reports whether the app has a new build since the last check. The
// first check of an app only records a baseline and reports false.
func (c *Client) Changed(ctx context.Context, appID string) (bool, error) {
	md, err := c.fetch(ctx, appID)
	if err != nil {
		return false, err
	}
	prev, had, err := c.remember(md)
	if err != nil {
		return false, err
	}
	if !had {
		return false, nil
	}
	if prev.BuildID != "" && md.BuildID != "" {
		return prev.BuildID != md.BuildID, nil
	}
	return prev.ChangeNumber != md.ChangeNumber, nil
}

// Cached returns the cached entry for appID without network access.
func (c *Client) Cached(appID string) (store.CatalogEntry, bool) {
	cc, err := c.cache.Load()
	if err != nil {
		return store.CatalogEntry{}, false
	}
	e, ok := cc[appID]
	return e, ok
}
