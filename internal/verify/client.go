// Package verify implements the membership verification client against the
// public character-page source. It owns the bounded rate-limit retry policy
// and a TTL memo so repeated queries inside one sweep window do not hit the
// network twice.
package verify

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"regexp"
	"strconv"
	"strings"
	"time"

	"github.com/go-resty/resty/v2"
	gocache "github.com/patrickmn/go-cache"
	"github.com/sirupsen/logrus"

	"github.com/guildtrack/tracker/internal/common"
	"github.com/guildtrack/tracker/internal/config"
	"github.com/guildtrack/tracker/internal/models"
)

const userAgent = "Mozilla/5.0 (Windows NT 10.0; Win64; x64) AppleWebKit/537.36"

var (
	// The guild label on the character page, e.g. `<label>Guild:</label> Name<br/>`.
	guildPattern = regexp.MustCompile(`(?i)Guild:\s*</label>\s*([^<]+)`)

	// Inline character-id assignment in the page script.
	ccidPattern = regexp.MustCompile(`var ccid\s*=\s*(\d+);`)

	// Structured fallback when the inline assignment is absent.
	jsonDataPattern = regexp.MustCompile(`(?s)<script id="jsonData" type="application/json">(.*?)</script>`)
)

// Client implements models.VerificationSource.
type Client struct {
	http *resty.Client
	cfg  config.VerifyConfig
	memo *gocache.Cache
}

// NewClient builds a verification client from config. The memo expires
// entries after cfg.CacheTTL so a stale membership answer is never served
// past the TTL window.
func NewClient(cfg config.VerifyConfig) *Client {
	httpClient := resty.New().
		SetBaseURL(cfg.BaseURL).
		SetTimeout(cfg.Timeout).
		SetHeader("User-Agent", userAgent)

	return &Client{
		http: httpClient,
		cfg:  cfg,
		memo: gocache.New(cfg.CacheTTL, 2*cfg.CacheTTL),
	}
}

// Verify reports whether name's character page declares membership of
// guildName (case-insensitive). Rate-limit responses are retried up to
// MaxRetries with a linearly scaled backoff; every other failure is returned
// as an error for the caller to classify as "not a member".
func (c *Client) Verify(ctx context.Context, name, guildName string) (bool, error) {
	key := fmt.Sprintf("verify:%s|%s",
		models.NormalizeName(name), strings.ToLower(guildName))
	if cached, ok := c.memo.Get(key); ok {
		return cached.(bool), nil
	}

	body, err := c.fetchCharPage(ctx, name)
	if err != nil {
		return false, err
	}

	match := guildPattern.FindStringSubmatch(body)
	inGuild := match != nil &&
		strings.EqualFold(strings.TrimSpace(match[1]), strings.TrimSpace(guildName))

	c.memo.Set(key, inGuild, gocache.DefaultExpiration)
	return inGuild, nil
}

// ResolveCharacterID extracts the numeric character id from the page source,
// preferring the inline ccid assignment and falling back to the embedded
// jsonData block. Returns models.ErrIDNotFound when neither yields a value.
func (c *Client) ResolveCharacterID(ctx context.Context, name string) (int64, error) {
	key := "charid:" + models.NormalizeName(name)
	if cached, ok := c.memo.Get(key); ok {
		return cached.(int64), nil
	}

	body, err := c.fetchCharPage(ctx, name)
	if err != nil {
		return 0, err
	}

	id, err := extractCharacterID(body)
	if err != nil {
		logrus.WithFields(logrus.Fields{
			"name": name,
		}).Warnln("No character id found in page source")
		return 0, err
	}

	c.memo.Set(key, id, gocache.DefaultExpiration)
	return id, nil
}

// fetchCharPage GETs the character page with the bounded rate-limit retry
// policy. Timeouts and non-2xx statuses other than 429 are plain failures.
func (c *Client) fetchCharPage(ctx context.Context, name string) (string, error) {
	var lastErr error

	for attempt := 1; attempt <= c.cfg.MaxRetries; attempt++ {
		resp, err := c.http.R().
			SetContext(ctx).
			SetQueryParam("id", name).
			Get("/CharPage")
		if err != nil {
			return "", fmt.Errorf("character page fetch failed for %s: %w", name, err)
		}

		if resp.StatusCode() == http.StatusTooManyRequests {
			lastErr = fmt.Errorf("rate limited fetching character page for %s", name)
			logrus.WithFields(logrus.Fields{
				"name":    name,
				"attempt": attempt,
				"retries": c.cfg.MaxRetries,
			}).Warnln("Rate limited by character page source, backing off")

			if err := common.Sleep(ctx, c.cfg.RetryDelay*time.Duration(attempt)); err != nil {
				return "", err
			}
			continue
		}

		if !resp.IsSuccess() {
			return "", fmt.Errorf("character page returned status %d for %s",
				resp.StatusCode(), name)
		}

		return resp.String(), nil
	}

	return "", lastErr
}

func extractCharacterID(body string) (int64, error) {
	if match := ccidPattern.FindStringSubmatch(body); match != nil {
		return strconv.ParseInt(match[1], 10, 64)
	}

	if match := jsonDataPattern.FindStringSubmatch(body); match != nil {
		var data struct {
			CharID json.Number `json:"CharID"`
		}
		if err := json.Unmarshal([]byte(match[1]), &data); err == nil {
			if id, err := data.CharID.Int64(); err == nil && id > 0 {
				return id, nil
			}
		}
	}

	return 0, models.ErrIDNotFound
}
