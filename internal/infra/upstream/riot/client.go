// Package riot implements the upstream API client for resolving player
// identities and fetching match data. It is a thin request/response wrapper:
// 429 and 5xx responses are retried here with the server's Retry-After hint,
// while the cross-worker request spacing is enforced by the shared admission
// gate before any call reaches this client.
package riot

import (
	"context"
	"fmt"
	"net/http"
	"strconv"
	"time"

	"github.com/go-resty/resty/v2"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"

	"github.com/Furkan-rgb/loltimeanalysis/internal/domain/matchhistory"
	"github.com/Furkan-rgb/loltimeanalysis/pkg/common"
	"github.com/Furkan-rgb/loltimeanalysis/pkg/common/logger"
)

// MaxPageSize is the upstream's maximum page size for match id listings.
const MaxPageSize = 100

// regionToRoute maps short platform regions to their regional routing value.
var regionToRoute = map[string]string{
	"na":   "americas",
	"br":   "americas",
	"euw":  "europe",
	"eune": "europe",
	"kr":   "asia",
}

// Config contains settings for the upstream client.
type Config struct {
	// APIKey authenticates every request.
	APIKey string
	// Timeout bounds a single HTTP exchange.
	Timeout time.Duration
	// RetryCount is the per-request retry budget for 429/5xx responses.
	RetryCount int
	// LocalRPS smooths this process's outgoing request rate. Zero disables
	// the local limiter.
	LocalRPS float64
	// BaseURL overrides the per-route upstream host. Used in tests.
	BaseURL string
}

// Client talks to the upstream API.
type Client struct {
	http    *resty.Client
	baseURL string
	limiter *common.RateLimiter
	logger  *logger.Logger
	tracer  trace.Tracer
}

// NewClient creates an upstream client with retry and rate smoothing behavior
// configured.
func NewClient(cfg Config, log *logger.Logger, tracer trace.Tracer) *Client {
	if cfg.Timeout <= 0 {
		cfg.Timeout = 15 * time.Second
	}
	if cfg.RetryCount <= 0 {
		cfg.RetryCount = 3
	}

	httpClient := resty.New().
		SetTimeout(cfg.Timeout).
		SetHeader("X-Riot-Token", cfg.APIKey).
		SetRetryCount(cfg.RetryCount).
		SetRetryWaitTime(time.Second).
		SetRetryMaxWaitTime(30 * time.Second).
		AddRetryCondition(func(r *resty.Response, err error) bool {
			if err != nil {
				return true
			}
			return r.StatusCode() == http.StatusTooManyRequests || r.StatusCode() >= http.StatusInternalServerError
		}).
		SetRetryAfter(func(c *resty.Client, r *resty.Response) (time.Duration, error) {
			// Honor the server's Retry-After on 429 before falling back to
			// the client's own backoff.
			if r != nil {
				if secs, err := strconv.Atoi(r.Header().Get("Retry-After")); err == nil && secs > 0 {
					return time.Duration(secs) * time.Second, nil
				}
			}
			return 0, nil
		})

	var limiter *common.RateLimiter
	if cfg.LocalRPS > 0 {
		limiter = common.NewRateLimiter(cfg.LocalRPS, 1)
	}

	return &Client{
		http:    httpClient,
		baseURL: cfg.BaseURL,
		limiter: limiter,
		logger:  log,
		tracer:  tracer,
	}
}

func (c *Client) host(route string) string {
	if c.baseURL != "" {
		return c.baseURL
	}
	return fmt.Sprintf("https://%s.api.riotgames.com", route)
}

func regionalRoute(region string) (string, error) {
	route, ok := regionToRoute[region]
	if !ok {
		// An unsupported region can never resolve, same contract as an
		// unknown player.
		return "", fmt.Errorf("unsupported region %q: %w", region, matchhistory.ErrPlayerNotFound)
	}
	return route, nil
}

func (c *Client) wait(ctx context.Context) error {
	if c.limiter == nil {
		return nil
	}
	return c.limiter.Wait(ctx)
}

type accountResponse struct {
	PUUID string `json:"puuid"`
}

// ResolveIdentity fetches the player's immutable upstream id from their riot
// id. A 404 means the player does not exist in the region: terminal, never
// retried.
func (c *Client) ResolveIdentity(ctx context.Context, gameName, tagLine, region string) (string, error) {
	route, err := regionalRoute(region)
	if err != nil {
		return "", err
	}

	ctx, span := c.tracer.Start(ctx, "riot.resolve_identity",
		trace.WithAttributes(attribute.String("riot.region", region)))
	defer span.End()

	if err := c.wait(ctx); err != nil {
		return "", err
	}

	var account accountResponse
	url := fmt.Sprintf("%s/riot/account/v1/accounts/by-riot-id/%s/%s",
		c.host(route), gameName, tagLine)

	resp, err := c.http.R().
		SetContext(ctx).
		SetResult(&account).
		Get(url)
	if err != nil {
		span.RecordError(err)
		return "", fmt.Errorf("resolving identity for %s#%s: %w", gameName, tagLine, err)
	}

	if resp.StatusCode() == http.StatusNotFound {
		return "", fmt.Errorf("player %s#%s in region %q: %w", gameName, tagLine, region, matchhistory.ErrPlayerNotFound)
	}
	if resp.IsError() {
		return "", fmt.Errorf("resolving identity for %s#%s: upstream status %d", gameName, tagLine, resp.StatusCode())
	}
	if account.PUUID == "" {
		return "", fmt.Errorf("identity response for %s#%s missing puuid: %w", gameName, tagLine, matchhistory.ErrPlayerNotFound)
	}

	return account.PUUID, nil
}

// ListMatchIDs fetches one page of ranked match ids for the player, newest
// first. Pages are capped at MaxPageSize; an empty page means the listing is
// exhausted.
func (c *Client) ListMatchIDs(ctx context.Context, puuid string, count, start int, region string) ([]string, error) {
	route, err := regionalRoute(region)
	if err != nil {
		return nil, err
	}
	if count > MaxPageSize {
		count = MaxPageSize
	}

	ctx, span := c.tracer.Start(ctx, "riot.list_match_ids",
		trace.WithAttributes(
			attribute.String("riot.region", region),
			attribute.Int("riot.page_start", start),
			attribute.Int("riot.page_count", count),
		))
	defer span.End()

	if err := c.wait(ctx); err != nil {
		return nil, err
	}

	var ids []string
	url := fmt.Sprintf("%s/lol/match/v5/matches/by-puuid/%s/ids?queue=420&start=%d&count=%d",
		c.host(route), puuid, start, count)

	resp, err := c.http.R().
		SetContext(ctx).
		SetResult(&ids).
		Get(url)
	if err != nil {
		span.RecordError(err)
		return nil, fmt.Errorf("listing match ids at offset %d: %w", start, err)
	}
	if resp.IsError() {
		return nil, fmt.Errorf("listing match ids at offset %d: upstream status %d", start, resp.StatusCode())
	}

	return ids, nil
}

type matchResponse struct {
	Info struct {
		GameCreation int64 `json:"gameCreation"`
		Participants []struct {
			PUUID        string `json:"puuid"`
			Win          bool   `json:"win"`
			ChampionName string `json:"championName"`
			TeamPosition string `json:"teamPosition"`
		} `json:"participants"`
	} `json:"info"`
}

// FetchMatch fetches one match and extracts the given player's participant
// record. A match where the player does not appear yields (nil, nil): no
// contribution, not an error.
func (c *Client) FetchMatch(ctx context.Context, matchID, puuid, region string) (*matchhistory.MatchRecord, error) {
	route, err := regionalRoute(region)
	if err != nil {
		return nil, err
	}

	ctx, span := c.tracer.Start(ctx, "riot.fetch_match",
		trace.WithAttributes(
			attribute.String("riot.region", region),
			attribute.String("riot.match_id", matchID),
		))
	defer span.End()

	if err := c.wait(ctx); err != nil {
		return nil, err
	}

	var match matchResponse
	url := fmt.Sprintf("%s/lol/match/v5/matches/%s", c.host(route), matchID)

	resp, err := c.http.R().
		SetContext(ctx).
		SetResult(&match).
		Get(url)
	if err != nil {
		span.RecordError(err)
		return nil, fmt.Errorf("fetching match %s: %w", matchID, err)
	}
	if resp.IsError() {
		return nil, fmt.Errorf("fetching match %s: upstream status %d", matchID, resp.StatusCode())
	}

	for _, p := range match.Info.Participants {
		if p.PUUID != puuid {
			continue
		}

		outcome := "Loss"
		if p.Win {
			outcome = "Win"
		}
		return &matchhistory.MatchRecord{
			MatchID:   matchID,
			Timestamp: match.Info.GameCreation,
			Outcome:   outcome,
			Champion:  p.ChampionName,
			Role:      p.TeamPosition,
		}, nil
	}

	c.logger.Warn(ctx, "Player not present in fetched match", "match_id", matchID)
	return nil, nil
}
