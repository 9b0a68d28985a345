package solvedac

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"mission-recommender/internal/domain"
	"mission-recommender/internal/infra/metrics"
	"mission-recommender/internal/infra/ratelimit"
)

const defaultBaseURL = "https://solved.ac/api/v3"

// Client обращается к поиску задач и профилям пользователей.
type Client struct {
	http    *http.Client
	baseURL string
	limiter ratelimit.Limiter
	class   string
}

var _ domain.ProblemSource = (*Client)(nil)

// NewClient создаёт клиента. Таймаут ограничивает каждый запрос целиком.
func NewClient(baseURL string, timeout time.Duration, limiter ratelimit.Limiter) *Client {
	if baseURL == "" {
		baseURL = defaultBaseURL
	}
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	return &Client{
		http:    &http.Client{Timeout: timeout},
		baseURL: strings.TrimRight(baseURL, "/"),
		limiter: limiter,
		class:   ratelimit.ClassBatch,
	}
}

// WithClass возвращает копию клиента, расходующую бюджет указанного класса.
func (c *Client) WithClass(class string) *Client {
	dup := *c
	dup.class = class
	return &dup
}

type searchResponse struct {
	Count int           `json:"count"`
	Items []problemItem `json:"items"`
}

type problemItem struct {
	ProblemID         int64   `json:"problemId"`
	ID                int64   `json:"id"`
	TitleKo           string  `json:"titleKo"`
	Title             string  `json:"title"`
	Level             int     `json:"level"`
	AcceptedUserCount int     `json:"acceptedUserCount"`
	AverageTries      float64 `json:"averageTries"`
	IsSolvable        *bool   `json:"isSolvable"`
	Tags              []tag   `json:"tags"`
}

// tag принимает и строку, и объект {"key": "..."}.
type tag string

func (t *tag) UnmarshalJSON(data []byte) error {
	var plain string
	if err := json.Unmarshal(data, &plain); err == nil {
		*t = tag(plain)
		return nil
	}
	var obj struct {
		Key string `json:"key"`
	}
	if err := json.Unmarshal(data, &obj); err != nil {
		return err
	}
	*t = tag(obj.Key)
	return nil
}

func (p problemItem) candidate() domain.ProblemCandidate {
	id := p.ProblemID
	if id == 0 {
		id = p.ID
	}
	title := p.TitleKo
	if title == "" {
		title = p.Title
	}
	tags := make([]string, 0, len(p.Tags))
	for _, t := range p.Tags {
		if t != "" {
			tags = append(tags, string(t))
		}
	}
	solvable := true
	if p.IsSolvable != nil {
		solvable = *p.IsSolvable
	}
	return domain.ProblemCandidate{
		ProblemRef: domain.ProblemRef{
			ID:                id,
			Title:             title,
			Level:             p.Level,
			AcceptedUserCount: p.AcceptedUserCount,
			AverageTries:      p.AverageTries,
		},
		Tags:       tags,
		IsSolvable: solvable,
	}
}

// Search ищет задачи по запросу BuildQuery. Порядок выдачи сохраняется.
func (c *Client) Search(ctx context.Context, query domain.ProblemQuery, sort, direction string) ([]domain.ProblemCandidate, error) {
	if sort == "" {
		sort = domain.SortRandom
	}
	if direction == "" {
		direction = domain.DirectionAsc
	}
	raw := "query=" + encodeQuery(BuildQuery(query)) +
		"&sort=" + url.QueryEscape(sort) +
		"&direction=" + url.QueryEscape(direction) +
		"&page=1"

	var resp searchResponse
	if err := c.get(ctx, "search_problem", "/search/problem", raw, &resp); err != nil {
		return nil, err
	}
	out := make([]domain.ProblemCandidate, 0, len(resp.Items))
	for _, item := range resp.Items {
		cand := item.candidate()
		if cand.ID == 0 {
			continue
		}
		out = append(out, cand)
	}
	return out, nil
}

// UserInfo возвращает профиль пользователя или domain.ErrNotFound.
func (c *Client) UserInfo(ctx context.Context, handle string) (domain.UserProfile, error) {
	handle = strings.TrimSpace(handle)
	if handle == "" {
		return domain.UserProfile{}, fmt.Errorf("%w: empty handle", domain.ErrNotFound)
	}
	var resp struct {
		Handle      string `json:"handle"`
		Bio         string `json:"bio"`
		Tier        int    `json:"tier"`
		SolvedCount int    `json:"solvedCount"`
	}
	if err := c.get(ctx, "user_show", "/user/show", "handle="+url.QueryEscape(handle), &resp); err != nil {
		return domain.UserProfile{}, err
	}
	return domain.UserProfile{Handle: resp.Handle, Bio: resp.Bio, Tier: resp.Tier, SolvedCount: resp.SolvedCount}, nil
}

// get выполняет запрос и переводит любые сбои в доменные ошибки без деталей транспорта.
func (c *Client) get(ctx context.Context, operation, path, rawQuery string, out any) error {
	if c.limiter != nil {
		if err := c.limiter.Acquire(ctx, c.class); err != nil {
			if errors.Is(err, domain.ErrRateLimited) {
				return err
			}
			return fmt.Errorf("%w: solvedac %s: limiter: %v", domain.ErrUpstream, operation, err)
		}
	}

	endpoint := c.baseURL + path + "?" + rawQuery
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, endpoint, nil)
	if err != nil {
		return fmt.Errorf("%w: solvedac %s: build request", domain.ErrUpstream, operation)
	}
	req.Header.Set("Accept", "application/json")

	start := time.Now()
	resp, err := c.http.Do(req)
	if err != nil {
		metrics.ObserveNetworkRequest("solvedac", operation, path, start, err)
		return fmt.Errorf("%w: solvedac %s: request failed", domain.ErrUpstream, operation)
	}
	defer resp.Body.Close()

	var statusErr error
	switch {
	case resp.StatusCode == http.StatusNotFound:
		statusErr = fmt.Errorf("%w: solvedac %s", domain.ErrNotFound, operation)
	case resp.StatusCode == http.StatusTooManyRequests:
		metrics.IncRateLimitRejection("upstream")
		statusErr = fmt.Errorf("%w: solvedac %s: status 429", domain.ErrRateLimited, operation)
	case resp.StatusCode < 200 || resp.StatusCode >= 300:
		statusErr = fmt.Errorf("%w: solvedac %s: status %d", domain.ErrUpstream, operation, resp.StatusCode)
	}
	if statusErr != nil {
		_, _ = io.Copy(io.Discard, io.LimitReader(resp.Body, 4096))
		metrics.ObserveNetworkRequest("solvedac", operation, path, start, statusErr)
		return statusErr
	}

	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		metrics.ObserveNetworkRequest("solvedac", operation, path, start, err)
		return fmt.Errorf("%w: solvedac %s: decode response", domain.ErrUpstream, operation)
	}
	metrics.ObserveNetworkRequest("solvedac", operation, path, start, nil)
	return nil
}

// encodeQuery экранирует каждое условие отдельно: «+» остаётся разделителем (пробелом на стороне API).
func encodeQuery(query string) string {
	parts := strings.Split(query, "+")
	for i, part := range parts {
		parts[i] = url.QueryEscape(part)
	}
	return strings.Join(parts, "+")
}
