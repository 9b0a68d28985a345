package solvedac

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"mission-recommender/internal/domain"
	"mission-recommender/internal/infra/ratelimit"
)

const searchBody = `{"count":3,"items":[
{"problemId":1912,"titleKo":"연속합","level":9,"acceptedUserCount":40000,"averageTries":3.1,"isSolvable":true,"tags":[{"key":"dp"}]},
{"problemId":11053,"titleKo":"가장 긴 증가하는 부분 수열","level":9,"acceptedUserCount":35000,"averageTries":2.6,"isSolvable":true,"tags":["dp"]},
{"problemId":1000,"titleKo":"A+B","level":1,"acceptedUserCount":250000,"averageTries":2.4,"isSolvable":false,"tags":[]}
]}`

func newTestClient(t *testing.T, handler http.HandlerFunc) *Client {
	t.Helper()
	srv := httptest.NewServer(handler)
	t.Cleanup(srv.Close)
	return NewClient(srv.URL, time.Second, nil)
}

func TestSearchBuildsQueryAndKeepsOrder(t *testing.T) {
	var gotQuery, gotSort, gotDirection, gotPath string
	client := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		gotPath = r.URL.Path
		gotQuery = r.URL.Query().Get("query")
		gotSort = r.URL.Query().Get("sort")
		gotDirection = r.URL.Query().Get("direction")
		_, _ = w.Write([]byte(searchBody))
	})

	items, err := client.Search(context.Background(), domain.ProblemQuery{
		Handles: []string{"alice", "bob"},
		Levels:  domain.LevelRange{Min: 5, Max: 1},
		Tags:    []string{"dp"},
	}, domain.SortRandom, domain.DirectionAsc)
	require.NoError(t, err)

	assert.Equal(t, "/search/problem", gotPath)
	assert.Equal(t, "*1..5 s#1000.. lang:ko (tag:dp) !s@alice !s@bob", gotQuery)
	assert.Equal(t, "random", gotSort)
	assert.Equal(t, "asc", gotDirection)

	require.Len(t, items, 3)
	assert.Equal(t, int64(1912), items[0].ID)
	assert.Equal(t, "연속합", items[0].Title)
	assert.Equal(t, []string{"dp"}, items[0].Tags)
	assert.Equal(t, []string{"dp"}, items[1].Tags)
	assert.Equal(t, int64(1000), items[2].ID)
	assert.False(t, items[2].IsSolvable)
	assert.InDelta(t, 3.1, items[0].AverageTries, 1e-9)
}

func TestUserInfo(t *testing.T) {
	client := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/user/show", r.URL.Path)
		assert.Equal(t, "alice", r.URL.Query().Get("handle"))
		_, _ = w.Write([]byte(`{"handle":"alice","bio":"hi","tier":14,"solvedCount":512}`))
	})
	profile, err := client.UserInfo(context.Background(), "alice")
	require.NoError(t, err)
	assert.Equal(t, domain.UserProfile{Handle: "alice", Bio: "hi", Tier: 14, SolvedCount: 512}, profile)
}

func TestErrorTranslation(t *testing.T) {
	tests := []struct {
		name   string
		status int
		body   string
		want   error
	}{
		{name: "не найден", status: http.StatusNotFound, want: domain.ErrNotFound},
		{name: "лимит", status: http.StatusTooManyRequests, want: domain.ErrRateLimited},
		{name: "ошибка сервера", status: http.StatusBadGateway, want: domain.ErrUpstream},
		{name: "битое тело", status: http.StatusOK, body: "{not json", want: domain.ErrUpstream},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			client := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
				w.WriteHeader(tt.status)
				_, _ = w.Write([]byte(tt.body))
			})
			_, err := client.UserInfo(context.Background(), "ghost")
			assert.ErrorIs(t, err, tt.want)
		})
	}
}

func TestTransportErrorDoesNotLeakDetails(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {}))
	url := srv.URL
	srv.Close()

	client := NewClient(url, 200*time.Millisecond, nil)
	_, err := client.Search(context.Background(), domain.ProblemQuery{Handles: []string{"a"}}, "", "")
	require.ErrorIs(t, err, domain.ErrUpstream)
	assert.NotContains(t, err.Error(), "127.0.0.1")
}

func TestTimeoutIsUpstreamError(t *testing.T) {
	client := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		select {
		case <-r.Context().Done():
		case <-time.After(2 * time.Second):
		}
	})
	client.http.Timeout = 50 * time.Millisecond
	_, err := client.UserInfo(context.Background(), "slow")
	assert.ErrorIs(t, err, domain.ErrUpstream)
}

func TestLimiterRejectsBeforeRequest(t *testing.T) {
	calls := 0
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls++
		_, _ = w.Write([]byte(`{"handle":"a"}`))
	}))
	t.Cleanup(srv.Close)

	limiter := ratelimit.NewLocal(ratelimit.Budget{RPS: 0.001, Burst: 1}, nil, 0)
	client := NewClient(srv.URL, time.Second, limiter)

	_, err := client.UserInfo(context.Background(), "a")
	require.NoError(t, err)
	_, err = client.UserInfo(context.Background(), "a")
	assert.ErrorIs(t, err, domain.ErrRateLimited)
	assert.Equal(t, 1, calls)

	_, err = client.WithClass(ratelimit.ClassAPI).UserInfo(context.Background(), "a")
	assert.NoError(t, err)
}
