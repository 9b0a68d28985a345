package httpapi

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"strconv"
	"time"

	chi "github.com/go-chi/chi/v5"
	"github.com/rs/zerolog"

	"mission-recommender/internal/domain"
	httpinfra "mission-recommender/internal/infra/http"
	"mission-recommender/internal/usecase/delivery"
	"mission-recommender/internal/usecase/ranking"
	"mission-recommender/internal/usecase/recommend"
)

// Generator — генерация подборок.
type Generator interface {
	RunGenerationBatch(ctx context.Context) (recommend.BatchSummary, error)
	CreateManual(ctx context.Context, ref domain.GroupRef) (domain.Recommendation, error)
}

// Deliverer — рассылка подборок.
type Deliverer interface {
	RunDeliveryBatch(ctx context.Context) (delivery.DispatchSummary, error)
	DeliverRecommendation(ctx context.Context, id int64) (domain.Recommendation, error)
}

// Leaderboards — рейтинги команды.
type Leaderboards interface {
	MissionLeaderboard(ctx context.Context, teamID int64, period ranking.Period) ([]ranking.Entry, error)
	SolvedLeaderboard(ctx context.Context, teamID int64) ([]ranking.Entry, error)
}

// Profiles — профили пользователей внешнего источника.
type Profiles interface {
	UserInfo(ctx context.Context, handle string) (domain.UserProfile, error)
}

// Handler обслуживает внутренние триггеры и публичные чтения.
type Handler struct {
	generator    Generator
	deliverer    Deliverer
	recs         domain.RecommendationRepo
	leaderboards Leaderboards
	profiles     Profiles
	triggerToken string
	log          zerolog.Logger
}

// NewHandler создаёт обработчик.
func NewHandler(generator Generator, deliverer Deliverer, recs domain.RecommendationRepo, leaderboards Leaderboards, profiles Profiles, triggerToken string, logger zerolog.Logger) *Handler {
	return &Handler{
		generator:    generator,
		deliverer:    deliverer,
		recs:         recs,
		leaderboards: leaderboards,
		profiles:     profiles,
		triggerToken: triggerToken,
		log:          logger,
	}
}

// Register вешает маршруты на роутер.
func (h *Handler) Register(r chi.Router) {
	r.Route("/internal/triggers", func(tr chi.Router) {
		tr.Use(httpinfra.TriggerAuth(h.triggerToken))
		tr.Post("/generate", h.triggerGenerate)
		tr.Post("/deliver", h.triggerDeliver)
	})
	r.Route("/api/v1", func(api chi.Router) {
		api.Get("/recommendations/{id}", h.getRecommendation)
		api.Get("/groups/{kind}/{id}/recommendations", h.listGroupRecommendations)
		api.Post("/groups/{kind}/{id}/recommendations", h.createManual)
		api.Get("/teams/{id}/leaderboard", h.leaderboard)
		api.Get("/handles/{handle}", h.userInfo)
	})
}

// Пакетные запуски не прерываются, если клиент отключился.
func (h *Handler) triggerGenerate(w http.ResponseWriter, r *http.Request) {
	summary, err := h.generator.RunGenerationBatch(context.WithoutCancel(r.Context()))
	if err != nil {
		h.log.Error().Err(err).Msg("api: генерация по триггеру")
		writeError(w, http.StatusInternalServerError, "generation batch failed")
		return
	}
	writeJSON(w, http.StatusOK, summary)
}

func (h *Handler) triggerDeliver(w http.ResponseWriter, r *http.Request) {
	summary, err := h.deliverer.RunDeliveryBatch(context.WithoutCancel(r.Context()))
	if err != nil {
		h.log.Error().Err(err).Msg("api: рассылка по триггеру")
		writeError(w, http.StatusInternalServerError, "delivery batch failed")
		return
	}
	writeJSON(w, http.StatusOK, summary)
}

func (h *Handler) getRecommendation(w http.ResponseWriter, r *http.Request) {
	id, err := strconv.ParseInt(chi.URLParam(r, "id"), 10, 64)
	if err != nil || id <= 0 {
		writeError(w, http.StatusBadRequest, "invalid recommendation id")
		return
	}
	rec, err := h.recs.GetRecommendation(r.Context(), id)
	if err != nil {
		h.fail(w, err, "получение подборки")
		return
	}
	writeJSON(w, http.StatusOK, newRecommendationView(rec))
}

func (h *Handler) listGroupRecommendations(w http.ResponseWriter, r *http.Request) {
	ref, ok := groupRef(w, r)
	if !ok {
		return
	}
	limit := 30
	if raw := r.URL.Query().Get("limit"); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil || n <= 0 || n > 100 {
			writeError(w, http.StatusBadRequest, "limit must be in 1..100")
			return
		}
		limit = n
	}
	recs, err := h.recs.ListGroupRecommendations(r.Context(), ref, limit)
	if err != nil {
		h.fail(w, err, "история подборок")
		return
	}
	views := make([]recommendationView, 0, len(recs))
	for _, rec := range recs {
		views = append(views, newRecommendationView(rec))
	}
	writeJSON(w, http.StatusOK, views)
}

func (h *Handler) createManual(w http.ResponseWriter, r *http.Request) {
	ref, ok := groupRef(w, r)
	if !ok {
		return
	}
	rec, err := h.generator.CreateManual(r.Context(), ref)
	if err != nil {
		h.fail(w, err, "ручная генерация")
		return
	}
	// Подборка уже сохранена: сбой рассылки не отменяет ответ, её подберёт плановая рассылка.
	delivered, err := h.deliverer.DeliverRecommendation(context.WithoutCancel(r.Context()), rec.ID)
	if err != nil {
		h.log.Error().Err(err).Int64("recommendation", rec.ID).Msg("api: рассылка ручной подборки")
	} else {
		rec = delivered
	}
	writeJSON(w, http.StatusCreated, newRecommendationView(rec))
}

func (h *Handler) leaderboard(w http.ResponseWriter, r *http.Request) {
	teamID, err := strconv.ParseInt(chi.URLParam(r, "id"), 10, 64)
	if err != nil || teamID <= 0 {
		writeError(w, http.StatusBadRequest, "invalid team id")
		return
	}
	var entries []ranking.Entry
	switch raw := r.URL.Query().Get("period"); raw {
	case "solved":
		entries, err = h.leaderboards.SolvedLeaderboard(r.Context(), teamID)
	default:
		period, perr := ranking.ParsePeriod(raw)
		if perr != nil {
			writeError(w, http.StatusBadRequest, "period must be today, all or solved")
			return
		}
		entries, err = h.leaderboards.MissionLeaderboard(r.Context(), teamID, period)
	}
	if err != nil {
		h.fail(w, err, "рейтинг")
		return
	}
	writeJSON(w, http.StatusOK, entries)
}

func (h *Handler) userInfo(w http.ResponseWriter, r *http.Request) {
	profile, err := h.profiles.UserInfo(r.Context(), chi.URLParam(r, "handle"))
	if err != nil {
		h.fail(w, err, "профиль")
		return
	}
	writeJSON(w, http.StatusOK, profile)
}

func groupRef(w http.ResponseWriter, r *http.Request) (domain.GroupRef, bool) {
	kind, err := domain.ParseGroupKind(chi.URLParam(r, "kind"))
	if err != nil {
		writeError(w, http.StatusBadRequest, "kind must be team or squad")
		return domain.GroupRef{}, false
	}
	id, err := strconv.ParseInt(chi.URLParam(r, "id"), 10, 64)
	if err != nil || id <= 0 {
		writeError(w, http.StatusBadRequest, "invalid group id")
		return domain.GroupRef{}, false
	}
	return domain.GroupRef{ID: id, Kind: kind}, true
}

// fail переводит доменную ошибку в HTTP-статус.
func (h *Handler) fail(w http.ResponseWriter, err error, op string) {
	switch {
	case errors.Is(err, domain.ErrNotFound):
		writeError(w, http.StatusNotFound, "not found")
	case errors.Is(err, domain.ErrRateLimited):
		writeError(w, http.StatusTooManyRequests, "rate limited, retry later")
	case errors.Is(err, domain.ErrEmptyGroup):
		writeError(w, http.StatusConflict, "group has no members")
	case errors.Is(err, domain.ErrUpstream), errors.Is(err, domain.ErrGenerationFailed):
		h.log.Warn().Err(err).Str("op", op).Msg("api: ошибка внешнего источника")
		writeError(w, http.StatusBadGateway, "upstream unavailable")
	default:
		h.log.Error().Err(err).Str("op", op).Msg("api: внутренняя ошибка")
		writeError(w, http.StatusInternalServerError, "internal error")
	}
}

type problemView struct {
	ID    int64  `json:"id"`
	Title string `json:"title"`
	Level int    `json:"level"`
	Tier  string `json:"tier"`
	URL   string `json:"url"`
}

type recommendationView struct {
	ID            int64         `json:"id"`
	Group         string        `json:"group"`
	Kind          string        `json:"kind"`
	MissionDay    string        `json:"mission_day"`
	State         string        `json:"state"`
	Problems      []problemView `json:"problems"`
	CreatedAt     time.Time     `json:"created_at"`
	SentAt        *time.Time    `json:"sent_at,omitempty"`
	FailureReason string        `json:"failure_reason,omitempty"`
}

func newRecommendationView(rec domain.Recommendation) recommendationView {
	problems := make([]problemView, 0, len(rec.Problems))
	for _, p := range rec.Problems {
		problems = append(problems, problemView{
			ID:    p.ID,
			Title: p.Title,
			Level: p.Level,
			Tier:  domain.TierForLevel(p.Level).Name,
			URL:   p.URL(),
		})
	}
	return recommendationView{
		ID:            rec.ID,
		Group:         rec.Group.String(),
		Kind:          string(rec.Kind),
		MissionDay:    domain.DayKey(rec.MissionDay),
		State:         string(rec.State),
		Problems:      problems,
		CreatedAt:     rec.CreatedAt,
		SentAt:        rec.SentAt,
		FailureReason: rec.FailureReason,
	}
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, map[string]any{"error": msg})
}
