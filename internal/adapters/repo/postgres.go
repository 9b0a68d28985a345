package repo

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"

	"mission-recommender/internal/domain"
	"mission-recommender/internal/infra/metrics"
)

// Postgres реализует репозитории на основе pgxpool.
type Postgres struct {
	pool *pgxpool.Pool
}

var (
	_ domain.GroupRepo          = (*Postgres)(nil)
	_ domain.RecommendationRepo = (*Postgres)(nil)
	_ domain.SolveRepo          = (*Postgres)(nil)
)

const uniqueViolation = "23505"

// NewPostgres создаёт адаптер БД.
func NewPostgres(pool *pgxpool.Pool) *Postgres {
	return &Postgres{pool: pool}
}

func (p *Postgres) connCtx(ctx context.Context) (context.Context, context.CancelFunc) {
	if ctx == nil {
		ctx = context.Background()
	}
	if _, ok := ctx.Deadline(); ok {
		return ctx, func() {}
	}
	return context.WithTimeout(ctx, 5*time.Second)
}

func isUniqueViolation(err error) bool {
	var pgErr *pgconn.PgError
	return errors.As(err, &pgErr) && pgErr.Code == uniqueViolation
}

// ListActiveGroups возвращает активные команды и отряды.
func (p *Postgres) ListActiveGroups(ctx context.Context) ([]domain.Group, error) {
	ctx, cancel := p.connCtx(ctx)
	defer cancel()

	start := time.Now()
	rows, err := p.pool.Query(ctx, `
SELECT id, kind, team_id, name, min_level, max_level, tag_keys, problem_count, active
FROM mission_groups
WHERE active
ORDER BY kind, id
`)
	metrics.ObserveNetworkRequest("postgres", "groups_list_active", "mission_groups", start, err)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var groups []domain.Group
	for rows.Next() {
		g, err := scanGroup(rows)
		if err != nil {
			return nil, err
		}
		groups = append(groups, g)
	}
	return groups, rows.Err()
}

// GetGroup возвращает группу или domain.ErrNotFound.
func (p *Postgres) GetGroup(ctx context.Context, ref domain.GroupRef) (domain.Group, error) {
	ctx, cancel := p.connCtx(ctx)
	defer cancel()

	start := time.Now()
	g, err := scanGroup(p.pool.QueryRow(ctx, `
SELECT id, kind, team_id, name, min_level, max_level, tag_keys, problem_count, active
FROM mission_groups
WHERE kind=$1 AND id=$2
`, string(ref.Kind), ref.ID))
	metrics.ObserveNetworkRequest("postgres", "groups_get", "mission_groups", start, err)
	if errors.Is(err, pgx.ErrNoRows) {
		return domain.Group{}, fmt.Errorf("группа %s: %w", ref, domain.ErrNotFound)
	}
	return g, err
}

func scanGroup(row pgx.Row) (domain.Group, error) {
	var (
		g    domain.Group
		kind string
	)
	if err := row.Scan(&g.Ref.ID, &kind, &g.TeamID, &g.Name, &g.Levels.Min, &g.Levels.Max, &g.TagKeys, &g.ProblemCount, &g.Active); err != nil {
		return domain.Group{}, err
	}
	g.Ref.Kind = domain.GroupKind(kind)
	return g, nil
}

// ListGroupMembers возвращает текущий состав группы.
func (p *Postgres) ListGroupMembers(ctx context.Context, ref domain.GroupRef) ([]domain.Member, error) {
	ctx, cancel := p.connCtx(ctx)
	defer cancel()

	start := time.Now()
	rows, err := p.pool.Query(ctx, `
SELECT u.id, u.handle, COALESCE(u.email, '')
FROM mission_group_members m JOIN users u ON u.id = m.user_id
WHERE m.group_kind=$1 AND m.group_id=$2
ORDER BY u.id
`, string(ref.Kind), ref.ID)
	metrics.ObserveNetworkRequest("postgres", "group_members_list", "mission_group_members", start, err)
	if err != nil {
		return nil, err
	}
	return collectMembers(rows)
}

func collectMembers(rows pgx.Rows) ([]domain.Member, error) {
	defer rows.Close()
	var members []domain.Member
	for rows.Next() {
		var m domain.Member
		if err := rows.Scan(&m.UserID, &m.Handle, &m.Email); err != nil {
			return nil, err
		}
		members = append(members, m)
	}
	return members, rows.Err()
}

const recommendationColumns = `id, group_kind, group_id, kind, mission_day, state, created_at, sent_at, COALESCE(failure_reason, '')`

func scanRecommendation(row pgx.Row) (domain.Recommendation, error) {
	var (
		rec                    domain.Recommendation
		groupKind, kind, state string
	)
	if err := row.Scan(&rec.ID, &groupKind, &rec.Group.ID, &kind, &rec.MissionDay, &state, &rec.CreatedAt, &rec.SentAt, &rec.FailureReason); err != nil {
		return domain.Recommendation{}, err
	}
	rec.Group.Kind = domain.GroupKind(groupKind)
	rec.Kind = domain.GenerationKind(kind)
	parsed, err := domain.ParseDeliveryState(state)
	if err != nil {
		return domain.Recommendation{}, err
	}
	rec.State = parsed
	return rec, nil
}

// FindScheduled возвращает плановую подборку группы за день.
func (p *Postgres) FindScheduled(ctx context.Context, ref domain.GroupRef, day time.Time) (domain.Recommendation, error) {
	ctx, cancel := p.connCtx(ctx)
	defer cancel()

	start := time.Now()
	rec, err := scanRecommendation(p.pool.QueryRow(ctx, `
SELECT `+recommendationColumns+`
FROM recommendations
WHERE group_kind=$1 AND group_id=$2 AND mission_day=$3::date AND kind='scheduled' AND deleted_at IS NULL
`, string(ref.Kind), ref.ID, domain.DayKey(day)))
	metrics.ObserveNetworkRequest("postgres", "recommendations_find_scheduled", "recommendations", start, err)
	if errors.Is(err, pgx.ErrNoRows) {
		return domain.Recommendation{}, domain.ErrNotFound
	}
	if err != nil {
		return domain.Recommendation{}, err
	}
	if err := p.attachProblems(ctx, []*domain.Recommendation{&rec}); err != nil {
		return domain.Recommendation{}, err
	}
	return rec, nil
}

// CreateRecommendation сохраняет подборку, задачи по порядку и снимок получателей в одной транзакции.
// Для плановой подборки конфликт уникальности (group, day) возвращает уже существующую запись.
func (p *Postgres) CreateRecommendation(ctx context.Context, draft domain.RecommendationDraft) (domain.Recommendation, error) {
	ctx, cancel := p.connCtx(ctx)
	defer cancel()

	if draft.CreatedAt.IsZero() {
		draft.CreatedAt = time.Now().UTC()
	}

	start := time.Now()
	tx, err := p.pool.BeginTx(ctx, pgx.TxOptions{})
	metrics.ObserveNetworkRequest("postgres", "begin_tx", "recommendations", start, err)
	if err != nil {
		return domain.Recommendation{}, err
	}
	defer func() { _ = tx.Rollback(ctx) }()

	start = time.Now()
	rec, err := scanRecommendation(tx.QueryRow(ctx, `
INSERT INTO recommendations (group_kind, group_id, kind, mission_day, state, created_at)
VALUES ($1, $2, $3, $4::date, 'pending', $5)
ON CONFLICT (group_kind, group_id, mission_day) WHERE kind = 'scheduled' AND deleted_at IS NULL DO NOTHING
RETURNING `+recommendationColumns,
		string(draft.Group.Kind), draft.Group.ID, string(draft.Kind), domain.DayKey(draft.MissionDay), draft.CreatedAt))
	metrics.ObserveNetworkRequest("postgres", "recommendations_insert", "recommendations", start, err)
	if errors.Is(err, pgx.ErrNoRows) || isUniqueViolation(err) {
		_ = tx.Rollback(ctx)
		existing, findErr := p.FindScheduled(ctx, draft.Group, draft.MissionDay)
		if findErr != nil {
			return domain.Recommendation{}, fmt.Errorf("чтение существующей подборки: %w", findErr)
		}
		return existing, domain.ErrAlreadyGenerated
	}
	if err != nil {
		return domain.Recommendation{}, err
	}

	batch := &pgx.Batch{}
	for idx, problem := range draft.Problems {
		batch.Queue(`
INSERT INTO recommendation_problems (recommendation_id, position, problem_id, title, level, accepted_user_count, average_tries)
VALUES ($1, $2, $3, $4, $5, $6, $7)
`, rec.ID, idx+1, problem.ID, problem.Title, problem.Level, problem.AcceptedUserCount, problem.AverageTries)
	}
	for _, member := range draft.Recipients {
		batch.Queue(`
INSERT INTO recommendation_recipients (recommendation_id, user_id, handle, email)
VALUES ($1, $2, $3, NULLIF($4, ''))
ON CONFLICT DO NOTHING
`, rec.ID, member.UserID, member.Handle, member.Email)
	}
	start = time.Now()
	br := tx.SendBatch(ctx, batch)
	for i := 0; i < batch.Len(); i++ {
		if _, err := br.Exec(); err != nil {
			_ = br.Close()
			metrics.ObserveNetworkRequest("postgres", "recommendation_children_insert", "recommendation_problems", start, err)
			return domain.Recommendation{}, err
		}
	}
	err = br.Close()
	metrics.ObserveNetworkRequest("postgres", "recommendation_children_insert", "recommendation_problems", start, err)
	if err != nil {
		return domain.Recommendation{}, err
	}

	start = time.Now()
	err = tx.Commit(ctx)
	metrics.ObserveNetworkRequest("postgres", "commit", "recommendations", start, err)
	if err != nil {
		if isUniqueViolation(err) {
			existing, findErr := p.FindScheduled(ctx, draft.Group, draft.MissionDay)
			if findErr != nil {
				return domain.Recommendation{}, fmt.Errorf("чтение существующей подборки: %w", findErr)
			}
			return existing, domain.ErrAlreadyGenerated
		}
		return domain.Recommendation{}, err
	}

	rec.Problems = append([]domain.ProblemRef(nil), draft.Problems...)
	return rec, nil
}

// GetRecommendation возвращает подборку с задачами в исходном порядке.
func (p *Postgres) GetRecommendation(ctx context.Context, id int64) (domain.Recommendation, error) {
	ctx, cancel := p.connCtx(ctx)
	defer cancel()

	start := time.Now()
	rec, err := scanRecommendation(p.pool.QueryRow(ctx, `
SELECT `+recommendationColumns+` FROM recommendations WHERE id=$1 AND deleted_at IS NULL
`, id))
	metrics.ObserveNetworkRequest("postgres", "recommendations_get", "recommendations", start, err)
	if errors.Is(err, pgx.ErrNoRows) {
		return domain.Recommendation{}, domain.ErrNotFound
	}
	if err != nil {
		return domain.Recommendation{}, err
	}
	if err := p.attachProblems(ctx, []*domain.Recommendation{&rec}); err != nil {
		return domain.Recommendation{}, err
	}
	return rec, nil
}

// ListGroupRecommendations возвращает историю подборок группы, новые первыми.
func (p *Postgres) ListGroupRecommendations(ctx context.Context, ref domain.GroupRef, limit int) ([]domain.Recommendation, error) {
	if limit <= 0 || limit > 100 {
		limit = 30
	}
	return p.listRecommendations(ctx, "recommendations_list_group", `
SELECT `+recommendationColumns+`
FROM recommendations
WHERE group_kind=$1 AND group_id=$2 AND deleted_at IS NULL
ORDER BY mission_day DESC, id DESC
LIMIT $3
`, string(ref.Kind), ref.ID, limit)
}

// ListByState возвращает подборки в указанном состоянии.
func (p *Postgres) ListByState(ctx context.Context, state domain.DeliveryState) ([]domain.Recommendation, error) {
	return p.listRecommendations(ctx, "recommendations_list_state", `
SELECT `+recommendationColumns+`
FROM recommendations
WHERE state=$1 AND deleted_at IS NULL
ORDER BY id
`, string(state))
}

func (p *Postgres) listRecommendations(ctx context.Context, operation, sql string, args ...any) ([]domain.Recommendation, error) {
	ctx, cancel := p.connCtx(ctx)
	defer cancel()

	start := time.Now()
	rows, err := p.pool.Query(ctx, sql, args...)
	metrics.ObserveNetworkRequest("postgres", operation, "recommendations", start, err)
	if err != nil {
		return nil, err
	}
	var recs []domain.Recommendation
	for rows.Next() {
		rec, err := scanRecommendation(rows)
		if err != nil {
			rows.Close()
			return nil, err
		}
		recs = append(recs, rec)
	}
	rows.Close()
	if err := rows.Err(); err != nil {
		return nil, err
	}
	ptrs := make([]*domain.Recommendation, len(recs))
	for i := range recs {
		ptrs[i] = &recs[i]
	}
	if err := p.attachProblems(ctx, ptrs); err != nil {
		return nil, err
	}
	return recs, nil
}

// attachProblems дочитывает задачи, упорядоченные по position.
func (p *Postgres) attachProblems(ctx context.Context, recs []*domain.Recommendation) error {
	if len(recs) == 0 {
		return nil
	}
	ids := make([]int64, 0, len(recs))
	byID := make(map[int64]*domain.Recommendation, len(recs))
	for _, rec := range recs {
		ids = append(ids, rec.ID)
		byID[rec.ID] = rec
		rec.Problems = nil
	}

	start := time.Now()
	rows, err := p.pool.Query(ctx, `
SELECT recommendation_id, problem_id, title, level, accepted_user_count, average_tries
FROM recommendation_problems
WHERE recommendation_id = ANY($1)
ORDER BY recommendation_id, position
`, ids)
	metrics.ObserveNetworkRequest("postgres", "recommendation_problems_list", "recommendation_problems", start, err)
	if err != nil {
		return err
	}
	defer rows.Close()
	for rows.Next() {
		var (
			recID   int64
			problem domain.ProblemRef
		)
		if err := rows.Scan(&recID, &problem.ID, &problem.Title, &problem.Level, &problem.AcceptedUserCount, &problem.AverageTries); err != nil {
			return err
		}
		if rec, ok := byID[recID]; ok {
			rec.Problems = append(rec.Problems, problem)
		}
	}
	return rows.Err()
}

// ListRecipients возвращает снимок получателей подборки.
func (p *Postgres) ListRecipients(ctx context.Context, recommendationID int64) ([]domain.Member, error) {
	ctx, cancel := p.connCtx(ctx)
	defer cancel()

	start := time.Now()
	rows, err := p.pool.Query(ctx, `
SELECT user_id, handle, COALESCE(email, '')
FROM recommendation_recipients
WHERE recommendation_id=$1
ORDER BY user_id
`, recommendationID)
	metrics.ObserveNetworkRequest("postgres", "recommendation_recipients_list", "recommendation_recipients", start, err)
	if err != nil {
		return nil, err
	}
	return collectMembers(rows)
}

// TransitionState обновляет состояние, только если текущее совпадает с from.
// Конкурентные писатели сериализуются условием в WHERE.
func (p *Postgres) TransitionState(ctx context.Context, id int64, from, to domain.DeliveryState, at time.Time, reason string) error {
	if !from.CanTransition(to) {
		return fmt.Errorf("%w: %s -> %s", domain.ErrInvalidTransition, from, to)
	}
	ctx, cancel := p.connCtx(ctx)
	defer cancel()

	start := time.Now()
	tag, err := p.pool.Exec(ctx, `
UPDATE recommendations
SET state = $3::text,
    sent_at = CASE WHEN $3::text = 'sent' THEN $4::timestamptz ELSE sent_at END,
    failure_reason = CASE WHEN $3::text = 'failed' THEN NULLIF($5::text, '') ELSE failure_reason END
WHERE id = $1 AND state = $2::text
`, id, string(from), string(to), at.UTC(), strings.TrimSpace(reason))
	metrics.ObserveNetworkRequest("postgres", "recommendations_transition", "recommendations", start, err)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("%w: подборка %d не в состоянии %s", domain.ErrInvalidTransition, id, from)
	}
	return nil
}

// RecordDeliveryAttempts сохраняет итоги отправки для аудита.
func (p *Postgres) RecordDeliveryAttempts(ctx context.Context, recommendationID int64, attempts []domain.DeliveryAttempt) error {
	if len(attempts) == 0 {
		return nil
	}
	ctx, cancel := p.connCtx(ctx)
	defer cancel()

	batch := &pgx.Batch{}
	for _, a := range attempts {
		batch.Queue(`
INSERT INTO delivery_attempts (recommendation_id, user_id, attempts, success, reason, attempted_at)
VALUES ($1, $2, $3, $4, NULLIF($5, ''), $6)
`, recommendationID, a.UserID, a.Attempts, a.Success, a.Reason, a.AttemptedAt)
	}
	start := time.Now()
	br := p.pool.SendBatch(ctx, batch)
	defer br.Close()
	for range attempts {
		if _, err := br.Exec(); err != nil {
			metrics.ObserveNetworkRequest("postgres", "delivery_attempts_insert", "delivery_attempts", start, err)
			return err
		}
	}
	metrics.ObserveNetworkRequest("postgres", "delivery_attempts_insert", "delivery_attempts", start, nil)
	return nil
}

// CountMissionSolves считает решённые участниками команды задачи из её подборок.
func (p *Postgres) CountMissionSolves(ctx context.Context, teamID int64, since time.Time) (map[int64]int, error) {
	ctx, cancel := p.connCtx(ctx)
	defer cancel()

	var sinceArg *time.Time
	if !since.IsZero() {
		s := since.UTC()
		sinceArg = &s
	}

	start := time.Now()
	rows, err := p.pool.Query(ctx, `
SELECT s.user_id, COUNT(DISTINCT s.problem_id)
FROM member_solves s
JOIN mission_group_members m ON m.user_id = s.user_id AND m.group_kind = 'team' AND m.group_id = $1
WHERE s.problem_id IN (
    SELECT rp.problem_id
    FROM recommendation_problems rp
    JOIN recommendations r ON r.id = rp.recommendation_id AND r.deleted_at IS NULL
    JOIN mission_groups g ON g.kind = r.group_kind AND g.id = r.group_id
    WHERE g.team_id = $1
)
AND ($2::timestamptz IS NULL OR s.solved_at >= $2::timestamptz)
GROUP BY s.user_id
`, teamID, sinceArg)
	metrics.ObserveNetworkRequest("postgres", "member_solves_count", "member_solves", start, err)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	counts := make(map[int64]int)
	for rows.Next() {
		var (
			userID int64
			count  int
		)
		if err := rows.Scan(&userID, &count); err != nil {
			return nil, err
		}
		counts[userID] = count
	}
	return counts, rows.Err()
}
