package http

import (
	"context"
	"errors"
	"net/http"
	"strconv"

	"github.com/shopspring/decimal"
	"golang.org/x/sync/errgroup"

	"savebuddy/internal/challenge"
	"savebuddy/internal/core"
	"savebuddy/internal/log"
	"savebuddy/internal/records"
)

type kindSummary struct {
	Total  core.Won        `json:"total"`
	Today  core.RecordInfo `json:"today"`
	Month  core.RecordInfo `json:"month"`
	Latest []core.Record   `json:"latest"`
}

type homePage struct {
	User            core.User        `json:"user"`
	MonthlyProgress decimal.Decimal  `json:"monthlyProgress"`
	Streak          int              `json:"streak"`
	Savings         kindSummary      `json:"savings"`
	Expense         kindSummary      `json:"expense"`
	Recommended     []core.Challenge `json:"recommended"`
}

// fetchBoth reloads both record lists concurrently. Failures keep the
// previous lists and are logged by the stores.
func (s *Server) fetchBoth(ctx context.Context) {
	var g errgroup.Group
	for _, st := range []*records.Store{s.deps.Savings, s.deps.Expenses} {
		g.Go(func() error {
			st.FetchAll(ctx)
			return nil
		})
	}
	_ = g.Wait()
}

func (s *Server) summarize(st *records.Store) kindSummary {
	now := s.now()
	return kindSummary{
		Total:  st.Total(),
		Today:  brief(st.Today(now)),
		Month:  brief(st.Month(now)),
		Latest: st.Latest(5),
	}
}

func (s *Server) handleHome(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	s.fetchBoth(ctx)

	user := s.currentUser()
	page := homePage{
		User:    user,
		Streak:  core.Streak(s.deps.Savings.Records(), s.now()),
		Savings: s.summarize(s.deps.Savings),
		Expense: s.summarize(s.deps.Expenses),
	}
	page.MonthlyProgress = core.Progress(page.Savings.Month.TotalAmount, user.MonthlyTarget)

	recommended, err := s.deps.Catalog.Recommend(ctx, user.TotalSavings)
	if err != nil {
		log.FromContext(ctx).WarnContext(ctx, "Failed to load recommended challenges", log.FieldError, err)
	}
	page.Recommended = recommended

	NewResponse().JSON(page).Write(w, r)
}

type recordPage struct {
	Categories []categoryOption `json:"categories"`
	Presets    []core.Preset    `json:"presets"`
	Kinds      []kindOption     `json:"kinds"`
}

type categoryOption struct {
	Name core.Category `json:"name"`
	Icon string        `json:"icon"`
}

type kindOption struct {
	Kind  core.RecordKind `json:"kind"`
	Label string          `json:"label"`
}

// handleRecordPage serves what the record form offers.
func (s *Server) handleRecordPage(w http.ResponseWriter, r *http.Request) {
	page := recordPage{Presets: core.Presets()}
	for _, c := range core.Categories() {
		page.Categories = append(page.Categories, categoryOption{Name: c, Icon: c.Icon()})
	}
	for _, k := range []core.RecordKind{core.Savings, core.Expense} {
		page.Kinds = append(page.Kinds, kindOption{Kind: k, Label: k.Label()})
	}
	NewResponse().JSON(page).Write(w, r)
}

type listPage struct {
	Kind    core.RecordKind `json:"kind"`
	Records []core.Record   `json:"records"`
	Total   core.Won        `json:"total"`
	Count   int             `json:"count"`
	Error   string          `json:"error,omitempty"`
}

// handleListRecords lists one kind of record, optionally one category.
func (s *Server) handleListRecords(w http.ResponseWriter, r *http.Request) {
	kind, ok := ParseKind(r.PathValue("kind"))
	if !ok {
		NotFoundError("알 수 없는 기록 종류입니다.").Write(w, r)
		return
	}
	st := s.store(kind)
	list := st.FetchAll(r.Context())

	if c := core.Category(sanitizeInput(r.URL.Query().Get("category"))); c != "" {
		if !c.Valid() {
			BadRequestError("카테고리를 선택해주세요.").Write(w, r)
			return
		}
		list = core.InCategory(list, c)
	}
	list = core.Latest(list, ParseLimit(r.URL.Query(), len(list), len(list)))

	NewResponse().JSON(listPage{
		Kind:    kind,
		Records: list,
		Total:   core.Sum(list),
		Count:   len(list),
		Error:   st.LastError(),
	}).Write(w, r)
}

type statsPage struct {
	Kind       core.RecordKind     `json:"kind"`
	Total      core.Won            `json:"total"`
	Today      core.RecordInfo     `json:"today"`
	Month      core.RecordInfo     `json:"month"`
	Week       []core.DailyAmount  `json:"week"`
	Categories []core.CategoryStat `json:"categories"`
	Server     records.Summary     `json:"server"`
}

func (s *Server) handleStats(w http.ResponseWriter, r *http.Request) {
	kind, ok := ParseKind(r.PathValue("kind"))
	if !ok {
		NotFoundError("알 수 없는 기록 종류입니다.").Write(w, r)
		return
	}
	st := s.store(kind)
	st.FetchAll(r.Context())
	if r.URL.Query().Has("refresh") {
		st.Refresh(r.Context())
	}

	now := s.now()
	NewResponse().JSON(statsPage{
		Kind:       kind,
		Total:      st.Total(),
		Today:      brief(st.Today(now)),
		Month:      brief(st.Month(now)),
		Week:       st.Week(now),
		Categories: st.CategoryStats(),
		Server:     st.ServerSummary(),
	}).Write(w, r)
}

// challengeDetail adds whether a completion is being saved right now.
type challengeDetail struct {
	challenge.Status
	Saving bool `json:"saving"`
}

type challengesPage struct {
	Challenges  []challenge.Status      `json:"challenges"`
	Completions []core.CompletionRecord `json:"completions"`
}

// handleChallenges reports progress on every challenge, or on those of one
// duration in days.
func (s *Server) handleChallenges(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	user := s.currentUser()
	now := s.now()
	if r.URL.Query().Has("refresh") {
		s.deps.Catalog.Invalidate()
	}

	statuses, err := s.deps.Evaluator.Progress(ctx, user.ID, s.deps.Savings.Records(), now)
	if err != nil {
		log.FromContext(ctx).ErrorContext(ctx, "Failed to load challenges", log.FieldError, err)
		BadGatewayError("챌린지를 불러오지 못했습니다.").Write(w, r)
		return
	}

	if v := r.URL.Query().Get("duration"); v != "" {
		days, err := strconv.Atoi(v)
		if err != nil || days <= 0 {
			BadRequestError("기간이 올바르지 않습니다.").Write(w, r)
			return
		}
		subset, err := s.deps.Catalog.ByDuration(ctx, days)
		if err != nil {
			log.FromContext(ctx).ErrorContext(ctx, "Failed to load challenges by duration", log.FieldError, err)
			BadGatewayError("챌린지를 불러오지 못했습니다.").Write(w, r)
			return
		}
		statuses = onlyChallenges(statuses, subset)
	}

	completions, err := s.deps.Ledger.ListCompletions(ctx, user.ID, now)
	if err != nil {
		log.FromContext(ctx).WarnContext(ctx, "Failed to list completions", log.FieldError, err)
	}
	NewResponse().JSON(challengesPage{Challenges: statuses, Completions: completions}).Write(w, r)
}

func onlyChallenges(statuses []challenge.Status, keep []core.Challenge) []challenge.Status {
	ids := make(map[string]bool, len(keep))
	for _, c := range keep {
		ids[c.ID] = true
	}
	out := statuses[:0:0]
	for _, st := range statuses {
		if ids[st.Challenge.ID] {
			out = append(out, st)
		}
	}
	return out
}

func (s *Server) handleChallenge(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	ch, err := s.deps.Catalog.Get(ctx, r.PathValue("id"))
	if errors.Is(err, challenge.ErrUnknownChallenge) {
		NotFoundError("챌린지를 찾을 수 없습니다.").Write(w, r)
		return
	}
	if err != nil {
		log.FromContext(ctx).ErrorContext(ctx, "Failed to load challenge", log.FieldError, err)
		storeFailure(err, "챌린지를 불러오지 못했습니다.").Write(w, r)
		return
	}

	user := s.currentUser()
	now := s.now()
	value, threshold := challenge.Metric(ch, s.deps.Savings.Records(), now)
	done, err := s.deps.Ledger.IsCompleted(ctx, user.ID, ch.ID, ch.Period, now)
	if err != nil {
		log.FromContext(ctx).WarnContext(ctx, "Failed to read completion ledger", log.FieldChallengeID, ch.ID, log.FieldError, err)
	}
	NewResponse().JSON(challengeDetail{
		Status: challenge.Status{
			Challenge: ch,
			Icon:      ch.DisplayIcon(),
			Label:     ch.Period.Label(),
			Current:   value,
			Target:    threshold,
			Percent:   core.Progress(core.Won(value), core.Won(threshold)),
			Completed: done,
		},
		Saving: s.deps.Ledger.InFlight(user.ID, ch.ID, ch.Period),
	}).Write(w, r)
}

type evaluation struct {
	Completed []string `json:"completed"`
}

func (s *Server) handleEvaluate(w http.ResponseWriter, r *http.Request) {
	completed, err := s.evaluate(r.Context())
	if err != nil {
		BadGatewayError("챌린지 확인에 실패했습니다.").Write(w, r)
		return
	}
	NewResponse().JSON(evaluation{Completed: completed}).Write(w, r)
}

// evaluate runs the challenge evaluator over the savings records.
func (s *Server) evaluate(ctx context.Context) ([]string, error) {
	user := s.currentUser()
	completed, err := s.deps.Evaluator.Evaluate(ctx, user.ID, s.deps.Savings.Records(), s.now())
	if err != nil {
		log.FromContext(ctx).ErrorContext(ctx, "Challenge evaluation failed",
			log.FieldOperation, log.OpEvaluate, log.FieldError, err)
		return nil, err
	}
	if completed == nil {
		completed = []string{}
	}
	return completed, nil
}
