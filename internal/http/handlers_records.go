package http

import (
	"errors"
	"net/http"
	"strconv"

	"savebuddy/internal/core"
	"savebuddy/internal/log"
)

type createdRecord struct {
	Record    core.Record `json:"record"`
	Completed []string    `json:"completed"`
}

// handleCreateRecord stores a record and, for savings, evaluates the
// challenges against the updated list.
func (s *Server) handleCreateRecord(w http.ResponseWriter, r *http.Request) {
	kind, ok := ParseKind(r.PathValue("kind"))
	if !ok {
		NotFoundError("알 수 없는 기록 종류입니다.").Write(w, r)
		return
	}
	ctx := r.Context()
	user := s.currentUser()

	in, err := ParseRecordInput(NewRequestBodyParser(r), user.ID)
	if errors.Is(err, ErrMalformedBody) {
		BadRequestError("잘못된 요청 형식입니다.").Write(w, r)
		return
	}
	if err != nil {
		UnprocessableEntityError("금액은 0보다 커야 합니다.").Write(w, r)
		return
	}

	st := s.store(kind)
	rec, err := st.Create(ctx, in)
	if err != nil {
		storeFailure(err, st.LastError()).Write(w, r)
		return
	}

	resp := createdRecord{Record: rec, Completed: []string{}}
	if kind == core.Savings {
		// A failed evaluation does not undo the record; the next pass retries.
		if completed, err := s.evaluate(ctx); err == nil {
			resp.Completed = completed
		}
	}
	NewResponse().Status(http.StatusCreated).JSON(resp).Write(w, r)
}

// handleDeleteRecord removes a record. When the server refuses, the list is
// re-fetched so the local state matches it again.
func (s *Server) handleDeleteRecord(w http.ResponseWriter, r *http.Request) {
	kind, ok := ParseKind(r.PathValue("kind"))
	if !ok {
		NotFoundError("알 수 없는 기록 종류입니다.").Write(w, r)
		return
	}
	id, err := strconv.ParseInt(r.PathValue("id"), 10, 64)
	if err != nil || id <= 0 {
		BadRequestError("잘못된 기록 번호입니다.").Write(w, r)
		return
	}

	ctx := r.Context()
	st := s.store(kind)
	if err := st.Delete(ctx, id, s.currentUser().ID); err != nil {
		log.FromContext(ctx).WarnContext(ctx, "Delete failed, reloading records",
			log.FieldRecordKind, kind, log.FieldRecordID, id)
		msg := st.LastError()
		st.FetchAll(ctx)
		storeFailure(err, msg).Write(w, r)
		return
	}
	NewResponse().Status(http.StatusNoContent).Write(w, r)
}
