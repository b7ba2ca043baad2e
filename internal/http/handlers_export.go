package http

import (
	"errors"
	"net/http"
	"net/url"
	"strconv"

	"savebuddy/internal/core"
	"savebuddy/internal/export"
	"savebuddy/internal/log"
)

const xlsxContentType = "application/vnd.openxmlformats-officedocument.spreadsheetml.sheet"

// buildExport reads kind and scope from the request and builds the sheet
// over a freshly fetched record list.
func (s *Server) buildExport(r *http.Request) (export.Sheet, *ResponseBuilder) {
	kind, ok := ParseKind(r.PathValue("kind"))
	if !ok {
		return export.Sheet{}, NotFoundError("알 수 없는 기록 종류입니다.")
	}
	now := s.now()
	scope, err := ParseExportScope(r.URL.Query(), now.Location())
	if err != nil {
		return export.Sheet{}, BadRequestError("내보내기 범위가 올바르지 않습니다.")
	}

	list := s.store(kind).FetchAll(r.Context())
	sheet, err := export.Build(kind, list, scope, now)
	if errors.Is(err, export.ErrInvalidScope) {
		return export.Sheet{}, BadRequestError("내보내기 범위가 올바르지 않습니다.")
	}
	if err != nil {
		return export.Sheet{}, InternalServerError("엑셀 파일 생성에 실패했습니다.")
	}
	return sheet, nil
}

// handleExport downloads the records as an XLSX workbook.
func (s *Server) handleExport(w http.ResponseWriter, r *http.Request) {
	sheet, fail := s.buildExport(r)
	if fail != nil {
		fail.Write(w, r)
		return
	}

	w.Header().Set("Content-Type", xlsxContentType)
	w.Header().Set("Content-Disposition", "attachment; filename*=UTF-8''"+url.PathEscape(sheet.Filename))
	w.Header().Set("X-Record-Count", strconv.Itoa(sheet.Count))
	if err := export.WriteXLSX(w, sheet); err != nil {
		// Headers are gone by now; the client sees a truncated file.
		log.FromContext(r.Context()).ErrorContext(r.Context(), "Failed to write workbook",
			log.FieldOperation, log.OpExport, log.FieldError, err)
		return
	}
	log.FromContext(r.Context()).InfoContext(r.Context(), "Records exported",
		log.FieldOperation, log.OpExport, "file", sheet.Filename, "rows", sheet.Count)
}

type sheetsResult struct {
	Range    string   `json:"range"`
	Count    int      `json:"count"`
	Total    core.Won `json:"total"`
	Filename string   `json:"filename"`
}

// handleExportSheets appends the same rows to the configured spreadsheet.
func (s *Server) handleExportSheets(w http.ResponseWriter, r *http.Request) {
	if s.deps.Sheets == nil {
		ErrorResponse(http.StatusServiceUnavailable, "스프레드시트 내보내기가 설정되지 않았습니다.").Write(w, r)
		return
	}
	sheet, fail := s.buildExport(r)
	if fail != nil {
		fail.Write(w, r)
		return
	}

	updated, err := s.deps.Sheets.Append(r.Context(), sheet)
	if err != nil {
		log.FromContext(r.Context()).ErrorContext(r.Context(), "Spreadsheet append failed",
			log.FieldOperation, log.OpExport, log.FieldError, err)
		BadGatewayError("스프레드시트 내보내기에 실패했습니다.").Write(w, r)
		return
	}
	NewResponse().JSON(sheetsResult{
		Range:    updated,
		Count:    sheet.Count,
		Total:    sheet.Total,
		Filename: sheet.Filename,
	}).Write(w, r)
}
