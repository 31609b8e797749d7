package api

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"mime"
	"net/http"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/opensource-finance/conrisk/internal/domain"
	"github.com/opensource-finance/conrisk/internal/extract"
	"github.com/opensource-finance/conrisk/internal/pipeline"
	"github.com/opensource-finance/conrisk/internal/repository"
	"github.com/opensource-finance/conrisk/internal/storage"
)

const dateLayout = "2006-01-02"

// AnalyzeResponse is the response for POST /api/contracts/analyze.
type AnalyzeResponse struct {
	FileID           string                 `json:"fileId"`
	OriginalFilename string                 `json:"originalFilename"`
	Analysis         *domain.AnalysisResult `json:"analysis"`
	Suggested        Suggestion             `json:"suggested"`
}

// Suggestion pre-fills the contract form from an uploaded file.
type Suggestion struct {
	Title     string `json:"title"`
	StartDate string `json:"startDate,omitempty"`
	EndDate   string `json:"endDate,omitempty"`
}

// CreateContractRequest is the request body for POST /api/contracts.
type CreateContractRequest struct {
	FileID           string         `json:"fileId"`
	OriginalFilename string         `json:"originalFilename"`
	Title            string         `json:"title"`
	Number           string         `json:"number"`
	Status           string         `json:"status,omitempty"`
	StartDate        string         `json:"startDate"`
	EndDate          string         `json:"endDate"`
	Value            float64        `json:"value"`
	Parties          []domain.Party `json:"parties"`
}

// ContractResponse carries a contract and the outcome of its analysis.
type ContractResponse struct {
	*domain.Contract
	Summary       *domain.RiskSummary `json:"summary,omitempty"`
	AnalysisError string              `json:"analysisError,omitempty"`
}

// ContractDetail is the response for GET /api/contracts/{id}.
type ContractDetail struct {
	*domain.Contract
	Risks    []*domain.RiskFinding  `json:"risks"`
	KeyDates []*domain.KeyDateEvent `json:"keyDates"`
}

func tooLargeMessage(limit int64) string {
	return fmt.Sprintf("文件大小不能超过 %dMB", limit>>20)
}

// AnalyzeUpload stores an uploaded contract and returns a preview analysis.
// Nothing but the file is persisted until the contract is created.
func (h *Handler) AnalyzeUpload(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	limit := h.Upload.MaxFileSize

	// Room for the multipart envelope and small form fields.
	r.Body = http.MaxBytesReader(w, r.Body, limit+1<<20)

	mr, err := r.MultipartReader()
	if err != nil {
		writeError(w, http.StatusBadRequest, msgNoFile)
		return
	}

	var data []byte
	var filename string
	for {
		part, err := mr.NextPart()
		if err == io.EOF {
			break
		}
		if err != nil {
			var mbe *http.MaxBytesError
			if errors.As(err, &mbe) {
				writeError(w, http.StatusBadRequest, tooLargeMessage(limit))
				return
			}
			writeError(w, http.StatusBadRequest, "文件上传失败")
			return
		}

		if part.FormName() != "file" || part.FileName() == "" {
			part.Close()
			continue
		}
		if data != nil {
			part.Close()
			writeError(w, http.StatusBadRequest, msgOneFile)
			return
		}

		filename = part.FileName()
		data, err = extract.ReadLimited(part, limit)
		part.Close()
		if err != nil {
			var mbe *http.MaxBytesError
			if errors.Is(err, extract.ErrTooLarge) || errors.As(err, &mbe) {
				writeError(w, http.StatusBadRequest, tooLargeMessage(limit))
				return
			}
			writeError(w, http.StatusBadRequest, "文件上传失败")
			return
		}
	}

	if data == nil {
		writeError(w, http.StatusBadRequest, msgNoFile)
		return
	}

	format, err := extract.Detect(data, filename)
	if err != nil {
		writeError(w, http.StatusBadRequest, msgUnsupportedFormat)
		return
	}

	key := storage.SanitizeFilename(filename, time.Now())
	if err := h.Store.Put(ctx, key, bytes.NewReader(data), int64(len(data)), format.ContentType()); err != nil {
		serverError(w, r, "failed to store upload", err)
		return
	}

	content, err := extract.Text(format, data)
	if err != nil {
		slog.Error("failed to extract upload", "file_id", key, "error", err)
		writeError(w, http.StatusInternalServerError, msgAnalysisFailed)
		return
	}

	result, err := h.Pipeline.Preview(ctx, key, content)
	if err != nil {
		slog.Error("contract analysis error", "file_id", key, "error", err)
		writeError(w, http.StatusInternalServerError, msgAnalysisFailed)
		return
	}

	writeJSON(w, http.StatusOK, AnalyzeResponse{
		FileID:           key,
		OriginalFilename: filename,
		Analysis:         result,
		Suggested:        suggest(filename, result.KeyDates),
	})
}

// suggest derives a title from the file name and the term from key dates
// whose description names a start or an end, falling back to the earliest
// and latest dates found.
func suggest(filename string, dates []domain.KeyDateEvent) Suggestion {
	s := Suggestion{Title: strings.TrimSuffix(filename, filepath.Ext(filename))}

	var earliest, latest string
	for _, d := range dates {
		if earliest == "" || d.Date < earliest {
			earliest = d.Date
		}
		if d.Date > latest {
			latest = d.Date
		}

		switch {
		case s.StartDate == "" && containsAny(d.Description, "开始", "生效", "起始"):
			s.StartDate = d.Date
		case s.EndDate == "" && containsAny(d.Description, "结束", "终止", "到期", "届满"):
			s.EndDate = d.Date
		}
	}

	if s.StartDate == "" {
		s.StartDate = earliest
	}
	if s.EndDate == "" && latest != s.StartDate {
		s.EndDate = latest
	}
	return s
}

func containsAny(s string, subs ...string) bool {
	for _, sub := range subs {
		if strings.Contains(s, sub) {
			return true
		}
	}
	return false
}

// deriveStatus picks the lifecycle status of a new contract from its term.
func deriveStatus(start, end string, now time.Time) string {
	today := now.Format(dateLayout)
	switch {
	case end != "" && end < today:
		return domain.ContractExpired
	case start != "" && start > today:
		return domain.ContractPending
	}
	return domain.ContractActive
}

func validateContract(req *CreateContractRequest) string {
	req.Title = strings.TrimSpace(req.Title)
	req.Number = strings.TrimSpace(req.Number)
	req.FileID = strings.TrimSpace(req.FileID)

	switch {
	case req.FileID == "":
		return "请先上传合同文件"
	case storage.ValidKey(req.FileID) != nil:
		return msgFileNotFound
	case req.Title == "":
		return "合同标题不能为空"
	case req.Number == "":
		return "合同编号不能为空"
	case req.Value < 0:
		return "合同金额不能为负数"
	case req.Status != "" && !domain.ValidContractStatus(req.Status):
		return "无效的合同状态"
	}

	for _, d := range []string{req.StartDate, req.EndDate} {
		if d == "" {
			continue
		}
		if _, err := time.Parse(dateLayout, d); err != nil {
			return "日期格式应为 YYYY-MM-DD"
		}
	}
	if req.StartDate != "" && req.EndDate != "" && req.EndDate < req.StartDate {
		return "结束日期不能早于开始日期"
	}

	for _, p := range req.Parties {
		if strings.TrimSpace(p.Name) == "" {
			return "合同方名称不能为空"
		}
	}
	return ""
}

// CreateContract persists a contract for an uploaded file and analyzes it,
// inline or through the worker.
func (h *Handler) CreateContract(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	tenantID := GetTenantID(ctx)

	var req CreateContractRequest
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, msgInvalidBody)
		return
	}
	if msg := validateContract(&req); msg != "" {
		writeError(w, http.StatusBadRequest, msg)
		return
	}

	data, err := h.Pipeline.Load(ctx, req.FileID)
	if err != nil {
		if errors.Is(err, storage.ErrObjectNotFound) {
			writeError(w, http.StatusBadRequest, msgFileNotFound)
			return
		}
		serverError(w, r, "failed to load upload", err)
		return
	}

	if req.OriginalFilename == "" {
		req.OriginalFilename, _ = storage.OriginalFilename(req.FileID)
	}
	if req.Status == "" {
		req.Status = deriveStatus(req.StartDate, req.EndDate, time.Now())
	}

	c := &domain.Contract{
		Title:            req.Title,
		Number:           req.Number,
		Status:           req.Status,
		AnalysisStatus:   domain.AnalysisPending,
		StartDate:        req.StartDate,
		EndDate:          req.EndDate,
		Value:            req.Value,
		FilePath:         req.FileID,
		OriginalFilename: req.OriginalFilename,
		Parties:          req.Parties,
	}
	if c.Parties == nil {
		c.Parties = []domain.Party{}
	}

	if err := h.Repo.SaveContract(ctx, tenantID, c); err != nil {
		switch {
		case errors.Is(err, repository.ErrConflict):
			writeError(w, http.StatusBadRequest, msgContractExists)
		case errors.Is(err, repository.ErrInvalidInput):
			writeError(w, http.StatusBadRequest, msgInvalidBody)
		default:
			serverError(w, r, "failed to save contract", err)
		}
		return
	}
	h.invalidateDashboard(ctx, tenantID)

	job := pipeline.Job{
		TenantID:   tenantID,
		ContractID: c.ID,
		FilePath:   c.FilePath,
		Filename:   jobFilename(c),
		TraceID:    GetTraceID(ctx),
	}

	if h.Async {
		err := h.Pipeline.Submit(ctx, job)
		if err == nil {
			writeJSON(w, http.StatusAccepted, ContractResponse{Contract: c})
			return
		}
		slog.Warn("failed to queue analysis, running inline",
			"contract_id", c.ID,
			"error", err,
		)
	}

	job.Data = data
	s, err := h.Pipeline.Process(ctx, job)
	resp := ContractResponse{Contract: c, Summary: s}
	if err != nil {
		resp.AnalysisError = msgAnalysisFailed
	}
	if fresh, gerr := h.Repo.GetContract(ctx, tenantID, c.ID); gerr == nil {
		resp.Contract = fresh
	}

	writeJSON(w, http.StatusCreated, resp)
}

func jobFilename(c *domain.Contract) string {
	if c.OriginalFilename != "" {
		return c.OriginalFilename
	}
	return c.FilePath
}

// ListContracts handles GET /api/contracts?status=&limit=&offset=.
func (h *Handler) ListContracts(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	q := r.URL.Query()

	filter := domain.ContractFilter{
		Status: q.Get("status"),
		Limit:  50,
	}
	if filter.Status != "" && !domain.ValidContractStatus(filter.Status) {
		writeError(w, http.StatusBadRequest, "无效的合同状态")
		return
	}
	if v := q.Get("limit"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n <= 0 {
			writeError(w, http.StatusBadRequest, "limit 参数无效")
			return
		}
		filter.Limit = min(n, 200)
	}
	if v := q.Get("offset"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n < 0 {
			writeError(w, http.StatusBadRequest, "offset 参数无效")
			return
		}
		filter.Offset = n
	}

	contracts, err := h.Repo.ListContracts(ctx, GetTenantID(ctx), filter)
	if err != nil {
		serverError(w, r, "failed to list contracts", err)
		return
	}
	if contracts == nil {
		contracts = []*domain.Contract{}
	}

	writeJSON(w, http.StatusOK, contracts)
}

// loadContract fetches the contract named in the URL. It writes the error
// response and returns nil when the contract is missing.
func (h *Handler) loadContract(w http.ResponseWriter, r *http.Request) *domain.Contract {
	c, err := h.Repo.GetContract(r.Context(), GetTenantID(r.Context()), chi.URLParam(r, "id"))
	if err != nil {
		if errors.Is(err, repository.ErrNotFound) {
			writeError(w, http.StatusNotFound, msgContractNotFound)
			return nil
		}
		serverError(w, r, "failed to get contract", err)
		return nil
	}
	return c
}

// GetContract returns a contract with its findings and key dates.
func (h *Handler) GetContract(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	tenantID := GetTenantID(ctx)

	c := h.loadContract(w, r)
	if c == nil {
		return
	}

	risks, err := h.Repo.ListRiskFindings(ctx, tenantID, c.ID)
	if err != nil {
		serverError(w, r, "failed to list risk findings", err)
		return
	}
	dates, err := h.Repo.ListKeyDates(ctx, tenantID, c.ID)
	if err != nil {
		serverError(w, r, "failed to list key dates", err)
		return
	}
	if risks == nil {
		risks = []*domain.RiskFinding{}
	}
	if dates == nil {
		dates = []*domain.KeyDateEvent{}
	}

	writeJSON(w, http.StatusOK, ContractDetail{Contract: c, Risks: risks, KeyDates: dates})
}

// GetSummary returns the risk summary of a contract.
func (h *Handler) GetSummary(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	c := h.loadContract(w, r)
	if c == nil {
		return
	}
	if c.FilePath == "" {
		writeError(w, http.StatusNotFound, msgFileNotFound)
		return
	}

	s, err := h.Pipeline.Summarize(ctx, pipeline.Job{
		TenantID:   c.OrganizationID,
		ContractID: c.ID,
		FilePath:   c.FilePath,
		Filename:   jobFilename(c),
		TraceID:    GetTraceID(ctx),
	})
	if err != nil {
		if errors.Is(err, storage.ErrObjectNotFound) {
			writeError(w, http.StatusNotFound, msgFileNotFound)
			return
		}
		slog.Error("failed to summarize contract", "contract_id", c.ID, "error", err)
		writeError(w, http.StatusInternalServerError, msgAnalysisFailed)
		return
	}

	writeJSON(w, http.StatusOK, s)
}

// Reanalyze replaces the stored analysis of a contract.
func (h *Handler) Reanalyze(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	c := h.loadContract(w, r)
	if c == nil {
		return
	}
	if c.FilePath == "" {
		writeError(w, http.StatusBadRequest, msgFileNotFound)
		return
	}

	job := pipeline.Job{
		TenantID:   c.OrganizationID,
		ContractID: c.ID,
		FilePath:   c.FilePath,
		Filename:   jobFilename(c),
		TraceID:    GetTraceID(ctx),
	}

	if h.Async {
		if err := h.Pipeline.Submit(ctx, job); err != nil {
			serverError(w, r, "failed to queue analysis", err)
			return
		}
		writeJSON(w, http.StatusAccepted, map[string]string{
			"message":    "已提交重新分析",
			"contractId": c.ID,
		})
		return
	}

	s, err := h.Pipeline.Process(ctx, job)
	if err != nil {
		if errors.Is(err, storage.ErrObjectNotFound) {
			writeError(w, http.StatusNotFound, msgFileNotFound)
			return
		}
		slog.Error("reanalysis failed", "contract_id", c.ID, "error", err)
		writeError(w, http.StatusInternalServerError, msgAnalysisFailed)
		return
	}

	writeJSON(w, http.StatusOK, s)
}

// DownloadFile streams the stored contract document.
func (h *Handler) DownloadFile(w http.ResponseWriter, r *http.Request) {
	c := h.loadContract(w, r)
	if c == nil {
		return
	}
	if c.FilePath == "" {
		writeError(w, http.StatusNotFound, msgFileNotFound)
		return
	}

	data, err := h.Pipeline.Load(r.Context(), c.FilePath)
	if err != nil {
		if errors.Is(err, storage.ErrObjectNotFound) {
			writeError(w, http.StatusNotFound, msgFileNotFound)
			return
		}
		serverError(w, r, "failed to load contract file", err)
		return
	}

	name := jobFilename(c)
	w.Header().Set("Content-Type", extract.Sniff(data, name).ContentType())
	w.Header().Set("Content-Disposition", mime.FormatMediaType("attachment", map[string]string{"filename": name}))
	w.Header().Set("Content-Length", strconv.Itoa(len(data)))
	w.WriteHeader(http.StatusOK)
	w.Write(data)
}

// DeleteContract removes a contract, its analysis and its stored file.
func (h *Handler) DeleteContract(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	tenantID := GetTenantID(ctx)

	c := h.loadContract(w, r)
	if c == nil {
		return
	}

	if err := h.Repo.DeleteContract(ctx, tenantID, c.ID); err != nil {
		if errors.Is(err, repository.ErrNotFound) {
			writeError(w, http.StatusNotFound, msgContractNotFound)
			return
		}
		serverError(w, r, "failed to delete contract", err)
		return
	}

	if c.FilePath != "" {
		if err := h.Store.Delete(ctx, c.FilePath); err != nil {
			slog.Warn("failed to delete contract file", "contract_id", c.ID, "file", c.FilePath, "error", err)
		}
	}
	h.invalidateDashboard(ctx, tenantID)
	if h.Cache != nil {
		if err := h.Cache.Delete(ctx, tenantID, pipeline.SummaryKey(c.ID)); err != nil {
			slog.Warn("failed to drop cached summary", "contract_id", c.ID, "error", err)
		}
	}

	writeJSON(w, http.StatusOK, map[string]string{"message": msgContractDeleted})
}
