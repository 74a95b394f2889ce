package api

import (
	"embed"
	"html/template"
	"io"
	"net/http"

	"github.com/go-chi/chi/v5"

	apperrors "vendor-onboarding/internal/common/errors"
	"vendor-onboarding/internal/mailer"
	"vendor-onboarding/internal/submission"
)

//go:embed templates/*.html
var templateFS embed.FS

var (
	formTemplate   = template.Must(template.ParseFS(templateFS, "templates/form.html"))
	resultTemplate = template.Must(template.ParseFS(templateFS, "templates/result.html"))
)

type formPage struct {
	CompanyName string
	BalanceDate string
}

type resultPage struct {
	Title   string
	Message string
	IsError bool
}

// handleSubmissionForm renders the one-time form after checking the link is
// still open.
func (s *Server) handleSubmissionForm(w http.ResponseWriter, r *http.Request) {
	company, err := s.submissions.Check(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		s.renderSubmissionError(w, err)
		return
	}

	w.Header().Set("Content-Type", "text/html; charset=utf-8")
	if terr := formTemplate.Execute(w, formPage{
		CompanyName: company.DisplayName(),
		BalanceDate: mailer.BalanceDate,
	}); terr != nil {
		s.logger.WithError(terr).Error("failed to render submission form", nil)
	}
}

// handleSubmission accepts the one-time form POST. The form page consumes
// JSON, so success and failure are both structured bodies, never HTML.
func (s *Server) handleSubmission(w http.ResponseWriter, r *http.Request) {
	r.Body = http.MaxBytesReader(w, r.Body, s.opts.MaxUploadBytes)
	if err := r.ParseMultipartForm(s.opts.MaxUploadBytes); err != nil {
		respondError(w, apperrors.NewValidationError("Upload exceeds the size limit or is not multipart"))
		return
	}

	req := submission.Request{
		CompanyID: chi.URLParam(r, "id"),
		Agreement: r.FormValue("agreement"),
		Reason:    r.FormValue("reason"),
	}
	if file, header, err := r.FormFile("paymentProof"); err == nil {
		defer file.Close()
		data, rerr := io.ReadAll(file)
		if rerr != nil {
			respondError(w, apperrors.NewValidationError("Payment proof is unreadable"))
			return
		}
		req.Proof = &submission.Upload{
			Filename:    header.Filename,
			ContentType: header.Header.Get("Content-Type"),
			Data:        data,
		}
	}

	if _, err := s.submissions.Submit(r.Context(), req); err != nil {
		respondError(w, err)
		return
	}

	message := "Payment proof submitted successfully"
	if req.Agreement == submission.AgreementDisagree {
		message = "Payment disagreement submitted successfully"
	}
	respondJSON(w, http.StatusOK, map[string]string{"message": message})
}

func (s *Server) renderSubmissionError(w http.ResponseWriter, err error) {
	se := apperrors.AsStandard(err)
	s.renderResult(w, se.HTTPStatus(), resultPage{
		Title:   "Submission not accepted",
		Message: se.Message,
		IsError: true,
	})
}

func (s *Server) renderResult(w http.ResponseWriter, status int, page resultPage) {
	w.Header().Set("Content-Type", "text/html; charset=utf-8")
	w.WriteHeader(status)
	if err := resultTemplate.Execute(w, page); err != nil {
		s.logger.WithError(err).Error("failed to render submission result", nil)
	}
}
