package api

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"strings"

	"github.com/go-chi/chi/v5"

	apperrors "vendor-onboarding/internal/common/errors"
	"vendor-onboarding/internal/mailer"
	"vendor-onboarding/internal/sender"
)

// Batch job kinds as reported by the email-jobs endpoint.
const (
	JobKindBulk      = "bulk"
	JobKindResend    = "resend"
	JobKindQuarterly = "quarterly"
)

// handleSendSingle sends one email immediately. The request is multipart so
// an attachment can ride along; plain JSON works for attachment-less sends.
func (s *Server) handleSendSingle(w http.ResponseWriter, r *http.Request) {
	req, err := s.parseSingleRequest(w, r)
	if err != nil {
		respondError(w, err)
		return
	}

	company, err := s.mail.SendSingle(r.Context(), req)
	if err != nil {
		respondError(w, err)
		return
	}
	respondJSON(w, http.StatusOK, map[string]string{
		"message":   "Email sent successfully",
		"companyId": company.ID,
	})
}

func (s *Server) parseSingleRequest(w http.ResponseWriter, r *http.Request) (sender.SingleRequest, error) {
	var req sender.SingleRequest

	if strings.HasPrefix(r.Header.Get("Content-Type"), "multipart/") {
		r.Body = http.MaxBytesReader(w, r.Body, s.opts.MaxUploadBytes)
		if err := r.ParseMultipartForm(s.opts.MaxUploadBytes); err != nil {
			return req, apperrors.NewValidationError("Upload exceeds the size limit or is not multipart")
		}
		req.CompanyID = r.FormValue("companyId")
		req.Subject = r.FormValue("subject")
		req.Body = r.FormValue("body")
		req.CC = splitAddresses(r.FormValue("cc"))

		if file, header, err := r.FormFile("attachment"); err == nil {
			defer file.Close()
			data, err := io.ReadAll(file)
			if err != nil {
				return req, apperrors.NewValidationError("Attachment is unreadable")
			}
			req.Attachment = &mailer.Attachment{
				Filename:    header.Filename,
				ContentType: header.Header.Get("Content-Type"),
				Data:        data,
			}
		}
	} else {
		var body struct {
			CompanyID string   `json:"companyId"`
			CC        []string `json:"cc"`
			Subject   string   `json:"subject"`
			Body      string   `json:"body"`
		}
		if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
			return req, apperrors.NewValidationError("Request body must be JSON")
		}
		req.CompanyID = body.CompanyID
		req.CC = body.CC
		req.Subject = body.Subject
		req.Body = body.Body
	}

	if strings.TrimSpace(req.CompanyID) == "" {
		return req, apperrors.NewValidationError("companyId is required")
	}
	return req, nil
}

func splitAddresses(raw string) []string {
	if strings.TrimSpace(raw) == "" {
		return nil
	}
	parts := strings.Split(raw, ",")
	out := make([]string, 0, len(parts))
	for _, p := range parts {
		if p = strings.TrimSpace(p); p != "" {
			out = append(out, p)
		}
	}
	return out
}

func (s *Server) handleSendBulk(w http.ResponseWriter, r *http.Request) {
	var body struct {
		CompanyIDs []string `json:"companyIds"`
	}
	if r.Body != nil && r.ContentLength != 0 {
		if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
			respondError(w, apperrors.NewValidationError("Request body must be JSON"))
			return
		}
	}

	ids := body.CompanyIDs
	s.enqueueBatch(w, r, JobKindBulk, func(ctx context.Context) (*sender.Report, error) {
		return s.mail.SendBulk(ctx, ids)
	})
}

func (s *Server) handleResendFailed(w http.ResponseWriter, r *http.Request) {
	s.enqueueBatch(w, r, JobKindResend, func(ctx context.Context) (*sender.Report, error) {
		return s.mail.ResendFailed(ctx)
	})
}

func (s *Server) handleSendQuarterly(w http.ResponseWriter, r *http.Request) {
	s.enqueueBatch(w, r, JobKindQuarterly, func(ctx context.Context) (*sender.Report, error) {
		return s.mail.SendQuarterly(ctx)
	})
}

func (s *Server) enqueueBatch(w http.ResponseWriter, r *http.Request, kind string, run func(ctx context.Context) (*sender.Report, error)) {
	jobID, err := s.queue.Enqueue(r.Context(), kind, run)
	if err != nil {
		respondError(w, err)
		return
	}
	respondJSON(w, http.StatusAccepted, map[string]string{"jobId": jobID})
}

func (s *Server) handleGetJob(w http.ResponseWriter, r *http.Request) {
	job, err := s.jobReader.Get(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		respondError(w, err)
		return
	}
	respondJSON(w, http.StatusOK, job)
}
