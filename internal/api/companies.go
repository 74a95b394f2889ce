package api

import (
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"

	"vendor-onboarding/internal/broadcast"
	apperrors "vendor-onboarding/internal/common/errors"
	"vendor-onboarding/internal/common/validation"
	"vendor-onboarding/internal/models"
	"vendor-onboarding/internal/spreadsheet"
)

func (s *Server) handleListCompanies(w http.ResponseWriter, r *http.Request) {
	companies, err := s.directory.List(r.Context())
	if err != nil {
		respondError(w, err)
		return
	}
	respondJSON(w, http.StatusOK, companies)
}

func (s *Server) handleGetCompany(w http.ResponseWriter, r *http.Request) {
	company, err := s.directory.Get(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		respondError(w, err)
		return
	}
	respondJSON(w, http.StatusOK, company)
}

func (s *Server) handleAddCompany(w http.ResponseWriter, r *http.Request) {
	body, err := io.ReadAll(http.MaxBytesReader(w, r.Body, 1<<20))
	if err != nil {
		respondError(w, apperrors.NewValidationError("Request body is unreadable"))
		return
	}

	var raw map[string]interface{}
	if err := json.Unmarshal(body, &raw); err != nil {
		respondError(w, apperrors.NewValidationError("Request body must be JSON"))
		return
	}
	if err := validation.ValidateCompany(raw); err != nil {
		respondError(w, err)
		return
	}

	var company models.Company
	if err := json.Unmarshal(body, &company); err != nil {
		respondError(w, apperrors.NewValidationError("Request body does not match the company shape"))
		return
	}

	if company.SrNo == 0 {
		max, err := s.directory.MaxSequence(r.Context())
		if err != nil {
			respondError(w, err)
			return
		}
		company.SrNo = max + 1
	}

	if err := s.directory.Insert(r.Context(), &company); err != nil {
		respondError(w, err)
		return
	}

	s.logger.Info("company added", map[string]interface{}{"companyId": company.ID})
	s.hub.Publish(broadcast.EventCompanyAdded, &company)
	respondJSON(w, http.StatusCreated, &company)
}

func (s *Server) handleUpdateCompany(w http.ResponseWriter, r *http.Request) {
	var patch models.CompanyPatch
	if err := json.NewDecoder(r.Body).Decode(&patch); err != nil {
		respondError(w, apperrors.NewValidationError("Request body must be JSON"))
		return
	}

	updated, err := s.directory.Update(r.Context(), chi.URLParam(r, "id"), patch)
	if err != nil {
		respondError(w, err)
		return
	}

	s.hub.Publish(broadcast.EventCompanyUpdated, updated)
	respondJSON(w, http.StatusOK, updated)
}

func (s *Server) handleDeleteCompany(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	if err := s.directory.Delete(r.Context(), id); err != nil {
		respondError(w, err)
		return
	}

	s.logger.Info("company deleted", map[string]interface{}{"companyId": id})
	s.hub.Publish(broadcast.EventCompanyDeleted, map[string]string{"_id": id})
	respondJSON(w, http.StatusOK, map[string]string{"message": "Company deleted"})
}

func (s *Server) handleUploadCompanies(w http.ResponseWriter, r *http.Request) {
	r.Body = http.MaxBytesReader(w, r.Body, s.opts.MaxUploadBytes)
	if err := r.ParseMultipartForm(s.opts.MaxUploadBytes); err != nil {
		respondError(w, apperrors.NewValidationError("Upload exceeds the size limit or is not multipart"))
		return
	}

	file, header, err := r.FormFile("file")
	if err != nil {
		respondError(w, apperrors.NewValidationError("A spreadsheet file is required"))
		return
	}
	defer file.Close()

	if !s.uploadTypeAllowed(header.Header.Get("Content-Type"), header.Filename) {
		respondError(w, apperrors.NewSpreadsheetError("File must be an Excel workbook (.xlsx)"))
		return
	}

	companies, err := spreadsheet.Import(file)
	if err != nil {
		respondError(w, err)
		return
	}

	base, err := s.directory.MaxSequence(r.Context())
	if err != nil {
		respondError(w, err)
		return
	}
	batch := make([]models.Company, 0, len(companies))
	for i, c := range companies {
		c.SrNo = base + i + 1
		batch = append(batch, *c)
	}

	if err := s.directory.InsertBatch(r.Context(), batch); err != nil {
		respondError(w, err)
		return
	}

	s.logger.Info("companies imported", map[string]interface{}{
		"count":    len(batch),
		"filename": header.Filename,
	})
	s.hub.Publish(broadcast.EventCompaniesUploaded, map[string]interface{}{"count": len(batch)})
	respondJSON(w, http.StatusCreated, map[string]interface{}{
		"message":  fmt.Sprintf("%d companies imported", len(batch)),
		"imported": len(batch),
	})
}

func (s *Server) uploadTypeAllowed(contentType, filename string) bool {
	if strings.HasSuffix(strings.ToLower(filename), ".xlsx") {
		return true
	}
	for _, allowed := range s.opts.UploadTypes {
		if strings.EqualFold(contentType, allowed) {
			return true
		}
	}
	return false
}

func (s *Server) handleDashboardMetrics(w http.ResponseWriter, r *http.Request) {
	metrics, err := s.directory.DashboardMetrics(r.Context())
	if err != nil {
		respondError(w, err)
		return
	}
	respondJSON(w, http.StatusOK, metrics)
}

const xlsxContentType = "application/vnd.openxmlformats-officedocument.spreadsheetml.sheet"

func (s *Server) handleExportEmailStatus(w http.ResponseWriter, r *http.Request) {
	companies, err := s.directory.List(r.Context())
	if err != nil {
		respondError(w, err)
		return
	}

	pointers := make([]*models.Company, len(companies))
	for i := range companies {
		pointers[i] = &companies[i]
	}
	workbook, err := spreadsheet.Export(pointers)
	if err != nil {
		respondError(w, err)
		return
	}

	filename := fmt.Sprintf("email_status_%s.xlsx", time.Now().Format("2006-01-02"))
	w.Header().Set("Content-Type", xlsxContentType)
	w.Header().Set("Content-Disposition", fmt.Sprintf(`attachment; filename=%q`, filename))
	if err := workbook.Write(w); err != nil {
		s.logger.WithError(err).Error("failed to stream export", nil)
	}
}
