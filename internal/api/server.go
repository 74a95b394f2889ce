// Package api exposes the HTTP surface: the operator REST API consumed by
// the dashboard, the vendor-facing submission form, the websocket stream and
// the operational endpoints.
package api

import (
	"context"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"vendor-onboarding/internal/common/logger"
	"vendor-onboarding/internal/jobs"
	"vendor-onboarding/internal/models"
	"vendor-onboarding/internal/sender"
	"vendor-onboarding/internal/submission"
)

// Directory is the slice of the company store the handlers need.
type Directory interface {
	List(ctx context.Context) ([]models.Company, error)
	Get(ctx context.Context, id string) (*models.Company, error)
	Insert(ctx context.Context, c *models.Company) error
	InsertBatch(ctx context.Context, companies []models.Company) error
	Update(ctx context.Context, id string, patch models.CompanyPatch) (*models.Company, error)
	Delete(ctx context.Context, id string) error
	MaxSequence(ctx context.Context) (int, error)
	DashboardMetrics(ctx context.Context) (*models.DashboardMetrics, error)
}

type Notifications interface {
	List(ctx context.Context) ([]models.Notification, error)
	MarkRead(ctx context.Context, id string) (*models.Notification, error)
}

// MailSender is the outbound side: one immediate send plus the three batch
// operations the runner executes.
type MailSender interface {
	SendSingle(ctx context.Context, req sender.SingleRequest) (*models.Company, error)
	SendBulk(ctx context.Context, ids []string) (*sender.Report, error)
	ResendFailed(ctx context.Context) (*sender.Report, error)
	SendQuarterly(ctx context.Context) (*sender.Report, error)
}

type JobQueue interface {
	Enqueue(ctx context.Context, kind string, run jobs.BatchFunc) (string, error)
}

type JobReader interface {
	Get(ctx context.Context, id string) (*jobs.Job, error)
}

type Submissions interface {
	Check(ctx context.Context, companyID string) (*models.Company, error)
	Submit(ctx context.Context, req submission.Request) (*models.Company, error)
}

type Broadcaster interface {
	Publish(event string, payload interface{})
}

// Options carries the handler-level configuration.
type Options struct {
	// MailFrom is reported by the mail-account endpoint.
	MailFrom string
	// DocumentsDir is served under /documents/.
	DocumentsDir string
	// MaxUploadBytes bounds multipart bodies.
	MaxUploadBytes int64
	// UploadTypes is the MIME allow-list for spreadsheet uploads.
	UploadTypes []string
}

type Server struct {
	directory     Directory
	notifications Notifications
	mail          MailSender
	queue         JobQueue
	jobReader     JobReader
	submissions   Submissions
	hub           Broadcaster
	ws            http.Handler
	opts          Options
	logger        logger.Logger
}

func NewServer(
	directory Directory,
	notifications Notifications,
	mail MailSender,
	queue JobQueue,
	jobReader JobReader,
	submissions Submissions,
	hub Broadcaster,
	ws http.Handler,
	opts Options,
	log logger.Logger,
) *Server {
	if opts.MaxUploadBytes <= 0 {
		opts.MaxUploadBytes = 7 << 20
	}
	return &Server{
		directory:     directory,
		notifications: notifications,
		mail:          mail,
		queue:         queue,
		jobReader:     jobReader,
		submissions:   submissions,
		hub:           hub,
		ws:            ws,
		opts:          opts,
		logger:        log.WithFields(map[string]interface{}{"component": "api"}),
	}
}

// Router assembles the full route tree.
func (s *Server) Router() chi.Router {
	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(s.requestLogger)
	r.Use(middleware.Recoverer)

	r.Route("/api", func(r chi.Router) {
		r.Get("/companies", s.handleListCompanies)
		r.Post("/companies/add", s.handleAddCompany)
		r.Post("/companies/upload", s.handleUploadCompanies)
		r.Get("/companies/{id}", s.handleGetCompany)
		r.Put("/companies/{id}", s.handleUpdateCompany)
		r.Delete("/companies/{id}", s.handleDeleteCompany)

		r.Post("/send-single-email", s.handleSendSingle)
		r.Post("/send-bulk-emails", s.handleSendBulk)
		r.Post("/resend-failed-emails", s.handleResendFailed)
		r.Post("/send-quarterly-reminders", s.handleSendQuarterly)
		r.Get("/email-jobs/{id}", s.handleGetJob)

		r.Get("/notifications", s.handleListNotifications)
		r.Put("/notifications/{id}", s.handleMarkNotificationRead)

		r.Get("/dashboard-metrics", s.handleDashboardMetrics)
		r.Post("/export-email", s.handleExportEmailStatus)
		r.Get("/mail-account", s.handleMailAccount)
	})

	r.Get("/submit-documents/{id}", s.handleSubmissionForm)
	r.Post("/submit-documents/{id}", s.handleSubmission)

	if s.opts.DocumentsDir != "" {
		fs := http.StripPrefix("/documents/", http.FileServer(http.Dir(s.opts.DocumentsDir)))
		r.Get("/documents/*", fs.ServeHTTP)
	}
	if s.ws != nil {
		r.Get("/ws", s.ws.ServeHTTP)
	}

	r.Get("/healthz", s.handleHealthz)
	r.Method(http.MethodGet, "/metrics", promhttp.Handler())

	return r
}

func (s *Server) requestLogger(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)
		next.ServeHTTP(ww, r)
		s.logger.Info("http request", map[string]interface{}{
			"method":   r.Method,
			"path":     r.URL.Path,
			"status":   ww.Status(),
			"duration": time.Since(start).String(),
		})
	})
}

func (s *Server) handleHealthz(w http.ResponseWriter, r *http.Request) {
	respondJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func (s *Server) handleMailAccount(w http.ResponseWriter, r *http.Request) {
	respondJSON(w, http.StatusOK, map[string]string{"email": s.opts.MailFrom})
}
