package router

import (
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"

	"github.com/softaidev/assistant-ledger/internal/http/handlers"
	httpmiddleware "github.com/softaidev/assistant-ledger/internal/http/middleware"
	"github.com/softaidev/assistant-ledger/internal/observability/metrics"
	"github.com/softaidev/assistant-ledger/pkg/logging"
)

// Config holds router configuration
type Config struct {
	Logger         *logging.Logger
	Metrics        *metrics.LedgerMetrics
	MetricsHandler http.Handler
	HealthChecks   map[string]handlers.Pinger

	Chat  *handlers.ChatHandler
	Calls *handlers.CallsHandler
	Email *handlers.EmailHandler
	Admin *handlers.AdminHandler

	AdminAuthSecret    string
	WebhookToken       string
	CORSAllowedOrigins []string

	// Per-client limit on public writes; zero disables it.
	PublicRatePerSecond float64
	PublicRateBurst     int
}

// New creates a new Chi router with all routes configured
func New(cfg *Config) http.Handler {
	r := chi.NewRouter()

	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(httpmiddleware.RequestLogger(cfg.Logger, cfg.Metrics))
	r.Use(middleware.Recoverer)
	if len(cfg.CORSAllowedOrigins) > 0 {
		r.Use(httpmiddleware.CORS(cfg.CORSAllowedOrigins))
	}

	writeLimit := func(next http.Handler) http.Handler { return next }
	if cfg.PublicRatePerSecond > 0 {
		writeLimit = httpmiddleware.RateLimit(cfg.PublicRatePerSecond, cfg.PublicRateBurst)
	}

	// Public endpoints: widget, calls, contact form, webhooks, health checks
	r.Group(func(public chi.Router) {
		public.Get("/health", handlers.Health(cfg.HealthChecks))
		if cfg.MetricsHandler != nil {
			public.Handle("/metrics", cfg.MetricsHandler)
		}
		if cfg.Chat != nil {
			public.Route("/chat/conversations/{conversationID}", func(r chi.Router) {
				r.Get("/messages", cfg.Chat.ListMessages)
				r.With(writeLimit).Post("/messages", cfg.Chat.PostMessage)
				r.With(writeLimit).Post("/start", cfg.Chat.Start)
				r.Get("/stream", cfg.Chat.Stream)
			})
		}
		if cfg.Calls != nil {
			public.With(writeLimit).Post("/calls", cfg.Calls.StartCall)
			public.With(writeLimit).Patch("/calls/{callID}", cfg.Calls.UpdateCall)
			public.With(writeLimit).Post("/callbacks", cfg.Calls.RequestCallback)
		}
		if cfg.Email != nil {
			public.With(writeLimit).Post("/contact", cfg.Email.SubmitContact)
			public.With(httpmiddleware.WebhookToken(cfg.WebhookToken)).Post("/webhooks/email/inbound", cfg.Email.InboundEmail)
		}
	})

	// Admin routes (HMAC JWT with the admin role)
	if cfg.Admin != nil && cfg.AdminAuthSecret != "" {
		r.Route("/admin", func(admin chi.Router) {
			admin.Use(httpmiddleware.AdminJWT(cfg.AdminAuthSecret))
			admin.Use(middleware.Compress(5))

			admin.Get("/conversations", cfg.Admin.ListConversations)
			admin.Get("/conversations/views", cfg.Admin.ConversationViews)
			if cfg.Chat != nil {
				admin.Post("/conversations/{conversationID}/messages", cfg.Chat.Reply)
			}
			admin.Get("/calls", cfg.Admin.ListCalls)
			admin.Get("/emails", cfg.Admin.ListEmails)
			admin.Post("/emails/send", cfg.Admin.SendEmail)
			admin.Post("/emails/auto-reply", cfg.Admin.SendAutoReply)
			admin.Get("/customers", cfg.Admin.ListCustomers)
			admin.Post("/customers", cfg.Admin.UpsertCustomer)
			admin.Get("/activity", cfg.Admin.ListActivity)
			admin.Get("/email-queue", cfg.Admin.ListEmailQueue)
			admin.Post("/email-queue", cfg.Admin.QueueForward)
			admin.Post("/orders/confirmation", cfg.Admin.OrderConfirmation)
		})
	}

	return r
}
