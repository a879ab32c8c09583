package server

import (
	"database/sql"
	"encoding/json"
	"log/slog"
	"net/http"

	"github.com/Deathvks/AutoGest-sub000/internal/archive"
	"github.com/Deathvks/AutoGest-sub000/internal/email"
	"github.com/Deathvks/AutoGest-sub000/internal/gateway"
	"github.com/Deathvks/AutoGest-sub000/internal/handler"
	"github.com/Deathvks/AutoGest-sub000/internal/middleware"
	"github.com/Deathvks/AutoGest-sub000/internal/notify"
	"github.com/Deathvks/AutoGest-sub000/internal/retry"
	"github.com/Deathvks/AutoGest-sub000/internal/store"
	"github.com/Deathvks/AutoGest-sub000/internal/subscription"
)

type Config struct {
	EmailClient *email.Client
	Archiver    *archive.Archiver
	VAPID       notify.VAPIDConfig
}

type Server struct {
	db            *sql.DB
	accountStore  *store.AccountStore
	sessionStore  *store.SessionStore
	eventStore    *store.EventStore
	subscriptionH *handler.SubscriptionHandler
	webhookH      *handler.WebhookHandler
	accountH      *handler.AccountHandler
	logger        *slog.Logger
}

// New wires the stores, controller and handlers around an already
// constructed gateway client. The gateway is validated by its own
// constructor; a server is never built without one.
func New(db *sql.DB, gw *gateway.Client, cfg Config, logger *slog.Logger) *Server {
	accountStore := store.NewAccountStore(db)
	sessionStore := store.NewSessionStore(db)
	notificationStore := store.NewNotificationStore(db)
	pushStore := store.NewPushSubscriptionStore(db)
	eventStore := store.NewEventStore(db)

	emitter := notify.NewEmitter(notificationStore, pushStore, cfg.VAPID, logger.With("component", "notify"))
	controller := subscription.NewController(gw, accountStore, emitter, retry.Default(), logger.With("component", "subscription"))

	var invoices handler.InvoiceSender
	if cfg.EmailClient != nil && cfg.EmailClient.Configured() {
		invoices = cfg.EmailClient
	}
	var archiver handler.InvoiceArchiver
	if cfg.Archiver != nil {
		archiver = cfg.Archiver
	}

	return &Server{
		db:            db,
		accountStore:  accountStore,
		sessionStore:  sessionStore,
		eventStore:    eventStore,
		subscriptionH: handler.NewSubscriptionHandler(controller, accountStore, logger.With("component", "subscription")),
		webhookH:      handler.NewWebhookHandler(gw, accountStore, eventStore, emitter, invoices, archiver, logger.With("component", "webhook")),
		accountH:      handler.NewAccountHandler(accountStore, notificationStore, pushStore, logger.With("component", "account")),
		logger:        logger,
	}
}

// SessionStore returns the session store for cleanup tasks.
func (s *Server) SessionStore() *store.SessionStore {
	return s.sessionStore
}

// EventStore returns the processed-event store for cleanup tasks.
func (s *Server) EventStore() *store.EventStore {
	return s.eventStore
}

func (s *Server) Router() http.Handler {
	mux := http.NewServeMux()

	mux.HandleFunc("GET /health", s.healthCheck)

	// Gateway webhook (public, authenticated by signature)
	mux.HandleFunc("POST /webhooks", s.webhookH.Handle)

	authMw := middleware.RequireAuth(s.sessionStore)
	mux.Handle("POST /subscriptions", authMw(http.HandlerFunc(s.subscriptionH.Create)))
	mux.Handle("GET /subscriptions/status", authMw(http.HandlerFunc(s.subscriptionH.Status)))
	mux.Handle("POST /subscriptions/cancel", authMw(http.HandlerFunc(s.subscriptionH.Cancel)))
	mux.Handle("POST /subscriptions/reactivate", authMw(http.HandlerFunc(s.subscriptionH.Reactivate)))
	mux.Handle("POST /subscriptions/sync", authMw(http.HandlerFunc(s.subscriptionH.Sync)))

	mux.Handle("GET /me", authMw(http.HandlerFunc(s.accountH.Me)))
	mux.Handle("GET /notifications", authMw(http.HandlerFunc(s.accountH.Notifications)))
	mux.Handle("POST /push/subscribe", authMw(http.HandlerFunc(s.accountH.SubscribePush)))

	return middleware.RequestLogger(s.logger)(mux)
}

func (s *Server) healthCheck(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(map[string]string{"status": "ok"})
}
