package router

import (
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	chimiddleware "github.com/go-chi/chi/v5/middleware"
	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"

	"github.com/alperenhakverdi/sesimiz-ol-sub000/internal/domain"
	"github.com/alperenhakverdi/sesimiz-ol-sub000/internal/http/handler"
	"github.com/alperenhakverdi/sesimiz-ol-sub000/internal/http/middleware"
	"github.com/alperenhakverdi/sesimiz-ol-sub000/internal/repository"
	"github.com/alperenhakverdi/sesimiz-ol-sub000/internal/security"
	"github.com/alperenhakverdi/sesimiz-ol-sub000/internal/service"
)

const maxBodyBytes = 1 << 20

type Deps struct {
	Auth   *handler.AuthHandler
	Admin  *handler.AdminHandler
	Health *handler.HealthHandler

	JWT       *security.JWTManager
	Users     repository.UserRepository
	CsrfStore service.CsrfStore
	Idem      service.IdempotencyStore

	AuthLimiter    *middleware.RateLimiter
	GeneralLimiter *middleware.RateLimiter

	RequireVerifiedEmail bool
	CORSOrigins          []string
	RequestTimeout       time.Duration
	IdempotencyTTL       time.Duration
	TracingEnabled       bool
}

func New(d Deps) http.Handler {
	r := chi.NewRouter()

	r.Use(chimiddleware.RequestID)
	r.Use(chimiddleware.RealIP)
	r.Use(middleware.Recoverer)
	r.Use(middleware.StructuredRequestLogger)
	r.Use(middleware.SecurityHeaders)
	r.Use(middleware.CORS(d.CORSOrigins))
	r.Use(middleware.BodyLimit(maxBodyBytes))
	if d.RequestTimeout > 0 {
		r.Use(chimiddleware.Timeout(d.RequestTimeout))
	}

	r.Get("/healthz/live", d.Health.Live)
	r.Get("/healthz/ready", d.Health.Ready)

	requireAuth := middleware.AuthMiddleware(d.JWT)
	optionalAuth := middleware.OptionalAuthMiddleware(d.JWT)
	accountGuard := middleware.AccountStateGuard(d.Users, d.RequireVerifiedEmail)
	csrf := middleware.CSRFMiddleware(d.CsrfStore)

	r.Route("/api/v1", func(api chi.Router) {
		api.Use(d.GeneralLimiter.Middleware())

		api.Route("/auth", func(auth chi.Router) {
			// credential endpoints carry the tighter limit and no session
			auth.Group(func(g chi.Router) {
				g.Use(d.AuthLimiter.Middleware())
				g.With(middleware.Idempotency(d.Idem, "register", d.IdempotencyTTL)).
					Post("/register", d.Auth.Register)
				g.Post("/login", d.Auth.Login)
				g.Post("/refresh", d.Auth.Refresh)
			})

			auth.With(optionalAuth).Get("/session", d.Auth.SessionProbe)
			// logout tolerates an expired access token so stale tabs can
			// still clear their cookies
			auth.With(optionalAuth, csrf).Post("/logout", d.Auth.Logout)

			auth.Group(func(g chi.Router) {
				g.Use(requireAuth, accountGuard)
				g.Get("/profile", d.Auth.Profile)
				g.Get("/csrf", d.Auth.CsrfToken)
				g.Get("/sessions", d.Auth.ListSessions)

				g.Group(func(m chi.Router) {
					m.Use(csrf)
					m.Put("/profile", d.Auth.UpdateProfile)
					m.Put("/password", d.Auth.ChangePassword)
					m.Delete("/account", d.Auth.DeleteAccount)
					m.Post("/logout-all", d.Auth.LogoutAll)
					m.Delete("/sessions/{id}", d.Auth.RevokeSession)
				})
			})
		})

		api.Route("/admin", func(ad chi.Router) {
			ad.Use(requireAuth, accountGuard, middleware.RequireRole(domain.RoleAdmin))
			ad.Get("/users", d.Admin.ListUsers)

			ad.Group(func(m chi.Router) {
				m.Use(csrf)
				m.Post("/users/{id}/ban", d.Admin.BanUser)
				m.Post("/users/{id}/unban", d.Admin.UnbanUser)
				m.Put("/users/{id}/role", d.Admin.SetRole)
			})
		})
	})

	if d.TracingEnabled {
		return otelhttp.NewHandler(r, "http.server")
	}
	return r
}
