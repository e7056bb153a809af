package api

import (
	"log/slog"
	"net"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/propagation"
	"go.opentelemetry.io/otel/trace"

	"autoblog/internal/identity"
)

// RateLimits configures the per-IP limits on anonymous identity endpoints.
type RateLimits struct {
	CodeRequests int
	Credentials  int
	Window       time.Duration
}

type ServerOptions struct {
	AllowedOrigins    []string
	TrustedProxyCIDRs []string
	RateLimits        RateLimits
	MaxBodyBytes      int64
}

type Server struct {
	router *chi.Mux
}

func NewServer(
	database Pinger,
	manager *identity.Manager,
	passwordless *identity.Passwordless,
	signIn *identity.SignInManager,
	opts ServerOptions,
) (*Server, error) {
	clientIP, err := NewClientIPResolver(opts.TrustedProxyCIDRs)
	if err != nil {
		return nil, err
	}

	limits := opts.RateLimits
	if limits.Window <= 0 {
		limits.Window = time.Minute
	}
	if limits.CodeRequests <= 0 {
		limits.CodeRequests = 5
	}
	if limits.Credentials <= 0 {
		limits.Credentials = 10
	}
	if opts.MaxBodyBytes <= 0 {
		opts.MaxBodyBytes = 64 << 10
	}

	identityHandler := NewIdentityHandler(manager, passwordless, signIn, clientIP)
	healthHandler := NewHealthHandler(database)
	authMiddleware := NewAuthMiddleware(signIn)

	codeLimit := RateLimitMiddleware(limits.CodeRequests, limits.Window, clientIP)
	credentialLimit := RateLimitMiddleware(limits.Credentials, limits.Window, clientIP)

	r := chi.NewRouter()
	r.Use(slogRequestLogger)
	r.Use(middleware.Recoverer)
	r.Use(tracingMiddleware)
	r.Use(corsMiddleware(opts.AllowedOrigins))
	r.Use(securityHeadersMiddleware)

	r.Get("/health", healthHandler.Check)

	r.Route("/api/identity", func(r chi.Router) {
		r.Use(maxBodySizeMiddleware(opts.MaxBodyBytes))

		r.Route("/passwordless", func(r chi.Router) {
			r.With(codeLimit).Post("/login", identityHandler.RequestPasswordlessCode)
			r.With(codeLimit).Post("/resend", identityHandler.ResendPasswordlessCode)
			r.With(credentialLimit).Post("/verify", identityHandler.VerifyPasswordlessCode)
		})

		r.With(credentialLimit).Post("/register", identityHandler.Register)
		r.With(credentialLimit).Post("/login", identityHandler.Login)
		r.With(codeLimit).Post("/resend-confirmation-email", identityHandler.ResendConfirmationEmail)
		r.With(credentialLimit).Get("/confirm-email", identityHandler.ConfirmEmail)
		r.With(codeLimit).Post("/forgot-password", identityHandler.ForgotPassword)
		r.With(credentialLimit).Post("/reset-password", identityHandler.ResetPassword)

		r.Group(func(r chi.Router) {
			r.Use(authMiddleware.RequireAuth)
			r.Post("/logout", identityHandler.Logout)
			r.Post("/logout-all", identityHandler.LogoutAll)
			r.Get("/me", identityHandler.Me)
			r.Get("/test-protected", identityHandler.TestProtected)
			r.Put("/change-password", identityHandler.ChangePassword)
		})
	})

	r.NotFound(func(w http.ResponseWriter, _ *http.Request) {
		notFound(w, "Not found")
	})
	r.MethodNotAllowed(func(w http.ResponseWriter, _ *http.Request) {
		writeError(w, http.StatusMethodNotAllowed, ErrCodeInvalidRequest, "Method not allowed")
	})

	return &Server{router: r}, nil
}

func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	s.router.ServeHTTP(w, r)
}

// corsMiddleware allows credentialed requests from the configured origins
// and from loopback origins used in local development. Requests from any
// other origin are refused.
func corsMiddleware(allowedOrigins []string) func(http.Handler) http.Handler {
	allowed := make(map[string]struct{}, len(allowedOrigins))
	for _, origin := range allowedOrigins {
		origin = strings.TrimRight(strings.TrimSpace(origin), "/")
		if origin != "" {
			allowed[origin] = struct{}{}
		}
	}

	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			origin := r.Header.Get("Origin")
			if origin == "" {
				next.ServeHTTP(w, r)
				return
			}

			if _, ok := allowed[origin]; !ok && !isLoopbackOrigin(origin) {
				writeError(w, http.StatusForbidden, ErrCodeInvalidRequest, "Origin not allowed")
				return
			}

			h := w.Header()
			h.Set("Access-Control-Allow-Origin", origin)
			h.Set("Access-Control-Allow-Credentials", "true")
			h.Add("Vary", "Origin")

			if r.Method == http.MethodOptions {
				h.Set("Access-Control-Allow-Methods", "GET, POST, PUT, DELETE, OPTIONS")
				h.Set("Access-Control-Allow-Headers", "Content-Type")
				h.Set("Access-Control-Max-Age", "600")
				w.WriteHeader(http.StatusNoContent)
				return
			}

			next.ServeHTTP(w, r)
		})
	}
}

func isLoopbackOrigin(origin string) bool {
	u, err := url.Parse(origin)
	if err != nil || (u.Scheme != "http" && u.Scheme != "https") {
		return false
	}
	host := u.Hostname()
	if host == "localhost" {
		return true
	}
	ip := net.ParseIP(host)
	return ip != nil && ip.IsLoopback()
}

func maxBodySizeMiddleware(maxBytes int64) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			r.Body = http.MaxBytesReader(w, r.Body, maxBytes)
			next.ServeHTTP(w, r)
		})
	}
}

func securityHeadersMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("X-Content-Type-Options", "nosniff")
		w.Header().Set("X-Frame-Options", "DENY")
		w.Header().Set("Referrer-Policy", "strict-origin-when-cross-origin")
		w.Header().Set("Cache-Control", "no-store")
		next.ServeHTTP(w, r)
	})
}

const tracerName = "autoblog/internal/api"

// tracingMiddleware starts a server span per request, continuing any trace
// propagated by the caller.
func tracingMiddleware(next http.Handler) http.Handler {
	tracer := otel.Tracer(tracerName)

	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		ctx := otel.GetTextMapPropagator().Extract(r.Context(), propagation.HeaderCarrier(r.Header))
		ctx, span := tracer.Start(ctx, r.Method, trace.WithSpanKind(trace.SpanKindServer),
			trace.WithAttributes(
				attribute.String("http.request.method", r.Method),
				attribute.String("url.path", r.URL.Path),
			),
		)
		defer span.End()

		ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)
		next.ServeHTTP(ww, r.WithContext(ctx))

		if rctx := chi.RouteContext(r.Context()); rctx != nil {
			if pattern := rctx.RoutePattern(); pattern != "" {
				span.SetName(r.Method + " " + pattern)
				span.SetAttributes(attribute.String("http.route", pattern))
			}
		}
		status := ww.Status()
		span.SetAttributes(attribute.Int("http.response.status_code", status))
		if status >= http.StatusInternalServerError {
			span.SetStatus(codes.Error, http.StatusText(status))
		}
	})
}

func slogRequestLogger(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)
		next.ServeHTTP(ww, r)
		slog.InfoContext(r.Context(), "http request",
			"method", r.Method,
			"path", r.URL.Path,
			"status", ww.Status(),
			"bytes", ww.BytesWritten(),
			"duration", time.Since(start).String(),
			"remote", r.RemoteAddr,
		)
	})
}
