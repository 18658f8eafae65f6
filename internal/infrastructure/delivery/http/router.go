// Package httprouter wires the HTTP API onto a ServeMux.
package httprouter

import (
	"log/slog"
	"net/http"
	"slices"
	"time"

	"vidgrab/internal/config"
	"vidgrab/internal/consts"
	"vidgrab/internal/entity"
	"vidgrab/internal/infrastructure/delivery/http/middleware"
	"vidgrab/internal/infrastructure/delivery/http/response"
	"vidgrab/internal/observability"
	"vidgrab/internal/service"
)

const (
	defaultHandlerTimeout = 20 * time.Second
	defaultMaxBodyBytes   = 1 << 20
)

type chain []func(http.Handler) http.Handler

func (c chain) then(h http.Handler) http.Handler {
	for _, mw := range slices.Backward(c) {
		h = mw(h)
	}

	return h
}

// Deps are the services behind the routes.
type Deps struct {
	Users     service.Users
	Downloads service.Downloads
	Tokens    middleware.Verifier
	Limiter   middleware.Limiter
	Metrics   *observability.Metrics
}

// Router is the API handler.
type Router struct {
	*http.ServeMux
	log         *slog.Logger
	cfg         config.HTTP
	globalChain chain
	routeChain  chain
	isSubRouter bool
	deps        Deps
	handler     http.Handler
}

// New builds the router with every route registered.
func New(log *slog.Logger, cfg config.HTTP, deps Deps) *Router {
	if cfg.HandlerTimeout <= 0 {
		cfg.HandlerTimeout = defaultHandlerTimeout
	}

	if cfg.MaxBodyBytes <= 0 {
		cfg.MaxBodyBytes = defaultMaxBodyBytes
	}

	r := &Router{
		ServeMux: http.NewServeMux(),
		log:      log.With(slog.String("package", "httprouter")),
		cfg:      cfg,
		deps:     deps,
	}

	r.SetGlobalMiddlewares()
	r.SetRoutes()

	r.handler = r.globalChain.then(r.ServeMux)

	return r
}

// Use appends middlewares to the global chain, or to the group chain inside Group.
func (r *Router) Use(middleware ...func(http.Handler) http.Handler) {
	if r.isSubRouter {
		r.routeChain = append(r.routeChain, middleware...)
	} else {
		r.globalChain = append(r.globalChain, middleware...)
	}
}

// Group registers routes sharing extra middlewares.
func (r *Router) Group(fn func(r *Router)) {
	subRouter := &Router{
		ServeMux:    r.ServeMux,
		log:         r.log,
		cfg:         r.cfg,
		deps:        r.deps,
		isSubRouter: true,
		routeChain:  slices.Clone(r.routeChain),
	}

	fn(subRouter)
}

func (r *Router) HandleFunc(pattern string, h http.HandlerFunc) {
	r.Handle(pattern, h)
}

func (r *Router) Handle(pattern string, h http.Handler) {
	r.ServeMux.Handle(pattern, r.routeChain.then(h))
}

func (r *Router) ServeHTTP(w http.ResponseWriter, req *http.Request) {
	r.handler.ServeHTTP(w, req)
}

func (r *Router) SetGlobalMiddlewares() {
	r.Use(
		middleware.Recoverer(r.log),
		middleware.RequestID,
		middleware.Logger(r.log),
		middleware.CORS(r.cfg.CORSOrigins),
		middleware.Metrics(r.deps.Metrics),
	)
}

func (r *Router) SetRoutes() {
	r.HandleFunc("GET /{$}", r.Root)
	r.HandleFunc("GET /health", r.Health)
	r.Handle("GET /metrics", r.deps.Metrics.Handler())

	r.SetRoutesAuth()
	r.SetRoutesDownload()
}

func (r *Router) SetRoutesAuth() {
	r.HandleFunc("POST /auth/login", r.Login)
	r.HandleFunc("POST /auth/signup", r.Signup)
}

func (r *Router) SetRoutesDownload() {
	r.HandleFunc("GET /api/v1/supported-platforms", r.SupportedPlatforms)

	r.Group(func(g *Router) {
		g.Use(
			middleware.Authenticate(g.log, g.deps.Tokens),
			middleware.RateLimit(g.deps.Limiter, g.deps.Metrics),
		)

		g.HandleFunc("POST /api/v1/download", g.Download)
	})
}

// Root greets.
func (r *Router) Root(w http.ResponseWriter, _ *http.Request) {
	response.OK(w, consts.RespWelcome, nil)
}

// SupportedPlatforms lists the platform identifiers.
func (r *Router) SupportedPlatforms(w http.ResponseWriter, _ *http.Request) {
	response.JSON(w, http.StatusOK, entity.Platforms())
}
