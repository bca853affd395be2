// Package router serves the operational HTTP endpoints of the scheduler
package router

import (
	"encoding/json"
	"time"

	"github.com/amirphl/company-segments/app/logger"
	"github.com/amirphl/company-segments/app/middleware"
	businessflow "github.com/amirphl/company-segments/business_flow"
	"github.com/amirphl/company-segments/utils"
	"github.com/gofiber/fiber/v3"
	"github.com/gofiber/fiber/v3/middleware/adaptor"
	"github.com/gofiber/fiber/v3/middleware/recover"
	"github.com/gofiber/fiber/v3/middleware/requestid"
	"github.com/google/uuid"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// SchedulerStatus is what the health endpoint reports about scheduled rebuilds
type SchedulerStatus interface {
	Running() bool
	LastReport() *businessflow.RebuildReport
}

// Router interface for HTTP routing
type Router interface {
	SetupRoutes()
	Start(address string) error
	Shutdown() error
	GetApp() *fiber.App
}

// OpsRouter exposes /health and /metrics
type OpsRouter struct {
	app       *fiber.App
	scheduler SchedulerStatus
	log       *logger.Logger
}

// NewOpsRouter creates the ops router. scheduler may be nil.
func NewOpsRouter(scheduler SchedulerStatus, log *logger.Logger) Router {
	if log == nil {
		log = logger.Nop()
	}
	app := fiber.New(fiber.Config{
		AppName:      "company-segments",
		ServerHeader: "company-segments",
		ReadTimeout:  10 * time.Second,
		WriteTimeout: 10 * time.Second,
		IdleTimeout:  60 * time.Second,
		JSONEncoder:  json.Marshal,
		JSONDecoder:  json.Unmarshal,
	})

	return &OpsRouter{app: app, scheduler: scheduler, log: log.Component("http")}
}

// SetupRoutes configures middleware and routes
func (r *OpsRouter) SetupRoutes() {
	r.app.Use(requestid.New(requestid.Config{
		Header:    "X-Request-ID",
		Generator: uuid.NewString,
	}))
	r.app.Use(recover.New(recover.Config{
		EnableStackTrace: true,
		StackTraceHandler: func(c fiber.Ctx, e any) {
			r.log.Error().
				Interface("panic", e).
				Str("path", c.Path()).
				Str("method", c.Method()).
				Msg("Request panicked")
		},
	}))
	r.app.Use(middleware.Metrics())

	r.app.Get("/health", r.healthCheck)
	r.app.Get("/metrics", adaptor.HTTPHandler(promhttp.Handler()))
}

// Start starts the HTTP server
func (r *OpsRouter) Start(address string) error {
	r.log.Info().Str("address", address).Msg("Starting ops server")
	return r.app.Listen(address)
}

// Shutdown stops the HTTP server
func (r *OpsRouter) Shutdown() error {
	return r.app.Shutdown()
}

// GetApp returns the Fiber app instance
func (r *OpsRouter) GetApp() *fiber.App {
	return r.app
}

type lastRun struct {
	RunID       string    `json:"run_id"`
	StartedAt   time.Time `json:"started_at"`
	Segments    int       `json:"segments"`
	Failed      int       `json:"failed"`
	Changed     int64     `json:"changed"`
	DurationMS  int64     `json:"duration_ms"`
	Interrupted bool      `json:"interrupted"`
}

func (r *OpsRouter) healthCheck(c fiber.Ctx) error {
	body := fiber.Map{
		"status":    "ok",
		"timestamp": utils.UTCNow().Unix(),
		"service":   "company-segments",
	}
	if r.scheduler != nil {
		body["rebuild_running"] = r.scheduler.Running()
		if rep := r.scheduler.LastReport(); rep != nil {
			body["last_run"] = lastRun{
				RunID:       rep.RunID,
				StartedAt:   rep.StartedAt,
				Segments:    len(rep.Outcomes),
				Failed:      rep.Failed(),
				Changed:     rep.Changed(),
				DurationMS:  rep.Total.Milliseconds(),
				Interrupted: rep.Interrupted,
			}
		}
	}
	return c.JSON(body)
}
