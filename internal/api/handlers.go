package api

import (
	"context"
	"strconv"
	"time"

	"github.com/gofiber/fiber/v2"
	"github.com/rs/zerolog"

	"github.com/p-blackswan/sweeper/internal/accounts"
	"github.com/p-blackswan/sweeper/internal/dispatch"
	"github.com/p-blackswan/sweeper/internal/fleet"
	"github.com/p-blackswan/sweeper/internal/health"
	"github.com/p-blackswan/sweeper/internal/models"
	"github.com/p-blackswan/sweeper/internal/scheduler"
	"github.com/p-blackswan/sweeper/internal/store"
)

// OriginAPI marks tasks submitted through the API.
const OriginAPI = "api"

// AccountService manages linked accounts.
type AccountService interface {
	Link(ctx context.Context, owner string, socialID int64, screenName string, creds *models.Credentials) (*models.Account, error)
	SetRetention(ctx context.Context, socialID int64, change accounts.RetentionChange) (*models.Account, error)
	Get(ctx context.Context, socialID int64) (*models.Account, error)
	List(ctx context.Context, owner string) ([]models.Account, error)
}

// RunHistory reads persisted sweep outcomes.
type RunHistory interface {
	ListRuns(ctx context.Context, accountID int64, limit int) ([]store.SweepRun, error)
	ListRunsByRunID(ctx context.Context, runID string) ([]store.SweepRun, error)
}

// TaskDispatcher queues and reports single-account sweeps.
type TaskDispatcher interface {
	Submit(accountID int64, origin string) (*dispatch.Task, error)
	Get(id string) (*dispatch.Task, bool)
	List(q dispatch.ListQuery) ([]*dispatch.Task, int)
}

// FleetTrigger starts fleet runs and reports the last one.
type FleetTrigger interface {
	Trigger(ctx context.Context) (string, error)
	Latest() (fleet.Summary, bool)
}

// Schedule lists the scheduled background jobs.
type Schedule interface {
	Jobs() []scheduler.JobInfo
}

// Handlers holds dependencies for HTTP handlers.
type Handlers struct {
	accounts  AccountService
	runs      RunHistory
	tasks     TaskDispatcher
	fleet     FleetTrigger
	schedule  Schedule
	checker   *health.Checker
	logger    zerolog.Logger
	startTime time.Time
}

// NewHandlers creates a new Handlers instance.
func NewHandlers(deps Deps, logger zerolog.Logger) *Handlers {
	return &Handlers{
		accounts:  deps.Accounts,
		runs:      deps.Runs,
		tasks:     deps.Tasks,
		fleet:     deps.Fleet,
		schedule:  deps.Schedule,
		checker:   deps.Checker,
		logger:    logger.With().Str("component", "handlers").Logger(),
		startTime: time.Now(),
	}
}

// AccountView is the API representation of an account. Credentials are never
// exposed, only whether they are present.
type AccountView struct {
	models.Account
	HasCredentials bool `json:"has_credentials"`
}

func viewOf(a models.Account) AccountView {
	return AccountView{Account: a, HasCredentials: a.HasCredentials()}
}

// LinkAccountRequest is the body of PUT /api/v1/accounts/:id.
type LinkAccountRequest struct {
	Owner        string    `json:"owner"`
	ScreenName   string    `json:"screen_name"`
	AccessToken  string    `json:"access_token"`
	RefreshToken string    `json:"refresh_token"`
	ExpiresAt    time.Time `json:"expires_at"`
}

// TriggerResponse is returned when a fleet run is started.
type TriggerResponse struct {
	RunID string `json:"run_id"`
}

// TaskListResponse is a page of tasks.
type TaskListResponse struct {
	Tasks []*dispatch.Task `json:"tasks"`
	Total int              `json:"total"`
}

func accountID(c *fiber.Ctx) (int64, error) {
	id, err := strconv.ParseInt(c.Params("id"), 10, 64)
	if err != nil || id <= 0 {
		return 0, problemResponse(c, fiber.StatusBadRequest,
			"invalid_account_id", "Bad Request",
			"Account id must be a positive integer")
	}
	return id, nil
}

// TriggerFleet handles POST /api/v1/fleet/sweeps.
func (h *Handlers) TriggerFleet(c *fiber.Ctx) error {
	runID, err := h.fleet.Trigger(c.UserContext())
	if err != nil {
		return errorResponse(c, err)
	}
	h.logger.Info().Str("run_id", runID).Interface("actor", c.Locals("actor")).Msg("fleet sweep triggered")
	return c.Status(fiber.StatusAccepted).JSON(TriggerResponse{RunID: runID})
}

// LatestFleet handles GET /api/v1/fleet/sweeps/latest.
func (h *Handlers) LatestFleet(c *fiber.Ctx) error {
	sum, ok := h.fleet.Latest()
	if !ok {
		return problemResponse(c, fiber.StatusNotFound,
			"no_fleet_run", "Not Found",
			"No fleet sweep has finished yet")
	}
	return c.JSON(sum)
}

// RunResponse lists the per-account outcomes recorded under one run id.
type RunResponse struct {
	RunID        string           `json:"run_id"`
	PostsDeleted int              `json:"posts_deleted"`
	Runs         []store.SweepRun `json:"runs"`
}

// GetFleetRun handles GET /api/v1/fleet/sweeps/:run_id.
func (h *Handlers) GetFleetRun(c *fiber.Ctx) error {
	runID := c.Params("run_id")
	runs, err := h.runs.ListRunsByRunID(c.UserContext(), runID)
	if err != nil {
		return errorResponse(c, err)
	}
	if len(runs) == 0 {
		return problemResponse(c, fiber.StatusNotFound,
			"unknown_run", "Not Found",
			"No outcomes recorded for run "+runID)
	}

	resp := RunResponse{RunID: runID, Runs: runs}
	for _, r := range runs {
		resp.PostsDeleted += r.Outcome.PostsDeleted
	}
	return c.JSON(resp)
}

// SweepAccount handles POST /api/v1/accounts/:id/sweep.
func (h *Handlers) SweepAccount(c *fiber.Ctx) error {
	id, err := accountID(c)
	if err != nil {
		return err
	}
	if _, err := h.accounts.Get(c.UserContext(), id); err != nil {
		return errorResponse(c, err)
	}

	task, err := h.tasks.Submit(id, OriginAPI)
	if err != nil {
		return errorResponse(c, err)
	}
	return c.Status(fiber.StatusAccepted).JSON(task)
}

// GetTask handles GET /api/v1/tasks/:id.
func (h *Handlers) GetTask(c *fiber.Ctx) error {
	task, ok := h.tasks.Get(c.Params("id"))
	if !ok {
		return problemResponse(c, fiber.StatusNotFound,
			"task_not_found", "Not Found",
			"Task not found: "+c.Params("id"))
	}
	return c.JSON(task)
}

// ListTasks handles GET /api/v1/tasks.
func (h *Handlers) ListTasks(c *fiber.Ctx) error {
	var q dispatch.ListQuery
	if err := c.QueryParser(&q); err != nil {
		return problemResponse(c, fiber.StatusBadRequest,
			"invalid_query", "Bad Request",
			"Invalid query: "+err.Error())
	}

	tasks, total := h.tasks.List(q)
	if tasks == nil {
		tasks = []*dispatch.Task{}
	}
	return c.JSON(TaskListResponse{Tasks: tasks, Total: total})
}

// ListAccounts handles GET /api/v1/accounts.
func (h *Handlers) ListAccounts(c *fiber.Ctx) error {
	list, err := h.accounts.List(c.UserContext(), c.Query("owner"))
	if err != nil {
		return errorResponse(c, err)
	}
	views := make([]AccountView, 0, len(list))
	for _, a := range list {
		views = append(views, viewOf(a))
	}
	return c.JSON(fiber.Map{"accounts": views, "total": len(views)})
}

// GetAccount handles GET /api/v1/accounts/:id.
func (h *Handlers) GetAccount(c *fiber.Ctx) error {
	id, err := accountID(c)
	if err != nil {
		return err
	}
	a, err := h.accounts.Get(c.UserContext(), id)
	if err != nil {
		return errorResponse(c, err)
	}
	return c.JSON(viewOf(*a))
}

// LinkAccount handles PUT /api/v1/accounts/:id.
func (h *Handlers) LinkAccount(c *fiber.Ctx) error {
	id, err := accountID(c)
	if err != nil {
		return err
	}
	var req LinkAccountRequest
	if err := c.BodyParser(&req); err != nil {
		return problemResponse(c, fiber.StatusBadRequest,
			"invalid_body", "Bad Request",
			"Invalid request body: "+err.Error())
	}
	if req.Owner == "" {
		return problemResponse(c, fiber.StatusBadRequest,
			"missing_owner", "Bad Request",
			"owner is required")
	}

	creds := &models.Credentials{
		AccessToken:  req.AccessToken,
		RefreshToken: req.RefreshToken,
		Expiry:       req.ExpiresAt,
	}
	a, err := h.accounts.Link(c.UserContext(), req.Owner, id, req.ScreenName, creds)
	if err != nil {
		return errorResponse(c, err)
	}
	return c.JSON(viewOf(*a))
}

// SetRetention handles PATCH /api/v1/accounts/:id/retention. The body must use
// JSON booleans for "active"; strings such as "true" are rejected.
func (h *Handlers) SetRetention(c *fiber.Ctx) error {
	id, err := accountID(c)
	if err != nil {
		return err
	}
	var change accounts.RetentionChange
	if err := c.BodyParser(&change); err != nil {
		return problemResponse(c, fiber.StatusBadRequest,
			"invalid_body", "Bad Request",
			"Invalid request body: "+err.Error())
	}
	if change.Active == nil && change.Hours == nil {
		return problemResponse(c, fiber.StatusBadRequest,
			"empty_change", "Bad Request",
			"Set active and/or retention_hours")
	}

	a, err := h.accounts.SetRetention(c.UserContext(), id, change)
	if err != nil {
		return errorResponse(c, err)
	}
	return c.JSON(viewOf(*a))
}

// ListRuns handles GET /api/v1/accounts/:id/runs.
func (h *Handlers) ListRuns(c *fiber.Ctx) error {
	id, err := accountID(c)
	if err != nil {
		return err
	}
	limit := c.QueryInt("limit", 50)
	if limit <= 0 || limit > 500 {
		limit = 50
	}
	runs, err := h.runs.ListRuns(c.UserContext(), id, limit)
	if err != nil {
		return errorResponse(c, err)
	}
	if runs == nil {
		runs = []store.SweepRun{}
	}
	return c.JSON(fiber.Map{"runs": runs})
}

// Liveness handles GET /healthz.
func (h *Handlers) Liveness(c *fiber.Ctx) error {
	return c.JSON(fiber.Map{"status": "ok"})
}

// Readiness handles GET /readyz.
func (h *Handlers) Readiness(c *fiber.Ctx) error {
	if h.checker == nil {
		return c.JSON(fiber.Map{"status": "ready"})
	}
	results := h.checker.RunAll(c.UserContext())
	if !health.Ready(results) {
		return c.Status(fiber.StatusServiceUnavailable).JSON(fiber.Map{
			"status": "not_ready",
			"checks": results,
		})
	}
	return c.JSON(fiber.Map{"status": "ready", "checks": results})
}

// HealthDetail handles GET /api/v1/health.
func (h *Handlers) HealthDetail(c *fiber.Ctx) error {
	resp := fiber.Map{
		"uptime": time.Since(h.startTime).Round(time.Second).String(),
	}
	if h.checker != nil {
		resp["checks"] = h.checker.Last()
	}
	if h.schedule != nil {
		resp["schedule"] = h.schedule.Jobs()
	}
	if sum, ok := h.fleet.Latest(); ok {
		resp["last_fleet_run"] = fiber.Map{
			"run_id":      sum.RunID,
			"finished_at": sum.FinishedAt,
			"accounts":    sum.AccountsProcessed,
			"deleted":     sum.PostsDeleted,
			"error":       sum.Err,
		}
	}
	return c.JSON(resp)
}
