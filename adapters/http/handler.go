package http

import (
	"encoding/json"
	"errors"
	"net/http"
	"strconv"
	"time"

	"github.com/labstack/echo/v4"

	"github.com/satriahrh/cocoa-fruit/primeworks/domain"
	"github.com/satriahrh/cocoa-fruit/primeworks/usecase"
	"github.com/satriahrh/cocoa-fruit/primeworks/utils/log"
)

type PrimeHandler struct {
	primes *usecase.PrimeService
	hashes *usecase.HashService
}

type PrimesRequest struct {
	Bound     json.Number `json:"bound"`
	ChunkSize json.Number `json:"chunk_size,omitempty"`
}

type PrimesResponse struct {
	domain.Job
	Primes  []int  `json:"primes"`
	Preview string `json:"preview"`
}

type HashRequest struct {
	Input string `json:"input"`
}

type HashResponse struct {
	Algorithm string `json:"algorithm"`
	Digest    string `json:"digest"`
}

func NewPrimeHandler(primes *usecase.PrimeService, hashes *usecase.HashService) *PrimeHandler {
	return &PrimeHandler{primes: primes, hashes: hashes}
}

// Register mounts the authenticated API routes on g.
func (h *PrimeHandler) Register(g *echo.Group, maxConcurrent int) {
	g.POST("/hash", h.Hash)

	limit := ConcurrencyLimit(maxConcurrent)
	g.POST("/primes", h.GeneratePrimes, limit)
	g.POST("/jobs", h.StartJob, limit)

	g.GET("/jobs", h.ListJobs)
	g.GET("/jobs/:id", h.GetJob).Name = "job"
	g.DELETE("/jobs/:id", h.CancelJob)
}

// Hash returns the SHA-256 digest of the request input.
func (h *PrimeHandler) Hash(c echo.Context) error {
	var req HashRequest
	if err := c.Bind(&req); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "invalid argument: malformed request body")
	}
	digest, err := h.hashes.Hash(req.Input)
	if err != nil {
		return httpError(err)
	}
	return c.JSON(http.StatusOK, HashResponse{Algorithm: h.hashes.Algorithm(), Digest: digest})
}

// GeneratePrimes computes synchronously. A client that disconnects cancels
// the computation.
func (h *PrimeHandler) GeneratePrimes(c echo.Context) error {
	bound, chunkSize, err := bindPrimes(c)
	if err != nil {
		return err
	}
	job, err := h.primes.Generate(c.Request().Context(), bound, chunkSize)
	if err != nil {
		return httpError(err)
	}
	return c.JSON(http.StatusOK, primesResponse(job))
}

// StartJob admits an asynchronous computation and returns its handle.
func (h *PrimeHandler) StartJob(c echo.Context) error {
	bound, chunkSize, err := bindPrimes(c)
	if err != nil {
		return err
	}
	job, err := h.primes.Start(c.Request().Context(), bound, chunkSize)
	if err != nil {
		return httpError(err)
	}
	c.Response().Header().Set(echo.HeaderLocation, c.Echo().Reverse("job", job.ID))
	return c.JSON(http.StatusAccepted, job)
}

// GetJob returns a job. With wait=true it blocks until the job finishes and
// answers with its outcome, so a cancelled job yields 409.
func (h *PrimeHandler) GetJob(c echo.Context) error {
	ctx, id := c.Request().Context(), c.Param("id")
	withPrimes, _ := strconv.ParseBool(c.QueryParam("primes"))
	wait, _ := strconv.ParseBool(c.QueryParam("wait"))

	var job domain.Job
	var err error
	if wait {
		job, err = h.primes.Wait(ctx, id, withPrimes)
	} else {
		job, err = h.primes.Get(ctx, id, withPrimes)
	}
	if err != nil {
		return httpError(err)
	}
	if withPrimes && job.Status == domain.JobCompleted && job.Primes != nil {
		return c.JSON(http.StatusOK, primesResponse(job))
	}
	return c.JSON(http.StatusOK, job)
}

func (h *PrimeHandler) ListJobs(c echo.Context) error {
	limit := 50
	if v := c.QueryParam("limit"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n < 1 {
			return echo.NewHTTPError(http.StatusBadRequest, "invalid argument: limit must be a positive integer")
		}
		limit = n
	}
	jobs, err := h.primes.List(c.Request().Context(), limit)
	if err != nil {
		return httpError(err)
	}
	return c.JSON(http.StatusOK, map[string]interface{}{"jobs": jobs})
}

func (h *PrimeHandler) CancelJob(c echo.Context) error {
	ctx := c.Request().Context()
	id := c.Param("id")
	if err := h.primes.Cancel(ctx, id); err != nil {
		return httpError(err)
	}
	job, err := h.primes.Get(ctx, id, false)
	if err != nil {
		return httpError(err)
	}
	return c.JSON(http.StatusAccepted, job)
}

// Health check endpoint
func (h *PrimeHandler) HealthCheck(c echo.Context) error {
	return c.JSON(http.StatusOK, map[string]interface{}{
		"status":    "healthy",
		"timestamp": time.Now().UTC(),
		"service":   "primeworks",
	})
}

// ConcurrencyLimit rejects requests beyond n in flight with 429.
func ConcurrencyLimit(n int) echo.MiddlewareFunc {
	if n < 1 {
		n = 1
	}
	semaphore := make(chan struct{}, n)
	return func(next echo.HandlerFunc) echo.HandlerFunc {
		return func(c echo.Context) error {
			select {
			case semaphore <- struct{}{}:
				defer func() { <-semaphore }()
				return next(c)
			default:
				return echo.NewHTTPError(http.StatusTooManyRequests, "Too many concurrent requests")
			}
		}
	}
}

// RequestLogContext copies the id assigned by middleware.RequestID into the
// request context so log.WithCtx reports it.
func RequestLogContext(next echo.HandlerFunc) echo.HandlerFunc {
	return func(c echo.Context) error {
		if id := c.Response().Header().Get(echo.HeaderXRequestID); id != "" {
			ctx := log.WithValue(c.Request().Context(), log.RequestIDKey, id)
			c.SetRequest(c.Request().WithContext(ctx))
		}
		return next(c)
	}
}

func bindPrimes(c echo.Context) (bound, chunkSize int, err error) {
	var req PrimesRequest
	if err := c.Bind(&req); err != nil {
		return 0, 0, echo.NewHTTPError(http.StatusBadRequest, "invalid argument: bound and chunk_size must be integers")
	}
	if req.Bound == "" {
		return 0, 0, echo.NewHTTPError(http.StatusBadRequest, "invalid argument: bound is required")
	}
	bound, err = strconv.Atoi(req.Bound.String())
	if err != nil {
		return 0, 0, echo.NewHTTPError(http.StatusBadRequest, "invalid argument: bound must be an integer")
	}
	if req.ChunkSize != "" {
		chunkSize, err = strconv.Atoi(req.ChunkSize.String())
		if err != nil || chunkSize < 1 {
			return 0, 0, echo.NewHTTPError(http.StatusBadRequest, "invalid argument: chunk_size must be a positive integer")
		}
	}
	return bound, chunkSize, nil
}

func primesResponse(job domain.Job) PrimesResponse {
	primes := job.Primes
	if primes == nil {
		primes = []int{}
	}
	return PrimesResponse{
		Job:     job,
		Primes:  primes,
		Preview: usecase.Preview(primes, usecase.PreviewLimit),
	}
}

// httpError maps domain errors onto HTTP statuses.
func httpError(err error) error {
	code := http.StatusInternalServerError
	switch {
	case errors.Is(err, domain.ErrInvalidArgument):
		code = http.StatusBadRequest
	case errors.Is(err, domain.ErrJobNotFound):
		code = http.StatusNotFound
	case errors.Is(err, domain.ErrCancelled):
		code = http.StatusConflict
	case errors.Is(err, domain.ErrResourceExhausted):
		code = http.StatusServiceUnavailable
	}
	return echo.NewHTTPError(code, err.Error())
}
