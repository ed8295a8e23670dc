package obs

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"sort"
	"sync"
	"time"

	"github.com/gin-gonic/gin"
	"google.golang.org/grpc/health"
	healthpb "google.golang.org/grpc/health/grpc_health_v1"
)

// Check probes one backend.
type Check func(ctx context.Context) error

// Readiness runs named checks and mirrors the outcome into a gRPC health server.
type Readiness struct {
	Timeout time.Duration

	mu     sync.RWMutex
	checks map[string]Check
	grpc   *health.Server
}

func NewReadiness(timeout time.Duration) *Readiness {
	if timeout <= 0 {
		timeout = 2 * time.Second
	}
	return &Readiness{Timeout: timeout, checks: make(map[string]Check), grpc: health.NewServer()}
}

func (r *Readiness) Add(name string, check Check) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.checks[name] = check
}

// Check runs every registered probe and joins the failures.
func (r *Readiness) Check(ctx context.Context) error {
	r.mu.RLock()
	names := make([]string, 0, len(r.checks))
	for name := range r.checks {
		names = append(names, name)
	}
	r.mu.RUnlock()
	sort.Strings(names)

	ctx, cancel := context.WithTimeout(ctx, r.Timeout)
	defer cancel()
	var errs []error
	for _, name := range names {
		r.mu.RLock()
		check := r.checks[name]
		r.mu.RUnlock()
		if err := check(ctx); err != nil {
			errs = append(errs, fmt.Errorf("%s: %w", name, err))
		}
	}
	err := errors.Join(errs...)
	status := healthpb.HealthCheckResponse_SERVING
	if err != nil {
		status = healthpb.HealthCheckResponse_NOT_SERVING
	}
	r.grpc.SetServingStatus("", status)
	return err
}

// GRPC returns the health service to register on a grpc.Server.
func (r *Readiness) GRPC() *health.Server {
	return r.grpc
}

// Watch re-evaluates readiness every interval until ctx is done.
func (r *Readiness) Watch(ctx context.Context, interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		_ = r.Check(ctx)
		select {
		case <-ctx.Done():
			r.grpc.Shutdown()
			return
		case <-ticker.C:
		}
	}
}

// HealthHandlers exposes endpoints for liveness and readiness checks.
type HealthHandlers struct {
	Ready *Readiness
}

func (h HealthHandlers) Livez(c *gin.Context) {
	c.Status(http.StatusOK)
}

func (h HealthHandlers) Readyz(c *gin.Context) {
	if h.Ready != nil {
		if err := h.Ready.Check(c.Request.Context()); err != nil {
			c.JSON(http.StatusServiceUnavailable, gin.H{"status": "not ready", "error": err.Error()})
			return
		}
	}
	c.Status(http.StatusOK)
}
