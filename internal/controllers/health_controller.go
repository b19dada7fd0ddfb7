package controllers

import (
	"context"
	"net/http"
	"time"

	"github.com/banamarket/auth-service/internal/dtos"
	"github.com/banamarket/auth-service/internal/utils"
)

// HealthCheck is one dependency probed by GET /health.
type HealthCheck struct {
	Name string
	Ping func(ctx context.Context) error
}

type HealthController struct {
	checks []HealthCheck
}

func NewHealthController(checks ...HealthCheck) *HealthController {
	return &HealthController{checks: checks}
}

func (c *HealthController) HealthCheckHandler(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), 3*time.Second)
	defer cancel()

	results := make(map[string]string, len(c.checks))
	for _, chk := range c.checks {
		if err := chk.Ping(ctx); err != nil {
			utils.Logger.WithError(err).Errorf("%s unreachable", chk.Name)
			utils.RespondErrorWithCode(
				w,
				http.StatusServiceUnavailable,
				utils.ErrCodeInternal,
				chk.Name+" unreachable",
				nil,
				err,
			)
			return
		}
		results[chk.Name] = "OK"
	}

	utils.RespondWithJSON(w, http.StatusOK, dtos.HealthResponse{Status: "OK", Checks: results})
}
