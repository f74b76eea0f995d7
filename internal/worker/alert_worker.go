package worker

import (
	"github.com/spec-kit/support-router/internal/routing"
)

// StartAlertWorker registers alert handlers.
func StartAlertWorker(alertService *routing.AlertService) {
	if alertService == nil {
		return
	}
	alertService.RegisterHandlers()
}
