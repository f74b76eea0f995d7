package handlers

import (
	"net/http"
	"strings"

	"github.com/gofiber/fiber/v2"

	"github.com/spec-kit/support-router/internal/api/dto"
	"github.com/spec-kit/support-router/internal/domain"
	"github.com/spec-kit/support-router/internal/repository"
	apperrors "github.com/spec-kit/support-router/pkg/errorutil"
)

// AdminHandler exposes read-only dashboard views over the ticket store.
type AdminHandler struct {
	repo repository.TicketRepository
}

// NewAdminHandler constructs handler.
func NewAdminHandler(repo repository.TicketRepository) *AdminHandler {
	return &AdminHandler{repo: repo}
}

// ListOpen handles GET /admin/tickets/open. Optional category and
// priority query filters narrow the listing.
func (h *AdminHandler) ListOpen(c *fiber.Ctx) error {
	ctx := c.UserContext()

	if category := strings.ToUpper(c.Query("category")); category != "" {
		if !domain.ValidCategory(domain.TicketCategory(category)) {
			return fiber.NewError(http.StatusBadRequest, "unknown category")
		}
		tickets, err := h.repo.ListByCategory(ctx, domain.TicketCategory(category))
		if err != nil {
			return apperrors.MapError(err)
		}
		return c.JSON(fiber.Map{"data": dto.FromTickets(tickets)})
	}

	if priority := strings.ToUpper(c.Query("priority")); priority != "" {
		if !domain.ValidPriority(domain.TicketPriority(priority)) {
			return fiber.NewError(http.StatusBadRequest, "unknown priority")
		}
		tickets, err := h.repo.ListByPriority(ctx, domain.TicketPriority(priority))
		if err != nil {
			return apperrors.MapError(err)
		}
		return c.JSON(fiber.Map{"data": dto.FromTickets(tickets)})
	}

	tickets, err := h.repo.ListOpen(ctx)
	if err != nil {
		return apperrors.MapError(err)
	}
	return c.JSON(fiber.Map{"data": dto.FromTickets(tickets)})
}

// ListBreached handles GET /admin/tickets/breached.
func (h *AdminHandler) ListBreached(c *fiber.Ctx) error {
	tickets, err := h.repo.ListSLABreached(c.UserContext())
	if err != nil {
		return apperrors.MapError(err)
	}
	return c.JSON(fiber.Map{"data": dto.FromTickets(tickets)})
}

// GetTicket handles GET /admin/tickets/:userID.
func (h *AdminHandler) GetTicket(c *fiber.Ctx) error {
	userID := c.Params("userID")
	ticket, err := h.repo.GetByUser(c.UserContext(), userID)
	if err != nil {
		if apperrors.IsNotFound(err) {
			return apperrors.NewNotFound("ticket", nil)
		}
		return apperrors.MapError(err)
	}
	return c.JSON(fiber.Map{"data": dto.FromTicket(*ticket)})
}

// Search handles GET /admin/tickets/search?q=term.
func (h *AdminHandler) Search(c *fiber.Ctx) error {
	term := strings.TrimSpace(c.Query("q"))
	if term == "" {
		return fiber.NewError(http.StatusBadRequest, "q required")
	}
	tickets, err := h.repo.Search(c.UserContext(), term)
	if err != nil {
		return apperrors.MapError(err)
	}
	return c.JSON(fiber.Map{"data": dto.FromTickets(tickets)})
}

// Stats handles GET /admin/stats.
func (h *AdminHandler) Stats(c *fiber.Ctx) error {
	stats, err := h.repo.GetStats(c.UserContext())
	if err != nil {
		return apperrors.MapError(err)
	}
	return c.JSON(fiber.Map{"data": dto.FromStats(stats)})
}
