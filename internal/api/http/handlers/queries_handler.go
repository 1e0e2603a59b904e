package handlers

import (
	"strconv"
	"strings"

	"github.com/gofiber/fiber/v2"

	"github.com/spec-kit/query-service/internal/api/dto"
	"github.com/spec-kit/query-service/internal/domain"
	"github.com/spec-kit/query-service/internal/service"
	apperrors "github.com/spec-kit/query-service/pkg/util/errorutil"
)

// QueriesHandler exposes the query lifecycle over HTTP.
type QueriesHandler struct {
	service *service.QueryService
}

// NewQueriesHandler constructs handler.
func NewQueriesHandler(queryService *service.QueryService) *QueriesHandler {
	return &QueriesHandler{service: queryService}
}

// Ingest POST /api/queries/ingest.
func (h *QueriesHandler) Ingest(c *fiber.Ctx) error {
	var req dto.IngestQueryRequest
	if err := c.BodyParser(&req); err != nil {
		return apperrors.NewValidationError("invalid payload", nil)
	}

	q, err := h.service.Ingest(c.UserContext(), service.IngestInput{
		SourceChannel: req.SourceChannel,
		SourceID:      req.SourceID,
		RawText:       req.RawText,
	})
	if err != nil {
		return err
	}
	return c.Status(fiber.StatusCreated).JSON(fiber.Map{
		"msg":  "Query ingested successfully",
		"data": dto.NewQueryResponse(q),
	})
}

// Update POST /api/queries/:id/update.
func (h *QueriesHandler) Update(c *fiber.Ctx) error {
	var req dto.UpdateQueryRequest
	if err := c.BodyParser(&req); err != nil {
		return apperrors.NewValidationError("invalid payload", nil)
	}

	q, err := h.service.Update(c.UserContext(), c.Params("id"), service.UpdateInput{
		Status:     req.Status,
		AssignedTo: req.AssignedTo,
		Action:     req.Action,
		Details:    req.Details,
	})
	if err != nil {
		return err
	}
	return c.JSON(fiber.Map{"data": dto.NewQueryResponse(q)})
}

// Get GET /api/queries/:id.
func (h *QueriesHandler) Get(c *fiber.Ctx) error {
	q, err := h.service.Get(c.UserContext(), c.Params("id"))
	if err != nil {
		return err
	}
	return c.JSON(fiber.Map{"data": dto.NewQueryResponse(q)})
}

// List GET /api/queries.
func (h *QueriesHandler) List(c *fiber.Ctx) error {
	input, err := parseListQuery(c)
	if err != nil {
		return err
	}
	queries, err := h.service.List(c.UserContext(), input)
	if err != nil {
		return err
	}
	items := make([]dto.QueryResponse, 0, len(queries))
	for i := range queries {
		items = append(items, dto.NewQueryResponse(&queries[i]))
	}
	return c.JSON(fiber.Map{"data": items})
}

func parseListQuery(c *fiber.Ctx) (service.ListInput, error) {
	input := service.ListInput{
		Statuses:   splitList(c.Query("status")),
		Priorities: splitList(c.Query("priority")),
		Channels:   splitList(c.Query("sourceChannel")),
	}
	if c.Context().QueryArgs().Has("assignedTo") {
		assignee := c.Query("assignedTo")
		if assignee == "" {
			assignee = domain.Unassigned
		}
		input.AssignedTo = &assignee
	}

	var err error
	if input.Limit, err = parseNonNegative(c.Query("limit"), "limit"); err != nil {
		return input, err
	}
	if input.Offset, err = parseNonNegative(c.Query("offset"), "offset"); err != nil {
		return input, err
	}
	return input, nil
}

func splitList(val string) []string {
	if strings.TrimSpace(val) == "" {
		return nil
	}
	parts := strings.Split(val, ",")
	out := make([]string, 0, len(parts))
	for _, part := range parts {
		if trimmed := strings.TrimSpace(part); trimmed != "" {
			out = append(out, trimmed)
		}
	}
	return out
}

func parseNonNegative(val, field string) (int, error) {
	if val == "" {
		return 0, nil
	}
	n, err := strconv.Atoi(val)
	if err != nil || n < 0 {
		return 0, apperrors.NewValidationError("invalid "+field, map[string]any{field: val})
	}
	return n, nil
}
