package providers

import (
	"encoding/json"
	"errors"

	"github.com/gofiber/fiber/v3"
	"github.com/gofiber/fiber/v3/middleware/adaptor"
	"github.com/orchestra-mcp/socketclient/src/types"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// RegisterRoutes registers the control routes via Fiber.
func (p *SocketClientProvider) RegisterRoutes(group fiber.Router) {
	group.Get("/ws/info", p.handleInfo)
	group.Post("/ws/send", p.handleSend)
	group.Post("/ws/tools/:name", p.handleTool)
	group.Get("/metrics", p.handleMetrics)
}

func (p *SocketClientProvider) handleInfo(c fiber.Ctx) error {
	if p.service == nil {
		return fiber.NewError(fiber.StatusServiceUnavailable, ErrNotActive.Error())
	}
	return c.JSON(fiber.Map{
		"connection": p.service.Status(),
		"bridge":     p.BridgeAvailable(),
	})
}

type sendRequest struct {
	Type string          `json:"type"`
	Data json.RawMessage `json:"data"`
}

func (p *SocketClientProvider) handleSend(c fiber.Ctx) error {
	if p.service == nil {
		return fiber.NewError(fiber.StatusServiceUnavailable, ErrNotActive.Error())
	}

	var req sendRequest
	if err := json.Unmarshal(c.Body(), &req); err != nil {
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{
			"error":   "invalid_body",
			"message": err.Error(),
		})
	}
	if req.Type == "" {
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{
			"error":   "invalid_body",
			"message": "type is required",
		})
	}

	var data any
	if len(req.Data) > 0 {
		data = req.Data
	}
	if err := p.service.Publish(req.Type, data); err != nil {
		status := fiber.StatusInternalServerError
		if errors.Is(err, types.ErrNotConnected) {
			status = fiber.StatusServiceUnavailable
		}
		return c.Status(status).JSON(fiber.Map{
			"error":   "not_sent",
			"message": err.Error(),
		})
	}
	return c.Status(fiber.StatusAccepted).JSON(fiber.Map{"sent": true, "type": req.Type})
}

func (p *SocketClientProvider) handleTool(c fiber.Ctx) error {
	tool, ok := p.findTool(c.Params("name"))
	if !ok {
		return c.Status(fiber.StatusNotFound).JSON(fiber.Map{
			"error":   "unknown_tool",
			"message": c.Params("name"),
		})
	}

	input := map[string]any{}
	if body := c.Body(); len(body) > 0 {
		if err := json.Unmarshal(body, &input); err != nil {
			return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{
				"error":   "invalid_body",
				"message": err.Error(),
			})
		}
	}

	result, err := tool.Handler(input)
	if err != nil {
		return c.Status(fiber.StatusUnprocessableEntity).JSON(fiber.Map{
			"error":   "tool_failed",
			"message": err.Error(),
		})
	}
	return c.JSON(result)
}

func (p *SocketClientProvider) handleMetrics(c fiber.Ctx) error {
	if p.registry == nil {
		return fiber.NewError(fiber.StatusServiceUnavailable, ErrNotActive.Error())
	}
	return adaptor.HTTPHandler(promhttp.HandlerFor(p.registry, promhttp.HandlerOpts{}))(c)
}
