package handlers

import (
	"fmt"

	"github.com/gofiber/fiber/v2"
)

func HealthCheck(serviceName string) fiber.Handler {
	return func(c *fiber.Ctx) error {
		return c.Status(fiber.StatusOK).JSON(fiber.Map{
			"status":  "ok",
			"service": serviceName,
		})
	}
}

func RouteNotFound(c *fiber.Ctx) error {
	return messageResponse(c, fiber.StatusNotFound, fmt.Sprintf("Route not found: %s %s", c.Method(), c.OriginalURL()))
}
