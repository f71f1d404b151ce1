package handlers

import (
	"github.com/gofiber/fiber/v2"
	"github.com/google/uuid"
	"github.com/pkg/errors"

	"github.com/distributed-ecommerce-saga/product-service/internal/domain"
)

const serverErrorMessage = "Server error"

func messageResponse(c *fiber.Ctx, status int, message string) error {
	requestID(c)
	return c.Status(status).JSON(fiber.Map{"message": message})
}

func serverErrorResponse(c *fiber.Ctx, err error) error {
	requestID(c)
	return c.Status(fiber.StatusInternalServerError).JSON(fiber.Map{
		"message": serverErrorMessage,
		"error":   err.Error(),
	})
}

func outOfStockResponse(c *fiber.Ctx, oos *domain.OutOfStockError) error {
	requestID(c)
	return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{
		"message":         "Some items are out of stock",
		"outOfStockItems": oos.Items,
	})
}

// errorResponse maps a service error onto its HTTP status.
func errorResponse(c *fiber.Ctx, err error) error {
	var oos *domain.OutOfStockError
	if errors.As(err, &oos) {
		return outOfStockResponse(c, oos)
	}

	var de *domain.Error
	if !errors.As(err, &de) {
		return serverErrorResponse(c, err)
	}

	switch de.Kind {
	case domain.KindNotFound:
		return messageResponse(c, fiber.StatusNotFound, de.Message)
	case domain.KindInvalidRequest:
		return messageResponse(c, fiber.StatusBadRequest, de.Message)
	case domain.KindConflict:
		requestID(c)
		return c.Status(fiber.StatusConflict).JSON(fiber.Map{
			"message": de.Message,
			"error":   err.Error(),
		})
	default:
		return serverErrorResponse(c, err)
	}
}

func requestID(c *fiber.Ctx) string {
	id := c.Get(fiber.HeaderXRequestID)
	if id == "" {
		id = uuid.New().String()
	}
	c.Set(fiber.HeaderXRequestID, id)
	return id
}
