package controller

import (
	"context"

	"github.com/gofiber/fiber/v2"

	"github.com/xaenox/medichat/internal/dto"
	"github.com/xaenox/medichat/internal/models"
	"github.com/xaenox/medichat/internal/pkg/serverutils"
)

type AuthService interface {
	SignUp(ctx context.Context, name, email, password string) (string, *models.User, error)
	SignIn(ctx context.Context, email, password string) (string, *models.User, error)
}

type AuthController struct {
	service AuthService
}

func NewAuthController(service AuthService) *AuthController {
	return &AuthController{service: service}
}

func (c *AuthController) RegisterRoutes(r fiber.Router) {
	h := r.Group("/auth/v1")
	h.Post("/signup", c.SignUp)
	h.Post("/signin", c.SignIn)
}

func (c *AuthController) SignUp(ctx *fiber.Ctx) error {
	var req dto.SignUpRequest
	if err := ctx.BodyParser(&req); err != nil {
		return fiber.NewError(fiber.StatusBadRequest, "Invalid request body")
	}
	if err := serverutils.ValidateRequest(req); err != nil {
		return err
	}

	token, user, err := c.service.SignUp(ctx.UserContext(), req.Name, req.Email, req.Password)
	if err != nil {
		return err
	}
	return ctx.Status(fiber.StatusCreated).JSON(serverutils.SuccessResponse("Signed up", dto.AuthResponse{Token: token, User: user}))
}

func (c *AuthController) SignIn(ctx *fiber.Ctx) error {
	var req dto.SignInRequest
	if err := ctx.BodyParser(&req); err != nil {
		return fiber.NewError(fiber.StatusBadRequest, "Invalid request body")
	}
	if err := serverutils.ValidateRequest(req); err != nil {
		return err
	}

	token, user, err := c.service.SignIn(ctx.UserContext(), req.Email, req.Password)
	if err != nil {
		return err
	}
	return ctx.JSON(serverutils.SuccessResponse("Signed in", dto.AuthResponse{Token: token, User: user}))
}
