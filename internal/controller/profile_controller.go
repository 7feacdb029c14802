package controller

import (
	"context"

	"github.com/gofiber/fiber/v2"

	"github.com/xaenox/medichat/internal/dto"
	"github.com/xaenox/medichat/internal/models"
	"github.com/xaenox/medichat/internal/pkg/serverutils"
)

type ProfileRepository interface {
	GetProfile(ctx context.Context, ownerID string) (*models.User, error)
	UpdateProfileName(ctx context.Context, ownerID, name string) error
}

type ProfileController struct {
	repo ProfileRepository
}

func NewProfileController(repo ProfileRepository) *ProfileController {
	return &ProfileController{repo: repo}
}

func (c *ProfileController) RegisterRoutes(r fiber.Router, auth fiber.Handler) {
	h := r.Group("/profile/v1", auth)
	h.Get("", c.GetProfile)
	h.Put("", c.UpdateProfile)
}

func (c *ProfileController) GetProfile(ctx *fiber.Ctx) error {
	user, err := c.repo.GetProfile(ctx.UserContext(), serverutils.CallerID(ctx))
	if err != nil {
		return err
	}
	if user == nil {
		return models.NotFoundError("profile", "profile not found")
	}
	return ctx.JSON(serverutils.SuccessResponse("User profile", user))
}

func (c *ProfileController) UpdateProfile(ctx *fiber.Ctx) error {
	var req dto.UpdateProfileRequest
	if err := ctx.BodyParser(&req); err != nil {
		return fiber.NewError(fiber.StatusBadRequest, "Invalid request body")
	}
	if err := serverutils.ValidateRequest(req); err != nil {
		return err
	}

	if err := c.repo.UpdateProfileName(ctx.UserContext(), serverutils.CallerID(ctx), req.Name); err != nil {
		return err
	}
	return ctx.JSON(serverutils.SuccessResponse[any]("Profile updated", nil))
}
