package dto

import "github.com/xaenox/medichat/internal/models"

type SignUpRequest struct {
	Name     string `json:"name" validate:"required,max=100"`
	Email    string `json:"email" validate:"required,email"`
	Password string `json:"password" validate:"required,min=8,max=72"`
}

type SignInRequest struct {
	Email    string `json:"email" validate:"required,email"`
	Password string `json:"password" validate:"required"`
}

type AuthResponse struct {
	Token string       `json:"token"`
	User  *models.User `json:"user"`
}

type UpdateProfileRequest struct {
	Name string `json:"name" validate:"required,max=100"`
}

type CreateSessionRequest struct {
	ID string `json:"id" validate:"omitempty,max=64"`
}

type RenameSessionRequest struct {
	Name string `json:"name" validate:"required,max=100"`
}

type SendMessageRequest struct {
	Text    string `json:"text" validate:"required,max=4000"`
	Context string `json:"context" validate:"required,oneof=symptoms general_info"`
}
