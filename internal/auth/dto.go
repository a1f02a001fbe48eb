package auth

import "github.com/frahmantamala/memory-permissions/internal/user"

type RegisterDTO struct {
	Email           string `json:"email"`
	Password        string `json:"password"`
	ConfirmPassword string `json:"confirmPassword"`
}

// LoginDTO is the transport shape used by the HTTP handler to accept login requests.
type LoginDTO struct {
	Email    string `json:"email"`
	Password string `json:"password"`
}

// AuthResult is returned by register and login.
type AuthResult struct {
	User  *user.User `json:"user"`
	Token string     `json:"token"`
}

type VerifyResponse struct {
	User *user.User `json:"user"`
}

type LogoutResponse struct {
	Message string `json:"message"`
}
