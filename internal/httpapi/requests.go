// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Credence Contributors

package httpapi

import (
	"time"

	"github.com/credence/credence/internal/auth"
	"github.com/credence/credence/internal/schema"
)

// Schema names for request bodies.
const (
	SchemaRegister      = "register-request"
	SchemaVerify        = "verify-request"
	SchemaResend        = "resend-request"
	SchemaLogin         = "login-request"
	SchemaResetRequest  = "reset-request"
	SchemaResetPassword = "reset-password-request"
	SchemaUpdateProfile = "update-profile-request"
)

// RegisterRequest is the body of POST /api/auth/register.
type RegisterRequest struct {
	Email     string `json:"email" jsonschema:"required,format=email,description=Login email address"`
	Password  string `json:"password" jsonschema:"required,minLength=6,maxLength=128"`
	FirstName string `json:"first_name,omitempty" jsonschema:"maxLength=100"`
	LastName  string `json:"last_name,omitempty" jsonschema:"maxLength=100"`
}

// VerifyRequest is the body of POST /api/auth/verify.
type VerifyRequest struct {
	Email string `json:"email" jsonschema:"required,format=email"`
	Code  string `json:"code" jsonschema:"required,pattern=^[0-9]{6}$,description=Six digit code from the verification email"`
}

// EmailRequest is the body of the resend and reset-request endpoints.
type EmailRequest struct {
	Email string `json:"email" jsonschema:"required,format=email"`
}

// LoginRequest is the body of POST /api/auth/login.
type LoginRequest struct {
	Email    string `json:"email" jsonschema:"required,minLength=1"`
	Password string `json:"password" jsonschema:"required,minLength=1"`
}

// ResetPasswordRequest is the body of POST /api/auth/reset.
type ResetPasswordRequest struct {
	Token    string `json:"token" jsonschema:"required,pattern=^[0-9a-f]{64}$"`
	Password string `json:"password" jsonschema:"required,minLength=6,maxLength=128"`
}

// UpdateProfileRequest is the body of PUT /api/users/{id}. Absent fields are
// left unchanged.
type UpdateProfileRequest struct {
	Email     *string    `json:"email,omitempty" jsonschema:"format=email"`
	FirstName *string    `json:"first_name,omitempty" jsonschema:"maxLength=100"`
	LastName  *string    `json:"last_name,omitempty" jsonschema:"maxLength=100"`
	Role      *auth.Role `json:"role,omitempty" jsonschema:"enum=USER,enum=ADMIN"`
}

func (r UpdateProfileRequest) update() auth.ProfileUpdate {
	return auth.ProfileUpdate{
		Email:     r.Email,
		FirstName: r.FirstName,
		LastName:  r.LastName,
		Role:      r.Role,
	}
}

// RequestSchemas lists every request body the API validates.
func RequestSchemas() []schema.Definition {
	return []schema.Definition{
		{Name: SchemaRegister, Title: "Register", Description: "Self-registration of a new account", Prototype: &RegisterRequest{}},
		{Name: SchemaVerify, Title: "Verify", Description: "Email verification with a six digit code", Prototype: &VerifyRequest{}},
		{Name: SchemaResend, Title: "Resend", Description: "Request a new verification code", Prototype: &EmailRequest{}},
		{Name: SchemaLogin, Title: "Login", Description: "Password login", Prototype: &LoginRequest{}},
		{Name: SchemaResetRequest, Title: "Reset request", Description: "Request a password reset email", Prototype: &EmailRequest{}},
		{Name: SchemaResetPassword, Title: "Reset password", Description: "Redeem a password reset token", Prototype: &ResetPasswordRequest{}},
		{Name: SchemaUpdateProfile, Title: "Update profile", Description: "Partial profile update", Prototype: &UpdateProfileRequest{}},
	}
}

// AccountResponse is the public view of an account.
type AccountResponse struct {
	ID        string    `json:"id"`
	Email     string    `json:"email"`
	FirstName string    `json:"first_name,omitempty"`
	LastName  string    `json:"last_name,omitempty"`
	Role      auth.Role `json:"role"`
	Verified  bool      `json:"verified"`
	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

func accountResponse(a *auth.Account) AccountResponse {
	return AccountResponse{
		ID:        a.ID.String(),
		Email:     a.Email,
		FirstName: a.FirstName,
		LastName:  a.LastName,
		Role:      a.Role,
		Verified:  a.Enabled,
		CreatedAt: a.CreatedAt,
		UpdatedAt: a.UpdatedAt,
	}
}

// TokenResponse carries a bearer token.
type TokenResponse struct {
	Token string `json:"token"`
}

// MessageResponse is the body of operations with nothing else to return.
type MessageResponse struct {
	Message string `json:"message"`
}
