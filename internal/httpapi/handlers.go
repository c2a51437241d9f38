// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Credence Contributors

package httpapi

import (
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"strconv"

	"github.com/oklog/ulid/v2"
	"github.com/samber/oops"

	"github.com/credence/credence/internal/auth"
	"github.com/credence/credence/internal/schema"
)

// decode reads the body, validates it against the named schema and
// unmarshals it into dst.
func (s *Server) decode(r *http.Request, schemaName string, dst any) error {
	body, err := io.ReadAll(r.Body)
	if err != nil {
		var tooLarge *http.MaxBytesError
		if errors.As(err, &tooLarge) {
			return invalidRequest(err, "body exceeds "+strconv.FormatInt(tooLarge.Limit, 10)+" bytes")
		}
		return invalidRequest(err, "body could not be read")
	}
	if err := s.schemas.ValidateJSON(schemaName, body); err != nil {
		return err
	}
	if err := json.Unmarshal(body, dst); err != nil {
		return invalidRequest(err, "body does not match the expected shape")
	}
	return nil
}

func invalidRequest(cause error, message string) error {
	return oops.Code(auth.CodeRequestInvalid).
		With("fields", []schema.FieldError{{Message: message}}).
		Wrap(cause)
}

func (s *Server) respond(w http.ResponseWriter, r *http.Request, status int, v any) {
	if err := writeJSON(w, status, v); err != nil {
		s.logger.WarnContext(r.Context(), "failed to write response",
			"path", r.URL.Path,
			"error", err)
	}
}

func (s *Server) handleRegister(w http.ResponseWriter, r *http.Request) {
	var req RegisterRequest
	if err := s.decode(r, SchemaRegister, &req); err != nil {
		writeError(w, r, s.logger, err)
		return
	}
	account, err := s.auth.Register(r.Context(), auth.RegisterInput{
		Email:     req.Email,
		Password:  req.Password,
		FirstName: req.FirstName,
		LastName:  req.LastName,
	})
	if err != nil {
		writeError(w, r, s.logger, err)
		return
	}
	w.Header().Set("Location", "/api/users/"+account.ID.String())
	s.respond(w, r, http.StatusCreated, accountResponse(account))
}

func (s *Server) handleVerify(w http.ResponseWriter, r *http.Request) {
	var req VerifyRequest
	if err := s.decode(r, SchemaVerify, &req); err != nil {
		writeError(w, r, s.logger, err)
		return
	}
	if err := s.auth.Verify(r.Context(), req.Email, req.Code); err != nil {
		writeError(w, r, s.logger, err)
		return
	}
	s.respond(w, r, http.StatusOK, MessageResponse{Message: "Account verified."})
}

func (s *Server) handleResend(w http.ResponseWriter, r *http.Request) {
	var req EmailRequest
	if err := s.decode(r, SchemaResend, &req); err != nil {
		writeError(w, r, s.logger, err)
		return
	}
	if err := s.auth.Resend(r.Context(), req.Email); err != nil {
		writeError(w, r, s.logger, err)
		return
	}
	s.respond(w, r, http.StatusOK, MessageResponse{Message: "Verification code sent."})
}

func (s *Server) handleLogin(w http.ResponseWriter, r *http.Request) {
	var req LoginRequest
	if err := s.decode(r, SchemaLogin, &req); err != nil {
		writeError(w, r, s.logger, err)
		return
	}
	result, err := s.auth.Login(r.Context(), req.Email, req.Password)
	if err != nil {
		writeError(w, r, s.logger, err)
		return
	}
	s.respond(w, r, http.StatusOK, TokenResponse{Token: result.Token})
}

func (s *Server) handleResetRequest(w http.ResponseWriter, r *http.Request) {
	var req EmailRequest
	if err := s.decode(r, SchemaResetRequest, &req); err != nil {
		writeError(w, r, s.logger, err)
		return
	}
	if err := s.auth.RequestReset(r.Context(), req.Email); err != nil {
		writeError(w, r, s.logger, err)
		return
	}
	s.respond(w, r, http.StatusOK, MessageResponse{Message: "Password reset link sent."})
}

func (s *Server) handleReset(w http.ResponseWriter, r *http.Request) {
	var req ResetPasswordRequest
	if err := s.decode(r, SchemaResetPassword, &req); err != nil {
		writeError(w, r, s.logger, err)
		return
	}
	if err := s.auth.ResetPassword(r.Context(), req.Token, req.Password); err != nil {
		writeError(w, r, s.logger, err)
		return
	}
	s.respond(w, r, http.StatusOK, MessageResponse{Message: "Password updated."})
}

// handleRenew exchanges a soft-expired token for a fresh one. It reads the
// header itself because the bearer middleware would renew implicitly.
func (s *Server) handleRenew(w http.ResponseWriter, r *http.Request) {
	raw, err := bearerToken(r)
	if err != nil {
		writeError(w, r, s.logger, err)
		return
	}
	renewed, err := s.auth.RenewToken(r.Context(), raw)
	if err != nil {
		writeError(w, r, s.logger, err)
		return
	}
	w.Header().Set("Authorization", "Bearer "+renewed)
	s.respond(w, r, http.StatusOK, TokenResponse{Token: renewed})
}

func (s *Server) handleMe(w http.ResponseWriter, r *http.Request) {
	principal := PrincipalFrom(r.Context())
	account, err := s.auth.GetAccount(r.Context(), principal, principal.AccountID)
	if err != nil {
		writeError(w, r, s.logger, err)
		return
	}
	s.respond(w, r, http.StatusOK, accountResponse(account))
}

// ListResponse is one page of accounts.
type ListResponse struct {
	Accounts []AccountResponse `json:"accounts"`
	Offset   int               `json:"offset"`
	Limit    int               `json:"limit"`
}

func (s *Server) handleList(w http.ResponseWriter, r *http.Request) {
	page, err := pageFromQuery(r)
	if err != nil {
		writeError(w, r, s.logger, err)
		return
	}
	accounts, err := s.auth.ListAccounts(r.Context(), PrincipalFrom(r.Context()), page)
	if err != nil {
		writeError(w, r, s.logger, err)
		return
	}

	page = page.Normalized()
	resp := ListResponse{
		Accounts: make([]AccountResponse, 0, len(accounts)),
		Offset:   page.Offset,
		Limit:    page.Limit,
	}
	for _, a := range accounts {
		resp.Accounts = append(resp.Accounts, accountResponse(a))
	}
	s.respond(w, r, http.StatusOK, resp)
}

func pageFromQuery(r *http.Request) (auth.Page, error) {
	var page auth.Page
	q := r.URL.Query()
	for _, p := range []struct {
		name string
		dst  *int
	}{
		{"offset", &page.Offset},
		{"limit", &page.Limit},
	} {
		raw := q.Get(p.name)
		if raw == "" {
			continue
		}
		n, err := strconv.Atoi(raw)
		if err != nil {
			return auth.Page{}, oops.Code(auth.CodeRequestInvalid).
				With("fields", []schema.FieldError{{Path: p.name, Message: "must be an integer"}}).
				Wrap(err)
		}
		*p.dst = n
	}
	return page, nil
}

func (s *Server) handleGet(w http.ResponseWriter, r *http.Request) {
	id, err := pathID(r)
	if err != nil {
		writeError(w, r, s.logger, err)
		return
	}
	account, err := s.auth.GetAccount(r.Context(), PrincipalFrom(r.Context()), id)
	if err != nil {
		writeError(w, r, s.logger, err)
		return
	}
	s.respond(w, r, http.StatusOK, accountResponse(account))
}

func (s *Server) handleUpdate(w http.ResponseWriter, r *http.Request) {
	id, err := pathID(r)
	if err != nil {
		writeError(w, r, s.logger, err)
		return
	}
	var req UpdateProfileRequest
	if err := s.decode(r, SchemaUpdateProfile, &req); err != nil {
		writeError(w, r, s.logger, err)
		return
	}
	account, err := s.auth.UpdateProfile(r.Context(), PrincipalFrom(r.Context()), id, req.update())
	if err != nil {
		writeError(w, r, s.logger, err)
		return
	}
	s.respond(w, r, http.StatusOK, accountResponse(account))
}

func (s *Server) handleDelete(w http.ResponseWriter, r *http.Request) {
	id, err := pathID(r)
	if err != nil {
		writeError(w, r, s.logger, err)
		return
	}
	if err := s.auth.DeleteAccount(r.Context(), PrincipalFrom(r.Context()), id); err != nil {
		writeError(w, r, s.logger, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func pathID(r *http.Request) (ulid.ULID, error) {
	raw := r.PathValue("id")
	id, err := ulid.ParseStrict(raw)
	if err != nil {
		return ulid.ULID{}, oops.Code(auth.CodeRequestInvalid).
			With("fields", []schema.FieldError{{Path: "id", Message: "must be an account id"}}).
			Wrap(err)
	}
	return id, nil
}
