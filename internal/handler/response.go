package handler

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"net/http"

	"go-identity-service/internal/middleware"
	"go-identity-service/internal/model"
	"go-identity-service/pkg/apierror"
)

const maxBodyBytes = 1 << 16

func writeSuccess(w http.ResponseWriter, status int, data any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(model.APIResponse{
		Success: true,
		Data:    data,
	})
}

// decodeJSON reads a bounded JSON body into dst.
func decodeJSON(w http.ResponseWriter, r *http.Request, dst any) error {
	defer r.Body.Close()

	dec := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxBodyBytes))
	if err := dec.Decode(dst); err != nil {
		var tooLarge *http.MaxBytesError
		if errors.As(err, &tooLarge) {
			return apierror.New("PAYLOAD_TOO_LARGE", "request body is too large", "", http.StatusRequestEntityTooLarge)
		}
		if errors.Is(err, io.EOF) {
			return apierror.New("BAD_REQUEST", "request body is required", "", http.StatusBadRequest)
		}
		return apierror.New("BAD_REQUEST", "invalid JSON body", "", http.StatusBadRequest)
	}
	return nil
}

func writeError(w http.ResponseWriter, r *http.Request, err error) {
	status := http.StatusInternalServerError
	body := &model.APIError{
		Code:    "INTERNAL_ERROR",
		Message: "Unexpected server error",
	}

	var apiErr *apierror.APIError
	var conflict *model.ConflictError
	if errors.As(err, &apiErr) {
		status = apiErr.HTTPStatus
		body.Code = apiErr.Code
		body.Message = apiErr.Message
		body.Details = apiErr.Details
	} else if errors.Is(err, model.ErrAuthenticationFailed) {
		status = http.StatusUnauthorized
		body.Code = "AUTHENTICATION_FAILED"
		body.Message = "Invalid credentials"
	} else if errors.Is(err, model.ErrTokenExpired) {
		status = http.StatusUnauthorized
		body.Code = "TOKEN_EXPIRED"
		body.Message = "Token has expired"
	} else if errors.Is(err, model.ErrTokenInvalid) {
		status = http.StatusUnauthorized
		body.Code = "TOKEN_INVALID"
		body.Message = "Token is invalid"
	} else if errors.Is(err, model.ErrSessionNotFound) {
		status = http.StatusUnauthorized
		body.Code = "SESSION_NOT_FOUND"
		body.Message = "Session has ended"
	} else if errors.Is(err, model.ErrInvalidCode) {
		status = http.StatusBadRequest
		body.Code = "INVALID_CODE"
		body.Message = "Verification code is invalid or expired"
	} else if errors.As(err, &conflict) {
		status = http.StatusConflict
		body.Code = "CONFLICT"
		body.Message = "Account already exists"
		body.Details = conflict.Field
	} else if errors.Is(err, model.ErrConflict) {
		status = http.StatusConflict
		body.Code = "CONFLICT"
		body.Message = "Account already exists"
	} else if errors.Is(err, model.ErrBirthdayAlreadySet) {
		status = http.StatusConflict
		body.Code = "BIRTHDAY_ALREADY_SET"
		body.Message = "Birthday can only be set once"
		body.Details = "birthday"
	} else if errors.Is(err, model.ErrUserNotFound) {
		status = http.StatusNotFound
		body.Code = "NOT_FOUND"
		body.Message = "User not found"
	} else if errors.Is(err, model.ErrInvalidInput) {
		status = http.StatusBadRequest
		body.Code = "BAD_REQUEST"
		body.Message = "Invalid input"
	} else if errors.Is(err, model.ErrStorageUnavailable) {
		status = http.StatusServiceUnavailable
		body.Code = "SERVICE_UNAVAILABLE"
		body.Message = "Service temporarily unavailable"
		w.Header().Set("Retry-After", "5")
		slog.Error("storage unavailable", "request_id", middleware.RequestIDFromContext(r.Context()), "error", err.Error())
	} else if errors.Is(err, model.ErrDeliveryFailed) {
		status = http.StatusBadGateway
		body.Code = "DELIVERY_FAILED"
		body.Message = "Verification code could not be delivered"
		slog.Error("verification delivery failed", "request_id", middleware.RequestIDFromContext(r.Context()), "error", err.Error())
	} else if errors.Is(err, context.DeadlineExceeded) || errors.Is(err, context.Canceled) {
		status = http.StatusServiceUnavailable
		body.Code = "REQUEST_TIMEOUT"
		body.Message = "Request timed out"
	} else {
		slog.Error("unhandled error in writeError", "request_id", middleware.RequestIDFromContext(r.Context()), "error", err.Error())
	}

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(model.APIResponse{
		Success: false,
		Error:   body,
	})
}
