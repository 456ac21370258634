package handler

import (
	"net/http"

	"deposit-service/pkg/response"
	"deposit-service/pkg/xerrors"

	"go.uber.org/zap"
)

// statusFor maps an error to its HTTP status.
func statusFor(err error) int {
	switch xerrors.KindOf(err) {
	case xerrors.KindValidation:
		return http.StatusBadRequest
	case xerrors.KindConflict:
		return http.StatusConflict
	case xerrors.KindNotFound:
		return http.StatusNotFound
	case xerrors.KindTransient:
		return http.StatusServiceUnavailable
	case xerrors.KindUnauthorized:
		return http.StatusUnauthorized
	case xerrors.KindForbidden:
		return http.StatusForbidden
	}
	return http.StatusInternalServerError
}

// writeError sends the error envelope. Internal errors are logged and
// replaced by a fixed message.
func writeError(w http.ResponseWriter, logger *zap.Logger, err error) {
	status := statusFor(err)
	msg := err.Error()
	switch status {
	case http.StatusInternalServerError:
		logger.Error("request failed", zap.Error(err))
		msg = xerrors.ErrInternalServer.Error()
	case http.StatusServiceUnavailable:
		logger.Warn("request failed with temporary error", zap.Error(err))
		msg = xerrors.ErrTransient.Error()
	}
	response.Error(w, status, msg)
}
