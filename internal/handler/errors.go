package handler

import (
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"

	"github.com/hitoshi/wizary/internal/middleware"
	"github.com/hitoshi/wizary/internal/model"
)

// maxRequestBodyBytes はJSONリクエストボディの上限サイズ。
const maxRequestBodyBytes = 1 << 20

// writeAPIErrorResponse は統一エラーフォーマットでエラーレスポンスを書き込む。
func writeAPIErrorResponse(w http.ResponseWriter, statusCode int, apiErr *model.APIError) {
	middleware.WriteErrorResponse(w, statusCode, apiErr)
}

// writeJSON はステータスコードとJSONボディを書き込む。
func writeJSON(w http.ResponseWriter, statusCode int, body any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(statusCode)
	if err := json.NewEncoder(w).Encode(body); err != nil {
		slog.Error("failed to encode response", slog.String("error", err.Error()))
	}
}

// decodeJSON はリクエストボディをデコードする。失敗時は400を書き込みfalseを返す。
func decodeJSON(w http.ResponseWriter, r *http.Request, dst any) bool {
	r.Body = http.MaxBytesReader(w, r.Body, maxRequestBodyBytes)
	if err := json.NewDecoder(r.Body).Decode(dst); err != nil {
		writeAPIErrorResponse(w, http.StatusBadRequest, model.NewInvalidRequestError("JSONの解析に失敗しました"))
		return false
	}
	return true
}

// handleServiceError はサービス層から返されたエラーを適切なHTTPステータスコードに変換する。
// 内部の原因はログにのみ記録し、クライアントには分類済みのエラーだけを返す。
func handleServiceError(w http.ResponseWriter, err error) {
	var apiErr *model.APIError
	if errors.As(err, &apiErr) {
		writeAPIErrorResponse(w, mapAPIErrorToHTTPStatus(apiErr), apiErr)
		return
	}

	switch {
	case errors.Is(err, model.ErrStoreUnavailable):
		slog.Warn("store unavailable", slog.String("error", err.Error()))
		writeAPIErrorResponse(w, http.StatusServiceUnavailable, model.NewStoreUnavailableError())
	case errors.Is(err, model.ErrInvalidCredentials):
		writeAPIErrorResponse(w, http.StatusUnauthorized, model.NewInvalidCredentialsError())
	case errors.Is(err, model.ErrUnauthenticated):
		writeAPIErrorResponse(w, http.StatusUnauthorized, model.NewUnauthorizedError())
	case errors.Is(err, model.ErrInvalidRegistrationCode):
		writeAPIErrorResponse(w, http.StatusBadRequest, model.NewInvalidRegistrationCodeError())
	case errors.Is(err, model.ErrEmailTaken):
		writeAPIErrorResponse(w, http.StatusConflict, model.NewEmailTakenError())
	case errors.Is(err, model.ErrUserNotFound):
		writeAPIErrorResponse(w, http.StatusNotFound, model.NewUserNotFoundError())
	default:
		slog.Error("internal server error", slog.String("error", err.Error()))
		middleware.WriteInternalServerError(w)
	}
}

// mapAPIErrorToHTTPStatus はAPIErrorコードからHTTPステータスコードにマッピングする。
func mapAPIErrorToHTTPStatus(apiErr *model.APIError) int {
	switch apiErr.Code {
	case model.ErrCodeInvalidCredentials, model.ErrCodeUnauthorized:
		return http.StatusUnauthorized
	case model.ErrCodeForbidden:
		return http.StatusForbidden
	case model.ErrCodeInvalidRequest, model.ErrCodeInvalidRegistration, model.ErrCodeInvalidGrant:
		return http.StatusBadRequest
	case model.ErrCodeEmailTaken:
		return http.StatusConflict
	case model.ErrCodeUserNotFound, model.ErrCodeSubscriptionMissing:
		return http.StatusNotFound
	case model.ErrCodeRateLimitExceeded:
		return http.StatusTooManyRequests
	case model.ErrCodeStoreUnavailable:
		return http.StatusServiceUnavailable
	default:
		return http.StatusInternalServerError
	}
}
