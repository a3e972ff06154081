package api

import (
	"encoding/json"
	"errors"
	"net/http"
	"strconv"

	"github.com/felipepmaragno/chat-gateway/internal/budget"
	"github.com/felipepmaragno/chat-gateway/internal/domain"
)

const (
	CodeUnauthorized        = "UNAUTHORIZED"
	CodeRateLimited         = "RATE_LIMITED"
	CodeInvalidRequest      = "INVALID_REQUEST"
	CodeNoProviders         = "NO_PROVIDERS"
	CodeProviderRateLimited = "PROVIDER_RATE_LIMITED"
	CodeProviderAuthFailed  = "PROVIDER_AUTH_FAILED"
	CodeProviderUnavailable = "PROVIDER_UNAVAILABLE"
	CodeInternalError       = "INTERNAL_ERROR"
)

// ErrorResponse is the body of every non-2xx answer.
type ErrorResponse struct {
	Error             string         `json:"error"`
	ErrorCode         string         `json:"error_code"`
	Messages          *Messages      `json:"messages,omitempty"`
	Details           map[string]any `json:"details,omitempty"`
	RetryAfterSeconds int            `json:"retry_after_seconds,omitempty"`
}

// Messages is ready for direct display in either UI language.
type Messages struct {
	En string `json:"en"`
	Ar string `json:"ar"`
}

var messages = map[string]Messages{
	CodeUnauthorized: {
		En: "Please sign in again.",
		Ar: "يرجى تسجيل الدخول مرة أخرى.",
	},
	CodeRateLimited: {
		En: "You are sending messages too quickly. Please wait a moment.",
		Ar: "أنت ترسل الرسائل بسرعة كبيرة. يرجى الانتظار قليلاً.",
	},
	CodeInvalidRequest: {
		En: "The request could not be understood.",
		Ar: "تعذر فهم الطلب.",
	},
	string(budget.ReasonDailyBudget): {
		En: "You have reached your daily usage limit. It resets tomorrow.",
		Ar: "لقد وصلت إلى حد الاستخدام اليومي. سيتم إعادة تعيينه غداً.",
	},
	string(budget.ReasonCreditLimit): {
		En: "You have used all of your credits.",
		Ar: "لقد استخدمت كل رصيدك.",
	},
	string(budget.ReasonProjectBudget): {
		En: "This project has reached its monthly budget.",
		Ar: "وصل هذا المشروع إلى ميزانيته الشهرية.",
	},
	CodeNoProviders: {
		En: "No AI model is available right now.",
		Ar: "لا يتوفر أي نموذج ذكاء اصطناعي حالياً.",
	},
	CodeProviderRateLimited: {
		En: "The AI service is busy. Please try again shortly.",
		Ar: "خدمة الذكاء الاصطناعي مشغولة. يرجى المحاولة بعد قليل.",
	},
	CodeProviderAuthFailed: {
		En: "The AI service rejected the gateway credentials.",
		Ar: "رفضت خدمة الذكاء الاصطناعي بيانات الاعتماد.",
	},
	CodeProviderUnavailable: {
		En: "The AI service is temporarily unavailable.",
		Ar: "خدمة الذكاء الاصطناعي غير متاحة مؤقتاً.",
	},
	CodeInternalError: {
		En: "Something went wrong. Please try again.",
		Ar: "حدث خطأ ما. يرجى المحاولة مرة أخرى.",
	},
}

// classify maps an error from the turn pipeline or the dispatcher to an HTTP
// status and response body.
func classify(err error) (int, ErrorResponse) {
	var (
		exceeded *budget.ExceededError
		provErr  *domain.ProviderError
	)

	switch {
	case errors.As(err, &exceeded):
		return http.StatusPaymentRequired, newErrorResponse(string(exceeded.Reason), "budget exceeded", exceeded.Details)
	case errors.Is(err, domain.ErrUnauthorized):
		return http.StatusUnauthorized, newErrorResponse(CodeUnauthorized, "unauthorized", nil)
	case errors.Is(err, domain.ErrInvalidRequest):
		return http.StatusBadRequest, newErrorResponse(CodeInvalidRequest, err.Error(), nil)
	case errors.Is(err, domain.ErrNoProviders), errors.Is(err, domain.ErrProviderNotConfigured):
		return http.StatusServiceUnavailable, newErrorResponse(CodeNoProviders, "no AI provider is configured", nil)
	case errors.Is(err, domain.ErrCircuitBreakerOpen):
		return http.StatusServiceUnavailable, newErrorResponse(CodeProviderUnavailable, "provider temporarily unavailable", nil)
	case errors.As(err, &provErr):
		return classifyProvider(provErr)
	default:
		return http.StatusInternalServerError, newErrorResponse(CodeInternalError, "internal error", nil)
	}
}

func classifyProvider(e *domain.ProviderError) (int, ErrorResponse) {
	details := map[string]any{"provider": string(e.Provider), "status": e.StatusCode}
	switch {
	case e.StatusCode == http.StatusTooManyRequests:
		return http.StatusTooManyRequests, newErrorResponse(CodeProviderRateLimited, "provider rate limit exceeded", details)
	case e.StatusCode == http.StatusUnauthorized, e.StatusCode == http.StatusForbidden:
		return http.StatusUnauthorized, newErrorResponse(CodeProviderAuthFailed, "invalid provider credential", details)
	case e.StatusCode >= 500:
		return http.StatusServiceUnavailable, newErrorResponse(CodeProviderUnavailable, "provider unavailable", details)
	default:
		return http.StatusInternalServerError, newErrorResponse(CodeInternalError, "provider request failed", details)
	}
}

func newErrorResponse(code, message string, details map[string]any) ErrorResponse {
	resp := ErrorResponse{Error: message, ErrorCode: code, Details: details}
	if m, ok := messages[code]; ok {
		resp.Messages = &m
	}
	return resp
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, err error) {
	status, resp := classify(err)
	writeJSON(w, status, resp)
}

func writeRateLimited(w http.ResponseWriter, retryAfter int) {
	resp := newErrorResponse(CodeRateLimited, "rate limit exceeded", nil)
	resp.RetryAfterSeconds = retryAfter
	w.Header().Set("Retry-After", strconv.Itoa(retryAfter))
	writeJSON(w, http.StatusTooManyRequests, resp)
}
