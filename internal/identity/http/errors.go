package http

import (
	"errors"
	"net/http"

	"github.com/anamul94/DietGuard/internal/identity/service"
	"github.com/anamul94/DietGuard/pkg/authsdk"
	"github.com/anamul94/DietGuard/pkg/httpx"
	"github.com/anamul94/DietGuard/pkg/slogx"
)

var validationDescriptions = map[error]string{
	service.ErrInvalidEmail:          "email address is not valid",
	service.ErrWeakPassword:          "password must be between 6 and 1024 characters",
	service.ErrInvalidRole:           "role must be user or admin",
	service.ErrInvalidTransition:     "plan change not allowed",
	service.ErrInvalidIdempotencyKey: "Idempotency-Key must be a UUID",
	service.ErrInvalidProfile:        "age must be 1 to 150, gender at most 20 and names at most 100 characters",
	service.ErrInvalidPage:           "offset must not be negative and limit must be 1 to 1000",
	service.ErrInvalidAuditKind:      "unknown audit kind",
}

// writeServiceError maps a service error onto the API error envelope.
// Authentication failures never say which check failed.
func writeServiceError(w http.ResponseWriter, r *http.Request, err error) {
	log := slogx.FromContext(r.Context())

	switch service.KindOf(err) {
	case service.KindValidation:
		if errors.Is(err, service.ErrEmailTaken) {
			authsdk.NewAPIError(http.StatusConflict, authsdk.ErrorCodeEmailTaken, "an account with this email already exists").WriteError(w)
			return
		}
		desc := "invalid request"
		for sentinel, d := range validationDescriptions {
			if errors.Is(err, sentinel) {
				desc = d
				break
			}
		}
		authsdk.NewAPIError(http.StatusBadRequest, authsdk.ErrorCodeValidation, desc).WriteError(w)

	case service.KindAuthentication:
		switch {
		case errors.Is(err, service.ErrRefreshNotFound),
			errors.Is(err, service.ErrRefreshRevoked),
			errors.Is(err, service.ErrRefreshExpired):
			authsdk.ErrInvalidGrant.WriteError(w)
		case errors.Is(err, service.ErrResetNotFound),
			errors.Is(err, service.ErrResetExpired),
			errors.Is(err, service.ErrResetConsumed):
			authsdk.ErrInvalidResetToken.WriteError(w)
		case errors.Is(err, service.ErrAccountNotFound),
			errors.Is(err, service.ErrTokenExpired),
			errors.Is(err, service.ErrTokenMalformed),
			errors.Is(err, service.ErrTokenSignature):
			authsdk.NewAPIError(http.StatusUnauthorized, authsdk.ErrorCodeInvalidToken, "invalid or expired token").WriteError(w)
		default:
			authsdk.ErrInvalidCredentials.WriteError(w)
		}

	case service.KindAuthorization:
		authsdk.ErrForbidden.WriteError(w)

	case service.KindQuotaExceeded:
		var qe *service.QuotaExceededError
		if errors.As(err, &qe) {
			authsdk.NewQuotaExceededError(qe.Limit, qe.Remaining()).WriteError(w)
			return
		}
		authsdk.NewAPIError(http.StatusTooManyRequests, authsdk.ErrorCodeQuotaExceeded, "daily upload limit reached").WriteError(w)

	case service.KindTransient:
		log.Warn("transient failure", slogx.Err(err))
		authsdk.ErrUnavailable.WriteError(w)

	default:
		log.Error("request failed", slogx.Err(err))
		authsdk.ErrServerError.WriteError(w)
	}
}

// writeBindError reports a body that failed to decode or validate.
func writeBindError(w http.ResponseWriter, err error) {
	apiErr := authsdk.NewAPIError(http.StatusBadRequest, authsdk.ErrorCodeInvalidRequest, err.Error())
	var be *httpx.BindError
	if errors.As(err, &be) && len(be.Fields) > 0 {
		apiErr.Code = authsdk.ErrorCodeValidation
		apiErr.Details = be.Fields
	}
	apiErr.WriteError(w)
}
