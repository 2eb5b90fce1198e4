package handlers

import (
	"encoding/json"
	stderrors "errors"
	"io"
	"net/http"
	"strings"

	chimw "github.com/go-chi/chi/v5/middleware"
	"github.com/go-playground/validator/v10"

	"github.com/turtacn/molcore/internal/infrastructure/monitoring/logging"
	"github.com/turtacn/molcore/pkg/errors"
	"github.com/turtacn/molcore/pkg/types/common"
)

// DefaultMaxBodySize caps request bodies when no limit is configured.
const DefaultMaxBodySize int64 = 10 << 20

var validate = validator.New()

// writeJSON writes a JSON response with the given status code.
func writeJSON(w http.ResponseWriter, statusCode int, data interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(statusCode)
	if data != nil {
		_ = json.NewEncoder(w).Encode(data)
	}
}

// writeSuccess wraps data in the standard envelope.
func writeSuccess[T any](w http.ResponseWriter, r *http.Request, statusCode int, data T) {
	resp := common.NewSuccessResponse(data)
	resp.RequestID = chimw.GetReqID(r.Context())
	writeJSON(w, statusCode, resp)
}

// writeAppError maps err onto its HTTP status. Internal failures other than
// contract violations are logged and masked; everything else is reported as
// it is. data, when non-nil, travels in the envelope next to the error.
func writeAppError(w http.ResponseWriter, r *http.Request, logger logging.Logger, err error, data interface{}) {
	code := errors.GetCode(err)
	status := errors.HTTPStatusForCode(code)
	msg := publicMessage(err)

	if status == http.StatusInternalServerError && code != errors.CodeContractViolation {
		logger.Error("request failed",
			logging.String("path", r.URL.Path),
			logging.String("request_id", chimw.GetReqID(r.Context())),
			logging.Err(err))
		if code == errors.CodeUnknown {
			code = errors.CodeInternal
		}
		msg = errors.DefaultMessageForCode(code)
	}

	resp := common.NewErrorResponse(string(code), msg)
	resp.Data = data
	resp.RequestID = chimw.GetReqID(r.Context())
	writeJSON(w, status, resp)
}

// publicMessage drops the code prefix AppError.Error adds; the code has its
// own field in the envelope.
func publicMessage(err error) string {
	var ae *errors.AppError
	if !stderrors.As(err, &ae) {
		return err.Error()
	}
	if ae.Detail != "" {
		return ae.Message + ": " + ae.Detail
	}
	return ae.Message
}

// decodeJSON reads a size-limited JSON body into dst and validates its
// struct tags. Unknown fields are ignored.
func decodeJSON(w http.ResponseWriter, r *http.Request, maxBytes int64, dst interface{}) error {
	if maxBytes <= 0 {
		maxBytes = DefaultMaxBodySize
	}
	body := http.MaxBytesReader(w, r.Body, maxBytes)
	if err := json.NewDecoder(body).Decode(dst); err != nil {
		var tooLarge *http.MaxBytesError
		switch {
		case stderrors.As(err, &tooLarge):
			return errors.InvalidParam("request body too large")
		case stderrors.Is(err, io.EOF):
			return errors.InvalidParam("request body is empty")
		default:
			return errors.Wrap(err, errors.CodeInvalidParam, "malformed json body")
		}
	}
	if err := validate.Struct(dst); err != nil {
		return validationError(err)
	}
	return nil
}

func validationError(err error) error {
	var verrs validator.ValidationErrors
	if !stderrors.As(err, &verrs) {
		return errors.Wrap(err, errors.CodeInvalidParam, "invalid request")
	}
	fields := make([]string, 0, len(verrs))
	for _, fe := range verrs {
		fields = append(fields, strings.ToLower(fe.Field())+" ("+fe.Tag()+")")
	}
	return errors.InvalidParam("invalid request").WithDetail(strings.Join(fields, ", "))
}
