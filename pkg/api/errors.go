package api

import (
	"errors"
	"fmt"
	"math"
	"net/http"
	"reflect"
	"strconv"
	"strings"

	"github.com/cuemby/djt/pkg/types"
	"github.com/go-playground/validator/v10"
)

// Error codes carried in ErrorResponse.Code
const (
	CodeInvalidKey       = "invalid_key"
	CodeInvalidUpdate    = "invalid_update"
	CodeNotFound         = "not_found"
	CodeDuplicateJob     = "duplicate_job"
	CodeStaleStatus      = "stale_status"
	CodeStoreUnavailable = "store_unavailable"
	CodeRateLimited      = "rate_limited"
	CodeReadOnly         = "read_only"
	CodeInternal         = "internal"
)

// ErrorResponse is the body of every non-2xx API response. Job is set on
// stale updates and holds the unchanged current state.
type ErrorResponse struct {
	Error     string     `json:"error"`
	Code      string     `json:"code"`
	RequestID string     `json:"request_id,omitempty"`
	Job       *types.Job `json:"job,omitempty"`
}

var errorCodes = []struct {
	err    error
	status int
	code   string
}{
	{types.ErrInvalidKey, http.StatusBadRequest, CodeInvalidKey},
	{types.ErrInvalidUpdate, http.StatusBadRequest, CodeInvalidUpdate},
	{types.ErrNotFound, http.StatusNotFound, CodeNotFound},
	{types.ErrDuplicateJob, http.StatusConflict, CodeDuplicateJob},
	{types.ErrStaleStatus, http.StatusConflict, CodeStaleStatus},
	{types.ErrStoreUnavailable, http.StatusServiceUnavailable, CodeStoreUnavailable},
}

// StatusFor maps a domain error to its HTTP status and error code
func StatusFor(err error) (int, string) {
	for _, ec := range errorCodes {
		if errors.Is(err, ec.err) {
			return ec.status, ec.code
		}
	}
	return http.StatusInternalServerError, CodeInternal
}

// ErrorForCode returns the domain sentinel for an error code, or nil for
// codes without one
func ErrorForCode(code string) error {
	for _, ec := range errorCodes {
		if ec.code == code {
			return ec.err
		}
	}
	return nil
}

func (s *Server) writeError(w http.ResponseWriter, r *http.Request, err error, job *types.Job) {
	status, code := StatusFor(err)

	resp := ErrorResponse{
		Error:     err.Error(),
		Code:      code,
		RequestID: RequestIDFrom(r.Context()),
	}
	if code == CodeStaleStatus {
		resp.Job = job
	}

	switch status {
	case http.StatusServiceUnavailable:
		w.Header().Set("Retry-After", strconv.Itoa(int(math.Ceil(s.opts.RetryAfter.Seconds()))))
		s.logger.Warn().Err(err).Str("request_id", resp.RequestID).Msg("Store unavailable")
	case http.StatusInternalServerError:
		s.logger.Error().Err(err).Str("request_id", resp.RequestID).Msg("Request failed")
		resp.Error = "internal error"
	}

	writeJSON(w, status, resp)
}

func newValidator() *validator.Validate {
	v := validator.New()
	v.RegisterTagNameFunc(func(fld reflect.StructField) string {
		name := strings.SplitN(fld.Tag.Get("json"), ",", 2)[0]
		if name == "-" || name == "" {
			return fld.Name
		}
		return name
	})
	_ = v.RegisterValidation("status", func(fl validator.FieldLevel) bool {
		return types.Status(fl.Field().String()).Valid()
	})
	return v
}

func describeValidation(err error) string {
	var verrs validator.ValidationErrors
	if !errors.As(err, &verrs) {
		return err.Error()
	}
	msgs := make([]string, 0, len(verrs))
	for _, fe := range verrs {
		switch fe.Tag() {
		case "required":
			msgs = append(msgs, fe.Field()+" is required")
		case "status":
			msgs = append(msgs, fmt.Sprintf("%s %q is not a known status", fe.Field(), fe.Value()))
		default:
			msgs = append(msgs, fmt.Sprintf("%s must satisfy %s=%s", fe.Field(), fe.Tag(), fe.Param()))
		}
	}
	return strings.Join(msgs, ", ")
}
