package jobkey

import (
	"errors"
	"fmt"
	"reflect"
	"strings"
	"unicode"
	"unicode/utf8"

	"github.com/cuemby/djt/pkg/types"
	"github.com/go-playground/validator/v10"
)

// MaxFieldLength is the longest accepted key field, in characters
const MaxFieldLength = 256

// Registry derives and validates JobKeys. It holds no state besides the
// validator and is safe for concurrent use.
type Registry struct {
	validate *validator.Validate
}

// NewRegistry creates a new key registry
func NewRegistry() *Registry {
	v := validator.New()

	// Report json field names so errors match the wire format
	v.RegisterTagNameFunc(func(fld reflect.StructField) string {
		name := strings.SplitN(fld.Tag.Get("json"), ",", 2)[0]
		if name == "-" || name == "" {
			return fld.Name
		}
		return name
	})

	// keypart applies the field rules in checkPart
	_ = v.RegisterValidation("keypart", func(fl validator.FieldLevel) bool {
		return checkPart(fl.Field().String()) == ""
	}, true)

	return &Registry{validate: v}
}

// Resolve derives the JobKey addressed by an update. Two updates that
// differ only in status, page or metadata resolve to the same key.
func (r *Registry) Resolve(update *types.PipelineStatusUpdate) (types.JobKey, error) {
	if update == nil {
		return types.JobKey{}, fmt.Errorf("%w: missing update", types.ErrInvalidKey)
	}
	key := update.Key()
	if err := r.Validate(key); err != nil {
		return types.JobKey{}, err
	}
	return key, nil
}

// Validate checks every key field
func (r *Registry) Validate(key types.JobKey) error {
	err := r.validate.Struct(key)
	if err == nil {
		return nil
	}

	var verrs validator.ValidationErrors
	if !errors.As(err, &verrs) || len(verrs) == 0 {
		return fmt.Errorf("%w: %v", types.ErrInvalidKey, err)
	}

	// Report the first offending field with the precise reason
	fe := verrs[0]
	return fmt.Errorf("%w: %s %s", types.ErrInvalidKey, fe.Field(), checkPart(fmt.Sprint(fe.Value())))
}

// Parse splits a storage key back into a JobKey and validates it
func (r *Registry) Parse(storageKey string) (types.JobKey, error) {
	parts := strings.Split(storageKey, types.KeySeparator)
	if len(parts) != 5 {
		return types.JobKey{}, fmt.Errorf("%w: expected 5 fields in %q, got %d", types.ErrInvalidKey, storageKey, len(parts))
	}

	key := types.JobKey{
		AppID:      parts[0],
		TenantID:   parts[1],
		PatientID:  parts[2],
		DocumentID: parts[3],
		RunID:      parts[4],
	}
	if err := r.Validate(key); err != nil {
		return types.JobKey{}, err
	}
	return key, nil
}

// checkPart returns the reason a key field is rejected, or "" when valid
func checkPart(s string) string {
	if strings.TrimSpace(s) == "" {
		return "is empty"
	}
	if !utf8.ValidString(s) {
		return "is not valid UTF-8"
	}
	if n := utf8.RuneCountInString(s); n > MaxFieldLength {
		return fmt.Sprintf("exceeds %d characters (%d)", MaxFieldLength, n)
	}
	if strings.Contains(s, types.KeySeparator) {
		return fmt.Sprintf("contains reserved separator %q", types.KeySeparator)
	}
	for _, r := range s {
		if !unicode.IsPrint(r) {
			return fmt.Sprintf("contains non-printable character %U", r)
		}
	}
	return ""
}
