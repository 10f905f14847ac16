package params

import (
	"errors"
	"fmt"
	"math"
	"os"
	"path/filepath"
	"reflect"
	"regexp"
	"slices"
	"strings"

	"github.com/go-playground/validator/v10"
	"github.com/mitchellh/mapstructure"
)

var (
	VideoExtensions = []string{".mp4", ".mov", ".avi", ".mkv", ".webm", ".flv", ".m4v"}
	AudioExtensions = []string{".mp3", ".wav", ".aac", ".ogg", ".flac", ".m4a"}
)

// Normalizer is implemented by parameter structs that canonicalize their
// values once they are valid.
type Normalizer interface {
	Normalize()
}

// Validator binds raw request values to an operation's parameter struct.
// Fields are named by their json tags; defaults are whatever the struct
// holds before binding. Constraints come from validate tags, plus
// "mediafile=video" and "mediafile=audio" for input files.
type Validator struct {
	validate     *validator.Validate
	maxInputSize int64
}

// NewValidator returns a Validator rejecting input files larger than
// maxInputSize bytes; 0 disables the size check.
func NewValidator(maxInputSize int64) *Validator {
	v := &Validator{validate: validator.New(), maxInputSize: maxInputSize}
	v.validate.RegisterTagNameFunc(jsonName)
	if err := v.validate.RegisterValidation("mediafile", func(fl validator.FieldLevel) bool {
		return v.checkFile(fl.Field().String(), fl.Param()) == ""
	}); err != nil {
		panic(err)
	}
	return v
}

// Bind decodes raw into out, a pointer to a parameter struct, validates it
// and freezes the result. The error is the first failing parameter in field
// order, as a *ValidationError.
func (v *Validator) Bind(raw map[string]any, out any) (Set, error) {
	if raw == nil {
		raw = map[string]any{}
	}
	decoder, err := mapstructure.NewDecoder(&mapstructure.DecoderConfig{
		DecodeHook:       mapstructure.ComposeDecodeHookFunc(integralNumber, noneAsNull),
		WeaklyTypedInput: true,
		ZeroFields:       true,
		Squash:           true,
		TagName:          "json",
		Result:           out,
	})
	if err != nil {
		return Set{}, err
	}
	if err := decoder.Decode(raw); err != nil {
		return Set{}, decodeError(err)
	}

	if err := v.validate.Struct(out); err != nil {
		var fieldErrs validator.ValidationErrors
		if !errors.As(err, &fieldErrs) || len(fieldErrs) == 0 {
			return Set{}, err
		}
		return Set{}, v.fieldError(fieldErrs[0], out)
	}
	if n, ok := out.(Normalizer); ok {
		n.Normalize()
	}
	return freeze(out)
}

// Var checks a single value against a validate tag, reporting failures
// against field.
func (v *Validator) Var(field string, value any, tag string) error {
	err := v.validate.Var(value, tag)
	var fieldErrs validator.ValidationErrors
	if !errors.As(err, &fieldErrs) || len(fieldErrs) == 0 {
		return err
	}
	verr := v.fieldError(fieldErrs[0], nil)
	verr.Field = field
	return verr
}

func jsonName(f reflect.StructField) string {
	name, _, _ := strings.Cut(f.Tag.Get("json"), ",")
	if name == "-" {
		return ""
	}
	return name
}

// integralNumber rejects fractional numbers bound to integer fields.
func integralNumber(from, to reflect.Type, data any) (any, error) {
	if to.Kind() != reflect.Int || from.Kind() != reflect.Float64 {
		return data, nil
	}
	if f := reflect.ValueOf(data).Float(); f != math.Trunc(f) {
		return nil, errors.New("must be an integer")
	}
	return data, nil
}

// noneAsNull reads "", "none" and null alike for optional string fields.
func noneAsNull(from, to reflect.Type, data any) (any, error) {
	if to.Kind() != reflect.Ptr || from.Kind() != reflect.String {
		return data, nil
	}
	if s := strings.TrimSpace(reflect.ValueOf(data).String()); s == "" || strings.EqualFold(s, "none") {
		return nil, nil
	}
	return data, nil
}

var decodeNamePattern = regexp.MustCompile(`'([^']+)'`)

// decodeError turns the first type conversion failure into a
// ValidationError.
func decodeError(err error) error {
	var merr *mapstructure.Error
	if !errors.As(err, &merr) || len(merr.Errors) == 0 {
		return err
	}
	msg := merr.Errors[0]
	m := decodeNamePattern.FindStringSubmatch(msg)
	if m == nil {
		return &ValidationError{Reason: msg}
	}

	var reason string
	switch {
	case strings.HasPrefix(msg, "error decoding '"):
		_, reason, _ = strings.Cut(msg, "': ")
	case strings.Contains(msg, "as float"), strings.Contains(msg, "type 'float64'"):
		reason = "must be a number"
	case strings.Contains(msg, "as int"), strings.Contains(msg, "type 'int'"):
		reason = "must be an integer"
	case strings.Contains(msg, "as bool"), strings.Contains(msg, "type 'bool'"):
		reason = "must be a boolean"
	case strings.Contains(msg, "type '[]"):
		reason = "must be a list"
	default:
		reason = "must be a string"
	}
	return itemError(m[1], reason)
}

// itemError reports "video_paths[1]" as item 1 of video_paths.
func itemError(name, reason string) *ValidationError {
	if field, index, ok := strings.Cut(name, "["); ok {
		return &ValidationError{Field: field, Reason: fmt.Sprintf("item %s: %s", strings.TrimSuffix(index, "]"), reason)}
	}
	return &ValidationError{Field: name, Reason: reason}
}

func (v *Validator) fieldError(fe validator.FieldError, out any) *ValidationError {
	var reason string
	switch fe.Tag() {
	case "required":
		reason = "missing required parameter"
	case "min":
		if fe.Kind() == reflect.Slice {
			reason = fmt.Sprintf("must be a list with at least %s items", fe.Param())
		} else {
			reason = "must be at least " + fe.Param()
		}
	case "gte":
		reason = "must be at least " + fe.Param()
	case "lte", "max":
		reason = "must be at most " + fe.Param()
	case "gt":
		reason = "must be greater than " + fe.Param()
	case "oneof":
		reason = "must be one of: " + strings.ReplaceAll(fe.Param(), " ", ", ")
	case "gtfield":
		other := fe.Param()
		if out != nil {
			if f, ok := reflect.Indirect(reflect.ValueOf(out)).Type().FieldByName(other); ok {
				other = jsonName(f)
			}
		}
		reason = "must be greater than " + other
	case "mediafile":
		reason = v.checkFile(fmt.Sprint(fe.Value()), fe.Param())
	default:
		reason = "failed the " + fe.Tag() + " check"
	}
	return itemError(fe.Field(), reason)
}

// checkFile returns why path cannot be used as a media input of the given
// kind, or "" when it can.
func (v *Validator) checkFile(path, kind string) string {
	if strings.TrimSpace(path) == "" {
		return "must be a file path"
	}
	extensions := VideoExtensions
	if kind == "audio" {
		extensions = AudioExtensions
	}
	if !slices.Contains(extensions, strings.ToLower(filepath.Ext(path))) {
		return "unsupported file type " + filepath.Ext(path)
	}
	info, err := os.Stat(path)
	if err != nil {
		return "file not found: " + path
	}
	if !info.Mode().IsRegular() {
		return "not a regular file: " + path
	}
	if v.maxInputSize > 0 && info.Size() > v.maxInputSize {
		return "file exceeds the input size limit: " + path
	}
	f, err := os.Open(path)
	if err != nil {
		return "file is not readable: " + path
	}
	f.Close()
	return ""
}
