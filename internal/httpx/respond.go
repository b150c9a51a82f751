package httpx

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"reflect"
	"strings"
	"sync"

	"github.com/ariefcatur/storefront-orders/internal/apperr"
	"github.com/ariefcatur/storefront-orders/internal/logging"
	"github.com/go-playground/validator/v10"
	"go.uber.org/zap"
)

const maxBodyBytes = 1 << 20

var (
	validate     *validator.Validate
	validateOnce sync.Once
)

func getValidator() *validator.Validate {
	validateOnce.Do(func() {
		validate = validator.New()
		// pesan error pakai nama field json
		validate.RegisterTagNameFunc(func(fld reflect.StructField) string {
			name := strings.SplitN(fld.Tag.Get("json"), ",", 2)[0]
			if name == "-" {
				return fld.Name
			}
			return name
		})
	})
	return validate
}

type errorBody struct {
	Error   string            `json:"error"`
	Kind    apperr.Kind       `json:"kind"`
	Details map[string]string `json:"details,omitempty"`
}

func writeJSON(w http.ResponseWriter, code int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	_ = json.NewEncoder(w).Encode(v)
}

// writeError maps the error taxonomy onto HTTP. Internal causes are logged,
// never echoed to the client.
func writeError(w http.ResponseWriter, r *http.Request, err error) {
	e := apperr.From(err)
	code := e.HTTPStatus()
	log := logging.FromContext(r.Context())
	if code >= 500 {
		log.Error("request failed", zap.String("kind", string(e.Kind)), zap.Error(err))
	} else {
		log.Debug("request rejected", zap.String("kind", string(e.Kind)), zap.String("error", e.Message))
	}
	writeJSON(w, code, errorBody{Error: e.Message, Kind: e.Kind, Details: e.Details})
}

// decode reads a JSON body into dst and runs its validate tags.
func decode(w http.ResponseWriter, r *http.Request, dst any) error {
	return decodeBody(w, r, dst, false)
}

// decodeOptional is decode for endpoints where the body may be absent. An
// empty body, chunked or not, leaves dst at its zero value.
func decodeOptional(w http.ResponseWriter, r *http.Request, dst any) error {
	return decodeBody(w, r, dst, true)
}

func decodeBody(w http.ResponseWriter, r *http.Request, dst any, allowEmpty bool) error {
	dec := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxBodyBytes))
	dec.DisallowUnknownFields()
	if err := dec.Decode(dst); err != nil {
		if allowEmpty && errors.Is(err, io.EOF) {
			return nil
		}
		return apperr.Validation("invalid json: " + err.Error())
	}
	if err := getValidator().Struct(dst); err != nil {
		var verrs validator.ValidationErrors
		if errors.As(err, &verrs) {
			out := apperr.Validation("request validation failed")
			for _, fe := range verrs {
				out = out.WithDetail(fieldPath(fe), describe(fe))
			}
			return out
		}
		return apperr.Validation(err.Error())
	}
	return nil
}

// fieldPath drops the top-level struct name: "createOrderReq.items[0].quantity" -> "items[0].quantity".
func fieldPath(fe validator.FieldError) string {
	ns := fe.Namespace()
	if i := strings.Index(ns, "."); i >= 0 {
		return ns[i+1:]
	}
	return ns
}

func describe(fe validator.FieldError) string {
	switch fe.Tag() {
	case "required":
		return "is required"
	case "min", "gte":
		return fmt.Sprintf("must be at least %s", fe.Param())
	case "max", "lte":
		return fmt.Sprintf("must be at most %s", fe.Param())
	case "oneof":
		return fmt.Sprintf("must be one of [%s]", fe.Param())
	case "ne":
		return fmt.Sprintf("must not be %s", fe.Param())
	}
	return fmt.Sprintf("failed %s validation", fe.Tag())
}
