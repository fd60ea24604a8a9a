package handlers

import (
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"reflect"
	"strings"

	"github.com/VdotR/polling-system/apperr"
	"github.com/VdotR/polling-system/models"
	"github.com/VdotR/polling-system/session"

	"github.com/gin-gonic/gin"
	"github.com/gin-gonic/gin/binding"
	"github.com/go-playground/validator/v10"
	"github.com/rs/zerolog/log"
)

func init() {
	// Report binding failures by JSON field name.
	if v, ok := binding.Validator.Engine().(*validator.Validate); ok {
		v.RegisterTagNameFunc(func(f reflect.StructField) string {
			name := strings.SplitN(f.Tag.Get("json"), ",", 2)[0]
			if name == "-" || name == "" {
				return f.Name
			}
			return name
		})
	}
}

// respondError writes err using its apperr kind. Internal errors are logged
// and answered with an empty 500.
func respondError(c *gin.Context, err error) {
	e, ok := apperr.As(err)
	if !ok || e.Kind == apperr.KindInternal {
		log.Error().Err(err).
			Str("method", c.Request.Method).
			Str("path", c.Request.URL.Path).
			Str("user", session.UserID(c)).
			Msg("request failed")
		c.AbortWithStatus(http.StatusInternalServerError)
		return
	}

	if e.Kind == apperr.KindValidation {
		c.AbortWithStatusJSON(http.StatusBadRequest, gin.H{"errors": e.Fields})
		return
	}
	c.AbortWithStatusJSON(apperr.Status(err), gin.H{"message": e.Message})
}

// bindError converts a ShouldBindJSON failure into an apperr value.
func bindError(err error) error {
	var verrs validator.ValidationErrors
	if errors.As(err, &verrs) {
		return apperr.Validation(models.FieldMessages(verrs)...)
	}

	var typeErr *json.UnmarshalTypeError
	if errors.As(err, &typeErr) && typeErr.Field != "" {
		return apperr.BadRequest(typeErr.Field + " has the wrong type.")
	}
	if errors.Is(err, io.EOF) {
		return apperr.BadRequest("Request body is required.")
	}
	return apperr.BadRequest("Invalid request body.")
}
