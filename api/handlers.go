package api

import (
	"context"
	"errors"
	"io"
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"
	"github.com/gin-gonic/gin/binding"
	"go.uber.org/zap"

	"lead-relay/models"
	"lead-relay/notification"
	"lead-relay/validation"
)

// Response texts.
const (
	TestOK          = "Rota POST /test funcionando!"
	SentPrefix      = "Email enviado com sucesso para: "
	FailedPrefix    = "Erro ao enviar o Email: "
	InvalidBody     = "Corpo da requisição inválido."
	BodyTooLarge    = "Corpo da requisição muito grande."
	serviceName     = "lead-relay"
	acceptedJoinSep = ", "
)

// Relayer validates a submission and relays it.
type Relayer interface {
	Relay(ctx context.Context, in models.Input) (*notification.Result, error)
}

// Handlers contains the HTTP handlers.
type Handlers struct {
	relay  Relayer
	logger *zap.Logger
}

func NewHandlers(relay Relayer, logger *zap.Logger) *Handlers {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Handlers{
		relay:  relay,
		logger: logger,
	}
}

// Test is a connectivity check; the body is never read.
func (h *Handlers) Test(c *gin.Context) {
	c.String(http.StatusOK, TestOK)
}

func (h *Handlers) Health(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{
		"status":  "ok",
		"service": serviceName,
	})
}

// SendEmail relays a lead-capture submission.
func (h *Handlers) SendEmail(c *gin.Context) {
	in, err := bindInput(c)
	if err != nil {
		var tooLarge *http.MaxBytesError
		if errors.As(err, &tooLarge) {
			c.String(http.StatusRequestEntityTooLarge, BodyTooLarge)
			return
		}
		h.logger.Debug("undecodable request body", zap.Error(err))
		c.String(http.StatusBadRequest, InvalidBody)
		return
	}

	result, err := h.relay.Relay(c.Request.Context(), in)
	if err != nil {
		var verr *validation.ValidationError
		if errors.As(err, &verr) {
			c.String(http.StatusBadRequest, "%s", verr.Message)
			return
		}
		c.String(http.StatusInternalServerError, "%s", FailedPrefix+err.Error())
		return
	}

	var accepted []string
	if result != nil {
		accepted = result.Accepted
	}
	c.String(http.StatusOK, "%s", SentPrefix+strings.Join(accepted, acceptedJoinSep))
}

// bindInput decodes JSON or URL-encoded bodies. Other content types, and an
// empty body, yield an empty Input so validation reports the first field.
func bindInput(c *gin.Context) (models.Input, error) {
	switch c.ContentType() {
	case binding.MIMEJSON:
		var raw any
		if err := c.ShouldBindJSON(&raw); err != nil {
			if errors.Is(err, io.EOF) {
				return models.Input{}, nil
			}
			return nil, err
		}
		if obj, ok := raw.(map[string]any); ok {
			return models.Input(obj), nil
		}
		return models.Input{}, nil

	case binding.MIMEPOSTForm:
		if err := c.Request.ParseForm(); err != nil {
			return nil, err
		}
		in := make(models.Input, len(c.Request.PostForm))
		for key, values := range c.Request.PostForm {
			if len(values) == 1 {
				in[key] = values[0]
			} else {
				in[key] = values
			}
		}
		return in, nil

	default:
		return models.Input{}, nil
	}
}
