// Package ginhook masks gin JSON responses with veil.
//
//	engine.Use(ginhook.Middleware(veil.NewMasking()))
//	engine.GET("/customers/:id", func(c *gin.Context) {
//	    ginhook.JSON(c, http.StatusOK, veil.OK(customer))
//	})
//
// A request with ?disableMasking=true receives the payload unmasked.
package ginhook

import (
	"context"
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"
	"github.com/zoobzio/veil"
	"go.uber.org/zap"
)

const contextKey = "veil.ginhook"

// Option configures the middleware.
type Option func(*hook)

// WithOptOutParam renames the query parameter that disables masking.
func WithOptOutParam(name string) Option {
	return func(h *hook) {
		if name != "" {
			h.param = name
		}
	}
}

// WithConfig applies a veil.MaskingConfig.
func WithConfig(cfg veil.MaskingConfig) Option {
	return WithOptOutParam(cfg.OptOutParam)
}

// WithLogger sets the logger for render failures.
func WithLogger(l *zap.Logger) Option {
	return func(h *hook) {
		if l != nil {
			h.logger = l
		}
	}
}

type hook struct {
	masking *veil.Masking
	param   string
	logger  *zap.Logger
}

// Middleware makes masking available to JSON and Masked for the rest of the
// chain, and honours the opt-out query parameter.
func Middleware(masking *veil.Masking, opts ...Option) gin.HandlerFunc {
	h := &hook{
		masking: masking,
		param:   veil.DefaultOptOutParam,
		logger:  zap.NewNop(),
	}
	for _, opt := range opts {
		opt(h)
	}

	return func(c *gin.Context) {
		if off, _ := strconv.ParseBool(c.Query(h.param)); off {
			c.Request = c.Request.WithContext(veil.WithoutTransform(c.Request.Context()))
		}
		c.Set(contextKey, h)
		c.Next()
	}
}

// Masked returns obj masked for the request. Masking works in place behind
// pointers, so pass values or copies. Without Middleware obj is returned as is.
func Masked(c *gin.Context, obj any) (any, error) {
	v, ok := c.Get(contextKey)
	if !ok {
		return obj, nil
	}
	h := v.(*hook)
	return veil.Around(c.Request.Context(), h.masking.Mask, func(context.Context) (any, error) {
		return obj, nil
	})
}

// JSON masks obj and writes it with status code. A masking failure aborts
// with 500 and no payload.
func JSON(c *gin.Context, code int, obj any) {
	out, err := Masked(c, obj)
	if err != nil {
		if v, ok := c.Get(contextKey); ok {
			v.(*hook).logger.Error("response masking failed",
				zap.String("path", c.FullPath()),
				zap.Error(err),
			)
		}
		_ = c.Error(err)
		c.AbortWithStatusJSON(http.StatusInternalServerError, veil.Result[any]{Status: veil.StatusFail})
		return
	}
	c.JSON(code, out)
}
