package handlers

import (
	"context"
	"encoding/base64"
	"errors"
	"net/http"

	"github.com/andresuchdata/r2gen/internal/imagegen"
	"github.com/gin-gonic/gin"
	"github.com/rs/zerolog/log"
)

// ImageGenerator is the part of imagegen.Client the HTTP API needs.
type ImageGenerator interface {
	GenerateConcurrent(ctx context.Context, payload imagegen.Payload, index int) imagegen.IndexedImages
}

type ImageHandler struct {
	generator ImageGenerator
}

func NewImageHandler(generator ImageGenerator) *ImageHandler {
	return &ImageHandler{generator: generator}
}

// Txt2Img forwards the JSON body to the generation service and returns the images
// base64 encoded, in the same shape the service uses.
func (h *ImageHandler) Txt2Img(c *gin.Context) {
	var payload imagegen.Payload
	if err := c.ShouldBindJSON(&payload); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid generation payload"})
		return
	}

	res := h.generator.GenerateConcurrent(c.Request.Context(), payload, 0)
	if res.Err != nil {
		log.Error().Err(res.Err).Msg("txt2img request failed")
		c.JSON(generationStatus(res.Err), gin.H{"error": res.Err.Error()})
		return
	}

	encoded := make([]string, 0, len(res.Images))
	for _, img := range res.Images {
		encoded = append(encoded, base64.StdEncoding.EncodeToString(img.Data))
	}

	// every image of a response shares parameters and info
	c.JSON(http.StatusOK, gin.H{
		"images":     encoded,
		"parameters": res.Images[0].Parameters,
		"info":       res.Images[0].Info,
	})
}

func generationStatus(err error) int {
	var serr *imagegen.StatusError
	switch {
	case errors.Is(err, context.DeadlineExceeded):
		return http.StatusGatewayTimeout
	case errors.Is(err, imagegen.ErrEmptyResult), errors.As(err, &serr):
		return http.StatusBadGateway
	default:
		return http.StatusInternalServerError
	}
}
