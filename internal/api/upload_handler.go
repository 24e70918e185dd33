package api

import (
	"strconv"
	"time"

	"github.com/gofiber/fiber/v2"
	"github.com/rs/zerolog/log"

	"github.com/mediastash-io/mediastash/internal/config"
	"github.com/mediastash-io/mediastash/internal/domain"
	"github.com/mediastash-io/mediastash/internal/manager"
	"github.com/mediastash-io/mediastash/internal/objectstore"
)

// ownerHeader carries the opaque owner token; absence means anonymous.
const ownerHeader = "X-User-Id"

// UploadHandler exposes the upload protocol over HTTP.
type UploadHandler struct {
	manager *manager.Manager
	objects *objectstore.Store
	upload  *config.UploadConfig
}

// NewUploadHandler creates the handler.
func NewUploadHandler(mgr *manager.Manager, objects *objectstore.Store, upload *config.UploadConfig) *UploadHandler {
	return &UploadHandler{manager: mgr, objects: objects, upload: upload}
}

// Health reports service liveness and storage stats.
// GET /health
func (h *UploadHandler) Health(c *fiber.Ctx) error {
	files, bytes, err := h.objects.Stats()
	if err != nil {
		log.Error().Err(err).Msg("Storage stats failed")
		return c.Status(fiber.StatusInternalServerError).JSON(errorEnvelope{
			Success: false,
			Error:   "storage not accessible",
		})
	}

	return c.JSON(fiber.Map{
		"status":    "ok",
		"timestamp": time.Now().UTC().Format(time.RFC3339),
		"storage": fiber.Map{
			"files": files,
			"bytes": bytes,
		},
	})
}

// Config advertises the upload protocol parameters to clients.
// GET /config
func (h *UploadHandler) Config(c *fiber.Ctx) error {
	return c.JSON(fiber.Map{
		"success": true,
		"config": fiber.Map{
			"maxFileSize":        h.upload.MaxFileSize,
			"allowedTypes":       h.upload.AllowedTypes,
			"chunkSize":          h.upload.ChunkSize,
			"maxFiles":           h.upload.MaxFiles,
			"maxParallelUploads": h.upload.MaxParallelUploads,
		},
	})
}

// InitiateRequest is the body of POST /initiate.
type InitiateRequest struct {
	Filename string `json:"filename"`
	MimeType string `json:"mimeType"`
	FileSize int64  `json:"fileSize"`
	MD5Hash  string `json:"md5Hash"`
}

// Initiate starts a new upload session.
// POST /initiate
func (h *UploadHandler) Initiate(c *fiber.Ctx) error {
	var req InitiateRequest
	if err := c.BodyParser(&req); err != nil {
		return c.Status(fiber.StatusBadRequest).JSON(errorEnvelope{
			Success: false,
			Error:   "invalid request body: " + err.Error(),
		})
	}

	owner := c.Get(ownerHeader)

	result, err := h.manager.Initiate(c.Context(), req.Filename, req.MimeType, req.FileSize, req.MD5Hash, owner)
	if err != nil {
		return respondError(c, err)
	}

	if result.Duplicate {
		return c.JSON(fiber.Map{
			"success":     true,
			"duplicate":   true,
			"storagePath": result.StoragePath,
		})
	}

	return c.JSON(fiber.Map{
		"success":     true,
		"uploadId":    result.UploadID,
		"totalChunks": result.TotalChunks,
		"chunkSize":   result.ChunkSize,
	})
}

// Chunk receives one chunk as multipart/form-data with fields uploadId,
// chunkIndex and the chunk file itself.
// POST /chunk
func (h *UploadHandler) Chunk(c *fiber.Ctx) error {
	uploadID := c.FormValue("uploadId")
	if uploadID == "" {
		return c.Status(fiber.StatusBadRequest).JSON(errorEnvelope{
			Success: false,
			Error:   "uploadId is required",
		})
	}

	chunkIndex, err := strconv.Atoi(c.FormValue("chunkIndex"))
	if err != nil {
		return c.Status(fiber.StatusBadRequest).JSON(errorEnvelope{
			Success: false,
			Error:   "chunkIndex must be an integer",
		})
	}

	fileHeader, err := c.FormFile("chunk")
	if err != nil {
		return c.Status(fiber.StatusBadRequest).JSON(errorEnvelope{
			Success: false,
			Error:   "chunk file is required",
		})
	}

	payload, err := fileHeader.Open()
	if err != nil {
		return c.Status(fiber.StatusBadRequest).JSON(errorEnvelope{
			Success: false,
			Error:   "cannot read chunk payload",
		})
	}
	defer payload.Close()

	result, err := h.manager.ReceiveChunk(c.Context(), uploadID, chunkIndex, payload)
	if err != nil {
		return respondError(c, err)
	}

	if result.AlreadyUploaded {
		return c.JSON(fiber.Map{
			"success":    true,
			"message":    "Chunk already uploaded",
			"chunkIndex": result.ChunkIndex,
		})
	}

	return c.JSON(fiber.Map{
		"success":        true,
		"chunkIndex":     result.ChunkIndex,
		"uploadedChunks": result.UploadedChunks,
		"totalChunks":    result.TotalChunks,
		"progress":       result.Progress,
	})
}

// FinalizeRequest is the body of POST /finalize.
type FinalizeRequest struct {
	UploadID string `json:"uploadId"`
}

// Finalize reassembles, verifies and stores the upload.
// POST /finalize
func (h *UploadHandler) Finalize(c *fiber.Ctx) error {
	var req FinalizeRequest
	if err := c.BodyParser(&req); err != nil {
		return c.Status(fiber.StatusBadRequest).JSON(errorEnvelope{
			Success: false,
			Error:   "invalid request body: " + err.Error(),
		})
	}
	if req.UploadID == "" {
		return c.Status(fiber.StatusBadRequest).JSON(errorEnvelope{
			Success: false,
			Error:   "uploadId is required",
		})
	}

	storagePath, err := h.manager.Finalize(c.Context(), req.UploadID)
	if err != nil {
		return respondError(c, err)
	}

	return c.JSON(fiber.Map{
		"success":     true,
		"message":     "Upload completed",
		"storagePath": storagePath,
		"uploadId":    req.UploadID,
	})
}

// Status reports the full session view.
// GET /status/:uploadId
func (h *UploadHandler) Status(c *fiber.Ctx) error {
	sess, err := h.manager.GetStatus(c.Context(), c.Params("uploadId"))
	if err != nil {
		return respondError(c, err)
	}

	return c.JSON(fiber.Map{
		"success": true,
		"data":    sess.ToView(),
	})
}

// Cancel aborts an open session.
// POST /cancel/:uploadId
func (h *UploadHandler) Cancel(c *fiber.Ctx) error {
	if err := h.manager.Cancel(c.Context(), c.Params("uploadId")); err != nil {
		return respondError(c, err)
	}

	return c.JSON(fiber.Map{
		"success": true,
		"message": "Upload cancelled",
	})
}

// Sessions lists recent sessions by state for operators.
// GET /sessions?status=uploading&limit=50
func (h *UploadHandler) Sessions(c *fiber.Ctx) error {
	state := domain.SessionState(c.Query("status", string(domain.StateUploading)))
	limit := c.QueryInt("limit", 100)

	sessions, err := h.manager.ListByState(c.Context(), state, limit)
	if err != nil {
		return respondError(c, err)
	}

	views := make([]domain.View, 0, len(sessions))
	for i := range sessions {
		views = append(views, sessions[i].ToView())
	}

	return c.JSON(fiber.Map{
		"success": true,
		"data":    views,
	})
}
