package handler

import (
	"fmt"
	"io"
	"mime/multipart"

	"github.com/go-playground/validator/v10"
	"github.com/gofiber/fiber/v2"
	"github.com/rs/zerolog"

	"github.com/noah-isme/gema-review/internal/dto"
	"github.com/noah-isme/gema-review/internal/middleware"
	"github.com/noah-isme/gema-review/internal/service"
	"github.com/noah-isme/gema-review/internal/utils"
)

// UploadHandler exposes upload drafts over HTTP.
type UploadHandler struct {
	service   service.UploadService
	validator *validator.Validate
	logger    zerolog.Logger
	limiter   fiber.Handler
}

// NewUploadHandler constructs an upload handler. limiter guards submit and may be nil.
func NewUploadHandler(service service.UploadService, validator *validator.Validate, limiter fiber.Handler, logger zerolog.Logger) *UploadHandler {
	if limiter == nil {
		limiter = func(c *fiber.Ctx) error { return c.Next() }
	}
	return &UploadHandler{
		service:   service,
		validator: validator,
		logger:    logger.With().Str("component", "upload_handler").Logger(),
		limiter:   limiter,
	}
}

// Register wires upload draft routes.
func (h *UploadHandler) Register(router fiber.Router) {
	router.Post("/", h.create)
	router.Get("/:id", h.get)
	router.Delete("/:id", h.delete)
	router.Put("/:id/mode", h.setMode)
	router.Put("/:id/student-id", h.setStudentID)
	router.Post("/:id/files", h.addFiles)
	router.Patch("/:id/files/:entryId", h.updateEntry)
	router.Delete("/:id/files/:entryId", h.removeEntry)
	router.Post("/:id/submit", h.limiter, h.submit)
	router.Get("/:id/batch-status", h.batchStatus)
}

func (h *UploadHandler) draft(c *fiber.Ctx) (*service.UploadDraft, error) {
	return h.service.Get(actorFromContext(c), middleware.GetAccessToken(c), c.Params("id"))
}

func (h *UploadHandler) create(c *fiber.Ctx) error {
	var req dto.CreateUploadDraftRequest
	if err := bindAndValidate(c, h.validator, &req); err != nil {
		return sendServiceError(c, h.logger, err)
	}

	draft, err := h.service.Create(actorFromContext(c), middleware.GetAccessToken(c), req)
	if err != nil {
		return sendServiceError(c, h.logger, err)
	}

	return utils.SendSuccessWithStatus(c, fiber.StatusCreated, "upload draft created", draft.View())
}

func (h *UploadHandler) get(c *fiber.Ctx) error {
	draft, err := h.draft(c)
	if err != nil {
		return sendServiceError(c, h.logger, err)
	}
	return utils.SendSuccess(c, "upload draft", draft.View())
}

func (h *UploadHandler) delete(c *fiber.Ctx) error {
	if err := h.service.Delete(actorFromContext(c), c.Params("id")); err != nil {
		return sendServiceError(c, h.logger, err)
	}
	return c.SendStatus(fiber.StatusNoContent)
}

func (h *UploadHandler) setMode(c *fiber.Ctx) error {
	var req dto.UploadModeRequest
	if err := bindAndValidate(c, h.validator, &req); err != nil {
		return sendServiceError(c, h.logger, err)
	}
	draft, err := h.draft(c)
	if err != nil {
		return sendServiceError(c, h.logger, err)
	}
	mode, err := service.ParseUploadMode(req.Mode)
	if err != nil {
		return sendServiceError(c, h.logger, err)
	}
	if err := draft.Mapper().SetMode(mode); err != nil {
		return sendServiceError(c, h.logger, err)
	}
	return utils.SendSuccess(c, "upload mode updated", draft.View())
}

func (h *UploadHandler) setStudentID(c *fiber.Ctx) error {
	var req dto.UploadStudentIDRequest
	if err := bindAndValidate(c, h.validator, &req); err != nil {
		return sendServiceError(c, h.logger, err)
	}
	draft, err := h.draft(c)
	if err != nil {
		return sendServiceError(c, h.logger, err)
	}
	draft.Mapper().SetStudentID(req.StudentID)
	return utils.SendSuccess(c, "student id updated", draft.View())
}

func (h *UploadHandler) addFiles(c *fiber.Ctx) error {
	draft, err := h.draft(c)
	if err != nil {
		return sendServiceError(c, h.logger, err)
	}

	form, err := c.MultipartForm()
	if err != nil {
		return utils.SendError(c, fiber.StatusBadRequest, "multipart form with files is required")
	}
	headers := form.File["files"]
	if len(headers) == 0 {
		headers = form.File["file"]
	}
	if len(headers) == 0 {
		return utils.SendError(c, fiber.StatusBadRequest, "files are required")
	}

	incoming := make([]service.IncomingFile, 0, len(headers))
	for _, header := range headers {
		file, err := readFormFile(header)
		if err != nil {
			requestLogger(h.logger, c).Warn().Err(err).Str("filename", header.Filename).Msg("failed to read uploaded file")
			return utils.SendError(c, fiber.StatusBadRequest, fmt.Sprintf("unable to read %s", header.Filename))
		}
		incoming = append(incoming, file)
	}

	result := draft.Mapper().AddFiles(requestContext(c), incoming)

	response := dto.AddFilesResponse{
		Draft:    draft.View(),
		Added:    make([]dto.UploadEntryResponse, 0, len(result.Added)),
		Rejected: make([]dto.FileRejectionResponse, 0, len(result.Rejected)),
	}
	positions := make(map[string]int, len(response.Draft.Files))
	for _, entry := range response.Draft.Files {
		positions[entry.ID] = entry.Position
	}
	for _, entry := range result.Added {
		response.Added = append(response.Added, service.NewUploadEntryResponse(positions[entry.ID], entry))
	}
	for _, rejection := range result.Rejected {
		response.Rejected = append(response.Rejected, dto.FileRejectionResponse{
			Filename: rejection.Filename,
			Reason:   rejection.Reason,
			Message:  rejection.Message,
		})
	}

	return utils.SendSuccess(c, fmt.Sprintf("%d file(s) added", len(response.Added)), response)
}

func (h *UploadHandler) updateEntry(c *fiber.Ctx) error {
	var req dto.UploadStudentIDRequest
	if err := bindAndValidate(c, h.validator, &req); err != nil {
		return sendServiceError(c, h.logger, err)
	}
	draft, err := h.draft(c)
	if err != nil {
		return sendServiceError(c, h.logger, err)
	}
	if err := draft.Mapper().UpdateStudentID(c.Params("entryId"), req.StudentID); err != nil {
		return sendServiceError(c, h.logger, err)
	}
	return utils.SendSuccess(c, "student id updated", draft.View())
}

func (h *UploadHandler) removeEntry(c *fiber.Ctx) error {
	draft, err := h.draft(c)
	if err != nil {
		return sendServiceError(c, h.logger, err)
	}
	if err := draft.Mapper().RemoveFile(c.Params("entryId")); err != nil {
		return sendServiceError(c, h.logger, err)
	}
	return utils.SendSuccess(c, "file removed", draft.View())
}

func (h *UploadHandler) submit(c *fiber.Ctx) error {
	draft, err := h.draft(c)
	if err != nil {
		return sendServiceError(c, h.logger, err)
	}

	result, err := draft.Submit(requestContext(c))
	if err != nil {
		return sendServiceError(c, h.logger, err)
	}

	requestLogger(h.logger, c).Info().
		Str("draft_id", draft.ID()).
		Str("mode", string(result.Mode)).
		Int("files", result.Uploaded).
		Msg("upload submitted")

	message := "Submission uploaded successfully"
	if result.Mode == service.UploadModeBatch {
		message = fmt.Sprintf("%d submissions uploaded successfully", result.Uploaded)
	}

	return utils.SendSuccessWithStatus(c, fiber.StatusCreated, message, dto.UploadSubmitResponse{
		Mode:       string(result.Mode),
		Uploaded:   result.Uploaded,
		Submission: result.Submission,
		Batch:      result.Batch,
		Draft:      draft.View(),
	})
}

func (h *UploadHandler) batchStatus(c *fiber.Ctx) error {
	draft, err := h.draft(c)
	if err != nil {
		return sendServiceError(c, h.logger, err)
	}
	status, err := draft.BatchStatus(requestContext(c))
	if err != nil {
		return sendServiceError(c, h.logger, err)
	}
	return utils.SendSuccess(c, "batch status", status)
}

func readFormFile(header *multipart.FileHeader) (service.IncomingFile, error) {
	file, err := header.Open()
	if err != nil {
		return service.IncomingFile{}, err
	}
	defer file.Close()

	content, err := io.ReadAll(file)
	if err != nil {
		return service.IncomingFile{}, err
	}

	return service.IncomingFile{
		Filename:    header.Filename,
		ContentType: header.Header.Get("Content-Type"),
		Content:     content,
	}, nil
}
