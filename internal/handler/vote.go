package handler

import (
	"errors"

	"github.com/gofiber/fiber/v3"
	"github.com/rs/zerolog/log"

	"github.com/truthsignal/consensus-engine/internal/middleware"
	"github.com/truthsignal/consensus-engine/internal/model"
	"github.com/truthsignal/consensus-engine/internal/service"
)

type VoteHandler struct {
	svc *service.VerificationService
}

func NewVoteHandler(svc *service.VerificationService) *VoteHandler {
	return &VoteHandler{svc: svc}
}

// Submit handles POST /api/v1/content/:contentId/votes
func (h *VoteHandler) Submit(c fiber.Ctx) error {
	contentID, errMsg := middleware.ValidateContentID(c.Params("contentId"))
	if errMsg != "" {
		return middleware.ErrorResponse(c, fiber.StatusBadRequest, "INVALID_FIELD", errMsg)
	}
	userID, errMsg := middleware.ValidateUserID(c.Get(middleware.UserIDHeader))
	if errMsg != "" {
		return middleware.ErrorResponse(c, fiber.StatusUnauthorized, "MISSING_USER", errMsg)
	}

	var req model.VoteRequest
	if err := c.Bind().JSON(&req); err != nil {
		return middleware.ErrorResponse(c, fiber.StatusBadRequest, "INVALID_BODY", "Invalid request body")
	}
	if errMsg := middleware.ValidateStruct(req); errMsg != "" {
		return middleware.ErrorResponse(c, fiber.StatusBadRequest, "INVALID_FIELD", errMsg)
	}

	res, err := h.svc.Submit(c.Context(), model.VoteInput{
		UserID:    userID,
		ContentID: contentID,
		VoteType:  model.VoteType(req.VoteType),
		Reasoning: req.Reasoning,
	})
	if err != nil {
		return serviceError(c, err, "Failed to submit vote")
	}

	status := fiber.StatusOK
	if res.Created {
		status = fiber.StatusCreated
	}
	return c.Status(status).JSON(model.VoteResponse{
		Vote:               res.Vote,
		Created:            res.Created,
		VerificationResult: res.Status,
	})
}

// Results handles GET /api/v1/content/:contentId/results
func (h *VoteHandler) Results(c fiber.Ctx) error {
	contentID, errMsg := middleware.ValidateContentID(c.Params("contentId"))
	if errMsg != "" {
		return middleware.ErrorResponse(c, fiber.StatusBadRequest, "INVALID_FIELD", errMsg)
	}

	resp, err := h.svc.GetResults(c.Context(), contentID)
	if err != nil {
		return serviceError(c, err, "Failed to compute results")
	}
	return c.JSON(resp)
}

// MyVote handles GET /api/v1/content/:contentId/votes/me
func (h *VoteHandler) MyVote(c fiber.Ctx) error {
	contentID, errMsg := middleware.ValidateContentID(c.Params("contentId"))
	if errMsg != "" {
		return middleware.ErrorResponse(c, fiber.StatusBadRequest, "INVALID_FIELD", errMsg)
	}
	userID, errMsg := middleware.ValidateUserID(c.Get(middleware.UserIDHeader))
	if errMsg != "" {
		return middleware.ErrorResponse(c, fiber.StatusUnauthorized, "MISSING_USER", errMsg)
	}

	vote, err := h.svc.GetVote(c.Context(), userID, contentID)
	if errors.Is(err, model.ErrNotFound) {
		return c.JSON(fiber.Map{"voted": false})
	}
	if err != nil {
		return serviceError(c, err, "Failed to load vote")
	}
	return c.JSON(fiber.Map{"voted": true, "vote": vote})
}

// UserVotes handles GET /api/v1/users/me/votes
func (h *VoteHandler) UserVotes(c fiber.Ctx) error {
	userID, errMsg := middleware.ValidateUserID(c.Get(middleware.UserIDHeader))
	if errMsg != "" {
		return middleware.ErrorResponse(c, fiber.StatusUnauthorized, "MISSING_USER", errMsg)
	}
	limit, offset, errMsg := middleware.Paging(c)
	if errMsg != "" {
		return middleware.ErrorResponse(c, fiber.StatusBadRequest, "INVALID_FIELD", errMsg)
	}

	votes, err := h.svc.ListUserVotes(c.Context(), userID, limit, offset)
	if err != nil {
		return serviceError(c, err, "Failed to list votes")
	}
	return c.JSON(fiber.Map{
		"votes":  votes,
		"limit":  limit,
		"offset": offset,
	})
}

// serviceError maps domain errors onto the API error contract.
func serviceError(c fiber.Ctx, err error, fallback string) error {
	switch {
	case errors.Is(err, model.ErrValidation):
		return middleware.ErrorResponse(c, fiber.StatusBadRequest, "INVALID_FIELD", err.Error())
	case errors.Is(err, model.ErrNotFound):
		return middleware.ErrorResponse(c, fiber.StatusNotFound, "NOT_FOUND", "Not found")
	case errors.Is(err, model.ErrStorage):
		log.Error().Err(err).Str("path", c.Route().Path).Msg("storage unavailable")
		return middleware.ErrorResponse(c, fiber.StatusServiceUnavailable, "STORAGE_UNAVAILABLE", "Storage temporarily unavailable, retry later")
	default:
		log.Error().Err(err).Str("path", c.Route().Path).Msg("unhandled service error")
		return middleware.ErrorResponse(c, fiber.StatusInternalServerError, "INTERNAL_ERROR", fallback)
	}
}
