package http

import (
	"errors"
	"log"
	"net/http"

	"github.com/gin-gonic/gin"

	"multiplayer-quiz-service/internal/app"
	"multiplayer-quiz-service/internal/domain"
)

// APIHandler exposes the session operations as JSON over HTTP.
type APIHandler struct {
	service *app.SessionService
}

func NewAPIHandler(service *app.SessionService) *APIHandler {
	return &APIHandler{service: service}
}

type hostRequest struct {
	Requester string `json:"requester"`
}

type advanceRequest struct {
	ExpectedIndex int `json:"expectedIndex"`
}

type errorResponse struct {
	Error      string `json:"error"`
	Kind       string `json:"kind"`
	Terminated bool   `json:"terminated,omitempty"`
}

func (h *APIHandler) CreateSession(c *gin.Context) {
	var req app.CreateSessionRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		badRequest(c, err)
		return
	}
	session, err := h.service.CreateSession(c.Request.Context(), req)
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusCreated, session)
}

func (h *APIHandler) ListSessions(c *gin.Context) {
	status := domain.Status(c.DefaultQuery("status", string(domain.StatusWaiting)))
	sessions, err := h.service.ListSessions(c.Request.Context(), status)
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, sessions)
}

func (h *APIHandler) Join(c *gin.Context) {
	var req app.JoinRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		badRequest(c, err)
		return
	}
	participant, err := h.service.Join(c.Request.Context(), req)
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, participant)
}

func (h *APIHandler) Snapshot(c *gin.Context) {
	snapshot, err := h.service.FetchSnapshot(c.Request.Context(), c.Param("id"))
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, snapshot)
}

func (h *APIHandler) CurrentQuestion(c *gin.Context) {
	question, err := h.service.CurrentQuestion(c.Request.Context(), c.Param("id"))
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, question)
}

func (h *APIHandler) Start(c *gin.Context) {
	var req hostRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		badRequest(c, err)
		return
	}
	session, err := h.service.StartSession(c.Request.Context(), c.Param("id"), req.Requester)
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, session)
}

func (h *APIHandler) SubmitAnswer(c *gin.Context) {
	var req app.SubmitRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		badRequest(c, err)
		return
	}
	req.SessionID = c.Param("id")
	result, err := h.service.SubmitAnswer(c.Request.Context(), req)
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, result)
}

func (h *APIHandler) Advance(c *gin.Context) {
	var req advanceRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		badRequest(c, err)
		return
	}
	session, err := h.service.AdvanceIfDue(c.Request.Context(), c.Param("id"), req.ExpectedIndex)
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, session)
}

func (h *APIHandler) Terminate(c *gin.Context) {
	if err := h.service.TerminateSession(c.Request.Context(), c.Param("id"), c.Query("requester")); err != nil {
		writeError(c, err)
		return
	}
	c.Status(http.StatusNoContent)
}

func badRequest(c *gin.Context, err error) {
	c.JSON(http.StatusBadRequest, errorResponse{Error: err.Error(), Kind: domain.KindValidation.String()})
}

func writeError(c *gin.Context, err error) {
	kind := domain.KindOf(err)
	resp := errorResponse{Error: err.Error(), Kind: kind.String()}
	status := http.StatusInternalServerError
	switch kind {
	case domain.KindValidation:
		status = http.StatusBadRequest
	case domain.KindConflict:
		status = http.StatusConflict
	case domain.KindNotFound:
		status = http.StatusNotFound
		resp.Terminated = errors.Is(err, domain.ErrSessionNotFound)
	default:
		log.Printf("%s %s: %v", c.Request.Method, c.FullPath(), err)
		resp.Error = "internal error"
	}
	c.JSON(status, resp)
}
