package controller

import (
	"context"
	"net/http"
	"strconv"
	"time"

	"codejudge/internal/common/http/middleware"
	"codejudge/internal/judge/language"
	"codejudge/internal/judge/model"
	"codejudge/internal/judge/scheduler"
	"codejudge/internal/judge/service"
	appErr "codejudge/pkg/errors"
	"codejudge/pkg/repository"
	"codejudge/pkg/utils/logger"
	"codejudge/pkg/utils/response"

	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"
	"go.uber.org/zap"
)

// JudgeService is the part of service.Service the HTTP layer uses.
type JudgeService interface {
	Run(ctx context.Context, req service.RunRequest) (service.RunResponse, error)
	Submit(ctx context.Context, req service.SubmitRequest) (model.Submission, error)
	SubmitAndWait(ctx context.Context, req service.SubmitRequest) (model.Submission, error)
	Get(ctx context.Context, id string) (model.Submission, error)
	Watch(ctx context.Context, id string, fn func(model.Submission) error) error
	Cancel(ctx context.Context, id string) (model.Submission, error)
	ListByUser(ctx context.Context, userID string, opts repository.ListOptions) (*repository.PaginationResult[model.Submission], error)
	Languages() []language.Spec
	Stats() scheduler.Stats
}

// JudgeController handles run, submit and submission status requests.
type JudgeController struct {
	svc      JudgeService
	upgrader websocket.Upgrader
}

// NewJudgeController creates a new controller.
func NewJudgeController(svc JudgeService) *JudgeController {
	return &JudgeController{
		svc: svc,
		upgrader: websocket.Upgrader{
			ReadBufferSize:  1024,
			WriteBufferSize: 4096,
			// Origin checks belong to the gateway in front of the judge.
			CheckOrigin: func(*http.Request) bool { return true },
		},
	}
}

// Register mounts the judge routes under /api/v1.
func (h *JudgeController) Register(r gin.IRouter) {
	api := r.Group("/api/v1")
	api.POST("/problems/:id/run", h.Run)
	api.POST("/problems/:id/submit", h.Submit)
	api.GET("/submissions/:id", h.GetSubmission)
	api.GET("/submissions/:id/watch", h.Watch)
	api.DELETE("/submissions/:id", h.Cancel)
	api.GET("/users/:id/submissions", h.ListUserSubmissions)
	api.GET("/languages", h.Languages)
	api.GET("/judge/stats", h.Stats)
}

// CodeRequest is the body of run and submit requests.
type CodeRequest struct {
	Language string `json:"language" binding:"required"`
	Code     string `json:"code" binding:"required"`
}

// SubmitResponse is returned by an asynchronous submit.
type SubmitResponse struct {
	SubmissionID string `json:"submission_id"`
	Status       string `json:"status"`
	SubmittedAt  int64  `json:"submitted_at"`
}

// Run executes code against the visible cases of a problem.
func (h *JudgeController) Run(c *gin.Context) {
	var req CodeRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.BadRequest(c, "Invalid request parameters")
		return
	}
	resp, err := h.svc.Run(c.Request.Context(), service.RunRequest{
		ProblemID: c.Param("id"),
		Language:  req.Language,
		Code:      req.Code,
	})
	if err != nil {
		response.Error(c, err)
		return
	}
	response.Success(c, resp)
}

// Submit admits code for full judging. With ?wait=true it answers with the
// final record, otherwise with 202 and the Queued id.
func (h *JudgeController) Submit(c *gin.Context) {
	var req CodeRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.BadRequest(c, "Invalid request parameters")
		return
	}
	submitReq := service.SubmitRequest{
		ProblemID: c.Param("id"),
		UserID:    middleware.UserID(c),
		Language:  req.Language,
		Code:      req.Code,
	}
	if wait, _ := strconv.ParseBool(c.Query("wait")); wait {
		sub, err := h.svc.SubmitAndWait(c.Request.Context(), submitReq)
		if err != nil {
			response.Error(c, err)
			return
		}
		if !sub.Terminal() {
			response.Accepted(c, service.NewSubmissionView(sub))
			return
		}
		response.Success(c, service.NewSubmissionView(sub))
		return
	}

	sub, err := h.svc.Submit(c.Request.Context(), submitReq)
	if err != nil {
		response.Error(c, err)
		return
	}
	response.Accepted(c, SubmitResponse{
		SubmissionID: sub.ID,
		Status:       string(sub.Status),
		SubmittedAt:  sub.SubmittedAt.Unix(),
	})
}

// GetSubmission returns the pollable status or final record.
func (h *JudgeController) GetSubmission(c *gin.Context) {
	id := c.Param("id")
	if id == "" {
		response.BadRequest(c, "Invalid submission id")
		return
	}
	sub, err := h.svc.Get(c.Request.Context(), id)
	if err != nil {
		response.Error(c, err)
		return
	}
	response.Success(c, service.NewSubmissionView(sub))
}

// Cancel marks a submission abandoned.
func (h *JudgeController) Cancel(c *gin.Context) {
	sub, err := h.svc.Cancel(c.Request.Context(), c.Param("id"))
	if err != nil {
		response.Error(c, err)
		return
	}
	response.Accepted(c, service.NewSubmissionView(sub))
}

// ListUserSubmissions returns a user's history, most recent first.
func (h *JudgeController) ListUserSubmissions(c *gin.Context) {
	opts := repository.ListOptions{}
	var err error
	if raw := c.Query("limit"); raw != "" {
		if opts.Limit, err = strconv.Atoi(raw); err != nil {
			response.BadRequest(c, "Invalid limit")
			return
		}
	}
	if raw := c.Query("offset"); raw != "" {
		if opts.Offset, err = strconv.Atoi(raw); err != nil || opts.Offset < 0 {
			response.BadRequest(c, "Invalid offset")
			return
		}
	}
	page, err := h.svc.ListByUser(c.Request.Context(), c.Param("id"), opts)
	if err != nil {
		response.Error(c, err)
		return
	}
	response.Paged(c, response.Page{
		Items:    service.NewSubmissionViews(page.Items),
		Total:    page.Total,
		Page:     page.Page,
		PageSize: page.PageSize,
		HasMore:  page.HasMore,
	})
}

// Languages lists the registered language adapters.
func (h *JudgeController) Languages(c *gin.Context) {
	response.Success(c, h.svc.Languages())
}

// Stats reports queue length and worker usage.
func (h *JudgeController) Stats(c *gin.Context) {
	response.Success(c, h.svc.Stats())
}

const (
	watchWriteTimeout = 5 * time.Second
	watchPongWait     = 60 * time.Second
)

// Watch streams submission snapshots over a websocket until the verdict.
func (h *JudgeController) Watch(c *gin.Context) {
	id := c.Param("id")
	ctx := c.Request.Context()
	// Resolve before upgrading so unknown ids get a normal JSON error.
	if _, err := h.svc.Get(ctx, id); err != nil {
		response.Error(c, err)
		return
	}
	conn, err := h.upgrader.Upgrade(c.Writer, c.Request, nil)
	if err != nil {
		logger.Warn(ctx, "websocket upgrade failed", zap.String("submission_id", id), zap.Error(err))
		return
	}
	defer conn.Close()

	ctx, cancel := context.WithCancel(ctx)
	defer cancel()
	go func() {
		// Reads only detect the client going away.
		defer cancel()
		_ = conn.SetReadDeadline(time.Now().Add(watchPongWait))
		conn.SetPongHandler(func(string) error {
			return conn.SetReadDeadline(time.Now().Add(watchPongWait))
		})
		for {
			if _, _, err := conn.ReadMessage(); err != nil {
				return
			}
		}
	}()

	err = h.svc.Watch(ctx, id, func(sub model.Submission) error {
		_ = conn.SetWriteDeadline(time.Now().Add(watchWriteTimeout))
		return conn.WriteJSON(service.NewSubmissionView(sub))
	})
	closeCode, reason := websocket.CloseNormalClosure, "final"
	if err != nil && ctx.Err() == nil {
		closeCode, reason = websocket.CloseInternalServerErr, appErr.GetError(err).Message
		logger.Warn(ctx, "watch stream failed", zap.String("submission_id", id), zap.Error(err))
	}
	_ = conn.WriteControl(websocket.CloseMessage, websocket.FormatCloseMessage(closeCode, reason), time.Now().Add(watchWriteTimeout))
}
