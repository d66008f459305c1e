package handler

import (
	"context"
	"log/slog"
	"net/http"

	"github.com/gin-gonic/gin"

	"lumen.app/relay/internal/chat"
	"lumen.app/relay/internal/http/dto"
	"lumen.app/relay/internal/model"
)

type ChatService interface {
	Run(ctx context.Context, req *chat.TurnRequest, sink chat.Sink) (*chat.TurnResult, error)
	Stop(ctx context.Context, turnID string) (bool, error)
	Models() chat.ModelList
}

type ChatHandler struct {
	svc       ChatService
	newTurnID func() string
}

func NewChatHandler(svc ChatService, newTurnID func() string) *ChatHandler {
	return &ChatHandler{svc: svc, newTurnID: newTurnID}
}

// Chat runs one turn. Streamed turns answer with SSE events turn, fragment, error and
// done; errors raised before the first event come back as a plain JSON envelope.
func (h *ChatHandler) Chat(c *gin.Context) {
	var req dto.ChatRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, model.ErrorEnvelope{Title: "Invalid request", Message: err.Error()})
		return
	}

	turnID := req.TurnID
	if turnID == "" {
		turnID = h.newTurnID()
	}
	c.Header("X-Turn-ID", turnID)

	turn := req.ToTurnRequest(turnID)
	if turn.Stream {
		h.stream(c, turn)
		return
	}

	res, err := h.svc.Run(c.Request.Context(), turn, nil)
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, dto.ToChatResponse(turnID, res))
}

func (h *ChatHandler) stream(c *gin.Context, turn *chat.TurnRequest) {
	ctx := c.Request.Context()

	started := false
	start := func() {
		if started {
			return
		}
		started = true
		setSSEHeaders(c.Writer)
		sseWrite(c.Writer, "turn", dto.TurnStarted{TurnID: turn.TurnID})
	}

	sink := chat.SinkFunc(func(_ context.Context, text string) error {
		if err := c.Request.Context().Err(); err != nil {
			return err
		}
		start()
		sseWrite(c.Writer, "fragment", dto.Fragment{Text: text})
		c.Writer.Flush()
		return nil
	})

	res, err := h.svc.Run(ctx, turn, sink)
	if err != nil {
		if !started {
			writeError(c, err)
			return
		}
		env, _ := model.Envelope(err)
		sseWrite(c.Writer, "error", env)
		c.Writer.Flush()
		return
	}

	start()
	if res.Err != nil {
		env, _ := model.Envelope(res.Err)
		sseWrite(c.Writer, "error", env)
	}
	sseWrite(c.Writer, "done", dto.ToChatResponse(turn.TurnID, res))
	c.Writer.Flush()
}

func (h *ChatHandler) Stop(c *gin.Context) {
	turnID := c.Param("turn_id")
	if turnID == "" {
		c.JSON(http.StatusBadRequest, model.ErrorEnvelope{Title: "Invalid request", Message: "missing turn_id"})
		return
	}

	local, err := h.svc.Stop(c.Request.Context(), turnID)
	if err != nil {
		slog.ErrorContext(c.Request.Context(), "failed to stop turn", "error", err, "turn_id", turnID)
		c.JSON(http.StatusBadGateway, model.ErrorEnvelope{Title: "Stop failed", Message: err.Error()})
		return
	}
	c.JSON(http.StatusAccepted, dto.StopResponse{TurnID: turnID, StoppedLocally: local})
}

func (h *ChatHandler) Models(c *gin.Context) {
	c.JSON(http.StatusOK, h.svc.Models())
}

func writeError(c *gin.Context, err error) {
	env, status := model.Envelope(err)
	if status >= http.StatusInternalServerError {
		slog.ErrorContext(c.Request.Context(), "turn failed", "error", err, "status", status)
	}
	c.JSON(status, env)
}
