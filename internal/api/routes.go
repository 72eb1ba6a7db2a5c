package api

import (
	"context"
	"errors"
	"net/http"
	"strings"
	"time"

	"github.com/labstack/echo/v4"
	"go.uber.org/zap"

	"github.com/pelatih-ai/pelatih/server/internal/auth"
	"github.com/pelatih-ai/pelatih/server/internal/avatar"
	"github.com/pelatih-ai/pelatih/server/internal/config"
	"github.com/pelatih-ai/pelatih/server/internal/rtctoken"
)

const (
	connectTimeout = 15 * time.Second
	rtcTokenTTL    = time.Hour
)

// Handlers wires the HTTP surface to the avatar session core.
type Handlers struct {
	cfg     *config.Config
	manager *avatar.Manager
	pacer   *avatar.Pacer
	auth    *auth.Authenticator
	logger  *zap.Logger
}

// InitRoutes initializes all API routes
func InitRoutes(e *echo.Echo, cfg *config.Config, manager *avatar.Manager, pacer *avatar.Pacer, authenticator *auth.Authenticator, logger *zap.Logger) {
	h := &Handlers{
		cfg:     cfg,
		manager: manager,
		pacer:   pacer,
		auth:    authenticator,
		logger:  logger,
	}

	// Health check
	e.GET("/health", func(c echo.Context) error {
		return c.JSON(http.StatusOK, map[string]string{
			"status":  "ok",
			"service": "pelatih-server",
		})
	})

	// API v1 routes
	v1 := e.Group("/api/v1")

	v1.POST("/trainees/login", h.traineeLogin)

	protected := v1.Group("", h.requireToken)
	protected.GET("/rtc/token", h.rtcToken)
	protected.POST("/avatar/sessions", h.createSession)
	protected.DELETE("/avatar/sessions/:id", h.closeSession)
	protected.POST("/avatar/sessions/:id/speak", h.speak)
	protected.POST("/avatar/sessions/:id/interrupt", h.interrupt)
}

// requireToken validates the Bearer token on protected routes.
func (h *Handlers) requireToken(next echo.HandlerFunc) echo.HandlerFunc {
	return func(c echo.Context) error {
		var token string
		authHeader := c.Request().Header.Get("Authorization")
		if strings.HasPrefix(authHeader, "Bearer ") {
			token = authHeader[len("Bearer "):]
		}
		if token == "" {
			return c.JSON(http.StatusUnauthorized, ErrorResponse{
				Error:   "missing_token",
				Message: "JWT token is required in Authorization header",
			})
		}

		claims, err := h.auth.ValidateToken(token)
		if err != nil {
			h.logger.Warn("Request rejected: invalid token", zap.Error(err))
			return c.JSON(http.StatusUnauthorized, ErrorResponse{
				Error:   "invalid_token",
				Message: "Invalid or expired JWT token",
			})
		}

		c.Set("claims", claims)
		return next(c)
	}
}

func (h *Handlers) traineeLogin(c echo.Context) error {
	var req TraineeLoginRequest
	if err := c.Bind(&req); err != nil {
		return c.JSON(http.StatusBadRequest, ErrorResponse{
			Error:   "invalid_request",
			Message: "Invalid request format",
		})
	}
	if req.TraineeID == "" {
		return c.JSON(http.StatusBadRequest, ErrorResponse{
			Error:   "missing_fields",
			Message: "Trainee ID is required",
		})
	}

	token, err := h.auth.GenerateTraineeToken(req.TraineeID)
	if err != nil {
		h.logger.Error("Failed to generate trainee token",
			zap.String("traineeID", req.TraineeID),
			zap.Error(err))
		return c.JSON(http.StatusInternalServerError, ErrorResponse{
			Error:   "token_generation_failed",
			Message: "Failed to generate authentication token",
		})
	}

	return c.JSON(http.StatusOK, TraineeLoginResponse{
		Token:     token,
		ExpiresAt: time.Now().Add(24 * time.Hour),
		TraineeID: req.TraineeID,
	})
}

// rtcToken issues the signed room token the browser SDK joins with.
func (h *Handlers) rtcToken(c echo.Context) error {
	roomID := c.QueryParam("room_id")
	userID := c.QueryParam("user_id")
	if roomID == "" || userID == "" {
		return c.JSON(http.StatusBadRequest, ErrorResponse{
			Error:   "missing_fields",
			Message: "room_id and user_id are required",
		})
	}

	expiresAt := time.Now().Add(rtcTokenTTL)
	token, err := rtctoken.Generate(h.cfg.RTCAppID, h.cfg.RTCAppKey, roomID, userID, expiresAt)
	if err != nil {
		h.logger.Error("Failed to generate RTC token",
			zap.String("roomID", roomID),
			zap.String("userID", userID),
			zap.Error(err))
		return c.JSON(http.StatusInternalServerError, ErrorResponse{
			Error:   "token_generation_failed",
			Message: "Failed to generate room token",
		})
	}

	return c.JSON(http.StatusOK, RTCTokenResponse{
		Token:     token,
		RoomID:    roomID,
		UserID:    userID,
		ExpiresAt: expiresAt,
	})
}

// createSession opens the avatar connection and waits for the rendering
// service to confirm initialization.
func (h *Handlers) createSession(c echo.Context) error {
	var req CreateSessionRequest
	if err := c.Bind(&req); err != nil {
		return c.JSON(http.StatusBadRequest, ErrorResponse{
			Error:   "invalid_request",
			Message: "Invalid request format",
		})
	}
	if req.SessionID == "" || req.LiveID == "" || req.Role == "" || req.RoomID == "" {
		return c.JSON(http.StatusBadRequest, ErrorResponse{
			Error:   "missing_fields",
			Message: "session_id, live_id, role and room_id are required",
		})
	}

	avatarUserID := "avatar-" + req.SessionID
	transportToken, err := rtctoken.Generate(h.cfg.RTCAppID, h.cfg.RTCAppKey, req.RoomID, avatarUserID, time.Now().Add(rtcTokenTTL))
	if err != nil {
		h.logger.Error("Failed to generate avatar transport token",
			zap.String("sessionID", req.SessionID),
			zap.Error(err))
		return c.JSON(http.StatusInternalServerError, ErrorResponse{
			Error:   "token_generation_failed",
			Message: "Failed to generate transport token",
		})
	}

	inputMode := req.InputMode
	if inputMode == "" {
		inputMode = "audio"
	}

	params := avatar.InitParams{
		LiveID: req.LiveID,
		Auth: avatar.AuthParams{
			AppID: h.cfg.AvatarAppID,
			Token: h.cfg.AvatarToken,
		},
		Avatar: avatar.RoleParams{
			Type:      "3d",
			InputMode: inputMode,
			Role:      req.Role,
			Bitrate:   req.Bitrate,
			Width:     req.Width,
			Height:    req.Height,
		},
		Transport: avatar.TransportParams{
			Type:   "rtc",
			RoomID: req.RoomID,
			AppID:  h.cfg.RTCAppID,
			UserID: avatarUserID,
			Token:  transportToken,
		},
	}

	confirmed, err := h.manager.Connect(c.Request().Context(), req.SessionID, params)
	if err != nil {
		h.logger.Error("Failed to connect avatar session",
			zap.String("sessionID", req.SessionID),
			zap.Error(err))
		return c.JSON(http.StatusBadGateway, ErrorResponse{
			Error:   "connect_failed",
			Message: "Failed to reach the avatar rendering service",
		})
	}

	select {
	case err := <-confirmed:
		if err != nil {
			h.logger.Error("Avatar session rejected before confirmation",
				zap.String("sessionID", req.SessionID),
				zap.Error(err))
			return c.JSON(http.StatusBadGateway, ErrorResponse{
				Error:   "session_not_confirmed",
				Message: "The rendering service closed the session before confirming it",
			})
		}
	case <-time.After(connectTimeout):
		h.manager.Close(req.SessionID)
		return c.JSON(http.StatusGatewayTimeout, ErrorResponse{
			Error:   "confirmation_timeout",
			Message: "The rendering service did not confirm the session in time",
		})
	}

	return c.JSON(http.StatusOK, CreateSessionResponse{
		SessionID: req.SessionID,
		Status:    "ready",
	})
}

func (h *Handlers) closeSession(c echo.Context) error {
	sessionID := c.Param("id")
	h.manager.Close(sessionID)
	return c.NoContent(http.StatusNoContent)
}

// speak starts one paced audio stream for the session. Streaming runs in
// the background; a barge-in or session close stops it.
func (h *Handlers) speak(c echo.Context) error {
	sessionID := c.Param("id")

	var req SpeakRequest
	if err := c.Bind(&req); err != nil {
		return c.JSON(http.StatusBadRequest, ErrorResponse{
			Error:   "invalid_request",
			Message: "Invalid request format",
		})
	}
	if req.Text == "" {
		return c.JSON(http.StatusBadRequest, ErrorResponse{
			Error:   "missing_fields",
			Message: "Text is required",
		})
	}

	if h.pacer.Busy(sessionID) {
		return c.JSON(http.StatusConflict, ErrorResponse{
			Error:   "stream_active",
			Message: "The session is already speaking; interrupt it first",
		})
	}

	// The stream outlives this request; it must not die with the
	// request context.
	go func() {
		err := h.pacer.Stream(context.Background(), sessionID, req.Text, req.VoiceID)
		switch {
		case errors.Is(err, avatar.ErrStreamActive):
			// Lost the race with another speak request.
			h.logger.Warn("Rejected overlapping speech stream",
				zap.String("sessionID", sessionID))
		case err != nil:
			h.logger.Error("Avatar speech stream failed",
				zap.String("sessionID", sessionID),
				zap.Error(err))
		}
	}()

	return c.JSON(http.StatusAccepted, map[string]string{
		"session_id": sessionID,
		"status":     "streaming",
	})
}

func (h *Handlers) interrupt(c echo.Context) error {
	sessionID := c.Param("id")
	h.manager.Interrupt(sessionID)
	return c.JSON(http.StatusOK, map[string]string{
		"session_id": sessionID,
		"status":     "interrupted",
	})
}
