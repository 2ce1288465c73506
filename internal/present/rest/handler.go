package rest

import (
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"strconv"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"github.com/labstack/echo/v4"

	"github.com/imprint-pub/imprint"
	"github.com/imprint-pub/imprint/client"
	"github.com/imprint-pub/imprint/internal/domain"
	"github.com/imprint-pub/imprint/internal/present/rest/presenter"
	"github.com/imprint-pub/imprint/internal/service"
	"github.com/imprint-pub/imprint/internal/usecase"
	"github.com/imprint-pub/imprint/jwt"
)

const sessionLifetime = 24 * time.Hour

type Handler struct {
	config     domain.Config
	publish    *usecase.PublishUsecase
	feed       *usecase.FeedUsecase
	draft      *usecase.DraftUsecase
	relayAdmin *usecase.RelayAdminUsecase
	admin      *usecase.AdminUsecase
	engagement *service.EngagementService
	comments   *service.CommentService
	signal     *service.SignalService
	signer     *service.LocalSigner
	peers      *client.Client
}

func NewHandler(
	config domain.Config,
	publish *usecase.PublishUsecase,
	feed *usecase.FeedUsecase,
	draft *usecase.DraftUsecase,
	relayAdmin *usecase.RelayAdminUsecase,
	admin *usecase.AdminUsecase,
	engagement *service.EngagementService,
	comments *service.CommentService,
	signal *service.SignalService,
	signer *service.LocalSigner,
	peers *client.Client,
) *Handler {
	return &Handler{
		config:     config,
		publish:    publish,
		feed:       feed,
		draft:      draft,
		relayAdmin: relayAdmin,
		admin:      admin,
		engagement: engagement,
		comments:   comments,
		signal:     signal,
		signer:     signer,
		peers:      peers,
	}
}

func (h *Handler) RegisterRoutes(e *echo.Echo, requireAdmin echo.MiddlewareFunc) {
	e.GET("/.well-known/imprint", h.handleWellKnown)
	e.POST("/api/v1/session", h.handleSession)

	e.POST("/api/v1/publish", h.handlePublish)
	e.POST("/api/v1/revert", h.handleRevert)

	e.GET("/api/v1/articles", h.handleFeed)
	e.GET("/api/v1/articles/:author/:identifier", h.handleLatest)
	e.GET("/api/v1/articles/:author/:identifier/history", h.handleHistory)
	e.GET("/api/v1/events/:id", h.handleEvent)

	e.GET("/api/v1/drafts", h.handleDraftList)
	e.POST("/api/v1/drafts", h.handleDraftSave)
	e.GET("/api/v1/drafts/:id", h.handleDraftGet)
	e.DELETE("/api/v1/drafts/:id", h.handleDraftDelete)

	e.GET("/api/v1/engagement", h.handleEngagement)
	e.GET("/api/v1/comments", h.handleComments)

	e.GET("/api/v1/peers/:domain", h.handlePeerResolve)

	e.GET("/api/v1/relays", h.handleRelayList)
	e.POST("/api/v1/relays", h.handleRelayAdd, requireAdmin)
	e.DELETE("/api/v1/relays", h.handleRelayRemove, requireAdmin)

	e.GET("/api/v1/settings", h.handleSettingsGet, requireAdmin)
	e.PUT("/api/v1/settings", h.handleSettingsUpdate, requireAdmin)
	e.GET("/api/v1/admin/events", h.handleAdminEvents, requireAdmin)

	e.GET("/realtime", h.handleRealtime)
}

func (h *Handler) requester(c echo.Context) string {
	key, _ := c.Request().Context().Value(domain.RequesterKeyCtxKey).(string)
	return key
}

func (h *Handler) handleWellKnown(c echo.Context) error {
	wellknown := imprint.WellKnownImprint{
		Version:   "1.0",
		Domain:    h.config.FQDN,
		AuthorKey: h.config.AuthorKey,
		Endpoints: map[string]string{
			"pub.imprint.session":    "/api/v1/session",
			"pub.imprint.publish":    "/api/v1/publish",
			"pub.imprint.articles":   "/api/v1/articles",
			"pub.imprint.engagement": "/api/v1/engagement",
			"pub.imprint.realtime":   "/realtime",
		},
	}
	return presenter.OK(c, wellknown)
}

// handleSession exchanges a freshly signed challenge event for a session
// token. The challenge content must name this node's domain, and only the
// node author can obtain a server-minted token.
func (h *Handler) handleSession(c echo.Context) error {
	var challenge imprint.Event
	if err := c.Bind(&challenge); err != nil {
		return presenter.BadRequest(c, err)
	}

	if !imprint.Verify(challenge) {
		return presenter.Unauthorized(c, "invalid challenge signature")
	}
	if challenge.Content != h.config.FQDN {
		return presenter.Unauthorized(c, "challenge is for another domain")
	}
	age := time.Since(time.Unix(challenge.CreatedAt, 0))
	if age < -time.Minute || age > 5*time.Minute {
		return presenter.Unauthorized(c, "challenge expired")
	}
	if challenge.Author != h.signer.AuthorKey() {
		return presenter.Forbidden(c, "sessions are limited to the node author")
	}

	now := time.Now()
	token, err := jwt.Create(jwt.Claims{
		Issuer:         challenge.Author,
		Subject:        "imprint",
		Audience:       h.config.FQDN,
		ExpirationTime: fmt.Sprint(now.Add(sessionLifetime).Unix()),
		IssuedAt:       fmt.Sprint(now.Unix()),
		JWTID:          uuid.NewString(),
	}, h.signer.Key())
	if err != nil {
		return presenter.InternalError(c, err)
	}

	return presenter.OK(c, echo.Map{"token": token})
}

func (h *Handler) handlePublish(c echo.Context) error {
	ctx := c.Request().Context()

	requester := h.requester(c)
	if requester == "" {
		return presenter.Unauthorized(c, "authentication required")
	}

	var input usecase.PublishInput
	if err := c.Bind(&input); err != nil {
		return presenter.BadRequest(c, err)
	}

	result, err := h.publish.Publish(ctx, requester, input)
	if err != nil {
		return h.mapError(c, err)
	}
	return presenter.OK(c, result)
}

type revertRequest struct {
	Identifier string `json:"identifier"`
	Version    int    `json:"version"`
}

func (h *Handler) handleRevert(c echo.Context) error {
	ctx := c.Request().Context()

	requester := h.requester(c)
	if requester == "" {
		return presenter.Unauthorized(c, "authentication required")
	}

	var req revertRequest
	if err := c.Bind(&req); err != nil {
		return presenter.BadRequest(c, err)
	}
	if req.Identifier == "" || req.Version < 1 {
		return presenter.BadRequestMessage(c, "identifier and version are required")
	}

	result, err := h.publish.Revert(ctx, requester, req.Identifier, req.Version)
	if err != nil {
		return h.mapError(c, err)
	}
	return presenter.OK(c, result)
}

func (h *Handler) handleFeed(c echo.Context) error {
	ctx := c.Request().Context()

	filter := domain.FeedFilter{
		Author: c.QueryParam("author"),
		Topic:  c.QueryParam("topic"),
	}

	if daysStr := c.QueryParam("days"); daysStr != "" {
		days, err := strconv.Atoi(daysStr)
		if err != nil {
			return presenter.BadRequestMessage(c, "invalid days parameter")
		}
		filter.SinceDays = days
	}
	if limitStr := c.QueryParam("limit"); limitStr != "" {
		limit, err := strconv.Atoi(limitStr)
		if err != nil {
			return presenter.BadRequestMessage(c, "invalid limit parameter")
		}
		filter.Limit = limit
	}
	if offsetStr := c.QueryParam("offset"); offsetStr != "" {
		offset, err := strconv.Atoi(offsetStr)
		if err != nil {
			return presenter.BadRequestMessage(c, "invalid offset parameter")
		}
		filter.Offset = offset
	}

	records, err := h.feed.ListLatest(ctx, filter)
	if err != nil {
		return h.mapError(c, err)
	}
	return presenter.OK(c, records)
}

func (h *Handler) handleLatest(c echo.Context) error {
	ctx := c.Request().Context()

	record, err := h.feed.Latest(ctx, c.Param("author"), c.Param("identifier"))
	if err != nil {
		return h.mapError(c, err)
	}
	return presenter.OK(c, record)
}

func (h *Handler) handleHistory(c echo.Context) error {
	ctx := c.Request().Context()

	history, err := h.feed.History(ctx, c.Param("author"), c.Param("identifier"))
	if err != nil {
		return h.mapError(c, err)
	}
	return presenter.OK(c, history)
}

func (h *Handler) handleEvent(c echo.Context) error {
	ctx := c.Request().Context()

	record, err := h.feed.Get(ctx, c.Param("id"))
	if err != nil {
		return h.mapError(c, err)
	}
	return presenter.OK(c, record)
}

func (h *Handler) handleDraftList(c echo.Context) error {
	ctx := c.Request().Context()

	requester := h.requester(c)
	if requester == "" {
		return presenter.Unauthorized(c, "authentication required")
	}

	drafts, err := h.draft.List(ctx, requester)
	if err != nil {
		return h.mapError(c, err)
	}
	return presenter.OK(c, drafts)
}

func (h *Handler) handleDraftSave(c echo.Context) error {
	ctx := c.Request().Context()

	requester := h.requester(c)
	if requester == "" {
		return presenter.Unauthorized(c, "authentication required")
	}

	var draft domain.Draft
	if err := c.Bind(&draft); err != nil {
		return presenter.BadRequest(c, err)
	}

	saved, err := h.draft.Save(ctx, requester, draft)
	if err != nil {
		return h.mapError(c, err)
	}
	if draft.ID == 0 {
		return presenter.Created(c, saved)
	}
	return presenter.OK(c, saved)
}

func (h *Handler) handleDraftGet(c echo.Context) error {
	ctx := c.Request().Context()

	requester := h.requester(c)
	if requester == "" {
		return presenter.Unauthorized(c, "authentication required")
	}

	id, err := strconv.ParseInt(c.Param("id"), 10, 64)
	if err != nil {
		return presenter.BadRequestMessage(c, "invalid draft id")
	}

	draft, err := h.draft.Get(ctx, requester, id)
	if err != nil {
		return h.mapError(c, err)
	}
	return presenter.OK(c, draft)
}

func (h *Handler) handleDraftDelete(c echo.Context) error {
	ctx := c.Request().Context()

	requester := h.requester(c)
	if requester == "" {
		return presenter.Unauthorized(c, "authentication required")
	}

	id, err := strconv.ParseInt(c.Param("id"), 10, 64)
	if err != nil {
		return presenter.BadRequestMessage(c, "invalid draft id")
	}

	if err := h.draft.Delete(ctx, requester, id); err != nil {
		return h.mapError(c, err)
	}
	return presenter.OK(c, echo.Map{"status": "ok"})
}

func (h *Handler) handleEngagement(c echo.Context) error {
	ctx := c.Request().Context()

	eventID := c.QueryParam("event")
	if eventID == "" {
		return presenter.BadRequestMessage(c, "event parameter is required")
	}

	counts, err := h.engagement.Get(ctx, eventID)
	if err != nil {
		return presenter.InternalError(c, err)
	}
	return presenter.OK(c, counts)
}

func (h *Handler) handleComments(c echo.Context) error {
	ctx := c.Request().Context()

	eventID := c.QueryParam("event")
	if eventID == "" {
		return presenter.BadRequestMessage(c, "event parameter is required")
	}

	thread, err := h.comments.Thread(ctx, eventID)
	if err != nil {
		return presenter.InternalError(c, err)
	}
	return presenter.OK(c, thread)
}

func (h *Handler) handleSettingsGet(c echo.Context) error {
	ctx := c.Request().Context()

	setting, err := h.admin.Settings(ctx)
	if err != nil {
		return h.mapError(c, err)
	}
	return presenter.OK(c, setting)
}

func (h *Handler) handleSettingsUpdate(c echo.Context) error {
	ctx := c.Request().Context()

	var setting domain.Setting
	if err := c.Bind(&setting); err != nil {
		return presenter.BadRequest(c, err)
	}

	updated, err := h.admin.UpdateSettings(ctx, h.actor(c), setting)
	if err != nil {
		return h.mapError(c, err)
	}
	return presenter.OK(c, updated)
}

func (h *Handler) handleAdminEvents(c echo.Context) error {
	ctx := c.Request().Context()

	limit := 0
	if limitStr := c.QueryParam("limit"); limitStr != "" {
		parsed, err := strconv.Atoi(limitStr)
		if err != nil {
			return presenter.BadRequestMessage(c, "invalid limit parameter")
		}
		limit = parsed
	}

	entries, err := h.admin.Events(ctx, limit)
	if err != nil {
		return h.mapError(c, err)
	}
	return presenter.OK(c, entries)
}

func (h *Handler) handlePeerResolve(c echo.Context) error {
	ctx := c.Request().Context()

	wkc, err := h.peers.Resolve(ctx, c.Param("domain"))
	if err != nil {
		return presenter.BadRequest(c, err)
	}
	return presenter.OK(c, wkc)
}

func (h *Handler) handleRelayList(c echo.Context) error {
	ctx := c.Request().Context()

	relays, err := h.relayAdmin.List(ctx)
	if err != nil {
		return h.mapError(c, err)
	}
	return presenter.OK(c, relays)
}

type relayRequest struct {
	URL string `json:"url"`
}

func (h *Handler) handleRelayAdd(c echo.Context) error {
	ctx := c.Request().Context()

	var req relayRequest
	if err := c.Bind(&req); err != nil {
		return presenter.BadRequest(c, err)
	}

	if err := h.relayAdmin.Add(ctx, h.actor(c), req.URL); err != nil {
		return h.mapError(c, err)
	}
	return presenter.OK(c, echo.Map{"status": "ok"})
}

func (h *Handler) handleRelayRemove(c echo.Context) error {
	ctx := c.Request().Context()

	relayURL := c.QueryParam("url")
	if relayURL == "" {
		return presenter.BadRequestMessage(c, "url parameter is required")
	}

	if err := h.relayAdmin.Remove(ctx, h.actor(c), relayURL); err != nil {
		return h.mapError(c, err)
	}
	return presenter.OK(c, echo.Map{"status": "ok"})
}

func (h *Handler) actor(c echo.Context) string {
	if requester := h.requester(c); requester != "" {
		return requester
	}
	return "admin"
}

func (h *Handler) mapError(c echo.Context, err error) error {
	switch {
	case errors.Is(err, domain.ErrNotFound):
		return presenter.NotFound(c, err.Error())
	case errors.Is(err, domain.ErrForbidden):
		return presenter.Forbidden(c, err.Error())
	case errors.Is(err, domain.ErrConflict):
		return presenter.Conflict(c, err.Error())
	case errors.Is(err, domain.ErrValidation):
		return presenter.BadRequestMessage(c, err.Error())
	default:
		return presenter.InternalError(c, err)
	}
}

var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
	CheckOrigin: func(r *http.Request) bool {
		return true
	},
}

type realtimeRequest struct {
	Type    string   `json:"type"`
	Authors []string `json:"authors"`
}

func (h *Handler) handleRealtime(c echo.Context) error {
	ws, err := upgrader.Upgrade(c.Response(), c.Request(), nil)
	if err != nil {
		slog.Error(
			"Failed to upgrade WebSocket",
			slog.String("error", err.Error()),
			slog.String("module", "socket"),
		)
		return err
	}
	defer func() {
		ws.Close()
	}()

	ctx := c.Request().Context()

	input := make(chan []string)
	defer close(input)
	output := make(chan domain.Record)

	go h.signal.Realtime(ctx, input, output)

	quit := make(chan struct{})

	go func() {
		for {
			var req realtimeRequest
			err := ws.ReadJSON(&req)
			if err != nil {

				wsErr, ok := err.(*websocket.CloseError)
				if ok {
					if !(wsErr.Code == websocket.CloseNormalClosure || wsErr.Code == websocket.CloseGoingAway) {
						slog.DebugContext(
							ctx, "WebSocket closed",
							slog.String("error", wsErr.Error()),
							slog.String("module", "socket"),
						)
					}
				} else {
					slog.ErrorContext(
						ctx, "Error reading message",
						slog.String("error", err.Error()),
						slog.String("module", "socket"),
					)
				}

				quit <- struct{}{}
				break
			}

			switch req.Type {
			case "listen":
				input <- req.Authors
				slog.DebugContext(
					ctx, fmt.Sprintf("Socket subscribe: %s", req.Authors),
					slog.String("module", "socket"),
				)
			case "h": // heartbeat
				// do nothing
			default:
				slog.InfoContext(
					ctx, "Unknown request type",
					slog.String("type", req.Type),
					slog.String("module", "socket"),
				)
			}
		}
	}()

	for {
		select {
		case <-quit:
			return nil
		case rec := <-output:
			err := ws.WriteJSON(rec)
			if err != nil {
				slog.ErrorContext(
					ctx, "Error writing message",
					slog.String("error", err.Error()),
					slog.String("module", "socket"),
				)
				return nil
			}
		}
	}
}
