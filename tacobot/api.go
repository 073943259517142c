package tacobot

import (
	"context"
	"crypto/tls"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/gin-contrib/cors"
	"github.com/gin-contrib/pprof"
	"github.com/gin-contrib/sessions"
	gsessions "github.com/gin-contrib/sessions/cookie"
	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/lmittmann/tint"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"golang.org/x/time/rate"
)

const (
	webhookTokenHeader = "X-TACOBOT-TOKEN"
	xRequestIDHeader   = "X-Request-ID"

	sessionCookieName = "tacobot_session"
	sessionVarField   = "admin_username"

	apiBasePath     = "/api/v1"
	webhookBasePath = "/webhook"
	adminBasePath   = "/admin/api"

	// loginRateInterval throttles login attempts to one per interval
	loginRateInterval = 3 * time.Second
)

// API is the embedded HTTP server: webhook endpoints for external
// integrations, the versioned REST API, the admin session endpoints,
// /healthz and /metrics.
type API struct {
	config     *APIConfig
	bot        *TacoBot
	logger     *slog.Logger
	engine     *gin.Engine
	httpServer *http.Server

	// Throttles admin login attempts
	loginLimiter *rate.Limiter
}

func newAPI(t *TacoBot, config *APIConfig) (*API, error) {
	if config == nil {
		return nil, errors.New("nil api config")
	}

	logger := slog.New(
		newTintHandler(config.LogLevel).WithAttrs(
			[]slog.Attr{slog.String(loggerNameKey, "api")},
		),
	)

	api := &API{
		config:       config,
		bot:          t,
		logger:       logger,
		loginLimiter: rate.NewLimiter(rate.Every(loginRateInterval), 1),
	}

	gin.SetMode(gin.ReleaseMode)
	engine := gin.New()
	engine.Use(api.middlewareRequestID())
	engine.Use(api.middlewareLogging())
	engine.Use(api.middlewareMetrics())
	engine.Use(gin.Recovery())

	corsConfig := config.CORS.GINConfig()
	if len(corsConfig.AllowOrigins) > 0 {
		engine.Use(cors.New(corsConfig))
	}

	if config.Secret != "" {
		store := gsessions.NewStore(derive64ByteKey(config.Secret))
		sameSite := http.SameSiteStrictMode
		if config.Development {
			sameSite = http.SameSiteNoneMode
		}
		store.Options(
			sessions.Options{
				Path:     "/",
				MaxAge:   int(config.SessionMaxAge.Seconds()),
				Secure:   config.SSL.Cert != "",
				HttpOnly: true,
				SameSite: sameSite,
			},
		)
		engine.Use(sessions.Sessions(sessionCookieName, store))
	}

	if config.Development {
		pprof.Register(engine)
	}

	api.registerRoutes(engine)
	api.engine = engine
	return api, nil
}

func (a *API) registerRoutes(engine *gin.Engine) {
	engine.GET("/healthz", a.getHealth)

	if a.bot.config.Metrics.Enabled {
		engine.GET(
			"/metrics",
			gin.WrapH(
				promhttp.HandlerFor(
					a.bot.metrics.registry,
					promhttp.HandlerOpts{},
				),
			),
		)
	}

	webhooks := engine.Group(webhookBasePath)
	webhooks.Use(a.middlewareWebhookToken())
	{
		webhooks.POST("/tacos/give", a.webhookGiveTacos)
		webhooks.DELETE("/tacos", a.webhookRemoveTacos)
		webhooks.POST("/game-key", a.webhookGameKey)
		webhooks.POST("/twitch/confirm", a.webhookTwitchConfirm)
		webhooks.POST("/twitch/live", a.webhookTwitchLive)
		webhooks.POST("/minecraft/worlds", a.webhookMinecraftWorlds)
	}

	v1 := engine.Group(apiBasePath)
	{
		v1.GET("/minecraft/status", a.getMinecraftStatus)
		v1.GET("/minecraft/whitelist", a.getMinecraftWhitelist)
		v1.GET("/minecraft/ops", a.getMinecraftOps)
		v1.GET("/minecraft/world", a.getMinecraftWorld)
		v1.GET("/minecraft/player/:username/stats", a.getMinecraftPlayerStats)
		v1.GET("/guild/:guild_id/roles", a.getGuildRoles)
		v1.GET("/guild/:guild_id/users", a.getGuildUsers)
		v1.GET("/guild/:guild_id/invites", a.getGuildInvites)
		v1.GET("/twitch/links", a.getTwitchLinks)
		v1.GET("/tacos/:guild_id/leaderboard", a.getTacoLeaderboard)
	}

	admin := engine.Group(adminBasePath)
	{
		admin.POST("/login", a.adminLogin)
		admin.POST("/logout", a.adminLogout)

		authed := admin.Group("")
		authed.Use(a.middlewareRequireAdmin())
		{
			authed.GET("/config", a.adminGetConfig)
			authed.PATCH("/config", a.adminUpdateConfig)
			authed.POST("/pause", a.adminPause)
			authed.POST("/resume", a.adminResume)
			authed.POST("/quit", a.adminQuit)
		}
	}
}

// Serve listens on the configured address and serves until the context
// is canceled or the listener fails.
func (a *API) Serve(ctx context.Context) error {
	var tlsCfg *tls.Config
	var err error
	if a.config.SSL.Cert != "" && a.config.SSL.Key != "" {
		tlsCfg, err = tlsConfig(
			a.config.SSL.Cert,
			a.config.SSL.Key,
			a.config.SSL.TLSMinVersion,
		)
		if err != nil {
			return fmt.Errorf("error loading TLS config: %w", err)
		}
	}

	listener, err := net.Listen(a.config.ListenNetwork, a.config.Listen)
	if err != nil {
		return fmt.Errorf(
			"error listening on %s %s: %w",
			a.config.ListenNetwork,
			a.config.Listen,
			err,
		)
	}
	if tlsCfg != nil {
		listener = tls.NewListener(listener, tlsCfg)
	}

	a.httpServer = &http.Server{
		Handler:           a.engine,
		ReadTimeout:       a.config.ReadTimeout,
		ReadHeaderTimeout: a.config.ReadHeaderTimeout,
		WriteTimeout:      a.config.WriteTimeout,
		IdleTimeout:       a.config.IdleTimeout,
		BaseContext: func(_ net.Listener) context.Context {
			return ctx
		},
	}

	a.logger.Info(
		"api listening",
		"listen", a.config.Listen,
		"network", a.config.ListenNetwork,
		"tls", tlsCfg != nil,
	)
	return a.httpServer.Serve(listener)
}

// Shutdown gracefully stops the HTTP server.
func (a *API) Shutdown(ctx context.Context) error {
	if a.httpServer == nil {
		return nil
	}
	return a.httpServer.Shutdown(ctx)
}

// middlewareRequestID attaches a request ID to the context and echoes
// it in the response headers, honoring an inbound header if present.
func (a *API) middlewareRequestID() gin.HandlerFunc {
	return func(c *gin.Context) {
		requestID := c.GetHeader(xRequestIDHeader)
		if requestID == "" {
			requestID = uuid.NewString()
		}
		c.Set("request_id", requestID)
		c.Header(xRequestIDHeader, requestID)
		c.Next()
	}
}

// middlewareLogging logs each request with its status, duration and
// request ID, and stashes a request-scoped logger in the context.
func (a *API) middlewareLogging() gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()

		logger := a.logger.With(
			"request_id", c.GetString("request_id"),
			"method", c.Request.Method,
			"path", c.Request.URL.Path,
		)
		c.Request = c.Request.WithContext(
			WithLogger(c.Request.Context(), logger),
		)

		c.Next()

		status := c.Writer.Status()
		attrs := []any{
			"status", status,
			"duration", time.Since(start),
			"client_ip", c.ClientIP(),
		}
		switch {
		case status >= http.StatusInternalServerError:
			logger.Error("request", attrs...)
		case status >= http.StatusBadRequest:
			logger.Warn("request", attrs...)
		default:
			logger.Info("request", attrs...)
		}
	}
}

// middlewareMetrics counts every served request by method, route and
// status. Unrouted requests share a single label so 404 scans can't
// blow up the label cardinality.
func (a *API) middlewareMetrics() gin.HandlerFunc {
	return func(c *gin.Context) {
		c.Next()

		route := c.FullPath()
		if route == "" {
			route = "unrouted"
		}
		a.bot.metrics.httpRequests.WithLabelValues(
			c.Request.Method,
			route,
			strconv.Itoa(c.Writer.Status()),
		).Inc()
	}
}

// middlewareWebhookToken rejects webhook calls without the shared
// secret header. If no token is configured, all webhook calls are
// rejected.
func (a *API) middlewareWebhookToken() gin.HandlerFunc {
	return func(c *gin.Context) {
		token := a.config.WebhookToken
		if token == "" {
			c.AbortWithStatusJSON(
				http.StatusUnauthorized,
				gin.H{"error": "webhooks are not configured"},
			)
			return
		}
		if !constantTimeEquals(token, c.GetHeader(webhookTokenHeader)) {
			c.AbortWithStatusJSON(
				http.StatusUnauthorized,
				gin.H{"error": "invalid token"},
			)
			return
		}
		c.Next()
	}
}

// middlewareRequireAdmin rejects requests without a logged-in admin
// session.
func (a *API) middlewareRequireAdmin() gin.HandlerFunc {
	return func(c *gin.Context) {
		if a.config.Secret == "" {
			c.AbortWithStatusJSON(
				http.StatusUnauthorized,
				gin.H{"error": "admin sessions are not configured"},
			)
			return
		}
		session := sessions.Default(c)
		username, _ := session.Get(sessionVarField).(string)
		if username == "" {
			c.AbortWithStatusJSON(
				http.StatusUnauthorized,
				gin.H{"error": "login required"},
			)
			return
		}
		c.Set(sessionVarField, username)
		c.Next()
	}
}

func (a *API) getHealth(c *gin.Context) {
	c.JSON(
		http.StatusOK, gin.H{
			"status":            "ok",
			"version":           Version,
			"discord_connected": a.bot.discord.connected.Load(),
			"paused":            a.bot.Paused(),
			"uptime":            time.Since(a.bot.startedAt).String(),
		},
	)
}

type webhookGiveTacosRequest struct {
	GuildID    string `json:"guild_id" binding:"required"`
	ToUserID   string `json:"to_user_id" binding:"required"`
	FromUserID string `json:"from_user_id"`
	Amount     int64  `json:"amount" binding:"required,min=1"`
	Reason     string `json:"reason"`
}

// webhookGiveTacos gives tacos on behalf of an external integration
// (ex: the Twitch chat bot).
//
// tacobot:openapi POST /webhook/tacos/give
//
//	summary: Give tacos to a user
//	tags: [webhooks]
//	security:
//	  - webhookToken: []
//	responses:
//	  "200":
//	    description: Tacos were given; the body carries the new count
//	  "400":
//	    description: Malformed request body
//	  "401":
//	    description: Missing or invalid webhook token
//	  "429":
//	    description: The sender hit their gift limit
func (a *API) webhookGiveTacos(c *gin.Context) {
	ctx, logger := a.bot.getLogger(c.Request.Context())

	if a.bot.Paused() {
		c.JSON(http.StatusServiceUnavailable, gin.H{"error": "bot is paused"})
		return
	}

	var req webhookGiveTacosRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	newCount, err := a.bot.giftTacos(
		ctx, TacoGift{
			GuildID:    req.GuildID,
			FromUserID: req.FromUserID,
			ToUserID:   req.ToUserID,
			Amount:     req.Amount,
			Reason:     req.Reason,
			Type:       GiftTypeWebhook,
		},
	)
	switch {
	case errors.Is(err, ErrGiftLimitReached):
		c.JSON(http.StatusTooManyRequests, gin.H{"error": "gift limit reached"})
		return
	case errors.Is(err, errSelfGift):
		c.JSON(http.StatusBadRequest, gin.H{"error": "cannot gift to self"})
		return
	case errors.Is(err, errIgnoredRecipient):
		c.JSON(http.StatusBadRequest, gin.H{"error": "recipient is ignored"})
		return
	case err != nil:
		logger.ErrorContext(ctx, "error gifting tacos via webhook", tint.Err(err))
		c.JSON(http.StatusInternalServerError, gin.H{"error": "internal error"})
		return
	}

	c.JSON(
		http.StatusOK, gin.H{
			"guild_id": req.GuildID,
			"user_id":  req.ToUserID,
			"count":    newCount,
		},
	)
}

type webhookRemoveTacosRequest struct {
	GuildID string `json:"guild_id" binding:"required"`
	UserID  string `json:"user_id" binding:"required"`
	Amount  int64  `json:"amount" binding:"required,min=1"`
	Reason  string `json:"reason"`
}

// webhookRemoveTacos removes tacos from a user. The count clamps at
// zero.
//
// tacobot:openapi DELETE /webhook/tacos
//
//	summary: Remove tacos from a user
//	tags: [webhooks]
//	security:
//	  - webhookToken: []
//	responses:
//	  "200":
//	    description: Tacos were removed; the body carries the new count
//	  "400":
//	    description: Malformed request body
//	  "401":
//	    description: Missing or invalid webhook token
func (a *API) webhookRemoveTacos(c *gin.Context) {
	ctx, logger := a.bot.getLogger(c.Request.Context())

	if a.bot.Paused() {
		c.JSON(http.StatusServiceUnavailable, gin.H{"error": "bot is paused"})
		return
	}

	var req webhookRemoveTacosRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	newCount, err := a.bot.db.AddTacos(ctx, req.GuildID, req.UserID, -req.Amount)
	if err != nil {
		logger.ErrorContext(ctx, "error removing tacos via webhook", tint.Err(err))
		c.JSON(http.StatusInternalServerError, gin.H{"error": "internal error"})
		return
	}
	if err = a.bot.db.RecordGift(
		ctx, TacoGift{
			GuildID:   req.GuildID,
			ToUserID:  req.UserID,
			Amount:    -req.Amount,
			Reason:    req.Reason,
			Type:      GiftTypeRemove,
			CreatedAt: time.Now().UTC().UnixMilli(),
		},
	); err != nil {
		logger.ErrorContext(ctx, "error recording removal", tint.Err(err))
	}

	c.JSON(
		http.StatusOK, gin.H{
			"guild_id": req.GuildID,
			"user_id":  req.UserID,
			"count":    newCount,
		},
	)
}

type webhookGameKeyRequest struct {
	GuildID   string `json:"guild_id" binding:"required"`
	Title     string `json:"title" binding:"required"`
	Key       string `json:"key" binding:"required"`
	Platform  string `json:"platform"`
	OfferedBy string `json:"offered_by"`
}

// webhookGameKey adds a game key offer from an external source.
//
// tacobot:openapi POST /webhook/game-key
//
//	summary: Offer a game key
//	tags: [webhooks]
//	security:
//	  - webhookToken: []
//	responses:
//	  "201":
//	    description: Key stored
//	  "400":
//	    description: Malformed request body
//	  "401":
//	    description: Missing or invalid webhook token
func (a *API) webhookGameKey(c *gin.Context) {
	ctx, logger := a.bot.getLogger(c.Request.Context())

	var req webhookGameKeyRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	if err := a.bot.db.AddGameKey(
		ctx, GameKey{
			GuildID:   req.GuildID,
			Title:     req.Title,
			Key:       req.Key,
			Platform:  req.Platform,
			OfferedBy: req.OfferedBy,
			CreatedAt: time.Now().UTC().UnixMilli(),
		},
	); err != nil {
		logger.ErrorContext(ctx, "error storing game key", tint.Err(err))
		c.JSON(http.StatusInternalServerError, gin.H{"error": "internal error"})
		return
	}
	c.JSON(http.StatusCreated, gin.H{"title": req.Title})
}

type webhookTwitchConfirmRequest struct {
	Code       string `json:"code" binding:"required"`
	TwitchName string `json:"twitch_name" binding:"required"`
}

// webhookTwitchConfirm completes a Twitch account link using the
// one-time code the user presented in Twitch chat.
//
// tacobot:openapi POST /webhook/twitch/confirm
//
//	summary: Confirm a Twitch account link
//	tags: [webhooks]
//	security:
//	  - webhookToken: []
//	responses:
//	  "200":
//	    description: Link confirmed
//	  "400":
//	    description: Malformed request body
//	  "401":
//	    description: Missing or invalid webhook token
//	  "404":
//	    description: No pending link matches the code
func (a *API) webhookTwitchConfirm(c *gin.Context) {
	ctx, logger := a.bot.getLogger(c.Request.Context())

	var req webhookTwitchConfirmRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	link, err := a.bot.db.ConfirmTwitchLink(
		ctx,
		strings.ToUpper(strings.TrimSpace(req.Code)),
		strings.ToLower(strings.TrimSpace(req.TwitchName)),
	)
	switch {
	case errors.Is(err, ErrNotFound):
		c.JSON(http.StatusNotFound, gin.H{"error": "unknown code"})
		return
	case err != nil:
		logger.ErrorContext(ctx, "error confirming twitch link", tint.Err(err))
		c.JSON(http.StatusInternalServerError, gin.H{"error": "internal error"})
		return
	}

	c.JSON(
		http.StatusOK, gin.H{
			"user_id":     link.UserID,
			"twitch_name": link.TwitchName,
			"verified":    link.Verified,
		},
	)
}

type webhookTwitchLiveRequest struct {
	TwitchName string `json:"twitch_name" binding:"required"`
	Live       *bool  `json:"live" binding:"required"`
}

// webhookTwitchLive flips the live flag on a verified twitch link.
// The stream up/down flow calls this so the live_now gauge tracks how
// many linked channels are streaming.
//
// tacobot:openapi POST /webhook/twitch/live
//
//	summary: Mark a linked Twitch channel live or offline
//	tags: [webhooks]
//	security:
//	  - webhookToken: []
//	responses:
//	  "200":
//	    description: Live flag updated
//	  "400":
//	    description: Malformed request body
//	  "401":
//	    description: Missing or invalid webhook token
//	  "404":
//	    description: No verified link matches the twitch name
func (a *API) webhookTwitchLive(c *gin.Context) {
	ctx, logger := a.bot.getLogger(c.Request.Context())

	var req webhookTwitchLiveRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	twitchName := strings.ToLower(strings.TrimSpace(req.TwitchName))
	found, err := a.bot.db.SetTwitchLive(ctx, twitchName, *req.Live)
	if err != nil {
		logger.ErrorContext(ctx, "error updating live flag", tint.Err(err))
		c.JSON(http.StatusInternalServerError, gin.H{"error": "internal error"})
		return
	}
	if !found {
		c.JSON(http.StatusNotFound, gin.H{"error": "unknown twitch name"})
		return
	}

	c.JSON(
		http.StatusOK, gin.H{
			"twitch_name": twitchName,
			"live":        *req.Live,
		},
	)
}

type webhookMinecraftWorldsRequest struct {
	GuildID string `json:"guild_id" binding:"required"`
	Worlds  []struct {
		ID     string `json:"id" binding:"required"`
		Name   string `json:"name"`
		Active bool   `json:"active"`
	} `json:"worlds" binding:"required,min=1,dive"`
}

// webhookMinecraftWorlds replaces the stored world list for a guild
// with what the bridge reports. At most one world may be flagged
// active; it becomes the guild's selected world.
//
// tacobot:openapi POST /webhook/minecraft/worlds
//
//	summary: Sync the Minecraft world list from the server bridge
//	tags: [webhooks]
//	security:
//	  - webhookToken: []
//	responses:
//	  "200":
//	    description: Worlds stored; the body carries the count
//	  "400":
//	    description: Malformed request body
//	  "401":
//	    description: Missing or invalid webhook token
func (a *API) webhookMinecraftWorlds(c *gin.Context) {
	ctx, logger := a.bot.getLogger(c.Request.Context())

	var req webhookMinecraftWorldsRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	var activeID string
	for _, w := range req.Worlds {
		if w.Active {
			if activeID != "" {
				c.JSON(
					http.StatusBadRequest,
					gin.H{"error": "multiple worlds flagged active"},
				)
				return
			}
			activeID = w.ID
		}
	}

	for _, w := range req.Worlds {
		if err := a.bot.db.UpsertWorld(
			ctx, MinecraftWorld{
				GuildID: req.GuildID,
				WorldID: w.ID,
				Name:    w.Name,
			},
		); err != nil {
			logger.ErrorContext(ctx, "error upserting world", tint.Err(err))
			c.JSON(http.StatusInternalServerError, gin.H{"error": "internal error"})
			return
		}
	}
	if activeID != "" {
		if err := a.bot.db.SelectWorld(ctx, req.GuildID, activeID); err != nil {
			logger.ErrorContext(ctx, "error selecting world", tint.Err(err))
			c.JSON(http.StatusInternalServerError, gin.H{"error": "internal error"})
			return
		}
	}

	c.JSON(
		http.StatusOK, gin.H{
			"guild_id": req.GuildID,
			"worlds":   len(req.Worlds),
		},
	)
}

// getMinecraftStatus proxies the live server status from the bridge.
//
// tacobot:openapi GET /api/v1/minecraft/status
//
//	summary: Live Minecraft server status
//	tags: [minecraft]
//	responses:
//	  "200":
//	    description: Server status document
//	  "503":
//	    description: No bridge configured or the bridge is unreachable
func (a *API) getMinecraftStatus(c *gin.Context) {
	ctx, logger := a.bot.getLogger(c.Request.Context())

	if !a.bot.external.Minecraft.Enabled() {
		c.JSON(
			http.StatusServiceUnavailable,
			gin.H{"error": "minecraft bridge not configured"},
		)
		return
	}
	status, err := a.bot.external.Minecraft.Status(ctx)
	if err != nil {
		logger.ErrorContext(ctx, "error fetching server status", tint.Err(err))
		c.JSON(
			http.StatusServiceUnavailable,
			gin.H{"error": "bridge unreachable"},
		)
		return
	}
	c.JSON(http.StatusOK, status)
}

// getMinecraftWhitelist returns the whitelist in the server's expected
// whitelist.json shape.
//
// tacobot:openapi GET /api/v1/minecraft/whitelist
//
//	summary: Minecraft whitelist
//	tags: [minecraft]
//	parameters:
//	  - name: guild_id
//	    in: query
//	    required: true
//	    schema:
//	      type: string
//	responses:
//	  "200":
//	    description: Array of name/uuid entries
//	  "400":
//	    description: Missing guild_id
func (a *API) getMinecraftWhitelist(c *gin.Context) {
	ctx, logger := a.bot.getLogger(c.Request.Context())

	guildID := c.Query("guild_id")
	if guildID == "" {
		c.JSON(http.StatusBadRequest, gin.H{"error": "guild_id is required"})
		return
	}
	entries, err := a.bot.db.Whitelist(ctx, guildID)
	if err != nil {
		logger.ErrorContext(ctx, "error loading whitelist", tint.Err(err))
		c.JSON(http.StatusInternalServerError, gin.H{"error": "internal error"})
		return
	}
	if entries == nil {
		entries = []MinecraftWhitelistEntry{}
	}
	c.JSON(http.StatusOK, entries)
}

// getMinecraftOps returns op entries in the server's ops.json shape.
//
// tacobot:openapi GET /api/v1/minecraft/ops
//
//	summary: Minecraft server operators
//	tags: [minecraft]
//	parameters:
//	  - name: guild_id
//	    in: query
//	    required: true
//	    schema:
//	      type: string
//	responses:
//	  "200":
//	    description: Array of op entries
//	  "400":
//	    description: Missing guild_id
func (a *API) getMinecraftOps(c *gin.Context) {
	ctx, logger := a.bot.getLogger(c.Request.Context())

	guildID := c.Query("guild_id")
	if guildID == "" {
		c.JSON(http.StatusBadRequest, gin.H{"error": "guild_id is required"})
		return
	}
	entries, err := a.bot.db.Ops(ctx, guildID)
	if err != nil {
		logger.ErrorContext(ctx, "error loading ops", tint.Err(err))
		c.JSON(http.StatusInternalServerError, gin.H{"error": "internal error"})
		return
	}

	type opEntry struct {
		Name  string `json:"name"`
		UUID  string `json:"uuid"`
		Level int    `json:"level"`
	}
	ops := make([]opEntry, 0, len(entries))
	for _, entry := range entries {
		ops = append(
			ops, opEntry{
				Name:  entry.Username,
				UUID:  entry.UUID,
				Level: entry.Op.Level,
			},
		)
	}
	c.JSON(http.StatusOK, ops)
}

// getMinecraftWorld returns the guild's active world.
//
// tacobot:openapi GET /api/v1/minecraft/world
//
//	summary: Active Minecraft world
//	tags: [minecraft]
//	parameters:
//	  - name: guild_id
//	    in: query
//	    required: true
//	    schema:
//	      type: string
//	responses:
//	  "200":
//	    description: The active world
//	  "400":
//	    description: Missing guild_id
//	  "404":
//	    description: No active world
func (a *API) getMinecraftWorld(c *gin.Context) {
	ctx, logger := a.bot.getLogger(c.Request.Context())

	guildID := c.Query("guild_id")
	if guildID == "" {
		c.JSON(http.StatusBadRequest, gin.H{"error": "guild_id is required"})
		return
	}
	world, err := a.bot.db.ActiveWorld(ctx, guildID)
	switch {
	case errors.Is(err, ErrNotFound):
		c.JSON(http.StatusNotFound, gin.H{"error": "no active world"})
		return
	case err != nil:
		logger.ErrorContext(ctx, "error loading active world", tint.Err(err))
		c.JSON(http.StatusInternalServerError, gin.H{"error": "internal error"})
		return
	}
	c.JSON(http.StatusOK, world)
}

// getMinecraftPlayerStats proxies per-player stats from the bridge.
//
// tacobot:openapi GET /api/v1/minecraft/player/{username}/stats
//
//	summary: Per-player Minecraft stats
//	tags: [minecraft]
//	parameters:
//	  - name: username
//	    in: path
//	    required: true
//	    schema:
//	      type: string
//	responses:
//	  "200":
//	    description: Player stats document
//	  "404":
//	    description: Unknown player
//	  "503":
//	    description: No bridge configured or the bridge is unreachable
func (a *API) getMinecraftPlayerStats(c *gin.Context) {
	ctx, logger := a.bot.getLogger(c.Request.Context())

	if !a.bot.external.Minecraft.Enabled() {
		c.JSON(
			http.StatusServiceUnavailable,
			gin.H{"error": "minecraft bridge not configured"},
		)
		return
	}
	stats, err := a.bot.external.Minecraft.PlayerStats(ctx, c.Param("username"))
	switch {
	case errors.Is(err, ErrNotFound):
		c.JSON(http.StatusNotFound, gin.H{"error": "unknown player"})
		return
	case err != nil:
		logger.ErrorContext(ctx, "error fetching player stats", tint.Err(err))
		c.JSON(
			http.StatusServiceUnavailable,
			gin.H{"error": "bridge unreachable"},
		)
		return
	}
	c.JSON(http.StatusOK, stats)
}

// getGuildRoles returns the guild's roles from the discord API.
//
// tacobot:openapi GET /api/v1/guild/{guild_id}/roles
//
//	summary: Guild roles
//	tags: [guild]
//	parameters:
//	  - name: guild_id
//	    in: path
//	    required: true
//	    schema:
//	      type: string
//	responses:
//	  "200":
//	    description: Array of roles
func (a *API) getGuildRoles(c *gin.Context) {
	ctx, logger := a.bot.getLogger(c.Request.Context())

	roles, err := a.bot.discord.session.GuildRoles(c.Param("guild_id"))
	if err != nil {
		logger.ErrorContext(ctx, "error fetching guild roles", tint.Err(err))
		c.JSON(http.StatusBadGateway, gin.H{"error": "discord error"})
		return
	}

	type role struct {
		ID       string `json:"id"`
		Name     string `json:"name"`
		Color    int    `json:"color"`
		Position int    `json:"position"`
	}
	out := make([]role, 0, len(roles))
	for _, r := range roles {
		out = append(
			out, role{
				ID:       r.ID,
				Name:     r.Name,
				Color:    r.Color,
				Position: r.Position,
			},
		)
	}
	c.JSON(http.StatusOK, out)
}

// getGuildUsers pages through the guild's members via the discord API.
//
// tacobot:openapi GET /api/v1/guild/{guild_id}/users
//
//	summary: Guild members
//	tags: [guild]
//	parameters:
//	  - name: guild_id
//	    in: path
//	    required: true
//	    schema:
//	      type: string
//	  - name: after
//	    in: query
//	    schema:
//	      type: string
//	  - name: limit
//	    in: query
//	    schema:
//	      type: integer
//	responses:
//	  "200":
//	    description: A page of guild members
func (a *API) getGuildUsers(c *gin.Context) {
	ctx, logger := a.bot.getLogger(c.Request.Context())

	limit := 100
	if v := c.Query("limit"); v != "" {
		parsed, err := strconv.Atoi(v)
		if err != nil || parsed < 1 || parsed > 1000 {
			c.JSON(http.StatusBadRequest, gin.H{"error": "invalid limit"})
			return
		}
		limit = parsed
	}

	members, err := a.bot.discord.session.GuildMembers(
		c.Param("guild_id"),
		c.Query("after"),
		limit,
	)
	if err != nil {
		logger.ErrorContext(ctx, "error fetching guild members", tint.Err(err))
		c.JSON(http.StatusBadGateway, gin.H{"error": "discord error"})
		return
	}

	type member struct {
		ID         string `json:"id"`
		Username   string `json:"username"`
		GlobalName string `json:"global_name,omitempty"`
		Nick       string `json:"nick,omitempty"`
		Bot        bool   `json:"bot,omitempty"`
	}
	out := make([]member, 0, len(members))
	for _, m := range members {
		if m.User == nil {
			continue
		}
		out = append(
			out, member{
				ID:         m.User.ID,
				Username:   m.User.Username,
				GlobalName: m.User.GlobalName,
				Nick:       m.Nick,
				Bot:        m.User.Bot,
			},
		)
	}
	c.JSON(http.StatusOK, out)
}

// getGuildInvites returns the tracked invite records for a guild.
//
// tacobot:openapi GET /api/v1/guild/{guild_id}/invites
//
//	summary: Tracked guild invites
//	tags: [guild]
//	parameters:
//	  - name: guild_id
//	    in: path
//	    required: true
//	    schema:
//	      type: string
//	responses:
//	  "200":
//	    description: Invite records with inviter and use counts
func (a *API) getGuildInvites(c *gin.Context) {
	ctx, logger := a.bot.getLogger(c.Request.Context())

	invites, err := a.bot.db.GuildInvites(ctx, c.Param("guild_id"))
	if err != nil {
		logger.ErrorContext(ctx, "error loading invites", tint.Err(err))
		c.JSON(http.StatusInternalServerError, gin.H{"error": "internal error"})
		return
	}
	if invites == nil {
		invites = []InviteRecord{}
	}
	c.JSON(http.StatusOK, invites)
}

// getTwitchLinks returns every verified twitch link. The chat-watcher
// flow polls this to know which channels to monitor.
//
// tacobot:openapi GET /api/v1/twitch/links
//
//	summary: Verified Twitch account links
//	tags: [twitch]
//	responses:
//	  "200":
//	    description: Array of verified links
func (a *API) getTwitchLinks(c *gin.Context) {
	ctx, logger := a.bot.getLogger(c.Request.Context())

	links, err := a.bot.db.TwitchLinks(ctx)
	if err != nil {
		logger.ErrorContext(ctx, "error loading twitch links", tint.Err(err))
		c.JSON(http.StatusInternalServerError, gin.H{"error": "internal error"})
		return
	}
	if links == nil {
		links = []TwitchLink{}
	}
	c.JSON(http.StatusOK, links)
}

// getTacoLeaderboard returns the guild's taco leaderboard.
//
// tacobot:openapi GET /api/v1/tacos/{guild_id}/leaderboard
//
//	summary: Guild taco leaderboard
//	tags: [tacos]
//	parameters:
//	  - name: guild_id
//	    in: path
//	    required: true
//	    schema:
//	      type: string
//	  - name: limit
//	    in: query
//	    schema:
//	      type: integer
//	responses:
//	  "200":
//	    description: Top taco holders, highest first
func (a *API) getTacoLeaderboard(c *gin.Context) {
	ctx, logger := a.bot.getLogger(c.Request.Context())

	limit := int64(defaultLeaderboardSize)
	if v := c.Query("limit"); v != "" {
		parsed, err := strconv.ParseInt(v, 10, 64)
		if err != nil || parsed < 1 || parsed > 100 {
			c.JSON(http.StatusBadRequest, gin.H{"error": "invalid limit"})
			return
		}
		limit = parsed
	}

	entries, err := a.bot.db.Leaderboard(ctx, c.Param("guild_id"), limit)
	if err != nil {
		logger.ErrorContext(ctx, "error loading leaderboard", tint.Err(err))
		c.JSON(http.StatusInternalServerError, gin.H{"error": "internal error"})
		return
	}
	if entries == nil {
		entries = []TacoEntry{}
	}
	c.JSON(http.StatusOK, entries)
}

type adminLoginRequest struct {
	Username string `json:"username" binding:"required"`
	Password string `json:"password" binding:"required"`
}

func (a *API) adminLogin(c *gin.Context) {
	ctx, logger := a.bot.getLogger(c.Request.Context())

	if a.config.Secret == "" {
		c.JSON(
			http.StatusUnauthorized,
			gin.H{"error": "admin sessions are not configured"},
		)
		return
	}
	if !a.loginLimiter.Allow() {
		c.JSON(http.StatusTooManyRequests, gin.H{"error": "slow down"})
		return
	}

	var req adminLoginRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	creds, err := a.bot.db.AdminCredentials(ctx)
	switch {
	case errors.Is(err, ErrNotFound):
		c.JSON(http.StatusUnauthorized, gin.H{"error": "invalid credentials"})
		return
	case err != nil:
		logger.ErrorContext(ctx, "error loading admin credentials", tint.Err(err))
		c.JSON(http.StatusInternalServerError, gin.H{"error": "internal error"})
		return
	}

	passwordOK, err := VerifyPassword(creds.Password, req.Password)
	if err != nil {
		logger.ErrorContext(ctx, "error verifying password", tint.Err(err))
		c.JSON(http.StatusInternalServerError, gin.H{"error": "internal error"})
		return
	}
	if req.Username != creds.Username || !passwordOK {
		logger.WarnContext(
			ctx,
			"failed admin login",
			"username", req.Username,
			"client_ip", c.ClientIP(),
		)
		c.JSON(http.StatusUnauthorized, gin.H{"error": "invalid credentials"})
		return
	}

	session := sessions.Default(c)
	session.Set(sessionVarField, creds.Username)
	if err = session.Save(); err != nil {
		logger.ErrorContext(ctx, "error saving session", tint.Err(err))
		c.JSON(http.StatusInternalServerError, gin.H{"error": "internal error"})
		return
	}
	logger.InfoContext(ctx, "admin login", "username", creds.Username)
	c.JSON(http.StatusOK, gin.H{"username": creds.Username})
}

func (a *API) adminLogout(c *gin.Context) {
	if a.config.Secret == "" {
		c.Status(http.StatusNoContent)
		return
	}
	session := sessions.Default(c)
	session.Clear()
	session.Options(sessions.Options{Path: "/", MaxAge: -1})
	_ = session.Save()
	c.Status(http.StatusNoContent)
}

// adminGetConfig returns the running config, with secrets redacted via
// the same `log` tags the logger uses.
func (a *API) adminGetConfig(c *gin.Context) {
	c.JSON(
		http.StatusOK, gin.H{
			"version":    Version,
			"commit":     CommitSHA,
			"build_time": BuildTime,
			"started_at": a.bot.startedAt,
			"paused":     a.bot.Paused(),
			"config":     structToSlogValue(*a.bot.config).String(),
		},
	)
}

type adminUpdateConfigRequest struct {
	LogLevel         *slog.Level `json:"log_level"`
	DiscordLogLevel  *slog.Level `json:"discord_log_level"`
	APILogLevel      *slog.Level `json:"api_log_level"`
	DatabaseLogLevel *slog.Level `json:"database_log_level"`

	Tacos *struct {
		GiftLimit24h   *int64 `json:"gift_limit_24h" binding:"omitempty,min=0"`
		ReactionAmount *int64 `json:"reaction_amount" binding:"omitempty,min=1"`
		TriviaReward   *int64 `json:"trivia_reward" binding:"omitempty,min=0"`
	} `json:"tacos"`
}

// adminUpdateConfig adjusts the runtime-tunable parts of the config:
// log levels and the taco economy numbers. Everything else requires a
// restart.
func (a *API) adminUpdateConfig(c *gin.Context) {
	ctx, logger := a.bot.getLogger(c.Request.Context())

	var req adminUpdateConfigRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	cfg := a.bot.config
	setLevel := func(target *slog.LevelVar, level *slog.Level, name string) {
		if target == nil || level == nil {
			return
		}
		target.Set(*level)
		logger.WarnContext(ctx, "log level changed", "logger", name, "level", *level)
	}
	setLevel(cfg.LogLevel, req.LogLevel, "main")
	setLevel(cfg.Discord.LogLevel, req.DiscordLogLevel, "discord")
	setLevel(cfg.API.LogLevel, req.APILogLevel, "api")
	setLevel(cfg.Mongo.LogLevel, req.DatabaseLogLevel, "database")

	if req.Tacos != nil {
		if req.Tacos.GiftLimit24h != nil {
			cfg.Tacos.GiftLimit24h = *req.Tacos.GiftLimit24h
		}
		if req.Tacos.ReactionAmount != nil {
			cfg.Tacos.ReactionAmount = *req.Tacos.ReactionAmount
		}
		if req.Tacos.TriviaReward != nil {
			cfg.Tacos.TriviaReward = *req.Tacos.TriviaReward
		}
	}

	logger.WarnContext(
		ctx,
		"config updated",
		"username", c.GetString(sessionVarField),
	)
	a.adminGetConfig(c)
}

func (a *API) adminPause(c *gin.Context) {
	ctx := c.Request.Context()
	c.JSON(http.StatusOK, gin.H{"paused": true, "changed": a.bot.Pause(ctx)})
}

func (a *API) adminResume(c *gin.Context) {
	ctx := c.Request.Context()
	c.JSON(http.StatusOK, gin.H{"paused": false, "changed": a.bot.Resume(ctx)})
}

// adminQuit triggers a graceful shutdown. The response is written
// before the stop signal lands.
func (a *API) adminQuit(c *gin.Context) {
	ctx, logger := a.bot.getLogger(c.Request.Context())
	logger.WarnContext(
		ctx,
		"quit requested",
		"username", c.GetString(sessionVarField),
	)
	c.JSON(http.StatusOK, gin.H{"stopping": true})
	go func() {
		a.bot.signalStop <- struct{}{}
	}()
}
