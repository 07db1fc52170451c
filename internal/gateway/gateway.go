package gateway

import (
	"errors"
	"net/http"
	"sync"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/gorilla/websocket"

	"github.com/terminal-bench/revguard/internal/auth"
	"github.com/terminal-bench/revguard/internal/guarantee"
	"github.com/terminal-bench/revguard/internal/pool"
	"github.com/terminal-bench/revguard/internal/protocol"
	"github.com/terminal-bench/revguard/internal/token"
	"github.com/terminal-bench/revguard/internal/vault"
	"github.com/terminal-bench/revguard/internal/venue"
)

// Gateway is the HTTP front of the protocol. Every state-changing request
// runs as one serialized unit of work.
type Gateway struct {
	router *gin.Engine
	hub    *Hub

	auth    *auth.Service
	token   *token.Token
	venues  *venue.Registry
	vaults  *vault.Directory
	pool    *pool.Ledger
	engines *guarantee.Service
	serial  *protocol.Serializer

	rateLimiter *RateLimiter
}

// Deps are the wired protocol components.
type Deps struct {
	Auth    *auth.Service
	Token   *token.Token
	Venues  *venue.Registry
	Vaults  *vault.Directory
	Pool    *pool.Ledger
	Engines *guarantee.Service
	Serial  *protocol.Serializer
	Hub     *Hub
}

// Config holds gateway configuration.
type Config struct {
	Port            string
	RateLimitWindow time.Duration
	RateLimitMax    int
}

// RateLimiter is a sliding-window per-IP limiter.
type RateLimiter struct {
	mu       sync.Mutex
	requests map[string][]time.Time
	limit    int
	window   time.Duration
}

// Allow reports whether a request from key fits in the window.
func (rl *RateLimiter) Allow(key string) bool {
	rl.mu.Lock()
	defer rl.mu.Unlock()

	now := time.Now()
	cutoff := now.Add(-rl.window)

	valid := rl.requests[key][:0]
	for _, t := range rl.requests[key] {
		if t.After(cutoff) {
			valid = append(valid, t)
		}
	}

	if len(valid) >= rl.limit {
		rl.requests[key] = valid
		return false
	}
	rl.requests[key] = append(valid, now)
	return true
}

// New creates the gateway and registers its routes.
func New(cfg Config, deps Deps) *Gateway {
	if cfg.RateLimitMax == 0 {
		cfg.RateLimitMax = 100
	}
	if cfg.RateLimitWindow == 0 {
		cfg.RateLimitWindow = time.Minute
	}

	g := &Gateway{
		router:  gin.Default(),
		hub:     deps.Hub,
		auth:    deps.Auth,
		token:   deps.Token,
		venues:  deps.Venues,
		vaults:  deps.Vaults,
		pool:    deps.Pool,
		engines: deps.Engines,
		serial:  deps.Serial,
		rateLimiter: &RateLimiter{
			requests: make(map[string][]time.Time),
			limit:    cfg.RateLimitMax,
			window:   cfg.RateLimitWindow,
		},
	}
	if g.hub == nil {
		g.hub = NewHub()
	}

	g.setupRoutes()
	return g
}

func (g *Gateway) setupRoutes() {
	g.router.Use(g.rateLimitMiddleware())
	g.router.Use(g.tracingMiddleware())

	g.router.GET("/health", g.healthCheck)

	v1 := g.router.Group("/api/v1")
	{
		v1.POST("/auth/register", g.registerUser)
		v1.POST("/auth/login", g.login)

		v1.POST("/token/mint", g.authMiddleware(), g.mintTokens)
		v1.POST("/token/approve", g.authMiddleware(), g.approveSpender)
		v1.GET("/token/balance/:addr", g.getBalance)

		v1.POST("/underwriters/register", g.authMiddleware(), g.registerUnderwriter)
		v1.POST("/underwriters/withdraw", g.authMiddleware(), g.withdrawStake)
		v1.GET("/underwriters/:addr", g.getUnderwriter)

		v1.POST("/venues", g.authMiddleware(), g.createVenue)
		v1.GET("/venues/:id", g.getVenue)
		v1.POST("/venues/:id/assign", g.authMiddleware(), g.assignVenue)
		v1.GET("/venues/:id/roster", g.getRoster)
		v1.GET("/venues/:id/matured", g.getMatured)
		v1.POST("/venues/:id/claim", g.authMiddleware(), g.claimPoolFee)

		v1.POST("/venues/:id/fee", g.authMiddleware(), g.setFee)
		v1.POST("/venues/:id/fee/deposit", g.authMiddleware(), g.depositFee)
		v1.POST("/venues/:id/operators", g.authMiddleware(), g.addOperator)
		v1.DELETE("/venues/:id/operators/:addr", g.authMiddleware(), g.removeOperator)
		v1.POST("/venues/:id/underwriters", g.authMiddleware(), g.addUnderwriter)
		v1.POST("/venues/:id/reports", g.authMiddleware(), g.submitReport)
		v1.GET("/venues/:id/reports/:month", g.getReport)
		v1.POST("/venues/:id/reports/:month/settle", g.authMiddleware(), g.settleLiability)
		v1.POST("/venues/:id/revenue", g.authMiddleware(), g.depositRevenue)
		v1.POST("/venues/:id/fees/distribute", g.authMiddleware(), g.distributeFees)
		v1.POST("/venues/:id/fees/claim", g.authMiddleware(), g.claimEngineFee)
		v1.GET("/venues/:id/summary", g.getSummary)

		v1.GET("/ws", g.authMiddleware(), g.handleWebSocket)
	}
}

// Start runs the HTTP server.
func (g *Gateway) Start(addr string) error {
	return g.router.Run(addr)
}

// Handler exposes the router for tests and custom servers.
func (g *Gateway) Handler() http.Handler {
	return g.router
}

// Middleware

func (g *Gateway) authMiddleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		header := c.GetHeader("Authorization")
		if header == "" {
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "missing authorization"})
			return
		}

		claims, err := g.auth.VerifyToken(header)
		if err != nil {
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "invalid token"})
			return
		}

		c.Set("address", claims.Address)
		c.Next()
	}
}

func (g *Gateway) rateLimitMiddleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		if !g.rateLimiter.Allow(c.ClientIP()) {
			c.AbortWithStatusJSON(http.StatusTooManyRequests, gin.H{"error": "rate limit exceeded"})
			return
		}
		c.Next()
	}
}

func (g *Gateway) tracingMiddleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		correlationID := c.GetHeader("X-Correlation-ID")
		if correlationID == "" {
			correlationID = uuid.New().String()
		}
		c.Set("correlation_id", correlationID)
		c.Header("X-Correlation-ID", correlationID)
		c.Next()
	}
}

func (g *Gateway) healthCheck(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{"status": "healthy", "ws_clients": g.hub.ClientCount()})
}

// caller returns the authenticated on-ledger address.
func caller(c *gin.Context) string {
	return c.MustGet("address").(string)
}

// WebSocket handling

var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
	CheckOrigin:     func(r *http.Request) bool { return true },
}

func (g *Gateway) handleWebSocket(c *gin.Context) {
	conn, err := upgrader.Upgrade(c.Writer, c.Request, nil)
	if err != nil {
		return
	}

	client := &WSClient{
		ID:      uuid.New(),
		Address: caller(c),
		Conn:    conn,
		Send:    make(chan []byte, 64),
		Done:    make(chan struct{}),
	}
	g.hub.add(client)

	go g.wsReadPump(client)
	go g.wsWritePump(client)
}

func (g *Gateway) wsReadPump(client *WSClient) {
	defer func() {
		g.hub.remove(client.ID)
		close(client.Done)
		client.Conn.Close()
	}()

	for {
		if _, _, err := client.Conn.ReadMessage(); err != nil {
			return
		}
		// The stream is one-way. Inbound frames keep the connection alive.
	}
}

func (g *Gateway) wsWritePump(client *WSClient) {
	for {
		select {
		case message := <-client.Send:
			if err := client.Conn.WriteMessage(websocket.TextMessage, message); err != nil {
				return
			}
		case <-client.Done:
			return
		}
	}
}

// errJSON writes err with the protocol status mapping.
func errJSON(c *gin.Context, err error) {
	c.JSON(statusOf(err), gin.H{"error": err.Error()})
}

func statusOf(err error) int {
	switch {
	case isAny(err, protocol.ErrUnauthorized, protocol.ErrNotVenueOwner):
		return http.StatusForbidden
	case isAny(err, protocol.ErrNotFound):
		return http.StatusNotFound
	case isAny(err, protocol.ErrState, protocol.ErrNoShortfall):
		return http.StatusConflict
	case isAny(err, protocol.ErrInsufficientStake, protocol.ErrInsufficientEscrow):
		return http.StatusUnprocessableEntity
	case isAny(err, protocol.ErrValidation):
		return http.StatusBadRequest
	case isAny(err, protocol.ErrTransferFailed):
		return http.StatusBadGateway
	default:
		return http.StatusInternalServerError
	}
}

func isAny(err error, targets ...error) bool {
	for _, t := range targets {
		if errors.Is(err, t) {
			return true
		}
	}
	return false
}
