package gateway

import (
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"

	"github.com/terminal-bench/revguard/internal/guarantee"
	"github.com/terminal-bench/revguard/internal/pool"
)

// Request types

type registerUserRequest struct {
	Email    string `json:"email" binding:"required"`
	Password string `json:"password" binding:"required"`
}

type amountRequest struct {
	Amount int64 `json:"amount" binding:"required"`
}

type approveRequest struct {
	Spender string `json:"spender" binding:"required"`
	Amount  int64  `json:"amount" binding:"required"`
}

type createVenueRequest struct {
	Name            string `json:"name" binding:"required"`
	PromisedRevenue int64  `json:"promised_revenue" binding:"required"`
	TotalMonths     int    `json:"total_months" binding:"required"`
}

type stakeLeg struct {
	Underwriter string `json:"underwriter" binding:"required"`
	Amount      int64  `json:"amount" binding:"required"`
}

type assignVenueRequest struct {
	Stakes []stakeLeg `json:"stakes" binding:"required"`
	Fee    int64      `json:"fee"`
}

type addressRequest struct {
	Address string `json:"address" binding:"required"`
}

type addUnderwriterRequest struct {
	Address string `json:"address" binding:"required"`
	Stake   int64  `json:"stake" binding:"required"`
}

type reportRequest struct {
	Actual int64 `json:"actual"`
}

type revenueRequest struct {
	Month  int   `json:"month" binding:"required"`
	Amount int64 `json:"amount" binding:"required"`
}

// Auth

func (g *Gateway) registerUser(c *gin.Context) {
	var req registerUserRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid request"})
		return
	}

	u, err := g.auth.Register(c.Request.Context(), req.Email, req.Password)
	if err != nil {
		errJSON(c, err)
		return
	}
	c.JSON(http.StatusCreated, u)
}

func (g *Gateway) login(c *gin.Context) {
	var req registerUserRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid request"})
		return
	}

	tok, err := g.auth.Login(c.Request.Context(), req.Email, req.Password)
	if err != nil {
		errJSON(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"token": tok})
}

// Token

func (g *Gateway) mintTokens(c *gin.Context) {
	var req amountRequest
	if err := c.ShouldBindJSON(&req); err != nil || req.Amount <= 0 {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid request"})
		return
	}

	addr := caller(c)
	g.serial.Do(func() error {
		g.token.Mint(addr, req.Amount)
		return nil
	})
	c.JSON(http.StatusOK, gin.H{"address": addr, "balance": g.token.BalanceOf(addr)})
}

func (g *Gateway) approveSpender(c *gin.Context) {
	var req approveRequest
	if err := c.ShouldBindJSON(&req); err != nil || req.Amount < 0 {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid request"})
		return
	}

	addr := caller(c)
	g.serial.Do(func() error {
		g.token.Approve(addr, req.Spender, req.Amount)
		return nil
	})
	c.JSON(http.StatusOK, gin.H{"owner": addr, "spender": req.Spender, "allowance": req.Amount})
}

func (g *Gateway) getBalance(c *gin.Context) {
	addr := c.Param("addr")
	c.JSON(http.StatusOK, gin.H{"address": addr, "balance": g.token.BalanceOf(addr)})
}

// Underwriters

func (g *Gateway) registerUnderwriter(c *gin.Context) {
	var req amountRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid request"})
		return
	}

	err := g.serial.Do(func() error {
		return g.pool.Register(c.Request.Context(), caller(c), req.Amount)
	})
	if err != nil {
		errJSON(c, err)
		return
	}

	acct, _ := g.pool.Account(caller(c))
	c.JSON(http.StatusCreated, acct)
}

func (g *Gateway) withdrawStake(c *gin.Context) {
	var req amountRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid request"})
		return
	}

	err := g.serial.Do(func() error {
		return g.pool.Withdraw(c.Request.Context(), caller(c), req.Amount)
	})
	if err != nil {
		errJSON(c, err)
		return
	}

	acct, _ := g.pool.Account(caller(c))
	c.JSON(http.StatusOK, acct)
}

func (g *Gateway) getUnderwriter(c *gin.Context) {
	acct, ok := g.pool.Account(c.Param("addr"))
	if !ok {
		c.JSON(http.StatusNotFound, gin.H{"error": "underwriter not found"})
		return
	}
	c.JSON(http.StatusOK, acct)
}

// Venues

func (g *Gateway) createVenue(c *gin.Context) {
	var req createVenueRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid request"})
		return
	}

	var created interface{}
	err := g.serial.Do(func() error {
		vaultAddr := "vault:" + uuid.New().String()
		v, err := g.venues.Create(c.Request.Context(), req.Name, caller(c), vaultAddr)
		if err != nil {
			return err
		}
		if _, err := g.vaults.Create(v.ID, vaultAddr, req.PromisedRevenue, req.TotalMonths); err != nil {
			return err
		}
		if _, err := g.engines.CreateEngine(v.ID); err != nil {
			return err
		}
		created = v
		return nil
	})
	if err != nil {
		errJSON(c, err)
		return
	}
	c.JSON(http.StatusCreated, created)
}

func (g *Gateway) getVenue(c *gin.Context) {
	v, err := g.venues.Get(c.Request.Context(), c.Param("id"))
	if err != nil {
		errJSON(c, err)
		return
	}
	c.JSON(http.StatusOK, v)
}

func (g *Gateway) assignVenue(c *gin.Context) {
	var req assignVenueRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid request"})
		return
	}

	reqs := make([]pool.StakeRequest, 0, len(req.Stakes))
	for _, s := range req.Stakes {
		reqs = append(reqs, pool.StakeRequest{Underwriter: s.Underwriter, Amount: s.Amount})
	}

	err := g.serial.Do(func() error {
		return g.pool.AssignVenue(c.Request.Context(), caller(c), c.Param("id"), reqs, req.Fee)
	})
	if err != nil {
		errJSON(c, err)
		return
	}

	a, _ := g.pool.Assignment(c.Param("id"))
	c.JSON(http.StatusCreated, a)
}

func (g *Gateway) getRoster(c *gin.Context) {
	eng, err := g.engines.Engine(c.Param("id"))
	if err != nil {
		errJSON(c, err)
		return
	}

	poolRoster, _ := g.pool.Roster(c.Param("id"))
	c.JSON(http.StatusOK, gin.H{
		"pool_roster":   poolRoster,
		"engine_roster": eng.Roster(),
	})
}

func (g *Gateway) getMatured(c *gin.Context) {
	matured, err := g.pool.Matured(c.Param("id"))
	if err != nil {
		errJSON(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"venue_id": c.Param("id"), "matured": matured})
}

func (g *Gateway) claimPoolFee(c *gin.Context) {
	err := g.serial.Do(func() error {
		return g.pool.ClaimFee(c.Request.Context(), caller(c), c.Param("id"))
	})
	if err != nil {
		errJSON(c, err)
		return
	}

	acct, _ := g.pool.Account(caller(c))
	c.JSON(http.StatusOK, acct)
}

// Guarantee engine

func (g *Gateway) withEngine(c *gin.Context, fn func(eng *guarantee.Engine) error) {
	eng, err := g.engines.Engine(c.Param("id"))
	if err != nil {
		errJSON(c, err)
		return
	}

	if err := g.serial.Do(func() error { return fn(eng) }); err != nil {
		errJSON(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"status": "ok"})
}

func (g *Gateway) setFee(c *gin.Context) {
	var req amountRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid request"})
		return
	}
	g.withEngine(c, func(eng *guarantee.Engine) error {
		return eng.SetFeeAmount(caller(c), req.Amount)
	})
}

func (g *Gateway) depositFee(c *gin.Context) {
	g.withEngine(c, func(eng *guarantee.Engine) error {
		return eng.DepositFee(c.Request.Context(), caller(c))
	})
}

func (g *Gateway) addOperator(c *gin.Context) {
	var req addressRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid request"})
		return
	}
	g.withEngine(c, func(eng *guarantee.Engine) error {
		return eng.AddOperator(caller(c), req.Address)
	})
}

func (g *Gateway) removeOperator(c *gin.Context) {
	g.withEngine(c, func(eng *guarantee.Engine) error {
		return eng.RemoveOperator(caller(c), c.Param("addr"))
	})
}

func (g *Gateway) addUnderwriter(c *gin.Context) {
	var req addUnderwriterRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid request"})
		return
	}
	g.withEngine(c, func(eng *guarantee.Engine) error {
		return eng.AddUnderwriter(caller(c), req.Address, req.Stake)
	})
}

func (g *Gateway) submitReport(c *gin.Context) {
	var req reportRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid request"})
		return
	}
	g.withEngine(c, func(eng *guarantee.Engine) error {
		return eng.SubmitMonthlyReport(c.Request.Context(), caller(c), req.Actual)
	})
}

func (g *Gateway) getReport(c *gin.Context) {
	eng, err := g.engines.Engine(c.Param("id"))
	if err != nil {
		errJSON(c, err)
		return
	}

	month, err := strconv.Atoi(c.Param("month"))
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid month"})
		return
	}

	rep, err := eng.Report(month)
	if err != nil {
		errJSON(c, err)
		return
	}
	c.JSON(http.StatusOK, rep)
}

func (g *Gateway) settleLiability(c *gin.Context) {
	month, err := strconv.Atoi(c.Param("month"))
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid month"})
		return
	}
	g.withEngine(c, func(eng *guarantee.Engine) error {
		return eng.ProcessLiability(c.Request.Context(), caller(c), month)
	})
}

func (g *Gateway) depositRevenue(c *gin.Context) {
	var req revenueRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid request"})
		return
	}
	g.withEngine(c, func(eng *guarantee.Engine) error {
		return eng.OwnerDepositRevenue(c.Request.Context(), caller(c), req.Month, req.Amount)
	})
}

func (g *Gateway) distributeFees(c *gin.Context) {
	g.withEngine(c, func(eng *guarantee.Engine) error {
		return eng.DistributeFees(c.Request.Context(), caller(c))
	})
}

func (g *Gateway) claimEngineFee(c *gin.Context) {
	g.withEngine(c, func(eng *guarantee.Engine) error {
		return eng.ClaimFee(c.Request.Context(), caller(c))
	})
}

func (g *Gateway) getSummary(c *gin.Context) {
	eng, err := g.engines.Engine(c.Param("id"))
	if err != nil {
		errJSON(c, err)
		return
	}

	summary := eng.PerformanceSummary()
	coverage, _ := g.pool.CoverageRatio(c.Param("id"))
	c.JSON(http.StatusOK, gin.H{
		"venue_id":       eng.VenueID(),
		"summary":        summary,
		"current_month":  eng.CurrentMonth(),
		"escrow":         eng.Escrow(),
		"distributed":    eng.FeesDistributed(),
		"owner_deposits": eng.TotalOwnerDeposits(),
		"matured":        eng.Matured(),
		"coverage_ratio": coverage,
	})
}
