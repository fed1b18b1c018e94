package rest

import (
	"encoding/json"
	"log/slog"
	"net/http"
	"strconv"
	"time"

	"github.com/bradfitz/gomemcache/memcache"
	"github.com/gorilla/websocket"
	"github.com/labstack/echo/v4"

	"github.com/propdao/propindex/internal/domain"
	"github.com/propdao/propindex/internal/present/rest/middleware"
	"github.com/propdao/propindex/internal/present/rest/presenter"
	"github.com/propdao/propindex/internal/service"
	"github.com/propdao/propindex/internal/usecase"
)

const readCacheTTL = 5 // seconds

type Handler struct {
	ledger     *usecase.LedgerUsecase
	governance *usecase.GovernanceUsecase
	staking    *usecase.StakingUsecase
	oracle     *usecase.OracleUsecase
	signal     *service.SignalService
	mc         *memcache.Client
	started    time.Time
}

func NewHandler(
	ledger *usecase.LedgerUsecase,
	governance *usecase.GovernanceUsecase,
	staking *usecase.StakingUsecase,
	oracle *usecase.OracleUsecase,
	signal *service.SignalService,
	mc *memcache.Client,
) *Handler {
	return &Handler{
		ledger:     ledger,
		governance: governance,
		staking:    staking,
		oracle:     oracle,
		signal:     signal,
		mc:         mc,
		started:    time.Now(),
	}
}

func (h *Handler) RegisterRoutes(e *echo.Echo) {
	e.GET("/health", h.handleHealth)

	e.GET("/prices/latest", h.handleLatest)
	e.GET("/prices/city/:id", h.handleCityPrice)
	e.GET("/prices/history", h.handleHistory)
	e.GET("/index/global", h.handleGlobalIndex)
	e.GET("/cities", h.handleCities)
	e.POST("/update/prices", h.handleTriggerUpdate)
	e.GET("/stats", h.handleStats)
	e.GET("/realtime", h.handleRealtime)

	e.GET("/ledger/balance/:address", h.handleBalance)
	e.GET("/ledger/supply", h.handleSupply)
	e.POST("/ledger/transfer", h.handleTransfer)
	e.POST("/ledger/approve", h.handleApprove)
	e.POST("/ledger/burn", h.handleBurn)

	e.POST("/governance/proposals", h.handleCreateProposal)
	e.GET("/governance/proposals", h.handleListProposals)
	e.GET("/governance/proposals/:id", h.handleGetProposal)
	e.POST("/governance/proposals/:id/votes", h.handleVote)
	e.POST("/governance/proposals/:id/execute", h.handleExecute)

	e.POST("/staking/stakes", h.handleStake)
	e.POST("/staking/stakes/:index/unstake", h.handleUnstake)
	e.GET("/staking/accounts/:address", h.handleAccountStakes)
	e.GET("/staking/totals", h.handleStakingTotals)
	e.GET("/staking/periods", h.handleStakingPeriods)

	e.POST("/admin/pause", h.handlePause)
	e.POST("/admin/unpause", h.handleUnpause)
	e.POST("/admin/updater", h.handleSetUpdater)
	e.POST("/admin/cities", h.handleAddCity)
	e.PUT("/admin/cities/:id/weight", h.handleCityWeight)
	e.POST("/admin/cities/:id/toggle", h.handleCityToggle)
	e.POST("/admin/prices", h.handlePushPrice)
	e.POST("/admin/staking/emergency", h.handleEmergencyMode)
	e.POST("/admin/staking/emergency-unstake", h.handleEmergencyUnstake)
	e.PUT("/admin/staking/multipliers", h.handleMultiplier)
}

func (h *Handler) handleHealth(c echo.Context) error {
	return presenter.OK(c, map[string]any{
		"status":        "ok",
		"uptimeSeconds": int64(time.Since(h.started).Seconds()),
	})
}

func (h *Handler) handleLatest(c echo.Context) error {
	if cached, ok := h.cacheGet("latest"); ok {
		return presenter.OK(c, cached)
	}

	snap, err := h.oracle.Latest(c.Request().Context())
	if err != nil {
		return presenter.Error(c, err)
	}

	h.cacheSet("latest", snap)
	return presenter.OK(c, snap)
}

func (h *Handler) handleCityPrice(c echo.Context) error {
	id, err := strconv.ParseUint(c.Param("id"), 10, 64)
	if err != nil {
		return presenter.BadRequest(c, "invalid city id")
	}

	city, err := h.oracle.CityLatest(c.Request().Context(), id)
	if err != nil {
		return presenter.Error(c, err)
	}
	return presenter.OK(c, city)
}

func (h *Handler) handleHistory(c echo.Context) error {
	limit, _ := strconv.Atoi(c.QueryParam("limit"))
	days, _ := strconv.Atoi(c.QueryParam("days"))
	cityID, _ := strconv.ParseUint(c.QueryParam("cityId"), 10, 64)

	entries, err := h.oracle.History(c.Request().Context(), limit, cityID, days)
	if err != nil {
		return presenter.Error(c, err)
	}
	return presenter.OK(c, entries)
}

func (h *Handler) handleGlobalIndex(c echo.Context) error {
	index, err := h.governance.GlobalIndex(c.Request().Context())
	if err != nil {
		return presenter.Error(c, err)
	}
	return presenter.OK(c, index)
}

func (h *Handler) handleCities(c echo.Context) error {
	if cached, ok := h.cacheGet("cities"); ok {
		return presenter.OK(c, cached)
	}

	cities, err := h.governance.ListCities(c.Request().Context())
	if err != nil {
		return presenter.Error(c, err)
	}

	h.cacheSet("cities", cities)
	return presenter.OK(c, cities)
}

func (h *Handler) handleTriggerUpdate(c echo.Context) error {
	result, err := h.oracle.RunCycle(c.Request().Context())
	if err != nil {
		return presenter.Error(c, err)
	}
	return presenter.OK(c, result)
}

func (h *Handler) handleStats(c echo.Context) error {
	stats, err := h.oracle.Stats(c.Request().Context())
	if err != nil {
		return presenter.Error(c, err)
	}
	return presenter.OK(c, stats)
}

var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
	CheckOrigin: func(r *http.Request) bool {
		return true
	},
}

// handleRealtime streams snapshot events to the client until it
// disconnects.
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
	defer ws.Close()

	ctx := c.Request().Context()

	events := make(chan domain.SnapshotEvent)
	go h.signal.Subscribe(ctx, events)

	// Drain the read side to notice disconnects.
	done := make(chan struct{})
	go func() {
		defer close(done)
		for {
			if _, _, err := ws.ReadMessage(); err != nil {
				wsErr, ok := err.(*websocket.CloseError)
				if ok {
					if !(wsErr.Code == websocket.CloseNormalClosure || wsErr.Code == websocket.CloseGoingAway) {
						slog.DebugContext(
							ctx, "WebSocket closed",
							slog.String("error", wsErr.Error()),
							slog.String("module", "socket"),
						)
					}
				}
				return
			}
		}
	}()

	for {
		select {
		case <-ctx.Done():
			return nil
		case <-done:
			return nil
		case event := <-events:
			if err := ws.WriteJSON(event); err != nil {
				slog.ErrorContext(
					ctx, "Error writing event",
					slog.String("error", err.Error()),
					slog.String("module", "socket"),
				)
				return nil
			}
		}
	}
}

func (h *Handler) handleBalance(c echo.Context) error {
	addr, err := domain.NormalizeAddress(c.Param("address"))
	if err != nil {
		return presenter.Error(c, err)
	}
	balance, err := h.ledger.BalanceOf(c.Request().Context(), addr)
	if err != nil {
		return presenter.Error(c, err)
	}
	return presenter.OK(c, domain.Balance{Address: addr, Amount: balance})
}

func (h *Handler) handleSupply(c echo.Context) error {
	state, err := h.ledger.State(c.Request().Context())
	if err != nil {
		return presenter.Error(c, err)
	}
	return presenter.OK(c, state)
}

type transferRequest struct {
	To     string `json:"to"`
	Amount uint64 `json:"amount"`
}

func (h *Handler) handleTransfer(c echo.Context) error {
	caller, err := middleware.Caller(c)
	if err != nil {
		return presenter.Error(c, err)
	}

	var req transferRequest
	if err := c.Bind(&req); err != nil {
		return presenter.BadRequest(c, "invalid request body")
	}

	if err := h.ledger.Transfer(c.Request().Context(), caller, req.To, req.Amount); err != nil {
		return presenter.Error(c, err)
	}
	return presenter.OK(c, map[string]string{"status": "transferred"})
}

type approveRequest struct {
	Spender string `json:"spender"`
	Amount  uint64 `json:"amount"`
}

func (h *Handler) handleApprove(c echo.Context) error {
	caller, err := middleware.Caller(c)
	if err != nil {
		return presenter.Error(c, err)
	}

	var req approveRequest
	if err := c.Bind(&req); err != nil {
		return presenter.BadRequest(c, "invalid request body")
	}

	if err := h.ledger.Approve(c.Request().Context(), caller, req.Spender, req.Amount); err != nil {
		return presenter.Error(c, err)
	}
	return presenter.OK(c, map[string]string{"status": "approved"})
}

type burnRequest struct {
	Amount uint64 `json:"amount"`
}

func (h *Handler) handleBurn(c echo.Context) error {
	caller, err := middleware.Caller(c)
	if err != nil {
		return presenter.Error(c, err)
	}

	var req burnRequest
	if err := c.Bind(&req); err != nil {
		return presenter.BadRequest(c, "invalid request body")
	}

	if err := h.ledger.Burn(c.Request().Context(), caller, req.Amount); err != nil {
		return presenter.Error(c, err)
	}
	return presenter.OK(c, map[string]string{"status": "burned"})
}

type proposalRequest struct {
	Description string `json:"description"`
}

func (h *Handler) handleCreateProposal(c echo.Context) error {
	caller, err := middleware.Caller(c)
	if err != nil {
		return presenter.Error(c, err)
	}

	var req proposalRequest
	if err := c.Bind(&req); err != nil {
		return presenter.BadRequest(c, "invalid request body")
	}

	proposal, err := h.governance.CreateProposal(c.Request().Context(), caller, req.Description)
	if err != nil {
		return presenter.Error(c, err)
	}
	return presenter.OK(c, proposal)
}

func (h *Handler) handleListProposals(c echo.Context) error {
	limit, _ := strconv.Atoi(c.QueryParam("limit"))
	offset, _ := strconv.Atoi(c.QueryParam("offset"))

	proposals, err := h.governance.ListProposals(c.Request().Context(), limit, offset)
	if err != nil {
		return presenter.Error(c, err)
	}
	return presenter.OK(c, proposals)
}

func (h *Handler) handleGetProposal(c echo.Context) error {
	id, err := strconv.ParseUint(c.Param("id"), 10, 64)
	if err != nil {
		return presenter.BadRequest(c, "invalid proposal id")
	}

	proposal, err := h.governance.GetProposal(c.Request().Context(), id)
	if err != nil {
		return presenter.Error(c, err)
	}

	return presenter.OK(c, map[string]any{
		"proposal": proposal,
		"status":   h.governance.ProposalStatus(proposal),
	})
}

type voteRequest struct {
	Support bool `json:"support"`
}

func (h *Handler) handleVote(c echo.Context) error {
	caller, err := middleware.Caller(c)
	if err != nil {
		return presenter.Error(c, err)
	}

	id, err := strconv.ParseUint(c.Param("id"), 10, 64)
	if err != nil {
		return presenter.BadRequest(c, "invalid proposal id")
	}

	var req voteRequest
	if err := c.Bind(&req); err != nil {
		return presenter.BadRequest(c, "invalid request body")
	}

	if err := h.governance.Vote(c.Request().Context(), caller, id, req.Support); err != nil {
		return presenter.Error(c, err)
	}
	return presenter.OK(c, map[string]string{"status": "voted"})
}

func (h *Handler) handleExecute(c echo.Context) error {
	id, err := strconv.ParseUint(c.Param("id"), 10, 64)
	if err != nil {
		return presenter.BadRequest(c, "invalid proposal id")
	}

	proposal, err := h.governance.ExecuteProposal(c.Request().Context(), id)
	if err != nil {
		return presenter.Error(c, err)
	}
	return presenter.OK(c, proposal)
}

type stakeRequest struct {
	Amount        uint64 `json:"amount"`
	PeriodSeconds int64  `json:"periodSeconds"`
}

func (h *Handler) handleStake(c echo.Context) error {
	caller, err := middleware.Caller(c)
	if err != nil {
		return presenter.Error(c, err)
	}

	var req stakeRequest
	if err := c.Bind(&req); err != nil {
		return presenter.BadRequest(c, "invalid request body")
	}

	stake, err := h.staking.Stake(c.Request().Context(), caller, req.Amount, req.PeriodSeconds)
	if err != nil {
		return presenter.Error(c, err)
	}
	return presenter.OK(c, stake)
}

func (h *Handler) handleUnstake(c echo.Context) error {
	caller, err := middleware.Caller(c)
	if err != nil {
		return presenter.Error(c, err)
	}

	index, err := strconv.Atoi(c.Param("index"))
	if err != nil {
		return presenter.BadRequest(c, "invalid stake index")
	}

	amount, err := h.staking.Unstake(c.Request().Context(), caller, index)
	if err != nil {
		return presenter.Error(c, err)
	}
	return presenter.OK(c, map[string]uint64{"returned": amount})
}

func (h *Handler) handleAccountStakes(c echo.Context) error {
	stakes, err := h.staking.AccountStakes(c.Request().Context(), c.Param("address"))
	if err != nil {
		return presenter.Error(c, err)
	}
	return presenter.OK(c, stakes)
}

func (h *Handler) handleStakingTotals(c echo.Context) error {
	totals, err := h.staking.Totals(c.Request().Context())
	if err != nil {
		return presenter.Error(c, err)
	}
	return presenter.OK(c, totals)
}

func (h *Handler) handleStakingPeriods(c echo.Context) error {
	periods, err := h.staking.SupportedPeriods(c.Request().Context())
	if err != nil {
		return presenter.Error(c, err)
	}
	return presenter.OK(c, periods)
}

func (h *Handler) handlePause(c echo.Context) error {
	caller, err := middleware.Caller(c)
	if err != nil {
		return presenter.Error(c, err)
	}
	if err := h.ledger.Pause(c.Request().Context(), caller); err != nil {
		return presenter.Error(c, err)
	}
	return presenter.OK(c, map[string]string{"status": "paused"})
}

func (h *Handler) handleUnpause(c echo.Context) error {
	caller, err := middleware.Caller(c)
	if err != nil {
		return presenter.Error(c, err)
	}
	if err := h.ledger.Unpause(c.Request().Context(), caller); err != nil {
		return presenter.Error(c, err)
	}
	return presenter.OK(c, map[string]string{"status": "unpaused"})
}

type updaterRequest struct {
	Address string `json:"address"`
}

func (h *Handler) handleSetUpdater(c echo.Context) error {
	caller, err := middleware.Caller(c)
	if err != nil {
		return presenter.Error(c, err)
	}

	var req updaterRequest
	if err := c.Bind(&req); err != nil {
		return presenter.BadRequest(c, "invalid request body")
	}

	if err := h.ledger.SetAuthorizedUpdater(c.Request().Context(), caller, req.Address); err != nil {
		return presenter.Error(c, err)
	}
	return presenter.OK(c, map[string]string{"status": "updated"})
}

type cityRequest struct {
	ID     uint64 `json:"id"`
	Name   string `json:"name"`
	Weight uint64 `json:"weight"`
}

func (h *Handler) handleAddCity(c echo.Context) error {
	caller, err := middleware.Caller(c)
	if err != nil {
		return presenter.Error(c, err)
	}

	var req cityRequest
	if err := c.Bind(&req); err != nil {
		return presenter.BadRequest(c, "invalid request body")
	}

	if err := h.governance.AddCity(c.Request().Context(), caller, req.ID, req.Name, req.Weight); err != nil {
		return presenter.Error(c, err)
	}
	h.cacheDelete("cities")
	return presenter.OK(c, map[string]string{"status": "created"})
}

type weightRequest struct {
	Weight uint64 `json:"weight"`
}

func (h *Handler) handleCityWeight(c echo.Context) error {
	caller, err := middleware.Caller(c)
	if err != nil {
		return presenter.Error(c, err)
	}

	id, err := strconv.ParseUint(c.Param("id"), 10, 64)
	if err != nil {
		return presenter.BadRequest(c, "invalid city id")
	}

	var req weightRequest
	if err := c.Bind(&req); err != nil {
		return presenter.BadRequest(c, "invalid request body")
	}

	if err := h.governance.UpdateCityWeight(c.Request().Context(), caller, id, req.Weight); err != nil {
		return presenter.Error(c, err)
	}
	h.cacheDelete("cities")
	return presenter.OK(c, map[string]string{"status": "updated"})
}

func (h *Handler) handleCityToggle(c echo.Context) error {
	caller, err := middleware.Caller(c)
	if err != nil {
		return presenter.Error(c, err)
	}

	id, err := strconv.ParseUint(c.Param("id"), 10, 64)
	if err != nil {
		return presenter.BadRequest(c, "invalid city id")
	}

	if err := h.governance.ToggleCityStatus(c.Request().Context(), caller, id); err != nil {
		return presenter.Error(c, err)
	}
	h.cacheDelete("cities")
	return presenter.OK(c, map[string]string{"status": "toggled"})
}

type priceRequest struct {
	CityID uint64 `json:"cityId"`
	Price  uint64 `json:"price"`
}

func (h *Handler) handlePushPrice(c echo.Context) error {
	caller, err := middleware.Caller(c)
	if err != nil {
		return presenter.Error(c, err)
	}

	var req priceRequest
	if err := c.Bind(&req); err != nil {
		return presenter.BadRequest(c, "invalid request body")
	}

	if err := h.governance.UpdateCityPrice(c.Request().Context(), caller, req.CityID, req.Price); err != nil {
		return presenter.Error(c, err)
	}
	return presenter.OK(c, map[string]string{"status": "updated"})
}

type emergencyRequest struct {
	Enabled bool `json:"enabled"`
}

func (h *Handler) handleEmergencyMode(c echo.Context) error {
	caller, err := middleware.Caller(c)
	if err != nil {
		return presenter.Error(c, err)
	}

	var req emergencyRequest
	if err := c.Bind(&req); err != nil {
		return presenter.BadRequest(c, "invalid request body")
	}

	if err := h.staking.SetEmergencyMode(c.Request().Context(), caller, req.Enabled); err != nil {
		return presenter.Error(c, err)
	}
	return presenter.OK(c, map[string]bool{"emergencyMode": req.Enabled})
}

type emergencyUnstakeRequest struct {
	Account string `json:"account"`
	Index   int    `json:"index"`
}

func (h *Handler) handleEmergencyUnstake(c echo.Context) error {
	caller, err := middleware.Caller(c)
	if err != nil {
		return presenter.Error(c, err)
	}

	var req emergencyUnstakeRequest
	if err := c.Bind(&req); err != nil {
		return presenter.BadRequest(c, "invalid request body")
	}

	amount, err := h.staking.EmergencyUnstake(c.Request().Context(), caller, req.Account, req.Index)
	if err != nil {
		return presenter.Error(c, err)
	}
	return presenter.OK(c, map[string]uint64{"returned": amount})
}

type multiplierRequest struct {
	PeriodSeconds int64  `json:"periodSeconds"`
	Multiplier    uint64 `json:"multiplier"`
}

func (h *Handler) handleMultiplier(c echo.Context) error {
	caller, err := middleware.Caller(c)
	if err != nil {
		return presenter.Error(c, err)
	}

	var req multiplierRequest
	if err := c.Bind(&req); err != nil {
		return presenter.BadRequest(c, "invalid request body")
	}

	if err := h.staking.UpdatePeriodMultiplier(c.Request().Context(), caller, req.PeriodSeconds, req.Multiplier); err != nil {
		return presenter.Error(c, err)
	}
	return presenter.OK(c, map[string]string{"status": "updated"})
}

// cacheGet serves hot read endpoints from memcached when configured.
func (h *Handler) cacheGet(key string) (json.RawMessage, bool) {
	if h.mc == nil {
		return nil, false
	}
	item, err := h.mc.Get("propindex:" + key)
	if err != nil {
		return nil, false
	}
	return json.RawMessage(item.Value), true
}

func (h *Handler) cacheSet(key string, payload any) {
	if h.mc == nil {
		return
	}
	data, err := json.Marshal(payload)
	if err != nil {
		return
	}
	_ = h.mc.Set(&memcache.Item{
		Key:        "propindex:" + key,
		Value:      data,
		Expiration: readCacheTTL,
	})
}

func (h *Handler) cacheDelete(key string) {
	if h.mc == nil {
		return
	}
	_ = h.mc.Delete("propindex:" + key)
}
