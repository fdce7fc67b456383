package httpapi

import (
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"

	"github.com/alejandrodnm/tourneyd/internal/deposit"
	"github.com/alejandrodnm/tourneyd/internal/domain"
	"github.com/alejandrodnm/tourneyd/internal/tournament"
)

type registerGameRequest struct {
	GameID string `json:"game_id"`
	Name   string `json:"name"`
}

func (s *Server) registerGame(c *gin.Context) {
	var req registerGameRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		badRequest(c, err)
		return
	}
	g, err := s.svc.RegisterGame(c.Request.Context(), c.GetString(ctxUserID), req.GameID, req.Name)
	if err != nil {
		writeError(c, err)
		return
	}
	// La key solo se muestra una vez, al registrar.
	c.JSON(http.StatusCreated, gin.H{
		"status":   "success",
		"game_id":  g.GameID,
		"game_key": g.GameKey,
	})
}

type createTournamentRequest struct {
	domain.OpenTournament
	GameKey string `json:"game_key"`
}

func (s *Server) createTournament(c *gin.Context) {
	var req createTournamentRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		badRequest(c, err)
		return
	}
	t, err := s.svc.Create(c.Request.Context(), callerFrom(c, req.GameKey), req.OpenTournament)
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusCreated, gin.H{"status": "success", "tournament": t})
}

type submitResultRequest struct {
	ChallengeID string         `json:"challenge_id"`
	UserName    string         `json:"user_name"`
	ResultData  map[string]any `json:"result_data"`
	IsFinal     bool           `json:"is_final"`
	GameKey     string         `json:"game_key"`
	LegacyKey   string         `json:"gameKey"`
}

func (s *Server) submitResult(c *gin.Context) {
	var req submitResultRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		badRequest(c, err)
		return
	}
	key := req.GameKey
	if key == "" {
		key = req.LegacyKey
	}
	out, err := s.svc.SubmitResult(c.Request.Context(), tournament.SubmitRequest{
		ChallengeID: req.ChallengeID,
		UserName:    req.UserName,
		Data:        req.ResultData,
		Final:       req.IsFinal,
		GameKey:     callerFrom(c, key).GameKey,
	})
	if err != nil {
		writeError(c, err)
		return
	}

	msg := "Result submitted."
	if req.IsFinal {
		msg = "Result submitted and marked final."
	}
	body := gin.H{
		"status":      "success",
		"message":     msg,
		"submissions": out.Tournament.DistinctSubmissions(),
	}
	if out.Closed != nil {
		body["closed"] = out.Closed
	}
	c.JSON(http.StatusOK, body)
}

type closeRequest struct {
	GameKey string `json:"game_key"`
}

func (s *Server) closeTournament(c *gin.Context) {
	var req closeRequest
	// el cuerpo es opcional: la key también puede venir en X-Game-Key
	if c.Request.ContentLength > 0 {
		if err := c.ShouldBindJSON(&req); err != nil {
			badRequest(c, err)
			return
		}
	}
	closed, err := s.closer.Close(c.Request.Context(), c.Param("id"), callerFrom(c, req.GameKey))
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"status": "success", "tournament": closed})
}

func (s *Server) getClosed(c *gin.Context) {
	closed, err := s.svc.GetClosed(c.Request.Context(), c.Param("id"))
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"status": "success", "tournament": closed})
}

func (s *Server) listClosed(c *gin.Context) {
	limit := 20
	if raw := c.Query("limit"); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil || n <= 0 || n > 500 {
			writeError(c, domain.Invalid("limit must be between 1 and 500"))
			return
		}
		limit = n
	}
	list, err := s.svc.ListClosed(c.Request.Context(), limit)
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"status": "success", "tournaments": list})
}

type walletRequest struct {
	GameID       string `json:"game_id"`
	Network      string `json:"network"`
	TokenAddress string `json:"token_address"`
	Address      string `json:"address"`
	GameKey      string `json:"game_key"`
}

func (s *Server) registerWallet(c *gin.Context) {
	var req walletRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		badRequest(c, err)
		return
	}
	key := domain.WalletKey{GameID: req.GameID, Network: req.Network, TokenAddress: req.TokenAddress}
	w, created, err := s.svc.RegisterWallet(c.Request.Context(), callerFrom(c, req.GameKey), key, req.Address)
	if err != nil {
		writeError(c, err)
		return
	}
	status := http.StatusOK
	if created {
		status = http.StatusCreated
	}
	c.JSON(status, gin.H{
		"status":        "success",
		"wallet":        w.Address,
		"network":       w.Network,
		"token_address": w.TokenAddress,
		"token_balance": w.CreditedFor(w.TokenAddress),
	})
}

type depositRequest struct {
	GameID       string `json:"game_id"`
	Network      string `json:"network"`
	TokenAddress string `json:"token_address"`
}

func (s *Server) confirmDeposit(c *gin.Context) {
	var req depositRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		badRequest(c, err)
		return
	}
	receipt, err := s.deposits.Confirm(c.Request.Context(), deposit.Request{
		UserID: c.GetString(ctxUserID),
		Key:    domain.WalletKey{GameID: req.GameID, Network: req.Network, TokenAddress: req.TokenAddress},
	})
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{
		"status":         "success",
		"funded":         receipt.Funded,
		"wallet":         receipt.Address,
		"eth_balance":    receipt.EthBalance,
		"token_balance":  receipt.Credited,
		"credited_delta": receipt.Delta,
	})
}
