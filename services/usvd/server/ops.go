package server

import (
	"net/http"
	"strconv"
	"strings"

	"github.com/ethereum/go-ethereum/common"

	"usvprotocol/native/cdp"
)

// caller resolves the account a request acts for. Account operations always
// act on the token subject.
func (s *Server) caller(w http.ResponseWriter, r *http.Request) (common.Address, bool) {
	p, ok := principalFrom(r.Context())
	if !ok || p.Account == (common.Address{}) {
		writeError(w, http.StatusUnauthorized, "account required")
		return common.Address{}, false
	}
	return p.Account, true
}

func (s *Server) writeTrove(w http.ResponseWriter, r *http.Request, owner common.Address, status int) {
	view, err := s.engine.Trove(owner)
	if err != nil {
		s.fail(w, r, err)
		return
	}
	if view == nil {
		writeError(w, http.StatusNotFound, "trove not found")
		return
	}
	writeJSON(w, status, troveFrom(view, s.viewPrice()))
}

func (s *Server) handleOpenTrove(w http.ResponseWriter, r *http.Request) {
	owner, ok := s.caller(w, r)
	if !ok {
		return
	}
	var req openTroveRequest
	if !decode(w, r, &req) {
		return
	}
	if err := s.engine.OpenTrove(r.Context(), owner, req.Coll, req.USV, req.MaxFee, req.Hint.hint()); err != nil {
		s.fail(w, r, err)
		return
	}
	s.writeTrove(w, r, owner, http.StatusCreated)
}

func (s *Server) handleAdjustTrove(w http.ResponseWriter, r *http.Request) {
	owner, ok := s.caller(w, r)
	if !ok {
		return
	}
	var req adjustTroveRequest
	if !decode(w, r, &req) {
		return
	}
	err := s.engine.AdjustTrove(r.Context(), owner, cdp.Adjustment{
		CollDeposit:    req.CollDeposit,
		CollWithdrawal: req.CollWithdrawal,
		USVChange:      req.USVChange,
		IsDebtIncrease: req.IsDebtIncrease,
		MaxFee:         req.MaxFee,
		Hint:           req.Hint.hint(),
	})
	if err != nil {
		s.fail(w, r, err)
		return
	}
	s.writeTrove(w, r, owner, http.StatusOK)
}

func (s *Server) handleCloseTrove(w http.ResponseWriter, r *http.Request) {
	owner, ok := s.caller(w, r)
	if !ok {
		return
	}
	if err := s.engine.CloseTrove(r.Context(), owner); err != nil {
		s.fail(w, r, err)
		return
	}
	s.writeTrove(w, r, owner, http.StatusOK)
}

func (s *Server) handleApplyRewards(w http.ResponseWriter, r *http.Request) {
	owner, ok := s.caller(w, r)
	if !ok {
		return
	}
	if err := s.engine.ApplyPendingRewards(r.Context(), owner); err != nil {
		s.fail(w, r, err)
		return
	}
	s.writeTrove(w, r, owner, http.StatusOK)
}

func (s *Server) handleClaimSurplus(w http.ResponseWriter, r *http.Request) {
	owner, ok := s.caller(w, r)
	if !ok {
		return
	}
	amount, err := s.engine.ClaimCollSurplus(r.Context(), owner)
	if err != nil {
		s.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"claimed": strconv.FormatUint(amount, 10)})
}

func (s *Server) handleRedeem(w http.ResponseWriter, r *http.Request) {
	redeemer, ok := s.caller(w, r)
	if !ok {
		return
	}
	var req redeemRequest
	if !decode(w, r, &req) {
		return
	}
	result, err := s.engine.Redeem(r.Context(), redeemer, cdp.Redemption{
		Amount:     req.Amount,
		MaxFee:     req.MaxFee,
		Candidates: req.Candidates,
		Hint:       req.Hint.hint(),
	})
	if err != nil {
		s.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, redemptionJSON{
		AttemptedUSV: result.AttemptedUSV,
		RedeemedUSV:  result.RedeemedUSV,
		CollDrawn:    result.CollDrawn,
		CollFee:      result.CollFee,
		CollSent:     result.CollSent,
	})
}

func (s *Server) handleProvide(w http.ResponseWriter, r *http.Request) {
	depositor, ok := s.caller(w, r)
	if !ok {
		return
	}
	var req amountRequest
	if !decode(w, r, &req) {
		return
	}
	if err := s.engine.ProvideToSP(r.Context(), depositor, req.Amount); err != nil {
		s.fail(w, r, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (s *Server) handleWithdraw(w http.ResponseWriter, r *http.Request) {
	depositor, ok := s.caller(w, r)
	if !ok {
		return
	}
	var req withdrawDepositRequest
	if !decode(w, r, &req) {
		return
	}
	if err := s.engine.WithdrawFromSP(r.Context(), depositor, req.Amount, req.Lowest); err != nil {
		s.fail(w, r, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (s *Server) handleClaimGains(w http.ResponseWriter, r *http.Request) {
	depositor, ok := s.caller(w, r)
	if !ok {
		return
	}
	coll, reward, err := s.engine.ClaimSPGains(r.Context(), depositor)
	if err != nil {
		s.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{
		"coll":   strconv.FormatUint(coll, 10),
		"reward": strconv.FormatUint(reward, 10),
	})
}

// handleLiquidate liquidates one owner directly and several as a batch.
// Gas compensation goes to the keeper's account.
func (s *Server) handleLiquidate(w http.ResponseWriter, r *http.Request) {
	p, _ := principalFrom(r.Context())
	var req liquidateRequest
	if !decode(w, r, &req) {
		return
	}
	var (
		totals cdp.LiquidationTotals
		err    error
	)
	switch len(req.Owners) {
	case 0:
		writeError(w, http.StatusBadRequest, "owners required")
		return
	case 1:
		totals, err = s.engine.Liquidate(r.Context(), p.Account, req.Owners[0])
	default:
		totals, err = s.engine.BatchLiquidate(r.Context(), p.Account, req.Owners)
	}
	if err != nil {
		s.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, liquidationFrom(totals))
}

func (s *Server) handleDevPrice(w http.ResponseWriter, r *http.Request) {
	var req priceRequest
	if !decode(w, r, &req) {
		return
	}
	if err := s.engine.DevChangePrice(req.Price); err != nil {
		s.fail(w, r, err)
		return
	}
	s.logger.Info("dev price changed", "price", req.Price)
	w.WriteHeader(http.StatusNoContent)
}

func (s *Server) handleDevTimestamp(w http.ResponseWriter, r *http.Request) {
	var req timestampRequest
	if !decode(w, r, &req) {
		return
	}
	if err := s.engine.DevSetTimestamp(req.Timestamp); err != nil {
		s.fail(w, r, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (s *Server) handlePause(w http.ResponseWriter, r *http.Request) {
	var req pauseRequest
	if !decode(w, r, &req) {
		return
	}
	module := strings.TrimSpace(req.Module)
	if module == "" {
		writeError(w, http.StatusBadRequest, "module required")
		return
	}
	s.pauses.Set(module, req.Paused)
	s.logger.Warn("module pause changed", "module", module, "paused", req.Paused)
	writeJSON(w, http.StatusOK, map[string]any{"paused": s.pauses.Paused()})
}

func (s *Server) handleMintCollateral(w http.ResponseWriter, r *http.Request) {
	var req mintRequest
	if !decode(w, r, &req) {
		return
	}
	if req.To == (common.Address{}) {
		writeError(w, http.StatusBadRequest, "recipient required")
		return
	}
	if err := s.engine.MintCollateral(r.Context(), req.To, req.Amount); err != nil {
		s.fail(w, r, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (s *Server) handleFundIssuance(w http.ResponseWriter, r *http.Request) {
	var req amountRequest
	if !decode(w, r, &req) {
		return
	}
	if err := s.engine.FundIssuance(r.Context(), req.Amount); err != nil {
		s.fail(w, r, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}
