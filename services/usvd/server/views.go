package server

import (
	"net/http"
	"strconv"

	"github.com/ethereum/go-ethereum/common"
	"github.com/go-chi/chi/v5"

	"usvprotocol/native/cdp"
	"usvprotocol/native/fixedpoint"
)

// viewPrice is the price read handlers report against. It never advances
// the feed; only writes and the poller do.
func (s *Server) viewPrice() uint64 {
	if s.feed == nil {
		return 0
	}
	st := s.feed.State()
	if st.IsDev {
		return st.DevPrice
	}
	return st.LastGoodPrice
}

func addressParam(w http.ResponseWriter, r *http.Request, name string) (common.Address, bool) {
	raw := chi.URLParam(r, name)
	if !common.IsHexAddress(raw) {
		writeError(w, http.StatusBadRequest, "invalid address "+strconv.Quote(raw))
		return common.Address{}, false
	}
	return common.HexToAddress(raw), true
}

func uintQuery(w http.ResponseWriter, r *http.Request, name string, fallback uint64) (uint64, bool) {
	raw := r.URL.Query().Get(name)
	if raw == "" {
		return fallback, true
	}
	v, err := strconv.ParseUint(raw, 10, 64)
	if err != nil {
		writeError(w, http.StatusBadRequest, "invalid "+name)
		return 0, false
	}
	return v, true
}

func (s *Server) handleSystem(w http.ResponseWriter, r *http.Request) {
	pool, err := s.engine.Pool()
	if err != nil {
		s.fail(w, r, err)
		return
	}
	sp, err := s.engine.StabilityPool()
	if err != nil {
		s.fail(w, r, err)
		return
	}
	out := systemJSON{
		Price:  s.viewPrice(),
		Pool:   poolFrom(pool),
		Paused: s.pauses.Paused(),
	}
	if sp != nil {
		out.StabilityPool = stabilityPoolFrom(sp)
	}
	if s.feed != nil {
		st := s.feed.State()
		out.Oracle = oracleJSON{Status: st.Status.String(), LastGoodPrice: st.LastGoodPrice, Initialized: st.Initialized, Dev: st.IsDev}
	}
	if out.Price != 0 {
		if out.TCR, err = pool.TCR(out.Price); err != nil {
			s.fail(w, r, err)
			return
		}
		out.RecoveryMode = out.TCR < pool.CCR
	}
	if issuance, err := s.engine.Issuance(); err == nil && issuance != nil {
		out.Issuance = &issuanceJSON{
			Enabled:          issuance.Enabled,
			EmissionRate:     issuance.EmissionRate,
			LastIssuanceTime: issuance.LastIssuanceTime,
			TotalIssued:      issuance.TotalIssued,
		}
	}
	writeJSON(w, http.StatusOK, out)
}

func (s *Server) handleListTroves(w http.ResponseWriter, r *http.Request) {
	limit, ok := uintQuery(w, r, "limit", 100)
	if !ok {
		return
	}
	if limit > 1000 {
		limit = 1000
	}
	views, err := s.engine.SortedTroves(int(limit))
	if err != nil {
		s.fail(w, r, err)
		return
	}
	price := s.viewPrice()
	out := make([]troveJSON, 0, len(views))
	for _, view := range views {
		out = append(out, troveFrom(view, price))
	}
	writeJSON(w, http.StatusOK, map[string]any{"troves": out})
}

func (s *Server) handleGetTrove(w http.ResponseWriter, r *http.Request) {
	owner, ok := addressParam(w, r, "owner")
	if !ok {
		return
	}
	view, err := s.engine.Trove(owner)
	if err != nil {
		s.fail(w, r, err)
		return
	}
	if view == nil {
		writeError(w, http.StatusNotFound, "trove not found")
		return
	}
	writeJSON(w, http.StatusOK, troveFrom(view, s.viewPrice()))
}

func (s *Server) handlePendingRewards(w http.ResponseWriter, r *http.Request) {
	owner, ok := addressParam(w, r, "owner")
	if !ok {
		return
	}
	debt, coll, err := s.engine.PendingRewards(owner)
	if err != nil {
		s.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{
		"pendingDebt": strconv.FormatUint(debt, 10),
		"pendingColl": strconv.FormatUint(coll, 10),
	})
}

// handleInsertHint computes the list position for a trove holding coll and
// debt, or for an explicit nicr.
func (s *Server) handleInsertHint(w http.ResponseWriter, r *http.Request) {
	nicr, ok := uintQuery(w, r, "nicr", 0)
	if !ok {
		return
	}
	if nicr == 0 {
		coll, ok := uintQuery(w, r, "coll", 0)
		if !ok {
			return
		}
		debt, ok := uintQuery(w, r, "debt", 0)
		if !ok {
			return
		}
		var err error
		if nicr, err = fixedpoint.ComputeNominalCR(coll, debt); err != nil {
			writeError(w, http.StatusBadRequest, err.Error())
			return
		}
	}
	var exclude common.Address
	if raw := r.URL.Query().Get("exclude"); raw != "" {
		if !common.IsHexAddress(raw) {
			writeError(w, http.StatusBadRequest, "invalid exclude")
			return
		}
		exclude = common.HexToAddress(raw)
	}
	hint, err := s.engine.FindInsertPosition(nicr, exclude)
	if err != nil {
		s.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"nicr": strconv.FormatUint(nicr, 10), "hint": hintFrom(hint)})
}

func (s *Server) handleStabilityPool(w http.ResponseWriter, r *http.Request) {
	sp, err := s.engine.StabilityPool()
	if err != nil {
		s.fail(w, r, err)
		return
	}
	if sp == nil {
		s.fail(w, r, cdp.ErrNotInitialized)
		return
	}
	writeJSON(w, http.StatusOK, stabilityPoolFrom(sp))
}

func (s *Server) handleDeposit(w http.ResponseWriter, r *http.Request) {
	depositor, ok := addressParam(w, r, "depositor")
	if !ok {
		return
	}
	deposit, err := s.engine.Deposit(depositor)
	if err != nil {
		s.fail(w, r, err)
		return
	}
	gains, err := s.engine.DepositorGains(depositor)
	if err != nil {
		s.fail(w, r, err)
		return
	}
	out := depositJSON{
		Depositor:         depositor,
		CompoundedDeposit: gains.CompoundedDeposit,
		CollGain:          gains.CollGain,
		RewardGain:        gains.RewardGain,
		ClaimableColl:     gains.ClaimableColl,
		ClaimableReward:   gains.ClaimableReward,
	}
	if deposit != nil {
		out.InitialValue = deposit.InitialValue
	}
	writeJSON(w, http.StatusOK, out)
}

func (s *Server) handleBalances(w http.ResponseWriter, r *http.Request) {
	account, ok := addressParam(w, r, "account")
	if !ok {
		return
	}
	out := balancesJSON{Account: account}
	for asset, dst := range map[cdp.Asset]*uint64{
		cdp.AssetUSV:        &out.USV,
		cdp.AssetCollateral: &out.Collateral,
		cdp.AssetReward:     &out.Reward,
	} {
		balance, err := s.engine.Balance(asset, account)
		if err != nil {
			s.fail(w, r, err)
			return
		}
		*dst = balance
	}
	writeJSON(w, http.StatusOK, out)
}

func (s *Server) handleEvents(w http.ResponseWriter, r *http.Request) {
	if s.journal == nil {
		writeError(w, http.StatusNotFound, "journal disabled")
		return
	}
	after, ok := uintQuery(w, r, "after", 0)
	if !ok {
		return
	}
	limit, ok := uintQuery(w, r, "limit", 100)
	if !ok {
		return
	}
	entries, err := s.journal.List(r.Context(), after, int(min(limit, 1000)))
	if err != nil {
		s.logger.Error("journal list failed", "error", err)
		writeError(w, http.StatusInternalServerError, "journal unavailable")
		return
	}
	out := make([]journalEntryJSON, 0, len(entries))
	for _, entry := range entries {
		item, err := journalEntryFrom(entry)
		if err != nil {
			writeError(w, http.StatusInternalServerError, err.Error())
			return
		}
		out = append(out, item)
	}
	writeJSON(w, http.StatusOK, map[string]any{"events": out})
}
