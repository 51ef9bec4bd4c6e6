// Package query serves read-only market state over HTTP/JSON. All handlers
// read a single consistent engine snapshot; nothing here mutates state.
package query

import (
	"encoding/json"
	"net/http"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"github.com/shopspring/decimal"

	"OptionLadder/internal/market"
)

// Service exposes the market read API.
type Service struct {
	eng *market.Engine
	log zerolog.Logger
}

func NewService(eng *market.Engine, log zerolog.Logger) *Service {
	return &Service{
		eng: eng,
		log: log.With().Str("component", "query").Logger(),
	}
}

// Routes registers all read endpoints on a fresh mux.
func (s *Service) Routes() *http.ServeMux {
	mux := http.NewServeMux()
	mux.HandleFunc("/v1/market", s.handleMarket)
	mux.HandleFunc("/v1/cost", s.handleCost)
	mux.HandleFunc("/v1/supplies", s.handleSupplies)
	mux.HandleFunc("/v1/pool", s.handlePool)
	return mux
}

func (s *Service) handleMarket(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}
	s.writeJSON(w, s.eng.Snapshot())
}

type costResponse struct {
	CachedCost  decimal.Decimal `json:"cached_cost"`
	CurrentCost decimal.Decimal `json:"current_cost"`
	Sequence    int64           `json:"as_of_sequence"`
}

func (s *Service) handleCost(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}
	snap := s.eng.Snapshot()
	current, err := s.eng.CurrentCost()
	if err != nil {
		s.log.Error().Err(err).Msg("cost evaluation failed")
		http.Error(w, "cost evaluation failed", http.StatusInternalServerError)
		return
	}
	s.writeJSON(w, costResponse{
		CachedCost:  snap.CachedCost,
		CurrentCost: current,
		Sequence:    snap.TapeSequence,
	})
}

type suppliesResponse struct {
	Strikes       []decimal.Decimal `json:"strikes"`
	LongSupplies  []decimal.Decimal `json:"long_supplies"`
	ShortSupplies []decimal.Decimal `json:"short_supplies"`
	Sequence      int64             `json:"as_of_sequence"`
}

func (s *Service) handleSupplies(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}
	snap := s.eng.Snapshot()
	s.writeJSON(w, suppliesResponse{
		Strikes:       snap.Strikes,
		LongSupplies:  snap.LongSupplies,
		ShortSupplies: snap.ShortSupplies,
		Sequence:      snap.TapeSequence,
	})
}

type poolResponse struct {
	LPShareSupply  decimal.Decimal  `json:"lp_share_supply"`
	PoolEquity     decimal.Decimal  `json:"pool_equity"`
	CollateralHeld decimal.Decimal  `json:"collateral_held"`
	AccountShares  *decimal.Decimal `json:"account_shares,omitempty"`
	Sequence       int64            `json:"as_of_sequence"`
}

func (s *Service) handlePool(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}
	snap := s.eng.Snapshot()
	resp := poolResponse{
		LPShareSupply:  snap.LPShareSupply,
		PoolEquity:     snap.PoolEquity,
		CollateralHeld: snap.CollateralHeld,
		Sequence:       snap.TapeSequence,
	}
	if acct := r.URL.Query().Get("account"); acct != "" {
		id, err := uuid.Parse(acct)
		if err != nil {
			http.Error(w, "invalid account", http.StatusBadRequest)
			return
		}
		shares := s.eng.LPBalanceOf(id)
		resp.AccountShares = &shares
	}
	s.writeJSON(w, resp)
}

func (s *Service) writeJSON(w http.ResponseWriter, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	if err := json.NewEncoder(w).Encode(v); err != nil {
		s.log.Warn().Err(err).Msg("response encode failed")
	}
}
