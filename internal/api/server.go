package api

import (
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strconv"
	"sync"

	"github.com/gorilla/mux"
	"github.com/holiman/uint256"
	"github.com/mintweave/nft-market-engine/internal/entity"
	"github.com/mintweave/nft-market-engine/internal/eventlog"
	"github.com/mintweave/nft-market-engine/internal/ft"
	"github.com/mintweave/nft-market-engine/internal/ledger"
	"github.com/mintweave/nft-market-engine/internal/market"
	"github.com/mintweave/nft-market-engine/internal/runtime"
	"github.com/patrickmn/go-cache"
	"go.uber.org/zap"
)

// Server is the HTTP gateway onto the engine. Reads go straight to the
// programs' view helpers; writes are submitted to the runtime as calls and
// run to settlement before responding.
type Server struct {
	port    string
	rt      *runtime.Runtime
	ledger  *ledger.Ledger
	market  *market.Market
	ft      *ft.Token
	journal *eventlog.Journal
	cache   *cache.Cache

	// The runtime processes one receipt chain at a time.
	mu sync.Mutex
}

func NewServer(port string, rt *runtime.Runtime, l *ledger.Ledger, m *market.Market, t *ft.Token, journal *eventlog.Journal, c *cache.Cache) *Server {
	return &Server{port: port, rt: rt, ledger: l, market: m, ft: t, journal: journal, cache: c}
}

func (s *Server) Start() error {
	zap.L().With(zap.String("port", s.port)).Info("Starting API server")

	return http.ListenAndServe(fmt.Sprintf(":%s", s.port), s.Router())
}

func (s *Server) Router() *mux.Router {
	r := mux.NewRouter()
	r.HandleFunc("/", s.handleHomepage).Methods("GET")
	r.HandleFunc("/health", s.handleHealth).Methods("GET")
	r.HandleFunc("/tokens/{tokenId}", s.handleGetToken).Methods("GET")
	r.HandleFunc("/tokens/{tokenId}/payout", s.handleGetPayout).Methods("GET")
	r.HandleFunc("/listings", s.handleGetListings).Methods("GET")
	r.HandleFunc("/listings/{contractId}/{tokenId}", s.handleGetListing).Methods("GET")
	r.HandleFunc("/accounts/{account}", s.handleGetAccount).Methods("GET")
	r.HandleFunc("/events", s.handleGetEvents).Methods("GET")
	r.HandleFunc("/calls", s.handleSubmitCall).Methods("POST")
	r.NotFoundHandler = notFoundHandler()

	return r
}

func (s *Server) handleHomepage(w http.ResponseWriter, r *http.Request) {
	_, _ = fmt.Fprintf(w, "NFT Market Engine")
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	writeJson(w, map[string]string{"status": "ok"})
}

func (s *Server) handleGetToken(w http.ResponseWriter, r *http.Request) {
	tokenId := mux.Vars(r)["tokenId"]

	token, err := s.ledger.Token(tokenId)
	if err != nil {
		http.Error(w, "Token not available", http.StatusNotFound)
		return
	}

	writeJson(w, token)
}

func (s *Server) handleGetPayout(w http.ResponseWriter, r *http.Request) {
	tokenId := mux.Vars(r)["tokenId"]

	balance, err := uint256.FromDecimal(r.URL.Query().Get("balance"))
	if err != nil {
		http.Error(w, "Invalid balance", http.StatusBadRequest)
		return
	}
	maxLen := uint64(50)
	if raw := r.URL.Query().Get("max"); raw != "" {
		if maxLen, err = strconv.ParseUint(raw, 10, 32); err != nil {
			http.Error(w, "Invalid max", http.StatusBadRequest)
			return
		}
	}

	payout, err := s.ledger.Payout(tokenId, balance, uint32(maxLen))
	if err != nil {
		http.Error(w, "Token not available", http.StatusNotFound)
		return
	}

	writeJson(w, payout)
}

func (s *Server) handleGetListings(w http.ResponseWriter, r *http.Request) {
	writeJson(w, s.market.Listings())
}

func (s *Server) handleGetListing(w http.ResponseWriter, r *http.Request) {
	contractId := mux.Vars(r)["contractId"]
	tokenId := mux.Vars(r)["tokenId"]

	cacheKey := entity.ListingKey(contractId, tokenId)
	if cached, ok := s.cache.Get(cacheKey); ok {
		writeJson(w, cached)
		return
	}

	listing, err := s.market.Listing(contractId, tokenId)
	if err != nil {
		http.Error(w, "Listing not available", http.StatusNotFound)
		return
	}

	s.cache.Set(cacheKey, listing, cache.DefaultExpiration)
	writeJson(w, listing)
}

type accountResponse struct {
	Account       string       `json:"account"`
	NativeBalance *uint256.Int `json:"nativeBalance"`
	TokenBalance  *uint256.Int `json:"tokenBalance"`
	Banned        bool         `json:"banned"`
}

func (s *Server) handleGetAccount(w http.ResponseWriter, r *http.Request) {
	account := mux.Vars(r)["account"]

	writeJson(w, accountResponse{
		Account:       account,
		NativeBalance: s.rt.Balance(account),
		TokenBalance:  s.ft.BalanceOf(account),
		Banned:        s.market.IsBanned(account),
	})
}

func (s *Server) handleGetEvents(w http.ResponseWriter, r *http.Request) {
	limit := 50
	if raw := r.URL.Query().Get("limit"); raw != "" {
		parsed, err := strconv.Atoi(raw)
		if err != nil || parsed < 1 {
			http.Error(w, "Invalid limit", http.StatusBadRequest)
			return
		}
		limit = parsed
	}

	events, err := s.journal.RecentEvents(limit)
	if err != nil {
		zap.L().With(zap.Error(err)).Error("Failed to read journal")
		http.Error(w, "Failed to read events", http.StatusInternalServerError)
		return
	}

	writeJson(w, events)
}

type submitCallRequest struct {
	Caller   string          `json:"caller"`
	Receiver string          `json:"receiver"`
	Method   string          `json:"method"`
	Args     json.RawMessage `json:"args"`
	Deposit  *uint256.Int    `json:"deposit,omitempty"`
}

type submitCallResponse struct {
	Result *runtime.Result `json:"result"`
}

func (s *Server) handleSubmitCall(w http.ResponseWriter, r *http.Request) {
	var req submitCallRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, "Invalid request body", http.StatusBadRequest)
		return
	}
	if req.Caller == "" || req.Receiver == "" || req.Method == "" {
		http.Error(w, "caller, receiver and method are required", http.StatusBadRequest)
		return
	}

	s.mu.Lock()
	result, err := s.rt.CallAndRun(req.Caller, req.Receiver, req.Method, req.Args, req.Deposit)
	s.mu.Unlock()

	if err != nil {
		if errors.Is(err, runtime.ErrInsufficientFunds) {
			http.Error(w, err.Error(), http.StatusPaymentRequired)
			return
		}
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}

	// A settled call invalidates any cached listing state.
	s.cache.Flush()

	writeJson(w, submitCallResponse{Result: result})
}

func writeJson(w http.ResponseWriter, payload interface{}) {
	w.Header().Add("Content-Type", "application/json")
	if err := json.NewEncoder(w).Encode(payload); err != nil {
		zap.L().With(zap.Error(err)).Error("Failed to encode response")
	}
}

func notFoundHandler() http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(404)
		_, _ = fmt.Fprintf(w, "Page not found")
	})
}
