package rpc

import (
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"proxyvm/core"
	"proxyvm/explorer"
)

// Server exposes the world over JSON-RPC: proxy_deploy, proxy_call,
// proxy_upgrade, proxy_introspect and proxy_history, plus a websocket event
// stream, prometheus metrics and a health probe.
type Server struct {
	world   *core.World
	index   *explorer.Index
	log     *slog.Logger
	auth    *authenticator
	limiter *clientLimiter
}

// ServerOption configures a Server.
type ServerOption func(*Server)

// WithExplorer backs proxy_history with the given index.
func WithExplorer(ix *explorer.Index) ServerOption {
	return func(s *Server) { s.index = ix }
}

// WithLogger routes request logs to the given logger.
func WithLogger(l *slog.Logger) ServerOption {
	return func(s *Server) {
		if l != nil {
			s.log = l
		}
	}
}

// WithAuthSecret enables HS256 bearer authentication for the privileged
// methods (deploy and upgrade). An empty secret leaves them open, which is
// only sane for local demo worlds.
func WithAuthSecret(secret string) ServerOption {
	return func(s *Server) { s.auth = newAuthenticator(secret) }
}

// WithRateLimit caps per-client request rates.
func WithRateLimit(perMinute float64, burst int) ServerOption {
	return func(s *Server) { s.limiter = newClientLimiter(perMinute, burst) }
}

func NewServer(world *core.World, opts ...ServerOption) *Server {
	s := &Server{
		world: world,
		log:   slog.Default(),
		auth:  newAuthenticator(""),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Router assembles the HTTP surface. Callers may wrap it (e.g. with otelhttp)
// before serving.
func (s *Server) Router() http.Handler {
	r := chi.NewRouter()
	r.Post("/", s.handle)
	r.Get("/ws/events", s.handleEventsWS)
	r.Handle("/metrics", promhttp.Handler())
	r.Get("/healthz", func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("ok"))
	})
	return r
}

// Start serves the router on addr and blocks.
func (s *Server) Start(addr string) error {
	s.log.Info("starting JSON-RPC server", "addr", addr)
	srv := &http.Server{
		Addr:              addr,
		Handler:           s.Router(),
		ReadHeaderTimeout: 5 * time.Second,
	}
	return srv.ListenAndServe()
}

// privileged reports whether a method mutates the world's instance set and
// therefore requires authentication when it is configured. proxy_introspect
// stays open on purpose: tooling must always be able to read control slots.
func privileged(method string) bool {
	switch method {
	case "proxy_deploy", "proxy_upgrade":
		return true
	}
	return false
}

func (s *Server) handle(w http.ResponseWriter, r *http.Request) {
	requestID := uuid.NewString()
	if s.limiter != nil && !s.limiter.allow(clientIP(r)) {
		writeError(w, nil, codeRateLimited, "rate limit exceeded")
		return
	}
	body, err := io.ReadAll(http.MaxBytesReader(w, r.Body, maxRequestBytes))
	if err != nil {
		writeError(w, nil, codeInvalidRequest, "request too large")
		return
	}
	var req rpcRequest
	if err := json.Unmarshal(body, &req); err != nil {
		writeError(w, nil, codeParseError, "invalid JSON")
		return
	}
	if req.JSONRPC != jsonRPCVersion || strings.TrimSpace(req.Method) == "" {
		writeError(w, req.ID, codeInvalidRequest, "invalid request")
		return
	}
	log := s.log.With("rpcMethod", req.Method, "requestId", requestID)
	if privileged(req.Method) {
		if err := s.auth.authorize(r); err != nil {
			log.Warn("unauthorized request", "error", err)
			writeError(w, req.ID, codeUnauthorized, err.Error())
			return
		}
	}
	result, rpcErr := s.dispatch(&req)
	if rpcErr != nil {
		log.Info("request failed", "code", rpcErr.Code, "reason", rpcErr.Message)
		writeResponse(w, rpcResponse{JSONRPC: jsonRPCVersion, Error: rpcErr, ID: req.ID})
		return
	}
	log.Debug("request served")
	writeResponse(w, rpcResponse{JSONRPC: jsonRPCVersion, Result: result, ID: req.ID})
}

func (s *Server) dispatch(req *rpcRequest) (interface{}, *rpcError) {
	switch req.Method {
	case "proxy_deploy":
		return s.handleDeploy(req)
	case "proxy_call":
		return s.handleCall(req)
	case "proxy_upgrade":
		return s.handleUpgrade(req)
	case "proxy_introspect":
		return s.handleIntrospect(req)
	case "proxy_history":
		return s.handleHistory(req)
	default:
		return nil, &rpcError{Code: codeMethodNotFound, Message: fmt.Sprintf("method %q not found", req.Method)}
	}
}

func decodeParams(req *rpcRequest, out interface{}) *rpcError {
	if len(req.Params) != 1 {
		return &rpcError{Code: codeInvalidParams, Message: "expected a single params object"}
	}
	if err := json.Unmarshal(req.Params[0], out); err != nil {
		return &rpcError{Code: codeInvalidParams, Message: err.Error()}
	}
	return nil
}

func parseAddress(field, raw string) (common.Address, *rpcError) {
	raw = strings.TrimSpace(raw)
	if !common.IsHexAddress(raw) {
		return common.Address{}, &rpcError{Code: codeInvalidParams, Message: fmt.Sprintf("%s: invalid address %q", field, raw)}
	}
	return common.HexToAddress(raw), nil
}

func parseCall(spec *callSpec) (*core.CallData, *rpcError) {
	if spec == nil {
		return nil, nil
	}
	args := make([]common.Hash, 0, len(spec.Args))
	for _, raw := range spec.Args {
		word, err := core.ParseWord(raw)
		if err != nil {
			return nil, &rpcError{Code: codeInvalidParams, Message: err.Error()}
		}
		args = append(args, word)
	}
	return &core.CallData{Method: spec.Method, Args: args}, nil
}

func coreError(err error) *rpcError {
	return &rpcError{Code: errorCode(err), Message: err.Error()}
}

// handleDeploy deploys a locked implementation from a registered code
// reference and a proxy over it, performing the optional init call as part
// of proxy construction.
func (s *Server) handleDeploy(req *rpcRequest) (interface{}, *rpcError) {
	var params deployParams
	if rpcErr := decodeParams(req, &params); rpcErr != nil {
		return nil, rpcErr
	}
	caller, rpcErr := parseAddress("caller", params.Caller)
	if rpcErr != nil {
		return nil, rpcErr
	}
	init, rpcErr := parseCall(params.Init)
	if rpcErr != nil {
		return nil, rpcErr
	}
	impl, err := s.world.DeployContract(caller, params.Code, true)
	if err != nil {
		return nil, coreError(err)
	}
	var opts []core.ProxyOption
	if params.SelfAuthorized {
		opts = append(opts, core.WithSelfAuthorizedUpgrades())
	}
	proxy, err := s.world.DeployProxy(caller, impl, init, opts...)
	if err != nil {
		return nil, coreError(err)
	}
	return deployResult{Proxy: proxy.Hex(), Implementation: impl.Hex()}, nil
}

func (s *Server) handleCall(req *rpcRequest) (interface{}, *rpcError) {
	var params callParams
	if rpcErr := decodeParams(req, &params); rpcErr != nil {
		return nil, rpcErr
	}
	caller, rpcErr := parseAddress("caller", params.Caller)
	if rpcErr != nil {
		return nil, rpcErr
	}
	to, rpcErr := parseAddress("to", params.To)
	if rpcErr != nil {
		return nil, rpcErr
	}
	data, rpcErr := parseCall(&callSpec{Method: params.Method, Args: params.Args})
	if rpcErr != nil {
		return nil, rpcErr
	}
	out, err := s.world.Call(caller, to, data.Method, data.Args)
	if err != nil {
		return nil, coreError(err)
	}
	encoded := make([]string, 0, len(out))
	for _, word := range out {
		encoded = append(encoded, word.Hex())
	}
	return callResult{Output: encoded}, nil
}

func (s *Server) handleUpgrade(req *rpcRequest) (interface{}, *rpcError) {
	var params upgradeParams
	if rpcErr := decodeParams(req, &params); rpcErr != nil {
		return nil, rpcErr
	}
	caller, rpcErr := parseAddress("caller", params.Caller)
	if rpcErr != nil {
		return nil, rpcErr
	}
	proxy, rpcErr := parseAddress("proxy", params.Proxy)
	if rpcErr != nil {
		return nil, rpcErr
	}
	var impl common.Address
	switch {
	case strings.TrimSpace(params.Code) != "":
		var err error
		impl, err = s.world.DeployContract(caller, params.Code, true)
		if err != nil {
			return nil, coreError(err)
		}
	case strings.TrimSpace(params.Implementation) != "":
		impl, rpcErr = parseAddress("implementation", params.Implementation)
		if rpcErr != nil {
			return nil, rpcErr
		}
	default:
		return nil, &rpcError{Code: codeInvalidParams, Message: "either implementation or code required"}
	}
	post, rpcErr := parseCall(params.Post)
	if rpcErr != nil {
		return nil, rpcErr
	}
	if err := s.world.Upgrade(caller, proxy, impl, post); err != nil {
		return nil, coreError(err)
	}
	return deployResult{Proxy: proxy.Hex(), Implementation: impl.Hex()}, nil
}

func (s *Server) handleIntrospect(req *rpcRequest) (interface{}, *rpcError) {
	var params introspectParams
	if rpcErr := decodeParams(req, &params); rpcErr != nil {
		return nil, rpcErr
	}
	proxy, rpcErr := parseAddress("proxy", params.Proxy)
	if rpcErr != nil {
		return nil, rpcErr
	}
	info, err := s.world.Introspect(proxy)
	if err != nil {
		return nil, coreError(err)
	}
	result := introspectResult{
		Implementation: info.Implementation.Hex(),
		Admin:          info.Admin.Hex(),
		CodeRef:        info.CodeRef,
		Epoch:          info.Epoch,
		Locked:         info.Locked,
	}
	if info.CodeHash != (common.Hash{}) {
		result.CodeHash = info.CodeHash.Hex()
	}
	return result, nil
}

func (s *Server) handleHistory(req *rpcRequest) (interface{}, *rpcError) {
	if s.index == nil {
		return nil, &rpcError{Code: codeServerError, Message: "history index not configured"}
	}
	var params historyParams
	if rpcErr := decodeParams(req, &params); rpcErr != nil {
		return nil, rpcErr
	}
	proxy, rpcErr := parseAddress("proxy", params.Proxy)
	if rpcErr != nil {
		return nil, rpcErr
	}
	records, err := s.index.History(proxy)
	if err != nil {
		return nil, &rpcError{Code: codeServerError, Message: err.Error()}
	}
	entries := make([]historyEntry, 0, len(records))
	for _, rec := range records {
		entries = append(entries, historyEntry{
			Implementation: rec.Implementation,
			CodeRef:        rec.CodeRef,
			OK:             rec.OK,
			Reason:         rec.Reason,
			Time:           rec.CreatedAt.UTC().Format(time.RFC3339),
		})
	}
	return entries, nil
}

func writeResponse(w http.ResponseWriter, resp rpcResponse) {
	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(resp)
}

func writeError(w http.ResponseWriter, id json.RawMessage, code int, message string) {
	writeResponse(w, rpcResponse{JSONRPC: jsonRPCVersion, Error: &rpcError{Code: code, Message: message}, ID: id})
}
