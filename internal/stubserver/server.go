// Package stubserver is a small in-memory control plane that speaks the
// agent API wire protocol. It backs the client tests and `agentctl stub`
// for local development. It is not a control plane: claims, secrets and
// configs live in memory and signatures are keyed BLAKE2b MACs.
package stubserver

import (
	"crypto/rand"
	"crypto/subtle"
	"encoding/base64"
	"encoding/hex"
	"io"
	"net/http"
	"slices"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/gin-contrib/cors"
	"github.com/gin-gonic/gin"
	json "github.com/goccy/go-json"
	"github.com/jmerrifield20/tunnelagent/pkg/messages"
	"go.uber.org/zap"
	"golang.org/x/crypto/blake2b"
)

// Config seeds a Server.
type Config struct {
	// ControlAddr is returned by get-control-addr, e.g. "127.0.0.1:5525".
	ControlAddr string

	// AgentSecrets are accepted in the Authorization header from the start.
	AgentSecrets []string

	// Claims maps already accepted claim keys to the secret they unlock.
	Claims map[string]string

	// SigningKey keys the request signatures and derived session secrets.
	// At most 64 bytes.
	SigningKey []byte

	// AgentConfig is served to every authenticated agent, with SecretKey set
	// to the caller's secret and ControlAddress defaulting to ControlAddr.
	AgentConfig messages.AgentConfig

	// ClaimRate limits claim exchanges per client IP, in requests per
	// second, with ClaimBurst headroom. Zero disables the limit.
	ClaimRate  float64
	ClaimBurst int

	// AdminToken guards the claim admin endpoint, sent as
	// "Authorization: Bearer <token>". Empty leaves the endpoint unmounted.
	AdminToken string

	// CORSOrigins enables CORS on the claim admin endpoint for a browser
	// dashboard. Empty disables CORS.
	CORSOrigins []string
}

// Server handles agent API requests.
type Server struct {
	cfg    Config
	logger *zap.Logger

	claimLimiter *claimLimiter

	mu      sync.RWMutex
	claims  map[string]string
	secrets map[string]bool
}

// New creates a Server. A nil logger discards logs.
func New(cfg Config, logger *zap.Logger) *Server {
	if logger == nil {
		logger = zap.NewNop()
	}
	s := &Server{
		cfg:     cfg,
		logger:  logger,
		claims:  make(map[string]string, len(cfg.Claims)),
		secrets: make(map[string]bool, len(cfg.AgentSecrets)),
	}
	if cfg.ClaimRate > 0 {
		s.claimLimiter = newClaimLimiter(cfg.ClaimRate, cfg.ClaimBurst)
	}
	for _, secret := range cfg.AgentSecrets {
		s.secrets[secret] = true
	}
	for key, secret := range cfg.Claims {
		s.AcceptClaim(key, secret)
	}
	return s
}

// AcceptClaim marks claimKey as accepted by the account owner. The next
// exchange for claimKey returns secret, and secret authenticates from now on.
func (s *Server) AcceptClaim(claimKey, secret string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.claims[claimKey] = secret
	s.secrets[secret] = true
}

// Router returns a gin engine serving the API at "/", the claim admin
// endpoint, /healthz and /metrics.
func (s *Server) Router() *gin.Engine {
	r := gin.New()
	r.Use(gin.Recovery(), PrometheusMiddleware())
	if len(s.cfg.CORSOrigins) > 0 {
		r.Use(cors.New(cors.Config{
			AllowOrigins:     s.cfg.CORSOrigins,
			AllowMethods:     []string{"GET", "POST", "OPTIONS"},
			AllowHeaders:     []string{"Origin", "Content-Type", "Accept", "Authorization"},
			ExposeHeaders:    []string{"Content-Length"},
			AllowCredentials: !slices.Contains(s.cfg.CORSOrigins, "*"),
			MaxAge:           12 * time.Hour,
		}))
	}
	s.Register(&r.RouterGroup)
	if s.cfg.AdminToken != "" {
		r.POST("/claims/:key/accept", s.requireAdmin, s.HandleAcceptClaim)
	}
	r.GET("/healthz", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"status": "ok", "service": "agent-api-stub"})
	})
	r.GET("/metrics", MetricsHandler())
	return r
}

// Register mounts the API endpoint on rg.
func (s *Server) Register(rg *gin.RouterGroup) {
	rg.POST("/", s.Handle)
}

// Handle handles POST /, one agent API request per call.
func (s *Server) Handle(c *gin.Context) {
	body, err := io.ReadAll(io.LimitReader(c.Request.Body, 1<<16))
	if err != nil {
		s.fail(c, "", http.StatusBadRequest, "failed to read request")
		return
	}

	var head struct {
		Type messages.RequestType `json:"type"`
	}
	if err := json.Unmarshal(body, &head); err != nil {
		s.fail(c, "", http.StatusBadRequest, "invalid request body")
		return
	}
	req, ok := messages.NewRequest(head.Type)
	if !ok {
		s.fail(c, "", http.StatusBadRequest, "unknown request type "+strconv.Quote(string(head.Type)))
		return
	}
	if err := json.Unmarshal(body, req); err != nil {
		s.fail(c, head.Type, http.StatusBadRequest, "invalid "+string(head.Type)+" payload")
		return
	}

	switch r := req.(type) {
	case *messages.GetControlAddr:
		s.ok(c, head.Type, &messages.ControlAddress{ControlAddress: s.cfg.ControlAddr})

	case *messages.ExchangeClaimForSecret:
		if !s.claimLimiter.allow(c.ClientIP()) {
			c.Header("Retry-After", "1")
			s.fail(c, head.Type, http.StatusTooManyRequests, "too many claim attempts")
			return
		}
		s.mu.RLock()
		secret, accepted := s.claims[r.ClaimKey]
		s.mu.RUnlock()
		if !accepted {
			s.fail(c, head.Type, http.StatusNotFound, "claim not found")
			return
		}
		s.ok(c, head.Type, &messages.AgentSecret{SecretKey: secret})

	case *messages.SignControlRequest:
		if _, authed := s.authenticate(c, head.Type); !authed {
			return
		}
		content := messages.TunnelRequest(*r)
		if err := messages.Validate(&content); err != nil {
			s.fail(c, head.Type, http.StatusBadRequest, err.Error())
			return
		}
		sig, err := s.sign(content)
		if err != nil {
			s.logger.Error("sign tunnel request", zap.Error(err))
			s.fail(c, head.Type, http.StatusInternalServerError, "failed to sign request")
			return
		}
		s.ok(c, head.Type, &messages.SignedTunnelRequest{Signature: sig, Content: content})

	case *messages.GenerateSharedTunnelSecret:
		if _, authed := s.authenticate(c, head.Type); !authed {
			return
		}
		registered := messages.AgentRegistered(*r)
		if err := messages.Validate(&registered); err != nil {
			s.fail(c, head.Type, http.StatusBadRequest, err.Error())
			return
		}
		if registered.ExpiresAt <= uint64(time.Now().UnixMilli()) {
			s.fail(c, head.Type, http.StatusBadRequest, "registration expired")
			return
		}
		secret, err := s.SessionSecretFor(registered)
		if err != nil {
			s.logger.Error("derive session secret", zap.Error(err))
			s.fail(c, head.Type, http.StatusInternalServerError, "failed to generate secret")
			return
		}
		s.ok(c, head.Type, &messages.SessionSecret{AgentRegistered: registered, Secret: secret})

	case *messages.GetAgentConfig:
		secret, authed := s.authenticate(c, head.Type)
		if !authed {
			return
		}
		cfg := s.cfg.AgentConfig
		cfg.SecretKey = secret
		if cfg.ControlAddress == "" {
			cfg.ControlAddress = s.cfg.ControlAddr
		}
		if cfg.PingTargets == nil {
			cfg.PingTargets = []string{}
		}
		if cfg.Mappings == nil {
			cfg.Mappings = []messages.PortMapping{}
		}
		s.ok(c, head.Type, &cfg)
	}
}

// requireAdmin aborts with 401 unless the request carries the admin token.
func (s *Server) requireAdmin(c *gin.Context) {
	token, found := strings.CutPrefix(c.GetHeader("Authorization"), "Bearer ")
	if !found || subtle.ConstantTimeCompare([]byte(token), []byte(s.cfg.AdminToken)) != 1 {
		c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "invalid admin token"})
		return
	}
	c.Next()
}

// HandleAcceptClaim handles POST /claims/:key/accept, the owner's side of a
// claim. The body may name the secret to hand out:
//
//	{"secret_key":"..."}
//
// otherwise a random one is generated.
func (s *Server) HandleAcceptClaim(c *gin.Context) {
	var body struct {
		SecretKey string `json:"secret_key"`
	}
	if c.Request.ContentLength != 0 {
		if err := c.ShouldBindJSON(&body); err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": "invalid request body"})
			return
		}
	}
	if body.SecretKey == "" {
		raw := make([]byte, 32)
		if _, err := rand.Read(raw); err != nil {
			c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to generate secret"})
			return
		}
		body.SecretKey = hex.EncodeToString(raw)
	}

	claimKey := c.Param("key")
	s.AcceptClaim(claimKey, body.SecretKey)
	s.logger.Info("claim accepted", zap.String("claim_key", claimKey))
	c.JSON(http.StatusOK, gin.H{"claim_key": claimKey, "secret_key": body.SecretKey})
}

// VerifySignature reports whether signed carries this server's signature
// over its content.
func (s *Server) VerifySignature(signed *messages.SignedRPCRequest[messages.TunnelRequest]) bool {
	want, err := s.sign(signed.Content)
	if err != nil {
		return false
	}
	return subtle.ConstantTimeCompare([]byte(want), []byte(signed.Signature)) == 1
}

// SessionSecretFor derives the session secret the server hands out for
// registered.
func (s *Server) SessionSecretFor(registered messages.AgentRegistered) (string, error) {
	sum, err := s.mac(registered)
	if err != nil {
		return "", err
	}
	return hex.EncodeToString(sum), nil
}

func (s *Server) sign(req messages.TunnelRequest) (string, error) {
	sum, err := s.mac(req)
	if err != nil {
		return "", err
	}
	return base64.StdEncoding.EncodeToString(sum), nil
}

func (s *Server) mac(v any) ([]byte, error) {
	payload, err := json.Marshal(v)
	if err != nil {
		return nil, err
	}
	h, err := blake2b.New256(s.cfg.SigningKey)
	if err != nil {
		return nil, err
	}
	h.Write(payload) //nolint:errcheck
	return h.Sum(nil), nil
}

// authenticate checks the agent-key credential and answers 401 itself when
// it is missing or unknown.
func (s *Server) authenticate(c *gin.Context, op messages.RequestType) (string, bool) {
	secret, found := strings.CutPrefix(c.GetHeader("Authorization"), "agent-key ")
	if found && secret != "" {
		s.mu.RLock()
		known := s.secrets[secret]
		s.mu.RUnlock()
		if known {
			return secret, true
		}
	}
	s.fail(c, op, http.StatusUnauthorized, "invalid agent key")
	return "", false
}

func (s *Server) ok(c *gin.Context, op messages.RequestType, resp messages.Response) {
	recordRequest(op, http.StatusOK)
	c.JSON(http.StatusOK, resp)
}

func (s *Server) fail(c *gin.Context, op messages.RequestType, code int, message string) {
	recordRequest(op, code)
	s.logger.Info("agent api request rejected",
		zap.String("operation", string(op)),
		zap.Int("code", code),
		zap.String("message", message),
		zap.String("request_id", c.GetHeader("X-Request-Id")),
	)
	c.JSON(code, gin.H{"type": "error", "code": code, "message": message})
}
