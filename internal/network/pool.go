package network

import (
	"context"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"go.uber.org/zap"

	"github.com/shizukutanaka/Kagami/internal/algorithm"
	"github.com/shizukutanaka/Kagami/internal/config"
	"github.com/shizukutanaka/Kagami/internal/mining"
)

const (
	keepaliveInterval = 30 * time.Second
	dialTimeout       = 15 * time.Second
	submitTimeout     = 10 * time.Second
	reconnectMax      = 2 * time.Minute
)

// agent is the client identifier sent on login.
const agent = "kagami/1.0"

// defaultSeed keys the algorithm context when the pool omits a seed hash.
var defaultSeed = []byte("kagami")

// rpcEnvelope covers both directions of the pool protocol: requests and
// notifications carry method+params, replies carry id+result or error.
type rpcEnvelope struct {
	ID     uint64          `json:"id,omitempty"`
	Method string          `json:"method,omitempty"`
	Params json.RawMessage `json:"params,omitempty"`
	Result json.RawMessage `json:"result,omitempty"`
	Error  *rpcError       `json:"error,omitempty"`
}

type rpcError struct {
	Code    int    `json:"code"`
	Message string `json:"message"`
}

func (e *rpcError) Err() error {
	return fmt.Errorf("pool error %d: %s", e.Code, e.Message)
}

// jobParams is the payload of a "job" notification.
type jobParams struct {
	JobID    string `json:"job_id"`
	Blob     string `json:"blob"`
	Target   string `json:"target"`
	Algo     string `json:"algo"`
	SeedHash string `json:"seed_hash"`
	Height   uint64 `json:"height"`
}

// submitResult is the reply payload to a "submit" request.
type submitResult struct {
	Status string `json:"status"`
}

// PoolClient speaks the stratum-style JSON protocol over a websocket:
// login, subscribe, job notifications, share submission and keepalives. It
// implements mining.JobSource; the scheduler never sees the wire format.
type PoolClient struct {
	log      *zap.Logger
	cfg      config.PoolConfig
	fallback algorithm.Kind
	workerID string
	jobs     chan *mining.Job

	mu      sync.Mutex
	conn    *websocket.Conn
	nextID  uint64
	pending map[uint64]chan *rpcEnvelope
}

func NewPoolClient(log *zap.Logger, cfg config.PoolConfig, fallback algorithm.Kind) *PoolClient {
	workerID := cfg.WorkerID
	if workerID == "" {
		workerID = uuid.NewString()
	}
	return &PoolClient{
		log:      log,
		cfg:      cfg,
		fallback: fallback,
		workerID: workerID,
		jobs:     make(chan *mining.Job, 4),
		pending:  make(map[uint64]chan *rpcEnvelope),
	}
}

func (p *PoolClient) Jobs() <-chan *mining.Job { return p.jobs }

// Run maintains the pool connection until ctx is cancelled, reconnecting
// with exponential backoff on failure. The jobs channel closes only when
// Run returns, which tells the scheduler the source is permanently gone.
func (p *PoolClient) Run(ctx context.Context) error {
	defer close(p.jobs)
	backoff := time.Second
	for {
		err := p.session(ctx)
		if ctx.Err() != nil {
			return ctx.Err()
		}
		p.log.Warn("pool connection lost, reconnecting",
			zap.Error(err),
			zap.Duration("backoff", backoff),
		)
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(backoff):
		}
		if backoff *= 2; backoff > reconnectMax {
			backoff = reconnectMax
		}
	}
}

// session runs one connect-login-subscribe-read cycle.
func (p *PoolClient) session(ctx context.Context) error {
	dialer := websocket.Dialer{HandshakeTimeout: dialTimeout}
	conn, _, err := dialer.DialContext(ctx, p.cfg.URL, nil)
	if err != nil {
		return fmt.Errorf("dial %s: %w", p.cfg.URL, err)
	}
	p.mu.Lock()
	p.conn = conn
	p.mu.Unlock()
	defer func() {
		conn.Close()
		p.failPending()
	}()

	// Login and subscribe are fire-and-forget: the read loop is not running
	// yet, so waiting for their replies here would deadlock. A login error
	// reply surfaces through dispatch once the loop is up.
	if err := p.send("login", map[string]any{
		"login": p.cfg.User,
		"pass":  p.cfg.Password,
		"agent": agent,
	}); err != nil {
		return fmt.Errorf("login: %w", err)
	}
	if err := p.send("subscribe", map[string]any{
		"worker_id": p.workerID,
	}); err != nil {
		return fmt.Errorf("subscribe: %w", err)
	}
	p.log.Info("connected to pool",
		zap.String("url", p.cfg.URL),
		zap.String("worker_id", p.workerID),
	)

	stop := make(chan struct{})
	defer close(stop)
	go p.keepalive(ctx, stop)

	for {
		var msg rpcEnvelope
		if err := conn.ReadJSON(&msg); err != nil {
			return err
		}
		p.dispatch(ctx, &msg)
		if ctx.Err() != nil {
			return ctx.Err()
		}
	}
}

func (p *PoolClient) dispatch(ctx context.Context, msg *rpcEnvelope) {
	if msg.Method == "" {
		p.mu.Lock()
		ch := p.pending[msg.ID]
		delete(p.pending, msg.ID)
		p.mu.Unlock()
		if ch != nil {
			ch <- msg
			return
		}
		// Unawaited reply, e.g. to login or subscribe.
		if msg.Error != nil {
			p.log.Warn("pool rejected request", zap.Error(msg.Error.Err()))
		}
		return
	}
	switch msg.Method {
	case "job":
		if err := p.handleJob(ctx, msg.Params); err != nil {
			p.log.Warn("bad job notification", zap.Error(err))
		}
	default:
		p.log.Warn("unknown pool method", zap.String("method", msg.Method))
	}
}

func (p *PoolClient) handleJob(ctx context.Context, raw json.RawMessage) error {
	var params jobParams
	if err := json.Unmarshal(raw, &params); err != nil {
		return err
	}
	blob, err := hex.DecodeString(params.Blob)
	if err != nil {
		return fmt.Errorf("blob: %w", err)
	}
	compact, err := hex.DecodeString(params.Target)
	if err != nil {
		return fmt.Errorf("target: %w", err)
	}
	target, err := mining.ExpandTarget(compact)
	if err != nil {
		return err
	}
	kind := p.fallback
	if params.Algo != "" {
		if kind, err = algorithm.ParseKind(params.Algo); err != nil {
			return err
		}
	}
	seed := defaultSeed
	if params.SeedHash != "" {
		if seed, err = hex.DecodeString(params.SeedHash); err != nil {
			return fmt.Errorf("seed_hash: %w", err)
		}
	}

	job := &mining.Job{
		RemoteID:  params.JobID,
		Blob:      blob,
		Target:    target,
		Seed:      seed,
		Algorithm: kind,
		Height:    params.Height,
	}
	select {
	case p.jobs <- job:
	case <-ctx.Done():
	}
	return nil
}

// Submit delivers one share and maps the pool's verdict onto SubmitStatus.
func (p *PoolClient) Submit(ctx context.Context, share *mining.Share) (mining.SubmitStatus, error) {
	var result submitResult
	err := p.request("submit", map[string]any{
		"id":     p.workerID,
		"job_id": share.RemoteID,
		"nonce":  fmt.Sprintf("%016x", share.Nonce),
		"result": hex.EncodeToString(share.Digest[:]),
	}, &result)
	if err != nil {
		return mining.SubmitRejected, err
	}
	if result.Status != "OK" {
		return mining.SubmitRejected, nil
	}
	return mining.SubmitAccepted, nil
}

// send writes one request without waiting for its reply.
func (p *PoolClient) send(method string, params any) error {
	rawParams, err := json.Marshal(params)
	if err != nil {
		return err
	}
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.conn == nil {
		return fmt.Errorf("not connected")
	}
	p.nextID++
	return p.conn.WriteJSON(&rpcEnvelope{ID: p.nextID, Method: method, Params: rawParams})
}

// request sends one request and waits for the matching reply.
func (p *PoolClient) request(method string, params any, out any) error {
	rawParams, err := json.Marshal(params)
	if err != nil {
		return err
	}

	p.mu.Lock()
	conn := p.conn
	if conn == nil {
		p.mu.Unlock()
		return fmt.Errorf("not connected")
	}
	p.nextID++
	id := p.nextID
	ch := make(chan *rpcEnvelope, 1)
	p.pending[id] = ch
	err = conn.WriteJSON(&rpcEnvelope{ID: id, Method: method, Params: rawParams})
	p.mu.Unlock()
	if err != nil {
		p.dropPending(id)
		return err
	}

	select {
	case reply, ok := <-ch:
		if !ok {
			return fmt.Errorf("connection closed awaiting %s reply", method)
		}
		if reply.Error != nil {
			return reply.Error.Err()
		}
		if out != nil && len(reply.Result) > 0 {
			return json.Unmarshal(reply.Result, out)
		}
		return nil
	case <-time.After(submitTimeout):
		p.dropPending(id)
		return fmt.Errorf("%s reply timed out", method)
	}
}

func (p *PoolClient) dropPending(id uint64) {
	p.mu.Lock()
	delete(p.pending, id)
	p.mu.Unlock()
}

// failPending wakes every request still waiting when a connection drops.
func (p *PoolClient) failPending() {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.conn = nil
	for id, ch := range p.pending {
		close(ch)
		delete(p.pending, id)
	}
}

func (p *PoolClient) keepalive(ctx context.Context, stop <-chan struct{}) {
	ticker := time.NewTicker(keepaliveInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-stop:
			return
		case <-ticker.C:
			p.mu.Lock()
			conn := p.conn
			var err error
			if conn != nil {
				err = conn.WriteJSON(&rpcEnvelope{Method: "keepalived"})
			}
			p.mu.Unlock()
			if err != nil {
				p.log.Debug("keepalive failed", zap.Error(err))
				return
			}
		}
	}
}
