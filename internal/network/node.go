package network

import (
	"bytes"
	"context"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"go.uber.org/zap"

	"github.com/shizukutanaka/Kagami/internal/algorithm"
	"github.com/shizukutanaka/Kagami/internal/config"
	"github.com/shizukutanaka/Kagami/internal/mining"
)

const defaultPollInterval = 30 * time.Second

// NodeClient mines solo against a node's JSON-RPC endpoint. It polls the
// chain height and requests a fresh block template whenever the chain
// advances; a found share is submitted back as a block. Implements
// mining.JobSource.
type NodeClient struct {
	log    *zap.Logger
	cfg    config.NodeConfig
	client *http.Client
	jobs   chan *mining.Job
	height uint64
}

func NewNodeClient(log *zap.Logger, cfg config.NodeConfig) *NodeClient {
	if cfg.PollInterval <= 0 {
		cfg.PollInterval = defaultPollInterval
	}
	return &NodeClient{
		log:    log,
		cfg:    cfg,
		client: &http.Client{Timeout: 30 * time.Second},
		jobs:   make(chan *mining.Job, 1),
	}
}

func (n *NodeClient) Jobs() <-chan *mining.Job { return n.jobs }

// Run requests an initial template, then polls the chain height and issues
// a new job after every new block, until ctx is cancelled.
func (n *NodeClient) Run(ctx context.Context) error {
	defer close(n.jobs)

	if err := n.refreshTemplate(ctx); err != nil {
		// The first template is what makes mining possible at all.
		return fmt.Errorf("initial block template: %w", err)
	}

	ticker := time.NewTicker(n.cfg.PollInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
			height, err := n.currentHeight(ctx)
			if err != nil {
				n.log.Warn("height poll failed", zap.Error(err))
				continue
			}
			if height <= n.height {
				continue
			}
			n.log.Info("chain advanced", zap.Uint64("height", height))
			if err := n.refreshTemplate(ctx); err != nil {
				n.log.Warn("block template refresh failed", zap.Error(err))
			}
		}
	}
}

type blockTemplate struct {
	JobID    string `json:"job_id"`
	Blob     string `json:"blocktemplate_blob"`
	Target   string `json:"target"`
	SeedHash string `json:"seed_hash"`
	Height   uint64 `json:"height"`
}

func (n *NodeClient) refreshTemplate(ctx context.Context) error {
	var tmpl blockTemplate
	err := n.rpc(ctx, "getblocktemplate", map[string]any{
		"wallet_address": n.cfg.WalletAddress,
		"reserve_size":   8,
	}, &tmpl)
	if err != nil {
		return err
	}

	blob, err := hex.DecodeString(tmpl.Blob)
	if err != nil {
		return fmt.Errorf("blocktemplate_blob: %w", err)
	}
	compact, err := hex.DecodeString(tmpl.Target)
	if err != nil {
		return fmt.Errorf("target: %w", err)
	}
	target, err := mining.ExpandTarget(compact)
	if err != nil {
		return err
	}
	seed := defaultSeed
	if tmpl.SeedHash != "" {
		if seed, err = hex.DecodeString(tmpl.SeedHash); err != nil {
			return fmt.Errorf("seed_hash: %w", err)
		}
	}
	if tmpl.Height > n.height {
		n.height = tmpl.Height
	}

	job := &mining.Job{
		RemoteID:  tmpl.JobID,
		Blob:      blob,
		Target:    target,
		Seed:      seed,
		Algorithm: algorithm.RandomX,
		Height:    tmpl.Height,
	}
	select {
	case n.jobs <- job:
	case <-ctx.Done():
		return ctx.Err()
	default:
		// An unconsumed older template is stale now; replace it.
		select {
		case <-n.jobs:
		default:
		}
		n.jobs <- job
	}
	return nil
}

// Submit delivers a solved block to the node.
func (n *NodeClient) Submit(ctx context.Context, share *mining.Share) (mining.SubmitStatus, error) {
	var result struct {
		Status string `json:"status"`
	}
	err := n.rpc(ctx, "submitblock", map[string]any{
		"block": hex.EncodeToString(share.Digest[:]),
	}, &result)
	if err != nil {
		return mining.SubmitRejected, err
	}
	if result.Status != "" && result.Status != "OK" {
		return mining.SubmitRejected, nil
	}
	return mining.SubmitAccepted, nil
}

func (n *NodeClient) currentHeight(ctx context.Context) (uint64, error) {
	var info struct {
		Height uint64 `json:"height"`
	}
	if err := n.rpc(ctx, "get_info", map[string]any{}, &info); err != nil {
		return 0, err
	}
	return info.Height, nil
}

// rpc performs one JSON-RPC 2.0 call and unmarshals the result.
func (n *NodeClient) rpc(ctx context.Context, method string, params any, out any) error {
	body, err := json.Marshal(map[string]any{
		"jsonrpc": "2.0",
		"id":      "0",
		"method":  method,
		"params":  params,
	})
	if err != nil {
		return err
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, n.cfg.RPCURL, bytes.NewReader(body))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")
	if n.cfg.RPCUser != "" {
		req.SetBasicAuth(n.cfg.RPCUser, n.cfg.RPCPassword)
	}

	resp, err := n.client.Do(req)
	if err != nil {
		return fmt.Errorf("%s: %w", method, err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("%s: unexpected status %s", method, resp.Status)
	}

	var envelope struct {
		Result json.RawMessage `json:"result"`
		Error  *rpcError       `json:"error"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&envelope); err != nil {
		return fmt.Errorf("%s: decode reply: %w", method, err)
	}
	if envelope.Error != nil {
		return fmt.Errorf("%s: %w", method, envelope.Error.Err())
	}
	if out != nil && len(envelope.Result) > 0 {
		return json.Unmarshal(envelope.Result, out)
	}
	return nil
}
