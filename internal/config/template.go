package config

import "strings"

// Template renders a commented YAML configuration template. The pool and
// node arguments select which backend sections to include; both may be set
// to document that the pool takes precedence when both are configured.
func Template(pool, node bool) string {
	var b strings.Builder
	b.WriteString("# Kagami miner configuration\n\n")
	b.WriteString("general:\n")
	b.WriteString("  # Supported algorithms: randomx, cryptonight-v7, cryptonight-r\n")
	b.WriteString("  algorithm: randomx\n")
	b.WriteString("  # Number of worker threads (0 = auto-detect logical CPUs)\n")
	b.WriteString("  worker_threads: 0\n")
	b.WriteString("  # Nonce batch size per worker\n")
	b.WriteString("  batch_size: 1000\n")
	b.WriteString("  # Light mode uses ~256 MiB instead of ~2 GiB at a hashrate cost\n")
	b.WriteString("  light_mode: false\n")

	if pool {
		b.WriteString("\n# Pool mining (takes precedence if a node section is also present)\n")
		b.WriteString("pool:\n")
		b.WriteString("  url: wss://pool.example.com:3333\n")
		b.WriteString("  user: your_wallet_address\n")
		b.WriteString("  password: x\n")
		b.WriteString("  worker_id: worker01\n")
	}
	if node {
		b.WriteString("\n# Solo mining against a node RPC endpoint\n")
		b.WriteString("node:\n")
		b.WriteString("  rpc_url: http://127.0.0.1:18081/json_rpc\n")
		b.WriteString("  rpc_user: \"\"\n")
		b.WriteString("  rpc_password: \"\"\n")
		b.WriteString("  wallet_address: your_wallet_address\n")
		b.WriteString("  poll_interval: 30s\n")
	}

	b.WriteString("\napi:\n")
	b.WriteString("  enabled: false\n")
	b.WriteString("  listen_addr: 127.0.0.1:8080\n")
	b.WriteString("\nstorage:\n")
	b.WriteString("  # Record every submitted share and its outcome in a local sqlite db\n")
	b.WriteString("  enabled: false\n")
	b.WriteString("  path: kagami.db\n")
	b.WriteString("\nlog:\n")
	b.WriteString("  level: info\n")
	b.WriteString("  encoding: console\n")
	return b.String()
}
