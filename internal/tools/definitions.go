package tools

import "ENS-Agent-Chain/internal/llm"

// Definitions 返回向推理引擎声明的全部工具。
func (r *Registry) Definitions() []llm.ToolDefinition {
	return []llm.ToolDefinition{
		{
			Name:        "ens_check",
			Description: "Check if an ENS name is available for registration and get the price.",
			Parameters: schema(map[string]any{
				"label":    property("string", "The label to check (without .eth suffix), e.g. \"coolname\"."),
				"duration": property("string", "Registration duration like \"1y\", \"2y\", \"6m\". Defaults to \"1y\"."),
				"network":  property("string", "\"mainnet\" or \"sepolia\". Defaults to \"sepolia\"."),
			}, "label"),
		},
		{
			Name:        "ens_profile",
			Description: "Get the full profile for an ENS name or address, including text records, avatar, owner, and expiry.",
			Parameters: schema(map[string]any{
				"input":   property("string", "An ENS name (e.g. \"vitalik.eth\") or Ethereum address."),
				"network": property("string", "\"mainnet\" or \"sepolia\". Defaults to \"sepolia\"."),
			}, "input"),
		},
		{
			Name:        "ens_resolve",
			Description: "Resolve an ENS name to an address, or look up a specific text record or contenthash. Use ens_profile for full overviews.",
			Parameters: schema(map[string]any{
				"input":       property("string", "An ENS name or Ethereum address."),
				"txt":         property("string", "Optional text record key to resolve (e.g. \"email\", \"com.twitter\")."),
				"contenthash": property("boolean", "If true, resolve the contenthash for this name."),
				"network":     property("string", "\"mainnet\" or \"sepolia\". Defaults to \"sepolia\"."),
			}, "input"),
		},
		{
			Name:        "ens_list",
			Description: "List all ENS names owned by an Ethereum address.",
			Parameters: schema(map[string]any{
				"address": property("string", "The Ethereum address to look up."),
				"network": property("string", "\"mainnet\" or \"sepolia\". Defaults to \"sepolia\"."),
			}, "address"),
		},
		{
			Name:        "ens_verify",
			Description: "Verify that on-chain records for an ENS name match expected values.",
			Parameters: schema(map[string]any{
				"name":    property("string", "The ENS name to verify (e.g. \"coolname.eth\")."),
				"records": property("string", "Comma-separated list of record keys to check (e.g. \"address,email\")."),
				"network": property("string", "\"mainnet\" or \"sepolia\". Defaults to \"sepolia\"."),
			}, "name"),
		},
		{
			Name:        "ens_namehash",
			Description: "Compute the namehash for an ENS name.",
			Parameters: schema(map[string]any{
				"name": property("string", "The ENS name (e.g. \"vitalik.eth\")."),
			}, "name"),
		},
		{
			Name:        "ens_labelhash",
			Description: "Compute the labelhash for an ENS label.",
			Parameters: schema(map[string]any{
				"label": property("string", "The label (e.g. \"vitalik\", without .eth)."),
			}, "label"),
		},
		{
			Name:        "ens_resolver",
			Description: "Get the resolver contract address for an ENS name.",
			Parameters: schema(map[string]any{
				"name":    property("string", "The ENS name (e.g. \"vitalik.eth\")."),
				"network": property("string", "\"mainnet\" or \"sepolia\". Defaults to \"sepolia\"."),
			}, "name"),
		},
		{
			Name:        "ens_deployments",
			Description: "Get all ENS contract deployment addresses for mainnet and sepolia.",
			Parameters:  schema(map[string]any{}),
		},
		{
			Name:        "ens_build_commit_tx",
			Description: "Build a commit transaction for ENS name registration (step 1 of 2). The commit-reveal process prevents front-running. After the commit tx is signed, the user must wait ~60 seconds before the register step.",
			Parameters: schema(map[string]any{
				"label":       property("string", "The label to register (without .eth), e.g. \"coolname\"."),
				"owner":       property("string", "The Ethereum address that will own the name."),
				"duration":    property("string", "Registration duration like \"1y\", \"2y\". Defaults to \"1y\"."),
				"set_primary": property("boolean", "Whether to set this as the owner's primary name. Defaults to true."),
				"network":     property("string", "\"mainnet\" or \"sepolia\". Defaults to \"sepolia\"."),
			}, "label", "owner"),
		},
		{
			Name:        "ens_build_register_tx",
			Description: "Build a register transaction (step 2 of 2) using the session from the commit step. Must be called after the commit tx is confirmed and the ~60s wait period has passed.",
			Parameters: schema(map[string]any{
				"session_id": property("string", "The session ID returned from the commit step."),
			}, "session_id"),
		},
		{
			Name:        "ens_build_set_records_tx",
			Description: "Build a transaction to set text records, address, or resolver for an ENS name.",
			Parameters: schema(map[string]any{
				"name":         property("string", "The ENS name (e.g. \"coolname.eth\")."),
				"text_records": property("string", "JSON string of key-value text records, e.g. '{\"email\": \"user@example.com\"}'."),
				"address":      property("string", "Ethereum address to set as the name's address record."),
				"resolver":     property("string", "Custom resolver address. Uses the default public resolver if omitted."),
				"network":      property("string", "\"mainnet\" or \"sepolia\". Defaults to \"sepolia\"."),
			}, "name"),
		},
		{
			Name:        "ens_build_renew_tx",
			Description: "Build a transaction to renew an ENS name registration.",
			Parameters: schema(map[string]any{
				"label":    property("string", "The label to renew (without .eth), e.g. \"coolname\"."),
				"duration": property("string", "Renewal duration like \"1y\", \"2y\". Defaults to \"1y\"."),
				"network":  property("string", "\"mainnet\" or \"sepolia\". Defaults to \"sepolia\"."),
			}, "label"),
		},
		{
			Name:        "ens_build_transfer_tx",
			Description: "Build a transaction to transfer ownership of an ENS name. Only works for unwrapped names.",
			Parameters: schema(map[string]any{
				"label":     property("string", "The label to transfer (without .eth), e.g. \"coolname\"."),
				"from_addr": property("string", "The current owner's Ethereum address."),
				"to_addr":   property("string", "The recipient's Ethereum address."),
				"network":   property("string", "\"mainnet\" or \"sepolia\". Defaults to \"sepolia\"."),
			}, "label", "from_addr", "to_addr"),
		},
		{
			Name:        "ens_build_primary_tx",
			Description: "Build a transaction to set the primary ENS name for an address.",
			Parameters: schema(map[string]any{
				"name":    property("string", "The ENS name to set as primary (e.g. \"coolname.eth\")."),
				"address": property("string", "The Ethereum address to set the primary name for."),
				"owner":   property("string", "The owner of the name (must match the transaction sender)."),
				"network": property("string", "\"mainnet\" or \"sepolia\". Defaults to \"sepolia\"."),
			}, "name", "address", "owner"),
		},
		{
			Name:        "ens_build_subname_tx",
			Description: "Build transactions to create an ENS subname (e.g. \"sub.parent.eth\"). Returns up to 3 sequential transactions: create subname, set address, set reverse record.",
			Parameters: schema(map[string]any{
				"label":   property("string", "The subname label (e.g. \"sub\" for sub.parent.eth)."),
				"parent":  property("string", "The parent name (e.g. \"parent.eth\")."),
				"owner":   property("string", "The Ethereum address that will own the subname."),
				"address": property("string", "Optional address record to set on the subname."),
				"reverse": property("boolean", "Whether to set the subname as the reverse record. Defaults to true."),
				"network": property("string", "\"mainnet\" or \"sepolia\". Defaults to \"sepolia\"."),
			}, "label", "parent", "owner"),
		},
	}
}

func schema(properties map[string]any, required ...string) map[string]any {
	s := map[string]any{
		"type":       "object",
		"properties": properties,
	}
	if len(required) > 0 {
		s["required"] = required
	}
	return s
}

func property(kind, description string) map[string]any {
	return map[string]any{"type": kind, "description": description}
}
