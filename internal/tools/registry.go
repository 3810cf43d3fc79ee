package tools

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"strconv"

	"ENS-Agent-Chain/internal/bridge"
	xerrors "ENS-Agent-Chain/internal/errors"
	"ENS-Agent-Chain/internal/llm"
	"ENS-Agent-Chain/internal/worker"
	"ENS-Agent-Chain/pkg/logger"
)

// Registry 把 ENS 具名操作暴露给推理引擎：查询类操作直接转发执行
// 服务，交易构建类操作额外经过指令桥判定是否需要客户端签名。
type Registry struct {
	worker *worker.Client
}

// NewRegistry 创建工具注册表。
func NewRegistry(client *worker.Client) *Registry {
	return &Registry{worker: client}
}

// ExecuteTool 执行具名操作。执行服务不可达时返回 JSON 形式的错误
// 文本而非 error，保证推理引擎总能拿到可解释的结果。
func (r *Registry) ExecuteTool(ctx context.Context, name string, args map[string]any) (string, *llm.ClientToolCall, error) {
	switch name {
	case "ens_check":
		return r.get(ctx, "/check", map[string]string{
			"label":    stringArg(args, "label", ""),
			"duration": stringArg(args, "duration", "1y"),
			"network":  stringArg(args, "network", "sepolia"),
		})
	case "ens_profile":
		return r.get(ctx, "/profile", map[string]string{
			"input":   stringArg(args, "input", ""),
			"network": stringArg(args, "network", "sepolia"),
		})
	case "ens_resolve":
		params := map[string]string{
			"input":   stringArg(args, "input", ""),
			"network": stringArg(args, "network", "sepolia"),
			"txt":     stringArg(args, "txt", ""),
		}
		if boolArg(args, "contenthash", false) {
			params["contenthash"] = "true"
		}
		return r.get(ctx, "/resolve", params)
	case "ens_list":
		return r.get(ctx, "/list", map[string]string{
			"address": stringArg(args, "address", ""),
			"network": stringArg(args, "network", "sepolia"),
		})
	case "ens_verify":
		return r.get(ctx, "/verify", map[string]string{
			"name":    stringArg(args, "name", ""),
			"records": stringArg(args, "records", ""),
			"network": stringArg(args, "network", "sepolia"),
		})
	case "ens_namehash":
		return r.get(ctx, "/namehash", map[string]string{"name": stringArg(args, "name", "")})
	case "ens_labelhash":
		return r.get(ctx, "/labelhash", map[string]string{"label": stringArg(args, "label", "")})
	case "ens_resolver":
		return r.get(ctx, "/resolver", map[string]string{
			"name":    stringArg(args, "name", ""),
			"network": stringArg(args, "network", "sepolia"),
		})
	case "ens_deployments":
		return r.get(ctx, "/deployments", nil)
	case "ens_build_commit_tx":
		return r.post(ctx, "/commit", "ens commit", "commit", map[string]any{
			"label":       stringArg(args, "label", ""),
			"owner":       stringArg(args, "owner", ""),
			"duration":    stringArg(args, "duration", "1y"),
			"set_primary": boolArg(args, "set_primary", true),
			"network":     stringArg(args, "network", "sepolia"),
		})
	case "ens_build_register_tx":
		return r.post(ctx, "/register", "ens register", "register", map[string]any{
			"session_id": stringArg(args, "session_id", ""),
		})
	case "ens_build_set_records_tx":
		body := map[string]any{
			"name":    stringArg(args, "name", ""),
			"network": stringArg(args, "network", "sepolia"),
		}
		if records, ok := recordsArg(args, "text_records"); ok {
			body["text_records"] = records
		}
		if address := stringArg(args, "address", ""); address != "" {
			body["address"] = address
		}
		if resolver := stringArg(args, "resolver", ""); resolver != "" {
			body["resolver"] = resolver
		}
		return r.post(ctx, "/records", "set records", "set_records", body)
	case "ens_build_renew_tx":
		return r.post(ctx, "/renew", "renew", "renew", map[string]any{
			"label":    stringArg(args, "label", ""),
			"duration": stringArg(args, "duration", "1y"),
			"network":  stringArg(args, "network", "sepolia"),
		})
	case "ens_build_transfer_tx":
		return r.post(ctx, "/transfer", "transfer", "transfer", map[string]any{
			"label":   stringArg(args, "label", ""),
			"from":    stringArg(args, "from_addr", ""),
			"to":      stringArg(args, "to_addr", ""),
			"network": stringArg(args, "network", "sepolia"),
		})
	case "ens_build_primary_tx":
		return r.post(ctx, "/primary", "set primary name", "set_primary", map[string]any{
			"name":    stringArg(args, "name", ""),
			"address": stringArg(args, "address", ""),
			"owner":   stringArg(args, "owner", ""),
			"network": stringArg(args, "network", "sepolia"),
		})
	case "ens_build_subname_tx":
		body := map[string]any{
			"label":   stringArg(args, "label", ""),
			"parent":  stringArg(args, "parent", ""),
			"owner":   stringArg(args, "owner", ""),
			"reverse": boolArg(args, "reverse", true),
			"network": stringArg(args, "network", "sepolia"),
		}
		if address := stringArg(args, "address", ""); address != "" {
			body["address"] = address
		}
		return r.post(ctx, "/subname", "subname", "create_subname", body)
	default:
		return "", nil, xerrors.New(xerrors.CodeInvalidArgument,
			fmt.Sprintf("未知的工具: %s", name))
	}
}

// get 执行查询类操作，结果文本原样返回，不会产生签名指令。
func (r *Registry) get(ctx context.Context, path string, params map[string]string) (string, *llm.ClientToolCall, error) {
	text, err := r.worker.Get(ctx, path, params)
	if err != nil {
		return unavailableResult(path, err), nil, nil
	}
	return text, nil, nil
}

// post 执行交易构建类操作，响应经过指令桥判定是否需要客户端签名。
func (r *Registry) post(ctx context.Context, path, operation, operationType string, body map[string]any) (string, *llm.ClientToolCall, error) {
	text, err := r.worker.Post(ctx, path, body)
	if err != nil {
		return unavailableResult(path, err), nil, nil
	}
	directive := bridge.Build(operation, operationType, text)
	if directive == nil {
		return text, nil, nil
	}
	return text, directive.ToolCall(), nil
}

// unavailableResult 把传输层故障包装成执行服务同构的错误载荷。
func unavailableResult(path string, err error) string {
	logger.L().Warn("执行服务请求失败",
		slog.String("path", path),
		slog.String("error", err.Error()),
	)
	payload := map[string]any{
		"ok": false,
		"error": map[string]any{
			"code":    string(xerrors.CodeUpstreamUnavailable),
			"message": "execution service is unreachable, try again later",
		},
	}
	encoded, _ := json.Marshal(payload)
	return string(encoded)
}

func stringArg(args map[string]any, key, fallback string) string {
	value, ok := args[key]
	if !ok || value == nil {
		return fallback
	}
	switch v := value.(type) {
	case string:
		if v == "" {
			return fallback
		}
		return v
	case float64:
		return strconv.FormatFloat(v, 'f', -1, 64)
	case bool:
		return strconv.FormatBool(v)
	default:
		return fallback
	}
}

func boolArg(args map[string]any, key string, fallback bool) bool {
	value, ok := args[key]
	if !ok {
		return fallback
	}
	switch v := value.(type) {
	case bool:
		return v
	case string:
		parsed, err := strconv.ParseBool(v)
		if err != nil {
			return fallback
		}
		return parsed
	default:
		return fallback
	}
}

// recordsArg 接受对象或 JSON 字符串两种形态的文本记录参数。
func recordsArg(args map[string]any, key string) (map[string]any, bool) {
	value, ok := args[key]
	if !ok || value == nil {
		return nil, false
	}
	switch v := value.(type) {
	case map[string]any:
		return v, true
	case string:
		if v == "" {
			return nil, false
		}
		var decoded map[string]any
		if err := json.Unmarshal([]byte(v), &decoded); err != nil {
			return nil, false
		}
		return decoded, true
	default:
		return nil, false
	}
}

var _ llm.ToolExecutor = (*Registry)(nil)
