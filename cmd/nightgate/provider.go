package main

import (
	"context"
	"fmt"
	"net/http"

	"github.com/nightgate/nightgate/internal/config"
	"github.com/nightgate/nightgate/internal/oracle"
)

// buildOracle wires the configured reasoning backend behind the evaluator.
// All backends share the pinned-resolver HTTP client so the oracle stays
// reachable while the portal's own DNS hijack is active. The daytime chat
// persona may run on a cheaper model via protocol.daychat_model.
func buildOracle(ctx context.Context, cfg *config.Config) (oracle.Oracle, error) {
	if cfg.Oracle.APIKey == "" {
		return nil, fmt.Errorf("no API key configured for oracle provider %q", cfg.Oracle.Provider)
	}

	requestTimeout, err := config.DurationOrDefault(cfg.Oracle.RequestTimeout, config.DefaultOracleRequestTimeout)
	if err != nil {
		return nil, fmt.Errorf("parse oracle request timeout: %w", err)
	}
	cacheTTL, err := config.DurationOrDefault(cfg.Oracle.DNS.CacheTTL, config.DefaultOracleDNSCacheTTL)
	if err != nil {
		return nil, fmt.Errorf("parse oracle DNS cache TTL: %w", err)
	}

	httpClient := oracle.NewHTTPClient(oracle.TransportConfig{
		DNSServer: cfg.Oracle.DNS.Server,
		CacheTTL:  cacheTTL,
		GatewayIP: cfg.Firewall.GatewayIP,
		Timeout:   requestTimeout,
	})

	backend, err := buildBackend(ctx, cfg, cfg.Oracle.Model, httpClient)
	if err != nil {
		return nil, err
	}
	evaluator := oracle.NewEvaluator(backend)

	if model := cfg.Protocol.DayChatModel; model != "" && model != cfg.Oracle.Model {
		chatBackend, err := buildBackend(ctx, cfg, model, httpClient)
		if err != nil {
			return nil, fmt.Errorf("init daychat backend: %w", err)
		}
		evaluator = evaluator.WithChatBackend(chatBackend)
	}

	return evaluator, nil
}

func buildBackend(ctx context.Context, cfg *config.Config, model string, httpClient *http.Client) (oracle.Backend, error) {
	switch cfg.Oracle.Provider {
	case "openai":
		return oracle.NewOpenAIBackend(cfg.Oracle.APIKey, model, httpClient), nil
	case "anthropic":
		return oracle.NewAnthropicBackend(cfg.Oracle.APIKey, model, httpClient), nil
	case "gemini":
		backend, err := oracle.NewGeminiBackend(ctx, cfg.Oracle.APIKey, model, httpClient)
		if err != nil {
			return nil, fmt.Errorf("init gemini backend: %w", err)
		}
		return backend, nil
	default:
		return nil, fmt.Errorf("unknown oracle provider %q", cfg.Oracle.Provider)
	}
}
