package main

import (
	"strings"
	"testing"
	"time"
)

func TestParseChatConfig_Defaults(t *testing.T) {
	t.Parallel()

	cfg, err := parseChatConfig(nil, func(string) string { return "" })
	if err != nil {
		t.Fatalf("parse error: %v", err)
	}
	if cfg.BaseURL != defaultBaseURL || cfg.Model != defaultModel || cfg.Mode != "stream" {
		t.Fatalf("cfg=%+v", cfg)
	}
	if cfg.Timeout != defaultTimeout {
		t.Fatalf("timeout=%v, want %v", cfg.Timeout, defaultTimeout)
	}
}

func TestParseChatConfig_APIKeyFromEnv(t *testing.T) {
	t.Parallel()

	getenv := func(name string) string {
		if name == "LOQUI_API_KEY" {
			return "sk-env"
		}
		return ""
	}
	cfg, err := parseChatConfig(nil, getenv)
	if err != nil {
		t.Fatalf("parse error: %v", err)
	}
	if cfg.APIKey != "sk-env" {
		t.Fatalf("api key=%q, want sk-env", cfg.APIKey)
	}

	cfg, err = parseChatConfig([]string{"-api-key", "sk-flag"}, getenv)
	if err != nil {
		t.Fatalf("parse error: %v", err)
	}
	if cfg.APIKey != "sk-flag" {
		t.Fatalf("api key=%q, flag should win over env", cfg.APIKey)
	}
}

func TestParseChatConfig_Rejections(t *testing.T) {
	t.Parallel()

	cases := []struct {
		name string
		args []string
		want string
	}{
		{"bad mode", []string{"-mode", "telnet"}, "mode must be"},
		{"voice without live", []string{"-voice"}, "voice requires"},
		{"empty model", []string{"-model", ""}, "model must not be empty"},
		{"relative base url", []string{"-base-url", "not-a-url"}, "absolute URL"},
		{"credentials in url", []string{"-base-url", "http://user:pw@host"}, "credentials"},
		{"zero timeout", []string{"-timeout", "0s"}, "timeout must be"},
	}
	for _, tc := range cases {
		tc := tc
		t.Run(tc.name, func(t *testing.T) {
			t.Parallel()
			_, err := parseChatConfig(tc.args, func(string) string { return "" })
			if err == nil {
				t.Fatalf("expected error for args %v", tc.args)
			}
			if !strings.Contains(err.Error(), tc.want) {
				t.Fatalf("error=%q, want substring %q", err.Error(), tc.want)
			}
		})
	}
}

func TestParseChatConfig_VoiceWithLive(t *testing.T) {
	t.Parallel()

	cfg, err := parseChatConfig([]string{"-mode", "live", "-voice", "-timeout", "30s"}, func(string) string { return "" })
	if err != nil {
		t.Fatalf("parse error: %v", err)
	}
	if !cfg.Voice || cfg.Mode != "live" || cfg.Timeout != 30*time.Second {
		t.Fatalf("cfg=%+v", cfg)
	}
}
