package notify

import "testing"

func TestNewRedisSinkRequiresAddr(t *testing.T) {
	if _, err := NewRedisSink(RedisSinkConfig{}); err == nil {
		t.Fatal("expected error for missing addr")
	}
	if _, err := NewRedisSink(RedisSinkConfig{Addrs: []string{"  ", ""}}); err == nil {
		t.Fatal("expected error for blank addrs")
	}
}

func TestNewRedisSinkDefaults(t *testing.T) {
	sink, err := NewRedisSink(RedisSinkConfig{Addr: "localhost:6379"})
	if err != nil {
		t.Fatalf("new sink: %v", err)
	}
	defer sink.Close()
	if sink.stream != "streamcast:events" {
		t.Fatalf("stream = %q", sink.stream)
	}
	if sink.maxLen != 10000 {
		t.Fatalf("maxLen = %d", sink.maxLen)
	}
	if sink.Name() != "redis" {
		t.Fatalf("name = %q", sink.Name())
	}
}

func TestBuildRedisTLSConfig(t *testing.T) {
	cfg, err := buildRedisTLSConfig(RedisTLSConfig{})
	if err != nil || cfg != nil {
		t.Fatalf("expected nil config for empty input, got %v, %v", cfg, err)
	}
	cfg, err = buildRedisTLSConfig(RedisTLSConfig{InsecureSkipVerify: true, ServerName: "redis.internal"})
	if err != nil {
		t.Fatalf("build: %v", err)
	}
	if !cfg.InsecureSkipVerify || cfg.ServerName != "redis.internal" {
		t.Fatalf("config = %+v", cfg)
	}
	if _, err := buildRedisTLSConfig(RedisTLSConfig{CAFile: "/nonexistent/ca.pem"}); err == nil {
		t.Fatal("expected error for missing ca file")
	}
}
