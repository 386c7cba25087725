package clickhouse

import (
	"testing"
	"time"

	ch "github.com/ClickHouse/clickhouse-go/v2"
)

func TestOptionsFromConfig(t *testing.T) {
	cfg := defaultConfig()
	for _, opt := range []ClientOption{
		WithAddr("ch.internal", 8123),
		WithAuth("pulse", "writer", "secret"),
		WithHTTP(true),
		WithAsyncInsert(true, false),
		WithMaxExecutionTime(30 * time.Second),
	} {
		opt(&cfg)
	}

	o := options(cfg)
	if len(o.Addr) != 1 || o.Addr[0] != "ch.internal:8123" {
		t.Fatalf("addr = %v", o.Addr)
	}
	if o.Protocol != ch.HTTP {
		t.Fatalf("protocol = %v", o.Protocol)
	}
	if o.Auth.Database != "pulse" || o.Auth.Username != "writer" || o.Auth.Password != "secret" {
		t.Fatalf("auth = %+v", o.Auth)
	}
	if o.Settings["max_execution_time"] != 30 || o.Settings["async_insert"] != 1 || o.Settings["wait_for_async_insert"] != 0 {
		t.Fatalf("settings = %v", o.Settings)
	}
}

func TestNativeProtocolWithoutExtras(t *testing.T) {
	o := options(ClientConfig{Host: "localhost", Port: 9000})
	if o.Protocol != ch.Native || len(o.Settings) != 0 {
		t.Fatalf("unexpected options %+v", o)
	}
}

func TestNewClientRequiresHost(t *testing.T) {
	if _, err := NewClient(); err == nil {
		t.Fatalf("expected an error without host")
	}
}
