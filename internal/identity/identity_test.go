package identity

import "testing"

func TestEmail(t *testing.T) {
	tests := []struct {
		raw  string
		want string
	}{
		{"  Alice@Example.COM ", "alice@example.com"},
		{"bob@example.com\x00", "bob@example.com"},
		{"\x00 \t", ""},
		{"", ""},
	}
	for _, tt := range tests {
		if got := Email(tt.raw); got != tt.want {
			t.Errorf("Email(%q) = %q, want %q", tt.raw, got, tt.want)
		}
	}
}

func TestAccount(t *testing.T) {
	tests := []struct {
		raw  string
		want int64
	}{
		{"12345678", 12345678},
		{" 1234-5678 ", 12345678},
		{"acc#99\x00", 99},
		{"0", 0},
		{"000", 0},
		{"abc", 0},
		{"", 0},
		{"99999999999999999999999", 0},
	}
	for _, tt := range tests {
		if got := Account(tt.raw); got != tt.want {
			t.Errorf("Account(%q) = %d, want %d", tt.raw, got, tt.want)
		}
	}
}

func TestServer(t *testing.T) {
	if got := Server("  BrokerA-Live01\x00 "); got != "BrokerA-Live01" {
		t.Errorf("Server = %q, want %q", got, "BrokerA-Live01")
	}
}

func TestEnvironmentOf(t *testing.T) {
	tests := []struct {
		server string
		want   Environment
	}{
		{"BrokerA-Demo", EnvDemo},
		{"brokera-DEMO2", EnvDemo},
		{"BrokerA-Live01", EnvLive},
		{"BrokerA-Server3", EnvUnknown},
		{"LiveDemo", EnvDemo},
		{"", EnvUnknown},
	}
	for _, tt := range tests {
		if got := EnvironmentOf(tt.server); got != tt.want {
			t.Errorf("EnvironmentOf(%q) = %q, want %q", tt.server, got, tt.want)
		}
	}
	if !IsDemo("XMTrading-DEMO 3") {
		t.Error("expected IsDemo to match case-insensitively")
	}
	if IsDemo("XMTrading-Real 3") {
		t.Error("expected IsDemo = false for real server")
	}
}

func TestBroker(t *testing.T) {
	tests := []struct {
		server string
		want   string
	}{
		{"BrokerA-Live01", "BrokerA"},
		{"BrokerA-Live-01", "BrokerA"},
		{"BrokerA", "BrokerA"},
		{"-Live01", ""},
		{"", ""},
	}
	for _, tt := range tests {
		if got := Broker(tt.server); got != tt.want {
			t.Errorf("Broker(%q) = %q, want %q", tt.server, got, tt.want)
		}
	}
}

func TestSameEnvironmentAndBroker(t *testing.T) {
	tests := []struct {
		name        string
		bound       string
		current     string
		boundBroker string
		want        bool
	}{
		{"same broker other live server", "BrokerA-Live01", "BrokerA-Live02", "", true},
		{"different broker", "BrokerA-Live01", "BrokerB-Live01", "", false},
		{"live vs demo", "BrokerA-Live01", "BrokerA-Demo01", "", false},
		{"unknown environment matches", "BrokerA-Server1", "BrokerA-Demo01", "", true},
		{"explicit broker wins", "Other-Live01", "BrokerA-Live02", "BrokerA", true},
		{"explicit broker mismatch", "BrokerA-Live01", "BrokerA-Live02", "BrokerZ", false},
		{"empty current broker never blocks", "BrokerA-Live01", "-Live02", "", true},
		{"empty bound never blocks", "", "BrokerB-Live01", "", true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := SameEnvironmentAndBroker(tt.bound, tt.current, tt.boundBroker)
			if got != tt.want {
				t.Errorf("SameEnvironmentAndBroker(%q, %q, %q) = %v, want %v",
					tt.bound, tt.current, tt.boundBroker, got, tt.want)
			}
		})
	}
}
