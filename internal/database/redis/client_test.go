package redis

import (
	"testing"
	"time"

	"github.com/bardlex/oreminer/internal/events"
)

func TestKeys(t *testing.T) {
	if got := StatusKey("abc"); got != "miner:abc:status" {
		t.Errorf("StatusKey() = %s", got)
	}
	if got := EventsChannel("abc"); got != "miner:abc:events" {
		t.Errorf("EventsChannel() = %s", got)
	}
	if got := hashrateKey("abc"); got != "miner:abc:hashrate" {
		t.Errorf("hashrateKey() = %s", got)
	}
	if got := submissionsKey("abc"); got != "miner:abc:submissions" {
		t.Errorf("submissionsKey() = %s", got)
	}
}

func TestConfigFromURL(t *testing.T) {
	cfg, err := ConfigFromURL("redis://:secret@cache:6380/2")
	if err != nil {
		t.Fatalf("ConfigFromURL() error = %v", err)
	}
	if cfg.Addr != "cache:6380" || cfg.Password != "secret" || cfg.DB != 2 {
		t.Errorf("ConfigFromURL() = %+v", cfg)
	}
	if cfg.PoolSize == 0 || cfg.DialTimeout == 0 {
		t.Error("expected default pool settings")
	}

	if _, err := ConfigFromURL("http://nope"); err == nil {
		t.Error("expected error for non-redis URL")
	}
}

func TestParseSample(t *testing.T) {
	tests := []struct {
		member string
		want   float64
		ok     bool
	}{
		{"1700000000000000000:1250.500000", 1250.5, true},
		{"1:0.000000", 0, true},
		{"no-separator", 0, false},
		{"1:abc", 0, false},
	}

	for _, tt := range tests {
		t.Run(tt.member, func(t *testing.T) {
			got, ok := parseSample(tt.member)
			if ok != tt.ok || got != tt.want {
				t.Errorf("parseSample(%q) = %v, %v; want %v, %v", tt.member, got, ok, tt.want, tt.ok)
			}
		})
	}
}

func TestAverageSamples(t *testing.T) {
	if got := averageSamples(nil); got != 0 {
		t.Errorf("averageSamples(nil) = %v", got)
	}

	got := averageSamples([]string{"1:100.000000", "2:300.000000", "garbage"})
	if got != 200 {
		t.Errorf("averageSamples() = %v, want 200", got)
	}
}

func TestStatusFields(t *testing.T) {
	now := time.Unix(1_700_000_000, 0)

	tests := []struct {
		name  string
		event events.Event
		key   string
		want  any
	}{
		{"phase", events.Event{Kind: events.KindPhase, Phase: "searching"}, "phase", "searching"},
		{"status", events.Event{Kind: events.KindStatus, Message: "Mining"}, "status", "Mining"},
		{"searching", events.Event{Kind: events.KindSearching, Searching: true}, "searching", "true"},
		{"progress", events.Event{Kind: events.KindProgress, Attempts: 5000, Hashrate: 12.5}, "hashrate", 12.5},
		{"submitted", events.Event{Kind: events.KindSubmitted, Signature: "sig", Bus: 4}, "last_bus", 4},
		{"failed", events.Event{Kind: events.KindFailed, Error: "boom"}, "last_error", "boom"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			tt.event.Time = now
			fields := StatusFields(tt.event)
			if fields[tt.key] != tt.want {
				t.Errorf("fields[%s] = %v, want %v", tt.key, fields[tt.key], tt.want)
			}
			if fields["updated_at"] != now.Unix() {
				t.Errorf("updated_at = %v", fields["updated_at"])
			}
		})
	}

	if fields := StatusFields(events.Event{Kind: events.KindSolution}); fields != nil {
		t.Errorf("expected no status fields for solution, got %v", fields)
	}
}

func TestSink_Defaults(t *testing.T) {
	sink := NewSink(nil, 0)
	if sink.Name() != "redis" {
		t.Errorf("Name() = %s", sink.Name())
	}
	if sink.window != 5*time.Minute {
		t.Errorf("window = %v", sink.window)
	}
}
