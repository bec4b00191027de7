package submit

import (
	"context"
	"testing"
	"time"

	"github.com/bardlex/oreminer/internal/ledger"
	"github.com/bardlex/oreminer/internal/ledger/ledgertest"
	"github.com/bardlex/oreminer/pkg/errors"
	"github.com/bardlex/oreminer/pkg/log"
	"github.com/bardlex/oreminer/pkg/retry"
)

var testSigner = ledger.StaticSigner{1, 2, 3}

func testResponse() ledger.MineResponse {
	return ledger.MineResponse{Hash: ledger.Hash{0xab}, Nonce: 42}
}

func mineBuses(sent []ledger.Instruction) []int {
	var buses []int
	for _, ix := range sent {
		if ix.Kind == ledger.InstructionMine {
			buses = append(buses, ix.Bus)
		}
	}
	return buses
}

func TestSubmit_FirstAttempt(t *testing.T) {
	gw := ledgertest.NewMockGateway()
	s := New(gw, testSigner, Config{}, log.Discard())

	id, err := s.Submit(context.Background(), testResponse())
	if err != nil {
		t.Fatalf("Submit() error = %v", err)
	}
	if id[0] != 1 {
		t.Errorf("Submit() id = %v, want the first signature", id)
	}

	sent := gw.Sent()
	if len(sent) != 1 {
		t.Fatalf("sent %d instructions, want 1", len(sent))
	}
	ix := sent[0]
	if ix.Kind != ledger.InstructionMine || ix.Bus != 0 || ix.Nonce != 42 || ix.Hash != testResponse().Hash {
		t.Errorf("unexpected mine instruction %+v", ix)
	}
	if ix.Signer != testSigner.PublicKey() {
		t.Errorf("mine signer = %s, want %s", ix.Signer, testSigner.PublicKey())
	}
}

func TestSubmit_BusRotation(t *testing.T) {
	gw := ledgertest.NewMockGateway()
	// ten rejections before success: buses 0..7, then 0, 1, then success on 2
	for range 10 {
		gw.SendErrs = append(gw.SendErrs, ledgertest.ErrRejected)
	}

	var retries []int
	s := New(gw, testSigner, Config{
		OnRetry: func(bus, _ int, err error) {
			if !errors.IsType(err, errors.ErrorTypeContention) {
				t.Errorf("retry error is not contention: %v", err)
			}
			retries = append(retries, bus)
		},
	}, log.Discard())

	res, err := s.SubmitWithResult(context.Background(), testResponse())
	if err != nil {
		t.Fatalf("SubmitWithResult() error = %v", err)
	}

	want := []int{0, 1, 2, 3, 4, 5, 6, 7, 0, 1, 2}
	got := mineBuses(gw.Sent())
	if len(got) != len(want) {
		t.Fatalf("mine buses = %v, want %v", got, want)
	}
	for i := range want {
		if got[i] != want[i] {
			t.Errorf("attempt %d bus = %d, want %d", i+1, got[i], want[i])
		}
	}

	if res.Attempts != 11 || res.Bus != 2 {
		t.Errorf("result attempts=%d bus=%d, want 11 and 2", res.Attempts, res.Bus)
	}
	if len(retries) != 10 {
		t.Errorf("OnRetry called %d times, want 10", len(retries))
	}
}

func TestSubmit_RechecksEpochEveryPass(t *testing.T) {
	gw := ledgertest.NewMockGateway()
	gw.SendErrs = []error{ledgertest.ErrRejected, ledgertest.ErrRejected}

	s := New(gw, testSigner, Config{}, log.Discard())
	if _, err := s.Submit(context.Background(), testResponse()); err != nil {
		t.Fatalf("Submit() error = %v", err)
	}

	counts := map[string]int{}
	for _, m := range gw.Methods() {
		counts[m]++
	}
	if counts["GetTreasury"] != 3 || counts["GetClock"] != 3 {
		t.Errorf("reads treasury=%d clock=%d, want 3 each", counts["GetTreasury"], counts["GetClock"])
	}
}

func TestSubmit_EpochReset(t *testing.T) {
	tests := []struct {
		name      string
		clock     int64
		wantReset bool
	}{
		{"epoch still open", 1500, false},
		{"one second before end", 1599, false},
		{"exactly at end", 1600, true},
		{"epoch expired", 1650, true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			gw := ledgertest.NewMockGateway()
			gw.Treasury.EpochStartAt = 1000
			gw.Clocks = []int64{tt.clock}

			resets := 0
			s := New(gw, testSigner, Config{
				EpochDuration: 600,
				OnEpochReset:  func(ledger.TransactionID) { resets++ },
			}, log.Discard())

			res, err := s.SubmitWithResult(context.Background(), testResponse())
			if err != nil {
				t.Fatalf("SubmitWithResult() error = %v", err)
			}

			sent := gw.Sent()
			if tt.wantReset {
				if len(sent) != 2 || sent[0].Kind != ledger.InstructionReset || sent[1].Kind != ledger.InstructionMine {
					t.Fatalf("expected reset before mine, got %+v", sent)
				}
				if resets != 1 || res.Resets != 1 {
					t.Errorf("resets hook=%d result=%d, want 1", resets, res.Resets)
				}
			} else {
				if len(sent) != 1 || sent[0].Kind != ledger.InstructionMine {
					t.Fatalf("expected a single mine instruction, got %+v", sent)
				}
				if resets != 0 {
					t.Errorf("unexpected reset hook call")
				}
			}
		})
	}
}

func TestSubmit_EpochResetFailureAborts(t *testing.T) {
	gw := ledgertest.NewMockGateway()
	gw.Treasury.EpochStartAt = 1000
	gw.Clocks = []int64{1650}
	gw.ResetErr = ledgertest.ErrRejected

	s := New(gw, testSigner, Config{EpochDuration: 600}, log.Discard())
	_, err := s.Submit(context.Background(), testResponse())
	if err == nil {
		t.Fatal("expected error")
	}
	if !errors.IsType(err, errors.ErrorTypeEpochReset) {
		t.Errorf("expected epoch reset error, got %v", err)
	}
	if got := mineBuses(gw.Sent()); len(got) != 0 {
		t.Errorf("mine sent after failed reset: buses %v", got)
	}
}

func TestSubmit_ReadFailurePropagates(t *testing.T) {
	tests := []struct {
		name  string
		setup func(*ledgertest.MockGateway)
	}{
		{"treasury", func(g *ledgertest.MockGateway) { g.TreasuryErr = ledgertest.ErrRejected }},
		{"clock", func(g *ledgertest.MockGateway) { g.ClockErr = ledgertest.ErrRejected }},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			gw := ledgertest.NewMockGateway()
			tt.setup(gw)

			s := New(gw, testSigner, Config{}, log.Discard())
			_, err := s.Submit(context.Background(), testResponse())
			if !errors.IsType(err, errors.ErrorTypeGateway) {
				t.Errorf("expected gateway error, got %v", err)
			}
			if len(gw.Sent()) != 0 {
				t.Error("no transaction should be sent after a failed read")
			}
		})
	}
}

func TestSubmit_PolicyMaxAttempts(t *testing.T) {
	gw := ledgertest.NewMockGateway()
	for range 5 {
		gw.SendErrs = append(gw.SendErrs, ledgertest.ErrRejected)
	}

	s := New(gw, testSigner, Config{Policy: &retry.Config{MaxAttempts: 3}}, log.Discard())
	_, err := s.Submit(context.Background(), testResponse())
	if err == nil {
		t.Fatal("expected error after exhausting attempts")
	}
	if !errors.IsType(err, errors.ErrorTypeGateway) || !errors.IsType(err, errors.ErrorTypeContention) {
		t.Errorf("expected gateway error caused by contention, got %v", err)
	}
	if got := mineBuses(gw.Sent()); len(got) != 3 {
		t.Errorf("mine attempts = %d, want 3", len(got))
	}
}

func TestSubmit_Backoff(t *testing.T) {
	gw := ledgertest.NewMockGateway()
	gw.SendErrs = []error{ledgertest.ErrRejected, ledgertest.ErrRejected}

	policy := &retry.Config{BaseDelay: 20 * time.Millisecond, Multiplier: 1}
	s := New(gw, testSigner, Config{Policy: policy}, log.Discard())

	start := time.Now()
	if _, err := s.Submit(context.Background(), testResponse()); err != nil {
		t.Fatalf("Submit() error = %v", err)
	}
	if elapsed := time.Since(start); elapsed < 40*time.Millisecond {
		t.Errorf("Submit() returned after %v, want at least two delays", elapsed)
	}
}

func TestSubmit_ContextCancelled(t *testing.T) {
	gw := ledgertest.NewMockGateway()
	for range 1000 {
		gw.SendErrs = append(gw.SendErrs, ledgertest.ErrRejected)
	}

	ctx, cancel := context.WithCancel(context.Background())
	s := New(gw, testSigner, Config{
		OnRetry: func(_, attempt int, _ error) {
			if attempt == 5 {
				cancel()
			}
		},
	}, log.Discard())

	_, err := s.Submit(ctx, testResponse())
	if !errors.Is(err, context.Canceled) {
		t.Errorf("Submit() error = %v, want context.Canceled", err)
	}
	if got := len(mineBuses(gw.Sent())); got != 5 {
		t.Errorf("mine attempts = %d, want 5", got)
	}
}
