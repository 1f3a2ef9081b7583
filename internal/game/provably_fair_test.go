package game

import (
	"strings"
	"testing"

	"github.com/shopspring/decimal"
)

func TestComputeCrashPoint(t *testing.T) {
	tests := []struct {
		name       string
		serverSeed string
		clientSeed string
		nonce      int64
		houseEdge  string
		want       string
	}{
		{"first nonce", "a3f1c2", "lotterybig", 1, "0.01", "2.70"},
		{"second nonce", "a3f1c2", "lotterybig", 2, "0.01", "4.41"},
		{"low draw", "deterministic_test_seed", "lotterybig", 42, "0.01", "1.07"},
		{"other client seed", "server", "client", 7, "0.01", "1.17"},
		{"floored at one", "deterministic_test_seed", "lotterybig", 42, "0.5", "1"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := ComputeCrashPoint(tt.serverSeed, tt.clientSeed, tt.nonce, decimal.RequireFromString(tt.houseEdge))
			if !got.Equal(decimal.RequireFromString(tt.want)) {
				t.Errorf("ComputeCrashPoint() = %s, want %s", got, tt.want)
			}
		})
	}
}

func TestComputeCrashPoint_Deterministic(t *testing.T) {
	seed, _, err := NewProvablyFair(HOUSE_EDGE).Commit()
	if err != nil {
		t.Fatalf("Commit() error = %v", err)
	}

	first := ComputeCrashPoint(seed, CLIENT_SEED, 99, HOUSE_EDGE)
	for i := 0; i < 5; i++ {
		if got := ComputeCrashPoint(seed, CLIENT_SEED, 99, HOUSE_EDGE); !got.Equal(first) {
			t.Fatalf("ComputeCrashPoint() not deterministic: %s then %s", first, got)
		}
	}
}

func TestComputeCrashPoint_Bounds(t *testing.T) {
	for nonce := int64(1); nonce <= 2000; nonce++ {
		got := ComputeCrashPoint("bounds-seed", CLIENT_SEED, nonce, HOUSE_EDGE)
		if got.LessThan(MIN_MULTIPLIER) {
			t.Fatalf("nonce %d: multiplier %s below 1.00", nonce, got)
		}
		if got.Exponent() < -2 {
			t.Fatalf("nonce %d: multiplier %s has more than two decimals", nonce, got)
		}
	}
}

func TestGenerateSeed(t *testing.T) {
	seeds := make(map[string]bool)
	for i := 0; i < 100; i++ {
		seed, err := GenerateSeed()
		if err != nil {
			t.Fatalf("GenerateSeed() error = %v", err)
		}
		if len(seed) != 64 {
			t.Errorf("GenerateSeed() length = %d, want 64", len(seed))
		}
		if seeds[seed] {
			t.Fatalf("GenerateSeed() produced a duplicate seed: %s", seed)
		}
		seeds[seed] = true
	}
}

func TestHashCommitment(t *testing.T) {
	got := HashCommitment("a3f1c2")
	want := "f62b4ad8da9b90f082128995db48ae263d5a5fefe98f35d8a0b8a3ff317681dd"
	if got != want {
		t.Errorf("HashCommitment() = %s, want %s", got, want)
	}
	if HashCommitment("a3f1c3") == got {
		t.Error("HashCommitment() collided for different seeds")
	}
}

func TestProvablyFair_CommitMatchesHash(t *testing.T) {
	oracle := NewProvablyFair(HOUSE_EDGE)
	seed, hash, err := oracle.Commit()
	if err != nil {
		t.Fatalf("Commit() error = %v", err)
	}
	if HashCommitment(seed) != hash {
		t.Errorf("Commit() hash does not match its seed")
	}
	if strings.Contains(hash, seed) {
		t.Errorf("Commit() hash leaks the seed")
	}
}

func TestVerifyRound(t *testing.T) {
	seed := "a3f1c2"
	hash := HashCommitment(seed)
	crash := ComputeCrashPoint(seed, CLIENT_SEED, 1, HOUSE_EDGE)

	tests := []struct {
		name         string
		seed         string
		hash         string
		claimed      decimal.Decimal
		wantHash     bool
		wantMult     bool
		wantVerified bool
	}{
		{"honest round", seed, hash, crash, true, true, true},
		{"swapped seed", "b4e2d3", hash, crash, false, false, false},
		{"tampered multiplier", seed, hash, crash.Add(decimal.RequireFromString("0.01")), true, false, false},
		{"wrong published hash", seed, HashCommitment("other"), crash, false, true, false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			v := VerifyRound(tt.seed, tt.hash, CLIENT_SEED, 1, HOUSE_EDGE, tt.claimed)
			if v.HashMatches != tt.wantHash {
				t.Errorf("HashMatches = %v, want %v", v.HashMatches, tt.wantHash)
			}
			if v.MultiplierMatches != tt.wantMult {
				t.Errorf("MultiplierMatches = %v, want %v", v.MultiplierMatches, tt.wantMult)
			}
			if v.Verified != tt.wantVerified {
				t.Errorf("Verified = %v, want %v", v.Verified, tt.wantVerified)
			}
		})
	}
}

func TestLiveMultiplier(t *testing.T) {
	tests := []struct {
		elapsed float64
		want    string
	}{
		{0, "1.00"},
		{1, "1.13"},
		{5.776, "2.00"},
		{10, "3.32"},
	}

	for _, tt := range tests {
		got := LiveMultiplier(GROWTH_RATE, tt.elapsed)
		if !got.Equal(decimal.RequireFromString(tt.want)) {
			t.Errorf("LiveMultiplier(%v) = %s, want %s", tt.elapsed, got, tt.want)
		}
	}
}
