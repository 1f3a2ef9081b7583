package game

import (
	"crypto/hmac"
	"crypto/rand"
	"crypto/sha256"
	"encoding/binary"
	"encoding/hex"
	"fmt"
	"math"

	"github.com/shopspring/decimal"
)

var (
	MIN_MULTIPLIER = decimal.NewFromInt(1)
	HOUSE_EDGE     = decimal.RequireFromString("0.01")

	maxUint32 = decimal.NewFromInt(math.MaxUint32)
	rCeiling  = decimal.RequireFromString("0.999999")
)

const divisionPrecision = 28

// Oracle produces the commitment for a round and the crash point it implies.
type Oracle interface {
	Commit() (serverSeed, serverSeedHash string, err error)
	CrashPoint(serverSeed, clientSeed string, nonce int64) decimal.Decimal
	// Edge is the house edge CrashPoint applies; it is stored with each round.
	Edge() decimal.Decimal
}

// ProvablyFair is the HMAC-SHA256 commit-reveal oracle.
type ProvablyFair struct {
	HouseEdge decimal.Decimal
}

func NewProvablyFair(houseEdge decimal.Decimal) ProvablyFair {
	return ProvablyFair{HouseEdge: houseEdge}
}

func (p ProvablyFair) Commit() (string, string, error) {
	seed, err := GenerateSeed()
	if err != nil {
		return "", "", err
	}
	return seed, HashCommitment(seed), nil
}

func (p ProvablyFair) Edge() decimal.Decimal {
	return p.HouseEdge
}

func (p ProvablyFair) CrashPoint(serverSeed, clientSeed string, nonce int64) decimal.Decimal {
	return ComputeCrashPoint(serverSeed, clientSeed, nonce, p.HouseEdge)
}

// ComputeCrashPoint derives the crash multiplier for a round. The HMAC is keyed
// by the server seed over "clientSeed:nonce"; its first four bytes, read as a
// little-endian uint32, are scaled into r in [0, 1) and mapped to
// (1 - houseEdge) / (1 - r), floored at 1.00 and rounded half away from zero.
func ComputeCrashPoint(serverSeed, clientSeed string, nonce int64, houseEdge decimal.Decimal) decimal.Decimal {
	h := hmac.New(sha256.New, []byte(serverSeed))
	h.Write([]byte(fmt.Sprintf("%s:%d", clientSeed, nonce)))
	sum := h.Sum(nil)

	value := binary.LittleEndian.Uint32(sum[:4])
	r := decimal.NewFromInt(int64(value)).DivRound(maxUint32, divisionPrecision)
	if r.GreaterThanOrEqual(MIN_MULTIPLIER) {
		r = rCeiling
	}

	multiplier := MIN_MULTIPLIER.Sub(houseEdge).DivRound(MIN_MULTIPLIER.Sub(r), divisionPrecision)
	if multiplier.LessThan(MIN_MULTIPLIER) {
		multiplier = MIN_MULTIPLIER
	}
	return multiplier.Round(2)
}

// LiveMultiplier is the curve value after elapsedSeconds of flight.
func LiveMultiplier(growthRate, elapsedSeconds float64) decimal.Decimal {
	return decimal.NewFromFloat(math.Exp(growthRate * elapsedSeconds)).Round(2)
}

// GenerateSeed creates a cryptographically secure random seed
func GenerateSeed() (string, error) {
	b := make([]byte, 32)
	if _, err := rand.Read(b); err != nil {
		return "", fmt.Errorf("generate seed: %w", err)
	}
	return hex.EncodeToString(b), nil
}

// HashCommitment creates a SHA256 hash of the seed for commitment
func HashCommitment(seed string) string {
	h := sha256.Sum256([]byte(seed))
	return hex.EncodeToString(h[:])
}

// Verification is the outcome of replaying a revealed round.
type Verification struct {
	HashMatches        bool            `json:"hash_matches"`
	ComputedHash       string          `json:"computed_hash"`
	ComputedMultiplier decimal.Decimal `json:"computed_multiplier"`
	MultiplierMatches  bool            `json:"multiplier_matches"`
	Verified           bool            `json:"verified"`
}

// VerifyRound lets anyone check a revealed seed against the published hash and
// the announced crash multiplier. Matching is exact; the multiplier is a pure
// function of its inputs.
func VerifyRound(serverSeed, serverSeedHash, clientSeed string, nonce int64, houseEdge, claimedMultiplier decimal.Decimal) Verification {
	v := Verification{
		ComputedHash:       HashCommitment(serverSeed),
		ComputedMultiplier: ComputeCrashPoint(serverSeed, clientSeed, nonce, houseEdge),
	}
	v.HashMatches = v.ComputedHash == serverSeedHash
	v.MultiplierMatches = v.ComputedMultiplier.Equal(claimedMultiplier)
	v.Verified = v.HashMatches && v.MultiplierMatches
	return v
}
