package main

import (
	"fmt"

	"github.com/shopspring/decimal"
	"github.com/spf13/cobra"

	"crashgame/internal/game"
)

func VerifyCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "verify",
		Short: "Recompute a round's crash multiplier from its revealed seed",
		Args:  cobra.NoArgs,
		RunE:  verifyRound,
	}
	addVerifyFlags(cmd)
	return cmd
}

func addVerifyFlags(cmd *cobra.Command) {
	cmd.Flags().String("server-seed", "", "revealed server seed")
	cmd.MarkFlagRequired("server-seed")

	cmd.Flags().Int64("nonce", 0, "round nonce")
	cmd.MarkFlagRequired("nonce")

	cmd.Flags().String("client-seed", game.CLIENT_SEED, "client seed")
	cmd.Flags().String("hash", "", "seed hash published before the round")
	cmd.Flags().String("multiplier", "", "crash multiplier announced for the round")
	cmd.Flags().String("house-edge", game.HOUSE_EDGE.String(), "house edge as a fraction")
}

func verifyRound(cmd *cobra.Command, args []string) error {
	serverSeed, _ := cmd.Flags().GetString("server-seed")
	clientSeed, _ := cmd.Flags().GetString("client-seed")
	nonce, _ := cmd.Flags().GetInt64("nonce")
	hash, _ := cmd.Flags().GetString("hash")
	claimed, _ := cmd.Flags().GetString("multiplier")
	edge, _ := cmd.Flags().GetString("house-edge")

	houseEdge, err := decimal.NewFromString(edge)
	if err != nil {
		return fmt.Errorf("invalid house edge %q: %w", edge, err)
	}

	out := cmd.OutOrStdout()
	computedHash := game.HashCommitment(serverSeed)
	multiplier := game.ComputeCrashPoint(serverSeed, clientSeed, nonce, houseEdge)
	fmt.Fprintf(out, "%-20s%s\n", "seed hash:", computedHash)
	fmt.Fprintf(out, "%-20s%s\n", "crash multiplier:", multiplier.StringFixed(2))

	if hash == "" && claimed == "" {
		return nil
	}

	claimedMultiplier := multiplier
	if claimed != "" {
		if claimedMultiplier, err = decimal.NewFromString(claimed); err != nil {
			return fmt.Errorf("invalid multiplier %q: %w", claimed, err)
		}
	}
	if hash == "" {
		hash = computedHash
	}

	v := game.VerifyRound(serverSeed, hash, clientSeed, nonce, houseEdge, claimedMultiplier)
	fmt.Fprintf(out, "%-20s%t\n", "hash matches:", v.HashMatches)
	fmt.Fprintf(out, "%-20s%t\n", "multiplier matches:", v.MultiplierMatches)
	if !v.Verified {
		return fmt.Errorf("round does not verify")
	}
	fmt.Fprintln(out, "verified")
	return nil
}
