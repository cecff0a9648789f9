// main.go - End-to-end demo of the shielded pool
//
// Runs the full protocol against real Groth16 material: trusted setup,
// deposits, a proven withdrawal, the rejections that keep the pool sound,
// and a snapshot round trip.
package main

import (
	"errors"
	"fmt"
	"os"

	"github.com/ethereum/go-ethereum/common"
	"github.com/rs/zerolog"

	"veilpool/internal/nullifier"
	"veilpool/internal/policy"
	"veilpool/internal/pool"
	"veilpool/internal/snark/snarktest"
	"veilpool/internal/vperrors"
)

const (
	demoDepth        = 8
	demoHistory      = 16
	demoDenomination = 1_000_000
)

var (
	demoAuthority = common.HexToAddress("0x00000000000000000000000000000000000a117e")
	demoRelayer   = common.HexToAddress("0x0000000000000000000000000000000000e1a7e5")
	demoRecipient = common.HexToHash("0x000000000000000000000000000000000000000000000000000000000000beef")
)

func main() {
	fmt.Println("=== Shielded Pool Demo ===")

	log := zerolog.New(zerolog.ConsoleWriter{Out: os.Stderr}).Level(zerolog.WarnLevel)

	// Step 1: Trusted setup
	fmt.Println("\n1. Compiling the withdrawal circuit and running the Groth16 setup...")
	fixture, err := snarktest.Setup(demoDepth)
	if err != nil {
		panic(fmt.Errorf("trusted setup failed: %w", err))
	}
	fmt.Printf("Circuit compiled: %d constraints, %d public inputs\n",
		fixture.CCS.GetNbConstraints(), fixture.WireVK.NPublic)

	// Step 2: Pool creation and one-time initialization
	fmt.Println("\n2. Creating and initializing the pool...")
	registry := nullifier.NewMemoryRegistry()
	cfg := pool.Config{
		TreeDepth:        demoDepth,
		HistoryCapacity:  demoHistory,
		ConsistencyCheck: true,
	}
	p, err := pool.New(cfg, nil, registry, log)
	if err != nil {
		panic(fmt.Errorf("pool construction failed: %w", err))
	}
	err = p.Initialize(pool.InitParams{
		Authority:     demoAuthority,
		DepositAmount: demoDenomination,
		Fees:          policy.FeeSchedule{PercentageFeeBps: policy.DefaultPercentageFeeBps},
		WithdrawVK:    fixture.WireVK,
	})
	if err != nil {
		panic(fmt.Errorf("pool initialization failed: %w", err))
	}
	fmt.Printf("Pool initialized: denomination %d, fee cap %d bps, authority %s\n",
		demoDenomination, policy.DefaultPercentageFeeBps, demoAuthority)

	// Step 3: Deposits, mirrored into a path-tracking tree so we can prove later
	fmt.Println("\n3. Depositing commitments...")
	mirror, err := snarktest.NewPathTree(demoDepth)
	if err != nil {
		panic(err)
	}
	deposits := make([]*snarktest.Deposit, 3)
	for i := range deposits {
		dep, err := snarktest.NewDeposit()
		if err != nil {
			panic(fmt.Errorf("deposit secrets failed: %w", err))
		}
		deposits[i] = dep

		receipt, err := p.Deposit(dep.Commitment)
		if err != nil {
			panic(fmt.Errorf("deposit failed: %w", err))
		}
		if _, _, err := mirror.Insert(dep.Commitment); err != nil {
			panic(err)
		}
		fmt.Printf("  leaf %d: commitment %x..., root %x..., history slot %d\n",
			receipt.LeafIndex, dep.Commitment[:6], receipt.Root[:6], receipt.HistorySlot)
	}
	if mirror.Root() != p.Root() {
		panic(fmt.Errorf("mirror root %x diverges from pool root %x", mirror.Root(), p.Root()))
	}
	fmt.Println("Mirror tree agrees with the pool root")

	// Step 4: Prove membership of deposit #1
	fmt.Println("\n4. Proving a withdrawal for leaf 1...")
	spent := deposits[1]
	nullifierHash, err := spent.NullifierHash()
	if err != nil {
		panic(err)
	}
	elements, indices, err := mirror.Path(1)
	if err != nil {
		panic(fmt.Errorf("merkle path failed: %w", err))
	}
	const fee = 2_500
	proof, _, err := fixture.Prove(snarktest.Witness{
		Root:          p.Root(),
		NullifierHash: nullifierHash,
		Recipient:     demoRecipient,
		Fee:           fee,
		Refund:        0,
		Nullifier:     spent.Nullifier,
		Secret:        spent.Secret,
		PathElements:  elements,
		PathIndices:   indices,
	})
	if err != nil {
		panic(fmt.Errorf("proving failed: %w", err))
	}
	fmt.Printf("Proof generated for nullifier hash %x...\n", nullifierHash[:6])

	// Step 5: Withdraw
	fmt.Println("\n5. Withdrawing with the real proof...")
	req := pool.WithdrawRequest{
		Root:          p.Root(),
		NullifierHash: nullifierHash,
		Recipient:     demoRecipient,
		Relayer:       demoRelayer,
		Amount:        demoDenomination,
		Fee:           fee,
		Refund:        0,
		Proof:         proof,
	}
	receipt, err := p.Withdraw(req)
	if err != nil {
		panic(fmt.Errorf("withdrawal failed: %w", err))
	}
	fmt.Printf("✅ Withdrawal settled: %d to recipient, %d to relayer\n",
		receipt.RecipientAmount, receipt.RelayerFee)
	fmt.Printf("   gate trace: %v\n", receipt.Trace)

	// Step 6: The protections, one by one
	fmt.Println("\n6. Replaying the same nullifier...")
	if _, err := p.Withdraw(req); err != nil {
		fmt.Printf("❌ Rejected as expected: %s (%v)\n", vperrors.Name(err), err)
	} else {
		panic(errors.New("double spend was not rejected"))
	}

	fmt.Println("\n7. Trying a fee above the policy cap...")
	greedy := req
	greedy.Fee = demoDenomination / 10
	if _, err := p.Withdraw(greedy); err != nil {
		fmt.Printf("❌ Rejected as expected: %s (no pairing work was done)\n", vperrors.Name(err))
	} else {
		panic(errors.New("excessive fee was not rejected"))
	}

	fmt.Println("\n8. Pausing withdrawals...")
	if err := p.SetPaused(demoAuthority, true); err != nil {
		panic(err)
	}
	if _, err := p.Withdraw(req); err != nil {
		fmt.Printf("❌ Rejected as expected: %s\n", vperrors.Name(err))
	} else {
		panic(errors.New("paused pool accepted a withdrawal"))
	}
	if err := p.SetPaused(demoAuthority, false); err != nil {
		panic(err)
	}

	// Step 9: Snapshot round trip, then withdraw on the restored pool
	fmt.Println("\n9. Snapshot round trip...")
	const snapshotPath = "demo_state.json"
	if err := p.SaveState(snapshotPath); err != nil {
		panic(fmt.Errorf("snapshot save failed: %w", err))
	}
	restored, err := pool.New(cfg, nil, registry, log)
	if err != nil {
		panic(err)
	}
	if err := restored.LoadState(snapshotPath); err != nil {
		panic(fmt.Errorf("snapshot load failed: %w", err))
	}
	if restored.Root() != p.Root() {
		panic(errors.New("restored pool root does not match"))
	}
	fmt.Printf("State restored from %s, root %x...\n", snapshotPath, restored.Root().Bytes()[:6])

	last := deposits[2]
	lastHash, err := last.NullifierHash()
	if err != nil {
		panic(err)
	}
	elements, indices, err = mirror.Path(2)
	if err != nil {
		panic(err)
	}
	proof, _, err = fixture.Prove(snarktest.Witness{
		Root:          restored.Root(),
		NullifierHash: lastHash,
		Recipient:     demoRecipient,
		Fee:           0,
		Refund:        0,
		Nullifier:     last.Nullifier,
		Secret:        last.Secret,
		PathElements:  elements,
		PathIndices:   indices,
	})
	if err != nil {
		panic(err)
	}
	receipt, err = restored.Withdraw(pool.WithdrawRequest{
		Root:          restored.Root(),
		NullifierHash: lastHash,
		Recipient:     demoRecipient,
		Amount:        demoDenomination,
		Proof:         proof,
	})
	if err != nil {
		panic(fmt.Errorf("withdrawal on restored pool failed: %w", err))
	}
	fmt.Printf("✅ Restored pool settled a fee-free withdrawal of %d\n", receipt.RecipientAmount)

	// Summary
	st := restored.Status()
	spentCount, err := restored.Nullifiers()
	if err != nil {
		panic(err)
	}
	fmt.Println("\n=== Summary ===")
	fmt.Printf("Deposits:         %d leaves, %d total value\n", st.NextIndex, st.TotalDeposits)
	fmt.Printf("Withdrawals:      %d spent nullifiers, %d total value\n", spentCount, st.TotalWithdrawn)
	fmt.Printf("Vault balance:    %d\n", st.VaultBalance)
	fmt.Printf("Ledger check:     totalDeposits - totalWithdrawn = %d\n", st.TotalDeposits-st.TotalWithdrawn)
	if err := restored.Reconcile(); err != nil {
		panic(fmt.Errorf("reconciliation failed: %w", err))
	}
	fmt.Println("Reconciliation:   ✅ vault matches the ledger")
	fmt.Println("\n🎉 Demo completed successfully")
}
