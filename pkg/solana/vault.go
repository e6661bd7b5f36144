package solana

import (
	"context"
	"fmt"
	"os"
	"strconv"

	"github.com/gagliardetto/solana-go"
	associatedtokenaccount "github.com/gagliardetto/solana-go/programs/associated-token-account"
	"github.com/gagliardetto/solana-go/programs/token"
	"github.com/gagliardetto/solana-go/rpc"
	log "github.com/sirupsen/logrus"
	"golang.org/x/time/rate"
)

const feeVaultLabel = "fee-vault"

// VaultManager is the SPL-token custody implementation of the engine's
// Vault collaborator. Each run gets a dedicated keystore wallet whose
// associated token account holds the pooled USDC; the fee vault is one more
// labeled wallet in the same keystore. Participant wallets are
// platform-managed (custodial product), so deposits are signed with the
// participant's stored key.
type VaultManager struct {
	client   *rpc.Client
	limiter  *rate.Limiter
	km       *KeyManager
	mint     solana.PublicKey
	operator solana.PrivateKey
	password string
}

// NewVaultManagerFromEnv builds a VaultManager from DEFAULT_SOLANA_RPC,
// USDC_MINT, OPERATOR_PRIVATE_KEY and KEYSTORE_PASSWORD.
func NewVaultManagerFromEnv() (*VaultManager, error) {
	rpcEndpoint := os.Getenv("DEFAULT_SOLANA_RPC")
	if rpcEndpoint == "" {
		return nil, fmt.Errorf("DEFAULT_SOLANA_RPC environment variable is not set")
	}
	mint, err := solana.PublicKeyFromBase58(os.Getenv("USDC_MINT"))
	if err != nil {
		return nil, fmt.Errorf("invalid USDC_MINT: %w", err)
	}
	operator, err := solana.PrivateKeyFromBase58(os.Getenv("OPERATOR_PRIVATE_KEY"))
	if err != nil {
		return nil, fmt.Errorf("invalid OPERATOR_PRIVATE_KEY: %w", err)
	}

	rps := 10
	if v := os.Getenv("SOLANA_RPC_RPS"); v != "" {
		if n, err := strconv.Atoi(v); err == nil && n > 0 {
			rps = n
		}
	}

	return &VaultManager{
		client:   rpc.New(rpcEndpoint),
		limiter:  rate.NewLimiter(rate.Limit(rps), rps),
		km:       NewKeyManager(),
		mint:     mint,
		operator: operator,
		password: os.Getenv("KEYSTORE_PASSWORD"),
	}, nil
}

func vaultLabel(runID uint64) string {
	return "vault-" + strconv.FormatUint(runID, 10)
}

// Provision ensures the run's custody wallet and token account exist and
// returns the wallet address. Idempotent.
func (vm *VaultManager) Provision(ctx context.Context, runID uint64) (string, error) {
	address, _, err := vm.km.EnsureKey(vaultLabel(runID), vm.password)
	if err != nil {
		return "", fmt.Errorf("failed to provision vault key for run #%d: %w", runID, err)
	}
	owner, err := solana.PublicKeyFromBase58(address)
	if err != nil {
		return "", err
	}
	if _, err := vm.ensureTokenAccount(ctx, owner); err != nil {
		return "", fmt.Errorf("failed to provision vault token account for run #%d: %w", runID, err)
	}
	log.Infof("Vault provisioned for run #%d: %s", runID, address)
	return address, nil
}

// Balance returns the run's custody balance in base units.
func (vm *VaultManager) Balance(ctx context.Context, runID uint64) (uint64, error) {
	entry, err := vm.km.LoadEntry(vaultLabel(runID))
	if err != nil {
		return 0, fmt.Errorf("no vault for run #%d: %w", runID, err)
	}
	owner, err := solana.PublicKeyFromBase58(entry.Address)
	if err != nil {
		return 0, err
	}
	return vm.tokenBalance(ctx, owner)
}

// TransferIn moves amount from a managed participant wallet into the run's
// custody.
func (vm *VaultManager) TransferIn(ctx context.Context, runID uint64, from string, amount uint64) (string, error) {
	fromPriv, err := vm.km.LoadPrivateKey(from, vm.password)
	if err != nil {
		return "", fmt.Errorf("no managed key for wallet %s: %w", from, err)
	}
	fromKey := solana.PrivateKey(fromPriv)

	entry, err := vm.km.LoadEntry(vaultLabel(runID))
	if err != nil {
		return "", fmt.Errorf("no vault for run #%d: %w", runID, err)
	}
	vaultOwner, err := solana.PublicKeyFromBase58(entry.Address)
	if err != nil {
		return "", err
	}

	source, err := associatedTokenAddress(vm.mint, fromKey.PublicKey())
	if err != nil {
		return "", err
	}
	dest, err := associatedTokenAddress(vm.mint, vaultOwner)
	if err != nil {
		return "", err
	}
	return vm.sendTransfer(ctx, source, dest, amount, fromKey)
}

// TransferOut moves amount from the run's custody to a wallet, creating the
// destination token account when needed.
func (vm *VaultManager) TransferOut(ctx context.Context, runID uint64, to string, amount uint64) (string, error) {
	vaultPriv, err := vm.km.LoadPrivateKey(vaultLabel(runID), vm.password)
	if err != nil {
		return "", fmt.Errorf("no vault key for run #%d: %w", runID, err)
	}
	return vm.transferFrom(ctx, solana.PrivateKey(vaultPriv), to, amount)
}

// FeeBalance returns the platform fee account balance.
func (vm *VaultManager) FeeBalance(ctx context.Context) (uint64, error) {
	entry, err := vm.km.LoadEntry(feeVaultLabel)
	if err != nil {
		return 0, fmt.Errorf("fee vault not provisioned: %w", err)
	}
	owner, err := solana.PublicKeyFromBase58(entry.Address)
	if err != nil {
		return 0, err
	}
	return vm.tokenBalance(ctx, owner)
}

// TransferFees moves amount out of the platform fee account.
func (vm *VaultManager) TransferFees(ctx context.Context, to string, amount uint64) (string, error) {
	feePriv, err := vm.km.LoadPrivateKey(feeVaultLabel, vm.password)
	if err != nil {
		return "", fmt.Errorf("fee vault not provisioned: %w", err)
	}
	return vm.transferFrom(ctx, solana.PrivateKey(feePriv), to, amount)
}

// ProvisionFeeVault ensures the fee custody wallet exists and returns its
// address. Called once at platform initialization.
func (vm *VaultManager) ProvisionFeeVault(ctx context.Context) (string, error) {
	address, _, err := vm.km.EnsureKey(feeVaultLabel, vm.password)
	if err != nil {
		return "", err
	}
	owner, err := solana.PublicKeyFromBase58(address)
	if err != nil {
		return "", err
	}
	if _, err := vm.ensureTokenAccount(ctx, owner); err != nil {
		return "", err
	}
	return address, nil
}

func (vm *VaultManager) transferFrom(ctx context.Context, sourceKey solana.PrivateKey, to string, amount uint64) (string, error) {
	toPubkey, err := solana.PublicKeyFromBase58(to)
	if err != nil {
		return "", fmt.Errorf("invalid destination address: %w", err)
	}

	source, err := associatedTokenAddress(vm.mint, sourceKey.PublicKey())
	if err != nil {
		return "", err
	}
	dest, err := vm.ensureTokenAccount(ctx, toPubkey)
	if err != nil {
		return "", err
	}
	return vm.sendTransfer(ctx, source, dest, amount, sourceKey)
}

// sendTransfer builds, signs and submits an SPL transfer. The authority
// pays the transaction fee.
func (vm *VaultManager) sendTransfer(ctx context.Context, source, dest solana.PublicKey, amount uint64, authority solana.PrivateKey) (string, error) {
	if err := vm.limiter.Wait(ctx); err != nil {
		return "", err
	}

	bh, err := vm.client.GetLatestBlockhash(ctx, rpc.CommitmentFinalized)
	if err != nil {
		return "", fmt.Errorf("failed to get blockhash: %w", err)
	}

	ix := token.NewTransferInstruction(amount, source, dest, authority.PublicKey(), nil).Build()
	tx, err := solana.NewTransaction([]solana.Instruction{ix}, bh.Value.Blockhash,
		solana.TransactionPayer(authority.PublicKey()))
	if err != nil {
		return "", err
	}
	if _, err := tx.Sign(func(key solana.PublicKey) *solana.PrivateKey {
		if key.Equals(authority.PublicKey()) {
			return &authority
		}
		return nil
	}); err != nil {
		return "", fmt.Errorf("failed to sign transfer: %w", err)
	}

	sig, err := vm.client.SendTransaction(ctx, tx)
	if err != nil {
		return "", fmt.Errorf("failed to send transfer: %w", err)
	}
	return sig.String(), nil
}

// ensureTokenAccount derives the owner's associated token account and
// creates it, operator-funded, when it does not exist yet.
func (vm *VaultManager) ensureTokenAccount(ctx context.Context, owner solana.PublicKey) (solana.PublicKey, error) {
	ata, err := associatedTokenAddress(vm.mint, owner)
	if err != nil {
		return solana.PublicKey{}, err
	}

	if err := vm.limiter.Wait(ctx); err != nil {
		return solana.PublicKey{}, err
	}
	info, _ := vm.client.GetAccountInfo(ctx, ata)
	if info != nil && info.Value != nil {
		return ata, nil
	}

	ix := associatedtokenaccount.NewCreateInstruction(vm.operator.PublicKey(), owner, vm.mint).Build()
	bh, err := vm.client.GetLatestBlockhash(ctx, rpc.CommitmentFinalized)
	if err != nil {
		return solana.PublicKey{}, err
	}
	tx, err := solana.NewTransaction([]solana.Instruction{ix}, bh.Value.Blockhash,
		solana.TransactionPayer(vm.operator.PublicKey()))
	if err != nil {
		return solana.PublicKey{}, err
	}
	if _, err := tx.Sign(func(key solana.PublicKey) *solana.PrivateKey {
		if key.Equals(vm.operator.PublicKey()) {
			return &vm.operator
		}
		return nil
	}); err != nil {
		return solana.PublicKey{}, err
	}
	if _, err := vm.client.SendTransaction(ctx, tx); err != nil {
		return solana.PublicKey{}, fmt.Errorf("failed to create token account: %w", err)
	}
	log.Infof("Created token account %s for owner %s", ata, owner)
	return ata, nil
}

func (vm *VaultManager) tokenBalance(ctx context.Context, owner solana.PublicKey) (uint64, error) {
	ata, err := associatedTokenAddress(vm.mint, owner)
	if err != nil {
		return 0, err
	}

	if err := vm.limiter.Wait(ctx); err != nil {
		return 0, err
	}
	info, _ := vm.client.GetAccountInfo(ctx, ata)
	if info == nil || info.Value == nil {
		return 0, nil // token account not created yet
	}

	resp, err := vm.client.GetTokenAccountBalance(ctx, ata, rpc.CommitmentConfirmed)
	if err != nil {
		return 0, fmt.Errorf("failed to get token balance: %w", err)
	}
	if resp == nil || resp.Value == nil {
		return 0, fmt.Errorf("empty token balance response for %s", ata)
	}
	return strconv.ParseUint(resp.Value.Amount, 10, 64)
}

// associatedTokenAddress derives the associated token account address.
func associatedTokenAddress(mint, owner solana.PublicKey) (solana.PublicKey, error) {
	seeds := [][]byte{
		owner[:],
		solana.TokenProgramID[:],
		mint[:],
	}

	address, _, err := solana.FindProgramAddress(seeds, solana.SPLAssociatedTokenAccountProgramID)
	if err != nil {
		return solana.PublicKey{}, fmt.Errorf("failed to find associated token address: %w", err)
	}
	return address, nil
}
