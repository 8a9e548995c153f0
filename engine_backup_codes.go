package authcore

import (
	"context"
	"encoding/hex"

	"github.com/MrEthical07/authcore/totp"
)

// GenerateBackupCodes issues a fresh set of recovery codes, replacing any
// earlier set. Requires a confirmed TOTP secret. The plaintext codes are
// returned once and only their hashes are stored.
func (e *Engine) GenerateBackupCodes(ctx context.Context, principalID string) ([]string, error) {
	codes, err := e.generateBackupCodes(ctx, principalID)
	e.record(ctx, auditEvent{action: ActionBackupCodesGenerate, actorID: principalID, err: err})
	if err == nil {
		e.metricInc(MetricBackupCodeRegenerated)
	}
	return codes, err
}

func (e *Engine) generateBackupCodes(ctx context.Context, principalID string) ([]string, error) {
	rec, err := e.loadTOTP(ctx, principalID)
	if err != nil {
		return nil, err
	}
	if !rec.Confirmed {
		return nil, ErrTOTPNotConfirmed
	}

	codes, err := totp.GenerateBackupCodes(e.random, e.config.TOTP.BackupCodeCount, e.config.TOTP.BackupCodeLength)
	if err != nil {
		return nil, unavailable(err)
	}
	now := e.now()
	records := make([]BackupCodeRecord, 0, len(codes))
	for _, code := range codes {
		records = append(records, BackupCodeRecord{Hash: backupCodeHash(principalID, code), CreatedAt: now})
	}
	if err := e.factors.ReplaceBackupCodes(ctx, principalID, records); err != nil {
		return nil, unavailable(err)
	}
	return codes, nil
}

// ConsumeBackupCode spends one recovery code. A code is accepted once;
// every later attempt fails with ErrBackupCodeInvalid.
func (e *Engine) ConsumeBackupCode(ctx context.Context, principalID, code string) error {
	err := e.consumeBackupCode(ctx, principalID, code)
	e.record(ctx, auditEvent{action: ActionBackupCodeConsume, actorID: principalID, err: err})
	return err
}

func (e *Engine) consumeBackupCode(ctx context.Context, principalID, code string) error {
	if err := e.classLimit(ctx, ClassBackupCode, "p:"+principalID); err != nil {
		return err
	}
	canonical := totp.CanonicalizeBackupCode(code)
	if len(canonical) != e.config.TOTP.BackupCodeLength {
		e.metricInc(MetricBackupCodeFailed)
		return ErrBackupCodeInvalid
	}
	ok, err := e.factors.ConsumeBackupCode(ctx, principalID, backupCodeHash(principalID, canonical), e.now())
	if err != nil {
		return unavailable(err)
	}
	if !ok {
		e.metricInc(MetricBackupCodeFailed)
		return ErrBackupCodeInvalid
	}
	e.metricInc(MetricBackupCodeUsed)
	return nil
}

// BackupCodesRemaining reports how many unused codes principalID holds.
func (e *Engine) BackupCodesRemaining(ctx context.Context, principalID string) (int, error) {
	n, err := e.factors.CountBackupCodes(ctx, principalID)
	if err != nil {
		return 0, unavailable(err)
	}
	return n, nil
}

func backupCodeHash(principalID, code string) string {
	sum := totp.HashBackupCode(principalID, code)
	return hex.EncodeToString(sum[:])
}
