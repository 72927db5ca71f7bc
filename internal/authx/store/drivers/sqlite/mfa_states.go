package sqlite

import (
	"context"
	"database/sql"
	"encoding/json"
	"strings"
	"time"

	"github.com/ibimina/authx/internal/authx/domain"
	"github.com/ibimina/authx/internal/authx/store"
)

type mfaStatesRepo struct {
	db dbtx
}

func (r *mfaStatesRepo) Get(ctx context.Context, userID string) (domain.UserMFAState, error) {
	row := r.db.QueryRowContext(ctx, `
		SELECT user_id, enabled, enabled_at, secret_enc, backup_hashes,
		       methods, whatsapp_msisdn, failed_count, last_verified_step,
		       last_success_at, created_at, updated_at
		FROM mfa_states WHERE user_id = ?`, userID)

	var (
		st            domain.UserMFAState
		enabled       int64
		enabledAt     sql.NullTime
		backupJSON    string
		methods       string
		lastSuccessAt sql.NullTime
	)
	err := row.Scan(&st.UserID, &enabled, &enabledAt, &st.SecretEnc, &backupJSON,
		&methods, &st.WhatsAppMSISDN, &st.FailedCount, &st.LastVerifiedStep,
		&lastSuccessAt, &st.CreatedAt, &st.UpdatedAt)
	if err != nil {
		return domain.UserMFAState{}, mapNotFound(err)
	}

	st.Enabled = enabled != 0
	st.EnabledAt = mapNullTime(enabledAt)
	st.LastSuccessAt = mapNullTime(lastSuccessAt)
	st.BackupHashes = decodeHashes(backupJSON)
	st.Methods = decodeMethods(methods)
	return st, nil
}

func (r *mfaStatesRepo) Upsert(ctx context.Context, st domain.UserMFAState) error {
	backupJSON, err := encodeHashes(st.BackupHashes)
	if err != nil {
		return err
	}

	_, err = r.db.ExecContext(ctx, `
		INSERT INTO mfa_states (
			user_id, enabled, enabled_at, secret_enc, backup_hashes, methods,
			whatsapp_msisdn, failed_count, last_verified_step, last_success_at,
			created_at, updated_at
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(user_id) DO UPDATE SET
			enabled            = excluded.enabled,
			enabled_at         = excluded.enabled_at,
			secret_enc         = excluded.secret_enc,
			backup_hashes      = excluded.backup_hashes,
			methods            = excluded.methods,
			whatsapp_msisdn    = excluded.whatsapp_msisdn,
			failed_count       = excluded.failed_count,
			last_verified_step = excluded.last_verified_step,
			last_success_at    = excluded.last_success_at,
			updated_at         = excluded.updated_at`,
		st.UserID, boolToInt(st.Enabled), mapOptionalTime(st.EnabledAt), st.SecretEnc,
		backupJSON, encodeMethods(st.Methods), st.WhatsAppMSISDN, st.FailedCount,
		st.LastVerifiedStep, mapOptionalTime(st.LastSuccessAt), time.Now().UTC(), time.Now().UTC())
	return err
}

// ReplaceBackupHashes is the compare-and-swap consuming a backup code: the
// update applies only while the stored list still equals prev.
func (r *mfaStatesRepo) ReplaceBackupHashes(ctx context.Context, userID string, prev, next []string) error {
	prevJSON, err := encodeHashes(prev)
	if err != nil {
		return err
	}
	nextJSON, err := encodeHashes(next)
	if err != nil {
		return err
	}

	res, err := r.db.ExecContext(ctx, `
		UPDATE mfa_states
		SET backup_hashes = ?, updated_at = ?
		WHERE user_id = ? AND backup_hashes = ?`,
		nextJSON, time.Now().UTC(), userID, prevJSON)
	if err != nil {
		return err
	}
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		return store.ErrConflict
	}
	return nil
}

// RecordVerifySuccess touches only verification-owned columns. MAX keeps
// the step cursor monotonic under concurrent verifications, and the
// enabled guard keeps a racing disable from being partially undone.
func (r *mfaStatesRepo) RecordVerifySuccess(ctx context.Context, userID string, at time.Time, methods []domain.FactorKind, step int64) error {
	res, err := r.db.ExecContext(ctx, `
		UPDATE mfa_states
		SET failed_count = 0, last_success_at = ?,
		    last_verified_step = MAX(last_verified_step, ?),
		    methods = ?, updated_at = ?
		WHERE user_id = ? AND enabled = 1`,
		at, step, encodeMethods(methods), time.Now().UTC(), userID)
	if err != nil {
		return err
	}
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		return store.ErrConflict
	}
	return nil
}

func (r *mfaStatesRepo) IncrementFailedCount(ctx context.Context, userID string) error {
	res, err := r.db.ExecContext(ctx, `
		UPDATE mfa_states
		SET failed_count = failed_count + 1, updated_at = ?
		WHERE user_id = ?`, time.Now().UTC(), userID)
	if err != nil {
		return err
	}
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		return store.ErrNotFound
	}
	return nil
}

func (r *mfaStatesRepo) Reset(ctx context.Context, userID string) error {
	res, err := r.db.ExecContext(ctx, `
		UPDATE mfa_states
		SET enabled = 0, enabled_at = NULL, secret_enc = '',
		    backup_hashes = '[]', methods = '', whatsapp_msisdn = '',
		    failed_count = 0, last_verified_step = -1, last_success_at = NULL,
		    updated_at = ?
		WHERE user_id = ?`, time.Now().UTC(), userID)
	if err != nil {
		return err
	}
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		return store.ErrNotFound
	}
	return nil
}

func boolToInt(b bool) int64 {
	if b {
		return 1
	}
	return 0
}

// Backup hashes are stored as a JSON array so list equality works for the
// conditional swap. encoding/json is deterministic for []string.
func encodeHashes(hashes []string) (string, error) {
	if hashes == nil {
		hashes = []string{}
	}
	b, err := json.Marshal(hashes)
	if err != nil {
		return "", err
	}
	return string(b), nil
}

func decodeHashes(s string) []string {
	var hashes []string
	if err := json.Unmarshal([]byte(s), &hashes); err != nil {
		return []string{}
	}
	return hashes
}

// Methods are stored space-delimited like the scope lists elsewhere.
func encodeMethods(methods []domain.FactorKind) string {
	parts := make([]string, len(methods))
	for i, m := range methods {
		parts[i] = string(m)
	}
	return strings.Join(parts, " ")
}

func decodeMethods(s string) []domain.FactorKind {
	fields := strings.Fields(s)
	if len(fields) == 0 {
		return nil
	}
	methods := make([]domain.FactorKind, len(fields))
	for i, f := range fields {
		methods[i] = domain.FactorKind(f)
	}
	return methods
}
