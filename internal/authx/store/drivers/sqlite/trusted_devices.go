package sqlite

import (
	"context"
	"time"

	"github.com/ibimina/authx/internal/authx/domain"
	"github.com/ibimina/authx/internal/authx/store"
)

type trustedDevicesRepo struct {
	db dbtx
}

func (r *trustedDevicesRepo) Create(ctx context.Context, d domain.TrustedDevice) error {
	_, err := r.db.ExecContext(ctx, `
		INSERT INTO trusted_devices (user_id, device_id, fingerprint_hash, ua_hash, ip_prefix, created_at, last_used_at)
		VALUES (?, ?, ?, ?, ?, ?, ?)`,
		d.UserID, d.DeviceID, d.FingerprintHash, d.UAHash, d.IPPrefix, time.Now().UTC(), time.Now().UTC())
	return err
}

func (r *trustedDevicesRepo) Get(ctx context.Context, userID, deviceID string) (domain.TrustedDevice, error) {
	row := r.db.QueryRowContext(ctx, `
		SELECT user_id, device_id, fingerprint_hash, ua_hash, ip_prefix, created_at, last_used_at
		FROM trusted_devices WHERE user_id = ? AND device_id = ?`, userID, deviceID)

	var d domain.TrustedDevice
	err := row.Scan(&d.UserID, &d.DeviceID, &d.FingerprintHash, &d.UAHash, &d.IPPrefix, &d.CreatedAt, &d.LastUsedAt)
	if err != nil {
		return domain.TrustedDevice{}, mapNotFound(err)
	}
	return d, nil
}

func (r *trustedDevicesRepo) ListByUser(ctx context.Context, userID string) ([]domain.TrustedDevice, error) {
	rows, err := r.db.QueryContext(ctx, `
		SELECT user_id, device_id, fingerprint_hash, ua_hash, ip_prefix, created_at, last_used_at
		FROM trusted_devices WHERE user_id = ? ORDER BY last_used_at DESC`, userID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var devices []domain.TrustedDevice
	for rows.Next() {
		var d domain.TrustedDevice
		if err := rows.Scan(&d.UserID, &d.DeviceID, &d.FingerprintHash, &d.UAHash, &d.IPPrefix, &d.CreatedAt, &d.LastUsedAt); err != nil {
			return nil, err
		}
		devices = append(devices, d)
	}
	return devices, rows.Err()
}

func (r *trustedDevicesRepo) TouchLastUsed(ctx context.Context, userID, deviceID string, at time.Time) error {
	res, err := r.db.ExecContext(ctx, `
		UPDATE trusted_devices SET last_used_at = ? WHERE user_id = ? AND device_id = ?`,
		at.UTC(), userID, deviceID)
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

func (r *trustedDevicesRepo) Delete(ctx context.Context, userID, deviceID string) error {
	res, err := r.db.ExecContext(ctx, `
		DELETE FROM trusted_devices WHERE user_id = ? AND device_id = ?`, userID, deviceID)
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

func (r *trustedDevicesRepo) DeleteAllForUser(ctx context.Context, userID string) error {
	_, err := r.db.ExecContext(ctx, `DELETE FROM trusted_devices WHERE user_id = ?`, userID)
	return err
}

func (r *trustedDevicesRepo) DeleteIdle(ctx context.Context, cutoff time.Time) error {
	_, err := r.db.ExecContext(ctx, `DELETE FROM trusted_devices WHERE last_used_at < ?`, cutoff.UTC())
	return err
}
