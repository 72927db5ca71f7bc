package factor

import (
	"context"
	"errors"

	"github.com/ibimina/authx/internal/authx/domain"
	"github.com/ibimina/authx/internal/authx/store"
	"github.com/ibimina/authx/pkg/cryptox"
)

type backupProvider struct {
	states store.MFAStates
}

// NewBackup returns the backup-code provider.
func NewBackup(states store.MFAStates) Provider {
	return &backupProvider{states: states}
}

func (*backupProvider) Kind() domain.FactorKind { return domain.FactorBackup }

// Issue is a no-op: backup codes were handed out at enrollment.
func (p *backupProvider) Issue(ctx context.Context, sub Subject) (domain.ChallengeDescriptor, error) {
	if len(sub.State.BackupHashes) == 0 {
		return domain.ChallengeDescriptor{}, ErrNotEnrolled
	}
	return domain.ChallengeDescriptor{Channel: domain.FactorBackup}, nil
}

// Verify finds the matching hash and removes it with a conditional swap on
// the previously read list. At most one concurrent redemption of the same
// list can succeed; losers read as an invalid code.
func (p *backupProvider) Verify(ctx context.Context, sub Subject, resp Response) (domain.VerifyOutcome, error) {
	hashes := sub.State.BackupHashes
	if len(hashes) == 0 {
		return domain.Invalid("no_backup_codes"), nil
	}

	matched := -1
	for i, h := range hashes {
		if cryptox.VerifyOneTimeCode(resp.Code, h) {
			matched = i
			break
		}
	}
	if matched == -1 {
		return domain.Invalid("code_mismatch"), nil
	}

	next := make([]string, 0, len(hashes)-1)
	next = append(next, hashes[:matched]...)
	next = append(next, hashes[matched+1:]...)

	if err := p.states.ReplaceBackupHashes(ctx, sub.UserID, hashes, next); err != nil {
		if errors.Is(err, store.ErrConflict) {
			return domain.Invalid("concurrent_consumption"), nil
		}
		return domain.VerifyOutcome{}, err
	}

	out := domain.Valid()
	out.UsedBackup = true
	return out, nil
}
