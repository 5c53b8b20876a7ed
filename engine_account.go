package shopauth

import (
	"context"
	"errors"

	"github.com/google/uuid"
)

// CreateAccount describes the createaccount operation and its observable behavior.
//
// CreateAccount may return an error when input validation, dependency calls, or security checks fail.
// CreateAccount does not mutate shared global state and can be used concurrently when the receiver and dependencies are concurrently safe.
func (e *Engine) CreateAccount(ctx context.Context, req CreateAccountRequest) (*CreateAccountResult, error) {
	if e == nil || e.passwordHash == nil || e.userProvider == nil {
		return nil, ErrEngineNotReady
	}
	if !e.config.Account.Enabled {
		e.emitAudit(ctx, auditEventAccountCreationFailure, false, "", "", ErrAccountCreationDisabled, func() map[string]string {
			return map[string]string{
				"reason": "feature_disabled",
			}
		})
		return nil, ErrAccountCreationDisabled
	}
	if e.config.Account.AutoLogin && e.config.JWT.RefreshTTL <= 0 {
		return nil, ErrAccountCreationUnavailable
	}

	if req.Identifier == "" {
		e.emitAudit(ctx, auditEventAccountCreationFailure, false, "", "", ErrAccountCreationInvalid, func() map[string]string {
			return map[string]string{
				"reason": "empty_identifier",
			}
		})
		return nil, ErrAccountCreationInvalid
	}
	if req.Password == "" {
		e.emitAudit(ctx, auditEventAccountCreationFailure, false, "", "", ErrAccountCreationInvalid, func() map[string]string {
			return map[string]string{
				"identifier": req.Identifier,
				"reason":     "empty_password",
			}
		})
		return nil, ErrAccountCreationInvalid
	}

	role := req.Role
	if role == "" {
		role = e.config.Account.DefaultRole
	}
	if role == "" {
		e.emitAudit(ctx, auditEventAccountCreationFailure, false, "", "", ErrAccountCreationInvalid, func() map[string]string {
			return map[string]string{
				"identifier": req.Identifier,
				"reason":     "role_missing",
			}
		})
		return nil, ErrAccountCreationInvalid
	}

	passwordHash, err := e.passwordHash.Hash(req.Password)
	if err != nil {
		e.emitAudit(ctx, auditEventAccountCreationFailure, false, "", "", ErrAccountCreationInvalid, func() map[string]string {
			return map[string]string{
				"identifier": req.Identifier,
				"reason":     "password_policy",
			}
		})
		return nil, ErrAccountCreationInvalid
	}

	created, err := e.userProvider.CreateUser(ctx, CreateUserInput{
		UserID:       uuid.NewString(),
		Identifier:   req.Identifier,
		Name:         req.Name,
		PasswordHash: passwordHash,
		Role:         role,
	})
	if err != nil {
		if errors.Is(err, ErrProviderDuplicateIdentifier) {
			e.metricInc(MetricAccountCreationDuplicate)
			e.emitAudit(ctx, auditEventAccountCreationDuplicate, false, "", "", ErrAccountExists, func() map[string]string {
				return map[string]string{
					"identifier": req.Identifier,
				}
			})
			return nil, ErrAccountExists
		}
		e.emitAudit(ctx, auditEventAccountCreationFailure, false, "", "", err, func() map[string]string {
			return map[string]string{
				"identifier": req.Identifier,
				"reason":     "provider_create_failed",
			}
		})
		return nil, err
	}

	if created.UserID == "" {
		e.emitAudit(ctx, auditEventAccountCreationFailure, false, "", "", ErrAccountCreationUnavailable, func() map[string]string {
			return map[string]string{
				"identifier": req.Identifier,
				"reason":     "missing_user_id",
			}
		})
		return nil, ErrAccountCreationUnavailable
	}
	if created.Role == "" {
		created.Role = role
	}

	result := &CreateAccountResult{User: created}

	if e.config.Account.AutoLogin {
		access, refresh, sessionID, err := e.createSession(ctx, created)
		if err != nil {
			e.emitAudit(ctx, auditEventAccountCreationSuccess, false, created.UserID, sessionID, ErrSessionCreationFailed, func() map[string]string {
				return map[string]string{
					"identifier": req.Identifier,
					"reason":     "auto_login_failed",
				}
			})
			return result, errors.Join(ErrSessionCreationFailed, err)
		}
		e.metricInc(MetricSessionCreated)
		result.AccessToken = access
		result.RefreshToken = refresh
	}

	req.Password = ""
	e.metricInc(MetricAccountCreationSuccess)
	e.emitAudit(ctx, auditEventAccountCreationSuccess, true, created.UserID, "", nil, func() map[string]string {
		return map[string]string{
			"identifier": req.Identifier,
			"role":       created.Role,
		}
	})
	return result, nil
}
