package service

import (
	"context"
	"errors"
	"log/slog"
	"strings"
	"time"

	"github.com/anamul94/DietGuard/internal/identity/domain"
	"github.com/anamul94/DietGuard/internal/identity/obs"
	"github.com/anamul94/DietGuard/internal/identity/store"
	"github.com/anamul94/DietGuard/pkg/cryptox"
	"github.com/anamul94/DietGuard/pkg/idx"
	"github.com/anamul94/DietGuard/pkg/slogx"
	"github.com/go-playground/validator"
)

// Password policy, in bytes.
const (
	MinPasswordLen = 6
	MaxPasswordLen = 1024
)

var validate = validator.New()

// ValidateEmail normalises and checks an email address.
func ValidateEmail(email string) (string, error) {
	email = domain.NormalizeEmail(email)
	if err := validate.Var(email, "required,email,max=254"); err != nil {
		return "", ErrInvalidEmail
	}
	return email, nil
}

// ValidatePassword enforces the password length policy.
func ValidatePassword(password string) error {
	if len(password) < MinPasswordLen || len(password) > MaxPasswordLen {
		return ErrWeakPassword
	}
	return nil
}

type SignupInput struct {
	Email     string
	Password  string
	FirstName string `validate:"max=100"`
	LastName  string `validate:"max=100"`
	Age       *int   `validate:"omitempty,min=1,max=150"`
	Gender    string `validate:"max=20"`
}

// ProfileInput is a partial profile update. Nil fields are left alone.
type ProfileInput struct {
	FirstName *string `validate:"omitempty,max=100"`
	LastName  *string `validate:"omitempty,max=100"`
	Age       *int    `validate:"omitempty,min=1,max=150"`
	Gender    *string `validate:"omitempty,max=20"`
}

type AccountService struct {
	Store   store.Store
	Tokens  *TokenService
	Audit   AuditRecorder
	Metrics *obs.Metrics

	StoreTimeout time.Duration
	Now          func() time.Time
}

// Signup creates an account on a fresh trial and signs it in. The trial
// is granted unconditionally. The account, its subscription and the first
// refresh token commit together, so a failed signup can simply be retried.
func (s *AccountService) Signup(ctx context.Context, in SignupInput, meta domain.AuditMeta) (domain.Account, domain.TokenPair, error) {
	email, err := ValidateEmail(in.Email)
	if err != nil {
		return domain.Account{}, domain.TokenPair{}, err
	}
	if err := ValidatePassword(in.Password); err != nil {
		return domain.Account{}, domain.TokenPair{}, err
	}
	if err := validate.Struct(in); err != nil {
		return domain.Account{}, domain.TokenPair{}, ErrInvalidProfile
	}

	hash, err := cryptox.HashPassword(in.Password)
	if err != nil {
		return domain.Account{}, domain.TokenPair{}, err
	}

	now := clock(s.Now)
	a := domain.Account{
		ID:           idx.NewAt(now).String(),
		Email:        email,
		PasswordHash: hash,
		Role:         domain.RoleUser,
		FirstName:    in.FirstName,
		LastName:     in.LastName,
		Age:          in.Age,
		Gender:       in.Gender,
		CreatedAt:    now,
		UpdatedAt:    now,
	}
	pair, rt, err := s.Tokens.mint(a, "", now)
	if err != nil {
		return domain.Account{}, domain.TokenPair{}, err
	}
	if err := s.create(ctx, a, now, &rt); err != nil {
		if errors.Is(err, store.ErrAlreadyExists) {
			recorder(s.Audit).Record(ctx, domain.AuditSignup, "", domain.OutcomeFailure, withReason(meta, "email taken"))
			return domain.Account{}, domain.TokenPair{}, ErrEmailTaken
		}
		return domain.Account{}, domain.TokenPair{}, err
	}

	audit := recorder(s.Audit)
	audit.Record(ctx, domain.AuditSignup, a.ID, domain.OutcomeSuccess, meta)
	audit.Record(ctx, domain.AuditTokenIssued, a.ID, domain.OutcomeSuccess, meta)
	slogx.FromContext(ctx).Info("account created", slog.String("account_id", a.ID))
	return a, pair, nil
}

// create inserts the account, its trial subscription and, when rt is not
// nil, the first refresh token in one transaction.
func (s *AccountService) create(ctx context.Context, a domain.Account, now time.Time, rt *domain.RefreshToken) error {
	sctx, cancel := bounded(ctx, s.StoreTimeout)
	defer cancel()

	err := s.Store.WithTx(sctx, func(tx store.Tx) error {
		if err := tx.Accounts().Create(sctx, a); err != nil {
			return err
		}
		err := tx.Subscriptions().Create(sctx, domain.Subscription{
			AccountID:  a.ID,
			Plan:       domain.PlanTrial,
			TrialStart: now,
			UpdatedAt:  now,
		})
		if err != nil || rt == nil {
			return err
		}
		return tx.RefreshTokens().Create(sctx, *rt)
	})
	return storeErr(err)
}

// Signin authenticates an active account. Unknown emails and bad
// passwords fail identically, in roughly the same time.
func (s *AccountService) Signin(ctx context.Context, email, password string, meta domain.AuditMeta) (domain.Account, domain.TokenPair, error) {
	audit := recorder(s.Audit)
	email = domain.NormalizeEmail(email)

	sctx, cancel := bounded(ctx, s.StoreTimeout)
	a, err := s.Store.Accounts().GetByEmail(sctx, email)
	cancel()
	if err != nil && !errors.Is(err, store.ErrNotFound) {
		s.Metrics.SigninOutcome("unavailable")
		return domain.Account{}, domain.TokenPair{}, storeErr(err)
	}

	if err != nil {
		_ = cryptox.VerifyPassword(password, cryptox.DummyHash())
		s.Metrics.SigninOutcome("failure")
		audit.Record(ctx, domain.AuditSignin, "", domain.OutcomeFailure, withReason(meta, "unknown email"))
		return domain.Account{}, domain.TokenPair{}, ErrInvalidCredentials
	}

	if err := cryptox.VerifyPassword(password, a.PasswordHash); err != nil {
		s.Metrics.SigninOutcome("failure")
		audit.Record(ctx, domain.AuditSignin, a.ID, domain.OutcomeFailure, withReason(meta, "bad password"))
		return domain.Account{}, domain.TokenPair{}, ErrInvalidCredentials
	}

	pair, err := s.Tokens.Issue(ctx, a, meta)
	if err != nil {
		return domain.Account{}, domain.TokenPair{}, err
	}

	s.Metrics.SigninOutcome("success")
	audit.Record(ctx, domain.AuditSignin, a.ID, domain.OutcomeSuccess, meta)
	return a, pair, nil
}

// Get returns an active account.
func (s *AccountService) Get(ctx context.Context, id string) (domain.Account, error) {
	sctx, cancel := bounded(ctx, s.StoreTimeout)
	defer cancel()

	a, err := s.Store.Accounts().GetByID(sctx, id)
	if errors.Is(err, store.ErrNotFound) || (err == nil && a.IsDeleted()) {
		return domain.Account{}, ErrAccountNotFound
	}
	if err != nil {
		return domain.Account{}, storeErr(err)
	}
	return a, nil
}

// UpdateProfile applies the non-nil fields of in to an active account and
// returns the result.
func (s *AccountService) UpdateProfile(ctx context.Context, id string, in ProfileInput, meta domain.AuditMeta) (domain.Account, error) {
	if err := validate.Struct(in); err != nil {
		return domain.Account{}, ErrInvalidProfile
	}

	a, err := s.Get(ctx, id)
	if err != nil {
		return domain.Account{}, err
	}

	p := a.Profile()
	var changed []string
	if in.FirstName != nil && *in.FirstName != p.FirstName {
		p.FirstName = *in.FirstName
		changed = append(changed, "first_name")
	}
	if in.LastName != nil && *in.LastName != p.LastName {
		p.LastName = *in.LastName
		changed = append(changed, "last_name")
	}
	if in.Age != nil && (p.Age == nil || *in.Age != *p.Age) {
		age := *in.Age
		p.Age = &age
		changed = append(changed, "age")
	}
	if in.Gender != nil && *in.Gender != p.Gender {
		p.Gender = *in.Gender
		changed = append(changed, "gender")
	}
	if len(changed) == 0 {
		return a, nil
	}

	now := clock(s.Now)
	sctx, cancel := bounded(ctx, s.StoreTimeout)
	defer cancel()
	if err := s.Store.Accounts().UpdateProfile(sctx, id, p, now); err != nil {
		if errors.Is(err, store.ErrNotFound) {
			return domain.Account{}, ErrAccountNotFound
		}
		return domain.Account{}, storeErr(err)
	}

	recorder(s.Audit).Record(ctx, domain.AuditProfileUpdated, id, domain.OutcomeSuccess,
		withExtra(meta, "fields", strings.Join(changed, ",")))

	a.FirstName, a.LastName, a.Age, a.Gender = p.FirstName, p.LastName, p.Age, p.Gender
	a.UpdatedAt = now
	return a, nil
}

// List pages through active accounts, newest first.
func (s *AccountService) List(ctx context.Context, page Page) ([]domain.Account, error) {
	page, err := page.normalize()
	if err != nil {
		return nil, err
	}

	sctx, cancel := bounded(ctx, s.StoreTimeout)
	defer cancel()

	accounts, err := s.Store.Accounts().List(sctx, page.Limit, page.Offset)
	if err != nil {
		return nil, storeErr(err)
	}
	return accounts, nil
}

// Delete soft-deletes the account and kills every credential it holds.
// Audit history is left untouched.
func (s *AccountService) Delete(ctx context.Context, id string, meta domain.AuditMeta) error {
	now := clock(s.Now)

	sctx, cancel := bounded(ctx, s.StoreTimeout)
	defer cancel()

	err := s.Store.WithTx(sctx, func(tx store.Tx) error {
		if err := tx.Accounts().SoftDelete(sctx, id, now); err != nil {
			if errors.Is(err, store.ErrNotFound) {
				return ErrAccountNotFound
			}
			return err
		}
		if _, err := tx.RefreshTokens().RevokeAllForAccount(sctx, id, now); err != nil {
			return err
		}
		return tx.ResetTokens().InvalidateForAccount(sctx, id, now)
	})
	if err != nil {
		return storeErr(err)
	}

	recorder(s.Audit).Record(ctx, domain.AuditAccountDeleted, id, domain.OutcomeSuccess, meta)
	return nil
}

// SetRole changes the role of account id on behalf of actorID. The new
// role shows up in access tokens issued after the change.
func (s *AccountService) SetRole(ctx context.Context, actorID, id string, role domain.Role, meta domain.AuditMeta) error {
	role, err := domain.ParseRole(string(role))
	if err != nil {
		return ErrInvalidRole
	}

	sctx, cancel := bounded(ctx, s.StoreTimeout)
	defer cancel()

	if err := s.Store.Accounts().UpdateRole(sctx, id, role, clock(s.Now)); err != nil {
		if errors.Is(err, store.ErrNotFound) {
			return ErrAccountNotFound
		}
		return storeErr(err)
	}

	meta = withExtra(withExtra(meta, "target_account_id", id), "role", string(role))
	recorder(s.Audit).Record(ctx, domain.AuditRoleChanged, actorID, domain.OutcomeSuccess, meta)
	return nil
}

// EnsureAdmin makes sure an admin account exists for email, creating it
// with password when missing. An existing account is promoted and keeps
// its password.
func (s *AccountService) EnsureAdmin(ctx context.Context, email, password string) (domain.Account, error) {
	email, err := ValidateEmail(email)
	if err != nil {
		return domain.Account{}, err
	}
	now := clock(s.Now)
	l := slogx.FromContext(ctx)

	sctx, cancel := bounded(ctx, s.StoreTimeout)
	a, err := s.Store.Accounts().GetByEmail(sctx, email)
	cancel()
	switch {
	case err == nil:
		if a.Role == domain.RoleAdmin {
			return a, nil
		}
		if err := s.SetRole(ctx, "", a.ID, domain.RoleAdmin, domain.AuditMeta{Reason: "bootstrap"}); err != nil {
			return domain.Account{}, err
		}
		a.Role = domain.RoleAdmin
		l.Info("promoted bootstrap admin", slog.String("account_id", a.ID))
		return a, nil
	case !errors.Is(err, store.ErrNotFound):
		return domain.Account{}, storeErr(err)
	}

	if err := ValidatePassword(password); err != nil {
		return domain.Account{}, err
	}
	hash, err := cryptox.HashPassword(password)
	if err != nil {
		return domain.Account{}, err
	}
	a = domain.Account{
		ID:           idx.NewAt(now).String(),
		Email:        email,
		PasswordHash: hash,
		Role:         domain.RoleAdmin,
		CreatedAt:    now,
		UpdatedAt:    now,
	}
	if err := s.create(ctx, a, now, nil); err != nil {
		if errors.Is(err, store.ErrAlreadyExists) {
			return domain.Account{}, ErrEmailTaken
		}
		return domain.Account{}, err
	}
	recorder(s.Audit).Record(ctx, domain.AuditSignup, a.ID, domain.OutcomeSuccess, domain.AuditMeta{Reason: "bootstrap"})
	l.Info("created bootstrap admin", slog.String("account_id", a.ID))
	return a, nil
}
