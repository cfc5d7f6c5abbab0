package service

import (
	"bytes"
	"context"
	"crypto/rand"
	"crypto/sha256"
	"encoding/base64"
	"encoding/hex"
	"errors"
	"fmt"
	"image/png"
	"strings"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/pquerna/otp"
	"github.com/pquerna/otp/totp"
	"go.uber.org/zap"
	"golang.org/x/crypto/bcrypt"

	"crm-auth/internal/domain"
	"crm-auth/internal/metrics"
	"crm-auth/internal/repository"
)

const (
	backupCodeCount    = 10
	backupCodeLength   = 10
	backupCodeAlphabet = "ABCDEFGHJKLMNPQRSTUVWXYZ23456789"
	totpPeriod         = 30
	totpSkew           = 1
	qrCodeSize         = 200
)

var totpOpts = totp.ValidateOpts{
	Period:    totpPeriod,
	Skew:      totpSkew,
	Digits:    otp.DigitsSix,
	Algorithm: otp.AlgorithmSHA1,
}

// TwoFactorSetup es lo que ve el usuario al configurar 2FA; los codigos no se vuelven a mostrar.
type TwoFactorSetup struct {
	Secret      string   `json:"secret"`
	OTPAuthURL  string   `json:"otpauth_url"`
	QRCode      string   `json:"qr_code"`
	BackupCodes []string `json:"backup_codes"`
}

// TwoFactorService maneja secretos TOTP y codigos de respaldo.
type TwoFactorService struct {
	logger      *zap.Logger
	users       repository.UserRepository
	backupCodes repository.BackupCodeRepository
	sessions    *SessionService
	jwt         *JWTService
	limiter     RateLimiter
	metrics     *metrics.Metrics
	issuer      string
	now         func() time.Time
}

func NewTwoFactorService(
	logger *zap.Logger,
	issuer string,
	users repository.UserRepository,
	backupCodes repository.BackupCodeRepository,
	sessions *SessionService,
	jwtSvc *JWTService,
	limiter RateLimiter,
	m *metrics.Metrics,
) *TwoFactorService {
	if logger == nil {
		logger = zap.NewNop()
	}
	if limiter == nil {
		limiter = NewMemoryRateLimiter(5*time.Minute, 5)
	}
	if strings.TrimSpace(issuer) == "" {
		issuer = "CRM"
	}
	return &TwoFactorService{
		logger:      logger,
		users:       users,
		backupCodes: backupCodes,
		sessions:    sessions,
		jwt:         jwtSvc,
		limiter:     limiter,
		metrics:     m,
		issuer:      issuer,
		now:         func() time.Time { return time.Now().UTC() },
	}
}

// Setup genera un secreto pendiente y 10 codigos de respaldo. No activa 2FA.
func (s *TwoFactorService) Setup(ctx context.Context, userID, password string) (TwoFactorSetup, error) {
	user, err := s.loadUser(ctx, userID)
	if err != nil {
		return TwoFactorSetup{}, err
	}
	if user.TwoFactorEnabled {
		return TwoFactorSetup{}, ErrTwoFactorEnabled
	}
	if err := checkPassword(user, password); err != nil {
		return TwoFactorSetup{}, err
	}

	key, err := totp.Generate(totp.GenerateOpts{
		Issuer:      s.issuer,
		AccountName: user.Email,
		Period:      totpPeriod,
		Digits:      otp.DigitsSix,
		Algorithm:   otp.AlgorithmSHA1,
	})
	if err != nil {
		return TwoFactorSetup{}, fmt.Errorf("generate totp secret: %w", err)
	}
	qr, err := qrDataURL(key)
	if err != nil {
		return TwoFactorSetup{}, err
	}
	codes, err := s.replaceBackupCodes(ctx, user.ID)
	if err != nil {
		return TwoFactorSetup{}, err
	}
	if err := s.users.SetPendingTwoFactor(ctx, user.ID, key.Secret()); err != nil {
		return TwoFactorSetup{}, fmt.Errorf("store pending secret: %w", err)
	}
	return TwoFactorSetup{
		Secret:      key.Secret(),
		OTPAuthURL:  key.URL(),
		QRCode:      qr,
		BackupCodes: codes,
	}, nil
}

// Enable confirma el secreto pendiente con un codigo TOTP valido.
func (s *TwoFactorService) Enable(ctx context.Context, userID, code string) error {
	if ok, _ := s.limiter.Allow(ctx, "2fa:"+userID); !ok {
		return ErrRateLimited
	}
	user, err := s.loadUser(ctx, userID)
	if err != nil {
		return err
	}
	if user.TwoFactorEnabled {
		return ErrTwoFactorEnabled
	}
	if user.TwoFactorPendingSecret == "" {
		return ErrTwoFactorNotSetUp
	}
	if !s.validTOTP(code, user.TwoFactorPendingSecret) {
		s.metrics.TwoFactorCheck("invalid")
		return ErrTOTPInvalid
	}
	if err := s.users.EnableTwoFactor(ctx, user.ID); err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return ErrTwoFactorNotSetUp
		}
		return fmt.Errorf("enable two-factor: %w", err)
	}
	s.metrics.TwoFactorCheck("enabled")
	s.logger.Info("two-factor enabled", zap.String("user_id", user.ID))
	return nil
}

// VerifyLogin completa el desafio de login con un codigo TOTP.
func (s *TwoFactorService) VerifyLogin(ctx context.Context, tempToken, emailAddr, code string, device Device) (TokenPair, error) {
	claims, user, err := s.challengeUser(ctx, tempToken, emailAddr)
	if err != nil {
		return TokenPair{}, err
	}
	if !s.validTOTP(code, user.TwoFactorSecret) {
		s.metrics.TwoFactorCheck("invalid")
		return TokenPair{}, ErrTOTPInvalid
	}
	_, pair, err := s.sessions.Create(ctx, user, claims.WorkspaceID, device)
	if err != nil {
		return TokenPair{}, err
	}
	s.metrics.TwoFactorCheck("success")
	return pair, nil
}

// Recover completa el desafio con un codigo de respaldo, que queda consumido.
func (s *TwoFactorService) Recover(ctx context.Context, tempToken, backupCode string, device Device) (TokenPair, int, error) {
	claims, user, err := s.challengeUser(ctx, tempToken, "")
	if err != nil {
		return TokenPair{}, 0, err
	}
	// El codigo solo se gasta cuando la sesion ya existe.
	session, pair, err := s.sessions.Create(ctx, user, claims.WorkspaceID, device)
	if err != nil {
		return TokenPair{}, 0, err
	}
	if !s.consumeBackupCode(ctx, user.ID, backupCode) {
		if rErr := s.sessions.Revoke(ctx, user.ID, session.ID); rErr != nil {
			s.logger.Warn("revoke unused recovery session failed", zap.Error(rErr), zap.String("session_id", session.ID))
		}
		s.metrics.TwoFactorCheck("invalid_backup_code")
		return TokenPair{}, 0, ErrBackupCodeInvalid
	}
	remaining, err := s.backupCodes.CountUnused(ctx, user.ID)
	if err != nil {
		return TokenPair{}, 0, fmt.Errorf("count backup codes: %w", err)
	}
	s.metrics.TwoFactorCheck("recovered")
	s.logger.Info("backup code used", zap.String("user_id", user.ID), zap.Int("remaining", remaining))
	return pair, remaining, nil
}

// Disable exige contraseña y un segundo factor (TOTP o codigo de respaldo).
func (s *TwoFactorService) Disable(ctx context.Context, userID, password, code string) error {
	user, err := s.loadUser(ctx, userID)
	if err != nil {
		return err
	}
	if !user.TwoFactorEnabled {
		return ErrTwoFactorNotEnabled
	}
	if err := checkPassword(user, password); err != nil {
		return err
	}
	if ok, _ := s.limiter.Allow(ctx, "2fa:"+userID); !ok {
		return ErrRateLimited
	}
	if !s.validTOTP(code, user.TwoFactorSecret) && !s.consumeBackupCode(ctx, user.ID, code) {
		s.metrics.TwoFactorCheck("invalid")
		return ErrTOTPInvalid
	}
	if err := s.users.DisableTwoFactor(ctx, user.ID); err != nil {
		return fmt.Errorf("disable two-factor: %w", err)
	}
	if err := s.backupCodes.DeleteAll(ctx, user.ID); err != nil {
		return fmt.Errorf("delete backup codes: %w", err)
	}
	s.logger.Info("two-factor disabled", zap.String("user_id", user.ID))
	return nil
}

// RegenerateBackupCodes reemplaza los codigos de respaldo tras validar un TOTP.
func (s *TwoFactorService) RegenerateBackupCodes(ctx context.Context, userID, code string) ([]string, error) {
	user, err := s.loadUser(ctx, userID)
	if err != nil {
		return nil, err
	}
	if !user.TwoFactorEnabled {
		return nil, ErrTwoFactorNotEnabled
	}
	if ok, _ := s.limiter.Allow(ctx, "2fa:"+userID); !ok {
		return nil, ErrRateLimited
	}
	if !s.validTOTP(code, user.TwoFactorSecret) {
		s.metrics.TwoFactorCheck("invalid")
		return nil, ErrTOTPInvalid
	}
	return s.replaceBackupCodes(ctx, user.ID)
}

func (s *TwoFactorService) challengeUser(ctx context.Context, tempToken, emailAddr string) (Claims, domain.User, error) {
	claims, err := s.jwt.ParseTwoFactorToken(tempToken)
	if err != nil {
		return Claims{}, domain.User{}, err
	}
	if emailAddr != "" && normalizeEmail(emailAddr) != claims.Email {
		return Claims{}, domain.User{}, ErrInvalidCredentials
	}
	if ok, _ := s.limiter.Allow(ctx, "2fa:"+claims.UserID); !ok {
		return Claims{}, domain.User{}, ErrRateLimited
	}
	user, err := s.loadUser(ctx, claims.UserID)
	if err != nil {
		return Claims{}, domain.User{}, err
	}
	if err := checkStatus(user); err != nil {
		return Claims{}, domain.User{}, err
	}
	if !user.TwoFactorEnabled {
		return Claims{}, domain.User{}, ErrTwoFactorNotEnabled
	}
	return claims, user, nil
}

func (s *TwoFactorService) validTOTP(code, secret string) bool {
	code = strings.TrimSpace(code)
	if code == "" || secret == "" {
		return false
	}
	ok, err := totp.ValidateCustom(code, secret, s.now(), totpOpts)
	return err == nil && ok
}

func (s *TwoFactorService) consumeBackupCode(ctx context.Context, userID, code string) bool {
	canonical := canonicalBackupCode(code)
	if len(canonical) != backupCodeLength {
		return false
	}
	ok, err := s.backupCodes.Consume(ctx, userID, hashBackupCode(userID, canonical), s.now())
	if err != nil {
		s.logger.Error("consume backup code failed", zap.Error(err), zap.String("user_id", userID))
		return false
	}
	return ok
}

func (s *TwoFactorService) replaceBackupCodes(ctx context.Context, userID string) ([]string, error) {
	codes := make([]string, 0, backupCodeCount)
	hashes := make([]string, 0, backupCodeCount)
	for i := 0; i < backupCodeCount; i++ {
		code, err := newBackupCode()
		if err != nil {
			return nil, err
		}
		codes = append(codes, code[:5]+"-"+code[5:])
		hashes = append(hashes, hashBackupCode(userID, code))
	}
	if err := s.backupCodes.Replace(ctx, userID, hashes, s.now()); err != nil {
		return nil, fmt.Errorf("store backup codes: %w", err)
	}
	return codes, nil
}

func (s *TwoFactorService) loadUser(ctx context.Context, userID string) (domain.User, error) {
	user, err := s.users.GetByID(ctx, userID)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return domain.User{}, ErrUserNotFound
		}
		return domain.User{}, fmt.Errorf("lookup user: %w", err)
	}
	return user, nil
}

func checkPassword(user domain.User, password string) error {
	if !user.HasPassword() {
		return ErrPasswordNotConfigured
	}
	if err := bcrypt.CompareHashAndPassword([]byte(user.PasswordHash), []byte(password)); err != nil {
		return ErrInvalidCredentials
	}
	return nil
}

func newBackupCode() (string, error) {
	buf := make([]byte, backupCodeLength)
	if _, err := rand.Read(buf); err != nil {
		return "", err
	}
	for i, b := range buf {
		buf[i] = backupCodeAlphabet[int(b)%len(backupCodeAlphabet)]
	}
	return string(buf), nil
}

// canonicalBackupCode acepta minusculas, guiones y espacios.
func canonicalBackupCode(code string) string {
	var b strings.Builder
	for _, r := range strings.ToUpper(code) {
		if r == '-' || r == ' ' {
			continue
		}
		b.WriteRune(r)
	}
	return b.String()
}

func hashBackupCode(userID, canonical string) string {
	sum := sha256.Sum256([]byte(userID + "|" + canonical))
	return hex.EncodeToString(sum[:])
}

func qrDataURL(key *otp.Key) (string, error) {
	img, err := key.Image(qrCodeSize, qrCodeSize)
	if err != nil {
		return "", fmt.Errorf("render qr code: %w", err)
	}
	var buf bytes.Buffer
	if err := png.Encode(&buf, img); err != nil {
		return "", fmt.Errorf("encode qr code: %w", err)
	}
	return "data:image/png;base64," + base64.StdEncoding.EncodeToString(buf.Bytes()), nil
}
