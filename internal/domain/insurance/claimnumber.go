package insurance

import (
	"context"
	"crypto/rand"
	"errors"
	"fmt"
	"math/big"
	"regexp"
	"time"
)

const (
	claimNumberAlphabet    = "ABCDEFGHIJKLMNOPQRSTUVWXYZ0123456789"
	claimNumberSuffixLen   = 6
	maxClaimNumberAttempts = 5
)

var claimNumberPattern = regexp.MustCompile(`^CLM-\d{8}-[A-Z0-9]{6}$`)

var errClaimNumberExhausted = errors.New("could not allocate a unique claim number")

// NewClaimNumber returns CLM-YYYYMMDD-XXXXXX for the given day.
func NewClaimNumber(day time.Time) (string, error) {
	suffix := make([]byte, claimNumberSuffixLen)
	max := big.NewInt(int64(len(claimNumberAlphabet)))
	for i := range suffix {
		n, err := rand.Int(rand.Reader, max)
		if err != nil {
			return "", fmt.Errorf("claim number: %w", err)
		}
		suffix[i] = claimNumberAlphabet[n.Int64()]
	}
	return fmt.Sprintf("CLM-%s-%s", day.Format("20060102"), suffix), nil
}

func ValidClaimNumber(s string) bool {
	return claimNumberPattern.MatchString(s)
}

func (s *Service) nextClaimNumber(ctx context.Context) (string, error) {
	for range maxClaimNumberAttempts {
		number, err := NewClaimNumber(s.now())
		if err != nil {
			return "", err
		}
		exists, err := s.claims.ClaimNumberExists(ctx, number)
		if err != nil {
			return "", err
		}
		if !exists {
			return number, nil
		}
		s.logger.Warn().Str("claim_number", number).Msg("claim number collision, regenerating")
	}
	return "", errClaimNumberExhausted
}
