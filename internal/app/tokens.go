/**
 * @description
 * Admin token minting. Tokens are the physical handout of the live event: a
 * short id like "TKN-A1B2C3" printed next to a QR code that deep-links into
 * the entry page. This file generates the ids and the link/QR content
 * strings; rendering the QR image is the admin UI's job.
 */

package app

import (
	"context"
	"crypto/rand"
	"errors"
	"fmt"
	"math/big"
	"strings"

	"github.com/google/uuid"

	"github.com/bestwai/raffle-service/internal/domain"
	"github.com/bestwai/raffle-service/internal/store"
)

const (
	tokenIDPrefix   = "TKN-"
	tokenIDAlphabet = "ABCDEFGHIJKLMNOPQRSTUVWXYZ0123456789"
	tokenIDLength   = 6

	// maxTokensPerBatch bounds one admin mint request.
	maxTokensPerBatch = 500

	// tokenMintAttempts bounds retries on a token id collision.
	tokenMintAttempts = 5
)

// newTokenID mints a random token id. Token ids use crypto/rand: they double
// as bearer credentials, unlike the draw sampling which needs a seedable
// source.
func newTokenID() (string, error) {
	var sb strings.Builder
	sb.WriteString(tokenIDPrefix)
	for i := 0; i < tokenIDLength; i++ {
		n, err := rand.Int(rand.Reader, big.NewInt(int64(len(tokenIDAlphabet))))
		if err != nil {
			return "", err
		}
		sb.WriteByte(tokenIDAlphabet[n.Int64()])
	}
	return sb.String(), nil
}

// GenerateTokens mints `count` fresh tokens with the given starting balance
// (the configured default when balance <= 0) and returns each token's entry
// URL and QR content.
func (s *Service) GenerateTokens(ctx context.Context, count int, balance int64) ([]domain.GeneratedToken, error) {
	if count <= 0 {
		count = 1
	}
	if count > maxTokensPerBatch {
		return nil, fmt.Errorf("%w: at most %d tokens per batch", domain.ErrInvalidConfiguration, maxTokensPerBatch)
	}
	if balance <= 0 {
		s.mu.Lock()
		balance = s.settings.StartingBalance
		s.mu.Unlock()
	}

	base := strings.TrimRight(s.baseURL, "/")
	tokens := make([]domain.GeneratedToken, 0, count)
	for i := 0; i < count; i++ {
		participant, err := s.mintParticipant(ctx, balance)
		if err != nil {
			return nil, err
		}
		entryURL := fmt.Sprintf("%s/?token=%s", base, participant.TokenID)
		tokens = append(tokens, domain.GeneratedToken{
			TokenID:   participant.TokenID,
			Balance:   participant.Balance,
			EntryURL:  entryURL,
			QRContent: entryURL,
		})
	}
	s.logger.Info("tokens generated", "count", len(tokens), "starting_balance", balance)
	return tokens, nil
}

func (s *Service) mintParticipant(ctx context.Context, balance int64) (*domain.Participant, error) {
	for attempt := 0; attempt < tokenMintAttempts; attempt++ {
		tokenID, err := newTokenID()
		if err != nil {
			return nil, fmt.Errorf("mint token id: %w", err)
		}
		participant := &domain.Participant{
			ID:      uuid.New(),
			TokenID: tokenID,
			Balance: balance,
		}
		err = s.repo.CreateParticipant(ctx, participant)
		if errors.Is(err, store.ErrDuplicateTokenID) {
			continue
		}
		if err != nil {
			return nil, err
		}
		return participant, nil
	}
	return nil, errors.New("token id space exhausted after repeated collisions")
}
