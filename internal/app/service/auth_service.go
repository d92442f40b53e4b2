package service

import (
	"context"
	"fmt"

	"github.com/VerticalLabs-ai/rfp-ml-sub001/internal/common"
	"github.com/VerticalLabs-ai/rfp-ml-sub001/internal/common/security"
	"github.com/VerticalLabs-ai/rfp-ml-sub001/internal/domain/model"
)

type AuthService struct {
	accounts map[string]model.Account
}

func NewAuthService(accounts []model.Account) *AuthService {
	byName := make(map[string]model.Account, len(accounts))
	for _, acc := range accounts {
		byName[acc.Username] = acc
	}
	return &AuthService{accounts: byName}
}

type LoginRequest struct {
	Username string `json:"username"`
	Password string `json:"password"`
}

type AuthResponse struct {
	Account model.Account `json:"account"`
	Token   string        `json:"token"`
}

func (s *AuthService) Login(ctx context.Context, req LoginRequest) (*AuthResponse, error) {
	if req.Username == "" || req.Password == "" {
		return nil, common.ErrBadRequest
	}

	acc, ok := s.accounts[req.Username]
	if !ok || !security.CheckPasswordHash(req.Password, acc.PasswordHash) {
		return nil, common.ErrUnauthorized // Generic message for security
	}

	token, err := security.GenerateToken(acc.Username, acc.Role)
	if err != nil {
		return nil, fmt.Errorf("failed to generate token: %w", err)
	}
	return &AuthResponse{Account: acc, Token: token}, nil
}
