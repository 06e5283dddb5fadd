package service

import (
	"context"
	"fmt"

	"github.com/driftlock/driftlock/internal/auth/user"
)

// RegisterInput carries the identity fields for a new account.
type RegisterInput struct {
	Email    string
	Username string
}

// RegisterResult reports a created account and its first session token.
// The token lets the client enroll a passkey immediately after signup.
type RegisterResult struct {
	User  user.User
	Token string
}

// Register creates an account. Email and username conflicts surface as
// typed errors; email comparison is case-insensitive because the address
// is normalized to lower case before storage.
func (s *AuthService) Register(ctx context.Context, in RegisterInput) (RegisterResult, error) {
	ctx, span := s.tracer.Start(ctx, "auth.Register")
	defer span.End()

	created, err := user.CreateUser(user.CreateUserInput{
		Email:    in.Email,
		Username: in.Username,
	}, s.clock, s.idGenerator)
	if err != nil {
		return RegisterResult{}, err
	}

	if err := s.store.PutUser(ctx, created); err != nil {
		return RegisterResult{}, err
	}

	sessionToken, err := s.tokens.Issue(created.ID, false)
	if err != nil {
		return RegisterResult{}, fmt.Errorf("issue session token: %w", err)
	}

	s.logger.InfoContext(ctx, "user registered",
		"user_id", created.ID,
		"username", created.Username,
	)
	return RegisterResult{User: created, Token: sessionToken}, nil
}
