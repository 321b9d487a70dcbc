package main

import (
	"context"
	"encoding/json"
	"errors"
	"flag"
	"fmt"
	"os"
	"slices"
	"strings"
	"time"

	"github.com/oklog/ulid/v2"

	"github.com/devinsight/devinsight/internal/auth"
	"github.com/devinsight/devinsight/internal/config"
	"github.com/devinsight/devinsight/internal/model"
	"github.com/devinsight/devinsight/internal/repository"
	"github.com/devinsight/devinsight/internal/service"
)

type output struct {
	UserID       string   `json:"user_id"`
	Username     string   `json:"username"`
	Email        string   `json:"email"`
	AccessToken  string   `json:"access_token"`
	RefreshToken string   `json:"refresh_token"`
	ExpiresIn    int64    `json:"expires_in"`
	Scopes       []string `json:"scopes"`
}

func main() {
	var (
		databaseURL = flag.String("database-url", os.Getenv("DATABASE_URL"), "PostgreSQL connection string")
		jwtSecret   = flag.String("jwt-secret", os.Getenv("JWT_SECRET"), "JWT signing secret of the target server")
		issuer      = flag.String("issuer", envOr("JWT_ISSUER", "devinsight"), "JWT issuer")
		username    = flag.String("username", "owner", "Username to create or reuse")
		email       = flag.String("email", "owner@devinsight.local", "User email")
		password    = flag.String("password", os.Getenv("BOOTSTRAP_PASSWORD"), "Password for a new user")
		scopesInput = flag.String("scopes", "read,write", "Comma-separated scopes (read,write)")
		format      = flag.String("format", "plain", "Output format: plain or json")
	)
	flag.Parse()

	if *databaseURL == "" {
		fail("DATABASE_URL is required")
	}
	if len(*jwtSecret) < config.MinJWTSecretLength {
		fail(config.ErrWeakJWTSecret.Error())
	}

	scopes, err := parseScopes(*scopesInput)
	if err != nil {
		fail(err.Error())
	}

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	repo, err := repository.New(ctx, *databaseURL)
	if err != nil {
		fail("connect database:", err)
	}
	defer repo.Close()

	user, err := ensureUser(ctx, repo, *username, *email, *password)
	if err != nil {
		fail(err.Error())
	}

	tokens := auth.NewTokenManager(*jwtSecret, *issuer, 24*time.Hour, 30*24*time.Hour)
	pair, err := tokens.IssuePair(user, scopes)
	if err != nil {
		fail("issue tokens:", err)
	}

	out := output{
		UserID:       user.ID,
		Username:     user.Username,
		Email:        user.Email,
		AccessToken:  pair.AccessToken,
		RefreshToken: pair.RefreshToken,
		ExpiresIn:    pair.ExpiresIn,
		Scopes:       scopes,
	}

	switch strings.ToLower(*format) {
	case "plain":
		fmt.Println(out.AccessToken)
	case "json":
		enc := json.NewEncoder(os.Stdout)
		enc.SetIndent("", "  ")
		_ = enc.Encode(out)
	default:
		fail("invalid format; use plain or json")
	}
}

func fail(args ...any) {
	fmt.Fprintln(os.Stderr, args...)
	os.Exit(1)
}

func envOr(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}

func parseScopes(input string) ([]string, error) {
	if strings.TrimSpace(input) == "" {
		return model.DefaultScopes, nil
	}
	var scopes []string
	for _, part := range strings.Split(input, ",") {
		scope := strings.TrimSpace(part)
		if scope == "" {
			continue
		}
		if !slices.Contains(model.ValidScopes, scope) {
			return nil, fmt.Errorf("invalid scope: %s", scope)
		}
		scopes = append(scopes, scope)
	}
	if len(scopes) == 0 {
		return model.DefaultScopes, nil
	}
	return scopes, nil
}

// ensureUser returns the existing user called username, or creates it.
func ensureUser(ctx context.Context, repo *repository.Repository, username, email, password string) (*model.User, error) {
	existing, err := repo.GetUserByUsername(ctx, username)
	if err == nil {
		if !strings.EqualFold(existing.Email, email) {
			return nil, fmt.Errorf("user %s exists with different email: %s", username, existing.Email)
		}
		return existing, nil
	}
	if !errors.Is(err, repository.ErrUserNotFound) {
		return nil, fmt.Errorf("lookup user: %w", err)
	}

	if err := service.ValidateUsername(username); err != nil {
		return nil, err
	}
	if err := service.ValidateEmail(email); err != nil {
		return nil, err
	}
	if _, err := service.ValidatePassword(password); err != nil {
		return nil, fmt.Errorf("password: %w", err)
	}
	hash, err := auth.HashPassword(password)
	if err != nil {
		return nil, fmt.Errorf("hash password: %w", err)
	}

	now := time.Now().UTC()
	user := &model.User{
		ID:           ulid.Make().String(),
		Username:     username,
		Email:        strings.ToLower(email),
		PasswordHash: hash,
		IsActive:     true,
		CreatedAt:    now,
		UpdatedAt:    now,
	}
	if err := repo.CreateUser(ctx, user); err != nil {
		return nil, fmt.Errorf("create user: %w", err)
	}
	return user, nil
}
