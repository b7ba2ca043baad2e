package api

import (
	"context"
	"fmt"
	"net/http"

	"savebuddy/internal/core"
)

// DefaultMonthlyTarget applies when the server has none stored.
const DefaultMonthlyTarget core.Won = 100000

type loginRequest struct {
	Username string `json:"username"`
	Password string `json:"password"`
}

type loginResponse struct {
	core.User
	Token       string `json:"token"`
	AccessToken string `json:"accessToken"`
}

// Login authenticates with a username and password. The returned token is
// empty when the server only set a session cookie.
func (c *Client) Login(ctx context.Context, username, password string) (core.User, string, error) {
	var resp loginResponse
	if err := c.do(ctx, http.MethodPost, "/api/users/login", loginRequest{Username: username, Password: password}, &resp); err != nil {
		return core.User{}, "", err
	}
	token := resp.Token
	if token == "" {
		token = resp.AccessToken
	}
	return normalizeUser(resp.User), token, nil
}

// Me returns the user the stored credential belongs to.
func (c *Client) Me(ctx context.Context) (core.User, error) {
	var u core.User
	if err := c.do(ctx, http.MethodGet, "/api/users/me", nil, &u); err != nil {
		return core.User{}, err
	}
	return normalizeUser(u), nil
}

func (c *Client) Logout(ctx context.Context) error {
	return c.do(ctx, http.MethodPost, "/api/users/logout", nil, nil)
}

func (c *Client) AddExperience(ctx context.Context, userID int64, experience int) (core.User, error) {
	var u core.User
	body := map[string]int{"experience": experience}
	if err := c.do(ctx, http.MethodPost, fmt.Sprintf("/api/users/%d/experience", userID), body, &u); err != nil {
		return core.User{}, err
	}
	return normalizeUser(u), nil
}

func (c *Client) AddSavings(ctx context.Context, userID int64, amount core.Won) (core.User, error) {
	var u core.User
	body := map[string]core.Won{"amount": amount}
	if err := c.do(ctx, http.MethodPost, fmt.Sprintf("/api/users/%d/savings", userID), body, &u); err != nil {
		return core.User{}, err
	}
	return normalizeUser(u), nil
}

// SetMonthlyTarget stores the user's monthly savings goal. The server takes
// the bare number as the request body.
func (c *Client) SetMonthlyTarget(ctx context.Context, target core.Won) error {
	if err := target.Validate(); err != nil {
		return err
	}
	return c.do(ctx, http.MethodPost, "/api/users/monthly-target", int64(target), nil)
}

func normalizeUser(u core.User) core.User {
	if u.MonthlyTarget <= 0 {
		u.MonthlyTarget = DefaultMonthlyTarget
	}
	return u
}
