package integrations

import (
	"context"
	"errors"
	"net/http"
	"time"

	"golang.org/x/oauth2"
)

// defaultTokenLifetime is assumed when a token endpoint omits expires_in.
const defaultTokenLifetime = time.Hour

// RefreshWithConfig exchanges refreshToken at cfg's token endpoint. The
// returned error is always an *APIError: token endpoint rejections carry the
// HTTP status and body, everything else is flagged as a transport failure.
// httpClient may be nil.
func RefreshWithConfig(ctx context.Context, cfg *oauth2.Config, httpClient *http.Client, refreshToken string) (*RefreshResult, error) {
	if httpClient != nil {
		ctx = context.WithValue(ctx, oauth2.HTTPClient, httpClient)
	}

	// An already-expired token forces the source to hit the token endpoint.
	src := cfg.TokenSource(ctx, &oauth2.Token{
		RefreshToken: refreshToken,
		Expiry:       time.Unix(1, 0),
	})
	tok, err := src.Token()
	if err != nil {
		return nil, convertOAuthError(err)
	}

	res := &RefreshResult{
		AccessToken:  tok.AccessToken,
		RefreshToken: tok.RefreshToken,
		ExpiresIn:    defaultTokenLifetime,
	}
	if !tok.Expiry.IsZero() {
		res.ExpiresIn = time.Until(tok.Expiry)
	}
	if scope, ok := tok.Extra("scope").(string); ok {
		res.Scope = scope
	}
	// The oauth2 package echoes the input refresh token when none is returned.
	if res.RefreshToken == refreshToken {
		res.RefreshToken = ""
	}
	return res, nil
}

func convertOAuthError(err error) *APIError {
	var retrieveErr *oauth2.RetrieveError
	if errors.As(err, &retrieveErr) {
		status := 0
		if retrieveErr.Response != nil {
			status = retrieveErr.Response.StatusCode
		}
		msg := "token refresh rejected"
		if retrieveErr.ErrorCode != "" {
			msg += ": " + retrieveErr.ErrorCode
		}
		return &APIError{StatusCode: status, Message: msg, Body: string(retrieveErr.Body), Err: err}
	}
	return NewTransportError("token refresh request failed", err)
}

// BearerClient returns a client that sends accessToken on every request.
// base may be nil.
func BearerClient(base *http.Client, accessToken string) *http.Client {
	var rt http.RoundTripper
	timeout := time.Duration(0)
	if base != nil {
		rt = base.Transport
		timeout = base.Timeout
	}
	return &http.Client{
		Transport: &oauth2.Transport{
			Source: oauth2.StaticTokenSource(&oauth2.Token{AccessToken: accessToken, TokenType: "Bearer"}),
			Base:   rt,
		},
		Timeout: timeout,
	}
}
