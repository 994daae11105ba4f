// Copyright 2025 AxonFlow
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//     http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

package server

import (
	"errors"
	"fmt"
	"net/http"
	"strings"

	"github.com/golang-jwt/jwt/v5"

	"conhub/platform/connectors/base"
)

// Authenticator resolves the calling principal from request metadata
type Authenticator struct {
	secret []byte
}

// NewAuthenticator verifies HS256 tokens with secret. An empty secret
// disables bearer verification.
func NewAuthenticator(secret string) *Authenticator {
	return &Authenticator{secret: []byte(secret)}
}

// Principal returns the calling principal. With a secret configured only the
// sub claim of a valid bearer token identifies the caller; requests without
// one run as the default principal and X-Principal is ignored. Without a
// secret the X-Principal header is trusted. A bearer token that fails
// verification is an error, never a fallback.
func (a *Authenticator) Principal(r *http.Request) (string, error) {
	if len(a.secret) > 0 {
		header := r.Header.Get("Authorization")
		if header == "" {
			return base.DefaultPrincipal, nil
		}
		token, ok := strings.CutPrefix(header, "Bearer ")
		if !ok {
			return "", errors.New("authorization header must use the Bearer scheme")
		}
		return a.Subject(strings.TrimSpace(token))
	}
	if p := strings.TrimSpace(r.Header.Get(headerPrincipal)); p != "" {
		return p, nil
	}
	return base.DefaultPrincipal, nil
}

// Subject validates tokenString and returns its sub claim
func (a *Authenticator) Subject(tokenString string) (string, error) {
	token, err := jwt.Parse(tokenString, func(token *jwt.Token) (interface{}, error) {
		return a.secret, nil
	}, jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}))
	if err != nil || !token.Valid {
		return "", fmt.Errorf("invalid token: %w", err)
	}

	sub, err := token.Claims.GetSubject()
	if err != nil || sub == "" {
		return "", errors.New("token has no subject")
	}
	return sub, nil
}
