package authkit

import (
	"encoding/json"

	goerrors "github.com/goliatone/go-errors"
)

// TokenPair is the access/refresh pair owned by the TokenStore. A pair is
// either fully present or fully absent; partial pairs are never stored.
type TokenPair struct {
	AccessToken  string `json:"accessToken"`
	RefreshToken string `json:"refreshToken"`
}

func (p TokenPair) IsZero() bool {
	return p.AccessToken == "" && p.RefreshToken == ""
}

// Complete reports whether both halves of the pair are present.
func (p TokenPair) Complete() bool {
	return p.AccessToken != "" && p.RefreshToken != ""
}

// normalizeTokenPayload extracts a TokenPair from a token-bearing response
// body. Older backends nest the pair under data.tokens, newer ones return a
// top-level tokens object, and the refresh endpoint historically returned
// bare top-level fields. All three shapes are accepted here and nowhere else.
func normalizeTokenPayload(body []byte) (TokenPair, error) {
	var shape struct {
		TokenPair
		Tokens *TokenPair `json:"tokens"`
		Data   *struct {
			Tokens *TokenPair `json:"tokens"`
		} `json:"data"`
	}

	if err := json.Unmarshal(body, &shape); err != nil {
		return TokenPair{}, goerrors.Wrap(err, goerrors.CategoryValidation, "malformed token payload").
			WithTextCode(textCodeRefreshFailed)
	}

	if shape.Data != nil && shape.Data.Tokens != nil && shape.Data.Tokens.Complete() {
		return *shape.Data.Tokens, nil
	}
	if shape.Tokens != nil && shape.Tokens.Complete() {
		return *shape.Tokens, nil
	}
	if shape.TokenPair.Complete() {
		return shape.TokenPair, nil
	}

	return TokenPair{}, goerrors.New("token payload carries no complete token pair", goerrors.CategoryValidation).
		WithTextCode(textCodeRefreshFailed)
}
