package core

import (
	"encoding/json"
	"fmt"
	"strings"
	"time"
)

const (
	CredentialPayloadFormatJSONV1 = "token_pair_json"
	CredentialPayloadVersionV1    = 1
)

type CredentialCodec interface {
	Format() string
	Version() int
	Encode(pair TokenPair) ([]byte, error)
	Decode(payload []byte) (TokenPair, error)
}

type JSONCredentialCodec struct{}

func (JSONCredentialCodec) Format() string {
	return CredentialPayloadFormatJSONV1
}

func (JSONCredentialCodec) Version() int {
	return CredentialPayloadVersionV1
}

type jsonTokenPairPayload struct {
	TokenType    string     `json:"token_type,omitempty"`
	AccessToken  string     `json:"access_token,omitempty"`
	RefreshToken string     `json:"refresh_token,omitempty"`
	ExpiresAt    *time.Time `json:"expires_at,omitempty"`
}

func (JSONCredentialCodec) Encode(pair TokenPair) ([]byte, error) {
	if strings.TrimSpace(pair.AccessToken) == "" {
		return nil, fmt.Errorf("core: access token is required")
	}
	payload := jsonTokenPairPayload{
		TokenType:    strings.TrimSpace(pair.TokenType),
		AccessToken:  strings.TrimSpace(pair.AccessToken),
		RefreshToken: strings.TrimSpace(pair.RefreshToken),
		ExpiresAt:    cloneTimePointer(pair.ExpiresAt),
	}
	encoded, err := json.Marshal(payload)
	if err != nil {
		return nil, fmt.Errorf("core: encode credential payload: %w", err)
	}
	return encoded, nil
}

func (JSONCredentialCodec) Decode(payload []byte) (TokenPair, error) {
	if len(payload) == 0 {
		return TokenPair{}, fmt.Errorf("core: credential payload is empty")
	}
	decoded := jsonTokenPairPayload{}
	if err := json.Unmarshal(payload, &decoded); err != nil {
		return TokenPair{}, fmt.Errorf("core: decode credential payload: %w", err)
	}
	pair := TokenPair{
		TokenType:    strings.TrimSpace(decoded.TokenType),
		AccessToken:  strings.TrimSpace(decoded.AccessToken),
		RefreshToken: strings.TrimSpace(decoded.RefreshToken),
		ExpiresAt:    cloneTimePointer(decoded.ExpiresAt),
	}
	if pair.AccessToken == "" {
		return TokenPair{}, fmt.Errorf("core: credential payload is missing access token")
	}
	return pair, nil
}

func cloneTimePointer(value *time.Time) *time.Time {
	if value == nil {
		return nil
	}
	cloned := *value
	return &cloned
}

func copyAnyMap(in map[string]any) map[string]any {
	if len(in) == 0 {
		return nil
	}
	out := make(map[string]any, len(in))
	for key, value := range in {
		out[key] = value
	}
	return out
}

var _ CredentialCodec = (*JSONCredentialCodec)(nil)
