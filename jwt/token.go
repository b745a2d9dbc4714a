package jwt

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"strings"

	"github.com/golang-jwt/jwt/v5"
)

// DefaultMaxTokenBytes caps the compact token length accepted by Parse.
const DefaultMaxTokenBytes = 16 << 10

var (
	// ErrMalformedToken is returned for tokens that are not well-formed compact JWS.
	ErrMalformedToken = errors.New("malformed token")
)

// Header is the decoded JOSE header.
type Header struct {
	Algorithm string `json:"alg"`
	KeyID     string `json:"kid,omitempty"`
	Type      string `json:"typ,omitempty"`
}

// Token is a parsed, not yet verified, compact JWS.
type Token struct {
	Header Header
	Claims Claims

	signingInput string
	signature    []byte
}

// SigningInput returns the "header.payload" bytes exactly as received.
func (t *Token) SigningInput() string { return t.signingInput }

var segmentDecoder = jwt.NewParser()

// Parse splits and decodes raw without verifying anything. maxBytes <= 0 uses
// DefaultMaxTokenBytes.
func Parse(raw string, maxBytes int) (*Token, error) {
	if maxBytes <= 0 {
		maxBytes = DefaultMaxTokenBytes
	}
	if raw == "" {
		return nil, fmt.Errorf("%w: empty", ErrMalformedToken)
	}
	if len(raw) > maxBytes {
		return nil, fmt.Errorf("%w: exceeds %d bytes", ErrMalformedToken, maxBytes)
	}

	first := strings.IndexByte(raw, '.')
	last := strings.LastIndexByte(raw, '.')
	if first <= 0 || last == first || strings.Count(raw, ".") != 2 {
		return nil, fmt.Errorf("%w: expected three segments", ErrMalformedToken)
	}
	headerSeg, payloadSeg, sigSeg := raw[:first], raw[first+1:last], raw[last+1:]
	if payloadSeg == "" || sigSeg == "" {
		return nil, fmt.Errorf("%w: empty segment", ErrMalformedToken)
	}

	headerJSON, err := segmentDecoder.DecodeSegment(headerSeg)
	if err != nil {
		return nil, fmt.Errorf("%w: header encoding", ErrMalformedToken)
	}
	var header Header
	if err := json.Unmarshal(headerJSON, &header); err != nil {
		return nil, fmt.Errorf("%w: header json", ErrMalformedToken)
	}
	if header.Algorithm == "" {
		return nil, fmt.Errorf("%w: missing alg", ErrMalformedToken)
	}

	payloadJSON, err := segmentDecoder.DecodeSegment(payloadSeg)
	if err != nil {
		return nil, fmt.Errorf("%w: payload encoding", ErrMalformedToken)
	}
	claims, err := decodeClaims(payloadJSON)
	if err != nil {
		return nil, err
	}

	sig, err := segmentDecoder.DecodeSegment(sigSeg)
	if err != nil {
		return nil, fmt.Errorf("%w: signature encoding", ErrMalformedToken)
	}

	return &Token{
		Header:       header,
		Claims:       claims,
		signingInput: raw[:last],
		signature:    sig,
	}, nil
}

func decodeClaims(payload []byte) (Claims, error) {
	dec := json.NewDecoder(bytes.NewReader(payload))
	dec.UseNumber()

	var claims map[string]any
	if err := dec.Decode(&claims); err != nil {
		return nil, fmt.Errorf("%w: payload json", ErrMalformedToken)
	}
	if claims == nil {
		return nil, fmt.Errorf("%w: payload is not an object", ErrMalformedToken)
	}
	if dec.More() {
		return nil, fmt.Errorf("%w: trailing payload data", ErrMalformedToken)
	}
	return Claims(claims), nil
}
