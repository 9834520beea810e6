package tools

import (
	"context"
	"crypto/hmac"
	"crypto/md5"
	"crypto/sha1"
	"crypto/sha256"
	"crypto/sha512"
	"encoding/hex"
	"hash"

	"github.com/google/uuid"

	"github.com/rendis/graphflow/pkg/schema"
)

// CryptoTools returns crypto.hash, crypto.hmac and crypto.uuid.
func CryptoTools() []Tool {
	return []Tool{
		NewFunc("crypto.hash", "Hash the 'data' string (algorithm: sha256, sha384, sha512, sha1, md5)", cryptoHash),
		NewFunc("crypto.hmac", "HMAC the 'data' string with 'key' (algorithm as crypto.hash)", cryptoHMAC),
		NewFunc("crypto.uuid", "Generate a v4 UUID", cryptoUUID),
	}
}

func hashFunc(algorithm string) (func() hash.Hash, error) {
	switch algorithm {
	case "", "sha256":
		return sha256.New, nil
	case "sha512":
		return sha512.New, nil
	case "sha384":
		return sha512.New384, nil
	case "md5":
		return md5.New, nil
	case "sha1":
		return sha1.New, nil
	default:
		return nil, schema.NewErrorf(schema.ErrCodeValidation, "unsupported hash algorithm: %s", algorithm).
			WithDetails(map[string]any{"algorithm": algorithm})
	}
}

func algorithmArg(args map[string]any) string {
	if a, _ := args["algorithm"].(string); a != "" {
		return a
	}
	return "sha256"
}

func cryptoHash(_ context.Context, args map[string]any) (map[string]any, error) {
	data, ok := args["data"].(string)
	if !ok {
		return nil, schema.NewError(schema.ErrCodeValidation, "crypto.hash requires 'data' string argument")
	}
	algorithm := algorithmArg(args)
	newHash, err := hashFunc(algorithm)
	if err != nil {
		return nil, err
	}

	h := newHash()
	h.Write([]byte(data))
	return map[string]any{
		"hash":      hex.EncodeToString(h.Sum(nil)),
		"algorithm": algorithm,
	}, nil
}

func cryptoHMAC(_ context.Context, args map[string]any) (map[string]any, error) {
	data, ok := args["data"].(string)
	if !ok {
		return nil, schema.NewError(schema.ErrCodeValidation, "crypto.hmac requires 'data' string argument")
	}
	key, ok := args["key"].(string)
	if !ok {
		return nil, schema.NewError(schema.ErrCodeValidation, "crypto.hmac requires 'key' string argument")
	}
	algorithm := algorithmArg(args)
	newHash, err := hashFunc(algorithm)
	if err != nil {
		return nil, err
	}

	mac := hmac.New(newHash, []byte(key))
	mac.Write([]byte(data))
	return map[string]any{
		"hmac":      hex.EncodeToString(mac.Sum(nil)),
		"algorithm": algorithm,
	}, nil
}

func cryptoUUID(context.Context, map[string]any) (map[string]any, error) {
	return map[string]any{"uuid": uuid.NewString()}, nil
}
