// Package auth validates the basic-auth API credentials configured through
// ApiKeys__N__Key / ApiKeys__N__Secret / ApiKeys__N__Name environment
// variables.
package auth

import (
	"crypto/subtle"
	"encoding/base64"
	"fmt"
	"os"
	"strings"

	"market-replay-broker/internal/errs"
)

// maxEnvKeys bounds the ApiKeys__N__* scan.
const maxEnvKeys = 16

// APIKey is one configured credential pair.
type APIKey struct {
	Key    string
	Secret string
	Name   string
}

// Registry holds the configured API keys.
type Registry struct {
	keys []APIKey
}

// NewRegistry builds a registry from explicit keys.
func NewRegistry(keys []APIKey) *Registry {
	return &Registry{keys: keys}
}

// NewRegistryFromEnv scans ApiKeys__0__* .. ApiKeys__15__*.
func NewRegistryFromEnv() *Registry {
	var keys []APIKey
	for i := 0; i < maxEnvKeys; i++ {
		key := os.Getenv(fmt.Sprintf("ApiKeys__%d__Key", i))
		secret := os.Getenv(fmt.Sprintf("ApiKeys__%d__Secret", i))
		if key == "" || secret == "" {
			continue
		}
		keys = append(keys, APIKey{
			Key:    key,
			Secret: secret,
			Name:   os.Getenv(fmt.Sprintf("ApiKeys__%d__Name", i)),
		})
	}
	return &Registry{keys: keys}
}

// Empty reports whether no keys are configured.
func (r *Registry) Empty() bool {
	return len(r.keys) == 0
}

// Authenticate checks an Authorization header value ("Basic base64(key:secret)")
// and returns the matching key on success.
func (r *Registry) Authenticate(header string) (*APIKey, error) {
	const prefix = "Basic "
	if !strings.HasPrefix(header, prefix) {
		return nil, errs.E(errs.KindUnauthenticated, "missing or malformed Authorization header")
	}
	raw, err := base64.StdEncoding.DecodeString(strings.TrimPrefix(header, prefix))
	if err != nil {
		return nil, errs.E(errs.KindUnauthenticated, "invalid basic auth encoding")
	}
	key, secret, ok := strings.Cut(string(raw), ":")
	if !ok {
		return nil, errs.E(errs.KindUnauthenticated, "invalid basic auth format")
	}

	for i := range r.keys {
		k := &r.keys[i]
		keyOK := subtle.ConstantTimeCompare([]byte(k.Key), []byte(key)) == 1
		secretOK := subtle.ConstantTimeCompare([]byte(k.Secret), []byte(secret)) == 1
		if keyOK && secretOK {
			return k, nil
		}
	}
	return nil, errs.E(errs.KindUnauthenticated, "invalid credentials")
}
