package state

import (
	"context"
	"fmt"
	"os"
	"reflect"
	"strings"

	"github.com/viant/scy"
)

// TokenStore keeps the bearer token somewhere other than the identity file.
type TokenStore interface {
	Load(ctx context.Context) (string, error)
	Save(ctx context.Context, token string) error
}

type credential struct {
	Token string `json:"token"`
}

// ScyTokenStore keeps the token as an encrypted scy secret, e.g.
// "~/.callnode/token.json|blowfish://default".
type ScyTokenStore struct {
	service  *scy.Service
	tokenURL string
}

func NewScyTokenStore(tokenURL string) *ScyTokenStore {
	return &ScyTokenStore{
		service:  scy.New(),
		tokenURL: strings.TrimSpace(tokenURL),
	}
}

func (s *ScyTokenStore) Load(ctx context.Context) (string, error) {
	if s.tokenURL == "" {
		return "", fmt.Errorf("token url was empty")
	}
	resource := scy.EncodedResource(s.tokenURL).Decode(ctx, reflect.TypeOf(credential{}))
	secret, err := s.service.Load(ctx, resource)
	if err != nil {
		if isNotFound(err) {
			return "", nil
		}
		return "", err
	}
	cred, ok := secret.Target.(*credential)
	if !ok {
		return "", fmt.Errorf("unexpected credential type: %T", secret.Target)
	}
	return strings.TrimSpace(cred.Token), nil
}

func (s *ScyTokenStore) Save(ctx context.Context, token string) error {
	if s.tokenURL == "" {
		return fmt.Errorf("token url was empty")
	}
	resource := scy.EncodedResource(s.tokenURL).Decode(ctx, reflect.TypeOf(credential{}))
	secret := scy.NewSecret(&credential{Token: token}, resource)
	return s.service.Store(ctx, secret)
}

// ResolveToken fills id.Token from store when the identity file has none,
// and moves a plain-text token into the store when it has one.
func ResolveToken(ctx context.Context, id *Identity, store TokenStore) (bool, error) {
	if store == nil {
		return false, nil
	}
	if id.LoggedIn() {
		if err := store.Save(ctx, id.Token); err != nil {
			return false, err
		}
		return true, nil
	}
	token, err := store.Load(ctx)
	if err != nil {
		return false, err
	}
	id.Token = token
	return false, nil
}

func isNotFound(err error) bool {
	if err == nil {
		return false
	}
	if os.IsNotExist(err) {
		return true
	}
	msg := strings.ToLower(err.Error())
	return strings.Contains(msg, "no such file or directory") || strings.Contains(msg, "not found")
}
