package config

import (
	"errors"
	"fmt"
	"os"

	"gopkg.in/yaml.v3"

	"github.com/casthq/shophand/internal/core"
)

var (
	// ErrShopNotFound is returned when no configured shop matches a
	// lookup.
	ErrShopNotFound = errors.New("shop not found")

	// ErrNoDefaultShop is returned when a default shop is needed but
	// none is configured and more than one shop exists.
	ErrNoDefaultShop = errors.New("no default shop configured")
)

// shopsFile is the on-disk shape of the credential file. The current form is
// a single flat shop record; the legacy form is a named list with an
// optional default pointer. Both may not be mixed.
type shopsFile struct {
	core.ShopConfig `yaml:",inline"`

	Default string            `yaml:"default"`
	Shops   []core.ShopConfig `yaml:"shops"`
}

// ShopStore resolves shop credentials loaded from the shops file. It
// implements core.ShopSource.
type ShopStore struct {
	shops       []*core.ShopConfig
	byDomain    map[string]*core.ShopConfig
	defaultShop *core.ShopConfig
}

// LoadShops parses the credential file at path. defaultName, when not empty,
// overrides the file's own default pointer; it may name a shop by name or
// domain.
func LoadShops(path, defaultName string) (*ShopStore, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read shops file %s: %w", path, err)
	}

	var file shopsFile
	if err := yaml.Unmarshal(data, &file); err != nil {
		return nil, fmt.Errorf("failed to parse shops file %s: %w", path, err)
	}

	var shops []core.ShopConfig
	switch {
	case len(file.Shops) > 0 && file.Domain != "":
		return nil, fmt.Errorf("shops file %s mixes the flat form with a shops list", path)
	case len(file.Shops) > 0:
		shops = file.Shops
	case file.Domain != "":
		shops = []core.ShopConfig{file.ShopConfig}
	default:
		return nil, fmt.Errorf("shops file %s declares no shops", path)
	}

	store := &ShopStore{
		byDomain: make(map[string]*core.ShopConfig, len(shops)),
	}
	for i := range shops {
		shop := &shops[i]
		if shop.Domain == "" {
			return nil, fmt.Errorf("shop %q has no domain", shop.Name)
		}
		if shop.AccessToken == "" {
			return nil, fmt.Errorf("shop %s has no access token", shop.Domain)
		}
		if _, dup := store.byDomain[shop.Domain]; dup {
			return nil, fmt.Errorf("shop domain %s declared twice", shop.Domain)
		}
		store.shops = append(store.shops, shop)
		store.byDomain[shop.Domain] = shop
	}

	wantDefault := defaultName
	if wantDefault == "" {
		wantDefault = file.Default
	}
	if wantDefault != "" {
		for _, shop := range store.shops {
			if shop.Name == wantDefault || shop.Domain == wantDefault {
				store.defaultShop = shop
				break
			}
		}
		if store.defaultShop == nil {
			return nil, fmt.Errorf("default shop %q: %w", wantDefault, ErrShopNotFound)
		}
	} else if len(store.shops) == 1 {
		store.defaultShop = store.shops[0]
	}

	return store, nil
}

// ByDomain returns the shop configured for the given domain.
func (s *ShopStore) ByDomain(domain string) (*core.ShopConfig, error) {
	shop, ok := s.byDomain[domain]
	if !ok {
		return nil, fmt.Errorf("shop %s: %w", domain, ErrShopNotFound)
	}
	return shop, nil
}

// Default returns the shop used for deliveries without a shop domain.
func (s *ShopStore) Default() (*core.ShopConfig, error) {
	if s.defaultShop == nil {
		return nil, ErrNoDefaultShop
	}
	return s.defaultShop, nil
}

// All returns every configured shop.
func (s *ShopStore) All() []*core.ShopConfig {
	return s.shops
}
