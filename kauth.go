// Package kauth wires Kakao and Naver login into a host application: it
// validates the multi-provider configuration, composes the immutable
// provider descriptors and registers them with the OAuth engine.
package kauth

import (
	"github.com/kauthdev/kauth/engine"
	"github.com/kauthdev/kauth/errors"
	"github.com/kauthdev/kauth/provider"
	"github.com/kauthdev/kauth/provider/kakao"
	"github.com/kauthdev/kauth/provider/naver"
)

// Config is the host application's multi-provider configuration. A nil
// provider entry means the provider is not offered. Engine carries
// advanced engine options through unchanged.
type Config struct {
	Kakao  *kakao.Options
	Naver  *naver.Options
	Engine *engine.Options
}

// Validate checks the whole configuration without any network I/O.
// Providers are checked in declaration order (kakao, then naver) and the
// first failure wins, so error reporting is reproducible.
func Validate(cfg Config) error {
	if cfg.Kakao == nil && cfg.Naver == nil {
		return errors.NoProviders()
	}

	if cfg.Kakao != nil {
		if err := provider.ValidateCredentials(provider.Kakao, cfg.Kakao.ClientID, cfg.Kakao.ClientSecret); err != nil {
			return err
		}
	}
	if cfg.Naver != nil {
		if err := provider.ValidateCredentials(provider.Naver, cfg.Naver.ClientID, cfg.Naver.ClientSecret); err != nil {
			return err
		}
	}
	return nil
}

// Compose validates the configuration and builds one descriptor per
// configured provider, in declaration order. On any failure no
// descriptors are returned: a partial list would silently offer a login
// option that is guaranteed to fail.
func Compose(cfg Config) ([]*provider.Descriptor, error) {
	if err := Validate(cfg); err != nil {
		return nil, err
	}

	var descriptors []*provider.Descriptor

	if cfg.Kakao != nil {
		desc, err := kakao.Build(*cfg.Kakao)
		if err != nil {
			return nil, err
		}
		descriptors = append(descriptors, desc)
	}
	if cfg.Naver != nil {
		desc, err := naver.Build(*cfg.Naver)
		if err != nil {
			return nil, err
		}
		descriptors = append(descriptors, desc)
	}

	return descriptors, nil
}

// New composes the configuration and registers the descriptors with a
// new engine. This is the single construction-time entry point for host
// applications; it raises synchronously, never per request.
func New(cfg Config) (*engine.Engine, error) {
	descriptors, err := Compose(cfg)
	if err != nil {
		return nil, err
	}
	return engine.New(descriptors, cfg.Engine)
}
