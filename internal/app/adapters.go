package app

import (
	"context"
	"errors"
	"fmt"

	"github.com/vadim/neo-publisher/internal/domain/platform"
	postentity "github.com/vadim/neo-publisher/internal/domain/post/entity"
	"github.com/vadim/neo-publisher/internal/domain/post/policy"
	sessionentity "github.com/vadim/neo-publisher/internal/domain/session/entity"
	sessionservice "github.com/vadim/neo-publisher/internal/domain/session/service"
	"github.com/vadim/neo-publisher/internal/storage"
)

// sessionGateAdapter adapts the session manager to policy.SessionGate
type sessionGateAdapter struct {
	sessions *sessionservice.Service
}

func (a *sessionGateAdapter) Acquire(ctx context.Context, p platform.Platform, account string) (*policy.Credential, error) {
	cred, err := a.sessions.Acquire(ctx, p, account)
	if err != nil {
		if errors.Is(err, sessionentity.ErrSessionNotAuthorized) || errors.Is(err, sessionentity.ErrSessionNotFound) {
			return nil, fmt.Errorf("%w: %s/%s", postentity.ErrSessionNotAuthorized, p, account)
		}
		return nil, err
	}
	return &policy.Credential{
		Account:      cred.Account,
		Token:        cred.Token,
		RefreshToken: cred.RefreshToken,
		TokenExpiry:  cred.TokenExpiry,
		RemoteUserID: cred.RemoteUserID,
	}, nil
}

func (a *sessionGateAdapter) Invalidate(ctx context.Context, p platform.Platform, account, reason string) error {
	return a.sessions.Invalidate(ctx, p, account, reason)
}

func (a *sessionGateAdapter) Touch(ctx context.Context, p platform.Platform, account string) error {
	return a.sessions.Touch(ctx, p, account)
}

// mediaStorageAdapter adapts storage.S3Storage to policy.MediaStorage
type mediaStorageAdapter struct {
	storage *storage.S3Storage
}

func (a *mediaStorageAdapter) Upload(ctx context.Context, in policy.UploadInput) (*postentity.Media, error) {
	out, err := a.storage.Upload(ctx, storage.UploadInput{
		Reader:      in.Reader,
		ContentType: in.ContentType,
		Size:        in.Size,
		Filename:    in.Filename,
	})
	if err != nil {
		return nil, err
	}
	return &postentity.Media{
		Key:         out.Key,
		URL:         out.URL,
		ContentType: in.ContentType,
		Size:        out.Size,
	}, nil
}

func (a *mediaStorageAdapter) Delete(ctx context.Context, key string) error {
	return a.storage.Delete(ctx, key)
}
