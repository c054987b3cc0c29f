// Copyright 2025 Tom Barlow
//
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

package vault

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/tombee/switchyard/internal/log"
)

// revokeTimeout bounds a background revocation.
const revokeTimeout = 30 * time.Second

// Rotator replaces and revokes secrets. Revocation runs in the background;
// Wait blocks until pending revocations finish.
type Rotator struct {
	vault  Vault
	logger *slog.Logger
	wg     sync.WaitGroup
}

// NewRotator creates a Rotator.
func NewRotator(v Vault, logger *slog.Logger) *Rotator {
	if logger == nil {
		logger = log.Discard()
	}
	return &Rotator{vault: v, logger: log.WithComponent(logger, "vault")}
}

// Rotate stores secrets under a new id and hands it to persist. When
// persist succeeds the old secret is revoked asynchronously; when it fails
// the new secret is revoked and the old one stays live. oldID may be empty.
func (r *Rotator) Rotate(ctx context.Context, tenant, kind, oldID string, secrets map[string]any, persist func(newID string) error) (string, error) {
	newID, err := r.vault.Set(ctx, tenant, kind, secrets)
	if err != nil {
		return "", err
	}

	if err := persist(newID); err != nil {
		r.Revoke(tenant, kind, newID)
		return "", err
	}

	if oldID != "" {
		r.Revoke(tenant, kind, oldID)
	}
	return newID, nil
}

// Revoke deletes a secret in the background. Failures are logged.
func (r *Rotator) Revoke(tenant, kind, id string) {
	r.wg.Add(1)
	go func() {
		defer r.wg.Done()
		ctx, cancel := context.WithTimeout(context.Background(), revokeTimeout)
		defer cancel()

		if err := r.vault.Delete(ctx, tenant, kind, id); err != nil {
			r.logger.Warn("failed to revoke secret",
				slog.String(log.TenantKey, tenant),
				slog.String(log.SourceKindKey, kind),
				log.Error(err))
			return
		}
		r.logger.Debug("secret revoked", slog.String(log.TenantKey, tenant), slog.String(log.SourceKindKey, kind))
	}()
}

// Wait blocks until every pending revocation has finished.
func (r *Rotator) Wait() {
	r.wg.Wait()
}
