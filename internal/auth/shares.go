package auth

import (
	"context"
	"errors"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/datagate-io/datagate/internal/model"
	"github.com/datagate-io/datagate/internal/proxyerr"
	"github.com/datagate-io/datagate/internal/registry"
)

// GenerateShareID mints an opaque public share identifier (UUIDv7 with the
// dashes stripped, time-sortable for operators but meaningless to callers).
func GenerateShareID() string {
	return strings.ReplaceAll(uuid.Must(uuid.NewV7()).String(), "-", "")
}

// ResolveShare resolves a public share identifier to its connector and the
// link's implicit scope. Links that never existed return NOT_FOUND; expired
// or deactivated links return LINK_EXPIRED so callers can distinguish "ask
// for a new link" from "wrong URL".
func (s *Service) ResolveShare(ctx context.Context, shareID string) (*model.Connector, *model.ShareLink, error) {
	if shareID == "" {
		return nil, nil, proxyerr.New(proxyerr.CodeNotFound, "share link not found")
	}

	link, err := s.store.GetShareLink(ctx, shareID)
	if err != nil {
		if errors.Is(err, registry.ErrNotFound) {
			return nil, nil, proxyerr.New(proxyerr.CodeNotFound, "share link not found")
		}
		return nil, nil, proxyerr.Wrap(proxyerr.CodeStorageError, err, "share link lookup failed")
	}

	if !link.IsActive || link.Expired(time.Now()) {
		return nil, nil, proxyerr.New(proxyerr.CodeLinkExpired, "share link has expired or been deactivated")
	}

	conn, err := s.store.GetConnector(ctx, link.ConnectorID)
	if err != nil {
		if errors.Is(err, registry.ErrNotFound) {
			return nil, nil, proxyerr.New(proxyerr.CodeNotFound, "share link target no longer exists")
		}
		return nil, nil, proxyerr.Wrap(proxyerr.CodeStorageError, err, "connector lookup failed")
	}
	if !conn.IsActive {
		return nil, nil, proxyerr.New(proxyerr.CodeLinkExpired, "share link has expired or been deactivated")
	}

	// Best-effort usage counter. A counting failure must not fail the request.
	go s.store.IncrementShareUse(context.Background(), link.ID)

	return conn, link, nil
}
