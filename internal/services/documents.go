package services

import (
	"context"
	"fmt"
	"net/url"
	"time"

	"github.com/pkg/errors"
	"github.com/rs/zerolog/log"
	"golang.org/x/sync/errgroup"
	"google.golang.org/grpc/codes"

	"github.com/Ananth-NQI/signdesk-backend/internal/apperr"
	"github.com/Ananth-NQI/signdesk-backend/internal/models"
	"github.com/Ananth-NQI/signdesk-backend/internal/storage"
	"github.com/Ananth-NQI/signdesk-backend/internal/utils"
)

const pdfContentType = "application/pdf"

// DownloadURL is a time-limited link to a stored artifact.
type DownloadURL struct {
	URL       string    `json:"url"`
	ExpiresAt time.Time `json:"expiresAt"`
}

// DocumentService stores completed artifacts and hands out download links.
type DocumentService struct {
	store   storage.Store
	blobs   storage.BlobStore
	cipher  *utils.DocumentCipher
	gateway EnvelopeGateway
	urlTTL  time.Duration
	timeout time.Duration

	Now func() time.Time
}

func NewDocumentService(store storage.Store, blobs storage.BlobStore, cipher *utils.DocumentCipher, gateway EnvelopeGateway, urlTTL, timeout time.Duration) *DocumentService {
	return &DocumentService{
		store:   store,
		blobs:   blobs,
		cipher:  cipher,
		gateway: gateway,
		urlTTL:  urlTTL,
		timeout: timeout,
		Now:     time.Now,
	}
}

// ArtifactPath is the blob key of one artifact of a session.
func ArtifactPath(transactionID, sessionID, kind string) string {
	return fmt.Sprintf("contracts/%s/%s/%s.pdf", transactionID, sessionID, kind)
}

// StoreArtifacts downloads, encrypts and stores the final documents of a session
// in parallel. It returns the blob paths of the documents that were provided.
func (d *DocumentService) StoreArtifacts(ctx context.Context, session *models.SigningSession, docs *models.ProviderDocuments) (signedPath, auditPath string, err error) {
	if docs == nil {
		return "", "", nil
	}

	g, gctx := errgroup.WithContext(ctx)
	store := func(kind, source string, dest *string) {
		if source == "" {
			return
		}
		path := ArtifactPath(session.TransactionID, session.ID, kind)
		g.Go(func() error {
			if err := d.storeArtifact(gctx, source, path); err != nil {
				return errors.Wrapf(err, "store %s document", kind)
			}
			*dest = path
			return nil
		})
	}
	store(models.DocumentKindSigned, docs.Signed, &signedPath)
	store(models.DocumentKindAudit, docs.Audit, &auditPath)

	if err := g.Wait(); err != nil {
		return "", "", err
	}
	log.Info().Str("session_id", session.ID).Str("signed", signedPath).Str("audit", auditPath).Msg("documents stored")
	return signedPath, auditPath, nil
}

func (d *DocumentService) storeArtifact(ctx context.Context, source, path string) error {
	ctx, cancel := context.WithTimeout(ctx, d.timeout)
	defer cancel()

	data, err := d.gateway.DownloadDocument(ctx, source)
	if err != nil {
		return err
	}
	encrypted, err := d.cipher.Encrypt(data, []byte(path))
	if err != nil {
		return err
	}
	return d.blobs.Put(ctx, path, encrypted, pdfContentType)
}

// GetDownloadURL returns a short-lived link to one artifact of a session.
func (d *DocumentService) GetDownloadURL(ctx context.Context, caller *models.Caller, sessionID, kind string) (*DownloadURL, error) {
	if kind != models.DocumentKindSigned && kind != models.DocumentKindAudit {
		return nil, apperr.InvalidArgument("document kind must be signed or audit")
	}
	session, err := d.store.GetSession(ctx, sessionID)
	if err != nil {
		return nil, storeError(err, "session")
	}
	if !canView(caller, session) {
		return nil, apperr.PermissionDenied("not allowed to download documents of this session")
	}

	path := session.DocumentPath(kind)
	if path == "" {
		return nil, apperr.NotFound(kind + " document is not available")
	}

	ctx, cancel := context.WithTimeout(ctx, d.timeout)
	defer cancel()
	signed, err := d.blobs.SignedURL(ctx, path, d.urlTTL)
	if err != nil {
		return nil, apperr.Unavailable(err, "document storage unavailable")
	}
	log.Info().Str("session_id", sessionID).Str("kind", kind).Str("caller", caller.UserID).Msg("download url issued")
	return &DownloadURL{URL: signed, ExpiresAt: d.Now().Add(d.urlTTL)}, nil
}

// OpenArtifact validates a signed link and returns the decrypted document.
func (d *DocumentService) OpenArtifact(ctx context.Context, link *url.URL) ([]byte, error) {
	key, err := d.blobs.KeyFromSignedURL(ctx, link)
	if err != nil {
		return nil, apperr.Wrap(err, codes.PermissionDenied, "download link is invalid or expired")
	}
	encrypted, err := d.blobs.Get(ctx, key)
	if err != nil {
		return nil, storeError(err, "document")
	}
	data, err := d.cipher.Decrypt(encrypted, []byte(key))
	if err != nil {
		return nil, apperr.Internal(err)
	}
	return data, nil
}
