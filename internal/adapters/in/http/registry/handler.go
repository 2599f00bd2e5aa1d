// Package registry implements the HTTP adapter for the Distribution v2
// wire protocol: manual path-based routing dispatches each /v2/ request to
// the registry orchestration service, following the same routing style and
// error envelope the teacher's registry handler uses.
package registry

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"strings"

	"github.com/bnema/zerowrap"

	"github.com/coreforge/registry/internal/adapters/dto"
	"github.com/coreforge/registry/internal/adapters/in/http/middleware"
	"github.com/coreforge/registry/internal/boundaries/in"
	"github.com/coreforge/registry/internal/domain"
	"github.com/coreforge/registry/pkg/validation"
)

const (
	// MaxManifestSize limits manifest uploads to 10MB.
	MaxManifestSize = 10 * 1024 * 1024
	// MaxBlobChunkSize limits individual blob chunks to 100MB.
	MaxBlobChunkSize = 100 * 1024 * 1024
	// DefaultCatalogPageSize is the page size used when a catalog or tag
	// list request supplies no explicit "n" query parameter.
	DefaultCatalogPageSize = 100
)

// Handler implements the HTTP handler for Docker Registry API v2.
type Handler struct {
	registrySvc in.RegistryService
	log         zerowrap.Logger
}

// NewHandler creates a new registry HTTP handler.
func NewHandler(registrySvc in.RegistryService, log zerowrap.Logger) *Handler {
	return &Handler{registrySvc: registrySvc, log: log}
}

// RegisterRoutes registers the registry routes on the given mux.
func (h *Handler) RegisterRoutes(mux *http.ServeMux) {
	mux.HandleFunc("/v2/", h.handleRegistryRoutes)
	mux.HandleFunc("/extensions/v2/", h.handleExtensionRoutes)
}

// ServeHTTP implements http.Handler.
func (h *Handler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	if strings.HasPrefix(r.URL.Path, "/extensions/v2/") {
		h.handleExtensionRoutes(w, r)
		return
	}
	h.handleRegistryRoutes(w, r)
}

func withAdapterFields(r *http.Request) *http.Request {
	ctx := zerowrap.CtxWithFields(r.Context(), map[string]any{
		zerowrap.FieldLayer:   "adapter",
		zerowrap.FieldAdapter: "http",
		zerowrap.FieldHandler: "registry",
		zerowrap.FieldMethod:  r.Method,
		zerowrap.FieldPath:    r.URL.Path,
	})
	return r.WithContext(ctx)
}

func (h *Handler) handleRegistryRoutes(w http.ResponseWriter, r *http.Request) {
	r = withAdapterFields(r)
	path := r.URL.Path

	switch {
	case path == "/v2/" || path == "/v2":
		h.handleBase(w, r)
	case strings.Contains(path, "/manifests/"):
		h.handleManifestRoutes(w, r)
	case strings.Contains(path, "/blobs/uploads/"):
		h.handleBlobUploadRoutes(w, r)
	case strings.Contains(path, "/blobs/") && !strings.Contains(path, "/uploads/"):
		h.handleBlobRoutes(w, r)
	case strings.HasSuffix(path, "/tags/list"):
		h.handleTagListRoutes(w, r)
	case path == "/v2/_catalog":
		h.handleCatalog(w, r)
	default:
		h.sendRegistryError(w, http.StatusNotFound, domain.CodeNameUnknown, "route not found")
	}
}

func (h *Handler) handleExtensionRoutes(w http.ResponseWriter, r *http.Request) {
	r = withAdapterFields(r)
	// Parse path: /extensions/v2/{name}/signatures/{digest}
	path := strings.TrimPrefix(r.URL.Path, "/extensions/v2/")
	sigIndex := strings.Index(path, "/signatures/")
	if sigIndex == -1 {
		h.sendRegistryError(w, http.StatusNotFound, domain.CodeNameUnknown, "route not found")
		return
	}

	name := path[:sigIndex]
	digest := path[sigIndex+len("/signatures/"):]

	if err := validation.ValidateRepositoryName(name); err != nil {
		h.sendRegistryError(w, http.StatusBadRequest, domain.CodeNameInvalid, err.Error())
		return
	}

	r.SetPathValue("name", name)

	if digest == "" {
		switch r.Method {
		case http.MethodGet:
			h.handleListSignatures(w, r)
		default:
			h.sendRegistryError(w, http.StatusMethodNotAllowed, domain.CodeUnsupported, "method not allowed")
		}
		return
	}

	if err := validation.ValidateDigest(digest); err != nil {
		h.sendRegistryError(w, http.StatusBadRequest, domain.CodeDigestInvalid, err.Error())
		return
	}
	r.SetPathValue("digest", digest)

	switch r.Method {
	case http.MethodGet:
		h.handleListSignatures(w, r)
	case http.MethodPut:
		h.handlePutSignature(w, r)
	default:
		h.sendRegistryError(w, http.StatusMethodNotAllowed, domain.CodeUnsupported, "method not allowed")
	}
}

func (h *Handler) handleManifestRoutes(w http.ResponseWriter, r *http.Request) {
	parts := strings.Split(strings.TrimPrefix(r.URL.Path, "/v2/"), "/")
	if len(parts) < 3 || parts[len(parts)-2] != "manifests" {
		h.sendRegistryError(w, http.StatusNotFound, domain.CodeNameUnknown, "route not found")
		return
	}

	reference := parts[len(parts)-1]
	name := strings.Join(parts[:len(parts)-2], "/")

	if err := validation.ValidateRepositoryName(name); err != nil {
		h.sendRegistryError(w, http.StatusBadRequest, domain.CodeNameInvalid, err.Error())
		return
	}
	if err := validation.ValidateReference(reference); err != nil {
		h.sendRegistryError(w, http.StatusBadRequest, domain.CodeTagInvalid, err.Error())
		return
	}

	r.SetPathValue("name", name)
	r.SetPathValue("reference", reference)

	switch r.Method {
	case http.MethodHead, http.MethodGet:
		h.handleGetManifest(w, r)
	case http.MethodPut:
		h.handlePutManifest(w, r)
	case http.MethodDelete:
		h.handleDeleteManifest(w, r)
	default:
		h.sendRegistryError(w, http.StatusMethodNotAllowed, domain.CodeUnsupported, "method not allowed")
	}
}

func (h *Handler) handleBlobRoutes(w http.ResponseWriter, r *http.Request) {
	parts := strings.Split(strings.TrimPrefix(r.URL.Path, "/v2/"), "/")
	if len(parts) < 3 || parts[len(parts)-2] != "blobs" {
		h.sendRegistryError(w, http.StatusNotFound, domain.CodeNameUnknown, "route not found")
		return
	}

	digest := parts[len(parts)-1]
	name := strings.Join(parts[:len(parts)-2], "/")

	if err := validation.ValidateRepositoryName(name); err != nil {
		h.sendRegistryError(w, http.StatusBadRequest, domain.CodeNameInvalid, err.Error())
		return
	}
	if err := validation.ValidateDigest(digest); err != nil {
		h.sendRegistryError(w, http.StatusBadRequest, domain.CodeDigestInvalid, err.Error())
		return
	}

	r.SetPathValue("name", name)
	r.SetPathValue("digest", digest)

	switch r.Method {
	case http.MethodHead, http.MethodGet:
		h.handleGetBlob(w, r)
	default:
		h.sendRegistryError(w, http.StatusMethodNotAllowed, domain.CodeUnsupported, "method not allowed")
	}
}

func (h *Handler) handleBlobUploadRoutes(w http.ResponseWriter, r *http.Request) {
	path := strings.TrimPrefix(r.URL.Path, "/v2/")
	uploadIndex := strings.Index(path, "/blobs/uploads/")
	if uploadIndex == -1 {
		h.sendRegistryError(w, http.StatusNotFound, domain.CodeNameUnknown, "route not found")
		return
	}

	name := path[:uploadIndex]
	uploadPart := path[uploadIndex+len("/blobs/uploads/"):]

	if err := validation.ValidateRepositoryName(name); err != nil {
		h.sendRegistryError(w, http.StatusBadRequest, domain.CodeNameInvalid, err.Error())
		return
	}

	r.SetPathValue("name", name)

	if uploadPart == "" {
		switch r.Method {
		case http.MethodPost:
			h.handleStartOrMountBlob(w, r)
		default:
			h.sendRegistryError(w, http.StatusMethodNotAllowed, domain.CodeUnsupported, "method not allowed")
		}
		return
	}

	if err := validation.ValidateUUID(uploadPart); err != nil {
		h.sendRegistryError(w, http.StatusBadRequest, domain.CodeBlobUploadInvalid, err.Error())
		return
	}
	r.SetPathValue("uuid", uploadPart)

	switch r.Method {
	case http.MethodPatch, http.MethodPut:
		h.handleBlobUpload(w, r)
	case http.MethodDelete:
		h.handleCancelUpload(w, r)
	case http.MethodGet:
		h.handleUploadStatus(w, r)
	default:
		h.sendRegistryError(w, http.StatusMethodNotAllowed, domain.CodeUnsupported, "method not allowed")
	}
}

func (h *Handler) handleTagListRoutes(w http.ResponseWriter, r *http.Request) {
	path := strings.TrimPrefix(r.URL.Path, "/v2/")
	name := strings.TrimSuffix(path, "/tags/list")

	if err := validation.ValidateRepositoryName(name); err != nil {
		h.sendRegistryError(w, http.StatusBadRequest, domain.CodeNameInvalid, err.Error())
		return
	}

	r.SetPathValue("name", name)

	switch r.Method {
	case http.MethodGet:
		h.handleListTags(w, r)
	default:
		h.sendRegistryError(w, http.StatusMethodNotAllowed, domain.CodeUnsupported, "method not allowed")
	}
}

func (h *Handler) handleBase(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Docker-Distribution-API-Version", "registry/2.0")
	w.WriteHeader(http.StatusOK)
}

// sendRegistryError sends a Docker Registry V2 formatted error response.
func (h *Handler) sendRegistryError(w http.ResponseWriter, status int, code domain.ErrorCode, message string) {
	w.Header().Set("Content-Type", "application/json")
	w.Header().Set("Docker-Distribution-API-Version", "registry/2.0")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(dto.RegistryErrorResponse{
		Errors: []dto.RegistryErrorItem{{Code: string(code), Message: message}},
	})
}

// writeUsecaseError translates err into the wire error envelope, preferring
// a *domain.RegistryError's own code/status when the usecase layer
// attached one, and falling back to fallbackCode/fallbackStatus otherwise.
func (h *Handler) writeUsecaseError(w http.ResponseWriter, err error, fallbackCode domain.ErrorCode, fallbackStatus int) {
	if re := domain.AsRegistryError(err); re != nil {
		h.sendRegistryError(w, re.Status(), re.Code, re.Message)
		return
	}
	if errors.Is(err, domain.ErrNotFound) {
		h.sendRegistryError(w, http.StatusNotFound, fallbackCode, err.Error())
		return
	}
	if errors.Is(err, domain.ErrUnauthorized) {
		h.sendRegistryError(w, http.StatusUnauthorized, domain.CodeUnauthorized, err.Error())
		return
	}
	h.sendRegistryError(w, fallbackStatus, fallbackCode, err.Error())
}

func (h *Handler) handleGetManifest(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	log := zerowrap.FromCtx(ctx)
	name := r.PathValue("name")
	reference := r.PathValue("reference")

	log.Debug().Str("name", name).Str("reference", reference).Msg("GET manifest")

	m, err := h.registrySvc.GetManifest(ctx, name, reference)
	if err != nil {
		log.Warn().Err(err).Str("name", name).Str("reference", reference).Msg("manifest not found")
		h.writeUsecaseError(w, err, domain.CodeManifestUnknown, http.StatusNotFound)
		return
	}

	w.Header().Set("Content-Type", m.ContentType)
	w.Header().Set("Content-Length", strconv.FormatInt(m.Size, 10))
	w.Header().Set("Docker-Content-Digest", m.Digest)
	w.Header().Set("Docker-Distribution-API-Version", "registry/2.0")
	w.WriteHeader(http.StatusOK)

	if r.Method == http.MethodGet {
		_, _ = w.Write(m.Data)
	}
}

func (h *Handler) handlePutManifest(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	log := zerowrap.FromCtx(ctx)
	name := r.PathValue("name")
	reference := r.PathValue("reference")

	contentType := r.Header.Get("Content-Type")
	log.Debug().Str("name", name).Str("reference", reference).Str("content_type", contentType).Msg("PUT manifest")

	if contentType == "" {
		h.sendRegistryError(w, http.StatusBadRequest, domain.CodeManifestInvalid, "Content-Type header required")
		return
	}

	r.Body = http.MaxBytesReader(w, r.Body, MaxManifestSize)
	data, err := io.ReadAll(r.Body)
	if err != nil {
		var maxBytesErr *http.MaxBytesError
		if errors.As(err, &maxBytesErr) {
			h.sendRegistryError(w, http.StatusRequestEntityTooLarge, domain.CodeSizeInvalid, "manifest exceeds maximum size")
			return
		}
		h.sendRegistryError(w, http.StatusBadRequest, domain.CodeManifestInvalid, "invalid manifest data")
		return
	}

	digest, err := h.registrySvc.PutManifest(ctx, name, reference, contentType, data)
	if err != nil {
		log.Error().Err(err).Str("name", name).Str("reference", reference).Msg("failed to store manifest")
		h.writeUsecaseError(w, err, domain.CodeManifestInvalid, http.StatusInternalServerError)
		return
	}

	w.Header().Set("Docker-Content-Digest", digest)
	w.Header().Set("Location", fmt.Sprintf("/v2/%s/manifests/%s", name, reference))
	w.WriteHeader(http.StatusCreated)
}

func (h *Handler) handleDeleteManifest(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	log := zerowrap.FromCtx(ctx)
	name := r.PathValue("name")
	reference := r.PathValue("reference")

	log.Debug().Str("name", name).Str("reference", reference).Msg("DELETE manifest")

	if err := h.registrySvc.DeleteManifest(ctx, name, reference); err != nil {
		log.Warn().Err(err).Str("name", name).Str("reference", reference).Msg("failed to delete manifest")
		h.writeUsecaseError(w, err, domain.CodeManifestUnknown, http.StatusNotFound)
		return
	}

	w.Header().Set("Docker-Distribution-API-Version", "registry/2.0")
	w.WriteHeader(http.StatusAccepted)
}

func (h *Handler) handleGetBlob(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	log := zerowrap.FromCtx(ctx)
	name := r.PathValue("name")
	digest := r.PathValue("digest")

	log.Debug().Str("name", name).Str("digest", digest).Msg("GET blob")

	if r.Method == http.MethodHead {
		exists, err := h.registrySvc.BlobExists(ctx, digest)
		if err != nil || !exists {
			h.sendRegistryError(w, http.StatusNotFound, domain.CodeBlobUnknown, "blob not found")
			return
		}
		w.Header().Set("Docker-Content-Digest", digest)
		w.WriteHeader(http.StatusOK)
		return
	}

	reader, size, err := h.registrySvc.GetBlob(ctx, digest)
	if err != nil {
		log.Warn().Err(err).Str("name", name).Str("digest", digest).Msg("blob not found")
		h.writeUsecaseError(w, err, domain.CodeBlobUnknown, http.StatusNotFound)
		return
	}
	defer reader.Close()

	w.Header().Set("Content-Type", "application/octet-stream")
	w.Header().Set("Content-Length", strconv.FormatInt(size, 10))
	w.Header().Set("Docker-Content-Digest", digest)
	w.WriteHeader(http.StatusOK)
	_, _ = io.Copy(w, reader)
}

// handleStartOrMountBlob handles POST /v2/{name}/blobs/uploads/, either
// starting a new chunked upload session or, when mount and from are both
// supplied, cross-mounting an existing blob from another repository
// without re-uploading it.
func (h *Handler) handleStartOrMountBlob(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	log := zerowrap.FromCtx(ctx)
	name := r.PathValue("name")

	mountDigest := r.URL.Query().Get("mount")
	fromRepository := r.URL.Query().Get("from")

	if mountDigest != "" && fromRepository != "" {
		if err := validation.ValidateDigest(mountDigest); err != nil {
			h.sendRegistryError(w, http.StatusBadRequest, domain.CodeDigestInvalid, err.Error())
			return
		}
		if err := validation.ValidateRepositoryName(fromRepository); err != nil {
			h.sendRegistryError(w, http.StatusBadRequest, domain.CodeNameInvalid, err.Error())
			return
		}

		log.Debug().Str("name", name).Str("from", fromRepository).Str("digest", mountDigest).Msg("mounting blob")

		if err := h.registrySvc.MountBlob(ctx, fromRepository, name, mountDigest); err != nil {
			log.Warn().Err(err).Msg("blob mount failed, falling back to upload session")
			h.startUpload(w, r, name)
			return
		}

		w.Header().Set("Location", fmt.Sprintf("/v2/%s/blobs/%s", name, mountDigest))
		w.Header().Set("Docker-Content-Digest", mountDigest)
		w.WriteHeader(http.StatusCreated)
		return
	}

	h.startUpload(w, r, name)
}

func (h *Handler) startUpload(w http.ResponseWriter, r *http.Request, name string) {
	ctx := r.Context()
	log := zerowrap.FromCtx(ctx)

	uuid, err := h.registrySvc.StartUpload(ctx, name)
	if err != nil {
		log.Error().Err(err).Msg("failed to start blob upload")
		h.writeUsecaseError(w, err, domain.CodeBlobUploadUnknown, http.StatusInternalServerError)
		return
	}

	w.Header().Set("Location", fmt.Sprintf("/v2/%s/blobs/uploads/%s", name, uuid))
	w.Header().Set("Range", "0-0")
	w.WriteHeader(http.StatusAccepted)
}

func (h *Handler) handleBlobUpload(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	log := zerowrap.FromCtx(ctx)
	name := r.PathValue("name")
	uuid := r.PathValue("uuid")
	digest := r.URL.Query().Get("digest")

	log.Debug().
		Str("name", name).
		Str("uuid", uuid).
		Str("digest", digest).
		Str(zerowrap.FieldMethod, r.Method).
		Msg("handling blob upload chunk")

	if digest != "" {
		if err := validation.ValidateDigest(digest); err != nil {
			h.sendRegistryError(w, http.StatusBadRequest, domain.CodeDigestInvalid, err.Error())
			return
		}
	}

	atOffset, err := contentRangeStart(r)
	if err != nil {
		h.sendRegistryError(w, http.StatusRequestedRangeNotSatisfiable, domain.CodeRangeInvalid, err.Error())
		return
	}

	r.Body = http.MaxBytesReader(w, r.Body, MaxBlobChunkSize)

	if r.Method == http.MethodPut && digest != "" && r.ContentLength == 0 {
		// Finalize with no trailing data: the client already
		// PATCHed every chunk and this PUT only carries the digest.
		size, err := h.registrySvc.FinishUpload(ctx, uuid, digest, nil)
		if err != nil {
			log.Error().Err(err).Str("digest", digest).Msg("failed to finalize blob upload")
			_ = h.registrySvc.CancelUpload(ctx, uuid)
			h.writeUsecaseError(w, err, domain.CodeDigestInvalid, http.StatusBadRequest)
			return
		}
		h.respondUploadFinished(w, name, digest, size)
		return
	}

	if r.Method == http.MethodPut && digest != "" {
		size, err := h.registrySvc.FinishUpload(ctx, uuid, digest, r.Body)
		if err != nil {
			log.Error().Err(err).Str("digest", digest).Msg("failed to finalize blob upload")
			_ = h.registrySvc.CancelUpload(ctx, uuid)
			h.writeUsecaseError(w, err, domain.CodeDigestInvalid, http.StatusBadRequest)
			return
		}
		h.respondUploadFinished(w, name, digest, size)
		return
	}

	newOffset, err := h.registrySvc.PatchUpload(ctx, uuid, atOffset, r.Body)
	if err != nil {
		log.Error().Err(err).Msg("failed to append blob chunk")
		h.writeUsecaseError(w, err, domain.CodeBlobUploadUnknown, http.StatusInternalServerError)
		return
	}

	w.Header().Set("Location", fmt.Sprintf("/v2/%s/blobs/uploads/%s", name, uuid))
	w.Header().Set("Range", fmt.Sprintf("0-%d", newOffset-1))
	w.WriteHeader(http.StatusAccepted)
}

func (h *Handler) respondUploadFinished(w http.ResponseWriter, name, digest string, size int64) {
	w.Header().Set("Location", fmt.Sprintf("/v2/%s/blobs/%s", name, digest))
	w.Header().Set("Docker-Content-Digest", digest)
	w.Header().Set("Content-Length", strconv.FormatInt(size, 10))
	w.WriteHeader(http.StatusCreated)
}

// contentRangeStart extracts the starting offset from a PATCH request's
// Content-Range header (bytes start-end/*). Absent the header, uploads are
// treated as append-only from offset 0, which the usecase layer itself
// tracks authoritatively.
func contentRangeStart(r *http.Request) (int64, error) {
	cr := r.Header.Get("Content-Range")
	if cr == "" {
		return 0, nil
	}
	cr = strings.TrimPrefix(cr, "bytes ")
	parts := strings.SplitN(cr, "-", 2)
	if len(parts) != 2 {
		return 0, fmt.Errorf("malformed Content-Range header")
	}
	start, err := strconv.ParseInt(parts[0], 10, 64)
	if err != nil {
		return 0, fmt.Errorf("malformed Content-Range start: %w", err)
	}
	return start, nil
}

func (h *Handler) handleCancelUpload(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	log := zerowrap.FromCtx(ctx)
	uuid := r.PathValue("uuid")

	if err := h.registrySvc.CancelUpload(ctx, uuid); err != nil {
		log.Warn().Err(err).Str("uuid", uuid).Msg("failed to cancel upload")
		h.writeUsecaseError(w, err, domain.CodeBlobUploadUnknown, http.StatusNotFound)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (h *Handler) handleUploadStatus(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	log := zerowrap.FromCtx(ctx)
	name := r.PathValue("name")
	uuid := r.PathValue("uuid")

	upload, err := h.registrySvc.UploadStatus(ctx, uuid)
	if err != nil {
		log.Warn().Err(err).Str("uuid", uuid).Msg("upload session not found")
		h.writeUsecaseError(w, err, domain.CodeBlobUploadUnknown, http.StatusNotFound)
		return
	}

	w.Header().Set("Location", fmt.Sprintf("/v2/%s/blobs/uploads/%s", name, uuid))
	w.Header().Set("Range", fmt.Sprintf("0-%d", upload.Offset-1))
	w.WriteHeader(http.StatusNoContent)
}

func (h *Handler) handleListTags(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	log := zerowrap.FromCtx(ctx)
	name := r.PathValue("name")

	limit, last := paginationParams(r)
	log.Debug().Str("name", name).Int("n", limit).Str("last", last).Msg("listing tags")

	tags, err := h.registrySvc.ListTags(ctx, name, limit, last)
	if err != nil {
		log.Warn().Err(err).Str("name", name).Msg("tags not found")
		h.writeUsecaseError(w, err, domain.CodeNameUnknown, http.StatusNotFound)
		return
	}

	writeLinkHeader(w, r.URL.Path, limit, tags)
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusOK)
	if err := json.NewEncoder(w).Encode(dto.TagListResponse{Name: name, Tags: tags}); err != nil {
		log.Error().Err(err).Str("name", name).Msg("failed to encode tags")
	}
}

// handleCatalog implements GET /v2/_catalog. The auth middleware checks that
// the bearer token carries a registry:catalog scope; this handler passes the
// token's granted scopes to ListRepositories, which keeps only repositories
// one of them grants pull on, and paginates the result.
func (h *Handler) handleCatalog(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	log := zerowrap.FromCtx(ctx)

	limit, last := paginationParams(r)

	var scopes []domain.Scope
	if claims := middleware.ClaimsFromContext(ctx); claims != nil {
		scopes = claims.Access
	}

	repos, err := h.registrySvc.ListRepositories(ctx, scopes, limit, last)
	if err != nil {
		log.Error().Err(err).Msg("failed to list catalog")
		h.writeUsecaseError(w, err, domain.CodeNameUnknown, http.StatusInternalServerError)
		return
	}

	writeLinkHeader(w, r.URL.Path, limit, repos)
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusOK)
	if err := json.NewEncoder(w).Encode(dto.CatalogResponse{Repositories: repos}); err != nil {
		log.Error().Err(err).Msg("failed to encode catalog")
	}
}

func (h *Handler) handlePutSignature(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	log := zerowrap.FromCtx(ctx)
	name := r.PathValue("name")
	digest := r.PathValue("digest")

	kind := domain.SignatureKind(r.URL.Query().Get("kind"))
	if kind == "" {
		kind = domain.SignatureKindCosign
	}

	r.Body = http.MaxBytesReader(w, r.Body, MaxManifestSize)
	data, err := io.ReadAll(r.Body)
	if err != nil {
		h.sendRegistryError(w, http.StatusBadRequest, domain.CodeManifestInvalid, "invalid signature payload")
		return
	}

	if err := h.registrySvc.PutSignature(ctx, name, digest, kind, data); err != nil {
		log.Error().Err(err).Str("name", name).Str("digest", digest).Msg("failed to store signature")
		h.writeUsecaseError(w, err, domain.CodeManifestBlobUnknown, http.StatusInternalServerError)
		return
	}

	w.WriteHeader(http.StatusCreated)
}

func (h *Handler) handleListSignatures(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	log := zerowrap.FromCtx(ctx)
	name := r.PathValue("name")
	digest := r.PathValue("digest")
	if digest == "" {
		digest = r.URL.Query().Get("digest")
	}

	sigs, err := h.registrySvc.ListSignatures(ctx, name, digest)
	if err != nil {
		log.Warn().Err(err).Str("name", name).Str("digest", digest).Msg("failed to list signatures")
		h.writeUsecaseError(w, err, domain.CodeManifestBlobUnknown, http.StatusNotFound)
		return
	}

	items := make([]dto.SignatureItem, len(sigs))
	for i, s := range sigs {
		items[i] = dto.SignatureItem{Digest: s.Digest, Kind: string(s.Kind)}
	}

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusOK)
	if err := json.NewEncoder(w).Encode(dto.SignatureListResponse{ManifestDigest: digest, Signatures: items}); err != nil {
		log.Error().Err(err).Msg("failed to encode signature list")
	}
}

// paginationParams extracts the Distribution v2 "n"/"last" pagination query
// parameters, defaulting n to DefaultCatalogPageSize.
func paginationParams(r *http.Request) (limit int, last string) {
	limit = DefaultCatalogPageSize
	if n := r.URL.Query().Get("n"); n != "" {
		if parsed, err := strconv.Atoi(n); err == nil && parsed > 0 {
			limit = parsed
		}
	}
	last = r.URL.Query().Get("last")
	return limit, last
}

// writeLinkHeader sets the RFC5988 Link header Distribution v2 pagination
// requires when a results page is full, letting the client follow the
// "last" cursor to the next page.
func writeLinkHeader(w http.ResponseWriter, path string, limit int, results []string) {
	if limit <= 0 || len(results) < limit {
		return
	}
	last := results[len(results)-1]
	w.Header().Set("Link", fmt.Sprintf(`<%s?n=%d&last=%s>; rel="next"`, path, limit, last))
}
