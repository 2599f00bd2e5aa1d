package domain

import "time"

// Namespace groups distributions and repositories under one ownership
// boundary, as in spec.md's data model and original_source's
// ContainerNamespace model.
type Namespace struct {
	Name        string
	Description string
	CreatedAt   time.Time
}

// Repository is the mutable identity anchor for a content-addressed
// repository; the actual content lives in its RepositoryVersions.
type Repository struct {
	ID            string
	NamespaceName string
	Name          string // full path, e.g. "library/nginx"
	LatestVersion int64
	CreatedAt     time.Time
}

// RepositoryVersion is an immutable, strictly-increasing snapshot of a
// repository's content set. Version 0 is always the empty set.
type RepositoryVersion struct {
	RepositoryID string
	Number       int64
	ContentCount int
	CreatedAt    time.Time
}

// DistributionVisibility records whether a Distribution is public or
// private. It is stored with the Distribution; neither the auth middleware
// nor the token service consults it when granting pull access.
type DistributionVisibility string

const (
	VisibilityPublic  DistributionVisibility = "public"
	VisibilityPrivate DistributionVisibility = "private"
)

// Distribution is the externally addressable name a Repository is served
// under, decoupled from the Repository's internal name so a repository can
// be re-pointed without breaking pull URLs.
type Distribution struct {
	BasePath     string
	RepositoryID string
	Visibility   DistributionVisibility
	CreatedAt    time.Time
}

// SyncMode controls how a Remote's content replaces a Repository's content
// on each sync run.
type SyncMode string

const (
	SyncModeMirror   SyncMode = "mirror"   // local content set becomes exactly the upstream set
	SyncModeAdditive SyncMode = "additive" // upstream content is added, nothing local is removed
)

// DownloadPolicy controls when a synced blob or manifest's bytes are
// actually fetched from the Remote.
type DownloadPolicy string

const (
	// DownloadPolicyImmediate fetches and stores every referenced blob and
	// manifest during the sync run itself.
	DownloadPolicyImmediate DownloadPolicy = "immediate"
	// DownloadPolicyOnDemand records blob references during sync without
	// fetching their bytes. The pull path does not fetch them later, so such
	// a blob cannot be pulled until its bytes are stored.
	DownloadPolicyOnDemand DownloadPolicy = "on_demand"
	// DownloadPolicyStreamed stores neither bytes nor references during
	// sync. The pull path does not proxy content from the Remote.
	DownloadPolicyStreamed DownloadPolicy = "streamed"
)

// Remote describes an upstream registry to synchronize a Repository from.
type Remote struct {
	Name         string
	URL          string
	Mode         SyncMode
	IncludeTags  []string // shell-glob patterns
	ExcludeTags  []string
	Username     string
	PasswordRef  string // opaque reference into a secrets backend, never the secret itself
	PullThrough  bool
	MaxRetries   int
	RateLimitQPS float64
	// SigstoreURL, if set, is an external sigstore signature store laid
	// out as {SigstoreURL}/{name}@{algo}={hex}/signature-{n}, checked
	// during signature discovery in addition to the Docker API extension
	// and cosign-as-tag mechanisms.
	SigstoreURL string
	// Policy controls when referenced content is actually downloaded.
	// The zero value behaves as DownloadPolicyImmediate.
	Policy DownloadPolicy
}

// EffectivePolicy returns r.Policy, defaulting to DownloadPolicyImmediate
// for the zero value so existing Remotes configured before Policy existed
// keep their current behavior.
func (r Remote) EffectivePolicy() DownloadPolicy {
	if r.Policy == "" {
		return DownloadPolicyImmediate
	}
	return r.Policy
}

// NamespaceRole is the permission level a Subject holds over a Namespace,
// used by TokenService to derive allowed scope actions.
type NamespaceRole string

const (
	RoleOwner        NamespaceRole = "owner"
	RoleCollaborator NamespaceRole = "collaborator"
	RoleConsumer     NamespaceRole = "consumer"
)

// AllowedActions returns the scope actions a role is granted.
func (r NamespaceRole) AllowedActions() []string {
	switch r {
	case RoleOwner:
		return []string{"pull", "push", "delete", "*"}
	case RoleCollaborator:
		return []string{"pull", "push"}
	case RoleConsumer:
		return []string{"pull"}
	default:
		return nil
	}
}
