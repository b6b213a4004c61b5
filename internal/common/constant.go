package common

// AccessTokenHeaderName is the gRPC metadata key used to carry the
// access token on outbound requests.
const AccessTokenHeaderName = "access_token"

// Persisted storage keys. Token and user form one credential and are
// always written and removed together.
const (
	TokenStorageKey = "kr_virt_token"
	UserStorageKey  = "kr_virt_user"

	LastActivityStorageKey = "kr_virt_last_activity"
	UserActiveStorageKey   = "kr_virt_user_active"
	IdleStateStorageKey    = "kr_virt_idle_state"

	// SealSaltStorageKey holds the per-installation salt for the
	// credential sealing key.
	SealSaltStorageKey = "seal_salt"
)

// Screens the session gate navigates between.
const (
	RouteLogin       = "/login"
	RouteDashboard   = "/dashboard"
	RouteClusterInit = "/cluster-init"
)
