package model

import "time"

// ProxyType identifies a connector family. The set is closed: dispatch,
// adapters, and the registry all key off these constants, so an unknown
// type can never reach a backend.
type ProxyType string

const (
	TypeMySQL      ProxyType = "relational-mysql"
	TypePostgres   ProxyType = "relational-postgres"
	TypeClickHouse ProxyType = "columnar-clickhouse"
	TypeMongo      ProxyType = "document-mongo"
	TypeObjectS3   ProxyType = "object-storage"
	TypeGenericAPI ProxyType = "generic-api"

	// TypeShared is a routing alias for share-link dispatch, not a
	// connector family. No connector record may carry it.
	TypeShared ProxyType = "shared"
)

// ConnectorTypes returns the connector families a record may be created with.
func ConnectorTypes() []ProxyType {
	return []ProxyType{
		TypeMySQL, TypePostgres, TypeClickHouse,
		TypeMongo, TypeObjectS3, TypeGenericAPI,
	}
}

// DispatchTypes returns everything accepted as a {proxy_type} path segment:
// the connector families plus the "shared" routing alias.
func DispatchTypes() []ProxyType {
	return append(ConnectorTypes(), TypeShared)
}

// Valid reports whether t is a dispatchable proxy type.
func (t ProxyType) Valid() bool {
	for _, v := range DispatchTypes() {
		if t == v {
			return true
		}
	}
	return false
}

// IsConnectorFamily reports whether t names a real connector family
// (i.e. anything dispatchable except the "shared" alias).
func (t ProxyType) IsConnectorFamily() bool {
	return t != TypeShared && t.Valid()
}

// IsRelational reports whether t is served by the SQL adapter.
func (t ProxyType) IsRelational() bool {
	return t == TypeMySQL || t == TypePostgres || t == TypeClickHouse
}

// Connectivity test states for a connector.
const (
	TestUntested = "untested"
	TestSuccess  = "success"
	TestFailed   = "failed"
)

// Connector describes one registered backing data source. The connection
// config and credentials are persisted only as vault ciphertext; the
// decrypted forms (ConnectionConfig, Credentials) exist in memory for the
// duration of a single request.
type Connector struct {
	ID           int64     `json:"id" db:"id"`
	Name         string    `json:"name" db:"name"`
	Type         ProxyType `json:"type" db:"type"`   // immutable after creation
	Alias        string    `json:"alias" db:"alias"` // stable internal alias for downstream consumers
	OrgID        string    `json:"org_id" db:"org_id"`
	ConfigCipher string    `json:"-" db:"config_cipher"`
	CredsCipher  string    `json:"-" db:"creds_cipher"`
	ReadOnly     bool      `json:"read_only" db:"read_only"`
	IsActive     bool      `json:"is_active" db:"is_active"`
	TestStatus   string    `json:"test_status" db:"test_status"`
	DefaultQuery string    `json:"default_query,omitempty" db:"default_query"`
	TimeoutMs    int64     `json:"timeout_ms" db:"timeout_ms"`
	CreatedAt    time.Time `json:"created_at" db:"created_at"`
	UpdatedAt    time.Time `json:"updated_at" db:"updated_at"`
}

// Timeout returns the per-connector adapter deadline, defaulting to 30s.
func (c *Connector) Timeout() time.Duration {
	if c.TimeoutMs <= 0 {
		return 30 * time.Second
	}
	return time.Duration(c.TimeoutMs) * time.Millisecond
}

// ConnectionConfig is the decrypted, non-secret half of a connector's
// stored configuration. Unused fields stay empty; which fields matter
// depends on the connector family.
type ConnectionConfig struct {
	Host     string            `json:"host,omitempty"`
	Port     int               `json:"port,omitempty"`
	Database string            `json:"database,omitempty"`
	Bucket   string            `json:"bucket,omitempty"`
	Region   string            `json:"region,omitempty"`
	BaseURL  string            `json:"base_url,omitempty"`
	Endpoint string            `json:"endpoint,omitempty"` // default endpoint for generic-api
	UseTLS   bool              `json:"use_tls,omitempty"`
	Options  map[string]string `json:"options,omitempty"`
}

// Credentials is the decrypted secret half of a connector's configuration.
// It must never be serialized into logs or response payloads.
type Credentials struct {
	Username  string `json:"username,omitempty"`
	Password  string `json:"password,omitempty"`
	AccessKey string `json:"access_key,omitempty"`
	SecretKey string `json:"secret_key,omitempty"`
	APIKey    string `json:"api_key,omitempty"`
	// AuthHeader overrides the header name the generic-api adapter sends
	// APIKey under. Defaults to Authorization: Bearer.
	AuthHeader string `json:"auth_header,omitempty"`
}
