// Package model defines database connection domain models
package model

import (
	"errors"
	"net"
	"net/url"
	"strconv"
	"time"

	"github.com/google/uuid"
)

// NewConnectionID creates a new prefixed database connection ID
func NewConnectionID() string {
	return "DBS-" + uuid.New().String()
}

// Engine identifies the database engine of a connection
type Engine string

const (
	EnginePostgreSQL Engine = "postgresql"
	EngineMySQL      Engine = "mysql"
	EngineMongoDB    Engine = "mongodb"
)

// Valid reports whether the engine is supported
func (e Engine) Valid() bool {
	switch e {
	case EnginePostgreSQL, EngineMySQL, EngineMongoDB:
		return true
	}
	return false
}

// DefaultPort returns the conventional port for the engine
func (e Engine) DefaultPort() int {
	switch e {
	case EnginePostgreSQL:
		return 5432
	case EngineMySQL:
		return 3306
	case EngineMongoDB:
		return 27017
	}
	return 0
}

// DatabaseConnection is a workspace-scoped connection descriptor
// referenceable from node parameters as ${database:<id>.<path>}. The
// password is stored encrypted and decrypted only at resolution time.
type DatabaseConnection struct {
	ID               string
	WorkspaceID      string
	Name             string
	Engine           Engine
	Host             string
	Port             int
	Username         string
	Password         string
	DatabaseName     string
	SSLEnabled       bool
	AdditionalParams map[string]string
	CreatedAt        time.Time
	UpdatedAt        time.Time
}

// NewDatabaseConnection creates a new database connection descriptor
func NewDatabaseConnection(workspaceID, name string, engine Engine, host string, port int, username, password, databaseName string) (*DatabaseConnection, error) {
	if workspaceID == "" {
		return nil, errors.New("workspace ID is required")
	}
	if name == "" {
		return nil, errors.New("connection name is required")
	}
	if !engine.Valid() {
		return nil, errors.New("unsupported database engine: " + string(engine))
	}
	if host == "" {
		return nil, errors.New("host is required")
	}
	if port <= 0 {
		port = engine.DefaultPort()
	}

	now := time.Now()
	return &DatabaseConnection{
		ID:               NewConnectionID(),
		WorkspaceID:      workspaceID,
		Name:             name,
		Engine:           engine,
		Host:             host,
		Port:             port,
		Username:         username,
		Password:         password,
		DatabaseName:     databaseName,
		AdditionalParams: make(map[string]string),
		CreatedAt:        now,
		UpdatedAt:        now,
	}, nil
}

// ConnectionString renders the connection as a URI. The Password field
// is used as-is, so it must be decrypted first.
func (c *DatabaseConnection) ConnectionString() string {
	query := url.Values{}
	for k, v := range c.AdditionalParams {
		query.Set(k, v)
	}

	switch c.Engine {
	case EnginePostgreSQL:
		if c.SSLEnabled {
			query.Set("sslmode", "require")
		} else {
			query.Set("sslmode", "disable")
		}
	case EngineMySQL, EngineMongoDB:
		if c.SSLEnabled {
			query.Set("tls", "true")
		}
	}

	u := url.URL{
		Scheme:   string(c.Engine),
		Host:     net.JoinHostPort(c.Host, strconv.Itoa(c.Port)),
		Path:     "/" + c.DatabaseName,
		RawQuery: query.Encode(),
	}
	if c.Username != "" {
		u.User = url.UserPassword(c.Username, c.Password)
	}

	return u.String()
}

// Record returns the resolver-visible view of the connection, the shape
// addressed by ${database:<id>.<path>} references. Requires a decrypted
// Password.
func (c *DatabaseConnection) Record() map[string]interface{} {
	params := make(map[string]interface{}, len(c.AdditionalParams))
	for k, v := range c.AdditionalParams {
		params[k] = v
	}

	return map[string]interface{}{
		"host":              c.Host,
		"port":              c.Port,
		"username":          c.Username,
		"password":          c.Password,
		"database_name":     c.DatabaseName,
		"connection_string": c.ConnectionString(),
		"ssl_enabled":       c.SSLEnabled,
		"additional_params": params,
	}
}
